/*
 * Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

// Package s3 presigns the object URLs the scanner sidecar uploads to. The
// blob store is any S3-compatible endpoint; skydriver only hands out
// presigned URLs, it never moves object bytes itself.
package s3

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	skyconfig "github.com/AMD-AIG-AIMA/skydriver/pkg/config"
)

// Client presigns object URLs in the configured bucket.
type Client struct {
	bucket  string
	presign *s3.PresignClient
}

// NewClient builds the presigner from system-wide S3 settings.
func NewClient(ctx context.Context) (*Client, error) {
	endpoint := skyconfig.GetS3URL()
	bucket := skyconfig.GetS3Bucket()
	if endpoint == "" || bucket == "" {
		return nil, fmt.Errorf("s3 endpoint or bucket not configured")
	}
	creds := credentials.NewStaticCredentialsProvider(
		skyconfig.GetS3AccessKeyID(), skyconfig.GetS3SecretKey(), "")
	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithCredentialsProvider(creds),
		awsconfig.WithRegion("us-east-1"),
	)
	if err != nil {
		return nil, err
	}
	s3Client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
		o.UsePathStyle = true
	})
	return &Client{
		bucket:  bucket,
		presign: s3.NewPresignClient(s3Client),
	}, nil
}

// ObjectKey names the startup-JSON object for a scan.
func ObjectKey(scanId string) string {
	return scanId + "-s3-object"
}

// PresignPut returns a presigned PUT URL for the scan's startup JSON, valid
// for the configured expiry.
func (c *Client) PresignPut(ctx context.Context, scanId string) (string, error) {
	req, err := c.presign.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(ObjectKey(scanId)),
	}, s3.WithPresignExpires(skyconfig.GetS3ExpiresIn()))
	if err != nil {
		return "", err
	}
	return req.URL, nil
}
