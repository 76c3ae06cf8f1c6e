/*
 * Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package client

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	skyerrors "github.com/AMD-AIG-AIMA/skydriver/pkg/errors"
)

// InsertScanRequest stores the immutable admission record for a scan.
func (c *Client) InsertScanRequest(ctx context.Context, r *ScanRequest) error {
	if _, err := c.collection(CollScanRequests).InsertOne(ctx, r); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return skyerrors.NewAlreadyExist("scan request " + r.ScanID + " already exists")
		}
		return skyerrors.NewInternalError(err.Error())
	}
	return nil
}

// GetScanRequest fetches the admission record for a scan.
func (c *Client) GetScanRequest(ctx context.Context, scanId string) (*ScanRequest, error) {
	var r ScanRequest
	err := c.collection(CollScanRequests).FindOne(ctx, bson.M{"scan_id": scanId}).Decode(&r)
	if err != nil {
		return nil, translateNotFound(err, skyerrors.NewScanNotFound(scanId))
	}
	return &r, nil
}

// AddRescanID records that scanId was rescanned as rescanId. $addToSet keeps
// retried rescans from double-counting.
func (c *Client) AddRescanID(ctx context.Context, scanId, rescanId string) error {
	update := bson.M{"$addToSet": bson.M{"rescan_ids": rescanId}}
	res, err := c.collection(CollScanRequests).UpdateOne(ctx, bson.M{"scan_id": scanId}, update)
	if err != nil {
		return skyerrors.NewInternalError(err.Error())
	}
	if res.MatchedCount == 0 {
		return skyerrors.NewScanNotFound(scanId)
	}
	return nil
}
