/*
 * Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package client

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	mongooptions "go.mongodb.org/mongo-driver/mongo/options"

	skyerrors "github.com/AMD-AIG-AIMA/skydriver/pkg/errors"
)

// InsertK8sJob persists the declarative scanner job for a scan. Admission
// retries overwrite rather than duplicate.
func (c *Client) InsertK8sJob(ctx context.Context, doc *K8sJobDoc) error {
	filter := bson.M{"scan_id": doc.ScanID}
	update := bson.M{"$set": doc}
	opts := mongooptions.Update().SetUpsert(true)
	if _, err := c.collection(CollK8sJobs).UpdateOne(ctx, filter, update, opts); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return skyerrors.NewAlreadyExist("k8s job for scan " + doc.ScanID + " already exists")
		}
		return skyerrors.NewInternalError(err.Error())
	}
	return nil
}

// GetK8sJob fetches the stored job manifest for a scan.
func (c *Client) GetK8sJob(ctx context.Context, scanId string) (*K8sJobDoc, error) {
	var doc K8sJobDoc
	err := c.collection(CollK8sJobs).FindOne(ctx, bson.M{"scan_id": scanId}).Decode(&doc)
	if err != nil {
		return nil, translateNotFound(err, skyerrors.NewScanNotFound(scanId))
	}
	return &doc, nil
}
