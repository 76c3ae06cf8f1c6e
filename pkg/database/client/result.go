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

// UpsertResult writes the scanner server's latest result snapshot. is_final
// is monotone: once a final result lands, non-final writes no longer match
// and are silently dropped.
func (c *Client) UpsertResult(ctx context.Context, r *Result) error {
	filter := bson.M{"scan_id": r.ScanID}
	if !r.IsFinal {
		filter["is_final"] = bson.M{"$ne": true}
	}
	update := bson.M{"$set": bson.M{
		"skyscan_result": r.SkyscanResult,
		"is_final":       r.IsFinal,
	}}
	opts := mongooptions.Update().SetUpsert(true)
	_, err := c.collection(CollResults).UpdateOne(ctx, filter, update, opts)
	if err != nil {
		// A final result already exists: the upsert tried to insert a second
		// document and hit the unique scan_id index. Monotone law says drop it.
		if mongo.IsDuplicateKeyError(err) && !r.IsFinal {
			return nil
		}
		return skyerrors.NewInternalError(err.Error())
	}
	return nil
}

// GetResult fetches the stored result for a scan.
func (c *Client) GetResult(ctx context.Context, scanId string) (*Result, error) {
	var r Result
	err := c.collection(CollResults).FindOne(ctx, bson.M{"scan_id": scanId}).Decode(&r)
	if err != nil {
		return nil, translateNotFound(err, skyerrors.NewResultNotFound(scanId))
	}
	return &r, nil
}
