/*
 * Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package client

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	mongooptions "go.mongodb.org/mongo-driver/mongo/options"

	skyerrors "github.com/AMD-AIG-AIMA/skydriver/pkg/errors"
)

// EnqueueBacklog appends an admitted scan to the backlog queue.
func (c *Client) EnqueueBacklog(ctx context.Context, e *BacklogEntry) error {
	if _, err := c.collection(CollScanBacklog).InsertOne(ctx, e); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return skyerrors.NewAlreadyExist("scan " + e.ScanID + " is already backlogged")
		}
		return skyerrors.NewInternalError(err.Error())
	}
	return nil
}

// ClaimNextBacklog atomically picks the next eligible entry: highest
// priority first, oldest first within a priority, skipping entries another
// claimant marked pending after staleBefore. The winning entry gets its
// pending timestamp stamped and next_attempt bumped in the same operation,
// so concurrent runners never hand out the same scan twice. Returns
// (nil, nil) when the queue has nothing eligible.
func (c *Client) ClaimNextBacklog(ctx context.Context, now, staleBefore time.Time, includeLowPriority bool) (*BacklogEntry, error) {
	filter := bson.M{
		"pending_timestamp": bson.M{"$lt": staleBefore.UTC()},
	}
	if !includeLowPriority {
		filter["priority"] = bson.M{"$gte": HighPriorityThreshold}
	}
	update := bson.M{
		"$set": bson.M{"pending_timestamp": now.UTC()},
		"$inc": bson.M{"next_attempt": 1},
	}
	opts := mongooptions.FindOneAndUpdate().
		SetSort(bson.D{{Key: "priority", Value: -1}, {Key: "timestamp", Value: 1}}).
		SetReturnDocument(mongooptions.After)
	var e BacklogEntry
	err := c.collection(CollScanBacklog).FindOneAndUpdate(ctx, filter, update, opts).Decode(&e)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, skyerrors.NewInternalError(err.Error())
	}
	return &e, nil
}

// RemoveBacklog drops a scan from the queue. Missing entries are reported
// so callers can tell a raced removal from a real one.
func (c *Client) RemoveBacklog(ctx context.Context, scanId string) error {
	res, err := c.collection(CollScanBacklog).DeleteOne(ctx, bson.M{"scan_id": scanId})
	if err != nil {
		return skyerrors.NewInternalError(err.Error())
	}
	if res.DeletedCount == 0 {
		return skyerrors.NewBacklogEntryNotFound(scanId)
	}
	return nil
}

// ListBacklog returns the queue in claim order for the peek endpoint.
func (c *Client) ListBacklog(ctx context.Context) ([]*BacklogEntry, error) {
	opts := mongooptions.Find().
		SetSort(bson.D{{Key: "priority", Value: -1}, {Key: "timestamp", Value: 1}})
	cursor, err := c.collection(CollScanBacklog).Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, skyerrors.NewInternalError(err.Error())
	}
	var out []*BacklogEntry
	if err = cursor.All(ctx, &out); err != nil {
		return nil, skyerrors.NewInternalError(err.Error())
	}
	return out, nil
}
