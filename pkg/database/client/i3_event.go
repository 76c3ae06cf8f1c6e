/*
 * Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package client

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	mongooptions "go.mongodb.org/mongo-driver/mongo/options"

	skyerrors "github.com/AMD-AIG-AIMA/skydriver/pkg/errors"
)

// UpsertI3Event stores an event payload under its content hash. Re-scanning
// the same event lands on the existing document.
func (c *Client) UpsertI3Event(ctx context.Context, e *I3Event) error {
	filter := bson.M{"i3_event_id": e.I3EventID}
	update := bson.M{"$set": bson.M{"json_dict": e.JSONDict}}
	opts := mongooptions.Update().SetUpsert(true)
	if _, err := c.collection(CollI3Events).UpdateOne(ctx, filter, update, opts); err != nil {
		return skyerrors.NewInternalError(err.Error())
	}
	return nil
}

// GetI3Event fetches an event payload by content hash.
func (c *Client) GetI3Event(ctx context.Context, i3EventId string) (*I3Event, error) {
	var e I3Event
	err := c.collection(CollI3Events).FindOne(ctx, bson.M{"i3_event_id": i3EventId}).Decode(&e)
	if err != nil {
		return nil, translateNotFound(err,
			skyerrors.NewNotFoundWithMessage("i3 event "+i3EventId+" not found."))
	}
	return &e, nil
}
