/*
 * Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package client

import (
	"context"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	mongooptions "go.mongodb.org/mongo-driver/mongo/options"
	"k8s.io/klog/v2"

	"github.com/AMD-AIG-AIMA/skydriver/pkg/config"
	skyerrors "github.com/AMD-AIG-AIMA/skydriver/pkg/errors"
)

const connectTimeout = 10 * time.Second

var (
	once     sync.Once
	instance *Client
)

// Client is the MongoDB-backed document store. All collection accessors live
// in the per-collection files of this package.
type Client struct {
	mongo *mongo.Client
	db    *mongo.Database
}

var _ Interface = &Client{}

// NewClient creates the singleton store client. It connects, pings, and
// kicks off index builds in the background so startup is not gated on them.
// The initialization happens only once even if called multiple times.
func NewClient(ctx context.Context) *Client {
	once.Do(func() {
		connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
		defer cancel()
		opts := mongooptions.Client().ApplyURI(config.GetMongoURI())
		mc, err := mongo.Connect(connectCtx, opts)
		if err != nil {
			klog.ErrorS(err, "failed to connect to mongodb")
			return
		}
		if err = mc.Ping(connectCtx, nil); err != nil {
			klog.ErrorS(err, "failed to ping mongodb")
			return
		}
		instance = &Client{mongo: mc, db: mc.Database(config.GetMongoDBName())}
		go instance.ensureIndexes(ctx)
		klog.Infof("init mongo-client successfully! database: %s", config.GetMongoDBName())
	})
	return instance
}

// Close performs the Close operation.
func (c *Client) Close(ctx context.Context) {
	if err := c.mongo.Disconnect(ctx); err != nil {
		klog.ErrorS(err, "failed to close mongo connection")
	}
}

func (c *Client) collection(name string) *mongo.Collection {
	return c.db.Collection(name)
}

// ensureIndexes builds every index the store depends on. Index builds are
// idempotent, so crashing mid-way and retrying on the next boot is fine.
func (c *Client) ensureIndexes(ctx context.Context) {
	type indexSpec struct {
		coll string
		keys bson.D
		opts *mongooptions.IndexOptions
	}
	specs := []indexSpec{
		{CollManifests, bson.D{{Key: "scan_id", Value: 1}}, mongooptions.Index().SetUnique(true)},
		{CollManifests, bson.D{{Key: "ewms_workflow_id", Value: 1}}, nil},
		{CollManifests, bson.D{
			{Key: "event_metadata.event_id", Value: -1},
			{Key: "event_metadata.run_id", Value: -1},
		}, nil},
		{CollResults, bson.D{{Key: "scan_id", Value: 1}}, mongooptions.Index().SetUnique(true)},
		{CollScanBacklog, bson.D{{Key: "scan_id", Value: 1}}, mongooptions.Index().SetUnique(true)},
		{CollScanBacklog, bson.D{{Key: "timestamp", Value: 1}}, nil},
		{CollScanBacklog, bson.D{{Key: "priority", Value: -1}}, nil},
		{CollScanRequests, bson.D{{Key: "scan_id", Value: 1}}, mongooptions.Index().SetUnique(true)},
		{CollI3Events, bson.D{{Key: "i3_event_id", Value: 1}}, mongooptions.Index().SetUnique(true)},
		{CollK8sJobs, bson.D{{Key: "scan_id", Value: 1}}, mongooptions.Index().SetUnique(true)},
	}
	for _, spec := range specs {
		model := mongo.IndexModel{Keys: spec.keys}
		if spec.opts != nil {
			model.Options = spec.opts
		}
		if _, err := c.collection(spec.coll).Indexes().CreateOne(ctx, model); err != nil {
			klog.ErrorS(err, "failed to build index", "collection", spec.coll, "keys", spec.keys)
		}
	}
}

// withDeleted widens a manifest filter to deleted scans when asked for.
func withDeleted(filter bson.M, includeDeleted bool) bson.M {
	if !includeDeleted {
		filter["is_deleted"] = bson.M{"$ne": true}
	}
	return filter
}

func translateNotFound(err error, notFound error) error {
	if err == mongo.ErrNoDocuments {
		return notFound
	}
	return skyerrors.NewInternalError(err.Error())
}
