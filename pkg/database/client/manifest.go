/*
 * Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package client

import (
	"context"
	"errors"
	"reflect"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	mongooptions "go.mongodb.org/mongo-driver/mongo/options"

	skyerrors "github.com/AMD-AIG-AIMA/skydriver/pkg/errors"
)

// InsertManifest stores a fresh manifest. The unique scan_id index turns a
// duplicate insert into an AlreadyExist error.
func (c *Client) InsertManifest(ctx context.Context, m *Manifest) error {
	if m.LastUpdated.IsZero() {
		m.LastUpdated = m.Timestamp
	}
	if _, err := c.collection(CollManifests).InsertOne(ctx, m); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return skyerrors.NewAlreadyExist("scan " + m.ScanID + " already exists")
		}
		return skyerrors.NewInternalError(err.Error())
	}
	return nil
}

// GetManifest fetches one manifest. Deleted scans are invisible unless
// includeDeleted is set.
func (c *Client) GetManifest(ctx context.Context, scanId string, includeDeleted bool) (*Manifest, error) {
	filter := withDeleted(bson.M{"scan_id": scanId}, includeDeleted)
	var m Manifest
	if err := c.collection(CollManifests).FindOne(ctx, filter).Decode(&m); err != nil {
		return nil, translateNotFound(err, skyerrors.NewScanNotFound(scanId))
	}
	return &m, nil
}

// SetEwmsWorkflowID advances ewms_workflow_id along its one-way path:
// unset -> PENDING_EWMS_WORKFLOW -> real id. Writing the same value again
// is a no-op; any other transition is a conflict.
func (c *Client) SetEwmsWorkflowID(ctx context.Context, scanId, workflowId string) error {
	filter := bson.M{
		"scan_id":          scanId,
		"ewms_workflow_id": bson.M{"$in": bson.A{nil, "", PendingEwmsWorkflow}},
	}
	update := bson.M{"$set": bson.M{
		"ewms_workflow_id": workflowId,
		"last_updated":     time.Now().UTC(),
	}}
	res, err := c.collection(CollManifests).UpdateOne(ctx, filter, update)
	if err != nil {
		return skyerrors.NewInternalError(err.Error())
	}
	if res.MatchedCount == 0 {
		current, gerr := c.GetManifest(ctx, scanId, true)
		if gerr != nil {
			return gerr
		}
		if current.EwmsWorkflowID == workflowId {
			return nil
		}
		return skyerrors.NewConflict("scan " + scanId + " already has an ewms workflow id")
	}
	return nil
}

// MarkScanStarted records the moment the kubernetes job was created. First
// writer wins; repeats are ignored so retried job creation stays idempotent.
func (c *Client) MarkScanStarted(ctx context.Context, scanId string, at time.Time) error {
	filter := bson.M{"scan_id": scanId, "started_timestamp": bson.M{"$exists": false}}
	update := bson.M{"$set": bson.M{
		"started_timestamp": at.UTC(),
		"last_updated":      time.Now().UTC(),
	}}
	if _, err := c.collection(CollManifests).UpdateOne(ctx, filter, update); err != nil {
		return skyerrors.NewInternalError(err.Error())
	}
	return nil
}

// UpdateManifest applies a PATCH. EventMetadata and ScanMetadata are
// set-once and enforced in the update filter itself: the write only matches
// while the field is still absent, so two racing PATCHes cannot both land.
// A second write with a different value is refused, an identical rewrite is
// accepted without touching the field. Returns the manifest after the update.
func (c *Client) UpdateManifest(ctx context.Context, scanId string, patch *ManifestPatch) (*Manifest, error) {
	filter := withDeleted(bson.M{"scan_id": scanId}, false)
	set := bson.M{}
	update := bson.M{}
	guarded := false
	if patch.Progress != nil {
		set["progress"] = patch.Progress
	}
	if patch.EventMetadata != nil {
		set["event_metadata"] = patch.EventMetadata
		filter["event_metadata"] = bson.M{"$exists": false}
		guarded = true
	}
	if patch.ScanMetadata != nil {
		set["scan_metadata"] = patch.ScanMetadata
		filter["scan_metadata"] = bson.M{"$exists": false}
		guarded = true
	}
	if patch.AddCluster != nil {
		update["$push"] = bson.M{"clusters": patch.AddCluster}
	}
	if len(set) == 0 && len(update) == 0 {
		return c.GetManifest(ctx, scanId, false)
	}
	set["last_updated"] = time.Now().UTC()
	update["$set"] = set

	opts := mongooptions.FindOneAndUpdate().SetReturnDocument(mongooptions.After)
	var updated Manifest
	err := c.collection(CollManifests).FindOneAndUpdate(ctx, filter, update, opts).Decode(&updated)
	if err == nil {
		return &updated, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) || !guarded {
		return nil, translateNotFound(err, skyerrors.NewScanNotFound(scanId))
	}

	// The set-once guard did not match: the metadata is already set, or the
	// scan is gone. An identical rewrite passes; a different value is the
	// conflict the guard exists for.
	current, gerr := c.GetManifest(ctx, scanId, false)
	if gerr != nil {
		return nil, gerr
	}
	if patch.EventMetadata != nil && len(current.EventMetadata) > 0 &&
		!jsonEqual(current.EventMetadata, patch.EventMetadata) {
		return nil, skyerrors.NewMetadataImmutable("event_metadata")
	}
	if patch.ScanMetadata != nil && len(current.ScanMetadata) > 0 &&
		!jsonEqual(current.ScanMetadata, patch.ScanMetadata) {
		return nil, skyerrors.NewMetadataImmutable("scan_metadata")
	}

	// Re-apply whatever the patch carried beyond the already-set metadata.
	rest := *patch
	if len(current.EventMetadata) > 0 {
		rest.EventMetadata = nil
	}
	if len(current.ScanMetadata) > 0 {
		rest.ScanMetadata = nil
	}
	if rest.Progress == nil && rest.AddCluster == nil &&
		rest.EventMetadata == nil && rest.ScanMetadata == nil {
		return current, nil
	}
	return c.UpdateManifest(ctx, scanId, &rest)
}

// SetComplete marks the scan terminal. Complete is monotone, so repeated
// calls are harmless.
func (c *Client) SetComplete(ctx context.Context, scanId string) error {
	update := bson.M{"$set": bson.M{
		"complete":     true,
		"last_updated": time.Now().UTC(),
	}}
	res, err := c.collection(CollManifests).UpdateOne(ctx, bson.M{"scan_id": scanId}, update)
	if err != nil {
		return skyerrors.NewInternalError(err.Error())
	}
	if res.MatchedCount == 0 {
		return skyerrors.NewScanNotFound(scanId)
	}
	return nil
}

// SetReplacedBy links an aborted-and-replaced scan to its successor, which
// drives the redirect layer in the REST handlers.
func (c *Client) SetReplacedBy(ctx context.Context, scanId, replacementId string) error {
	update := bson.M{"$set": bson.M{
		"replaced_by_scan_id": replacementId,
		"last_updated":        time.Now().UTC(),
	}}
	res, err := c.collection(CollManifests).UpdateOne(ctx, bson.M{"scan_id": scanId}, update)
	if err != nil {
		return skyerrors.NewInternalError(err.Error())
	}
	if res.MatchedCount == 0 {
		return skyerrors.NewScanNotFound(scanId)
	}
	return nil
}

// MarkDeleted soft-deletes a scan and returns the manifest as it stood.
// Deleting an already-deleted or unknown scan is a not-found.
func (c *Client) MarkDeleted(ctx context.Context, scanId string) (*Manifest, error) {
	filter := withDeleted(bson.M{"scan_id": scanId}, false)
	update := bson.M{"$set": bson.M{
		"is_deleted":   true,
		"last_updated": time.Now().UTC(),
	}}
	opts := mongooptions.FindOneAndUpdate().SetReturnDocument(mongooptions.After)
	var m Manifest
	if err := c.collection(CollManifests).FindOneAndUpdate(ctx, filter, update, opts).Decode(&m); err != nil {
		return nil, translateNotFound(err, skyerrors.NewScanNotFound(scanId))
	}
	return &m, nil
}

// FindScans runs a caller-supplied manifest query, newest scans first.
func (c *Client) FindScans(ctx context.Context, filter bson.M, includeDeleted bool) ([]*Manifest, error) {
	if filter == nil {
		filter = bson.M{}
	}
	filter = withDeleted(filter, includeDeleted)
	opts := mongooptions.Find().SetSort(bson.D{{Key: "scan_id", Value: -1}})
	cursor, err := c.collection(CollManifests).Find(ctx, filter, opts)
	if err != nil {
		return nil, skyerrors.NewInternalError(err.Error())
	}
	var out []*Manifest
	if err = cursor.All(ctx, &out); err != nil {
		return nil, skyerrors.NewInternalError(err.Error())
	}
	return out, nil
}

// FindScansStartedBetween lists non-deleted scans whose kubernetes job was
// created inside the window. The pod watchdog scans with this.
func (c *Client) FindScansStartedBetween(ctx context.Context, after, before time.Time) ([]*Manifest, error) {
	filter := bson.M{
		"started_timestamp": bson.M{"$gte": after.UTC(), "$lte": before.UTC()},
	}
	return c.FindScans(ctx, filter, false)
}

// jsonEqual compares two payloads by value, ignoring int/float encoding
// differences introduced by bson decoding.
func jsonEqual(a, b map[string]any) bool {
	return reflect.DeepEqual(normalizeJSON(a), normalizeJSON(b))
}

func normalizeJSON(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = normalizeJSON(val)
		}
		return out
	case bson.M:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = normalizeJSON(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = normalizeJSON(val)
		}
		return out
	case int:
		return float64(t)
	case int32:
		return float64(t)
	case int64:
		return float64(t)
	case float32:
		return float64(t)
	default:
		return v
	}
}
