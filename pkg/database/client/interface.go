/*
 * Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package client

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
)

// Interface is the document-store surface consumed by the REST handlers and
// the background runners. The production implementation is *Client backed by
// MongoDB; tests use the in-memory fake package.
type Interface interface {
	// Manifests
	InsertManifest(ctx context.Context, m *Manifest) error
	GetManifest(ctx context.Context, scanId string, includeDeleted bool) (*Manifest, error)
	SetEwmsWorkflowID(ctx context.Context, scanId, workflowId string) error
	MarkScanStarted(ctx context.Context, scanId string, at time.Time) error
	UpdateManifest(ctx context.Context, scanId string, patch *ManifestPatch) (*Manifest, error)
	SetComplete(ctx context.Context, scanId string) error
	SetReplacedBy(ctx context.Context, scanId, replacementId string) error
	MarkDeleted(ctx context.Context, scanId string) (*Manifest, error)
	FindScans(ctx context.Context, filter bson.M, includeDeleted bool) ([]*Manifest, error)
	FindScansStartedBetween(ctx context.Context, after, before time.Time) ([]*Manifest, error)

	// Results
	UpsertResult(ctx context.Context, r *Result) error
	GetResult(ctx context.Context, scanId string) (*Result, error)

	// ScanBacklog
	EnqueueBacklog(ctx context.Context, e *BacklogEntry) error
	ClaimNextBacklog(ctx context.Context, now, staleBefore time.Time, includeLowPriority bool) (*BacklogEntry, error)
	RemoveBacklog(ctx context.Context, scanId string) error
	ListBacklog(ctx context.Context) ([]*BacklogEntry, error)

	// ScanRequests
	InsertScanRequest(ctx context.Context, r *ScanRequest) error
	GetScanRequest(ctx context.Context, scanId string) (*ScanRequest, error)
	AddRescanID(ctx context.Context, scanId, rescanId string) error

	// I3Events
	UpsertI3Event(ctx context.Context, e *I3Event) error
	GetI3Event(ctx context.Context, i3EventId string) (*I3Event, error)

	// SkyScanK8sJobs
	InsertK8sJob(ctx context.Context, doc *K8sJobDoc) error
	GetK8sJob(ctx context.Context, scanId string) (*K8sJobDoc, error)
}

// ManifestPatch carries the writable manifest fields of a PATCH request.
// Nil members are left untouched; EventMetadata and ScanMetadata are
// set-once and rejected with a conflict if a different value exists.
type ManifestPatch struct {
	Progress      *Progress
	EventMetadata map[string]any
	ScanMetadata  map[string]any
	AddCluster    *ClusterRecord
}
