/*
 * Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package client

import (
	"time"
)

// Collection names. One Go file per collection in this package.
const (
	CollManifests    = "Manifests"
	CollResults      = "Results"
	CollScanBacklog  = "ScanBacklog"
	CollScanRequests = "ScanRequests"
	CollI3Events     = "I3Events"
	CollK8sJobs      = "SkyScanK8sJobs"
)

const (
	// PendingEwmsWorkflow is the sentinel value of Manifest.EwmsWorkflowID
	// between admission and the backlog runner's workflow request. The
	// transition graph is unset -> pending -> real id and never regresses.
	PendingEwmsWorkflow = "PENDING_EWMS_WORKFLOW"

	// HighPriorityThreshold marks the priority at which admission skips the
	// backlog and creates the kubernetes job directly.
	HighPriorityThreshold = 10
)

// ProcessingStats summarises the scanner server's own progress accounting.
type ProcessingStats struct {
	Start       map[string]any `bson:"start,omitempty" json:"start,omitempty"`
	Runtime     map[string]any `bson:"runtime,omitempty" json:"runtime,omitempty"`
	Rate        map[string]any `bson:"rate,omitempty" json:"rate,omitempty"`
	End         string         `bson:"end,omitempty" json:"end,omitempty"`
	Finished    bool           `bson:"finished" json:"finished"`
	Predictions map[string]any `bson:"predictions,omitempty" json:"predictions,omitempty"`
}

// Progress is the scanner server's periodic status report.
type Progress struct {
	Summary         string          `bson:"summary,omitempty" json:"summary,omitempty"`
	Epilogue        string          `bson:"epilogue,omitempty" json:"epilogue,omitempty"`
	Tallies         map[string]any  `bson:"tallies,omitempty" json:"tallies,omitempty"`
	ProcessingStats ProcessingStats `bson:"processing_stats,omitempty" json:"processing_stats,omitempty"`
}

// ClusterRecord describes a compute pool actually running workers for a
// scan, as reported back through the manifest PATCH endpoint.
type ClusterRecord struct {
	OrchestratorLocation map[string]any `bson:"orchestrator_location,omitempty" json:"orchestrator_location,omitempty"`
	Name                 string         `bson:"name" json:"name"`
	NWorkers             int            `bson:"n_workers" json:"n_workers"`
	ClusterID            string         `bson:"cluster_id,omitempty" json:"cluster_id,omitempty"`
	TaskforceUUID        string         `bson:"taskforce_uuid,omitempty" json:"taskforce_uuid,omitempty"`
	StatusMessage        string         `bson:"status_message,omitempty" json:"status_message,omitempty"`
}

// Manifest is the mutable record of a scan's life. All writes funnel through
// conditional single-document updates so that LastUpdated never decreases
// and the monotone fields (Complete, Result.IsFinal, EwmsWorkflowID) never
// regress.
type Manifest struct {
	ScanID                  string          `bson:"scan_id" json:"scan_id"`
	Timestamp               time.Time       `bson:"timestamp" json:"timestamp"`
	LastUpdated             time.Time       `bson:"last_updated" json:"last_updated"`
	StartedTimestamp        *time.Time      `bson:"started_timestamp,omitempty" json:"started_timestamp,omitempty"`
	IsDeleted               bool            `bson:"is_deleted" json:"is_deleted"`
	Priority                int             `bson:"priority" json:"priority"`
	I3EventID               string          `bson:"i3_event_id" json:"i3_event_id"`
	EventI3liveJSONDictHash string          `bson:"event_i3live_json_dict_hash" json:"event_i3live_json_dict_hash"`
	EwmsWorkflowID          string          `bson:"ewms_workflow_id,omitempty" json:"ewms_workflow_id,omitempty"`
	Progress                *Progress       `bson:"progress,omitempty" json:"progress,omitempty"`
	EventMetadata           map[string]any  `bson:"event_metadata,omitempty" json:"event_metadata,omitempty"`
	ScanMetadata            map[string]any  `bson:"scan_metadata,omitempty" json:"scan_metadata,omitempty"`
	Clusters                []ClusterRecord `bson:"clusters,omitempty" json:"clusters,omitempty"`
	Complete                bool            `bson:"complete" json:"complete"`
	ReplacedByScanID        string          `bson:"replaced_by_scan_id,omitempty" json:"replaced_by_scan_id,omitempty"`
	Classifiers             map[string]any  `bson:"classifiers,omitempty" json:"classifiers,omitempty"`
}

// HasEwmsWorkflow reports whether a real workflow id has been assigned,
// i.e. the sentinel does not count.
func (m *Manifest) HasEwmsWorkflow() bool {
	return m.EwmsWorkflowID != "" && m.EwmsWorkflowID != PendingEwmsWorkflow
}

// Result holds the scanner server's (possibly partial) output. IsFinal is
// monotone: once true, a later false write is refused by the update
// predicate.
type Result struct {
	ScanID        string         `bson:"scan_id" json:"scan_id"`
	SkyscanResult map[string]any `bson:"skyscan_result" json:"skyscan_result"`
	IsFinal       bool           `bson:"is_final" json:"is_final"`
}

// BacklogEntry queues an admitted scan for the backlog runner. NextAttempt
// strictly increases on every claim; PendingTimestamp makes a claimed entry
// invisible until the stale threshold passes.
type BacklogEntry struct {
	ScanID           string    `bson:"scan_id" json:"scan_id"`
	Timestamp        time.Time `bson:"timestamp" json:"timestamp"`
	Priority         int       `bson:"priority" json:"priority"`
	NextAttempt      int       `bson:"next_attempt" json:"next_attempt"`
	PendingTimestamp time.Time `bson:"pending_timestamp" json:"pending_timestamp"`
}

// ClusterRequest is a user-requested (cluster name, worker count) pair.
type ClusterRequest struct {
	Name     string `bson:"name" json:"name"`
	NWorkers int    `bson:"n_workers" json:"n_workers"`
}

// ScanRequest is the immutable record of what the user asked for. Rescans
// copy it wholesale (modulo overrides); RescanIDs accumulates the ids of
// scans spawned from this one.
type ScanRequest struct {
	ScanID                      string            `bson:"scan_id" json:"scan_id"`
	RescanIDs                   []string          `bson:"rescan_ids,omitempty" json:"rescan_ids,omitempty"`
	DockerTag                   string            `bson:"docker_tag" json:"docker_tag"`
	RecoAlgo                    string            `bson:"reco_algo" json:"reco_algo"`
	NSides                      map[string]int    `bson:"nsides" json:"nsides"`
	IsRealEvent                 bool              `bson:"is_real_event" json:"is_real_event"`
	Clusters                    []ClusterRequest  `bson:"clusters" json:"clusters"`
	WorkerMemoryBytes           int64             `bson:"worker_memory_bytes" json:"worker_memory_bytes"`
	WorkerDiskBytes             int64             `bson:"worker_disk_bytes" json:"worker_disk_bytes"`
	ScannerServerMemoryBytes    int64             `bson:"scanner_server_memory_bytes" json:"scanner_server_memory_bytes"`
	PredictiveScanningThreshold float64           `bson:"predictive_scanning_threshold" json:"predictive_scanning_threshold"`
	MaxPixelRecoTime            int               `bson:"max_pixel_reco_time" json:"max_pixel_reco_time"`
	MaxWorkerRuntime            int               `bson:"max_worker_runtime" json:"max_worker_runtime"`
	Priority                    int               `bson:"priority" json:"priority"`
	DebugModes                  []string          `bson:"debug_modes,omitempty" json:"debug_modes,omitempty"`
	Classifiers                 map[string]any    `bson:"classifiers,omitempty" json:"classifiers,omitempty"`
	I3EventID                   string            `bson:"i3_event_id" json:"i3_event_id"`
	ScannerServerEnv            map[string]string `bson:"scanner_server_env,omitempty" json:"scanner_server_env,omitempty"`
}

// I3Event stores one deduplicated event payload. I3EventID is the MD5 of
// the canonicalised JSON, so identical payloads share a document.
type I3Event struct {
	I3EventID string         `bson:"i3_event_id" json:"i3_event_id"`
	JSONDict  map[string]any `bson:"json_dict" json:"json_dict"`
}

// K8sJobDoc persists the declarative scanner job for audit and for the
// backlog runner to POST verbatim to the kubernetes API.
type K8sJobDoc struct {
	ScanID  string `bson:"scan_id" json:"scan_id"`
	JobYAML string `bson:"job_yaml" json:"job_yaml"`
}
