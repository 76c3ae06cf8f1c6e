/*
 * Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

// Package types holds the REST request and response payloads.
package types

import (
	"github.com/AMD-AIG-AIMA/skydriver/pkg/database/client"
)

// gin context keys set by the auth middleware.
const (
	ContextKeyRole    = "sky/role"
	ContextKeySubject = "sky/subject"
)

// ScanRequestPayload is the POST /scan body. Fields mirror the admission
// contract; loosely typed fields (event payload, cluster) are canonicalised
// during validation.
type ScanRequestPayload struct {
	DockerTag                   string            `json:"docker_tag"`
	RecoAlgo                    string            `json:"reco_algo"`
	EventI3liveJSON             any               `json:"event_i3live_json"`
	NSides                      map[string]int    `json:"nsides"`
	RealOrSimulatedEvent        string            `json:"real_or_simulated_event"`
	Cluster                     any               `json:"cluster"`
	WorkerMemory                string            `json:"worker_memory"`
	WorkerDisk                  string            `json:"worker_disk"`
	ScannerServerMemory         string            `json:"scanner_server_memory"`
	PredictiveScanningThreshold *float64          `json:"predictive_scanning_threshold,omitempty"`
	MaxPixelRecoTime            int               `json:"max_pixel_reco_time"`
	MaxWorkerRuntime            int               `json:"max_worker_runtime"`
	Priority                    int               `json:"priority"`
	Classifiers                 map[string]any    `json:"classifiers,omitempty"`
	DebugMode                   []string          `json:"debug_mode,omitempty"`
	ScannerServerEnv            map[string]string `json:"scanner_server_env,omitempty"`
	ManifestProjection          []string          `json:"manifest_projection,omitempty"`
}

// ManifestPatchPayload is the PATCH /scan/{id}/manifest body.
type ManifestPatchPayload struct {
	Progress      *client.Progress      `json:"progress,omitempty"`
	EventMetadata map[string]any        `json:"event_metadata,omitempty"`
	ScanMetadata  map[string]any        `json:"scan_metadata,omitempty"`
	Cluster       *client.ClusterRecord `json:"cluster,omitempty"`
}

// ResultPayload is the PUT /scan/{id}/result body.
type ResultPayload struct {
	SkyscanResult map[string]any `json:"skyscan_result"`
	IsFinal       bool           `json:"is_final"`
}

// RescanPayload is the POST /scan/{id}/actions/rescan body. Overrides apply
// on top of the original ScanRequest.
type RescanPayload struct {
	AbortFirst  bool `json:"abort_first"`
	ReplaceScan bool `json:"replace_scan"`

	DockerTag string `json:"docker_tag,omitempty"`
	Priority  *int   `json:"priority,omitempty"`
}

// AddWorkersPayload is the POST /scan/{id}/actions/add-workers body.
type AddWorkersPayload struct {
	Cluster  string `json:"cluster"`
	NWorkers int    `json:"n_workers"`
}

// FindPayload is the POST /scans/find body. Filter is a Mongo-style query
// over manifest fields.
type FindPayload struct {
	Filter             map[string]any `json:"filter"`
	ManifestProjection []string       `json:"manifest_projection,omitempty"`
	IncludeDeleted     bool           `json:"include_deleted,omitempty"`
}

// ScanResponse pairs a projected manifest with its result, when requested.
type ScanResponse struct {
	Manifest map[string]any `json:"manifest"`
	Result   *client.Result `json:"result,omitempty"`
}

// StatusResponse is the GET /scan/{id}/status body.
type StatusResponse struct {
	ScanState        string                    `json:"scan_state"`
	IsDeleted        bool                      `json:"is_deleted"`
	ScanComplete     bool                      `json:"scan_complete"`
	PodStatuses      []map[string]any          `json:"pod_statuses,omitempty"`
	Workforce        map[string]map[string]int `json:"workforce,omitempty"`
	NRunning         int                       `json:"n_running"`
	GrafanaDashboard string                    `json:"grafana_dashboard,omitempty"`
}

// LogsResponse is the GET /scan/{id}/logs body.
type LogsResponse struct {
	PodContainerLogs map[string]string `json:"pod_container_logs"`
}

// BacklogResponse is the GET /scans/backlog body.
type BacklogResponse struct {
	Entries []*client.BacklogEntry `json:"entries"`
}

// FindResponse is the POST /scans/find body.
type FindResponse struct {
	Manifests []map[string]any `json:"manifests"`
}
