/*
 * Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

// Package ewms talks to the external workflow-management service that runs
// the worker fleet. Reads are cached per workflow with a short TTL; writes
// are fire-and-forget because the scan's local state has already moved on
// and EWMS reconciles on its own.
package ewms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/oauth2/clientcredentials"
	"k8s.io/klog/v2"

	"github.com/AMD-AIG-AIMA/skydriver/pkg/config"
	"github.com/AMD-AIG-AIMA/skydriver/pkg/database/client"
	skyerrors "github.com/AMD-AIG-AIMA/skydriver/pkg/errors"
)

const (
	readCacheTTL   = 60 * time.Second
	requestTimeout = 30 * time.Second

	// PilotStatusRunning is the one pilot status that sums safely across
	// taskforces; see GetWorkforceStatuses.
	PilotStatusRunning = "RUNNING"
)

// TaskforceInfo is the raw per-taskforce record returned by EWMS.
type TaskforceInfo map[string]any

// WorkerSpec is one cluster's worth of requested workers inside a workflow
// request.
type WorkerSpec struct {
	ClusterLocation  map[string]any    `json:"cluster_location"`
	NWorkers         int               `json:"n_workers"`
	WorkerConfig     map[string]any    `json:"worker_config"`
	PilotEnvironment map[string]string `json:"pilot_environment,omitempty"`
}

// WorkflowRequest asks EWMS to provision the worker fleet for one scan.
type WorkflowRequest struct {
	ScanID           string       `json:"scan_id"`
	TaskImage        string       `json:"task_image"`
	TaskArgs         string       `json:"task_args"`
	Workers          []WorkerSpec `json:"workers"`
	Priority         int          `json:"priority"`
	MaxWorkerRuntime int          `json:"max_worker_runtime"`
}

// Interface is the EWMS surface the handlers and runners consume.
type Interface interface {
	RequestWorkflow(ctx context.Context, req *WorkflowRequest) (string, error)
	AddWorkers(ctx context.Context, workflowId string, spec *WorkerSpec) error
	GetDeactivatedType(ctx context.Context, workflowId string) (string, error)
	GetTaskforceInfos(ctx context.Context, workflowId string) ([]TaskforceInfo, error)
	GetWorkforceStatuses(ctx context.Context, workflowId string) (map[string]map[string]int, int, error)
	Abort(ctx context.Context, workflowId string)
	Finished(ctx context.Context, workflowId string)
}

// Client is the HTTP implementation, authenticated with a client-credentials
// grant against the token endpoint.
type Client struct {
	baseURL string
	http    *http.Client
	cache   *gocache.Cache
}

var _ Interface = &Client{}

// NewClient wires the oauth2 transport from configuration. The returned
// http.Client refreshes its token automatically.
func NewClient(ctx context.Context) *Client {
	cc := &clientcredentials.Config{
		ClientID:     config.GetEwmsClientID(),
		ClientSecret: config.GetEwmsClientSecret(),
		TokenURL:     config.GetEwmsTokenURL(),
	}
	httpClient := cc.Client(ctx)
	httpClient.Timeout = requestTimeout
	return &Client{
		baseURL: config.GetEwmsAddress(),
		http:    httpClient,
		cache:   gocache.New(readCacheTTL, 2*readCacheTTL),
	}
}

// NewClientForTest points the adapter at an httptest server, skipping oauth.
func NewClientForTest(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: requestTimeout},
		cache:   gocache.New(readCacheTTL, 2*readCacheTTL),
	}
}

// FlushCache drops all cached reads. Tests use it to observe fresh state.
func (c *Client) FlushCache() {
	c.cache.Flush()
}

// RequestWorkflow provisions the worker fleet and returns the workflow id.
func (c *Client) RequestWorkflow(ctx context.Context, req *WorkflowRequest) (string, error) {
	var resp struct {
		Workflow struct {
			WorkflowID string `json:"workflow_id"`
		} `json:"workflow"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/workflows", req, &resp); err != nil {
		return "", err
	}
	if resp.Workflow.WorkflowID == "" {
		return "", skyerrors.NewInternalError("ewms returned an empty workflow id")
	}
	return resp.Workflow.WorkflowID, nil
}

// AddWorkers attaches one more taskforce's worth of workers to a live
// workflow.
func (c *Client) AddWorkers(ctx context.Context, workflowId string, spec *WorkerSpec) error {
	if workflowId == "" || workflowId == client.PendingEwmsWorkflow {
		return skyerrors.NewBadRequest("workflow is not live yet")
	}
	path := fmt.Sprintf("/v1/workflows/%s/actions/add-workers", workflowId)
	return c.do(ctx, http.MethodPost, path, spec, nil)
}

// GetDeactivatedType returns "ABORTED", "FINISHED", etc., or "" while the
// workflow is live. The pending sentinel short-circuits without a call.
func (c *Client) GetDeactivatedType(ctx context.Context, workflowId string) (string, error) {
	if workflowId == "" || workflowId == client.PendingEwmsWorkflow {
		return "", nil
	}
	key := "deactivated/" + workflowId
	if cached, ok := c.cache.Get(key); ok {
		return cached.(string), nil
	}
	var resp struct {
		DeactivatedType string `json:"deactivated_type"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/workflows/"+workflowId, nil, &resp); err != nil {
		return "", err
	}
	c.cache.Set(key, resp.DeactivatedType, gocache.DefaultExpiration)
	return resp.DeactivatedType, nil
}

// GetTaskforceInfos lists the raw taskforce records of a workflow.
func (c *Client) GetTaskforceInfos(ctx context.Context, workflowId string) ([]TaskforceInfo, error) {
	if workflowId == "" || workflowId == client.PendingEwmsWorkflow {
		return nil, nil
	}
	key := "taskforces/" + workflowId
	if cached, ok := c.cache.Get(key); ok {
		return cached.([]TaskforceInfo), nil
	}
	var resp struct {
		Taskforces []TaskforceInfo `json:"taskforces"`
	}
	query := "/v1/query/taskforces?workflow_id=" + workflowId
	if err := c.do(ctx, http.MethodGet, query, nil, &resp); err != nil {
		return nil, err
	}
	c.cache.Set(key, resp.Taskforces, gocache.DefaultExpiration)
	return resp.Taskforces, nil
}

// GetWorkforceStatuses merges the per-taskforce {job_status: {pilot_status:
// count}} maps by summation and returns the merged map plus n_running.
//
// Only RUNNING is safe to sum across taskforces: a pilot migrating between
// taskforces can be double-counted in the other statuses, so callers must
// treat every non-RUNNING total as approximate.
func (c *Client) GetWorkforceStatuses(ctx context.Context, workflowId string) (map[string]map[string]int, int, error) {
	taskforces, err := c.GetTaskforceInfos(ctx, workflowId)
	if err != nil {
		return nil, 0, err
	}
	merged := map[string]map[string]int{}
	nRunning := 0
	for _, tf := range taskforces {
		statuses, ok := tf["compound_statuses"].(map[string]any)
		if !ok {
			continue
		}
		for jobStatus, inner := range statuses {
			innerMap, ok := inner.(map[string]any)
			if !ok {
				continue
			}
			for pilotStatus, count := range innerMap {
				n := asInt(count)
				if merged[jobStatus] == nil {
					merged[jobStatus] = map[string]int{}
				}
				merged[jobStatus][pilotStatus] += n
				if pilotStatus == PilotStatusRunning {
					nRunning += n
				}
			}
		}
	}
	return merged, nRunning, nil
}

// Abort signals EWMS to tear a workflow down. Errors are logged, not
// returned.
func (c *Client) Abort(ctx context.Context, workflowId string) {
	c.deactivate(ctx, workflowId, "abort")
}

// Finished signals EWMS that the workflow completed its work. Errors are
// logged, not returned.
func (c *Client) Finished(ctx context.Context, workflowId string) {
	c.deactivate(ctx, workflowId, "finished")
}

func (c *Client) deactivate(ctx context.Context, workflowId, action string) {
	if workflowId == "" || workflowId == client.PendingEwmsWorkflow {
		return
	}
	path := fmt.Sprintf("/v1/workflows/%s/actions/%s", workflowId, action)
	if err := c.do(ctx, http.MethodPost, path, nil, nil); err != nil {
		klog.ErrorS(err, "ewms deactivation failed", "workflow", workflowId, "action", action)
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return skyerrors.NewInternalError(err.Error())
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return skyerrors.NewInternalError(err.Error())
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return skyerrors.NewInternalError(fmt.Sprintf("ewms request %s %s: %v", method, path, err))
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return skyerrors.NewInternalError(
			fmt.Sprintf("ewms request %s %s: status %d: %s", method, path, resp.StatusCode, raw))
	}
	if out == nil {
		return nil
	}
	if err = json.NewDecoder(resp.Body).Decode(out); err != nil {
		return skyerrors.NewInternalError(fmt.Sprintf("ewms response %s %s: %v", method, path, err))
	}
	return nil
}

func asInt(v any) int {
	switch t := v.(type) {
	case float64:
		return int(t)
	case int:
		return t
	case int64:
		return int(t)
	default:
		return 0
	}
}
