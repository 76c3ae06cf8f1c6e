/*
 * Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package ewms

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"gotest.tools/assert"

	"github.com/AMD-AIG-AIMA/skydriver/pkg/database/client"
)

func newTestServer(t *testing.T, taskforces []TaskforceInfo) (*httptest.Server, *int) {
	t.Helper()
	calls := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/query/taskforces", func(w http.ResponseWriter, r *http.Request) {
		calls++
		_ = json.NewEncoder(w).Encode(map[string]any{"taskforces": taskforces})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestGetWorkforceStatusesMergesAcrossTaskforces(t *testing.T) {
	srv, _ := newTestServer(t, []TaskforceInfo{
		{
			"compound_statuses": map[string]any{
				"Running": map[string]any{"RUNNING": float64(3), "STARTING": float64(1)},
			},
		},
		{
			"compound_statuses": map[string]any{
				"Running": map[string]any{"RUNNING": float64(2)},
				"Held":    map[string]any{"STOPPED": float64(4)},
			},
		},
	})
	c := NewClientForTest(srv.URL)

	merged, nRunning, err := c.GetWorkforceStatuses(context.Background(), "wf-1")
	assert.NilError(t, err)
	assert.Equal(t, nRunning, 5)
	assert.Equal(t, merged["Running"]["RUNNING"], 5)
	assert.Equal(t, merged["Running"]["STARTING"], 1)
	assert.Equal(t, merged["Held"]["STOPPED"], 4)
}

func TestGetTaskforceInfosCaches(t *testing.T) {
	srv, calls := newTestServer(t, []TaskforceInfo{{"taskforce_uuid": "tf-1"}})
	c := NewClientForTest(srv.URL)

	for i := 0; i < 3; i++ {
		infos, err := c.GetTaskforceInfos(context.Background(), "wf-1")
		assert.NilError(t, err)
		assert.Equal(t, len(infos), 1)
	}
	assert.Equal(t, *calls, 1)

	c.FlushCache()
	_, err := c.GetTaskforceInfos(context.Background(), "wf-1")
	assert.NilError(t, err)
	assert.Equal(t, *calls, 2)
}

func TestPendingWorkflowShortCircuits(t *testing.T) {
	// no server at all: the sentinel must never hit the network
	c := NewClientForTest("http://127.0.0.1:0")

	deactivated, err := c.GetDeactivatedType(context.Background(), client.PendingEwmsWorkflow)
	assert.NilError(t, err)
	assert.Equal(t, deactivated, "")

	infos, err := c.GetTaskforceInfos(context.Background(), "")
	assert.NilError(t, err)
	assert.Equal(t, len(infos), 0)

	c.Abort(context.Background(), client.PendingEwmsWorkflow)
	c.Finished(context.Background(), "")
}
