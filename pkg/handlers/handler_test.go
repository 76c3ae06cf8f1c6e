/*
 * Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"gotest.tools/assert"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"

	"github.com/AMD-AIG-AIMA/skydriver/pkg/clusters"
	"github.com/AMD-AIG-AIMA/skydriver/pkg/config"
	"github.com/AMD-AIG-AIMA/skydriver/pkg/database/client"
	"github.com/AMD-AIG-AIMA/skydriver/pkg/database/fake"
	"github.com/AMD-AIG-AIMA/skydriver/pkg/ewms"
	skyerrors "github.com/AMD-AIG-AIMA/skydriver/pkg/errors"
	"github.com/AMD-AIG-AIMA/skydriver/pkg/images"
)

type fakeEwms struct {
	failWorkflow bool
	requests     int
	addedWorkers int
	aborted      []string
	finished     []string
}

func (f *fakeEwms) RequestWorkflow(context.Context, *ewms.WorkflowRequest) (string, error) {
	if f.failWorkflow {
		return "", skyerrors.NewInternalError("ewms is down")
	}
	f.requests++
	return fmt.Sprintf("wf-%d", f.requests), nil
}

func (f *fakeEwms) AddWorkers(context.Context, string, *ewms.WorkerSpec) error {
	f.addedWorkers++
	return nil
}

func (f *fakeEwms) GetDeactivatedType(context.Context, string) (string, error) { return "", nil }
func (f *fakeEwms) GetTaskforceInfos(context.Context, string) ([]ewms.TaskforceInfo, error) {
	return nil, nil
}
func (f *fakeEwms) GetWorkforceStatuses(context.Context, string) (map[string]map[string]int, int, error) {
	return nil, 0, nil
}
func (f *fakeEwms) Abort(_ context.Context, workflowId string) {
	f.aborted = append(f.aborted, workflowId)
}
func (f *fakeEwms) Finished(_ context.Context, workflowId string) {
	f.finished = append(f.finished, workflowId)
}

type fakeK8s struct {
	failCreate bool
	created    []string
	deleted    []string
}

func (f *fakeK8s) CreateJob(_ context.Context, job *batchv1.Job) error {
	if f.failCreate {
		return skyerrors.NewInternalError("k8s api is down")
	}
	f.created = append(f.created, job.Name)
	return nil
}
func (f *fakeK8s) DeleteJob(_ context.Context, name string) error {
	f.deleted = append(f.deleted, name)
	return nil
}
func (f *fakeK8s) GetScanPods(context.Context, string) ([]corev1.Pod, error) {
	return nil, nil
}
func (f *fakeK8s) GetPodContainerLogs(context.Context, string, string) (string, error) {
	return "", nil
}

type webHarness struct {
	store  *fake.Store
	ewms   *fakeEwms
	k8s    *fakeK8s
	router *gin.Engine
}

func newWebHarness(t *testing.T) *webHarness {
	t.Helper()
	gin.SetMode(gin.TestMode)
	restore := clusters.SetForTest([]*clusters.Cluster{{
		Name:         "testpool",
		Orchestrator: clusters.OrchestratorCondor,
		Collector:    "collector.test",
		Schedd:       "schedd.test",
	}})
	t.Cleanup(restore)

	h := &webHarness{
		store: fake.NewStore(),
		ewms:  &fakeEwms{},
		k8s:   &fakeK8s{},
	}
	resolver := images.NewResolverWithLister("icecube/skymap_scanner", func(string) ([]string, error) {
		return []string{"3.10.2", "v3.11.0", "3.12.0-rc.1"}, nil
	})
	handler := NewHandler(h.store, h.ewms, h.k8s, resolver, nil, nil)

	router := gin.New()
	router.NoRoute(NoRoute)
	router.POST("/scan", handler.PostScan)
	scan := router.Group("/scan/:id", handler.RedirectIfReplaced)
	{
		scan.GET("", handler.GetScan)
		scan.DELETE("", handler.DeleteScan)
		scan.GET("/manifest", handler.GetManifest)
		scan.PATCH("/manifest", handler.PatchManifest)
		scan.GET("/result", handler.GetResult)
		scan.PUT("/result", handler.PutResult)
		scan.GET("/status", handler.GetStatus)
		scan.POST("/actions/rescan", handler.Rescan)
		scan.POST("/actions/add-workers", handler.AddWorkers)
	}
	router.POST("/scans/find", handler.FindScans)
	router.GET("/scans/backlog", handler.GetBacklog)
	h.router = router
	return h
}

func (h *webHarness) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		assert.NilError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	out := map[string]any{}
	assert.NilError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func validScanBody() map[string]any {
	return map[string]any{
		"docker_tag":              "latest",
		"reco_algo":               "millipede_wilks",
		"event_i3live_json":       map[string]any{"run_id": 140500, "event_id": 42},
		"nsides":                  map[string]int{"8": 12, "64": 1},
		"real_or_simulated_event": "real_event",
		"cluster":                 map[string]any{"testpool": 100},
		"worker_memory":           "8G",
		"worker_disk":             "1G",
		"scanner_server_memory":   "1024M",
		"max_pixel_reco_time":     60,
		"max_worker_runtime":      3600,
		"priority":                0,
		"classifiers":             map[string]any{"origin": "test"},
	}
}

func (h *webHarness) postScan(t *testing.T, mutate func(map[string]any)) string {
	t.Helper()
	body := validScanBody()
	if mutate != nil {
		mutate(body)
	}
	rec := h.do(t, http.MethodPost, "/scan", body)
	assert.Equal(t, rec.Code, http.StatusOK, rec.Body.String())
	scanId, _ := decodeJSON(t, rec)["scan_id"].(string)
	assert.Assert(t, scanId != "")
	return scanId
}

func TestAdmissionQueuesLowPriorityScan(t *testing.T) {
	h := newWebHarness(t)
	scanId := h.postScan(t, nil)

	manifest, err := h.store.GetManifest(context.Background(), scanId, false)
	assert.NilError(t, err)
	assert.Equal(t, manifest.EwmsWorkflowID, client.PendingEwmsWorkflow)

	entries, err := h.store.ListBacklog(context.Background())
	assert.NilError(t, err)
	assert.Equal(t, len(entries), 1)
	assert.Equal(t, entries[0].ScanID, scanId)

	// low priority must not touch ewms or k8s at admission time
	assert.Equal(t, h.ewms.requests, 0)
	assert.Equal(t, len(h.k8s.created), 0)

	// the request and the job spec are persisted for the runner
	request, err := h.store.GetScanRequest(context.Background(), scanId)
	assert.NilError(t, err)
	assert.Equal(t, request.DockerTag, "3.11.0") // "latest" resolved, rc excluded
	jobDoc, err := h.store.GetK8sJob(context.Background(), scanId)
	assert.NilError(t, err)
	assert.Assert(t, jobDoc.JobYAML != "")
}

func TestAdmissionLaunchesHighPriorityDirectly(t *testing.T) {
	h := newWebHarness(t)
	scanId := h.postScan(t, func(body map[string]any) {
		body["priority"] = client.HighPriorityThreshold
	})

	manifest, err := h.store.GetManifest(context.Background(), scanId, false)
	assert.NilError(t, err)
	assert.Equal(t, manifest.EwmsWorkflowID, "wf-1")
	assert.Assert(t, manifest.StartedTimestamp != nil)
	assert.Equal(t, len(h.k8s.created), 1)

	entries, err := h.store.ListBacklog(context.Background())
	assert.NilError(t, err)
	assert.Equal(t, len(entries), 0)
}

func TestAdmissionFallsBackToBacklogWhenEwmsIsDown(t *testing.T) {
	h := newWebHarness(t)
	h.ewms.failWorkflow = true
	scanId := h.postScan(t, func(body map[string]any) {
		body["priority"] = client.HighPriorityThreshold
	})

	entries, err := h.store.ListBacklog(context.Background())
	assert.NilError(t, err)
	assert.Equal(t, len(entries), 1)
	assert.Equal(t, entries[0].ScanID, scanId)
	assert.Equal(t, len(h.k8s.created), 0)
}

func TestAdmissionValidation(t *testing.T) {
	h := newWebHarness(t)
	cases := map[string]func(map[string]any){
		"unknown docker tag":    func(b map[string]any) { b["docker_tag"] = "9.9.9" },
		"empty reco algo":       func(b map[string]any) { b["reco_algo"] = "" },
		"bad nsides key":        func(b map[string]any) { b["nsides"] = map[string]int{"eight": 12} },
		"bad real or simulated": func(b map[string]any) { b["real_or_simulated_event"] = "maybe" },
		"unknown cluster":       func(b map[string]any) { b["cluster"] = map[string]any{"nope": 1} },
		"bad worker count":      func(b map[string]any) { b["cluster"] = map[string]any{"testpool": -1} },
		"bad threshold":         func(b map[string]any) { b["predictive_scanning_threshold"] = 1.5 },
		"non-dict event":        func(b map[string]any) { b["event_i3live_json"] = []any{1, 2} },
		"too many classifiers": func(b map[string]any) {
			big := map[string]any{}
			for i := 0; i < 16; i++ {
				big[fmt.Sprintf("key%d", i)] = i
			}
			b["classifiers"] = big
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			body := validScanBody()
			mutate(body)
			rec := h.do(t, http.MethodPost, "/scan", body)
			assert.Equal(t, rec.Code, http.StatusBadRequest, rec.Body.String())
		})
	}
}

func TestEventMetadataIsSetOnce(t *testing.T) {
	h := newWebHarness(t)
	scanId := h.postScan(t, nil)

	meta := map[string]any{"run_id": 140500, "event_id": 42, "is_real": true}
	rec := h.do(t, http.MethodPatch, "/scan/"+scanId+"/manifest",
		map[string]any{"event_metadata": meta})
	assert.Equal(t, rec.Code, http.StatusOK, rec.Body.String())

	// writing the identical value again is fine
	rec = h.do(t, http.MethodPatch, "/scan/"+scanId+"/manifest",
		map[string]any{"event_metadata": meta})
	assert.Equal(t, rec.Code, http.StatusOK, rec.Body.String())

	// a different value is refused with the stable message
	rec = h.do(t, http.MethodPatch, "/scan/"+scanId+"/manifest",
		map[string]any{"event_metadata": map[string]any{"run_id": 9}})
	assert.Equal(t, rec.Code, http.StatusBadRequest)
	resp := decodeJSON(t, rec)
	msg, _ := resp["errorMessage"].(string)
	assert.Assert(t, bytes.Contains([]byte(msg), []byte("Cannot change an existing event_metadata")), msg)
}

func TestMetadataGuardKeepsPatchAtomic(t *testing.T) {
	h := newWebHarness(t)
	scanId := h.postScan(t, nil)

	rec := h.do(t, http.MethodPatch, "/scan/"+scanId+"/manifest",
		map[string]any{"scan_metadata": map[string]any{"variant": "a"}})
	assert.Equal(t, rec.Code, http.StatusOK, rec.Body.String())

	// a refused metadata change must not apply the rest of the patch either
	rec = h.do(t, http.MethodPatch, "/scan/"+scanId+"/manifest", map[string]any{
		"scan_metadata": map[string]any{"variant": "b"},
		"progress":      map[string]any{"summary": "halfway"},
	})
	assert.Equal(t, rec.Code, http.StatusBadRequest)
	resp := decodeJSON(t, rec)
	msg, _ := resp["errorMessage"].(string)
	assert.Assert(t, bytes.Contains([]byte(msg), []byte("Cannot change an existing scan_metadata")), msg)
	manifest, err := h.store.GetManifest(context.Background(), scanId, false)
	assert.NilError(t, err)
	assert.Assert(t, manifest.Progress == nil)

	// an identical rewrite passes and the rest of the patch lands
	rec = h.do(t, http.MethodPatch, "/scan/"+scanId+"/manifest", map[string]any{
		"scan_metadata": map[string]any{"variant": "a"},
		"progress":      map[string]any{"summary": "halfway"},
	})
	assert.Equal(t, rec.Code, http.StatusOK, rec.Body.String())
	manifest, err = h.store.GetManifest(context.Background(), scanId, false)
	assert.NilError(t, err)
	assert.Assert(t, manifest.Progress != nil)
	assert.Equal(t, manifest.Progress.Summary, "halfway")
}

func TestFinalResultIsNotOverwrittenByLaterPartial(t *testing.T) {
	h := newWebHarness(t)
	scanId := h.postScan(t, nil)

	rec := h.do(t, http.MethodPut, "/scan/"+scanId+"/result",
		map[string]any{"skyscan_result": map[string]any{"nside": 64}, "is_final": true})
	assert.Equal(t, rec.Code, http.StatusOK, rec.Body.String())

	// a straggling partial write arriving after the final one is dropped
	rec = h.do(t, http.MethodPut, "/scan/"+scanId+"/result",
		map[string]any{"skyscan_result": map[string]any{"nside": 8}, "is_final": false})
	assert.Equal(t, rec.Code, http.StatusOK, rec.Body.String())

	rec = h.do(t, http.MethodGet, "/scan/"+scanId+"/result", nil)
	assert.Equal(t, rec.Code, http.StatusOK, rec.Body.String())
	resp := decodeJSON(t, rec)
	assert.Equal(t, resp["is_final"], true)
	stored, _ := resp["skyscan_result"].(map[string]any)
	assert.Equal(t, stored["nside"], float64(64))
}

func TestReplacedScanRedirectsReads(t *testing.T) {
	h := newWebHarness(t)
	oldId := h.postScan(t, nil)

	rec := h.do(t, http.MethodPost, "/scan/"+oldId+"/actions/rescan",
		map[string]any{"replace_scan": true})
	assert.Equal(t, rec.Code, http.StatusOK, rec.Body.String())
	resp := decodeJSON(t, rec)
	manifest, _ := resp["manifest"].(map[string]any)
	newId, _ := manifest["scan_id"].(string)
	assert.Assert(t, newId != "" && newId != oldId)

	// reads of the old id redirect, preserving path and query
	rec = h.do(t, http.MethodGet, "/scan/"+oldId+"/manifest?include_deleted=true", nil)
	assert.Equal(t, rec.Code, http.StatusFound)
	assert.Equal(t, rec.Header().Get("Location"),
		"/scan/"+newId+"/manifest?include_deleted=true")

	// no_redirect opts out
	rec = h.do(t, http.MethodGet, "/scan/"+oldId+"/manifest?no_redirect=true", nil)
	assert.Equal(t, rec.Code, http.StatusOK, rec.Body.String())
	resp = decodeJSON(t, rec)
	got, _ := resp["manifest"].(map[string]any)
	assert.Equal(t, got["scan_id"], oldId)
	assert.Equal(t, got["replaced_by_scan_id"], newId)

	// writes never redirect
	rec = h.do(t, http.MethodPut, "/scan/"+oldId+"/result",
		map[string]any{"skyscan_result": map[string]any{"nside": 8}, "is_final": false})
	assert.Equal(t, rec.Code, http.StatusOK, rec.Body.String())

	// the original request records the lineage
	request, err := h.store.GetScanRequest(context.Background(), oldId)
	assert.NilError(t, err)
	assert.DeepEqual(t, request.RescanIDs, []string{newId})
}

func TestRescanWithAbortStopsTheOriginal(t *testing.T) {
	h := newWebHarness(t)
	oldId := h.postScan(t, func(body map[string]any) {
		body["priority"] = client.HighPriorityThreshold
	})

	rec := h.do(t, http.MethodPost, "/scan/"+oldId+"/actions/rescan",
		map[string]any{"abort_first": true, "docker_tag": "3.10.2"})
	assert.Equal(t, rec.Code, http.StatusOK, rec.Body.String())

	assert.Equal(t, len(h.k8s.deleted), 1)
	assert.Equal(t, h.k8s.deleted[0], "skyscan-"+oldId)
	assert.DeepEqual(t, h.ewms.aborted, []string{"wf-1"})
}

func TestPutResultEmptyIsNoOp(t *testing.T) {
	h := newWebHarness(t)
	scanId := h.postScan(t, nil)

	rec := h.do(t, http.MethodPut, "/scan/"+scanId+"/result",
		map[string]any{"skyscan_result": map[string]any{}, "is_final": true})
	assert.Equal(t, rec.Code, http.StatusOK, rec.Body.String())

	rec = h.do(t, http.MethodGet, "/scan/"+scanId+"/result", nil)
	assert.Equal(t, rec.Code, http.StatusNotFound)
}

func TestFinalResultDrivesTeardown(t *testing.T) {
	h := newWebHarness(t)
	config.SetValue("WAIT_BEFORE_TEARDOWN", 0)
	t.Cleanup(func() { config.SetValue("WAIT_BEFORE_TEARDOWN", 60) })
	scanId := h.postScan(t, func(body map[string]any) {
		body["priority"] = client.HighPriorityThreshold
	})

	rec := h.do(t, http.MethodPut, "/scan/"+scanId+"/result",
		map[string]any{"skyscan_result": map[string]any{"nside": 64}, "is_final": true})
	assert.Equal(t, rec.Code, http.StatusOK, rec.Body.String())

	deadline := time.Now().Add(5 * time.Second)
	for {
		manifest, err := h.store.GetManifest(context.Background(), scanId, true)
		assert.NilError(t, err)
		if manifest.Complete {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("scan never marked complete after final result")
		}
		time.Sleep(10 * time.Millisecond)
	}
	assert.DeepEqual(t, h.ewms.finished, []string{"wf-1"})
	// the stopper job was scheduled alongside the scanner job
	assert.Equal(t, len(h.k8s.created), 2)
	assert.Equal(t, h.k8s.created[1], "skyscan-"+scanId+"-stopper")
}

func TestDeleteCompletedScanNeedsConfirmation(t *testing.T) {
	h := newWebHarness(t)
	scanId := h.postScan(t, nil)
	assert.NilError(t, h.store.SetComplete(context.Background(), scanId))

	rec := h.do(t, http.MethodDelete, "/scan/"+scanId, nil)
	assert.Equal(t, rec.Code, http.StatusBadRequest)

	rec = h.do(t, http.MethodDelete, "/scan/"+scanId+"?delete_completed_scan=true", nil)
	assert.Equal(t, rec.Code, http.StatusOK, rec.Body.String())

	rec = h.do(t, http.MethodGet, "/scan/"+scanId+"/manifest", nil)
	assert.Equal(t, rec.Code, http.StatusNotFound)
	rec = h.do(t, http.MethodGet, "/scan/"+scanId+"/manifest?include_deleted=true", nil)
	assert.Equal(t, rec.Code, http.StatusOK, rec.Body.String())
}

func TestFindScansByClassifier(t *testing.T) {
	h := newWebHarness(t)
	wanted := h.postScan(t, func(body map[string]any) {
		body["classifiers"] = map[string]any{"origin": "alerts"}
	})
	h.postScan(t, func(body map[string]any) {
		body["classifiers"] = map[string]any{"origin": "archival"}
	})

	rec := h.do(t, http.MethodPost, "/scans/find", map[string]any{
		"filter":              map[string]any{"classifiers.origin": "alerts"},
		"manifest_projection": []string{"scan_id", "classifiers"},
	})
	assert.Equal(t, rec.Code, http.StatusOK, rec.Body.String())
	resp := decodeJSON(t, rec)
	manifests, _ := resp["manifests"].([]any)
	assert.Equal(t, len(manifests), 1)
	got, _ := manifests[0].(map[string]any)
	assert.Equal(t, got["scan_id"], wanted)
	_, hasTimestamp := got["timestamp"]
	assert.Assert(t, !hasTimestamp)
}

func TestBacklogPeek(t *testing.T) {
	h := newWebHarness(t)
	h.postScan(t, nil)
	h.postScan(t, nil)

	rec := h.do(t, http.MethodGet, "/scans/backlog", nil)
	assert.Equal(t, rec.Code, http.StatusOK, rec.Body.String())
	resp := decodeJSON(t, rec)
	entries, _ := resp["entries"].([]any)
	assert.Equal(t, len(entries), 2)
}

func TestManifestProjectionExcludesEventPayloadByDefault(t *testing.T) {
	h := newWebHarness(t)
	scanId := h.postScan(t, nil)

	rec := h.do(t, http.MethodGet, "/scan/"+scanId+"/manifest", nil)
	assert.Equal(t, rec.Code, http.StatusOK)
	resp := decodeJSON(t, rec)
	manifest, _ := resp["manifest"].(map[string]any)
	_, hasPayload := manifest["event_i3live_json_dict"]
	assert.Assert(t, !hasPayload)

	rec = h.do(t, http.MethodGet,
		"/scan/"+scanId+"/manifest?manifest_projection=scan_id,event_i3live_json_dict", nil)
	assert.Equal(t, rec.Code, http.StatusOK)
	resp = decodeJSON(t, rec)
	manifest, _ = resp["manifest"].(map[string]any)
	payload, _ := manifest["event_i3live_json_dict"].(map[string]any)
	assert.Equal(t, payload["event_id"], float64(42))
}

func TestStatusReportsGrafanaDashboard(t *testing.T) {
	h := newWebHarness(t)
	config.SetValue("GRAFANA_DASHBOARD_BASEURL", "https://grafana.test/d/scan")
	t.Cleanup(func() { config.SetValue("GRAFANA_DASHBOARD_BASEURL", "") })
	scanId := h.postScan(t, nil)

	rec := h.do(t, http.MethodGet, "/scan/"+scanId+"/status", nil)
	assert.Equal(t, rec.Code, http.StatusOK, rec.Body.String())
	resp := decodeJSON(t, rec)
	assert.Equal(t, resp["scan_state"], "PENDING__PRESTARTUP")
	assert.Equal(t, resp["grafana_dashboard"],
		"https://grafana.test/d/scan?var-scan_id="+scanId)
}

func TestAddWorkersRequiresLiveWorkflow(t *testing.T) {
	h := newWebHarness(t)
	queued := h.postScan(t, nil)

	rec := h.do(t, http.MethodPost, "/scan/"+queued+"/actions/add-workers",
		map[string]any{"cluster": "testpool", "n_workers": 50})
	assert.Equal(t, rec.Code, http.StatusBadRequest)

	launched := h.postScan(t, func(body map[string]any) {
		body["priority"] = client.HighPriorityThreshold
	})
	rec = h.do(t, http.MethodPost, "/scan/"+launched+"/actions/add-workers",
		map[string]any{"cluster": "testpool", "n_workers": 50})
	assert.Equal(t, rec.Code, http.StatusOK, rec.Body.String())
	assert.Equal(t, h.ewms.addedWorkers, 1)

	manifest, err := h.store.GetManifest(context.Background(), launched, false)
	assert.NilError(t, err)
	assert.Equal(t, len(manifest.Clusters), 1)
	assert.Equal(t, manifest.Clusters[0].NWorkers, 50)
}
