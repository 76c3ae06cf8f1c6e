/*
 * Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package backlog

import (
	"context"
	"fmt"
	"testing"
	"time"

	"gotest.tools/assert"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"

	"github.com/AMD-AIG-AIMA/skydriver/pkg/clusters"
	"github.com/AMD-AIG-AIMA/skydriver/pkg/database/client"
	"github.com/AMD-AIG-AIMA/skydriver/pkg/database/fake"
	"github.com/AMD-AIG-AIMA/skydriver/pkg/ewms"
	skyerrors "github.com/AMD-AIG-AIMA/skydriver/pkg/errors"
)

type fakeEwms struct {
	fail     bool
	requests int
}

func (f *fakeEwms) RequestWorkflow(context.Context, *ewms.WorkflowRequest) (string, error) {
	if f.fail {
		return "", skyerrors.NewInternalError("ewms is down")
	}
	f.requests++
	return fmt.Sprintf("wf-%d", f.requests), nil
}

func (f *fakeEwms) AddWorkers(context.Context, string, *ewms.WorkerSpec) error { return nil }

func (f *fakeEwms) GetDeactivatedType(context.Context, string) (string, error) { return "", nil }
func (f *fakeEwms) GetTaskforceInfos(context.Context, string) ([]ewms.TaskforceInfo, error) {
	return nil, nil
}
func (f *fakeEwms) GetWorkforceStatuses(context.Context, string) (map[string]map[string]int, int, error) {
	return nil, 0, nil
}
func (f *fakeEwms) Abort(context.Context, string)    {}
func (f *fakeEwms) Finished(context.Context, string) {}

type fakeK8s struct {
	fail    bool
	created []string
}

func (f *fakeK8s) CreateJob(_ context.Context, job *batchv1.Job) error {
	if f.fail {
		return skyerrors.NewInternalError("k8s api is down")
	}
	f.created = append(f.created, job.Name)
	return nil
}
func (f *fakeK8s) DeleteJob(context.Context, string) error { return nil }
func (f *fakeK8s) GetScanPods(context.Context, string) ([]corev1.Pod, error) {
	return nil, nil
}
func (f *fakeK8s) GetPodContainerLogs(context.Context, string, string) (string, error) {
	return "", nil
}

type harness struct {
	store  *fake.Store
	ewms   *fakeEwms
	k8s    *fakeK8s
	runner *Runner
	clock  time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	restore := clusters.SetForTest([]*clusters.Cluster{{
		Name:         "testpool",
		Orchestrator: clusters.OrchestratorCondor,
		Collector:    "collector.test",
		Schedd:       "schedd.test",
	}})
	t.Cleanup(restore)

	h := &harness{
		store: fake.NewStore(),
		ewms:  &fakeEwms{},
		k8s:   &fakeK8s{},
		clock: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	}
	h.runner = &Runner{
		store:       h.store,
		ewms:        h.ewms,
		k8s:         h.k8s,
		shortDelay:  time.Second,
		longDelay:   10 * time.Minute,
		maxAttempts: 3,
		staleTTL:    5 * time.Minute,
		now:         func() time.Time { return h.clock },
	}
	return h
}

// tick runs one iteration and then advances time past every throttle.
func (h *harness) tick(t *testing.T) {
	t.Helper()
	assert.NilError(t, h.runner.RunOnce(context.Background()))
	h.clock = h.clock.Add(h.runner.longDelay + time.Second)
}

func (h *harness) admit(t *testing.T, scanId string, priority int) {
	t.Helper()
	ctx := context.Background()
	assert.NilError(t, h.store.InsertManifest(ctx, &client.Manifest{
		ScanID:         scanId,
		Timestamp:      h.clock,
		Priority:       priority,
		EwmsWorkflowID: client.PendingEwmsWorkflow,
	}))
	assert.NilError(t, h.store.InsertScanRequest(ctx, &client.ScanRequest{
		ScanID:    scanId,
		DockerTag: "3.10.2",
		RecoAlgo:  "millipede_wilks",
		NSides:    map[string]int{"8": 12},
		Clusters:  []client.ClusterRequest{{Name: "testpool", NWorkers: 4}},
		Priority:  priority,
	}))
	jobYAML := fmt.Sprintf(
		"apiVersion: batch/v1\nkind: Job\nmetadata:\n  name: skyscan-%s\n", scanId)
	assert.NilError(t, h.store.InsertK8sJob(ctx, &client.K8sJobDoc{ScanID: scanId, JobYAML: jobYAML}))
	assert.NilError(t, h.store.EnqueueBacklog(ctx, &client.BacklogEntry{
		ScanID:    scanId,
		Timestamp: h.clock,
		Priority:  priority,
	}))
	h.clock = h.clock.Add(time.Second)
}

func TestFiveAdmissionsLaunchExactlyOnce(t *testing.T) {
	h := newHarness(t)
	for i := 1; i <= 5; i++ {
		h.admit(t, fmt.Sprintf("scan-%d", i), 0)
	}

	entries, err := h.store.ListBacklog(context.Background())
	assert.NilError(t, err)
	assert.Equal(t, len(entries), 5)

	for i := 0; i < 5; i++ {
		h.tick(t)
	}
	assert.Equal(t, len(h.k8s.created), 5)

	// further ticks must not re-launch anything
	for i := 0; i < 3; i++ {
		h.tick(t)
	}
	assert.Equal(t, len(h.k8s.created), 5)

	entries, err = h.store.ListBacklog(context.Background())
	assert.NilError(t, err)
	assert.Equal(t, len(entries), 0)
}

func TestCancelWhileQueued(t *testing.T) {
	h := newHarness(t)
	for i := 1; i <= 5; i++ {
		h.admit(t, fmt.Sprintf("scan-%d", i), 0)
	}
	_, err := h.store.MarkDeleted(context.Background(), "scan-2")
	assert.NilError(t, err)
	_, err = h.store.MarkDeleted(context.Background(), "scan-4")
	assert.NilError(t, err)

	for i := 0; i < 8; i++ {
		h.tick(t)
	}
	assert.Equal(t, len(h.k8s.created), 3)

	entries, err := h.store.ListBacklog(context.Background())
	assert.NilError(t, err)
	assert.Equal(t, len(entries), 0)
}

func TestHighPrioritySkipsLowPriorityGate(t *testing.T) {
	h := newHarness(t)
	h.admit(t, "scan-low", 0)
	h.admit(t, "scan-high", client.HighPriorityThreshold)

	// close the low-priority gate
	h.runner.nextLowPriorityAt = h.clock.Add(time.Hour)

	assert.NilError(t, h.runner.RunOnce(context.Background()))
	assert.Equal(t, len(h.k8s.created), 1)
	assert.Equal(t, h.k8s.created[0], "skyscan-scan-high")
}

func TestEwmsFailureLeavesEntryForRetry(t *testing.T) {
	h := newHarness(t)
	h.admit(t, "scan-1", 0)
	h.ewms.fail = true

	h.tick(t)
	assert.Equal(t, len(h.k8s.created), 0)

	entries, err := h.store.ListBacklog(context.Background())
	assert.NilError(t, err)
	assert.Equal(t, len(entries), 1)
	assert.Equal(t, entries[0].NextAttempt, 1)

	h.ewms.fail = false
	h.tick(t)
	assert.Equal(t, len(h.k8s.created), 1)

	m, err := h.store.GetManifest(context.Background(), "scan-1", false)
	assert.NilError(t, err)
	assert.Equal(t, m.EwmsWorkflowID, "wf-1")
	assert.Assert(t, m.StartedTimestamp != nil)
}

func TestMaxAttemptsPurgesEntry(t *testing.T) {
	h := newHarness(t)
	h.admit(t, "scan-1", 0)
	h.ewms.fail = true

	// attempts 1..3 fail against ewms, the 4th claim exceeds the budget
	for i := 0; i < 4; i++ {
		h.tick(t)
	}
	entries, err := h.store.ListBacklog(context.Background())
	assert.NilError(t, err)
	assert.Equal(t, len(entries), 0)
	assert.Equal(t, len(h.k8s.created), 0)
}

func TestK8sFailureLeavesEntryButKeepsWorkflow(t *testing.T) {
	h := newHarness(t)
	h.admit(t, "scan-1", 0)
	h.k8s.fail = true

	h.tick(t)
	m, err := h.store.GetManifest(context.Background(), "scan-1", false)
	assert.NilError(t, err)
	assert.Equal(t, m.EwmsWorkflowID, "wf-1")

	// the retry must not request a second workflow
	h.k8s.fail = false
	h.tick(t)
	assert.Equal(t, h.ewms.requests, 1)
	assert.Equal(t, len(h.k8s.created), 1)
}
