/*
 * Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package watchdog

import (
	"context"
	"testing"
	"time"

	"gotest.tools/assert"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/AMD-AIG-AIMA/skydriver/pkg/database/client"
	"github.com/AMD-AIG-AIMA/skydriver/pkg/database/fake"
)

type podsByScan struct {
	pods map[string][]corev1.Pod
}

func (p *podsByScan) CreateJob(context.Context, *batchv1.Job) error { return nil }
func (p *podsByScan) DeleteJob(context.Context, string) error       { return nil }
func (p *podsByScan) GetScanPods(_ context.Context, scanId string) ([]corev1.Pod, error) {
	return p.pods[scanId], nil
}
func (p *podsByScan) GetPodContainerLogs(context.Context, string, string) (string, error) {
	return "", nil
}

func evictedPod() corev1.Pod {
	start := metav1.NewTime(time.Now().Add(-30 * time.Minute))
	return corev1.Pod{
		Status: corev1.PodStatus{
			Phase:     corev1.PodFailed,
			Reason:    "Evicted",
			StartTime: &start,
		},
	}
}

func userKilledPod() corev1.Pod {
	deleted := metav1.NewTime(time.Now().Add(-time.Minute))
	pod := evictedPod()
	pod.Status.Reason = ""
	pod.DeletionTimestamp = &deleted
	return pod
}

func seedScan(t *testing.T, store *fake.Store, scanId string, startedAgo time.Duration) {
	t.Helper()
	ctx := context.Background()
	assert.NilError(t, store.InsertManifest(ctx, &client.Manifest{
		ScanID:         scanId,
		Timestamp:      time.Now().Add(-startedAgo),
		EwmsWorkflowID: "wf-" + scanId,
	}))
	assert.NilError(t, store.MarkScanStarted(ctx, scanId, time.Now().Add(-startedAgo)))
	assert.NilError(t, store.InsertScanRequest(ctx, &client.ScanRequest{ScanID: scanId}))
}

func TestWatchdogRescansOnlyTransientlyKilled(t *testing.T) {
	ctx := context.Background()
	store := fake.NewStore()
	k8sFake := &podsByScan{pods: map[string][]corev1.Pod{}}

	// the one scan that must be rescanned: evicted pod, no final result,
	// no prior rescan, started 15 minutes ago
	seedScan(t, store, "victim", 15*time.Minute)
	k8sFake.pods["victim"] = []corev1.Pod{evictedPod()}

	// finished scan with a final result
	seedScan(t, store, "finished", 20*time.Minute)
	k8sFake.pods["finished"] = []corev1.Pod{evictedPod()}
	assert.NilError(t, store.UpsertResult(ctx, &client.Result{
		ScanID: "finished", IsFinal: true,
	}))

	// scan already replaced
	seedScan(t, store, "replaced", 25*time.Minute)
	k8sFake.pods["replaced"] = []corev1.Pod{evictedPod()}
	assert.NilError(t, store.AddRescanID(ctx, "replaced", "some-new-scan"))

	// pod deleted by a user
	seedScan(t, store, "user-killed", 30*time.Minute)
	k8sFake.pods["user-killed"] = []corev1.Pod{userKilledPod()}

	// too fresh: inside the 10-minute settle window
	seedScan(t, store, "too-fresh", 2*time.Minute)
	k8sFake.pods["too-fresh"] = []corev1.Pod{evictedPod()}

	var rescanned []string
	runner := &Runner{
		store: store,
		k8s:   k8sFake,
		rescan: func(_ context.Context, scanId string) error {
			rescanned = append(rescanned, scanId)
			return nil
		},
		delay: time.Minute,
		now:   time.Now,
	}

	assert.NilError(t, runner.RunOnce(ctx))
	assert.Equal(t, len(rescanned), 1)
	assert.Equal(t, rescanned[0], "victim")

	// a second tick must not re-fire once the rescan id is recorded
	assert.NilError(t, store.AddRescanID(ctx, "victim", "replacement-scan"))
	rescanned = nil
	assert.NilError(t, runner.RunOnce(ctx))
	assert.Equal(t, len(rescanned), 0)
}

func TestTransientlyKilled(t *testing.T) {
	start := metav1.NewTime(time.Now().Add(-time.Hour))

	running := corev1.Pod{Status: corev1.PodStatus{Phase: corev1.PodRunning, StartTime: &start}}
	assert.Equal(t, TransientlyKilled(&running), false)

	evicted := evictedPod()
	assert.Equal(t, TransientlyKilled(&evicted), true)

	oom := corev1.Pod{Status: corev1.PodStatus{
		Phase:     corev1.PodFailed,
		StartTime: &start,
		ContainerStatuses: []corev1.ContainerStatus{{
			State: corev1.ContainerState{Terminated: &corev1.ContainerStateTerminated{
				Reason: "OOMKilled", ExitCode: 137,
			}},
		}},
	}}
	assert.Equal(t, TransientlyKilled(&oom), true)

	ownError := corev1.Pod{Status: corev1.PodStatus{
		Phase:     corev1.PodFailed,
		StartTime: &start,
		ContainerStatuses: []corev1.ContainerStatus{{
			State: corev1.ContainerState{Terminated: &corev1.ContainerStateTerminated{
				Reason: "Error", ExitCode: 1,
			}},
		}},
	}}
	assert.Equal(t, TransientlyKilled(&ownError), false)

	neverStarted := corev1.Pod{Status: corev1.PodStatus{Phase: corev1.PodFailed}}
	assert.Equal(t, TransientlyKilled(&neverStarted), false)

	userDeleted := userKilledPod()
	assert.Equal(t, TransientlyKilled(&userDeleted), false)
}
