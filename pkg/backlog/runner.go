/*
 * Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

// Package backlog runs the scan-launch loop: exactly one active instance
// per process dequeues admitted scans, requests their EWMS workflow, and
// creates their kubernetes job. Every step is idempotent, so the loop can
// die and restart at any point without losing or double-launching a scan.
package backlog

import (
	"context"
	"fmt"
	"time"

	"k8s.io/klog/v2"

	"github.com/AMD-AIG-AIMA/skydriver/pkg/clusters"
	"github.com/AMD-AIG-AIMA/skydriver/pkg/config"
	"github.com/AMD-AIG-AIMA/skydriver/pkg/database/client"
	"github.com/AMD-AIG-AIMA/skydriver/pkg/errors"
	"github.com/AMD-AIG-AIMA/skydriver/pkg/ewms"
	"github.com/AMD-AIG-AIMA/skydriver/pkg/k8s"
	"github.com/AMD-AIG-AIMA/skydriver/pkg/k8s/scanner"
	"github.com/AMD-AIG-AIMA/skydriver/pkg/metrics"
)

// Runner is the backlog loop. The zero value is not usable; construct with
// NewRunner.
type Runner struct {
	store client.Interface
	ewms  ewms.Interface
	k8s   k8s.Interface

	shortDelay  time.Duration
	longDelay   time.Duration
	maxAttempts int
	staleTTL    time.Duration

	// now is swapped in tests for deterministic gate arithmetic.
	now func() time.Time

	// nextLowPriorityAt throttles low-priority launches: the claim gate for
	// them opens only when this instant has passed. High-priority entries
	// are always eligible.
	nextLowPriorityAt time.Time
	lastHeartbeat     time.Time
}

func NewRunner(store client.Interface, ewmsClient ewms.Interface, k8sClient k8s.Interface) *Runner {
	return &Runner{
		store:       store,
		ewms:        ewmsClient,
		k8s:         k8sClient,
		shortDelay:  config.GetBacklogRunnerShortDelay(),
		longDelay:   config.GetBacklogRunnerDelay(),
		maxAttempts: config.GetBacklogMaxAttempts(),
		staleTTL:    config.GetBacklogPendingEntryTTL(),
		now:         time.Now,
	}
}

// Run loops until the context is cancelled. Any error from an iteration is
// logged and the loop resumes after the short delay; the claim step is
// always safe to re-enter.
func (r *Runner) Run(ctx context.Context) {
	klog.Infof("scan-backlog runner started (short=%s long=%s maxAttempts=%d)",
		r.shortDelay, r.longDelay, r.maxAttempts)
	ticker := time.NewTicker(r.shortDelay)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			klog.Info("scan-backlog runner stopping")
			return
		case <-ticker.C:
			if err := r.RunOnce(ctx); err != nil {
				klog.ErrorS(err, "backlog iteration failed")
			}
		}
	}
}

// RunOnce performs one claim-and-launch iteration. Exported for tests.
func (r *Runner) RunOnce(ctx context.Context) error {
	now := r.now()
	r.heartbeat(ctx, now)

	includeLowPriority := !now.Before(r.nextLowPriorityAt)
	entry, err := r.store.ClaimNextBacklog(ctx, now, now.Add(-r.staleTTL), includeLowPriority)
	if err != nil {
		return err
	}
	if entry == nil {
		return nil
	}

	if entry.NextAttempt > r.maxAttempts {
		klog.Infof("purging backlog entry %s: %d attempts exhausted", entry.ScanID, r.maxAttempts)
		metrics.BacklogClaims.WithLabelValues(metrics.OutcomePurgedAttempts).Inc()
		return errors.IgnoreNotFound(r.store.RemoveBacklog(ctx, entry.ScanID))
	}

	manifest, err := r.store.GetManifest(ctx, entry.ScanID, true)
	if err != nil {
		if errors.IsNotFound(err) {
			metrics.BacklogClaims.WithLabelValues(metrics.OutcomePurgedDeleted).Inc()
			return errors.IgnoreNotFound(r.store.RemoveBacklog(ctx, entry.ScanID))
		}
		return err
	}
	if manifest.IsDeleted {
		klog.Infof("purging backlog entry %s: scan was deleted", entry.ScanID)
		metrics.BacklogClaims.WithLabelValues(metrics.OutcomePurgedDeleted).Inc()
		return errors.IgnoreNotFound(r.store.RemoveBacklog(ctx, entry.ScanID))
	}

	request, err := r.store.GetScanRequest(ctx, entry.ScanID)
	if err != nil {
		return err
	}
	jobDoc, err := r.store.GetK8sJob(ctx, entry.ScanID)
	if err != nil {
		return err
	}

	workflowId := manifest.EwmsWorkflowID
	if !manifest.HasEwmsWorkflow() {
		wfReq, err := BuildWorkflowRequest(request)
		if err != nil {
			return err
		}
		workflowId, err = r.ewms.RequestWorkflow(ctx, wfReq)
		if err != nil {
			// Leave the entry: it re-claims once the stale threshold
			// passes. Push the low-priority gate out so the retry budget
			// goes to high-priority work first.
			r.nextLowPriorityAt = now.Add(r.longDelay)
			metrics.BacklogClaims.WithLabelValues(metrics.OutcomeRetried).Inc()
			klog.ErrorS(err, "ewms workflow request failed, leaving backlog entry", "scan", entry.ScanID)
			return nil
		}
		if err = r.store.SetEwmsWorkflowID(ctx, entry.ScanID, workflowId); err != nil {
			return err
		}
	}

	job, err := scanner.FromYAML(jobDoc.JobYAML)
	if err != nil {
		return fmt.Errorf("stored job spec for scan %s is unreadable: %v", entry.ScanID, err)
	}
	if err = r.k8s.CreateJob(ctx, job); err != nil {
		metrics.BacklogClaims.WithLabelValues(metrics.OutcomeRetried).Inc()
		klog.ErrorS(err, "k8s job creation failed, leaving backlog entry", "scan", entry.ScanID)
		return nil
	}
	if err = r.store.MarkScanStarted(ctx, entry.ScanID, now); err != nil {
		return err
	}
	if entry.Priority < client.HighPriorityThreshold {
		r.nextLowPriorityAt = now.Add(r.longDelay)
	}
	metrics.BacklogClaims.WithLabelValues(metrics.OutcomeLaunched).Inc()
	metrics.ScansLaunched.Inc()
	klog.Infof("launched scan %s (priority=%d attempt=%d workflow=%s)",
		entry.ScanID, entry.Priority, entry.NextAttempt, workflowId)
	return errors.IgnoreNotFound(r.store.RemoveBacklog(ctx, entry.ScanID))
}

func (r *Runner) heartbeat(ctx context.Context, now time.Time) {
	if now.Sub(r.lastHeartbeat) < r.longDelay {
		return
	}
	r.lastHeartbeat = now
	entries, err := r.store.ListBacklog(ctx)
	if err != nil {
		klog.ErrorS(err, "heartbeat: failed to list backlog")
		return
	}
	metrics.BacklogDepth.Set(float64(len(entries)))
	klog.Infof("scan-backlog heartbeat: %d entries queued", len(entries))
}

// BuildWorkflowRequest assembles the EWMS workflow request for a scan: one
// worker spec per requested cluster, addressed via the registry.
func BuildWorkflowRequest(req *client.ScanRequest) (*ewms.WorkflowRequest, error) {
	workers := make([]ewms.WorkerSpec, 0, len(req.Clusters))
	for _, cr := range req.Clusters {
		cl, err := clusters.Get(cr.Name)
		if err != nil {
			return nil, err
		}
		workers = append(workers, ewms.WorkerSpec{
			ClusterLocation: cl.Location(),
			NWorkers:        cr.NWorkers,
			WorkerConfig: map[string]any{
				"worker_memory_bytes": req.WorkerMemoryBytes,
				"worker_disk_bytes":   req.WorkerDiskBytes,
				"max_worker_runtime":  req.MaxWorkerRuntime,
				"priority":            req.Priority,
			},
		})
	}
	image := config.GetScannerImageRepository() + ":" + req.DockerTag
	return &ewms.WorkflowRequest{
		ScanID:           req.ScanID,
		TaskImage:        image,
		TaskArgs:         "--nsides " + scanner.NSidesArg(req.NSides),
		Workers:          workers,
		Priority:         req.Priority,
		MaxWorkerRuntime: req.MaxWorkerRuntime,
	}, nil
}
