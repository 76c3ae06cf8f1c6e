/*
 * Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

// Package watchdog reconciles transiently-killed scanner pods. It never
// starts pods itself: every replacement goes through the rescan action on
// the REST surface, keeping one code path for scan creation.
package watchdog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/oauth2/clientcredentials"
	"k8s.io/klog/v2"

	"github.com/AMD-AIG-AIMA/skydriver/pkg/config"
	"github.com/AMD-AIG-AIMA/skydriver/pkg/database/client"
	"github.com/AMD-AIG-AIMA/skydriver/pkg/errors"
	"github.com/AMD-AIG-AIMA/skydriver/pkg/k8s"
	"github.com/AMD-AIG-AIMA/skydriver/pkg/metrics"
)

const (
	// windowMin excludes scans still inside their normal startup churn.
	windowMin = 10 * time.Minute
	// windowMax bounds how far back the watchdog looks; anything older has
	// either finished or been rescanned by an earlier tick.
	windowMax = time.Hour
)

// RescanFunc issues the replacement rescan for one scan. Production posts
// to skydriver's own REST surface; tests inject a recorder.
type RescanFunc func(ctx context.Context, scanId string) error

// Runner is the watchdog loop.
//
// TODO(skydriver): the loop has no cross-instance claim, so running two
// replicas of the process would double-fire rescans. Single-replica
// deployment is assumed, same as the backlog runner.
type Runner struct {
	store  client.Interface
	k8s    k8s.Interface
	rescan RescanFunc
	delay  time.Duration
	now    func() time.Time
}

func NewRunner(store client.Interface, k8sClient k8s.Interface, rescan RescanFunc) *Runner {
	return &Runner{
		store:  store,
		k8s:    k8sClient,
		rescan: rescan,
		delay:  config.GetPodWatchdogDelay(),
		now:    time.Now,
	}
}

// Run loops until the context is cancelled.
func (r *Runner) Run(ctx context.Context) {
	klog.Infof("pod watchdog started (delay=%s window=%s..%s)", r.delay, windowMin, windowMax)
	ticker := time.NewTicker(r.delay)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			klog.Info("pod watchdog stopping")
			return
		case <-ticker.C:
			if err := r.RunOnce(ctx); err != nil {
				klog.ErrorS(err, "watchdog iteration failed")
			}
		}
	}
}

// RunOnce inspects the recent-start window and requests a replacement
// rescan for every transiently killed scanner pod. Exported for tests.
func (r *Runner) RunOnce(ctx context.Context) error {
	now := r.now()
	scans, err := r.store.FindScansStartedBetween(ctx, now.Add(-windowMax), now.Add(-windowMin))
	if err != nil {
		return err
	}
	for _, manifest := range scans {
		eligible, err := r.needsRescan(ctx, manifest)
		if err != nil {
			klog.ErrorS(err, "watchdog: skipping scan", "scan", manifest.ScanID)
			continue
		}
		if !eligible {
			continue
		}
		klog.Infof("watchdog: scanner pod for %s was transiently killed, requesting rescan", manifest.ScanID)
		if err = r.rescan(ctx, manifest.ScanID); err != nil {
			klog.ErrorS(err, "watchdog: rescan request failed", "scan", manifest.ScanID)
			continue
		}
		metrics.WatchdogRescans.Inc()
	}
	return nil
}

func (r *Runner) needsRescan(ctx context.Context, manifest *client.Manifest) (bool, error) {
	result, err := r.store.GetResult(ctx, manifest.ScanID)
	if err != nil && !errors.IsNotFound(err) {
		return false, err
	}
	if result != nil && result.IsFinal {
		return false, nil
	}

	request, err := r.store.GetScanRequest(ctx, manifest.ScanID)
	if err != nil {
		return false, err
	}
	if len(request.RescanIDs) > 0 {
		// a replacement was already issued, by us or by a user
		return false, nil
	}

	pods, err := r.k8s.GetScanPods(ctx, manifest.ScanID)
	if err != nil {
		return false, err
	}
	for i := range pods {
		if TransientlyKilled(&pods[i]) {
			return true, nil
		}
	}
	return false, nil
}

// DefaultRescanFunc posts the replacement rescan to skydriver's own REST
// surface, authenticated with the system client-credentials grant.
func DefaultRescanFunc(ctx context.Context) RescanFunc {
	cc := &clientcredentials.Config{
		ClientID:     config.GetKeycloakClientID(),
		ClientSecret: config.GetKeycloakClientSecret(),
		TokenURL:     config.GetKeycloakOIDCURL() + "/protocol/openid-connect/token",
	}
	httpClient := cc.Client(ctx)
	httpClient.Timeout = 30 * time.Second
	baseURL := fmt.Sprintf("http://127.0.0.1:%d", config.GetRestPort())
	return func(ctx context.Context, scanId string) error {
		body, _ := json.Marshal(map[string]any{
			"abort_first":  true,
			"replace_scan": true,
		})
		url := fmt.Sprintf("%s/scan/%s/actions/rescan", baseURL, scanId)
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			return fmt.Errorf("rescan of %s: status %d: %s", scanId, resp.StatusCode, raw)
		}
		return nil
	}
}
