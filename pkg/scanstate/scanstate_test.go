/*
 * Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package scanstate

import (
	"testing"

	"gotest.tools/assert"

	"github.com/AMD-AIG-AIMA/skydriver/pkg/database/client"
)

func TestDerive(t *testing.T) {
	progressWithRate := &client.Progress{
		ProcessingStats: client.ProcessingStats{
			Start: map[string]any{"scanner start": "2026-08-01"},
			Rate:  map[string]any{"per sec": 12.5},
		},
	}
	progressNoRate := &client.Progress{
		ProcessingStats: client.ProcessingStats{
			Start: map[string]any{"scanner start": "2026-08-01"},
		},
	}

	cases := []struct {
		name            string
		manifest        *client.Manifest
		result          *client.Result
		deactivatedType string
		want            string
	}{
		{
			name:     "no workflow yet",
			manifest: &client.Manifest{},
			want:     PendingPrestartup,
		},
		{
			name:     "pending sentinel counts as no workflow",
			manifest: &client.Manifest{EwmsWorkflowID: client.PendingEwmsWorkflow},
			want:     PendingPrestartup,
		},
		{
			name:     "workflow but no progress",
			manifest: &client.Manifest{EwmsWorkflowID: "wf-1"},
			want:     PendingWaitingOnScannerServerStartup,
		},
		{
			name:     "progress without rate",
			manifest: &client.Manifest{EwmsWorkflowID: "wf-1", Progress: progressNoRate},
			want:     InProgressWaitingOnFirstPixelReco,
		},
		{
			name:     "progress with rate",
			manifest: &client.Manifest{EwmsWorkflowID: "wf-1", Progress: progressWithRate},
			want:     InProgressPartialResultGenerated,
		},
		{
			name:            "aborted replaces the prefix",
			manifest:        &client.Manifest{EwmsWorkflowID: "wf-1", Progress: progressWithRate},
			deactivatedType: "aborted",
			want:            "ABORTED__PARTIAL_RESULT_GENERATED",
		},
		{
			name:            "finished replaces the prefix",
			manifest:        &client.Manifest{EwmsWorkflowID: "wf-1"},
			deactivatedType: "finished",
			want:            "FINISHED__WAITING_ON_SCANNER_SERVER_STARTUP",
		},
		{
			name:            "final result wins over deactivation",
			manifest:        &client.Manifest{EwmsWorkflowID: "wf-1"},
			result:          &client.Result{IsFinal: true},
			deactivatedType: "aborted",
			want:            ScanHasFinalResult,
		},
		{
			name:     "non-final result does not win",
			manifest: &client.Manifest{EwmsWorkflowID: "wf-1", Progress: progressWithRate},
			result:   &client.Result{IsFinal: false},
			want:     InProgressPartialResultGenerated,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Derive(tc.manifest, tc.result, tc.deactivatedType)
			assert.Equal(t, got, tc.want)
		})
	}
}
