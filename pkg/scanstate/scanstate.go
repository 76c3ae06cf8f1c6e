/*
 * Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

// Package scanstate derives a scan's externally visible state from its
// stored documents. The derivation is a pure function so it can be reported
// identically by the GET endpoints and by log lines.
package scanstate

import (
	"strings"

	"github.com/AMD-AIG-AIMA/skydriver/pkg/database/client"
)

const (
	ScanHasFinalResult = "SCAN_HAS_FINAL_RESULT"

	InProgressPartialResultGenerated     = "IN_PROGRESS__PARTIAL_RESULT_GENERATED"
	InProgressWaitingOnFirstPixelReco    = "IN_PROGRESS__WAITING_ON_FIRST_PIXEL_RECO"
	PendingWaitingOnScannerServerStartup = "PENDING__WAITING_ON_SCANNER_SERVER_STARTUP"
	PendingPrestartup                    = "PENDING__PRESTARTUP"
)

// Derive computes the scan state.
//
// A final result wins unconditionally. Otherwise the base state follows how
// far the scanner server has gotten, and a deactivated workflow replaces the
// IN_PROGRESS/PENDING prefix with the deactivation type (ABORTED, FINISHED)
// upper-cased.
func Derive(manifest *client.Manifest, result *client.Result, deactivatedType string) string {
	if result != nil && result.IsFinal {
		return ScanHasFinalResult
	}
	base := baseState(manifest)
	if deactivatedType == "" {
		return base
	}
	parts := strings.SplitN(base, "__", 2)
	return strings.ToUpper(deactivatedType) + "__" + parts[1]
}

func baseState(manifest *client.Manifest) string {
	if !manifest.HasEwmsWorkflow() {
		return PendingPrestartup
	}
	if manifest.Progress == nil {
		return PendingWaitingOnScannerServerStartup
	}
	if len(manifest.Progress.ProcessingStats.Rate) > 0 {
		return InProgressPartialResultGenerated
	}
	return InProgressWaitingOnFirstPixelReco
}
