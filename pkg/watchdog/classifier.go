/*
 * Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package watchdog

import (
	corev1 "k8s.io/api/core/v1"
)

// transientPodReasons are pod-level failure reasons the cluster inflicts on
// a healthy workload.
var transientPodReasons = map[string]bool{
	"Evicted":                  true,
	"NodeShutdown":             true,
	"NodeLost":                 true,
	"Shutdown":                 true,
	"Preempting":               true,
	"UnexpectedAdmissionError": true,
}

// transientContainerReasons are container termination reasons that do not
// implicate the scanner itself. "Error" and "ContainerCannotRun" are
// deliberately absent: those are the scanner's own fault.
var transientContainerReasons = map[string]bool{
	"OOMKilled":    true,
	"NodeShutdown": true,
}

// TransientlyKilled reports whether a scanner pod that had been running was
// killed by something other than the user or its own code. A pod being
// deleted (user action) or one that exited with its own error never counts;
// evictions, node failures, and kubelet OOM kills do.
func TransientlyKilled(pod *corev1.Pod) bool {
	// still alive, or never started
	if pod.Status.Phase == corev1.PodRunning ||
		pod.Status.Phase == corev1.PodPending ||
		pod.Status.Phase == corev1.PodSucceeded {
		return false
	}
	// user deletion in flight
	if pod.DeletionTimestamp != nil {
		return false
	}
	// must have been previously running
	if pod.Status.StartTime == nil {
		return false
	}
	if transientPodReasons[pod.Status.Reason] {
		return true
	}
	for _, cs := range pod.Status.ContainerStatuses {
		term := cs.State.Terminated
		if term == nil {
			term = cs.LastTerminationState.Terminated
		}
		if term == nil {
			continue
		}
		if transientContainerReasons[term.Reason] {
			return true
		}
		// SIGKILL without a recognised reason: the kubelet or the node
		// reset the container out from under us.
		if term.Reason == "" && term.ExitCode == 137 {
			return true
		}
	}
	return false
}
