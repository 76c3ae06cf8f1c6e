/*
 * Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package handlers

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/AMD-AIG-AIMA/skydriver/pkg/clusters"
	"github.com/AMD-AIG-AIMA/skydriver/pkg/database/client"
	skyerrors "github.com/AMD-AIG-AIMA/skydriver/pkg/errors"
)

const (
	maxClassifierEntries = 15
	maxClassifierLength  = 15

	// DebugModeClientLogs turns on worker log collection; worker counts are
	// then capped per cluster.
	DebugModeClientLogs = "client-logs"
)

func validateRecoAlgo(algo string) error {
	if algo == "" {
		return skyerrors.NewBadRequest("reco_algo must not be empty")
	}
	if strings.ContainsAny(algo, " \t\n") {
		return skyerrors.NewBadRequest("reco_algo must not contain whitespace")
	}
	return nil
}

// validateClassifiers enforces the classifier schema: at most 15 entries,
// keys and string values at most 15 characters, values scalar.
func validateClassifiers(classifiers map[string]any) error {
	if len(classifiers) > maxClassifierEntries {
		return skyerrors.NewBadRequest(
			fmt.Sprintf("classifiers: at most %d entries allowed", maxClassifierEntries))
	}
	for key, value := range classifiers {
		if len(key) > maxClassifierLength {
			return skyerrors.NewBadRequest(
				fmt.Sprintf("classifiers: key %q exceeds %d characters", key, maxClassifierLength))
		}
		switch v := value.(type) {
		case string:
			if len(v) > maxClassifierLength {
				return skyerrors.NewBadRequest(
					fmt.Sprintf("classifiers: value for %q exceeds %d characters", key, maxClassifierLength))
			}
		case bool, float64, int, int64:
			// scalars are fine
		default:
			return skyerrors.NewBadRequest(
				fmt.Sprintf("classifiers: value for %q must be a string, bool, or number", key))
		}
	}
	return nil
}

func validateNSides(nsides map[string]int) error {
	if len(nsides) == 0 {
		return skyerrors.NewBadRequest("nsides must not be empty")
	}
	for k, v := range nsides {
		if _, err := strconv.Atoi(k); err != nil {
			return skyerrors.NewBadRequest(fmt.Sprintf("nsides: key %q is not an integer", k))
		}
		if v <= 0 {
			return skyerrors.NewBadRequest(fmt.Sprintf("nsides: value for %q must be positive", k))
		}
	}
	return nil
}

func canonicalRealOrSimulated(value string) (bool, error) {
	switch strings.ToLower(value) {
	case "real_event", "real":
		return true, nil
	case "simulated_event", "simulated":
		return false, nil
	default:
		return false, skyerrors.NewBadRequest(
			fmt.Sprintf("real_or_simulated_event must be real_event or simulated_event, got %q", value))
	}
}

// parseClusterField accepts the two admission forms: a {name: count}
// mapping or a list of [name, count] pairs (the list form allows repeats).
// Every name must be registered.
func parseClusterField(value any) ([]client.ClusterRequest, error) {
	var out []client.ClusterRequest
	switch v := value.(type) {
	case map[string]any:
		// map iteration order is random; keep requests deterministic by
		// collecting then sorting via the pairs path below
		for name, count := range v {
			n, err := asWorkerCount(count)
			if err != nil {
				return nil, skyerrors.NewBadRequest(
					fmt.Sprintf("cluster: worker count for %q: %v", name, err))
			}
			out = append(out, client.ClusterRequest{Name: name, NWorkers: n})
		}
		sortClusterRequests(out)
	case []any:
		for _, item := range v {
			pair, ok := item.([]any)
			if !ok || len(pair) != 2 {
				return nil, skyerrors.NewBadRequest("cluster: list form must contain [name, count] pairs")
			}
			name, ok := pair[0].(string)
			if !ok {
				return nil, skyerrors.NewBadRequest("cluster: pair name must be a string")
			}
			n, err := asWorkerCount(pair[1])
			if err != nil {
				return nil, skyerrors.NewBadRequest(
					fmt.Sprintf("cluster: worker count for %q: %v", name, err))
			}
			out = append(out, client.ClusterRequest{Name: name, NWorkers: n})
		}
	default:
		return nil, skyerrors.NewBadRequest(
			"cluster must be a {name: count} mapping or a list of [name, count] pairs")
	}
	if len(out) == 0 {
		return nil, skyerrors.NewBadRequest("cluster: at least one cluster is required")
	}
	for _, cr := range out {
		if _, err := clusters.Get(cr.Name); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func asWorkerCount(value any) (int, error) {
	f, ok := value.(float64)
	if !ok {
		if i, iok := value.(int); iok {
			f, ok = float64(i), true
		}
	}
	if !ok || f != float64(int(f)) {
		return 0, fmt.Errorf("must be an integer")
	}
	if f <= 0 {
		return 0, fmt.Errorf("must be positive")
	}
	return int(f), nil
}

func sortClusterRequests(reqs []client.ClusterRequest) {
	sort.Slice(reqs, func(i, j int) bool { return reqs[i].Name < reqs[j].Name })
}

// validateDebugModes canonicalises the debug_mode set and enforces the
// per-cluster worker cap when client logs are requested.
func validateDebugModes(modes []string, requests []client.ClusterRequest) ([]string, error) {
	var out []string
	for _, mode := range modes {
		canonical := strings.ToLower(strings.ReplaceAll(mode, "_", "-"))
		if canonical != DebugModeClientLogs {
			return nil, skyerrors.NewBadRequest(fmt.Sprintf("unknown debug_mode: %s", mode))
		}
		out = append(out, canonical)
	}
	if len(out) == 0 {
		return nil, nil
	}
	for _, cr := range requests {
		cl, err := clusters.Get(cr.Name)
		if err != nil {
			return nil, err
		}
		if cl.MaxNClientsDuringDebugMode > 0 && cr.NWorkers > cl.MaxNClientsDuringDebugMode {
			return nil, skyerrors.NewBadRequest(fmt.Sprintf(
				"debug_mode %s caps cluster %s at %d workers (requested %d)",
				DebugModeClientLogs, cr.Name, cl.MaxNClientsDuringDebugMode, cr.NWorkers))
		}
	}
	return out, nil
}

func validateThreshold(value *float64) (float64, error) {
	if value == nil {
		return 1.0, nil
	}
	if *value <= 0 || *value > 1 {
		return 0, skyerrors.NewBadRequest("predictive_scanning_threshold must be in (0, 1]")
	}
	return *value, nil
}

func validatePositiveSeconds(name string, value int) error {
	if value <= 0 {
		return skyerrors.NewBadRequest(fmt.Sprintf("%s must be a positive number of seconds", name))
	}
	return nil
}
