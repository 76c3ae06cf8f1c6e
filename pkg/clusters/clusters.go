/*
 * Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

// Package clusters holds the process-wide registry of compute back-ends a
// scan may request workers on. The registry is seeded once at startup, from
// a YAML file when KNOWN_CLUSTERS_CONFIG points at one, otherwise from the
// built-in defaults.
package clusters

import (
	"fmt"
	"os"
	"sync"

	"sigs.k8s.io/yaml"

	skyerrors "github.com/AMD-AIG-AIMA/skydriver/pkg/errors"
)

const (
	OrchestratorCondor = "condor"
	OrchestratorK8s    = "k8s"
)

// Cluster describes one known back-end compute pool.
type Cluster struct {
	Name         string `json:"name"`
	Orchestrator string `json:"orchestrator"`

	// Condor pools are addressed by collector + schedd, k8s pools by
	// host + namespace. Only the pair matching Orchestrator is set.
	Collector string `json:"collector,omitempty"`
	Schedd    string `json:"schedd,omitempty"`
	Host      string `json:"host,omitempty"`
	Namespace string `json:"namespace,omitempty"`

	// MaxNClientsDuringDebugMode caps the worker count when the scan runs
	// with CLIENT_LOGS debug mode. Zero means no cap.
	MaxNClientsDuringDebugMode int `json:"max_n_clients_during_debug_mode,omitempty"`
}

// Location renders the orchestrator-specific addressing block that EWMS and
// the manifest cluster records carry.
func (c *Cluster) Location() map[string]any {
	if c.Orchestrator == OrchestratorCondor {
		return map[string]any{"collector": c.Collector, "schedd": c.Schedd}
	}
	return map[string]any{"host": c.Host, "namespace": c.Namespace}
}

var (
	mu       sync.RWMutex
	registry = map[string]*Cluster{}
)

// builtin mirrors the deployment's long-standing pool set; a config file
// replaces it wholesale.
var builtin = []*Cluster{
	{
		Name:                       "sub-2",
		Orchestrator:               OrchestratorCondor,
		Collector:                  "glidein-cm.icecube.wisc.edu",
		Schedd:                     "sub-2.icecube.wisc.edu",
		MaxNClientsDuringDebugMode: 10,
	},
	{
		Name:         "gke",
		Orchestrator: OrchestratorK8s,
		Host:         "gke.icecube.wisc.edu",
		Namespace:    "icecube-skymap-scanner",
	},
}

// Init seeds the registry. configPath may be empty.
func Init(configPath string) error {
	clusters := builtin
	if configPath != "" {
		raw, err := os.ReadFile(configPath)
		if err != nil {
			return fmt.Errorf("failed to read cluster config %s: %v", configPath, err)
		}
		var loaded []*Cluster
		if err = yaml.Unmarshal(raw, &loaded); err != nil {
			return fmt.Errorf("failed to parse cluster config %s: %v", configPath, err)
		}
		clusters = loaded
	}
	next := map[string]*Cluster{}
	for _, c := range clusters {
		if c.Name == "" {
			return fmt.Errorf("cluster with empty name in config")
		}
		if c.Orchestrator != OrchestratorCondor && c.Orchestrator != OrchestratorK8s {
			return fmt.Errorf("cluster %s: unknown orchestrator %q", c.Name, c.Orchestrator)
		}
		next[c.Name] = c
	}
	mu.Lock()
	registry = next
	mu.Unlock()
	return nil
}

// Get looks a cluster up by name. Unknown names are a validation error, the
// admission layer surfaces them as 400.
func Get(name string) (*Cluster, error) {
	mu.RLock()
	defer mu.RUnlock()
	c, ok := registry[name]
	if !ok {
		return nil, skyerrors.NewBadRequest(fmt.Sprintf("unknown cluster: %s", name))
	}
	return c, nil
}

// Names lists the registered cluster names.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	return out
}

// SetForTest swaps the registry in tests and returns a restore func.
func SetForTest(clusters []*Cluster) func() {
	mu.Lock()
	prev := registry
	next := map[string]*Cluster{}
	for _, c := range clusters {
		next[c.Name] = c
	}
	registry = next
	mu.Unlock()
	return func() {
		mu.Lock()
		registry = prev
		mu.Unlock()
	}
}
