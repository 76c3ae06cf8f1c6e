/*
 * Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

// Package k8s wraps the kubernetes API for the one namespace skydriver
// operates in: scanner job create/delete, pod inspection, container logs.
package k8s

import (
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	crconfig "sigs.k8s.io/controller-runtime/pkg/client/config"
)

const (
	defaultQPS   = 50
	defaultBurst = 100
)

// NewClientSet builds a clientset from the ambient config: in-cluster when
// deployed, KUBECONFIG during development.
func NewClientSet() (kubernetes.Interface, *rest.Config, error) {
	restCfg, err := crconfig.GetConfig()
	if err != nil {
		return nil, nil, err
	}
	restCfg.QPS = defaultQPS
	restCfg.Burst = defaultBurst
	cli, err := kubernetes.NewForConfig(restCfg)
	if err != nil {
		return nil, nil, err
	}
	return cli, restCfg, nil
}
