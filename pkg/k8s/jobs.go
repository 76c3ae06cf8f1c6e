/*
 * Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package k8s

import (
	"context"
	"fmt"
	"io"
	"sort"

	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/klog/v2"

	skyerrors "github.com/AMD-AIG-AIMA/skydriver/pkg/errors"
)

const (
	// InstanceLabel selects every pod belonging to one scan.
	InstanceLabel = "app.kubernetes.io/instance"

	// AppLabel marks scanner pods for cluster operators.
	AppLabel      = "app"
	AppLabelValue = "scanner-instance"
)

// InstanceName renders the per-scan instance label value and job name.
func InstanceName(scanId string) string {
	return "skyscan-" + scanId
}

// Interface is the kubernetes surface the handlers and runners consume.
type Interface interface {
	CreateJob(ctx context.Context, job *batchv1.Job) error
	DeleteJob(ctx context.Context, name string) error
	GetScanPods(ctx context.Context, scanId string) ([]corev1.Pod, error)
	GetPodContainerLogs(ctx context.Context, scanId, container string) (string, error)
}

// Wrapper implements Interface against a real (or fake) clientset, pinned
// to the configured namespace.
type Wrapper struct {
	clientset kubernetes.Interface
	namespace string
}

var _ Interface = &Wrapper{}

func NewWrapper(clientset kubernetes.Interface, namespace string) *Wrapper {
	return &Wrapper{clientset: clientset, namespace: namespace}
}

// CreateJob submits a job. An AlreadyExists from the API is swallowed: the
// backlog runner may retry a creation whose first attempt actually landed.
func (w *Wrapper) CreateJob(ctx context.Context, job *batchv1.Job) error {
	_, err := w.clientset.BatchV1().Jobs(w.namespace).Create(ctx, job, metav1.CreateOptions{})
	if err != nil {
		if apierrors.IsAlreadyExists(err) {
			klog.Infof("job %s already exists, treating create as done", job.Name)
			return nil
		}
		return skyerrors.NewInternalError(fmt.Sprintf("failed to create job %s: %v", job.Name, err))
	}
	return nil
}

// DeleteJob removes a job and its pods.
func (w *Wrapper) DeleteJob(ctx context.Context, name string) error {
	propagation := metav1.DeletePropagationBackground
	err := w.clientset.BatchV1().Jobs(w.namespace).Delete(ctx, name, metav1.DeleteOptions{
		PropagationPolicy: &propagation,
	})
	if err != nil && !apierrors.IsNotFound(err) {
		return skyerrors.NewInternalError(fmt.Sprintf("failed to delete job %s: %v", name, err))
	}
	return nil
}

// GetScanPods lists the pods of one scan, oldest first.
func (w *Wrapper) GetScanPods(ctx context.Context, scanId string) ([]corev1.Pod, error) {
	selector := fmt.Sprintf("%s=%s", InstanceLabel, InstanceName(scanId))
	list, err := w.clientset.CoreV1().Pods(w.namespace).List(ctx, metav1.ListOptions{
		LabelSelector: selector,
	})
	if err != nil {
		return nil, skyerrors.NewInternalError(fmt.Sprintf("failed to list pods for scan %s: %v", scanId, err))
	}
	pods := list.Items
	sort.Slice(pods, func(i, j int) bool {
		return pods[i].CreationTimestamp.Before(&pods[j].CreationTimestamp)
	})
	return pods, nil
}

// GetPodContainerLogs streams the named container's logs from the scan's
// newest pod.
func (w *Wrapper) GetPodContainerLogs(ctx context.Context, scanId, container string) (string, error) {
	pods, err := w.GetScanPods(ctx, scanId)
	if err != nil {
		return "", err
	}
	if len(pods) == 0 {
		return "", skyerrors.NewNotFoundWithMessage(fmt.Sprintf("no pods found for scan %s", scanId))
	}
	pod := pods[len(pods)-1]
	req := w.clientset.CoreV1().Pods(w.namespace).GetLogs(pod.Name, &corev1.PodLogOptions{
		Container: container,
	})
	stream, err := req.Stream(ctx)
	if err != nil {
		return "", skyerrors.NewInternalError(
			fmt.Sprintf("failed to stream logs for pod %s container %s: %v", pod.Name, container, err))
	}
	defer stream.Close()
	raw, err := io.ReadAll(stream)
	if err != nil {
		return "", skyerrors.NewInternalError(err.Error())
	}
	return string(raw), nil
}
