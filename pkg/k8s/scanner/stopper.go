/*
 * Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package scanner

import (
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/utils/ptr"

	"github.com/AMD-AIG-AIMA/skydriver/pkg/config"
	"github.com/AMD-AIG-AIMA/skydriver/pkg/k8s"
)

const stopperSuffix = "-stopper"

// StopperName renders the teardown job's name for a scan.
func StopperName(scanId string) string {
	return k8s.InstanceName(scanId) + stopperSuffix
}

// BuildStopperJob renders the teardown job for a scan. Teardown runs as its
// own kubernetes job so that it survives a restart of the REST process:
// once submitted, the cluster owns the cleanup.
func BuildStopperJob(scanId, ewmsWorkflowId string) *batchv1.Job {
	name := StopperName(scanId)
	labels := map[string]string{
		k8s.AppLabel:      "scanner-stopper",
		k8s.InstanceLabel: name,
	}
	return &batchv1.Job{
		TypeMeta: metav1.TypeMeta{APIVersion: "batch/v1", Kind: "Job"},
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: config.GetK8sNamespace(),
			Labels:    labels,
			Annotations: map[string]string{
				argocdSyncOptionsAnnotation: "Prune=false",
			},
		},
		Spec: batchv1.JobSpec{
			BackoffLimit:            ptr.To(int32(2)),
			TTLSecondsAfterFinished: ptr.To(config.GetK8sTTLSecondsAfterFinished()),
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: labels},
				Spec: corev1.PodSpec{
					RestartPolicy: corev1.RestartPolicyNever,
					Containers: []corev1.Container{{
						Name:  "stopper",
						Image: config.GetThisImageWithTag(),
						Args: []string{
							"stopper",
							"--scan-id", scanId,
							"--workflow-id", ewmsWorkflowId,
						},
						Env: sortedEnv([]corev1.EnvVar{
							{Name: "EWMS_ADDRESS", Value: config.GetEwmsAddress()},
							{Name: "EWMS_TOKEN_URL", Value: config.GetEwmsTokenURL()},
							secretEnv("EWMS_CLIENT_ID", "ewms_client_id"),
							secretEnv("EWMS_CLIENT_SECRET", "ewms_client_secret"),
							{Name: "MONGODB_HOST", Value: config.GetMongoHost()},
							secretEnv("MONGODB_AUTH_USER", "mongodb_auth_user"),
							secretEnv("MONGODB_AUTH_PASS", "mongodb_auth_pass"),
						}),
						Resources: resources("50m", "200m", "64Mi", "128Mi"),
					}},
				},
			},
		},
	}
}
