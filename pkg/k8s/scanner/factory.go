/*
 * Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

// Package scanner assembles the declarative kubernetes Job that runs one
// scan's scanner server. The factory is deterministic: identical inputs
// produce a byte-identical job spec, which the tests pin down. Tokens are
// minted by the caller and passed in, so determinism holds modulo token
// contents.
package scanner

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/utils/ptr"
	"sigs.k8s.io/yaml"

	"github.com/AMD-AIG-AIMA/skydriver/pkg/config"
	"github.com/AMD-AIG-AIMA/skydriver/pkg/k8s"
)

const (
	commonSpaceVolume = "common-space"
	commonSpacePath   = "/common-space"
	startupJSONPath   = commonSpacePath + "/startup.json"
	cacheDirPath      = commonSpacePath + "/cache"

	initContainerName    = "init-ewms"
	serverContainerName  = "scanner-server"
	sidecarContainerName = "s3-sidecar"

	argocdSyncOptionsAnnotation = "argocd.argoproj.io/sync-options"
)

// Params is everything the factory needs. All fields are plain values so
// the output is a pure function of the struct.
type Params struct {
	ScanID string
	Image  string

	RecoAlgo                    string
	NSides                      map[string]int
	IsRealEvent                 bool
	PredictiveScanningThreshold float64
	MaxPixelRecoTime            int

	ScannerServerMemoryBytes int64
	ScannerServerEnv         map[string]string

	// RestAddress is skydriver's own URL, handed to the scanner server so
	// it can report progress and results back.
	RestAddress string

	// Tokens minted at build time via the client-credentials grant.
	SkyDriverToken string
	EwmsToken      string

	// S3PresignedPutURL is where the sidecar posts the startup JSON.
	S3PresignedPutURL string
}

// BuildJob renders the scanner-server job.
func BuildJob(p *Params) *batchv1.Job {
	instance := k8s.InstanceName(p.ScanID)
	labels := map[string]string{
		k8s.AppLabel:      k8s.AppLabelValue,
		k8s.InstanceLabel: instance,
	}
	return &batchv1.Job{
		TypeMeta: metav1.TypeMeta{APIVersion: "batch/v1", Kind: "Job"},
		ObjectMeta: metav1.ObjectMeta{
			Name:      instance,
			Namespace: config.GetK8sNamespace(),
			Labels:    labels,
			Annotations: map[string]string{
				argocdSyncOptionsAnnotation: "Prune=false",
			},
		},
		Spec: batchv1.JobSpec{
			BackoffLimit:            ptr.To(int32(0)),
			ActiveDeadlineSeconds:   ptr.To(config.GetK8sActiveDeadlineSeconds()),
			TTLSecondsAfterFinished: ptr.To(config.GetK8sTTLSecondsAfterFinished()),
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: labels},
				Spec: corev1.PodSpec{
					RestartPolicy:  corev1.RestartPolicyNever,
					InitContainers: []corev1.Container{initContainer(p)},
					Containers: []corev1.Container{
						serverContainer(p),
						sidecarContainer(p),
					},
					Volumes: []corev1.Volume{{
						Name: commonSpaceVolume,
						VolumeSource: corev1.VolumeSource{
							EmptyDir: &corev1.EmptyDirVolumeSource{},
						},
					}},
				},
			},
		},
	}
}

// ToYAML renders the job for persistence in the document store.
func ToYAML(job *batchv1.Job) (string, error) {
	raw, err := yaml.Marshal(job)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// FromYAML restores a persisted job.
func FromYAML(doc string) (*batchv1.Job, error) {
	var job batchv1.Job
	if err := yaml.Unmarshal([]byte(doc), &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// ServerArgs computes the scanner server's command line. Exported because
// the worker-fleet request reuses the nsides rendering.
func ServerArgs(p *Params) []string {
	args := []string{
		"--reco-algo", p.RecoAlgo,
		"--cache-dir", cacheDirPath,
		"--client-startup-json", startupJSONPath,
		"--nsides",
	}
	args = append(args, sortedNSides(p.NSides)...)
	if p.IsRealEvent {
		args = append(args, "--real-event")
	} else {
		args = append(args, "--simulated-event")
	}
	args = append(args,
		"--predictive-scanning-threshold",
		strconv.FormatFloat(p.PredictiveScanningThreshold, 'f', -1, 64),
	)
	return args
}

func initContainer(p *Params) corev1.Container {
	return corev1.Container{
		Name:  initContainerName,
		Image: config.GetClientManagerImageWithTag(),
		Args:  []string{"ewms-init", "--output-json", startupJSONPath},
		Env: sortedEnv(append(ewmsEnv(p),
			corev1.EnvVar{Name: "EWMS_SCAN_ID", Value: p.ScanID},
		)),
		Resources: resources(
			config.GetScannerInitCPURequest(), config.GetScannerInitCPULimit(),
			"256Mi", "512Mi"),
		VolumeMounts: commonSpaceMounts(),
	}
}

func serverContainer(p *Params) corev1.Container {
	memory := resource.NewQuantity(p.ScannerServerMemoryBytes, resource.BinarySI)
	env := skyscanEnv(p)
	for name, value := range p.ScannerServerEnv {
		env = append(env, corev1.EnvVar{Name: name, Value: value})
	}
	return corev1.Container{
		Name:  serverContainerName,
		Image: p.Image,
		Args:  ServerArgs(p),
		Env:   sortedEnv(env),
		Resources: corev1.ResourceRequirements{
			Requests: corev1.ResourceList{
				corev1.ResourceCPU:    resource.MustParse(config.GetScannerCPURequest()),
				corev1.ResourceMemory: *memory,
			},
			Limits: corev1.ResourceList{
				corev1.ResourceCPU:    resource.MustParse(config.GetScannerCPULimit()),
				corev1.ResourceMemory: *memory,
			},
		},
		VolumeMounts: commonSpaceMounts(),
	}
}

func sidecarContainer(p *Params) corev1.Container {
	// The sidecar's lifetime timer fails the container if the init
	// container's startup JSON never shows up.
	env := []corev1.EnvVar{
		{Name: "S3_FILE_TO_UPLOAD", Value: startupJSONPath},
		{Name: "S3_PRESIGNED_PUT_URL", Value: p.S3PresignedPutURL},
		{Name: "S3_UPLOAD_TIMEOUT_SECONDS", Value: strconv.Itoa(int(config.GetS3ExpiresIn().Seconds()))},
		secretEnv("S3_ACCESS_KEY_ID", "s3_access_key_id"),
		secretEnv("S3_SECRET_KEY", "s3_secret_key"),
	}
	return corev1.Container{
		Name:  sidecarContainerName,
		Image: config.GetClientManagerImageWithTag(),
		Args:  []string{"s3-sidecar"},
		Env:   sortedEnv(env),
		Resources: resources(
			config.GetScannerSidecarCPURequest(), config.GetScannerSidecarCPULimit(),
			"128Mi", "256Mi"),
		VolumeMounts: commonSpaceMounts(),
	}
}

// skyscanEnv is the SKYSCAN_* group handed to the scanner server.
func skyscanEnv(p *Params) []corev1.EnvVar {
	return []corev1.EnvVar{
		{Name: "SKYSCAN_SKYDRIVER_ADDRESS", Value: p.RestAddress},
		{Name: "SKYSCAN_SKYDRIVER_SCAN_ID", Value: p.ScanID},
		{Name: "SKYSCAN_SKYDRIVER_AUTH", Value: p.SkyDriverToken},
		{Name: "SKYSCAN_MAX_PIXEL_RECO_TIME", Value: strconv.Itoa(p.MaxPixelRecoTime)},
	}
}

// ewmsEnv is the EWMS_* group for the init container.
func ewmsEnv(p *Params) []corev1.EnvVar {
	return []corev1.EnvVar{
		{Name: "EWMS_ADDRESS", Value: config.GetEwmsAddress()},
		{Name: "EWMS_ACCESS_TOKEN", Value: p.EwmsToken},
	}
}

func secretEnv(name, key string) corev1.EnvVar {
	return corev1.EnvVar{
		Name: name,
		ValueFrom: &corev1.EnvVarSource{
			SecretKeyRef: &corev1.SecretKeySelector{
				LocalObjectReference: corev1.LocalObjectReference{
					Name: config.GetK8sSecretName(),
				},
				Key: key,
			},
		},
	}
}

func commonSpaceMounts() []corev1.VolumeMount {
	return []corev1.VolumeMount{{Name: commonSpaceVolume, MountPath: commonSpacePath}}
}

func resources(cpuReq, cpuLim, memReq, memLim string) corev1.ResourceRequirements {
	return corev1.ResourceRequirements{
		Requests: corev1.ResourceList{
			corev1.ResourceCPU:    resource.MustParse(cpuReq),
			corev1.ResourceMemory: resource.MustParse(memReq),
		},
		Limits: corev1.ResourceList{
			corev1.ResourceCPU:    resource.MustParse(cpuLim),
			corev1.ResourceMemory: resource.MustParse(memLim),
		},
	}
}

// sortedNSides renders the nsides mapping as "k:v" tokens in ascending
// numeric order of k, so the args are stable across map iteration order.
func sortedNSides(nsides map[string]int) []string {
	keys := make([]string, 0, len(nsides))
	for k := range nsides {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, aerr := strconv.Atoi(keys[i])
		b, berr := strconv.Atoi(keys[j])
		if aerr == nil && berr == nil {
			return a < b
		}
		return keys[i] < keys[j]
	})
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, fmt.Sprintf("%s:%d", k, nsides[k]))
	}
	return out
}

func sortedEnv(env []corev1.EnvVar) []corev1.EnvVar {
	sort.Slice(env, func(i, j int) bool { return env[i].Name < env[j].Name })
	return env
}

// NSidesArg joins the rendered nsides tokens for callers that want the
// single-string form.
func NSidesArg(nsides map[string]int) string {
	return strings.Join(sortedNSides(nsides), " ")
}
