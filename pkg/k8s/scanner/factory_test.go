/*
 * Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package scanner

import (
	"testing"

	"github.com/stretchr/testify/require"
	"gotest.tools/assert"

	"github.com/AMD-AIG-AIMA/skydriver/pkg/config"
)

func testParams() *Params {
	return &Params{
		ScanID:                      "0001234567890123abcdef",
		Image:                       "icecube/skymap_scanner:3.10.2",
		RecoAlgo:                    "millipede_wilks",
		NSides:                      map[string]int{"8": 12, "64": 12, "512": 24},
		IsRealEvent:                 true,
		PredictiveScanningThreshold: 0.3,
		MaxPixelRecoTime:            1800,
		ScannerServerMemoryBytes:    1 << 30,
		ScannerServerEnv:            map[string]string{"SKYSCAN_LOG": "DEBUG"},
		RestAddress:                 "https://skydriver.example.org",
		SkyDriverToken:              "sd-token",
		EwmsToken:                   "ewms-token",
		S3PresignedPutURL:           "https://s3.example.org/bucket/key?sig=abc",
	}
}

func TestBuildJobIsDeterministic(t *testing.T) {
	config.SetValue("CLIENTMANAGER_IMAGE_WITH_TAG", "icecube/clientmanager:1.2.3")
	a, err := ToYAML(BuildJob(testParams()))
	require.NoError(t, err)
	b, err := ToYAML(BuildJob(testParams()))
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestServerArgs(t *testing.T) {
	args := ServerArgs(testParams())
	want := []string{
		"--reco-algo", "millipede_wilks",
		"--cache-dir", "/common-space/cache",
		"--client-startup-json", "/common-space/startup.json",
		"--nsides", "8:12", "64:12", "512:24",
		"--real-event",
		"--predictive-scanning-threshold", "0.3",
	}
	require.Equal(t, want, args)
}

func TestServerArgsSimulatedEvent(t *testing.T) {
	p := testParams()
	p.IsRealEvent = false
	args := ServerArgs(p)
	require.Contains(t, args, "--simulated-event")
	require.NotContains(t, args, "--real-event")
}

func TestBuildJobShape(t *testing.T) {
	config.SetValue("CLIENTMANAGER_IMAGE_WITH_TAG", "icecube/clientmanager:1.2.3")
	job := BuildJob(testParams())

	assert.Equal(t, job.Name, "skyscan-0001234567890123abcdef")
	assert.Equal(t, *job.Spec.BackoffLimit, int32(0))
	assert.Equal(t, job.Annotations["argocd.argoproj.io/sync-options"], "Prune=false")
	assert.Equal(t, job.Labels["app"], "scanner-instance")
	assert.Equal(t, job.Labels["app.kubernetes.io/instance"], "skyscan-0001234567890123abcdef")

	podSpec := job.Spec.Template.Spec
	require.Len(t, podSpec.InitContainers, 1)
	require.Len(t, podSpec.Containers, 2)
	assert.Equal(t, podSpec.Containers[0].Name, "scanner-server")
	assert.Equal(t, podSpec.Containers[1].Name, "s3-sidecar")

	// env names must be sorted within every container
	for _, c := range append(podSpec.InitContainers, podSpec.Containers...) {
		for i := 1; i < len(c.Env); i++ {
			assert.Equal(t, c.Env[i-1].Name < c.Env[i].Name, true,
				"env not sorted in container %s", c.Name)
		}
	}
}

func TestJobYAMLRoundTrip(t *testing.T) {
	config.SetValue("CLIENTMANAGER_IMAGE_WITH_TAG", "icecube/clientmanager:1.2.3")
	job := BuildJob(testParams())
	doc, err := ToYAML(job)
	require.NoError(t, err)
	restored, err := FromYAML(doc)
	require.NoError(t, err)
	assert.Equal(t, restored.Name, job.Name)
	assert.DeepEqual(t, restored.Spec.Template.Spec.Containers[0].Args,
		job.Spec.Template.Spec.Containers[0].Args)
}
