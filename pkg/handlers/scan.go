/*
 * Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package handlers

import (
	"context"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"k8s.io/klog/v2"

	"github.com/AMD-AIG-AIMA/skydriver/pkg/backlog"
	"github.com/AMD-AIG-AIMA/skydriver/pkg/clusters"
	"github.com/AMD-AIG-AIMA/skydriver/pkg/config"
	"github.com/AMD-AIG-AIMA/skydriver/pkg/database/client"
	"github.com/AMD-AIG-AIMA/skydriver/pkg/ewms"
	skyerrors "github.com/AMD-AIG-AIMA/skydriver/pkg/errors"
	"github.com/AMD-AIG-AIMA/skydriver/pkg/handlers/types"
	"github.com/AMD-AIG-AIMA/skydriver/pkg/k8s"
	"github.com/AMD-AIG-AIMA/skydriver/pkg/k8s/scanner"
	"github.com/AMD-AIG-AIMA/skydriver/pkg/scanid"
	"github.com/AMD-AIG-AIMA/skydriver/pkg/scanstate"
	"github.com/AMD-AIG-AIMA/skydriver/pkg/utils"
)

// Live is the unauthenticated-shape liveness probe (still behind auth per
// the route table; it proves the full stack is serving).
func (h *Handler) Live(c *gin.Context) {
	handle(c, func(*gin.Context) (interface{}, error) {
		return gin.H{"status": "ok"}, nil
	})
}

// PostScan is the admission endpoint.
func (h *Handler) PostScan(c *gin.Context) {
	handle(c, h.postScan)
}

func (h *Handler) postScan(c *gin.Context) (interface{}, error) {
	var payload types.ScanRequestPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		return nil, skyerrors.NewBadRequest(err.Error())
	}
	request, eventDict, err := h.validateAdmission(&payload)
	if err != nil {
		return nil, err
	}
	manifest, err := h.admit(c.Request.Context(), scanid.New(), request, eventDict)
	if err != nil {
		return nil, err
	}
	return projectManifest(manifest, payload.ManifestProjection,
		eventDictForProjection(payload.ManifestProjection, eventDict))
}

// validateAdmission canonicalises the POST /scan body into a ScanRequest
// plus the canonical event payload. Every failure is a 400 with its cause.
func (h *Handler) validateAdmission(payload *types.ScanRequestPayload) (*client.ScanRequest, map[string]any, error) {
	if err := validateRecoAlgo(payload.RecoAlgo); err != nil {
		return nil, nil, err
	}
	tag, err := h.images.Resolve(payload.DockerTag)
	if err != nil {
		return nil, nil, err
	}
	eventDict, err := utils.ParseJSONDict(payload.EventI3liveJSON)
	if err != nil {
		return nil, nil, skyerrors.NewBadRequest("event_i3live_json: " + err.Error())
	}
	eventHash, err := utils.HashJSON(eventDict)
	if err != nil {
		return nil, nil, skyerrors.NewBadRequest("event_i3live_json: " + err.Error())
	}
	if err = validateNSides(payload.NSides); err != nil {
		return nil, nil, err
	}
	isReal, err := canonicalRealOrSimulated(payload.RealOrSimulatedEvent)
	if err != nil {
		return nil, nil, err
	}
	clusterReqs, err := parseClusterField(payload.Cluster)
	if err != nil {
		return nil, nil, err
	}
	workerMemory, err := utils.ParseHumanSize(payload.WorkerMemory)
	if err != nil {
		return nil, nil, skyerrors.NewBadRequest("worker_memory: " + err.Error())
	}
	workerDisk, err := utils.ParseHumanSize(payload.WorkerDisk)
	if err != nil {
		return nil, nil, skyerrors.NewBadRequest("worker_disk: " + err.Error())
	}
	serverMemory, err := utils.ParseHumanSize(payload.ScannerServerMemory)
	if err != nil {
		return nil, nil, skyerrors.NewBadRequest("scanner_server_memory: " + err.Error())
	}
	threshold, err := validateThreshold(payload.PredictiveScanningThreshold)
	if err != nil {
		return nil, nil, err
	}
	if err = validatePositiveSeconds("max_pixel_reco_time", payload.MaxPixelRecoTime); err != nil {
		return nil, nil, err
	}
	if err = validatePositiveSeconds("max_worker_runtime", payload.MaxWorkerRuntime); err != nil {
		return nil, nil, err
	}
	if err = validateClassifiers(payload.Classifiers); err != nil {
		return nil, nil, err
	}
	debugModes, err := validateDebugModes(payload.DebugMode, clusterReqs)
	if err != nil {
		return nil, nil, err
	}
	return &client.ScanRequest{
		DockerTag:                   tag,
		RecoAlgo:                    payload.RecoAlgo,
		NSides:                      payload.NSides,
		IsRealEvent:                 isReal,
		Clusters:                    clusterReqs,
		WorkerMemoryBytes:           workerMemory,
		WorkerDiskBytes:             workerDisk,
		ScannerServerMemoryBytes:    serverMemory,
		PredictiveScanningThreshold: threshold,
		MaxPixelRecoTime:            payload.MaxPixelRecoTime,
		MaxWorkerRuntime:            payload.MaxWorkerRuntime,
		Priority:                    payload.Priority,
		DebugModes:                  debugModes,
		Classifiers:                 payload.Classifiers,
		I3EventID:                   eventHash,
		ScannerServerEnv:            payload.ScannerServerEnv,
	}, eventDict, nil
}

// admit runs the single scan-creation path used by POST /scan, rescans, and
// (indirectly) the watchdog: persist everything, then either launch
// directly (high priority) or queue for the backlog runner.
func (h *Handler) admit(ctx context.Context, scanId string, request *client.ScanRequest,
	eventDict map[string]any) (*client.Manifest, error) {
	request.ScanID = scanId
	now := time.Now().UTC()

	if err := h.store.UpsertI3Event(ctx, &client.I3Event{
		I3EventID: request.I3EventID,
		JSONDict:  eventDict,
	}); err != nil {
		return nil, err
	}

	jobYAML, err := h.buildJobYAML(ctx, request)
	if err != nil {
		return nil, err
	}

	manifest := &client.Manifest{
		ScanID:                  scanId,
		Timestamp:               now,
		LastUpdated:             now,
		Priority:                request.Priority,
		I3EventID:               request.I3EventID,
		EventI3liveJSONDictHash: request.I3EventID,
		EwmsWorkflowID:          client.PendingEwmsWorkflow,
		Classifiers:             request.Classifiers,
	}

	// a duplicate here means the id allocator collided: a bug, not a user
	// error
	if err = asInternal(h.store.InsertScanRequest(ctx, request)); err != nil {
		return nil, err
	}
	if err = asInternal(h.store.InsertManifest(ctx, manifest)); err != nil {
		return nil, err
	}
	if err = asInternal(h.store.InsertK8sJob(ctx, &client.K8sJobDoc{
		ScanID:  scanId,
		JobYAML: jobYAML,
	})); err != nil {
		return nil, err
	}

	if request.Priority >= client.HighPriorityThreshold {
		if err = h.launchDirectly(ctx, manifest, request, jobYAML); err == nil {
			return h.store.GetManifest(ctx, scanId, false)
		}
		klog.ErrorS(err, "direct launch failed, falling back to backlog", "scan", scanId)
	}
	if err = h.store.EnqueueBacklog(ctx, &client.BacklogEntry{
		ScanID:    scanId,
		Timestamp: now,
		Priority:  request.Priority,
	}); err != nil {
		return nil, err
	}
	return manifest, nil
}

// launchDirectly is the high-priority path: workflow, workflow-id persist,
// job create, started stamp. Any failure sends the scan to the backlog.
func (h *Handler) launchDirectly(ctx context.Context, manifest *client.Manifest,
	request *client.ScanRequest, jobYAML string) error {
	wfReq, err := backlog.BuildWorkflowRequest(request)
	if err != nil {
		return err
	}
	workflowId, err := h.ewms.RequestWorkflow(ctx, wfReq)
	if err != nil {
		return err
	}
	if err = h.store.SetEwmsWorkflowID(ctx, manifest.ScanID, workflowId); err != nil {
		return err
	}
	job, err := scanner.FromYAML(jobYAML)
	if err != nil {
		return err
	}
	if err = h.k8s.CreateJob(ctx, job); err != nil {
		return err
	}
	return h.store.MarkScanStarted(ctx, manifest.ScanID, time.Now().UTC())
}

func (h *Handler) buildJobYAML(ctx context.Context, request *client.ScanRequest) (string, error) {
	var sdToken, ewmsToken, putURL string
	var err error
	if h.tokens != nil {
		if sdToken, err = h.tokens.SkyDriverToken(ctx); err != nil {
			return "", skyerrors.NewInternalError("failed to mint skydriver token: " + err.Error())
		}
		if ewmsToken, err = h.tokens.EwmsToken(ctx); err != nil {
			return "", skyerrors.NewInternalError("failed to mint ewms token: " + err.Error())
		}
	}
	if h.s3 != nil {
		if putURL, err = h.s3.PresignPut(ctx, request.ScanID); err != nil {
			return "", skyerrors.NewInternalError("failed to presign upload url: " + err.Error())
		}
	}
	job := scanner.BuildJob(&scanner.Params{
		ScanID:                      request.ScanID,
		Image:                       h.images.Image(request.DockerTag),
		RecoAlgo:                    request.RecoAlgo,
		NSides:                      request.NSides,
		IsRealEvent:                 request.IsRealEvent,
		PredictiveScanningThreshold: request.PredictiveScanningThreshold,
		MaxPixelRecoTime:            request.MaxPixelRecoTime,
		ScannerServerMemoryBytes:    request.ScannerServerMemoryBytes,
		ScannerServerEnv:            request.ScannerServerEnv,
		RestAddress:                 h.restAddress,
		SkyDriverToken:              sdToken,
		EwmsToken:                   ewmsToken,
		S3PresignedPutURL:           putURL,
	})
	return scanner.ToYAML(job)
}

// GetScan returns the manifest and the result together.
func (h *Handler) GetScan(c *gin.Context) {
	handle(c, func(c *gin.Context) (interface{}, error) {
		manifest, err := h.loadProjectedManifest(c)
		if err != nil {
			return nil, err
		}
		result, err := h.store.GetResult(c.Request.Context(), c.Param("id"))
		if err != nil && !skyerrors.IsNotFound(err) {
			return nil, err
		}
		return types.ScanResponse{Manifest: manifest, Result: result}, nil
	})
}

// DeleteScan aborts a scan and soft-deletes its documents.
func (h *Handler) DeleteScan(c *gin.Context) {
	handle(c, func(c *gin.Context) (interface{}, error) {
		ctx := c.Request.Context()
		scanId := c.Param("id")
		manifest, err := h.store.GetManifest(ctx, scanId, false)
		if err != nil {
			return nil, err
		}
		if manifest.Complete && c.Query("delete_completed_scan") != "true" {
			return nil, skyerrors.NewBadRequest(
				"scan is complete; pass delete_completed_scan=true to delete it anyway")
		}
		manifest, err = h.store.MarkDeleted(ctx, scanId)
		if err != nil {
			return nil, err
		}
		h.stopScannerInstance(ctx, manifest)
		result, err := h.store.GetResult(ctx, scanId)
		if err != nil && !skyerrors.IsNotFound(err) {
			return nil, err
		}
		projected, err := projectManifest(manifest, nil, nil)
		if err != nil {
			return nil, err
		}
		return types.ScanResponse{Manifest: projected, Result: result}, nil
	})
}

// stopScannerInstance tears down the server job and signals EWMS. Both
// calls are best-effort; the scan's stored state has already changed.
func (h *Handler) stopScannerInstance(ctx context.Context, manifest *client.Manifest) {
	if err := h.k8s.DeleteJob(ctx, k8s.InstanceName(manifest.ScanID)); err != nil {
		klog.ErrorS(err, "failed to delete scanner job", "scan", manifest.ScanID)
	}
	h.ewms.Abort(ctx, manifest.EwmsWorkflowID)
}

// GetManifest returns the manifest only.
func (h *Handler) GetManifest(c *gin.Context) {
	handle(c, func(c *gin.Context) (interface{}, error) {
		manifest, err := h.loadProjectedManifest(c)
		if err != nil {
			return nil, err
		}
		return gin.H{"manifest": manifest}, nil
	})
}

// PatchManifest applies a progress/metadata/cluster update.
func (h *Handler) PatchManifest(c *gin.Context) {
	handle(c, func(c *gin.Context) (interface{}, error) {
		var payload types.ManifestPatchPayload
		if err := c.ShouldBindJSON(&payload); err != nil {
			return nil, skyerrors.NewBadRequest(err.Error())
		}
		manifest, err := h.store.UpdateManifest(c.Request.Context(), c.Param("id"), &client.ManifestPatch{
			Progress:      payload.Progress,
			EventMetadata: payload.EventMetadata,
			ScanMetadata:  payload.ScanMetadata,
			AddCluster:    payload.Cluster,
		})
		if err != nil {
			return nil, err
		}
		projected, err := projectManifest(manifest, nil, nil)
		if err != nil {
			return nil, err
		}
		return gin.H{"manifest": projected}, nil
	})
}

// GetResult returns the stored result, honouring include_deleted.
func (h *Handler) GetResult(c *gin.Context) {
	handle(c, func(c *gin.Context) (interface{}, error) {
		ctx := c.Request.Context()
		scanId := c.Param("id")
		if _, err := h.store.GetManifest(ctx, scanId, includeDeleted(c)); err != nil {
			return nil, err
		}
		return h.store.GetResult(ctx, scanId)
	})
}

// PutResult persists the scanner server's result. A final result answers
// the caller first and then drives teardown in the background.
func (h *Handler) PutResult(c *gin.Context) {
	handle(c, func(c *gin.Context) (interface{}, error) {
		ctx := c.Request.Context()
		scanId := c.Param("id")
		var payload types.ResultPayload
		if err := c.ShouldBindJSON(&payload); err != nil {
			return nil, skyerrors.NewBadRequest(err.Error())
		}
		if _, err := h.store.GetManifest(ctx, scanId, false); err != nil {
			return nil, err
		}
		if len(payload.SkyscanResult) == 0 {
			// an empty result is a no-op by contract
			return gin.H{"result": nil}, nil
		}
		result := &client.Result{
			ScanID:        scanId,
			SkyscanResult: payload.SkyscanResult,
			IsFinal:       payload.IsFinal,
		}
		if err := h.store.UpsertResult(ctx, result); err != nil {
			return nil, err
		}
		if payload.IsFinal {
			go h.teardownAfterFinalResult(scanId)
		}
		return gin.H{"result": result}, nil
	})
}

// teardownAfterFinalResult waits out the grace period, then schedules the
// stopper job so cleanup survives a restart of this process, signals EWMS,
// and marks the scan complete.
func (h *Handler) teardownAfterFinalResult(scanId string) {
	time.Sleep(config.GetWaitBeforeTeardown())
	ctx := context.Background()
	manifest, err := h.store.GetManifest(ctx, scanId, true)
	if err != nil {
		klog.ErrorS(err, "teardown: manifest fetch failed", "scan", scanId)
		return
	}
	if err = h.k8s.CreateJob(ctx, scanner.BuildStopperJob(scanId, manifest.EwmsWorkflowID)); err != nil {
		klog.ErrorS(err, "teardown: stopper job creation failed", "scan", scanId)
	}
	h.ewms.Finished(ctx, manifest.EwmsWorkflowID)
	if err = h.store.SetComplete(ctx, scanId); err != nil {
		klog.ErrorS(err, "teardown: failed to mark scan complete", "scan", scanId)
	}
}

// GetStatus reports the derived scan state, and optionally the pod and
// workforce statuses.
func (h *Handler) GetStatus(c *gin.Context) {
	handle(c, func(c *gin.Context) (interface{}, error) {
		ctx := c.Request.Context()
		scanId := c.Param("id")
		manifest, err := h.store.GetManifest(ctx, scanId, true)
		if err != nil {
			return nil, err
		}
		result, err := h.store.GetResult(ctx, scanId)
		if err != nil && !skyerrors.IsNotFound(err) {
			return nil, err
		}
		deactivated, err := h.ewms.GetDeactivatedType(ctx, manifest.EwmsWorkflowID)
		if err != nil {
			// degrade to the last known state rather than failing the read
			klog.ErrorS(err, "status: ewms read failed", "scan", scanId)
			deactivated = ""
		}
		resp := types.StatusResponse{
			ScanState:    scanstate.Derive(manifest, result, deactivated),
			IsDeleted:    manifest.IsDeleted,
			ScanComplete: manifest.Complete,
		}
		if base := config.GetGrafanaDashboardBaseURL(); base != "" {
			resp.GrafanaDashboard = fmt.Sprintf("%s?var-scan_id=%s", base, scanId)
		}
		if workforce, nRunning, err := h.ewms.GetWorkforceStatuses(ctx, manifest.EwmsWorkflowID); err == nil {
			resp.Workforce = workforce
			resp.NRunning = nRunning
		}
		if c.Query("include_pod_statuses") == "true" {
			pods, err := h.k8s.GetScanPods(ctx, scanId)
			if err != nil {
				return nil, err
			}
			for _, pod := range pods {
				resp.PodStatuses = append(resp.PodStatuses, map[string]any{
					"name":   pod.Name,
					"phase":  string(pod.Status.Phase),
					"reason": pod.Status.Reason,
				})
			}
		}
		return resp, nil
	})
}

// GetLogs returns per-container logs from the scan's newest pod.
func (h *Handler) GetLogs(c *gin.Context) {
	handle(c, func(c *gin.Context) (interface{}, error) {
		ctx := c.Request.Context()
		scanId := c.Param("id")
		pods, err := h.k8s.GetScanPods(ctx, scanId)
		if err != nil {
			return nil, err
		}
		if len(pods) == 0 {
			return nil, skyerrors.NewNotFoundWithMessage(fmt.Sprintf("no pods found for scan %s", scanId))
		}
		pod := pods[len(pods)-1]
		logs := map[string]string{}
		containers := append(pod.Spec.InitContainers, pod.Spec.Containers...)
		for _, container := range containers {
			text, err := h.k8s.GetPodContainerLogs(ctx, scanId, container.Name)
			if err != nil {
				text = "<unavailable: " + err.Error() + ">"
			}
			logs[container.Name] = text
		}
		return types.LogsResponse{PodContainerLogs: logs}, nil
	})
}

// Rescan creates a replacement scan from the original request.
func (h *Handler) Rescan(c *gin.Context) {
	handle(c, func(c *gin.Context) (interface{}, error) {
		ctx := c.Request.Context()
		oldId := c.Param("id")
		var payload types.RescanPayload
		if err := c.ShouldBindJSON(&payload); err != nil {
			return nil, skyerrors.NewBadRequest(err.Error())
		}
		oldRequest, err := h.store.GetScanRequest(ctx, oldId)
		if err != nil {
			return nil, err
		}
		oldManifest, err := h.store.GetManifest(ctx, oldId, true)
		if err != nil {
			return nil, err
		}
		event, err := h.store.GetI3Event(ctx, oldRequest.I3EventID)
		if err != nil {
			return nil, err
		}

		newRequest := *oldRequest
		newRequest.RescanIDs = nil
		if payload.DockerTag != "" {
			tag, err := h.images.Resolve(payload.DockerTag)
			if err != nil {
				return nil, err
			}
			newRequest.DockerTag = tag
		}
		if payload.Priority != nil {
			newRequest.Priority = *payload.Priority
		}

		newId := scanid.New()
		manifest, err := h.admit(ctx, newId, &newRequest, event.JSONDict)
		if err != nil {
			return nil, err
		}
		if err = h.store.AddRescanID(ctx, oldId, newId); err != nil {
			return nil, err
		}
		if payload.AbortFirst {
			h.stopScannerInstance(ctx, oldManifest)
		}
		if payload.ReplaceScan {
			if err = h.store.SetReplacedBy(ctx, oldId, newId); err != nil {
				return nil, err
			}
		}
		projected, err := projectManifest(manifest, nil, nil)
		if err != nil {
			return nil, err
		}
		return gin.H{"manifest": projected}, nil
	})
}

// AddWorkers scales the workforce up at one cluster.
func (h *Handler) AddWorkers(c *gin.Context) {
	handle(c, func(c *gin.Context) (interface{}, error) {
		ctx := c.Request.Context()
		scanId := c.Param("id")
		var payload types.AddWorkersPayload
		if err := c.ShouldBindJSON(&payload); err != nil {
			return nil, skyerrors.NewBadRequest(err.Error())
		}
		if payload.NWorkers <= 0 {
			return nil, skyerrors.NewBadRequest("n_workers must be positive")
		}
		cl, err := clusters.Get(payload.Cluster)
		if err != nil {
			return nil, err
		}
		manifest, err := h.store.GetManifest(ctx, scanId, false)
		if err != nil {
			return nil, err
		}
		if !manifest.HasEwmsWorkflow() {
			return nil, skyerrors.NewBadRequest("scan has no ewms workflow yet; wait for launch")
		}
		if err = h.ewms.AddWorkers(ctx, manifest.EwmsWorkflowID, &ewms.WorkerSpec{
			ClusterLocation: cl.Location(),
			NWorkers:        payload.NWorkers,
		}); err != nil {
			return nil, err
		}
		manifest, err = h.store.UpdateManifest(ctx, scanId, &client.ManifestPatch{
			AddCluster: &client.ClusterRecord{
				OrchestratorLocation: cl.Location(),
				Name:                 cl.Name,
				NWorkers:             payload.NWorkers,
			},
		})
		if err != nil {
			return nil, err
		}
		projected, err := projectManifest(manifest, nil, nil)
		if err != nil {
			return nil, err
		}
		return gin.H{"manifest": projected}, nil
	})
}

// loadProjectedManifest reads the manifest named in the path and projects
// it per query parameters.
func (h *Handler) loadProjectedManifest(c *gin.Context) (map[string]any, error) {
	ctx := c.Request.Context()
	scanId := c.Param("id")
	projection := config.SplitCSV(c.Query("manifest_projection"))
	manifest, err := h.store.GetManifest(ctx, scanId, includeDeleted(c))
	if err != nil {
		return nil, err
	}
	var eventDict map[string]any
	if projectionWantsEventPayload(projection) {
		event, err := h.store.GetI3Event(ctx, manifest.I3EventID)
		if err == nil {
			eventDict = event.JSONDict
		}
	}
	return projectManifest(manifest, projection, eventDict)
}

func includeDeleted(c *gin.Context) bool {
	return c.Query("include_deleted") == "true"
}

// asInternal upgrades a duplicate-key error to a 500: duplicates on a
// freshly allocated scan id indicate a bug, not a user error.
func asInternal(err error) error {
	if err == nil {
		return nil
	}
	if skyerrors.IsAlreadyExist(err) {
		return skyerrors.NewInternalError(err.Error())
	}
	return err
}

func eventDictForProjection(projection []string, eventDict map[string]any) map[string]any {
	if projectionWantsEventPayload(projection) {
		return eventDict
	}
	return nil
}
