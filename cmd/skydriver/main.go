/*
 * Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"
	"k8s.io/klog/v2"
	ctrlruntime "sigs.k8s.io/controller-runtime"

	"github.com/AMD-AIG-AIMA/skydriver/pkg/config"
	dbclient "github.com/AMD-AIG-AIMA/skydriver/pkg/database/client"
	"github.com/AMD-AIG-AIMA/skydriver/pkg/ewms"
	"github.com/AMD-AIG-AIMA/skydriver/pkg/k8s"
	"github.com/AMD-AIG-AIMA/skydriver/pkg/server"
)

func main() {
	// "stopper" is the one-shot teardown mode the stopper kubernetes job
	// runs; everything else starts the full server.
	if len(os.Args) > 1 && os.Args[1] == "stopper" {
		if err := runStopper(os.Args[2:]); err != nil {
			klog.ErrorS(err, "stopper failed")
			klog.Flush()
			os.Exit(1)
		}
		klog.Flush()
		return
	}

	s, err := server.NewServer()
	if err != nil {
		fmt.Println("failed to new server")
		return
	}
	s.Start()
}

// runStopper tears one scan down: delete the scanner job, signal EWMS, and
// mark the scan complete. It runs as its own kubernetes job so the cleanup
// survives a restart of the REST process.
func runStopper(args []string) error {
	fs := pflag.NewFlagSet("stopper", pflag.ContinueOnError)
	scanId := fs.String("scan-id", "", "scan to tear down")
	workflowId := fs.String("workflow-id", "", "ewms workflow of the scan")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *scanId == "" {
		return fmt.Errorf("--scan-id is required")
	}
	if err := config.Init(""); err != nil {
		return err
	}
	ctx := ctrlruntime.SetupSignalHandler()

	clientset, _, err := k8s.NewClientSet()
	if err != nil {
		return err
	}
	wrapper := k8s.NewWrapper(clientset, config.GetK8sNamespace())
	if err = wrapper.DeleteJob(ctx, k8s.InstanceName(*scanId)); err != nil {
		klog.ErrorS(err, "failed to delete scanner job", "scan", *scanId)
	}
	ewms.NewClient(ctx).Finished(ctx, *workflowId)

	store := dbclient.NewClient(ctx)
	if store == nil {
		return fmt.Errorf("failed to init mongo client")
	}
	defer store.Close(ctx)
	if err = store.SetComplete(ctx, *scanId); err != nil {
		return err
	}
	klog.Infof("scan %s torn down (workflow=%s)", *scanId, *workflowId)
	return nil
}
