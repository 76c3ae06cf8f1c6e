/*
 * Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package handlers

import (
	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/AMD-AIG-AIMA/skydriver/pkg/database/client"
	skyerrors "github.com/AMD-AIG-AIMA/skydriver/pkg/errors"
	"github.com/AMD-AIG-AIMA/skydriver/pkg/handlers/types"
)

// FindScans queries manifests with a Mongo-style filter.
func (h *Handler) FindScans(c *gin.Context) {
	handle(c, func(c *gin.Context) (interface{}, error) {
		var payload types.FindPayload
		if err := c.ShouldBindJSON(&payload); err != nil {
			return nil, skyerrors.NewBadRequest(err.Error())
		}
		if len(payload.Filter) == 0 {
			return nil, skyerrors.NewBadRequest("filter must not be empty")
		}
		filter := bson.M{}
		for key, value := range payload.Filter {
			filter[key] = value
		}
		manifests, err := h.store.FindScans(c.Request.Context(), filter, payload.IncludeDeleted)
		if err != nil {
			return nil, err
		}
		resp := types.FindResponse{Manifests: []map[string]any{}}
		for _, m := range manifests {
			projected, err := projectManifest(m, payload.ManifestProjection, nil)
			if err != nil {
				return nil, err
			}
			resp.Manifests = append(resp.Manifests, projected)
		}
		return resp, nil
	})
}

// GetBacklog lists the queued backlog entries, newest claims and all.
func (h *Handler) GetBacklog(c *gin.Context) {
	handle(c, func(c *gin.Context) (interface{}, error) {
		entries, err := h.store.ListBacklog(c.Request.Context())
		if err != nil {
			return nil, err
		}
		if entries == nil {
			entries = []*client.BacklogEntry{}
		}
		return types.BacklogResponse{Entries: entries}, nil
	})
}
