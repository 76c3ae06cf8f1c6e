/*
 * Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// RedirectIfReplaced is a middleware for the GET /scan/:id/... routes. When
// the scan has been replaced by a rescan, reads are redirected to the
// replacement id (the rest of the path and the query string are preserved).
// Clients that want the original scan's data pass no_redirect=true.
//
// Only GETs redirect: writes against a replaced scan must land on the id
// the caller named.
func (h *Handler) RedirectIfReplaced(c *gin.Context) {
	if c.Request.Method != http.MethodGet || c.Query("no_redirect") == "true" {
		c.Next()
		return
	}
	scanId := c.Param("id")
	manifest, err := h.store.GetManifest(c.Request.Context(), scanId, true)
	if err != nil || manifest.ReplacedByScanID == "" {
		// missing scans fall through to the handler's 404
		c.Next()
		return
	}
	location := strings.Replace(c.Request.URL.Path, scanId, manifest.ReplacedByScanID, 1)
	if raw := c.Request.URL.RawQuery; raw != "" {
		location += "?" + raw
	}
	c.Redirect(http.StatusFound, location)
	c.Abort()
}
