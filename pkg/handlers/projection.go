/*
 * Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package handlers

import (
	"encoding/json"

	"github.com/AMD-AIG-AIMA/skydriver/pkg/database/client"
	skyerrors "github.com/AMD-AIG-AIMA/skydriver/pkg/errors"
)

// eventPayloadField is the one manifest field excluded from responses
// unless explicitly projected: the raw event payload is large and lives in
// its own collection.
const eventPayloadField = "event_i3live_json_dict"

const projectAll = "*"

// projectManifest renders a manifest for a response. An empty projection
// returns every field except the default-excluded ones; "*" returns
// everything. eventDict is spliced in only when the projection asks for the
// payload field (or is "*") and the caller supplied it.
func projectManifest(m *client.Manifest, projection []string, eventDict map[string]any) (map[string]any, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, skyerrors.NewInternalError(err.Error())
	}
	full := map[string]any{}
	if err = json.Unmarshal(raw, &full); err != nil {
		return nil, skyerrors.NewInternalError(err.Error())
	}
	if eventDict != nil {
		full[eventPayloadField] = eventDict
	}

	if wantsAll(projection) {
		return full, nil
	}
	if len(projection) == 0 {
		delete(full, eventPayloadField)
		return full, nil
	}
	out := map[string]any{}
	for _, field := range projection {
		if value, ok := full[field]; ok {
			out[field] = value
		}
	}
	return out, nil
}

// projectionWantsEventPayload reports whether the caller asked for the raw
// event payload, which requires a second collection read.
func projectionWantsEventPayload(projection []string) bool {
	if wantsAll(projection) {
		return true
	}
	for _, field := range projection {
		if field == eventPayloadField {
			return true
		}
	}
	return false
}

func wantsAll(projection []string) bool {
	for _, field := range projection {
		if field == projectAll {
			return true
		}
	}
	return false
}
