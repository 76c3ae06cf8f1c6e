/*
 * Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

// Package fake is an in-memory drop-in for the document store, used by
// handler and runner tests. It mirrors the conditional-update semantics of
// the mongo-backed client: monotone fields stay monotone and backlog claims
// are race-free under the package mutex.
package fake

import (
	"context"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/AMD-AIG-AIMA/skydriver/pkg/database/client"
	skyerrors "github.com/AMD-AIG-AIMA/skydriver/pkg/errors"
)

type Store struct {
	mu           sync.Mutex
	manifests    map[string]*client.Manifest
	results      map[string]*client.Result
	backlog      map[string]*client.BacklogEntry
	scanRequests map[string]*client.ScanRequest
	i3Events     map[string]*client.I3Event
	k8sJobs      map[string]*client.K8sJobDoc
}

var _ client.Interface = &Store{}

func NewStore() *Store {
	return &Store{
		manifests:    map[string]*client.Manifest{},
		results:      map[string]*client.Result{},
		backlog:      map[string]*client.BacklogEntry{},
		scanRequests: map[string]*client.ScanRequest{},
		i3Events:     map[string]*client.I3Event{},
		k8sJobs:      map[string]*client.K8sJobDoc{},
	}
}

func (s *Store) InsertManifest(_ context.Context, m *client.Manifest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.manifests[m.ScanID]; ok {
		return skyerrors.NewAlreadyExist("scan " + m.ScanID + " already exists")
	}
	if m.LastUpdated.IsZero() {
		m.LastUpdated = m.Timestamp
	}
	cp := *m
	s.manifests[m.ScanID] = &cp
	return nil
}

func (s *Store) GetManifest(_ context.Context, scanId string, includeDeleted bool) (*client.Manifest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getManifestLocked(scanId, includeDeleted)
}

func (s *Store) getManifestLocked(scanId string, includeDeleted bool) (*client.Manifest, error) {
	m, ok := s.manifests[scanId]
	if !ok || (m.IsDeleted && !includeDeleted) {
		return nil, skyerrors.NewScanNotFound(scanId)
	}
	cp := *m
	return &cp, nil
}

func (s *Store) SetEwmsWorkflowID(_ context.Context, scanId, workflowId string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.manifests[scanId]
	if !ok {
		return skyerrors.NewScanNotFound(scanId)
	}
	if m.EwmsWorkflowID == workflowId {
		return nil
	}
	if m.EwmsWorkflowID != "" && m.EwmsWorkflowID != client.PendingEwmsWorkflow {
		return skyerrors.NewConflict("scan " + scanId + " already has an ewms workflow id")
	}
	m.EwmsWorkflowID = workflowId
	m.LastUpdated = time.Now().UTC()
	return nil
}

func (s *Store) MarkScanStarted(_ context.Context, scanId string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.manifests[scanId]
	if !ok {
		return skyerrors.NewScanNotFound(scanId)
	}
	if m.StartedTimestamp == nil {
		ts := at.UTC()
		m.StartedTimestamp = &ts
		m.LastUpdated = time.Now().UTC()
	}
	return nil
}

func (s *Store) UpdateManifest(_ context.Context, scanId string, patch *client.ManifestPatch) (*client.Manifest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.manifests[scanId]
	if !ok || m.IsDeleted {
		return nil, skyerrors.NewScanNotFound(scanId)
	}
	if patch.EventMetadata != nil && len(m.EventMetadata) > 0 &&
		!reflect.DeepEqual(m.EventMetadata, patch.EventMetadata) {
		return nil, skyerrors.NewMetadataImmutable("event_metadata")
	}
	if patch.ScanMetadata != nil && len(m.ScanMetadata) > 0 &&
		!reflect.DeepEqual(m.ScanMetadata, patch.ScanMetadata) {
		return nil, skyerrors.NewMetadataImmutable("scan_metadata")
	}
	changed := false
	if patch.Progress != nil {
		m.Progress = patch.Progress
		changed = true
	}
	if patch.EventMetadata != nil && len(m.EventMetadata) == 0 {
		m.EventMetadata = patch.EventMetadata
		changed = true
	}
	if patch.ScanMetadata != nil && len(m.ScanMetadata) == 0 {
		m.ScanMetadata = patch.ScanMetadata
		changed = true
	}
	if patch.AddCluster != nil {
		m.Clusters = append(m.Clusters, *patch.AddCluster)
		changed = true
	}
	if changed {
		m.LastUpdated = time.Now().UTC()
	}
	cp := *m
	return &cp, nil
}

func (s *Store) SetComplete(_ context.Context, scanId string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.manifests[scanId]
	if !ok {
		return skyerrors.NewScanNotFound(scanId)
	}
	m.Complete = true
	m.LastUpdated = time.Now().UTC()
	return nil
}

func (s *Store) SetReplacedBy(_ context.Context, scanId, replacementId string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.manifests[scanId]
	if !ok {
		return skyerrors.NewScanNotFound(scanId)
	}
	m.ReplacedByScanID = replacementId
	m.LastUpdated = time.Now().UTC()
	return nil
}

func (s *Store) MarkDeleted(_ context.Context, scanId string) (*client.Manifest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.manifests[scanId]
	if !ok || m.IsDeleted {
		return nil, skyerrors.NewScanNotFound(scanId)
	}
	m.IsDeleted = true
	m.LastUpdated = time.Now().UTC()
	cp := *m
	return &cp, nil
}

func (s *Store) FindScans(_ context.Context, filter bson.M, includeDeleted bool) ([]*client.Manifest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*client.Manifest
	for _, m := range s.manifests {
		if m.IsDeleted && !includeDeleted {
			continue
		}
		if matchManifest(m, filter) {
			cp := *m
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScanID > out[j].ScanID })
	return out, nil
}

func (s *Store) FindScansStartedBetween(_ context.Context, after, before time.Time) ([]*client.Manifest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*client.Manifest
	for _, m := range s.manifests {
		if m.IsDeleted || m.StartedTimestamp == nil {
			continue
		}
		if m.StartedTimestamp.Before(after) || m.StartedTimestamp.After(before) {
			continue
		}
		cp := *m
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScanID > out[j].ScanID })
	return out, nil
}

func (s *Store) UpsertResult(_ context.Context, r *client.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.results[r.ScanID]; ok && existing.IsFinal && !r.IsFinal {
		return nil
	}
	cp := *r
	s.results[r.ScanID] = &cp
	return nil
}

func (s *Store) GetResult(_ context.Context, scanId string) (*client.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.results[scanId]
	if !ok {
		return nil, skyerrors.NewResultNotFound(scanId)
	}
	cp := *r
	return &cp, nil
}

func (s *Store) EnqueueBacklog(_ context.Context, e *client.BacklogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.backlog[e.ScanID]; ok {
		return skyerrors.NewAlreadyExist("scan " + e.ScanID + " is already backlogged")
	}
	cp := *e
	s.backlog[e.ScanID] = &cp
	return nil
}

func (s *Store) ClaimNextBacklog(_ context.Context, now, staleBefore time.Time, includeLowPriority bool) (*client.BacklogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var candidates []*client.BacklogEntry
	for _, e := range s.backlog {
		if !e.PendingTimestamp.Before(staleBefore) {
			continue
		}
		if !includeLowPriority && e.Priority < client.HighPriorityThreshold {
			continue
		}
		candidates = append(candidates, e)
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Priority != candidates[j].Priority {
			return candidates[i].Priority > candidates[j].Priority
		}
		return candidates[i].Timestamp.Before(candidates[j].Timestamp)
	})
	winner := candidates[0]
	winner.PendingTimestamp = now.UTC()
	winner.NextAttempt++
	cp := *winner
	return &cp, nil
}

func (s *Store) RemoveBacklog(_ context.Context, scanId string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.backlog[scanId]; !ok {
		return skyerrors.NewBacklogEntryNotFound(scanId)
	}
	delete(s.backlog, scanId)
	return nil
}

func (s *Store) ListBacklog(_ context.Context) ([]*client.BacklogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*client.BacklogEntry
	for _, e := range s.backlog {
		cp := *e
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out, nil
}

func (s *Store) InsertScanRequest(_ context.Context, r *client.ScanRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.scanRequests[r.ScanID]; ok {
		return skyerrors.NewAlreadyExist("scan request " + r.ScanID + " already exists")
	}
	cp := *r
	s.scanRequests[r.ScanID] = &cp
	return nil
}

func (s *Store) GetScanRequest(_ context.Context, scanId string) (*client.ScanRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.scanRequests[scanId]
	if !ok {
		return nil, skyerrors.NewScanNotFound(scanId)
	}
	cp := *r
	return &cp, nil
}

func (s *Store) AddRescanID(_ context.Context, scanId, rescanId string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.scanRequests[scanId]
	if !ok {
		return skyerrors.NewScanNotFound(scanId)
	}
	for _, existing := range r.RescanIDs {
		if existing == rescanId {
			return nil
		}
	}
	r.RescanIDs = append(r.RescanIDs, rescanId)
	return nil
}

func (s *Store) UpsertI3Event(_ context.Context, e *client.I3Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *e
	s.i3Events[e.I3EventID] = &cp
	return nil
}

func (s *Store) GetI3Event(_ context.Context, i3EventId string) (*client.I3Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.i3Events[i3EventId]
	if !ok {
		return nil, skyerrors.NewNotFoundWithMessage("i3 event " + i3EventId + " not found.")
	}
	cp := *e
	return &cp, nil
}

func (s *Store) InsertK8sJob(_ context.Context, doc *client.K8sJobDoc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *doc
	s.k8sJobs[doc.ScanID] = &cp
	return nil
}

func (s *Store) GetK8sJob(_ context.Context, scanId string) (*client.K8sJobDoc, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.k8sJobs[scanId]
	if !ok {
		return nil, skyerrors.NewScanNotFound(scanId)
	}
	cp := *doc
	return &cp, nil
}

// matchManifest evaluates the small filter dialect the handlers actually
// use: top-level (and dotted) equality, $in, $ne, $exists, and range
// operators on times. It works on the bson rendering of the manifest so
// filters written for mongo behave the same here.
func matchManifest(m *client.Manifest, filter bson.M) bool {
	if len(filter) == 0 {
		return true
	}
	raw, err := bson.Marshal(m)
	if err != nil {
		return false
	}
	var doc bson.M
	if err = bson.Unmarshal(raw, &doc); err != nil {
		return false
	}
	for key, want := range filter {
		got, exists := lookupPath(doc, key)
		if !matchValue(got, exists, want) {
			return false
		}
	}
	return true
}

func lookupPath(doc bson.M, path string) (any, bool) {
	parts := strings.Split(path, ".")
	var cur any = doc
	for _, p := range parts {
		asMap, ok := cur.(bson.M)
		if !ok {
			if plain, ok2 := cur.(map[string]any); ok2 {
				asMap = bson.M(plain)
			} else {
				return nil, false
			}
		}
		cur, ok = asMap[p]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func matchValue(got any, exists bool, want any) bool {
	if ops, ok := want.(bson.M); ok {
		for op, arg := range ops {
			switch op {
			case "$in":
				if !inList(got, arg) {
					return false
				}
			case "$ne":
				if scalarEqual(got, arg) {
					return false
				}
			case "$exists":
				if arg == true && !exists {
					return false
				}
				if arg == false && exists {
					return false
				}
			case "$gte":
				if !exists || compareValues(got, arg) < 0 {
					return false
				}
			case "$lte":
				if !exists || compareValues(got, arg) > 0 {
					return false
				}
			case "$lt":
				if !exists || compareValues(got, arg) >= 0 {
					return false
				}
			case "$gt":
				if !exists || compareValues(got, arg) <= 0 {
					return false
				}
			default:
				return false
			}
		}
		return true
	}
	return exists && scalarEqual(got, want)
}

func inList(got, list any) bool {
	switch items := list.(type) {
	case bson.A:
		for _, item := range items {
			if scalarEqual(got, item) {
				return true
			}
		}
	case []string:
		for _, item := range items {
			if scalarEqual(got, item) {
				return true
			}
		}
	case []any:
		for _, item := range items {
			if scalarEqual(got, item) {
				return true
			}
		}
	}
	return false
}

func scalarEqual(a, b any) bool {
	return reflect.DeepEqual(normalize(a), normalize(b))
}

func compareValues(a, b any) int {
	at, aok := normalize(a).(time.Time)
	bt, bok := normalize(b).(time.Time)
	if aok && bok {
		switch {
		case at.Before(bt):
			return -1
		case at.After(bt):
			return 1
		default:
			return 0
		}
	}
	af, aok := normalize(a).(float64)
	bf, bok := normalize(b).(float64)
	if aok && bok {
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	}
	return strings.Compare(toString(a), toString(b))
}

func normalize(v any) any {
	switch t := v.(type) {
	case primitive.DateTime:
		return t.Time().UTC()
	case time.Time:
		return t.UTC()
	case int:
		return float64(t)
	case int32:
		return float64(t)
	case int64:
		return float64(t)
	case float32:
		return float64(t)
	default:
		return v
	}
}

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}
