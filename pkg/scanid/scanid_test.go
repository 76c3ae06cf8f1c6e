/*
 * Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package scanid

import (
	"sort"
	"testing"
	"time"

	"gotest.tools/assert"
)

func TestNewIsSortable(t *testing.T) {
	var ids []string
	for i := 0; i < 5; i++ {
		ids = append(ids, New())
		time.Sleep(2 * time.Millisecond)
	}
	assert.Equal(t, sort.StringsAreSorted(ids), true)
}

func TestNewIsUnique(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 1000; i++ {
		id := New()
		assert.Equal(t, seen[id], false)
		seen[id] = true
	}
}

func TestTimestampRoundTrip(t *testing.T) {
	before := time.Now().Add(-time.Second)
	id := New()
	after := time.Now().Add(time.Second)

	ts, ok := Timestamp(id)
	assert.Equal(t, ok, true)
	assert.Equal(t, ts.After(before), true)
	assert.Equal(t, ts.Before(after), true)

	_, ok = Timestamp("garbage")
	assert.Equal(t, ok, false)
}
