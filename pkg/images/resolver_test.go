/*
 * Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package images

import (
	"testing"

	"gotest.tools/assert"

	skyerrors "github.com/AMD-AIG-AIMA/skydriver/pkg/errors"
)

func newTestResolver(tags []string) (*Resolver, *int) {
	calls := 0
	r := NewResolverWithLister("icecube/skymap_scanner", func(string) ([]string, error) {
		calls++
		return tags, nil
	})
	return r, &calls
}

func TestResolveLatestPicksMaxSemver(t *testing.T) {
	r, _ := newTestResolver([]string{"3.1.0", "3.10.2", "3.9.9", "4.0.0-rc1", "latest", "dev"})
	got, err := r.Resolve("latest")
	assert.NilError(t, err)
	// prereleases and non-semver tags do not count
	assert.Equal(t, got, "3.10.2")
}

func TestResolveStripsVPrefix(t *testing.T) {
	r, _ := newTestResolver([]string{"3.1.0"})
	got, err := r.Resolve("v3.1.0")
	assert.NilError(t, err)
	assert.Equal(t, got, "3.1.0")
}

func TestResolveUnknownTagIsBadRequest(t *testing.T) {
	r, _ := newTestResolver([]string{"3.1.0"})
	_, err := r.Resolve("9.9.9")
	assert.Equal(t, skyerrors.IsBadRequest(err), true)
}

func TestResolveCachesTagList(t *testing.T) {
	r, calls := newTestResolver([]string{"3.1.0"})
	for i := 0; i < 5; i++ {
		_, err := r.Resolve("3.1.0")
		assert.NilError(t, err)
	}
	assert.Equal(t, *calls, 1)
}

func TestImage(t *testing.T) {
	r, _ := newTestResolver(nil)
	assert.Equal(t, r.Image("3.1.0"), "icecube/skymap_scanner:3.1.0")
}
