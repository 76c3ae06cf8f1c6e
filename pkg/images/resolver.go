/*
 * Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

// Package images resolves user-supplied docker tags against the scanner
// image repository. Resolution is backed by the registry's tag list with a
// short TTL cache so admission bursts do not hammer the registry.
package images

import (
	"fmt"
	"strings"
	"time"

	"github.com/blang/semver/v4"
	"github.com/google/go-containerregistry/pkg/name"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	gocache "github.com/patrickmn/go-cache"
	"k8s.io/klog/v2"

	skyerrors "github.com/AMD-AIG-AIMA/skydriver/pkg/errors"
)

const (
	tagCacheTTL  = 5 * time.Minute
	tagCacheKey  = "tags"
	latestAlias  = "latest"
)

// ListTagsFunc fetches the repository's tag list. Swapped in tests.
type ListTagsFunc func(repository string) ([]string, error)

// Resolver canonicalises docker tags for one image repository.
type Resolver struct {
	repository string
	listTags   ListTagsFunc
	cache      *gocache.Cache
}

// NewResolver builds a resolver over the given repository, e.g.
// "icecube/skymap_scanner".
func NewResolver(repository string) *Resolver {
	return &Resolver{
		repository: repository,
		listTags:   registryListTags,
		cache:      gocache.New(tagCacheTTL, 2*tagCacheTTL),
	}
}

// NewResolverWithLister is the test constructor.
func NewResolverWithLister(repository string, listTags ListTagsFunc) *Resolver {
	return &Resolver{
		repository: repository,
		listTags:   listTags,
		cache:      gocache.New(tagCacheTTL, 2*tagCacheTTL),
	}
}

// Resolve canonicalises a user-supplied tag:
//
//	"latest"  -> the highest semver tag published
//	"vX.Y.Z"  -> "X.Y.Z"
//	otherwise -> the tag itself, if published
//
// Unknown tags are a 400: the user asked for an image that does not exist.
func (r *Resolver) Resolve(tag string) (string, error) {
	tags, err := r.tags()
	if err != nil {
		return "", skyerrors.NewInternalError(
			fmt.Sprintf("failed to list tags for %s: %v", r.repository, err))
	}
	if tag == latestAlias {
		best, ok := maxSemver(tags)
		if !ok {
			return "", skyerrors.NewInternalError(
				fmt.Sprintf("repository %s has no semver tags", r.repository))
		}
		return best, nil
	}
	canonical := strings.TrimPrefix(tag, "v")
	for _, t := range tags {
		if t == canonical {
			return canonical, nil
		}
	}
	return "", skyerrors.NewBadRequest(
		fmt.Sprintf("docker tag %q not found in %s", tag, r.repository))
}

// Image renders the fully qualified image reference for a canonical tag.
func (r *Resolver) Image(canonicalTag string) string {
	return r.repository + ":" + canonicalTag
}

func (r *Resolver) tags() ([]string, error) {
	if cached, ok := r.cache.Get(tagCacheKey); ok {
		return cached.([]string), nil
	}
	tags, err := r.listTags(r.repository)
	if err != nil {
		return nil, err
	}
	r.cache.Set(tagCacheKey, tags, gocache.DefaultExpiration)
	klog.V(4).Infof("refreshed tag list for %s (%d tags)", r.repository, len(tags))
	return tags, nil
}

func maxSemver(tags []string) (string, bool) {
	var best semver.Version
	var bestTag string
	for _, tag := range tags {
		v, err := semver.Parse(strings.TrimPrefix(tag, "v"))
		if err != nil || len(v.Pre) > 0 {
			continue
		}
		if bestTag == "" || v.GT(best) {
			best = v
			bestTag = strings.TrimPrefix(tag, "v")
		}
	}
	return bestTag, bestTag != ""
}

func registryListTags(repository string) ([]string, error) {
	repo, err := name.NewRepository(repository)
	if err != nil {
		return nil, err
	}
	return remote.List(repo)
}
