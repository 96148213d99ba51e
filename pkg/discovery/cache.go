// SPDX-FileCopyrightText: 2026 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package discovery

import (
	"context"
	"errors"
	"fmt"

	"k8s.io/apimachinery/pkg/runtime/schema"
	"sigs.k8s.io/controller-runtime/pkg/log"
)

// ErrUnresolvableGVK is returned when a GroupVersionKind is still unknown after
// discovery already ran in the current epoch.
var ErrUnresolvableGVK = errors.New("group version kind not resolvable")

// Cache resolves GroupVersionKinds to their API shape. Discovery runs lazily,
// on the first miss, and at most once until the cache is invalidated.
//
// Cache is not safe for concurrent use.
type Cache struct {
	discoverer Discoverer

	snapshot *Snapshot
	// previous is the snapshot of the last epoch, kept only to report API changes.
	previous *Snapshot
	needed   bool
}

// NewCache returns a Cache that has not discovered anything yet.
func NewCache(discoverer Discoverer) *Cache {
	return &Cache{
		discoverer: discoverer,
		needed:     true,
	}
}

// ResolveGVK returns the API shape for gvk. A snapshot hit does no I/O. A miss
// triggers one discovery run if none happened in this epoch; a miss after that
// fails with ErrUnresolvableGVK.
func (c *Cache) ResolveGVK(ctx context.Context, gvk schema.GroupVersionKind) (APIResource, error) {
	if res, ok := c.snapshot.Lookup(gvk); ok {
		return res, nil
	}

	if err := c.discover(ctx); err != nil {
		return APIResource{}, err
	}

	if res, ok := c.snapshot.Lookup(gvk); ok {
		return res, nil
	}
	return APIResource{}, fmt.Errorf("%w: %s", ErrUnresolvableGVK, gvk.String())
}

// Invalidate discards the current snapshot and re-arms discovery for the next
// miss.
func (c *Cache) Invalidate(ctx context.Context) {
	log.FromContext(ctx).V(2).Info("invalidating API discovery cache", "resourceTypes", c.snapshot.Len())
	if c.snapshot != nil {
		c.previous = c.snapshot
	}
	c.snapshot = nil
	c.needed = true
}

// Discovered reports whether discovery already ran in the current epoch.
func (c *Cache) Discovered() bool {
	return !c.needed
}

func (c *Cache) discover(ctx context.Context) error {
	logger := log.FromContext(ctx)

	if !c.needed {
		logger.Info("discovery requested although it already ran in this cycle, ignoring",
			"warning", "redundant discovery")
		return nil
	}

	snapshot, err := c.discoverer.Discover(ctx)
	if err != nil {
		return fmt.Errorf("running API discovery: %w", err)
	}

	if c.previous != nil && !c.previous.Equal(snapshot) {
		logger.V(1).Info("API surface changed since the previous discovery",
			"previousResourceTypes", c.previous.Len(),
			"resourceTypes", snapshot.Len())
	}

	c.snapshot = snapshot
	c.previous = nil
	c.needed = false
	return nil
}
