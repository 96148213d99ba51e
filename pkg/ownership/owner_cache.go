// SPDX-FileCopyrightText: 2026 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package ownership

import (
	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/telekom/kube-usage-agent/pkg/metrics"
)

// ownerCache maps an object to its direct owners. An entry is written once per
// epoch and stays authoritative until the cache is cleared.
type ownerCache struct {
	entries map[Identifier]sets.Set[Identifier]
}

func newOwnerCache() *ownerCache {
	return &ownerCache{entries: make(map[Identifier]sets.Set[Identifier])}
}

func (c *ownerCache) get(id Identifier) (sets.Set[Identifier], bool) {
	owners, ok := c.entries[id]
	if ok {
		metrics.OwnerCacheLookupsTotal.WithLabelValues(metrics.ResultHit).Inc()
	} else {
		metrics.OwnerCacheLookupsTotal.WithLabelValues(metrics.ResultMiss).Inc()
	}
	return owners, ok
}

func (c *ownerCache) put(id Identifier, owners sets.Set[Identifier]) {
	if owners == nil {
		owners = sets.New[Identifier]()
	}
	c.entries[id] = owners
	metrics.OwnerCacheEntries.Set(float64(len(c.entries)))
}

func (c *ownerCache) clear() {
	clear(c.entries)
	metrics.OwnerCacheEntries.Set(0)
}

func (c *ownerCache) size() int {
	return len(c.entries)
}
