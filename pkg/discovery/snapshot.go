// SPDX-FileCopyrightText: 2026 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package discovery

import (
	"slices"
	"strings"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime/schema"
)

// Scope tells whether objects of a resource type live in a namespace.
type Scope string

const (
	// ScopeNamespaced marks resource types whose objects live in a namespace.
	ScopeNamespaced Scope = "Namespaced"
	// ScopeCluster marks cluster-wide resource types.
	ScopeCluster Scope = "Cluster"
)

// APIResource is the API shape of one resource type as reported by discovery.
type APIResource struct {
	GVR   schema.GroupVersionResource
	Kind  string
	Scope Scope
	Verbs []string
}

// Namespaced reports whether objects of this type live in a namespace.
func (r APIResource) Namespaced() bool {
	return r.Scope == ScopeNamespaced
}

// Snapshot is the result of a single discovery run. It is never updated in
// place; a new run produces a new Snapshot.
type Snapshot struct {
	resources map[schema.GroupVersionKind]APIResource
}

// NewSnapshot indexes discovered resource lists by GroupVersionKind.
// Subresources are skipped. When two resources report the same kind the first
// one that supports "get" wins.
func NewSnapshot(lists []*metav1.APIResourceList) *Snapshot {
	s := &Snapshot{resources: make(map[schema.GroupVersionKind]APIResource)}
	for _, list := range lists {
		if list == nil {
			continue
		}
		gv, err := schema.ParseGroupVersion(list.GroupVersion)
		if err != nil {
			continue
		}
		for _, res := range list.APIResources {
			if strings.Contains(res.Name, "/") || res.Kind == "" {
				continue
			}

			// Resource lists may override group and version per resource.
			group, version := gv.Group, gv.Version
			if res.Group != "" {
				group = res.Group
			}
			if res.Version != "" {
				version = res.Version
			}

			gvk := schema.GroupVersionKind{Group: group, Version: version, Kind: res.Kind}
			if existing, ok := s.resources[gvk]; ok && slices.Contains(existing.Verbs, "get") {
				continue
			}

			scope := ScopeCluster
			if res.Namespaced {
				scope = ScopeNamespaced
			}
			s.resources[gvk] = APIResource{
				GVR:   schema.GroupVersionResource{Group: group, Version: version, Resource: res.Name},
				Kind:  res.Kind,
				Scope: scope,
				Verbs: slices.Clone(res.Verbs),
			}
		}
	}
	return s
}

// Lookup returns the API shape registered for gvk.
func (s *Snapshot) Lookup(gvk schema.GroupVersionKind) (APIResource, bool) {
	if s == nil {
		return APIResource{}, false
	}
	res, ok := s.resources[gvk]
	return res, ok
}

// Len returns the number of resource types in the snapshot.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.resources)
}

// Equal compares two snapshots, ignoring verb order.
func (s *Snapshot) Equal(other *Snapshot) bool {
	if s == nil || other == nil {
		return s == other
	}
	return cmp.Equal(s.resources, other.resources,
		cmpopts.SortSlices(func(a, b string) bool { return a < b }),
		cmpopts.EquateEmpty(),
	)
}
