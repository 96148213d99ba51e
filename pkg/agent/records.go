// SPDX-FileCopyrightText: 2026 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"cmp"
	"slices"

	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/telekom/kube-usage-agent/pkg/ownership"
)

// OwnerReference is the user-facing form of a top-level owner. Namespace is
// empty for cluster-scoped owners.
type OwnerReference struct {
	Kind      string `json:"kind"`
	Name      string `json:"name"`
	Namespace string `json:"namespace,omitempty"`
}

// PodOwnership holds the top-level owners of one pod observed in a polling
// cycle. Error is set when owner resolution failed; Owners is empty then.
type PodOwnership struct {
	Namespace string           `json:"namespace"`
	Name      string           `json:"name"`
	Owners    []OwnerReference `json:"owners,omitempty"`
	Error     error            `json:"-"`
}

// ownerReferencesFor renders resolved owners, sorted by kind, namespace and name.
func ownerReferencesFor(owners sets.Set[ownership.Identifier]) []OwnerReference {
	refs := make([]OwnerReference, 0, owners.Len())
	for owner := range owners {
		refs = append(refs, OwnerReference{
			Kind:      owner.GVK.Kind,
			Name:      owner.Name,
			Namespace: owner.Namespace,
		})
	}
	slices.SortFunc(refs, func(a, b OwnerReference) int {
		return cmp.Or(
			cmp.Compare(a.Kind, b.Kind),
			cmp.Compare(a.Namespace, b.Namespace),
			cmp.Compare(a.Name, b.Name),
		)
	})
	return refs
}

func comparePods(a, b PodOwnership) int {
	return cmp.Or(
		cmp.Compare(a.Namespace, b.Namespace),
		cmp.Compare(a.Name, b.Name),
	)
}
