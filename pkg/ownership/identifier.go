// SPDX-FileCopyrightText: 2026 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package ownership

import (
	"fmt"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
)

// Identifier names a single object in the cluster. An empty Namespace means
// the object is cluster-scoped or the namespace is not known.
//
// Identifiers are comparable and are used as map keys and set elements.
type Identifier struct {
	GVK       schema.GroupVersionKind
	Name      string
	Namespace string
}

// NewIdentifier returns the Identifier of the named object.
func NewIdentifier(gvk schema.GroupVersionKind, namespace, name string) Identifier {
	return Identifier{GVK: gvk, Name: name, Namespace: namespace}
}

// IdentifierForObject returns the Identifier of a live object. The object must
// carry its apiVersion and kind.
func IdentifierForObject(obj *unstructured.Unstructured) (Identifier, error) {
	gvk := obj.GroupVersionKind()
	if gvk.Kind == "" || gvk.Version == "" {
		return Identifier{}, fmt.Errorf("%w: %s/%s", ErrMissingGroupVersionKind, obj.GetNamespace(), obj.GetName())
	}
	return NewIdentifier(gvk, obj.GetNamespace(), obj.GetName()), nil
}

func (id Identifier) String() string {
	if id.Namespace == "" {
		return fmt.Sprintf("%s %s", id.GVK, id.Name)
	}
	return fmt.Sprintf("%s %s/%s", id.GVK, id.Namespace, id.Name)
}
