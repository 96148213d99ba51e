// SPDX-FileCopyrightText: 2026 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package ownership

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/util/sets"
	"k8s.io/client-go/dynamic"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/telekom/kube-usage-agent/pkg/discovery"
	"github.com/telekom/kube-usage-agent/pkg/metrics"
	"github.com/telekom/kube-usage-agent/pkg/tracing"
)

// Resolver finds the top-level owners of cluster objects.
//
// Discovered API shapes and the direct owners of every visited object are
// cached until Reset. A Resolver is not safe for concurrent use.
type Resolver struct {
	client    dynamic.Interface
	discovery *discovery.Cache
	owners    *ownerCache

	limiter *rate.Limiter
	tracer  trace.Tracer
}

// NewResolver creates a Resolver reading objects through client and API
// shapes through discoverer. No discovery happens until the first lookup.
func NewResolver(client dynamic.Interface, discoverer discovery.Discoverer, opts ...Option) *Resolver {
	r := &Resolver{
		client:    client,
		discovery: discovery.NewCache(discoverer),
		owners:    newOwnerCache(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.tracer == nil {
		r.tracer = tracing.Tracer()
	}
	return r
}

// Reset ends the current epoch. It clears the owner cache and discards the
// discovery snapshot, so the next lookup discovers the API surface again.
func (r *Resolver) Reset(ctx context.Context) {
	log.FromContext(ctx).V(2).Info("resetting ownership resolver", "cachedOwners", r.owners.size())
	r.owners.clear()
	r.discovery.Invalidate(ctx)
}

// ResolveTopLevelOwners returns the objects at the top of the owner chains of
// id. An object without owners is its own top-level owner. On error the
// result is nil.
func (r *Resolver) ResolveTopLevelOwners(ctx context.Context, id Identifier) (sets.Set[Identifier], error) {
	return r.resolve(ctx, workItem{id: id})
}

// ResolveTopLevelOwnersOfObject is ResolveTopLevelOwners for an object the
// caller already holds. The object itself is not read again.
func (r *Resolver) ResolveTopLevelOwnersOfObject(ctx context.Context, obj *unstructured.Unstructured) (sets.Set[Identifier], error) {
	id, err := IdentifierForObject(obj)
	if err != nil {
		metrics.OwnerResolutionsTotal.WithLabelValues(metrics.ResultError, metrics.ErrorTypeInternal).Inc()
		return nil, err
	}
	return r.resolve(ctx, workItem{id: id, obj: obj})
}

// workItem is an entry of the traversal stack. obj is set when the object is
// already known and does not have to be fetched.
type workItem struct {
	id  Identifier
	obj *unstructured.Unstructured
}

func (r *Resolver) resolve(ctx context.Context, start workItem) (sets.Set[Identifier], error) {
	ctx, span := r.tracer.Start(ctx, "ownership.ResolveTopLevelOwners",
		trace.WithAttributes(
			tracing.AttrGroup.String(start.id.GVK.Group),
			tracing.AttrVersion.String(start.id.GVK.Version),
			tracing.AttrKind.String(start.id.GVK.Kind),
			tracing.AttrName.String(start.id.Name),
			tracing.AttrNamespace.String(start.id.Namespace),
		))
	defer span.End()

	start, err := r.normalizeStart(ctx, start)
	var result sets.Set[Identifier]
	if err == nil {
		result, err = r.traverse(ctx, start)
	}
	if err != nil {
		metrics.OwnerResolutionsTotal.WithLabelValues(metrics.ResultError, ErrorType(err)).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "owner resolution failed")
		return nil, err
	}

	metrics.OwnerResolutionsTotal.WithLabelValues(metrics.ResultSuccess, metrics.ErrorTypeNone).Inc()
	span.SetAttributes(tracing.AttrOwnerCount.Int(result.Len()))
	return result, nil
}

// normalizeStart drops the namespace of a start identifier whose type is
// cluster-scoped, so it matches the identifiers produced for owners. Live
// objects are taken as they are.
func (r *Resolver) normalizeStart(ctx context.Context, start workItem) (workItem, error) {
	if start.obj != nil || start.id.Namespace == "" {
		return start, nil
	}
	res, err := r.discovery.ResolveGVK(ctx, start.id.GVK)
	if err != nil {
		return start, err
	}
	if !res.Namespaced() {
		start.id.Namespace = ""
	}
	return start, nil
}

// traverse walks the owner graph depth-first with an explicit stack. Entries
// already visited in this call are skipped, which terminates cycles; a pure
// cycle therefore yields no top-level owner.
func (r *Resolver) traverse(ctx context.Context, start workItem) (sets.Set[Identifier], error) {
	logger := log.FromContext(ctx)

	stack := []workItem{start}
	seen := sets.New[Identifier]()
	result := sets.New[Identifier]()

	for len(stack) > 0 {
		item := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		id := item.id

		if seen.Has(id) {
			logger.Info("cycle guard triggered, skipping already visited resource",
				"warning", "ownership cycle", "resource", id.String(), "start", start.id.String())
			metrics.OwnershipCycleGuardTotal.Inc()
			continue
		}
		seen.Insert(id)

		owners, cached := r.owners.get(id)
		if !cached {
			obj := item.obj
			if obj == nil {
				var err error
				if obj, err = r.resolveObject(ctx, id); err != nil {
					return nil, err
				}
			}
			refs, err := r.resolveOwnerReferences(ctx, obj)
			if err != nil {
				return nil, err
			}
			owners = sets.New(refs...)
		}

		if owners.Len() == 0 {
			logger.V(2).Info("found top-level owner", "resource", id.String())
			result.Insert(id)
		} else {
			for owner := range owners {
				stack = append(stack, workItem{id: owner})
			}
		}

		if !cached {
			r.owners.put(id, owners)
		}
	}

	return result, nil
}

// resolveAPI returns a client for the type of gvk, scoped to namespace when
// the type is namespaced. The namespace is ignored for cluster-scoped types.
func (r *Resolver) resolveAPI(ctx context.Context, gvk schema.GroupVersionKind, namespace string) (dynamic.ResourceInterface, error) {
	res, err := r.discovery.ResolveGVK(ctx, gvk)
	if err != nil {
		return nil, err
	}
	if !res.Namespaced() {
		return r.client.Resource(res.GVR), nil
	}
	if namespace == "" {
		return nil, fmt.Errorf("%w: %s", ErrMissingNamespace, gvk.String())
	}
	return r.client.Resource(res.GVR).Namespace(namespace), nil
}

// resolveObject reads the live object named by id.
func (r *Resolver) resolveObject(ctx context.Context, id Identifier) (*unstructured.Unstructured, error) {
	api, err := r.resolveAPI(ctx, id.GVK, id.Namespace)
	if err != nil {
		return nil, err
	}

	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("waiting to fetch %s: %w", id, err)
		}
	}

	log.FromContext(ctx).V(2).Info("fetching resource", "resource", id.String())
	obj, err := api.Get(ctx, id.Name, metav1.GetOptions{})
	if err != nil {
		metrics.ObjectFetchesTotal.WithLabelValues(metrics.ResultError).Inc()
		return nil, fmt.Errorf("fetching %s: %w", id, err)
	}
	metrics.ObjectFetchesTotal.WithLabelValues(metrics.ResultSuccess).Inc()
	return obj, nil
}

// resolveOwnerReferences converts the ownerReferences of obj to Identifiers.
// Owners of a namespaced type inherit the namespace of obj; owners of a
// cluster-scoped type get none.
func (r *Resolver) resolveOwnerReferences(ctx context.Context, obj *unstructured.Unstructured) ([]Identifier, error) {
	refs := obj.GetOwnerReferences()
	if len(refs) == 0 {
		return nil, nil
	}

	owners := make([]Identifier, 0, len(refs))
	for _, ref := range refs {
		gv, err := schema.ParseGroupVersion(ref.APIVersion)
		if err != nil {
			return nil, fmt.Errorf("parsing owner reference %s/%s of %s/%s: %w",
				ref.Kind, ref.Name, obj.GetNamespace(), obj.GetName(), err)
		}
		gvk := gv.WithKind(ref.Kind)

		res, err := r.discovery.ResolveGVK(ctx, gvk)
		if err != nil {
			return nil, err
		}

		namespace := ""
		if res.Namespaced() {
			namespace = obj.GetNamespace()
		}
		owners = append(owners, NewIdentifier(gvk, namespace, ref.Name))
	}
	return owners, nil
}
