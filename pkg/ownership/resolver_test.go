// SPDX-FileCopyrightText: 2026 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package ownership

import (
	"context"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"golang.org/x/time/rate"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/telekom/kube-usage-agent/pkg/discovery"
	"github.com/telekom/kube-usage-agent/pkg/metrics"
)

var _ = Describe("Resolver", func() {
	var (
		ctx        context.Context
		discoverer *countingDiscoverer
	)

	BeforeEach(func() {
		ctx = context.Background()
		discoverer = &countingDiscoverer{lists: apiResourceLists()}
	})

	id := func(gvk schema.GroupVersionKind, namespace, name string) Identifier {
		return NewIdentifier(gvk, namespace, name)
	}

	Context("when a resource has no owners", func() {
		It("should return the resource itself", func() {
			client := newFakeDynamicClient(newObject(podGVK, "default", "standalone"))
			resolver := NewResolver(client, discoverer)

			owners, err := resolver.ResolveTopLevelOwners(ctx, id(podGVK, "default", "standalone"))
			Expect(err).NotTo(HaveOccurred())
			Expect(owners).To(Equal(sets.New(id(podGVK, "default", "standalone"))))
		})
	})

	Context("when resolving a linear chain", func() {
		It("should return the root of the chain", func() {
			client := newFakeDynamicClient(
				newObject(podGVK, "default", "p1", ownerRef(replicaSetGVK, "rs1")),
				newObject(replicaSetGVK, "default", "rs1", ownerRef(deploymentGVK, "d1")),
				newObject(deploymentGVK, "default", "d1"),
			)
			resolver := NewResolver(client, discoverer)

			owners, err := resolver.ResolveTopLevelOwners(ctx, id(podGVK, "default", "p1"))
			Expect(err).NotTo(HaveOccurred())
			Expect(owners).To(Equal(sets.New(id(deploymentGVK, "default", "d1"))))
			Expect(discoverer.calls).To(Equal(1))
		})
	})

	Context("when a resource has several independent owners", func() {
		It("should return every top-level owner", func() {
			client := newFakeDynamicClient(
				newObject(podGVK, "default", "x", ownerRef(replicaSetGVK, "y"), ownerRef(deploymentGVK, "z")),
				newObject(replicaSetGVK, "default", "y"),
				newObject(deploymentGVK, "default", "z"),
			)
			resolver := NewResolver(client, discoverer)

			owners, err := resolver.ResolveTopLevelOwners(ctx, id(podGVK, "default", "x"))
			Expect(err).NotTo(HaveOccurred())
			Expect(owners).To(Equal(sets.New(
				id(replicaSetGVK, "default", "y"),
				id(deploymentGVK, "default", "z"),
			)))
		})

		It("should visit a shared ancestor only once", func() {
			client := newFakeDynamicClient(
				newObject(podGVK, "default", "x", ownerRef(replicaSetGVK, "a"), ownerRef(replicaSetGVK, "b")),
				newObject(replicaSetGVK, "default", "a", ownerRef(deploymentGVK, "root")),
				newObject(replicaSetGVK, "default", "b", ownerRef(deploymentGVK, "root")),
				newObject(deploymentGVK, "default", "root"),
			)
			resolver := NewResolver(client, discoverer)
			guardBefore := testutil.ToFloat64(metrics.OwnershipCycleGuardTotal)

			owners, err := resolver.ResolveTopLevelOwners(ctx, id(podGVK, "default", "x"))
			Expect(err).NotTo(HaveOccurred())
			Expect(owners).To(Equal(sets.New(id(deploymentGVK, "default", "root"))))
			Expect(getCountFor(client, "deployments", "root")).To(Equal(1))
			Expect(testutil.ToFloat64(metrics.OwnershipCycleGuardTotal)).To(Equal(guardBefore + 1))
		})
	})

	Context("when owner references form a cycle", func() {
		It("should terminate with an empty result", func() {
			client := newFakeDynamicClient(
				newObject(replicaSetGVK, "default", "a", ownerRef(replicaSetGVK, "b")),
				newObject(replicaSetGVK, "default", "b", ownerRef(replicaSetGVK, "a")),
			)
			resolver := NewResolver(client, discoverer)

			owners, err := resolver.ResolveTopLevelOwners(ctx, id(replicaSetGVK, "default", "a"))
			Expect(err).NotTo(HaveOccurred())
			Expect(owners).NotTo(BeNil())
			Expect(owners).To(BeEmpty())
		})

		It("should catch self-ownership", func() {
			client := newFakeDynamicClient(
				newObject(replicaSetGVK, "default", "self", ownerRef(replicaSetGVK, "self")),
			)
			resolver := NewResolver(client, discoverer)
			guardBefore := testutil.ToFloat64(metrics.OwnershipCycleGuardTotal)

			owners, err := resolver.ResolveTopLevelOwners(ctx, id(replicaSetGVK, "default", "self"))
			Expect(err).NotTo(HaveOccurred())
			Expect(owners).To(BeEmpty())
			Expect(getCountFor(client, "replicasets", "self")).To(Equal(1))
			Expect(testutil.ToFloat64(metrics.OwnershipCycleGuardTotal)).To(Equal(guardBefore + 1))
		})

		It("should keep the cycle cached for the rest of the epoch", func() {
			client := newFakeDynamicClient(
				newObject(podGVK, "default", "p", ownerRef(replicaSetGVK, "a")),
				newObject(replicaSetGVK, "default", "a", ownerRef(replicaSetGVK, "b")),
				newObject(replicaSetGVK, "default", "b", ownerRef(replicaSetGVK, "a")),
			)
			resolver := NewResolver(client, discoverer)

			_, err := resolver.ResolveTopLevelOwners(ctx, id(replicaSetGVK, "default", "b"))
			Expect(err).NotTo(HaveOccurred())

			owners, err := resolver.ResolveTopLevelOwners(ctx, id(podGVK, "default", "p"))
			Expect(err).NotTo(HaveOccurred())
			Expect(owners).To(BeEmpty())
			Expect(getCount(client, "replicasets")).To(Equal(2))
		})
	})

	Context("when several pods share owners", func() {
		It("should fetch each shared owner once per epoch", func() {
			client := newFakeDynamicClient(
				newObject(podGVK, "default", "p1", ownerRef(replicaSetGVK, "rs1")),
				newObject(podGVK, "default", "p2", ownerRef(replicaSetGVK, "rs1")),
				newObject(replicaSetGVK, "default", "rs1", ownerRef(deploymentGVK, "d1")),
				newObject(deploymentGVK, "default", "d1"),
			)
			resolver := NewResolver(client, discoverer)

			for _, name := range []string{"p1", "p2"} {
				owners, err := resolver.ResolveTopLevelOwners(ctx, id(podGVK, "default", name))
				Expect(err).NotTo(HaveOccurred())
				Expect(owners).To(Equal(sets.New(id(deploymentGVK, "default", "d1"))))
			}

			Expect(getCount(client, "pods")).To(Equal(2))
			Expect(getCount(client, "replicasets")).To(Equal(1))
			Expect(getCount(client, "deployments")).To(Equal(1))
			Expect(discoverer.calls).To(Equal(1))
		})
	})

	Context("when the resolver is reset", func() {
		It("should discover and fetch again", func() {
			client := newFakeDynamicClient(
				newObject(podGVK, "default", "p1", ownerRef(replicaSetGVK, "rs1")),
				newObject(replicaSetGVK, "default", "rs1"),
			)
			resolver := NewResolver(client, discoverer)

			_, err := resolver.ResolveTopLevelOwners(ctx, id(podGVK, "default", "p1"))
			Expect(err).NotTo(HaveOccurred())
			Expect(discoverer.calls).To(Equal(1))
			Expect(getCount(client, "replicasets")).To(Equal(1))

			resolver.Reset(ctx)
			Expect(resolver.owners.size()).To(BeZero())
			Expect(testutil.ToFloat64(metrics.OwnerCacheEntries)).To(BeZero())

			owners, err := resolver.ResolveTopLevelOwners(ctx, id(podGVK, "default", "p1"))
			Expect(err).NotTo(HaveOccurred())
			Expect(owners).To(Equal(sets.New(id(replicaSetGVK, "default", "rs1"))))
			Expect(discoverer.calls).To(Equal(2))
			Expect(getCount(client, "pods")).To(Equal(2))
			Expect(getCount(client, "replicasets")).To(Equal(2))
		})
	})

	Context("when a namespaced type is requested without a namespace", func() {
		It("should fail without fetching", func() {
			client := newFakeDynamicClient(newObject(podGVK, "default", "p1"))
			resolver := NewResolver(client, discoverer)

			owners, err := resolver.ResolveTopLevelOwners(ctx, id(podGVK, "", "p1"))
			Expect(err).To(MatchError(ErrMissingNamespace))
			Expect(owners).To(BeNil())
			Expect(client.Actions()).To(BeEmpty())
			Expect(ErrorType(err)).To(Equal(metrics.ErrorTypeMissingNamespace))
		})
	})

	Context("when types are unknown to the cluster", func() {
		It("should discover at most once per epoch", func() {
			resolver := NewResolver(newFakeDynamicClient(), discoverer)

			for _, kind := range []string{"Widget", "Gadget", "Gizmo"} {
				gvk := schema.GroupVersionKind{Group: "example.com", Version: "v1", Kind: kind}
				owners, err := resolver.ResolveTopLevelOwners(ctx, id(gvk, "default", "thing"))
				Expect(err).To(MatchError(discovery.ErrUnresolvableGVK))
				Expect(owners).To(BeNil())
			}
			Expect(discoverer.calls).To(Equal(1))
		})

		It("should fail when an owner type is unknown", func() {
			unknown := schema.GroupVersionKind{Group: "example.com", Version: "v1", Kind: "Widget"}
			client := newFakeDynamicClient(newObject(podGVK, "default", "p1", ownerRef(unknown, "w")))
			resolver := NewResolver(client, discoverer)

			owners, err := resolver.ResolveTopLevelOwners(ctx, id(podGVK, "default", "p1"))
			Expect(err).To(MatchError(discovery.ErrUnresolvableGVK))
			Expect(owners).To(BeNil())
			Expect(discoverer.calls).To(Equal(1))
		})
	})

	Context("when discovery fails", func() {
		It("should propagate the error and discover again on the next lookup", func() {
			client := newFakeDynamicClient(newObject(podGVK, "default", "p1"))
			discoverer.err = errors.New("api server unavailable")
			resolver := NewResolver(client, discoverer)

			_, err := resolver.ResolveTopLevelOwners(ctx, id(podGVK, "default", "p1"))
			Expect(err).To(MatchError(ContainSubstring("api server unavailable")))

			discoverer.err = nil
			owners, err := resolver.ResolveTopLevelOwners(ctx, id(podGVK, "default", "p1"))
			Expect(err).NotTo(HaveOccurred())
			Expect(owners).To(HaveLen(1))
			Expect(discoverer.calls).To(Equal(2))
		})
	})

	Context("when an owner does not exist", func() {
		It("should abort and keep the API error classification", func() {
			client := newFakeDynamicClient(
				newObject(podGVK, "default", "p1", ownerRef(replicaSetGVK, "gone")),
			)
			resolver := NewResolver(client, discoverer)
			before := testutil.ToFloat64(metrics.OwnerResolutionsTotal.WithLabelValues(metrics.ResultError, metrics.ErrorTypeNotFound))

			owners, err := resolver.ResolveTopLevelOwners(ctx, id(podGVK, "default", "p1"))
			Expect(err).To(HaveOccurred())
			Expect(apierrors.IsNotFound(err)).To(BeTrue())
			Expect(owners).To(BeNil())
			Expect(testutil.ToFloat64(metrics.OwnerResolutionsTotal.WithLabelValues(metrics.ResultError, metrics.ErrorTypeNotFound))).
				To(Equal(before + 1))
		})
	})

	Context("when resolving a live object", func() {
		It("should not fetch the object again", func() {
			pod := newObject(podGVK, "default", "p1", ownerRef(replicaSetGVK, "rs1"))
			client := newFakeDynamicClient(
				newObject(replicaSetGVK, "default", "rs1", ownerRef(deploymentGVK, "d1")),
				newObject(deploymentGVK, "default", "d1"),
			)
			resolver := NewResolver(client, discoverer)

			owners, err := resolver.ResolveTopLevelOwnersOfObject(ctx, pod)
			Expect(err).NotTo(HaveOccurred())
			Expect(owners).To(Equal(sets.New(id(deploymentGVK, "default", "d1"))))
			Expect(getCount(client, "pods")).To(BeZero())
		})

		It("should not need discovery for an object without owners", func() {
			resolver := NewResolver(newFakeDynamicClient(), discoverer)

			owners, err := resolver.ResolveTopLevelOwnersOfObject(ctx, newObject(podGVK, "default", "lonely"))
			Expect(err).NotTo(HaveOccurred())
			Expect(owners).To(Equal(sets.New(id(podGVK, "default", "lonely"))))
			Expect(discoverer.calls).To(BeZero())
		})

		It("should reject an object without a kind", func() {
			resolver := NewResolver(newFakeDynamicClient(), discoverer)
			obj := newObject(schema.GroupVersionKind{}, "default", "anonymous")

			_, err := resolver.ResolveTopLevelOwnersOfObject(ctx, obj)
			Expect(err).To(MatchError(ErrMissingGroupVersionKind))
		})
	})

	Context("when an owner is cluster-scoped", func() {
		It("should drop the inherited namespace", func() {
			client := newFakeDynamicClient(
				newObject(podGVK, "team-a", "p1", ownerRef(clusterPolicyGVK, "baseline")),
				newObject(podGVK, "team-b", "p2", ownerRef(clusterPolicyGVK, "baseline")),
				newObject(clusterPolicyGVK, "", "baseline"),
			)
			resolver := NewResolver(client, discoverer)
			want := sets.New(id(clusterPolicyGVK, "", "baseline"))

			owners, err := resolver.ResolveTopLevelOwners(ctx, id(podGVK, "team-a", "p1"))
			Expect(err).NotTo(HaveOccurred())
			Expect(owners).To(Equal(want))

			owners, err = resolver.ResolveTopLevelOwners(ctx, id(podGVK, "team-b", "p2"))
			Expect(err).NotTo(HaveOccurred())
			Expect(owners).To(Equal(want))
			Expect(getCount(client, "clusterpolicies")).To(Equal(1))
		})

		It("should drop a namespace given for a cluster-scoped start", func() {
			client := newFakeDynamicClient(newObject(clusterPolicyGVK, "", "baseline"))
			resolver := NewResolver(client, discoverer)
			want := sets.New(id(clusterPolicyGVK, "", "baseline"))

			owners, err := resolver.ResolveTopLevelOwners(ctx, id(clusterPolicyGVK, "team-a", "baseline"))
			Expect(err).NotTo(HaveOccurred())
			Expect(owners).To(Equal(want))

			owners, err = resolver.ResolveTopLevelOwners(ctx, id(clusterPolicyGVK, "", "baseline"))
			Expect(err).NotTo(HaveOccurred())
			Expect(owners).To(Equal(want))
			Expect(getCount(client, "clusterpolicies")).To(Equal(1), "both lookups must share one cache entry")
		})
	})

	Context("when a fetch limiter is configured", func() {
		It("should fail the resolution once the context is done", func() {
			client := newFakeDynamicClient(newObject(podGVK, "default", "p1"))
			limiter := rate.NewLimiter(rate.Limit(1), 1)
			resolver := NewResolver(client, discoverer, WithFetchLimiter(limiter))

			cancelled, cancel := context.WithCancel(ctx)
			cancel()

			_, err := resolver.ResolveTopLevelOwners(cancelled, id(podGVK, "default", "p1"))
			Expect(err).To(HaveOccurred())
			Expect(getCount(client, "pods")).To(BeZero())
		})

		It("should allow fetches within the burst", func() {
			client := newFakeDynamicClient(
				newObject(podGVK, "default", "p1", ownerRef(replicaSetGVK, "rs1")),
				newObject(replicaSetGVK, "default", "rs1"),
			)
			resolver := NewResolver(client, discoverer, WithFetchLimiter(rate.NewLimiter(rate.Inf, 1)))

			owners, err := resolver.ResolveTopLevelOwners(ctx, id(podGVK, "default", "p1"))
			Expect(err).NotTo(HaveOccurred())
			Expect(owners).To(HaveLen(1))
		})
	})
})
