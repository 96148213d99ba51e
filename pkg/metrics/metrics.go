/*
Copyright © 2026 Deutsche Telekom AG
*/

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"sigs.k8s.io/controller-runtime/pkg/metrics"
)

const (
	// Namespace is the Prometheus metrics namespace for kube-usage-agent
	Namespace = "kube_usage_agent"
)

var (
	// PollCyclesTotal counts the total number of polling cycles
	PollCyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "poll_cycles_total",
			Help:      "Total number of polling cycles",
		},
		[]string{"result"},
	)

	// PollCycleDuration measures the duration of polling cycles in seconds
	PollCycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "poll_cycle_duration_seconds",
			Help:      "Duration of polling cycles in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)

	// PodsObserved tracks the number of pods observed in the last polling cycle
	PodsObserved = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "pods_observed",
			Help:      "Number of pods observed in the last polling cycle",
		},
	)

	// OwnerResolutionsTotal counts top-level owner resolutions per result
	OwnerResolutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "owner_resolutions_total",
			Help:      "Total number of top-level owner resolutions",
		},
		[]string{"result", "error_type"},
	)

	// OwnerCacheLookupsTotal counts owner cache lookups during ownership traversal
	OwnerCacheLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "owner_cache_lookups_total",
			Help:      "Total number of owner cache lookups during ownership traversal",
		},
		[]string{"result"},
	)

	// OwnerCacheEntries tracks the number of resources in the owner cache
	OwnerCacheEntries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "owner_cache_entries",
			Help:      "Number of resources whose direct owners are cached for the current polling cycle",
		},
	)

	// ObjectFetchesTotal counts live object reads issued by the ownership resolver
	ObjectFetchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "object_fetches_total",
			Help:      "Total number of live object reads issued by the ownership resolver",
		},
		[]string{"result"},
	)

	// OwnershipCycleGuardTotal counts work items skipped because they were already visited
	OwnershipCycleGuardTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "ownership_cycle_guard_total",
			Help:      "Total number of ownership traversal entries skipped because they were already visited",
		},
	)

	// APIDiscoveryDuration measures the duration of API discovery operations in seconds
	APIDiscoveryDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "api_discovery_duration_seconds",
			Help:      "Duration of API discovery operations in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)

	// APIDiscoveryErrors counts the total number of API discovery errors
	APIDiscoveryErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "api_discovery_errors_total",
			Help:      "Total number of API discovery errors",
		},
	)

	// APIDiscoveryRunsTotal counts full API discovery runs
	APIDiscoveryRunsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "api_discovery_runs_total",
			Help:      "Total number of full API discovery runs",
		},
	)

	// PodOwnerInfo exposes the top-level owners of every observed pod
	PodOwnerInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "pod_owner_info",
			Help:      "Top-level owner of a pod, resolved through its ownerReferences",
		},
		[]string{"namespace", "pod", "owner_kind", "owner_name", "owner_namespace"},
	)
)

func init() {
	// Register all metrics with controller-runtime's registry
	metrics.Registry.MustRegister(
		PollCyclesTotal,
		PollCycleDuration,
		PodsObserved,
		OwnerResolutionsTotal,
		OwnerCacheLookupsTotal,
		OwnerCacheEntries,
		ObjectFetchesTotal,
		OwnershipCycleGuardTotal,
		APIDiscoveryDuration,
		APIDiscoveryErrors,
		APIDiscoveryRunsTotal,
		PodOwnerInfo,
	)
}

// Result constants for labeling outcomes
const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultHit     = "hit"
	ResultMiss    = "miss"
)

// ErrorType constants for categorizing resolution errors
const (
	ErrorTypeNone             = "none"
	ErrorTypeAPI              = "api"
	ErrorTypeNotFound         = "not_found"
	ErrorTypeForbidden        = "forbidden"
	ErrorTypeTimeout          = "timeout"
	ErrorTypeUnresolvableType = "unresolvable_type"
	ErrorTypeMissingNamespace = "missing_namespace"
	ErrorTypeInternal         = "internal"
)
