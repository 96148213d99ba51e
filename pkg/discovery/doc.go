// Package discovery maps resource types to the API shape needed to read them.
// A Collector runs one full discovery pass over the cluster's API surface and
// produces an immutable Snapshot; a Cache serves GroupVersionKind lookups from
// that snapshot and runs discovery lazily, at most once per polling cycle.
package discovery
