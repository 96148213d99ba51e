// Package metrics defines and registers Prometheus metrics for the kube-usage-agent,
// covering polling cycles, ownership resolution, object fetches, API discovery
// and pod owner information.
package metrics
