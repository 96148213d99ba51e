// SPDX-FileCopyrightText: 2026 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package discovery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/client-go/discovery"
	"k8s.io/client-go/rest"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/telekom/kube-usage-agent/pkg/metrics"
	"github.com/telekom/kube-usage-agent/pkg/tracing"
)

const (
	// Raised client limits for discovery, which issues one request per group version.
	discoveryQPS   = 100
	discoveryBurst = 200

	// Maximum number of group versions fetched concurrently.
	defaultConcurrency = 8
)

// newGroupListBackoff returns the retry schedule for listing API groups. It
// gives up after roughly one second.
func newGroupListBackoff() wait.Backoff {
	return wait.Backoff{
		Duration: 250 * time.Millisecond,
		Factor:   1.5,
		Steps:    3,
		Jitter:   0.1,
	}
}

// Discoverer performs one full discovery run against the cluster's API surface.
type Discoverer interface {
	Discover(ctx context.Context) (*Snapshot, error)
}

// Collector discovers API resources through the Kubernetes discovery API.
type Collector struct {
	client      discovery.DiscoveryInterface
	concurrency int
	backoff     wait.Backoff
	tracer      trace.Tracer
}

// NewCollector creates a Collector on top of an existing discovery client.
func NewCollector(client discovery.DiscoveryInterface) *Collector {
	return &Collector{
		client:      client,
		concurrency: defaultConcurrency,
		backoff:     newGroupListBackoff(),
	}
}

// NewCollectorForConfig creates a Collector with its own discovery client.
// The client runs with higher QPS and Burst than the shared config to speed up
// discovery runs.
func NewCollectorForConfig(config *rest.Config) (*Collector, error) {
	discoveryConfig := rest.CopyConfig(config)
	discoveryConfig.QPS = discoveryQPS
	discoveryConfig.Burst = discoveryBurst

	client, err := discovery.NewDiscoveryClientForConfig(discoveryConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create discovery client: %w", err)
	}
	return NewCollector(client), nil
}

// WithTracer sets the tracer used for discovery spans.
func (c *Collector) WithTracer(t trace.Tracer) *Collector {
	c.tracer = t
	return c
}

// Discover lists all API groups and then fetches the resources of every group
// version concurrently. Group versions that fail (typically an unavailable
// aggregated API) are logged and left out of the snapshot. Listing the groups
// is retried with backoff; if it keeps failing the whole run fails.
func (c *Collector) Discover(ctx context.Context) (*Snapshot, error) {
	startTime := time.Now()
	logger := log.FromContext(ctx).WithName("discovery")

	tracer := c.tracer
	if tracer == nil {
		tracer = tracing.Tracer()
	}
	ctx, span := tracer.Start(ctx, "discovery.Discover")
	defer span.End()

	metrics.APIDiscoveryRunsTotal.Inc()
	logger.V(2).Info("starting API discovery")

	groups, err := c.serverGroups(ctx)
	if err != nil {
		logger.Error(err, "failed to discover API groups")
		metrics.APIDiscoveryErrors.Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "listing API groups failed")
		return nil, fmt.Errorf("discovering API groups: %w", err)
	}
	logger.V(2).Info("discovered API groups", "groupCount", len(groups.Groups))

	errorGroup, groupCtx := errgroup.WithContext(ctx)
	errorGroup.SetLimit(c.concurrency)

	var (
		mutex  sync.Mutex
		lists  []*metav1.APIResourceList
		failed []string
	)

	for _, apiGroup := range groups.Groups {
		for _, apiGroupVersion := range apiGroup.Versions {
			gv := schema.GroupVersion{Group: apiGroup.Name, Version: apiGroupVersion.Version}
			errorGroup.Go(func() error {
				select {
				case <-groupCtx.Done():
					return groupCtx.Err()
				default:
				}

				list, err := c.client.ServerResourcesForGroupVersion(gv.String())
				mutex.Lock()
				defer mutex.Unlock()
				if err != nil {
					logger.Error(err, "failed to discover API resources for group version, skipping",
						"groupVersion", gv.String())
					metrics.APIDiscoveryErrors.Inc()
					failed = append(failed, gv.String())
					return nil
				}
				lists = append(lists, list)
				return nil
			})
		}
	}
	if err := errorGroup.Wait(); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			logger.V(1).Info("API discovery cancelled", "reason", err.Error())
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "discovery interrupted")
		return nil, err
	}

	snapshot := NewSnapshot(lists)
	metrics.APIDiscoveryDuration.Observe(time.Since(startTime).Seconds())
	span.SetAttributes(tracing.AttrAPICount.Int(snapshot.Len()))

	logger.V(1).Info("API discovery completed",
		"resourceTypes", snapshot.Len(),
		"failedGroupVersions", failed,
		"duration", time.Since(startTime))
	return snapshot, nil
}

// serverGroups lists the API groups, retrying failures according to the
// collector's backoff.
func (c *Collector) serverGroups(ctx context.Context) (*metav1.APIGroupList, error) {
	logger := log.FromContext(ctx).WithName("discovery")

	var (
		groups  *metav1.APIGroupList
		lastErr error
	)
	err := wait.ExponentialBackoffWithContext(ctx, c.backoff, func(context.Context) (bool, error) {
		groups, lastErr = c.client.ServerGroups()
		if lastErr != nil {
			logger.V(1).Info("listing API groups failed, retrying", "reason", lastErr.Error())
			return false, nil
		}
		return true, nil
	})
	if err != nil {
		if lastErr != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			return nil, lastErr
		}
		return nil, err
	}
	return groups, nil
}
