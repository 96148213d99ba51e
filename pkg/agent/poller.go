// SPDX-FileCopyrightText: 2026 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/util/sets"
	"k8s.io/klog/v2"
	"k8s.io/utils/clock"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/telekom/kube-usage-agent/pkg/metrics"
	"github.com/telekom/kube-usage-agent/pkg/ownership"
	"github.com/telekom/kube-usage-agent/pkg/tracing"
)

// DefaultInterval is the time between two polling cycles.
const DefaultInterval = 60 * time.Second

// OwnerResolver resolves the top-level owners of live objects. Reset ends the
// caching epoch and is called once at the end of every cycle.
type OwnerResolver interface {
	ResolveTopLevelOwnersOfObject(ctx context.Context, obj *unstructured.Unstructured) (sets.Set[ownership.Identifier], error)
	Reset(ctx context.Context)
}

// Poller lists pods periodically, resolves their top-level owners and
// publishes the result to its sinks.
type Poller struct {
	reader   client.Reader
	resolver OwnerResolver

	interval  time.Duration
	namespace string
	sinks     []Sink
	tracer    trace.Tracer
	clock     clock.WithTicker
}

// Option configures a Poller.
type Option func(*Poller)

// WithInterval sets the time between polling cycles.
func WithInterval(d time.Duration) Option {
	return func(p *Poller) {
		p.interval = d
	}
}

// WithNamespace restricts polling to pods of one namespace. An empty
// namespace means all namespaces.
func WithNamespace(ns string) Option {
	return func(p *Poller) {
		p.namespace = ns
	}
}

// WithSinks sets the sinks every cycle is published to.
func WithSinks(sinks ...Sink) Option {
	return func(p *Poller) {
		p.sinks = sinks
	}
}

// WithTracer sets the OpenTelemetry tracer used for cycle spans.
func WithTracer(t trace.Tracer) Option {
	return func(p *Poller) {
		p.tracer = t
	}
}

// WithClock replaces the clock driving the polling ticker.
func WithClock(c clock.WithTicker) Option {
	return func(p *Poller) {
		p.clock = c
	}
}

// NewPoller creates a Poller reading pods through reader.
func NewPoller(reader client.Reader, resolver OwnerResolver, opts ...Option) *Poller {
	p := &Poller{
		reader:   reader,
		resolver: resolver,
		interval: DefaultInterval,
		sinks:    []Sink{LogSink{}},
		clock:    clock.RealClock{},
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.tracer == nil {
		p.tracer = tracing.Tracer()
	}
	return p
}

// NeedLeaderElection implements LeaderElectionRunnable. Only the leader
// reports, so replicas do not publish the same pods twice.
func (p *Poller) NeedLeaderElection() bool {
	return true
}

// Start implements manager.Runnable. It polls once right away and then on
// every tick until ctx is done. Failed cycles are logged and do not stop the
// loop.
func (p *Poller) Start(ctx context.Context) error {
	logger := log.FromContext(ctx).WithName("Poller")
	logger.Info("starting ownership poller", "interval", p.interval, "namespace", p.namespace)

	p.runCycle(ctx)

	ticker := p.clock.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C():
			p.runCycle(ctx)
		case <-ctx.Done():
			logger.Info("stopping ownership poller due to context done")
			return nil
		}
	}
}

func (p *Poller) runCycle(ctx context.Context) {
	if _, err := p.Poll(ctx); err != nil {
		log.FromContext(ctx).WithName("Poller").Error(err, "polling cycle failed")
	}
}

// Poll runs one polling cycle and returns the published records, sorted by
// namespace and name. A pod whose owners cannot be resolved is published with
// Error set. The resolver is reset once at the end of every cycle.
func (p *Poller) Poll(ctx context.Context) (records []PodOwnership, err error) {
	startTime := p.clock.Now()
	logger := log.FromContext(ctx).WithName("Poller")

	ctx, span := p.tracer.Start(ctx, "agent.Poll")
	defer span.End()

	defer func() {
		p.resolver.Reset(ctx)

		result := metrics.ResultSuccess
		if err != nil {
			result = metrics.ResultError
			span.RecordError(err)
			span.SetStatus(codes.Error, "polling cycle failed")
		}
		metrics.PollCyclesTotal.WithLabelValues(result).Inc()
		metrics.PollCycleDuration.Observe(p.clock.Since(startTime).Seconds())
	}()

	var pods corev1.PodList
	var listOpts []client.ListOption
	if p.namespace != "" {
		listOpts = append(listOpts, client.InNamespace(p.namespace))
	}
	if err := p.reader.List(ctx, &pods, listOpts...); err != nil {
		return nil, fmt.Errorf("listing pods: %w", err)
	}
	metrics.PodsObserved.Set(float64(len(pods.Items)))

	records = make([]PodOwnership, 0, len(pods.Items))
	failures := 0
	for i := range pods.Items {
		pod := &pods.Items[i]
		record := PodOwnership{Namespace: pod.Namespace, Name: pod.Name}

		owners, resolveErr := p.resolvePodOwners(ctx, pod)
		if resolveErr != nil {
			failures++
			logger.Error(resolveErr, "failed to resolve pod owners, publishing without owners", "pod", klog.KObj(pod))
			record.Error = resolveErr
		} else {
			record.Owners = ownerReferencesFor(owners)
		}
		records = append(records, record)
	}
	slices.SortFunc(records, comparePods)

	span.SetAttributes(
		tracing.AttrPodCount.Int(len(records)),
		tracing.AttrFailureCount.Int(failures),
	)

	var sinkErrs []error
	for _, sink := range p.sinks {
		if err := sink.Publish(ctx, records); err != nil {
			sinkErrs = append(sinkErrs, fmt.Errorf("publishing to %T: %w", sink, err))
		}
	}
	if err := errors.Join(sinkErrs...); err != nil {
		return records, err
	}

	logger.V(1).Info("polling cycle completed",
		"pods", len(records),
		"failures", failures,
		"duration", p.clock.Since(startTime))
	return records, nil
}

func (p *Poller) resolvePodOwners(ctx context.Context, pod *corev1.Pod) (sets.Set[ownership.Identifier], error) {
	obj, err := podToUnstructured(pod)
	if err != nil {
		return nil, err
	}
	return p.resolver.ResolveTopLevelOwnersOfObject(ctx, obj)
}

// podToUnstructured converts a typed pod. Objects read through a typed client
// usually carry no TypeMeta, so the kind is set explicitly.
func podToUnstructured(pod *corev1.Pod) (*unstructured.Unstructured, error) {
	content, err := runtime.DefaultUnstructuredConverter.ToUnstructured(pod)
	if err != nil {
		return nil, fmt.Errorf("converting pod %s/%s: %w", pod.Namespace, pod.Name, err)
	}
	obj := &unstructured.Unstructured{Object: content}
	obj.SetGroupVersionKind(corev1.SchemeGroupVersion.WithKind("Pod"))
	return obj, nil
}
