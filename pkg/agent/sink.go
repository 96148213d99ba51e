// SPDX-FileCopyrightText: 2026 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"k8s.io/klog/v2"
	"sigs.k8s.io/controller-runtime/pkg/log"
)

// Sink receives the records of one polling cycle.
type Sink interface {
	Publish(ctx context.Context, batch []PodOwnership) error
}

// LogSink writes a one-line summary per cycle and, at V(1), one structured
// log line per pod.
type LogSink struct{}

// Publish implements Sink.
func (LogSink) Publish(ctx context.Context, batch []PodOwnership) error {
	logger := log.FromContext(ctx).WithName("LogSink")
	withoutOwners := 0
	for _, record := range batch {
		pod := klog.KRef(record.Namespace, record.Name)
		if record.Error != nil {
			withoutOwners++
			logger.V(1).Info("pod published without owners", "pod", pod, "reason", record.Error.Error())
			continue
		}
		logger.V(1).Info("pod owners", "pod", pod, "owners", record.Owners)
	}
	logger.Info("published pod owners", "pods", len(batch), "withoutOwners", withoutOwners)
	return nil
}

// PrometheusSink exposes the owners of every pod as an info-style gauge with
// value 1. The gauge is reset on every cycle so deleted pods disappear.
type PrometheusSink struct {
	gauge *prometheus.GaugeVec
}

// NewPrometheusSink returns a sink writing to gauge, which must carry the
// labels namespace, pod, owner_kind, owner_name and owner_namespace.
func NewPrometheusSink(gauge *prometheus.GaugeVec) *PrometheusSink {
	return &PrometheusSink{gauge: gauge}
}

// Publish implements Sink. Pods whose owners could not be resolved are left out.
func (s *PrometheusSink) Publish(_ context.Context, batch []PodOwnership) error {
	s.gauge.Reset()
	for _, record := range batch {
		for _, owner := range record.Owners {
			s.gauge.WithLabelValues(record.Namespace, record.Name, owner.Kind, owner.Name, owner.Namespace).Set(1)
		}
	}
	return nil
}
