// SPDX-FileCopyrightText: 2026 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package ownership

import (
	"context"
	"errors"

	apierrors "k8s.io/apimachinery/pkg/api/errors"

	"github.com/telekom/kube-usage-agent/pkg/discovery"
	"github.com/telekom/kube-usage-agent/pkg/metrics"
)

var (
	// ErrMissingNamespace is returned when a namespaced type is requested
	// without a namespace.
	ErrMissingNamespace = errors.New("cannot resolve namespaced type without namespace")

	// ErrMissingGroupVersionKind is returned for objects that do not carry
	// their apiVersion and kind.
	ErrMissingGroupVersionKind = errors.New("object has no group version kind")
)

// ErrorType classifies a resolution error into a metrics label value.
func ErrorType(err error) string {
	var status apierrors.APIStatus
	switch {
	case err == nil:
		return metrics.ErrorTypeNone
	case errors.Is(err, discovery.ErrUnresolvableGVK):
		return metrics.ErrorTypeUnresolvableType
	case errors.Is(err, ErrMissingNamespace):
		return metrics.ErrorTypeMissingNamespace
	case apierrors.IsNotFound(err):
		return metrics.ErrorTypeNotFound
	case apierrors.IsForbidden(err):
		return metrics.ErrorTypeForbidden
	case apierrors.IsTimeout(err), apierrors.IsServerTimeout(err), errors.Is(err, context.DeadlineExceeded):
		return metrics.ErrorTypeTimeout
	case errors.As(err, &status):
		return metrics.ErrorTypeAPI
	default:
		return metrics.ErrorTypeInternal
	}
}
