package marketdata

import (
	"errors"
	"fmt"
)

// ErrorKind partitions provider failures into the retry taxonomy the cycle
// boundary branches on.
type ErrorKind string

const (
	// KindTransient covers timeouts, 5xx responses, and exhausted rate-limit
	// retries. The cycle is skipped and retried on the next tick.
	KindTransient ErrorKind = "transient"
	// KindAuth marks a credential rejection. Never retried; fatal for the
	// subsystem and surfaced to the operator.
	KindAuth ErrorKind = "auth"
	// KindDecode marks a malformed provider response. Never retried.
	KindDecode ErrorKind = "decode"
)

// ProviderError wraps a failed provider call with its retry classification.
type ProviderError struct {
	Kind     ErrorKind
	Endpoint string
	Status   int
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("provider %s (%s, status %d): %v", e.Endpoint, e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("provider %s (%s): %v", e.Endpoint, e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Retryable reports whether the next scheduled cycle may call the provider
// again without an operator intervening.
func (e *ProviderError) Retryable() bool { return e.Kind == KindTransient }

// ErrorKindOf extracts the classification from err, defaulting to transient
// for plain transport errors.
func ErrorKindOf(err error) ErrorKind {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindTransient
}
