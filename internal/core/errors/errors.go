package errors

import (
	"errors"
	"fmt"
)

// Sentinel conditions shared by the ring, the aggregation engine and the relay.
// Callers wrap them with fmt.Errorf("...: %w", err) and test with errors.Is.
var (
	// ErrConfiguration aborts startup or a reload. Never returned on the hot path.
	ErrConfiguration = errors.New("configuration error")

	// ErrUnsupportedHash is a configuration error for an unknown ring hash variant.
	ErrUnsupportedHash = fmt.Errorf("%w: unsupported hash type", ErrConfiguration)

	// ErrEmptyRing means the metric is unroutable for this attempt; retry after membership changes.
	ErrEmptyRing = errors.New("hash ring has no nodes")

	// ErrUnconfiguredBuffer is an orchestration bug: input reached a buffer before Configure.
	ErrUnconfiguredBuffer = errors.New("aggregation buffer is not configured")

	// ErrLateDatapoint rejects input for a window the buffer already flushed.
	ErrLateDatapoint = errors.New("datapoint is older than the flushed window horizon")

	// ErrInvalidDatapoint rejects a value no window can accumulate (NaN, ±Inf).
	ErrInvalidDatapoint = errors.New("datapoint value is not finite")

	// ErrSinkBackpressure is retryable: a bounded emission queue is full.
	ErrSinkBackpressure = errors.New("emission queue is full")
)

const (
	HttpInternalError      = "internal_error"
	HttpInvalidJsonError   = "invalid_json"
	HttpInvalidDatapoint   = "invalid_datapoint"
	HttpBackpressureError  = "backpressure"
	HttpUnroutableError    = "unroutable"
	HttpRingMutationFailed = "ring_mutation_failed"
)

// ErrorResponse is the error response body for HTTP errors.
type ErrorResponse struct {
	ErrorType string      `json:"error_type"`
	Message   string      `json:"message"`
	Details   interface{} `json:"details,omitempty"`
}
