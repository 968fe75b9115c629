package ingestion

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	v1 "github.com/aevon-lab/carbonrelay/internal/api/v1"
	httperr "github.com/aevon-lab/carbonrelay/internal/core/errors"
	"github.com/aevon-lab/carbonrelay/internal/instrumentation"
	"github.com/gin-gonic/gin"
)

const (
	msgReadBodyFailed = "Failed to read request body"
	msgInvalidJSON    = "Invalid JSON body"
	msgInvalidBatch   = "One or more datapoints are invalid"
	msgBackpressure   = "Ingestion queue is full, retry later"
	msgDeliverFailed  = "Failed to deliver datapoints"
)

// ingestionError carries the structured HTTP error shape from a helper back to the orchestrator.
// Helpers return this instead of writing to gin.Context directly, keeping them decoupled from HTTP.
type ingestionError struct {
	statusCode int
	errorType  string
	message    string
	details    interface{}
}

func (e *ingestionError) Error() string {
	return e.message
}

// IngestHandler handles HTTP POST requests carrying a JSON array of
// {metric, timestamp, value} objects. A single object is accepted too.
func (s *Service) IngestHandler(c *gin.Context) {
	batch, payloadSize, err := s.parseBatch(c)
	if err != nil {
		writeError(c, err)
		return
	}

	if err := s.validateBatch(batch); err != nil {
		writeError(c, err)
		return
	}

	slog.Debug("Received datapoints", "count", len(batch), "payload_size", payloadSize)

	accepted, err := s.deliverBatch(batch)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"status": "accepted", "accepted": accepted})
}

// parseBatch reads the raw request body and decodes it into datapoints.
// Returns the batch and the raw payload size (used for structured logging upstream).
func (s *Service) parseBatch(c *gin.Context) ([]v1.MetricDatapoint, int, *ingestionError) {
	// Enforce maximum body size to prevent OOM attacks
	maxBytes := int64(s.maxBodySizeBytes)
	limitedBody := io.LimitReader(c.Request.Body, maxBytes+1) // +1 to detect oversized requests

	bodyBytes, err := io.ReadAll(limitedBody)
	if err != nil {
		slog.Error("Failed to read request body", "error", err)
		return nil, 0, &ingestionError{
			statusCode: http.StatusInternalServerError,
			errorType:  httperr.HttpInternalError,
			message:    msgReadBodyFailed,
		}
	}

	if int64(len(bodyBytes)) > maxBytes {
		slog.Warn("Request body exceeds maximum size", "size", len(bodyBytes), "max", maxBytes)
		return nil, len(bodyBytes), &ingestionError{
			statusCode: http.StatusRequestEntityTooLarge,
			errorType:  httperr.HttpInvalidJsonError,
			message:    "Request body exceeds maximum allowed size",
			details: map[string]interface{}{
				"max_size_mb": maxBytes / (1024 * 1024),
			},
		}
	}

	trimmed := bytes.TrimSpace(bodyBytes)
	var batch []v1.MetricDatapoint
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var one v1.MetricDatapoint
		err = json.Unmarshal(trimmed, &one)
		batch = []v1.MetricDatapoint{one}
	} else {
		err = json.Unmarshal(trimmed, &batch)
	}
	if err != nil {
		slog.Warn("Invalid JSON body received", "error", err, "payload_size", len(bodyBytes))
		return nil, len(bodyBytes), &ingestionError{
			statusCode: http.StatusBadRequest,
			errorType:  httperr.HttpInvalidJsonError,
			message:    msgInvalidJSON,
		}
	}
	return batch, len(bodyBytes), nil
}

// validateBatch checks every datapoint; a batch with any invalid entry is
// rejected whole so clients never have to guess what was kept.
func (s *Service) validateBatch(batch []v1.MetricDatapoint) *ingestionError {
	if len(batch) == 0 {
		return &ingestionError{
			statusCode: http.StatusBadRequest,
			errorType:  httperr.HttpInvalidDatapoint,
			message:    "At least one datapoint is required",
		}
	}

	var invalid []map[string]interface{}
	for i := range batch {
		if err := batch[i].Validate(); err != nil {
			invalid = append(invalid, map[string]interface{}{"index": i, "error": err.Error()})
		}
	}
	if len(invalid) == 0 {
		return nil
	}

	for range invalid {
		s.metrics.Drop(instrumentation.ReasonInvalid)
	}
	slog.Warn("Datapoint validation failed", "invalid", len(invalid), "batch_size", len(batch))
	return &ingestionError{
		statusCode: http.StatusBadRequest,
		errorType:  httperr.HttpInvalidDatapoint,
		message:    msgInvalidBatch,
		details:    map[string]interface{}{"invalid": invalid},
	}
}

// deliverBatch hands datapoints to the pipeline in order and stops at the
// first failure. The accepted prefix is reported so clients resend the rest.
func (s *Service) deliverBatch(batch []v1.MetricDatapoint) (int, *ingestionError) {
	for i, dp := range batch {
		err := s.deliverer.Deliver(dp.Metric, dp.Datapoint())
		if err == nil {
			continue
		}
		details := map[string]interface{}{"accepted": i, "rejected": len(batch) - i}
		if errors.Is(err, httperr.ErrSinkBackpressure) {
			slog.Warn("Ingestion backpressure", "accepted", i, "batch_size", len(batch))
			return i, &ingestionError{
				statusCode: http.StatusServiceUnavailable,
				errorType:  httperr.HttpBackpressureError,
				message:    msgBackpressure,
				details:    details,
			}
		}
		slog.Error("Failed to deliver datapoint", "error", err, "metric", dp.Metric)
		return i, &ingestionError{
			statusCode: http.StatusServiceUnavailable,
			errorType:  httperr.HttpInternalError,
			message:    msgDeliverFailed,
			details:    details,
		}
	}
	return len(batch), nil
}

// writeError serializes an ingestionError as the JSON HTTP response.
func writeError(c *gin.Context, err *ingestionError) {
	if err.statusCode == http.StatusServiceUnavailable {
		c.Header("Retry-After", "1")
	}
	c.JSON(err.statusCode, httperr.ErrorResponse{
		ErrorType: err.errorType,
		Message:   err.message,
		Details:   err.details,
	})
}
