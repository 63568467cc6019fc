package ingestion

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	v1 "github.com/aevon-lab/report-core/internal/api/v1"
	httperr "github.com/aevon-lab/report-core/internal/core/errors"
	"github.com/aevon-lab/report-core/internal/schema"
)

const (
	msgReadBodyFailed = "Failed to read request body"
	msgPublishFailed  = "Failed to publish event"
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

// IngestHandler handles HTTP POST /v1/events. The event is validated against
// its registered payload shape before it reaches the exchange, so the
// consumer only sees malformed messages from producers that bypass this path.
func (s *Service) IngestHandler(c *gin.Context) {
	env, payloadSize, err := s.parseEnvelope(c)
	if err != nil {
		writeError(c, err)
		return
	}

	if err := s.validatePayload(env); err != nil {
		writeError(c, err)
		return
	}

	slog.Info("Received Event",
		"event_id", env.EventID,
		"event_type", env.Type,
		"payload_size", payloadSize)

	if err := s.publish(c.Request.Context(), env); err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"status": "accepted", "eventId": env.EventID})
}

// parseEnvelope reads the raw request body and decodes it into an Envelope.
// Returns the envelope and the raw payload size (used for structured logging upstream).
func (s *Service) parseEnvelope(c *gin.Context) (*v1.Envelope, int, *ingestionError) {
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
			errorType:  httperr.HttpInvalidEventError,
			message:    "Request body exceeds maximum allowed size",
			details: map[string]interface{}{
				"max_size_mb": maxBytes / (1024 * 1024),
			},
		}
	}

	env, err := v1.DecodeEnvelope(bodyBytes)
	if err != nil {
		slog.Warn("Invalid envelope received", "error", err, "payload_size", len(bodyBytes))
		return nil, len(bodyBytes), &ingestionError{
			statusCode: http.StatusBadRequest,
			errorType:  httperr.HttpInvalidEventError,
			message:    err.Error(),
		}
	}
	return env, len(bodyBytes), nil
}

// validatePayload decodes Data with the schema registered for the envelope type.
func (s *Service) validatePayload(env *v1.Envelope) *ingestionError {
	_, err := s.registry.Decode(env)
	if err == nil {
		return nil
	}

	if errors.Is(err, schema.ErrUnknownType) {
		slog.Warn("Event type not registered", "event_type", env.Type)
		return &ingestionError{
			statusCode: http.StatusBadRequest,
			errorType:  httperr.HttpUnknownEventError,
			message:    err.Error(),
			details:    map[string]interface{}{"known_types": s.registry.Types()},
		}
	}

	slog.Warn("Payload validation failed", "event_id", env.EventID, "event_type", env.Type, "error", err)
	details := map[string]interface{}{"type": env.Type}
	var d schema.ValidationDetailer
	if errors.As(err, &d) {
		for k, v := range d.Details() {
			details[k] = v
		}
	}
	return &ingestionError{
		statusCode: http.StatusBadRequest,
		errorType:  httperr.HttpInvalidEventError,
		message:    err.Error(),
		details:    details,
	}
}

func (s *Service) publish(ctx context.Context, env *v1.Envelope) *ingestionError {
	if err := s.publisher.Publish(ctx, env); err != nil {
		slog.Error("Failed to publish event", "error", err, "event_id", env.EventID)
		return &ingestionError{
			statusCode: http.StatusServiceUnavailable,
			errorType:  httperr.HttpUnavailableError,
			message:    msgPublishFailed,
		}
	}
	return nil
}

// writeError serializes an ingestionError as the JSON HTTP response.
func writeError(c *gin.Context, err *ingestionError) {
	c.JSON(err.statusCode, httperr.ErrorResponse{
		ErrorType: err.errorType,
		Message:   err.message,
		Details:   err.details,
	})
}
