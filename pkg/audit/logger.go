package audit

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/shopadmin/pkg/contextkeys"
	"github.com/platinummonkey/shopadmin/pkg/observability"
)

// Logger is the interface for audit logging
type Logger interface {
	// Log records an audit event
	Log(ctx context.Context, event *AuditEvent) error

	// Close closes the logger and flushes any buffered events
	Close() error
}

// NoopLogger drops every event
type NoopLogger struct{}

func (NoopLogger) Log(context.Context, *AuditEvent) error { return nil }
func (NoopLogger) Close() error                           { return nil }

// NewEvent builds an event stamped with an id, the current time and the
// request id and subject carried by ctx.
func NewEvent(ctx context.Context, eventType EventType, status EventStatus) *AuditEvent {
	return &AuditEvent{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Status:    status,
		UserID:    contextkeys.GetUserID(ctx),
		RequestID: contextkeys.GetRequestID(ctx),
	}
}

// WithRequest copies HTTP request details onto the event
func (e *AuditEvent) WithRequest(r *http.Request) *AuditEvent {
	if r == nil {
		return e
	}
	e.IPAddress = clientIP(r)
	e.UserAgent = r.UserAgent()
	e.Method = r.Method
	e.Path = r.URL.Path
	return e
}

// clientIP prefers the first X-Forwarded-For hop, then X-Real-IP
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// SlogLogger writes audit events to the structured application log
type SlogLogger struct {
	logger *observability.Logger
}

// NewSlogLogger creates a logger that emits one INFO line per event
func NewSlogLogger(logger *observability.Logger) *SlogLogger {
	return &SlogLogger{logger: logger.WithField("component", "audit")}
}

func (l *SlogLogger) Log(_ context.Context, event *AuditEvent) error {
	entry := l.logger.WithFields(map[string]interface{}{
		"event_id":      event.ID,
		"event_type":    string(event.EventType),
		"status":        string(event.Status),
		"actor":         event.UserID,
		"resource_type": string(event.ResourceType),
		"resource_id":   event.ResourceID,
		"request_id":    event.RequestID,
	})
	if event.ErrorMessage != "" {
		entry = entry.WithField("error", event.ErrorMessage)
	}
	if event.Status == EventStatusSuccess {
		entry.Info(event.Message)
		return nil
	}
	entry.Warn(event.Message)
	return nil
}

func (l *SlogLogger) Close() error { return nil }
