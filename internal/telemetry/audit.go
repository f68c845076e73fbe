package telemetry

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
)

// RoutingKeyModeration prefixes every moderation audit record; the action is appended.
const RoutingKeyModeration = "audit.moderation"

const (
	LevelInfo = "INFO"
	LevelWarn = "WARN"
)

type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any, headers map[string]string) error
}

// AuditEmitter records moderation actions on the event bus.
type AuditEmitter struct {
	publisher Publisher
	prefix    string
	source    source
	now       func() time.Time
}

type source struct {
	service     string
	environment string
}

type AuditEnvelope struct {
	SchemaVersion int          `json:"schema_version"`
	EventID       string       `json:"event_id"`
	EventType     string       `json:"event_type"`
	OccurredAt    string       `json:"occurred_at"`
	Service       string       `json:"service"`
	Environment   string       `json:"environment"`
	RequestID     string       `json:"request_id"`
	UserID        *string      `json:"user_id,omitempty"`
	Payload       AuditPayload `json:"payload"`
}

type AuditPayload struct {
	Level    string `json:"level"`
	Action   string `json:"action"`
	TargetID string `json:"target_id,omitempty"`
	Text     string `json:"text"`
}

func NewAuditEmitter(publisher Publisher, prefix, service, environment string) *AuditEmitter {
	return &AuditEmitter{
		publisher: publisher,
		prefix:    prefix,
		source:    source{service: service, environment: environment},
		now:       time.Now,
	}
}

// RoutingKey returns the topic an action is published under.
func (e *AuditEmitter) RoutingKey(action string) string {
	if action == "" {
		return e.prefix
	}
	return e.prefix + "." + action
}

// Emit publishes one audit record. Failures are logged, never returned.
func (e *AuditEmitter) Emit(ctx context.Context, requestID string, actorID *string, payload AuditPayload) {
	if e == nil || e.publisher == nil {
		return
	}
	if payload.Level == "" {
		payload.Level = LevelInfo
	}

	envelope := AuditEnvelope{
		SchemaVersion: 1,
		EventID:       uuid.NewString(),
		EventType:     "audit_log",
		OccurredAt:    e.now().UTC().Format(time.RFC3339Nano),
		Service:       e.source.service,
		Environment:   e.source.environment,
		RequestID:     requestID,
		UserID:        actorID,
		Payload:       payload,
	}
	key := e.RoutingKey(payload.Action)
	log.Printf("audit level=%s action=%s target=%s event_id=%s request_id=%s", payload.Level, payload.Action, payload.TargetID, envelope.EventID, requestID)

	headers := map[string]string{"x-request-id": requestID, "x-event-id": envelope.EventID}
	if err := e.publisher.Publish(ctx, key, envelope, headers); err != nil {
		log.Printf("audit publish failed routing_key=%s event_id=%s err=%v", key, envelope.EventID, err)
	}
}
