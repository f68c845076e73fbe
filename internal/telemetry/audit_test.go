package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturePublisher struct {
	routingKey string
	event      any
	headers    map[string]string
	err        error
}

func (p *capturePublisher) Publish(ctx context.Context, routingKey string, event any, headers map[string]string) error {
	p.routingKey = routingKey
	p.event = event
	p.headers = headers
	return p.err
}

func TestEmitBuildsEnvelope(t *testing.T) {
	pub := &capturePublisher{}
	emitter := NewAuditEmitter(pub, RoutingKeyModeration, "voxa-chat", "test")
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	emitter.now = func() time.Time { return fixed }
	actor := "admin-1"

	emitter.Emit(context.Background(), "req-9", &actor, AuditPayload{Action: "user.mute", TargetID: "user-2", Text: "muted"})

	require.Equal(t, "audit.moderation.user.mute", pub.routingKey)
	envelope, ok := pub.event.(AuditEnvelope)
	require.True(t, ok)
	assert.Equal(t, "audit_log", envelope.EventType)
	assert.Equal(t, "voxa-chat", envelope.Service)
	assert.Equal(t, "test", envelope.Environment)
	assert.Equal(t, "req-9", envelope.RequestID)
	assert.Equal(t, &actor, envelope.UserID)
	assert.Equal(t, "2026-03-01T12:00:00Z", envelope.OccurredAt)
	assert.Equal(t, LevelInfo, envelope.Payload.Level)
	assert.Equal(t, "user.mute", envelope.Payload.Action)

	_, err := uuid.Parse(envelope.EventID)
	require.NoError(t, err)
	assert.Equal(t, "req-9", pub.headers["x-request-id"])
	assert.Equal(t, envelope.EventID, pub.headers["x-event-id"])
}

func TestRoutingKeyWithoutAction(t *testing.T) {
	emitter := NewAuditEmitter(&capturePublisher{}, RoutingKeyModeration, "svc", "dev")
	assert.Equal(t, RoutingKeyModeration, emitter.RoutingKey(""))
	assert.Equal(t, "audit.moderation.message.delete", emitter.RoutingKey("message.delete"))
}

func TestEmitSwallowsPublishErrors(t *testing.T) {
	pub := &capturePublisher{err: errors.New("broker down")}
	emitter := NewAuditEmitter(pub, RoutingKeyModeration, "svc", "dev")

	assert.NotPanics(t, func() {
		emitter.Emit(context.Background(), "req", nil, AuditPayload{Level: LevelWarn, Action: "user.delete"})
	})
	envelope := pub.event.(AuditEnvelope)
	assert.Equal(t, LevelWarn, envelope.Payload.Level)
}

func TestEmitNilEmitterIsSafe(t *testing.T) {
	var emitter *AuditEmitter
	assert.NotPanics(t, func() {
		emitter.Emit(context.Background(), "req", nil, AuditPayload{Action: "noop"})
	})
}
