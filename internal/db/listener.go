package db

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/lib/pq"

	"voxa-chat/internal/models"
)

// MessageEventsChannel is the NOTIFY channel the messages trigger writes to.
const MessageEventsChannel = "message_events"

const listenerPingInterval = 90 * time.Second

// EventSink consumes decoded message events.
type EventSink interface {
	Dispatch(event models.MessageEvent)
}

// EventListener turns Postgres notifications into message events.
type EventListener struct {
	listener *pq.Listener
	sink     EventSink
}

// NewEventListener opens a dedicated LISTEN connection.
func NewEventListener(dsn string, sink EventSink) (*EventListener, error) {
	listener := pq.NewListener(dsn, time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			log.Printf("pg listener event=%d err=%v", ev, err)
		}
	})
	if err := listener.Listen(MessageEventsChannel); err != nil {
		listener.Close()
		return nil, fmt.Errorf("listen %s: %w", MessageEventsChannel, err)
	}
	return &EventListener{listener: listener, sink: sink}, nil
}

// Run dispatches notifications until ctx is done.
func (l *EventListener) Run(ctx context.Context) {
	ticker := time.NewTicker(listenerPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case n := <-l.listener.Notify:
			if n == nil {
				// Reconnected; notifications sent while down are lost.
				log.Printf("pg listener reconnected channel=%s", MessageEventsChannel)
				continue
			}
			event, err := DecodeEvent(n.Extra)
			if err != nil {
				log.Printf("pg listener decode failed err=%v", err)
				continue
			}
			l.sink.Dispatch(event)
		case <-ticker.C:
			go func() {
				if err := l.listener.Ping(); err != nil {
					log.Printf("pg listener ping failed err=%v", err)
				}
			}()
		}
	}
}

func (l *EventListener) Close() error {
	return l.listener.Close()
}

// DecodeEvent parses a trigger payload.
func DecodeEvent(payload string) (models.MessageEvent, error) {
	var event models.MessageEvent
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		return models.MessageEvent{}, err
	}
	switch event.Op {
	case models.MessageEventInsert, models.MessageEventDelete:
	default:
		return models.MessageEvent{}, fmt.Errorf("unknown op %q", event.Op)
	}
	return event, nil
}
