package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	amqp "github.com/rabbitmq/amqp091-go"

	"voxa-chat/internal/observability"
	"voxa-chat/internal/telemetry"
)

// ErrUnavailable is returned while the broker channel is being re-established.
var ErrUnavailable = errors.New("rabbitmq: channel unavailable")

// Publisher publishes JSON events to a topic exchange.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any, headers map[string]string) error
	Close() error
}

// NewPublisher dials the broker and declares the exchange. Any failure at
// startup yields a noop publisher so the service keeps running without a bus.
func NewPublisher(amqpURL, exchange string) Publisher {
	if amqpURL == "" {
		return newNoop("empty amqp url")
	}

	conn, ch, err := dial(amqpURL, exchange)
	if err != nil {
		return newNoop(err.Error())
	}

	p := &amqpPublisher{
		url:      amqpURL,
		exchange: exchange,
		conn:     conn,
		ch:       ch,
		done:     make(chan struct{}),
	}
	go p.watch(ch)
	log.Printf("rabbitmq connected exchange=%s", exchange)
	return p
}

func dial(amqpURL, exchange string) (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, nil, fmt.Errorf("dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return conn, ch, nil
}

type amqpPublisher struct {
	url      string
	exchange string

	mu   sync.RWMutex
	conn *amqp.Connection
	ch   *amqp.Channel

	done      chan struct{}
	closeOnce sync.Once
}

// watch redials after the broker drops the channel until Close is called.
func (p *amqpPublisher) watch(ch *amqp.Channel) {
	for {
		closed := ch.NotifyClose(make(chan *amqp.Error, 1))
		select {
		case <-p.done:
			return
		case amqpErr, ok := <-closed:
			if !ok || amqpErr == nil {
				select {
				case <-p.done:
					return
				default:
				}
			}
			log.Printf("rabbitmq channel closed exchange=%s err=%v", p.exchange, amqpErr)
		}

		p.swap(nil, nil)
		next, ok := p.redial()
		if !ok {
			return
		}
		ch = next
	}
}

func (p *amqpPublisher) redial() (*amqp.Channel, bool) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-p.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	var ch *amqp.Channel
	err := backoff.RetryNotify(func() error {
		conn, next, err := dial(p.url, p.exchange)
		if err != nil {
			return err
		}
		p.swap(conn, next)
		ch = next
		return nil
	}, backoff.WithContext(b, ctx), func(err error, wait time.Duration) {
		log.Printf("rabbitmq reconnect failed exchange=%s retry_in=%s err=%v", p.exchange, wait, err)
	})
	if err != nil {
		return nil, false
	}
	log.Printf("rabbitmq reconnected exchange=%s", p.exchange)
	return ch, true
}

func (p *amqpPublisher) swap(conn *amqp.Connection, ch *amqp.Channel) {
	p.mu.Lock()
	select {
	case <-p.done:
		p.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return
	default:
	}
	oldConn := p.conn
	p.conn, p.ch = conn, ch
	p.mu.Unlock()
	if oldConn != nil && oldConn != conn {
		_ = oldConn.Close()
	}
}

func (p *amqpPublisher) Publish(ctx context.Context, routingKey string, event any, headers map[string]string) error {
	p.mu.RLock()
	ch := p.ch
	p.mu.RUnlock()
	if ch == nil {
		return ErrUnavailable
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", routingKey, err)
	}

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Body:         body,
	}
	if len(headers) > 0 {
		msg.Headers = make(amqp.Table, len(headers))
		for key, value := range headers {
			msg.Headers[key] = value
		}
	}

	if err := ch.PublishWithContext(ctx, p.exchange, routingKey, false, false, msg); err != nil {
		log.Printf("rabbitmq publish failed routing_key=%s err=%v", routingKey, err)
		return err
	}
	return nil
}

func (p *amqpPublisher) Close() error {
	var err error
	p.closeOnce.Do(func() {
		close(p.done)
		p.mu.Lock()
		conn, ch := p.conn, p.ch
		p.conn, p.ch = nil, nil
		p.mu.Unlock()
		if ch != nil {
			_ = ch.Close()
		}
		if conn != nil {
			err = conn.Close()
		}
	})
	return err
}

// noopPublisher logs what would have been sent.
type noopPublisher struct {
	reason string
}

func newNoop(reason string) noopPublisher {
	log.Printf("rabbitmq disabled, using noop: %s", reason)
	return noopPublisher{reason: reason}
}

func (noopPublisher) Publish(_ context.Context, routingKey string, event any, _ map[string]string) error {
	switch envelope := event.(type) {
	case telemetry.AuditEnvelope:
		log.Printf("rabbitmq noop publish routing_key=%s event_type=%s action=%s request_id=%s", routingKey, envelope.EventType, envelope.Payload.Action, envelope.RequestID)
	case observability.EventEnvelope:
		log.Printf("rabbitmq noop publish routing_key=%s event_type=%s event_name=%s", routingKey, envelope.EventType, envelope.EventName)
	default:
		log.Printf("rabbitmq noop publish routing_key=%s", routingKey)
	}
	return nil
}

func (noopPublisher) Close() error { return nil }

// PublisherMode reports "amqp", "noop", or "unknown".
func PublisherMode(p Publisher) string {
	switch p.(type) {
	case *amqpPublisher:
		return "amqp"
	case noopPublisher:
		return "noop"
	default:
		return "unknown"
	}
}

// PublisherNoopReason explains why the noop publisher was chosen.
func PublisherNoopReason(p Publisher) string {
	if publisher, ok := p.(noopPublisher); ok {
		return publisher.reason
	}
	return ""
}
