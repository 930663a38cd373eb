// Package events publishes reservation lifecycle transitions to RabbitMQ.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/example/room-scheduler/internal/application"
)

// DefaultQueue is used when no queue name is configured.
const DefaultQueue = "reservation-events"

// Envelope wraps every published message.
type Envelope struct {
	Type       string          `json:"type"`
	OccurredAt time.Time       `json:"occurred_at"`
	ActorID    string          `json:"actor_id,omitempty"`
	Payload    json.RawMessage `json:"payload"`
}

// ReservationPayload is the payload of reservation.* events.
type ReservationPayload struct {
	ID          string     `json:"id"`
	WorkspaceID string     `json:"workspace_id"`
	RoomID      string     `json:"room_id"`
	Start       time.Time  `json:"start_at"`
	End         time.Time  `json:"end_at"`
	Status      string     `json:"status"`
	Subject     string     `json:"subject"`
	Criticality string     `json:"criticality"`
	CreatedBy   string     `json:"created_by"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`
}

// Encode renders event as a JSON envelope.
func Encode(event application.ReservationEvent) ([]byte, error) {
	r := event.Reservation
	payload, err := json.Marshal(ReservationPayload{
		ID:          r.ID,
		WorkspaceID: r.WorkspaceID,
		RoomID:      r.RoomID,
		Start:       r.Start.UTC(),
		End:         r.End.UTC(),
		Status:      string(r.Status),
		Subject:     r.Subject,
		Criticality: string(r.Criticality),
		CreatedBy:   r.CreatedBy,
		CancelledAt: r.CancelledAt,
	})
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return json.Marshal(Envelope{
		Type:       event.Type,
		OccurredAt: event.OccurredAt.UTC(),
		ActorID:    event.ActorID,
		Payload:    payload,
	})
}

// channel is the part of *amqp.Channel the publisher uses.
type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// dialer opens a channel with the queue declared, plus the connection to close.
// The AMQP handshake must give up after timeout.
type dialer func(url, queue string, timeout time.Duration) (channel, io.Closer, error)

func dialAMQP(url, queue string, timeout time.Duration) (channel, io.Closer, error) {
	conn, err := amqp.DialConfig(url, amqp.Config{
		Dial:      amqp.DefaultDial(timeout),
		Heartbeat: 10 * time.Second,
		Locale:    "en_US",
	})
	if err != nil {
		return nil, nil, fmt.Errorf("dial broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("open channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, nil, fmt.Errorf("declare queue %s: %w", queue, err)
	}
	return ch, conn, nil
}

const (
	// DefaultDialTimeout bounds the TCP connect and AMQP handshake.
	DefaultDialTimeout = 3 * time.Second
	// DefaultRedialBackoff is how long publishes fail fast after a failed dial.
	DefaultRedialBackoff = 5 * time.Second
)

// ErrBrokerUnavailable is returned while the publisher waits out the redial backoff.
var ErrBrokerUnavailable = errors.New("broker unavailable")

// Option configures an AMQPPublisher.
type Option func(*AMQPPublisher)

// WithDialTimeout overrides DefaultDialTimeout.
func WithDialTimeout(d time.Duration) Option {
	return func(p *AMQPPublisher) {
		if d > 0 {
			p.dialTimeout = d
		}
	}
}

// WithRedialBackoff overrides DefaultRedialBackoff. Zero disables it.
func WithRedialBackoff(d time.Duration) Option {
	return func(p *AMQPPublisher) {
		if d >= 0 {
			p.redialBackoff = d
		}
	}
}

// AMQPPublisher sends persistent JSON messages to a durable queue through
// the default exchange. The connection is opened on first use and reopened
// after a failed publish. Dialing happens outside the lock and is bounded by
// the dial timeout and the caller's deadline.
type AMQPPublisher struct {
	url           string
	queue         string
	dial          dialer
	dialTimeout   time.Duration
	redialBackoff time.Duration
	now           func() time.Time
	logger        *slog.Logger

	mu         sync.Mutex
	ch         channel
	conn       io.Closer
	retryAfter time.Time
}

// NewAMQPPublisher returns a publisher for url. queue defaults to DefaultQueue.
func NewAMQPPublisher(url, queue string, logger *slog.Logger, opts ...Option) *AMQPPublisher {
	if queue == "" {
		queue = DefaultQueue
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &AMQPPublisher{
		url:           url,
		queue:         queue,
		dial:          dialAMQP,
		dialTimeout:   DefaultDialTimeout,
		redialBackoff: DefaultRedialBackoff,
		now:           time.Now,
		logger:        logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// PublishReservationEvent implements application.EventPublisher.
func (p *AMQPPublisher) PublishReservationEvent(ctx context.Context, event application.ReservationEvent) error {
	if p == nil {
		return errors.New("AMQPPublisher is nil")
	}
	body, err := Encode(event)
	if err != nil {
		return err
	}

	ch, err := p.channel(ctx)
	if err != nil {
		return fmt.Errorf("publish %s: %w", event.Type, err)
	}

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    event.OccurredAt.UTC(),
		Type:         event.Type,
		MessageId:    event.Reservation.ID + ":" + event.Type + ":" + event.OccurredAt.UTC().Format(time.RFC3339Nano),
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx, "", p.queue, false, false, msg); err != nil {
		p.mu.Lock()
		if p.ch == ch {
			_ = p.resetLocked()
		}
		p.mu.Unlock()
		return fmt.Errorf("publish %s: %w", event.Type, err)
	}

	p.logger.DebugContext(ctx, "reservation event published", "event_type", event.Type, "reservation_id", event.Reservation.ID, "queue", p.queue)
	return nil
}

// channel returns the open channel, dialing a new one when needed.
func (p *AMQPPublisher) channel(ctx context.Context) (channel, error) {
	p.mu.Lock()
	if p.ch != nil {
		ch := p.ch
		p.mu.Unlock()
		return ch, nil
	}
	if p.now().Before(p.retryAfter) {
		p.mu.Unlock()
		return nil, ErrBrokerUnavailable
	}
	p.mu.Unlock()

	timeout := p.dialTimeout
	if deadline, ok := ctx.Deadline(); ok {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, ctx.Err()
		}
		timeout = min(timeout, remaining)
	}

	ch, conn, err := p.dial(p.url, p.queue, timeout)

	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil {
		if p.redialBackoff > 0 {
			p.retryAfter = p.now().Add(p.redialBackoff)
		}
		p.logger.WarnContext(ctx, "broker dial failed", "error", err, "timeout", timeout, "retry_after", p.redialBackoff)
		return nil, err
	}
	if p.ch != nil {
		// A concurrent publish dialed first.
		_ = ch.Close()
		_ = conn.Close()
		return p.ch, nil
	}
	p.ch, p.conn = ch, conn
	p.retryAfter = time.Time{}
	return ch, nil
}

// Close releases the broker connection.
func (p *AMQPPublisher) Close() error {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.resetLocked()
}

func (p *AMQPPublisher) resetLocked() error {
	var errs []error
	if p.ch != nil {
		errs = append(errs, p.ch.Close())
	}
	if p.conn != nil {
		errs = append(errs, p.conn.Close())
	}
	p.ch, p.conn = nil, nil
	return errors.Join(errs...)
}
