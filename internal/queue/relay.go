package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/iliyamo/event-seat-reservation/internal/model"
)

// Channel is the part of *amqp.Channel the relay needs.
type Channel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Dialer opens a channel to the broker.  The returned closer releases
// the underlying connection.
type Dialer func(url string) (Channel, func() error, error)

// DialAMQP connects with amqp091-go.
func DialAMQP(url string) (Channel, func() error, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, fmt.Errorf("dial broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("channel open: %w", err)
	}
	return ch, conn.Close, nil
}

// Relay forwards seat-state events to SeatStateQueue off the request
// path.  Enqueue never blocks: when the buffer is full the event is
// dropped with a warning, since the store is the source of truth and a
// live chart can always be rebuilt from it.
type Relay struct {
	url     string
	dial    Dialer
	events  chan model.SeatStateEvent
	logger  *slog.Logger
	dropped atomic.Int64
	timeout time.Duration

	ch    Channel
	close func() error
}

// NewRelay returns a relay buffering up to size events.
func NewRelay(url string, size int, dial Dialer, logger *slog.Logger) *Relay {
	if size < 1 {
		size = 256
	}
	if dial == nil {
		dial = DialAMQP
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{
		url:     url,
		dial:    dial,
		events:  make(chan model.SeatStateEvent, size),
		logger:  logger,
		timeout: 5 * time.Second,
	}
}

// Enqueue buffers ev for publishing.  It is meant to be registered as a
// broadcast hub subscriber.
func (r *Relay) Enqueue(ev model.SeatStateEvent) {
	select {
	case r.events <- ev:
	default:
		n := r.dropped.Add(1)
		r.logger.Warn("seat-state relay buffer full, dropping event", "seat", ev.Seat, "state", ev.State, "dropped_total", n)
	}
}

// Dropped returns how many events were discarded because the buffer was
// full or the broker rejected them.
func (r *Relay) Dropped() int64 { return r.dropped.Load() }

// Run publishes buffered events until ctx is cancelled.  A failed
// publish closes the channel; the next event reconnects.
func (r *Relay) Run(ctx context.Context) {
	defer r.disconnect()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-r.events:
			if err := r.publish(ctx, ev); err != nil {
				r.logger.Warn("seat-state publish failed, retrying once", "seat", ev.Seat, "err", err)
				r.disconnect()
				if err := r.publish(ctx, ev); err != nil {
					r.dropped.Add(1)
					r.logger.Error("seat-state publish failed", "seat", ev.Seat, "state", ev.State, "err", err)
					r.disconnect()
				}
			}
		}
	}
}

func (r *Relay) connect() error {
	if r.ch != nil {
		return nil
	}
	ch, closer, err := r.dial(r.url)
	if err != nil {
		return err
	}
	// Durable so messages survive broker restarts.
	if _, err := ch.QueueDeclare(SeatStateQueue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		if closer != nil {
			_ = closer()
		}
		return fmt.Errorf("queue declare: %w", err)
	}
	r.ch, r.close = ch, closer
	return nil
}

func (r *Relay) disconnect() {
	if r.ch != nil {
		_ = r.ch.Close()
	}
	if r.close != nil {
		_ = r.close()
	}
	r.ch, r.close = nil, nil
}

func (r *Relay) publish(ctx context.Context, ev model.SeatStateEvent) error {
	if err := r.connect(); err != nil {
		return err
	}
	now := time.Now()
	body, err := encodeMessage(ev, now)
	if err != nil {
		return err
	}
	pubCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return r.ch.PublishWithContext(pubCtx,
		"",             // default exchange
		SeatStateQueue, // routing key = queue name
		false,          // mandatory
		false,          // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    now.UTC(),
			Body:         body,
		})
}
