package queue

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/event-seat-reservation/internal/model"
)

type fakeChannel struct {
	mu        sync.Mutex
	published []amqp.Publishing
	failNext  int
	declared  []string
	closed    bool
}

func (f *fakeChannel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.declared = append(f.declared, name)
	return amqp.Queue{Name: name}, nil
}

func (f *fakeChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext > 0 {
		f.failNext--
		return errors.New("channel closed")
	}
	f.published = append(f.published, msg)
	return nil
}

func (f *fakeChannel) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeChannel) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.published)
}

func TestRelayPublishesBufferedEvents(t *testing.T) {
	ch := &fakeChannel{}
	dials := 0
	relay := NewRelay("amqp://test", 8, func(string) (Channel, func() error, error) {
		dials++
		return ch, nil, nil
	}, nil)

	relay.Enqueue(model.SeatStateEvent{Seat: "S1-1", State: model.SeatOccupied, ReservationID: 5})
	relay.Enqueue(model.SeatStateEvent{Seat: "S1-2", State: model.SeatFree, ReservationID: 5})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { relay.Run(ctx); close(done) }()

	require.Eventually(t, func() bool { return ch.count() == 2 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	<-done

	assert.Equal(t, 1, dials)
	assert.Equal(t, []string{SeatStateQueue}, ch.declared)
	msg, err := decodeMessage(ch.published[0].Body)
	require.NoError(t, err)
	assert.Equal(t, "S1-1", msg.Seat)
	assert.Equal(t, model.SeatOccupied, msg.State)
	assert.Equal(t, int64(5), msg.ReservationID)
	assert.Equal(t, amqp.Persistent, ch.published[0].DeliveryMode)
	assert.True(t, ch.closed)
}

func TestRelayReconnectsAfterPublishFailure(t *testing.T) {
	ch := &fakeChannel{failNext: 1}
	dials := 0
	relay := NewRelay("amqp://test", 8, func(string) (Channel, func() error, error) {
		dials++
		return ch, nil, nil
	}, nil)
	relay.Enqueue(model.SeatStateEvent{Seat: "S3-1", State: model.SeatOccupied})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { relay.Run(ctx); close(done) }()
	require.Eventually(t, func() bool { return ch.count() == 1 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	<-done

	assert.Equal(t, 2, dials)
	assert.Zero(t, relay.Dropped())
}

func TestRelayDropsWhenBufferFull(t *testing.T) {
	relay := NewRelay("amqp://test", 1, func(string) (Channel, func() error, error) {
		return nil, nil, errors.New("unreachable")
	}, nil)
	relay.Enqueue(model.SeatStateEvent{Seat: "S1-1", State: model.SeatOccupied})
	relay.Enqueue(model.SeatStateEvent{Seat: "S1-2", State: model.SeatOccupied})
	assert.Equal(t, int64(1), relay.Dropped())
}

func TestHandleMessageAppendsAuditLine(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "logs", "seats.log")
	at := time.Date(2026, 3, 1, 18, 30, 0, 0, time.UTC)

	body, err := encodeMessage(model.SeatStateEvent{Seat: "S2-4", State: model.SeatOccupied, ReservationID: 77}, at)
	require.NoError(t, err)
	require.NoError(t, handleMessage(body, logPath))
	body, err = encodeMessage(model.SeatStateEvent{Seat: "S2-4", State: model.SeatFree, ReservationID: 77}, at)
	require.NoError(t, err)
	require.NoError(t, handleMessage(body, logPath))

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "[2026-03-01T18:30:00Z] Seat occupied | seat=S2-4 | reservation_id=77", lines[0])
	assert.Contains(t, lines[1], "Seat free")
}

func TestHandleMessageRejectsGarbage(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "seats.log")
	assert.Error(t, handleMessage([]byte("not json"), logPath))
	assert.Error(t, handleMessage([]byte(`{"seat":"S1-1","state":"maybe"}`), logPath))
	assert.NoFileExists(t, logPath)
}
