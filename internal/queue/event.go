// Package queue relays seat-state changes to the message broker and
// optionally consumes them back into an audit log.
package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/iliyamo/event-seat-reservation/internal/model"
)

// SeatStateQueue is the durable queue the real-time broadcaster reads.
const SeatStateQueue = "seat.state"

// SeatStateMessage is the payload published for every seat-state change.
// It carries enough for a downstream consumer to update a live seating
// chart without querying the store.
type SeatStateMessage struct {
	model.SeatStateEvent
	ChangedAt string `json:"changed_at"`
}

func encodeMessage(ev model.SeatStateEvent, at time.Time) ([]byte, error) {
	body, err := json.Marshal(SeatStateMessage{SeatStateEvent: ev, ChangedAt: at.UTC().Format(time.RFC3339)})
	if err != nil {
		return nil, fmt.Errorf("marshal seat event: %w", err)
	}
	return body, nil
}

func decodeMessage(body []byte) (SeatStateMessage, error) {
	var msg SeatStateMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return SeatStateMessage{}, fmt.Errorf("unmarshal: %w", err)
	}
	if msg.Seat == "" || (msg.State != model.SeatOccupied && msg.State != model.SeatFree) {
		return SeatStateMessage{}, fmt.Errorf("incomplete seat event")
	}
	return msg, nil
}
