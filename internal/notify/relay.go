package notify

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"schedcore/scheduling-service/internal/store"
)

// EventSink is the publish side the relay drains into.
type EventSink interface {
	Publish(routingKey string, body []byte) error
}

// EventSource is the slice of the store the relay reads from.
type EventSource interface {
	ListOutboxEventsAfter(ctx context.Context, afterSeq int64, limit int) ([]store.OutboxEvent, error)
}

// Relay polls the outbox and forwards new events to the sink in staging
// order. Publishing is at-least-once: the cursor is the seq of the last
// published event and only moves past events that published
// successfully. A fresh relay starts at seq 0 and re-delivers the whole
// outbox; consumers dedupe on event_id.
type Relay struct {
	source    EventSource
	sink      EventSink
	interval  time.Duration
	batchSize int
	cursor    int64
}

func NewRelay(source EventSource, sink EventSink, interval time.Duration, batchSize int) *Relay {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Relay{
		source:    source,
		sink:      sink,
		interval:  interval,
		batchSize: batchSize,
	}
}

// Run blocks until the context is cancelled.
func (r *Relay) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if published, err := r.Drain(ctx); err != nil {
				log.Printf("outbox relay error: %v", err)
			} else if published > 0 {
				log.Printf("outbox relay published=%d", published)
			}
		}
	}
}

// Drain forwards one batch and returns how many events were published.
func (r *Relay) Drain(ctx context.Context) (int, error) {
	events, err := r.source.ListOutboxEventsAfter(ctx, r.cursor, r.batchSize)
	if err != nil {
		return 0, err
	}

	published := 0
	for _, event := range events {
		body, err := json.Marshal(relayEnvelope{
			Seq:       event.Seq,
			EventID:   event.EventID,
			AccountID: event.AccountID,
			Type:      event.Type,
			Payload:   event.Payload,
			CreatedAt: event.CreatedAt,
		})
		if err != nil {
			return published, err
		}
		if err := r.sink.Publish(event.Type, body); err != nil {
			return published, err
		}
		r.cursor = event.Seq
		published++
	}
	return published, nil
}

type relayEnvelope struct {
	Seq       int64           `json:"seq"`
	EventID   string          `json:"event_id"`
	AccountID string          `json:"account_id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}
