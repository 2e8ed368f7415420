package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"schedcore/scheduling-service/internal/store"

	"github.com/stretchr/testify/assert"
)

type fakeSource struct {
	events []store.OutboxEvent
}

func (f *fakeSource) ListOutboxEventsAfter(ctx context.Context, afterSeq int64, limit int) ([]store.OutboxEvent, error) {
	var out []store.OutboxEvent
	for _, event := range f.events {
		if event.Seq > afterSeq {
			out = append(out, event)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

type fakeSink struct {
	keys   []string
	bodies [][]byte
	fail   bool
}

func (f *fakeSink) Publish(routingKey string, body []byte) error {
	if f.fail {
		return errors.New("broker unavailable")
	}
	f.keys = append(f.keys, routingKey)
	f.bodies = append(f.bodies, body)
	return nil
}

func outboxEvent(seq int64, eventType string, at time.Time) store.OutboxEvent {
	return store.OutboxEvent{
		Seq:       seq,
		EventID:   eventType + "-" + at.Format(time.RFC3339),
		AccountID: "account-1",
		Type:      eventType,
		Payload:   json.RawMessage(`{"ok":true}`),
		CreatedAt: at,
	}
}

func TestRelayDrainPublishesInOrder(t *testing.T) {
	base := time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)
	source := &fakeSource{events: []store.OutboxEvent{
		outboxEvent(1, "reservation.created", base.Add(time.Second)),
		outboxEvent(2, "queue.called", base.Add(2*time.Second)),
	}}
	sink := &fakeSink{}

	relay := NewRelay(source, sink, time.Second, 10)

	published, err := relay.Drain(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 2, published)
	assert.Equal(t, []string{"reservation.created", "queue.called"}, sink.keys)

	// A second drain from the advanced cursor finds nothing new.
	published, err = relay.Drain(context.Background())
	assert.NoError(t, err)
	assert.Zero(t, published)
}

func TestRelayDrainsTimestampTiesAcrossBatches(t *testing.T) {
	// Events staged in one transaction share created_at. With batch
	// size 1 the batch boundary splits the tie; the seq cursor must
	// still reach the second event on the next drain.
	at := time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)
	source := &fakeSource{events: []store.OutboxEvent{
		outboxEvent(1, "reservation.no_show", at),
		outboxEvent(2, "reservation.no_show_fee_due", at),
	}}
	sink := &fakeSink{}

	relay := NewRelay(source, sink, time.Second, 1)

	published, err := relay.Drain(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 1, published)

	published, err = relay.Drain(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 1, published)
	assert.Equal(t, []string{"reservation.no_show", "reservation.no_show_fee_due"}, sink.keys)

	published, err = relay.Drain(context.Background())
	assert.NoError(t, err)
	assert.Zero(t, published)
}

func TestRelayHoldsCursorOnPublishFailure(t *testing.T) {
	base := time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)
	source := &fakeSource{events: []store.OutboxEvent{
		outboxEvent(1, "reservation.created", base.Add(time.Second)),
	}}
	sink := &fakeSink{fail: true}

	relay := NewRelay(source, sink, time.Second, 10)

	_, err := relay.Drain(context.Background())
	assert.Error(t, err)

	// The event is retried once the broker recovers.
	sink.fail = false
	published, err := relay.Drain(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 1, published)
}

func TestRelayEnvelopeShape(t *testing.T) {
	base := time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)
	source := &fakeSource{events: []store.OutboxEvent{
		outboxEvent(7, "queue.pre_call", base.Add(time.Second)),
	}}
	sink := &fakeSink{}

	relay := NewRelay(source, sink, time.Second, 10)

	_, err := relay.Drain(context.Background())
	assert.NoError(t, err)
	assert.Len(t, sink.bodies, 1)

	var envelope relayEnvelope
	assert.NoError(t, json.Unmarshal(sink.bodies[0], &envelope))
	assert.Equal(t, int64(7), envelope.Seq)
	assert.Equal(t, "queue.pre_call", envelope.Type)
	assert.Equal(t, "account-1", envelope.AccountID)
	assert.JSONEq(t, `{"ok":true}`, string(envelope.Payload))
}
