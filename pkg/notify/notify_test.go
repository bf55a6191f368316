package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

type fakeWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
	err  error
}

func (f *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error { return nil }

type recordingNotifier struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (r *recordingNotifier) Notify(ctx context.Context, event Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return r.err
}

func (r *recordingNotifier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func sampleEvent() Event {
	return Event{
		Type:        EventConfirmed,
		Reference:   "TB08J1A95005800P",
		UnitID:      "room-1",
		ServiceType: "hotel_room",
		HolderID:    "holder-1",
		Status:      "confirmed",
		Quantity:    1,
		Amount:      decimal.NewFromInt(240),
		Currency:    "USD",
		OccurredAt:  time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestKafkaNotifier(t *testing.T) {
	w := &fakeWriter{}
	n := &KafkaNotifier{w: w}

	require.NoError(t, n.Notify(context.Background(), sampleEvent()))
	require.Len(t, w.msgs, 1)

	msg := w.msgs[0]
	assert.Equal(t, "TB08J1A95005800P", string(msg.Key))
	assert.Equal(t, "event_type", msg.Headers[0].Key)
	assert.Equal(t, string(EventConfirmed), string(msg.Headers[0].Value))

	var decoded Event
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, "room-1", decoded.UnitID)
	assert.True(t, decoded.Amount.Equal(decimal.NewFromInt(240)))

	w.err = errors.New("broker down")
	assert.Error(t, n.Notify(context.Background(), sampleEvent()))
}

func TestEventKeyFallsBackToHold(t *testing.T) {
	ev := Event{HoldID: "hold-1"}
	assert.Equal(t, "hold-1", ev.Key())
}

func TestMulti(t *testing.T) {
	ok := &recordingNotifier{}
	failing := &recordingNotifier{err: errors.New("nope")}

	err := Multi{ok, failing, NewLogNotifier(quietLogger())}.Notify(context.Background(), sampleEvent())
	assert.Error(t, err)
	assert.Equal(t, 1, ok.count())
	assert.Equal(t, 1, failing.count())
}

func TestDispatcher(t *testing.T) {
	rec := &recordingNotifier{err: errors.New("ignored")}
	d := NewDispatcher(rec, quietLogger(), 16)

	ctx, cancel := context.WithCancel(context.Background())
	go d.Run(ctx)

	for i := 0; i < 5; i++ {
		require.NoError(t, d.Notify(context.Background(), sampleEvent()))
	}
	assert.Eventually(t, func() bool { return rec.count() == 5 }, time.Second, 5*time.Millisecond)

	cancel()
	d.Wait()
}

func TestDispatcher_DropsWhenFull(t *testing.T) {
	rec := &recordingNotifier{}
	d := NewDispatcher(rec, quietLogger(), 1)

	// Not running: the second event cannot be queued
	require.NoError(t, d.Notify(context.Background(), sampleEvent()))
	require.NoError(t, d.Notify(context.Background(), sampleEvent()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, d.Run(ctx))
	assert.Equal(t, 1, rec.count())
}
