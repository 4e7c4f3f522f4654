package alerts

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func TestKafkaNotifier_Publish(t *testing.T) {
	w := &fakeWriter{}
	n := &KafkaNotifier{w: w}
	at := time.Date(2026, 3, 4, 14, 30, 0, 0, time.UTC)

	err := n.NotifyAlertTriggered(context.Background(), Trigger{
		AlertID:     "a1",
		UserID:      "user-1",
		Symbol:      "AAPL",
		TargetPrice: 150,
		Price:       151.25,
		TriggeredAt: at,
	})
	require.NoError(t, err)

	require.Len(t, w.msgs, 1)
	msg := w.msgs[0]
	assert.Equal(t, "user-1", string(msg.Key))
	assert.Equal(t, at, msg.Time)

	var ev AlertTriggeredEvent
	require.NoError(t, json.Unmarshal(msg.Value, &ev))
	assert.NotEmpty(t, ev.EventID)
	assert.Equal(t, "a1", ev.AlertID)
	assert.Equal(t, "AAPL", ev.Symbol)
	assert.Equal(t, 151.25, ev.Price)
	assert.Equal(t, 150.0, ev.TargetPrice)
	assert.Equal(t, "2026-03-04T14:30:00Z", ev.TriggeredAt)

	require.NoError(t, n.Close())
	assert.True(t, w.closed)
}

func TestKafkaNotifier_WriteError(t *testing.T) {
	n := &KafkaNotifier{w: &fakeWriter{err: errors.New("broker down")}}

	err := n.NotifyAlertTriggered(context.Background(), Trigger{AlertID: "a9", UserID: "u"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "a9")
	assert.Contains(t, err.Error(), "broker down")
}

type recordingNotifier struct {
	mu    sync.Mutex
	seen  []Trigger
	err   error
	close error
}

func (r *recordingNotifier) NotifyAlertTriggered(ctx context.Context, t Trigger) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, t)
	return r.err
}

func (r *recordingNotifier) Close() error { return r.close }

func (r *recordingNotifier) triggers() []Trigger {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Trigger(nil), r.seen...)
}

func TestMultiNotifier(t *testing.T) {
	ok := &recordingNotifier{}
	bad := &recordingNotifier{err: errors.New("push failed"), close: errors.New("close failed")}
	m := MultiNotifier{bad, ok, NewLogNotifier(nil)}

	err := m.NotifyAlertTriggered(context.Background(), Trigger{AlertID: "a1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "push failed")
	assert.Len(t, ok.triggers(), 1)
	assert.Len(t, bad.triggers(), 1)

	err = m.Close()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "close failed")
}
