package mqhandler

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	mqcontracts "milestonehub/contracts/mq"
	"milestonehub/pkg/util"
)

type transientErr struct{}

func (transientErr) Error() string   { return "reviewer inbox unavailable" }
func (transientErr) Retryable() bool { return true }

type fakeNotifier struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (n *fakeNotifier) NotifyReviewers(_ context.Context, _ mqcontracts.MilestoneSubmittedPayload) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls++
	return n.err
}

type dlqMessage struct {
	routingKey string
	payload    []byte
	reason     string
}

type fakeDLQ struct {
	mu       sync.Mutex
	messages []dlqMessage
}

func (d *fakeDLQ) PublishToDLQ(_ context.Context, routingKey string, payload []byte, originalError string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.messages = append(d.messages, dlqMessage{routingKey, payload, originalError})
	return nil
}

type handlerFixture struct {
	handler  *MilestoneSubmittedHandler
	notifier *fakeNotifier
	dlq      *fakeDLQ
	logs     *observer.ObservedLogs
	mr       *miniredis.Miniredis
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	core, logs := observer.New(zapcore.InfoLevel)
	f := &handlerFixture{notifier: &fakeNotifier{}, dlq: &fakeDLQ{}, logs: logs, mr: mr}
	f.handler = NewMilestoneSubmittedHandler(
		f.notifier,
		f.dlq,
		util.NewDeduper(rdb, time.Hour, nil),
		util.NewRetryCounter(rdb, time.Hour),
		zap.New(core),
	).WithMaxRetries(2)
	return f
}

func submittedEvent(t *testing.T, eventID string) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(mqcontracts.MilestoneSubmittedPayload{
		EventID:     eventID,
		ProjectID:   "prj-harbor-bridge",
		MilestoneID: "ms-structural-survey",
		Files:       []mqcontracts.SubmittedFile{{ID: "f-1", Name: "survey.pdf", Size: 1000, Version: 1}},
		SubmittedAt: time.Date(2026, 11, 20, 10, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	return raw
}

func TestMilestoneSubmittedHandler_NotifiesOnce(t *testing.T) {
	f := newHandlerFixture(t)
	ctx := context.Background()
	raw := submittedEvent(t, "key-1")

	require.NoError(t, f.handler.Handle(ctx, raw))
	require.NoError(t, f.handler.Handle(ctx, raw))

	assert.Equal(t, 1, f.notifier.calls)
	assert.Empty(t, f.dlq.messages)
	assert.Equal(t, 1, f.logs.FilterMessage("Duplicate milestone.submitted event skipped").Len())
	assert.False(t, f.mr.Exists(util.FormatRetryKey(handlerName, "key-1")))
}

func TestMilestoneSubmittedHandler_InvalidPayloadGoesToDLQ(t *testing.T) {
	f := newHandlerFixture(t)

	err := f.handler.Handle(context.Background(), json.RawMessage(`{"event_id":`))
	require.NoError(t, err)

	require.Len(t, f.dlq.messages, 1)
	assert.Equal(t, mqcontracts.RoutingMilestoneSubmitted, f.dlq.messages[0].routingKey)
	assert.Zero(t, f.notifier.calls)

	require.NoError(t, f.handler.Handle(context.Background(), json.RawMessage(`{"milestone_id":"ms-1"}`)))
	assert.Len(t, f.dlq.messages, 2)
	assert.Equal(t, "missing event_id", f.dlq.messages[1].reason)
}

func TestMilestoneSubmittedHandler_RetriesTransientErrors(t *testing.T) {
	f := newHandlerFixture(t)
	f.notifier.err = transientErr{}
	ctx := context.Background()
	raw := submittedEvent(t, "key-1")

	// attempts 1 and 2 are nacked, attempt 3 exceeds the limit
	assert.Error(t, f.handler.Handle(ctx, raw))
	assert.Error(t, f.handler.Handle(ctx, raw))
	assert.NoError(t, f.handler.Handle(ctx, raw))

	assert.Equal(t, 3, f.notifier.calls)
	require.Len(t, f.dlq.messages, 1)
	assert.Equal(t, "reviewer inbox unavailable", f.dlq.messages[0].reason)
	assert.Equal(t, 1, f.logs.FilterMessage("Max retries exceeded, sending to DLQ").Len())
	assert.False(t, f.mr.Exists(util.FormatRetryKey(handlerName, "key-1")))
}

func TestMilestoneSubmittedHandler_RecoversAfterRetry(t *testing.T) {
	f := newHandlerFixture(t)
	f.notifier.err = transientErr{}
	ctx := context.Background()
	raw := submittedEvent(t, "key-1")

	assert.Error(t, f.handler.Handle(ctx, raw))

	f.notifier.err = nil
	assert.NoError(t, f.handler.Handle(ctx, raw))
	assert.Equal(t, 2, f.notifier.calls)
	assert.Empty(t, f.dlq.messages)
}

func TestMilestoneSubmittedHandler_PermanentErrorGoesToDLQ(t *testing.T) {
	f := newHandlerFixture(t)
	f.notifier.err = errors.New("reviewer list empty")

	require.NoError(t, f.handler.Handle(context.Background(), submittedEvent(t, "key-1")))

	assert.Equal(t, 1, f.notifier.calls)
	require.Len(t, f.dlq.messages, 1)
	assert.Equal(t, "reviewer list empty", f.dlq.messages[0].reason)

	// dead-lettered events stay deduplicated
	require.NoError(t, f.handler.Handle(context.Background(), submittedEvent(t, "key-1")))
	assert.Equal(t, 1, f.notifier.calls)
}

func TestLogNotifier(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	n := NewLogNotifier(zap.New(core))

	p := mqcontracts.MilestoneSubmittedPayload{
		ProjectID:   "prj-1",
		MilestoneID: "ms-1",
		Files:       []mqcontracts.SubmittedFile{{Name: "a.pdf"}, {Name: "b.dwg"}},
	}
	require.NoError(t, n.NotifyReviewers(context.Background(), p))

	entries := logs.FilterMessage("Milestone ready for review").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "ms-1", entries[0].ContextMap()["milestone_id"])
}
