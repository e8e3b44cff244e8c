package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/concierge/core/queue"
	"github.com/m3rciful/concierge/core/store"
	"github.com/m3rciful/concierge/core/store/storetest"
	"github.com/m3rciful/concierge/core/telegram"
)

func message(t *testing.T, id, eventType, update string) queue.Message {
	t.Helper()
	body, err := queue.Envelope{
		EventType:  eventType,
		Update:     json.RawMessage(update),
		ReceivedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}.Marshal()
	require.NoError(t, err)
	return queue.Message{ID: id, Receipt: id, Body: body}
}

func textUpdate(updateID int, text string) string {
	return fmt.Sprintf(`{"update_id":%d,"message":{"message_id":1,"text":%q,"chat":{"id":9},"from":{"id":9,"first_name":"A"}}}`, updateID, text)
}

func TestDedupEvents(t *testing.T) {
	st := storetest.New()
	p := NewProcessor(st, telegram.NewRegistry(), Options{DedupEvents: true})
	m := message(t, "a", "message", textUpdate(77, "hi"))

	require.NoError(t, p.Handle(context.Background(), m))
	require.NoError(t, p.Handle(context.Background(), m))
	events := st.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "update:77", *events[0].DedupKey)
	assert.Equal(t, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), events[0].OccurredAt)
}

func TestWithoutDedupRedeliveryAppendsTwice(t *testing.T) {
	st := storetest.New()
	p := NewProcessor(st, nil, Options{})
	m := message(t, "a", "message", textUpdate(77, "hi"))
	require.NoError(t, p.Handle(context.Background(), m))
	require.NoError(t, p.Handle(context.Background(), m))
	assert.Len(t, st.Events(), 2)
}

func TestUnknownTypeIsRecorded(t *testing.T) {
	st := storetest.New()
	p := NewProcessor(st, nil, Options{})
	require.NoError(t, p.Handle(context.Background(), message(t, "a", "poll", `{"update_id":3}`)))
	events := st.Events()
	require.Len(t, events, 1)
	assert.Equal(t, store.UnknownUserID, events[0].UserID)
	assert.Equal(t, "poll", events[0].EventType)
}

func TestCallbackUpsertsAndDispatches(t *testing.T) {
	st := storetest.New()
	reg := telegram.NewRegistry()
	var got string
	require.NoError(t, reg.RegisterCallback("menu", func(_ context.Context, cb *tele.Callback, payload string) error {
		got = payload
		return nil
	}))
	p := NewProcessor(st, reg, Options{})
	upd := `{"update_id":5,"callback_query":{"id":"q","data":"\fmenu|open","from":{"id":11,"first_name":"B","language_code":"es"}}}`
	require.NoError(t, p.Handle(context.Background(), message(t, "a", "callback_query", upd)))

	u, ok := st.User("telegram_11")
	require.True(t, ok)
	assert.Equal(t, "es", u.LanguageCode)
	assert.Equal(t, "open", got)
	assert.Equal(t, "telegram_11", st.Events()[0].UserID)
}

func TestEditedMessageIsNoop(t *testing.T) {
	st := storetest.New()
	p := NewProcessor(st, nil, Options{})
	upd := `{"update_id":6,"edited_message":{"message_id":1,"text":"x","chat":{"id":3},"from":{"id":3,"first_name":"C"}}}`
	require.NoError(t, p.Handle(context.Background(), message(t, "a", "edited_message", upd)))
	_, ok := st.User("telegram_3")
	assert.False(t, ok)
	assert.Len(t, st.Events(), 1)
}

func TestRoutingErrorSkipsEvent(t *testing.T) {
	st := storetest.New()
	reg := telegram.NewRegistry()
	boom := errors.New("boom")
	require.NoError(t, reg.RegisterCommand("/start", telegram.Command{
		Description: "start",
		Handler:     func(context.Context, *tele.Message, string) error { return boom },
	}))
	p := NewProcessor(st, reg, Options{})
	err := p.Handle(context.Background(), message(t, "a", "message", textUpdate(1, "/start")))
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, st.Events())
}

func TestMalformedBodyFails(t *testing.T) {
	p := NewProcessor(storetest.New(), nil, Options{})
	assert.Error(t, p.Handle(context.Background(), queue.Message{ID: "x", Body: []byte("{")}))
	assert.Error(t, p.Handle(context.Background(), message(t, "y", "message", `"not an update"`)))
}

func TestProcessBatchPartialFailureAndPanic(t *testing.T) {
	st := storetest.New()
	reg := telegram.NewRegistry()
	require.NoError(t, reg.RegisterCommand("/fail", telegram.Command{
		Description: "fail",
		Handler:     func(context.Context, *tele.Message, string) error { return errors.New("nope") },
	}))
	require.NoError(t, reg.RegisterCommand("/panic", telegram.Command{
		Description: "panic",
		Handler:     func(context.Context, *tele.Message, string) error { panic("handler bug") },
	}))
	p := NewProcessor(st, reg, Options{Concurrency: 2})

	res := p.ProcessBatch(context.Background(), []queue.Message{
		message(t, "ok-1", "message", textUpdate(1, "hello")),
		message(t, "bad", "message", textUpdate(2, "/fail")),
		message(t, "ok-2", "message", textUpdate(3, "hey")),
		message(t, "boom", "message", textUpdate(4, "/panic")),
	})
	assert.Equal(t, []string{"ok-1", "ok-2"}, res.Succeeded)
	assert.Equal(t, []string{"bad", "boom"}, res.Failed)
}

func TestProcessBatchRespectsConcurrency(t *testing.T) {
	reg := telegram.NewRegistry()
	var inFlight, peak atomic.Int32
	require.NoError(t, reg.RegisterCommand("/slow", telegram.Command{
		Description: "slow",
		Handler: func(context.Context, *tele.Message, string) error {
			n := inFlight.Add(1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			inFlight.Add(-1)
			return nil
		},
	}))
	p := NewProcessor(storetest.New(), reg, Options{Concurrency: 2})
	msgs := make([]queue.Message, 6)
	for i := range msgs {
		msgs[i] = message(t, fmt.Sprint(i), "message", textUpdate(i+1, "/slow"))
	}
	res := p.ProcessBatch(context.Background(), msgs)
	assert.Len(t, res.Succeeded, 6)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

type scriptedConsumer struct {
	batches [][]queue.Message
	acked   [][]queue.Message
	err     error
}

func (c *scriptedConsumer) Receive(context.Context) ([]queue.Message, error) {
	if c.err != nil {
		return nil, c.err
	}
	if len(c.batches) == 0 {
		return nil, nil
	}
	b := c.batches[0]
	c.batches = c.batches[1:]
	return b, nil
}

func (c *scriptedConsumer) Ack(_ context.Context, msgs []queue.Message) error {
	c.acked = append(c.acked, msgs)
	return nil
}

func TestPollAcksOnlySucceeded(t *testing.T) {
	reg := telegram.NewRegistry()
	require.NoError(t, reg.RegisterCommand("/fail", telegram.Command{
		Description: "fail",
		Handler:     func(context.Context, *tele.Message, string) error { return errors.New("nope") },
	}))
	c := &scriptedConsumer{batches: [][]queue.Message{{
		message(t, "ok", "message", textUpdate(1, "hi")),
		message(t, "bad", "message", textUpdate(2, "/fail")),
	}}}
	r := NewRunner(c, NewProcessor(storetest.New(), reg, Options{}))

	require.NoError(t, r.Poll(context.Background()))
	require.Len(t, c.acked, 1)
	require.Len(t, c.acked[0], 1)
	assert.Equal(t, "ok", c.acked[0][0].ID)
}

func TestRunStopsOnCancel(t *testing.T) {
	c := &scriptedConsumer{err: errors.New("receive failed")}
	r := NewRunner(c, NewProcessor(storetest.New(), nil, Options{}))
	r.ErrorBackoff = time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.NoError(t, r.Run(ctx))
}

func TestDeriveErrorCode(t *testing.T) {
	assert.Equal(t, "", deriveErrorCode(nil))
	assert.Equal(t, "ERROR", deriveErrorCode(fmt.Errorf("wrap: %w", tele.ErrBlockedByUser)))
	assert.Equal(t, "CODED", deriveErrorCode(fmt.Errorf("wrap: %w", codedError{})))
}

type codedError struct{}

func (codedError) Error() string { return "x" }
func (codedError) Code() string  { return "coded" }
