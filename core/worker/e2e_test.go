package worker

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m3rciful/concierge/core/fsm"
	"github.com/m3rciful/concierge/core/greeting"
	"github.com/m3rciful/concierge/core/ingress"
	"github.com/m3rciful/concierge/core/onboarding"
	"github.com/m3rciful/concierge/core/queue"
	"github.com/m3rciful/concierge/core/secrets"
	"github.com/m3rciful/concierge/core/storage/objectstore"
	"github.com/m3rciful/concierge/core/store/storetest"
	"github.com/m3rciful/concierge/core/telegram"
)

// memQueue is an in-memory Producer and Consumer.
type memQueue struct {
	mu      sync.Mutex
	seq     int
	pending []queue.Message
	acked   []string
}

func (q *memQueue) Publish(_ context.Context, env queue.Envelope) error {
	body, err := env.Marshal()
	if err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.seq++
	id := fmt.Sprintf("m-%d", q.seq)
	q.pending = append(q.pending, queue.Message{ID: id, Receipt: id, Body: body, Attributes: env.Attributes(), ReceiveCount: 1})
	return nil
}

func (q *memQueue) Receive(context.Context) ([]queue.Message, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.pending
	q.pending = nil
	return out, nil
}

func (q *memQueue) Ack(_ context.Context, msgs []queue.Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, m := range msgs {
		q.acked = append(q.acked, m.ID)
	}
	return nil
}

type memObjects struct {
	mu   sync.Mutex
	objs map[string][]byte
	puts int
}

func (m *memObjects) Exists(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objs[key]
	return ok, nil
}

func (m *memObjects) Put(_ context.Context, key string, body []byte, _ objectstore.PutOptions) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objs[key] = body
	m.puts++
	return nil
}

type countingSynth struct{ calls int }

func (s *countingSynth) Synthesize(context.Context, string, string) (io.ReadCloser, error) {
	s.calls++
	return io.NopCloser(strings.NewReader("ID3-mp3")), nil
}

type urlSigner struct{}

func (urlSigner) Sign(_ context.Context, key string, ttl time.Duration) (string, error) {
	return fmt.Sprintf("https://cdn.test/%s?Expires=%d", key, int(ttl.Seconds())), nil
}

type recorder struct {
	mu   sync.Mutex
	sent []telegram.Message
}

func (r *recorder) Send(_ context.Context, m telegram.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, m)
	return nil
}

type pipeline struct {
	t       *testing.T
	srv     *httptest.Server
	queue   *memQueue
	runner  *Runner
	store   *storetest.Memory
	objects *memObjects
	synth   *countingSynth
	out     *recorder
	nextID  int
}

const webhookSecret = "e2e-secret"

func newPipeline(t *testing.T, opts Options) *pipeline {
	t.Helper()
	p := &pipeline{
		t:       t,
		queue:   &memQueue{},
		store:   storetest.New(),
		objects: &memObjects{objs: map[string][]byte{}},
		synth:   &countingSynth{},
		out:     &recorder{},
		nextID:  1000,
	}
	cache := greeting.NewCache(p.objects, p.synth)
	svc := onboarding.NewService(p.store, urlSigner{}, cache, p.out, onboarding.Options{})
	reg := telegram.NewRegistry()
	require.NoError(t, svc.Register(reg))

	p.runner = NewRunner(p.queue, NewProcessor(p.store, reg, opts))
	p.srv = httptest.NewServer(ingress.NewRouter("/webhook", ingress.NewHandler(secrets.Value(webhookSecret), p.queue)))
	t.Cleanup(p.srv.Close)
	return p
}

// send posts a message update from user 42 and drains the queue.
func (p *pipeline) send(text string) {
	p.t.Helper()
	p.nextID++
	body := fmt.Sprintf(`{"update_id":%d,"message":{"message_id":%d,"date":1767225600,"text":%q,
		"chat":{"id":42,"type":"private"},
		"from":{"id":42,"is_bot":false,"first_name":"Lucia","username":"lucia","language_code":"en"}}}`,
		p.nextID, p.nextID, text)
	req, err := http.NewRequest(http.MethodPost, p.srv.URL+"/webhook", strings.NewReader(body))
	require.NoError(p.t, err)
	req.Header.Set(ingress.SecretHeader, webhookSecret)
	resp, err := p.srv.Client().Do(req)
	require.NoError(p.t, err)
	_ = resp.Body.Close()
	require.Equal(p.t, http.StatusOK, resp.StatusCode)
	require.NoError(p.t, p.runner.Poll(context.Background()))
}

func (p *pipeline) lastMessage() telegram.Message {
	p.out.mu.Lock()
	defer p.out.mu.Unlock()
	require.NotEmpty(p.t, p.out.sent)
	return p.out.sent[len(p.out.sent)-1]
}

func (p *pipeline) states() []fsm.State {
	u, ok := p.store.User("telegram_42")
	require.True(p.t, ok)
	out := make([]fsm.State, 0, len(u.Progress))
	for _, e := range u.Progress {
		out = append(out, e.State)
	}
	return out
}

func TestOnboardingEndToEnd(t *testing.T) {
	p := newPipeline(t, Options{})

	// 1: brand-new user with a referral
	p.send("/start REFERRALCODE")
	u, ok := p.store.User("telegram_42")
	require.True(t, ok)
	assert.Equal(t, fsm.WelcomeVideoSent, u.State)
	assert.Equal(t, "REFERRALCODE", *u.RefCode)
	assert.Len(t, u.Progress, 1)
	msg := p.lastMessage()
	require.Len(t, msg.Buttons, 1)
	assert.Contains(t, msg.Buttons[0].URL, "media/welcome/v1/welcome_en.mp4")
	events := p.store.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "message", events[0].EventType)
	assert.Equal(t, "telegram_42", events[0].UserID)
	assert.True(t, events[0].Processed)

	// 2: greeting synthesized and cached
	p.send("/start")
	u, _ = p.store.User("telegram_42")
	assert.Equal(t, fsm.TTSSent, u.State)
	assert.Equal(t, 1, p.synth.calls)
	assert.Equal(t, 1, p.objects.puts)
	assert.Contains(t, p.lastMessage().Buttons[0].URL, "tts/telegram_42/en/greeting_v1.mp3")
	assert.Equal(t, "tts/telegram_42/en/greeting_v1.mp3", *u.TTSKey)

	// 3: completion, no regeneration
	p.send("/start")
	u, _ = p.store.User("telegram_42")
	assert.Equal(t, fsm.Done, u.State)
	assert.Contains(t, p.lastMessage().Text, "You're All Set")
	assert.Equal(t, 1, p.synth.calls)

	// 4: terminal re-entry
	p.send("/start")
	u, _ = p.store.User("telegram_42")
	assert.Equal(t, fsm.Done, u.State)
	assert.Contains(t, p.lastMessage().Text, "You're All Set")
	if diff := cmp.Diff([]fsm.State{fsm.WelcomeVideoSent, fsm.TTSSent, fsm.Done}, p.states()); diff != "" {
		t.Fatalf("progress mismatch (-want +got):\n%s", diff)
	}

	// 5: restart, then the sequence begins again
	p.send("/restart")
	u, _ = p.store.User("telegram_42")
	assert.Equal(t, fsm.New, u.State)
	assert.Empty(t, u.Progress)
	assert.Contains(t, p.lastMessage().Text, "State Reset")

	p.send("/start")
	assert.Equal(t, []fsm.State{fsm.WelcomeVideoSent}, p.states())
	assert.Contains(t, p.lastMessage().Buttons[0].URL, "welcome_en.mp4")

	assert.Len(t, p.out.sent, 6)
	assert.Len(t, p.store.Events(), 6)
	assert.Len(t, p.queue.acked, 6)
	assert.Equal(t, "REFERRALCODE", *u.RefCode)
}

func TestPlainMessageUpsertsProfile(t *testing.T) {
	p := newPipeline(t, Options{})
	p.send("hello there")
	u, ok := p.store.User("telegram_42")
	require.True(t, ok)
	assert.Equal(t, fsm.New, u.State)
	assert.Nil(t, u.FirstStartAt)
	assert.Empty(t, p.out.sent)
}

func TestCommandForOtherBotIsIgnored(t *testing.T) {
	p := newPipeline(t, Options{BotName: "ConciergeBot"})
	p.send("/start@OtherBot")
	u, ok := p.store.User("telegram_42")
	require.True(t, ok, "profile still recorded")
	assert.Equal(t, fsm.New, u.State)
	assert.Empty(t, p.out.sent)

	p.send("/start@ConciergeBot")
	u, _ = p.store.User("telegram_42")
	assert.Equal(t, fsm.WelcomeVideoSent, u.State)
}
