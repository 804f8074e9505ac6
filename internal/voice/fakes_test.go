package voice

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/lukasbauer/voxquery/internal/apperrors"
	"github.com/lukasbauer/voxquery/internal/audio"
	"github.com/lukasbauer/voxquery/internal/model"
	"github.com/lukasbauer/voxquery/internal/pending"
	"github.com/lukasbauer/voxquery/internal/token"
	"github.com/lukasbauer/voxquery/internal/transport"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const (
	createdJSON = `{"id":"q1","_links":{"audio":{"href":"/queries/q1/audio"}}}`
	resultJSON  = `{"id":"q1","intent":"search"}`
)

func tokenJSON(valid time.Duration) string {
	return fmt.Sprintf(`{"token":"fresh","expiresAt":%q}`, time.Now().Add(valid).UTC().Format(time.RFC3339))
}

type feedbackCall struct {
	queryID  string
	feedback model.FeedbackData
	token    string
}

// fakeClient is a transport.Client whose requests run the configured
// functions on their own goroutine.
type fakeClient struct {
	refresh func(ctx context.Context) (string, error)
	create  func(ctx context.Context, p transport.QueryParams) (string, error)
	stream  func(ctx context.Context, r io.Reader, q *model.QueryResponse) (transport.StreamResult, error)
	text    func(ctx context.Context, p transport.TextParams) (string, error)
	// onCancel runs at the end of Cancel.
	onCancel func()

	mu        sync.Mutex
	calls     []string
	pending   []func(error) bool
	cancels   int
	params    []transport.QueryParams
	feedbacks []feedbackCall
}

func track[T any](c *fakeClient, name string, fn func() (T, error)) *pending.Result[T] {
	res := pending.New[T]()
	c.mu.Lock()
	c.calls = append(c.calls, name)
	c.pending = append(c.pending, res.Fail)
	c.mu.Unlock()

	go func() {
		v, err := fn()
		if err != nil {
			res.Fail(err)
			return
		}
		res.Resolve(v)
	}()
	return res
}

func (c *fakeClient) RefreshSessionToken(ctx context.Context, refreshToken string) *pending.Result[string] {
	return track(c, "refresh", func() (string, error) {
		if c.refresh != nil {
			return c.refresh(ctx)
		}
		return tokenJSON(time.Hour), nil
	})
}

func (c *fakeClient) CreateAudioQuery(ctx context.Context, p transport.QueryParams) *pending.Result[string] {
	c.mu.Lock()
	c.params = append(c.params, p)
	c.mu.Unlock()
	return track(c, "create", func() (string, error) {
		if c.create != nil {
			return c.create(ctx, p)
		}
		return createdJSON, nil
	})
}

func (c *fakeClient) StreamAudio(ctx context.Context, r io.Reader, q *model.QueryResponse) *pending.Result[transport.StreamResult] {
	return track(c, "stream", func() (transport.StreamResult, error) {
		if c.stream != nil {
			return c.stream(ctx, r, q)
		}
		if _, err := io.ReadAll(r); err != nil {
			return transport.StreamResult{}, err
		}
		return transport.StreamResult{Payload: resultJSON, Reason: model.StreamingComplete}, nil
	})
}

func (c *fakeClient) SendTextQuery(ctx context.Context, p transport.TextParams) *pending.Result[string] {
	return track(c, "text", func() (string, error) {
		if c.text != nil {
			return c.text(ctx, p)
		}
		return `{"id":"t1","intent":"chat"}`, nil
	})
}

func (c *fakeClient) SendFeedback(ctx context.Context, queryID string, feedback model.FeedbackData, token string) *pending.Result[string] {
	c.mu.Lock()
	c.feedbacks = append(c.feedbacks, feedbackCall{queryID: queryID, feedback: feedback, token: token})
	c.mu.Unlock()
	return track(c, "feedback", func() (string, error) { return "", nil })
}

func (c *fakeClient) Cancel() {
	c.mu.Lock()
	fails := c.pending
	c.pending = nil
	c.cancels++
	c.mu.Unlock()
	for _, fail := range fails {
		fail(context.Canceled)
	}
	if c.onCancel != nil {
		c.onCancel()
	}
}

func (c *fakeClient) callLog() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

func (c *fakeClient) count(name string) int {
	n := 0
	for _, call := range c.callLog() {
		if call == name {
			n++
		}
	}
	return n
}

// fakeRecorder emits its chunks right after starting and then keeps
// recording until stopped.
type fakeRecorder struct {
	chunks [][]byte

	mu       sync.Mutex
	starts   int
	stops    int
	active   *fakeRecording
	produced chan struct{}
	once     sync.Once
}

type fakeRecording struct {
	stop     chan struct{}
	stopOnce sync.Once
}

func newFakeRecorder(chunks ...string) *fakeRecorder {
	r := &fakeRecorder{produced: make(chan struct{})}
	for _, c := range chunks {
		r.chunks = append(r.chunks, []byte(c))
	}
	return r
}

func (r *fakeRecorder) Start(h audio.DataHandler) error {
	rec := &fakeRecording{stop: make(chan struct{})}
	r.mu.Lock()
	r.starts++
	r.active = rec
	r.mu.Unlock()

	go func() {
		defer h.Complete()
		h.RecordingStarted(model.AudioInfo{SampleRate: 16000, BitsPerSample: 16})
		for _, c := range r.chunks {
			h.Data(c)
		}
		r.once.Do(func() { close(r.produced) })
		<-rec.stop
	}()
	return nil
}

func (r *fakeRecorder) Stop() {
	r.mu.Lock()
	rec := r.active
	r.active = nil
	if rec != nil {
		r.stops++
	}
	r.mu.Unlock()
	if rec != nil {
		rec.stopOnce.Do(func() { close(rec.stop) })
	}
}

func (r *fakeRecorder) AudioInfo() model.AudioInfo {
	return model.AudioInfo{SampleRate: 16000, BitsPerSample: 16}
}

func (r *fakeRecorder) recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active != nil
}

func (r *fakeRecorder) startCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.starts
}

// events records callback events as strings.
type events struct {
	mu       sync.Mutex
	log      []string
	failures []error
	success  *model.StreamResponse
	query    *model.QueryResponse
}

func (e *events) add(s string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.log = append(e.log, s)
}

func (e *events) RecordingStarted()       { e.add("started") }
func (e *events) AudioData(chunk []byte) { e.add("audio:" + string(chunk)) }

func (e *events) QueryCreated(q *model.QueryResponse) {
	e.mu.Lock()
	e.query = q
	e.mu.Unlock()
	e.add("created")
}

func (e *events) RecordingFinished(reason model.FinishedReason) {
	e.add("finished:" + string(reason))
}

func (e *events) Success(resp *model.StreamResponse) {
	e.mu.Lock()
	e.success = resp
	e.mu.Unlock()
	e.add("success")
}

func (e *events) Failure(err error) {
	e.mu.Lock()
	e.failures = append(e.failures, err)
	e.mu.Unlock()
	e.add("failure:" + string(apperrors.KindOf(err)))
}

func (e *events) snapshot() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.log...)
}

func (e *events) firstFailure() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.failures) == 0 {
		return nil
	}
	return e.failures[0]
}

func (e *events) has(prefix string) bool {
	for _, s := range e.snapshot() {
		if strings.HasPrefix(s, prefix) {
			return true
		}
	}
	return false
}

// validTokens returns a store holding a session token valid for an hour.
func validTokens(t *testing.T) *token.Store {
	t.Helper()
	store := token.NewStore("refresh", token.DefaultSafetyMargin)
	require.NoError(t, store.Replace(model.Token{
		Token:     "session",
		ExpiresAt: time.Now().Add(time.Hour).UTC().Format(time.RFC3339),
	}))
	return store
}

func newTestService(t *testing.T, client *fakeClient, rec *fakeRecorder, tokens *token.Store) *Service {
	t.Helper()
	if tokens == nil {
		tokens = validTokens(t)
	}
	svc, err := NewService(Options{
		Client:   client,
		Recorder: rec,
		Tokens:   tokens,
		UserID:   "user-1",
		Logger:   zerolog.Nop(),
	})
	require.NoError(t, err)
	return svc
}

// runAsync runs fn on a goroutine and returns a channel closed when it
// returns.
func runAsync(fn func()) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn()
	}()
	return done
}

func waitDone(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("query did not finish")
	}
}
