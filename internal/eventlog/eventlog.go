package eventlog

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lukasbauer/voxquery/internal/apperrors"
	"github.com/lukasbauer/voxquery/internal/model"
	"github.com/lukasbauer/voxquery/internal/voice"
	"github.com/rs/zerolog"
)

// EventType represents the type of query event
type EventType string

const (
	EventRecordingStarted  EventType = "recording_started"
	EventQueryCreated      EventType = "query_created"
	EventRecordingFinished EventType = "recording_finished"
	EventQuerySucceeded    EventType = "query_succeeded"
	EventQueryFailed       EventType = "query_failed"
)

// Schema creates the table events are written to.
const Schema = `
CREATE TABLE IF NOT EXISTS query_events (
	id         BIGSERIAL PRIMARY KEY,
	query_id   TEXT NOT NULL,
	event_type TEXT NOT NULL,
	event_data JSONB NOT NULL DEFAULT '{}',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

const logTimeout = 2 * time.Second

// Logger provides async event logging to the database
type Logger struct {
	db     *pgxpool.Pool
	logger zerolog.Logger
	wg     sync.WaitGroup
}

// New creates a new event logger. A nil db disables logging.
func New(db *pgxpool.Pool, logger zerolog.Logger) *Logger {
	return &Logger{db: db, logger: logger.With().Str("component", "eventlog").Logger()}
}

// EnsureSchema creates the events table if it does not exist.
func (l *Logger) EnsureSchema(ctx context.Context) error {
	if l.db == nil {
		return nil
	}
	_, err := l.db.Exec(ctx, Schema)
	return err
}

// Log writes an event to the database synchronously
func (l *Logger) Log(ctx context.Context, queryID string, eventType EventType, data map[string]any) error {
	if l.db == nil || queryID == "" {
		return nil // Silently skip if no DB or query ID
	}

	dataJSON, err := json.Marshal(data)
	if err != nil {
		dataJSON = []byte("{}")
	}

	_, err = l.db.Exec(ctx, `
		INSERT INTO query_events (query_id, event_type, event_data)
		VALUES ($1, $2, $3)
	`, queryID, string(eventType), dataJSON)

	return err
}

// LogAsync logs an event without blocking the caller
func (l *Logger) LogAsync(queryID string, eventType EventType, data map[string]any) {
	if l.db == nil || queryID == "" {
		return
	}

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), logTimeout)
		defer cancel()
		if err := l.Log(ctx, queryID, eventType, data); err != nil {
			l.logger.Warn().Err(err).Str("event", string(eventType)).Msg("failed to log query event")
		}
	}()
}

// Wait blocks until every pending LogAsync write has finished.
func (l *Logger) Wait() {
	l.wg.Wait()
}

// Track returns a callback that forwards every event to next and logs it.
// Events of one query share a locally generated id until the server assigns
// one; both are recorded.
func (l *Logger) Track(next voice.Callback) voice.Callback {
	return &tracker{log: l, next: next, localID: uuid.NewString(), start: time.Now()}
}

type tracker struct {
	log     *Logger
	next    voice.Callback
	localID string
	start   time.Time

	mu      sync.Mutex
	queryID string
	chunks  atomic.Int64
	bytes   atomic.Int64
}

func (t *tracker) record(eventType EventType, data map[string]any) {
	t.mu.Lock()
	queryID := t.queryID
	t.mu.Unlock()

	if data == nil {
		data = map[string]any{}
	}
	data["local_id"] = t.localID
	data["elapsed_ms"] = time.Since(t.start).Milliseconds()
	if queryID == "" {
		queryID = t.localID
	}
	t.log.LogAsync(queryID, eventType, data)
}

func (t *tracker) RecordingStarted() {
	t.record(EventRecordingStarted, nil)
	t.next.RecordingStarted()
}

// AudioData counts chunks; audio itself is never stored.
func (t *tracker) AudioData(chunk []byte) {
	t.chunks.Add(1)
	t.bytes.Add(int64(len(chunk)))
	t.next.AudioData(chunk)
}

func (t *tracker) QueryCreated(q *model.QueryResponse) {
	data := map[string]any{}
	if q != nil {
		data["conversation_id"] = q.ConversationID
		if q.ID != "" {
			t.mu.Lock()
			t.queryID = q.ID
			t.mu.Unlock()
		}
	}
	t.record(EventQueryCreated, data)
	t.next.QueryCreated(q)
}

func (t *tracker) RecordingFinished(reason model.FinishedReason) {
	t.record(EventRecordingFinished, map[string]any{
		"reason":       string(reason),
		"audio_chunks": t.chunks.Load(),
		"audio_bytes":  t.bytes.Load(),
	})
	t.next.RecordingFinished(reason)
}

func (t *tracker) Success(resp *model.StreamResponse) {
	data := map[string]any{}
	if resp != nil {
		data["intent"] = resp.Intent
		data["response_id"] = resp.ID
	}
	t.record(EventQuerySucceeded, data)
	t.next.Success(resp)
}

func (t *tracker) Failure(err error) {
	t.record(EventQueryFailed, map[string]any{
		"kind":  string(apperrors.KindOf(err)),
		"error": err.Error(),
	})
	t.next.Failure(err)
}
