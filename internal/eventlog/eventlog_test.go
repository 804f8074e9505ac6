package eventlog

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lukasbauer/voxquery/internal/apperrors"
	"github.com/lukasbauer/voxquery/internal/model"
	"github.com/lukasbauer/voxquery/internal/voice"
	"github.com/rs/zerolog"
)

func getTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	db, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		t.Fatalf("failed to connect to database: %v", err)
	}

	if err := db.Ping(ctx); err != nil {
		t.Fatalf("failed to ping database: %v", err)
	}

	return db
}

func TestEventTypeConstants(t *testing.T) {
	expectedEvents := map[EventType]string{
		EventRecordingStarted:  "recording_started",
		EventQueryCreated:      "query_created",
		EventRecordingFinished: "recording_finished",
		EventQuerySucceeded:    "query_succeeded",
		EventQueryFailed:       "query_failed",
	}

	for eventType, expectedValue := range expectedEvents {
		if string(eventType) != expectedValue {
			t.Errorf("EventType %q = %q, want %q", expectedValue, string(eventType), expectedValue)
		}
	}
}

func TestLoggerLogWithNilDB(t *testing.T) {
	logger := New(nil, zerolog.Nop())

	if err := logger.Log(context.Background(), "q1", EventQueryCreated, map[string]any{"k": "v"}); err != nil {
		t.Errorf("Log with nil DB should return nil error, got %v", err)
	}
	if err := logger.EnsureSchema(context.Background()); err != nil {
		t.Errorf("EnsureSchema with nil DB should return nil error, got %v", err)
	}

	// Should not panic
	logger.LogAsync("q1", EventQueryFailed, nil)
	logger.Wait()
}

func TestTrackForwardsEvents(t *testing.T) {
	var got []string
	var chunks int
	next := voice.CallbackFuncs{
		OnRecordingStarted:  func() { got = append(got, "started") },
		OnAudioData:         func([]byte) { chunks++ },
		OnQueryCreated:      func(q *model.QueryResponse) { got = append(got, "created:"+q.ID) },
		OnRecordingFinished: func(r model.FinishedReason) { got = append(got, "finished:"+string(r)) },
		OnSuccess:           func(r *model.StreamResponse) { got = append(got, "success") },
		OnFailure:           func(err error) { got = append(got, "failure") },
	}

	cb := New(nil, zerolog.Nop()).Track(next)
	cb.RecordingStarted()
	cb.AudioData([]byte("ab"))
	cb.AudioData([]byte("cd"))
	cb.QueryCreated(&model.QueryResponse{ID: "q1"})
	cb.RecordingFinished(model.FinishedManualStop)
	cb.Success(&model.StreamResponse{ID: "q1"})
	cb.Failure(apperrors.New(apperrors.KindTransport, "late"))

	want := []string{"started", "created:q1", "finished:MANUAL_STOP", "success", "failure"}
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d = %q, want %q", i, got[i], want[i])
		}
	}
	if chunks != 2 {
		t.Errorf("chunks = %d, want 2", chunks)
	}

	tr := cb.(*tracker)
	if tr.chunks.Load() != 2 || tr.bytes.Load() != 4 {
		t.Errorf("counted %d chunks / %d bytes, want 2 / 4", tr.chunks.Load(), tr.bytes.Load())
	}
	if tr.queryID != "q1" {
		t.Errorf("queryID = %q, want q1", tr.queryID)
	}
}

func TestTrackWritesEvents(t *testing.T) {
	db := getTestDB(t)
	defer db.Close()

	ctx := context.Background()
	logger := New(db, zerolog.Nop())
	if err := logger.EnsureSchema(ctx); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}

	queryID := "test-" + time.Now().Format("150405.000000000")
	cb := logger.Track(voice.CallbackFuncs{})
	cb.QueryCreated(&model.QueryResponse{ID: queryID})
	cb.Failure(errors.New("boom"))
	logger.Wait()

	var count int
	err := db.QueryRow(ctx, `SELECT count(*) FROM query_events WHERE query_id = $1`, queryID).Scan(&count)
	if err != nil {
		t.Fatalf("count events: %v", err)
	}
	if count != 2 {
		t.Errorf("logged %d events, want 2", count)
	}

	_, _ = db.Exec(ctx, `DELETE FROM query_events WHERE query_id = $1`, queryID)
}
