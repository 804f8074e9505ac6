package cli

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/lukasbauer/voxquery/internal/apperrors"
	"github.com/lukasbauer/voxquery/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runCLI(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	root := NewRootCmd()
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(append([]string{"--env-file", filepath.Join(t.TempDir(), "missing.env")}, args...))
	err := root.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func setTestEnv(t *testing.T, serverURL string) {
	t.Helper()
	t.Setenv("VOX_SERVER_URL", serverURL)
	t.Setenv("VOX_REFRESH_TOKEN", "refresh-cred")
	t.Setenv("VOX_PROFILE_PATH", filepath.Join(t.TempDir(), "profile.yaml"))
	t.Setenv("VOX_VAD_ENABLED", "false")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("SENTRY_DSN", "")
	t.Setenv("LOG_LEVEL", "disabled")
}

func queryServer(t *testing.T, queryStatus int) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/tokens", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer refresh-cred", r.Header.Get("Authorization"))
		fmt.Fprintf(w, `{"token":"session","expiresAt":%q}`, time.Now().Add(time.Hour).UTC().Format(time.RFC3339))
	})
	mux.HandleFunc("/queries", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer session", r.Header.Get("Authorization"))
		w.WriteHeader(queryStatus)
		if queryStatus == http.StatusCreated {
			fmt.Fprint(w, `{"id":"q1","queryType":"text","intent":"track_order","reply":{"text":"On its way"},"_links":{}}`)
		}
	})
	mux.HandleFunc("/queries/q1/feedback", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		fmt.Fprint(w, `{}`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestParseContext(t *testing.T) {
	ctx, err := parseContext(`{"page":"home","items":2}`)
	require.NoError(t, err)
	assert.Equal(t, "home", ctx["page"])

	ctx, err = parseContext("  ")
	require.NoError(t, err)
	assert.Nil(t, ctx)

	_, err = parseContext(`[1,2]`)
	assert.Error(t, err)
}

func TestParseInteraction(t *testing.T) {
	it, err := parseInteraction("chat")
	require.NoError(t, err)
	assert.Equal(t, model.InteractionChat, it)

	_, err = parseInteraction("shout")
	assert.Error(t, err)
}

func TestVersionCommand(t *testing.T) {
	out, _, err := runCLI(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, version)
}

func TestProfileCommands(t *testing.T) {
	setTestEnv(t, "https://voice.example.com")

	out, _, err := runCLI(t, "profile", "get", "--json")
	require.NoError(t, err)
	var first map[string]string
	require.NoError(t, json.UnmarshalFromString(out, &first))
	require.NotEmpty(t, first["audioProfileId"])

	out, _, err = runCLI(t, "profile", "get", "--json")
	require.NoError(t, err)
	var again map[string]string
	require.NoError(t, json.UnmarshalFromString(out, &again))
	assert.Equal(t, first["audioProfileId"], again["audioProfileId"])

	out, _, err = runCLI(t, "profile", "reset", "--json")
	require.NoError(t, err)
	var reset map[string]string
	require.NoError(t, json.UnmarshalFromString(out, &reset))
	assert.NotEqual(t, first["audioProfileId"], reset["audioProfileId"])
}

func TestTextCommand(t *testing.T) {
	srv := queryServer(t, http.StatusCreated)
	setTestEnv(t, srv.URL)

	out, _, err := runCLI(t, "--json", "text", "where", "is", "my", "order")
	require.NoError(t, err)

	var resp model.StreamResponse
	require.NoError(t, json.UnmarshalFromString(out, &resp))
	assert.Equal(t, "q1", resp.ID)
	assert.Equal(t, "track_order", resp.Intent)
}

func TestTextCommandRejected(t *testing.T) {
	srv := queryServer(t, http.StatusInternalServerError)
	setTestEnv(t, srv.URL)

	_, _, err := runCLI(t, "text", "hello")
	require.Error(t, err)
	assert.Equal(t, apperrors.KindDomainRejected, apperrors.KindOf(err))
}

func TestTextCommandRequiresConfig(t *testing.T) {
	setTestEnv(t, "")

	_, _, err := runCLI(t, "text", "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ServerURL")
}

func TestFeedbackCommand(t *testing.T) {
	srv := queryServer(t, http.StatusCreated)
	setTestEnv(t, srv.URL)

	out, _, err := runCLI(t, "feedback", "q1", "--rating", "5")
	require.NoError(t, err)
	assert.Contains(t, out, "q1")
}

func TestTokenRefreshCommand(t *testing.T) {
	srv := queryServer(t, http.StatusCreated)
	setTestEnv(t, srv.URL)

	out, _, err := runCLI(t, "--json", "token", "refresh", "--attempts", "1")
	require.NoError(t, err)

	var tok model.Token
	require.NoError(t, json.UnmarshalFromString(out, &tok))
	assert.Equal(t, "session", tok.Token)
}

func TestPrinterRecordsOutcome(t *testing.T) {
	var events, out bytes.Buffer
	p := newPrinter(&events, true)

	p.RecordingStarted()
	p.AudioData([]byte("abcd"))
	p.QueryCreated(&model.QueryResponse{ID: "q1"})
	p.RecordingFinished(model.FinishedVADReceived)
	p.Success(&model.StreamResponse{ID: "q1"})

	require.NoError(t, p.finish(&out))
	assert.Contains(t, events.String(), `"event":"recording_started"`)
	assert.Contains(t, events.String(), `"bytes":4`)
	assert.Contains(t, out.String(), `"id": "q1"`)

	failed := newPrinter(&events, false)
	failed.Failure(apperrors.New(apperrors.KindServerClosed, "server disconnected"))
	assert.Error(t, failed.finish(&out))
}
