package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/lukasbauer/voxquery/internal/apperrors"
	"github.com/lukasbauer/voxquery/internal/codec"
	"github.com/lukasbauer/voxquery/internal/model"
	"github.com/lukasbauer/voxquery/internal/pending"
	"github.com/rs/zerolog"
)

// RESTClient talks to the query API over plain HTTP requests. Audio is sent
// as a chunked request body, so the server cannot signal end of speech:
// streams always end with a manual stop.
type RESTClient struct {
	cfg        Config
	conv       *codec.Converter
	httpClient *http.Client
	logger     zerolog.Logger
	inflight   *inflight

	mu        sync.Mutex
	lastToken string
}

// NewRESTClient creates a REST client. A nil httpClient means
// http.DefaultClient settings.
func NewRESTClient(cfg Config, httpClient *http.Client, conv *codec.Converter, logger zerolog.Logger) *RESTClient {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if conv == nil {
		conv = codec.New()
	}
	return &RESTClient{
		cfg:        cfg.withDefaults(),
		conv:       conv,
		httpClient: httpClient,
		logger:     logger.With().Str("component", "rest").Logger(),
		inflight:   newInflight(),
	}
}

// RefreshSessionToken exchanges the refresh credential for a session token.
func (c *RESTClient) RefreshSessionToken(ctx context.Context, refreshToken string) *pending.Result[string] {
	return launch(c.inflight, ctx, func(ctx context.Context) (string, error) {
		return c.send(ctx, http.MethodPost, tokensPath, refreshToken, nil, "")
	})
}

// CreateAudioQuery creates an audio query and returns its descriptor.
func (c *RESTClient) CreateAudioQuery(ctx context.Context, p QueryParams) *pending.Result[string] {
	c.mu.Lock()
	c.lastToken = p.Token
	c.mu.Unlock()
	return c.sendEntity(ctx, http.MethodPost, queriesPath, p.Token, c.cfg.audioEntity(p))
}

// SendTextQuery runs a text query.
func (c *RESTClient) SendTextQuery(ctx context.Context, p TextParams) *pending.Result[string] {
	return c.sendEntity(ctx, http.MethodPost, queriesPath, p.Token, c.cfg.textEntity(p))
}

// SendFeedback attaches feedback to a completed query.
func (c *RESTClient) SendFeedback(ctx context.Context, queryID string, feedback model.FeedbackData, token string) *pending.Result[string] {
	return c.sendEntity(ctx, http.MethodPatch, feedbackPath(queryID), token, feedback)
}

// StreamAudio posts audio to the query's audio link until audio reaches EOF.
func (c *RESTClient) StreamAudio(ctx context.Context, audio io.Reader, query *model.QueryResponse) *pending.Result[StreamResult] {
	href := query.AudioHref()
	if href == "" {
		return pending.Failed[StreamResult](apperrors.New(apperrors.KindDecode, "query has no audio link"))
	}
	mime := model.DefaultMimeType
	if query.AudioQuery != nil && query.AudioQuery.MimeType != "" {
		mime = query.AudioQuery.MimeType
	}
	token := c.queryToken()

	return launch(c.inflight, ctx, func(ctx context.Context) (StreamResult, error) {
		body := &streamBody{r: audio}
		payload, err := c.send(ctx, http.MethodPost, href, token, body, mime)
		if err != nil {
			return StreamResult{}, err
		}
		return StreamResult{Payload: payload, Reason: model.StreamingComplete}, nil
	})
}

// Cancel aborts all outstanding requests.
func (c *RESTClient) Cancel() {
	if n := c.inflight.cancelAll(); n > 0 {
		c.logger.Debug().Int("requests", n).Msg("cancelled requests")
	}
}

// queryToken returns the session token the last audio query was created with.
func (c *RESTClient) queryToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastToken
}

func (c *RESTClient) sendEntity(ctx context.Context, method, path, token string, entity any) *pending.Result[string] {
	body, err := c.conv.Encode(entity)
	if err != nil {
		return pending.Failed[string](fmt.Errorf("failed to marshal request: %w", err))
	}
	return launch(c.inflight, ctx, func(ctx context.Context) (string, error) {
		return c.send(ctx, method, path, token, bytes.NewReader(body), "")
	})
}

func (c *RESTClient) url(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return c.cfg.ServerURL + path
}

// send performs one request and returns the response body. Non-2xx
// responses are DomainRejected.
func (c *RESTClient) send(ctx context.Context, method, path, token string, body io.Reader, contentType string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.url(path), body)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	applyHeaders(req, c.cfg.headers(token, true))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}
	c.logger.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(start)).
		Msg("request completed")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", apperrors.Rejected(resp.StatusCode, string(respBody))
	}
	return string(respBody), nil
}

// streamBody adapts the audio reader for use as a request body. Closing it
// tells the producer nobody is reading any more.
type streamBody struct {
	r io.Reader
}

func (b *streamBody) Read(p []byte) (int, error) {
	return b.r.Read(p)
}

func (b *streamBody) Close() error {
	abandon(b.r)
	return nil
}
