// Package transport implements the network requests a query service issues:
// token refresh, query creation, audio streaming, text queries and feedback.
// Every request returns a pending.Result that resolves with the raw response
// entity.
package transport

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/lukasbauer/voxquery/internal/model"
	"github.com/lukasbauer/voxquery/internal/pending"
)

// Closing is the payload a request resolves with when the server closed the
// connection before answering it.
const Closing = "CLOSING"

const (
	acceptHeader       = "application/vnd.voysisquery.v1+json"
	defaultLocale      = "en-US"
	defaultClientInfo  = "voxquery-go"
	endOfStream   byte = 4
)

// QueryParams are the inputs of a create-query request.
type QueryParams struct {
	Context         map[string]any
	InteractionType model.InteractionType
	UserID          string
	Token           string
	MimeType        string
}

// TextParams are the inputs of a text query.
type TextParams struct {
	Context         map[string]any
	InteractionType model.InteractionType
	Text            string
	UserID          string
	Token           string
}

// StreamResult is the outcome of an audio stream.
type StreamResult struct {
	Payload string
	Reason  model.StreamingStoppedReason
}

// Client is the request gateway used by the query service.
type Client interface {
	RefreshSessionToken(ctx context.Context, refreshToken string) *pending.Result[string]
	CreateAudioQuery(ctx context.Context, p QueryParams) *pending.Result[string]
	StreamAudio(ctx context.Context, audio io.Reader, query *model.QueryResponse) *pending.Result[StreamResult]
	SendTextQuery(ctx context.Context, p TextParams) *pending.Result[string]
	SendFeedback(ctx context.Context, queryID string, feedback model.FeedbackData, token string) *pending.Result[string]
	// Cancel aborts every outstanding request.
	Cancel()
}

// Config holds the settings shared by both clients.
type Config struct {
	ServerURL      string
	AudioProfileID string
	ClientInfo     string
	Locale         string
}

func (c Config) withDefaults() Config {
	c.ServerURL = strings.TrimRight(c.ServerURL, "/")
	if c.ClientInfo == "" {
		c.ClientInfo = defaultClientInfo
	}
	if c.Locale == "" {
		c.Locale = defaultLocale
	}
	return c
}

// headers returns the headers sent with every request.
func (c Config) headers(token string, ignoreVAD bool) map[string]string {
	h := map[string]string{
		"Accept":               acceptHeader,
		"Content-Type":         "application/json",
		"X-Voysis-Client-Info": c.ClientInfo,
		"X-Voysis-Ignore-Vad":  fmt.Sprintf("%t", ignoreVAD),
	}
	if token != "" {
		h["Authorization"] = "Bearer " + token
	}
	if c.AudioProfileID != "" {
		h["X-Voysis-Audio-Profile-Id"] = c.AudioProfileID
	}
	return h
}

func applyHeaders(req *http.Request, h map[string]string) {
	for k, v := range h {
		req.Header.Set(k, v)
	}
}

// queryEntity is the body of a create-query or text-query request.
type queryEntity struct {
	Locale          string                `json:"locale"`
	QueryType       string                `json:"queryType"`
	AudioQuery      *model.AudioQuery     `json:"audioQuery,omitempty"`
	TextQuery       *model.TextQuery      `json:"textQuery,omitempty"`
	Context         map[string]any        `json:"context,omitempty"`
	InteractionType model.InteractionType `json:"interactionType,omitempty"`
	UserID          string                `json:"userId,omitempty"`
}

func (c Config) audioEntity(p QueryParams) queryEntity {
	mime := p.MimeType
	if mime == "" {
		mime = model.DefaultMimeType
	}
	return queryEntity{
		Locale:          c.Locale,
		QueryType:       "audio",
		AudioQuery:      &model.AudioQuery{MimeType: mime},
		Context:         p.Context,
		InteractionType: p.InteractionType,
		UserID:          p.UserID,
	}
}

func (c Config) textEntity(p TextParams) queryEntity {
	return queryEntity{
		Locale:          c.Locale,
		QueryType:       "text",
		TextQuery:       &model.TextQuery{Text: p.Text},
		Context:         p.Context,
		InteractionType: p.InteractionType,
		UserID:          p.UserID,
	}
}

const (
	tokensPath  = "/tokens"
	queriesPath = "/queries"
)

func feedbackPath(queryID string) string {
	return queriesPath + "/" + queryID + "/feedback"
}

// abandoner is implemented by readers that can be told the consumer stopped.
type abandoner interface {
	Abandon()
}

func abandon(r io.Reader) {
	if a, ok := r.(abandoner); ok {
		a.Abandon()
	}
}
