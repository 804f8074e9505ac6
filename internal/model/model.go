package model

import "fmt"

// State is the lifecycle state of a query session.
type State string

const (
	StateIdle State = "idle"
	StateBusy State = "busy"
)

// InteractionType tags the kind of interaction a query belongs to.
type InteractionType string

const (
	InteractionQuery InteractionType = "QUERY"
	InteractionChat  InteractionType = "CHAT"
)

// FinishedReason describes why audio capture ended.
type FinishedReason string

const (
	FinishedVADReceived FinishedReason = "VAD_RECEIVED"
	FinishedManualStop  FinishedReason = "MANUAL_STOP"
	FinishedCancelled   FinishedReason = "CANCELLED"
)

// StreamingStoppedReason is the transport's view of why an audio stream ended.
type StreamingStoppedReason string

const (
	StreamingVADReceived  StreamingStoppedReason = "VAD_RECEIVED"
	StreamingComplete     StreamingStoppedReason = "COMPLETE"
	StreamingCancellation StreamingStoppedReason = "CANCELLATION"
)

// Token is a session token as returned by the token endpoint.
type Token struct {
	Token     string `json:"token"`
	ExpiresAt string `json:"expiresAt,omitempty"`
}

// Link is a HAL style hyperlink.
type Link struct {
	Href string `json:"href"`
}

// Links holds the hyperlinks attached to a query.
type Links struct {
	Self  *Link `json:"self,omitempty"`
	Audio *Link `json:"audio,omitempty"`
}

// AudioQuery describes the audio attached to a query.
type AudioQuery struct {
	MimeType string `json:"mimeType"`
}

// TextQuery holds the literal text of a text query.
type TextQuery struct {
	Text string `json:"text"`
}

// Reply is the service's reply to a query.
type Reply struct {
	Text string `json:"text"`
}

// QueryResponse is the server's answer to a create-query request.
type QueryResponse struct {
	ID             string          `json:"id"`
	Locale         string          `json:"locale,omitempty"`
	ConversationID string          `json:"conversationId,omitempty"`
	QueryType      string          `json:"queryType,omitempty"`
	InteractionID  string          `json:"interactionId,omitempty"`
	AudioQuery     *AudioQuery     `json:"audioQuery,omitempty"`
	TextQuery      *TextQuery      `json:"textQuery,omitempty"`
	Context        map[string]any  `json:"context,omitempty"`
	Links          Links           `json:"_links"`
	Embedded       map[string]any  `json:"_embedded,omitempty"`
	Interaction    InteractionType `json:"interactionType,omitempty"`
}

// AudioHref returns the link to which the query's audio must be streamed.
func (q *QueryResponse) AudioHref() string {
	if q == nil || q.Links.Audio == nil {
		return ""
	}
	return q.Links.Audio.Href
}

// StreamResponse is the final result of a completed query.
type StreamResponse struct {
	ID             string         `json:"id"`
	Locale         string         `json:"locale,omitempty"`
	ConversationID string         `json:"conversationId,omitempty"`
	QueryType      string         `json:"queryType,omitempty"`
	TextQuery      *TextQuery     `json:"textQuery,omitempty"`
	AudioQuery     *AudioQuery    `json:"audioQuery,omitempty"`
	Intent         string         `json:"intent,omitempty"`
	Reply          *Reply         `json:"reply,omitempty"`
	Entities       map[string]any `json:"entities,omitempty"`
	Context        map[string]any `json:"context,omitempty"`
	Links          Links          `json:"_links"`
}

// Durations records timings of a completed query, in milliseconds.
type Durations struct {
	UserStop int64 `json:"userStop,omitempty"`
	VAD      int64 `json:"vad,omitempty"`
	Complete int64 `json:"complete,omitempty"`
}

// FeedbackData is submitted after a query has completed.
type FeedbackData struct {
	Durations   *Durations `json:"durations,omitempty"`
	Rating      *int       `json:"rating,omitempty"`
	Description string     `json:"description,omitempty"`
}

// AudioInfo describes the format of captured audio. Fields are -1 until
// recording has begun.
type AudioInfo struct {
	SampleRate    int
	BitsPerSample int
}

// UnknownAudioInfo is reported before a recorder has started.
var UnknownAudioInfo = AudioInfo{SampleRate: -1, BitsPerSample: -1}

// Known reports whether both fields hold real values.
func (a AudioInfo) Known() bool {
	return a.SampleRate > 0 && a.BitsPerSample > 0
}

// DefaultMimeType is used when the recorder has not reported its format.
const DefaultMimeType = "audio/pcm;bits=16;rate=16000"

// MimeType returns the mime type for raw PCM audio in this format.
func (a AudioInfo) MimeType() string {
	if !a.Known() {
		return DefaultMimeType
	}
	return fmt.Sprintf("audio/pcm;bits=%d;rate=%d", a.BitsPerSample, a.SampleRate)
}
