package app

import (
	"github.com/getsentry/sentry-go"
	"github.com/lukasbauer/voxquery/internal/apperrors"
	"github.com/lukasbauer/voxquery/internal/voice"
)

// SentryCallback reports query failures to Sentry. Cancellations and
// duplicate requests are expected and not reported.
type SentryCallback struct {
	voice.CallbackFuncs
	hub *sentry.Hub
}

// NewSentryCallback reports through hub, or the current hub when nil.
func NewSentryCallback(hub *sentry.Hub) *SentryCallback {
	if hub == nil {
		hub = sentry.CurrentHub()
	}
	return &SentryCallback{hub: hub}
}

func (c *SentryCallback) Failure(err error) {
	if !reportable(err) {
		return
	}
	kind := apperrors.KindOf(err)
	hub := c.hub.Clone()
	hub.Scope().SetTag("kind", string(kind))
	if ae := apperrors.Classify(err); ae != nil && ae.StatusCode != 0 {
		hub.Scope().SetExtra("status_code", ae.StatusCode)
	}
	hub.CaptureException(err)
}

func reportable(err error) bool {
	switch apperrors.KindOf(err) {
	case "", apperrors.KindCancelled, apperrors.KindDuplicateRequest:
		return false
	}
	return true
}
