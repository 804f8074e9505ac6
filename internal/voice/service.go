// Package voice runs voice and text queries against the query API. A Service
// serialises queries, keeps the session token fresh, couples the recorder to
// the audio stream and reports every outcome through a Callback.
package voice

import (
	"context"
	"errors"
	"sync"

	"github.com/lukasbauer/voxquery/internal/apperrors"
	"github.com/lukasbauer/voxquery/internal/audio"
	"github.com/lukasbauer/voxquery/internal/codec"
	"github.com/lukasbauer/voxquery/internal/model"
	"github.com/lukasbauer/voxquery/internal/token"
	"github.com/lukasbauer/voxquery/internal/transport"
	"github.com/rs/zerolog"
)

// ProfileStore keeps the audio profile identifier.
type ProfileStore interface {
	Get() (string, error)
	Reset() (string, error)
}

// AudioRequest are the parameters of an audio query.
type AudioRequest struct {
	Context         map[string]any
	InteractionType model.InteractionType
}

// TextRequest are the parameters of a text query.
type TextRequest struct {
	Context         map[string]any
	InteractionType model.InteractionType
	Text            string
}

// Options configures a Service. Client, Recorder and Tokens are required.
type Options struct {
	Client    transport.Client
	Recorder  audio.Recorder
	Converter *codec.Converter
	Tokens    *token.Store
	Profile   ProfileStore
	UserID    string
	Logger    zerolog.Logger
}

// Service runs at most one query at a time.
type Service struct {
	client   transport.Client
	recorder audio.Recorder
	conv     *codec.Converter
	tokens   *token.Store
	profile  ProfileStore
	userID   string
	logger   zerolog.Logger

	mu      sync.Mutex
	state   model.State
	gen     uint64
	current *invocation
}

// NewService creates an idle Service.
func NewService(opts Options) (*Service, error) {
	if opts.Client == nil {
		return nil, errors.New("voice: client is required")
	}
	if opts.Recorder == nil {
		return nil, errors.New("voice: recorder is required")
	}
	if opts.Tokens == nil {
		return nil, errors.New("voice: token store is required")
	}
	conv := opts.Converter
	if conv == nil {
		conv = codec.New()
	}
	return &Service{
		client:   opts.Client,
		recorder: opts.Recorder,
		conv:     conv,
		tokens:   opts.Tokens,
		profile:  opts.Profile,
		userID:   opts.UserID,
		logger:   opts.Logger.With().Str("component", "voice").Logger(),
		state:    model.StateIdle,
	}, nil
}

// State reports whether a query is in flight.
func (s *Service) State() model.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// StartAudioQuery records audio and streams it as a query. It blocks until
// the terminal event has been delivered to cb. Cancelling ctx cancels the
// query.
func (s *Service) StartAudioQuery(ctx context.Context, req AudioRequest, cb Callback) {
	inv, ok := s.begin(ctx, cb)
	if !ok {
		return
	}
	defer s.end(inv)

	resp, err := s.runAudio(inv, req)
	s.complete(inv, resp, err, true)
}

// SendTextQuery runs a text query. It blocks until the terminal event has
// been delivered to cb.
func (s *Service) SendTextQuery(ctx context.Context, req TextRequest, cb Callback) {
	inv, ok := s.begin(ctx, cb)
	if !ok {
		return
	}
	defer s.end(inv)

	resp, err := s.runText(inv, req)
	s.complete(inv, resp, err, false)
}

// Finish stops the recording; the query completes once the server answers.
func (s *Service) Finish() {
	s.mu.Lock()
	inv := s.current
	s.mu.Unlock()
	if inv == nil {
		return
	}
	s.logger.Debug().Uint64("generation", inv.gen).Msg("finishing recording")
	inv.stopRecording(s.recorder.Stop)
}

// Cancel aborts the query in flight and returns the service to idle once the
// transport and the recorder have been aborted. The cancelled query reports RecordingFinished(CANCELLED), for audio
// queries, and a Cancelled failure; a response arriving later is dropped.
func (s *Service) Cancel() {
	s.cancelInvocation(nil)
}

// RefreshSessionToken fetches and stores a new session token. It may be
// called in any state.
func (s *Service) RefreshSessionToken(ctx context.Context) (model.Token, error) {
	raw, err := s.client.RefreshSessionToken(ctx, s.tokens.RefreshToken()).Get(ctx)
	if err != nil {
		if apperrors.IsCancellation(err) {
			return model.Token{}, err
		}
		return model.Token{}, apperrors.Wrap(apperrors.KindTokenRefresh, "failed to refresh session token", err)
	}
	if err := validateResponse(raw); err != nil {
		return model.Token{}, apperrors.Wrap(apperrors.KindTokenRefresh, "failed to refresh session token", err)
	}
	var tok model.Token
	if err := s.conv.Decode(raw, &tok); err != nil {
		return model.Token{}, apperrors.Wrap(apperrors.KindTokenRefresh, "failed to decode session token", err)
	}
	if err := s.tokens.Replace(tok); err != nil {
		return model.Token{}, apperrors.Wrap(apperrors.KindTokenRefresh, "invalid session token", err)
	}
	log := s.logger.Debug()
	if exp, ok := s.tokens.ExpiresAt(); ok {
		log = log.Time("expires_at", exp)
	}
	log.Msg("session token refreshed")
	return tok, nil
}

// SendFeedback attaches feedback to a completed query.
func (s *Service) SendFeedback(ctx context.Context, queryID string, feedback model.FeedbackData) error {
	tok, err := s.ensureValid(ctx)
	if err != nil {
		return apperrors.Classify(err)
	}
	raw, err := s.client.SendFeedback(ctx, queryID, feedback, tok).Get(ctx)
	if err != nil {
		return apperrors.Classify(err)
	}
	if err := validateResponse(raw); err != nil {
		return err
	}
	return nil
}

// AudioProfileID returns the stored audio profile identifier.
func (s *Service) AudioProfileID() (string, error) {
	if s.profile == nil {
		return "", errors.New("voice: no profile store configured")
	}
	return s.profile.Get()
}

// ResetAudioProfileID replaces the audio profile identifier with a new one.
func (s *Service) ResetAudioProfileID() (string, error) {
	if s.profile == nil {
		return "", errors.New("voice: no profile store configured")
	}
	return s.profile.Reset()
}

// begin claims the service for a new invocation, or reports a duplicate
// request to cb.
func (s *Service) begin(ctx context.Context, cb Callback) (*invocation, bool) {
	s.mu.Lock()
	if s.state == model.StateBusy {
		s.mu.Unlock()
		s.logger.Warn().Msg("rejecting duplicate request")
		cb.Failure(apperrors.New(apperrors.KindDuplicateRequest, apperrors.ErrDuplicateRequest.Msg))
		return nil, false
	}
	s.gen++
	inv := newInvocation(ctx, s.gen, cb)
	s.current = inv
	s.state = model.StateBusy
	s.mu.Unlock()

	inv.stopWatch = context.AfterFunc(ctx, func() { s.cancelInvocation(inv) })

	s.logger.Debug().Uint64("generation", inv.gen).Msg("query started")
	return inv, true
}

// end releases the service if inv still holds it.
func (s *Service) end(inv *invocation) {
	s.mu.Lock()
	// A cancel in progress releases the service once its abort work is done.
	if s.current == inv && !inv.aborting {
		s.current = nil
		s.state = model.StateIdle
	}
	s.mu.Unlock()
	inv.stopWatch()
	inv.cancel()
}

// cancelInvocation cancels target, or the current invocation when target is
// nil. Anything other than the current invocation is left alone.
func (s *Service) cancelInvocation(target *invocation) {
	s.mu.Lock()
	inv := s.current
	if inv == nil || (target != nil && target != inv) {
		s.mu.Unlock()
		return
	}
	if !inv.markCancelled() {
		s.mu.Unlock()
		return
	}
	// inv stays current, so the service is Busy until the transport and the
	// recorder have been aborted and no new query can be hit by either.
	inv.aborting = true
	s.mu.Unlock()

	s.logger.Debug().Uint64("generation", inv.gen).Msg("cancelling query")
	inv.cancel()
	s.client.Cancel()
	inv.stopRecording(s.recorder.Stop)

	s.mu.Lock()
	if s.current == inv {
		s.current = nil
		s.state = model.StateIdle
	}
	s.mu.Unlock()
}

func (s *Service) ensureValid(ctx context.Context) (string, error) {
	if s.tokens.Valid() {
		return s.tokens.SessionToken(), nil
	}
	if _, err := s.RefreshSessionToken(ctx); err != nil {
		return "", err
	}
	return s.tokens.SessionToken(), nil
}

func (s *Service) runAudio(inv *invocation, req AudioRequest) (*model.StreamResponse, error) {
	tok, err := s.ensureValid(inv.ctx)
	if err != nil {
		return nil, err
	}

	inv.channel = audio.NewChannel()
	started, err := inv.startRecording(func() error {
		return s.recorder.Start(captureHandler{inv: inv})
	})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindTransport, "failed to start recording", err)
	}
	if !started {
		return nil, errCancelled()
	}

	select {
	case <-inv.started:
	case <-inv.captured:
		return nil, apperrors.New(apperrors.KindTransport, "recording ended before it started")
	case <-inv.ctx.Done():
		return nil, inv.ctx.Err()
	}

	mime := model.DefaultMimeType
	if info := inv.audioInfo(); info.Known() {
		mime = info.MimeType()
	}
	raw, err := s.client.CreateAudioQuery(inv.ctx, transport.QueryParams{
		Context:         req.Context,
		InteractionType: req.InteractionType,
		UserID:          s.userID,
		Token:           tok,
		MimeType:        mime,
	}).Get(inv.ctx)
	if err != nil {
		return nil, err
	}
	if err := validateResponse(raw); err != nil {
		return nil, err
	}
	var query model.QueryResponse
	if err := s.conv.Decode(raw, &query); err != nil {
		return nil, err
	}
	if !inv.live() {
		return nil, errCancelled()
	}
	inv.cb.QueryCreated(&query)
	s.logger.Debug().Uint64("generation", inv.gen).Str("query_id", query.ID).Msg("query created")

	// Nothing is streamed once the query was cancelled.
	if inv.isCancelled() {
		return nil, errCancelled()
	}

	result, err := s.client.StreamAudio(inv.ctx, inv.channel, &query).Get(inv.ctx)
	if err != nil {
		return nil, err
	}
	inv.stopRecording(s.recorder.Stop)
	s.logger.Debug().
		Uint64("generation", inv.gen).
		Int64("audio_bytes", inv.channel.Written()).
		Str("reason", string(result.Reason)).
		Msg("audio stream finished")

	switch result.Reason {
	case model.StreamingVADReceived:
		s.recordingFinished(inv, model.FinishedVADReceived)
	case model.StreamingCancellation:
	default:
		s.recordingFinished(inv, model.FinishedManualStop)
	}

	if err := validateResponse(result.Payload); err != nil {
		return nil, err
	}
	return s.decodeResponse(result.Payload)
}

func (s *Service) runText(inv *invocation, req TextRequest) (*model.StreamResponse, error) {
	tok, err := s.ensureValid(inv.ctx)
	if err != nil {
		return nil, err
	}
	raw, err := s.client.SendTextQuery(inv.ctx, transport.TextParams{
		Context:         req.Context,
		InteractionType: req.InteractionType,
		Text:            req.Text,
		UserID:          s.userID,
		Token:           tok,
	}).Get(inv.ctx)
	if err != nil {
		return nil, err
	}
	if err := validateResponse(raw); err != nil {
		return nil, err
	}
	return s.decodeResponse(raw)
}

func (s *Service) decodeResponse(raw string) (*model.StreamResponse, error) {
	var resp model.StreamResponse
	if err := s.conv.Decode(raw, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (s *Service) recordingFinished(inv *invocation, reason model.FinishedReason) {
	if inv.claimFinished() {
		inv.cb.RecordingFinished(reason)
	}
}

// complete delivers the terminal event of inv. The recorder is always
// stopped before a failure is reported.
func (s *Service) complete(inv *invocation, resp *model.StreamResponse, err error, audioQuery bool) {
	log := s.logger.With().Uint64("generation", inv.gen).Logger()

	if err == nil {
		if ok, _ := inv.claimTerminal(false); ok {
			log.Debug().Str("query_id", resp.ID).Msg("query succeeded")
			inv.cb.Success(resp)
			return
		}
		// Cancelled after the response arrived.
		err = errCancelled()
	}

	inv.stopRecording(s.recorder.Stop)
	if inv.channel != nil {
		inv.channel.Abandon()
	}

	failure := apperrors.Classify(err)
	if inv.isCancelled() && failure.Kind != apperrors.KindCancelled {
		failure = apperrors.Wrap(apperrors.KindCancelled, apperrors.ErrCancelled.Msg, err)
	}

	ok, finished := inv.claimTerminal(true)
	if !ok {
		log.Debug().Err(err).Msg("dropping late failure")
		return
	}
	if audioQuery && failure.Kind == apperrors.KindCancelled && !finished {
		inv.cb.RecordingFinished(model.FinishedCancelled)
	}
	if failure.Kind == apperrors.KindCancelled {
		log.Debug().Msg("query cancelled")
	} else {
		log.Warn().Err(failure).Str("kind", string(failure.Kind)).Msg("query failed")
	}
	inv.cb.Failure(failure)
}

// errCancelled returns a fresh Cancelled error for one invocation.
func errCancelled() *apperrors.Error {
	return apperrors.Wrap(apperrors.KindCancelled, apperrors.ErrCancelled.Msg, context.Canceled)
}

// validateResponse rejects the payload a transport substitutes when the
// server closed the connection.
func validateResponse(raw string) error {
	if raw == transport.Closing {
		return apperrors.New(apperrors.KindServerClosed, apperrors.ErrServerClosed.Msg)
	}
	return nil
}
