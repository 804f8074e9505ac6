package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/lukasbauer/voxquery/internal/apperrors"
	"github.com/lukasbauer/voxquery/internal/codec"
	"github.com/lukasbauer/voxquery/internal/model"
	"github.com/lukasbauer/voxquery/internal/pending"
	"github.com/rs/zerolog"
)

const websocketPath = "/websocketapi"

const (
	notificationVADStop      = "vad_stop"
	notificationComplete     = "query_complete"
	notificationServerError  = "internal_server_error"
	frameTypeRequest         = "request"
	frameTypeResponse        = "response"
	frameTypeNotification    = "notification"
	streamReadBufferSize     = 4096
	closeWriteTimeout        = time.Second
	errStreamAlreadyInFlight = "an audio stream is already in progress"
)

// wsRequest is a REST-style request tunnelled over the socket.
type wsRequest struct {
	Type      string            `json:"type"`
	RequestID string            `json:"requestId"`
	Method    string            `json:"method"`
	RestURI   string            `json:"restUri"`
	Headers   map[string]string `json:"headers"`
	Entity    any               `json:"entity,omitempty"`
}

// WSClient keeps one persistent websocket to the query API. Requests are
// matched to responses by request id; audio is sent as binary frames and the
// server may end the stream early when it detects the end of speech.
type WSClient struct {
	cfg    Config
	conv   *codec.Converter
	dialer *websocket.Dialer
	logger zerolog.Logger

	mu   sync.Mutex
	conn *wsConn
}

// NewWSClient creates a websocket client. The connection is dialled on the
// first request. A nil dialer means websocket.DefaultDialer.
func NewWSClient(cfg Config, dialer *websocket.Dialer, conv *codec.Converter, logger zerolog.Logger) *WSClient {
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	if conv == nil {
		conv = codec.New()
	}
	return &WSClient{
		cfg:    cfg.withDefaults(),
		conv:   conv,
		dialer: dialer,
		logger: logger.With().Str("component", "websocket").Logger(),
	}
}

// RefreshSessionToken exchanges the refresh credential for a session token.
func (c *WSClient) RefreshSessionToken(ctx context.Context, refreshToken string) *pending.Result[string] {
	return c.request(ctx, "POST", tokensPath, refreshToken, nil)
}

// CreateAudioQuery creates an audio query and returns its descriptor.
func (c *WSClient) CreateAudioQuery(ctx context.Context, p QueryParams) *pending.Result[string] {
	return c.request(ctx, "POST", queriesPath, p.Token, c.cfg.audioEntity(p))
}

// SendTextQuery runs a text query.
func (c *WSClient) SendTextQuery(ctx context.Context, p TextParams) *pending.Result[string] {
	return c.request(ctx, "POST", queriesPath, p.Token, c.cfg.textEntity(p))
}

// SendFeedback attaches feedback to a completed query.
func (c *WSClient) SendFeedback(ctx context.Context, queryID string, feedback model.FeedbackData, token string) *pending.Result[string] {
	return c.request(ctx, "PATCH", feedbackPath(queryID), token, feedback)
}

// StreamAudio sends audio until it reaches EOF or the server signals the end
// of speech, then waits for the query_complete notification.
func (c *WSClient) StreamAudio(ctx context.Context, audio io.Reader, query *model.QueryResponse) *pending.Result[StreamResult] {
	wc, err := c.connection(ctx)
	if err != nil {
		return pending.Failed[StreamResult](err)
	}

	st := newWSStream(audio)
	if !wc.setStream(st) {
		return pending.Failed[StreamResult](errors.New(errStreamAlreadyInFlight))
	}

	go c.pump(wc, st)
	go func() {
		select {
		case <-ctx.Done():
			wc.clearStream(st)
			st.fail(ctx.Err())
		case <-st.result.Done():
		}
	}()
	return st.result
}

// Cancel fails every outstanding request and drops the connection. The next
// request dials a new one.
func (c *WSClient) Cancel() {
	c.mu.Lock()
	wc := c.conn
	c.mu.Unlock()
	if wc == nil {
		return
	}
	wc.failAll(errCancelled)
	c.shutdown(wc)
}

// Close closes the connection, if any.
func (c *WSClient) Close() error {
	c.mu.Lock()
	wc := c.conn
	c.mu.Unlock()
	if wc != nil {
		c.shutdown(wc)
	}
	return nil
}

func (c *WSClient) endpoint() (string, error) {
	u, err := url.Parse(c.cfg.ServerURL)
	if err != nil {
		return "", fmt.Errorf("invalid server URL: %w", err)
	}
	switch u.Scheme {
	case "https", "wss":
		u.Scheme = "wss"
	case "http", "ws":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("unsupported server URL scheme %q", u.Scheme)
	}
	u.Path += websocketPath
	return u.String(), nil
}

// connection returns the live connection, dialling if needed.
func (c *WSClient) connection(ctx context.Context) (*wsConn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return c.conn, nil
	}

	endpoint, err := c.endpoint()
	if err != nil {
		return nil, err
	}
	conn, _, err := c.dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", endpoint, err)
	}

	wc := &wsConn{
		conn:    conn,
		waiters: make(map[string]*pending.Result[string]),
		done:    make(chan struct{}),
	}
	c.conn = wc
	go c.readLoop(wc)

	c.logger.Debug().Str("endpoint", endpoint).Msg("connected")
	return wc, nil
}

func (c *WSClient) request(ctx context.Context, method, uri, token string, entity any) *pending.Result[string] {
	wc, err := c.connection(ctx)
	if err != nil {
		return pending.Failed[string](err)
	}

	id := uuid.NewString()
	res := pending.New[string]()
	if !wc.addWaiter(id, res) {
		res.Resolve(Closing)
		return res
	}

	frame, err := c.conv.Encode(wsRequest{
		Type:      frameTypeRequest,
		RequestID: id,
		Method:    method,
		RestURI:   uri,
		Headers:   c.cfg.headers(token, false),
		Entity:    entity,
	})
	if err != nil {
		wc.takeWaiter(id)
		res.Fail(fmt.Errorf("failed to marshal request: %w", err))
		return res
	}
	if err := wc.write(websocket.TextMessage, frame); err != nil {
		wc.takeWaiter(id)
		res.Fail(fmt.Errorf("failed to send request: %w", err))
		return res
	}

	go func() {
		select {
		case <-ctx.Done():
			if wc.takeWaiter(id) != nil {
				res.Fail(ctx.Err())
			}
		case <-res.Done():
		}
	}()
	return res
}

// chunkReader is implemented by sources that keep the capture's chunk
// boundaries, such as audio.Channel.
type chunkReader interface {
	ReadChunk() ([]byte, error)
}

// pump copies audio to the socket as binary frames and terminates the stream
// with a single end-of-stream byte. A chunkReader source is sent one frame
// per captured chunk.
func (c *WSClient) pump(wc *wsConn, st *wsStream) {
	next := readInto(st.audio, make([]byte, streamReadBufferSize))
	if cr, ok := st.audio.(chunkReader); ok {
		next = cr.ReadChunk
	}
	for !st.stopped() {
		frame, err := next()
		if len(frame) > 0 && !st.stopped() {
			if werr := wc.write(websocket.BinaryMessage, frame); werr != nil {
				wc.clearStream(st)
				st.fail(fmt.Errorf("failed to send audio: %w", werr))
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				wc.clearStream(st)
				st.fail(fmt.Errorf("failed to read audio: %w", err))
				return
			}
			break
		}
	}
	if wc.isClosed() {
		return
	}
	if err := wc.write(websocket.BinaryMessage, []byte{endOfStream}); err != nil {
		c.logger.Debug().Err(err).Msg("failed to send end of stream")
	}
}

func (c *WSClient) readLoop(wc *wsConn) {
	defer c.shutdown(wc)

	for {
		_, msg, err := wc.conn.ReadMessage()
		if err != nil {
			if wc.isClosed() || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug().Msg("connection closed")
			} else {
				c.logger.Warn().Err(err).Msg("read error")
			}
			return
		}
		c.dispatch(wc, msg)
	}
}

func (c *WSClient) dispatch(wc *wsConn, msg []byte) {
	frame := string(msg)
	entity := c.conv.Field(frame, "entity")

	switch ft := c.conv.Field(frame, "type"); ft {
	case frameTypeResponse:
		id := c.conv.Field(frame, "requestId")
		res := wc.takeWaiter(id)
		if res == nil {
			c.logger.Debug().Str("request_id", id).Msg("response for unknown request")
			return
		}
		if code := c.conv.IntField(frame, "responseCode"); code < 200 || code >= 300 {
			res.Fail(apperrors.Rejected(code, entity))
			return
		}
		res.Resolve(entity)

	case frameTypeNotification:
		st := wc.currentStream()
		if st == nil {
			return
		}
		switch nt := c.conv.Field(frame, "notificationType"); nt {
		case notificationVADStop:
			st.vadStop()
		case notificationComplete:
			wc.clearStream(st)
			st.complete(entity)
		case notificationServerError:
			wc.clearStream(st)
			st.fail(apperrors.Rejected(500, entity))
		default:
			c.logger.Debug().Str("notification", nt).Msg("ignoring notification")
		}

	default:
		c.logger.Debug().Str("type", ft).Msg("ignoring frame")
	}
}

func readInto(r io.Reader, buf []byte) func() ([]byte, error) {
	return func() ([]byte, error) {
		n, err := r.Read(buf)
		return buf[:n], err
	}
}

// shutdown closes wc and resolves whatever is still waiting on it with the
// Closing sentinel.
func (c *WSClient) shutdown(wc *wsConn) {
	c.mu.Lock()
	if c.conn == wc {
		c.conn = nil
	}
	c.mu.Unlock()

	wc.closeOnce.Do(func() {
		close(wc.done)
		closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = wc.conn.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(closeWriteTimeout))
		_ = wc.conn.Close()

		for _, res := range wc.takeAllWaiters() {
			res.Resolve(Closing)
		}
		if st := wc.currentStream(); st != nil {
			wc.clearStream(st)
			st.complete(Closing)
		}
	})
}

// wsConn is one websocket connection and the requests waiting on it.
type wsConn struct {
	conn      *websocket.Conn
	writeMu   sync.Mutex
	done      chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	waiters map[string]*pending.Result[string]
	stream  *wsStream
}

func (wc *wsConn) isClosed() bool {
	select {
	case <-wc.done:
		return true
	default:
		return false
	}
}

func (wc *wsConn) write(messageType int, data []byte) error {
	wc.writeMu.Lock()
	defer wc.writeMu.Unlock()
	if wc.isClosed() {
		return errors.New("connection is closed")
	}
	return wc.conn.WriteMessage(messageType, data)
}

func (wc *wsConn) addWaiter(id string, res *pending.Result[string]) bool {
	wc.mu.Lock()
	defer wc.mu.Unlock()
	if wc.isClosed() {
		return false
	}
	wc.waiters[id] = res
	return true
}

func (wc *wsConn) takeWaiter(id string) *pending.Result[string] {
	wc.mu.Lock()
	defer wc.mu.Unlock()
	res := wc.waiters[id]
	delete(wc.waiters, id)
	return res
}

func (wc *wsConn) takeAllWaiters() []*pending.Result[string] {
	wc.mu.Lock()
	defer wc.mu.Unlock()
	all := make([]*pending.Result[string], 0, len(wc.waiters))
	for id, res := range wc.waiters {
		all = append(all, res)
		delete(wc.waiters, id)
	}
	return all
}

func (wc *wsConn) setStream(st *wsStream) bool {
	wc.mu.Lock()
	defer wc.mu.Unlock()
	if wc.stream != nil {
		return false
	}
	wc.stream = st
	return true
}

func (wc *wsConn) currentStream() *wsStream {
	wc.mu.Lock()
	defer wc.mu.Unlock()
	return wc.stream
}

func (wc *wsConn) clearStream(st *wsStream) {
	wc.mu.Lock()
	defer wc.mu.Unlock()
	if wc.stream == st {
		wc.stream = nil
	}
}

// failAll fails every waiter and the current stream with err.
func (wc *wsConn) failAll(err error) {
	for _, res := range wc.takeAllWaiters() {
		res.Fail(err)
	}
	if st := wc.currentStream(); st != nil {
		wc.clearStream(st)
		st.fail(err)
	}
}

// wsStream is one audio stream in flight.
type wsStream struct {
	audio  io.Reader
	result *pending.Result[StreamResult]

	mu       sync.Mutex
	vad      bool
	stop     chan struct{}
	stopOnce sync.Once
}

func newWSStream(audio io.Reader) *wsStream {
	return &wsStream{
		audio:  audio,
		result: pending.New[StreamResult](),
		stop:   make(chan struct{}),
	}
}

func (s *wsStream) stopped() bool {
	select {
	case <-s.stop:
		return true
	default:
		return false
	}
}

// halt stops the pump and releases the audio producer.
func (s *wsStream) halt() {
	s.stopOnce.Do(func() {
		close(s.stop)
		abandon(s.audio)
	})
}

func (s *wsStream) vadStop() {
	s.mu.Lock()
	s.vad = true
	s.mu.Unlock()
	s.halt()
}

func (s *wsStream) complete(payload string) {
	s.mu.Lock()
	reason := model.StreamingComplete
	if s.vad {
		reason = model.StreamingVADReceived
	}
	s.mu.Unlock()
	s.halt()
	s.result.Resolve(StreamResult{Payload: payload, Reason: reason})
}

func (s *wsStream) fail(err error) {
	s.halt()
	s.result.Fail(err)
}
