// Package audio contains the capture side of an audio query: the recorder
// contract, a recorder that captures from any byte source, and the Channel
// that carries captured audio to the transport.
package audio

import (
	"errors"
	"io"
	"os"
	"sync"
	"time"

	"github.com/lukasbauer/voxquery/internal/model"
	"github.com/rs/zerolog"
)

const (
	DefaultSampleRate     = 16000
	DefaultBitsPerSample  = 16
	DefaultReadBufferSize = 4000
	DefaultMaxDuration    = 10 * time.Second
)

// DataHandler receives capture notifications. RecordingStarted is called
// once before the first Data call and Complete exactly once at the end.
type DataHandler interface {
	RecordingStarted(info model.AudioInfo)
	Data(chunk []byte)
	Complete()
}

// Recorder is the capture collaborator used by the query service.
type Recorder interface {
	// Start begins capturing asynchronously.
	Start(h DataHandler) error
	// Stop ends the current capture. It is idempotent and does not wait for
	// the capture worker, so it may be called from a DataHandler.
	Stop()
	// AudioInfo describes the captured format, or model.UnknownAudioInfo
	// before recording began.
	AudioInfo() model.AudioInfo
}

// SourceFunc opens the byte source for one recording.
type SourceFunc func() (io.ReadCloser, error)

// FileSource reads raw PCM from path.
func FileSource(path string) SourceFunc {
	return func() (io.ReadCloser, error) {
		return os.Open(path)
	}
}

// ReaderSource reads from r. Closing the source does not close r.
func ReaderSource(r io.Reader) SourceFunc {
	return func() (io.ReadCloser, error) {
		return io.NopCloser(r), nil
	}
}

// StreamConfig configures a StreamRecorder.
type StreamConfig struct {
	SampleRate     int
	BitsPerSample  int
	ReadBufferSize int
	MaxDuration    time.Duration
	// Paced delivers chunks at the rate they would arrive from a live device.
	Paced bool
}

func (c StreamConfig) withDefaults() StreamConfig {
	if c.SampleRate <= 0 {
		c.SampleRate = DefaultSampleRate
	}
	if c.BitsPerSample <= 0 {
		c.BitsPerSample = DefaultBitsPerSample
	}
	if c.ReadBufferSize <= 0 {
		c.ReadBufferSize = DefaultReadBufferSize
	}
	if c.MaxDuration <= 0 {
		c.MaxDuration = DefaultMaxDuration
	}
	return c
}

func (c StreamConfig) bytesPerSecond() int {
	return c.SampleRate * c.BitsPerSample / 8
}

// MaxBytes is the capture bound derived from MaxDuration.
func (c StreamConfig) MaxBytes() int {
	return int(float64(c.bytesPerSecond()) * c.MaxDuration.Seconds())
}

// StreamRecorder captures PCM audio from a byte source on a dedicated worker
// goroutine.
type StreamRecorder struct {
	open   SourceFunc
	cfg    StreamConfig
	logger zerolog.Logger

	mu     sync.Mutex
	active *recording
	info   model.AudioInfo
}

type recording struct {
	src      io.ReadCloser
	stop     chan struct{}
	stopOnce sync.Once
}

func (r *recording) halt() {
	r.stopOnce.Do(func() {
		close(r.stop)
		_ = r.src.Close()
	})
}

func (r *recording) stopped() bool {
	select {
	case <-r.stop:
		return true
	default:
		return false
	}
}

// NewStreamRecorder creates a recorder reading from open.
func NewStreamRecorder(open SourceFunc, cfg StreamConfig, logger zerolog.Logger) *StreamRecorder {
	return &StreamRecorder{
		open:   open,
		cfg:    cfg.withDefaults(),
		logger: logger.With().Str("component", "recorder").Logger(),
		info:   model.UnknownAudioInfo,
	}
}

// Start stops any recording in progress and begins a new one.
func (s *StreamRecorder) Start(h DataHandler) error {
	if h == nil {
		return errors.New("recorder: nil handler")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active != nil {
		s.active.halt()
		s.active = nil
	}

	src, err := s.open()
	if err != nil {
		return err
	}
	rec := &recording{src: src, stop: make(chan struct{})}
	s.active = rec

	go s.capture(rec, h)
	return nil
}

// Stop halts the active recording, if any.
func (s *StreamRecorder) Stop() {
	s.mu.Lock()
	rec := s.active
	s.active = nil
	s.mu.Unlock()

	if rec != nil {
		rec.halt()
	}
}

// AudioInfo returns the format of the current or last recording.
func (s *StreamRecorder) AudioInfo() model.AudioInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info
}

func (s *StreamRecorder) capture(rec *recording, h DataHandler) {
	defer h.Complete()
	defer func() {
		rec.halt()
		s.mu.Lock()
		if s.active == rec {
			s.active = nil
		}
		s.mu.Unlock()
	}()

	info := model.AudioInfo{SampleRate: s.cfg.SampleRate, BitsPerSample: s.cfg.BitsPerSample}
	s.mu.Lock()
	s.info = info
	s.mu.Unlock()
	h.RecordingStarted(info)

	maxBytes := s.cfg.MaxBytes()
	buf := make([]byte, s.cfg.ReadBufferSize)
	total := 0

	for total < maxBytes && !rec.stopped() {
		n, err := rec.src.Read(buf)
		if n > 0 {
			if total+n > maxBytes {
				n = maxBytes - total
			}
			total += n
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			if rec.stopped() {
				return
			}
			h.Data(chunk)
			if s.cfg.Paced && !s.pace(rec, n) {
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !rec.stopped() {
				s.logger.Warn().Err(err).Msg("capture read failed")
			}
			return
		}
	}
	s.logger.Debug().Int("bytes", total).Msg("capture finished")
}

// pace waits for the playback time of n bytes. It returns false if the
// recording was stopped meanwhile.
func (s *StreamRecorder) pace(rec *recording, n int) bool {
	d := time.Duration(float64(n) / float64(s.cfg.bytesPerSecond()) * float64(time.Second))
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-rec.stop:
		return false
	}
}
