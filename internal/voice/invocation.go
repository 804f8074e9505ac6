package voice

import (
	"context"
	"sync"

	"github.com/lukasbauer/voxquery/internal/audio"
	"github.com/lukasbauer/voxquery/internal/model"
)

// invocation is one StartAudioQuery or SendTextQuery call. Events are only
// delivered while it is live; the terminal event is claimed exactly once.
type invocation struct {
	gen    uint64
	cb     Callback
	ctx    context.Context
	cancel context.CancelFunc
	// stopWatch detaches the caller's context.
	stopWatch func() bool
	// aborting is set by Cancel while it aborts the transport and the
	// recorder. Guarded by Service.mu.
	aborting bool

	mu         sync.Mutex
	cancelled  bool
	terminated bool
	finished   bool

	// recMu serialises recorder start against cancellation so a cancelled
	// invocation never leaves a recording running.
	recMu     sync.Mutex
	recording bool

	started  chan struct{}
	captured chan struct{}
	once     struct{ started, captured sync.Once }
	channel  *audio.Channel
	info     model.AudioInfo
}

func newInvocation(ctx context.Context, gen uint64, cb Callback) *invocation {
	ctx, cancel := context.WithCancel(ctx)
	return &invocation{
		gen:      gen,
		cb:       cb,
		ctx:      ctx,
		cancel:   cancel,
		started:  make(chan struct{}),
		captured: make(chan struct{}),
		info:     model.UnknownAudioInfo,
	}
}

func (inv *invocation) markCancelled() bool {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	if inv.cancelled || inv.terminated {
		return false
	}
	inv.cancelled = true
	return true
}

func (inv *invocation) isCancelled() bool {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	return inv.cancelled
}

func (inv *invocation) live() bool {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	return !inv.cancelled && !inv.terminated
}

// claimFinished reserves the single RecordingFinished event.
func (inv *invocation) claimFinished() bool {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	if inv.cancelled || inv.terminated || inv.finished {
		return false
	}
	inv.finished = true
	return true
}

// claimTerminal reserves the terminal event. A cancelled invocation can only
// terminate with a failure. The second result reports whether a
// RecordingFinished event was already delivered.
func (inv *invocation) claimTerminal(failure bool) (ok, finished bool) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	if inv.terminated || (inv.cancelled && !failure) {
		return false, inv.finished
	}
	inv.terminated = true
	return true, inv.finished
}

// startRecording runs start unless the invocation was cancelled first.
func (inv *invocation) startRecording(start func() error) (bool, error) {
	inv.recMu.Lock()
	defer inv.recMu.Unlock()
	if inv.isCancelled() {
		return false, nil
	}
	if err := start(); err != nil {
		return true, err
	}
	inv.recording = true
	return true, nil
}

// stopRecording runs stop if this invocation still owns the recorder.
func (inv *invocation) stopRecording(stop func()) {
	inv.recMu.Lock()
	defer inv.recMu.Unlock()
	if inv.recording {
		inv.recording = false
		stop()
	}
}

// captureHandler feeds one recording into the invocation's channel and
// forwards every chunk to the callback as it is produced.
type captureHandler struct {
	inv *invocation
}

func (h captureHandler) RecordingStarted(info model.AudioInfo) {
	inv := h.inv
	inv.once.started.Do(func() {
		inv.mu.Lock()
		inv.info = info
		inv.mu.Unlock()
		if inv.live() {
			inv.cb.RecordingStarted()
		}
		close(inv.started)
	})
}

func (h captureHandler) Data(chunk []byte) {
	inv := h.inv
	if _, err := inv.channel.Write(chunk); err != nil {
		return
	}
	if inv.live() {
		inv.cb.AudioData(chunk)
	}
}

func (h captureHandler) Complete() {
	inv := h.inv
	_ = inv.channel.Close()
	inv.once.captured.Do(func() { close(inv.captured) })
}

func (inv *invocation) audioInfo() model.AudioInfo {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	return inv.info
}
