package voice

import "github.com/lukasbauer/voxquery/internal/model"

// Callback observes the lifecycle of one query. RecordingStarted and
// AudioData arrive on the recorder's worker goroutine, everything else on the
// goroutine running the query, except a duplicate-request Failure which is
// delivered to the rejected caller.
type Callback interface {
	RecordingStarted()
	AudioData(chunk []byte)
	QueryCreated(q *model.QueryResponse)
	RecordingFinished(reason model.FinishedReason)
	Success(resp *model.StreamResponse)
	// Failure always receives an *apperrors.Error.
	Failure(err error)
}

// CallbackFuncs implements Callback with optional functions. Nil fields are
// ignored.
type CallbackFuncs struct {
	OnRecordingStarted  func()
	OnAudioData         func(chunk []byte)
	OnQueryCreated      func(q *model.QueryResponse)
	OnRecordingFinished func(reason model.FinishedReason)
	OnSuccess           func(resp *model.StreamResponse)
	OnFailure           func(err error)
}

func (f CallbackFuncs) RecordingStarted() {
	if f.OnRecordingStarted != nil {
		f.OnRecordingStarted()
	}
}

func (f CallbackFuncs) AudioData(chunk []byte) {
	if f.OnAudioData != nil {
		f.OnAudioData(chunk)
	}
}

func (f CallbackFuncs) QueryCreated(q *model.QueryResponse) {
	if f.OnQueryCreated != nil {
		f.OnQueryCreated(q)
	}
}

func (f CallbackFuncs) RecordingFinished(reason model.FinishedReason) {
	if f.OnRecordingFinished != nil {
		f.OnRecordingFinished(reason)
	}
}

func (f CallbackFuncs) Success(resp *model.StreamResponse) {
	if f.OnSuccess != nil {
		f.OnSuccess(resp)
	}
}

func (f CallbackFuncs) Failure(err error) {
	if f.OnFailure != nil {
		f.OnFailure(err)
	}
}

// Fanout delivers every event to each callback in order.
type Fanout []Callback

func (f Fanout) RecordingStarted() {
	for _, cb := range f {
		cb.RecordingStarted()
	}
}

func (f Fanout) AudioData(chunk []byte) {
	for _, cb := range f {
		cb.AudioData(chunk)
	}
}

func (f Fanout) QueryCreated(q *model.QueryResponse) {
	for _, cb := range f {
		cb.QueryCreated(q)
	}
}

func (f Fanout) RecordingFinished(reason model.FinishedReason) {
	for _, cb := range f {
		cb.RecordingFinished(reason)
	}
}

func (f Fanout) Success(resp *model.StreamResponse) {
	for _, cb := range f {
		cb.Success(resp)
	}
}

func (f Fanout) Failure(err error) {
	for _, cb := range f {
		cb.Failure(err)
	}
}
