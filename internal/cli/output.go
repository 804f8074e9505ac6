package cli

import (
	"fmt"
	"io"
	"os"
	"sync"

	jsoniter "github.com/json-iterator/go"
	"github.com/lukasbauer/voxquery/internal/model"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func printJSON(w io.Writer, data any) {
	out, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return
	}
	fmt.Fprintln(w, string(out))
}

// printer reports query events as they happen and keeps the outcome.
// Events may arrive from the recorder goroutine.
type printer struct {
	w      io.Writer
	asJSON bool

	mu     sync.Mutex
	chunks int
	bytes  int
	result *model.StreamResponse
	err    error
}

func newPrinter(w io.Writer, asJSON bool) *printer {
	return &printer{w: w, asJSON: asJSON}
}

func (p *printer) event(name string, fields map[string]any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.asJSON {
		line := map[string]any{"event": name}
		for k, v := range fields {
			line[k] = v
		}
		out, _ := json.Marshal(line)
		fmt.Fprintln(p.w, string(out))
		return
	}
	eventLabel.Fprintf(p.w, "%-20s", name)
	for k, v := range fields {
		fmt.Fprintf(p.w, " %s=%v", k, v)
	}
	fmt.Fprintln(p.w)
}

func (p *printer) RecordingStarted() {
	p.event("recording_started", nil)
}

func (p *printer) AudioData(chunk []byte) {
	p.mu.Lock()
	p.chunks++
	p.bytes += len(chunk)
	p.mu.Unlock()
}

func (p *printer) QueryCreated(q *model.QueryResponse) {
	p.event("query_created", map[string]any{"id": q.ID})
}

func (p *printer) RecordingFinished(reason model.FinishedReason) {
	p.mu.Lock()
	chunks, n := p.chunks, p.bytes
	p.mu.Unlock()
	p.event("recording_finished", map[string]any{"reason": reason, "chunks": chunks, "bytes": n})
}

func (p *printer) Success(resp *model.StreamResponse) {
	p.mu.Lock()
	p.result = resp
	p.mu.Unlock()
}

func (p *printer) Failure(err error) {
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
}

// finish writes the result to out, or returns the failure.
func (p *printer) finish(out io.Writer) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	if p.result == nil {
		return fmt.Errorf("query ended without a result")
	}
	if !p.asJSON && p.result.Reply != nil && p.result.Reply.Text != "" {
		okLabel.Fprintln(p.w, p.result.Reply.Text)
	}
	printJSON(out, p.result)
	return nil
}
