// Package transporttest provides a recording kit.Sender for tests.
package transporttest

import (
	"context"
	"sync"

	kit "castbot/internal/transport"
)

// Sent is one outbound call seen by Recorder.
type Sent struct {
	Op         string // "send", "edit" or "answer"
	ChatID     int64
	MessageID  int
	CallbackID string
	Text       string
	Opt        *kit.SendOptions
}

// Recorder implements kit.Sender and remembers every call.
type Recorder struct {
	mu     sync.Mutex
	nextID int
	calls  []Sent
	notify chan struct{}
}

func NewRecorder() *Recorder {
	return &Recorder{nextID: 100, notify: make(chan struct{}, 1024)}
}

func (r *Recorder) add(s Sent) {
	r.mu.Lock()
	r.calls = append(r.calls, s)
	r.mu.Unlock()
	select {
	case r.notify <- struct{}{}:
	default:
	}
}

func (r *Recorder) SendText(_ context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	r.mu.Lock()
	r.nextID++
	id := r.nextID
	r.mu.Unlock()
	r.add(Sent{Op: "send", ChatID: to.ChatID, MessageID: id, Text: text, Opt: opt})
	return kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: id}, nil
}

func (r *Recorder) EditText(_ context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error {
	r.add(Sent{Op: "edit", ChatID: ref.ChatID, MessageID: ref.MessageID, Text: text, Opt: opt})
	return nil
}

func (r *Recorder) AnswerCallback(_ context.Context, callbackID string, text string) error {
	r.add(Sent{Op: "answer", CallbackID: callbackID, Text: text})
	return nil
}

// Calls returns a copy of everything recorded so far.
func (r *Recorder) Calls() []Sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Sent(nil), r.calls...)
}

// Texts returns the text of every call with op ("" for all).
func (r *Recorder) Texts(op string) []string {
	var out []string
	for _, c := range r.Calls() {
		if op == "" || c.Op == op {
			out = append(out, c.Text)
		}
	}
	return out
}

// Last returns the most recent call, if any.
func (r *Recorder) Last() (Sent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.calls) == 0 {
		return Sent{}, false
	}
	return r.calls[len(r.calls)-1], true
}

// Reset forgets recorded calls.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.calls = nil
	r.mu.Unlock()
}

// Notify fires (best effort) after each recorded call.
func (r *Recorder) Notify() <-chan struct{} { return r.notify }
