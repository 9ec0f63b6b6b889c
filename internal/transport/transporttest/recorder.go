// Package transporttest provides an in-memory Emitter for tests.
package transporttest

import (
	"encoding/json"
	"slices"
	"sync"
)

// Message is one recorded delivery
type Message struct {
	Handle string
	Event  string
	Data   json.RawMessage
}

// Decode unmarshals the recorded payload into v
func (m Message) Decode(v any) error {
	return json.Unmarshal(m.Data, v)
}

// Recorder records every emitted event per connection
type Recorder struct {
	mu       sync.Mutex
	handles  []string
	messages []Message
}

// NewRecorder creates a Recorder with the given live connections
func NewRecorder(handles ...string) *Recorder {
	r := &Recorder{}
	for _, h := range handles {
		r.Connect(h)
	}
	return r
}

// Connect marks a handle as live
func (r *Recorder) Connect(handle string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !slices.Contains(r.handles, handle) {
		r.handles = append(r.handles, handle)
	}
}

// Disconnect removes a live handle
func (r *Recorder) Disconnect(handle string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handles = slices.DeleteFunc(r.handles, func(h string) bool { return h == handle })
}

// Emit implements transport.Emitter
func (r *Recorder) Emit(handle, event string, data any) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !slices.Contains(r.handles, handle) {
		return false
	}
	r.messages = append(r.messages, Message{Handle: handle, Event: event, Data: encode(data)})
	return true
}

// Broadcast implements transport.Emitter
func (r *Recorder) Broadcast(event string, data any, exclude ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	payload := encode(data)
	for _, h := range r.handles {
		if slices.Contains(exclude, h) {
			continue
		}
		r.messages = append(r.messages, Message{Handle: h, Event: event, Data: payload})
	}
}

// Messages returns everything recorded so far
func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.messages)
}

// For returns messages delivered to handle, optionally filtered by event
func (r *Recorder) For(handle string, events ...string) []Message {
	var out []Message
	for _, m := range r.Messages() {
		if m.Handle != handle {
			continue
		}
		if len(events) > 0 && !slices.Contains(events, m.Event) {
			continue
		}
		out = append(out, m)
	}
	return out
}

// Count returns how many times event reached handle
func (r *Recorder) Count(handle, event string) int {
	return len(r.For(handle, event))
}

// Reset drops recorded messages but keeps live handles
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = nil
}

func encode(data any) json.RawMessage {
	if data == nil {
		return nil
	}
	b, err := json.Marshal(data)
	if err != nil {
		panic(err)
	}
	return b
}
