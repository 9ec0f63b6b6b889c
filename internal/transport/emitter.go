// Package transport defines the delivery surface the signaling core talks to.
package transport

// Emitter delivers events to live connections. Implementations marshal data
// as the envelope's data field; json.RawMessage values pass through untouched.
type Emitter interface {
	// Emit sends one event to a single connection and reports whether the
	// connection was known.
	Emit(handle, event string, data any) bool
	// Broadcast sends one event to every connection except the excluded handles.
	Broadcast(event string, data any, exclude ...string)
}
