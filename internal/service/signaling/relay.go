package signaling

import (
	"signaling-backend/internal/domain"
	"signaling-backend/internal/transport"
	"signaling-backend/pkg/logger"

	"go.uber.org/zap"
)

// Directory resolves a user's current connection
type Directory interface {
	FindByUser(userID string) (domain.ConnectionRecord, bool)
}

// Recorder observes relay outcomes
type Recorder interface {
	RecordSignalRelayed(kind string, delivered bool)
}

// Relay forwards payloads to a user's live connection without inspecting them
type Relay struct {
	directory Directory
	emitter   transport.Emitter
	recorder  Recorder
}

// NewRelay creates a Relay. recorder may be nil.
func NewRelay(directory Directory, emitter transport.Emitter, recorder Recorder) *Relay {
	return &Relay{
		directory: directory,
		emitter:   emitter,
		recorder:  recorder,
	}
}

// Relay sends payload tagged with kind to toUserID and reports whether it
// was handed to a connection. Offline or unknown targets are not delivered;
// what that means is up to the caller.
func (r *Relay) Relay(kind string, payload any, toUserID string) bool {
	delivered := false
	if rec, ok := r.directory.FindByUser(toUserID); ok && rec.IsOnline && rec.ConnectionHandle != "" {
		delivered = r.emitter.Emit(rec.ConnectionHandle, kind, payload)
	}

	if r.recorder != nil {
		r.recorder.RecordSignalRelayed(kind, delivered)
	}
	if !delivered {
		logger.Debug("Relay target unreachable",
			zap.String("event", kind),
			zap.String("to", toUserID))
	}
	return delivered
}

// Online reports whether toUserID currently has a live connection
func (r *Relay) Online(userID string) bool {
	rec, ok := r.directory.FindByUser(userID)
	return ok && rec.IsOnline && rec.ConnectionHandle != ""
}
