package domain

import (
	"fmt"
	"time"
)

// CallType is the media kind requested by the caller
type CallType string

const (
	CallTypeAudio CallType = "audio"
	CallTypeVideo CallType = "video"
)

// Valid reports whether t is a supported call type
func (t CallType) Valid() bool {
	return t == CallTypeAudio || t == CallTypeVideo
}

// CallStatus is the lifecycle state of a call session
type CallStatus string

const (
	CallStatusRinging   CallStatus = "ringing"
	CallStatusConnected CallStatus = "connected"
	CallStatusEnded     CallStatus = "ended"
)

// EndReason records why a session left the active set
type EndReason string

const (
	EndReasonRejected   EndReason = "rejected"
	EndReasonTimeout    EndReason = "timeout"
	EndReasonHangup     EndReason = "hangup"
	EndReasonDisconnect EndReason = "disconnect"
	EndReasonShutdown   EndReason = "shutdown"
)

// CallSession is one call attempt between two users
type CallSession struct {
	CallID      string     `json:"call_id"`
	CallerID    string     `json:"caller_id"`
	CalleeID    string     `json:"callee_id"`
	CallerName  string     `json:"caller_name,omitempty"`
	CallType    CallType   `json:"call_type"`
	Status      CallStatus `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	ConnectedAt *time.Time `json:"connected_at,omitempty"`
}

// NewCallID builds the call identifier from the participants and start time
func NewCallID(callerID, calleeID string, startedAt time.Time) string {
	return fmt.Sprintf("%s-%s-%d", callerID, calleeID, startedAt.UnixMilli())
}

// Involves reports whether userID is a participant
func (s *CallSession) Involves(userID string) bool {
	return s.CallerID == userID || s.CalleeID == userID
}

// Peer returns the other participant
func (s *CallSession) Peer(userID string) string {
	if s.CallerID == userID {
		return s.CalleeID
	}
	return s.CallerID
}

// Active reports whether the session still counts against its pair
func (s *CallSession) Active() bool {
	return s.Status == CallStatusRinging || s.Status == CallStatusConnected
}

// CallRecord is the history row written after a session ends
type CallRecord struct {
	CallID      string     `json:"call_id"`
	CallerID    string     `json:"caller_id"`
	CalleeID    string     `json:"callee_id"`
	CallType    CallType   `json:"call_type"`
	EndReason   EndReason  `json:"end_reason"`
	EndedBy     string     `json:"ended_by,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	ConnectedAt *time.Time `json:"connected_at,omitempty"`
	EndedAt     time.Time  `json:"ended_at"`
}

// Duration is the connected time, zero when the call never connected
func (r CallRecord) Duration() time.Duration {
	if r.ConnectedAt == nil {
		return 0
	}
	return r.EndedAt.Sub(*r.ConnectedAt)
}
