package domain

import "encoding/json"

// Client to server events
const (
	EventRegister       = "register"
	EventRegisterLegacy = "registerUser"
	EventGetOnlineUsers = "get-online-users"
	EventCallUser       = "callUser"
	EventAnswerCall     = "answerCall"
	EventRejectCall     = "rejectCall"
	EventEndCall        = "endCall"
	EventSendMessage    = "sendMessage"
)

// Server to client events
const (
	EventOnlineUsersList  = "online-users-list"
	EventUserOnlineStatus = "userOnlineStatus"
	EventIncomingCall     = "incomingCall"
	EventCallAccepted     = "callAccepted"
	EventCallRejected     = "callRejected"
	EventCallEnded        = "callEnded"
	EventCallTimeout      = "callTimeout"
	EventCallError        = "callError"
	EventReceiveMessage   = "receiveMessage"
)

// EventIceCandidate travels in both directions
const EventIceCandidate = "iceCandidate"

// Envelope is one WebSocket text frame
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// RegisterRequest is the register payload
type RegisterRequest struct {
	UserID string `json:"userId"`
	Role   string `json:"role"`
}

// CallUserRequest is the callUser payload. Signal is the opaque SDP offer.
type CallUserRequest struct {
	UserToCall string          `json:"userToCall"`
	From       string          `json:"from"`
	Name       string          `json:"name"`
	Signal     json.RawMessage `json:"signal"`
	CallType   CallType        `json:"callType"`
}

// IncomingCall is delivered to the callee
type IncomingCall struct {
	Signal   json.RawMessage `json:"signal"`
	From     string          `json:"from"`
	Name     string          `json:"name"`
	CallType CallType        `json:"callType"`
	CallID   string          `json:"callId"`
}

// AnswerCallRequest is the answerCall payload
type AnswerCallRequest struct {
	Signal json.RawMessage `json:"signal"`
	To     string          `json:"to"`
}

// CallAccepted is delivered to the caller
type CallAccepted struct {
	Signal json.RawMessage `json:"signal"`
}

// TargetRequest is the rejectCall payload
type TargetRequest struct {
	To string `json:"to"`
}

// EndCallRequest is the endCall payload
type EndCallRequest struct {
	To   string `json:"to"`
	From string `json:"from"`
}

// CallEnded is delivered to the other participant. To is only set on
// the fallback broadcast so unrelated clients can ignore it.
type CallEnded struct {
	From string `json:"from"`
	To   string `json:"to,omitempty"`
}

// CallTimeout is delivered to both participants
type CallTimeout struct {
	CallID string `json:"callId"`
}

// CallError reports a refused call attempt to the caller
type CallError struct {
	Message string `json:"message"`
}

// IceCandidateRequest is the inbound iceCandidate payload
type IceCandidateRequest struct {
	Candidate json.RawMessage `json:"candidate"`
	To        string          `json:"to"`
}

// IceCandidate is the outbound iceCandidate payload
type IceCandidate struct {
	Candidate json.RawMessage `json:"candidate"`
}

// ChatMessageHeader holds the routing fields of a sendMessage payload.
// The full payload is relayed untouched.
type ChatMessageHeader struct {
	Sender   string `json:"sender"`
	Receiver string `json:"receiver"`
}
