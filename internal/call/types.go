package call

import "fmt"

// MessageType is the type of every message the page posts for a call.
const MessageType = "call_event"

// EventKind names a call lifecycle event posted by the voice SDK.
type EventKind string

const (
	EventAccept       EventKind = "accept"
	EventCancel       EventKind = "cancel"
	EventDisconnect   EventKind = "disconnect"
	EventError        EventKind = "error"
	EventReconnecting EventKind = "reconnecting"
	EventReconnected  EventKind = "reconnected"
	EventReject       EventKind = "reject"
	EventStatus       EventKind = "status"
)

// Events lists the kinds a Call subscribes to and decodes.
var Events = []EventKind{
	EventAccept, EventCancel, EventDisconnect, EventError,
	EventReconnecting, EventReconnected, EventReject, EventStatus,
}

// Known reports whether name is one of Events.
func Known(name string) bool {
	for _, k := range Events {
		if string(k) == name {
			return true
		}
	}
	return false
}

// Error is the payload of error and reconnecting events.
type Error struct {
	Code        string `json:"code"`
	Message     string `json:"message"`
	Description string `json:"description"`
}

func (e Error) Error() string {
	return fmt.Sprintf("%s (%s): %s", e.Message, e.Code, e.Description)
}

// Status is the payload of status events.
type Status struct {
	Status  string `json:"status"`
	CallSid string `json:"callSid"`
	IsMuted bool   `json:"isMuted"`
}

// Event is one decoded call event. Err is set for error and reconnecting,
// Status for status.
type Event struct {
	Kind   EventKind
	Err    *Error
	Status *Status
}

// Party identifies the two ends of a call and the vendor call id.
type Party struct {
	From    string `json:"from"`
	To      string `json:"to"`
	CallSid string `json:"callSid"`
}

// Delegate receives decoded events. Exactly one method is called per
// decoded message.
type Delegate interface {
	OnAccept(c *Call)
	OnCancel(c *Call)
	OnDisconnect(c *Call)
	OnError(c *Call, e Error)
	OnReconnecting(c *Call, e Error)
	OnReconnected(c *Call)
	OnReject(c *Call)
	OnStatus(c *Call, s Status)
}

// State is the last lifecycle state observed for a call. It is kept for
// logging and never gates an action.
type State int

const (
	StateNoCall State = iota
	StateRinging
	StateConnected
	StateEnded
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateRinging:
		return "ringing"
	case StateConnected:
		return "connected"
	case StateEnded:
		return "ended"
	case StateErrored:
		return "errored"
	default:
		return "no-call"
	}
}
