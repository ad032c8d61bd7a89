package call

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/petervdpas/voicebridge/internal/webview"
)

// DecodeEvent builds an Event from a posted message. Payload fields are
// read from "data" when present, otherwise from the message itself.
// Required fields are looked up directly; a missing one fails the message.
func DecodeEvent(m webview.Message) (Event, error) {
	if m.Type != MessageType {
		return Event{}, fmt.Errorf("not a call event: %q", m.Type)
	}
	if !Known(m.Event) {
		return Event{}, fmt.Errorf("unknown event %q", m.Event)
	}
	ev := Event{Kind: EventKind(m.Event)}

	switch ev.Kind {
	case EventError, EventReconnecting:
		fields, err := payload(m)
		if err != nil {
			return Event{}, err
		}
		var e Error
		if e.Code, err = scalar(fields, "code"); err != nil {
			return Event{}, err
		}
		if e.Message, err = str(fields, "message"); err != nil {
			return Event{}, err
		}
		if e.Description, err = str(fields, "description"); err != nil {
			return Event{}, err
		}
		ev.Err = &e

	case EventStatus:
		fields, err := payload(m)
		if err != nil {
			return Event{}, err
		}
		var s Status
		if s.Status, err = str(fields, "status"); err != nil {
			return Event{}, err
		}
		if s.CallSid, err = str(fields, "callSid"); err != nil {
			return Event{}, err
		}
		raw, ok := fields["isMuted"]
		if !ok {
			return Event{}, errors.New("missing isMuted")
		}
		if err := json.Unmarshal(raw, &s.IsMuted); err != nil {
			return Event{}, fmt.Errorf("isMuted: %w", err)
		}
		ev.Status = &s
	}
	return ev, nil
}

func payload(m webview.Message) (map[string]json.RawMessage, error) {
	d := bytes.TrimSpace(m.Data)
	if len(d) == 0 || bytes.Equal(d, []byte("null")) {
		return m.Fields, nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(d, &fields); err != nil {
		return nil, fmt.Errorf("data: %w", err)
	}
	return fields, nil
}

func str(fields map[string]json.RawMessage, key string) (string, error) {
	raw, ok := fields[key]
	if !ok {
		return "", fmt.Errorf("missing %s", key)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", fmt.Errorf("%s: %w", key, err)
	}
	return s, nil
}

// scalar accepts a string or a number; SDK error codes are numeric.
func scalar(fields map[string]json.RawMessage, key string) (string, error) {
	raw, ok := fields[key]
	if !ok {
		return "", fmt.Errorf("missing %s", key)
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String(), nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", fmt.Errorf("%s: %w", key, err)
	}
	return s, nil
}
