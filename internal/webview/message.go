package webview

import (
	"encoding/json"
	"errors"
	"strings"
)

// Message is one structured message posted by the hosted page.
type Message struct {
	Type   string
	Event  string
	Object string
	Data   json.RawMessage
	Fields map[string]json.RawMessage
}

// String returns a top-level string field, or "" when absent or not a string.
func (m Message) String(key string) string {
	raw, ok := m.Fields[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

// Has reports whether a top-level field is present.
func (m Message) Has(key string) bool {
	_, ok := m.Fields[key]
	return ok
}

var errNoObject = errors.New("message is not a JSON object")

// DecodeMessage turns a raw posted message into a Message.
//
// Engines differ in how they hand messages over: some wrap the object in a
// JSON string, some add text around it. The text between the first '{' and
// the last '}' is decoded; if that fails the \" escaping is undone and
// decoding is retried once.
func DecodeMessage(raw string) (Message, error) {
	raw = strings.ToValidUTF8(raw, "�")

	start := strings.IndexByte(raw, '{')
	end := strings.LastIndexByte(raw, '}')
	if start < 0 || end < start {
		return Message{}, errNoObject
	}
	body := raw[start : end+1]

	fields, err := decodeObject(body)
	if err != nil {
		fields, err = decodeObject(strings.ReplaceAll(body, `\"`, `"`))
		if err != nil {
			return Message{}, err
		}
	}

	m := Message{Fields: fields, Data: fields["data"]}
	m.Type = m.String("type")
	m.Event = m.String("event")
	m.Object = m.String("object")
	return m, nil
}

func decodeObject(s string) (map[string]json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(s), &fields); err != nil {
		return nil, err
	}
	if fields == nil {
		return nil, errNoObject
	}
	return fields, nil
}

// NewMessage builds a Message natively, for synthetic events.
func NewMessage(typ, event string, fields map[string]string) Message {
	m := Message{Type: typ, Event: event, Fields: map[string]json.RawMessage{}}
	put := func(k, v string) {
		b, _ := json.Marshal(v)
		m.Fields[k] = b
	}
	put("type", typ)
	put("event", event)
	for k, v := range fields {
		put(k, v)
	}
	return m
}
