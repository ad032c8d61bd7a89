package plugin

import (
	"encoding/json"
	"fmt"
	"sync"
)

// MethodCall is one command from the host application.
type MethodCall struct {
	Method    string         `json:"method"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// Result receives the single reply to a MethodCall.
type Result interface {
	Success(value any)
	Error(code, message string, details any)
	NotImplemented()
}

// EventSink receives the event stream.
type EventSink interface {
	Success(event any)
	Error(code, message string, details any)
	EndOfStream()
}

// onceResult forwards only the first reply.
type onceResult struct {
	once sync.Once
	r    Result
}

func once(r Result) Result {
	if r == nil {
		return discard{}
	}
	if o, ok := r.(*onceResult); ok {
		return o
	}
	return &onceResult{r: r}
}

func (o *onceResult) Success(v any) {
	o.once.Do(func() { o.r.Success(v) })
}

func (o *onceResult) Error(code, message string, details any) {
	o.once.Do(func() { o.r.Error(code, message, details) })
}

func (o *onceResult) NotImplemented() {
	o.once.Do(o.r.NotImplemented)
}

// discard is the Result of fire-and-forget routines.
type discard struct{}

func (discard) Success(v any) {}

func (discard) Error(code, message string, details any) {
	log.Debugf("fire-and-forget failed: %s: %s", code, message)
}

func (discard) NotImplemented() {}

func errEmpty(key string) error {
	return fmt.Errorf("invalid %s", key)
}

func (c MethodCall) stringArg(key string) (string, error) {
	v, ok := c.Arguments[key]
	if !ok {
		return "", fmt.Errorf("missing %s", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%s must be a string", key)
	}
	return s, nil
}

func (c MethodCall) boolArg(key string) (bool, error) {
	v, ok := c.Arguments[key]
	if !ok {
		return false, fmt.Errorf("missing %s", key)
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("%s must be a boolean", key)
	}
	return b, nil
}

// intArg returns def when key is absent. JSON numbers arrive as float64
// or json.Number depending on the decoder.
func (c MethodCall) intArg(key string, def int) (int, error) {
	v, ok := c.Arguments[key]
	if !ok || v == nil {
		return def, nil
	}
	switch n := v.(type) {
	case float64:
		if n != float64(int(n)) {
			return 0, fmt.Errorf("%s must be an integer", key)
		}
		return int(n), nil
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, fmt.Errorf("%s must be an integer", key)
		}
		return int(i), nil
	default:
		return 0, fmt.Errorf("%s must be an integer", key)
	}
}
