// Package call is a thin façade over the SDK's active call object in the
// hosted page. Every method is one remote invocation; decoded events are
// handed to a single delegate.
package call

import (
	"encoding/json"
	"fmt"
	"sync"

	logging "github.com/ipfs/go-log/v2"

	"github.com/petervdpas/voicebridge/internal/jsobject"
	"github.com/petervdpas/voicebridge/internal/webview"
)

var log = logging.Logger("call")

// Call represents one call known to the page under an object name such
// as "window.connection".
type Call struct {
	obj   *jsobject.Object
	party Party

	mu       sync.Mutex
	delegate Delegate
	state    State
	attached bool
}

// New returns a façade for the page object named object.
func New(host jsobject.Host, object string, party Party) *Call {
	return &Call{
		obj:   jsobject.New(object, host),
		party: party,
		state: StateRinging,
	}
}

func (c *Call) Party() Party { return c.party }

func (c *Call) Object() string { return c.obj.Name() }

// SetDelegate replaces the event delegate. The last one set wins.
func (c *Call) SetDelegate(d Delegate) {
	c.mu.Lock()
	c.delegate = d
	c.mu.Unlock()
}

// State returns the last observed lifecycle state.
func (c *Call) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Call) setState(s State) {
	c.mu.Lock()
	prev := c.state
	c.state = s
	c.mu.Unlock()
	if prev != s {
		log.Debugf("call [%s]: %s -> %s", c.party.CallSid, prev, s)
	}
}

// Mute sets the local mute flag.
func (c *Call) Mute(muted bool, done func(error)) {
	c.obj.Invoke("mute", []any{muted}, func(_ string, err error) { done(err) })
}

// IsMuted reads the local mute flag.
func (c *Call) IsMuted(done func(bool, error)) {
	c.obj.Invoke("isMuted", nil, func(r string, err error) {
		if err != nil {
			done(false, err)
			return
		}
		var muted bool
		if err := json.Unmarshal([]byte(r), &muted); err != nil {
			done(false, fmt.Errorf("isMuted returned %q", r))
			return
		}
		done(muted, nil)
	})
}

// SendDigits plays DTMF digits on the call.
func (c *Call) SendDigits(digits string, done func(error)) {
	c.obj.Invoke("sendDigits", []any{digits}, func(_ string, err error) { done(err) })
}

// Accept answers a ringing incoming call.
func (c *Call) Accept(done func(error)) {
	c.obj.Invoke("accept", nil, func(_ string, err error) { done(err) })
}

// Reject declines a ringing incoming call.
func (c *Call) Reject(done func(error)) {
	c.obj.Invoke("reject", nil, func(_ string, err error) { done(err) })
}

// Disconnect ends the call.
func (c *Call) Disconnect(done func(error)) {
	c.obj.Invoke("disconnect", nil, func(_ string, err error) { done(err) })
}

// Status returns the SDK's own status string ("pending", "ringing", "open", ...).
func (c *Call) Status(done func(string, error)) {
	c.obj.Invoke("status", nil, func(r string, err error) {
		if err != nil {
			done("", err)
			return
		}
		var s string
		if err := json.Unmarshal([]byte(r), &s); err != nil {
			done("", fmt.Errorf("status returned %q", r))
			return
		}
		done(s, nil)
	})
}

// Exists reports whether the page still holds the call object.
func (c *Call) Exists(done func(bool, error)) {
	c.obj.Exists(done)
}

// AttachEventListeners subscribes to every event in Events. Idempotent.
func (c *Call) AttachEventListeners() {
	c.mu.Lock()
	if c.attached {
		c.mu.Unlock()
		return
	}
	c.attached = true
	c.mu.Unlock()

	for _, k := range Events {
		c.obj.Subscribe(string(k), func(m webview.Message) { c.HandleMessage(m) })
	}
}

// DetachEventListeners removes what AttachEventListeners added. Safe to
// call when nothing is attached.
func (c *Call) DetachEventListeners() {
	c.mu.Lock()
	c.attached = false
	c.mu.Unlock()

	for _, k := range Events {
		c.obj.Unsubscribe(string(k))
	}
}

// HandleMessage decodes m and calls the delegate. It reports false when
// the message was dropped (unknown event or missing fields).
func (c *Call) HandleMessage(m webview.Message) bool {
	ev, err := DecodeEvent(m)
	if err != nil {
		log.Debugf("call [%s]: dropping %q: %v", c.party.CallSid, m.Event, err)
		return false
	}

	switch ev.Kind {
	case EventAccept, EventReconnected:
		c.setState(StateConnected)
	case EventCancel, EventDisconnect, EventReject:
		c.setState(StateEnded)
	case EventError:
		c.setState(StateErrored)
	}

	c.mu.Lock()
	d := c.delegate
	c.mu.Unlock()
	if d == nil {
		return true
	}

	switch ev.Kind {
	case EventAccept:
		d.OnAccept(c)
	case EventCancel:
		d.OnCancel(c)
	case EventDisconnect:
		d.OnDisconnect(c)
	case EventError:
		d.OnError(c, *ev.Err)
	case EventReconnecting:
		d.OnReconnecting(c, *ev.Err)
	case EventReconnected:
		d.OnReconnected(c)
	case EventReject:
		d.OnReject(c)
	case EventStatus:
		d.OnStatus(c, *ev.Status)
	}
	return true
}
