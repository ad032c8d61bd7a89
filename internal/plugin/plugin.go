// Package plugin is the command and event surface of the voice bridge.
//
// Host code sends MethodCalls and listens on one EventSink. Commands are
// forwarded to the hosted page through the gateway; what the page posts
// back is flattened into the event strings listed in events.go.
package plugin

import (
	"context"
	"regexp"
	"strings"
	"sync"

	logging "github.com/ipfs/go-log/v2"

	"github.com/petervdpas/voicebridge/internal/activation"
	"github.com/petervdpas/voicebridge/internal/call"
	"github.com/petervdpas/voicebridge/internal/config"
	"github.com/petervdpas/voicebridge/internal/history"
	"github.com/petervdpas/voicebridge/internal/notify"
	"github.com/petervdpas/voicebridge/internal/scripts"
	"github.com/petervdpas/voicebridge/internal/webview"
)

var log = logging.Logger("plugin")

var digitsRe = regexp.MustCompile(`^[0-9*#wW]+$`)

type Options struct {
	Gateway *webview.Gateway
	Notify  *notify.Manager

	// History is optional; without it callHistory returns an empty list.
	History      *history.Store
	HistoryLimit int

	Voice config.Voice
}

// Plugin owns the gateway's message handler and at most one active call.
type Plugin struct {
	gw     *webview.Gateway
	notes  *notify.Manager
	hist   *history.Store
	limit  int
	voice  config.Voice
	object string

	mu     sync.Mutex
	sink   EventSink
	active *call.Call
	dir    history.Direction

	// Last call Call Ended was emitted for.
	lastEnded string
	endedSet  bool
}

func New(opts Options) *Plugin {
	if opts.Notify == nil {
		opts.Notify = notify.Instance()
	}
	if opts.Voice.ConnectionObject == "" {
		opts.Voice.ConnectionObject = config.Default().Voice.ConnectionObject
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = config.Default().History.DefaultLimit
	}
	p := &Plugin{
		gw:     opts.Gateway,
		notes:  opts.Notify,
		hist:   opts.History,
		limit:  opts.HistoryLimit,
		voice:  opts.Voice,
		object: opts.Voice.ConnectionObject,
	}
	p.gw.OnMessage(p.onMessage)
	return p
}

// Listen makes sink the event stream. A previous sink is ended.
func (p *Plugin) Listen(sink EventSink) {
	p.mu.Lock()
	prev := p.sink
	p.sink = sink
	p.mu.Unlock()
	if prev != nil && prev != sink {
		prev.EndOfStream()
	}
}

// Cancel drops the event stream; events are discarded until the next Listen.
func (p *Plugin) Cancel() {
	p.mu.Lock()
	p.sink = nil
	p.mu.Unlock()
}

func (p *Plugin) emit(event string) {
	p.mu.Lock()
	sink := p.sink
	p.mu.Unlock()
	if sink == nil {
		log.Debugf("no event sink, dropping %q", event)
		return
	}
	log.Debugf("event %q", event)
	sink.Success(event)
}

// ActiveCall returns the call the page is currently reporting on, if any.
func (p *Plugin) ActiveCall() *call.Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

// Activation returns the bridge that turns notification clicks into call
// routines on this plugin's gateway.
func (p *Plugin) Activation() *activation.Bridge {
	return activation.NewBridge(activationHandler{p}, p.notes.LastCaller)
}

type activationHandler struct{ p *Plugin }

func (h activationHandler) Answer() {
	AnswerCall(h.p.gw, h.p.notes, h.p.object, nil)
}

func (h activationHandler) HangUp() {
	HangUpCall(h.p.gw, h.p.notes, h.p.object, nil)
}

func (h activationHandler) MakeCall(from, to string) {
	MakeCall(h.p.gw, from, to, nil)
}

// HandleMethodCall runs one command. res is completed exactly once.
func (p *Plugin) HandleMethodCall(ctx context.Context, mc MethodCall, res Result) {
	res = once(res)
	log.Debugf("method call %s", mc.Method)

	invalid := func(err error) {
		res.Error("INVALID_ARGUMENTS", err.Error(), nil)
	}

	switch mc.Method {
	case "tokens":
		token, err := mc.stringArg("accessToken")
		if err == nil && token == "" {
			err = errEmpty("accessToken")
		}
		if err != nil {
			invalid(err)
			return
		}
		p.setupDevice(token, res)

	case "makeCall":
		from, err := mc.stringArg("From")
		if err != nil || from == "" {
			res.Error("INVALID_ARGUMENTS", "From and To parameters are required", nil)
			return
		}
		to, err := mc.stringArg("To")
		if err != nil || to == "" {
			res.Error("INVALID_ARGUMENTS", "From and To parameters are required", nil)
			return
		}
		MakeCall(p.gw, from, to, res)

	case "toggleMute":
		muted, err := mc.boolArg("muted")
		if err != nil {
			invalid(err)
			return
		}
		if !p.ready(res) {
			return
		}
		p.toggleMute(muted, res)

	case "isMuted":
		if !p.ready(res) {
			return
		}
		p.callOrTransient().IsMuted(func(muted bool, err error) {
			if err != nil {
				res.Error("MUTE_FAILED", err.Error(), nil)
				return
			}
			res.Success(muted)
		})

	case "sendDigits":
		digits, err := mc.stringArg("digits")
		if err == nil && !digitsRe.MatchString(digits) {
			err = errEmpty("digits")
		}
		if err != nil {
			invalid(err)
			return
		}
		if !p.ready(res) {
			return
		}
		p.callOrTransient().SendDigits(digits, func(err error) {
			if err != nil {
				res.Error("SEND_DIGITS_FAILED", err.Error(), nil)
				return
			}
			res.Success(true)
		})

	case "hangUp":
		HangUpCall(p.gw, p.notes, p.object, res)

	case "answer":
		AnswerCall(p.gw, p.notes, p.object, res)

	case "missedCall":
		from, err1 := mc.stringArg("From")
		sid, err2 := mc.stringArg("CallSid")
		if err1 != nil || err2 != nil || from == "" || sid == "" {
			res.Error("INVALID_ARGUMENTS", "From and CallSid parameters are required", nil)
			return
		}
		p.notes.ShowMissedCall(from, sid)
		p.record(call.Party{From: from, CallSid: sid}, history.Incoming, history.Missed)
		res.Success(true)

	case "hasMicPermission":
		if !p.ready(res) {
			return
		}
		p.evalBool(scripts.MicPermission, res)

	case "requestMicPermission":
		if !p.ready(res) {
			return
		}
		p.evalBool(scripts.RequestMic, res)

	case "isHolding", "isBluetoothOn":
		res.Success(false)

	case "toggleSpeaker", "isOnSpeaker":
		res.Success(true)

	case "unregister":
		if !p.ready(res) {
			return
		}
		p.gw.Evaluate(scripts.MustRender(scripts.Unregister), func(r string, err error) {
			if err == nil && jsonBool(r) {
				res.Success(true)
				return
			}
			msg := r
			if err != nil {
				msg = err.Error()
			}
			log.Errorf("failed to unregister: %s", msg)
			res.Error("UNREGISTER_FAILED", msg, nil)
		})

	case "hasNotificationPermission":
		res.Success(p.notes.HasPermission())

	case "requestNotificationPermission":
		res.Success(p.notes.RequestPermission())

	case "callHistory":
		limit, err := mc.intArg("limit", p.limit)
		if err == nil && limit <= 0 {
			err = errEmpty("limit")
		}
		if err != nil {
			invalid(err)
			return
		}
		if p.hist == nil {
			res.Success([]history.Entry{})
			return
		}
		list, err := p.hist.List(ctx, limit)
		if err != nil {
			res.Error("HISTORY_FAILED", err.Error(), nil)
			return
		}
		res.Success(list)

	case "clearCallHistory":
		if p.hist != nil {
			if err := p.hist.Clear(ctx); err != nil {
				res.Error("HISTORY_FAILED", err.Error(), nil)
				return
			}
		}
		res.Success(true)

	default:
		res.NotImplemented()
	}
}

func (p *Plugin) ready(res Result) bool {
	if p.gw.Ready() {
		return true
	}
	res.Error("NOT_READY", webview.ErrNotReady.Error(), nil)
	return false
}

func (p *Plugin) setupDevice(token string, res Result) {
	if !p.ready(res) {
		return
	}
	script, err := scripts.Render(scripts.DeviceSetup, map[string]any{
		"token":           token,
		"codecs":          p.voice.CodecPreferences,
		"closeProtection": p.voice.CloseProtection,
	})
	if err != nil {
		res.Error("Setup Failed", err.Error(), nil)
		return
	}
	p.gw.Evaluate(script, func(r string, err error) {
		if err != nil {
			log.Errorf("device setup: %v", err)
			res.Error("Setup Failed", err.Error(), nil)
			return
		}
		if strings.TrimSpace(r) == "false" {
			res.Error("Setup Failed", r, nil)
			return
		}
		log.Infof("device registered")
		res.Success(true)
	})
}

// toggleMute sets the mute flag and reports the flag read back; one Mute
// or Unmute event follows a successful read.
func (p *Plugin) toggleMute(muted bool, res Result) {
	c := p.callOrTransient()
	c.Mute(muted, func(err error) {
		if err != nil {
			res.Error("MUTE_FAILED", err.Error(), nil)
			return
		}
		c.IsMuted(func(now bool, err error) {
			if err != nil {
				res.Error("MUTE_FAILED", err.Error(), nil)
				return
			}
			res.Success(now)
			if now {
				p.emit(EventMute)
			} else {
				p.emit(EventUnmute)
			}
		})
	})
}

// evalBool answers with the script's boolean value; failures read as false.
func (p *Plugin) evalBool(name string, res Result) {
	p.gw.Evaluate(scripts.MustRender(name), func(r string, err error) {
		if err != nil {
			log.Warnf("%s: %v", name, err)
			res.Success(false)
			return
		}
		res.Success(jsonBool(r))
	})
}

// callOrTransient returns the active call, or a façade over the page's
// connection object when none has been reported yet.
func (p *Plugin) callOrTransient() *call.Call {
	if c := p.ActiveCall(); c != nil {
		return c
	}
	return call.New(p.gw, p.object, call.Party{})
}

// Shutdown disconnects the active call, ends the event stream and
// releases the notification identity.
func (p *Plugin) Shutdown() {
	p.mu.Lock()
	c := p.active
	p.active = nil
	sink := p.sink
	p.sink = nil
	p.mu.Unlock()

	p.gw.OnMessage(nil)
	if c != nil {
		c.DetachEventListeners()
		c.Disconnect(func(err error) {
			if err != nil {
				log.Debugf("disconnect on shutdown: %v", err)
			}
		})
	}
	if sink != nil {
		sink.EndOfStream()
	}
	p.notes.Shutdown()
}
