package plugin

import (
	"context"
	"encoding/json"

	"github.com/petervdpas/voicebridge/internal/call"
	"github.com/petervdpas/voicebridge/internal/history"
	"github.com/petervdpas/voicebridge/internal/notify"
	"github.com/petervdpas/voicebridge/internal/scripts"
	"github.com/petervdpas/voicebridge/internal/util"
	"github.com/petervdpas/voicebridge/internal/webview"
)

// Event strings sent to the sink. Incoming, Connected, Answer and Error
// carry pipe-separated fields; error, reconnecting and status façade
// events are sent as JSON objects.
const (
	EventMissed      = "Missed Call"
	EventEnded       = "Call Ended"
	EventReject      = "Reject"
	EventReconnected = "Reconnected"
	EventMute        = "Mute"
	EventUnmute      = "Unmute"
)

func incomingEvent(p call.Party) string {
	return "Incoming|" + p.From + "|" + p.To + "|Incoming"
}

func connectedEvent(p call.Party) string {
	return "Connected|" + p.From + "|" + p.To + "|Outgoing"
}

func answerEvent(p call.Party) string {
	return "Answer|" + p.From + "|" + p.To
}

func errorEvent(msg string) string {
	return "Error|" + msg
}

type errorPayload struct {
	Event       string `json:"event"`
	Code        string `json:"code"`
	Message     string `json:"message"`
	Description string `json:"description"`
}

type statusPayload struct {
	Event   string `json:"event"`
	Status  string `json:"status"`
	CallSid string `json:"callSid"`
	IsMuted bool   `json:"isMuted"`
}

func jsonEvent(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// onMessage handles messages no call route claimed. Only call events are
// considered; ones carrying a data payload belong to the active call.
func (p *Plugin) onMessage(m webview.Message) {
	if m.Type != call.MessageType || m.Event == "" {
		return
	}
	if len(m.Data) > 0 {
		if c := p.ActiveCall(); c != nil {
			c.HandleMessage(m)
		} else {
			log.Debugf("no active call for %q, dropped", m.Event)
		}
		return
	}

	party := call.Party{From: m.String("from"), To: m.String("to"), CallSid: m.String("callSid")}

	switch m.Event {
	case "incoming":
		p.incoming(party)
	case "connected":
		p.connected(party)
	case "accept":
		p.accepted(p.fillParty(party))
	case "cancel":
		p.cancelled(nil, p.fillParty(party))
	case "disconnect", "disconnected":
		p.ended(nil, party.CallSid)
	case "reject":
		p.rejected(p.fillParty(party))
	case "error":
		msg := m.String("error")
		if msg == "" {
			msg = "Unknown error"
		}
		p.emit(errorEvent(msg))
	default:
		p.emit(util.Capitalize(m.Event))
	}
}

// fillParty completes missing fields from the active call.
func (p *Plugin) fillParty(party call.Party) call.Party {
	c := p.ActiveCall()
	if c == nil {
		return party
	}
	ap := c.Party()
	if party.From == "" {
		party.From = ap.From
	}
	if party.To == "" {
		party.To = ap.To
	}
	if party.CallSid == "" {
		party.CallSid = ap.CallSid
	}
	return party
}

func (p *Plugin) incoming(party call.Party) {
	p.checkMicrophone()
	p.notes.ShowIncomingCall(party.From, party.CallSid)
	p.adopt(party, history.Incoming)
	p.record(party, history.Incoming, history.Ringing)
	p.emit(incomingEvent(party))
}

func (p *Plugin) connected(party call.Party) {
	p.adopt(party, history.Outgoing)
	p.record(party, history.Outgoing, history.Ringing)
	p.emit(connectedEvent(party))
}

func (p *Plugin) accepted(party call.Party) {
	p.resetEnded()
	p.notes.Hide(party.CallSid, notify.KindIncoming)
	p.record(party, p.direction(), history.Answered)
	p.emit(answerEvent(party))
}

func (p *Plugin) cancelled(c *call.Call, party call.Party) {
	p.notes.Hide(party.CallSid, notify.KindIncoming)
	p.notes.ShowMissedCall(party.From, party.CallSid)
	p.record(party, history.Incoming, history.Missed)
	p.emit(EventMissed)
	p.finish(c)
	p.markEnded(party.CallSid)
	p.emit(EventEnded)
}

func (p *Plugin) rejected(party call.Party) {
	p.notes.Hide(party.CallSid, notify.KindIncoming)
	p.record(party, history.Incoming, history.Rejected)
	p.emit(EventReject)
}

// ended emits Call Ended once per call. The SDK's disconnect and the
// synthetic one posted by HangUpCall both land here; without an active
// call the CallSid of the last ended call is what dedupes them.
func (p *Plugin) ended(c *call.Call, sid string) {
	gone, ok := p.finish(c)
	if ok {
		party := gone.Party()
		if party.CallSid == "" {
			party.CallSid = sid
		}
		p.markEnded(party.CallSid)
		p.notes.Hide(party.CallSid, notify.KindIncoming)
		p.recordEnd(party)
		p.emit(EventEnded)
		return
	}
	if c != nil || !p.markEnded(sid) {
		log.Debugf("call %q already ended", sid)
		return
	}
	if sid != "" {
		p.notes.Hide(sid, notify.KindIncoming)
		p.recordEnd(call.Party{CallSid: sid})
	}
	p.emit(EventEnded)
}

// markEnded records sid as the last ended call. It reports false when
// that call was already ended.
func (p *Plugin) markEnded(sid string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.endedSet && p.lastEnded == sid {
		return false
	}
	p.lastEnded = sid
	p.endedSet = true
	return true
}

// resetEnded forgets the last ended call once a new one is under way.
func (p *Plugin) resetEnded() {
	p.mu.Lock()
	p.lastEnded = ""
	p.endedSet = false
	p.mu.Unlock()
}

// adopt makes a façade over the page's connection the active call.
func (p *Plugin) adopt(party call.Party, dir history.Direction) {
	c := call.New(p.gw, p.object, party)
	c.SetDelegate(p)

	p.mu.Lock()
	prev := p.active
	p.active = c
	p.dir = dir
	p.lastEnded = ""
	p.endedSet = false
	p.mu.Unlock()

	// The previous call's routes share our object name; drop them first.
	if prev != nil {
		prev.DetachEventListeners()
	}
	c.AttachEventListeners()
	log.Infof("%s call %s: %s -> %s", dir, party.CallSid, party.From, party.To)
}

// finish clears the active call. c == nil ends whichever call is active.
// It reports false when there was nothing to end.
func (p *Plugin) finish(c *call.Call) (*call.Call, bool) {
	p.mu.Lock()
	active := p.active
	if active == nil || (c != nil && c != active) {
		p.mu.Unlock()
		return nil, false
	}
	p.active = nil
	p.mu.Unlock()

	active.DetachEventListeners()
	return active, true
}

func (p *Plugin) direction() history.Direction {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.dir == "" {
		return history.Incoming
	}
	return p.dir
}

func (p *Plugin) checkMicrophone() {
	p.gw.Evaluate(scripts.MustRender(scripts.MicPermission), func(r string, err error) {
		if err != nil {
			log.Warnf("microphone permission check: %v", err)
			return
		}
		if jsonBool(r) {
			log.Debugf("microphone permission granted")
		} else {
			log.Warnf("microphone permission denied")
		}
	})
}

func (p *Plugin) record(party call.Party, dir history.Direction, o history.Outcome) {
	if p.hist == nil || party.CallSid == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), util.ShortTimeout)
	defer cancel()
	err := p.hist.Record(ctx, history.Entry{
		CallSid:   party.CallSid,
		From:      party.From,
		To:        party.To,
		Direction: dir,
		Outcome:   o,
	})
	if err != nil {
		log.Warnf("call history: %v", err)
	}
}

// recordEnd marks a known call as ended unless it was missed or rejected.
func (p *Plugin) recordEnd(party call.Party) {
	if p.hist == nil || party.CallSid == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), util.ShortTimeout)
	defer cancel()
	o, ok, err := p.hist.Outcome(ctx, party.CallSid)
	if err != nil || !ok || o == history.Missed || o == history.Rejected {
		return
	}
	p.record(party, p.direction(), history.Ended)
}

// call.Delegate

func (p *Plugin) OnAccept(c *call.Call) {
	p.accepted(c.Party())
}

func (p *Plugin) OnCancel(c *call.Call) {
	p.cancelled(c, c.Party())
}

func (p *Plugin) OnDisconnect(c *call.Call) {
	p.ended(c, c.Party().CallSid)
}

func (p *Plugin) OnError(c *call.Call, e call.Error) {
	log.Errorf("call %s: %v", c.Party().CallSid, e)
	p.emit(jsonEvent(errorPayload{Event: "error", Code: e.Code, Message: e.Message, Description: e.Description}))
}

func (p *Plugin) OnReconnecting(c *call.Call, e call.Error) {
	log.Warnf("call %s reconnecting: %v", c.Party().CallSid, e)
	p.emit(jsonEvent(errorPayload{Event: "reconnecting", Code: e.Code, Message: e.Message, Description: e.Description}))
}

func (p *Plugin) OnReconnected(c *call.Call) {
	p.emit(EventReconnected)
}

func (p *Plugin) OnReject(c *call.Call) {
	p.rejected(c.Party())
}

func (p *Plugin) OnStatus(c *call.Call, s call.Status) {
	p.emit(jsonEvent(statusPayload{Event: "status", Status: s.Status, CallSid: s.CallSid, IsMuted: s.IsMuted}))
}
