package plugin

import (
	"encoding/json"
	"strings"

	"github.com/petervdpas/voicebridge/internal/call"
	"github.com/petervdpas/voicebridge/internal/notify"
	"github.com/petervdpas/voicebridge/internal/scripts"
	"github.com/petervdpas/voicebridge/internal/webview"
)

// The call routines below are shared by host commands and notification
// activation. A nil Result makes them fire-and-forget.

// AnswerCall accepts the page's current call. It reports false when there
// is no call to answer.
func AnswerCall(gw *webview.Gateway, notes *notify.Manager, object string, res Result) {
	res = once(res)
	if !gw.Ready() {
		res.Error("NOT_READY", webview.ErrNotReady.Error(), nil)
		return
	}
	log.Debugf("executing answer command")

	c := call.New(gw, object, call.Party{})
	withCallSid(gw, func(sid string) {
		if sid != "" && notes != nil {
			notes.Hide(sid, notify.KindIncoming)
		}
		c.Exists(func(ok bool, err error) {
			if err != nil {
				res.Error("ANSWER_FAILED", "Failed to answer call: "+err.Error(), nil)
				return
			}
			if !ok {
				log.Warnf("no active connection to answer")
				res.Success(false)
				return
			}
			c.Accept(func(err error) {
				if err != nil {
					log.Errorf("answer: %v", err)
					res.Error("ANSWER_FAILED", "Failed to answer call: "+err.Error(), nil)
					return
				}
				res.Success(true)
			})
		})
	})
}

// HangUpCall rejects a call that is still ringing and disconnects any
// other, then clears the page's connection and posts a synthetic
// "disconnected" event.
func HangUpCall(gw *webview.Gateway, notes *notify.Manager, object string, res Result) {
	res = once(res)
	if !gw.Ready() {
		res.Error("NOT_READY", webview.ErrNotReady.Error(), nil)
		return
	}
	log.Debugf("executing hangUp command")

	fail := func(err error) {
		log.Errorf("hang up: %v", err)
		res.Error("HANGUP_FAILED", "Failed to hang up call: "+err.Error(), nil)
	}

	c := call.New(gw, object, call.Party{})
	withCallSid(gw, func(sid string) {
		if sid != "" && notes != nil {
			notes.Hide(sid, notify.KindIncoming)
		}
		c.Exists(func(ok bool, err error) {
			if err != nil {
				fail(err)
				return
			}
			if !ok {
				log.Warnf("no active connection to hang up")
				res.Success(false)
				return
			}
			c.Status(func(status string, err error) {
				if err != nil {
					fail(err)
					return
				}
				end := c.Disconnect
				if status == "pending" || status == "ringing" {
					end = c.Reject
				}
				end(func(err error) {
					if err != nil {
						fail(err)
						return
					}
					gw.Fire(scripts.MustRender(scripts.ResetConnection))
					gw.Dispatch(webview.NewMessage(call.MessageType, "disconnected", map[string]string{"callSid": sid}))
					res.Success(true)
				})
			})
		})
	})
}

// MakeCall places an outgoing call from the registered device.
func MakeCall(gw *webview.Gateway, from, to string, res Result) {
	res = once(res)
	if !gw.Ready() {
		res.Error("NOT_READY", webview.ErrNotReady.Error(), nil)
		return
	}
	log.Debugf("executing makeCall command")

	script, err := scripts.Render(scripts.MakeCall, map[string]string{"from": from, "to": to})
	if err != nil {
		res.Error("CALL_FAILED", err.Error(), nil)
		return
	}
	gw.Evaluate(script, func(r string, err error) {
		if err != nil {
			log.Errorf("make call %s -> %s: %v", from, to, err)
			res.Error("CALL_FAILED", err.Error(), nil)
			return
		}
		res.Success(true)
	})
}

// withCallSid reads the current call's id. Failures yield "".
func withCallSid(gw *webview.Gateway, fn func(sid string)) {
	gw.Evaluate(scripts.MustRender(scripts.CallSid), func(r string, err error) {
		if err != nil {
			log.Debugf("read call sid: %v", err)
			fn("")
			return
		}
		fn(jsonString(r))
	})
}

// jsonString unquotes a JSON string result; anything else is returned as is.
func jsonString(r string) string {
	r = strings.TrimSpace(r)
	if r == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal([]byte(r), &s); err == nil {
		return s
	}
	return r
}

// jsonBool reports whether the result is the JSON literal true.
func jsonBool(r string) bool {
	return strings.TrimSpace(r) == "true"
}
