package call_test

import (
	"errors"
	"reflect"
	"testing"

	"github.com/petervdpas/voicebridge/internal/call"
	"github.com/petervdpas/voicebridge/internal/testutil"
	"github.com/petervdpas/voicebridge/internal/webview"
)

type recorder struct {
	events []string
	errs   []call.Error
	status []call.Status
}

func (r *recorder) OnAccept(*call.Call)      { r.events = append(r.events, "accept") }
func (r *recorder) OnCancel(*call.Call)      { r.events = append(r.events, "cancel") }
func (r *recorder) OnDisconnect(*call.Call)  { r.events = append(r.events, "disconnect") }
func (r *recorder) OnReconnected(*call.Call) { r.events = append(r.events, "reconnected") }
func (r *recorder) OnReject(*call.Call)      { r.events = append(r.events, "reject") }
func (r *recorder) OnError(_ *call.Call, e call.Error) {
	r.events = append(r.events, "error")
	r.errs = append(r.errs, e)
}
func (r *recorder) OnReconnecting(_ *call.Call, e call.Error) {
	r.events = append(r.events, "reconnecting")
	r.errs = append(r.errs, e)
}
func (r *recorder) OnStatus(_ *call.Call, s call.Status) {
	r.events = append(r.events, "status")
	r.status = append(r.status, s)
}

func decode(t *testing.T, raw string) webview.Message {
	t.Helper()
	m, err := webview.DecodeMessage(raw)
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func TestHandleMessageDispatchesOncePerEvent(t *testing.T) {
	c := call.New(nil, "window.connection", call.Party{CallSid: "CA1"})
	rec := &recorder{}
	c.SetDelegate(rec)

	msgs := []string{
		`{"type":"call_event","event":"accept"}`,
		`{"type":"call_event","event":"cancel"}`,
		`{"type":"call_event","event":"disconnect"}`,
		`{"type":"call_event","event":"reconnected"}`,
		`{"type":"call_event","event":"reject"}`,
		`{"type":"call_event","object":"window.connection","event":"error","data":{"code":31005,"message":"Connection error","description":"gateway"}}`,
		`{"type":"call_event","event":"reconnecting","code":"53001","message":"Signal lost","description":"ws"}`,
		`{"type":"call_event","event":"status","data":{"status":"open","callSid":"CA1","isMuted":true}}`,
	}
	for _, raw := range msgs {
		if !c.HandleMessage(decode(t, raw)) {
			t.Fatalf("message dropped: %s", raw)
		}
	}

	want := []string{"accept", "cancel", "disconnect", "reconnected", "reject", "error", "reconnecting", "status"}
	if !reflect.DeepEqual(rec.events, want) {
		t.Fatalf("events = %v", rec.events)
	}
	if rec.errs[0] != (call.Error{Code: "31005", Message: "Connection error", Description: "gateway"}) {
		t.Fatalf("error payload = %+v", rec.errs[0])
	}
	if rec.errs[1].Code != "53001" {
		t.Fatalf("reconnecting code = %q", rec.errs[1].Code)
	}
	if rec.status[0] != (call.Status{Status: "open", CallSid: "CA1", IsMuted: true}) {
		t.Fatalf("status payload = %+v", rec.status[0])
	}
}

func TestHandleMessageDropsMalformed(t *testing.T) {
	c := call.New(nil, "window.connection", call.Party{})
	rec := &recorder{}
	c.SetDelegate(rec)

	for _, raw := range []string{
		`{"type":"call_event","event":"ringing"}`,
		`{"type":"log","event":"accept"}`,
		`{"event":"disconnect"}`,
		`{"type":"call_event","event":"error","data":{"code":1,"message":"x"}}`,
		`{"type":"call_event","event":"status","data":{"status":"open","callSid":"CA1"}}`,
		`{"type":"call_event","event":"status","data":{"status":"open","callSid":"CA1","isMuted":"yes"}}`,
		`{"type":"call_event","event":"reconnecting","data":"oops"}`,
	} {
		if c.HandleMessage(decode(t, raw)) {
			t.Errorf("accepted malformed message %s", raw)
		}
	}
	if len(rec.events) != 0 {
		t.Fatalf("delegate called for dropped messages: %v", rec.events)
	}
}

func TestSetDelegateLastWins(t *testing.T) {
	c := call.New(nil, "window.connection", call.Party{})
	first, second := &recorder{}, &recorder{}
	c.SetDelegate(first)
	c.SetDelegate(second)

	c.HandleMessage(decode(t, `{"type":"call_event","event":"accept"}`))
	if len(first.events) != 0 || len(second.events) != 1 {
		t.Fatalf("first=%v second=%v", first.events, second.events)
	}
	if c.State() != call.StateConnected {
		t.Fatalf("state = %s", c.State())
	}
}

func TestMethodsForwardResults(t *testing.T) {
	eng := testutil.NewFakeEngine()
	g := testutil.ReadyGateway(t, eng)
	c := call.New(g, "window.connection", call.Party{CallSid: "CA1"})

	eng.Respond(testutil.RespondMatching(
		func(string) (string, error) { return "null", nil },
		map[string]string{"isMuted()": "true", "status()": `"ringing"`},
	))

	muted := make(chan bool, 1)
	c.IsMuted(func(m bool, err error) {
		if err != nil {
			t.Error(err)
		}
		muted <- m
	})
	if !<-muted {
		t.Fatal("expected muted")
	}

	status := make(chan string, 1)
	c.Status(func(s string, err error) { status <- s })
	if s := <-status; s != "ringing" {
		t.Fatalf("status = %q", s)
	}

	errc := make(chan error, 1)
	c.SendDigits("12#", func(err error) { errc <- err })
	if err := <-errc; err != nil {
		t.Fatal(err)
	}
	if eng.ScriptsContaining(`window.connection.sendDigits("12#")`) != 1 {
		t.Fatalf("scripts = %v", eng.Scripts())
	}

	eng.Respond(func(string) (string, error) { return "", errors.New("TypeError: connection is null") })
	c.Mute(true, func(err error) { errc <- err })
	if err := <-errc; err == nil || err.Error() != "TypeError: connection is null" {
		t.Fatalf("mute err = %v", err)
	}
}

func TestAttachRoutesSubscribedEvents(t *testing.T) {
	eng := testutil.NewFakeEngine()
	g := testutil.ReadyGateway(t, eng)
	c := call.New(g, "window.connection", call.Party{CallSid: "CA1"})
	rec := &recorder{}
	c.SetDelegate(rec)

	c.AttachEventListeners()
	c.AttachEventListeners()
	testutil.Settle(g)
	if n := eng.ScriptsContaining("window.voiceBridge.listen("); n != len(call.Events) {
		t.Fatalf("listen scripts = %d, want %d", n, len(call.Events))
	}

	eng.Post(`{"type":"call_event","object":"window.connection","event":"disconnect","data":null}`)
	testutil.Settle(g)
	if !reflect.DeepEqual(rec.events, []string{"disconnect"}) {
		t.Fatalf("events = %v", rec.events)
	}

	c.DetachEventListeners()
	c.DetachEventListeners()
	eng.Post(`{"type":"call_event","object":"window.connection","event":"disconnect","data":null}`)
	testutil.Settle(g)
	if len(rec.events) != 1 {
		t.Fatalf("event delivered after detach: %v", rec.events)
	}
}
