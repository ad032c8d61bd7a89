package plugin_test

import (
	"context"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/petervdpas/voicebridge/internal/config"
	"github.com/petervdpas/voicebridge/internal/history"
	"github.com/petervdpas/voicebridge/internal/notify"
	"github.com/petervdpas/voicebridge/internal/plugin"
	"github.com/petervdpas/voicebridge/internal/testutil"
	"github.com/petervdpas/voicebridge/internal/webview"
)

type result struct {
	mu      sync.Mutex
	calls   int
	value   any
	code    string
	msg     string
	notImpl bool
	done    chan struct{}
}

func newResult() *result { return &result{done: make(chan struct{})} }

func (r *result) finish(fn func()) {
	r.mu.Lock()
	r.calls++
	fn()
	first := r.calls == 1
	r.mu.Unlock()
	if first {
		close(r.done)
	}
}

func (r *result) Success(v any) { r.finish(func() { r.value = v }) }
func (r *result) Error(code, msg string, _ any) {
	r.finish(func() { r.code, r.msg = code, msg })
}
func (r *result) NotImplemented() { r.finish(func() { r.notImpl = true }) }

func (r *result) wait(t *testing.T) {
	t.Helper()
	select {
	case <-r.done:
	case <-time.After(2 * time.Second):
		t.Fatal("result never completed")
	}
}

type sink struct {
	mu     sync.Mutex
	events []string
	ended  int
}

func (s *sink) Success(v any) {
	s.mu.Lock()
	s.events = append(s.events, v.(string))
	s.mu.Unlock()
}
func (s *sink) Error(string, string, any) {}
func (s *sink) EndOfStream() {
	s.mu.Lock()
	s.ended++
	s.mu.Unlock()
}

func (s *sink) Events() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.events...)
}

func (s *sink) count(event string) int {
	n := 0
	for _, e := range s.Events() {
		if e == event {
			n++
		}
	}
	return n
}

type env struct {
	eng   *testutil.FakeEngine
	gw    *webview.Gateway
	p     *plugin.Plugin
	sink  *sink
	notes *notify.Manager
	toast *testutil.Toaster
	hist  *history.Store
}

func newEnv(t *testing.T) *env {
	t.Helper()
	eng := testutil.NewFakeEngine()
	gw := testutil.ReadyGateway(t, eng)
	notes, toast := testutil.NotifyManager()
	hist, err := history.Open(t.TempDir() + "/calls.db")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { hist.Close() })

	p := plugin.New(plugin.Options{
		Gateway: gw,
		Notify:  notes,
		History: hist,
		Voice:   config.Default().Voice,
	})
	s := &sink{}
	p.Listen(s)
	return &env{eng: eng, gw: gw, p: p, sink: s, notes: notes, toast: toast, hist: hist}
}

func (e *env) call(t *testing.T, method string, args map[string]any) *result {
	t.Helper()
	r := newResult()
	e.p.HandleMethodCall(context.Background(), plugin.MethodCall{Method: method, Arguments: args}, r)
	r.wait(t)
	testutil.Settle(e.gw)
	return r
}

func (e *env) post(raw string) {
	e.eng.Post(raw)
	testutil.Settle(e.gw)
}

func TestArgumentErrorsChangeNothing(t *testing.T) {
	e := newEnv(t)

	cases := []struct {
		method string
		args   map[string]any
	}{
		{"tokens", nil},
		{"tokens", map[string]any{"accessToken": 42}},
		{"tokens", map[string]any{"accessToken": ""}},
		{"makeCall", map[string]any{"From": "+15551230000"}},
		{"makeCall", map[string]any{"To": "+15559998888"}},
		{"makeCall", map[string]any{"From": "", "To": "+15559998888"}},
		{"toggleMute", nil},
		{"toggleMute", map[string]any{"muted": "yes"}},
		{"missedCall", map[string]any{"From": "Alice"}},
		{"missedCall", map[string]any{"CallSid": "CA1"}},
		{"sendDigits", nil},
		{"sendDigits", map[string]any{"digits": "12a"}},
		{"callHistory", map[string]any{"limit": -1.0}},
		{"callHistory", map[string]any{"limit": 1.5}},
	}

	before := len(e.eng.Scripts())
	for _, tc := range cases {
		r := e.call(t, tc.method, tc.args)
		if r.code != "INVALID_ARGUMENTS" {
			t.Errorf("%s(%v): code = %q, want INVALID_ARGUMENTS", tc.method, tc.args, r.code)
		}
		if r.calls != 1 {
			t.Errorf("%s: completed %d times", tc.method, r.calls)
		}
	}

	if n := len(e.eng.Scripts()); n != before {
		t.Fatalf("argument errors evaluated %d scripts", n-before)
	}
	e.notes.Flush()
	if e.notes.Len() != 0 || len(e.toast.Shown()) != 0 {
		t.Fatal("argument errors touched notifications")
	}
	if e.p.ActiveCall() != nil {
		t.Fatal("argument errors created a call")
	}
	if len(e.sink.Events()) != 0 {
		t.Fatalf("argument errors emitted %v", e.sink.Events())
	}
}

func TestToggleMuteCompletesOnceAndEmitsOnce(t *testing.T) {
	e := newEnv(t)

	r := e.call(t, "toggleMute", map[string]any{"muted": true})
	if r.value != true || r.code != "" {
		t.Fatalf("toggleMute = %v %q", r.value, r.code)
	}
	if r.calls != 1 {
		t.Fatalf("completed %d times", r.calls)
	}
	if got := e.sink.Events(); !reflect.DeepEqual(got, []string{"Mute"}) {
		t.Fatalf("events = %v", got)
	}
	if e.eng.ScriptsContaining("window.connection.mute(true)") != 1 {
		t.Fatalf("scripts = %v", e.eng.Scripts())
	}
}

func TestToggleMuteScriptError(t *testing.T) {
	e := newEnv(t)
	e.eng.Respond(func(string) (string, error) {
		return "", &webview.ScriptError{Message: "Cannot read properties of null (reading 'mute')"}
	})

	r := e.call(t, "toggleMute", map[string]any{"muted": true})
	if r.code != "MUTE_FAILED" || r.msg != "Cannot read properties of null (reading 'mute')" {
		t.Fatalf("error = %q %q", r.code, r.msg)
	}
	if r.calls != 1 {
		t.Fatalf("completed %d times", r.calls)
	}
	if n := len(e.sink.Events()); n != 0 {
		t.Fatalf("emitted %d events on failure", n)
	}
}

func TestNonCallEventsAreDropped(t *testing.T) {
	e := newEnv(t)

	for _, raw := range []string{
		`{"type":"log","event":"incoming","from":"Alice","callSid":"CA1"}`,
		`{"type":"call_event","from":"Alice"}`,
		`{"type":"call_event","event":""}`,
		`Ready`,
		`{"type":"call_event","object":"window.connection","event":"accept"}`,
		`{"type":"call_event","event":"status","data":{"status":"open"}}`,
	} {
		e.post(raw)
	}

	if got := e.sink.Events(); len(got) != 0 {
		t.Fatalf("events = %v", got)
	}
	if e.notes.Len() != 0 {
		t.Fatal("dropped message showed a notification")
	}
}

func TestMakeCallAcceptHangUp(t *testing.T) {
	e := newEnv(t)
	e.eng.Respond(testutil.RespondMatching(
		func(string) (string, error) { return "true", nil },
		map[string]string{
			"parameters.CallSid": `"CA9"`,
			".status()":          `"open"`,
		},
	))

	r := e.call(t, "makeCall", map[string]any{"From": "+15551230000", "To": "+15559998888"})
	if r.value != true {
		t.Fatalf("makeCall = %v %q %q", r.value, r.code, r.msg)
	}
	if e.eng.ScriptsContaining(`"to":"+15559998888"`) != 1 {
		t.Fatal("connect script not evaluated")
	}

	e.post(`{"type":"call_event","event":"connected","from":"+15551230000","to":"+15559998888","callSid":"CA9"}`)
	if e.p.ActiveCall() == nil {
		t.Fatal("connected did not create a call")
	}
	if e.eng.ScriptsContaining(`window.voiceBridge.listen(window.connection, "window.connection", "disconnect")`) != 1 {
		t.Fatal("listeners not attached")
	}

	e.post(`{"type":"call_event","event":"accept"}`)
	if n := e.sink.count("Answer|+15551230000|+15559998888"); n != 1 {
		t.Fatalf("Answer emitted %d times: %v", n, e.sink.Events())
	}

	r = e.call(t, "hangUp", nil)
	if r.value != true {
		t.Fatalf("hangUp = %v %q %q", r.value, r.code, r.msg)
	}
	// The SDK reports its own disconnect too; it must not end the call twice.
	e.post(`{"type":"call_event","object":"window.connection","event":"disconnect"}`)

	if n := e.sink.count("Call Ended"); n != 1 {
		t.Fatalf("Call Ended emitted %d times: %v", n, e.sink.Events())
	}
	if e.p.ActiveCall() != nil {
		t.Fatal("call still active after hang up")
	}
	if e.eng.ScriptsContaining("window.connection.disconnect()") != 1 {
		t.Fatal("disconnect not invoked")
	}

	want := []string{
		"Connected|+15551230000|+15559998888|Outgoing",
		"Answer|+15551230000|+15559998888",
		"Call Ended",
	}
	if got := e.sink.Events(); !reflect.DeepEqual(got, want) {
		t.Fatalf("events = %v, want %v", got, want)
	}

	list, err := e.hist.List(context.Background(), 10)
	if err != nil || len(list) != 1 || list[0].Outcome != history.Ended || list[0].Direction != history.Outgoing {
		t.Fatalf("history = %+v %v", list, err)
	}
}

func TestHangUpEndsCallWithoutConnectedEvent(t *testing.T) {
	e := newEnv(t)
	e.eng.Respond(testutil.RespondMatching(
		func(string) (string, error) { return "true", nil },
		map[string]string{
			"parameters.CallSid": `"CA9"`,
			".status()":          `"open"`,
		},
	))

	if r := e.call(t, "makeCall", map[string]any{"From": "+15551230000", "To": "+15559998888"}); r.value != true {
		t.Fatalf("makeCall = %v %q %q", r.value, r.code, r.msg)
	}
	e.post(`{"type":"call_event","event":"accept"}`)

	if r := e.call(t, "hangUp", nil); r.value != true {
		t.Fatalf("hangUp = %v %q %q", r.value, r.code, r.msg)
	}
	// The page may report the same end again; it is not a second call.
	e.post(`{"type":"call_event","event":"disconnected","callSid":"CA9"}`)

	if got, want := e.sink.Events(), []string{"Answer||", "Call Ended"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("events = %v, want %v", got, want)
	}

	// A later call ends on its own.
	e.post(`{"type":"call_event","event":"accept"}`)
	if r := e.call(t, "hangUp", nil); r.value != true {
		t.Fatalf("second hangUp = %v %q", r.value, r.code)
	}
	if n := e.sink.count("Call Ended"); n != 2 {
		t.Fatalf("Call Ended emitted %d times: %v", n, e.sink.Events())
	}
}

func TestHangUpRejectsRingingCall(t *testing.T) {
	e := newEnv(t)
	e.eng.Respond(testutil.RespondMatching(
		func(string) (string, error) { return "true", nil },
		map[string]string{
			"parameters.CallSid": `"CA3"`,
			".status()":          `"pending"`,
		},
	))

	e.post(`{"type":"call_event","event":"incoming","from":"Alice","to":"client:me","callSid":"CA3"}`)
	if k, ok := e.notes.Active("CA3"); !ok || k != notify.KindIncoming {
		t.Fatal("incoming toast not tracked")
	}

	r := e.call(t, "hangUp", nil)
	if r.value != true {
		t.Fatalf("hangUp = %v %q", r.value, r.msg)
	}
	if e.eng.ScriptsContaining("window.connection.reject()") != 1 || e.eng.ScriptsContaining("window.connection.disconnect()") != 0 {
		t.Fatal("ringing call was not rejected")
	}
	if e.notes.Len() != 0 {
		t.Fatal("incoming toast left on screen")
	}
	if n := e.sink.count("Call Ended"); n != 1 {
		t.Fatalf("Call Ended emitted %d times", n)
	}
}

func TestHangUpWithoutConnection(t *testing.T) {
	e := newEnv(t)
	e.eng.Respond(testutil.RespondMatching(
		func(string) (string, error) { return "true", nil },
		map[string]string{"!= null": "false", "parameters.CallSid": `""`},
	))

	r := e.call(t, "hangUp", nil)
	if r.value != false || r.code != "" {
		t.Fatalf("hangUp = %v %q", r.value, r.code)
	}
	if len(e.sink.Events()) != 0 {
		t.Fatalf("events = %v", e.sink.Events())
	}
}

func TestIncomingThenCancelLeavesMissedToast(t *testing.T) {
	e := newEnv(t)

	e.post(`{"type":"call_event","event":"incoming","from":"Alice","to":"client:me","callSid":"CA42"}`)
	e.post(`{"type":"call_event","object":"window.connection","event":"cancel"}`)

	want := []string{"Incoming|Alice|client:me|Incoming", "Missed Call", "Call Ended"}
	if got := e.sink.Events(); !reflect.DeepEqual(got, want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	if k, ok := e.notes.Active("CA42"); !ok || k != notify.KindMissed {
		t.Fatalf("CA42 = %v %v, want missed", k, ok)
	}
	if e.notes.Len() != 1 {
		t.Fatalf("tracked toasts = %d", e.notes.Len())
	}
	if e.p.ActiveCall() != nil {
		t.Fatal("cancelled call still active")
	}
	if e.eng.ScriptsContaining("navigator.permissions") != 1 {
		t.Fatal("microphone not checked on incoming call")
	}

	o, ok, _ := e.hist.Outcome(context.Background(), "CA42")
	if !ok || o != history.Missed {
		t.Fatalf("history outcome = %q", o)
	}
}

func TestFacadeEventStrings(t *testing.T) {
	e := newEnv(t)
	e.post(`{"type":"call_event","event":"connected","from":"a","to":"b","callSid":"CA5"}`)

	e.post(`{"type":"call_event","object":"window.connection","event":"error","data":{"code":31005,"message":"Connection error","description":"gateway"}}`)
	e.post(`{"type":"call_event","object":"window.connection","event":"status","data":{"status":"open","callSid":"CA5","isMuted":false}}`)
	e.post(`{"type":"call_event","object":"window.connection","event":"reconnected"}`)
	e.post(`{"type":"call_event","event":"error","error":"token expired"}`)
	e.post(`{"type":"call_event","event":"registered"}`)

	want := []string{
		"Connected|a|b|Outgoing",
		`{"event":"error","code":"31005","message":"Connection error","description":"gateway"}`,
		`{"event":"status","status":"open","callSid":"CA5","isMuted":false}`,
		"Reconnected",
		"Error|token expired",
		"Registered",
	}
	if got := e.sink.Events(); !reflect.DeepEqual(got, want) {
		t.Fatalf("events =\n%v\nwant\n%v", got, want)
	}
}

func TestStubsAndUnknownCommands(t *testing.T) {
	e := newEnv(t)

	for method, want := range map[string]any{
		"isHolding":     false,
		"isBluetoothOn": false,
		"toggleSpeaker": true,
		"isOnSpeaker":   true,
	} {
		if r := e.call(t, method, nil); r.value != want {
			t.Errorf("%s = %v, want %v", method, r.value, want)
		}
	}
	if r := e.call(t, "holdCall", nil); !r.notImpl {
		t.Fatal("unknown command not reported as not implemented")
	}
}

func TestTokensSetupFailure(t *testing.T) {
	e := newEnv(t)
	e.eng.Respond(func(string) (string, error) { return "false", nil })

	r := e.call(t, "tokens", map[string]any{"accessToken": "eyJ"})
	if r.code != "Setup Failed" {
		t.Fatalf("code = %q", r.code)
	}
	if e.eng.ScriptsContaining(`"token":"eyJ"`) != 1 {
		t.Fatal("setup script not rendered with the token")
	}
}

func TestUnregisterFailure(t *testing.T) {
	e := newEnv(t)
	e.eng.Respond(func(string) (string, error) { return "", &webview.ScriptError{Message: "not registered"} })

	r := e.call(t, "unregister", nil)
	if r.code != "UNREGISTER_FAILED" || r.msg != "not registered" {
		t.Fatalf("unregister = %q %q", r.code, r.msg)
	}
}

func TestNotReady(t *testing.T) {
	gw := webview.New(testutil.NewFakeEngine(), webview.Options{})
	t.Cleanup(gw.Close)
	notes, _ := testutil.NotifyManager()
	p := plugin.New(plugin.Options{Gateway: gw, Notify: notes})

	for _, m := range []plugin.MethodCall{
		{Method: "makeCall", Arguments: map[string]any{"From": "a", "To": "b"}},
		{Method: "answer"},
		{Method: "hangUp"},
		{Method: "isMuted"},
	} {
		r := newResult()
		p.HandleMethodCall(context.Background(), m, r)
		r.wait(t)
		if r.code != "NOT_READY" {
			t.Errorf("%s: code = %q", m.Method, r.code)
		}
	}
}

func TestMissedCallAndHistory(t *testing.T) {
	e := newEnv(t)

	r := e.call(t, "missedCall", map[string]any{"From": "Bob", "CallSid": "CA77"})
	if r.value != true {
		t.Fatalf("missedCall = %v %q", r.value, r.code)
	}
	if k, ok := e.notes.Active("CA77"); !ok || k != notify.KindMissed {
		t.Fatal("missed toast not shown")
	}

	r = e.call(t, "callHistory", map[string]any{"limit": 5.0})
	list, ok := r.value.([]history.Entry)
	if !ok || len(list) != 1 || list[0].From != "Bob" {
		t.Fatalf("callHistory = %#v", r.value)
	}

	if r := e.call(t, "clearCallHistory", nil); r.value != true {
		t.Fatal("clear failed")
	}
	r = e.call(t, "callHistory", nil)
	if list := r.value.([]history.Entry); len(list) != 0 {
		t.Fatalf("history after clear = %v", list)
	}
}

func TestListenEndsPreviousSink(t *testing.T) {
	e := newEnv(t)
	next := &sink{}
	e.p.Listen(next)

	if e.sink.ended != 1 {
		t.Fatal("previous sink not ended")
	}
	e.post(`{"type":"call_event","event":"ringing"}`)
	if len(e.sink.Events()) != 0 || !reflect.DeepEqual(next.Events(), []string{"Ringing"}) {
		t.Fatalf("old = %v new = %v", e.sink.Events(), next.Events())
	}

	e.p.Cancel()
	e.post(`{"type":"call_event","event":"ringing"}`)
	if len(next.Events()) != 1 {
		t.Fatal("event delivered after cancel")
	}
}

func TestActivationRunsRoutines(t *testing.T) {
	e := newEnv(t)
	e.eng.Respond(testutil.RespondMatching(
		func(string) (string, error) { return "true", nil },
		map[string]string{"parameters.CallSid": `"CA8"`},
	))
	e.notes.SetActionHandler(func(args string) { _ = e.p.Activation().Activate(args) })

	e.post(`{"type":"call_event","event":"incoming","from":"Carol","to":"client:me","callSid":"CA8"}`)
	e.toast.Click("accept:CA8")
	testutil.Eventually(t, func() bool {
		return e.eng.ScriptsContaining("window.connection.accept()") == 1
	}, "accept invoked")
	testutil.Settle(e.gw)
	if _, ok := e.notes.Active("CA8"); ok {
		t.Fatal("incoming toast still tracked after accept")
	}

	// Call back dials the stashed caller details.
	e.notes.ShowMissedCall("Carol", "CA8")
	e.notes.Flush()
	e.toast.Click("call:CA8")
	testutil.Eventually(t, func() bool {
		return e.eng.ScriptsContaining(`"from":"Carol","to":"CA8"`) == 1
	}, "call back placed")
}
