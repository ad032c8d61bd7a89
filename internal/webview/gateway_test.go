package webview_test

import (
	"errors"
	"reflect"
	"sync/atomic"
	"testing"
	"time"

	"github.com/petervdpas/voicebridge/internal/testutil"
	"github.com/petervdpas/voicebridge/internal/webview"
)

func TestInitializeStagesInOrder(t *testing.T) {
	eng := testutil.NewFakeEngine()
	g := testutil.ReadyGateway(t, eng)

	want := []string{"environment", "controller", "configure"}
	if got := eng.Stages(); !reflect.DeepEqual(got, want) {
		t.Fatalf("stages = %v, want %v", got, want)
	}
	if s := eng.Settings(); !s.ScriptEnabled || !s.WebMessageEnabled || !s.DefaultDialogs {
		t.Fatalf("settings not applied: %+v", s)
	}
	if eng.Permission(webview.PermissionMicrophone) != webview.PermissionAllow {
		t.Fatal("microphone should be granted")
	}
	if eng.Permission(webview.PermissionCamera) != webview.PermissionDefault {
		t.Fatal("camera should use the engine default")
	}
	if !g.Ready() {
		t.Fatal("gateway should be ready")
	}
}

func TestInitializeFailureNeverCallsReady(t *testing.T) {
	eng := testutil.NewFakeEngine()
	eng.ControllerErr = errors.New("no window")

	g := webview.New(eng, webview.Options{})
	defer g.Close()

	var called atomic.Bool
	g.Initialize(func() { called.Store(true) })
	testutil.Settle(g)

	if called.Load() {
		t.Fatal("onReady ran after a failed stage")
	}
	if g.Ready() || g.Err() == nil {
		t.Fatal("gateway should report the failure")
	}
}

func TestEvaluateBeforeReady(t *testing.T) {
	g := webview.New(testutil.NewFakeEngine(), webview.Options{})
	defer g.Close()

	errc := make(chan error, 1)
	g.Evaluate("1+1", func(_ string, err error) { errc <- err })
	if err := <-errc; !errors.Is(err, webview.ErrNotReady) {
		t.Fatalf("err = %v, want ErrNotReady", err)
	}
}

func TestEvaluateCompletesExactlyOnce(t *testing.T) {
	eng := testutil.NewFakeEngine()
	g := testutil.ReadyGateway(t, eng)

	eng.Respond(func(script string) (string, error) {
		if script == "boom()" {
			return "", &webview.ScriptError{Message: "ReferenceError: boom is not defined"}
		}
		return "42", nil
	})

	var calls atomic.Int32
	results := make(chan string, 4)
	g.Evaluate("6*7", func(r string, err error) {
		calls.Add(1)
		results <- r
	})
	g.Evaluate("boom()", func(_ string, err error) {
		calls.Add(1)
		results <- err.Error()
	})
	testutil.Settle(g)

	if calls.Load() != 2 {
		t.Fatalf("completions = %d, want 2", calls.Load())
	}
	if r := <-results; r != "42" {
		t.Fatalf("result = %q", r)
	}
	if r := <-results; r != "ReferenceError: boom is not defined" {
		t.Fatalf("error = %q", r)
	}
}

func TestEvaluateAfterClose(t *testing.T) {
	eng := testutil.NewFakeEngine()
	g := webview.New(eng, webview.Options{})
	g.Initialize(nil)
	g.Close()

	errc := make(chan error, 1)
	g.Evaluate("1", func(_ string, err error) { errc <- err })
	select {
	case err := <-errc:
		if !errors.Is(err, webview.ErrClosed) {
			t.Fatalf("err = %v, want ErrClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatal("evaluate after close never completed")
	}
}

func TestMessageRouting(t *testing.T) {
	eng := testutil.NewFakeEngine()
	g := testutil.ReadyGateway(t, eng)

	var plain, routed []string
	g.OnMessage(func(m webview.Message) { plain = append(plain, m.Event) })
	g.Route("window.connection", "accept", func(m webview.Message) { routed = append(routed, m.Event) })

	eng.Post(`{"type":"call_event","event":"incoming"}`)
	eng.Post(`{"type":"call_event","object":"window.connection","event":"accept"}`)
	eng.Post(`{"type":"call_event","object":"window.connection","event":"cancel"}`)
	eng.Post(`not a message`)
	g.Dispatch(webview.NewMessage("call_event", "disconnected", nil))
	testutil.Settle(g)

	if !reflect.DeepEqual(plain, []string{"incoming", "disconnected"}) {
		t.Fatalf("plain = %v", plain)
	}
	if !reflect.DeepEqual(routed, []string{"accept"}) {
		t.Fatalf("routed = %v", routed)
	}

	g.Unroute("window.connection", "accept")
	g.Unroute("window.connection", "accept")
	eng.Post(`{"type":"call_event","object":"window.connection","event":"accept"}`)
	testutil.Settle(g)
	if len(routed) != 1 {
		t.Fatalf("message delivered after unroute: %v", routed)
	}
}

func TestLoadEntryDocument(t *testing.T) {
	eng := testutil.NewFakeEngine()
	g := testutil.ReadyGateway(t, eng)

	loaded := make(chan struct{})
	g.LoadEntryDocument(`\assets\index.html`, func() { close(loaded) })
	select {
	case <-loaded:
	case <-time.After(time.Second):
		t.Fatal("onLoaded not called")
	}
	if got := eng.Navigated(); len(got) != 1 || got[0] != "assets/index.html" {
		t.Fatalf("navigated = %v", got)
	}
}
