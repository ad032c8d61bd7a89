// Package testutil holds test doubles shared across packages.
package testutil

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/petervdpas/voicebridge/internal/webview"
)

// Responder answers one evaluated script.
type Responder func(script string) (string, error)

// FakeEngine is an in-memory web engine. It is its own Environment and
// Controller. Scripts are answered synchronously by the responder.
type FakeEngine struct {
	mu sync.Mutex

	EnvErr        error
	ControllerErr error
	ConfigureErr  error

	respond    Responder
	scripts    []string
	stages     []string
	settings   webview.Settings
	permission func(webview.PermissionKind) webview.PermissionState
	onMessage  func(string)
	navigated  []string
	closed     bool
}

func NewFakeEngine() *FakeEngine {
	return &FakeEngine{respond: func(string) (string, error) { return "true", nil }}
}

// Respond replaces the script responder.
func (e *FakeEngine) Respond(fn Responder) {
	e.mu.Lock()
	e.respond = fn
	e.mu.Unlock()
}

// RespondMatching answers scripts containing a key with the mapped result;
// anything else falls through to def.
func RespondMatching(def Responder, table map[string]string) Responder {
	return func(script string) (string, error) {
		for k, v := range table {
			if strings.Contains(script, k) {
				return v, nil
			}
		}
		return def(script)
	}
}

func (e *FakeEngine) CreateEnvironment(opts webview.EnvironmentOptions, done func(webview.Environment, error)) {
	e.stage("environment")
	if e.EnvErr != nil {
		done(nil, e.EnvErr)
		return
	}
	done(e, nil)
}

func (e *FakeEngine) CreateController(parent uintptr, done func(webview.Controller, error)) {
	e.stage("controller")
	if e.ControllerErr != nil {
		done(nil, e.ControllerErr)
		return
	}
	done(e, nil)
}

func (e *FakeEngine) Configure(s webview.Settings) error {
	e.stage("configure")
	e.mu.Lock()
	e.settings = s
	e.mu.Unlock()
	return e.ConfigureErr
}

func (e *FakeEngine) SetPermissionHandler(fn func(webview.PermissionKind) webview.PermissionState) {
	e.mu.Lock()
	e.permission = fn
	e.mu.Unlock()
}

func (e *FakeEngine) SetMessageHandler(fn func(raw string)) {
	e.mu.Lock()
	e.onMessage = fn
	e.mu.Unlock()
}

func (e *FakeEngine) Navigate(uri string, done func(error)) {
	e.mu.Lock()
	e.navigated = append(e.navigated, uri)
	e.mu.Unlock()
	done(nil)
}

func (e *FakeEngine) ExecuteScript(script string, done func(string, error)) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		done("", webview.ErrClosed)
		return
	}
	e.scripts = append(e.scripts, script)
	respond := e.respond
	e.mu.Unlock()

	done(respond(script))
}

func (e *FakeEngine) Close() error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	return nil
}

func (e *FakeEngine) stage(name string) {
	e.mu.Lock()
	e.stages = append(e.stages, name)
	e.mu.Unlock()
}

// Post delivers raw as if the hosted page had posted it.
func (e *FakeEngine) Post(raw string) {
	e.mu.Lock()
	fn := e.onMessage
	e.mu.Unlock()
	if fn != nil {
		fn(raw)
	}
}

// Scripts returns every evaluated script in order.
func (e *FakeEngine) Scripts() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.scripts...)
}

// ScriptsContaining counts evaluated scripts that contain sub.
func (e *FakeEngine) ScriptsContaining(sub string) int {
	n := 0
	for _, s := range e.Scripts() {
		if strings.Contains(s, sub) {
			n++
		}
	}
	return n
}

func (e *FakeEngine) Stages() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.stages...)
}

func (e *FakeEngine) Settings() webview.Settings {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.settings
}

func (e *FakeEngine) Navigated() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.navigated...)
}

// Permission asks the installed policy about kind.
func (e *FakeEngine) Permission(kind webview.PermissionKind) webview.PermissionState {
	e.mu.Lock()
	fn := e.permission
	e.mu.Unlock()
	if fn == nil {
		return webview.PermissionDefault
	}
	return fn(kind)
}

// ReadyGateway returns an initialized gateway over engine, closed on cleanup.
func ReadyGateway(t testing.TB, engine *FakeEngine) *webview.Gateway {
	t.Helper()
	g := webview.New(engine, webview.Options{})
	ready := make(chan struct{})
	g.Initialize(func() { close(ready) })
	select {
	case <-ready:
	case <-time.After(2 * time.Second):
		t.Fatal("gateway did not become ready")
	}
	t.Cleanup(g.Close)
	return g
}

// Settle lets chained loop work finish. Each Sync drains what was queued
// before it; completions queue follow-up work, so a few rounds are needed.
func Settle(g *webview.Gateway) {
	for i := 0; i < 25; i++ {
		g.Sync()
	}
}

// Eventually polls cond until it holds or the deadline passes.
func Eventually(t testing.TB, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met: %s", msg)
}
