package webview

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	wruntime "github.com/wailsapp/wails/v2/pkg/runtime"
)

// Runtime events shared with the page's bridge shim (frontend/dist/bridge.js).
const (
	EventResult  = "bridge:result"
	EventMessage = "bridge:message"
	EventLoaded  = "bridge:loaded"
)

// WailsEngine drives the page of the Wails main window. The window and its
// web view are created by wails.Run, so the environment only becomes
// available once Attach hands over the runtime context.
type WailsEngine struct {
	timeout time.Duration

	mu  sync.Mutex
	ctx context.Context
}

func NewWailsEngine(scriptTimeout time.Duration) *WailsEngine {
	return &WailsEngine{timeout: scriptTimeout}
}

// Attach is called from the Wails OnStartup hook.
func (e *WailsEngine) Attach(ctx context.Context) {
	e.mu.Lock()
	e.ctx = ctx
	e.mu.Unlock()
}

func (e *WailsEngine) CreateEnvironment(opts EnvironmentOptions, done func(Environment, error)) {
	e.mu.Lock()
	ctx := e.ctx
	e.mu.Unlock()
	if ctx == nil {
		done(nil, ErrNoWindow)
		return
	}
	if opts.BrowserArgs != "" && runtime.GOOS == "windows" &&
		!strings.Contains(os.Getenv(browserArgsEnv), opts.BrowserArgs) {
		log.Warnf("browser args %q were not applied before the window was created", opts.BrowserArgs)
	}
	done(&wailsEnvironment{ctx: ctx, timeout: e.timeout}, nil)
}

type wailsEnvironment struct {
	ctx     context.Context
	timeout time.Duration
}

func (w *wailsEnvironment) CreateController(_ uintptr, done func(Controller, error)) {
	c := &wailsController{
		ctx:     w.ctx,
		timeout: w.timeout,
		pending: make(map[string]*pendingScript),
	}
	c.cancels = append(c.cancels,
		wruntime.EventsOn(w.ctx, EventResult, c.onResult),
		wruntime.EventsOn(w.ctx, EventMessage, c.onMessage),
	)
	done(c, nil)
}

type pendingScript struct {
	done  func(string, error)
	timer *time.Timer
}

type wailsController struct {
	ctx     context.Context
	timeout time.Duration
	cancels []func()

	mu      sync.Mutex
	pending map[string]*pendingScript
	onMsg   func(string)
	closed  bool
}

func (c *wailsController) Configure(s Settings) error {
	// Scripting and posted messages are always on in a Wails page.
	if !s.ScriptEnabled || !s.WebMessageEnabled {
		return fmt.Errorf("wails: scripting cannot be disabled")
	}
	return nil
}

// SetPermissionHandler is a no-op: Wails does not surface permission
// requests. On WebView2 the microphone is granted through browser
// arguments set before startup (see ApplyBrowserArguments).
func (c *wailsController) SetPermissionHandler(func(PermissionKind) PermissionState) {}

func (c *wailsController) SetMessageHandler(fn func(raw string)) {
	c.mu.Lock()
	c.onMsg = fn
	c.mu.Unlock()
}

func (c *wailsController) Navigate(uri string, done func(error)) {
	if !strings.Contains(uri, "://") {
		uri = "/" + uri
	}
	target, _ := json.Marshal(uri)
	wruntime.EventsOnce(c.ctx, EventLoaded, func(...interface{}) { done(nil) })
	wruntime.WindowExecJS(c.ctx, "window.location.replace("+string(target)+");")
}

func (c *wailsController) ExecuteScript(script string, done func(string, error)) {
	id := uuid.NewString()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		done("", ErrClosed)
		return
	}
	p := &pendingScript{done: done}
	if c.timeout > 0 {
		p.timer = time.AfterFunc(c.timeout, func() { c.finish(id, "", ErrScriptTimeout) })
	}
	c.pending[id] = p
	c.mu.Unlock()

	wruntime.WindowExecJS(c.ctx, wrapScript(id, script))
}

// wrapScript evaluates script in global scope, awaits the value and
// reports back through the result event.
func wrapScript(id, script string) string {
	src, _ := json.Marshal(script)
	ident, _ := json.Marshal(id)
	return `(async () => {
  const id = ` + string(ident) + `;
  try {
    let r = await (0, eval)(` + string(src) + `);
    window.runtime.EventsEmit("` + EventResult + `", id, true, JSON.stringify(r === undefined ? null : r));
  } catch (e) {
    window.runtime.EventsEmit("` + EventResult + `", id, false, String(e && e.message ? e.message : e));
  }
})();`
}

func (c *wailsController) onResult(data ...interface{}) {
	if len(data) < 3 {
		log.Debugf("malformed script result: %v", data)
		return
	}
	id, _ := data[0].(string)
	ok, _ := data[1].(bool)
	payload, _ := data[2].(string)
	if ok {
		c.finish(id, payload, nil)
	} else {
		c.finish(id, "", &ScriptError{Message: payload})
	}
}

func (c *wailsController) onMessage(data ...interface{}) {
	if len(data) == 0 {
		return
	}
	var raw string
	switch v := data[0].(type) {
	case string:
		raw = v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return
		}
		raw = string(b)
	}

	c.mu.Lock()
	fn := c.onMsg
	c.mu.Unlock()
	if fn != nil {
		fn(raw)
	}
}

func (c *wailsController) finish(id, result string, err error) {
	c.mu.Lock()
	p, ok := c.pending[id]
	delete(c.pending, id)
	c.mu.Unlock()
	if !ok {
		return
	}
	if p.timer != nil {
		p.timer.Stop()
	}
	p.done(result, err)
}

func (c *wailsController) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	pending := c.pending
	c.pending = make(map[string]*pendingScript)
	cancels := c.cancels
	c.cancels = nil
	c.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	for _, p := range pending {
		if p.timer != nil {
			p.timer.Stop()
		}
		p.done("", ErrClosed)
	}
	return nil
}

const browserArgsEnv = "WEBVIEW2_ADDITIONAL_BROWSER_ARGUMENTS"

// ApplyBrowserArguments appends args to the WebView2 browser arguments.
// It must run before wails.Run creates the window.
func ApplyBrowserArguments(args string) {
	args = strings.TrimSpace(args)
	if args == "" || runtime.GOOS != "windows" {
		return
	}
	cur := os.Getenv(browserArgsEnv)
	if strings.Contains(cur, args) {
		return
	}
	if cur != "" {
		args = cur + " " + args
	}
	_ = os.Setenv(browserArgsEnv, args)
}
