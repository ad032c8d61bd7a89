package webview

import (
	"strings"
	"sync"

	logging "github.com/ipfs/go-log/v2"

	"github.com/petervdpas/voicebridge/internal/util"
)

var log = logging.Logger("webview")

func onPanic(r any, stack []byte) {
	log.Errorf("loop task panic: %v\n%s", r, stack)
}

type gatewayState int

const (
	stateNew gatewayState = iota
	stateInitializing
	stateReady
	stateFailed
	stateClosed
)

// Options for a Gateway.
type Options struct {
	// Native handle of the window the controller is parented to. Engines
	// that own their window ignore it.
	ParentWindow uintptr
	Environment  EnvironmentOptions
}

type routeKey struct {
	object string
	event  string
}

// Gateway is the single entry point for running scripts in the hosted page
// and for receiving the messages it posts back.
type Gateway struct {
	engine Engine
	opts   Options
	loop   *util.Executor

	mu        sync.Mutex
	state     gatewayState
	initErr   error
	ctrl      Controller
	onMessage func(Message)
	routes    map[routeKey]func(Message)
}

// New creates a gateway over engine. Nothing is started until Initialize.
func New(engine Engine, opts Options) *Gateway {
	return &Gateway{
		engine: engine,
		opts:   opts,
		loop:   util.NewExecutor(onPanic),
		routes: make(map[routeKey]func(Message)),
	}
}

// Initialize creates the environment and controller, applies settings, the
// permission policy and the message tap, then calls onReady exactly once.
// A failure at any stage is logged and onReady never runs.
func (g *Gateway) Initialize(onReady func()) {
	g.loop.Post(func() {
		g.mu.Lock()
		if g.state != stateNew {
			g.mu.Unlock()
			log.Warnf("initialize called twice; ignored")
			return
		}
		g.state = stateInitializing
		g.mu.Unlock()

		g.engine.CreateEnvironment(g.opts.Environment, func(env Environment, err error) {
			g.complete(func() { g.onEnvironment(env, err, onReady) })
		})
	})
}

func (g *Gateway) onEnvironment(env Environment, err error, onReady func()) {
	if err != nil {
		g.fail("create environment", err)
		return
	}
	env.CreateController(g.opts.ParentWindow, func(ctrl Controller, err error) {
		g.complete(func() { g.onController(ctrl, err, onReady) })
	})
}

func (g *Gateway) onController(ctrl Controller, err error, onReady func()) {
	if err != nil {
		g.fail("create controller", err)
		return
	}

	g.mu.Lock()
	closed := g.state == stateClosed
	g.mu.Unlock()
	if closed {
		_ = ctrl.Close()
		return
	}

	if err := ctrl.Configure(Settings{
		ScriptEnabled:     true,
		WebMessageEnabled: true,
		DefaultDialogs:    true,
	}); err != nil {
		_ = ctrl.Close()
		g.fail("configure settings", err)
		return
	}

	ctrl.SetPermissionHandler(grantMicrophone)
	ctrl.SetMessageHandler(func(raw string) {
		g.complete(func() { g.deliverRaw(raw) })
	})

	g.mu.Lock()
	g.ctrl = ctrl
	g.state = stateReady
	g.mu.Unlock()

	log.Infof("web view ready")
	if onReady != nil {
		onReady()
	}
}

// grantMicrophone allows microphone access and leaves everything else to
// the engine default.
func grantMicrophone(kind PermissionKind) PermissionState {
	if kind == PermissionMicrophone {
		return PermissionAllow
	}
	return PermissionDefault
}

func (g *Gateway) fail(stage string, err error) {
	log.Errorf("%s failed: %v", stage, err)
	g.mu.Lock()
	if g.state != stateClosed {
		g.state = stateFailed
		g.initErr = err
	}
	g.mu.Unlock()
}

// Ready reports whether scripts can be evaluated.
func (g *Gateway) Ready() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state == stateReady
}

// Err returns the error that stopped initialization, if any.
func (g *Gateway) Err() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.initErr
}

func (g *Gateway) controller() (Controller, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	switch g.state {
	case stateReady:
		return g.ctrl, nil
	case stateClosed:
		return nil, ErrClosed
	default:
		return nil, ErrNotReady
	}
}

// LoadEntryDocument navigates the hosted page to path and calls onLoaded
// once navigation completes. Relative paths are resolved by the engine
// against its asset root.
func (g *Gateway) LoadEntryDocument(path string, onLoaded func()) {
	g.post(func() {
		ctrl, err := g.controller()
		if err != nil {
			log.Errorf("load %s: %v", path, err)
			return
		}
		uri := strings.TrimSpace(path)
		if !strings.Contains(uri, "://") {
			uri = strings.TrimPrefix(strings.ReplaceAll(uri, `\`, "/"), "/")
		}
		ctrl.Navigate(uri, func(err error) {
			g.complete(func() {
				if err != nil {
					log.Errorf("navigate %s: %v", uri, err)
					return
				}
				log.Debugf("loaded %s", uri)
				if onLoaded != nil {
					onLoaded()
				}
			})
		})
	})
}

// Evaluate runs script in the hosted page. done is called exactly once on
// the gateway loop with the JSON text of the script's (awaited) value or
// with an error.
func (g *Gateway) Evaluate(script string, done func(result string, err error)) {
	var once sync.Once
	finish := func(result string, err error) {
		once.Do(func() {
			if done != nil {
				done(result, err)
			}
		})
	}

	ok := g.loop.Post(func() {
		ctrl, err := g.controller()
		if err != nil {
			finish("", err)
			return
		}
		ctrl.ExecuteScript(script, func(result string, err error) {
			g.complete(func() { finish(result, err) })
		})
	})
	if !ok {
		finish("", ErrClosed)
	}
}

// Fire evaluates script and only logs the outcome.
func (g *Gateway) Fire(script string) {
	g.Evaluate(script, func(result string, err error) {
		if err != nil {
			log.Debugf("fire-and-forget script failed: %v", err)
		}
	})
}

// OnMessage sets the handler for posted messages that no route claims.
// The last handler set wins.
func (g *Gateway) OnMessage(fn func(Message)) {
	g.mu.Lock()
	g.onMessage = fn
	g.mu.Unlock()
}

// Route delivers messages posted for object/event to fn instead of the
// OnMessage handler. A later Route for the same pair replaces the earlier.
func (g *Gateway) Route(object, event string, fn func(Message)) {
	g.mu.Lock()
	g.routes[routeKey{object, event}] = fn
	g.mu.Unlock()
}

// Unroute removes a route. Removing an absent route is a no-op.
func (g *Gateway) Unroute(object, event string) {
	g.mu.Lock()
	delete(g.routes, routeKey{object, event})
	g.mu.Unlock()
}

// Dispatch feeds a natively built message through the inbound path.
func (g *Gateway) Dispatch(m Message) {
	g.complete(func() { g.deliver(m) })
}

func (g *Gateway) deliverRaw(raw string) {
	m, err := DecodeMessage(raw)
	if err != nil {
		log.Debugf("dropping undecodable message: %v", err)
		return
	}
	g.deliver(m)
}

func (g *Gateway) deliver(m Message) {
	g.mu.Lock()
	var fn func(Message)
	if m.Object != "" {
		// Messages for an object nobody listens to any more are dropped.
		fn = g.routes[routeKey{m.Object, m.Event}]
	} else {
		fn = g.onMessage
	}
	g.mu.Unlock()

	if fn == nil {
		log.Debugf("no handler for message %q/%q", m.Object, m.Event)
		return
	}
	fn(m)
}

// Sync blocks until every task queued before the call has run.
func (g *Gateway) Sync() {
	g.loop.Sync()
}

// Close tears down the controller and stops the loop once queued work
// has drained. In-flight evaluations complete with the engine's error.
func (g *Gateway) Close() {
	g.post(func() {
		g.mu.Lock()
		if g.state == stateClosed {
			g.mu.Unlock()
			return
		}
		ctrl := g.ctrl
		g.ctrl = nil
		g.state = stateClosed
		g.mu.Unlock()

		if ctrl != nil {
			if err := ctrl.Close(); err != nil {
				log.Warnf("close controller: %v", err)
			}
		}
		// Completions queued by ctrl.Close run before the loop exits.
		g.loop.Post(g.loop.Stop)
	})
	<-g.loop.Done()
}

func (g *Gateway) post(fn func()) {
	if !g.loop.Post(fn) {
		log.Debugf("gateway closed; task dropped")
	}
}

// complete runs fn on the loop, or inline once the loop has stopped, so a
// completion is never lost.
func (g *Gateway) complete(fn func()) {
	if !g.loop.Post(fn) {
		g.loop.Run(fn)
	}
}
