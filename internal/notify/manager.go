// Package notify shows incoming and missed call notifications and tracks
// which are still on screen.
package notify

import (
	"strings"
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"

	"github.com/petervdpas/voicebridge/internal/util"
)

var log = logging.Logger("notify")

type Options struct {
	Enabled   bool
	Identity  Identity
	Retries   int
	Toaster   Toaster
	Registrar Registrar
}

type entry struct {
	kind Kind
	// Set on the worker once the toaster has shown the toast.
	handle Handle
}

// Manager owns the on-screen call notifications. One per process; see
// Instance.
//
// Toaster and registrar calls can block (a PowerShell process, a D-Bus
// round trip, init retries), so they run on the manager's own worker and
// never on the caller's goroutine. Tracking is updated immediately.
type Manager struct {
	opts      Options
	toaster   Toaster
	registrar Registrar
	work      *util.Executor

	// Owned by the worker.
	identityUp bool
	ready      bool

	mu       sync.Mutex
	onAction func(string)
	active   map[string]*entry
	lastArgs string
}

var (
	instanceMu sync.Mutex
	instance   *Manager
)

// Setup installs the process-wide manager, replacing (and shutting down)
// any previous one.
func Setup(opts Options) *Manager {
	m := New(opts)
	instanceMu.Lock()
	prev := instance
	instance = m
	instanceMu.Unlock()
	if prev != nil {
		prev.Shutdown()
	}
	return m
}

// Instance returns the process-wide manager, creating one with the
// platform toaster when Setup has not been called.
func Instance() *Manager {
	instanceMu.Lock()
	defer instanceMu.Unlock()
	if instance == nil {
		instance = New(Options{Enabled: true, Identity: DefaultIdentity()})
	}
	return instance
}

// DefaultIdentity is used when no identity is configured.
func DefaultIdentity() Identity {
	return Identity{AUMID: "SpaceAuto.App", DisplayName: "Space Auto", Scheme: "voicebridge"}
}

// New creates a standalone manager. Production code uses Instance; tests
// use New to avoid sharing state.
func New(opts Options) *Manager {
	if opts.Retries <= 0 {
		opts.Retries = 1
	}
	if opts.Toaster == nil {
		opts.Toaster = NewPlatformToaster(opts.Identity)
	}
	if opts.Registrar == nil {
		opts.Registrar = NewPlatformRegistrar()
	}
	return &Manager{
		opts:      opts,
		toaster:   opts.Toaster,
		registrar: opts.Registrar,
		work: util.NewExecutor(func(r any, stack []byte) {
			log.Errorf("notification worker panic: %v\n%s", r, stack)
		}),
		active: make(map[string]*entry),
	}
}

// SetActionHandler receives "<action>:<callId>" for toaster-delivered
// clicks (platforms where the click does not start a new process).
func (m *Manager) SetActionHandler(fn func(args string)) {
	m.mu.Lock()
	m.onAction = fn
	m.mu.Unlock()
	m.toaster.OnAction(func(args string) {
		m.mu.Lock()
		h := m.onAction
		m.mu.Unlock()
		if h != nil {
			h(args)
		}
	})
}

// do runs fn on the worker and waits for it.
func (m *Manager) do(fn func()) {
	done := make(chan struct{})
	if !m.work.Post(func() {
		defer close(done)
		fn()
	}) {
		return
	}
	<-done
}

// Flush waits until every queued toaster call has run.
func (m *Manager) Flush() {
	m.work.Sync()
}

// ensureIdentity registers the identity and creates the notifier the
// first time it is needed. Re-establishing is a no-op. Worker only.
func (m *Manager) ensureIdentity() {
	if m.identityUp {
		return
	}
	if err := m.registrar.Register(m.opts.Identity); err != nil {
		log.Warnf("register identity %s: %v", m.opts.Identity.AUMID, err)
	}
	m.identityUp = true
	m.ready = m.initToaster() == nil
}

// ensureReady makes one more attempt at creating the notifier when the
// first one failed. Worker only.
func (m *Manager) ensureReady() bool {
	m.ensureIdentity()
	if m.ready {
		return true
	}
	log.Warnf("notification permission not granted")
	if m.initToaster() != nil {
		log.Errorf("failed to request notification permission")
		return false
	}
	m.ready = true
	return true
}

func (m *Manager) initToaster() error {
	var err error
	for i := 0; i < m.opts.Retries; i++ {
		if err = m.toaster.Init(m.opts.Identity); err == nil {
			return nil
		}
		log.Debugf("notifier init attempt %d: %v", i+1, err)
		if i+1 < m.opts.Retries {
			time.Sleep(100 * time.Millisecond)
		}
	}
	log.Warnf("notifier unavailable: %v", err)
	return err
}

// ShowIncomingCall shows the Accept/Reject toast for callID.
func (m *Manager) ShowIncomingCall(from, callID string) {
	m.show(KindIncoming, from, callID)
}

// ShowMissedCall shows the Call Back toast for callID.
func (m *Manager) ShowMissedCall(from, callID string) {
	m.show(KindMissed, from, callID)
}

// show tracks the toast at once and leaves the toaster to the worker. A
// toast that cannot be shown is dropped from tracking again.
func (m *Manager) show(kind Kind, from, callID string) {
	if !m.opts.Enabled {
		log.Debugf("notifications disabled; %s toast for %s skipped", kind, callID)
		return
	}
	t := BuildToast(kind, from, callID)
	e := &entry{kind: kind}

	m.mu.Lock()
	m.active[callID] = e
	m.mu.Unlock()

	m.work.Post(func() {
		if !m.ensureReady() {
			m.forget(callID, e)
			return
		}
		m.mu.Lock()
		m.lastArgs = "from:" + t.Body + "|to:" + callID
		m.mu.Unlock()

		h, err := m.toaster.Show(t)
		if err != nil {
			log.Errorf("show %s toast for %s: %v", kind, callID, err)
			m.forget(callID, e)
			return
		}
		e.handle = h
		log.Infof("%s toast shown for %s", kind, callID)
	})
}

func (m *Manager) forget(callID string, e *entry) {
	m.mu.Lock()
	if m.active[callID] == e {
		delete(m.active, callID)
	}
	m.mu.Unlock()
}

// remove queues the toaster call for an entry no longer tracked.
func (m *Manager) remove(callID string, e *entry) {
	m.work.Post(func() {
		if e.handle == "" {
			return
		}
		if err := m.toaster.Hide(e.handle); err != nil {
			log.Warnf("hide %s toast for %s: %v", e.kind, callID, err)
		}
	})
}

// Hide dismisses the toast for callID only if it is of the given kind.
// It reports whether a toast was removed.
func (m *Manager) Hide(callID string, kind Kind) bool {
	m.mu.Lock()
	e, ok := m.active[callID]
	if !ok || e.kind != kind {
		m.mu.Unlock()
		return false
	}
	delete(m.active, callID)
	m.mu.Unlock()

	m.remove(callID, e)
	return true
}

// HideAll dismisses every tracked toast.
func (m *Manager) HideAll() {
	m.mu.Lock()
	all := m.active
	m.active = make(map[string]*entry)
	m.mu.Unlock()

	for id, e := range all {
		m.remove(id, e)
	}
}

// Active reports the kind of the tracked toast for callID.
func (m *Manager) Active(callID string) (Kind, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.active[callID]
	if !ok {
		return 0, false
	}
	return e.kind, true
}

// Len is the number of tracked toasts.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// HasPermission reports whether a notifier could be created. It waits
// for the worker.
func (m *Manager) HasPermission() bool {
	if !m.opts.Enabled {
		return false
	}
	var ok bool
	m.do(func() {
		m.ensureIdentity()
		ok = m.ready
	})
	return ok
}

// RequestPermission re-creates the notifier and reports the outcome.
func (m *Manager) RequestPermission() bool {
	if !m.opts.Enabled {
		return false
	}
	var ok bool
	m.do(func() {
		m.ensureIdentity()
		if !m.ready {
			m.ready = m.initToaster() == nil
		}
		ok = m.ready
	})
	return ok
}

// LastArgs is "from:<from>|to:<callId>" of the most recent toast. Only
// the latest is kept.
func (m *Manager) LastArgs() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastArgs
}

// LastCaller splits LastArgs into its from and to parts.
func (m *Manager) LastCaller() (from, to string, ok bool) {
	return ParseArgs(m.LastArgs())
}

// ParseArgs splits "from:<from>|to:<to>".
func ParseArgs(args string) (from, to string, ok bool) {
	f, t, found := strings.Cut(args, "|to:")
	if !found || !strings.HasPrefix(f, "from:") {
		return "", "", false
	}
	return strings.TrimPrefix(f, "from:"), t, true
}

// Shutdown releases the notifier once queued toasts have been handled.
// Toasts on screen are left alone. A later show re-establishes the
// identity.
func (m *Manager) Shutdown() {
	m.do(func() {
		if !m.identityUp {
			return
		}
		if err := m.toaster.Close(); err != nil {
			log.Warnf("close notifier: %v", err)
		}
		m.identityUp = false
		m.ready = false
	})
}
