package testutil

import (
	"sync"

	"github.com/petervdpas/voicebridge/internal/notify"
)

// Toaster records notifications instead of showing them.
type Toaster struct {
	mu       sync.Mutex
	shown    []notify.Toast
	hidden   []notify.Handle
	onAction func(string)
}

func (f *Toaster) Init(notify.Identity) error { return nil }

func (f *Toaster) Show(t notify.Toast) (notify.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shown = append(f.shown, t)
	return notify.Handle(t.Tag + "/" + t.Kind.String()), nil
}

func (f *Toaster) Hide(h notify.Handle) error {
	f.mu.Lock()
	f.hidden = append(f.hidden, h)
	f.mu.Unlock()
	return nil
}

func (f *Toaster) OnAction(fn func(string)) {
	f.mu.Lock()
	f.onAction = fn
	f.mu.Unlock()
}

func (f *Toaster) Close() error { return nil }

// Click simulates pressing a toast button.
func (f *Toaster) Click(args string) {
	f.mu.Lock()
	fn := f.onAction
	f.mu.Unlock()
	if fn != nil {
		fn(args)
	}
}

func (f *Toaster) Shown() []notify.Toast {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]notify.Toast(nil), f.shown...)
}

func (f *Toaster) Hidden() []notify.Handle {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]notify.Handle(nil), f.hidden...)
}

type nopRegistrar struct{}

func (nopRegistrar) Register(notify.Identity) error { return nil }

// NotifyManager returns a standalone manager backed by a recording toaster.
func NotifyManager() (*notify.Manager, *Toaster) {
	ft := &Toaster{}
	m := notify.New(notify.Options{
		Enabled:   true,
		Identity:  notify.DefaultIdentity(),
		Toaster:   ft,
		Registrar: nopRegistrar{},
	})
	return m, ft
}
