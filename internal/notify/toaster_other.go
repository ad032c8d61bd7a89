//go:build !linux && !windows

package notify

// logToaster is used where no notification service is wired up. Every
// show fails with ErrNotAvailable, so the manager degrades to logging.
type logToaster struct{}

func NewPlatformToaster(Identity) Toaster { return logToaster{} }

func NewPlatformRegistrar() Registrar { return nopRegistrar{} }

func (logToaster) Init(Identity) error { return ErrNotAvailable }

func (logToaster) Show(t Toast) (Handle, error) {
	log.Infof("%s: %s (%s)", t.Title, t.Body, t.Tag)
	return "", ErrNotAvailable
}

func (logToaster) Hide(Handle) error { return nil }

func (logToaster) OnAction(func(string)) {}

func (logToaster) Close() error { return nil }
