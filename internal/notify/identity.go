package notify

import "errors"

// ErrNotAvailable is returned by toasters on platforms without a
// notification service.
var ErrNotAvailable = errors.New("notifications not available")

// Identity is how the OS knows this app: the AppUserModelID toasts are
// filed under and the endpoint activations are delivered to.
type Identity struct {
	AUMID       string
	DisplayName string
	Scheme      string

	// Command line the OS runs for a protocol activation.
	Command string
}

// Registrar makes an Identity known to the OS. Registrations persist
// across runs.
type Registrar interface {
	Register(id Identity) error
}

// Handle identifies a shown toast to its toaster.
type Handle string

// Toaster shows and hides toasts on one platform.
type Toaster interface {
	// Init creates the notifier for id. An error means notifications are
	// not permitted or not available.
	Init(id Identity) error
	Show(t Toast) (Handle, error)
	Hide(h Handle) error
	// OnAction receives "<action>:<callId>" when the user clicks a button.
	OnAction(fn func(args string))
	Close() error
}

type nopRegistrar struct{}

func (nopRegistrar) Register(Identity) error { return nil }
