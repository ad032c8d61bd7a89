// Package activation turns notification button clicks into call actions.
//
// Clicks reach the running instance either directly (a toaster callback) or
// through a second process started by the OS, which forwards its argument
// over a local socket (see Server and Send).
package activation

import (
	"errors"
	"fmt"
	"strings"

	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("activation")

// ErrInvalidArgument is returned for payloads with an unknown action.
var ErrInvalidArgument = errors.New("invalid activation argument")

type Action string

const (
	ActionAccept Action = "accept"
	ActionReject Action = "reject"
	ActionCall   Action = "call"
)

// Parse splits "<action>:<payload>" on the first colon.
func Parse(args string) (Action, string, error) {
	action, payload, found := strings.Cut(strings.TrimSpace(args), ":")
	if !found {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidArgument, args)
	}
	switch a := Action(action); a {
	case ActionAccept, ActionReject, ActionCall:
		return a, payload, nil
	default:
		return "", "", fmt.Errorf("%w: %q", ErrInvalidArgument, args)
	}
}

// StripScheme removes a "<scheme>:" prefix and any trailing slash added by
// protocol activation ("voicebridge:accept:CA1/").
func StripScheme(scheme, uri string) string {
	uri = strings.TrimSpace(uri)
	if scheme != "" && len(uri) > len(scheme) && strings.EqualFold(uri[:len(scheme)+1], scheme+":") {
		uri = uri[len(scheme)+1:]
		uri = strings.TrimPrefix(uri, "//")
		uri = strings.TrimSuffix(uri, "/")
	}
	return uri
}

// Handler performs the call actions. All three are fire-and-forget.
type Handler interface {
	Answer()
	HangUp()
	MakeCall(from, to string)
}

// Stash returns the parties of the most recent notification.
type Stash func() (from, to string, ok bool)

// Bridge routes parsed activations to a Handler.
type Bridge struct {
	handler Handler
	stash   Stash
}

func NewBridge(h Handler, stash Stash) *Bridge {
	return &Bridge{handler: h, stash: stash}
}

// Activate runs the action named by args. The call id in the payload is
// informational; answer and hang-up act on the page's current call and
// call-back uses the last notification's parties.
func (b *Bridge) Activate(args string) error {
	action, payload, err := Parse(args)
	if err != nil {
		log.Warnf("activation rejected: %v", err)
		return err
	}
	log.Infof("activation %s (%s)", action, payload)

	switch action {
	case ActionAccept:
		b.handler.Answer()
	case ActionReject:
		b.handler.HangUp()
	case ActionCall:
		from, to, ok := b.stash()
		if !ok {
			log.Warnf("call-back for %s: no notification stashed", payload)
			return nil
		}
		b.handler.MakeCall(from, to)
	}
	return nil
}
