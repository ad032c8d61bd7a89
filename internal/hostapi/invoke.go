// Package hostapi exposes the plugin to host code that does not link it
// directly: a blocking Invoke for bindings and a loopback HTTP API.
package hostapi

import (
	"context"

	logging "github.com/ipfs/go-log/v2"

	"github.com/petervdpas/voicebridge/internal/plugin"
)

var log = logging.Logger("hostapi")

// Reply is the outcome of one command.
type Reply struct {
	OK             bool   `json:"ok"`
	Value          any    `json:"value,omitempty"`
	Code           string `json:"code,omitempty"`
	Message        string `json:"message,omitempty"`
	NotImplemented bool   `json:"notImplemented,omitempty"`
}

// chanResult hands the first reply to a buffered channel.
type chanResult chan Reply

func (c chanResult) send(r Reply) {
	select {
	case c <- r:
	default:
	}
}

func (c chanResult) Success(v any) { c.send(Reply{OK: true, Value: v}) }

func (c chanResult) Error(code, message string, _ any) {
	c.send(Reply{Code: code, Message: message})
}

func (c chanResult) NotImplemented() {
	c.send(Reply{Code: "NOT_IMPLEMENTED", Message: "method not implemented", NotImplemented: true})
}

// Commander is the part of the plugin hostapi drives.
type Commander interface {
	HandleMethodCall(ctx context.Context, mc plugin.MethodCall, res plugin.Result)
	Listen(sink plugin.EventSink)
	Cancel()
}

// Invoke runs a command and waits for its reply or for ctx to end.
func Invoke(ctx context.Context, p Commander, method string, args map[string]any) Reply {
	res := make(chanResult, 1)
	p.HandleMethodCall(ctx, plugin.MethodCall{Method: method, Arguments: args}, res)
	select {
	case r := <-res:
		return r
	case <-ctx.Done():
		log.Warnf("%s: %v", method, ctx.Err())
		return Reply{Code: "TIMEOUT", Message: ctx.Err().Error()}
	}
}
