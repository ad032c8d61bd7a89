// Package jsobject addresses a named object living in the hosted page:
// method invocation, existence checks and event subscription.
package jsobject

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	logging "github.com/ipfs/go-log/v2"

	"github.com/petervdpas/voicebridge/internal/webview"
)

var log = logging.Logger("jsobject")

// Host is the part of the gateway an Object needs.
type Host interface {
	Evaluate(script string, done func(result string, err error))
	Route(object, event string, fn func(webview.Message))
	Unroute(object, event string)
}

// Raw is a script fragment inserted verbatim as an argument.
type Raw string

var identRe = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$]*(\.[A-Za-z_$][A-Za-z0-9_$]*)*$`)

// Object is a handle on a page object such as "window.connection".
type Object struct {
	name string
	host Host
}

func New(name string, host Host) *Object {
	return &Object{name: name, host: host}
}

func (o *Object) Name() string { return o.name }

// Literal renders v as a JS literal. JSON is a subset of JS and
// encoding/json escapes U+2028/U+2029 and HTML-sensitive characters.
func Literal(v any) (string, error) {
	if r, ok := v.(Raw); ok {
		return string(r), nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("serialize %T: %w", v, err)
	}
	return string(b), nil
}

// CallScript builds "name.method(a, b)".
func CallScript(name, method string, args ...any) (string, error) {
	if !identRe.MatchString(name) {
		return "", fmt.Errorf("invalid object name %q", name)
	}
	if !identRe.MatchString(method) || strings.Contains(method, ".") {
		return "", fmt.Errorf("invalid method name %q", method)
	}
	parts := make([]string, 0, len(args))
	for _, a := range args {
		lit, err := Literal(a)
		if err != nil {
			return "", err
		}
		parts = append(parts, lit)
	}
	return name + "." + method + "(" + strings.Join(parts, ", ") + ")", nil
}

// Invoke calls method on the object; done receives the JSON result text
// or the script error, unchanged.
func (o *Object) Invoke(method string, args []any, done func(string, error)) {
	script, err := CallScript(o.name, method, args...)
	if err != nil {
		done("", err)
		return
	}
	o.host.Evaluate(script, done)
}

// Exists reports whether the object is currently set in the page.
func (o *Object) Exists(done func(bool, error)) {
	if !identRe.MatchString(o.name) {
		done(false, fmt.Errorf("invalid object name %q", o.name))
		return
	}
	script := fmt.Sprintf("(function(){ try { return %s != null; } catch (e) { return false; } })()", o.name)
	o.host.Evaluate(script, func(r string, err error) {
		if err != nil {
			done(false, err)
			return
		}
		done(r == "true", nil)
	})
}

// Subscribe forwards the object's event to handler. The page keeps one
// listener per object/event, so subscribing twice does not double up.
func (o *Object) Subscribe(event string, handler func(webview.Message)) {
	if !identRe.MatchString(o.name) {
		log.Warnf("subscribe %s on invalid object %q", event, o.name)
		return
	}
	name, _ := Literal(o.name)
	ev, _ := Literal(event)
	o.host.Route(o.name, event, handler)
	script := fmt.Sprintf("window.voiceBridge.listen(%s, %s, %s)", o.name, name, ev)
	o.host.Evaluate(script, func(_ string, err error) {
		if err != nil {
			log.Warnf("subscribe %s.%s: %v", o.name, event, err)
		}
	})
}

// Unsubscribe removes the listener and the route. Safe when absent.
func (o *Object) Unsubscribe(event string) {
	name, _ := Literal(o.name)
	ev, _ := Literal(event)
	o.host.Unroute(o.name, event)
	script := fmt.Sprintf("window.voiceBridge.unlisten(%s, %s)", name, ev)
	o.host.Evaluate(script, func(_ string, err error) {
		if err != nil {
			log.Debugf("unsubscribe %s.%s: %v", o.name, event, err)
		}
	})
}
