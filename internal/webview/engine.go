// Package webview hosts the vendor voice SDK inside an embedded web engine
// and exposes it to Go as an asynchronous script gateway.
//
// The engine itself sits behind the Engine/Environment/Controller
// interfaces. Every call into a Controller and every completion handed back
// to callers runs on the gateway's single loop goroutine.
package webview

import "errors"

var (
	ErrNotReady      = errors.New("WebView not initialized")
	ErrClosed        = errors.New("webview closed")
	ErrScriptTimeout = errors.New("script evaluation timed out")
	ErrNoWindow      = errors.New("no host window attached")
)

// ScriptError is a script that ran and threw, or that the engine refused.
type ScriptError struct {
	Message string
}

func (e *ScriptError) Error() string {
	if e.Message == "" {
		return "JavaScript execution failed"
	}
	return e.Message
}

type PermissionKind int

const (
	PermissionUnknown PermissionKind = iota
	PermissionMicrophone
	PermissionCamera
	PermissionNotifications
	PermissionClipboard
)

func (k PermissionKind) String() string {
	switch k {
	case PermissionMicrophone:
		return "microphone"
	case PermissionCamera:
		return "camera"
	case PermissionNotifications:
		return "notifications"
	case PermissionClipboard:
		return "clipboard"
	default:
		return "unknown"
	}
}

type PermissionState int

const (
	PermissionDefault PermissionState = iota
	PermissionAllow
	PermissionDeny
)

// Settings applied to a freshly created controller.
type Settings struct {
	ScriptEnabled     bool
	WebMessageEnabled bool
	DefaultDialogs    bool
}

// EnvironmentOptions configure the engine process.
type EnvironmentOptions struct {
	UserDataDir string
	BrowserArgs string
}

// Engine creates web engine environments.
type Engine interface {
	CreateEnvironment(opts EnvironmentOptions, done func(Environment, error))
}

// Environment creates controllers bound to a parent window.
type Environment interface {
	CreateController(parent uintptr, done func(Controller, error))
}

// Controller drives one hosted page. Callbacks may fire on any goroutine.
type Controller interface {
	Configure(s Settings) error
	SetPermissionHandler(fn func(PermissionKind) PermissionState)
	SetMessageHandler(fn func(raw string))
	Navigate(uri string, done func(error))
	ExecuteScript(script string, done func(result string, err error))
	Close() error
}
