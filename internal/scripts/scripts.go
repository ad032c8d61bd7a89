// Package scripts holds the functions evaluated in the hosted page. Each
// .js file is a single function expression; Render applies it to
// JSON-encoded arguments.
package scripts

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	logging "github.com/ipfs/go-log/v2"
	"github.com/tdewolff/minify/v2"
	"github.com/tdewolff/minify/v2/js"
)

var log = logging.Logger("scripts")

//go:embed *.js
var rawFS embed.FS

const (
	DeviceSetup     = "device_setup"
	MakeCall        = "make_call"
	Unregister      = "unregister"
	CallSid         = "call_sid"
	MicPermission   = "mic_permission"
	RequestMic      = "request_mic"
	ResetConnection = "reset_connection"
)

var minified map[string]string

func init() {
	m := minify.New()
	m.AddFunc("application/javascript", js.Minify)

	minified = make(map[string]string)

	_ = fs.WalkDir(rawFS, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		if strings.ToLower(filepath.Ext(path)) != ".js" {
			return nil
		}
		raw, err := rawFS.ReadFile(path)
		if err != nil {
			return nil
		}
		name := strings.TrimSuffix(path, filepath.Ext(path))
		out, err := m.Bytes("application/javascript", raw)
		if err != nil {
			log.Warnf("scripts: minify warning: %s: %v (using original)", path, err)
			out = stripComments(raw)
		}
		minified[name] = strings.TrimRight(strings.TrimSpace(string(out)), ";")
		return nil
	})
}

// stripComments drops whole-line // comments so the function expression
// is the first token.
func stripComments(src []byte) []byte {
	var out [][]byte
	for _, line := range bytes.Split(src, []byte("\n")) {
		if bytes.HasPrefix(bytes.TrimSpace(line), []byte("//")) {
			continue
		}
		out = append(out, line)
	}
	return bytes.TrimSpace(bytes.Join(out, []byte("\n")))
}

// Names lists the available scripts.
func Names() []string {
	names := make([]string, 0, len(minified))
	for n := range minified {
		names = append(names, n)
	}
	return names
}

// Render returns "(<function>)(<args>)". args is JSON encoded; nil calls
// the function with no arguments.
func Render(name string, args any) (string, error) {
	fn, ok := minified[name]
	if !ok {
		return "", fmt.Errorf("unknown script %q", name)
	}
	if args == nil {
		return "(" + fn + ")()", nil
	}
	b, err := json.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("encode %s args: %w", name, err)
	}
	return "(" + fn + ")(" + string(b) + ")", nil
}

// MustRender is Render for scripts without caller-controlled arguments.
func MustRender(name string) string {
	s, err := Render(name, nil)
	if err != nil {
		panic(err)
	}
	return s
}
