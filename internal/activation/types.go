package activation

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/petervdpas/voicebridge/internal/util"
)

// Request is the wire format sent over the activation socket.
type Request struct {
	Type string `json:"type"` // "Activate", "Ping"
	Args string `json:"args,omitempty"`
}

// Response is the wire format returned over the activation socket.
type Response struct {
	Type    string `json:"type"`              // "OK", "Error"
	Code    string `json:"code,omitempty"`    // "INVALID_ARGUMENT", "BAD_REQUEST"
	Message string `json:"message,omitempty"` // error message
}

// SocketPath returns the configured path, or the default one under the
// user config dir. The parent directory is created.
func SocketPath(configured string) string {
	p := strings.TrimSpace(configured)
	if p == "" {
		p = filepath.Join(util.AppDataDir("voicebridge"), "activation.sock")
	}
	_ = os.MkdirAll(filepath.Dir(p), 0o755)
	return p
}
