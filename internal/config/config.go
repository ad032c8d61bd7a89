package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"regexp"
	"strings"

	logging "github.com/ipfs/go-log/v2"

	"github.com/petervdpas/voicebridge/internal/util"
)

type Config struct {
	App        App        `json:"app"`
	Webview    Webview    `json:"webview"`
	Voice      Voice      `json:"voice"`
	Notify     Notify     `json:"notify"`
	Activation Activation `json:"activation"`
	History    History    `json:"history"`
	Server     Server     `json:"server"`
	Log        Log        `json:"log"`
}

type App struct {
	Title       string `json:"title"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	StartHidden bool   `json:"start_hidden"`
}

type Webview struct {
	// Entry document loaded into the hosted page once the web view is ready.
	EntryDocument string `json:"entry_document"`

	// Seconds before an unanswered script evaluation is failed.
	ScriptTimeoutSec int `json:"script_timeout_seconds"`

	// Extra browser arguments passed to WebView2. The default grants
	// microphone access without a prompt.
	BrowserArgs string `json:"browser_args"`
}

type Voice struct {
	// Expression naming the active connection object in the hosted page.
	ConnectionObject string   `json:"connection_object"`
	CodecPreferences []string `json:"codec_preferences"`
	CloseProtection  bool     `json:"close_protection"`
}

type Notify struct {
	Enabled     bool   `json:"enabled"`
	AUMID       string `json:"aumid"`
	DisplayName string `json:"display_name"`

	// URI scheme used for toast activation on Windows ("<scheme>:accept:CA..").
	Scheme string `json:"scheme"`

	// Attempts made when creating the platform notifier.
	InitRetries int `json:"init_retries"`
}

type Activation struct {
	// Local socket the running instance listens on for notification
	// activations. Empty = <user config dir>/voicebridge/activation.sock.
	SocketPath string `json:"socket_path"`
}

type History struct {
	Enabled bool `json:"enabled"`

	// SQLite file, relative to the config file. Empty means in-memory only.
	Path string `json:"path"`

	// Rows returned by callHistory when the caller passes no limit.
	DefaultLimit int `json:"default_limit"`
}

type Server struct {
	// Optional loopback HTTP API (invoke + event WebSocket). Empty = disabled.
	HTTPAddr string `json:"http_addr"`
}

type Log struct {
	Level      string            `json:"level"`
	Subsystems map[string]string `json:"subsystems"`
	BufferSize int               `json:"buffer_size"`
}

var (
	schemeRe = regexp.MustCompile(`^[a-z][a-z0-9+.-]*$`)
	objectRe = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$]*(\.[A-Za-z_$][A-Za-z0-9_$]*)*$`)
)

func Default() Config {
	return Config{
		App: App{
			Title:  "Voice",
			Width:  420,
			Height: 640,
		},
		Webview: Webview{
			EntryDocument:    "index.html",
			ScriptTimeoutSec: 30,
			BrowserArgs:      "--use-fake-ui-for-media-stream",
		},
		Voice: Voice{
			ConnectionObject: "window.connection",
			CodecPreferences: []string{"opus", "pcmu"},
			CloseProtection:  true,
		},
		Notify: Notify{
			Enabled:     true,
			AUMID:       "SpaceAuto.App",
			DisplayName: "Space Auto",
			Scheme:      "voicebridge",
			InitRetries: 3,
		},
		History: History{
			Enabled:      true,
			Path:         "",
			DefaultLimit: 50,
		},
		Server: Server{
			HTTPAddr: "",
		},
		Log: Log{
			Level:      "info",
			Subsystems: map[string]string{},
			BufferSize: 500,
		},
	}
}

func (c *Config) Validate() error {
	// App
	if c.App.Width <= 0 || c.App.Height <= 0 {
		return errors.New("app.width and app.height must be > 0")
	}

	// Webview
	if strings.TrimSpace(c.Webview.EntryDocument) == "" {
		return errors.New("webview.entry_document is required")
	}
	if c.Webview.ScriptTimeoutSec < 0 || c.Webview.ScriptTimeoutSec > 600 {
		return errors.New("webview.script_timeout_seconds must be 0..600")
	}

	// Voice
	if !objectRe.MatchString(c.Voice.ConnectionObject) {
		return errors.New("voice.connection_object must be a dotted identifier")
	}
	for _, codec := range c.Voice.CodecPreferences {
		if codec != "opus" && codec != "pcmu" {
			return fmt.Errorf("voice.codec_preferences: unsupported codec %q", codec)
		}
	}

	// Notify
	if c.Notify.Enabled {
		if strings.TrimSpace(c.Notify.AUMID) == "" {
			return errors.New("notify.aumid is required when notifications are enabled")
		}
		if !schemeRe.MatchString(c.Notify.Scheme) {
			return errors.New("notify.scheme must be a lowercase URI scheme")
		}
		if c.Notify.InitRetries < 1 || c.Notify.InitRetries > 10 {
			return errors.New("notify.init_retries must be 1..10")
		}
	}

	// History
	if c.History.DefaultLimit <= 0 {
		return errors.New("history.default_limit must be > 0")
	}

	// Server
	if a := strings.TrimSpace(c.Server.HTTPAddr); a != "" {
		if _, _, err := net.SplitHostPort(a); err != nil {
			return fmt.Errorf("server.http_addr: %w", err)
		}
	}

	// Log
	if _, err := logging.LevelFromString(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	for name, lvl := range c.Log.Subsystems {
		if _, err := logging.LevelFromString(lvl); err != nil {
			return fmt.Errorf("log.subsystems[%s]: %w", name, err)
		}
	}
	if c.Log.BufferSize < 0 {
		return errors.New("log.buffer_size must be >= 0")
	}

	return nil
}

func Load(path string) (Config, error) {
	cfg, err := LoadPartial(path)
	if err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// LoadPartial reads a config file without validation. Useful for reading
// individual fields when full validation may fail.
func LoadPartial(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	// Strip UTF-8 BOM if present (common when editing JSON on Windows).
	b = stripBOM(b)

	// Start from defaults so missing JSON fields remain initialized.
	cfg := Default()
	if err := json.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// stripBOM removes a UTF-8 byte order mark if present.
func stripBOM(b []byte) []byte {
	if len(b) >= 3 && b[0] == 0xEF && b[1] == 0xBB && b[2] == 0xBF {
		return b[3:]
	}
	return b
}

func Save(path string, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	return util.WriteJSONFile(path, cfg)
}

// Ensure loads config if it exists; otherwise creates a default config file.
// Returns (cfg, createdNew, err).
func Ensure(path string) (Config, bool, error) {
	if _, err := os.Stat(path); err == nil {
		cfg, err := Load(path)
		return cfg, false, err
	} else if !os.IsNotExist(err) {
		return Config{}, false, err
	}

	cfg := Default()
	if err := Save(path, cfg); err != nil {
		return Config{}, false, fmt.Errorf("create default config: %w", err)
	}
	return cfg, true, nil
}
