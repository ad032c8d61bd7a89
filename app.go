// app.go
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/petervdpas/voicebridge/internal/activation"
	"github.com/petervdpas/voicebridge/internal/config"
	"github.com/petervdpas/voicebridge/internal/history"
	"github.com/petervdpas/voicebridge/internal/hostapi"
	"github.com/petervdpas/voicebridge/internal/logbuf"
	"github.com/petervdpas/voicebridge/internal/notify"
	"github.com/petervdpas/voicebridge/internal/plugin"
	"github.com/petervdpas/voicebridge/internal/util"
	"github.com/petervdpas/voicebridge/internal/webview"

	"github.com/wailsapp/wails/v2/pkg/runtime"
)

// EventVoice is the Wails event carrying the plugin's event stream.
const EventVoice = "voice:event"

type App struct {
	ctx context.Context

	cfgPath string
	cfg     config.Config
	logs    *logbuf.LogBuffer

	// Activation received on the command line before the app was running.
	pending string

	engine  *webview.WailsEngine
	gw      *webview.Gateway
	notes   *notify.Manager
	hist    *history.Store
	plugin  *plugin.Plugin
	bridge  *activation.Bridge
	actSrv  *activation.Server
	watcher *config.Watcher
	api     *hostapi.Server

	mu     sync.Mutex
	loaded bool
}

func NewApp(cfgPath string, cfg config.Config, logs *logbuf.LogBuffer, pending string) *App {
	return &App{
		cfgPath: cfgPath,
		cfg:     cfg,
		logs:    logs,
		pending: pending,
		engine:  webview.NewWailsEngine(time.Duration(cfg.Webview.ScriptTimeoutSec) * time.Second),
	}
}

func (a *App) startup(ctx context.Context) {
	a.ctx = ctx
	a.engine.Attach(ctx)

	if a.cfg.History.Enabled {
		path := a.cfg.History.Path
		if path != "" {
			path = util.ResolvePath(filepath.Dir(a.cfgPath), path)
		}
		hist, err := history.Open(path)
		if err != nil {
			log.Warnf("call history disabled: %v", err)
		} else {
			a.hist = hist
		}
	}

	a.notes = notify.Setup(notify.Options{
		Enabled:  a.cfg.Notify.Enabled,
		Identity: a.identity(),
		Retries:  a.cfg.Notify.InitRetries,
	})

	a.gw = webview.New(a.engine, webview.Options{
		Environment: webview.EnvironmentOptions{BrowserArgs: a.cfg.Webview.BrowserArgs},
	})
	a.plugin = plugin.New(plugin.Options{
		Gateway:      a.gw,
		Notify:       a.notes,
		History:      a.hist,
		HistoryLimit: a.cfg.History.DefaultLimit,
		Voice:        a.cfg.Voice,
	})
	desktop := wailsSink{ctx: ctx}
	a.plugin.Listen(desktop)

	a.bridge = a.plugin.Activation()
	a.notes.SetActionHandler(func(args string) {
		if err := a.bridge.Activate(args); err != nil {
			log.Warnf("notification action: %v", err)
		}
	})

	srv, err := activation.Listen(activation.SocketPath(a.cfg.Activation.SocketPath), a.bridge)
	if err != nil {
		log.Warnf("activation endpoint: %v", err)
	} else {
		a.actSrv = srv
	}

	if w, err := config.Watch(a.cfgPath, a.reload); err != nil {
		log.Warnf("config watch: %v", err)
	} else {
		a.watcher = w
	}

	if addr := a.cfg.Server.HTTPAddr; addr != "" {
		api, err := hostapi.Start(addr, hostapi.Deps{
			Plugin:   a.plugin,
			Logs:     a.logs,
			Timeout:  time.Duration(a.cfg.Webview.ScriptTimeoutSec) * time.Second,
			Fallback: desktop,
		})
		if err != nil {
			log.Errorf("http api: %v", err)
		} else {
			a.api = api
		}
	}
}

// identity is the notification identity; protocol activations relaunch
// this executable with the activate command.
func (a *App) identity() notify.Identity {
	id := notify.Identity{
		AUMID:       a.cfg.Notify.AUMID,
		DisplayName: a.cfg.Notify.DisplayName,
		Scheme:      a.cfg.Notify.Scheme,
	}
	if exe, err := os.Executable(); err == nil {
		id.Command = fmt.Sprintf(`"%s" activate "%%1"`, exe)
	}
	return id
}

// domReady runs once the first page is up and the JS runtime exists.
func (a *App) domReady(ctx context.Context) {
	a.mu.Lock()
	if a.loaded {
		a.mu.Unlock()
		return
	}
	a.loaded = true
	a.mu.Unlock()

	a.gw.Initialize(func() {
		a.gw.LoadEntryDocument(a.cfg.Webview.EntryDocument, func() {
			log.Infof("entry document %s loaded", a.cfg.Webview.EntryDocument)
			if a.pending != "" {
				args := a.pending
				a.pending = ""
				if err := a.bridge.Activate(args); err != nil {
					log.Warnf("startup activation: %v", err)
				}
			}
		})
	})
}

func (a *App) reload(cfg config.Config) {
	logbuf.Apply(cfg.Log)
	log.Infof("config reloaded; log level %s", cfg.Log.Level)
}

func (a *App) shutdown(ctx context.Context) {
	log.Infof("shutting down")
	if a.api != nil {
		a.api.Close()
	}
	if a.watcher != nil {
		_ = a.watcher.Close()
	}
	if a.actSrv != nil {
		a.actSrv.Close()
	}
	if a.plugin != nil {
		a.plugin.Shutdown()
	}
	if a.gw != nil {
		a.gw.Close()
	}
	if a.hist != nil {
		if err := a.hist.Close(); err != nil {
			log.Warnf("close history: %v", err)
		}
	}
}

// -------------------------
// Wails bindings
// -------------------------

// Invoke runs a plugin command for the frontend.
func (a *App) Invoke(method string, args map[string]any) hostapi.Reply {
	ctx, cancel := context.WithTimeout(a.ctx, time.Duration(a.cfg.Webview.ScriptTimeoutSec)*time.Second)
	defer cancel()
	return hostapi.Invoke(ctx, a.plugin, method, args)
}

// Logs returns the last n captured log lines.
func (a *App) Logs(n int) []logbuf.LogEntry {
	if a.logs == nil {
		return nil
	}
	if n <= 0 {
		n = -1
	}
	return a.logs.Find(logbuf.Query{Limit: n})
}

// wailsSink forwards plugin events to the frontend.
type wailsSink struct{ ctx context.Context }

func (s wailsSink) Success(ev any) {
	runtime.EventsEmit(s.ctx, EventVoice, ev)
}

func (s wailsSink) Error(code, message string, _ any) {
	runtime.EventsEmit(s.ctx, EventVoice, map[string]string{"code": code, "message": message})
}

func (s wailsSink) EndOfStream() {}
