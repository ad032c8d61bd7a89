// main.go
package main

import (
	"embed"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	logging "github.com/ipfs/go-log/v2"

	"github.com/petervdpas/voicebridge/internal/activation"
	"github.com/petervdpas/voicebridge/internal/config"
	"github.com/petervdpas/voicebridge/internal/logbuf"
	"github.com/petervdpas/voicebridge/internal/util"
	"github.com/petervdpas/voicebridge/internal/webview"

	"github.com/wailsapp/wails/v2"
	"github.com/wailsapp/wails/v2/pkg/options"
	"github.com/wailsapp/wails/v2/pkg/options/assetserver"
	"github.com/wailsapp/wails/v2/pkg/options/windows"
)

var log = logging.Logger("app")

//go:embed all:frontend/dist
var assets embed.FS

var (
	showHelp   = flag.Bool("h", false, "Show help")
	version    = flag.Bool("version", false, "Show version")
	configPath = flag.String("config", "", "Config file (default: <user config dir>/voicebridge/voicebridge.json)")
)

// appVersion is set at build time via -ldflags "-X main.appVersion=x.y.z"
var appVersion = "dev"

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("voicebridge v%s\n", appVersion)
		return
	}
	if *showHelp {
		showUsage()
		return
	}

	cfgPath := *configPath
	if cfgPath == "" {
		cfgPath = filepath.Join(util.AppDataDir("voicebridge"), "voicebridge.json")
	}
	cfg, created, err := config.Ensure(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: config %s: %v\n", cfgPath, err)
		os.Exit(1)
	}

	args := flag.Args()

	// A protocol activation arrives as the bare URI.
	if len(args) == 1 && isProtocolURI(cfg.Notify.Scheme, args[0]) {
		args = []string{"activate", args[0]}
	}

	if len(args) == 0 {
		runDesktopApp(cfgPath, cfg, created, "")
		return
	}

	switch args[0] {
	case "activate":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "Error: activate requires an argument")
			fmt.Fprintln(os.Stderr, "Usage: voicebridge activate <action>:<callId>")
			os.Exit(1)
		}
		runActivate(cfgPath, cfg, args[1])

	default:
		fmt.Fprintf(os.Stderr, "Error: unknown command '%s'\n", args[0])
		fmt.Fprintln(os.Stderr)
		showUsage()
		os.Exit(1)
	}
}

func isProtocolURI(scheme, arg string) bool {
	return scheme != "" && strings.HasPrefix(strings.ToLower(arg), strings.ToLower(scheme)+":")
}

// runActivate forwards a notification click to the running instance. When
// none is running the desktop app starts and performs the action once the
// page is loaded.
func runActivate(cfgPath string, cfg config.Config, arg string) {
	args := activation.StripScheme(cfg.Notify.Scheme, arg)
	if _, _, err := activation.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	sock := activation.SocketPath(cfg.Activation.SocketPath)
	if activation.Ping(sock) == nil {
		if err := activation.Send(sock, args); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(2)
		}
		return
	}
	runDesktopApp(cfgPath, cfg, false, args)
}

func runDesktopApp(cfgPath string, cfg config.Config, created bool, pending string) {
	logs, stopLogs := logbuf.Setup(cfg.Log)
	defer stopLogs()
	if created {
		log.Infof("created default config at %s", cfgPath)
	}

	// WebView2 reads its browser arguments when the window is created.
	webview.ApplyBrowserArguments(cfg.Webview.BrowserArgs)

	app := NewApp(cfgPath, cfg, logs, pending)

	err := wails.Run(&options.App{
		Title:       cfg.App.Title,
		Width:       cfg.App.Width,
		Height:      cfg.App.Height,
		StartHidden: cfg.App.StartHidden,

		AssetServer: &assetserver.Options{
			Assets: assets,
		},

		Windows: &windows.Options{
			WebviewUserDataPath: filepath.Join(util.AppDataDir("voicebridge"), "webview"),
		},

		OnStartup:  app.startup,
		OnDomReady: app.domReady,
		OnShutdown: app.shutdown,
		Bind:       []any{app},
	})
	if err != nil {
		log.Errorf("wails: %v", err)
		os.Exit(1)
	}
}

func showUsage() {
	fmt.Println("voicebridge - desktop voice calling")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  voicebridge                         Run desktop application (default)")
	fmt.Println("  voicebridge activate <action>:<id>  Deliver a notification action")
	fmt.Println("  voicebridge <scheme>:<action>:<id>  Same, as a protocol URI")
	fmt.Println()
	fmt.Println("Actions:")
	fmt.Println("  accept:<callId>   answer the ringing call")
	fmt.Println("  reject:<callId>   reject or hang up the current call")
	fmt.Println("  call:<callId>     call back the last notified caller")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  -config <file>  Config file")
	fmt.Println("  -h              Show this help message")
	fmt.Println("  -version        Show version information")
}
