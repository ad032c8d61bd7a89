//go:build windows

package notify

import (
	"bytes"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"syscall"
)

const createNoWindow = 0x08000000

// psToaster shows toasts through the WinRT projection available to
// Windows PowerShell. Clicks use protocol activation and arrive as a new
// process invocation, not through OnAction.
type psToaster struct {
	mu sync.Mutex
	id Identity
}

func NewPlatformToaster(id Identity) Toaster { return &psToaster{id: id} }

const winrtPrelude = `[Windows.UI.Notifications.ToastNotificationManager, Windows.UI.Notifications, ContentType = WindowsRuntime] > $null
[Windows.Data.Xml.Dom.XmlDocument, Windows.Data.Xml.Dom.XmlDocument, ContentType = WindowsRuntime] > $null
`

func (p *psToaster) Init(id Identity) error {
	p.mu.Lock()
	p.id = id
	p.mu.Unlock()

	out, err := runPowerShell(winrtPrelude +
		`$n = [Windows.UI.Notifications.ToastNotificationManager]::CreateToastNotifier(` + psQuote(id.AUMID) + `)
[int]$n.Setting`)
	if err != nil {
		return err
	}
	// NotificationSetting.Enabled == 0
	if s := strings.TrimSpace(out); s != "0" {
		return fmt.Errorf("notifications disabled for %s (setting %s)", id.AUMID, s)
	}
	return nil
}

func (p *psToaster) Show(t Toast) (Handle, error) {
	p.mu.Lock()
	id := p.id
	p.mu.Unlock()

	doc, err := t.XML(id.Scheme)
	if err != nil {
		return "", err
	}
	_, err = runPowerShell(winrtPrelude +
		`$xml = New-Object Windows.Data.Xml.Dom.XmlDocument
$xml.LoadXml(` + psQuote(doc) + `)
$toast = New-Object Windows.UI.Notifications.ToastNotification $xml
$toast.Tag = ` + psQuote(t.Tag) + `
$toast.Group = ` + psQuote(Group) + `
[Windows.UI.Notifications.ToastNotificationManager]::CreateToastNotifier(` + psQuote(id.AUMID) + `).Show($toast)`)
	if err != nil {
		return "", err
	}
	return Handle(t.Tag), nil
}

func (p *psToaster) Hide(h Handle) error {
	p.mu.Lock()
	id := p.id
	p.mu.Unlock()

	_, err := runPowerShell(winrtPrelude +
		`[Windows.UI.Notifications.ToastNotificationManager]::History.Remove(` +
		psQuote(string(h)) + `, ` + psQuote(Group) + `, ` + psQuote(id.AUMID) + `)`)
	return err
}

func (p *psToaster) OnAction(func(string)) {}

func (p *psToaster) Close() error { return nil }

func psQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func runPowerShell(script string) (string, error) {
	cmd := exec.Command("powershell.exe", "-NoProfile", "-NonInteractive", "-ExecutionPolicy", "Bypass", "-Command", "-")
	cmd.Stdin = strings.NewReader(script)
	cmd.SysProcAttr = &syscall.SysProcAttr{HideWindow: true, CreationFlags: createNoWindow}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("powershell: %v: %s", err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}
