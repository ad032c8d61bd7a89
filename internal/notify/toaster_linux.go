//go:build linux

package notify

import (
	"fmt"
	"strconv"
	"sync"

	"github.com/godbus/dbus/v5"
)

const (
	fdoName      = "org.freedesktop.Notifications"
	fdoPath      = "/org/freedesktop/Notifications"
	fdoInterface = "org.freedesktop.Notifications"
)

// dbusToaster talks to the desktop notification daemon over the session bus.
type dbusToaster struct {
	appName string

	mu       sync.Mutex
	conn     *dbus.Conn
	obj      dbus.BusObject
	signals  chan *dbus.Signal
	done     chan struct{}
	ids      map[uint32]bool
	onAction func(string)
}

func NewPlatformToaster(id Identity) Toaster {
	return &dbusToaster{appName: id.DisplayName, ids: make(map[uint32]bool)}
}

func NewPlatformRegistrar() Registrar { return nopRegistrar{} }

func (d *dbusToaster) Init(id Identity) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.conn != nil {
		return nil
	}
	if id.DisplayName != "" {
		d.appName = id.DisplayName
	}

	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return fmt.Errorf("session bus: %w", err)
	}
	obj := conn.Object(fdoName, fdoPath)

	var name, vendor, version, spec string
	if err := obj.Call(fdoInterface+".GetServerInformation", 0).Store(&name, &vendor, &version, &spec); err != nil {
		conn.Close()
		return fmt.Errorf("%w: %v", ErrNotAvailable, err)
	}
	log.Debugf("notification server %s %s (%s)", name, version, vendor)

	if err := conn.AddMatchSignal(
		dbus.WithMatchObjectPath(fdoPath),
		dbus.WithMatchInterface(fdoInterface),
		dbus.WithMatchMember("ActionInvoked"),
	); err != nil {
		conn.Close()
		return fmt.Errorf("match ActionInvoked: %w", err)
	}

	d.conn = conn
	d.obj = obj
	d.signals = make(chan *dbus.Signal, 16)
	d.done = make(chan struct{})
	conn.Signal(d.signals)
	go d.signalLoop(d.signals, d.done)
	return nil
}

func (d *dbusToaster) signalLoop(ch chan *dbus.Signal, done chan struct{}) {
	defer close(done)
	for sig := range ch {
		if sig.Name != fdoInterface+".ActionInvoked" || len(sig.Body) != 2 {
			continue
		}
		id, _ := sig.Body[0].(uint32)
		key, _ := sig.Body[1].(string)

		d.mu.Lock()
		ours := d.ids[id]
		fn := d.onAction
		d.mu.Unlock()
		if !ours || fn == nil || key == "default" {
			continue
		}
		fn(key)
	}
}

func (d *dbusToaster) Show(t Toast) (Handle, error) {
	d.mu.Lock()
	obj := d.obj
	appName := d.appName
	d.mu.Unlock()
	if obj == nil {
		return "", ErrNotAvailable
	}

	actions := make([]string, 0, 2*len(t.Actions))
	for _, a := range t.Actions {
		actions = append(actions, a.Args, a.Label)
	}
	hints := map[string]dbus.Variant{
		"category": dbus.MakeVariant("call"),
	}
	timeout := int32(-1)
	if t.Kind == KindIncoming {
		hints["urgency"] = dbus.MakeVariant(byte(2))
		hints["suppress-sound"] = dbus.MakeVariant(true)
		timeout = 0
	}

	var id uint32
	err := obj.Call(fdoInterface+".Notify", 0,
		appName, uint32(0), "call-start", t.Title, t.Body, actions, hints, timeout,
	).Store(&id)
	if err != nil {
		return "", err
	}

	d.mu.Lock()
	d.ids[id] = true
	d.mu.Unlock()
	return Handle(strconv.FormatUint(uint64(id), 10)), nil
}

func (d *dbusToaster) Hide(h Handle) error {
	id, err := strconv.ParseUint(string(h), 10, 32)
	if err != nil {
		return fmt.Errorf("bad handle %q", h)
	}
	d.mu.Lock()
	obj := d.obj
	delete(d.ids, uint32(id))
	d.mu.Unlock()
	if obj == nil {
		return ErrNotAvailable
	}
	return obj.Call(fdoInterface+".CloseNotification", 0, uint32(id)).Err
}

func (d *dbusToaster) OnAction(fn func(args string)) {
	d.mu.Lock()
	d.onAction = fn
	d.mu.Unlock()
}

func (d *dbusToaster) Close() error {
	d.mu.Lock()
	conn, ch, done := d.conn, d.signals, d.done
	d.conn, d.obj, d.signals, d.done = nil, nil, nil, nil
	d.mu.Unlock()
	if conn == nil {
		return nil
	}
	conn.RemoveSignal(ch)
	close(ch)
	err := conn.Close()
	<-done
	return err
}
