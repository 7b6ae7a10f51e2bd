//go:build linux

package platform

import (
	"context"
	"errors"
	"fmt"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/xproto"

	"github.com/1broseidon/termswallow/internal/x11"
)

// eventBuffer absorbs bursts (a window manager restarting remaps every
// client) while the dispatcher is busy with a handler.
const eventBuffer = 256

// LinuxBackend wraps an existing X11 connection behind the platform Backend interface.
type LinuxBackend struct {
	conn       *x11.Connection
	classifier eventClassifier
	events     chan Event
}

var _ Backend = (*LinuxBackend)(nil)

// NewLinuxBackend creates a Linux platform backend from an existing X11 connection.
func NewLinuxBackend(conn *x11.Connection) *LinuxBackend {
	return &LinuxBackend{
		conn:       conn,
		classifier: eventClassifier{root: conn.Root, atoms: conn.Atoms},
		events:     make(chan Event, eventBuffer),
	}
}

// NewLinuxBackendFromDisplay creates a new Linux backend by opening a fresh X11 connection.
func NewLinuxBackendFromDisplay(display string) (*LinuxBackend, error) {
	conn, err := x11.NewConnection(display)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to X11: %w", err)
	}
	return NewLinuxBackend(conn), nil
}

// Disconnect closes the underlying X11 connection. The event pump exits and
// closes the Events channel.
func (b *LinuxBackend) Disconnect() {
	if b != nil && b.conn != nil {
		b.conn.Close()
	}
}

// Start runs the event pump until the connection closes or ctx is done.
// Call it once.
func (b *LinuxBackend) Start(ctx context.Context) {
	go b.pump(ctx)
}

// Events returns classified events. Events the daemon has no use for are
// dropped by the pump.
func (b *LinuxBackend) Events() <-chan Event {
	return b.events
}

func (b *LinuxBackend) pump(ctx context.Context) {
	defer close(b.events)
	for {
		ev, xerr := b.conn.WaitForEvent()
		if ev == nil && xerr == nil {
			return
		}
		e := b.classifier.classify(ev, xerr)
		if e.Kind == EventOther {
			continue
		}
		select {
		case b.events <- e:
		case <-ctx.Done():
			return
		}
	}
}

// Geometry returns a window's placement and desktop.
func (b *LinuxBackend) Geometry(windowID WindowID) (Geometry, error) {
	frame, err := b.conn.WindowFrame(xproto.Window(windowID))
	if err != nil {
		return Geometry{}, windowError(err)
	}
	desktop, err := b.conn.GetWindowDesktop(xproto.Window(windowID))
	if err != nil {
		return Geometry{}, windowError(err)
	}
	return Geometry{
		X:       frame.X,
		Y:       frame.Y,
		Width:   frame.Width,
		Height:  frame.Height,
		Desktop: desktop,
	}, nil
}

// SetGeometry moves and resizes a window, then asks the window manager to
// put it on the geometry's desktop.
func (b *LinuxBackend) SetGeometry(windowID WindowID, g Geometry) error {
	frame := x11.Frame{X: g.X, Y: g.Y, Width: g.Width, Height: g.Height}
	if err := b.conn.MoveResizeWindow(xproto.Window(windowID), frame); err != nil {
		return fmt.Errorf("configure window: %w", windowError(err))
	}
	if err := b.conn.SetWindowDesktop(xproto.Window(windowID), g.Desktop); err != nil {
		return fmt.Errorf("set desktop: %w", err)
	}
	return nil
}

// Hide unmaps a window.
func (b *LinuxBackend) Hide(windowID WindowID) error {
	return windowError(b.conn.UnmapWindow(xproto.Window(windowID)))
}

// Show maps a window.
func (b *LinuxBackend) Show(windowID WindowID) error {
	return windowError(b.conn.MapWindow(xproto.Window(windowID)))
}

// RequestFocus asks the window manager to activate a window.
func (b *LinuxBackend) RequestFocus(windowID WindowID) error {
	return b.conn.FocusWindow(xproto.Window(windowID))
}

// ActiveWindow returns the currently active/focused window ID.
func (b *LinuxBackend) ActiveWindow() (WindowID, error) {
	wid, err := b.conn.GetActiveWindow()
	if err != nil {
		return NoWindow, err
	}
	return WindowID(wid), nil
}

// OwningProcess returns the pid advertised by a window. ok is false when the
// window does not advertise one.
func (b *LinuxBackend) OwningProcess(windowID WindowID) (ProcessID, bool, error) {
	pid, ok, err := b.conn.WindowPID(xproto.Window(windowID))
	if err != nil {
		return 0, false, fmt.Errorf("get _NET_WM_PID: %w", windowError(err))
	}
	if !ok || pid == 0 {
		return 0, false, nil
	}
	return ProcessID(pid), true, nil
}

// TopLevelWindows returns the window manager's client list.
func (b *LinuxBackend) TopLevelWindows() ([]WindowID, error) {
	clients, err := b.conn.ClientList()
	if err != nil {
		return nil, err
	}
	out := make([]WindowID, len(clients))
	for i, c := range clients {
		out[i] = WindowID(c)
	}
	return out, nil
}

// Subscribe asks for property, move/resize and destroy notifications on a
// window.
func (b *LinuxBackend) Subscribe(windowID WindowID) error {
	return windowError(b.conn.SelectInput(
		xproto.Window(windowID),
		xproto.EventMaskPropertyChange|xproto.EventMaskStructureNotify,
	))
}

// windowError marks BadWindow and BadDrawable failures with ErrWindowGone.
func windowError(err error) error {
	if err == nil {
		return nil
	}
	var badWindow xproto.WindowError
	var badDrawable xproto.DrawableError
	if errors.As(err, &badWindow) || errors.As(err, &badDrawable) {
		return fmt.Errorf("%w: %w", ErrWindowGone, err)
	}
	return err
}

type eventClassifier struct {
	root  xproto.Window
	atoms x11.Atoms
}

func (c eventClassifier) classify(ev xgb.Event, xerr xgb.Error) Event {
	if xerr != nil {
		return Event{Kind: EventProtocolError, Window: WindowID(xerr.BadId()), Err: xerr}
	}

	switch e := ev.(type) {
	case xproto.PropertyNotifyEvent:
		switch {
		case e.Window == c.root && e.Atom == c.atoms.ClientList:
			return Event{Kind: EventRootListChanged, Window: WindowID(e.Window)}
		case e.Window != c.root && e.Atom == c.atoms.WmDesktop:
			return Event{Kind: EventDesktopChanged, Window: WindowID(e.Window)}
		}
	case xproto.ConfigureNotifyEvent:
		return Event{Kind: EventGeometryChanged, Window: WindowID(e.Window)}
	case xproto.DestroyNotifyEvent:
		return Event{Kind: EventDestroyed, Window: WindowID(e.Window)}
	}
	return Event{Kind: EventOther}
}
