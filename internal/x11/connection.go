package x11

import (
	"fmt"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/BurntSushi/xgbutil"
	"github.com/BurntSushi/xgbutil/xprop"
)

// Atoms holds the interned EWMH atoms the swallow daemon reads and sends.
type Atoms struct {
	ClientList   xproto.Atom
	WmDesktop    xproto.Atom
	WmPid        xproto.Atom
	ActiveWindow xproto.Atom
}

// Connection manages the X11 connection and core X resources
type Connection struct {
	XUtil *xgbutil.XUtil
	Root  xproto.Window
	Atoms Atoms
}

// NewConnection connects to display (empty means $DISPLAY), interns the
// EWMH atoms and starts listening for property changes on the root window.
func NewConnection(display string) (*Connection, error) {
	xu, err := xgbutil.NewConnDisplay(display)
	if err != nil {
		return nil, err
	}

	c := &Connection{
		XUtil: xu,
		Root:  xu.RootWin(),
	}
	if err := c.internAtoms(); err != nil {
		c.Close()
		return nil, err
	}
	if err := c.SelectInput(c.Root, xproto.EventMaskPropertyChange); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to select root window events: %w", err)
	}
	return c, nil
}

func (c *Connection) internAtoms() error {
	for _, a := range []struct {
		name string
		dst  *xproto.Atom
	}{
		{"_NET_CLIENT_LIST", &c.Atoms.ClientList},
		{"_NET_WM_DESKTOP", &c.Atoms.WmDesktop},
		{"_NET_WM_PID", &c.Atoms.WmPid},
		{"_NET_ACTIVE_WINDOW", &c.Atoms.ActiveWindow},
	} {
		atom, err := xprop.Atm(c.XUtil, a.name)
		if err != nil {
			return fmt.Errorf("failed to intern %s: %w", a.name, err)
		}
		*a.dst = atom
	}
	return nil
}

// SelectInput replaces the event mask this client holds on a window.
func (c *Connection) SelectInput(windowID xproto.Window, mask uint32) error {
	return xproto.ChangeWindowAttributesChecked(
		c.XUtil.Conn(),
		windowID,
		xproto.CwEventMask,
		[]uint32{mask},
	).Check()
}

// WaitForEvent blocks for the next event or asynchronous error. Both are nil
// once the connection is closed.
func (c *Connection) WaitForEvent() (xgb.Event, xgb.Error) {
	return c.XUtil.Conn().WaitForEvent()
}

// Close cleanly disconnects from the X11 server
func (c *Connection) Close() {
	c.XUtil.Conn().Close()
}
