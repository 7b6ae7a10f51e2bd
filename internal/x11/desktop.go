package x11

import (
	"fmt"

	"github.com/BurntSushi/xgb/xproto"
)

// sourceIndication marks client messages as coming from a pager, which
// window managers honor without focus-stealing checks.
const sourceIndication = 2

// GetWindowDesktop returns the desktop number a window is on from
// _NET_WM_DESKTOP. A window without the property is on desktop 0.
func (c *Connection) GetWindowDesktop(windowID xproto.Window) (uint32, error) {
	desktop, _, err := c.cardinal(windowID, c.Atoms.WmDesktop)
	if err != nil {
		return 0, fmt.Errorf("get _NET_WM_DESKTOP: %w", err)
	}
	return desktop, nil
}

// SetWindowDesktop moves a window to the specified virtual desktop.
// Sends a _NET_WM_DESKTOP client message to the root window per EWMH spec.
// We build the message manually because the xgbutil ewmh.WmDesktopReq
// helper panics on this library version (uint vs int type assertion).
func (c *Connection) SetWindowDesktop(windowID xproto.Window, desktop uint32) error {
	return c.sendRootMessage(windowID, c.Atoms.WmDesktop, []uint32{desktop, sourceIndication, 0, 0, 0})
}

// FocusWindow activates and raises a window using _NET_ACTIVE_WINDOW.
// Sends a client message to the root window per EWMH spec.
func (c *Connection) FocusWindow(windowID xproto.Window) error {
	return c.sendRootMessage(windowID, c.Atoms.ActiveWindow, []uint32{sourceIndication, 0, 0, 0, 0})
}

func (c *Connection) sendRootMessage(windowID xproto.Window, atom xproto.Atom, data []uint32) error {
	ev := xproto.ClientMessageEvent{
		Format: 32,
		Window: windowID,
		Type:   atom,
		Data:   xproto.ClientMessageDataUnionData32New(data),
	}

	return xproto.SendEventChecked(
		c.XUtil.Conn(),
		false,
		c.Root,
		xproto.EventMaskSubstructureRedirect|xproto.EventMaskSubstructureNotify,
		string(ev.Bytes()),
	).Check()
}
