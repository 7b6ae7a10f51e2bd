package x11

import (
	"fmt"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/BurntSushi/xgbutil/ewmh"
)

// allLongs asks the server for the whole property value.
const allLongs = 0xFFFFFFFF

// Frame is a window's position relative to the root and its size.
type Frame struct {
	X, Y          int16
	Width, Height uint16
}

// WindowFrame returns where a window sits on the root. The translated origin
// is corrected by the window's offset inside its parent so that a reparenting
// window manager's frame is not counted twice when the frame is applied back.
func (c *Connection) WindowFrame(windowID xproto.Window) (Frame, error) {
	geom, err := xproto.GetGeometry(c.XUtil.Conn(), xproto.Drawable(windowID)).Reply()
	if err != nil {
		return Frame{}, fmt.Errorf("get geometry: %w", err)
	}

	translate, err := xproto.TranslateCoordinates(
		c.XUtil.Conn(),
		windowID,
		c.Root,
		0, 0,
	).Reply()
	if err != nil {
		return Frame{}, fmt.Errorf("translate coordinates: %w", err)
	}

	return Frame{
		X:      translate.DstX - geom.X,
		Y:      translate.DstY - geom.Y,
		Width:  geom.Width,
		Height: geom.Height,
	}, nil
}

// MoveResizeWindow configures a window's position and size.
func (c *Connection) MoveResizeWindow(windowID xproto.Window, f Frame) error {
	return xproto.ConfigureWindowChecked(
		c.XUtil.Conn(),
		windowID,
		xproto.ConfigWindowX|xproto.ConfigWindowY|xproto.ConfigWindowWidth|xproto.ConfigWindowHeight,
		[]uint32{
			uint32(int32(f.X)),
			uint32(int32(f.Y)),
			uint32(f.Width),
			uint32(f.Height),
		},
	).Check()
}

// UnmapWindow hides a window.
func (c *Connection) UnmapWindow(windowID xproto.Window) error {
	return xproto.UnmapWindowChecked(c.XUtil.Conn(), windowID).Check()
}

// MapWindow shows a window.
func (c *Connection) MapWindow(windowID xproto.Window) error {
	return xproto.MapWindowChecked(c.XUtil.Conn(), windowID).Check()
}

// WindowPID returns the _NET_WM_PID of a window. ok is false when the
// window does not carry the property.
func (c *Connection) WindowPID(windowID xproto.Window) (pid uint32, ok bool, err error) {
	return c.cardinal(windowID, c.Atoms.WmPid)
}

// ClientList returns _NET_CLIENT_LIST in the window manager's order. A root
// window without the property has no clients.
func (c *Connection) ClientList() ([]xproto.Window, error) {
	reply, err := xproto.GetProperty(
		c.XUtil.Conn(), false, c.Root,
		c.Atoms.ClientList, xproto.AtomWindow, 0, allLongs,
	).Reply()
	if err != nil {
		return nil, fmt.Errorf("get _NET_CLIENT_LIST: %w", err)
	}
	if reply.Format != 32 {
		return nil, nil
	}

	windows := make([]xproto.Window, 0, reply.ValueLen)
	for i := 0; i+4 <= len(reply.Value); i += 4 {
		windows = append(windows, xproto.Window(xgb.Get32(reply.Value[i:])))
	}
	return windows, nil
}

// GetActiveWindow returns _NET_ACTIVE_WINDOW.
func (c *Connection) GetActiveWindow() (xproto.Window, error) {
	return ewmh.ActiveWindowGet(c.XUtil)
}

// cardinal reads the first CARDINAL of a property.
func (c *Connection) cardinal(windowID xproto.Window, atom xproto.Atom) (uint32, bool, error) {
	reply, err := xproto.GetProperty(
		c.XUtil.Conn(), false, windowID,
		atom, xproto.AtomCardinal, 0, 1,
	).Reply()
	if err != nil {
		return 0, false, err
	}
	if reply.Format != 32 || len(reply.Value) < 4 {
		return 0, false, nil
	}
	return xgb.Get32(reply.Value), true, nil
}
