package platform

import (
	"errors"
	"fmt"
)

// WindowID is a platform-neutral window identifier.
type WindowID uint32

// NoWindow is the "none" window. It never names a real window.
const NoWindow WindowID = 0

func (w WindowID) String() string {
	return fmt.Sprintf("0x%x", uint32(w))
}

// ErrWindowGone marks a request that failed because its window was already
// destroyed.
var ErrWindowGone = errors.New("window no longer exists")

// ProcessID identifies an operating system process.
type ProcessID int32

// Geometry is a window's screen placement: offset relative to the root,
// pixel size and virtual desktop index.
type Geometry struct {
	X       int16
	Y       int16
	Width   uint16
	Height  uint16
	Desktop uint32
}

func (g Geometry) String() string {
	return fmt.Sprintf("%dx%d+%d,%d@%d", g.Width, g.Height, g.X, g.Y, g.Desktop)
}

// EventKind classifies a display server event for the dispatcher.
type EventKind int

const (
	EventOther EventKind = iota
	// EventRootListChanged: the root window's top-level client list changed.
	EventRootListChanged
	// EventDesktopChanged: a window's virtual desktop property changed.
	EventDesktopChanged
	// EventGeometryChanged: a window was moved or resized.
	EventGeometryChanged
	// EventDestroyed: a window was destroyed.
	EventDestroyed
	// EventProtocolError: an asynchronous protocol error arrived on the
	// event stream.
	EventProtocolError
)

func (k EventKind) String() string {
	switch k {
	case EventRootListChanged:
		return "root-list-changed"
	case EventDesktopChanged:
		return "desktop-changed"
	case EventGeometryChanged:
		return "geometry-changed"
	case EventDestroyed:
		return "destroyed"
	case EventProtocolError:
		return "protocol-error"
	default:
		return "other"
	}
}

// Event is a classified display server event.
type Event struct {
	Kind   EventKind
	Window WindowID
	// Err is set for EventProtocolError.
	Err error
}

// Backend abstracts the window-system operations the swallow daemon needs.
type Backend interface {
	Geometry(windowID WindowID) (Geometry, error)
	SetGeometry(windowID WindowID, g Geometry) error
	Hide(windowID WindowID) error
	Show(windowID WindowID) error
	RequestFocus(windowID WindowID) error
	ActiveWindow() (WindowID, error)
	OwningProcess(windowID WindowID) (ProcessID, bool, error)
	TopLevelWindows() ([]WindowID, error)
	Subscribe(windowID WindowID) error
	Events() <-chan Event
}
