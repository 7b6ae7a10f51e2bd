// Package swallow decides which new windows replace their terminal, and
// restores the terminal when the last of them closes.
package swallow

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"

	"github.com/1broseidon/termswallow/internal/idtable"
	"github.com/1broseidon/termswallow/internal/platform"
	"github.com/1broseidon/termswallow/internal/terminals"
)

// DefaultMaxDepth bounds the ancestor walk when the process tree is deeper
// than any real terminal session or loops.
const DefaultMaxDepth = 64

var (
	// ErrNoTerminalWindow means a terminal process matched but none of the
	// top-level windows belongs to it.
	ErrNoTerminalWindow = errors.New("no top-level window owned by terminal process")
	// ErrBrokenParent means a child record's parent handle did not resolve.
	ErrBrokenParent = errors.New("child record references a missing parent")
	// ErrUnknownParent is returned by Unswallow for a pid that is not
	// currently swallowing anything.
	ErrUnknownParent = errors.New("process is not swallowing any window")
)

// Windows is the window-system surface the manager drives.
type Windows interface {
	Geometry(windowID platform.WindowID) (platform.Geometry, error)
	SetGeometry(windowID platform.WindowID, g platform.Geometry) error
	Hide(windowID platform.WindowID) error
	Show(windowID platform.WindowID) error
	RequestFocus(windowID platform.WindowID) error
	ActiveWindow() (platform.WindowID, error)
	OwningProcess(windowID platform.WindowID) (platform.ProcessID, bool, error)
	Subscribe(windowID platform.WindowID) error
}

// Processes resolves process names and ancestry.
type Processes interface {
	Name(pid platform.ProcessID) (string, bool)
	Parent(pid platform.ProcessID) (platform.ProcessID, bool)
}

// Classifier sorts process names into terminals and immune processes.
type Classifier interface {
	Classify(name string) terminals.Class
}

// FocusPolicy controls whether a restored terminal is given focus.
type FocusPolicy string

const (
	// FocusAlways activates the terminal on every restore.
	FocusAlways FocusPolicy = "always"
	// FocusIfActive activates it only when the closing window held focus
	// (or nothing does), so a restore never steals focus from elsewhere.
	FocusIfActive FocusPolicy = "if-active"
)

// Outcome reports what Evaluate did with a window.
type Outcome int

const (
	// OutcomeUnattributed: the window has no owning process property.
	OutcomeUnattributed Outcome = iota
	// OutcomeTracked: the window is already swallowed.
	OutcomeTracked
	// OutcomeImmune: an immune process was found before any terminal.
	OutcomeImmune
	// OutcomeNoTerminal: the ancestry ended without a terminal.
	OutcomeNoTerminal
	// OutcomeSwallowed: the window now stands in for a terminal.
	OutcomeSwallowed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeUnattributed:
		return "unattributed"
	case OutcomeTracked:
		return "tracked"
	case OutcomeImmune:
		return "immune"
	case OutcomeNoTerminal:
		return "no-terminal"
	case OutcomeSwallowed:
		return "swallowed"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Parent is a hidden terminal window standing behind one or more swallowed
// windows.
type Parent struct {
	PID      platform.ProcessID
	Window   platform.WindowID
	Children uint32
	// Origin is the terminal's geometry when it was hidden.
	Origin platform.Geometry
}

// Child is a swallowed window. Parent is a handle into the parent registry,
// resolved on every use.
type Child struct {
	Parent platform.ProcessID
	PID    platform.ProcessID
	// Saved is the geometry the terminal takes back if this child is the
	// last one to close.
	Saved platform.Geometry
}

// Options configures a Manager.
type Options struct {
	Windows    Windows
	Processes  Processes
	Classifier Classifier
	Logger     *slog.Logger
	// MaxDepth caps the number of ancestors walked. Zero means
	// DefaultMaxDepth.
	MaxDepth    int
	FocusPolicy FocusPolicy
}

// Manager owns the parent and child registries.
type Manager struct {
	windows    Windows
	procs      Processes
	classifier Classifier
	logger     *slog.Logger
	maxDepth   int
	focus      FocusPolicy

	parents  idtable.Table[*Parent]
	children idtable.Table[*Child]
}

// NewManager creates a manager with empty registries.
func NewManager(opts Options) *Manager {
	m := &Manager{
		windows:    opts.Windows,
		procs:      opts.Processes,
		classifier: opts.Classifier,
		logger:     opts.Logger,
	}
	if m.logger == nil {
		m.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	m.SetPolicy(opts.MaxDepth, opts.FocusPolicy)
	return m
}

// SetPolicy updates the walk depth and focus policy. Registries are kept.
func (m *Manager) SetPolicy(maxDepth int, focus FocusPolicy) {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	if focus == "" {
		focus = FocusAlways
	}
	m.maxDepth = maxDepth
	m.focus = focus
}

// Evaluate decides whether the newly listed window win should swallow a
// terminal. topLevel is the authoritative top-level window list the window
// was found in; it is searched for the terminal's own window.
func (m *Manager) Evaluate(win platform.WindowID, topLevel []platform.WindowID) (Outcome, error) {
	if _, ok := m.children.Get(uint32(win)); ok {
		return OutcomeTracked, nil
	}

	pid, ok, err := m.windows.OwningProcess(win)
	if errors.Is(err, platform.ErrWindowGone) {
		m.logger.Debug("window vanished before evaluation", "window", win)
		return OutcomeUnattributed, nil
	}
	if err != nil {
		return 0, fmt.Errorf("owning process of window %s: %w", win, err)
	}
	if !ok {
		m.logger.Debug("window has no owning process", "window", win)
		return OutcomeUnattributed, nil
	}

	log := m.logger.With("window", win, "pid", pid)

	// The window's own process is ancestor 0. A terminal's own windows are
	// never swallowed into it, so any match there means immune.
	if name, ok := m.procs.Name(pid); ok {
		log = log.With("name", name)
		if m.classifier.Classify(name) != terminals.ClassNone {
			log.Debug("process is immune")
			return OutcomeImmune, nil
		}
	}
	log.Debug("new window")

	visited := map[platform.ProcessID]bool{pid: true}
	current := pid
	for depth := 1; ; depth++ {
		ppid, ok := m.procs.Parent(current)
		if !ok {
			return OutcomeNoTerminal, nil
		}
		if depth > m.maxDepth {
			log.Warn("ancestor walk exceeded depth limit", "limit", m.maxDepth, "at", ppid)
			return OutcomeNoTerminal, nil
		}
		if visited[ppid] {
			log.Warn("ancestor walk found a cycle", "at", ppid)
			return OutcomeNoTerminal, nil
		}
		visited[ppid] = true
		current = ppid

		name, ok := m.procs.Name(current)
		if !ok {
			continue
		}
		log.Debug("ancestor", "depth", depth, "ancestor_pid", current, "ancestor_name", name)
		switch m.classifier.Classify(name) {
		case terminals.ClassTerminal:
			if err := m.swallow(win, pid, current, topLevel); err != nil {
				return 0, err
			}
			return OutcomeSwallowed, nil
		case terminals.ClassImmune:
			log.Debug("immune ancestor", "ancestor_pid", current, "ancestor_name", name)
			return OutcomeImmune, nil
		}
	}
}

func (m *Manager) swallow(win platform.WindowID, pid, termPID platform.ProcessID, topLevel []platform.WindowID) error {
	parent, exists := m.parents.Get(uint32(termPID))

	var saved platform.Geometry
	if exists {
		g, err := m.windows.Geometry(win)
		if err != nil {
			return fmt.Errorf("geometry of window %s: %w", win, err)
		}
		saved = g
		parent.Children++
		m.logger.Info("swallowed into hidden terminal",
			"window", win, "terminal", parent.Window, "terminal_pid", termPID, "children", parent.Children)
	} else {
		termWin, err := m.findWindow(termPID, win, topLevel)
		if err != nil {
			return err
		}
		g, err := m.windows.Geometry(termWin)
		if err != nil {
			return fmt.Errorf("geometry of terminal window %s: %w", termWin, err)
		}
		if err := m.windows.Hide(termWin); err != nil {
			return fmt.Errorf("hide terminal window %s: %w", termWin, err)
		}
		if err := m.windows.SetGeometry(win, g); err != nil {
			return fmt.Errorf("place window %s at %s: %w", win, g, err)
		}
		saved = g
		parent = &Parent{PID: termPID, Window: termWin, Children: 1, Origin: g}
		m.parents.Put(uint32(termPID), parent)
		m.logger.Info("swallowed terminal",
			"window", win, "terminal", termWin, "terminal_pid", termPID, "geometry", g)
	}

	m.children.Put(uint32(win), &Child{Parent: termPID, PID: pid, Saved: saved})
	err := m.windows.Subscribe(win)
	if errors.Is(err, platform.ErrWindowGone) {
		// No destroy notification will arrive for it.
		m.logger.Info("swallowed window vanished", "window", win)
		_, err = m.Release(win)
		return err
	}
	if err != nil {
		return fmt.Errorf("subscribe to window %s: %w", win, err)
	}
	return nil
}

// findWindow returns the first top-level window owned by pid, skipping the
// window being swallowed.
func (m *Manager) findWindow(pid platform.ProcessID, skip platform.WindowID, topLevel []platform.WindowID) (platform.WindowID, error) {
	for _, w := range topLevel {
		if w == platform.NoWindow || w == skip {
			continue
		}
		owner, ok, err := m.windows.OwningProcess(w)
		if errors.Is(err, platform.ErrWindowGone) {
			continue
		}
		if err != nil {
			return platform.NoWindow, fmt.Errorf("owning process of window %s: %w", w, err)
		}
		if ok && owner == pid {
			return w, nil
		}
	}
	return platform.NoWindow, fmt.Errorf("%w: pid %d", ErrNoTerminalWindow, pid)
}

// Track refreshes the saved geometry of a swallowed window. Untracked
// windows are ignored.
func (m *Manager) Track(win platform.WindowID) error {
	child, ok := m.children.Get(uint32(win))
	if !ok {
		return nil
	}
	g, err := m.windows.Geometry(win)
	if errors.Is(err, platform.ErrWindowGone) {
		// Its destroy notification is still queued.
		return nil
	}
	if err != nil {
		return fmt.Errorf("geometry of window %s: %w", win, err)
	}
	if g != child.Saved {
		m.logger.Debug("tracked geometry", "window", win, "geometry", g)
	}
	child.Saved = g
	return nil
}

// Release forgets a destroyed swallowed window. When it was the last child
// of its terminal, the terminal is focused, shown and moved to the window's
// last geometry; restored reports that case. Untracked windows are ignored.
func (m *Manager) Release(win platform.WindowID) (restored bool, err error) {
	child, ok := m.children.Delete(uint32(win))
	if !ok {
		return false, nil
	}
	parent, ok := m.parents.Get(uint32(child.Parent))
	if !ok || parent.Children == 0 {
		return false, fmt.Errorf("%w: window %s, parent pid %d", ErrBrokenParent, win, child.Parent)
	}

	parent.Children--
	m.logger.Info("swallowed window closed",
		"window", win, "terminal", parent.Window, "remaining", parent.Children)
	if parent.Children > 0 {
		return false, nil
	}

	err = m.bringBack(parent, child.Saved, m.shouldFocus(win))
	m.parents.Delete(uint32(parent.PID))
	if errors.Is(err, platform.ErrWindowGone) {
		m.logger.Warn("hidden terminal window is gone", "terminal", parent.Window, "terminal_pid", parent.PID)
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// bringBack focuses (when asked), shows and places a hidden terminal.
func (m *Manager) bringBack(parent *Parent, g platform.Geometry, focus bool) error {
	if focus {
		if err := m.windows.RequestFocus(parent.Window); err != nil {
			return fmt.Errorf("focus terminal window %s: %w", parent.Window, err)
		}
	}
	return m.restore(parent, g)
}

func (m *Manager) shouldFocus(closing platform.WindowID) bool {
	if m.focus != FocusIfActive {
		return true
	}
	active, err := m.windows.ActiveWindow()
	if err != nil {
		m.logger.Debug("active window unknown", "error", err)
		return true
	}
	return active == closing || active == platform.NoWindow
}

func (m *Manager) restore(parent *Parent, g platform.Geometry) error {
	if err := m.windows.Show(parent.Window); err != nil {
		return fmt.Errorf("show terminal window %s: %w", parent.Window, err)
	}
	if err := m.windows.SetGeometry(parent.Window, g); err != nil {
		return fmt.Errorf("place terminal window %s at %s: %w", parent.Window, g, err)
	}
	m.logger.Info("restored terminal", "terminal", parent.Window, "terminal_pid", parent.PID, "geometry", g)
	return nil
}

// Unswallow restores the terminal of pid at its original geometry and drops
// all of its children, leaving the swallowed windows where they are.
func (m *Manager) Unswallow(pid platform.ProcessID) error {
	parent, ok := m.parents.Get(uint32(pid))
	if !ok {
		return fmt.Errorf("%w: pid %d", ErrUnknownParent, pid)
	}

	var orphans []uint32
	m.children.Range(func(key uint32, child *Child) bool {
		if child.Parent == pid {
			orphans = append(orphans, key)
		}
		return true
	})
	for _, key := range orphans {
		m.children.Delete(key)
	}
	parent.Children = 0

	err := m.bringBack(parent, parent.Origin, true)
	m.parents.Delete(uint32(pid))
	if errors.Is(err, platform.ErrWindowGone) {
		m.logger.Warn("hidden terminal window is gone", "terminal", parent.Window, "terminal_pid", pid)
		return nil
	}
	return err
}

// RestoreAll shows every hidden terminal at its original geometry and
// empties both registries. It keeps going past failures and returns them
// joined.
func (m *Manager) RestoreAll() error {
	var errs []error
	m.parents.Range(func(_ uint32, parent *Parent) bool {
		err := m.restore(parent, parent.Origin)
		switch {
		case errors.Is(err, platform.ErrWindowGone):
			m.logger.Warn("hidden terminal window is gone", "terminal", parent.Window, "terminal_pid", parent.PID)
		case err != nil:
			errs = append(errs, err)
		}
		return true
	})
	m.parents = idtable.Table[*Parent]{}
	m.children = idtable.Table[*Child]{}
	return errors.Join(errs...)
}

// ParentInfo describes a hidden terminal.
type ParentInfo struct {
	PID      platform.ProcessID
	Window   platform.WindowID
	Children []ChildInfo
	Origin   platform.Geometry
}

// ChildInfo describes a swallowed window.
type ChildInfo struct {
	Window platform.WindowID
	PID    platform.ProcessID
	Parent platform.ProcessID
	Saved  platform.Geometry
}

// Parents returns the hidden terminals ordered by pid, each with its
// swallowed windows ordered by window id.
func (m *Manager) Parents() []ParentInfo {
	byPID := map[platform.ProcessID]*ParentInfo{}
	m.parents.Range(func(_ uint32, p *Parent) bool {
		byPID[p.PID] = &ParentInfo{PID: p.PID, Window: p.Window, Origin: p.Origin}
		return true
	})
	m.children.Range(func(key uint32, c *Child) bool {
		if info, ok := byPID[c.Parent]; ok {
			info.Children = append(info.Children, childInfo(key, c))
		}
		return true
	})

	out := make([]ParentInfo, 0, len(byPID))
	for _, info := range byPID {
		sort.Slice(info.Children, func(i, j int) bool {
			return info.Children[i].Window < info.Children[j].Window
		})
		out = append(out, *info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PID < out[j].PID })
	return out
}

// Children returns every swallowed window ordered by window id.
func (m *Manager) Children() []ChildInfo {
	out := make([]ChildInfo, 0, m.children.Len())
	m.children.Range(func(key uint32, c *Child) bool {
		out = append(out, childInfo(key, c))
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Window < out[j].Window })
	return out
}

func childInfo(key uint32, c *Child) ChildInfo {
	return ChildInfo{
		Window: platform.WindowID(key),
		PID:    c.PID,
		Parent: c.Parent,
		Saved:  c.Saved,
	}
}

// Counts returns the number of hidden terminals and swallowed windows.
func (m *Manager) Counts() (parents, children int) {
	return m.parents.Len(), m.children.Len()
}

// CheckInvariants verifies that every child resolves to a parent and that
// every parent's count matches its children.
func (m *Manager) CheckInvariants() error {
	tally := map[platform.ProcessID]uint32{}
	var errs []error
	m.children.Range(func(key uint32, c *Child) bool {
		if _, ok := m.parents.Get(uint32(c.Parent)); !ok {
			errs = append(errs, fmt.Errorf("%w: window %s, parent pid %d", ErrBrokenParent, platform.WindowID(key), c.Parent))
		}
		tally[c.Parent]++
		return true
	})
	m.parents.Range(func(key uint32, p *Parent) bool {
		if platform.ProcessID(key) != p.PID {
			errs = append(errs, fmt.Errorf("parent pid %d stored under key %d", p.PID, key))
		}
		if p.Children == 0 {
			errs = append(errs, fmt.Errorf("parent pid %d has no children", p.PID))
		}
		if p.Children != tally[p.PID] {
			errs = append(errs, fmt.Errorf("parent pid %d counts %d children, %d reference it", p.PID, p.Children, tally[p.PID]))
		}
		return true
	})
	return errors.Join(errs...)
}
