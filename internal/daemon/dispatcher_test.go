package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/1broseidon/termswallow/internal/config"
	"github.com/1broseidon/termswallow/internal/ipc"
	"github.com/1broseidon/termswallow/internal/platform"
	"github.com/1broseidon/termswallow/internal/swallow"
	"github.com/1broseidon/termswallow/internal/terminals"
)

// fakeDisplay is shared by the test goroutine and the dispatcher loop.
type fakeDisplay struct {
	mu       sync.Mutex
	list     []platform.WindowID
	geometry map[platform.WindowID]platform.Geometry
	owner    map[platform.WindowID]platform.ProcessID
	hidden   map[platform.WindowID]bool
	broken   map[platform.WindowID]bool
	showErr  error
	events   chan platform.Event
}

func newFakeDisplay() *fakeDisplay {
	return &fakeDisplay{
		geometry: map[platform.WindowID]platform.Geometry{},
		owner:    map[platform.WindowID]platform.ProcessID{},
		hidden:   map[platform.WindowID]bool{},
		broken:   map[platform.WindowID]bool{},
		events:   make(chan platform.Event),
	}
}

func (f *fakeDisplay) open(w platform.WindowID, pid platform.ProcessID, g platform.Geometry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.geometry[w] = g
	f.owner[w] = pid
	f.list = append(f.list, w)
}

// close destroys w.
func (f *fakeDisplay) close(w platform.WindowID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.geometry, w)
	delete(f.owner, w)
	for i, x := range f.list {
		if x == w {
			f.list = append(f.list[:i], f.list[i+1:]...)
			break
		}
	}
}

func (f *fakeDisplay) update(fn func(f *fakeDisplay)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *fakeDisplay) isHidden(w platform.WindowID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hidden[w]
}

func (f *fakeDisplay) geometryOf(w platform.WindowID) platform.Geometry {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.geometry[w]
}

func gone(w platform.WindowID) error {
	return fmt.Errorf("%w: BadWindow %s", platform.ErrWindowGone, w)
}

func (f *fakeDisplay) Geometry(w platform.WindowID) (platform.Geometry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.broken[w] {
		return platform.Geometry{}, fmt.Errorf("BadAlloc %s", w)
	}
	g, ok := f.geometry[w]
	if !ok {
		return platform.Geometry{}, gone(w)
	}
	return g, nil
}

func (f *fakeDisplay) SetGeometry(w platform.WindowID, g platform.Geometry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.geometry[w]; !ok {
		return gone(w)
	}
	f.geometry[w] = g
	return nil
}

func (f *fakeDisplay) Hide(w platform.WindowID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hidden[w] = true
	return nil
}

func (f *fakeDisplay) Show(w platform.WindowID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.showErr != nil {
		return f.showErr
	}
	if _, ok := f.geometry[w]; !ok {
		return gone(w)
	}
	delete(f.hidden, w)
	return nil
}

func (f *fakeDisplay) RequestFocus(platform.WindowID) error { return nil }

func (f *fakeDisplay) ActiveWindow() (platform.WindowID, error) { return platform.NoWindow, nil }

func (f *fakeDisplay) OwningProcess(w platform.WindowID) (platform.ProcessID, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pid, ok := f.owner[w]
	return pid, ok, nil
}

func (f *fakeDisplay) Subscribe(platform.WindowID) error { return nil }

func (f *fakeDisplay) TopLevelWindows() ([]platform.WindowID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]platform.WindowID(nil), f.list...), nil
}

func (f *fakeDisplay) Events() <-chan platform.Event { return f.events }

type fakeProcs map[platform.ProcessID]struct {
	name   string
	parent platform.ProcessID
}

func (p fakeProcs) Name(pid platform.ProcessID) (string, bool) {
	e, ok := p[pid]
	return e.name, ok
}

func (p fakeProcs) Parent(pid platform.ProcessID) (platform.ProcessID, bool) {
	e, ok := p[pid]
	return e.parent, ok && e.parent != 0
}

const (
	termWin  platform.WindowID = 0x1400002
	viewer   platform.WindowID = 0x2000001
	startWin platform.WindowID = 0x1800001
)

var termGeom = platform.Geometry{X: 10, Y: 10, Width: 800, Height: 600}

type harness struct {
	t        *testing.T
	display  *fakeDisplay
	detector *terminals.Detector
	d        *Dispatcher
	cancel   context.CancelFunc
	result   chan error
}

type harnessOptions struct {
	settings *config.Config
	load     func() (*config.LoadResult, error)
	onReload func(*config.LoadResult)
}

// newHarness starts a dispatcher over a display showing the alacritty
// terminal and a feh window that was open before the daemon started. It
// returns once the initial window list has been read.
func newHarness(t *testing.T, opts harnessOptions) *harness {
	t.Helper()
	display := newFakeDisplay()
	procs := fakeProcs{
		100: {"alacritty", 1},
		101: {"zsh", 100},
		200: {"zathura", 101},
		300: {"st", 1},
		301: {"sh", 300},
		302: {"feh", 301},
	}
	display.open(termWin, 100, termGeom)
	display.open(startWin, 302, platform.Geometry{Width: 50, Height: 50})

	detector := terminals.NewDetector([]string{"alacritty"}, []string{"mpv"})
	manager := swallow.NewManager(swallow.Options{
		Windows:    display,
		Processes:  procs,
		Classifier: detector,
	})
	if opts.settings == nil {
		opts.settings = config.DefaultConfig()
	}
	d := NewDispatcher(Config{
		Source:        display,
		Manager:       manager,
		Detector:      detector,
		Names:         procs,
		Settings:      opts.settings,
		LoadConfig:    opts.load,
		OnReload:      opts.onReload,
		CheckInterval: -1,
	})

	ctx, cancel := context.WithCancel(context.Background())
	h := &harness{t: t, display: display, detector: detector, d: d, cancel: cancel, result: make(chan error, 1)}
	go func() { h.result <- d.Run(ctx) }()
	t.Cleanup(cancel)
	h.sync()
	return h
}

// post hands ev to the loop without waiting for it to be handled.
func (h *harness) post(ev platform.Event) {
	h.t.Helper()
	select {
	case h.display.events <- ev:
	case err := <-h.result:
		h.t.Fatalf("dispatcher exited: %v", err)
	case <-time.After(2 * time.Second):
		h.t.Fatal("dispatcher did not take the event")
	}
}

// send delivers ev and waits until it has been handled.
func (h *harness) send(ev platform.Event) ipc.StatusData {
	h.t.Helper()
	h.post(ev)
	return h.sync()
}

func (h *harness) request(cmd ipc.CommandType, payload any) *ipc.Response {
	h.t.Helper()
	req := &ipc.Request{Command: cmd}
	if payload != nil {
		data, err := json.Marshal(payload)
		require.NoError(h.t, err)
		req.Payload = data
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return h.d.HandleRequest(ctx, req)
}

// sync waits until everything handed to the loop so far has been handled.
func (h *harness) sync() ipc.StatusData {
	h.t.Helper()
	resp := h.request(ipc.CommandStatus, nil)
	require.Equal(h.t, "OK", resp.Status, resp.Error)
	var status ipc.StatusData
	require.NoError(h.t, json.Unmarshal(resp.Data, &status))
	return status
}

// exit waits for Run to return.
func (h *harness) exit() error {
	h.t.Helper()
	select {
	case err := <-h.result:
		return err
	case <-time.After(2 * time.Second):
		h.t.Fatal("dispatcher did not stop")
		return nil
	}
}

func (h *harness) stop() error {
	h.t.Helper()
	h.cancel()
	return h.exit()
}

func (h *harness) swallowViewer() {
	h.t.Helper()
	h.display.open(viewer, 200, platform.Geometry{Width: 300, Height: 300})
	status := h.send(platform.Event{Kind: platform.EventRootListChanged})
	require.Equal(h.t, 1, status.HiddenCount)
	require.Equal(h.t, 1, status.SwallowedCount)
}

func TestDispatcher_SwallowAndRestore(t *testing.T) {
	h := newHarness(t, harnessOptions{})

	h.swallowViewer()
	require.True(t, h.display.isHidden(termWin))
	require.Equal(t, termGeom, h.display.geometryOf(viewer))

	moved := platform.Geometry{X: 400, Y: 0, Width: 640, Height: 480, Desktop: 1}
	h.display.update(func(f *fakeDisplay) { f.geometry[viewer] = moved })
	h.send(platform.Event{Kind: platform.EventGeometryChanged, Window: viewer})

	h.display.close(viewer)
	status := h.send(platform.Event{Kind: platform.EventDestroyed, Window: viewer})
	require.Zero(t, status.HiddenCount)
	require.False(t, h.display.isHidden(termWin))
	require.Equal(t, moved, h.display.geometryOf(termWin))

	require.NoError(t, h.stop())
}

func TestDispatcher_WindowsOpenAtStartupAreNotSwallowed(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.display.update(func(f *fakeDisplay) { f.owner[startWin] = 200 })

	status := h.send(platform.Event{Kind: platform.EventRootListChanged})
	require.Zero(t, status.SwallowedCount)
	require.False(t, h.display.isHidden(termWin))
}

func TestDispatcher_IgnoresUntrackedAndProtocolErrors(t *testing.T) {
	h := newHarness(t, harnessOptions{})

	h.send(platform.Event{Kind: platform.EventProtocolError, Window: 0xdead, Err: errors.New("BadWindow")})
	h.send(platform.Event{Kind: platform.EventDestroyed, Window: 0xbeef})
	h.send(platform.Event{Kind: platform.EventGeometryChanged, Window: 0xbeef})
	h.send(platform.Event{Kind: platform.EventOther})
	// Unchanged list: nothing new to evaluate.
	status := h.send(platform.Event{Kind: platform.EventRootListChanged})

	require.Zero(t, status.SwallowedCount)
	require.False(t, h.display.isHidden(termWin))
}

func TestDispatcher_RequestFailureIsFatal(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.swallowViewer()

	h.display.update(func(f *fakeDisplay) { f.broken[viewer] = true })
	h.post(platform.Event{Kind: platform.EventDesktopChanged, Window: viewer})

	err := h.exit()
	require.ErrorContains(t, err, "track window 0x2000001")
	require.NotErrorIs(t, err, platform.ErrWindowGone)

	resp := h.request(ipc.CommandStatus, nil)
	require.Equal(t, "ERROR", resp.Status)
	require.True(t, h.display.isHidden(termWin), "fatal errors leave the display alone")
}

func TestDispatcher_HiddenTerminalKilled(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.swallowViewer()

	// The terminal dies while hidden; the child it spawned lives on.
	h.display.close(termWin)
	h.display.update(func(f *fakeDisplay) { f.geometry[viewer] = platform.Geometry{Width: 1, Height: 1} })
	h.send(platform.Event{Kind: platform.EventGeometryChanged, Window: viewer})

	h.display.close(viewer)
	status := h.send(platform.Event{Kind: platform.EventDestroyed, Window: viewer})
	require.Zero(t, status.HiddenCount)
	require.Zero(t, status.SwallowedCount)

	require.NoError(t, h.stop())
}

func TestDispatcher_RestoreOnExit(t *testing.T) {
	for _, restore := range []bool{true, false} {
		t.Run(fmt.Sprintf("restore=%v", restore), func(t *testing.T) {
			settings := config.DefaultConfig()
			settings.RestoreOnExit = restore
			h := newHarness(t, harnessOptions{settings: settings})

			h.swallowViewer()
			require.True(t, h.display.isHidden(termWin))

			require.NoError(t, h.stop())
			require.Equal(t, !restore, h.display.isHidden(termWin))
		})
	}
}

func TestDispatcher_RestoreOnExitFailure(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.swallowViewer()

	h.display.update(func(f *fakeDisplay) { f.showErr = errors.New("BadAccess") })
	err := h.stop()
	require.ErrorContains(t, err, "restore terminals on exit")
	require.ErrorContains(t, err, "BadAccess")
}

func TestDispatcher_EventsClosed(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	close(h.display.events)

	require.ErrorIs(t, h.exit(), ErrEventsClosed)
}

func TestDispatcher_ListAndUnswallow(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.swallowViewer()

	resp := h.request(ipc.CommandList, nil)
	require.Equal(t, "OK", resp.Status)
	var list ipc.ListData
	require.NoError(t, json.Unmarshal(resp.Data, &list))
	require.Len(t, list.Parents, 1)
	require.Equal(t, int32(100), list.Parents[0].PID)
	require.Equal(t, "alacritty", list.Parents[0].Name)
	require.Equal(t, uint32(termWin), list.Parents[0].Window)
	require.Equal(t, []ipc.ChildInfo{{
		Window: uint32(viewer),
		PID:    200,
		Saved:  ipc.GeometryInfo{X: 10, Y: 10, Width: 800, Height: 600},
	}}, list.Parents[0].Children)

	resp = h.request(ipc.CommandUnswallow, ipc.UnswallowPayload{PID: 999})
	require.Equal(t, "ERROR", resp.Status)
	require.Contains(t, resp.Error, "not swallowing")

	resp = h.request(ipc.CommandUnswallow, ipc.UnswallowPayload{PID: 100})
	require.Equal(t, "OK", resp.Status, resp.Error)
	require.False(t, h.display.isHidden(termWin))
	require.Zero(t, h.sync().SwallowedCount)

	resp = h.request("BOGUS", nil)
	require.Equal(t, "ERROR", resp.Status)
}

func TestDispatcher_Reload(t *testing.T) {
	next := config.DefaultConfig()
	next.Terminals = []string{"st"}
	next.FocusPolicy = config.FocusIfActive
	files := []string{"/cfg/config.yaml", "/cfg/conf.d/terminals.yaml"}
	var reloaded []string
	h := newHarness(t, harnessOptions{
		load: func() (*config.LoadResult, error) {
			return &config.LoadResult{Config: next, Files: files}, nil
		},
		onReload: func(res *config.LoadResult) { reloaded = res.Files },
	})

	resp := h.request(ipc.CommandReload, nil)
	require.Equal(t, "OK", resp.Status, resp.Error)
	var data ipc.ReloadData
	require.NoError(t, json.Unmarshal(resp.Data, &data))
	require.Equal(t, files, data.Files)
	require.Equal(t, files, reloaded)
	require.Equal(t, terminals.ClassTerminal, h.detector.Classify("st"))
	require.Equal(t, terminals.ClassNone, h.detector.Classify("alacritty"))
	require.Equal(t, config.FocusIfActive, h.sync().FocusPolicy)

	// feh under st now swallows st; the zathura window no longer matches.
	h.display.update(func(f *fakeDisplay) { f.owner[startWin] = 300 })
	h.display.open(0x3000001, 302, platform.Geometry{Width: 1, Height: 1})
	h.display.open(viewer, 200, platform.Geometry{Width: 1, Height: 1})
	status := h.send(platform.Event{Kind: platform.EventRootListChanged})
	require.Equal(t, 1, status.HiddenCount)
	require.True(t, h.display.isHidden(startWin))
	require.False(t, h.display.isHidden(termWin))
}

func TestDispatcher_ReloadFailureKeepsSettings(t *testing.T) {
	h := newHarness(t, harnessOptions{
		load: func() (*config.LoadResult, error) {
			return nil, errors.New("boom")
		},
	})

	resp := h.request(ipc.CommandReload, nil)
	require.Equal(t, "ERROR", resp.Status)
	require.Contains(t, resp.Error, "boom")

	h.d.Reload()
	h.d.Reload()
	h.sync()
	require.Equal(t, terminals.ClassTerminal, h.detector.Classify("alacritty"))
	require.Equal(t, config.FocusAlways, h.sync().FocusPolicy)
}
