package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/1broseidon/termswallow/internal/config"
	"github.com/1broseidon/termswallow/internal/ipc"
	"github.com/1broseidon/termswallow/internal/platform"
	"github.com/1broseidon/termswallow/internal/snapshot"
	"github.com/1broseidon/termswallow/internal/swallow"
	"github.com/1broseidon/termswallow/internal/terminals"
)

// ErrEventsClosed means the display connection went away.
var ErrEventsClosed = errors.New("display event stream closed")

// DefaultCheckInterval is how often the registries are checked for
// consistency between events.
const DefaultCheckInterval = 30 * time.Second

// Source is the display side of the dispatcher.
type Source interface {
	swallow.Windows
	TopLevelWindows() ([]platform.WindowID, error)
	Events() <-chan platform.Event
}

// Names looks up process names for LIST output.
type Names interface {
	Name(pid platform.ProcessID) (string, bool)
}

// Config holds the dispatcher's collaborators.
type Config struct {
	Source   Source
	Manager  *swallow.Manager
	Detector *terminals.Detector
	Names    Names
	Logger   *slog.Logger
	// Settings is the configuration the daemon started with.
	Settings *config.Config
	// LoadConfig reads a fresh configuration for reloads. Nil disables
	// reloading.
	LoadConfig func() (*config.LoadResult, error)
	// OnReload runs on the loop after a reload is applied.
	OnReload func(*config.LoadResult)
	// CheckInterval between registry consistency checks. Zero uses
	// DefaultCheckInterval; negative disables them.
	CheckInterval time.Duration
}

type call struct {
	req   *ipc.Request
	reply chan *ipc.Response
}

// Dispatcher owns the window snapshot and the swallow registries. All of
// its state is touched only from the goroutine running Run.
type Dispatcher struct {
	source   Source
	manager  *swallow.Manager
	detector *terminals.Detector
	names    Names
	logger   *slog.Logger

	settings   *config.Config
	loadConfig func() (*config.LoadResult, error)
	onReload   func(*config.LoadResult)
	interval   time.Duration

	differ  *snapshot.Differ
	started time.Time

	requests chan call
	reloads  chan struct{}
	done     chan struct{}
}

// NewDispatcher creates a dispatcher. Call Run to start it.
func NewDispatcher(cfg Config) *Dispatcher {
	d := &Dispatcher{
		source:     cfg.Source,
		manager:    cfg.Manager,
		detector:   cfg.Detector,
		names:      cfg.Names,
		logger:     cfg.Logger,
		settings:   cfg.Settings,
		loadConfig: cfg.LoadConfig,
		onReload:   cfg.OnReload,
		interval:   cfg.CheckInterval,
		requests:   make(chan call),
		reloads:    make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
	if d.logger == nil {
		d.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if d.settings == nil {
		d.settings = config.DefaultConfig()
	}
	if d.interval == 0 {
		d.interval = DefaultCheckInterval
	}
	return d
}

// Run processes display events, IPC requests and reloads until ctx is
// cancelled or a handler fails. On cancellation hidden terminals are
// restored when restore_on_exit is set; Run returns nil unless that restore
// failed. A handler failure is returned as is; the registries are left
// untouched.
func (d *Dispatcher) Run(ctx context.Context) error {
	defer close(d.done)

	initial, err := d.source.TopLevelWindows()
	if err != nil {
		return fmt.Errorf("read top-level window list: %w", err)
	}
	d.differ = snapshot.New(initial)
	d.started = time.Now()
	d.logger.Info("dispatcher started", "windows", len(initial))

	var tick <-chan time.Time
	if d.interval > 0 {
		ticker := time.NewTicker(d.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	events := d.source.Events()
	for {
		select {
		case <-ctx.Done():
			return d.shutdown()

		case ev, ok := <-events:
			if !ok {
				// The pump also stops on cancellation.
				if ctx.Err() != nil {
					return d.shutdown()
				}
				return ErrEventsClosed
			}
			if err := d.handleEvent(ev); err != nil {
				return err
			}

		case c := <-d.requests:
			resp, err := d.handleRequest(c.req)
			c.reply <- resp
			if err != nil {
				return err
			}

		case <-d.reloads:
			if _, err := d.reload(); err != nil {
				d.logger.Error("config reload failed, keeping previous settings", "error", err)
			}

		case <-tick:
			if err := d.manager.CheckInvariants(); err != nil {
				return fmt.Errorf("registry check: %w", err)
			}
		}
	}
}

func (d *Dispatcher) shutdown() error {
	if !d.settings.RestoreOnExit {
		d.logger.Info("dispatcher stopped")
		return nil
	}
	parents, _ := d.manager.Counts()
	if err := d.manager.RestoreAll(); err != nil {
		return fmt.Errorf("restore terminals on exit: %w", err)
	}
	d.logger.Info("dispatcher stopped", "restored", parents)
	return nil
}

func (d *Dispatcher) handleEvent(ev platform.Event) error {
	switch ev.Kind {
	case platform.EventProtocolError:
		d.logger.Error("protocol error", "window", ev.Window, "error", ev.Err)
		return nil

	case platform.EventRootListChanged:
		list, err := d.source.TopLevelWindows()
		if err != nil {
			return fmt.Errorf("read top-level window list: %w", err)
		}
		for _, win := range d.differ.Reconcile(list) {
			outcome, err := d.manager.Evaluate(win, list)
			if err != nil {
				return fmt.Errorf("evaluate window %s: %w", win, err)
			}
			d.logger.Debug("evaluated window", "window", win, "outcome", outcome)
		}
		return nil

	case platform.EventDesktopChanged, platform.EventGeometryChanged:
		if err := d.manager.Track(ev.Window); err != nil {
			return fmt.Errorf("track window %s: %w", ev.Window, err)
		}
		return nil

	case platform.EventDestroyed:
		if _, err := d.manager.Release(ev.Window); err != nil {
			return fmt.Errorf("release window %s: %w", ev.Window, err)
		}
		return nil
	}
	return nil
}

// HandleRequest hands req to the loop and waits for the answer. It is safe
// to call from any goroutine.
func (d *Dispatcher) HandleRequest(ctx context.Context, req *ipc.Request) *ipc.Response {
	c := call{req: req, reply: make(chan *ipc.Response, 1)}
	select {
	case d.requests <- c:
	case <-d.done:
		return ipc.NewErrorResponse("daemon is shutting down")
	case <-ctx.Done():
		return ipc.NewErrorResponse(fmt.Sprintf("daemon busy: %v", ctx.Err()))
	}

	select {
	case resp := <-c.reply:
		return resp
	case <-ctx.Done():
		return ipc.NewErrorResponse(fmt.Sprintf("daemon busy: %v", ctx.Err()))
	}
}

// Reload asks the loop to re-read the configuration. Requests made while
// one is pending are merged.
func (d *Dispatcher) Reload() {
	select {
	case d.reloads <- struct{}{}:
	default:
	}
}

// handleRequest answers an IPC request. A non-nil error is fatal to the
// loop; the response still goes out first.
func (d *Dispatcher) handleRequest(req *ipc.Request) (*ipc.Response, error) {
	switch req.Command {
	case ipc.CommandStatus:
		return okResponse(d.status())

	case ipc.CommandList:
		return okResponse(ipc.ListData{Parents: d.list()})

	case ipc.CommandUnswallow:
		var payload ipc.UnswallowPayload
		if err := json.Unmarshal(req.Payload, &payload); err != nil {
			return ipc.NewErrorResponse(fmt.Sprintf("Invalid unswallow payload: %v", err)), nil
		}
		err := d.manager.Unswallow(platform.ProcessID(payload.PID))
		switch {
		case errors.Is(err, swallow.ErrUnknownParent):
			return ipc.NewErrorResponse(err.Error()), nil
		case err != nil:
			return ipc.NewErrorResponse(err.Error()), fmt.Errorf("unswallow pid %d: %w", payload.PID, err)
		}
		d.logger.Info("unswallowed on request", "pid", payload.PID)
		return okResponse(nil)

	case ipc.CommandReload:
		files, err := d.reload()
		if err != nil {
			return ipc.NewErrorResponse(fmt.Sprintf("Failed to reload config: %v", err)), nil
		}
		return okResponse(ipc.ReloadData{Files: files})

	default:
		return ipc.NewErrorResponse(fmt.Sprintf("Unknown command: %s", req.Command)), nil
	}
}

func okResponse(data any) (*ipc.Response, error) {
	resp, err := ipc.NewOKResponse(data)
	if err != nil {
		return ipc.NewErrorResponse(err.Error()), nil
	}
	return resp, nil
}

func (d *Dispatcher) status() ipc.StatusData {
	parents, children := d.manager.Counts()
	terms, immune := 0, 0
	if d.detector != nil {
		terms, immune = d.detector.Counts()
	}
	return ipc.StatusData{
		Display:        d.settings.Display,
		UptimeSeconds:  int64(time.Since(d.started).Seconds()),
		HiddenCount:    parents,
		SwallowedCount: children,
		TerminalNames:  terms,
		ImmuneNames:    immune,
		FocusPolicy:    d.settings.FocusPolicy,
		DaemonRunning:  true,
	}
}

func (d *Dispatcher) list() []ipc.ParentInfo {
	parents := d.manager.Parents()
	out := make([]ipc.ParentInfo, 0, len(parents))
	for _, p := range parents {
		info := ipc.ParentInfo{
			PID:      int32(p.PID),
			Window:   uint32(p.Window),
			Origin:   geometryInfo(p.Origin),
			Children: make([]ipc.ChildInfo, 0, len(p.Children)),
		}
		if d.names != nil {
			info.Name, _ = d.names.Name(p.PID)
		}
		for _, c := range p.Children {
			info.Children = append(info.Children, ipc.ChildInfo{
				Window: uint32(c.Window),
				PID:    int32(c.PID),
				Saved:  geometryInfo(c.Saved),
			})
		}
		out = append(out, info)
	}
	return out
}

func geometryInfo(g platform.Geometry) ipc.GeometryInfo {
	return ipc.GeometryInfo{
		X:       g.X,
		Y:       g.Y,
		Width:   g.Width,
		Height:  g.Height,
		Desktop: g.Desktop,
	}
}

// reload swaps the name lists and walk policy. The registries and the
// window snapshot are kept.
func (d *Dispatcher) reload() ([]string, error) {
	if d.loadConfig == nil {
		return nil, fmt.Errorf("reloading is not configured")
	}
	res, err := d.loadConfig()
	if err != nil {
		return nil, err
	}
	cfg := res.Config

	if d.detector != nil {
		d.detector.Update(cfg.Terminals, cfg.Immune)
	}
	d.manager.SetPolicy(cfg.MaxAncestorDepth, swallow.FocusPolicy(cfg.FocusPolicy))
	if cfg.Display != d.settings.Display {
		d.logger.Warn("display change needs a restart", "running", d.settings.Display, "configured", cfg.Display)
		cfg.Display = d.settings.Display
	}
	d.settings = cfg
	if d.onReload != nil {
		d.onReload(res)
	}

	d.logger.Info("config reloaded",
		"terminals", len(cfg.Terminals),
		"immune", len(cfg.Immune),
		"focus_policy", cfg.FocusPolicy,
		"files", res.Files)
	return res.Files, nil
}
