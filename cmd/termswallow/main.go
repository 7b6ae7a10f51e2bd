package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/1broseidon/termswallow/internal/config"
	"github.com/1broseidon/termswallow/internal/daemon"
	"github.com/1broseidon/termswallow/internal/ipc"
	"github.com/1broseidon/termswallow/internal/logging"
	"github.com/1broseidon/termswallow/internal/platform"
	"github.com/1broseidon/termswallow/internal/procinfo"
	"github.com/1broseidon/termswallow/internal/runtimepath"
	"github.com/1broseidon/termswallow/internal/swallow"
	"github.com/1broseidon/termswallow/internal/terminals"
)

func main() {
	if len(os.Args) < 2 {
		printMainUsage(os.Stdout)
		os.Exit(0)
	}

	switch os.Args[1] {
	case "daemon":
		os.Exit(runDaemon(os.Args[2:]))
	case "status":
		os.Exit(runStatus(os.Args[2:]))
	case "list":
		os.Exit(runList(os.Args[2:]))
	case "unswallow":
		os.Exit(runUnswallow(os.Args[2:]))
	case "reload":
		os.Exit(runReload(os.Args[2:]))
	case "config":
		os.Exit(runConfig(os.Args[2:]))
	case "help", "-h", "--help":
		printMainUsage(os.Stdout)
		os.Exit(0)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printMainUsage(os.Stderr)
		os.Exit(2)
	}
}

func printMainUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: termswallow <command> [options]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  daemon              Start the swallowing daemon (foreground)")
	fmt.Fprintln(w, "  status              Show daemon status")
	fmt.Fprintln(w, "  list                List hidden terminals and their windows")
	fmt.Fprintln(w, "  unswallow <pid>     Bring back a hidden terminal")
	fmt.Fprintln(w, "  reload              Make the daemon re-read its config")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "  config validate     Validate configuration")
	fmt.Fprintln(w, "  config print        Print configuration")
	fmt.Fprintln(w, "  config explain      Explain a config value")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Run 'termswallow <command> --help' for command-specific options.")
}

// loadConfig reads path, or the default location when path is empty.
func loadConfig(path string) (*config.LoadResult, error) {
	if path == "" {
		return config.LoadWithSources()
	}
	return config.LoadFromPath(path)
}

// resolveDisplay picks the X display: flag, then config, then $DISPLAY.
func resolveDisplay(flagValue string, cfg *config.Config) string {
	if flagValue != "" {
		return flagValue
	}
	if cfg != nil && cfg.Display != "" {
		return cfg.Display
	}
	return os.Getenv("DISPLAY")
}

func runDaemon(args []string) int {
	fs := flag.NewFlagSet("daemon", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	path := fs.String("config", "", "Config file path (default: ~/.config/termswallow/config.yaml)")
	displayFlag := fs.String("display", "", "X display to connect to (default: config, then $DISPLAY)")
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: termswallow daemon [--config PATH] [--display NAME]")
		fmt.Fprintln(os.Stderr, "")
		fmt.Fprintln(os.Stderr, "Hide a terminal while a graphical program it started is open.")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return 0
		}
		return 2
	}
	if fs.NArg() != 0 {
		fmt.Fprintln(os.Stderr, "daemon takes no arguments")
		fs.Usage()
		return 2
	}

	res, err := loadConfig(*path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		return 1
	}
	cfg := res.Config

	logger, level, err := logging.New(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to set up logging: %v\n", err)
		return 1
	}
	slog.SetDefault(logger)

	display := resolveDisplay(*displayFlag, cfg)
	cfg.Display = display
	logger.Info("configuration loaded",
		"files", res.Files,
		"terminals", len(cfg.Terminals),
		"immune", len(cfg.Immune),
		"focus_policy", cfg.FocusPolicy)

	backend, err := platform.NewLinuxBackendFromDisplay(display)
	if err != nil {
		logger.Error("failed to connect to display", "display", display, "error", err)
		return 1
	}
	defer backend.Disconnect()

	procs := procinfo.NewProvider()
	detector := terminals.NewDetector(cfg.Terminals, cfg.Immune)
	manager := swallow.NewManager(swallow.Options{
		Windows:     backend,
		Processes:   procs,
		Classifier:  detector,
		Logger:      logger.With("component", "swallow"),
		MaxDepth:    cfg.MaxAncestorDepth,
		FocusPolicy: swallow.FocusPolicy(cfg.FocusPolicy),
	})

	watchPath := *path
	if watchPath == "" {
		watchPath, _ = config.DefaultConfigPath()
	}
	var watcher *config.Watcher
	if watchPath != "" {
		if watcher, err = config.NewWatcher(watchPaths(watchPath, res.Files), config.DefaultWatchDebounce, logger.With("component", "watcher")); err != nil {
			logger.Warn("config watching disabled", "error", err)
			watcher = nil
		}
	}

	dispatcher := daemon.NewDispatcher(daemon.Config{
		Source:   backend,
		Manager:  manager,
		Detector: detector,
		Names:    procs,
		Logger:   logger.With("component", "dispatcher"),
		Settings: cfg,
		LoadConfig: func() (*config.LoadResult, error) {
			next, err := loadConfig(*path)
			if err != nil {
				return nil, err
			}
			if *displayFlag != "" || next.Config.Display == "" {
				next.Config.Display = display
			}
			return next, nil
		},
		OnReload: func(next *config.LoadResult) {
			if lvl, err := logging.ParseLevel(next.Config.LogLevel); err == nil {
				level.Set(lvl)
			}
			if watcher != nil {
				if err := watcher.SetPaths(watchPaths(watchPath, next.Files)); err != nil {
					logger.Warn("failed to watch included config files", "error", err)
				}
			}
		},
	})

	socketPath, err := runtimepath.SocketPath(display)
	if err != nil {
		logger.Error("failed to resolve IPC socket path", "error", err)
		return 1
	}
	ipcServer := ipc.NewServer(socketPath, dispatcher, logger.With("component", "ipc"))
	if err := ipcServer.Start(); err != nil {
		logger.Error("failed to start IPC server", "error", err)
		return 1
	}
	defer ipcServer.Stop()

	if watcher != nil {
		if changes, err := watcher.Start(); err != nil {
			logger.Warn("config watching disabled", "error", err)
			watcher.Stop()
			watcher = nil
		} else {
			defer watcher.Stop()
			go func() {
				for range changes {
					logger.Info("config file changed", "path", watchPath)
					dispatcher.Reload()
				}
			}()
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go func() {
		for {
			select {
			case <-hup:
				logger.Info("received SIGHUP, reloading config")
				dispatcher.Reload()
			case <-ctx.Done():
				return
			}
		}
	}()

	backend.Start(ctx)
	logger.Info("termswallow daemon started", "display", display, "socket", socketPath)

	if err := dispatcher.Run(ctx); err != nil {
		if errors.Is(err, daemon.ErrEventsClosed) {
			logger.Error("lost connection to the display", "display", display)
		} else {
			logger.Error("daemon stopped on error", "error", err)
		}
		return 1
	}
	logger.Info("termswallow daemon stopped")
	return 0
}

// watchPaths lists the main config file followed by the files it included.
func watchPaths(main string, loaded []string) []string {
	paths := []string{main}
	for _, f := range loaded {
		if f != main {
			paths = append(paths, f)
		}
	}
	return paths
}
