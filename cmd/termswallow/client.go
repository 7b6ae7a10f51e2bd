package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/1broseidon/termswallow/internal/config"
	"github.com/1broseidon/termswallow/internal/ipc"
	"github.com/1broseidon/termswallow/internal/runtimepath"
)

// clientFlags are shared by every command that talks to a running daemon.
type clientFlags struct {
	display *string
}

func addClientFlags(fs *flag.FlagSet) clientFlags {
	return clientFlags{
		display: fs.String("display", "", "X display of the daemon (default: config, then $DISPLAY)"),
	}
}

func (f clientFlags) client() (*ipc.Client, error) {
	var cfg *config.Config
	if *f.display == "" {
		// A broken config must not stop clients from reaching the daemon.
		if loaded, err := config.Load(); err == nil {
			cfg = loaded
		}
	}
	path, err := runtimepath.SocketPath(resolveDisplay(*f.display, cfg))
	if err != nil {
		return nil, err
	}
	return ipc.NewClient(path), nil
}

// parseClientArgs parses args and reports an exit code when the command
// should stop.
func parseClientArgs(fs *flag.FlagSet, args []string, nargs int, usage string) (int, bool) {
	fs.SetOutput(os.Stderr)
	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return 0, false
		}
		return 2, false
	}
	if fs.NArg() != nargs {
		fmt.Fprintln(os.Stderr, usage)
		return 2, false
	}
	return 0, true
}

func runStatus(args []string) int {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	cf := addClientFlags(fs)
	asJSON := fs.Bool("json", false, "Output as JSON")
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: termswallow status [--json] [--display NAME]")
		fmt.Fprintln(os.Stderr, "")
		fmt.Fprintln(os.Stderr, "Show daemon status via IPC.")
	}
	if code, ok := parseClientArgs(fs, args, 0, "status takes no arguments"); !ok {
		return code
	}

	client, err := cf.client()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	status, err := client.GetStatus()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if *asJSON {
		return printJSON(os.Stdout, status)
	}
	fmt.Printf("daemon_running:    %v\n", status.DaemonRunning)
	fmt.Printf("display:           %s\n", status.Display)
	fmt.Printf("hidden_terminals:  %d\n", status.HiddenCount)
	fmt.Printf("swallowed_windows: %d\n", status.SwallowedCount)
	fmt.Printf("terminal_names:    %d\n", status.TerminalNames)
	fmt.Printf("immune_names:      %d\n", status.ImmuneNames)
	fmt.Printf("focus_policy:      %s\n", status.FocusPolicy)
	fmt.Printf("uptime_seconds:    %d\n", status.UptimeSeconds)
	return 0
}

func runList(args []string) int {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	cf := addClientFlags(fs)
	asJSON := fs.Bool("json", false, "Output as JSON")
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: termswallow list [--json] [--display NAME]")
		fmt.Fprintln(os.Stderr, "")
		fmt.Fprintln(os.Stderr, "List hidden terminals and the windows they swallowed.")
	}
	if code, ok := parseClientArgs(fs, args, 0, "list takes no arguments"); !ok {
		return code
	}

	client, err := cf.client()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	data, err := client.List()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if *asJSON {
		return printJSON(os.Stdout, data)
	}
	if len(data.Parents) == 0 {
		fmt.Println("No hidden terminals")
		return 0
	}
	writeList(os.Stdout, data.Parents)
	return 0
}

func writeList(w io.Writer, parents []ipc.ParentInfo) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PID\tNAME\tTERMINAL\tWINDOW\tCHILD PID\tGEOMETRY")
	for _, p := range parents {
		name := p.Name
		if name == "" {
			name = "-"
		}
		for i, c := range p.Children {
			if i == 0 {
				fmt.Fprintf(tw, "%d\t%s\t0x%x\t0x%x\t%d\t%s\n", p.PID, name, p.Window, c.Window, c.PID, formatGeometry(c.Saved))
				continue
			}
			fmt.Fprintf(tw, "\t\t\t0x%x\t%d\t%s\n", c.Window, c.PID, formatGeometry(c.Saved))
		}
	}
	tw.Flush()
}

func formatGeometry(g ipc.GeometryInfo) string {
	return fmt.Sprintf("%dx%d+%d+%d desktop %d", g.Width, g.Height, g.X, g.Y, g.Desktop)
}

func runUnswallow(args []string) int {
	fs := flag.NewFlagSet("unswallow", flag.ContinueOnError)
	cf := addClientFlags(fs)
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: termswallow unswallow [--display NAME] <pid>")
		fmt.Fprintln(os.Stderr, "")
		fmt.Fprintln(os.Stderr, "Show the hidden terminal with the given pid at its original place.")
	}
	if code, ok := parseClientArgs(fs, args, 1, "unswallow requires <pid>"); !ok {
		return code
	}
	pid, err := strconv.ParseInt(fs.Arg(0), 10, 32)
	if err != nil || pid <= 0 {
		fmt.Fprintf(os.Stderr, "invalid pid: %s\n", fs.Arg(0))
		return 2
	}

	client, err := cf.client()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if err := client.Unswallow(int32(pid)); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

func runReload(args []string) int {
	fs := flag.NewFlagSet("reload", flag.ContinueOnError)
	cf := addClientFlags(fs)
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: termswallow reload [--display NAME]")
		fmt.Fprintln(os.Stderr, "")
		fmt.Fprintln(os.Stderr, "Make the running daemon re-read its configuration.")
	}
	if code, ok := parseClientArgs(fs, args, 0, "reload takes no arguments"); !ok {
		return code
	}

	client, err := cf.client()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	files, err := client.Reload()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if len(files) == 0 {
		fmt.Println("config reloaded (defaults)")
		return 0
	}
	for _, f := range files {
		fmt.Printf("config reloaded: %s\n", f)
	}
	return 0
}

func printJSON(w io.Writer, v any) int {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}
