// Package procinfo reads process names and parent pids from procfs.
package procinfo

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/1broseidon/termswallow/internal/platform"
)

const (
	// DefaultNameTTL bounds how long a cached name can outlive its process
	// before the pid is reused.
	DefaultNameTTL       = 2 * time.Second
	defaultCleanInterval = time.Minute
)

// Provider looks up process information under a procfs mount.
type Provider struct {
	root  string
	names *gocache.Cache
}

// Option configures a Provider.
type Option func(*Provider)

// WithRoot reads from root instead of /proc.
func WithRoot(root string) Option {
	return func(p *Provider) { p.root = root }
}

// WithNameTTL sets the process name cache lifetime. Zero disables caching.
func WithNameTTL(ttl time.Duration) Option {
	return func(p *Provider) {
		if ttl <= 0 {
			p.names = nil
			return
		}
		p.names = gocache.New(ttl, defaultCleanInterval)
	}
}

// NewProvider creates a procfs-backed provider.
func NewProvider(opts ...Option) *Provider {
	p := &Provider{
		root:  "/proc",
		names: gocache.New(DefaultNameTTL, defaultCleanInterval),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Provider) path(pid platform.ProcessID, file string) string {
	return filepath.Join(p.root, strconv.Itoa(int(pid)), file)
}

// Name returns the command name of pid from /proc/<pid>/comm. It reports
// false when the process is gone or unreadable.
func (p *Provider) Name(pid platform.ProcessID) (string, bool) {
	if pid <= 0 {
		return "", false
	}
	key := strconv.Itoa(int(pid))
	if p.names != nil {
		if v, ok := p.names.Get(key); ok {
			if name, ok := v.(string); ok {
				return name, true
			}
		}
	}

	data, err := os.ReadFile(p.path(pid, "comm"))
	if err != nil {
		return "", false
	}
	// comm may itself contain newlines; only the terminator is stripped.
	name := string(bytes.TrimSuffix(data, []byte("\n")))

	if p.names != nil {
		p.names.SetDefault(key, name)
	}
	return name, true
}

// Parent returns the parent pid of pid from /proc/<pid>/stat. It reports
// false at the top of the visible chain (ppid 0) or when pid is gone.
func (p *Provider) Parent(pid platform.ProcessID) (platform.ProcessID, bool) {
	if pid <= 0 {
		return 0, false
	}
	data, err := os.ReadFile(p.path(pid, "stat"))
	if err != nil {
		return 0, false
	}
	ppid, err := parsePPID(string(data))
	if err != nil || ppid <= 0 {
		return 0, false
	}
	return platform.ProcessID(ppid), true
}

// parsePPID extracts the PPID (field 4) from /proc/<pid>/stat.
// Format: pid (comm) state ppid ...
func parsePPID(stat string) (int, error) {
	// Find closing paren of comm field (handles spaces/parens in name).
	idx := strings.LastIndex(stat, ") ")
	if idx < 0 {
		return 0, fmt.Errorf("malformed stat: no comm terminator")
	}
	fields := strings.Fields(stat[idx+2:])
	if len(fields) < 2 {
		return 0, fmt.Errorf("malformed stat: %d fields after comm", len(fields))
	}
	// fields[0] = state, fields[1] = ppid
	ppid, err := strconv.Atoi(fields[1])
	if err != nil {
		return 0, fmt.Errorf("malformed stat ppid %q: %w", fields[1], err)
	}
	return ppid, nil
}
