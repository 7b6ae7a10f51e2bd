package config

import (
	"fmt"
	"path/filepath"
	"strings"
)

type ValidationError struct {
	Path   string
	Source Source
	Err    error
}

func (e *ValidationError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Source.Kind == SourceFile && e.Source.File != "" && e.Source.Line > 0 {
		return fmt.Sprintf("%s:%d:%d: %s: %v", e.Source.File, e.Source.Line, e.Source.Column, e.Path, e.Err)
	}
	if e.Path != "" {
		return fmt.Sprintf("%s: %v", e.Path, e.Err)
	}
	return e.Err.Error()
}

func (e *ValidationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// BuildEffectiveConfig applies raw file values over the defaults.
func BuildEffectiveConfig(raw RawConfig) (*Config, error) {
	cfg := DefaultConfig()

	if raw.Terminals != nil {
		cfg.Terminals = append([]string(nil), (*raw.Terminals)...)
	}
	if raw.ExtraTerminals != nil {
		cfg.Terminals = appendUnique(cfg.Terminals, *raw.ExtraTerminals...)
	}
	if raw.Immune != nil {
		cfg.Immune = append([]string(nil), (*raw.Immune)...)
	}
	if raw.MaxAncestorDepth != nil {
		cfg.MaxAncestorDepth = *raw.MaxAncestorDepth
	}
	if raw.FocusPolicy != nil {
		cfg.FocusPolicy = strings.TrimSpace(*raw.FocusPolicy)
	}
	if raw.RestoreOnExit != nil {
		cfg.RestoreOnExit = *raw.RestoreOnExit
	}
	if raw.LogLevel != nil {
		cfg.LogLevel = strings.ToLower(strings.TrimSpace(*raw.LogLevel))
	}
	if raw.LogFormat != nil {
		cfg.LogFormat = strings.ToLower(strings.TrimSpace(*raw.LogFormat))
	}
	if raw.Display != nil {
		cfg.Display = strings.TrimSpace(*raw.Display)
	}

	return cfg, nil
}

// Env lists the environment variables that extend the name lists.
var Env = struct {
	Terminals string
	Immune    string
	Terminal  string
}{
	Terminals: "XSWALLOW_TERMINALS",
	Immune:    "XSWALLOW_IMMUNE",
	Terminal:  "TERMINAL",
}

// ApplyEnv appends names from XSWALLOW_TERMINALS and XSWALLOW_IMMUNE (colon
// separated) and the basename of $TERMINAL to the configured lists. It
// reports which variables contributed.
func ApplyEnv(cfg *Config, getenv func(string) string) []string {
	var used []string

	if v := getenv(Env.Terminals); v != "" {
		cfg.Terminals = appendUnique(cfg.Terminals, splitNames(v)...)
		used = append(used, Env.Terminals)
	}
	if v := getenv(Env.Immune); v != "" {
		cfg.Immune = appendUnique(cfg.Immune, splitNames(v)...)
		used = append(used, Env.Immune)
	}
	if v := strings.TrimSpace(getenv(Env.Terminal)); v != "" {
		// $TERMINAL may carry arguments ("kitty -1").
		if fields := strings.Fields(v); len(fields) > 0 {
			cfg.Terminals = appendUnique(cfg.Terminals, filepath.Base(fields[0]))
			used = append(used, Env.Terminal)
		}
	}
	return used
}

func appendUnique(list []string, names ...string) []string {
	seen := make(map[string]struct{}, len(list))
	for _, name := range list {
		seen[name] = struct{}{}
	}
	for _, name := range names {
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		list = append(list, name)
	}
	return list
}
