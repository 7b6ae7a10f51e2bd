package config

import "fmt"

// FocusPolicy values accepted by focus_policy.
const (
	FocusAlways   = "always"
	FocusIfActive = "if-active"
)

// Log formats accepted by log_format.
const (
	LogFormatAuto = "auto"
	LogFormatText = "text"
	LogFormatJSON = "json"
)

const DefaultMaxAncestorDepth = 64

// Config is the effective daemon configuration.
type Config struct {
	// Terminals lists process names (as in /proc/<pid>/comm) of terminal
	// emulators whose windows get swallowed.
	Terminals []string `yaml:"terminals"`
	// Immune lists process names that never swallow their terminal, and stop
	// the ancestor walk when met on the way up.
	Immune []string `yaml:"immune"`

	MaxAncestorDepth int    `yaml:"max_ancestor_depth"`
	FocusPolicy      string `yaml:"focus_policy"`
	RestoreOnExit    bool   `yaml:"restore_on_exit"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// Display overrides $DISPLAY for the daemon (e.g. ":0").
	Display string `yaml:"display,omitempty"`
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() *Config {
	return &Config{
		Terminals:        defaultTerminals(),
		Immune:           defaultImmune(),
		MaxAncestorDepth: DefaultMaxAncestorDepth,
		FocusPolicy:      FocusAlways,
		RestoreOnExit:    true,
		LogLevel:         "info",
		LogFormat:        LogFormatAuto,
	}
}

func (c *Config) Validate() error {
	if len(c.Terminals) == 0 {
		return &ValidationError{Path: "terminals", Err: fmt.Errorf("terminals must not be empty")}
	}
	for i, name := range c.Terminals {
		if name == "" {
			return &ValidationError{Path: "terminals", Err: fmt.Errorf("terminals[%d] is empty", i)}
		}
	}
	for i, name := range c.Immune {
		if name == "" {
			return &ValidationError{Path: "immune", Err: fmt.Errorf("immune[%d] is empty", i)}
		}
	}
	if c.MaxAncestorDepth < 1 {
		return &ValidationError{Path: "max_ancestor_depth", Err: fmt.Errorf("max_ancestor_depth must be >= 1")}
	}
	switch c.FocusPolicy {
	case FocusAlways, FocusIfActive:
	default:
		return &ValidationError{Path: "focus_policy", Err: fmt.Errorf("focus_policy must be one of: always, if-active")}
	}
	switch c.LogLevel {
	case "debug", "info", "warning", "error":
	default:
		return &ValidationError{Path: "log_level", Err: fmt.Errorf("log_level must be one of: debug, info, warning, error")}
	}
	switch c.LogFormat {
	case LogFormatAuto, LogFormatText, LogFormatJSON:
	default:
		return &ValidationError{Path: "log_format", Err: fmt.Errorf("log_format must be one of: auto, text, json")}
	}
	return nil
}

// defaultTerminals are process names, not WM_CLASS values: the ancestor
// walk matches /proc/<pid>/comm, which the kernel truncates to 15 bytes.
func defaultTerminals() []string {
	return []string{
		"alacritty",
		"kitty",
		"ghostty",
		"gnome-terminal-",
		"tilix",
		"xterm",
		"uxterm",
		"konsole",
		"terminator",
		"urxvt",
		"urxvtd",
		"st",
		"foot",
		"wezterm-gui",
		"xfce4-terminal",
		"lxterminal",
		"sakura",
		"termite",
	}
}

func defaultImmune() []string {
	return []string{}
}
