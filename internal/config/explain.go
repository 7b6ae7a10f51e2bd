package config

import (
	"fmt"
)

// Keys lists the paths Explain understands, in file order.
var Keys = []string{
	"terminals",
	"immune",
	"max_ancestor_depth",
	"focus_policy",
	"restore_on_exit",
	"log_level",
	"log_format",
	"display",
}

// Explain returns the effective value at the given key and its source.
func Explain(res *LoadResult, path string) (any, Source, error) {
	if res == nil || res.Config == nil {
		return nil, Source{}, fmt.Errorf("no config loaded")
	}
	if path == "" {
		return nil, Source{}, fmt.Errorf("path is empty")
	}

	value, err := lookupValue(res.Config, path)
	if err != nil {
		return nil, Source{}, err
	}

	if src, ok := res.Sources[path]; ok {
		return value, src, nil
	}
	return value, Source{Kind: SourceDefault, Name: "defaults"}, nil
}

func lookupValue(cfg *Config, path string) (any, error) {
	switch path {
	case "terminals":
		return cfg.Terminals, nil
	case "immune":
		return cfg.Immune, nil
	case "max_ancestor_depth":
		return cfg.MaxAncestorDepth, nil
	case "focus_policy":
		return cfg.FocusPolicy, nil
	case "restore_on_exit":
		return cfg.RestoreOnExit, nil
	case "log_level":
		return cfg.LogLevel, nil
	case "log_format":
		return cfg.LogFormat, nil
	case "display":
		return cfg.Display, nil
	default:
		return nil, fmt.Errorf("unknown config path %q", path)
	}
}

// String renders a source for humans.
func (s Source) String() string {
	switch s.Kind {
	case SourceFile:
		if s.Line > 0 {
			return fmt.Sprintf("%s:%d:%d", s.File, s.Line, s.Column)
		}
		return s.File
	case SourceEnv:
		return "$" + s.Name
	default:
		if s.Name != "" {
			return string(s.Kind) + " (" + s.Name + ")"
		}
		return string(s.Kind)
	}
}
