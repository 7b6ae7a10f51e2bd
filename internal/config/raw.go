package config

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// IncludeList supports either:
//
//	include: "/path/to/file.yaml"
//
// or:
//
//	include:
//	  - "/path/to/file.yaml"
//	  - "/path/to/dir"
type IncludeList []string

func (l *IncludeList) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case 0:
		// Not present.
		*l = nil
		return nil
	case yaml.ScalarNode:
		if value.Tag != "!!str" {
			return fmt.Errorf("include must be a string or list of strings")
		}
		*l = []string{value.Value}
		return nil
	case yaml.SequenceNode:
		out := make([]string, 0, len(value.Content))
		for _, item := range value.Content {
			if item.Kind != yaml.ScalarNode || item.Tag != "!!str" {
				return fmt.Errorf("include entries must be strings")
			}
			out = append(out, item.Value)
		}
		*l = out
		return nil
	default:
		return fmt.Errorf("include must be a string or list of strings")
	}
}

// NameList supports either:
//
//	terminals: "alacritty:kitty"
//
// or:
//
//	terminals:
//	  - alacritty
//	  - kitty
//
// The scalar form uses the same colon separator as XSWALLOW_TERMINALS.
type NameList []string

func (l *NameList) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case 0:
		// Not present.
		*l = nil
		return nil
	case yaml.ScalarNode:
		if value.Tag != "!!str" {
			return fmt.Errorf("must be a string or list of strings")
		}
		*l = splitNames(value.Value)
		return nil
	case yaml.SequenceNode:
		out := make([]string, 0, len(value.Content))
		for _, item := range value.Content {
			if item.Kind != yaml.ScalarNode || item.Tag != "!!str" {
				return fmt.Errorf("entries must be strings")
			}
			name := strings.TrimSpace(item.Value)
			if name == "" {
				return fmt.Errorf("entries must not be empty")
			}
			out = append(out, name)
		}
		*l = out
		return nil
	default:
		return fmt.Errorf("must be a string or list of strings")
	}
}

// splitNames splits a colon separated list, dropping empty items.
func splitNames(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ":") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// RawConfig mirrors the file layout. Nil fields were not set.
type RawConfig struct {
	Include IncludeList `yaml:"include"`

	Terminals *NameList `yaml:"terminals"`
	Immune    *NameList `yaml:"immune"`
	// ExtraTerminals is appended to the builtin terminal list rather than
	// replacing it.
	ExtraTerminals *NameList `yaml:"extra_terminals"`

	MaxAncestorDepth *int    `yaml:"max_ancestor_depth"`
	FocusPolicy      *string `yaml:"focus_policy"`
	RestoreOnExit    *bool   `yaml:"restore_on_exit"`

	LogLevel  *string `yaml:"log_level"`
	LogFormat *string `yaml:"log_format"`

	Display *string `yaml:"display"`
}

// merge returns r with every field set in other overriding it. Includes are
// resolved by the loader and not carried over.
func (r RawConfig) merge(other RawConfig) RawConfig {
	out := r
	out.Include = nil
	if other.Terminals != nil {
		out.Terminals = other.Terminals
	}
	if other.Immune != nil {
		out.Immune = other.Immune
	}
	if other.ExtraTerminals != nil {
		merged := NameList(appendUnique(nil, derefNames(out.ExtraTerminals)...))
		merged = appendUnique(merged, *other.ExtraTerminals...)
		out.ExtraTerminals = &merged
	}
	if other.MaxAncestorDepth != nil {
		out.MaxAncestorDepth = other.MaxAncestorDepth
	}
	if other.FocusPolicy != nil {
		out.FocusPolicy = other.FocusPolicy
	}
	if other.RestoreOnExit != nil {
		out.RestoreOnExit = other.RestoreOnExit
	}
	if other.LogLevel != nil {
		out.LogLevel = other.LogLevel
	}
	if other.LogFormat != nil {
		out.LogFormat = other.LogFormat
	}
	if other.Display != nil {
		out.Display = other.Display
	}
	return out
}

func derefNames(l *NameList) []string {
	if l == nil {
		return nil
	}
	return *l
}
