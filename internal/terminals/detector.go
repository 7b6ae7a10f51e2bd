package terminals

import (
	"strings"
	"sync"
)

// Class is the result of matching a process name.
type Class int

const (
	ClassNone Class = iota
	ClassTerminal
	ClassImmune
)

// Detector classifies process names as terminal emulators or as immune to
// swallowing. Names are compared exactly, as they appear in /proc/<pid>/comm.
type Detector struct {
	mu        sync.RWMutex
	terminals map[string]bool
	immune    map[string]bool
}

// NewDetector creates a new detector with the given terminal and immune
// process name lists.
func NewDetector(terminalNames, immuneNames []string) *Detector {
	return &Detector{
		terminals: nameSet(terminalNames),
		immune:    nameSet(immuneNames),
	}
}

func nameSet(names []string) map[string]bool {
	set := make(map[string]bool, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		set[name] = true
	}
	return set
}

// Update replaces both name lists.
func (d *Detector) Update(terminalNames, immuneNames []string) {
	terminals := nameSet(terminalNames)
	immune := nameSet(immuneNames)

	d.mu.Lock()
	defer d.mu.Unlock()
	d.terminals = terminals
	d.immune = immune
}

// Classify returns ClassTerminal if name is a terminal, else ClassImmune if
// it is immune, else ClassNone. Terminal wins when a name is in both lists.
func (d *Detector) Classify(name string) Class {
	if name == "" {
		return ClassNone
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.terminals[name] {
		return ClassTerminal
	}
	if d.immune[name] {
		return ClassImmune
	}
	return ClassNone
}

// Counts returns the sizes of the configured lists.
func (d *Detector) Counts() (terminals, immune int) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.terminals), len(d.immune)
}
