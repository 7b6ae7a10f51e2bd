// Package snapshot tracks the display server's top-level window list and
// reports windows that appear between observations.
package snapshot

import "github.com/1broseidon/termswallow/internal/platform"

// Differ remembers the last observed top-level window list. The list is
// usually stable apart from appends and removals, so reconciliation is a
// linear scan that only searches when entries are out of place.
type Differ struct {
	// buf[:n] is the remembered list; the rest is scratch space.
	buf []platform.WindowID
	n   int
}

// New returns a Differ whose snapshot is initial. No window in initial is
// ever reported as new.
func New(initial []platform.WindowID) *Differ {
	buf := make([]platform.WindowID, len(initial))
	copy(buf, initial)
	return &Differ{buf: buf, n: len(initial)}
}

// Reconcile updates the snapshot to current and returns the windows of
// current that were not in the previous snapshot, in the order they appear.
// Windows that disappeared are dropped silently.
func (d *Differ) Reconcile(current []platform.WindowID) []platform.WindowID {
	oldLen := d.n
	newLen := len(current)

	// Worst case every old entry is displaced and every new entry is fresh.
	need := oldLen + newLen
	if cap(d.buf) < need {
		buf := make([]platform.WindowID, need)
		copy(buf, d.buf[:oldLen])
		d.buf = buf
	}
	d.buf = d.buf[:need]
	for i := oldLen; i < newLen; i++ {
		d.buf[i] = platform.NoWindow
	}

	var added []platform.WindowID
	// buf[i:end] holds every old entry not yet matched.
	end := oldLen
	for i, win := range current {
		displaced := d.buf[i]
		if win == displaced {
			continue
		}

		found := false
		for j := i + 1; j < end; j++ {
			if d.buf[j] == win {
				d.buf[j] = displaced
				found = true
				break
			}
		}
		if !found {
			d.buf[end] = displaced
			end++
			added = append(added, win)
		}
		d.buf[i] = win
	}

	d.n = newLen
	return added
}

// Windows returns a copy of the remembered list.
func (d *Differ) Windows() []platform.WindowID {
	out := make([]platform.WindowID, d.n)
	copy(out, d.buf[:d.n])
	return out
}

// Len returns the length of the remembered list.
func (d *Differ) Len() int { return d.n }
