package snapshot

import (
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/1broseidon/termswallow/internal/platform"
)

const (
	winA platform.WindowID = 0x1a00003
	winB platform.WindowID = 0x1c00007
	winC platform.WindowID = 0x2000001
	winD platform.WindowID = 0x2200004
)

func ids(w ...platform.WindowID) []platform.WindowID { return w }

func TestReconcile_UnchangedListReportsNothing(t *testing.T) {
	d := New(ids(winA, winB, winC))

	added := d.Reconcile(ids(winA, winB, winC))
	require.Empty(t, added)
	require.Equal(t, ids(winA, winB, winC), d.Windows())
}

func TestReconcile_ShiftedListReportsOnlyNewWindow(t *testing.T) {
	d := New(ids(winA, winB, winC))

	added := d.Reconcile(ids(winB, winC, winD))
	require.Equal(t, ids(winD), added)
	require.Equal(t, ids(winB, winC, winD), d.Windows())
}

func TestReconcile_PureReorderIsNotNew(t *testing.T) {
	d := New(ids(winA, winB))

	added := d.Reconcile(ids(winB, winA))
	require.Empty(t, added)
	require.Equal(t, ids(winB, winA), d.Windows())
}

func TestReconcile_SecondCallWithSameListIsQuiet(t *testing.T) {
	d := New(ids(winA))

	require.Equal(t, ids(winC, winB), d.Reconcile(ids(winC, winA, winB)))
	require.Empty(t, d.Reconcile(ids(winC, winA, winB)))
}

func TestReconcile_FromEmpty(t *testing.T) {
	d := New(nil)

	added := d.Reconcile(ids(winA, winB))
	require.Equal(t, ids(winA, winB), added)
	require.Equal(t, 2, d.Len())
}

func TestReconcile_ToEmpty(t *testing.T) {
	d := New(ids(winA, winB))

	require.Empty(t, d.Reconcile(nil))
	require.Equal(t, 0, d.Len())
	require.Empty(t, d.Windows())
}

func TestReconcile_NewWindowInsertedInMiddle(t *testing.T) {
	d := New(ids(winA, winB, winC))

	added := d.Reconcile(ids(winA, winD, winB, winC))
	require.Equal(t, ids(winD), added)
	require.Equal(t, ids(winA, winD, winB, winC), d.Windows())
	}

func TestReconcile_ReplacedAtFront(t *testing.T) {
	d := New(ids(winA, winB))

	added := d.Reconcile(ids(winC, winA))
	require.Equal(t, ids(winC), added)
	require.Equal(t, ids(winC, winA), d.Windows())
}

func TestReconcile_ReusesBufferAcrossCalls(t *testing.T) {
	d := New(ids(winA, winB, winC))
	d.Reconcile(ids(winA, winB, winC, winD))
	capBefore := cap(d.buf)

	d.Reconcile(ids(winA, winD))
	require.Equal(t, capBefore, cap(d.buf))
	require.Equal(t, ids(winA, winD), d.Windows())
}

func windowList() *rapid.Generator[[]platform.WindowID] {
	return rapid.SliceOfDistinct(
		rapid.Custom(func(t *rapid.T) platform.WindowID {
			return platform.WindowID(rapid.Uint32Range(1, 40).Draw(t, "win"))
		}),
		rapid.ID[platform.WindowID],
	)
}

// TestReconcile_ReportsExactlySetDifference checks that, for arbitrary
// before/after lists, the reported windows are exactly those absent before,
// in order of appearance, and the snapshot equals the new list.
func TestReconcile_ReportsExactlySetDifference(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		d := New(windowList().Draw(rt, "initial"))

		for round := 0; round < 4; round++ {
			before := map[platform.WindowID]bool{}
			for _, w := range d.Windows() {
				before[w] = true
			}
			current := windowList().Draw(rt, "current")

			var want []platform.WindowID
			for _, w := range current {
				if !before[w] {
					want = append(want, w)
				}
			}

			got := d.Reconcile(current)
			if len(got) != len(want) {
				rt.Fatalf("round %d: reported %v, want %v", round, got, want)
			}
			for i := range want {
				if got[i] != want[i] {
					rt.Fatalf("round %d: reported %v, want %v", round, got, want)
				}
			}

			snap := d.Windows()
			if len(snap) != len(current) {
				rt.Fatalf("round %d: snapshot %v, want %v", round, snap, current)
			}
			for i := range current {
				if snap[i] != current[i] {
					rt.Fatalf("round %d: snapshot %v, want %v", round, snap, current)
				}
			}

			if again := d.Reconcile(current); len(again) != 0 {
				rt.Fatalf("round %d: repeat reconcile reported %v", round, again)
			}
		}
	})
}
