// Package idtable implements an open-addressing hash table keyed by 32-bit
// identifiers (window ids, process ids).
package idtable

const (
	minCapacity = 8

	// Grow when (count+1)/capacity would exceed maxLoadNum/maxLoadDen.
	maxLoadNum = 3
	maxLoadDen = 4
)

type slotState uint8

const (
	slotEmpty slotState = iota
	slotLive
	slotTombstone
)

type slot[V any] struct {
	state slotState
	key   uint32
	value V
}

// Table maps uint32 keys to values using linear probing. Deleted slots are
// left as tombstones until the next growth rebuilds the array.
//
// Slot state is tracked separately from the key, so every uint32 is a valid
// key. The zero value is an empty table ready to use.
type Table[V any] struct {
	// count includes tombstones; only growth brings it back down.
	count int
	live  int
	slots []slot[V]
}

// Hash mixes a structured integer key into a well-distributed 32-bit hash.
// Window and process ids are small and mostly increasing, so using them
// directly as an index would cluster.
func Hash(a uint32) uint32 {
	a -= a << 6
	a ^= a >> 17
	a -= a << 9
	a ^= a << 4
	a -= a << 3
	a ^= a << 10
	a ^= a >> 15
	return a
}

// probe returns the index of the slot holding key, or the slot an insert of
// key should use. slots must not be empty.
func probe[V any](slots []slot[V], key uint32) int {
	tomb := -1
	i := int(Hash(key) % uint32(len(slots)))
	for {
		s := &slots[i]
		switch s.state {
		case slotEmpty:
			if tomb >= 0 {
				return tomb
			}
			return i
		case slotTombstone:
			if tomb < 0 {
				tomb = i
			}
		case slotLive:
			if s.key == key {
				return i
			}
		}
		i++
		if i == len(slots) {
			i = 0
		}
	}
}

func (t *Table[V]) resize(capacity int) {
	slots := make([]slot[V], capacity)
	t.count = 0
	for i := range t.slots {
		s := &t.slots[i]
		if s.state != slotLive {
			continue
		}
		slots[probe(slots, s.key)] = *s
		t.count++
	}
	t.slots = slots
	t.live = t.count
}

// Put stores value under key, replacing any previous value.
func (t *Table[V]) Put(key uint32, value V) {
	if (t.count+1)*maxLoadDen > len(t.slots)*maxLoadNum {
		capacity := len(t.slots) * 2
		if capacity < minCapacity {
			capacity = minCapacity
		}
		t.resize(capacity)
	}

	s := &t.slots[probe(t.slots, key)]
	switch s.state {
	case slotEmpty:
		t.count++
		t.live++
	case slotTombstone:
		t.live++
	}
	s.state = slotLive
	s.key = key
	s.value = value
}

// Get returns the value stored under key.
func (t *Table[V]) Get(key uint32) (V, bool) {
	var zero V
	if t.count == 0 {
		return zero, false
	}
	s := &t.slots[probe(t.slots, key)]
	if s.state != slotLive {
		return zero, false
	}
	return s.value, true
}

// Delete removes key and returns the value it held. The slot becomes a
// tombstone; the load count is not reduced until the table next grows.
func (t *Table[V]) Delete(key uint32) (V, bool) {
	var zero V
	if t.count == 0 {
		return zero, false
	}
	s := &t.slots[probe(t.slots, key)]
	if s.state != slotLive {
		return zero, false
	}
	value := s.value
	s.value = zero
	s.state = slotTombstone
	t.live--
	return value, true
}

// Len returns the number of live entries.
func (t *Table[V]) Len() int { return t.live }

// Cap returns the number of slots.
func (t *Table[V]) Cap() int { return len(t.slots) }

// Load returns the number of occupied slots, tombstones included.
func (t *Table[V]) Load() int { return t.count }

// Range calls fn for each live entry in slot order until fn returns false.
// fn must not modify the table.
func (t *Table[V]) Range(fn func(key uint32, value V) bool) {
	for i := range t.slots {
		s := &t.slots[i]
		if s.state != slotLive {
			continue
		}
		if !fn(s.key, s.value) {
			return
		}
	}
}

// Keys returns the live keys in slot order.
func (t *Table[V]) Keys() []uint32 {
	keys := make([]uint32, 0, t.live)
	t.Range(func(key uint32, _ V) bool {
		keys = append(keys, key)
		return true
	})
	return keys
}
