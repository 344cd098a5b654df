package simnet

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
)

// VectorClock is the logical clock of a single process. All operations are
// serialized on an internal lock so that the protocol logic and inbound
// deliveries can share it.
type VectorClock struct {
	counters map[ProcessId]int

	mu sync.Mutex
}

func NewVectorClock() *VectorClock {
	return &VectorClock{
		counters: make(map[ProcessId]int),
	}
}

func (c *VectorClock) Get(id ProcessId) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.counters[id]
}

func (c *VectorClock) Increase(id ProcessId) {
	c.mu.Lock()
	c.counters[id]++
	c.mu.Unlock()
}

// Decrease undoes a tentative Increase; it is never used to move the clock
// backward past a value it actually reached.
func (c *VectorClock) Decrease(id ProcessId) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.counters[id] == 0 {
		Panicf("cannot decrease null counter for process %d", id)
	}

	c.counters[id]--
}

// GreaterEqual returns true if the clock is greater or equal to ts for every
// process present in ts.
func (c *VectorClock) GreaterEqual(ts Timestamp) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	for id, value := range ts.counters {
		if c.counters[id] < value {
			return false
		}
	}

	return true
}

func (c *VectorClock) Snapshot() Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()

	return newTimestamp(c.counters)
}

func (c *VectorClock) Copy() *VectorClock {
	c.mu.Lock()
	defer c.mu.Unlock()

	c2 := NewVectorClock()
	for id, value := range c.counters {
		c2.counters[id] = value
	}

	return c2
}

func (c *VectorClock) String() string {
	return c.Snapshot().String()
}

// Timestamp is an immutable snapshot of a vector clock, as carried by
// messages. The zero value is the empty timestamp.
type Timestamp struct {
	counters map[ProcessId]int
}

func NewTimestamp(counters map[ProcessId]int) Timestamp {
	return newTimestamp(counters)
}

func newTimestamp(counters map[ProcessId]int) Timestamp {
	ts := Timestamp{
		counters: make(map[ProcessId]int, len(counters)),
	}

	for id, value := range counters {
		if value != 0 {
			ts.counters[id] = value
		}
	}

	return ts
}

func (ts Timestamp) Get(id ProcessId) int {
	return ts.counters[id]
}

func (ts Timestamp) IsZero() bool {
	return len(ts.counters) == 0
}

func (ts Timestamp) Ids() []ProcessId {
	ids := make([]ProcessId, 0, len(ts.counters))
	for id := range ts.counters {
		ids = append(ids, id)
	}

	sortIds(ids)

	return ids
}

// LessEqual returns true if every entry of ts is lower or equal to the
// matching entry of ts2.
func (ts Timestamp) LessEqual(ts2 Timestamp) bool {
	for id, value := range ts.counters {
		if value > ts2.counters[id] {
			return false
		}
	}

	return true
}

func (ts Timestamp) Equal(ts2 Timestamp) bool {
	return ts.LessEqual(ts2) && ts2.LessEqual(ts)
}

// HappenedBefore returns true if the event stamped with ts causally precedes
// the one stamped with ts2.
func (ts Timestamp) HappenedBefore(ts2 Timestamp) bool {
	return ts.LessEqual(ts2) && !ts2.LessEqual(ts)
}

func (ts Timestamp) Concurrent(ts2 Timestamp) bool {
	return !ts.LessEqual(ts2) && !ts2.LessEqual(ts)
}

func (ts Timestamp) String() string {
	var buf strings.Builder

	buf.WriteByte('[')
	for i, id := range ts.Ids() {
		if i > 0 {
			buf.WriteString(", ")
		}

		fmt.Fprintf(&buf, "%d:%d", id, ts.counters[id])
	}
	buf.WriteByte(']')

	return buf.String()
}

func (ts Timestamp) MarshalJSON() ([]byte, error) {
	if ts.counters == nil {
		return []byte("{}"), nil
	}

	return json.Marshal(ts.counters)
}

func (ts *Timestamp) UnmarshalJSON(data []byte) error {
	var counters map[ProcessId]int

	if err := json.Unmarshal(data, &counters); err != nil {
		return err
	}

	for id, value := range counters {
		if value < 0 {
			return fmt.Errorf("invalid negative counter %d for process %d",
				value, id)
		}
	}

	*ts = newTimestamp(counters)

	return nil
}
