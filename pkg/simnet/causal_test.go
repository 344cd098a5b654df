package simnet

import (
	"errors"
	"fmt"
	"math/rand"
	"testing"
)

func newTestCausalProcesses(t *testing.T, router *Router, n int) []*CausalProcess {
	t.Helper()

	processes := make([]*CausalProcess, n)
	for i := range processes {
		p, err := NewCausalProcess(CausalProcessCfg{
			Logger: newTestLogger(t),
		})
		if err != nil {
			t.Fatalf("cannot create process: %v", err)
		}

		registerProcess(t, router, p)
		processes[i] = p
	}

	router.Lock()

	return processes
}

func TestCausalDeliveryOrder(t *testing.T) {
	router := newTestRouter(t, ModeAsync)
	ps := newTestCausalProcesses(t, router, 3)

	// P1 broadcasts; P2 receives it and broadcasts in turn, and its message
	// reaches P3 first.
	if err := ps[0].Send(Broadcast, "first"); err != nil {
		t.Fatal(err)
	}

	if err := router.DispatchIndex(0); err != nil {
		t.Fatal(err)
	}

	if err := ps[1].Send(Broadcast, "second"); err != nil {
		t.Fatal(err)
	}

	// Queue: first->3, second->1, second->3
	if err := router.DispatchIndex(2); err != nil {
		t.Fatal(err)
	}

	if n := len(ps[2].Pending()); n != 1 {
		t.Fatalf("process 3 has %d pending messages instead of 1", n)
	}

	if n := ps[2].Delivered().Len(); n != 0 {
		t.Fatalf("process 3 delivered %d messages instead of 0", n)
	}

	if _, err := router.DispatchAll(); err != nil {
		t.Fatal(err)
	}

	bodies := ps[2].Delivered().Bodies()
	if !equalStrings(bodies, []string{"first", "second"}) {
		t.Errorf("process 3 delivered %v", bodies)
	}

	if n := len(ps[2].Pending()); n != 0 {
		t.Errorf("process 3 still has %d pending messages", n)
	}

	if v := ps[2].Clock().Get(1); v != 1 {
		t.Errorf("clock entry 1 of process 3 is %d instead of 1", v)
	}
}

func TestCausalBufferFixedPoint(t *testing.T) {
	router := newTestRouter(t, ModeAsync)
	ps := newTestCausalProcesses(t, router, 5)

	p := ps[4]

	ts := func(counters map[ProcessId]int) Timestamp {
		return NewTimestamp(counters)
	}

	m1 := NewClockedMessage(1, 5, ts(map[ProcessId]int{1: 1}), "m1")
	m2 := NewClockedMessage(2, 5, ts(map[ProcessId]int{1: 1, 2: 1}), "m2")
	m3 := NewClockedMessage(3, 5, ts(map[ProcessId]int{1: 1, 2: 1, 3: 1}), "m3")
	m4 := NewClockedMessage(4, 5, ts(map[ProcessId]int{1: 1, 3: 1, 4: 1}), "m4")

	// Buffered in an order where the release of m2 unblocks a message
	// located before it in the buffer.
	for _, msg := range []Message{m4, m3, m2} {
		p.Receive(msg)
	}

	if n := len(p.Pending()); n != 3 {
		t.Fatalf("%d pending messages instead of 3", n)
	}

	p.Receive(m1)

	bodies := p.Delivered().Bodies()
	if !equalStrings(bodies, []string{"m1", "m2", "m3", "m4"}) {
		t.Errorf("delivered %v", bodies)
	}

	for _, msg := range p.Pending() {
		if p.Ready(msg) {
			t.Errorf("buffered message %v is ready", msg)
		}
	}
}

func TestCausalSameSenderReordering(t *testing.T) {
	router := newTestRouter(t, ModeAsync)
	ps := newTestCausalProcesses(t, router, 2)

	ps[0].Send(2, "a")
	ps[0].Send(2, "b")

	if err := router.DispatchIndex(1); err != nil {
		t.Fatal(err)
	}

	if n := len(ps[1].Pending()); n != 1 {
		t.Fatalf("%d pending messages instead of 1", n)
	}

	if _, err := router.DispatchAll(); err != nil {
		t.Fatal(err)
	}

	bodies := ps[1].Delivered().Bodies()
	if !equalStrings(bodies, []string{"a", "b"}) {
		t.Errorf("delivered %v", bodies)
	}
}

func TestCausalConcurrentBroadcasts(t *testing.T) {
	router := newTestRouter(t, ModeSync)
	ps := newTestCausalProcesses(t, router, 3)

	ps[0].Send(Broadcast, "x")
	ps[1].Send(Broadcast, "y")

	for i, p := range ps {
		if n := len(p.Pending()); n != 0 {
			t.Errorf("process %d has %d pending messages", i+1, n)
		}
	}

	if n := ps[2].Delivered().Len(); n != 2 {
		t.Errorf("process 3 delivered %d messages instead of 2", n)
	}
}

type failingNetwork struct{}

func (n failingNetwork) Send(Message) error {
	return errors.New("network failure")
}

func (n failingNetwork) Ids() []ProcessId {
	return []ProcessId{1}
}

func TestCausalSendRollback(t *testing.T) {
	p, err := NewCausalProcess(CausalProcessCfg{Logger: newTestLogger(t)})
	if err != nil {
		t.Fatal(err)
	}

	if err := p.Send(Broadcast, "lost"); !errors.Is(err, ErrNotAttached) {
		t.Errorf("unexpected error %v", err)
	}

	p.Attach(1, failingNetwork{})

	if err := p.Send(Broadcast, "lost"); err == nil {
		t.Errorf("send should fail")
	}

	if !p.Clock().IsZero() {
		t.Errorf("clock was not rolled back: %v", p.Clock())
	}
}

// Random interleavings of broadcasts and deliveries must never deliver a
// message before one which causally precedes it.
func TestCausalSafety(t *testing.T) {
	for seed := int64(1); seed <= 25; seed++ {
		t.Run(fmt.Sprintf("seed-%d", seed), func(t *testing.T) {
			testCausalSafety(t, seed)
		})
	}
}

func testCausalSafety(t *testing.T, seed int64) {
	const nbProcesses = 4
	const nbMessages = 30

	router, err := NewRouter(RouterCfg{
		Mode:   ModeAsync,
		Logger: newTestLogger(t),
		Seed:   seed,
	})
	if err != nil {
		t.Fatal(err)
	}

	processes := make([]*CausalProcess, nbProcesses)
	clocks := make([][]Timestamp, nbProcesses)

	for i := range processes {
		i := i

		var p *CausalProcess
		p, err = NewCausalProcess(CausalProcessCfg{
			Logger: newTestLogger(t),
			DeliverFunc: func(msg Message) {
				clocks[i] = append(clocks[i], p.Clock())
			},
		})
		if err != nil {
			t.Fatal(err)
		}

		registerProcess(t, router, p)
		processes[i] = p
	}

	router.Lock()

	rng := rand.New(rand.NewSource(seed))

	sent := 0
	for sent < nbMessages || router.QueueLen() > 0 {
		if sent < nbMessages && rng.Intn(3) == 0 {
			p := processes[rng.Intn(nbProcesses)]
			body := fmt.Sprintf("m%d", sent)

			if err := p.Send(Broadcast, body); err != nil {
				t.Fatal(err)
			}

			sent++
			continue
		}

		if _, err := router.DispatchRandomOne(); err != nil {
			t.Fatal(err)
		}
	}

	for i, p := range processes {
		if n := len(p.Pending()); n != 0 {
			t.Errorf("process %d has %d pending messages", i+1, n)
		}

		entries := p.Delivered().Entries()

		nbOwn := 0
		for _, msg := range entries {
			if msg.Sender == p.Id() {
				nbOwn++
			}
		}

		if nbOwn != 0 {
			t.Errorf("process %d delivered its own broadcasts", i+1)
		}

		for j := range entries {
			for k := j + 1; k < len(entries); k++ {
				if entries[k].Clock.HappenedBefore(entries[j].Clock) {
					t.Errorf("process %d delivered %v before %v",
						i+1, entries[j], entries[k])
				}
			}
		}

		for j := 1; j < len(clocks[i]); j++ {
			if !clocks[i][j-1].LessEqual(clocks[i][j]) {
				t.Errorf("clock of process %d went from %v to %v",
					i+1, clocks[i][j-1], clocks[i][j])
			}
		}
	}

	total := 0
	for _, p := range processes {
		total += p.Delivered().Len()
	}

	if total != nbMessages*(nbProcesses-1) {
		t.Errorf("%d deliveries instead of %d",
			total, nbMessages*(nbProcesses-1))
	}
}
