package simnet

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

type roundEvent struct {
	kind  string
	round int
	id    ProcessId
}

type recordingObserver struct {
	events []roundEvent
	mu     sync.Mutex
}

func (o *recordingObserver) OnPulse(round int, id ProcessId) {
	o.mu.Lock()
	o.events = append(o.events, roundEvent{"pulse", round, id})
	o.mu.Unlock()
}

func (o *recordingObserver) OnReady(round int, id ProcessId) {
	o.mu.Lock()
	o.events = append(o.events, roundEvent{"ready", round, id})
	o.mu.Unlock()
}

// ringProcess sends a message to its successor on every pulse and counts the
// messages received since the last pulse.
type ringProcess struct {
	node

	nbReadySignals int

	rounds   int
	received []int
	current  int
	mu       sync.Mutex
}

func (p *ringProcess) Start() {
}

func (p *ringProcess) Receive(msg Message) {
	if !msg.IsPulse() {
		p.mu.Lock()
		p.current++
		p.mu.Unlock()
		return
	}

	p.mu.Lock()
	if p.rounds > 0 {
		p.received = append(p.received, p.current)
	}
	p.rounds++
	p.current = 0
	p.mu.Unlock()

	ids := p.Network().Ids()
	next := ids[0]
	for _, id := range ids {
		if id > p.Id() {
			next = id
			break
		}
	}

	p.Send(next, fmt.Sprintf("round %d", p.rounds))

	for i := 0; i < p.nbReadySignals; i++ {
		p.signalReady()
	}
}

func (p *ringProcess) Send(recipient ProcessId, body string) error {
	return p.sendMsg(NewMessage(p.Id(), recipient, body))
}

func newTestCoordinator(t *testing.T, n int, nbReadySignals int, observer RoundObserver) (*Coordinator, []*ringProcess) {
	t.Helper()

	router := newTestRouter(t, ModeRounds)

	coordinator, err := NewCoordinator(router, CoordinatorCfg{
		Observer: observer,
	})
	if err != nil {
		t.Fatal(err)
	}

	processes := make([]*ringProcess, n)
	for i := range processes {
		p := &ringProcess{
			node:           node{Log: newTestLogger(t)},
			nbReadySignals: nbReadySignals,
		}

		registerProcess(t, router, p)
		processes[i] = p
	}

	router.Lock()

	return coordinator, processes
}

func TestCoordinatorBarrier(t *testing.T) {
	observer := &recordingObserver{}
	coordinator, processes := newTestCoordinator(t, 5, 1, observer)

	ctx := context.Background()

	const nbRounds = 6
	for i := 0; i < nbRounds; i++ {
		if err := coordinator.AdvanceRound(ctx); err != nil {
			t.Fatalf("cannot advance round: %v", err)
		}
	}

	if round := coordinator.Round(); round != nbRounds {
		t.Errorf("round is %d instead of %d", round, nbRounds)
	}

	// Messages sent during a round are all received before the next pulse.
	for i, p := range processes {
		if len(p.received) != nbRounds-1 {
			t.Fatalf("process %d: %v", i+1, p.received)
		}

		for r, n := range p.received {
			if n != 1 {
				t.Errorf("process %d received %d messages in round %d",
					i+1, n, r+1)
			}
		}
	}

	// No pulse of a round before every readiness of the previous one.
	pending := 0
	lastRound := 0
	for _, event := range observer.events {
		switch event.kind {
		case "pulse":
			if event.round != lastRound {
				if pending != 0 {
					t.Fatalf("round %d started with %d processes not ready",
						event.round, pending)
				}

				lastRound = event.round
			}

			pending++

		case "ready":
			if event.round != lastRound {
				t.Fatalf("readiness for round %d during round %d",
					event.round, lastRound)
			}

			pending--
		}
	}

	if pending != 0 {
		t.Errorf("%d processes not ready at the end", pending)
	}
}

func TestCoordinatorDoubleReadiness(t *testing.T) {
	coordinator, _ := newTestCoordinator(t, 1, 2, nil)

	ctx := context.Background()

	err := coordinator.AdvanceRound(ctx)
	if err == nil {
		// The second signal may arrive once the round is over.
		waitFor(t, 5*time.Second, func() bool {
			return coordinator.Err() != nil
		})

		err = coordinator.AdvanceRound(ctx)
	}

	var readinessErr *DoubleReadinessError
	if !errors.As(err, &readinessErr) {
		t.Fatalf("unexpected error %v", err)
	}

	if readinessErr.Id != 1 || readinessErr.Round != 1 {
		t.Errorf("unexpected error %v", readinessErr)
	}

	if err := coordinator.AdvanceRound(ctx); !errors.As(err, &readinessErr) {
		t.Errorf("failure is not persistent: %v", err)
	}
}

func TestCoordinatorInterruption(t *testing.T) {
	coordinator, _ := newTestCoordinator(t, 2, 0, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := coordinator.AdvanceRound(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("unexpected error %v", err)
	}
}

func TestCoordinatorRunUntil(t *testing.T) {
	coordinator, _ := newTestCoordinator(t, 3, 1, nil)

	ctx := context.Background()

	n, err := coordinator.RunUntil(ctx, 10, func() bool {
		return coordinator.Round() == 4
	})
	if err != nil {
		t.Fatal(err)
	}

	if n != 4 {
		t.Errorf("%d rounds played instead of 4", n)
	}

	if _, err := coordinator.RunUntil(ctx, 3, func() bool { return false }); err == nil {
		t.Errorf("RunUntil should fail when the condition is never reached")
	}
}

func TestCoordinatorAutoAdvance(t *testing.T) {
	router := newTestRouter(t, ModeRounds)

	coordinator, err := NewCoordinator(router, CoordinatorCfg{
		AutoAdvance:   true,
		RoundInterval: time.Millisecond,
	})
	if err != nil {
		t.Fatal(err)
	}

	registerProcess(t, router, newTestEchoProcess(t, ""))
	router.Lock()

	errorChan := make(chan error, 1)
	if err := coordinator.Start(errorChan); err != nil {
		t.Fatal(err)
	}

	waitFor(t, 5*time.Second, func() bool {
		return coordinator.Round() >= 3
	})

	coordinator.Stop()

	select {
	case err := <-errorChan:
		t.Errorf("coordinator error: %v", err)
	default:
	}
}
