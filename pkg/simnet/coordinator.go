package simnet

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// RoundObserver is notified of every pulse sent and every readiness signal
// accepted by a coordinator. Methods are called from the goroutine running
// the round.
type RoundObserver interface {
	OnPulse(round int, id ProcessId)
	OnReady(round int, id ProcessId)
}

type CoordinatorCfg struct {
	Logger Logger

	// Advance rounds automatically every RoundInterval once started.
	AutoAdvance   bool
	RoundInterval time.Duration

	Observer RoundObserver
}

// Coordinator drives the round barrier: a round starts by flushing the
// network queue and pulsing every process, and ends once every process has
// signaled readiness.
type Coordinator struct {
	Cfg CoordinatorCfg
	Log Logger

	router *Router

	round     int
	inRound   bool
	readyChan chan ProcessId
	lastReady map[ProcessId]bool
	failure   error
	mu        sync.Mutex

	advanceMu sync.Mutex

	errorChan chan<- error
	stopChan  chan struct{}
	wg        sync.WaitGroup
}

func NewCoordinator(router *Router, cfg CoordinatorCfg) (*Coordinator, error) {
	if router == nil {
		return nil, fmt.Errorf("missing router")
	}

	if cfg.Logger == nil {
		cfg.Logger = router.Log
	}

	if cfg.RoundInterval == 0 {
		cfg.RoundInterval = time.Second
	}

	c := &Coordinator{
		Cfg: cfg,
		Log: cfg.Logger,

		router: router,
	}

	router.SetControlHandler(c.onControlMsg)

	return c, nil
}

func (c *Coordinator) Round() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.round
}

// Err returns the fatal error which stopped the coordinator, if any.
func (c *Coordinator) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.failure
}

// AdvanceRound runs a complete round and blocks until every registered
// process has signaled readiness or ctx is done.
func (c *Coordinator) AdvanceRound(ctx context.Context) error {
	c.advanceMu.Lock()
	defer c.advanceMu.Unlock()

	if err := c.Err(); err != nil {
		return err
	}

	c.router.flush()

	ids := c.router.Ids()

	c.mu.Lock()
	c.round++
	round := c.round
	readyChan := make(chan ProcessId, 2*len(ids)+1)
	c.readyChan = readyChan
	c.inRound = true
	c.mu.Unlock()

	c.Log.Debug(1, "starting round %d with %d processes", round, len(ids))

	participants := make(map[ProcessId]bool, len(ids))
	for _, id := range ids {
		participants[id] = true

		if c.Cfg.Observer != nil {
			c.Cfg.Observer.OnPulse(round, id)
		}

		go c.pulse(NewMessage(NetworkControl, id, PulseRound))
	}

	ready := make(map[ProcessId]bool, len(ids))

	err := c.waitReadiness(ctx, round, participants, ready)

	c.mu.Lock()
	c.inRound = false
	c.readyChan = nil
	c.lastReady = ready
	if err == nil {
		err = c.drainReadiness(readyChan, round, ready)
	}
	if _, ok := err.(*DoubleReadinessError); ok {
		c.failure = err
	}
	c.mu.Unlock()

	if err != nil {
		return err
	}

	c.Log.Debug(1, "round %d complete", round)

	return nil
}

func (c *Coordinator) waitReadiness(ctx context.Context, round int, participants, ready map[ProcessId]bool) error {
	c.mu.Lock()
	readyChan := c.readyChan
	c.mu.Unlock()

	for len(ready) < len(participants) {
		select {
		case <-ctx.Done():
			return fmt.Errorf("round %d interrupted with %d/%d ready "+
				"processes: %w", round, len(ready), len(participants),
				ctx.Err())

		case id := <-readyChan:
			if !participants[id] {
				c.Log.Error("ignoring readiness from process %d which is "+
					"not part of round %d", id, round)
				continue
			}

			if ready[id] {
				err := &DoubleReadinessError{Id: id, Round: round}
				c.Log.Error("%v", err)
				return err
			}

			ready[id] = true

			if c.Cfg.Observer != nil {
				c.Cfg.Observer.OnReady(round, id)
			}
		}
	}

	return nil
}

// drainReadiness checks signals which reached the channel after the last
// expected one. It must be called with c.mu held.
func (c *Coordinator) drainReadiness(readyChan chan ProcessId, round int, ready map[ProcessId]bool) error {
	for {
		select {
		case id := <-readyChan:
			if ready[id] {
				err := &DoubleReadinessError{Id: id, Round: round}
				c.Log.Error("%v", err)
				return err
			}

			c.Log.Error("ignoring readiness from process %d which is not "+
				"part of round %d", id, round)

		default:
			return nil
		}
	}
}

func (c *Coordinator) pulse(msg Message) {
	defer func() {
		if value := recover(); value != nil {
			msg := RecoverValueString(value)
			trace := StackTrace(10)
			c.Log.Error("panic during round pulse: %s\n%s", msg, trace)
		}
	}()

	c.router.deliver(msg)
}

func (c *Coordinator) onControlMsg(msg Message) {
	if msg.Body != ReadyRound {
		c.Log.Error("unexpected control message %v", msg)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.inRound {
		select {
		case c.readyChan <- msg.Sender:
		default:
			c.Log.Error("dropping readiness from process %d: too many "+
				"signals in round %d", msg.Sender, c.round)
		}

		return
	}

	if c.lastReady[msg.Sender] {
		err := &DoubleReadinessError{Id: msg.Sender, Round: c.round}
		c.Log.Error("%v", err)

		if c.failure == nil {
			c.failure = err
		}

		return
	}

	c.Log.Error("ignoring readiness from process %d outside of a round",
		msg.Sender)
}

// RunUntil advances rounds until stop returns true, and returns the number
// of rounds played. It fails if stop is still false after maxRounds rounds.
func (c *Coordinator) RunUntil(ctx context.Context, maxRounds int, stop func() bool) (int, error) {
	for n := 0; n < maxRounds; n++ {
		if stop() {
			return n, nil
		}

		if err := c.AdvanceRound(ctx); err != nil {
			return n, err
		}
	}

	if stop() {
		return maxRounds, nil
	}

	return maxRounds, fmt.Errorf("stop condition not reached after %d rounds",
		maxRounds)
}

// Start launches automatic round advancement if it is enabled.
func (c *Coordinator) Start(errorChan chan<- error) error {
	if !c.Cfg.AutoAdvance {
		return nil
	}

	if c.stopChan != nil {
		return fmt.Errorf("coordinator already started")
	}

	c.errorChan = errorChan
	c.stopChan = make(chan struct{})

	c.wg.Add(1)
	go c.main()

	return nil
}

func (c *Coordinator) Stop() {
	if c.stopChan == nil {
		return
	}

	close(c.stopChan)
	c.wg.Wait()

	c.stopChan = nil
}

func (c *Coordinator) main() {
	defer c.wg.Done()

	defer func() {
		if value := recover(); value != nil {
			msg := RecoverValueString(value)
			trace := StackTrace(10)
			c.Log.Error("panic: %s\n%s", msg, trace)

			c.reportError(fmt.Errorf("panic: %s", msg))
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		select {
		case <-c.stopChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	ticker := time.NewTicker(c.Cfg.RoundInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopChan:
			return

		case <-ticker.C:
			if err := c.AdvanceRound(ctx); err != nil {
				if ctx.Err() != nil {
					return
				}

				c.Log.Error("cannot advance round: %v", err)
				c.reportError(err)
				return
			}
		}
	}
}

func (c *Coordinator) reportError(err error) {
	if c.errorChan == nil {
		return
	}

	select {
	case c.errorChan <- err:
	default:
	}
}
