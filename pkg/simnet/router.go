package simnet

import (
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"
)

type ControlHandler func(Message)

type RouterCfg struct {
	Mode Mode

	Logger Logger

	// Seed of the generator used for random dispatch; zero means a seed
	// derived from the current time.
	Seed int64

	// Run a background worker dispatching one message every
	// DispatchInterval (async mode only).
	AutoDispatch     bool
	DispatchInterval time.Duration
	DispatchPolicy   DispatchPolicy

	// Called after each successful delivery.
	OnDelivery func(Message)
}

type RouterStats struct {
	Processes int    `json:"processes"`
	Locked    bool   `json:"locked"`
	Mode      Mode   `json:"mode"`
	Queued    int    `json:"queued"`
	Sent      uint64 `json:"sent"`
	Delivered uint64 `json:"delivered"`
	Dropped   uint64 `json:"dropped"`
}

// Router is the simulated network: it owns the process registry and the
// queue of messages waiting to be delivered, and decides in which order they
// reach their recipient.
type Router struct {
	Cfg RouterCfg
	Log Logger

	// Registry
	processes map[ProcessId]Process
	largestId ProcessId
	locked    bool
	registryMu sync.RWMutex

	// Queue
	queue         []Message
	randGenerator *rand.Rand
	queueMu       sync.Mutex

	controlHandler ControlHandler
	controlMu      sync.RWMutex

	nbSent      atomic.Uint64
	nbDelivered atomic.Uint64
	nbDropped   atomic.Uint64

	// Auto-dispatch worker
	errorChan chan<- error
	stopChan  chan struct{}
	wg        sync.WaitGroup
}

func NewRouter(cfg RouterCfg) (*Router, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("missing logger")
	}

	if cfg.Mode == "" {
		cfg.Mode = ModeAsync
	}

	if !cfg.Mode.Valid() {
		return nil, fmt.Errorf("invalid mode %q", cfg.Mode)
	}

	if cfg.AutoDispatch && cfg.Mode != ModeAsync {
		return nil, fmt.Errorf("auto dispatch requires %q mode", ModeAsync)
	}

	if cfg.DispatchInterval == 0 {
		cfg.DispatchInterval = time.Second
	}

	if cfg.DispatchPolicy == "" {
		cfg.DispatchPolicy = DispatchPolicyRandom
	}

	if !cfg.DispatchPolicy.Valid() {
		return nil, fmt.Errorf("invalid dispatch policy %q", cfg.DispatchPolicy)
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	r := &Router{
		Cfg: cfg,
		Log: cfg.Logger,

		processes: make(map[ProcessId]Process),

		randGenerator: rand.New(rand.NewSource(seed)),
	}

	return r, nil
}

// Register adds a process to the network and attaches it. A non-positive id
// selects the next identifier after the largest one in use.
func (r *Router) Register(p Process, id ProcessId) (ProcessId, error) {
	r.registryMu.Lock()

	if r.locked {
		r.registryMu.Unlock()
		return 0, ErrLocked
	}

	if id <= 0 {
		id = r.largestId + 1
	} else if _, found := r.processes[id]; found {
		r.registryMu.Unlock()
		return 0, &DuplicateIdError{Id: id}
	}

	if id > r.largestId {
		r.largestId = id
	}

	r.processes[id] = p

	r.registryMu.Unlock()

	p.Attach(id, r)

	r.Log.Debug(1, "registered process %d", id)

	return id, nil
}

// Lock closes the registry and starts every process. Only the first call has
// any effect.
func (r *Router) Lock() {
	r.registryMu.Lock()

	if r.locked {
		r.registryMu.Unlock()
		return
	}

	r.locked = true
	processes := r.sortedProcesses()

	r.registryMu.Unlock()

	r.Log.Info("network locked with %d processes", len(processes))

	for _, p := range processes {
		p.Start()
	}
}

func (r *Router) IsLocked() bool {
	r.registryMu.RLock()
	defer r.registryMu.RUnlock()

	return r.locked
}

func (r *Router) Ids() []ProcessId {
	r.registryMu.RLock()
	defer r.registryMu.RUnlock()

	return r.sortedIds()
}

func (r *Router) Process(id ProcessId) (Process, bool) {
	r.registryMu.RLock()
	defer r.registryMu.RUnlock()

	p, found := r.processes[id]
	return p, found
}

func (r *Router) NbProcesses() int {
	r.registryMu.RLock()
	defer r.registryMu.RUnlock()

	return len(r.processes)
}

func (r *Router) sortedIds() []ProcessId {
	ids := make([]ProcessId, 0, len(r.processes))
	for id := range r.processes {
		ids = append(ids, id)
	}

	sortIds(ids)

	return ids
}

func (r *Router) sortedProcesses() []Process {
	ids := r.sortedIds()

	processes := make([]Process, len(ids))
	for i, id := range ids {
		processes[i] = r.processes[id]
	}

	return processes
}

func (r *Router) SetControlHandler(handler ControlHandler) {
	r.controlMu.Lock()
	r.controlHandler = handler
	r.controlMu.Unlock()
}

// Send routes a message: broadcasts are copied for every process but the
// sender, control messages go to the control handler and anything else is
// queued as is. In sync mode, the queue is flushed before returning.
func (r *Router) Send(msg Message) error {
	switch {
	case msg.Recipient == NetworkControl:
		r.onControlMsg(msg)
		return nil

	case msg.Recipient == Broadcast:
		r.registryMu.RLock()
		ids := r.sortedIds()
		r.registryMu.RUnlock()

		copies := make([]Message, 0, len(ids))
		for _, id := range ids {
			if id != msg.Sender {
				copies = append(copies, msg.WithRecipient(id))
			}
		}

		r.enqueue(copies...)

	case msg.Recipient.IsProcess():
		r.enqueue(msg)

	default:
		return &InvalidRecipientError{Recipient: msg.Recipient}
	}

	if r.Cfg.Mode == ModeSync {
		r.flush()
	}

	return nil
}

func (r *Router) enqueue(msgs ...Message) {
	r.queueMu.Lock()
	r.queue = append(r.queue, msgs...)
	r.queueMu.Unlock()

	r.nbSent.Add(uint64(len(msgs)))

	for _, msg := range msgs {
		r.Log.Debug(2, "%v put in queue", msg)
	}
}

func (r *Router) onControlMsg(msg Message) {
	r.controlMu.RLock()
	handler := r.controlHandler
	r.controlMu.RUnlock()

	if handler == nil {
		r.Log.Debug(1, "control message %v discarded", msg)
		return
	}

	handler(msg)
}

// Queue returns a copy of the messages waiting to be dispatched, oldest
// first.
func (r *Router) Queue() []Message {
	r.queueMu.Lock()
	defer r.queueMu.Unlock()

	msgs := make([]Message, len(r.queue))
	copy(msgs, r.queue)

	return msgs
}

func (r *Router) QueueLen() int {
	r.queueMu.Lock()
	defer r.queueMu.Unlock()

	return len(r.queue)
}

func (r *Router) Stats() RouterStats {
	r.registryMu.RLock()
	nbProcesses := len(r.processes)
	locked := r.locked
	r.registryMu.RUnlock()

	return RouterStats{
		Processes: nbProcesses,
		Locked:    locked,
		Mode:      r.Cfg.Mode,
		Queued:    r.QueueLen(),
		Sent:      r.nbSent.Load(),
		Delivered: r.nbDelivered.Load(),
		Dropped:   r.nbDropped.Load(),
	}
}

// deliver hands a message to its recipient. It must be called without any
// router lock held since the recipient may send messages in turn.
func (r *Router) deliver(msg Message) error {
	p, found := r.Process(msg.Recipient)
	if !found {
		err := &UnknownRecipientError{Message: msg}

		r.nbDropped.Add(1)
		r.Log.Error("cannot deliver message: %v", err)

		return err
	}

	r.Log.Debug(2, "delivering %v", msg)

	p.Receive(msg)

	if !msg.IsControl() {
		r.nbDelivered.Add(1)

		if r.Cfg.OnDelivery != nil {
			r.Cfg.OnDelivery(msg)
		}
	}

	return nil
}
