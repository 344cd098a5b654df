package simnet

import (
	"fmt"
	"sync"
)

type DeliverFunc func(Message)

type CausalProcessCfg struct {
	Logger Logger

	// Called, with the process lock held, for every message delivered to the
	// application. It must not send through the same process.
	DeliverFunc DeliverFunc
}

// CausalProcess implements the Birman-Schiper-Stephenson protocol: broadcast
// messages are delivered in causal order, using a vector clock and a buffer
// of messages whose causal predecessors have not been delivered yet.
type CausalProcess struct {
	node

	Cfg CausalProcessCfg

	clock     *VectorClock
	buffer    []Message
	delivered *DeliveryLog

	mu sync.Mutex
}

func NewCausalProcess(cfg CausalProcessCfg) (*CausalProcess, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("missing logger")
	}

	p := &CausalProcess{
		node: node{
			Log: cfg.Logger,
		},

		Cfg: cfg,

		clock:     NewVectorClock(),
		delivered: NewDeliveryLog(),
	}

	return p, nil
}

func (p *CausalProcess) Start() {
}

func (p *CausalProcess) Receive(msg Message) {
	if msg.IsPulse() {
		p.signalReady()
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if msg.Sender == p.Id() {
		// Our own entry was already increased when the message was sent.
		p.deliverMsg(msg)
		return
	}

	p.clock.Increase(msg.Sender)

	if !p.clock.GreaterEqual(msg.Clock) {
		p.clock.Decrease(msg.Sender)

		p.Log.Debug(1, "process %d buffering %v (clock: %v)",
			p.Id(), msg, p.clock)
		p.buffer = append(p.buffer, msg)

		return
	}

	p.deliverMsg(msg)
	p.releaseBuffered()
}

// releaseBuffered delivers buffered messages until none of them is ready. The
// scan restarts after each delivery since any delivery can unblock messages
// seen earlier in the buffer.
func (p *CausalProcess) releaseBuffered() {
	for progress := true; progress; {
		progress = false

		for i, msg := range p.buffer {
			p.clock.Increase(msg.Sender)

			if !p.clock.GreaterEqual(msg.Clock) {
				p.clock.Decrease(msg.Sender)
				continue
			}

			p.buffer = append(p.buffer[:i:i], p.buffer[i+1:]...)
			p.deliverMsg(msg)

			progress = true
			break
		}
	}
}

func (p *CausalProcess) deliverMsg(msg Message) {
	p.Log.Debug(1, "process %d delivering %v", p.Id(), msg)

	p.delivered.Append(msg)

	if p.Cfg.DeliverFunc != nil {
		p.Cfg.DeliverFunc(msg)
	}
}

// Send stamps the message with the process clock and hands it to the
// network. The router is called without the process lock held: in sync mode
// the send flushes the queue, which may deliver messages back to us.
func (p *CausalProcess) Send(recipient ProcessId, body string) error {
	id := p.Id()

	p.mu.Lock()
	p.clock.Increase(id)
	msg := NewClockedMessage(id, recipient, p.clock.Snapshot(), body)
	p.mu.Unlock()

	if err := p.sendMsg(msg); err != nil {
		p.mu.Lock()
		p.clock.Decrease(id)
		p.mu.Unlock()

		return fmt.Errorf("cannot send %v: %w", msg, err)
	}

	return nil
}

func (p *CausalProcess) Clock() Timestamp {
	return p.clock.Snapshot()
}

func (p *CausalProcess) Delivered() *DeliveryLog {
	return p.delivered
}

func (p *CausalProcess) Pending() []Message {
	p.mu.Lock()
	defer p.mu.Unlock()

	msgs := make([]Message, len(p.buffer))
	copy(msgs, p.buffer)

	return msgs
}

// Ready returns true if msg would be delivered right away if it was received
// now.
func (p *CausalProcess) Ready(msg Message) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	clock := p.clock.Copy()
	clock.Increase(msg.Sender)

	return clock.GreaterEqual(msg.Clock)
}
