package simnet

import "sync"

// Network is the view a process has of the router.
type Network interface {
	Send(Message) error
	Ids() []ProcessId
}

// Process is a participant of the simulation. The router attaches it once
// registered, starts it when the network is locked, and calls Receive for
// every message addressed to it, including PULSE_ROUND control messages.
//
// Receive may be called concurrently with Send; implementations serialize
// their own state.
type Process interface {
	Id() ProcessId
	Attach(ProcessId, Network)
	Start()
	Receive(Message)
	Send(ProcessId, string) error
}

// node holds what every process kind needs to reach the network.
type node struct {
	Log Logger

	id      ProcessId
	network Network

	nodeMu sync.RWMutex
}

func (n *node) Id() ProcessId {
	n.nodeMu.RLock()
	defer n.nodeMu.RUnlock()

	return n.id
}

func (n *node) Attach(id ProcessId, network Network) {
	n.nodeMu.Lock()
	defer n.nodeMu.Unlock()

	n.id = id
	n.network = network
}

func (n *node) Network() Network {
	n.nodeMu.RLock()
	defer n.nodeMu.RUnlock()

	return n.network
}

func (n *node) sendMsg(msg Message) error {
	network := n.Network()
	if network == nil {
		return ErrNotAttached
	}

	return network.Send(msg)
}

func (n *node) signalReady() {
	id := n.Id()

	if err := n.sendMsg(NewMessage(id, NetworkControl, ReadyRound)); err != nil {
		n.Log.Error("process %d cannot signal readiness: %v", id, err)
	}
}

// otherIds returns the identifiers of all registered processes except the
// current one, in ascending order.
func (n *node) otherIds() []ProcessId {
	network := n.Network()
	if network == nil {
		return nil
	}

	self := n.Id()

	var ids []ProcessId
	for _, id := range network.Ids() {
		if id != self {
			ids = append(ids, id)
		}
	}

	sortIds(ids)

	return ids
}
