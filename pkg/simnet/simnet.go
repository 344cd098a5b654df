package simnet

import "fmt"

type ProcessId int

const (
	// Broadcast makes the router deliver a copy of the message to every
	// registered process except the sender.
	Broadcast ProcessId = -1

	// NetworkControl addresses the network itself; such messages are handed
	// to the control handler and never queued.
	NetworkControl ProcessId = -2

	// AutoIncrement (or any non-positive id) asks the router to allocate the
	// next free identifier on registration.
	AutoIncrement ProcessId = 0
)

const (
	// Sent by a process to NetworkControl once it is done with a round.
	ReadyRound = "READY_ROUND"

	// Sent by the network to a process to start a new round.
	PulseRound = "PULSE_ROUND"
)

func (id ProcessId) String() string {
	switch id {
	case Broadcast:
		return "broadcast"
	case NetworkControl:
		return "network"
	default:
		return fmt.Sprintf("%d", int(id))
	}
}

func (id ProcessId) IsProcess() bool {
	return id > 0
}

type Mode string

const (
	// Messages stay in the queue until explicitly dispatched.
	ModeAsync Mode = "async"

	// Every send flushes the queue before returning.
	ModeSync Mode = "sync"

	// Messages stay in the queue until the round coordinator flushes them at
	// the beginning of the next round.
	ModeRounds Mode = "rounds"
)

var Modes = []Mode{ModeAsync, ModeSync, ModeRounds}

func (m Mode) Valid() bool {
	switch m {
	case ModeAsync, ModeSync, ModeRounds:
		return true
	}

	return false
}

type DispatchPolicy string

const (
	DispatchPolicySequential DispatchPolicy = "sequential"
	DispatchPolicyRandom     DispatchPolicy = "random"
)

func (p DispatchPolicy) Valid() bool {
	return p == DispatchPolicySequential || p == DispatchPolicyRandom
}
