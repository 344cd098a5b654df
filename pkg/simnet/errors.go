package simnet

import (
	"errors"
	"fmt"
)

var (
	ErrLocked           = errors.New("network is locked")
	ErrDispatchDisabled = errors.New("manual dispatch is disabled in rounds mode")
	ErrNotAttached      = errors.New("process is not attached to a network")
)

type DuplicateIdError struct {
	Id ProcessId
}

func (err *DuplicateIdError) Error() string {
	return fmt.Sprintf("process id %d is already in use", err.Id)
}

type InvalidRecipientError struct {
	Recipient ProcessId
}

func (err *InvalidRecipientError) Error() string {
	return fmt.Sprintf("invalid recipient %d", err.Recipient)
}

type UnknownRecipientError struct {
	Message Message
}

func (err *UnknownRecipientError) Error() string {
	return fmt.Sprintf("unknown recipient %d for message %v",
		err.Message.Recipient, err.Message)
}

// DoubleReadinessError is returned by the coordinator when a process signals
// readiness twice for the same round; it always denotes a protocol bug.
type DoubleReadinessError struct {
	Id    ProcessId
	Round int
}

func (err *DoubleReadinessError) Error() string {
	return fmt.Sprintf("process %d signaled readiness twice in round %d",
		err.Id, err.Round)
}
