package simnet

import (
	"encoding/json"
	"fmt"
)

// Message is the only unit of communication between processes. It is a
// value: the router and processes build new messages instead of modifying
// existing ones.
type Message struct {
	Sender    ProcessId
	Recipient ProcessId
	Clock     Timestamp
	Body      string
}

func NewMessage(sender, recipient ProcessId, body string) Message {
	return Message{
		Sender:    sender,
		Recipient: recipient,
		Body:      body,
	}
}

func NewClockedMessage(sender, recipient ProcessId, clock Timestamp, body string) Message {
	return Message{
		Sender:    sender,
		Recipient: recipient,
		Clock:     clock,
		Body:      body,
	}
}

func (msg Message) WithRecipient(recipient ProcessId) Message {
	msg.Recipient = recipient
	return msg
}

func (msg Message) IsControl() bool {
	return msg.Sender == NetworkControl || msg.Recipient == NetworkControl
}

func (msg Message) IsPulse() bool {
	return msg.Sender == NetworkControl && msg.Body == PulseRound
}

func (msg Message) IsReady() bool {
	return msg.Recipient == NetworkControl && msg.Body == ReadyRound
}

func (msg Message) String() string {
	if msg.Clock.IsZero() {
		return fmt.Sprintf("Message{%v -> %v, %q}",
			msg.Sender, msg.Recipient, msg.Body)
	}

	return fmt.Sprintf("Message{%v -> %v, clock: %v, %q}",
		msg.Sender, msg.Recipient, msg.Clock, msg.Body)
}

type messageValue struct {
	Sender    ProcessId  `json:"sender"`
	Recipient ProcessId  `json:"recipient"`
	Clock     *Timestamp `json:"clock,omitempty"`
	Body      string     `json:"body"`
}

func (msg Message) MarshalJSON() ([]byte, error) {
	value := messageValue{
		Sender:    msg.Sender,
		Recipient: msg.Recipient,
		Body:      msg.Body,
	}

	if !msg.Clock.IsZero() {
		value.Clock = &msg.Clock
	}

	return json.Marshal(value)
}

func (msg *Message) UnmarshalJSON(data []byte) error {
	var value messageValue

	if err := json.Unmarshal(data, &value); err != nil {
		return err
	}

	*msg = Message{
		Sender:    value.Sender,
		Recipient: value.Recipient,
		Body:      value.Body,
	}

	if value.Clock != nil {
		msg.Clock = *value.Clock
	}

	return nil
}

func EncodeMessage(msg Message) ([]byte, error) {
	return json.Marshal(msg)
}

func DecodeMessage(data []byte) (Message, error) {
	var msg Message

	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("cannot decode json data: %w", err)
	}

	if msg.Sender == 0 || msg.Sender < NetworkControl {
		return Message{}, fmt.Errorf("invalid sender %d", msg.Sender)
	}

	return msg, nil
}
