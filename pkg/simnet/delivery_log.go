package simnet

import "sync"

// DeliveryLog is the append-only record of the messages delivered to the
// application by a process.
type DeliveryLog struct {
	entries []Message

	mu sync.Mutex
}

func NewDeliveryLog() *DeliveryLog {
	return &DeliveryLog{}
}

func (l *DeliveryLog) Append(msg Message) {
	l.mu.Lock()
	l.entries = append(l.entries, msg)
	l.mu.Unlock()
}

func (l *DeliveryLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.entries)
}

func (l *DeliveryLog) Last() (Message, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.entries) == 0 {
		return Message{}, false
	}

	return l.entries[len(l.entries)-1], true
}

func (l *DeliveryLog) Entries() []Message {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries := make([]Message, len(l.entries))
	copy(entries, l.entries)

	return entries
}

func (l *DeliveryLog) Bodies() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	bodies := make([]string, len(l.entries))
	for i, msg := range l.entries {
		bodies[i] = msg.Body
	}

	return bodies
}

// IndexOf returns the position of the first delivered message with the given
// body, or -1 if there is none.
func (l *DeliveryLog) IndexOf(body string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i, msg := range l.entries {
		if msg.Body == body {
			return i
		}
	}

	return -1
}
