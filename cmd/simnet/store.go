package main

import (
	"sync"
	"time"

	"github.com/galdor/go-simnet/pkg/simnet"
)

type TraceEntry struct {
	Seq     uint64         `json:"seq"`
	Time    time.Time      `json:"time"`
	Message simnet.Message `json:"message"`
}

// TraceStore keeps the last deliveries of the network, oldest first.
type TraceStore struct {
	Size int

	entries []TraceEntry
	nextSeq uint64

	mu sync.RWMutex
}

func NewTraceStore(size int) *TraceStore {
	if size <= 0 {
		size = 1000
	}

	s := TraceStore{
		Size: size,
	}

	return &s
}

func (s *TraceStore) Add(msg simnet.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextSeq++

	s.entries = append(s.entries, TraceEntry{
		Seq:     s.nextSeq,
		Time:    time.Now().UTC(),
		Message: msg,
	})

	if len(s.entries) > s.Size {
		s.entries = s.entries[len(s.entries)-s.Size:]
	}
}

// Entries returns the entries whose sequence number is greater than
// afterSeq.
func (s *TraceStore) Entries(afterSeq uint64) []TraceEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var entries []TraceEntry
	for _, entry := range s.entries {
		if entry.Seq > afterSeq {
			entries = append(entries, entry)
		}
	}

	return entries
}

func (s *TraceStore) Clear() {
	s.mu.Lock()
	s.entries = nil
	s.mu.Unlock()
}
