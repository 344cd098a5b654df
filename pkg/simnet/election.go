package simnet

import (
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"sync"
)

const (
	CandidacyPrefix = "MSG_CAN"
	AckPrefix       = "MSG_ACK"
)

var (
	ErrAlreadyCandidate = errors.New("process is already a candidate")
	ErrAlreadyElected   = errors.New("process is already elected")
)

func EncodeCandidacy(level int, id ProcessId) string {
	return fmt.Sprintf("%s|%d|%d", CandidacyPrefix, level, id)
}

func DecodeCandidacy(body string) (int, ProcessId, error) {
	payload, found := strings.CutPrefix(body, CandidacyPrefix+"|")
	if !found {
		return 0, 0, fmt.Errorf("missing %s prefix", CandidacyPrefix)
	}

	levelString, idString, found := strings.Cut(payload, "|")
	if !found {
		return 0, 0, fmt.Errorf("invalid candidacy payload %q", payload)
	}

	level, err := strconv.Atoi(levelString)
	if err != nil || level < 0 {
		return 0, 0, fmt.Errorf("invalid level %q", levelString)
	}

	id, err := strconv.Atoi(idString)
	if err != nil || id <= 0 {
		return 0, 0, fmt.Errorf("invalid process id %q", idString)
	}

	return level, ProcessId(id), nil
}

// Claim is a (level, id) pair; claims are ordered by level, then by id.
type Claim struct {
	Level int       `json:"level"`
	Id    ProcessId `json:"id"`
}

func (c Claim) GreaterThan(c2 Claim) bool {
	if c.Level != c2.Level {
		return c.Level > c2.Level
	}

	return c.Id > c2.Id
}

func (c Claim) String() string {
	return fmt.Sprintf("(%d, %d)", c.Level, c.Id)
}

type candidacy struct {
	Claim
	link ProcessId
}

type ElectionStatus string

const (
	ElectionStatusOrdinary  ElectionStatus = "ordinary"
	ElectionStatusCandidate ElectionStatus = "candidate"
	ElectionStatusWithdrawn ElectionStatus = "withdrawn"
	ElectionStatusElected   ElectionStatus = "elected"
)

// LevelRecord describes the announcements sent by a candidate at a level.
type LevelRecord struct {
	Level     int `json:"level"`
	Contacted int `json:"contacted"`
	Remaining int `json:"remaining"`
}

type ElectionState struct {
	Id             ProcessId      `json:"id"`
	Status         ElectionStatus `json:"status"`
	CandidateLevel int            `json:"candidateLevel"`
	Relay          Claim          `json:"relay"`
	Owner          ProcessId      `json:"owner"`
	RelayRounds    int            `json:"relayRounds"`
	RemainingLinks int            `json:"remainingLinks"`
	AcksTarget     int            `json:"acksTarget"`
	History        []LevelRecord  `json:"history"`
}

type ElectionProcessCfg struct {
	Logger Logger

	// Contact links in an order shuffled by a generator seeded with the
	// process id instead of ascending id order.
	ShuffleLinks bool
}

// ElectionProcess runs the synchronous leader election protocol: candidates
// contact a doubling number of links every other round and survive as long
// as every contacted link acknowledges them; every process relays by
// acknowledging the largest claim it has seen.
type ElectionProcess struct {
	node

	Cfg ElectionProcessCfg

	candidate bool
	withdrawn bool
	elected   bool

	candidateLevel int
	remainingLinks []ProcessId
	acksTarget     int
	acksReceived   int
	history        []LevelRecord

	relay       Claim
	owner       ProcessId
	relayRounds int
	pending     []candidacy

	mu sync.Mutex
}

func NewElectionProcess(cfg ElectionProcessCfg) (*ElectionProcess, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("missing logger")
	}

	p := &ElectionProcess{
		node: node{
			Log: cfg.Logger,
		},

		Cfg: cfg,

		candidateLevel: -1,
	}

	return p, nil
}

func (p *ElectionProcess) Attach(id ProcessId, network Network) {
	p.node.Attach(id, network)

	p.mu.Lock()
	p.relay = Claim{Level: -1, Id: id}
	p.owner = id
	p.mu.Unlock()
}

func (p *ElectionProcess) Start() {
}

// StartCandidate turns the process into a candidate; its first level is
// played on the next round pulse.
func (p *ElectionProcess) StartCandidate() error {
	links := p.otherIds()

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.elected {
		return ErrAlreadyElected
	}

	if p.candidate || p.withdrawn {
		return ErrAlreadyCandidate
	}

	if p.Cfg.ShuffleLinks {
		rng := rand.New(rand.NewSource(int64(p.Id())))
		rng.Shuffle(len(links), func(i, j int) {
			links[i], links[j] = links[j], links[i]
		})
	}

	p.candidate = true
	p.candidateLevel = -1
	p.remainingLinks = links
	p.acksTarget = 0
	p.acksReceived = 0

	p.Log.Info("process %d is now a candidate with %d links",
		p.Id(), len(links))

	return nil
}

func (p *ElectionProcess) Receive(msg Message) {
	if msg.IsPulse() {
		p.onRoundPulse()
		return
	}

	switch {
	case strings.HasPrefix(msg.Body, CandidacyPrefix):
		level, id, err := DecodeCandidacy(msg.Body)
		if err != nil {
			p.Log.Error("process %d received invalid candidacy %v: %v",
				p.Id(), msg, err)
			return
		}

		p.mu.Lock()
		p.pending = append(p.pending, candidacy{
			Claim: Claim{Level: level, Id: id},
			link:  msg.Sender,
		})
		p.mu.Unlock()

	case strings.HasPrefix(msg.Body, AckPrefix):
		p.mu.Lock()
		p.acksReceived++
		p.mu.Unlock()

	default:
		p.Log.Error("process %d received unexpected message %v", p.Id(), msg)
	}
}

func (p *ElectionProcess) Send(recipient ProcessId, body string) error {
	return p.sendMsg(NewMessage(p.Id(), recipient, body))
}

func (p *ElectionProcess) onRoundPulse() {
	p.mu.Lock()
	msgs := p.candidateRound()
	msgs = append(msgs, p.ordinaryRound()...)
	p.acksReceived = 0
	p.mu.Unlock()

	for _, msg := range msgs {
		if err := p.sendMsg(msg); err != nil {
			p.Log.Error("process %d cannot send %v: %v", p.Id(), msg, err)
		}
	}

	p.signalReady()
}

func (p *ElectionProcess) candidateRound() []Message {
	if !p.candidate || p.elected {
		return nil
	}

	id := p.Id()

	p.candidateLevel++

	if p.candidateLevel%2 != 0 {
		return nil
	}

	if p.acksReceived < p.acksTarget {
		p.Log.Info("process %d withdraws at level %d (%d/%d acks)",
			id, p.candidateLevel, p.acksReceived, p.acksTarget)

		p.candidate = false
		p.withdrawn = true

		return nil
	}

	if len(p.remainingLinks) == 0 {
		p.Log.Info("process %d is elected at level %d", id, p.candidateLevel)

		p.candidate = false
		p.elected = true

		return nil
	}

	nbLinks := 1 << (p.candidateLevel / 2)
	if nbLinks > len(p.remainingLinks) {
		nbLinks = len(p.remainingLinks)
	}

	p.history = append(p.history, LevelRecord{
		Level:     p.candidateLevel,
		Contacted: nbLinks,
		Remaining: len(p.remainingLinks),
	})

	p.acksTarget = nbLinks

	links := p.remainingLinks[:nbLinks]
	p.remainingLinks = p.remainingLinks[nbLinks:]

	body := EncodeCandidacy(p.candidateLevel, id)

	msgs := make([]Message, len(links))
	for i, link := range links {
		msgs[i] = NewMessage(id, link, body)
	}

	p.Log.Debug(1, "process %d contacting %d links at level %d",
		id, nbLinks, p.candidateLevel)

	return msgs
}

func (p *ElectionProcess) ordinaryRound() []Message {
	var msgs []Message

	if len(p.pending) > 0 {
		best := p.pending[0]
		for _, c := range p.pending[1:] {
			if c.GreaterThan(best.Claim) {
				best = c
			}
		}

		if best.GreaterThan(p.relay) {
			p.Log.Debug(1, "process %d adopting %v from %d",
				p.Id(), best.Claim, best.link)

			p.relay = best.Claim
			p.owner = best.link

			msgs = append(msgs, NewMessage(p.Id(), best.link, AckPrefix))
		}

		p.pending = nil
	}

	p.relayRounds++

	// A process defends its own candidacy: in the next round, claims are
	// compared against the level it has reached so far.
	if p.candidate || p.elected {
		claim := Claim{Level: p.candidateLevel, Id: p.Id()}
		if claim.GreaterThan(p.relay) {
			p.relay = claim
			p.owner = claim.Id
		}
	}

	return msgs
}

func (p *ElectionProcess) Status() ElectionStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.status()
}

func (p *ElectionProcess) status() ElectionStatus {
	switch {
	case p.elected:
		return ElectionStatusElected
	case p.candidate:
		return ElectionStatusCandidate
	case p.withdrawn:
		return ElectionStatusWithdrawn
	default:
		return ElectionStatusOrdinary
	}
}

func (p *ElectionProcess) IsElected() bool {
	return p.Status() == ElectionStatusElected
}

func (p *ElectionProcess) IsCandidate() bool {
	return p.Status() == ElectionStatusCandidate
}

func (p *ElectionProcess) State() ElectionState {
	p.mu.Lock()
	defer p.mu.Unlock()

	history := make([]LevelRecord, len(p.history))
	copy(history, p.history)

	return ElectionState{
		Id:             p.Id(),
		Status:         p.status(),
		CandidateLevel: p.candidateLevel,
		Relay:          p.relay,
		Owner:          p.owner,
		RelayRounds:    p.relayRounds,
		RemainingLinks: len(p.remainingLinks),
		AcksTarget:     p.acksTarget,
		History:        history,
	}
}
