package simulation

import (
	"context"
	"fmt"
	"time"

	"github.com/galdor/go-simnet/pkg/simnet"
)

type Protocol string

const (
	ProtocolEcho     Protocol = "echo"
	ProtocolCausal   Protocol = "causal"
	ProtocolElection Protocol = "election"
)

var Protocols = []Protocol{ProtocolEcho, ProtocolCausal, ProtocolElection}

func (p Protocol) Valid() bool {
	switch p {
	case ProtocolEcho, ProtocolCausal, ProtocolElection:
		return true
	}

	return false
}

type Cfg struct {
	Logger simnet.Logger

	Protocol Protocol
	Mode     simnet.Mode
	Seed     int64

	AutoDispatch     bool
	DispatchInterval time.Duration
	DispatchPolicy   simnet.DispatchPolicy

	AutoAdvance   bool
	RoundInterval time.Duration

	// Election processes only.
	ShuffleLinks bool

	// Echo processes only.
	Greeting string

	OnDelivery func(simnet.Message)
	Observer   simnet.RoundObserver
}

// Simulation bundles a router, its round coordinator and the processes of
// a single protocol.
type Simulation struct {
	Cfg Cfg
	Log simnet.Logger

	Router      *simnet.Router
	Coordinator *simnet.Coordinator
}

func New(cfg Cfg) (*Simulation, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("missing logger")
	}

	if cfg.Protocol == "" {
		cfg.Protocol = ProtocolCausal
	}

	if !cfg.Protocol.Valid() {
		return nil, fmt.Errorf("invalid protocol %q", cfg.Protocol)
	}

	if cfg.Mode == "" {
		if cfg.Protocol == ProtocolElection {
			cfg.Mode = simnet.ModeRounds
		} else {
			cfg.Mode = simnet.ModeAsync
		}
	}

	if cfg.Protocol == ProtocolElection && cfg.Mode != simnet.ModeRounds {
		return nil, fmt.Errorf("protocol %q requires %q mode",
			cfg.Protocol, simnet.ModeRounds)
	}

	if cfg.AutoAdvance && cfg.Mode != simnet.ModeRounds {
		return nil, fmt.Errorf("automatic rounds require %q mode",
			simnet.ModeRounds)
	}

	routerCfg := simnet.RouterCfg{
		Mode:   cfg.Mode,
		Logger: cfg.Logger,
		Seed:   cfg.Seed,

		AutoDispatch:     cfg.AutoDispatch,
		DispatchInterval: cfg.DispatchInterval,
		DispatchPolicy:   cfg.DispatchPolicy,

		OnDelivery: cfg.OnDelivery,
	}

	router, err := simnet.NewRouter(routerCfg)
	if err != nil {
		return nil, fmt.Errorf("cannot create router: %w", err)
	}

	coordinatorCfg := simnet.CoordinatorCfg{
		Logger: cfg.Logger,

		AutoAdvance:   cfg.AutoAdvance,
		RoundInterval: cfg.RoundInterval,

		Observer: cfg.Observer,
	}

	coordinator, err := simnet.NewCoordinator(router, coordinatorCfg)
	if err != nil {
		return nil, fmt.Errorf("cannot create coordinator: %w", err)
	}

	s := &Simulation{
		Cfg: cfg,
		Log: cfg.Logger,

		Router:      router,
		Coordinator: coordinator,
	}

	return s, nil
}

func (s *Simulation) newProcess() (simnet.Process, error) {
	switch s.Cfg.Protocol {
	case ProtocolEcho:
		return simnet.NewEchoProcess(simnet.EchoProcessCfg{
			Logger:   s.Log,
			Greeting: s.Cfg.Greeting,
		})

	case ProtocolCausal:
		return simnet.NewCausalProcess(simnet.CausalProcessCfg{
			Logger: s.Log,
		})

	case ProtocolElection:
		return simnet.NewElectionProcess(simnet.ElectionProcessCfg{
			Logger:       s.Log,
			ShuffleLinks: s.Cfg.ShuffleLinks,
		})

	default:
		simnet.Panicf("unhandled protocol %q", s.Cfg.Protocol)
		return nil, nil
	}
}

// Spawn creates a process of the simulation protocol and registers it; a
// non-positive id selects the next free identifier.
func (s *Simulation) Spawn(id simnet.ProcessId) (simnet.ProcessId, error) {
	p, err := s.newProcess()
	if err != nil {
		return 0, fmt.Errorf("cannot create process: %w", err)
	}

	return s.Router.Register(p, id)
}

// Populate spawns n processes with automatic identifiers and locks the
// network.
func (s *Simulation) Populate(n int) ([]simnet.ProcessId, error) {
	if n < 1 {
		return nil, fmt.Errorf("invalid number of processes %d", n)
	}

	ids := make([]simnet.ProcessId, n)
	for i := range ids {
		id, err := s.Spawn(simnet.AutoIncrement)
		if err != nil {
			return nil, err
		}

		ids[i] = id
	}

	s.Lock()

	return ids, nil
}

func (s *Simulation) Lock() {
	s.Router.Lock()
}

func (s *Simulation) Start(errorChan chan<- error) error {
	if err := s.Router.Start(errorChan); err != nil {
		return fmt.Errorf("cannot start router: %w", err)
	}

	if err := s.Coordinator.Start(errorChan); err != nil {
		s.Router.Stop()
		return fmt.Errorf("cannot start coordinator: %w", err)
	}

	return nil
}

func (s *Simulation) Stop() {
	s.Coordinator.Stop()
	s.Router.Stop()
}

func (s *Simulation) Process(id simnet.ProcessId) (simnet.Process, error) {
	p, found := s.Router.Process(id)
	if !found {
		return nil, &UnknownProcessError{Id: id}
	}

	return p, nil
}

func (s *Simulation) CausalProcess(id simnet.ProcessId) (*simnet.CausalProcess, error) {
	p, err := s.Process(id)
	if err != nil {
		return nil, err
	}

	cp, ok := p.(*simnet.CausalProcess)
	if !ok {
		return nil, fmt.Errorf("process %d is not a causal process", id)
	}

	return cp, nil
}

func (s *Simulation) ElectionProcess(id simnet.ProcessId) (*simnet.ElectionProcess, error) {
	p, err := s.Process(id)
	if err != nil {
		return nil, err
	}

	ep, ok := p.(*simnet.ElectionProcess)
	if !ok {
		return nil, fmt.Errorf("process %d is not an election process", id)
	}

	return ep, nil
}

// Send asks a process to send a message.
func (s *Simulation) Send(from, to simnet.ProcessId, body string) error {
	p, err := s.Process(from)
	if err != nil {
		return err
	}

	return p.Send(to, body)
}

// Deliveries returns the bodies of the messages delivered to the application
// of a process, in delivery order.
func (s *Simulation) Deliveries(id simnet.ProcessId) ([]string, error) {
	p, err := s.Process(id)
	if err != nil {
		return nil, err
	}

	switch p := p.(type) {
	case *simnet.CausalProcess:
		return p.Delivered().Bodies(), nil
	case *simnet.EchoProcess:
		return p.Received().Bodies(), nil
	default:
		return nil, nil
	}
}

// Pending returns the messages buffered by a causal process.
func (s *Simulation) Pending(id simnet.ProcessId) ([]simnet.Message, error) {
	p, err := s.Process(id)
	if err != nil {
		return nil, err
	}

	if cp, ok := p.(*simnet.CausalProcess); ok {
		return cp.Pending(), nil
	}

	return nil, nil
}

func (s *Simulation) StartCandidate(id simnet.ProcessId) error {
	p, err := s.ElectionProcess(id)
	if err != nil {
		return err
	}

	return p.StartCandidate()
}

func (s *Simulation) AdvanceRound(ctx context.Context) error {
	return s.Coordinator.AdvanceRound(ctx)
}

func (s *Simulation) ElectionStates() []simnet.ElectionState {
	var states []simnet.ElectionState

	for _, id := range s.Router.Ids() {
		p, err := s.ElectionProcess(id)
		if err != nil {
			continue
		}

		states = append(states, p.State())
	}

	return states
}

// ElectionDone returns true once a process is elected and no candidate is
// left.
func (s *Simulation) ElectionDone() bool {
	elected := false

	for _, state := range s.ElectionStates() {
		switch state.Status {
		case simnet.ElectionStatusCandidate:
			return false
		case simnet.ElectionStatusElected:
			elected = true
		}
	}

	return elected
}

type ElectionResult struct {
	Leader simnet.ProcessId       `json:"leader"`
	Rounds int                    `json:"rounds"`
	States []simnet.ElectionState `json:"states"`
}

// RunElection advances rounds until the election is over.
func (s *Simulation) RunElection(ctx context.Context, maxRounds int) (*ElectionResult, error) {
	if s.Cfg.Protocol != ProtocolElection {
		return nil, fmt.Errorf("simulation does not run the %q protocol",
			ProtocolElection)
	}

	rounds, err := s.Coordinator.RunUntil(ctx, maxRounds, s.ElectionDone)
	if err != nil {
		return nil, fmt.Errorf("cannot run election: %w", err)
	}

	result := ElectionResult{
		Rounds: rounds,
		States: s.ElectionStates(),
	}

	for _, state := range result.States {
		if state.Status != simnet.ElectionStatusElected {
			continue
		}

		if result.Leader != 0 {
			return nil, fmt.Errorf("processes %d and %d are both elected",
				result.Leader, state.Id)
		}

		result.Leader = state.Id
	}

	s.Log.Info("process %d elected after %d rounds", result.Leader, rounds)

	return &result, nil
}

type UnknownProcessError struct {
	Id simnet.ProcessId
}

func (err *UnknownProcessError) Error() string {
	return fmt.Sprintf("unknown process %d", err.Id)
}
