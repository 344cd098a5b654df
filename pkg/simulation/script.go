package simulation

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/galdor/go-simnet/pkg/simnet"
	"gopkg.in/yaml.v3"
)

// Script is a scenario described as a YAML document: network settings, a
// list of ops, and the expected outcome.
type Script struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`

	Protocol     Protocol    `yaml:"protocol"`
	Mode         simnet.Mode `yaml:"mode"`
	Seed         int64       `yaml:"seed"`
	ShuffleLinks bool        `yaml:"shuffleLinks"`
	Processes    int         `yaml:"processes"`

	Ops    []string    `yaml:"ops"`
	Expect *Expectation `yaml:"expect"`
}

type Expectation struct {
	Deliveries map[simnet.ProcessId][]string `yaml:"deliveries"`
	Leader     simnet.ProcessId              `yaml:"leader"`
	NoPending  bool                          `yaml:"noPending"`
}

// Result is the final state of a scenario run.
type Result struct {
	Name       string                        `json:"name"`
	Duration   time.Duration                 `json:"duration"`
	Deliveries map[simnet.ProcessId][]string `json:"deliveries"`
	Pending    map[simnet.ProcessId]int      `json:"pending"`
	Stats      simnet.RouterStats            `json:"stats"`
	Election   *ElectionResult               `json:"election,omitempty"`
}

// ExpectationError lists every difference between the result of a script
// and its expectations.
type ExpectationError struct {
	Script      string
	Differences []string
}

func (err *ExpectationError) Error() string {
	return fmt.Sprintf("unexpected result for %s: %s",
		err.Script, strings.Join(err.Differences, "; "))
}

func ParseScript(data []byte) (*Script, error) {
	var script Script

	if err := yaml.Unmarshal(data, &script); err != nil {
		return nil, fmt.Errorf("cannot decode yaml data: %w", err)
	}

	if err := script.Check(); err != nil {
		return nil, err
	}

	return &script, nil
}

func LoadScriptFile(filePath string) (*Script, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", filePath, err)
	}

	script, err := ParseScript(data)
	if err != nil {
		return nil, fmt.Errorf("invalid script %s: %w", filePath, err)
	}

	if script.Name == "" {
		script.Name = filePath
	}

	return script, nil
}

// Check validates the script settings and decodes every op.
func (s *Script) Check() error {
	if s.Protocol != "" && !s.Protocol.Valid() {
		return fmt.Errorf("invalid protocol %q", s.Protocol)
	}

	if s.Mode != "" && !s.Mode.Valid() {
		return fmt.Errorf("invalid mode %q", s.Mode)
	}

	if s.Processes < 0 {
		return fmt.Errorf("invalid number of processes %d", s.Processes)
	}

	if _, err := DecodeOps(s.Ops); err != nil {
		return err
	}

	return nil
}

func (s *Script) ScenarioName() string {
	return s.Name
}

func (s *Script) ScenarioDescription() string {
	return s.Description
}

func (s *Script) Run(ctx context.Context, cfg Cfg) (*Result, error) {
	ops, err := DecodeOps(s.Ops)
	if err != nil {
		return nil, err
	}

	if s.Protocol != "" {
		cfg.Protocol = s.Protocol
	}

	if s.Mode != "" {
		cfg.Mode = s.Mode
	}

	if s.Seed != 0 {
		cfg.Seed = s.Seed
	}

	if s.ShuffleLinks {
		cfg.ShuffleLinks = true
	}

	sim, err := New(cfg)
	if err != nil {
		return nil, err
	}

	start := time.Now()

	if s.Processes > 0 {
		if _, err := sim.Populate(s.Processes); err != nil {
			return nil, fmt.Errorf("cannot populate network: %w", err)
		}
	}

	var election *ElectionResult

	for i, op := range ops {
		sim.Log.Debug(1, "applying op %d: %s", i+1, EncodeOp(op))

		if electOp, ok := op.(*OpElect); ok {
			maxRounds := electOp.MaxRounds
			if maxRounds == 0 {
				maxRounds = DefaultMaxElectionRounds
			}

			election, err = sim.RunElection(ctx, maxRounds)
		} else {
			err = op.Apply(ctx, sim)
		}

		if err != nil {
			return nil, fmt.Errorf("cannot apply op %d (%s): %w",
				i+1, EncodeOp(op), err)
		}
	}

	result, err := sim.Result(s.Name)
	if err != nil {
		return nil, err
	}

	result.Duration = time.Since(start)
	result.Election = election

	if s.Expect != nil {
		if err := s.Expect.Check(s.Name, result); err != nil {
			return result, err
		}
	}

	return result, nil
}

// Result collects the current state of every process.
func (s *Simulation) Result(name string) (*Result, error) {
	result := Result{
		Name:       name,
		Deliveries: make(map[simnet.ProcessId][]string),
		Pending:    make(map[simnet.ProcessId]int),
		Stats:      s.Router.Stats(),
	}

	for _, id := range s.Router.Ids() {
		deliveries, err := s.Deliveries(id)
		if err != nil {
			return nil, err
		}

		result.Deliveries[id] = deliveries

		pending, err := s.Pending(id)
		if err != nil {
			return nil, err
		}

		result.Pending[id] = len(pending)
	}

	return &result, nil
}

func (e *Expectation) Check(name string, result *Result) error {
	var differences []string

	ids := make([]simnet.ProcessId, 0, len(e.Deliveries))
	for id := range e.Deliveries {
		ids = append(ids, id)
	}

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		expected := e.Deliveries[id]
		delivered := result.Deliveries[id]

		if strings.Join(expected, "\x1f") != strings.Join(delivered, "\x1f") ||
			len(expected) != len(delivered) {
			differences = append(differences,
				fmt.Sprintf("process %d delivered %v instead of %v",
					id, delivered, expected))
		}
	}

	if e.Leader != 0 {
		var leader simnet.ProcessId
		if result.Election != nil {
			leader = result.Election.Leader
		}

		if leader != e.Leader {
			differences = append(differences,
				fmt.Sprintf("process %d elected instead of %d",
					leader, e.Leader))
		}
	}

	if e.NoPending {
		for id, n := range result.Pending {
			if n > 0 {
				differences = append(differences,
					fmt.Sprintf("process %d has %d pending messages", id, n))
			}
		}
	}

	if len(differences) > 0 {
		sort.Strings(differences)
		return &ExpectationError{Script: name, Differences: differences}
	}

	return nil
}
