package simulation

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/galdor/go-simnet/pkg/simnet"
	"golang.org/x/sync/errgroup"
)

type Scenario interface {
	ScenarioName() string
	ScenarioDescription() string
	Run(context.Context, Cfg) (*Result, error)
}

var builtinScripts = []string{`
name: slide6
description: "P2 broadcasts after delivering a message from P1; P3 receives the two broadcasts in the wrong order"
protocol: causal
mode: async
processes: 3
ops:
  - send 1 -1 First
  - forward 0
  - send 2 -1 Second
  - forward 2
  - forward 0
  - forward 0
expect:
  deliveries:
    1: [Second]
    2: [First]
    3: [First, Second]
  noPending: true
`, `
name: cascade
description: "A chain of four broadcasts reaches P5 before the first one, whose delivery releases the whole chain"
protocol: causal
mode: async
processes: 5
ops:
  - send 1 -1 A
  - forward 0
  - forward 0
  - forward 0
  - send 2 -1 B
  - flush-after 1
  - send 3 -1 C
  - flush-after 1
  - send 4 -1 D
  - flush-after 1
  - forward 0
expect:
  deliveries:
    5: [A, B, C, D]
  noPending: true
`, `
name: same-sender
description: "Two messages from the same sender delivered in reverse order"
protocol: causal
mode: async
processes: 2
ops:
  - send 1 2 a
  - send 1 2 b
  - forward 1
  - flush
expect:
  deliveries:
    2: [a, b]
  noPending: true
`, `
name: concurrent
description: "Concurrent broadcasts on a synchronous network are delivered without buffering"
protocol: causal
mode: sync
processes: 3
ops:
  - send 1 -1 x
  - send 2 -1 y
expect:
  deliveries:
    1: [y]
    2: [x]
    3: [x, y]
  noPending: true
`, `
name: election
description: "Four candidates among eight processes"
protocol: election
mode: rounds
processes: 8
ops:
  - candidate 2
  - candidate 4
  - candidate 6
  - candidate 8
  - elect 64
expect:
  leader: 8
`}

var builtinScenarios map[string]Scenario

func init() {
	builtinScenarios = make(map[string]Scenario)

	for _, data := range builtinScripts {
		script, err := ParseScript([]byte(data))
		if err != nil {
			simnet.Panicf("invalid builtin script: %v", err)
		}

		builtinScenarios[script.Name] = script
	}

	random := &RandomScenario{
		NbProcesses: 5,
		NbMessages:  20,
	}

	builtinScenarios[random.ScenarioName()] = random
}

func Scenarios() []Scenario {
	names := ScenarioNames()

	scenarios := make([]Scenario, len(names))
	for i, name := range names {
		scenarios[i] = builtinScenarios[name]
	}

	return scenarios
}

func ScenarioNames() []string {
	names := make([]string, 0, len(builtinScenarios))
	for name := range builtinScenarios {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

func FindScenario(name string) (Scenario, error) {
	scenario, found := builtinScenarios[name]
	if !found {
		return nil, fmt.Errorf("unknown scenario %q", name)
	}

	return scenario, nil
}

// RandomScenario has every causal process broadcast messages concurrently
// while delivering random queued messages, then checks that no process
// delivered a message before one of its causal predecessors.
type RandomScenario struct {
	NbProcesses int
	NbMessages  int
}

func (s *RandomScenario) ScenarioName() string {
	return "random"
}

func (s *RandomScenario) ScenarioDescription() string {
	return fmt.Sprintf("%d processes broadcasting %d messages each with "+
		"random delivery", s.NbProcesses, s.NbMessages)
}

func (s *RandomScenario) Run(ctx context.Context, cfg Cfg) (*Result, error) {
	cfg.Protocol = ProtocolCausal
	cfg.Mode = simnet.ModeAsync
	cfg.AutoDispatch = false

	sim, err := New(cfg)
	if err != nil {
		return nil, err
	}

	start := time.Now()

	ids, err := sim.Populate(s.NbProcesses)
	if err != nil {
		return nil, fmt.Errorf("cannot populate network: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	for _, id := range ids {
		id := id

		g.Go(func() error {
			for i := 0; i < s.NbMessages; i++ {
				if err := gctx.Err(); err != nil {
					return err
				}

				body := fmt.Sprintf("%d.%d", id, i+1)
				if err := sim.Send(id, simnet.Broadcast, body); err != nil {
					return err
				}

				if _, err := sim.Router.DispatchRandomOne(); err != nil {
					return err
				}
			}

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("cannot send messages: %w", err)
	}

	if _, err := sim.Router.DispatchRandomAll(); err != nil {
		return nil, err
	}

	result, err := sim.Result(s.ScenarioName())
	if err != nil {
		return nil, err
	}

	result.Duration = time.Since(start)

	if err := s.check(sim, ids, result); err != nil {
		return result, err
	}

	return result, nil
}

func (s *RandomScenario) check(sim *Simulation, ids []simnet.ProcessId, result *Result) error {
	var differences []string

	expected := (s.NbProcesses - 1) * s.NbMessages

	for _, id := range ids {
		p, err := sim.CausalProcess(id)
		if err != nil {
			return err
		}

		if n := result.Pending[id]; n > 0 {
			differences = append(differences,
				fmt.Sprintf("process %d has %d pending messages", id, n))
		}

		entries := p.Delivered().Entries()
		if len(entries) != expected {
			differences = append(differences,
				fmt.Sprintf("process %d delivered %d messages instead of %d",
					id, len(entries), expected))
		}

		for i := range entries {
			for j := i + 1; j < len(entries); j++ {
				if entries[j].Clock.HappenedBefore(entries[i].Clock) {
					differences = append(differences,
						fmt.Sprintf("process %d delivered %q before %q",
							id, entries[i].Body, entries[j].Body))
				}
			}
		}
	}

	if len(differences) > 0 {
		return &ExpectationError{
			Script:      s.ScenarioName(),
			Differences: differences,
		}
	}

	return nil
}
