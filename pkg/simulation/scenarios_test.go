package simulation

import (
	"testing"
)

func TestBuiltinScenarios(t *testing.T) {
	for _, scenario := range Scenarios() {
		scenario := scenario

		t.Run(scenario.ScenarioName(), func(t *testing.T) {
			result, err := scenario.Run(testContext(t), testCfg(t))
			if err != nil {
				t.Fatalf("scenario failed: %v", err)
			}

			if result.Name != scenario.ScenarioName() {
				t.Errorf("result named %q", result.Name)
			}
		})
	}
}

func TestCascadeScenario(t *testing.T) {
	scenario, err := FindScenario("cascade")
	if err != nil {
		t.Fatal(err)
	}

	result, err := scenario.Run(testContext(t), testCfg(t))
	if err != nil {
		t.Fatal(err)
	}

	// Only the last op delivers a message to P5, and it releases the three
	// buffered broadcasts.
	bodies := result.Deliveries[5]
	if !equalStrings(bodies, []string{"A", "B", "C", "D"}) {
		t.Errorf("process 5 delivered %v", bodies)
	}

	if result.Stats.Queued != 0 {
		t.Errorf("%d messages left in the queue", result.Stats.Queued)
	}
}

func TestElectionScenario(t *testing.T) {
	scenario, err := FindScenario("election")
	if err != nil {
		t.Fatal(err)
	}

	result, err := scenario.Run(testContext(t), testCfg(t))
	if err != nil {
		t.Fatal(err)
	}

	if result.Election == nil {
		t.Fatalf("missing election result")
	}

	for _, state := range result.Election.States {
		for _, record := range state.History {
			expected := 1 << (record.Level / 2)
			if expected > record.Remaining {
				expected = record.Remaining
			}

			if record.Contacted != expected {
				t.Errorf("process %d contacted %d links at level %d "+
					"instead of %d", state.Id, record.Contacted,
					record.Level, expected)
			}
		}
	}
}

func TestRandomScenarioSeeds(t *testing.T) {
	scenario := &RandomScenario{NbProcesses: 4, NbMessages: 10}

	for seed := int64(1); seed <= 10; seed++ {
		cfg := testCfg(t)
		cfg.Seed = seed

		if _, err := scenario.Run(testContext(t), cfg); err != nil {
			t.Errorf("seed %d: %v", seed, err)
		}
	}
}

func TestFindScenarioUnknown(t *testing.T) {
	if _, err := FindScenario("foo"); err == nil {
		t.Errorf("unknown scenario found")
	}
}
