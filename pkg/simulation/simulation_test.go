package simulation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/galdor/go-simnet/pkg/simnet"
)

type testLogger struct {
	t *testing.T
}

func (l *testLogger) Debug(level int, format string, args ...interface{}) {
}

func (l *testLogger) Info(format string, args ...interface{}) {
}

func (l *testLogger) Error(format string, args ...interface{}) {
	l.t.Logf("error: "+format, args...)
}

func testCfg(t *testing.T) Cfg {
	return Cfg{
		Logger: &testLogger{t: t},
		Seed:   1,
	}
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)

	return ctx
}

func TestNewSimulation(t *testing.T) {
	cfg := testCfg(t)
	cfg.Protocol = ProtocolElection

	sim, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}

	if sim.Cfg.Mode != simnet.ModeRounds {
		t.Errorf("election simulation runs in %q mode", sim.Cfg.Mode)
	}

	cfg.Mode = simnet.ModeAsync
	if _, err := New(cfg); err == nil {
		t.Errorf("elections should require rounds mode")
	}

	cfg = testCfg(t)
	cfg.Protocol = "foo"
	if _, err := New(cfg); err == nil {
		t.Errorf("invalid protocol accepted")
	}
}

func TestSimulationLookups(t *testing.T) {
	sim, err := New(testCfg(t))
	if err != nil {
		t.Fatal(err)
	}

	ids, err := sim.Populate(3)
	if err != nil {
		t.Fatal(err)
	}

	if len(ids) != 3 || ids[2] != 3 {
		t.Errorf("unexpected ids %v", ids)
	}

	if _, err := sim.Spawn(simnet.AutoIncrement); !errors.Is(err, simnet.ErrLocked) {
		t.Errorf("unexpected error %v", err)
	}

	if _, err := sim.CausalProcess(2); err != nil {
		t.Errorf("cannot find causal process 2: %v", err)
	}

	if _, err := sim.ElectionProcess(2); err == nil {
		t.Errorf("process 2 is not an election process")
	}

	var unknownErr *UnknownProcessError
	if _, err := sim.Process(9); !errors.As(err, &unknownErr) {
		t.Errorf("unexpected error %v", err)
	}
}

func TestSimulationRunElection(t *testing.T) {
	cfg := testCfg(t)
	cfg.Protocol = ProtocolElection

	sim, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := sim.Populate(6); err != nil {
		t.Fatal(err)
	}

	for _, id := range []simnet.ProcessId{1, 3} {
		if err := sim.StartCandidate(id); err != nil {
			t.Fatal(err)
		}
	}

	result, err := sim.RunElection(testContext(t), 64)
	if err != nil {
		t.Fatal(err)
	}

	if result.Leader != 3 {
		t.Errorf("process %d elected instead of 3", result.Leader)
	}

	if len(result.States) != 6 {
		t.Errorf("%d election states instead of 6", len(result.States))
	}

	// The leader keeps the largest (level, id) claim of all candidates.
	var leaderClaim simnet.Claim
	for _, state := range result.States {
		if state.Id == result.Leader {
			leaderClaim = simnet.Claim{Level: state.CandidateLevel, Id: state.Id}
		}
	}

	for _, state := range result.States {
		claim := simnet.Claim{Level: state.CandidateLevel, Id: state.Id}
		if state.Id != result.Leader && claim.GreaterThan(leaderClaim) {
			t.Errorf("process %d has claim %v greater than leader claim %v",
				state.Id, claim, leaderClaim)
		}
	}
}
