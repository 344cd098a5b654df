package simnet

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestCandidacyCodec(t *testing.T) {
	body := EncodeCandidacy(4, 12)
	if body != "MSG_CAN|4|12" {
		t.Errorf("unexpected candidacy %q", body)
	}

	level, id, err := DecodeCandidacy(body)
	if err != nil {
		t.Fatalf("cannot decode candidacy: %v", err)
	}

	if level != 4 || id != 12 {
		t.Errorf("decoded (%d, %d) instead of (4, 12)", level, id)
	}

	for _, s := range []string{"MSG_ACK", "MSG_CAN|1", "MSG_CAN|x|1",
		"MSG_CAN|1|0", "MSG_CAN|-1|2"} {
		if _, _, err := DecodeCandidacy(s); err == nil {
			t.Errorf("candidacy %q should be rejected", s)
		}
	}
}

func TestClaimOrdering(t *testing.T) {
	if !(Claim{Level: 2, Id: 1}).GreaterThan(Claim{Level: 0, Id: 8}) {
		t.Errorf("levels should be compared first")
	}

	if !(Claim{Level: 2, Id: 5}).GreaterThan(Claim{Level: 2, Id: 3}) {
		t.Errorf("ids should break ties")
	}

	if (Claim{Level: 2, Id: 5}).GreaterThan(Claim{Level: 2, Id: 5}) {
		t.Errorf("a claim is not greater than itself")
	}
}

type electionTest struct {
	router      *Router
	coordinator *Coordinator
	processes   map[ProcessId]*ElectionProcess
}

func newElectionTest(t *testing.T, n int, shuffle bool) *electionTest {
	t.Helper()

	router := newTestRouter(t, ModeRounds)

	coordinator, err := NewCoordinator(router, CoordinatorCfg{})
	if err != nil {
		t.Fatalf("cannot create coordinator: %v", err)
	}

	processes := make(map[ProcessId]*ElectionProcess)
	for i := 0; i < n; i++ {
		p, err := NewElectionProcess(ElectionProcessCfg{
			Logger:       newTestLogger(t),
			ShuffleLinks: shuffle,
		})
		if err != nil {
			t.Fatalf("cannot create process: %v", err)
		}

		id := registerProcess(t, router, p)
		processes[id] = p
	}

	router.Lock()

	return &electionTest{
		router:      router,
		coordinator: coordinator,
		processes:   processes,
	}
}

func (et *electionTest) startCandidate(t *testing.T, id ProcessId) {
	t.Helper()

	if err := et.processes[id].StartCandidate(); err != nil {
		t.Fatalf("process %d cannot become a candidate: %v", id, err)
	}
}

func (et *electionTest) done() bool {
	elected := false

	for _, p := range et.processes {
		switch p.Status() {
		case ElectionStatusCandidate:
			return false
		case ElectionStatusElected:
			elected = true
		}
	}

	return elected
}

func (et *electionTest) run(t *testing.T, maxRounds int) int {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	n, err := et.coordinator.RunUntil(ctx, maxRounds, et.done)
	if err != nil {
		t.Fatalf("election did not terminate: %v", err)
	}

	return n
}

func (et *electionTest) elected(t *testing.T) []ProcessId {
	var ids []ProcessId
	for id, p := range et.processes {
		if p.IsElected() {
			ids = append(ids, id)
		}
	}

	sortIds(ids)

	return ids
}

func TestElection(t *testing.T) {
	et := newElectionTest(t, 8, false)

	for _, id := range []ProcessId{2, 4, 6, 8} {
		et.startCandidate(t, id)
	}

	et.run(t, 64)

	elected := et.elected(t)
	if len(elected) != 1 || elected[0] != 8 {
		t.Fatalf("elected processes: %v", elected)
	}

	for _, id := range []ProcessId{2, 4, 6} {
		if status := et.processes[id].Status(); status != ElectionStatusWithdrawn {
			t.Errorf("process %d is %s", id, status)
		}
	}

	state := et.processes[8].State()

	expected := []LevelRecord{
		{Level: 0, Contacted: 1, Remaining: 7},
		{Level: 2, Contacted: 2, Remaining: 6},
		{Level: 4, Contacted: 4, Remaining: 4},
	}

	if len(state.History) != len(expected) {
		t.Fatalf("history of process 8: %v", state.History)
	}

	for i, record := range expected {
		if state.History[i] != record {
			t.Errorf("level record %d is %+v instead of %+v",
				i, state.History[i], record)
		}
	}

	if state.CandidateLevel != 6 {
		t.Errorf("process 8 elected at level %d instead of 6",
			state.CandidateLevel)
	}
}

func TestElectionShuffledLinks(t *testing.T) {
	et := newElectionTest(t, 12, true)

	for _, id := range []ProcessId{1, 5, 7, 11} {
		et.startCandidate(t, id)
	}

	et.run(t, 64)

	elected := et.elected(t)
	if len(elected) != 1 || elected[0] != 11 {
		t.Fatalf("elected processes: %v", elected)
	}
}

func TestElectionStaggeredCandidacies(t *testing.T) {
	et := newElectionTest(t, 8, false)

	et.startCandidate(t, 3)

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if err := et.coordinator.AdvanceRound(ctx); err != nil {
			t.Fatal(err)
		}
	}

	et.startCandidate(t, 8)

	et.run(t, 64)

	if elected := et.elected(t); len(elected) != 1 {
		t.Fatalf("elected processes: %v", elected)
	}
}

func TestElectionSingleProcess(t *testing.T) {
	et := newElectionTest(t, 1, false)

	et.startCandidate(t, 1)

	if n := et.run(t, 4); n != 1 {
		t.Errorf("election took %d rounds instead of 1", n)
	}

	if !et.processes[1].IsElected() {
		t.Errorf("process 1 is not elected")
	}

	if err := et.processes[1].StartCandidate(); !errors.Is(err, ErrAlreadyElected) {
		t.Errorf("unexpected error %v", err)
	}

	// Elected processes keep taking part in rounds.
	if err := et.coordinator.AdvanceRound(context.Background()); err != nil {
		t.Errorf("cannot advance round: %v", err)
	}
}

func TestElectionDoubleCandidacy(t *testing.T) {
	et := newElectionTest(t, 2, false)

	et.startCandidate(t, 1)

	if err := et.processes[1].StartCandidate(); !errors.Is(err, ErrAlreadyCandidate) {
		t.Errorf("unexpected error %v", err)
	}
}
