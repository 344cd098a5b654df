package simulation

import (
	"testing"

	"github.com/galdor/go-simnet/pkg/simnet"
)

func TestOpCodec(t *testing.T) {
	tests := []struct {
		input  string
		output string
	}{
		{"populate 3", "populate 3"},
		{"new", "new"},
		{"new  4", "new 4"},
		{"lock", "lock"},
		{"send 1 -1 hello  world", "send 1 -1 hello world"},
		{"send 2 * x", "send 2 -1 x"},
		{"next", "next"},
		{"flush", "flush"},
		{"rnd", "rnd"},
		{"rndflush", "rndflush"},
		{"forward 2", "forward 2"},
		{"flush-after 1", "flush-after 1"},
		{"candidate 5", "candidate 5"},
		{"round", "round"},
		{"round 3", "round 3"},
		{"elect", "elect"},
		{"elect 32", "elect 32"},
	}

	for _, test := range tests {
		op, err := DecodeOp(test.input)
		if err != nil {
			t.Errorf("cannot decode %q: %v", test.input, err)
			continue
		}

		if output := EncodeOp(op); output != test.output {
			t.Errorf("%q encoded as %q instead of %q",
				test.input, output, test.output)
		}
	}
}

func TestOpCodecInvalid(t *testing.T) {
	inputs := []string{
		"",
		"foo",
		"populate",
		"populate 0",
		"populate x",
		"lock now",
		"send 1 2",
		"send x 2 body",
		"forward -1",
		"candidate",
		"round 0",
	}

	for _, input := range inputs {
		if _, err := DecodeOp(input); err == nil {
			t.Errorf("op %q should be rejected", input)
		}
	}
}

func TestOpFlushAfter(t *testing.T) {
	sim, err := New(testCfg(t))
	if err != nil {
		t.Fatal(err)
	}

	ops, err := DecodeOps([]string{
		"populate 3",
		"send 1 2 a",
		"send 2 3 b",
		"send 3 1 c",
		"flush-after 1",
	})
	if err != nil {
		t.Fatal(err)
	}

	ctx := testContext(t)

	for _, op := range ops {
		if err := op.Apply(ctx, sim); err != nil {
			t.Fatalf("cannot apply %s: %v", EncodeOp(op), err)
		}
	}

	queue := sim.Router.Queue()
	if len(queue) != 1 || queue[0].Body != "a" {
		t.Fatalf("unexpected queue %v", queue)
	}

	result, err := sim.Result("flush-after")
	if err != nil {
		t.Fatal(err)
	}

	expected := map[simnet.ProcessId][]string{
		1: {"c"},
		2: {},
		3: {"b"},
	}

	for id, bodies := range expected {
		if !equalStrings(result.Deliveries[id], bodies) {
			t.Errorf("process %d delivered %v instead of %v",
				id, result.Deliveries[id], bodies)
		}
	}
}

func equalStrings(s1, s2 []string) bool {
	if len(s1) != len(s2) {
		return false
	}

	for i := range s1 {
		if s1[i] != s2[i] {
			return false
		}
	}

	return true
}
