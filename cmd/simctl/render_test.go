package main

import (
	"testing"

	"github.com/galdor/go-simnet/pkg/simnet"
	"github.com/galdor/go-simnet/pkg/simulation"
)

func TestParseCandidates(t *testing.T) {
	ids, err := parseCandidates("", 8)
	if err != nil {
		t.Fatal(err)
	}

	if len(ids) != 4 || ids[0] != 2 || ids[3] != 8 {
		t.Errorf("unexpected default candidates %v", ids)
	}

	ids, err = parseCandidates("3, 5", 8)
	if err != nil {
		t.Fatal(err)
	}

	if len(ids) != 2 || ids[0] != 3 || ids[1] != 5 {
		t.Errorf("unexpected candidates %v", ids)
	}

	for _, s := range []string{"0", "9", "a", "1,,2"} {
		if _, err := parseCandidates(s, 8); err == nil {
			t.Errorf("candidates %q should be rejected", s)
		}
	}
}

func TestDeliveryTableData(t *testing.T) {
	result := &simulation.Result{
		Deliveries: map[simnet.ProcessId][]string{
			2: {"b"},
			1: {"a", "c"},
		},
		Pending: map[simnet.ProcessId]int{},
	}

	data := deliveryTableData(result)
	if len(data) != 3 {
		t.Fatalf("%d rows instead of 3", len(data))
	}

	if data[1][0] != "1" || data[1][1] != "a, c" || data[2][0] != "2" {
		t.Errorf("unexpected rows %v", data[1:])
	}
}
