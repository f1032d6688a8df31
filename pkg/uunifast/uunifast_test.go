package uunifast_test

import (
	"math"
	"testing"

	"hcbs-harness/pkg/uunifast"
)

func TestGenerateSumsToUtilization(t *testing.T) {
	t.Parallel()

	const target = 0.6

	for seed := uint64(0); seed < 200; seed++ {
		utils, ok := uunifast.Generate(5, target, seed)
		if !ok {
			continue
		}

		sum := 0.0

		for _, u := range utils {
			if u <= 0 || u > 1 {
				t.Fatalf("seed %d: utilization %f out of (0,1]", seed, u)
			}

			sum += u
		}

		if diff := math.Abs(sum - target); diff > 1e-9 {
			t.Fatalf("seed %d: expected sum %f, got %f (diff %e)", seed, target, sum, diff)
		}
	}
}

func TestGenerateDeterministic(t *testing.T) {
	t.Parallel()

	a, okA := uunifast.Generate(4, 1.5, 42)
	b, okB := uunifast.Generate(4, 1.5, 42)

	if okA != okB {
		t.Fatalf("expected identical discard outcome for the same seed")
	}

	if !okA {
		return
	}

	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("expected byte-identical output for the same seed, index %d: %f != %f", i, a[i], b[i])
		}
	}
}

func TestGenerateSingleTaskReturnsWholeUtilization(t *testing.T) {
	t.Parallel()

	utils, ok := uunifast.Generate(1, 0.9, 7)
	if !ok {
		t.Fatalf("expected single-task vector to never discard")
	}

	if len(utils) != 1 || utils[0] != 0.9 {
		t.Fatalf("expected [0.9], got %v", utils)
	}
}

func TestGenerateRejectsNonPositiveTaskCount(t *testing.T) {
	t.Parallel()

	if _, ok := uunifast.Generate(0, 0.5, 1); ok {
		t.Fatalf("expected n=0 to be rejected")
	}
}
