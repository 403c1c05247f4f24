package util

import (
	"slices"
	"strconv"
	"testing"
)

func makeIDs(n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = strconv.Itoa(i + 1)
	}
	return ids
}

func TestSeededShuffleDeterministic(t *testing.T) {
	ids := makeIDs(50)
	a := SeededShuffle(ids, 1337)
	b := SeededShuffle(ids, 1337)
	if !slices.Equal(a, b) {
		t.Errorf("SeededShuffle is not deterministic:\n%v\n%v", a, b)
	}
}

func TestSeededShuffleIsPermutation(t *testing.T) {
	ids := makeIDs(50)
	got := SeededShuffle(ids, 42)

	if len(got) != len(ids) {
		t.Fatalf("len = %d, want %d", len(got), len(ids))
	}
	sorted := slices.Clone(got)
	slices.SortFunc(sorted, func(a, b string) int {
		x, _ := strconv.Atoi(a)
		y, _ := strconv.Atoi(b)
		return x - y
	})
	if !slices.Equal(sorted, ids) {
		t.Errorf("SeededShuffle did not return a permutation: %v", got)
	}
	if slices.Equal(got, ids) {
		t.Error("SeededShuffle returned input order for 50 items")
	}
}

func TestSeededShuffleDoesNotMutateInput(t *testing.T) {
	ids := makeIDs(10)
	orig := slices.Clone(ids)
	_ = SeededShuffle(ids, 7)
	if !slices.Equal(ids, orig) {
		t.Errorf("input mutated: %v", ids)
	}
}

func TestSeededShuffleSeedsDiffer(t *testing.T) {
	ids := makeIDs(50)
	if slices.Equal(SeededShuffle(ids, 1), SeededShuffle(ids, 2)) {
		t.Error("different seeds produced the same permutation")
	}
}

func TestSeededShuffleEmpty(t *testing.T) {
	if got := SeededShuffle(nil, 1); got == nil || len(got) != 0 {
		t.Errorf("SeededShuffle(nil) = %#v, want empty slice", got)
	}
}

func TestDedupe(t *testing.T) {
	got := Dedupe([]string{"b", "a", "b", "c", "a"})
	want := []string{"b", "a", "c"}
	if !slices.Equal(got, want) {
		t.Errorf("Dedupe() = %v, want %v", got, want)
	}
}
