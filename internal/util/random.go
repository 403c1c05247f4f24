// Package util provides utility functions for the VoterBot application.
package util

import (
	"math/rand/v2"
	"slices"
)

// SeededShuffle returns a shuffled copy of items. The permutation depends only on
// the seed and the input order, so the same inputs always produce the same queue.
// It uses the PCG generator from math/rand/v2, whose output sequence is stable
// across Go releases.
func SeededShuffle(items []string, seed int64) []string {
	out := slices.Clone(items)
	if out == nil {
		return []string{}
	}
	rng := rand.New(rand.NewPCG(uint64(seed), 0))
	rng.Shuffle(len(out), func(i, j int) {
		out[i], out[j] = out[j], out[i]
	})
	return out
}

// Dedupe returns items with repeats removed, keeping first occurrences in order.
func Dedupe(items []string) []string {
	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, len(items))
	for _, item := range items {
		if _, ok := seen[item]; ok {
			continue
		}
		seen[item] = struct{}{}
		out = append(out, item)
	}
	return out
}
