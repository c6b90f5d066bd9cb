package jobs

import (
	"math/rand/v2"
	"sort"

	"github.com/bitsbeam/cosmonauts/pkg/registry"
)

// BuildWeights builds the priority weights sequence: each jobs-stream name
// repeated Priority times (spec §3 "Priority weights"). Empty if no stream
// declares a priority. Streams are visited in name order so the sequence
// (and therefore test expectations) is deterministic before any
// Scheduler's rotation is applied.
func BuildWeights(streams map[string]registry.JobStream) []string {
	names := make([]string, 0, len(streams))
	for name := range streams {
		names = append(names, name)
	}
	sort.Strings(names)

	var weights []string
	for _, name := range names {
		p := streams[name].Priority
		for i := 0; i < p; i++ {
			weights = append(weights, name)
		}
	}
	return weights
}

// Scheduler produces one rotation (a full pass) over the weights
// sequence. The work loop calls it once per pass (spec §4.5 "an infinite
// rotation over a shuffled copy of the weights sequence").
type Scheduler interface {
	Rotation(weights []string) []string
}

// ShuffledScheduler shuffles the weights sequence before each pass, the
// spec's default: bounded unfairness within a pass, no systematic latency
// bias across passes.
type ShuffledScheduler struct{}

func (ShuffledScheduler) Rotation(weights []string) []string {
	out := make([]string, len(weights))
	copy(out, weights)
	rand.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out
}

// StrideScheduler interleaves streams by weight instead of shuffling,
// producing the same rotation every pass (e.g. priorities a:3,b:1 yields
// a,b,a,a rather than a,a,a,b). Deterministic output makes priority
// fairness and S5-style assertions exact instead of statistical (spec §9
// Design Notes: "a deterministic interleave ... is preferable for
// testability").
type StrideScheduler struct{}

func (StrideScheduler) Rotation(weights []string) []string {
	counts := make(map[string]int, len(weights))
	order := make([]string, 0, len(weights))
	for _, w := range weights {
		if counts[w] == 0 {
			order = append(order, w)
		}
		counts[w]++
	}
	sort.Strings(order)

	total := len(weights)
	out := make([]string, 0, total)
	remaining := make(map[string]int, len(counts))
	for k, v := range counts {
		remaining[k] = v
	}

	for len(out) < total {
		for _, name := range order {
			if remaining[name] > 0 {
				out = append(out, name)
				remaining[name]--
			}
		}
	}
	return out
}
