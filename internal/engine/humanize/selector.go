// Package humanize: RandomSelector draws one option per block, either from
// an injected uniform source or deterministically from a seed.
package humanize

import (
	"math"
	"math/rand"

	"github.com/harborwave/humanizer/internal/domain"
	"github.com/harborwave/humanizer/internal/engine/seam"
)

// Select draws one option index per block from src, returning the
// selections in block order. The returned slice length always equals
// len(blocks).
func Select(blocks []domain.Block, src seam.RandomSource) []domain.Selection {
	selections := make([]domain.Selection, len(blocks))
	for i, b := range blocks {
		choice := src.Intn(len(b.Options))
		selections[i] = domain.Selection{BlockIndex: b.Index, OptionIndex: choice, OptionText: b.Options[choice]}
	}
	return selections
}

// SelectWithSeed draws one option per block using a selector seeded
// entirely from seed, independent of any injected or shared RandomSource.
// It is a pure function of (blocks, seed): the same arguments always
// produce the same selections (Property P5).
func SelectWithSeed(blocks []domain.Block, seed uint64) []domain.Selection {
	rng := rand.New(rand.NewSource(int64(seed)))
	selections := make([]domain.Selection, len(blocks))
	for i, b := range blocks {
		choice := rng.Intn(len(b.Options))
		selections[i] = domain.Selection{BlockIndex: b.Index, OptionIndex: choice, OptionText: b.Options[choice]}
	}
	return selections
}

// SelectMany returns up to n best-effort distinct combinations of
// selections across blocks, for preview generation. n is clamped to 10. It
// gives up and returns whatever distinct combinations it has found after a
// bounded number of draws (small combination spaces may not yield n
// distinct results).
func SelectMany(blocks []domain.Block, n int, src seam.RandomSource) [][]domain.Selection {
	if n > 10 {
		n = 10
	}
	if n <= 0 || len(blocks) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, n)
	out := make([][]domain.Selection, 0, n)
	maxAttempts := n * 20
	for attempt := 0; attempt < maxAttempts && len(out) < n; attempt++ {
		sel := Select(blocks, src)
		key := selectionKey(sel)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, sel)
	}
	return out
}

func selectionKey(sel []domain.Selection) string {
	buf := make([]byte, 0, len(sel)*4)
	for _, s := range sel {
		buf = append(buf, byte(s.BlockIndex), byte(s.BlockIndex>>8), byte(s.OptionIndex), byte(s.OptionIndex>>8))
	}
	return string(buf)
}

// TestDistribution draws `iterations` independent selections and returns
// the per-block option histograms plus a uniformity index — the average,
// across blocks with 2+ options, of each block's chi-square statistic
// against the uniform null hypothesis divided by its degrees of freedom. A
// uniformity index near 1 indicates the draws are consistent with a
// rejection-free uniform distribution (Property P6); callers verifying a
// single block against the 99% critical value should compute the statistic
// from that block's histogram Counts instead of this aggregate.
func TestDistribution(blocks []domain.Block, iterations int, src seam.RandomSource) ([]domain.DistributionHistogram, float64) {
	if iterations <= 0 || len(blocks) == 0 {
		return nil, 0
	}

	histograms := make([]domain.DistributionHistogram, len(blocks))
	for i, b := range blocks {
		histograms[i] = domain.DistributionHistogram{BlockIndex: b.Index, Counts: make([]int, len(b.Options))}
	}

	for n := 0; n < iterations; n++ {
		for i, b := range blocks {
			choice := src.Intn(len(b.Options))
			histograms[i].Counts[choice]++
		}
	}

	var sumChi float64
	var degreesOfFreedomTotal int
	for _, h := range histograms {
		k := len(h.Counts)
		if k < 2 {
			continue
		}
		total := 0
		for _, c := range h.Counts {
			total += c
		}
		if total == 0 {
			continue
		}
		expected := float64(total) / float64(k)
		var chi float64
		for _, c := range h.Counts {
			diff := float64(c) - expected
			chi += (diff * diff) / expected
		}
		sumChi += chi
		degreesOfFreedomTotal += k - 1
	}

	uniformityIndex := 1.0
	if degreesOfFreedomTotal > 0 {
		uniformityIndex = sumChi / float64(degreesOfFreedomTotal)
	}
	return histograms, math.Round(uniformityIndex*10000) / 10000
}
