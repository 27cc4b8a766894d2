// Package smoothing averages raw classifier outputs over a short sliding
// window to damp single-frame noise before stability tracking.
package smoothing

import (
	"sort"

	"github.com/jpamaran/gourdsight/pkg/labels"
	"github.com/jpamaran/gourdsight/pkg/types"
)

const (
	// DefaultWindow is the number of raw distributions averaged together.
	DefaultWindow = 5
	// DefaultRejectThreshold is the top-1 mean probability below which a
	// reject entry is synthesized.
	DefaultRejectThreshold = 0.70
)

// Smoother maintains a FIFO window of raw prediction distributions and
// returns their per-label arithmetic mean. It is not safe for concurrent use;
// the scan loop is the only caller.
type Smoother struct {
	window    int
	threshold float64
	history   [][]types.RawPrediction
}

// New creates a Smoother. Non-positive window or threshold fall back to the
// defaults.
func New(window int, rejectThreshold float64) *Smoother {
	if window <= 0 {
		window = DefaultWindow
	}
	if rejectThreshold <= 0 {
		rejectThreshold = DefaultRejectThreshold
	}
	return &Smoother{window: window, threshold: rejectThreshold}
}

// Observe appends one raw distribution to the window, evicting the oldest
// entry beyond the window size, and returns the averaged distribution sorted
// by descending probability.
//
// If the averaged top-1 probability falls below the reject threshold, a
// reject entry with probability 1-top1 is merged into the distribution and
// the result is re-sorted; the synthesized entry may become the new top-1.
func (s *Smoother) Observe(raw []types.RawPrediction) types.SmoothedPrediction {
	s.history = append(s.history, raw)
	if len(s.history) > s.window {
		s.history = s.history[1:]
	}

	sums := make(map[string]float64)
	order := make([]string, 0, len(raw))
	seen := make(map[string]bool)
	for _, dist := range s.history {
		for _, p := range dist {
			if !seen[p.Label] {
				seen[p.Label] = true
				order = append(order, p.Label)
			}
			sums[p.Label] += p.Probability
		}
	}

	n := float64(len(s.history))
	scores := make([]types.RawPrediction, 0, len(order))
	for _, label := range order {
		scores = append(scores, types.RawPrediction{
			Label:       label,
			Probability: sums[label] / n,
		})
	}
	sortScores(scores)

	if len(scores) > 0 && scores[0].Probability < s.threshold {
		scores = synthesizeReject(scores)
	}

	smoothed := types.SmoothedPrediction{Scores: scores}
	if len(scores) > 0 {
		smoothed.Top = scores[0]
	}
	return smoothed
}

// Reset discards all windowed history, e.g. on classifier restart.
func (s *Smoother) Reset() {
	s.history = nil
}

// Len returns the number of distributions currently windowed.
func (s *Smoother) Len() int {
	return len(s.history)
}

// synthesizeReject inserts a reject entry with probability 1-top1. If the
// vocabulary already carries a reject entry it is boosted to the synthetic
// value only when that is larger.
func synthesizeReject(scores []types.RawPrediction) []types.RawPrediction {
	synth := 1 - scores[0].Probability

	for i := range scores {
		if labels.IsReject(scores[i].Label) {
			if synth > scores[i].Probability {
				scores[i].Probability = synth
			}
			sortScores(scores)
			return scores
		}
	}

	scores = append(scores, types.RawPrediction{Label: labels.Reject, Probability: synth})
	sortScores(scores)
	return scores
}

func sortScores(scores []types.RawPrediction) {
	sort.SliceStable(scores, func(i, j int) bool {
		return scores[i].Probability > scores[j].Probability
	})
}
