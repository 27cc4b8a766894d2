// Package capture chooses which cached frame to submit for remote
// verification when the user triggers an analysis.
package capture

import (
	"errors"
	"fmt"

	"github.com/jpamaran/gourdsight/pkg/labels"
	"github.com/jpamaran/gourdsight/pkg/types"
)

// ErrNoFrame is returned when no cached frame qualifies; the caller must
// capture a fresh frame synchronously.
var ErrNoFrame = errors.New("capture: no cached frame available")

const (
	// bestFrameMinConfidence gates rule 1 (use the stable best frame).
	bestFrameMinConfidence = 0.50
	// recentMinConfidence gates rule 2 (use the best recent frame).
	recentMinConfidence = 0.60
)

// Rationale records which selection rule fired, for diagnostics.
type Rationale struct {
	Rule       string  `json:"rule"`
	Label      string  `json:"label,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
}

func (r Rationale) String() string {
	if r.Label == "" {
		return r.Rule
	}
	return fmt.Sprintf("%s (%s %.2f)", r.Rule, r.Label, r.Confidence)
}

// Select picks the frame to verify, first matching rule wins:
//
//  1. the stable best frame, when present with confidence above 0.50
//  2. the highest-confidence non-reject entry in the recent history, when
//     its confidence is above 0.60
//  3. the most recent frame, regardless of label or confidence
//  4. ErrNoFrame
func Select(best types.BestFrame, recent []types.StabilityRecord, last *types.FrameRef) (types.FrameRef, Rationale, error) {
	if !best.IsZero() && best.Confidence > bestFrameMinConfidence {
		return best.Frame, Rationale{
			Rule:       "best-stable",
			Label:      best.Label,
			Confidence: best.Confidence,
		}, nil
	}

	if rec, ok := bestRecent(recent); ok && rec.Confidence > recentMinConfidence {
		return rec.Frame, Rationale{
			Rule:       "best-recent",
			Label:      rec.Label,
			Confidence: rec.Confidence,
		}, nil
	}

	if last != nil && !last.IsZero() {
		return *last, Rationale{Rule: "last-frame"}, nil
	}

	return types.FrameRef{}, Rationale{Rule: "none"}, ErrNoFrame
}

// bestRecent returns the highest-confidence non-reject record.
func bestRecent(recent []types.StabilityRecord) (types.StabilityRecord, bool) {
	var best types.StabilityRecord
	found := false
	for _, r := range recent {
		if labels.IsReject(r.Label) || r.Frame.IsZero() {
			continue
		}
		if !found || r.Confidence > best.Confidence {
			best = r
			found = true
		}
	}
	return best, found
}
