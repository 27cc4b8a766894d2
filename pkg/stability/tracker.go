// Package stability tracks runs of identical top-1 predictions across
// consecutive frames and caches the best frame observed during a stable run.
package stability

import (
	"sync"

	"github.com/jpamaran/gourdsight/pkg/labels"
	"github.com/jpamaran/gourdsight/pkg/types"
)

const (
	// DefaultHistory is the rolling history size.
	DefaultHistory = 7
	// DefaultRunLength is the number of consecutive identical labels
	// required before a reading counts as stable.
	DefaultRunLength = 5
)

// Status is the outcome of one tracker update.
type Status struct {
	Stable bool
	Best   types.BestFrame
}

// Tracker owns the stability window and best-frame cache for one scanning
// session. All methods are safe for concurrent use; the capture path reads a
// consistent snapshot while the scan loop updates.
type Tracker struct {
	mu        sync.Mutex
	history   int
	runLength int
	records   []types.StabilityRecord
	best      types.BestFrame
	seq       int
}

// New creates a Tracker. Non-positive sizes fall back to the defaults, and
// the run length is clamped to the history size.
func New(history, runLength int) *Tracker {
	if history <= 0 {
		history = DefaultHistory
	}
	if runLength <= 0 {
		runLength = DefaultRunLength
	}
	if runLength > history {
		runLength = history
	}
	return &Tracker{history: history, runLength: runLength}
}

// Update appends one labeled frame to the history and re-evaluates stability.
// The best frame is only ever mutated while the window is stable:
//
//   - empty best, or same label with higher confidence: replaced
//   - different stable label with higher confidence: replaced
//     (last-confident-wins, not first-seen-wins)
//   - otherwise unchanged
func (t *Tracker) Update(frame types.FrameRef, label string, confidence float64) Status {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.seq++
	t.records = append(t.records, types.StabilityRecord{
		Label:      label,
		Confidence: confidence,
		Frame:      frame,
		Seq:        t.seq,
	})
	if len(t.records) > t.history {
		t.records = t.records[1:]
	}

	stable := t.isStableLocked()
	if stable {
		switch {
		case t.best.IsZero():
			t.replaceBestLocked(frame, label, confidence)
		case label == t.best.Label && confidence > t.best.Confidence:
			t.replaceBestLocked(frame, label, confidence)
		case label != t.best.Label && confidence > t.best.Confidence:
			t.replaceBestLocked(frame, label, confidence)
		default:
			t.best.StableCount++
		}
	}

	return Status{Stable: stable, Best: t.best}
}

// isStableLocked reports whether the last runLength records share one
// non-reject label. Fewer than runLength records is never stable.
func (t *Tracker) isStableLocked() bool {
	if len(t.records) < t.runLength {
		return false
	}
	tail := t.records[len(t.records)-t.runLength:]
	label := tail[0].Label
	if labels.IsReject(label) {
		return false
	}
	for _, r := range tail[1:] {
		if r.Label != label {
			return false
		}
	}
	return true
}

func (t *Tracker) replaceBestLocked(frame types.FrameRef, label string, confidence float64) {
	count := 1
	if label == t.best.Label {
		count = t.best.StableCount + 1
	}
	t.best = types.BestFrame{
		Frame:       frame,
		Label:       label,
		Confidence:  confidence,
		StableCount: count,
	}
}

// Best returns the current best frame, which may be the zero value.
func (t *Tracker) Best() types.BestFrame {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.best
}

// Snapshot returns a copy of the current history, oldest first.
func (t *Tracker) Snapshot() []types.StabilityRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]types.StabilityRecord, len(t.records))
	copy(out, t.records)
	return out
}

// Last returns the most recently tracked frame, if any.
func (t *Tracker) Last() (types.FrameRef, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.records) == 0 {
		return types.FrameRef{}, false
	}
	return t.records[len(t.records)-1].Frame, true
}

// Reset clears the history and best frame atomically. Called at the start of
// each scanning session, before any new updates are accepted.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.records = nil
	t.best = types.BestFrame{}
	t.seq = 0
}
