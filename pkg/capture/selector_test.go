package capture

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jpamaran/gourdsight/pkg/labels"
	"github.com/jpamaran/gourdsight/pkg/types"
)

func frame(id string) types.FrameRef {
	return types.FrameRef{ID: id, Data: []byte{0x01}}
}

func rec(id, label string, conf float64) types.StabilityRecord {
	return types.StabilityRecord{Frame: frame(id), Label: label, Confidence: conf}
}

func TestSelect_PrefersStableBest(t *testing.T) {
	best := types.BestFrame{Frame: frame("best"), Label: "patola_male", Confidence: 0.85}
	recent := []types.StabilityRecord{rec("recent", "upo_male", 0.99)}
	last := frame("last")

	got, rat, err := Select(best, recent, &last)
	require.NoError(t, err)
	require.Equal(t, "best", got.ID)
	require.Equal(t, "best-stable", rat.Rule)
	require.Equal(t, "patola_male", rat.Label)
}

func TestSelect_SkipsLowConfidenceBest(t *testing.T) {
	best := types.BestFrame{Frame: frame("best"), Label: "patola_male", Confidence: 0.50}
	recent := []types.StabilityRecord{rec("recent", "upo_male", 0.80)}

	got, rat, err := Select(best, recent, nil)
	require.NoError(t, err)
	require.Equal(t, "recent", got.ID)
	require.Equal(t, "best-recent", rat.Rule)
}

func TestSelect_BestRecentIgnoresRejects(t *testing.T) {
	recent := []types.StabilityRecord{
		rec("rej", labels.Reject, 0.99),
		rec("low", "upo_male", 0.65),
		rec("high", "kalabasa_female", 0.82),
	}

	got, rat, err := Select(types.BestFrame{}, recent, nil)
	require.NoError(t, err)
	require.Equal(t, "high", got.ID)
	require.Equal(t, "kalabasa_female", rat.Label)
}

func TestSelect_FallsBackToLastFrame(t *testing.T) {
	// Only reject and sub-threshold records: take whatever frame is newest.
	recent := []types.StabilityRecord{
		rec("rej", labels.Reject, 0.99),
		rec("weak", "upo_male", 0.40),
	}
	last := frame("last")

	got, rat, err := Select(types.BestFrame{}, recent, &last)
	require.NoError(t, err)
	require.Equal(t, "last", got.ID)
	require.Equal(t, "last-frame", rat.Rule)
}

func TestSelect_NoFrame(t *testing.T) {
	_, rat, err := Select(types.BestFrame{}, nil, nil)
	require.ErrorIs(t, err, ErrNoFrame)
	require.Equal(t, "none", rat.Rule)

	empty := types.FrameRef{}
	_, _, err = Select(types.BestFrame{}, nil, &empty)
	require.ErrorIs(t, err, ErrNoFrame)
}

func TestRationale_String(t *testing.T) {
	require.Equal(t, "last-frame", Rationale{Rule: "last-frame"}.String())
	require.Equal(t, "best-stable (patola_male 0.85)",
		Rationale{Rule: "best-stable", Label: "patola_male", Confidence: 0.85}.String())
}
