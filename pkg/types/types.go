// Package types defines the shared data contracts of the classification
// engine: raw and smoothed predictions, stability records, frame handles and
// the final prediction shape handed to callers for persistence.
package types

import (
	"time"

	"github.com/jpamaran/gourdsight/pkg/labels"
)

// Source identifies which predictor a final result came from.
type Source string

const (
	SourceLocal  Source = "local"
	SourceRemote Source = "remote"
	SourceManual Source = "manual"
)

// RawPrediction is a single label/probability entry from a classifier.
// A full inference result is an ordered slice, one entry per vocabulary label.
type RawPrediction struct {
	Label       string  `json:"label"`
	Probability float64 `json:"probability"`
}

// SmoothedPrediction is the windowed average of recent raw distributions,
// sorted by descending probability with a top-1 pointer.
type SmoothedPrediction struct {
	Scores []RawPrediction `json:"scores"`
	Top    RawPrediction   `json:"top"`
}

// FrameRef is an opaque handle to a captured camera frame. Data must not be
// modified after creation; frames are shared by reference between the scan
// loop, the stability tracker and the frame selector.
type FrameRef struct {
	ID     string    `json:"id"`
	Data   []byte    `json:"-"`
	Width  int       `json:"width"`
	Height int       `json:"height"`
	Taken  time.Time `json:"taken"`
}

// IsZero reports whether the handle refers to no frame.
func (f FrameRef) IsZero() bool {
	return f.ID == "" && len(f.Data) == 0
}

// StabilityRecord is one entry in the rolling history of top-1 smoothed
// predictions with the frame that produced it.
type StabilityRecord struct {
	Label      string   `json:"label"`
	Confidence float64  `json:"confidence"`
	Frame      FrameRef `json:"frame"`
	Seq        int      `json:"seq"`
}

// BestFrame is the highest-confidence frame observed during a stable run.
// The zero value means no best frame has been recorded yet.
type BestFrame struct {
	Frame       FrameRef `json:"frame"`
	Label       string   `json:"label"`
	Confidence  float64  `json:"confidence"`
	StableCount int      `json:"stable_count"`
}

// IsZero reports whether no best frame has been recorded.
func (b BestFrame) IsZero() bool {
	return b.Frame.IsZero() && b.Label == ""
}

// Auxiliary carries the optional metadata a remote analysis may include.
type Auxiliary struct {
	Reasoning       string             `json:"reasoning,omitempty"`
	KeyFeatures     []string           `json:"key_features,omitempty"`
	Quality         map[string]float64 `json:"quality,omitempty"`
	HarvestStage    string             `json:"harvest_stage,omitempty"`
	Strengths       []string           `json:"strengths,omitempty"`
	Concerns        []string           `json:"concerns,omitempty"`
	Recommendations []string           `json:"recommendations,omitempty"`
}

// FinalPrediction is the immutable outcome of one user-initiated analysis.
// Confidence is a percentage (0-100). A user override produces a new value
// with Source set to SourceManual; existing values are never mutated.
type FinalPrediction struct {
	Variety    labels.Variety `json:"variety"`
	Gender     labels.Gender  `json:"gender"`
	Confidence float64        `json:"confidence"`
	Source     Source         `json:"source"`
	IsRejected bool           `json:"is_rejected"`
	Aux        *Auxiliary     `json:"aux,omitempty"`
}

// RemotePrediction is the structured result of one cloud vision-model call.
// Confidence is a fraction (0-1).
type RemotePrediction struct {
	Variety         labels.Variety     `json:"variety"`
	Gender          labels.Gender      `json:"gender"`
	Confidence      float64            `json:"confidence"`
	Reasoning       string             `json:"reasoning"`
	KeyFeatures     []string           `json:"key_features,omitempty"`
	Quality         map[string]float64 `json:"quality,omitempty"`
	HarvestStage    string             `json:"harvest_stage,omitempty"`
	Strengths       []string           `json:"strengths,omitempty"`
	Concerns        []string           `json:"concerns,omitempty"`
	Recommendations []string           `json:"recommendations,omitempty"`
}

// IsUncertain reports whether confidence is below the uncertainty floor.
func (r *RemotePrediction) IsUncertain() bool { return r.Confidence < 0.5 }

// IsLowConfidence reports whether confidence is below the low-confidence bar.
func (r *RemotePrediction) IsLowConfidence() bool { return r.Confidence < 0.65 }

// IsNotFlower reports whether the variety resolved to the reject sentinel.
func (r *RemotePrediction) IsNotFlower() bool { return r.Variety == labels.VarietyUnknown }

// ShouldReject reports whether the analysis should be treated as rejected.
func (r *RemotePrediction) ShouldReject() bool { return r.IsNotFlower() || r.IsUncertain() }

// Aux collects the remote prediction's optional metadata into an Auxiliary
// block for embedding in a FinalPrediction.
func (r *RemotePrediction) Aux() *Auxiliary {
	return &Auxiliary{
		Reasoning:       r.Reasoning,
		KeyFeatures:     r.KeyFeatures,
		Quality:         r.Quality,
		HarvestStage:    r.HarvestStage,
		Strengths:       r.Strengths,
		Concerns:        r.Concerns,
		Recommendations: r.Recommendations,
	}
}

// ComparisonResult is the arbitration verdict over a local/remote pair.
// It is derived alongside the predictions and never persisted on its own.
type ComparisonResult struct {
	VarietyMatch   bool    `json:"variety_match"`
	GenderMatch    bool    `json:"gender_match"`
	Agree          bool    `json:"agree"`
	ConfidenceGap  float64 `json:"confidence_gap"`
	Recommendation Source  `json:"recommendation"`
	Confidence     float64 `json:"confidence"`
}
