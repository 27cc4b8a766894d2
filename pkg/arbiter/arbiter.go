// Package arbiter reconciles disagreeing predictions from the local and
// remote classifiers into a single recommended source.
//
// The decision table is an ordered set of override rules, not weighted
// voting: earlier rules shadow later ones, and the asymmetries between the
// rules encode field-tuned domain knowledge about which classifier fails in
// which way. The thresholds and rule order are frozen; changing them changes
// observed behavior in the field.
package arbiter

import (
	"math"

	"github.com/jpamaran/gourdsight/pkg/labels"
	"github.com/jpamaran/gourdsight/pkg/types"
)

// Verdict is the minimal prediction shape the arbiter compares.
// Confidence is a fraction (0-1).
type Verdict struct {
	Variety    labels.Variety
	Gender     labels.Gender
	Confidence float64
}

const (
	// confusableLocalFloor gates the confusable-variety guard: local must be
	// at least this confident before it overrides the remote call.
	confusableLocalFloor = 0.80
	// femaleOverrideBar is the remote confidence required to overturn a
	// local "female" call with a remote "male" call.
	femaleOverrideBar = 0.98
	// localOverwhelming always wins for the local side.
	localOverwhelming = 0.98
	// remoteOverwhelming wins for the remote side when local is weak.
	remoteOverwhelming = 0.95
	weakLocal          = 0.70
	highConfidence     = 0.90
	notVeryHighLocal   = 0.80
)

// Reconcile compares a local and a remote verdict and returns the agreement
// result plus a recommended source. It is a pure function: same inputs, same
// recommendation, every call.
func Reconcile(local, remote Verdict) types.ComparisonResult {
	res := types.ComparisonResult{
		VarietyMatch:  local.Variety == remote.Variety,
		GenderMatch:   local.Gender == remote.Gender,
		ConfidenceGap: math.Abs(local.Confidence - remote.Confidence),
	}
	res.Agree = res.VarietyMatch && res.GenderMatch

	if res.Agree {
		// Ties favor remote: it is the more expensive, better informed
		// signal.
		if local.Confidence > remote.Confidence {
			res.Recommendation = types.SourceLocal
		} else {
			res.Recommendation = types.SourceRemote
		}
		res.Confidence = math.Max(local.Confidence, remote.Confidence)
		return res
	}

	res.Recommendation = disagreement(local, remote)
	res.Confidence = (local.Confidence + remote.Confidence) / 2
	return res
}

// disagreement applies the ordered override rules, first match wins.
func disagreement(local, remote Verdict) types.Source {
	// Patola and upo flowers are near twins to a single cloud frame; the
	// leaf texture the local model sees across the run tells them apart.
	// A confident local patola call beats a remote upo call.
	if local.Variety == labels.VarietyPatola &&
		remote.Variety == labels.VarietyUpo &&
		local.Confidence >= confusableLocalFloor {
		return types.SourceLocal
	}

	// Female protection: the ovary bulge behind a female flower is a small
	// detail a single remote frame easily misses. Local "female" stands
	// over remote "male" unless the remote call is near-certain.
	if local.Gender == labels.GenderFemale && remote.Gender == labels.GenderMale {
		if remote.Confidence >= femaleOverrideBar {
			return types.SourceRemote
		}
		return types.SourceLocal
	}

	if local.Confidence >= localOverwhelming {
		return types.SourceLocal
	}
	if remote.Confidence >= remoteOverwhelming && local.Confidence < weakLocal {
		return types.SourceRemote
	}
	if local.Confidence >= highConfidence && remote.Confidence < highConfidence {
		return types.SourceLocal
	}
	if remote.Confidence >= highConfidence && local.Confidence < notVeryHighLocal {
		return types.SourceRemote
	}

	// Neither side is clearly trustworthy; defer to the user.
	return types.SourceManual
}
