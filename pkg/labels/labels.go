// Package labels defines the fixed label vocabulary shared by the local and
// remote classifiers and the mapping from raw classifier labels to typed
// variety and gender tags.
package labels

import "strings"

// Variety identifies a gourd variety.
type Variety string

// Gender identifies a flower gender.
type Gender string

const (
	VarietyPatola   Variety = "patola"
	VarietyUpo      Variety = "upo"
	VarietyAmpalaya Variety = "ampalaya"
	VarietyKalabasa Variety = "kalabasa"
	VarietyUnknown  Variety = "unknown"
)

const (
	GenderMale    Gender = "male"
	GenderFemale  Gender = "female"
	GenderUnknown Gender = "unknown"
)

// Reject is the sentinel label meaning "not a gourd flower". Both classifiers
// use it, and the smoother may synthesize it when confidence is low.
const Reject = "not_gourd"

// varieties lists every known variety in vocabulary order.
var varieties = []Variety{
	VarietyPatola,
	VarietyUpo,
	VarietyAmpalaya,
	VarietyKalabasa,
}

// Varieties returns the known varieties in vocabulary order.
func Varieties() []Variety {
	out := make([]Variety, len(varieties))
	copy(out, varieties)
	return out
}

// IsReject reports whether a raw label is the reject sentinel.
func IsReject(raw string) bool {
	return normalize(raw) == Reject
}

// Parse maps a raw classifier label such as "patola_male" to typed variety
// and gender tags. It is total: anything unmappable, including the reject
// sentinel, yields (VarietyUnknown, GenderUnknown).
func Parse(raw string) (Variety, Gender) {
	norm := normalize(raw)
	if norm == "" || norm == Reject {
		return VarietyUnknown, GenderUnknown
	}

	variety := VarietyUnknown
	gender := GenderUnknown

	parts := strings.Split(norm, "_")
	for _, p := range parts {
		switch p {
		case "male":
			gender = GenderMale
		case "female":
			gender = GenderFemale
		default:
			for _, v := range varieties {
				if p == string(v) {
					variety = v
					break
				}
			}
		}
	}
	return variety, gender
}

// Join builds the raw label for a variety/gender pair, the inverse of Parse
// for fully known tags.
func Join(v Variety, g Gender) string {
	if v == VarietyUnknown {
		return Reject
	}
	if g == GenderUnknown {
		return string(v)
	}
	return string(v) + "_" + string(g)
}

// ParseVariety maps free text from the remote model to a typed variety.
// Unrecognized text, "none" and reject phrasing all map to VarietyUnknown.
func ParseVariety(raw string) Variety {
	norm := normalize(raw)
	for _, v := range varieties {
		if norm == string(v) {
			return v
		}
	}
	// Remote models sometimes answer with common names.
	switch norm {
	case "sponge_gourd", "luffa":
		return VarietyPatola
	case "bottle_gourd", "calabash":
		return VarietyUpo
	case "bitter_gourd", "bitter_melon":
		return VarietyAmpalaya
	case "squash", "pumpkin":
		return VarietyKalabasa
	}
	return VarietyUnknown
}

// ParseGender maps free text from the remote model to a typed gender.
func ParseGender(raw string) Gender {
	switch normalize(raw) {
	case "male", "m", "staminate":
		return GenderMale
	case "female", "f", "pistillate":
		return GenderFemale
	}
	return GenderUnknown
}

func normalize(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.ReplaceAll(s, " ", "_")
	s = strings.ReplaceAll(s, "-", "_")
	return s
}
