// Package remote implements the cloud-side classifier: prompt construction,
// the vision model call and the two-stage parsing of its reply.
//
// The model's output channel is untrusted structured-ish text. Stage one is
// a strict JSON parse after sanitizing common model artifacts (code fences,
// comments, trailing commas); stage two salvages the variety, gender and
// confidence fields by pattern extraction from whatever text came back.
// Only when both stages fail does Analyze report ErrParse. The salvage path
// is load-bearing, not a convenience: truncated and malformed replies are
// routine.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/jpamaran/gourdsight/pkg/client"
	"github.com/jpamaran/gourdsight/pkg/labels"
	"github.com/jpamaran/gourdsight/pkg/types"
)

// ErrParse means neither the strict parse nor field salvage produced a
// usable prediction.
var ErrParse = errors.New("remote: unparseable model response")

// Re-exported backend failure classes, so callers need only this package.
var (
	ErrRateLimited = client.ErrRateLimited
	ErrUnavailable = client.ErrUnavailable
)

// Hint seeds the prompt with the local classifier's verdict. It biases the
// model's attention but must not override it; the reply is still an
// independent assessment.
type Hint struct {
	Label      string
	Confidence float64
}

// Classifier runs gourd flower analysis against a vision model backend.
type Classifier struct {
	client client.VisionClient
	model  string
}

// New creates a Classifier for the given backend and model name.
func New(vc client.VisionClient, model string) *Classifier {
	return &Classifier{client: vc, model: model}
}

// Analyze submits one base64-encoded image for classification. A nil hint
// means no local context is available.
func (c *Classifier) Analyze(ctx context.Context, imgB64 string, hint *Hint) (*types.RemotePrediction, error) {
	raw, err := c.client.Query(ctx, c.model, buildPrompt(hint), imgB64)
	if err != nil {
		return nil, err
	}
	return Parse(raw)
}

// buildPrompt renders the analysis prompt, optionally seeded with the local
// verdict.
func buildPrompt(hint *Hint) string {
	var b strings.Builder
	b.WriteString(basePrompt)
	if hint != nil && hint.Label != "" {
		fmt.Fprintf(&b, "\n\nCONTEXT\nAn on-device classifier read this frame as %q with confidence %.2f. "+
			"Treat this only as a pointer to where to look. Your variety, gender and confidence must be your own independent assessment of the image.",
			hint.Label, hint.Confidence)
	}
	return b.String()
}

const basePrompt = `You are a gourd flower identification expert for Philippine gourds.

Identify the variety and gender of the flower in the image.

Return JSON only:
{
  "variety": "patola|upo|ampalaya|kalabasa|none",
  "gender": "male|female|unknown",
  "confidence": 0.0,
  "reasoning": "short factual explanation (<= 40 words)",
  "key_features": ["feature1", "feature2", "feature3"],
  "quality": {"petal_condition": 0, "color_vibrancy": 0, "overall_health": 0},
  "harvest_stage": "string",
  "observations": {"strengths": [], "concerns": [], "recommendations": []}
}

HARD RULES
- confidence is a fraction in [0,1].
- quality scores are integers in [0,100].
- Female flowers have a small ovary bulge behind the petals; check for it before answering "male".
- If the image does not show a gourd flower, return variety "none" with confidence 0.0.
- JSON only. No markdown, no code fences, no comments, no trailing commas.`

// wire is the reply shape the prompt asks for.
type wire struct {
	Variety      string             `json:"variety"`
	Gender       string             `json:"gender"`
	Confidence   float64            `json:"confidence"`
	Reasoning    string             `json:"reasoning"`
	KeyFeatures  []string           `json:"key_features"`
	Quality      map[string]float64 `json:"quality"`
	HarvestStage string             `json:"harvest_stage"`
	Observations struct {
		Strengths       []string `json:"strengths"`
		Concerns        []string `json:"concerns"`
		Recommendations []string `json:"recommendations"`
	} `json:"observations"`
}

// Parse turns a raw model reply into a prediction via the two-stage
// contract: sanitize and strictly parse, then salvage fields, then ErrParse.
func Parse(raw string) (*types.RemotePrediction, error) {
	cleaned := sanitizeModelJSON(raw)

	var w wire
	if strings.HasPrefix(cleaned, "{") && json.Unmarshal([]byte(cleaned), &w) == nil && w.Variety != "" {
		return fromWire(w), nil
	}

	if pred, ok := salvage(raw); ok {
		return pred, nil
	}
	return nil, fmt.Errorf("%w: %.80q", ErrParse, raw)
}

func fromWire(w wire) *types.RemotePrediction {
	return &types.RemotePrediction{
		Variety:         labels.ParseVariety(w.Variety),
		Gender:          labels.ParseGender(w.Gender),
		Confidence:      clampUnit(w.Confidence),
		Reasoning:       strings.TrimSpace(w.Reasoning),
		KeyFeatures:     w.KeyFeatures,
		Quality:         w.Quality,
		HarvestStage:    w.HarvestStage,
		Strengths:       w.Observations.Strengths,
		Concerns:        w.Observations.Concerns,
		Recommendations: w.Observations.Recommendations,
	}
}

var (
	reVariety    = regexp.MustCompile(`"variety"\s*:\s*"([^"]*)"`)
	reGender     = regexp.MustCompile(`"gender"\s*:\s*"([^"]*)"`)
	reConfidence = regexp.MustCompile(`"confidence"\s*:\s*([0-9]*\.?[0-9]+)`)
	reReasoning  = regexp.MustCompile(`"reasoning"\s*:\s*"([^"]*)"`)
)

// salvage pulls the three load-bearing fields out of arbitrary text. It
// succeeds when at least the variety can be recovered.
func salvage(raw string) (*types.RemotePrediction, bool) {
	m := reVariety.FindStringSubmatch(raw)
	if m == nil {
		return nil, false
	}

	pred := &types.RemotePrediction{
		Variety: labels.ParseVariety(m[1]),
	}
	if g := reGender.FindStringSubmatch(raw); g != nil {
		pred.Gender = labels.ParseGender(g[1])
	} else {
		pred.Gender = labels.GenderUnknown
	}
	if c := reConfidence.FindStringSubmatch(raw); c != nil {
		if v, err := strconv.ParseFloat(c[1], 64); err == nil {
			pred.Confidence = clampUnit(v)
		}
	}
	if r := reReasoning.FindStringSubmatch(raw); r != nil {
		pred.Reasoning = strings.TrimSpace(r[1])
	}
	return pred, true
}

func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// sanitizeModelJSON removes code fences, comments and trailing commas from a
// model reply and slices it down to the outermost JSON object.
func sanitizeModelJSON(raw string) string {
	raw = strings.TrimSpace(raw)

	// Strip triple-backtick fences if present
	if strings.HasPrefix(raw, "```") {
		if i := strings.Index(raw, "\n"); i >= 0 {
			raw = raw[i+1:]
		}
		if j := strings.LastIndex(raw, "```"); j >= 0 {
			raw = raw[:j]
		}
	}
	raw = strings.TrimSpace(raw)
	raw = strings.Trim(raw, "`")

	// Remove /* ... */ block comments
	reBlock := regexp.MustCompile(`(?s)/\*.*?\*/`)
	raw = reBlock.ReplaceAllString(raw, "")

	// Remove // line/inline comments
	reLine := regexp.MustCompile(`(?m)^\s*//.*$`)
	raw = reLine.ReplaceAllString(raw, "")
	reInline := regexp.MustCompile(`(?m)//.*$`)
	raw = reInline.ReplaceAllString(raw, "")

	// Remove trailing commas before } or ]
	reTrailing := regexp.MustCompile(`,(\s*[}\]])`)
	raw = reTrailing.ReplaceAllString(raw, "$1")

	// Keep only the outermost {...}
	if start := strings.Index(raw, "{"); start >= 0 {
		if end := strings.LastIndex(raw, "}"); end > start {
			raw = raw[start : end+1]
		}
	}
	return strings.TrimSpace(raw)
}
