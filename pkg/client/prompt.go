package client

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/lithammer/dedent"

	"github.com/menta2k/mole-detector/pkg/geometry"
	"github.com/menta2k/mole-detector/pkg/types"
)

// DetectionPrompt asks a vision language model for mole bounding boxes as JSON
var DetectionPrompt = strings.TrimSpace(dedent.Dedent(`
	You are a dermatology image annotator. Find every mole (pigmented skin lesion, nevus) in the photo.

	Return JSON only:
	{
	  "detections": [
	    {
	      "labels": [{"identifier": "mole", "confidence": 0.0}],
	      "box": {"x": 0.0, "y": 0.0, "w": 0.0, "h": 0.0}
	    }
	  ]
	}

	HARD RULES
	- Coordinates are normalized to [0,1] of the whole image (NOT pixels), measured from the TOP-LEFT corner.
	- x,y is the top-left corner of the box, w,h its width and height.
	- One entry per mole, tightly boxed. Confidence is your probability that the region is a mole.
	- List labels from most to least likely.
	- If there are no moles, return {"detections": []}.
	- JSON only. No markdown, no code fences, no comments, no trailing commas.`))

type modelResponse struct {
	Detections []modelDetection `json:"detections"`
}

type modelDetection struct {
	Label      string        `json:"label"`
	Confidence float64       `json:"confidence"`
	Labels     []types.Label `json:"labels"`
	Box        struct {
		X float64 `json:"x"`
		Y float64 `json:"y"`
		W float64 `json:"w"`
		H float64 `json:"h"`
	} `json:"box"`
}

// ParseObservations decodes a language model's answer to DetectionPrompt.
// Boxes are converted from the top-left convention the prompt asks for into
// bottom-left normalized boxes.
func ParseObservations(raw string) ([]types.Observation, error) {
	cleaned := SanitizeModelJSON(raw)
	if !strings.HasPrefix(cleaned, "{") {
		return nil, fmt.Errorf("model returned non-JSON response: %q", truncate(raw, 120))
	}

	var resp modelResponse
	if err := json.Unmarshal([]byte(cleaned), &resp); err != nil {
		return nil, fmt.Errorf("failed to parse model response: %w", err)
	}

	observations := make([]types.Observation, 0, len(resp.Detections))
	for _, d := range resp.Detections {
		labels := d.Labels
		if len(labels) == 0 && d.Label != "" {
			labels = []types.Label{{Identifier: d.Label, Confidence: d.Confidence}}
		}
		confidence := d.Confidence
		if confidence == 0 && len(labels) > 0 {
			confidence = labels[0].Confidence
		}
		observations = append(observations, types.Observation{
			Box: geometry.FromTopLeft(types.NormalizedBox{
				X: d.Box.X, Y: d.Box.Y, Width: d.Box.W, Height: d.Box.H,
			}),
			Confidence: confidence,
			Labels:     labels,
		})
	}
	return observations, nil
}

var (
	reBlockComment  = regexp.MustCompile(`(?s)/\*.*?\*/`)
	reLineComment   = regexp.MustCompile(`(?m)^\s*//.*$`)
	reInlineComment = regexp.MustCompile(`(?m)//.*$`)
	reTrailingComma = regexp.MustCompile(`,(\s*[}\]])`)
)

// SanitizeModelJSON removes code fences, comments, and trailing commas from a JSON answer
func SanitizeModelJSON(raw string) string {
	raw = strings.TrimSpace(raw)

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

	raw = reBlockComment.ReplaceAllString(raw, "")
	raw = reLineComment.ReplaceAllString(raw, "")
	raw = reInlineComment.ReplaceAllString(raw, "")
	raw = reTrailingComma.ReplaceAllString(raw, "$1")

	// Keep only the outermost {...}
	if start := strings.Index(raw, "{"); start >= 0 {
		if end := strings.LastIndex(raw, "}"); end > start {
			raw = raw[start : end+1]
		}
	}
	return strings.TrimSpace(raw)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
