package client

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/menta2k/mole-detector/pkg/types"
)

func TestParseObservations(t *testing.T) {
	raw := "```json\n" + `{
	  "detections": [
	    {"labels": [{"identifier": "mole", "confidence": 0.91}, {"identifier": "freckle", "confidence": 0.05}],
	     "box": {"x": 0.1, "y": 0.0, "w": 0.2, "h": 0.3}},
	    // second one
	    {"label": "mole", "confidence": 0.47, "box": {"x": 0.5, "y": 0.5, "w": 0.1, "h": 0.1},},
	  ]
	}` + "\n```"

	obs, err := ParseObservations(raw)
	require.NoError(t, err)
	require.Len(t, obs, 2)

	assert.Equal(t, "mole", obs[0].Labels[0].Identifier)
	assert.InDelta(t, 0.91, obs[0].Confidence, 1e-9)
	assert.Len(t, obs[0].Labels, 2)
	// top-left y=0, h=0.3 becomes bottom-left y=0.7
	assert.InDelta(t, 0.7, obs[0].Box.Y, 1e-9)
	assert.InDelta(t, 0.1, obs[0].Box.X, 1e-9)

	require.Len(t, obs[1].Labels, 1)
	assert.Equal(t, types.Label{Identifier: "mole", Confidence: 0.47}, obs[1].Labels[0])
	assert.InDelta(t, 0.4, obs[1].Box.Y, 1e-9)
}

func TestParseObservations_Empty(t *testing.T) {
	obs, err := ParseObservations(`{"detections": []}`)
	require.NoError(t, err)
	assert.NotNil(t, obs)
	assert.Empty(t, obs)
}

func TestParseObservations_NotJSON(t *testing.T) {
	_, err := ParseObservations("I cannot see any moles in this picture.")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "non-JSON")

	_, err = ParseObservations(`{"detections": [}`)
	require.Error(t, err)
}

func TestSanitizeModelJSON(t *testing.T) {
	in := "Here you go:\n```\n{\"a\": 1, /* note */ \"b\": [1,2,],}\n```"
	out := SanitizeModelJSON(in)
	assert.Equal(t, `{"a": 1,  "b": [1,2]}`, out)
}

func TestDetectionPromptIsDedented(t *testing.T) {
	assert.True(t, strings.HasPrefix(DetectionPrompt, "You are a dermatology image annotator."))
	assert.Contains(t, DetectionPrompt, "\n{\n  \"detections\"")
}

func TestParseCompute(t *testing.T) {
	for in, want := range map[string]Compute{"": ComputeAuto, "AUTO": ComputeAuto, "cpu": ComputeCPU, " gpu ": ComputeGPU} {
		got, err := ParseCompute(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	_, err := ParseCompute("tpu")
	assert.Error(t, err)
}

func TestModelFunc(t *testing.T) {
	var seen types.Orientation
	m := ModelFunc(func(ctx context.Context, req Request) ([]types.Observation, error) {
		seen = req.Orientation
		return nil, nil
	})
	_, err := m.Infer(context.Background(), Request{Orientation: types.OrientationLeft})
	require.NoError(t, err)
	assert.Equal(t, types.OrientationLeft, seen)
}
