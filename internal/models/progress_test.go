package models

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeProgress(t *testing.T) {
	tests := []struct {
		name        string
		raw         any
		wantPercent float64
		wantDisplay string
	}{
		{"number", 45.2, 45.2, "45.2%"},
		{"formatted string", "45.2%", 45.2, "45.2%"},
		{"garbage string", "abc", 0, "0%"},
		{"padded yt-dlp string", "  7.5% ", 7.5, "7.5%"},
		{"bare numeric string", "0", 0, "0%"},
		{"integer", 100, 100, "100%"},
		{"over range number", 130.0, 100, "100%"},
		{"negative number", -3.0, 0, "0%"},
		{"over range string", "250%", 100, "100%"},
		{"nil", nil, 0, "0%"},
		{"bool", true, 0, "0%"},
		{"NaN", math.NaN(), 0, "0%"},
		{"infinity", math.Inf(1), 0, "0%"},
		{"json number", json.Number("12.25"), 12.25, "12.25%"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeProgress(tt.raw)
			assert.Equal(t, tt.wantPercent, got.Percent)
			assert.Equal(t, tt.wantDisplay, got.Display)
		})
	}
}

func TestProgress_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		body        string
		wantPercent float64
		wantDisplay string
	}{
		{`{"progress": 45.2}`, 45.2, "45.2%"},
		{`{"progress": "45.2%"}`, 45.2, "45.2%"},
		{`{"progress": "abc"}`, 0, "0%"},
		{`{"progress": null}`, 0, "0%"},
		{`{"progress": {"nested": 1}}`, 0, "0%"},
	}

	for _, tt := range tests {
		var st JobStatus
		require.NoError(t, json.Unmarshal([]byte(tt.body), &st), tt.body)
		assert.Equal(t, tt.wantPercent, st.Progress.Percent, tt.body)
		assert.Equal(t, tt.wantDisplay, st.Progress.Display, tt.body)
	}
}

func TestProgress_Fraction(t *testing.T) {
	assert.InDelta(t, 0.452, NormalizeProgress(45.2).Fraction(), 1e-9)
	assert.Equal(t, 0.0, NormalizeProgress("abc").Fraction())
}
