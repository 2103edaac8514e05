package models

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Progress is the normalized form of the polymorphic progress field: the
// service sends either a number (45.2) or a pre-formatted string ("45.2%").
type Progress struct {
	Percent float64 // always within [0, 100]
	Display string
}

// NormalizeProgress converts a raw progress value into a Progress.
// Unsupported or unparseable input yields 0 / "0%".
func NormalizeProgress(raw any) Progress {
	switch v := raw.(type) {
	case float64:
		return fromNumber(v)
	case float32:
		return fromNumber(float64(v))
	case int:
		return fromNumber(float64(v))
	case int64:
		return fromNumber(float64(v))
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return Progress{Display: "0%"}
		}
		return fromNumber(f)
	case string:
		return fromString(v)
	default:
		return Progress{Display: "0%"}
	}
}

func fromNumber(v float64) Progress {
	if isNaNOrInf(v) {
		return Progress{Display: "0%"}
	}
	c := clamp(v)
	return Progress{Percent: c, Display: formatPercent(c)}
}

func fromString(s string) Progress {
	s = strings.TrimSpace(s)
	num := strings.TrimSpace(strings.TrimSuffix(s, "%"))
	v, err := strconv.ParseFloat(num, 64)
	if err != nil || isNaNOrInf(v) {
		return Progress{Display: "0%"}
	}
	c := clamp(v)
	if c != v || !strings.HasSuffix(s, "%") {
		return Progress{Percent: c, Display: formatPercent(c)}
	}
	return Progress{Percent: c, Display: s}
}

func (p *Progress) UnmarshalJSON(data []byte) error {
	var raw any
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		*p = Progress{Display: "0%"}
		return nil
	}
	*p = NormalizeProgress(raw)
	return nil
}

func (p Progress) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.Display)
}

// Fraction returns the fill ratio for a progress bar in [0, 1].
func (p Progress) Fraction() float64 {
	return p.Percent / 100
}

func formatPercent(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64) + "%"
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func isNaNOrInf(v float64) bool {
	return math.IsNaN(v) || math.IsInf(v, 0)
}
