package stats

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
)

// NoResult is the bin of a feature whose statistic was invalid. It is never
// a confidence level.
const NoResult = -1

// DefaultConfidenceLevels is the reporting grid for 1 - FDR.
var DefaultConfidenceLevels = []float64{0.5, 0.75, 0.8, 0.85, 0.9, 0.95, 0.99}

// ConfidenceGrid discretizes 1 - FDR into reporting levels. Bin 0 means
// below the lowest level; bin i (i >= 1) means at least Levels[i-1].
type ConfidenceGrid struct {
	Levels []float64 `json:"levels"`
}

// NewConfidenceGrid validates and sorts the levels.
func NewConfidenceGrid(levels []float64) (ConfidenceGrid, error) {
	if len(levels) == 0 {
		levels = DefaultConfidenceLevels
	}
	sorted := append([]float64(nil), levels...)
	sort.Float64s(sorted)
	for i, l := range sorted {
		if l <= 0 || l > 1 {
			return ConfidenceGrid{}, fmt.Errorf("confidence level %v outside (0, 1]", l)
		}
		if i > 0 && sorted[i-1] == l {
			return ConfidenceGrid{}, fmt.Errorf("duplicate confidence level %v", l)
		}
	}
	return ConfidenceGrid{Levels: sorted}, nil
}

// Bin maps a confidence to its bin index and level value.
func (g ConfidenceGrid) Bin(confidence float64) (int, float64) {
	bin, level := 0, 0.0
	for i, l := range g.Levels {
		// small tolerance so 1 - 0.05 lands in the 0.95 bin
		if confidence+1e-12 >= l {
			bin, level = i+1, l
		}
	}
	return bin, level
}

// FeatureResult is the per-feature outcome of a run.
type FeatureResult struct {
	Index      int       `json:"index"`
	FeatureID  string    `json:"feature_id"`
	Valid      bool      `json:"valid"`
	Reason     Reason    `json:"reason,omitempty"`
	Statistic  float64   `json:"statistic"`
	Magnitude  float64   `json:"magnitude"`
	PValue     float64   `json:"nominal_p_value"`
	QValue     float64   `json:"q_value"`
	Confidence float64   `json:"confidence"`
	Bin        int       `json:"bin"`
	Level      float64   `json:"level"`
	GroupMeans []float64 `json:"group_means,omitempty"`
}

// LevelCount is the number of features at or above a confidence level.
type LevelCount struct {
	Level float64 `json:"level"`
	Count int     `json:"count"`
}

// jsonFloat encodes non-finite values as the strings "NaN", "+Inf" and
// "-Inf", which encoding/json otherwise rejects.
type jsonFloat float64

func (f jsonFloat) MarshalJSON() ([]byte, error) {
	v := float64(f)
	switch {
	case math.IsNaN(v):
		return []byte(`"NaN"`), nil
	case math.IsInf(v, 1):
		return []byte(`"+Inf"`), nil
	case math.IsInf(v, -1):
		return []byte(`"-Inf"`), nil
	}
	return json.Marshal(v)
}

func (f *jsonFloat) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		switch s {
		case "NaN":
			*f = jsonFloat(math.NaN())
		case "+Inf", "Inf":
			*f = jsonFloat(math.Inf(1))
		case "-Inf":
			*f = jsonFloat(math.Inf(-1))
		default:
			return fmt.Errorf("invalid float %q", s)
		}
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*f = jsonFloat(v)
	return nil
}

type featureResultAlias FeatureResult

type featureResultJSON struct {
	featureResultAlias
	Statistic  jsonFloat   `json:"statistic"`
	Magnitude  jsonFloat   `json:"magnitude"`
	PValue     jsonFloat   `json:"nominal_p_value"`
	QValue     jsonFloat   `json:"q_value"`
	Confidence jsonFloat   `json:"confidence"`
	Level      jsonFloat   `json:"level"`
	GroupMeans []jsonFloat `json:"group_means,omitempty"`
}

// MarshalJSON keeps NaN and infinite statistics representable.
func (r FeatureResult) MarshalJSON() ([]byte, error) {
	out := featureResultJSON{
		featureResultAlias: featureResultAlias(r),
		Statistic:          jsonFloat(r.Statistic),
		Magnitude:          jsonFloat(r.Magnitude),
		PValue:             jsonFloat(r.PValue),
		QValue:             jsonFloat(r.QValue),
		Confidence:         jsonFloat(r.Confidence),
		Level:              jsonFloat(r.Level),
	}
	for _, m := range r.GroupMeans {
		out.GroupMeans = append(out.GroupMeans, jsonFloat(m))
	}
	return json.Marshal(out)
}

func (r *FeatureResult) UnmarshalJSON(data []byte) error {
	var in featureResultJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*r = FeatureResult(in.featureResultAlias)
	r.Statistic = float64(in.Statistic)
	r.Magnitude = float64(in.Magnitude)
	r.PValue = float64(in.PValue)
	r.QValue = float64(in.QValue)
	r.Confidence = float64(in.Confidence)
	r.Level = float64(in.Level)
	r.GroupMeans = nil
	for _, m := range in.GroupMeans {
		r.GroupMeans = append(r.GroupMeans, float64(m))
	}
	return nil
}
