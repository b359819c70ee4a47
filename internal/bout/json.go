package bout

import (
	"encoding/json"
	"math"
)

// NaN and infinities cannot be encoded as JSON numbers; they are written as null.
func finite(f float64) *float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}

func (c Call) MarshalJSON() ([]byte, error) {
	type alias Call
	return json.Marshal(struct {
		alias
		StartTimeFileSec       *float64 `json:"start_time_file_sec"`
		StopTimeFileSec        *float64 `json:"stop_time_file_sec"`
		DurationSec            *float64 `json:"duration_sec"`
		StartTimeExperimentSec *float64 `json:"start_time_experiment_sec"`
		StopTimeExperimentSec  *float64 `json:"stop_time_experiment_sec"`
	}{
		alias:                  alias(c),
		StartTimeFileSec:       finite(c.StartTimeFileSec),
		StopTimeFileSec:        finite(c.StopTimeFileSec),
		DurationSec:            finite(c.DurationSec),
		StartTimeExperimentSec: finite(c.StartTimeExperimentSec),
		StopTimeExperimentSec:  finite(c.StopTimeExperimentSec),
	})
}

func (b Bout) MarshalJSON() ([]byte, error) {
	type alias Bout
	return json.Marshal(struct {
		alias
		StartTimeFileSec *float64 `json:"start_time_file_sec"`
		StopTimeFileSec  *float64 `json:"stop_time_file_sec"`
		DurationSec      *float64 `json:"duration_sec"`
	}{
		alias:            alias(b),
		StartTimeFileSec: finite(b.StartTimeFileSec),
		StopTimeFileSec:  finite(b.StopTimeFileSec),
		DurationSec:      finite(b.DurationSec),
	})
}
