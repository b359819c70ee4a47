package bout

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
)

var ErrMissingColumn = errors.New("bout: required column missing")

// Missing is shown for an optional integer cell that could not be parsed.
const Missing = -1

type Kind int

const (
	String Kind = iota
	Int
	Float
)

type Column struct {
	Kind     Kind
	Required bool
}

// Schema is the declared column set of a call table.
var Schema = map[string]Column{
	"exp":                       {Kind: Int},
	"file_num":                  {Kind: Int},
	"channel":                   {Kind: Int},
	"event_type":                {Kind: String},
	"start_time_file_sec":       {Kind: Float},
	"stop_time_file_sec":        {Kind: Float},
	"duration_sec":              {Kind: Float},
	"start_time_real":           {Kind: String},
	"stop_time_real":            {Kind: String},
	"start_time_experiment":     {Kind: String},
	"stop_time_experiment":      {Kind: String},
	"start_time_experiment_sec": {Kind: Float},
	"stop_time_experiment_sec":  {Kind: Float},
	"assigned_location":         {Kind: String},
	"RMS_areaa_1":               {Kind: String},
	"RMS_arena_2":               {Kind: String},
	"RMS_underground":           {Kind: String},
	"source":                    {Kind: String},
	"bout_id":                   {Kind: Int, Required: true},
	"position_in_bout":          {Kind: Int},
	"caller_id":                 {Kind: String},
}

// validateHeader checks required columns and logs unknown ones once per table.
func validateHeader(header []string) error {
	present := make(map[string]bool, len(header))
	var unknown []string
	for _, name := range header {
		present[name] = true
		if _, ok := Schema[name]; !ok && name != "" {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		slog.Warn("bout: ignoring unknown columns", "columns", strings.Join(unknown, ","))
	}
	for name, col := range Schema {
		if col.Required && !present[name] {
			return fmt.Errorf("%w: %s", ErrMissingColumn, name)
		}
	}
	return nil
}

func parseInt(s string) (int, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		// tolerate "12.0" style exports
		f, ferr := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if ferr != nil || math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
			return 0, false
		}
		return int(f), true
	}
	return n, true
}

func intOrMissing(s string) int {
	if n, ok := parseInt(s); ok {
		return n
	}
	return Missing
}

func parseFloat(s string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return math.NaN()
	}
	return f
}
