// Package bout turns a table of detected calls into bouts: episodes grouped by bout_id with
// their time bounds and member calls.
package bout

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
)

type Call struct {
	Exp                    int     `json:"exp"`
	FileNum                int     `json:"file_num"`
	Channel                int     `json:"channel"`
	EventType              string  `json:"event_type"`
	StartTimeFileSec       float64 `json:"start_time_file_sec"`
	StopTimeFileSec        float64 `json:"stop_time_file_sec"`
	DurationSec            float64 `json:"duration_sec"`
	StartTimeReal          string  `json:"start_time_real"`
	StopTimeReal           string  `json:"stop_time_real"`
	StartTimeExperiment    string  `json:"start_time_experiment"`
	StopTimeExperiment     string  `json:"stop_time_experiment"`
	StartTimeExperimentSec float64 `json:"start_time_experiment_sec"`
	StopTimeExperimentSec  float64 `json:"stop_time_experiment_sec"`
	AssignedLocation       string  `json:"assigned_location"`
	RMSArena1              string  `json:"RMS_areaa_1"`
	RMSArena2              string  `json:"RMS_arena_2"`
	RMSUnderground         string  `json:"RMS_underground"`
	Source                 string  `json:"source"`
	BoutID                 int     `json:"bout_id"`
	PositionInBout         int     `json:"position_in_bout"`
	CallerID               string  `json:"caller_id"`
}

type Bout struct {
	BoutID           int     `json:"bout_id"`
	Exp              int     `json:"exp"`
	FileNum          int     `json:"file_num"`
	Channel          int     `json:"channel"`
	StartTimeFileSec float64 `json:"start_time_file_sec"`
	StopTimeFileSec  float64 `json:"stop_time_file_sec"`
	DurationSec      float64 `json:"duration_sec"`
	AssignedLocation string  `json:"assigned_location"`
	CallerID         string  `json:"caller_id"`
	NumCalls         int     `json:"num_calls"`
	Calls            []Call  `json:"calls"`
}

// Contains reports whether t falls inside the bout. NaN bounds never match.
func (b Bout) Contains(t float64) bool {
	return t >= b.StartTimeFileSec && t <= b.StopTimeFileSec
}

// ParseCalls reads a header row and data rows into calls, mapping cells by column name. Rows
// without a parseable bout_id are dropped.
func ParseCalls(text string) ([]Call, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	r := csv.NewReader(strings.NewReader(text))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	r.LazyQuotes = true

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}
	if err := validateHeader(header); err != nil {
		return nil, err
	}

	var calls []Call
	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		if c, ok := callFromRecord(header, record); ok {
			calls = append(calls, c)
		}
	}
	return calls, nil
}

func callFromRecord(header, record []string) (Call, bool) {
	values := make(map[string]string, len(header))
	for i, name := range header {
		if i < len(record) {
			values[name] = strings.TrimSpace(record[i])
		}
	}
	cell := func(name string) string { return values[name] }

	boutID, ok := parseInt(cell("bout_id"))
	if !ok {
		return Call{}, false
	}
	return Call{
		Exp:                    intOrMissing(cell("exp")),
		FileNum:                intOrMissing(cell("file_num")),
		Channel:                intOrMissing(cell("channel")),
		EventType:              cell("event_type"),
		StartTimeFileSec:       parseFloat(cell("start_time_file_sec")),
		StopTimeFileSec:        parseFloat(cell("stop_time_file_sec")),
		DurationSec:            parseFloat(cell("duration_sec")),
		StartTimeReal:          cell("start_time_real"),
		StopTimeReal:           cell("stop_time_real"),
		StartTimeExperiment:    cell("start_time_experiment"),
		StopTimeExperiment:     cell("stop_time_experiment"),
		StartTimeExperimentSec: parseFloat(cell("start_time_experiment_sec")),
		StopTimeExperimentSec:  parseFloat(cell("stop_time_experiment_sec")),
		AssignedLocation:       cell("assigned_location"),
		RMSArena1:              cell("RMS_areaa_1"),
		RMSArena2:              cell("RMS_arena_2"),
		RMSUnderground:         cell("RMS_underground"),
		Source:                 cell("source"),
		BoutID:                 boutID,
		PositionInBout:         intOrMissing(cell("position_in_bout")),
		CallerID:               cell("caller_id"),
	}, true
}

// Derive parses text and aggregates its calls into bouts ordered by first appearance of each
// bout_id.
func Derive(text string) ([]Bout, error) {
	calls, err := ParseCalls(text)
	if err != nil {
		return nil, err
	}
	return Aggregate(calls), nil
}

func Aggregate(calls []Call) []Bout {
	index := make(map[int]int)
	bouts := make([]Bout, 0)
	for _, c := range calls {
		i, ok := index[c.BoutID]
		if !ok {
			index[c.BoutID] = len(bouts)
			bouts = append(bouts, Bout{
				BoutID:           c.BoutID,
				Exp:              c.Exp,
				FileNum:          c.FileNum,
				Channel:          c.Channel,
				AssignedLocation: c.AssignedLocation,
				StartTimeFileSec: c.StartTimeFileSec,
				StopTimeFileSec:  c.StopTimeFileSec,
				Calls:            []Call{c},
			})
			continue
		}
		b := &bouts[i]
		b.StartTimeFileSec = nanMin(b.StartTimeFileSec, c.StartTimeFileSec)
		b.StopTimeFileSec = nanMax(b.StopTimeFileSec, c.StopTimeFileSec)
		b.Calls = append(b.Calls, c)
	}

	for i := range bouts {
		bouts[i].DurationSec = bouts[i].StopTimeFileSec - bouts[i].StartTimeFileSec
		bouts[i].NumCalls = len(bouts[i].Calls)
	}
	return bouts
}

func nanMin(a, b float64) float64 {
	if math.IsNaN(a) || math.IsNaN(b) {
		return math.NaN()
	}
	return math.Min(a, b)
}

func nanMax(a, b float64) float64 {
	if math.IsNaN(a) || math.IsNaN(b) {
		return math.NaN()
	}
	return math.Max(a, b)
}

func Find(bouts []Bout, id int) (Bout, bool) {
	for _, b := range bouts {
		if b.BoutID == id {
			return b, true
		}
	}
	return Bout{}, false
}

// At returns the first bout of fileIndex whose span contains t.
func At(bouts []Bout, fileIndex int, t float64) (Bout, bool) {
	for _, b := range bouts {
		if b.FileNum == fileIndex && b.Contains(t) {
			return b, true
		}
	}
	return Bout{}, false
}

func ForFile(bouts []Bout, fileIndex int) []Bout {
	out := make([]Bout, 0)
	for _, b := range bouts {
		if b.FileNum == fileIndex {
			out = append(out, b)
		}
	}
	return out
}
