package annotation

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/gj2101/boutview/internal/bout"
)

var (
	ErrMissingColumn = errors.New("annotation: required column missing")
	ErrMalformed     = errors.New("annotation: malformed csv")
)

var exportHeader = []string{
	"exp", "file_num", "channel", "start_time_file_sec", "stop_time_file_sec", "duration_sec",
	"assigned_location", "bout_id", "num_calls", "tags", "note",
}

// ExportCSV writes one row per bout joined with its tags and note. The note column is always
// quoted.
func (s *Store) ExportCSV(w io.Writer, bouts []bout.Bout) error {
	set := s.Snapshot()
	tags := make(map[int][]string)
	for _, t := range set.Tags {
		tags[t.Bout] = append(tags[t.Bout], t.Name)
	}
	notes := make(map[int]string)
	for _, n := range set.Notes {
		notes[n.Bout] = n.Note
	}

	bw := bufio.NewWriter(w)
	bw.WriteString(strings.Join(exportHeader, ",") + "\n")
	for _, b := range bouts {
		fields := []string{
			strconv.Itoa(b.Exp),
			strconv.Itoa(b.FileNum),
			strconv.Itoa(b.Channel),
			formatFloat(b.StartTimeFileSec),
			formatFloat(b.StopTimeFileSec),
			formatFloat(b.DurationSec),
			field(b.AssignedLocation),
			strconv.Itoa(b.BoutID),
			strconv.Itoa(b.NumCalls),
			field(strings.Join(tags[b.BoutID], ";")),
			quote(notes[b.BoutID]),
		}
		bw.WriteString(strings.Join(fields, ",") + "\n")
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("write annotations csv: %w", err)
	}
	return nil
}

func formatFloat(f float64) string {
	if math.IsNaN(f) {
		return "NaN"
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func field(s string) string {
	if strings.ContainsAny(s, ",\"\r\n") {
		return quote(s)
	}
	return s
}

func quote(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// ImportCSV replaces the whole set of the current scope with the bout_id, tags and optional note
// columns of r. Nothing changes when a required column is absent or the file cannot be read.
func (s *Store) ImportCSV(ctx context.Context, r io.Reader) error {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	records, err := cr.ReadAll()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if len(records) == 0 {
		return fmt.Errorf("%w: bout_id", ErrMissingColumn)
	}

	boutCol, tagsCol, noteCol := -1, -1, -1
	for i, name := range records[0] {
		switch strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))) {
		case "bout_id":
			boutCol = i
		case "tags":
			tagsCol = i
		case "note":
			noteCol = i
		}
	}
	if boutCol < 0 {
		return fmt.Errorf("%w: bout_id", ErrMissingColumn)
	}
	if tagsCol < 0 {
		return fmt.Errorf("%w: tags", ErrMissingColumn)
	}

	next := Set{Tags: []Tag{}, Notes: []Note{}}
	for _, rec := range records[1:] {
		if boutCol >= len(rec) {
			continue
		}
		id, err := strconv.Atoi(strings.TrimSpace(rec[boutCol]))
		if err != nil {
			continue
		}
		if tagsCol < len(rec) {
			for _, name := range strings.Split(rec[tagsCol], ";") {
				if name = strings.TrimSpace(name); name != "" {
					next.Tags = append(next.Tags, Tag{Bout: id, Name: name})
				}
			}
		}
		if noteCol >= 0 && noteCol < len(rec) && rec[noteCol] != "" {
			next.Notes = append(next.Notes, Note{Bout: id, Note: rec[noteCol]})
		}
	}
	return s.replace(ctx, next)
}
