package engine

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Separator ends the free-text header of a metadata file.
const Separator = "----------"

// Event is one row of a metadata record.
type Event struct {
	Label     string
	Values    []float64
	Timestamp float64
}

// Pending reports whether the timestamp is still a placeholder.
func (e Event) Pending() bool { return math.IsNaN(e.Timestamp) }

type headerField struct {
	Key, Value string
}

// Record accumulates events during a run and is written once at the end.
type Record struct {
	header  []headerField
	columns []string
	events  []Event
}

// NewRecord creates a record whose events carry one value per column.
func NewRecord(columns ...string) *Record {
	return &Record{columns: append([]string(nil), columns...)}
}

// SetHeader adds or replaces a header line, keeping insertion order.
func (r *Record) SetHeader(key, value string) {
	for i := range r.header {
		if r.header[i].Key == key {
			r.header[i].Value = value
			return
		}
	}
	r.header = append(r.header, headerField{key, value})
}

func (r *Record) Header(key string) (string, bool) {
	for _, f := range r.header {
		if f.Key == key {
			return f.Value, true
		}
	}
	return "", false
}

func (r *Record) Columns() []string { return append([]string(nil), r.columns...) }

// Append adds an event and returns its index. The values must match the
// record's columns.
func (r *Record) Append(label string, timestamp float64, values ...float64) (int, error) {
	if len(values) != len(r.columns) {
		return -1, fmt.Errorf("event %q has %d values for %d columns: %w", label, len(values), len(r.columns), ErrInvalidArgument)
	}
	r.events = append(r.events, Event{
		Label:     label,
		Values:    append([]float64(nil), values...),
		Timestamp: timestamp,
	})
	return len(r.events) - 1, nil
}

// AppendPending adds an event whose timestamp is filled in later.
func (r *Record) AppendPending(label string, values ...float64) (int, error) {
	return r.Append(label, math.NaN(), values...)
}

// SetTimestamp overwrites the timestamp of event i.
func (r *Record) SetTimestamp(i int, ts float64) {
	r.events[i].Timestamp = ts
}

func (r *Record) Len() int { return len(r.events) }

func (r *Record) Event(i int) Event { return r.events[i] }

func (r *Record) Events() []Event {
	return append([]Event(nil), r.events...)
}

// Labelled returns the events carrying label, in order.
func (r *Record) Labelled(label string) []Event {
	var out []Event
	for _, e := range r.events {
		if e.Label == label {
			out = append(out, e)
		}
	}
	return out
}

// WriteText writes the header, the separator line and one CSV row per
// event: label, values..., timestamp.
func (r *Record) WriteText(w io.Writer) error {
	bw := bufio.NewWriter(w)
	for _, f := range r.header {
		fmt.Fprintf(bw, "%s: %s\n", f.Key, f.Value)
	}
	cols := append([]string{"Event"}, r.columns...)
	cols = append(cols, "Timestamp (seconds)")
	fmt.Fprintf(bw, "Columns: %s\n", strings.Join(cols, ", "))
	fmt.Fprintln(bw, Separator)

	cw := csv.NewWriter(bw)
	row := make([]string, 0, len(r.columns)+2)
	for _, e := range r.events {
		row = row[:0]
		row = append(row, e.Label)
		for _, v := range e.Values {
			row = append(row, formatValue(v))
		}
		row = append(row, formatTimestamp(e.Timestamp))
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return err
	}
	return bw.Flush()
}

// SaveText writes the record to the next free "<stem>-<n>.txt" in dir.
func (r *Record) SaveText(dir, stem string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path, err := NextPath(dir, stem, ".txt")
	if err != nil {
		return "", err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", err
	}
	if err := r.WriteText(f); err != nil {
		f.Close()
		return "", err
	}
	return path, f.Close()
}

// LoadText parses a file written by WriteText.
func LoadText(rd io.Reader) (*Record, error) {
	br := bufio.NewReader(rd)
	rec := &Record{}
	for {
		line, err := br.ReadString('\n')
		if err != nil && (err != io.EOF || line == "") {
			if err == io.EOF {
				return nil, fmt.Errorf("metadata header has no %q line", Separator)
			}
			return nil, err
		}
		line = strings.TrimRight(line, "\r\n")
		if line == Separator {
			break
		}
		key, value, ok := strings.Cut(line, ": ")
		if !ok {
			return nil, fmt.Errorf("malformed header line %q", line)
		}
		if key == "Columns" {
			cols := strings.Split(value, ", ")
			if len(cols) < 2 {
				return nil, fmt.Errorf("malformed columns line %q", line)
			}
			rec.columns = cols[1 : len(cols)-1]
			continue
		}
		rec.SetHeader(key, value)
	}

	cr := csv.NewReader(br)
	cr.FieldsPerRecord = len(rec.columns) + 2
	rows, err := cr.ReadAll()
	if err != nil {
		return nil, err
	}
	for i, row := range rows {
		values := make([]float64, len(rec.columns))
		for j := range values {
			v, err := strconv.ParseFloat(row[j+1], 64)
			if err != nil {
				return nil, fmt.Errorf("row %d: invalid value: %w", i+1, err)
			}
			values[j] = v
		}
		ts, err := strconv.ParseFloat(row[len(row)-1], 64)
		if err != nil {
			return nil, fmt.Errorf("row %d: invalid timestamp: %w", i+1, err)
		}
		rec.events = append(rec.events, Event{Label: row[0], Values: values, Timestamp: ts})
	}
	return rec, nil
}

// NextPath returns dir/stem-n+ext for the smallest n >= 1 not yet taken.
func NextPath(dir, stem, ext string) (string, error) {
	for n := 1; ; n++ {
		p := filepath.Join(dir, fmt.Sprintf("%s-%d%s", stem, n, ext))
		_, err := os.Stat(p)
		if errors.Is(err, fs.ErrNotExist) {
			return p, nil
		}
		if err != nil {
			return "", err
		}
	}
}

func formatValue(v float64) string {
	if math.IsNaN(v) {
		return "nan"
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func formatTimestamp(ts float64) string {
	if math.IsNaN(ts) {
		return "nan"
	}
	return strconv.FormatFloat(ts, 'f', 3, 64)
}
