// Package dataset turns uploaded CSV or JSON files into record arrays.
package dataset

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/oklog/ulid/v2"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported file type: expected .csv or .json")
	ErrTooFewRows        = errors.New("file must have at least a header and one data row")
)

// Dataset is a parsed upload. Nothing about it is persisted.
type Dataset struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	Size        int64            `json:"size"`
	SizeHuman   string           `json:"sizeHuman"`
	UploadedAt  time.Time        `json:"uploadedAt"`
	RecordCount int              `json:"recordCount"`
	Columns     []string         `json:"columns"`
	Data        []map[string]any `json:"data"`
}

// Parse reads a .csv or .json file, chosen by the extension of name.
func Parse(name string, r io.Reader, now time.Time) (*Dataset, error) {
	counter := &countingReader{r: r}
	var (
		columns []string
		records []map[string]any
		err     error
	)
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv":
		columns, records, err = parseCSV(counter)
	case ".json":
		columns, records, err = parseJSON(counter)
	default:
		return nil, ErrUnsupportedFormat
	}
	if err != nil {
		return nil, err
	}
	// Drain so Size reflects the whole upload.
	if _, err := io.Copy(io.Discard, counter); err != nil {
		return nil, fmt.Errorf("reading %s: %w", name, err)
	}

	return &Dataset{
		ID:          "dataset-" + strings.ToLower(ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String()),
		Name:        filepath.Base(name),
		Size:        counter.n,
		SizeHuman:   humanize.IBytes(uint64(counter.n)),
		UploadedAt:  now.UTC(),
		RecordCount: len(records),
		Columns:     columns,
		Data:        records,
	}, nil
}

func parseCSV(r io.Reader) ([]string, []map[string]any, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	rows, err := cr.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("parsing CSV: %w", err)
	}
	if len(rows) < 2 {
		return nil, nil, ErrTooFewRows
	}

	header := make([]string, len(rows[0]))
	for i, h := range rows[0] {
		header[i] = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
	}
	records := make([]map[string]any, 0, len(rows)-1)
	for _, row := range rows[1:] {
		rec := make(map[string]any, len(header))
		for i, col := range header {
			// Short rows leave trailing columns unset.
			if i >= len(row) {
				break
			}
			rec[col] = coerce(strings.TrimSpace(row[i]))
		}
		records = append(records, rec)
	}
	return header, records, nil
}

func parseJSON(r io.Reader) ([]string, []map[string]any, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, nil, fmt.Errorf("parsing JSON: %w", err)
	}
	// Accept either a bare array or an object wrapping it under "data".
	if obj, ok := raw.(map[string]any); ok {
		raw = obj["data"]
	}
	items, ok := raw.([]any)
	if !ok {
		return nil, nil, errors.New("parsing JSON: expected an array of records")
	}
	if len(items) == 0 {
		return nil, nil, ErrTooFewRows
	}

	var columns []string
	seen := make(map[string]bool)
	records := make([]map[string]any, 0, len(items))
	for i, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, nil, fmt.Errorf("parsing JSON: record %d is not an object", i)
		}
		rec := make(map[string]any, len(obj))
		var fresh []string
		for k, v := range obj {
			rec[k] = coerceJSON(v)
			if !seen[k] {
				seen[k] = true
				fresh = append(fresh, k)
			}
		}
		slices.Sort(fresh)
		columns = append(columns, fresh...)
		records = append(records, rec)
	}
	return columns, records, nil
}

// coerce turns numeric-looking strings into numbers and leaves the rest alone.
func coerce(s string) any {
	if s == "" {
		return s
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
		return s
	}
	return n
}

func coerceJSON(v any) any {
	switch x := v.(type) {
	case json.Number:
		if f, err := x.Float64(); err == nil {
			return f
		}
		return x.String()
	case string:
		return coerce(x)
	}
	return v
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
