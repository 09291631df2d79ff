// Package dataset reads and writes customer rows as tab-separated or JSON
// files and splits them into train and test sets.
package dataset

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"os"
	"sort"

	"github.com/goccy/go-json"

	"github.com/okian/custseg/internal/domain/customer"
)

// Sentinel error kinds for this package. These allow errors.Is/As from callers.
var (
	ErrEmpty        = errors.New("dataset has no rows")
	ErrBadHeader    = errors.New("dataset header invalid")
	ErrBadTestSize  = errors.New("test size must be in [0, 1)")
	ErrUnknownShape = errors.New("json input must be an array or an object with instances")
)

// ReadTSV parses a tab-separated file with a header row. Every value is kept
// as a string; parsing happens during feature derivation.
func ReadTSV(r io.Reader) ([]customer.Row, error) {
	cr := csv.NewReader(r)
	cr.Comma = '\t'
	cr.LazyQuotes = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	seen := make(map[string]bool, len(header))
	for i, h := range header {
		if h == "" || seen[h] {
			return nil, fmt.Errorf("%w: column %d %q", ErrBadHeader, i, h)
		}
		seen[h] = true
	}
	cr.FieldsPerRecord = len(header)

	var rows []customer.Row
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row %d: %w", len(rows)+1, err)
		}
		row := make(customer.Row, len(header))
		for i, v := range rec {
			row[header[i]] = v
		}
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		return nil, ErrEmpty
	}
	return rows, nil
}

// ReadTSVFile opens path and calls ReadTSV.
func ReadTSVFile(path string) ([]customer.Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dataset: %w", err)
	}
	defer f.Close()
	return ReadTSV(f)
}

// WriteTSV writes rows with a sorted union of their keys as the header.
func WriteTSV(w io.Writer, rows []customer.Row) error {
	keys := make(map[string]struct{})
	for _, r := range rows {
		for k := range r {
			keys[k] = struct{}{}
		}
	}
	header := make([]string, 0, len(keys))
	for k := range keys {
		header = append(header, k)
	}
	sort.Strings(header)

	cw := csv.NewWriter(w)
	cw.Comma = '\t'
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	rec := make([]string, len(header))
	for _, r := range rows {
		for i, k := range header {
			v, ok := r[k]
			switch {
			case !ok || v == nil:
				rec[i] = ""
			default:
				rec[i] = fmt.Sprint(v)
			}
		}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// DecodeInstances decodes a JSON array of objects, or an object holding one
// under "instances". Numbers are kept as json.Number so integers survive.
func DecodeInstances(data []byte) ([]map[string]any, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, ErrEmpty
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	switch data[0] {
	case '[':
		var out []map[string]any
		if err := dec.Decode(&out); err != nil {
			return nil, fmt.Errorf("decode instances: %w", err)
		}
		return out, nil
	case '{':
		var env struct {
			Instances []map[string]any `json:"instances"`
		}
		if err := dec.Decode(&env); err != nil {
			return nil, fmt.Errorf("decode instances: %w", err)
		}
		if env.Instances == nil {
			return nil, ErrUnknownShape
		}
		return env.Instances, nil
	default:
		return nil, ErrUnknownShape
	}
}

// Split shuffles row indices with seed and returns the train and test sets.
// The test set holds ceil(len(rows)*testSize) rows.
func Split(rows []customer.Row, testSize float64, seed int64) (train, test []customer.Row, err error) {
	if testSize < 0 || testSize >= 1 {
		return nil, nil, ErrBadTestSize
	}
	n := len(rows)
	nTest := int(math.Ceil(float64(n) * testSize))
	if nTest >= n && n > 0 {
		nTest = n - 1
	}

	rng := rand.New(rand.NewSource(seed)) //nolint:gosec // reproducible split
	perm := rng.Perm(n)
	test = make([]customer.Row, 0, nTest)
	train = make([]customer.Row, 0, n-nTest)
	for i, idx := range perm {
		if i < nTest {
			test = append(test, rows[idx])
			continue
		}
		train = append(train, rows[idx])
	}
	return train, test, nil
}
