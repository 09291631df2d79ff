package segmentation

import (
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"encoding/gob"
	"encoding/hex"
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/okian/custseg/internal/domain/customer"
)

const (
	artifactMagic  = "CSEG"
	artifactFormat = 1
)

// artifactFile is the outer envelope written to the stream.
type artifactFile struct {
	Magic    string
	Format   int
	Checksum string
	Payload  []byte // gzip(gob(artifactState))
}

type artifactState struct {
	K          int
	Columns    []string
	Kinds      []customer.Kind
	EncColumns []string
	Categories [][]string
	Mean       []float64
	Scale      []float64
	Centroids  [][]float64
	AsOfYear   int
	TenureDate time.Time
	Labels     []int
	Meta       Metadata
}

// Save writes the pipeline to w as a single self-describing artifact.
func (p *FittedPipeline) Save(w io.Writer) error {
	state := artifactState{
		K:          p.k,
		Columns:    p.columns,
		Kinds:      kindsOf(p.columns),
		EncColumns: p.encoder.columns,
		Categories: p.encoder.categories,
		Mean:       p.scaler.mean,
		Scale:      p.scaler.scale,
		Centroids:  p.centroids,
		AsOfYear:   p.reference.AsOfYear,
		TenureDate: p.reference.TenureDate,
		Labels:     p.labels,
		Meta:       p.meta,
	}

	var raw bytes.Buffer
	if err := gob.NewEncoder(&raw).Encode(state); err != nil {
		return fmt.Errorf("encode pipeline: %w", err)
	}
	sum := sha256.Sum256(raw.Bytes())

	var compressed bytes.Buffer
	gz := gzip.NewWriter(&compressed)
	if _, err := gz.Write(raw.Bytes()); err != nil {
		return fmt.Errorf("compress pipeline: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("compress pipeline: %w", err)
	}

	file := artifactFile{
		Magic:    artifactMagic,
		Format:   artifactFormat,
		Checksum: hex.EncodeToString(sum[:]),
		Payload:  compressed.Bytes(),
	}
	if err := gob.NewEncoder(w).Encode(file); err != nil {
		return fmt.Errorf("write pipeline: %w", err)
	}
	return nil
}

// Marshal returns the artifact bytes.
func (p *FittedPipeline) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	if err := p.Save(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Load reads an artifact written by Save. Any decoding failure, checksum
// mismatch or disagreement with the runtime feature schema returns an
// ArtifactCorruptError.
func Load(r io.Reader) (*FittedPipeline, error) {
	var file artifactFile
	if err := gob.NewDecoder(r).Decode(&file); err != nil {
		return nil, corrupt("decode envelope", err)
	}
	if file.Magic != artifactMagic {
		return nil, corrupt(fmt.Sprintf("bad magic %q", file.Magic), nil)
	}
	if file.Format != artifactFormat {
		return nil, corrupt(fmt.Sprintf("unsupported format %d", file.Format), nil)
	}

	gz, err := gzip.NewReader(bytes.NewReader(file.Payload))
	if err != nil {
		return nil, corrupt("open payload", err)
	}
	raw, err := io.ReadAll(gz)
	if err != nil {
		return nil, corrupt("read payload", err)
	}
	if err := gz.Close(); err != nil {
		return nil, corrupt("read payload", err)
	}
	sum := sha256.Sum256(raw)
	if hex.EncodeToString(sum[:]) != file.Checksum {
		return nil, corrupt("checksum mismatch", nil)
	}

	var state artifactState
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&state); err != nil {
		return nil, corrupt("decode state", err)
	}
	if err := state.check(); err != nil {
		return nil, err
	}

	return &FittedPipeline{
		k:           state.K,
		columns:     state.Columns,
		categorical: len(state.EncColumns),
		encoder:     newEncoder(state.EncColumns, state.Categories),
		scaler:      standardScaler{mean: state.Mean, scale: state.Scale},
		centroids:   state.Centroids,
		reference:   customer.Reference{AsOfYear: state.AsOfYear, TenureDate: state.TenureDate},
		labels:      state.Labels,
		meta:        state.Meta,
	}, nil
}

// Unmarshal is Load over a byte slice.
func Unmarshal(b []byte) (*FittedPipeline, error) {
	return Load(bytes.NewReader(b))
}

// check validates the decoded state against the runtime schema.
func (s *artifactState) check() error {
	cat := customer.FeatureSchema.Filter(customer.Categorical).Names()
	num := customer.FeatureSchema.Filter(customer.Numeric).Names()
	want := append(append([]string(nil), cat...), num...)

	d := len(want)
	switch {
	case !slices.Equal(s.Columns, want):
		return corrupt(fmt.Sprintf("columns %v do not match schema %v", s.Columns, want), nil)
	case !slices.Equal(s.Kinds, kindsOf(want)):
		return corrupt("column kinds do not match schema", nil)
	case !slices.Equal(s.EncColumns, cat) || len(s.Categories) != len(cat):
		return corrupt("encoder columns do not match schema", nil)
	case len(s.Mean) != d || len(s.Scale) != d:
		return corrupt(fmt.Sprintf("scaler has %d/%d columns, want %d", len(s.Mean), len(s.Scale), d), nil)
	case s.K < 1 || len(s.Centroids) != s.K:
		return corrupt(fmt.Sprintf("%d centroids for k=%d", len(s.Centroids), s.K), nil)
	case s.AsOfYear <= 0 || s.TenureDate.IsZero():
		return corrupt("missing reference dates", nil)
	}
	for i, c := range s.Centroids {
		if len(c) != d {
			return corrupt(fmt.Sprintf("centroid %d has %d dims, want %d", i, len(c), d), nil)
		}
	}
	for j, sc := range s.Scale {
		if sc == 0 {
			return corrupt(fmt.Sprintf("zero scale for column %s", s.Columns[j]), nil)
		}
	}
	return nil
}

func kindsOf(columns []string) []customer.Kind {
	kinds := make(map[string]customer.Kind, len(customer.FeatureSchema))
	for _, c := range customer.FeatureSchema {
		kinds[c.Name] = c.Kind
	}
	out := make([]customer.Kind, len(columns))
	for i, col := range columns {
		out[i] = kinds[col]
	}
	return out
}
