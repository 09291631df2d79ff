// Package segmentation fits and applies the customer segmentation pipeline:
// ordinal encoding of categorical features, standard scaling, and k-means.
//
// A FittedPipeline is immutable once returned by Fit or Load. Assign and
// AssignFeatures only read it, so any number of goroutines may call them
// concurrently on the same pipeline.
package segmentation

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/mat"

	"github.com/okian/custseg/internal/domain/customer"
	"github.com/okian/custseg/pkg/logger"
	"github.com/okian/custseg/pkg/metrics"
)

// Default fit configuration constants.
const (
	DefaultClusters   = 4
	DefaultRandomSeed = 42
	DefaultMaxIter    = 300
	DefaultNInit      = 10
)

type fitConfig struct {
	clusters  int
	seed      int64
	maxIter   int
	nInit     int
	asOfYear  int
	ageCap    int
	incomeCap float64
	logger    logger.Logger
	now       func() time.Time
}

// Option applies a configuration option to Fit.
type Option func(*fitConfig)

// WithClusters sets k.
func WithClusters(k int) Option {
	return func(c *fitConfig) {
		if k > 0 {
			c.clusters = k
		}
	}
}

// WithRandomSeed sets the k-means seed.
func WithRandomSeed(seed int64) Option {
	return func(c *fitConfig) { c.seed = seed }
}

// WithMaxIter caps Lloyd iterations per run.
func WithMaxIter(n int) Option {
	return func(c *fitConfig) {
		if n > 0 {
			c.maxIter = n
		}
	}
}

// WithNInit sets the number of seeded restarts.
func WithNInit(n int) Option {
	return func(c *fitConfig) {
		if n > 0 {
			c.nInit = n
		}
	}
}

// WithAsOfYear sets the year age is computed against.
func WithAsOfYear(year int) Option {
	return func(c *fitConfig) {
		if year > 0 {
			c.asOfYear = year
		}
	}
}

// WithAgeCap sets the training age cap.
func WithAgeCap(limit int) Option {
	return func(c *fitConfig) {
		if limit > 0 {
			c.ageCap = limit
		}
	}
}

// WithIncomeCap sets the training income cap.
func WithIncomeCap(limit float64) Option {
	return func(c *fitConfig) {
		if limit > 0 {
			c.incomeCap = limit
		}
	}
}

// WithLogger sets the logger used during Fit.
func WithLogger(l logger.Logger) Option {
	return func(c *fitConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithClock overrides the clock used for TrainedAt and the default as-of year.
func WithClock(now func() time.Time) Option {
	return func(c *fitConfig) {
		if now != nil {
			c.now = now
		}
	}
}

// Metadata describes how a pipeline was trained.
type Metadata struct {
	RunID      string
	TrainedAt  time.Time
	Seed       int64
	NInit      int
	MaxIter    int
	Iterations int
	Inertia    float64
	RowsSeen   int
	RowsKept   int
	Dropped    customer.DropReport
	AgeCap     int
	IncomeCap  float64
}

// Assignment is the outcome for one input row. A failed row has Label -1.
type Assignment struct {
	Label int
	Err   error
}

// FittedPipeline holds encoder, scaler and centroid state.
type FittedPipeline struct {
	k           int
	columns     []string
	categorical int
	encoder     ordinalEncoder
	scaler      standardScaler
	centroids   [][]float64
	reference   customer.Reference
	labels      []int
	meta        Metadata
}

// Fit trains a pipeline on raw rows. Rows with missing or malformed fields and
// training outliers are dropped before fitting.
func Fit(ctx context.Context, rows []customer.Row, opts ...Option) (*FittedPipeline, error) {
	cfg := fitConfig{
		clusters:  DefaultClusters,
		seed:      DefaultRandomSeed,
		maxIter:   DefaultMaxIter,
		nInit:     DefaultNInit,
		ageCap:    customer.DefaultAgeCap,
		incomeCap: customer.DefaultIncomeCap,
		logger:    logger.Nop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.asOfYear == 0 {
		cfg.asOfYear = cfg.now().Year()
	}
	log := cfg.logger.Named("segmentation")
	start := time.Now()

	p, err := fit(ctx, rows, cfg, log)
	metrics.RecordFitDuration(time.Since(start).Seconds())
	if err != nil {
		metrics.RecordFitRun("failure")
		log.Error(ctx, "fit failed", logger.Int("rows", len(rows)), logger.Error(err))
		return nil, err
	}
	metrics.RecordFitRun("success")
	metrics.UpdateKMeansResult(p.meta.Iterations, p.meta.Inertia)
	log.Info(ctx, "fit complete",
		logger.String("run_id", p.meta.RunID),
		logger.Int("k", p.k),
		logger.Int("rows_kept", p.meta.RowsKept),
		logger.Int("rows_dropped", p.meta.Dropped.Total()),
		logger.Int("iterations", p.meta.Iterations),
		logger.Float64("inertia", p.meta.Inertia),
		logger.Duration("elapsed", time.Since(start)),
	)
	return p, nil
}

func fit(ctx context.Context, rows []customer.Row, cfg fitConfig, log logger.Logger) (*FittedPipeline, error) {
	builder := customer.NewBuilder(
		customer.WithAsOfYear(cfg.asOfYear),
		customer.WithAgeCap(cfg.ageCap),
		customer.WithIncomeCap(cfg.incomeCap),
	)
	set := builder.BuildTraining(rows)
	metrics.RecordTrainingRows("kept", len(set.Records))
	metrics.RecordTrainingRows("missing_field", set.Dropped.MissingField)
	metrics.RecordTrainingRows("malformed_input", set.Dropped.MalformedInput)
	metrics.RecordTrainingRows("age_outlier", set.Dropped.AgeOutlier)
	metrics.RecordTrainingRows("income_outlier", set.Dropped.IncomeOutlier)
	if set.Dropped.Total() > 0 {
		log.Debug(ctx, "training rows dropped",
			logger.Int("missing_field", set.Dropped.MissingField),
			logger.Int("malformed_input", set.Dropped.MalformedInput),
			logger.Int("age_outlier", set.Dropped.AgeOutlier),
			logger.Int("income_outlier", set.Dropped.IncomeOutlier),
		)
	}
	if len(set.Records) == 0 {
		return nil, ErrNoData
	}
	if len(set.Records) < cfg.clusters {
		return nil, fmt.Errorf("%w: %d rows for %d clusters", ErrClustering, len(set.Records), cfg.clusters)
	}

	cat := customer.FeatureSchema.Filter(customer.Categorical).Names()
	num := customer.FeatureSchema.Filter(customer.Numeric).Names()

	p := &FittedPipeline{
		k:           cfg.clusters,
		columns:     append(append([]string(nil), cat...), num...),
		categorical: len(cat),
		encoder:     fitEncoder(set.Records, cat),
		reference:   set.Reference,
	}

	data := make([]float64, 0, len(set.Records)*len(p.columns))
	for _, rec := range set.Records {
		v, err := p.vectorize(rec)
		if err != nil {
			return nil, err
		}
		data = append(data, v...)
	}
	x := mat.NewDense(len(set.Records), len(p.columns), data)

	if distinct := countDistinct(x); distinct < cfg.clusters {
		return nil, fmt.Errorf("%w: %d distinct feature vectors for %d clusters", ErrClustering, distinct, cfg.clusters)
	}

	p.scaler = fitScaler(x)
	z := p.scaler.transform(x)
	res := kmeans{k: cfg.clusters, maxIter: cfg.maxIter, nInit: cfg.nInit, seed: cfg.seed}.fit(z)

	p.centroids = res.centroids
	p.labels = res.labels
	p.meta = Metadata{
		RunID:      uuid.NewString(),
		TrainedAt:  cfg.now().UTC(),
		Seed:       cfg.seed,
		NInit:      cfg.nInit,
		MaxIter:    cfg.maxIter,
		Iterations: res.iterations,
		Inertia:    res.inertia,
		RowsSeen:   len(rows),
		RowsKept:   len(set.Records),
		Dropped:    set.Dropped,
		AgeCap:     cfg.ageCap,
		IncomeCap:  cfg.incomeCap,
	}
	return p, nil
}

// Assign featurizes raw rows against the pipeline's stored reference and
// labels each one. It returns one Assignment per row, in input order; rows
// that fail to featurize carry the error instead of a label. No outlier
// filtering is applied.
func (p *FittedPipeline) Assign(rows []customer.Row) []Assignment {
	start := time.Now()
	builder := customer.NewBuilder(customer.WithAsOfYear(p.reference.AsOfYear))
	results := builder.BuildInference(rows, p.reference)

	out := make([]Assignment, len(rows))
	assigned := 0
	for i, r := range results {
		if r.Err != nil {
			out[i] = Assignment{Label: -1, Err: r.Err}
			metrics.RecordRowFailure(customer.ErrorKind(r.Err))
			continue
		}
		label, err := p.label(r.Record)
		if err != nil {
			out[i] = Assignment{Label: -1, Err: err}
			metrics.RecordRowFailure(customer.ErrorKind(err))
			continue
		}
		out[i] = Assignment{Label: label}
		assigned++
	}
	metrics.RecordRowsAssigned(assigned)
	metrics.RecordAssignLatency(time.Since(start).Seconds())
	return out
}

// AssignFeatures labels records that already went through feature
// derivation. Every record must carry exactly the fitted column set; the
// first one that does not fails the whole batch with a DimensionMismatchError,
// and a record with an unreadable value fails it with a RecordError.
func (p *FittedPipeline) AssignFeatures(records []customer.FeatureRecord) ([]int, error) {
	start := time.Now()
	for i, rec := range records {
		missing, extra := customer.FeatureSchema.Diff(rec)
		if len(missing) > 0 || len(extra) > 0 {
			metrics.RecordRowFailure("dimension_mismatch")
			return nil, &DimensionMismatchError{Index: i, Missing: missing, Extra: extra}
		}
	}
	labels := make([]int, len(records))
	for i, rec := range records {
		label, err := p.label(rec)
		if err != nil {
			metrics.RecordRowFailure(customer.ErrorKind(err))
			return nil, &RecordError{Index: i, Err: err}
		}
		labels[i] = label
	}
	metrics.RecordRowsAssigned(len(labels))
	metrics.RecordAssignLatency(time.Since(start).Seconds())
	return labels, nil
}

func (p *FittedPipeline) label(rec customer.FeatureRecord) (int, error) {
	v, err := p.vectorize(rec)
	if err != nil {
		return -1, err
	}
	c, _ := nearest(p.scaler.transformRow(v), p.centroids)
	metrics.RecordSegment(strconv.Itoa(c))
	return c, nil
}

// vectorize lays a record out in column order: encoded categoricals first,
// then numeric columns.
func (p *FittedPipeline) vectorize(rec customer.FeatureRecord) ([]float64, error) {
	v := make([]float64, len(p.columns))
	for j, col := range p.columns {
		if j < p.categorical {
			code, ok := p.encoder.encode(j, rec[col])
			if !ok {
				metrics.RecordUnknownCategory(col)
			}
			v[j] = code
			continue
		}
		f, err := customer.ParseNumber(col, rec[col])
		if err != nil {
			return nil, err
		}
		v[j] = f
	}
	return v, nil
}

func countDistinct(x *mat.Dense) int {
	rows, _ := x.Dims()
	seen := make(map[string]struct{}, rows)
	var b strings.Builder
	for i := 0; i < rows; i++ {
		b.Reset()
		for _, f := range x.RawRowView(i) {
			b.WriteString(strconv.FormatUint(math.Float64bits(f), 16))
			b.WriteByte(',')
		}
		seen[b.String()] = struct{}{}
	}
	return len(seen)
}

// K returns the number of clusters.
func (p *FittedPipeline) K() int { return p.k }

// Columns returns the encoded column order.
func (p *FittedPipeline) Columns() []string { return append([]string(nil), p.columns...) }

// Categories returns the fitted category list of a categorical column.
func (p *FittedPipeline) Categories(column string) []string {
	for j, col := range p.encoder.columns {
		if col == column {
			return append([]string(nil), p.encoder.categories[j]...)
		}
	}
	return nil
}

// Centroids returns a copy of the k centroids in scaled space.
func (p *FittedPipeline) Centroids() [][]float64 {
	out := make([][]float64, len(p.centroids))
	for i, c := range p.centroids {
		out[i] = append([]float64(nil), c...)
	}
	return out
}

// TrainingLabels returns the label of every kept training row, in the order
// the rows were kept. It is empty for pipelines loaded from an artifact
// written without labels.
func (p *FittedPipeline) TrainingLabels() []int { return append([]int(nil), p.labels...) }

// Reference returns the dates inference derivation is pinned to.
func (p *FittedPipeline) Reference() customer.Reference { return p.reference }

// Metadata returns training metadata.
func (p *FittedPipeline) Metadata() Metadata { return p.meta }
