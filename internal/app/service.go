// Package service wires the segmentation pipeline, the artifact store and the
// worker pool into the operations the HTTP API and CLI need.
package service

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	jobqueue "github.com/okian/custseg/internal/adapters/mq/queue"
	workerpool "github.com/okian/custseg/internal/adapters/mq/worker"
	"github.com/okian/custseg/internal/adapters/repository"
	"github.com/okian/custseg/internal/domain/customer"
	"github.com/okian/custseg/internal/domain/segmentation"
	"github.com/okian/custseg/pkg/logger"
	"github.com/okian/custseg/pkg/metrics"
)

// Default service configuration constants.
const (
	defaultQueueSize    = 1024
	defaultBatchSize    = 256
	defaultArtifactName = "custseg"
)

// Sentinel errors returned by the service.
var (
	ErrModelNotLoaded = errors.New("no segmentation model loaded")
	ErrOverloaded     = errors.New("assignment queue is full")
	ErrNoStore        = errors.New("no artifact store configured")
)

// ModelInfo identifies the pipeline that served a request.
type ModelInfo struct {
	RunID     string    `json:"run_id"`
	Version   int       `json:"version"`
	K         int       `json:"k"`
	TrainedAt time.Time `json:"trained_at"`
	RowsKept  int       `json:"rows_kept"`
}

// Stats is a point-in-time view of the service.
type Stats struct {
	Started       bool                  `json:"started"`
	Workers       int                   `json:"workers"`
	QueueLength   int                   `json:"queue_length"`
	QueueCapacity int                   `json:"queue_capacity"`
	BatchSize     int                   `json:"batch_size"`
	Model         *ModelInfo            `json:"model,omitempty"`
	Versions      []repository.Metadata `json:"versions,omitempty"`
}

// loaded pairs a pipeline with the store version it came from.
type loaded struct {
	pipeline *segmentation.FittedPipeline
	info     ModelInfo
}

// Service owns the current pipeline. Readers take a snapshot through an
// atomic pointer; Train and Reload replace it whole.
type Service struct {
	mu      sync.Mutex // lifecycle
	trainMu sync.Mutex // serializes Train and Reload

	current atomic.Pointer[loaded]

	store repository.Store
	queue jobqueue.Queue
	pool  *workerpool.Pool

	artifactName string
	workerCount  int
	queueSize    int
	batchSize    int
	fitOpts      []segmentation.Option

	started bool
	cancel  context.CancelFunc
	nextJob atomic.Int64

	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithStore sets the artifact store.
func WithStore(store repository.Store) Option {
	return func(s *Service) { s.store = store }
}

// WithArtifactName sets the name artifacts are saved under.
func WithArtifactName(name string) Option {
	return func(s *Service) {
		if name != "" {
			s.artifactName = name
		}
	}
}

// WithWorkerCount sets the number of worker goroutines.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithQueueSize sets the maximum number of queued batches.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithBatchSize sets the number of rows per worker job.
func WithBatchSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.batchSize = size
		}
	}
}

// WithFitOptions sets the options every Train call passes to Fit.
func WithFitOptions(opts ...segmentation.Option) Option {
	return func(s *Service) { s.fitOpts = append([]segmentation.Option(nil), opts...) }
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithPipeline installs an already fitted pipeline, e.g. in tests.
func WithPipeline(p *segmentation.FittedPipeline) Option {
	return func(s *Service) {
		if p != nil {
			s.current.Store(&loaded{pipeline: p, info: infoOf(p, repository.Metadata{})})
		}
	}
}

// New constructs a new Service with default configuration.
func New(opts ...Option) *Service {
	s := &Service{
		artifactName: defaultArtifactName,
		workerCount:  runtime.NumCPU(),
		queueSize:    defaultQueueSize,
		batchSize:    defaultBatchSize,
		logger:       logger.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("service")
	return s
}

// Start creates the queue and worker pool and loads the latest stored
// artifact. A missing artifact is not an error; a corrupt one is.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	s.logger.Info(ctx, "starting segmentation service")

	if s.store != nil && s.current.Load() == nil {
		if _, err := s.reload(ctx); err != nil {
			if !errors.Is(err, repository.ErrNotFound) {
				return fmt.Errorf("load artifact: %w", err)
			}
			s.logger.Warn(ctx, "no artifact stored yet; predictions unavailable until training",
				logger.String("name", s.artifactName))
		}
	}

	q := jobqueue.NewInMemoryQueue(
		jobqueue.WithCapacity(s.queueSize),
		jobqueue.WithBufferSize(s.queueSize),
	)
	s.queue = q
	s.pool = workerpool.NewPool(s.workerCount, q, s.logger)
	// Workers outlive ctx; Stop ends them after the queue drains.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.pool.Start(runCtx)

	s.started = true
	s.logger.Info(ctx, "segmentation service started",
		logger.Int("workers", s.workerCount),
		logger.Int("queue_size", s.queueSize),
		logger.Int("batch_size", s.batchSize),
	)
	return nil
}

// Stop drains the worker pool and closes the store.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}
	s.logger.Info(ctx, "stopping segmentation service")

	var errs []error
	if s.pool != nil {
		errs = append(errs, s.pool.Shutdown(ctx))
	}
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if s.store != nil {
		errs = append(errs, s.store.Close())
	}
	s.started = false
	s.pool, s.queue = nil, nil
	s.logger.Info(ctx, "segmentation service stopped")
	return errors.Join(errs...)
}

// Train fits a new pipeline on rows, stores it, and makes it current.
// Concurrent calls run one at a time.
func (s *Service) Train(ctx context.Context, rows []customer.Row) (ModelInfo, error) {
	s.trainMu.Lock()
	defer s.trainMu.Unlock()

	opts := append(append([]segmentation.Option(nil), s.fitOpts...), segmentation.WithLogger(s.logger))
	p, err := segmentation.Fit(ctx, rows, opts...)
	if err != nil {
		return ModelInfo{}, fmt.Errorf("fit: %w", err)
	}

	var meta repository.Metadata
	if s.store != nil {
		data, err := p.Marshal()
		if err != nil {
			return ModelInfo{}, fmt.Errorf("serialize pipeline: %w", err)
		}
		pm := p.Metadata()
		meta, err = s.store.Save(ctx, repository.Metadata{
			Name:      s.artifactName,
			RunID:     pm.RunID,
			TrainedAt: pm.TrainedAt,
			K:         p.K(),
			RowsKept:  pm.RowsKept,
		}, data)
		if err != nil {
			return ModelInfo{}, fmt.Errorf("store pipeline: %w", err)
		}
	}

	l := &loaded{pipeline: p, info: infoOf(p, meta)}
	s.current.Store(l)
	metrics.UpdateModelVersion(meta.Version)
	s.logger.Info(ctx, "pipeline trained",
		logger.String("run_id", l.info.RunID),
		logger.Int("version", l.info.Version),
	)
	return l.info, nil
}

// Reload replaces the current pipeline with the latest stored artifact.
func (s *Service) Reload(ctx context.Context) (ModelInfo, error) {
	s.trainMu.Lock()
	defer s.trainMu.Unlock()
	return s.reload(ctx)
}

func (s *Service) reload(ctx context.Context) (ModelInfo, error) {
	if s.store == nil {
		return ModelInfo{}, ErrNoStore
	}
	data, meta, err := s.store.Load(ctx, s.artifactName, 0)
	if err != nil {
		return ModelInfo{}, err
	}
	p, err := segmentation.Unmarshal(data)
	if err != nil {
		s.logger.Error(ctx, "stored artifact is unusable",
			logger.String("name", meta.Name), logger.Int("version", meta.Version), logger.Error(err))
		return ModelInfo{}, err
	}
	l := &loaded{pipeline: p, info: infoOf(p, meta)}
	s.current.Store(l)
	metrics.UpdateModelVersion(meta.Version)
	s.logger.Info(ctx, "pipeline loaded",
		logger.String("run_id", l.info.RunID),
		logger.Int("version", l.info.Version),
	)
	return l.info, nil
}

// Model returns the current pipeline and its info.
func (s *Service) Model() (*segmentation.FittedPipeline, ModelInfo, error) {
	l := s.current.Load()
	if l == nil {
		return nil, ModelInfo{}, ErrModelNotLoaded
	}
	return l.pipeline, l.info, nil
}

// Predict labels raw rows. The result is parallel to rows; failed rows carry
// their error and label -1.
func (s *Service) Predict(ctx context.Context, rows []customer.Row) ([]segmentation.Assignment, ModelInfo, error) {
	l := s.current.Load()
	if l == nil {
		return nil, ModelInfo{}, ErrModelNotLoaded
	}
	out, err := s.dispatch(ctx, len(rows), func(id, lo, hi int) jobqueue.Job {
		return jobqueue.Job{ID: id, Pipeline: l.pipeline, Rows: rows[lo:hi]}
	})
	return out, l.info, err
}

// PredictFeatures labels featurized records. A record that does not match
// the fitted schema fails the whole call.
func (s *Service) PredictFeatures(ctx context.Context, records []customer.FeatureRecord) ([]int, ModelInfo, error) {
	l := s.current.Load()
	if l == nil {
		return nil, ModelInfo{}, ErrModelNotLoaded
	}
	out, err := s.dispatch(ctx, len(records), func(id, lo, hi int) jobqueue.Job {
		return jobqueue.Job{ID: id, Pipeline: l.pipeline, Features: records[lo:hi], Featurized: true}
	})
	if err != nil {
		return nil, l.info, err
	}
	labels := make([]int, len(out))
	for i, a := range out {
		labels[i] = a.Label
	}
	return labels, l.info, nil
}

// dispatch splits n records into batches, runs them on the pool (or inline
// when the service is not started) and reassembles results in input order.
func (s *Service) dispatch(ctx context.Context, n int, mk func(id, lo, hi int) jobqueue.Job) ([]segmentation.Assignment, error) {
	out := make([]segmentation.Assignment, n)
	if n == 0 {
		return out, nil
	}

	s.mu.Lock()
	q := s.queue
	s.mu.Unlock()

	type span struct{ lo, hi int }
	spans := make(map[int]span)
	reply := make(chan jobqueue.Result, (n+s.batchSize-1)/s.batchSize)

	for lo := 0; lo < n; lo += s.batchSize {
		hi := min(lo+s.batchSize, n)
		id := int(s.nextJob.Add(1))
		j := mk(id, lo, hi)
		spans[id] = span{lo, hi}
		if q == nil {
			reply <- workerpool.Process(j)
			continue
		}
		j.Reply = reply
		if !q.Enqueue(ctx, j) {
			// Jobs already queued still reply into the buffered channel.
			return nil, ErrOverloaded
		}
	}

	for range spans {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("predict: %w", ctx.Err())
		case res := <-reply:
			sp := spans[res.JobID]
			if res.Err != nil {
				return nil, shiftIndex(res.Err, sp.lo)
			}
			copy(out[sp.lo:sp.hi], res.Assignments)
		}
	}
	return out, nil
}

// shiftIndex rebases a batch-relative record index onto the whole request.
func shiftIndex(err error, offset int) error {
	var dm *segmentation.DimensionMismatchError
	if errors.As(err, &dm) {
		shifted := *dm
		shifted.Index += offset
		return &shifted
	}
	var re *segmentation.RecordError
	if errors.As(err, &re) {
		shifted := *re
		shifted.Index += offset
		return &shifted
	}
	return err
}

// Stats reports the service state.
func (s *Service) Stats(ctx context.Context) Stats {
	s.mu.Lock()
	st := Stats{
		Started:       s.started,
		Workers:       s.workerCount,
		QueueCapacity: s.queueSize,
		BatchSize:     s.batchSize,
	}
	if s.queue != nil {
		st.QueueLength = s.queue.Len(ctx)
	}
	s.mu.Unlock()

	if l := s.current.Load(); l != nil {
		info := l.info
		st.Model = &info
	}
	if s.store != nil {
		versions, err := s.store.List(ctx, s.artifactName)
		if err != nil {
			s.logger.Warn(ctx, "listing artifact versions failed", logger.Error(err))
		}
		st.Versions = versions
	}
	return st
}

func infoOf(p *segmentation.FittedPipeline, meta repository.Metadata) ModelInfo {
	pm := p.Metadata()
	return ModelInfo{
		RunID:     pm.RunID,
		Version:   meta.Version,
		K:         p.K(),
		TrainedAt: pm.TrainedAt,
		RowsKept:  pm.RowsKept,
	}
}
