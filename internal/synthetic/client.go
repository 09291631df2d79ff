package synthetic

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"

	"github.com/okian/custseg/internal/domain/customer"
	"github.com/okian/custseg/pkg/logger"
)

// ErrBadLoadConfig is returned when batch size or worker count is not positive.
var ErrBadLoadConfig = errors.New("batch size and workers must be positive")

// LoadConfig controls a replay run against a running service.
type LoadConfig struct {
	BaseURL   string
	BatchSize int
	Workers   int
	Timeout   time.Duration
}

// LoadReport summarises a replay run.
type LoadReport struct {
	Requests  int
	Failed    int
	Rows      int
	RowErrors int
	Segments  map[int]int
	Duration  time.Duration
}

// String renders the report with segments in label order.
func (r LoadReport) String() string {
	labels := make([]int, 0, len(r.Segments))
	for l := range r.Segments {
		labels = append(labels, l)
	}
	sort.Ints(labels)
	var b strings.Builder
	fmt.Fprintf(&b, "requests=%d failed=%d rows=%d row_errors=%d duration=%s",
		r.Requests, r.Failed, r.Rows, r.RowErrors, r.Duration.Round(time.Millisecond))
	for _, l := range labels {
		fmt.Fprintf(&b, " segment_%d=%d", l, r.Segments[l])
	}
	return b.String()
}

type predictResponse struct {
	Predictions []*int `json:"predictions"`
	Errors      []struct {
		Index int `json:"index"`
	} `json:"errors"`
}

// Submit posts rows to {BaseURL}/predict in batches using Workers concurrent
// clients. Request failures are counted, not returned; the error is only set
// when the run could not start.
func Submit(ctx context.Context, cfg LoadConfig, rows []customer.Row, log logger.Logger) (LoadReport, error) {
	if cfg.BatchSize < 1 || cfg.Workers < 1 {
		return LoadReport{}, ErrBadLoadConfig
	}
	if log == nil {
		log = logger.Nop()
	}
	client := &http.Client{Timeout: cfg.Timeout}
	url := strings.TrimRight(cfg.BaseURL, "/") + "/predict"

	var (
		requests  atomic.Int64
		failed    atomic.Int64
		rowErrors atomic.Int64
		mu        sync.Mutex
		segments  = make(map[int]int)
	)

	batches := make(chan []customer.Row, cfg.Workers*2)
	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for batch := range batches {
				requests.Add(1)
				resp, err := post(ctx, client, url, batch)
				if err != nil {
					failed.Add(1)
					log.Debug(ctx, "predict request failed", logger.Error(err))
					continue
				}
				rowErrors.Add(int64(len(resp.Errors)))
				mu.Lock()
				for _, p := range resp.Predictions {
					if p != nil {
						segments[*p]++
					}
				}
				mu.Unlock()
			}
		}()
	}

	go func() {
		defer close(batches)
		for lo := 0; lo < len(rows); lo += cfg.BatchSize {
			hi := min(lo+cfg.BatchSize, len(rows))
			select {
			case <-ctx.Done():
				return
			case batches <- rows[lo:hi]:
			}
		}
	}()
	wg.Wait()

	report := LoadReport{
		Requests:  int(requests.Load()),
		Failed:    int(failed.Load()),
		Rows:      len(rows),
		RowErrors: int(rowErrors.Load()),
		Segments:  segments,
		Duration:  time.Since(start),
	}
	log.Info(ctx, "load run finished",
		logger.Int("requests", report.Requests),
		logger.Int("failed", report.Failed),
		logger.Int("row_errors", report.RowErrors),
		logger.Duration("duration", report.Duration),
	)
	return report, nil
}

func post(ctx context.Context, client *http.Client, url string, batch []customer.Row) (predictResponse, error) {
	var out predictResponse
	body, err := json.Marshal(map[string]any{"instances": batch})
	if err != nil {
		return out, fmt.Errorf("marshal batch: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return out, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return out, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return out, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return out, fmt.Errorf("status %d: %s", resp.StatusCode, bytes.TrimSpace(data))
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("decode response: %w", err)
	}
	return out, nil
}
