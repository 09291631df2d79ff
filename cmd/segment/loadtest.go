package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"runtime"
	"time"

	"github.com/okian/custseg/internal/synthetic"
)

// Default load test constants.
const (
	defaultLoadRows    = 10000
	defaultLoadBatch   = 100
	defaultLoadTimeout = 30 * time.Second
)

// runLoadtest replays synthetic rows against a running server.
func runLoadtest(ctx context.Context, e env, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("loadtest", flag.ContinueOnError)
	baseURL := fs.String("url", "http://localhost"+e.cfg.Addr, "Base URL of the service")
	n := fs.Int("n", defaultLoadRows, "Number of rows to submit")
	batch := fs.Int("batch", defaultLoadBatch, "Rows per request")
	workers := fs.Int("workers", runtime.NumCPU()*2, "Concurrent clients")
	timeout := fs.Duration("timeout", defaultLoadTimeout, "HTTP request timeout")
	seed := fs.Int64("seed", e.cfg.RandomSeed, "Random seed for the rows")
	if err := fs.Parse(args); err != nil {
		return err
	}

	rows := synthetic.NewGenerator(synthetic.WithSeed(*seed)).Rows(*n)
	report, err := synthetic.Submit(ctx, synthetic.LoadConfig{
		BaseURL:   *baseURL,
		BatchSize: *batch,
		Workers:   *workers,
		Timeout:   *timeout,
	}, rows, e.log.Named("loadtest"))
	if err != nil {
		return fmt.Errorf("loadtest: %w", err)
	}
	fmt.Fprintln(stdout, report.String())
	return nil
}
