package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"sort"

	"github.com/okian/custseg/internal/adapters/dataset"
	"github.com/okian/custseg/pkg/logger"
)

// runTrain reads the dataset, holds out a test split, fits and stores a
// pipeline, then reports how the test split lands in the segments.
func runTrain(ctx context.Context, e env, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("train", flag.ContinueOnError)
	dataPath := fs.String("data", e.cfg.DatasetPath, "Tab-separated training file")
	testSize := fs.Float64("test-size", e.cfg.TestSize, "Held-out fraction in [0, 1)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *dataPath == "" {
		return errors.New("train: -data or dataset_path is required")
	}

	rows, err := dataset.ReadTSVFile(*dataPath)
	if err != nil {
		return fmt.Errorf("train: %w", err)
	}
	train, test, err := dataset.Split(rows, *testSize, e.cfg.RandomSeed)
	if err != nil {
		return fmt.Errorf("train: %w", err)
	}
	e.log.Info(ctx, "dataset loaded",
		logger.String("path", *dataPath),
		logger.Int("rows", len(rows)),
		logger.Int("train", len(train)),
		logger.Int("test", len(test)),
	)

	store, err := openStore(e)
	if err != nil {
		return err
	}
	defer store.Close()

	svc := newService(e, store)
	info, err := svc.Train(ctx, train)
	if err != nil {
		return fmt.Errorf("train: %w", err)
	}
	fmt.Fprintf(stdout, "trained run=%s version=%d k=%d rows_kept=%d\n",
		info.RunID, info.Version, info.K, info.RowsKept)

	if len(test) == 0 {
		return nil
	}
	assignments, _, err := svc.Predict(ctx, test)
	if err != nil {
		return fmt.Errorf("train: score test split: %w", err)
	}
	counts := make(map[int]int)
	failed := 0
	for _, a := range assignments {
		if a.Err != nil {
			failed++
			continue
		}
		counts[a.Label]++
	}
	labels := make([]int, 0, len(counts))
	for l := range counts {
		labels = append(labels, l)
	}
	sort.Ints(labels)
	fmt.Fprintf(stdout, "test split: rows=%d failed=%d", len(test), failed)
	for _, l := range labels {
		fmt.Fprintf(stdout, " segment_%d=%d", l, counts[l])
	}
	fmt.Fprintln(stdout)
	return nil
}
