package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/okian/custseg/internal/adapters/dataset"
	"github.com/okian/custseg/internal/synthetic"
	"github.com/okian/custseg/pkg/logger"
)

const defaultGenerateRows = 2240

// runGenerate writes a synthetic dataset in the training file layout.
func runGenerate(ctx context.Context, e env, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("generate", flag.ContinueOnError)
	n := fs.Int("n", defaultGenerateRows, "Number of rows")
	seed := fs.Int64("seed", e.cfg.RandomSeed, "Random seed")
	outliers := fs.Int("outliers", 0, "Make every nth row an income or age outlier; 0 disables")
	missing := fs.Int("missing", 0, "Blank the income of every nth row; 0 disables")
	out := fs.String("out", "-", `Output file; "-" writes to stdout`)
	if err := fs.Parse(args); err != nil {
		return err
	}

	rows := synthetic.NewGenerator(
		synthetic.WithSeed(*seed),
		synthetic.WithOutlierEvery(*outliers),
		synthetic.WithMissingEvery(*missing),
	).Rows(*n)

	w := stdout
	if *out != "-" {
		f, err := os.Create(*out)
		if err != nil {
			return fmt.Errorf("generate: %w", err)
		}
		defer f.Close()
		w = f
	}
	if err := dataset.WriteTSV(w, rows); err != nil {
		return fmt.Errorf("generate: %w", err)
	}
	e.log.Info(ctx, "synthetic dataset written", logger.String("out", *out), logger.Int("rows", len(rows)))
	return nil
}
