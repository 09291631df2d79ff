package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-json"

	"github.com/okian/custseg/internal/adapters/dataset"
	service "github.com/okian/custseg/internal/app"
	"github.com/okian/custseg/internal/domain/customer"
	"github.com/okian/custseg/internal/domain/segmentation"
	"github.com/okian/custseg/pkg/logger"
)

// runPredict labels instances from a file with a stored pipeline and writes
// the prediction document to stdout.
func runPredict(ctx context.Context, e env, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("predict", flag.ContinueOnError)
	in := fs.String("in", "", `Input file: JSON instances, or .tsv rows; "-" reads JSON from stdin`)
	featurized := fs.Bool("featurized", false, "Instances already carry the derived feature columns")
	version := fs.Int("version", 0, "Artifact version; 0 means latest")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *in == "" {
		return fmt.Errorf("predict: -in is required")
	}

	instances, err := readInstances(*in)
	if err != nil {
		return fmt.Errorf("predict: %w", err)
	}

	store, err := openStore(e)
	if err != nil {
		return err
	}
	defer store.Close()

	data, meta, err := store.Load(ctx, e.cfg.ArtifactName, *version)
	if err != nil {
		return fmt.Errorf("predict: %w", err)
	}
	p, err := segmentation.Unmarshal(data)
	if err != nil {
		return fmt.Errorf("predict: %w", err)
	}
	e.log.Info(ctx, "pipeline loaded",
		logger.String("run_id", meta.RunID),
		logger.Int("version", meta.Version),
		logger.Int("instances", len(instances)),
	)

	info := service.ModelInfo{RunID: meta.RunID, Version: meta.Version}
	var out service.Predictions
	if *featurized {
		records := make([]customer.FeatureRecord, len(instances))
		for i, inst := range instances {
			records[i] = customer.FeatureRecord(inst)
		}
		labels, err := p.AssignFeatures(records)
		if err != nil {
			return fmt.Errorf("predict: %w", err)
		}
		out = service.NewFeaturePredictions(labels, info)
	} else {
		rows := make([]customer.Row, len(instances))
		for i, inst := range instances {
			rows[i] = customer.Row(inst)
		}
		out = service.NewPredictions(p.Assign(rows), info)
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func readInstances(path string) ([]map[string]any, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".tsv" || ext == ".txt" {
		rows, err := dataset.ReadTSVFile(path)
		if err != nil {
			return nil, err
		}
		out := make([]map[string]any, len(rows))
		for i, r := range rows {
			out[i] = r
		}
		return out, nil
	}

	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read instances: %w", err)
	}
	return dataset.DecodeInstances(data)
}
