// Command segment trains, serves and queries the customer segmentation
// pipeline.
//
// Usage:
//
//	segment train    [-data file.tsv] [-test-size 0.1]
//	segment predict  -in instances.json|rows.tsv [-featurized] [-version n]
//	segment serve
//	segment generate [-n rows] [-seed n] [-out file.tsv]
//	segment loadtest [-url http://localhost:9080] [-n rows] [-batch n]
//
// Configuration comes from defaults, the YAML file named by SEGMENT_CONFIG
// and SEGMENT_* environment variables.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/okian/custseg/internal/adapters/repository"
	service "github.com/okian/custseg/internal/app"
	"github.com/okian/custseg/internal/config"
	"github.com/okian/custseg/internal/domain/segmentation"
	"github.com/okian/custseg/pkg/logger"
)

var errUsage = errors.New("usage: segment <train|predict|serve|generate|loadtest> [flags]")

func main() {
	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdout)
	stop()
	if err != nil {
		os.Stderr.WriteString("segment: " + err.Error() + "\n")
		os.Exit(1)
	}
}

// env is what every subcommand gets after configuration is loaded.
type env struct {
	cfg *config.Config
	log logger.Logger
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	if len(args) == 0 {
		return errUsage
	}
	cmd, rest := args[0], args[1:]
	if cmd == "help" || cmd == "-h" || cmd == "--help" {
		_, _ = io.WriteString(stdout, errUsage.Error()+"\n")
		return nil
	}

	e, err := setup(ctx)
	if err != nil {
		return err
	}
	switch cmd {
	case "train":
		return runTrain(ctx, e, rest, stdout)
	case "predict":
		return runPredict(ctx, e, rest, stdout)
	case "serve":
		return runServe(ctx, e, rest)
	case "generate":
		return runGenerate(ctx, e, rest, stdout)
	case "loadtest":
		return runLoadtest(ctx, e, rest, stdout)
	default:
		return fmt.Errorf("unknown command %q: %w", cmd, errUsage)
	}
}

// setup loads configuration and initialises logging on stderr, so stdout
// stays free for command output.
func setup(ctx context.Context) (env, error) {
	cfg, err := config.Load(ctx)
	if err != nil {
		return env{}, fmt.Errorf("load config: %w", err)
	}
	if err := logger.Init(logger.WithWriter(os.Stderr), logger.WithFormat(cfg.LogFormat)); err != nil {
		return env{}, fmt.Errorf("initialize logging: %w", err)
	}
	log := logger.Get()
	// Apply configured log level (fallback to info on invalid input)
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		log.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}
	return env{cfg: cfg, log: log}, nil
}

func openStore(e env) (repository.Store, error) {
	store, err := repository.Open(e.cfg.ArtifactBackend, e.cfg.ArtifactDir,
		repository.WithKeepVersions(e.cfg.KeepVersions),
		repository.WithLogger(e.log),
	)
	if err != nil {
		return nil, fmt.Errorf("open artifact store: %w", err)
	}
	return store, nil
}

func fitOptions(e env) []segmentation.Option {
	return []segmentation.Option{
		segmentation.WithClusters(e.cfg.Clusters),
		segmentation.WithRandomSeed(e.cfg.RandomSeed),
		segmentation.WithMaxIter(e.cfg.MaxIter),
		segmentation.WithNInit(e.cfg.NInit),
		segmentation.WithAgeCap(e.cfg.AgeCap),
		segmentation.WithIncomeCap(e.cfg.IncomeCap),
		segmentation.WithAsOfYear(e.cfg.ResolvedAsOfYear(time.Now())),
	}
}

func newService(e env, store repository.Store) *service.Service {
	return service.New(
		service.WithLogger(e.log),
		service.WithStore(store),
		service.WithArtifactName(e.cfg.ArtifactName),
		service.WithWorkerCount(e.cfg.WorkerCount),
		service.WithQueueSize(e.cfg.QueueSize),
		service.WithBatchSize(e.cfg.BatchSize),
		service.WithFitOptions(fitOptions(e)...),
	)
}
