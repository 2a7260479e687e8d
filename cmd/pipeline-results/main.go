package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path"
	"strconv"
	"syscall"

	"github.com/quay/pipeline-results/internal/cli"
	"github.com/quay/pipeline-results/internal/config"
	"github.com/quay/pipeline-results/internal/db"
	"github.com/quay/pipeline-results/internal/junit"
	s3client "github.com/quay/pipeline-results/internal/s3"
	"github.com/quay/pipeline-results/internal/server"
	"github.com/quay/pipeline-results/internal/step"
	"github.com/quay/pipeline-results/internal/trend"
)

const usage = `usage: pipeline-results <command> [flags]

commands:
  serve             run the results API server
  report graph      send the flow graph of a run
  report results    collect junit reports and send them for a node
  report complete   mark a run as finished
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx, os.Args[2:])
	case "report":
		err = runReport(ctx, os.Args[2:])
	case "-h", "-help", "--help", "help":
		fmt.Fprint(os.Stdout, usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", os.Args[1], usage)
		os.Exit(2)
	}
	if err != nil {
		slog.Error(os.Args[1], "error", err)
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.LoadConfig(path)
}

func newLogger(cfg *config.Config) *slog.Logger {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.Level()}))
	slog.SetDefault(logger)
	return logger
}

func runServe(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", os.Getenv("PIPELINE_RESULTS_CONFIG"), "configuration file")
	addr := fs.String("addr", "", "listen address (overrides config)")
	dbPath := fs.String("db", "", "SQLite database path (overrides config)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	if *addr != "" {
		cfg.Listen = *addr
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}
	logger := newLogger(cfg)

	database, err := db.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer func() { _ = database.Close() }()

	correlator, err := trend.New(database, cfg.Policy(), cfg.History.CacheSize, logger.With("component", "trend"))
	if err != nil {
		return err
	}

	srv := server.New(database, correlator, cfg.Listen, server.Options{
		AllowEmptyResults: cfg.Step.AllowEmptyResults,
		HealthScaleFactor: cfg.Step.ScaleFactor(),
	}, logger)
	return srv.Run(ctx)
}

func runReport(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("report: missing subcommand (graph, results or complete)")
	}

	fs := flag.NewFlagSet("report "+args[0], flag.ExitOnError)
	serverURL := fs.String("server", envOrDefault("PIPELINE_RESULTS_SERVER", "http://localhost:8080"), "results server URL")
	job := fs.String("job", os.Getenv("JOB_NAME"), "job name")
	number := fs.Int("number", envInt("BUILD_NUMBER"), "run number")

	var (
		file        *string
		node        *string
		stepSnippet *string
		testResults *string
		allowEmpty  *bool
		scale       *float64
		dir         *string
		configPath  *string
		s3Bucket    *string
		s3Prefix    *string
		s3PerRun    *bool
	)
	switch args[0] {
	case "graph":
		file = fs.String("file", "", "flow graph file (YAML or JSON)")
	case "results":
		node = fs.String("node", "", "flow node the step ran at")
		stepSnippet = fs.String("step", "", "step snippet, e.g. junit 'reports/*.xml'")
		testResults = fs.String("test-results", "", "comma separated report patterns")
		allowEmpty = fs.Bool("allow-empty-results", false, "do not fail when no report matches")
		scale = fs.Float64("health-scale-factor", step.DefaultHealthScaleFactor, "health scale factor")
		dir = fs.String("dir", ".", "directory patterns are resolved against")
		configPath = fs.String("config", os.Getenv("PIPELINE_RESULTS_CONFIG"), "configuration file with s3 settings")
		s3Bucket = fs.String("s3-bucket", os.Getenv("S3_BUCKET"), "read reports from this bucket instead of -dir")
		s3Prefix = fs.String("s3-prefix", os.Getenv("S3_PREFIX"), "key prefix patterns are resolved against")
		s3PerRun = fs.Bool("s3-per-run", os.Getenv("S3_PER_RUN") == "true", "resolve patterns under <prefix>/<job>/<number>/")
	case "complete":
	default:
		return fmt.Errorf("report: unknown subcommand %q", args[0])
	}
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}

	run := cli.Run{Server: *serverURL, Job: *job, Number: *number}
	switch args[0] {
	case "graph":
		return cli.ReportGraph(ctx, cli.GraphReport{Run: run, File: *file}, os.Stdout)
	case "complete":
		_, err := cli.CompleteRun(ctx, run, os.Stdout)
		return err
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	s, err := resultsStep(fs, *stepSnippet, *testResults, *allowEmpty, *scale)
	if err != nil {
		return err
	}

	var src step.Source = junit.DirSource{BaseDir: *dir}
	if *s3Bucket != "" {
		cfg.S3.Bucket = *s3Bucket
	}
	if *s3Prefix != "" {
		cfg.S3.Prefix = *s3Prefix
	}
	if cfg.S3.Bucket != "" {
		s3cfg := cfg.S3.Client()
		if s3cfg.Endpoint == "" {
			s3cfg.Endpoint = os.Getenv("S3_ENDPOINT")
		}
		if s3cfg.AccessKey == "" {
			s3cfg.AccessKey = os.Getenv("AWS_ACCESS_KEY_ID")
		}
		if s3cfg.SecretKey == "" {
			s3cfg.SecretKey = os.Getenv("AWS_SECRET_ACCESS_KEY")
		}
		c, err := s3client.New(ctx, s3cfg, logger.With("component", "s3"))
		if err != nil {
			return fmt.Errorf("create s3 client: %w", err)
		}
		if sub := runPrefix(*s3PerRun, *job, *number); sub != "" {
			c = c.WithPrefix(sub)
		}
		src = c
	}

	_, err = cli.ReportResults(ctx, cli.ResultsReport{Run: run, NodeID: *node, Step: s}, src, logger, os.Stdout)
	return err
}

// resultsStep builds the step from -step, or from the individual flags when
// no snippet is given. Explicitly set flags override the snippet.
func resultsStep(fs *flag.FlagSet, snippet, testResults string, allowEmpty bool, scale float64) (step.JUnitResultsStep, error) {
	var s step.JUnitResultsStep
	if snippet != "" {
		parsed, err := step.ParseSnippet(snippet)
		if err != nil {
			return s, err
		}
		s = parsed
	} else {
		s = step.New(testResults)
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "test-results":
			s.TestResults = testResults
		case "allow-empty-results":
			s.AllowEmptyResults = allowEmpty
		case "health-scale-factor":
			s.HealthScaleFactor = scale
		}
	})
	if s.TestResults == "" {
		return s, fmt.Errorf("no report patterns: set -step or -test-results")
	}
	return s, nil
}

// runPrefix is the per-run workspace under the configured s3 prefix, or
// empty when reports are shared by every run.
func runPrefix(perRun bool, job string, number int) string {
	if !perRun || job == "" || number <= 0 {
		return ""
	}
	return path.Join(job, strconv.Itoa(number))
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string) int {
	n, _ := strconv.Atoi(os.Getenv(key))
	return n
}
