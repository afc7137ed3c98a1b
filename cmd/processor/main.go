// Command processor parses and exports local Betfair stream files offline
// through the same pipeline the server runs.
//
//	processor -format csv,parquet -out exports data/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"bfintake/internal/config"
	"bfintake/internal/files"
	"bfintake/internal/infrastructure"
	"bfintake/internal/operations"
	"bfintake/internal/validation"
	"bfintake/pkg/contracts"
	"bfintake/pkg/contracts/domain"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintln(os.Stderr, "processor:", err)
		}
		os.Exit(1)
	}
}

type options struct {
	outDir      string
	formats     []string
	metadata    bool
	backend     string
	dataDir     string
	workers     int
	fileTimeout time.Duration
	maxMember   int64
	logLevel    string
	inputs      []string
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var (
		opts    options
		formats string
		version bool
	)
	fs := flag.NewFlagSet("processor", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.outDir, "out", "exports", "directory exported files are written to")
	fs.StringVar(&formats, "format", "json", "comma separated export formats (json, csv, parquet)")
	fs.BoolVar(&opts.metadata, "metadata", false, "include the metadata block in JSON exports")
	fs.StringVar(&opts.backend, "cache", config.BackendMemory, "cache backend: memory or disk")
	fs.StringVar(&opts.dataDir, "data-dir", "data", "cache directory for the disk backend")
	fs.IntVar(&opts.workers, "workers", operations.DefaultWorkers, "files processed in parallel")
	fs.DurationVar(&opts.fileTimeout, "file-timeout", operations.DefaultFileTimeout, "upper bound on one file's parse or export")
	fs.Int64Var(&opts.maxMember, "max-member-bytes", 512<<20, "largest zip member buffered from a stream")
	fs.StringVar(&opts.logLevel, "log-level", "warn", "log level: debug, info, warn or error")
	fs.BoolVar(&version, "version", false, "print version and exit")
	if err := fs.Parse(args); err != nil {
		return opts, err
	}

	if version {
		fmt.Fprintln(stderr, contracts.GetFullVersionString())
		return opts, flag.ErrHelp
	}

	for _, f := range strings.Split(formats, ",") {
		if f = strings.TrimSpace(f); f != "" {
			opts.formats = append(opts.formats, f)
		}
	}
	if len(opts.formats) == 0 {
		return opts, errors.New("at least one -format is required")
	}
	switch opts.backend {
	case config.BackendMemory, config.BackendDisk:
	default:
		return opts, fmt.Errorf("unsupported -cache %q", opts.backend)
	}

	opts.inputs = fs.Args()
	if len(opts.inputs) == 0 {
		return opts, errors.New("no input files")
	}
	return opts, nil
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	opts, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}

	logger := infrastructure.NewLogger(config.LoggingConfig{Level: opts.logLevel, Format: "json"}, stderr)

	validator := validation.NewFileValidator(logger)
	inputs, err := validator.ExpandInputs(opts.inputs)
	if err != nil {
		return err
	}
	if err := validator.UniqueKeys(inputs); err != nil {
		return err
	}
	if err := validator.ValidateOutputDirectory(opts.outDir); err != nil {
		return err
	}

	cache, err := files.OpenManager(ctx,
		config.StorageConfig{Backend: opts.backend, DataDir: opts.dataDir},
		config.PipelineConfig{LockTimeout: 30 * time.Second},
		logger)
	if err != nil {
		return err
	}
	defer cache.Close()

	pipeline := operations.NewPipeline(cache, logger, operations.WithConfig(operations.Config{
		Workers:        opts.workers,
		FileTimeout:    opts.fileTimeout,
		MaxMemberBytes: opts.maxMember,
	}))

	failed := 0

	uploads := make([]operations.UploadFile, len(inputs))
	for i, in := range inputs {
		uploads[i] = operations.UploadFile{
			Name: filepath.Base(in),
			Open: func() (io.ReadCloser, error) { return os.Open(in) },
		}
	}
	uploaded := pipeline.UploadBatch(ctx, uploads)
	var accepted []string
	for _, u := range uploaded.Results {
		if !u.Accepted {
			failed++
			fmt.Fprintf(stdout, "FAIL  upload  %s: %s\n", u.Filename, u.Error)
			continue
		}
		accepted = append(accepted, u.Filename)
	}
	if len(accepted) == 0 {
		return fmt.Errorf("%d of %d files failed", failed, len(inputs))
	}

	parsed, err := pipeline.Parse(ctx, accepted)
	if err != nil {
		return err
	}
	var ready []string
	for _, p := range parsed.Results {
		if p.Status != domain.StatusSuccess {
			failed++
			fmt.Fprintf(stdout, "FAIL  parse   %s: %s\n", p.Filename, p.Error)
			continue
		}
		ready = append(ready, p.Filename)
		fmt.Fprintf(stdout, "OK    parse   %s: %d markets, %d records, %d skipped\n",
			p.Filename, p.MarketsParsed, p.RecordsParsed, p.SkippedRecords)
	}

	for _, format := range opts.formats {
		if len(ready) == 0 {
			break
		}
		exported, err := pipeline.Export(ctx, ready, format, opts.metadata)
		if err != nil {
			return err
		}
		for _, e := range exported.Results {
			if e.Status != domain.StatusSuccess {
				failed++
				fmt.Fprintf(stdout, "FAIL  export  %s (%s): %s\n", e.Filename, format, e.Error)
				continue
			}
			dst := filepath.Join(opts.outDir, e.OutputKey)
			if err := copyArtifact(ctx, pipeline, e.OutputKey, dst); err != nil {
				return err
			}
			fmt.Fprintf(stdout, "OK    export  %s -> %s (%d bytes)\n", e.Filename, dst, e.SizeBytes)
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d file operations failed", failed)
	}
	return nil
}

func copyArtifact(ctx context.Context, pipeline *operations.Pipeline, key, dst string) error {
	rc, _, err := pipeline.Open(ctx, domain.StageExported, key)
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return fmt.Errorf("failed to write %s: %w", dst, err)
	}
	return out.Close()
}
