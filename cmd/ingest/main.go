package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"ingest/internal/metrics"
	"ingest/internal/metrics/datadog"

	// register all backends with the storage factory.
	// the -storage flag selects which one to use but we build in support for all of them.
	_ "ingest/internal/storage/all"
)

// main is the entry point for the ingest binary. It parses flags, optionally
// initializes a metrics backend, and runs one file through the pipeline.
func main() {
	var opts options

	flag.StringVar(&opts.schemaPath, "schema", "configs/schema.json", "schema catalog JSON path")
	flag.StringVar(&opts.filePath, "file", "", "input CSV file to ingest")
	flag.StringVar(&opts.sourceName, "source", "", "source name recorded for this upload")
	flag.StringVar(&opts.templatePath, "template", "", "mapping template CSV path (mutually exclusive with -fuzzy-map)")
	flag.StringVar(&opts.fuzzyMapPath, "fuzzy-map", "", "fuzzy header map JSON path (mutually exclusive with -template)")
	flag.StringVar(&opts.dbURL, "db-url", "", "database connection string (falls back to DATABASE_URL)")
	flag.StringVar(&opts.storageKind, "storage", "postgres", "storage backend (postgres, sqlite, mssql)")
	flag.StringVar(&opts.uploadTag, "upload-tag", "", "tag stored with appendix rows (default: run timestamp)")
	flag.IntVar(&opts.batchSize, "batch-size", 0, "rows per bulk insert (default 5000, floor 100)")
	flag.BoolVar(&opts.dryRun, "dry-run", false, "clean and preview without touching the database")
	flag.BoolVar(&opts.skipAppendix, "skip-appendix", false, "do not persist unmapped columns")
	flag.BoolVar(&opts.initDB, "init-db", false, "create destination tables first (sqlite only)")
	metricsBackendFlg := flag.String("metrics-backend", "none", "metrics backend to use (datadog, none)")
	verbose := flag.Bool("v", false, "enable verbose logs")

	flag.Parse()

	opts.verbose = *verbose
	if opts.dbURL == "" {
		opts.dbURL = os.Getenv("DATABASE_URL")
	}
	if opts.uploadTag == "" {
		opts.uploadTag = time.Now().Format("20060102-150405")
	}

	closeMetrics := setupMetrics(*metricsBackendFlg, *verbose)
	defer closeMetrics()

	if err := run(context.Background(), opts, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		closeMetrics()

		var uerr *usageError
		if errors.As(err, &uerr) {
			os.Exit(1)
		}
		os.Exit(2)
	}
}

// setupMetrics installs the selected metrics backend, leaving the nop
// backend in place when disabled or on init failure. The returned func
// flushes and shuts the backend down; it is safe to call more than once.
func setupMetrics(backendName string, verbose bool) func() {
	switch backendName {
	case "datadog":
		// The Datadog backend buffers metrics and submits periodically, with
		// one final submission at shutdown (Close()).
		jobName := "ingest"
		extraTags := datadog.ParseTagsCSV(os.Getenv("METRICS_TAGS"))

		b, err := datadog.NewBackend(context.Background(), datadog.Options{
			JobName: jobName,
			Tags:    extraTags,
		})
		if err != nil {
			log.Printf("metrics: failed to init datadog backend: %v; using nop", err)
			return func() {}
		}
		log.Printf("metrics: backend=%v job_name=%v tags=%v", backendName, jobName, extraTags)
		metrics.SetBackend(b)

		var closed bool
		return func() {
			if closed {
				return
			}
			closed = true
			if err := b.Close(); err != nil {
				log.Printf("metrics: datadog close/flush error: %v", err)
			}
		}

	case "", "none":
		// metrics disabled; nop backend remains
		if verbose {
			log.Printf("metrics: disabled (backend=%q)", backendName)
		}

	default:
		log.Printf("metrics: unknown backend %q; metrics disabled", backendName)
	}
	return func() {}
}
