// Command frvec is the entrypoint for every pipeline stage (seed,
// downloader, vectorizer, indexer, telemetry), structured as cobra
// subcommands of one binary, grounded on the teacher's cmd/gonzb/main.go
// (SIGINT/SIGTERM -> context cancellation, viper-backed config.Load,
// log.Fatalf on unrecoverable startup error).
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/segmentio/ksuid"
	"github.com/spf13/cobra"

	"github.com/frvec/pipeline/internal/broker"
	"github.com/frvec/pipeline/internal/bus"
	"github.com/frvec/pipeline/internal/collector"
	"github.com/frvec/pipeline/internal/config"
	"github.com/frvec/pipeline/internal/downloader"
	"github.com/frvec/pipeline/internal/encoder"
	"github.com/frvec/pipeline/internal/indexer"
	"github.com/frvec/pipeline/internal/logger"
	"github.com/frvec/pipeline/internal/searchindex"
	"github.com/frvec/pipeline/internal/seeder"
	"github.com/frvec/pipeline/internal/telemetrystore"
	"github.com/frvec/pipeline/internal/vectorizer"
)

var configPath string
var seedFile string

var rootCmd = &cobra.Command{
	Use:   "frvec",
	Short: "French Common Crawl vectorization pipeline",
	Long:  "Seed, download, vectorize, and index French-language pages from Common Crawl WARC files.",
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Publish one WarcJob per line of a seed file",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := mustLoadConfig()
		log := mustLogger(cfg, cfg.Machine)

		ctx, cancel := withSignalCancel()
		defer cancel()

		brokerCfg := broker.Config{URL: cfg.AMQPURL(), RetryDelay: time.Duration(cfg.RabbitMQ.RetryDelay) * time.Second}
		count, err := seeder.Seed(ctx, brokerCfg, cfg.Queues.Download, seedFile, log)
		if err != nil {
			log.Fatal("seed failed: %v", err)
		}
		fmt.Printf("published %d jobs\n", count)
	},
}

var downloaderCmd = &cobra.Command{
	Use:   "downloader",
	Short: "Download and extract WARC files into PageRecords",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := mustLoadConfig()
		log := mustLogger(cfg, cfg.Machine)

		ctx, cancel := withSignalCancel()
		defer cancel()

		telem := mustTelemetry(cfg, log)
		defer telem.Close()

		dlCfg := downloader.Config{
			Broker:       broker.Config{URL: cfg.AMQPURL(), RetryDelay: time.Duration(cfg.RabbitMQ.RetryDelay) * time.Second},
			DownloadQ:    cfg.Queues.Download,
			VectorizeQ:   cfg.Queues.Vectorization,
			Workers:      cfg.MaxWorkers,
			WorkDir:      "./warc",
			HTTPTimeout:  5 * time.Minute,
			PublishRetry: 3,
		}
		if err := downloader.Run(ctx, dlCfg, log, telem, cfg.Machine); err != nil && !errors.Is(err, context.Canceled) {
			log.Fatal("downloader failed: %v", err)
		}
	},
}

var vectorizerCmd = &cobra.Command{
	Use:   "vectorizer",
	Short: "Segment, encode, and reduce PageRecords into embeddings",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := mustLoadConfig()
		log := mustLogger(cfg, cfg.Machine)

		ctx, cancel := withSignalCancel()
		defer cancel()

		telem := mustTelemetry(cfg, log)
		defer telem.Close()

		enc := encoder.New(encoder.Config{URL: cfg.EmbedderURL, Timeout: 2 * time.Minute})
		if !enc.Available(ctx) {
			log.Warn("vectorizer: encoder at %s not reporting healthy at startup, proceeding anyway", cfg.EmbedderURL)
		}
		if _, err := enc.EmbedBatch(ctx, []string{"warm-up"}); err != nil {
			log.Warn("vectorizer: encoder warm-up call failed, proceeding anyway: %v", err)
		}

		vecCfg := vectorizer.Config{
			Broker:     broker.Config{URL: cfg.AMQPURL(), RetryDelay: time.Duration(cfg.RabbitMQ.RetryDelay) * time.Second},
			VectorizeQ: cfg.Queues.Vectorization,
			IndexQ:     cfg.Queues.Indexing,
			DocBatch:   cfg.DocBatchSize,
			QueueDepth: cfg.DocBatchSize * 2,
			RetryDelay: time.Duration(cfg.RabbitMQ.RetryDelay) * time.Second,
		}
		v := vectorizer.New(vecCfg, log, enc, telem, cfg.Machine)
		if err := v.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Fatal("vectorizer failed: %v", err)
		}
	},
}

var indexerCmd = &cobra.Command{
	Use:   "indexer",
	Short: "Bulk-insert embeddings into the search index",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := mustLoadConfig()
		log := mustLogger(cfg, cfg.Machine)

		ctx, cancel := withSignalCancel()
		defer cancel()

		telem := mustTelemetry(cfg, log)
		defer telem.Close()

		idx, err := searchindex.New(searchindex.Config{Addresses: cfg.ES.Hosts, IndexName: cfg.ES.Index, Dims: cfg.ES.Dims}, log)
		if err != nil {
			log.Fatal("indexer: cannot build search index client: %v", err)
		}

		ixCfg := indexer.Config{
			Broker:    broker.Config{URL: cfg.AMQPURL(), RetryDelay: time.Duration(cfg.RabbitMQ.RetryDelay) * time.Second},
			IndexQ:    cfg.Queues.Indexing,
			BatchSize: cfg.IndexBatchSize,
		}
		ix := indexer.New(ixCfg, log, idx, telem, cfg.Machine)
		if err := ix.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Fatal("indexer failed: %v", err)
		}
	},
}

var telemetryCmd = &cobra.Command{
	Use:   "telemetry",
	Short: "Collect telemetry events into the time-series store",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := mustLoadConfig()
		log := mustLogger(cfg, cfg.Machine)

		ctx, cancel := withSignalCancel()
		defer cancel()

		store, err := telemetrystore.Connect(ctx, telemetrystore.Config{URI: cfg.MongoURI(), Database: "frvec"}, log)
		if err != nil {
			log.Fatal("telemetry: cannot connect to mongo: %v", err)
		}
		defer store.Close(context.Background())

		b, err := bus.Connect(bus.Config{
			BrokerURL:  cfg.MQTTURL(),
			ClientID:   "frvec-collector-" + cfg.Machine + "-" + ksuid.New().String(),
			RetryDelay: time.Duration(cfg.RabbitMQ.RetryDelay) * time.Second,
		}, log)
		if err != nil {
			log.Fatal("telemetry: cannot connect to broker: %v", err)
		}
		defer b.Close()

		c := collector.New(store, log)
		if err := c.Run(ctx, b); err != nil && !errors.Is(err, context.Canceled) {
			log.Fatal("telemetry collector failed: %v", err)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to an optional YAML config override")
	seedCmd.Flags().StringVarP(&seedFile, "file", "f", "", "path to the seed file (one WARC path per line)")

	rootCmd.AddCommand(seedCmd, downloaderCmd, vectorizerCmd, indexerCmd, telemetryCmd)
}

func mustLoadConfig() *config.Config {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

func mustLogger(cfg *config.Config, machine string) *logger.Logger {
	level := logger.ParseLevel(cfg.Log.Level)
	log, err := logger.New(cfg.Log.Path, level, cfg.Log.IncludeStdout, machine)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		os.Exit(1)
	}
	return log
}

func mustTelemetry(cfg *config.Config, log *logger.Logger) *bus.Bus {
	b, err := bus.Connect(bus.Config{
		BrokerURL:  cfg.MQTTURL(),
		ClientID:   "frvec-" + cfg.Machine + "-" + ksuid.New().String(),
		RetryDelay: time.Duration(cfg.RabbitMQ.RetryDelay) * time.Second,
	}, log)
	if err != nil {
		log.Fatal("cannot connect telemetry bus: %v", err)
	}
	return b
}

// withSignalCancel returns a context cancelled on SIGINT/SIGTERM,
// matching the teacher's graceful-shutdown posture in cmd/gonzb.
func withSignalCancel() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			fmt.Println("\ninterrupt received, shutting down gracefully...")
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
