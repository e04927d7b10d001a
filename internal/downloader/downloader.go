// Package downloader implements the Downloader pipeline stage: consume
// WarcJobs one at a time (prefetch 1, per spec §4.2 and
// original_source/warc_downloader.py:283's
// channel.basic_qos(prefetch_count=1)), fetch the WARC file, and fan
// the CPU-bound record parsing inside that one file out across a
// MAX_WORKERS pool (internal/extract.Pool) before publishing, acking,
// and cleaning up. MAX_WORKERS is a record-level pool scoped to the one
// WARC file being processed, not a job-level fan-out; the teacher's
// downloader.Service/runWorkerPool shape (internal/downloader/service.go,
// worker.go) is reused for that inner pool instead of for job
// concurrency.
package downloader

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/frvec/pipeline/internal/broker"
	"github.com/frvec/pipeline/internal/bus"
	"github.com/frvec/pipeline/internal/domain"
	"github.com/frvec/pipeline/internal/extract"
	"github.com/frvec/pipeline/internal/logger"
	"github.com/frvec/pipeline/internal/warcfetch"
)

// Config bundles the runtime parameters for one Downloader process.
type Config struct {
	Broker       broker.Config
	DownloadQ    string
	VectorizeQ   string
	Workers      int
	WorkDir      string
	HTTPTimeout  time.Duration
	PublishRetry int
}

// Run consumes WarcJobs from cfg.DownloadQ one at a time (prefetch 1)
// until ctx is cancelled, processing each WARC file's records across a
// cfg.Workers-sized pool per spec §4.2.
func Run(ctx context.Context, cfg Config, log *logger.Logger, telemetry *bus.Bus, machine string) error {
	consumer, deliveries, err := broker.NewConsumer(cfg.Broker, cfg.DownloadQ, 1)
	if err != nil {
		return fmt.Errorf("downloader: connect consumer: %w", err)
	}
	defer consumer.Close()

	pub, err := broker.NewPublisher(cfg.Broker, cfg.VectorizeQ, log)
	if err != nil {
		return fmt.Errorf("downloader: connect publisher: %w", err)
	}
	defer pub.Close()

	client := &http.Client{Timeout: cfg.HTTPTimeout}
	pool := extract.NewPool(cfg.Workers)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return nil
			}
			handleDelivery(ctx, cfg, d, client, pub, pool, log, telemetry, machine)
		}
	}
}

func handleDelivery(ctx context.Context, cfg Config, d amqp.Delivery, client *http.Client, pub *broker.Publisher, pool *extract.Pool, log *logger.Logger, telemetry *bus.Bus, machine string) {
	var job domain.WarcJob
	if err := json.Unmarshal(d.Body, &job); err != nil {
		log.Error("downloader: malformed job, dropping: %v", err)
		_ = d.Nack(false, false)
		return
	}

	var timings domain.Timings
	start := time.Now()

	localPath, err := warcfetch.Fetch(client, cfg.WorkDir, job.WarcURL)
	timings.Download = time.Since(start)
	if err != nil {
		log.Warn("downloader: fetch %s failed, requeueing: %v", job.WarcURL, err)
		_ = d.Nack(false, true)
		return
	}

	loadStart := time.Now()
	results := make(chan extract.Result, 16)
	errCh := make(chan error, 1)
	go func() {
		errCh <- pool.File(localPath, results, log)
	}()

	published := 0
	var publishErr error
	for res := range results {
		body, err := json.Marshal(res.Record)
		if err != nil {
			log.Error("downloader: marshal page record for %s: %v", res.Record.URL, err)
			continue
		}
		err = pub.PublishRetry(ctx, body, cfg.PublishRetry, func(attempt int) time.Duration {
			return 2 * time.Second
		})
		if err != nil {
			publishErr = err
			break
		}
		published++
	}
	if publishErr != nil {
		// Drain the remaining results so pool.File can finish and close out.
		for range results {
		}
	}
	timings.Load = time.Since(loadStart)

	extractErr := <-errCh
	if publishErr != nil {
		log.Warn("downloader: publish failed for %s after %d records, requeueing: %v", job.WarcURL, published, publishErr)
		_ = d.Nack(false, true)
		return
	}
	if extractErr != nil {
		log.Warn("downloader: extract %s failed, requeueing: %v", job.WarcURL, extractErr)
		_ = d.Nack(false, true)
		return
	}

	if err := warcfetch.Remove(localPath); err != nil {
		log.Warn("downloader: cleanup failed for %s: %v", localPath, err)
	}

	if err := d.Ack(false); err != nil {
		log.Error("downloader: ack failed for %s: %v", job.WarcURL, err)
	}

	if telemetry != nil {
		event := domain.TelemetryEvent{
			Step:    domain.StepWarc,
			Machine: machine,
			Metadata: mergeMetadata(map[string]any{
				"warc_url": job.WarcURL,
				"records":  published,
			}, timings.AsMetadata()),
		}
		if err := telemetry.Publish(event); err != nil {
			log.Warn("downloader: telemetry publish failed: %v", err)
		}
	}
}

func mergeMetadata(base map[string]any, extra map[string]any) map[string]any {
	for k, v := range extra {
		base[k] = v
	}
	return base
}
