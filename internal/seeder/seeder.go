// Package seeder implements the Seeder component of spec §4.1: read a
// file of WARC paths, one per line, and publish one durable WarcJob per
// non-empty line to the downloads queue.
package seeder

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"strings"
	"time"

	"github.com/frvec/pipeline/internal/broker"
	"github.com/frvec/pipeline/internal/domain"
	"github.com/frvec/pipeline/internal/logger"
)

// Seed reads path line by line and publishes one WarcJob per non-empty
// line to queue. It is idempotent at job granularity: re-running
// re-publishes the same jobs, and downstream is expected to tolerate
// the resulting duplicates (spec §4.1, at-least-once).
func Seed(ctx context.Context, cfg broker.Config, queue, path string, log *logger.Logger) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, &domain.SeedIOError{Path: path, Err: err}
	}
	defer f.Close()

	pub, err := broker.NewPublisher(cfg, queue, log)
	if err != nil {
		return 0, &domain.BrokerUnreachable{Addr: cfg.URL, Err: err}
	}
	defer pub.Close()

	scanner := bufio.NewScanner(f)
	// WARC path lines are short; the default 64KiB token limit is ample,
	// but widen it slightly to tolerate unusually long relative paths.
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	count := 0
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		job := domain.WarcJob{WarcURL: line}
		body, err := json.Marshal(job)
		if err != nil {
			log.Error("seed: failed to marshal job for %q: %v", line, err)
			continue
		}

		err = pub.PublishRetry(ctx, body, 3, func(attempt int) time.Duration {
			return broker.Backoff(attempt, 500*time.Millisecond, 2*time.Second)
		})
		if err != nil {
			return count, &domain.BrokerUnreachable{Addr: cfg.URL, Err: err}
		}

		count++
		log.Debug("seed: published job for %s", line)
	}

	if err := scanner.Err(); err != nil {
		return count, &domain.SeedIOError{Path: path, Err: err}
	}

	log.Info("seed: published %d jobs from %s", count, path)
	return count, nil
}
