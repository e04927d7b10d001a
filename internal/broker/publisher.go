package broker

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/frvec/pipeline/internal/logger"
)

// Publisher owns a dedicated connection+channel for one queue and
// re-opens it on transport error. Per spec §4.2/§4.3 every publishing
// stage uses its own connection rather than sharing the consumer's, so
// a publish retry never disturbs in-flight consumption.
type Publisher struct {
	cfg    Config
	queue  string
	log    *logger.Logger
	conn   *amqp.Connection
	ch     *amqp.Channel
}

// NewPublisher dials once and declares the durable queue. Callers
// should treat a non-nil error here as fatal to the current job (the
// caller nack-requeues and aborts, per spec §4.2 step 4).
func NewPublisher(cfg Config, queue string, log *logger.Logger) (*Publisher, error) {
	p := &Publisher{cfg: cfg, queue: queue, log: log}
	if err := p.open(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Publisher) open() error {
	conn, err := amqp.Dial(p.cfg.URL)
	if err != nil {
		return err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return err
	}
	if err := DeclareDurableQueue(ch, p.queue); err != nil {
		ch.Close()
		conn.Close()
		return err
	}
	p.conn = conn
	p.ch = ch
	return nil
}

// Close releases the channel and connection.
func (p *Publisher) Close() {
	if p.ch != nil {
		p.ch.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
}

// reopen tears down the current channel/connection (if any) and dials
// a fresh one, matching "close and re-open the publishing connection"
// from spec §4.2 step 4.
func (p *Publisher) reopen() error {
	if p.ch != nil {
		p.ch.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
	return p.open()
}

// PublishRetry publishes body to the publisher's queue, reopening the
// connection up to maxRetries times with delay between attempts on
// transport error. It is the single primitive behind both the
// Downloader's "3 retries, 2s pause" policy and the Vectorizer's
// "5 retries, exponential 0.5-2s" policy - the caller supplies the
// retry/backoff shape.
func (p *Publisher) PublishRetry(ctx context.Context, body []byte, maxRetries int, delay func(attempt int) time.Duration) error {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := p.ch.PublishWithContext(ctx, "", p.queue, false, false, Persistent(body))
		if err == nil {
			return nil
		}
		lastErr = err
		p.log.Warn("publish to %s failed (attempt %d/%d): %v", p.queue, attempt+1, maxRetries+1, err)

		if attempt == maxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay(attempt)):
		}
		if reopenErr := p.reopen(); reopenErr != nil {
			lastErr = reopenErr
			continue
		}
	}
	return fmt.Errorf("publish to %s exhausted retries: %w", p.queue, lastErr)
}
