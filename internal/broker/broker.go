// Package broker wraps the AMQP 0-9-1 semantics (spec §6) used by the
// three durable work queues. It is grounded on the teacher's
// provider/nntp manager shape - a managed resource guarded by a
// retry/failover loop - generalized from per-article provider failover
// to whole-connection recovery, per spec §4.3.2 and §5.
//
// These helpers are used under the discipline named by spec §9: the
// vectorizer's delivery goroutine never publishes or acks directly, and
// only the single owner goroutine that drains its internal queue talks
// back to the channel. That rule is kept by the vectorizer's own code;
// nothing in this package enforces it.
package broker

import (
	"context"
	"errors"
	"net"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/frvec/pipeline/internal/domain"
	"github.com/frvec/pipeline/internal/logger"
)

// Config bundles the connection parameters shared by every component
// that talks to the broker.
type Config struct {
	URL        string
	RetryDelay time.Duration
}

// Connect dials the broker forever, with a fixed delay between
// attempts, per spec §5 Reconnection ("every broker connection is
// wrapped in a retry loop with fixed 5s delay"). It only returns when
// ctx is cancelled (nil, ctx.Err()) or a connection is established.
func Connect(ctx context.Context, cfg Config, log *logger.Logger) (*amqp.Connection, error) {
	amqpCfg := amqp.Config{
		Heartbeat: 600 * time.Second,
		Locale:    "en_US",
	}

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		conn, err := amqp.DialConfig(cfg.URL, amqpCfg)
		if err == nil {
			return conn, nil
		}

		log.Warn("broker connect failed: %v (retrying in %s)", err, cfg.RetryDelay)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(cfg.RetryDelay):
		}
	}
}

// DialFastFail dials the broker with a bounded number of attempts,
// returning domain.BrokerUnreachable if none succeed, for callers that
// want a clear startup error instead of retrying forever. No command in
// this repository calls it; the Seeder dials through NewPublisher.
func DialFastFail(cfg Config, attempts int, delay time.Duration) (*amqp.Connection, error) {
	var lastErr error
	for i := 0; i < attempts; i++ {
		conn, err := amqp.Dial(cfg.URL)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		time.Sleep(delay)
	}
	return nil, &domain.BrokerUnreachable{Addr: cfg.URL, Err: lastErr}
}

// DeclareDurableQueue declares name as a durable, non-exclusive,
// non-auto-deleted queue, matching the "downloads"/"vectorize"/"index"
// queues of spec §6.
func DeclareDurableQueue(ch *amqp.Channel, name string) error {
	_, err := ch.QueueDeclare(name, true, false, false, false, nil)
	return err
}

// Persistent wraps a JSON body as a persistent, application/json
// publishing, matching delivery_mode=persistent, content_type=
// application/json from spec §6.
func Persistent(body []byte) amqp.Publishing {
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	}
}

// IsTransient classifies an error as the mid-operation disconnect class
// named in spec §5 ("IndexError: pop from empty deque", AMQPError,
// StreamLostError, AssertionError, ConnectionError in the source
// system's vocabulary): a broken channel/connection that should trigger
// Recovering rather than a permanent failure.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var amqpErr *amqp.Error
	if errors.As(err, &amqpErr) {
		return true
	}
	if errors.Is(err, amqp.ErrClosed) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return false
}

// Backoff returns the exponential-ish backoff delay for retry attempt
// n (0-based), clamped between base and max, matching spec §4.3's
// "pause 0.5-2s, exponential, max 5 tries".
func Backoff(n int, base, max time.Duration) time.Duration {
	d := base
	for i := 0; i < n; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	return d
}
