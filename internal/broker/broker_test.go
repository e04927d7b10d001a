package broker

import (
	"errors"
	"net"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
)

func TestBackoff_DoublesUntilClamped(t *testing.T) {
	base := 500 * time.Millisecond
	max := 2 * time.Second

	assert.Equal(t, base, Backoff(0, base, max))
	assert.Equal(t, 2*base, Backoff(1, base, max))
	assert.Equal(t, 2*time.Second, Backoff(2, base, max))
	assert.Equal(t, max, Backoff(10, base, max))
}

func TestIsTransient(t *testing.T) {
	assert.False(t, IsTransient(nil))
	assert.True(t, IsTransient(&amqp.Error{Code: 320, Reason: "CONNECTION_FORCED"}))
	assert.True(t, IsTransient(amqp.ErrClosed))
	assert.True(t, IsTransient(&net.OpError{Op: "read", Err: errors.New("connection reset")}))
	assert.False(t, IsTransient(errors.New("unrelated application error")))
}

func TestPersistent_SetsDeliveryModeAndContentType(t *testing.T) {
	pub := Persistent([]byte(`{"url":"https://example.com"}`))
	assert.Equal(t, amqp.Persistent, pub.DeliveryMode)
	assert.Equal(t, "application/json", pub.ContentType)
	assert.Equal(t, []byte(`{"url":"https://example.com"}`), pub.Body)
}
