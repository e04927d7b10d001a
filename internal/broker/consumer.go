package broker

import (
	amqp "github.com/rabbitmq/amqp091-go"
)

// Consumer wraps a channel bound to a single durable queue with
// manual ack and a configured prefetch, matching spec §6 ("Consumers
// use manual ack. Prefetch set per §5").
type Consumer struct {
	Conn    *amqp.Connection
	Channel *amqp.Channel
	Queue   string
}

// NewConsumer dials a fresh connection, declares the queue durable,
// sets prefetch, and registers a manual-ack consumer.
func NewConsumer(cfg Config, queue string, prefetch int) (*Consumer, <-chan amqp.Delivery, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, err
	}

	if err := DeclareDurableQueue(ch, queue); err != nil {
		ch.Close()
		conn.Close()
		return nil, nil, err
	}

	if err := ch.Qos(prefetch, 0, false); err != nil {
		ch.Close()
		conn.Close()
		return nil, nil, err
	}

	deliveries, err := ch.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, nil, err
	}

	return &Consumer{Conn: conn, Channel: ch, Queue: queue}, deliveries, nil
}

// Close releases the channel and connection.
func (c *Consumer) Close() {
	if c.Channel != nil {
		c.Channel.Close()
	}
	if c.Conn != nil {
		c.Conn.Close()
	}
}
