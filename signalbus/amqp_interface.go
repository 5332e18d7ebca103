package signalbus

import (
	"github.com/streadway/amqp"
)

// AMQPConnection abstracts a RabbitMQ connection down to the single
// capability Publisher needs: opening a channel. This mirrors the teacher's
// queue package's connection seam, narrowed because this package is a
// publish-only signal mirror, not a consumer.
type AMQPConnection interface {
	// Channel opens a channel on the connection.
	Channel() (AMQPChannel, error)

	// Close closes the connection.
	Close() error
}

// AMQPChannel abstracts the subset of RabbitMQ channel operations Publisher
// drives: declaring the queue it publishes onto and publishing messages to
// it. There is no Consume/QueueInspect here — this package never reads off
// the bus, only mirrors events onto it.
type AMQPChannel interface {
	// QueueDeclare declares the queue signals are published to.
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)

	// Publish publishes a message to the specified exchange.
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error

	// Close closes the channel.
	Close() error
}

// AMQPDialer dials an AMQP connection, letting tests substitute a mock
// without a live broker.
type AMQPDialer interface {
	// Dial connects to the AMQP server.
	Dial(url string) (AMQPConnection, error)
}

// RealAMQPConnection wraps a real amqp.Connection to implement AMQPConnection.
type RealAMQPConnection struct {
	conn *amqp.Connection
}

// Channel opens a channel on the real connection.
func (r *RealAMQPConnection) Channel() (AMQPChannel, error) {
	ch, err := r.conn.Channel()
	if err != nil {
		return nil, err
	}
	return &RealAMQPChannel{ch: ch}, nil
}

// Close closes the real connection.
func (r *RealAMQPConnection) Close() error {
	return r.conn.Close()
}

// RealAMQPChannel wraps a real amqp.Channel to implement AMQPChannel.
type RealAMQPChannel struct {
	ch *amqp.Channel
}

// QueueDeclare declares a queue on the real channel.
func (r *RealAMQPChannel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	return r.ch.QueueDeclare(name, durable, autoDelete, exclusive, noWait, args)
}

// Publish publishes a message on the real channel.
func (r *RealAMQPChannel) Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	return r.ch.Publish(exchange, key, mandatory, immediate, msg)
}

// Close closes the real channel.
func (r *RealAMQPChannel) Close() error {
	return r.ch.Close()
}

// RealAMQPDialer implements AMQPDialer using the real AMQP library.
type RealAMQPDialer struct{}

// Dial connects to the AMQP server using the real library.
func (r *RealAMQPDialer) Dial(url string) (AMQPConnection, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	return &RealAMQPConnection{conn: conn}, nil
}
