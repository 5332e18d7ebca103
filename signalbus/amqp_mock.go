package signalbus

import (
	"fmt"

	"github.com/streadway/amqp"
)

// MockAMQPConnection is a mock AMQPConnection for testing Publisher without
// a live broker.
type MockAMQPConnection struct {
	// MockChannel is the channel to return from Channel().
	MockChannel AMQPChannel
	// Errors to return from operations.
	ChannelErr error
	CloseErr   error
	// Track function calls.
	ChannelCalled bool
	CloseCalled   bool
}

// Channel returns the mock channel.
func (m *MockAMQPConnection) Channel() (AMQPChannel, error) {
	m.ChannelCalled = true
	if m.ChannelErr != nil {
		return nil, m.ChannelErr
	}
	return m.MockChannel, nil
}

// Close mocks closing the connection.
func (m *MockAMQPConnection) Close() error {
	m.CloseCalled = true
	return m.CloseErr
}

// MockAMQPChannel is a mock AMQPChannel recording every queue declaration
// and publish Publisher makes against it.
type MockAMQPChannel struct {
	// PublishedMessages stores all published messages for verification.
	PublishedMessages []amqp.Publishing
	// PublishedKeys stores routing keys for published messages.
	PublishedKeys []string
	// Errors to return from operations.
	QueueDeclareErr error
	PublishErr      error
	CloseErr        error
	// Track function calls.
	QueueDeclareCalled bool
	PublishCalled      bool
	CloseCalled        bool
	// Store last call parameters.
	LastQueueName string
	LastExchange  string
	LastKey       string
}

// QueueDeclare mocks declaring a queue.
func (m *MockAMQPChannel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	m.QueueDeclareCalled = true
	m.LastQueueName = name
	if m.QueueDeclareErr != nil {
		return amqp.Queue{}, m.QueueDeclareErr
	}
	return amqp.Queue{Name: name}, nil
}

// Publish mocks publishing a message.
func (m *MockAMQPChannel) Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	m.PublishCalled = true
	m.LastExchange = exchange
	m.LastKey = key
	if m.PublishErr != nil {
		return m.PublishErr
	}
	m.PublishedMessages = append(m.PublishedMessages, msg)
	m.PublishedKeys = append(m.PublishedKeys, key)
	return nil
}

// Close mocks closing the channel.
func (m *MockAMQPChannel) Close() error {
	m.CloseCalled = true
	return m.CloseErr
}

// MockAMQPDialer is a mock AMQPDialer for testing Publisher without a live
// broker.
type MockAMQPDialer struct {
	// MockConnection is the connection to return from Dial().
	MockConnection AMQPConnection
	// DialErr is returned from Dial when set.
	DialErr error
	// Track function calls.
	DialCalled bool
	// Store last call parameters.
	LastURL string
}

// Dial mocks dialing an AMQP connection.
func (m *MockAMQPDialer) Dial(url string) (AMQPConnection, error) {
	m.DialCalled = true
	m.LastURL = url
	if m.DialErr != nil {
		return nil, m.DialErr
	}
	return m.MockConnection, nil
}

// NewMockAMQPDialerWithError creates a mock dialer that fails on Dial.
func NewMockAMQPDialerWithError(err error) *MockAMQPDialer {
	return &MockAMQPDialer{DialErr: err}
}

// SetupMockDialerForTest creates a fully wired mock dialer/connection/channel
// triple ready for NewPublisher.
func SetupMockDialerForTest() (*MockAMQPDialer, *MockAMQPChannel, *MockAMQPConnection) {
	mockChannel := &MockAMQPChannel{
		PublishedMessages: make([]amqp.Publishing, 0),
		PublishedKeys:     make([]string, 0),
	}
	mockConn := &MockAMQPConnection{MockChannel: mockChannel}
	mockDialer := &MockAMQPDialer{MockConnection: mockConn}
	return mockDialer, mockChannel, mockConn
}

// SetupMockDialerWithQueueError creates a mock dialer whose channel fails on
// QueueDeclare, exercising NewPublisher's declare-error path.
func SetupMockDialerWithQueueError() (*MockAMQPDialer, *MockAMQPChannel) {
	mockChannel := &MockAMQPChannel{
		QueueDeclareErr: fmt.Errorf("failed to declare queue"),
	}
	mockConn := &MockAMQPConnection{MockChannel: mockChannel}
	mockDialer := &MockAMQPDialer{MockConnection: mockConn}
	return mockDialer, mockChannel
}
