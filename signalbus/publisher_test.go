package signalbus

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flowengine.evalgo.org/event"
)

func TestNewPublisher_DeclaresQueueAndPublishes(t *testing.T) {
	dialer, channel, _ := SetupMockDialerForTest()

	pub, err := NewPublisher(dialer, "amqp://localhost", "flow-signals", nil)
	require.NoError(t, err)
	defer pub.Close()

	assert.True(t, dialer.DialCalled)
	assert.True(t, channel.QueueDeclareCalled)
	assert.Equal(t, "flow-signals", channel.LastQueueName)

	pub.PublishStepSignal(context.Background(), "flow-1", event.StepSignal{
		StepIndex: 0,
		StepID:    "seed",
		Signal:    "progress",
		Data:      map[string]any{"pct": 50},
	})

	require.Len(t, channel.PublishedMessages, 1)
	assert.Equal(t, "step_signal", channel.LastKey)

	var env signalEnvelope
	require.NoError(t, json.Unmarshal(channel.PublishedMessages[0].Body, &env))
	assert.Equal(t, "flow-1", env.FlowID)
	assert.Equal(t, "step_signal", env.Kind)
}

func TestNewPublisher_PublishUserInteractionRequested(t *testing.T) {
	dialer, channel, _ := SetupMockDialerForTest()

	pub, err := NewPublisher(dialer, "amqp://localhost", "flow-signals", nil)
	require.NoError(t, err)
	defer pub.Close()

	pub.PublishUserInteractionRequested(context.Background(), "flow-2", event.UserInteractionRequested{
		StepID:        "approve",
		Schema:        map[string]any{"type": "approval"},
		CorrelationID: "corr-1",
	})

	require.Len(t, channel.PublishedMessages, 1)
	assert.Equal(t, "user_interaction_requested", channel.LastKey)
}

func TestNewPublisher_PublishErrorIsSwallowed(t *testing.T) {
	dialer, channel, _ := SetupMockDialerForTest()
	channel.PublishErr = assert.AnError

	pub, err := NewPublisher(dialer, "amqp://localhost", "flow-signals", nil)
	require.NoError(t, err)
	defer pub.Close()

	assert.NotPanics(t, func() {
		pub.PublishStepSignal(context.Background(), "flow-3", event.StepSignal{StepID: "seed", Signal: "progress"})
	})
	assert.Empty(t, channel.PublishedMessages, "a failed publish must not be recorded as sent, but also must not panic or propagate")
}

func TestNewPublisher_DialErrorPropagates(t *testing.T) {
	dialer := NewMockAMQPDialerWithError(assert.AnError)

	_, err := NewPublisher(dialer, "amqp://localhost", "flow-signals", nil)
	assert.Error(t, err)
}

func TestNewPublisher_QueueDeclareErrorPropagates(t *testing.T) {
	dialer, _ := SetupMockDialerWithQueueError()

	_, err := NewPublisher(dialer, "amqp://localhost", "flow-signals", nil)
	assert.Error(t, err)
}

func TestPublisher_Close(t *testing.T) {
	dialer, _, conn := SetupMockDialerForTest()

	pub, err := NewPublisher(dialer, "amqp://localhost", "flow-signals", nil)
	require.NoError(t, err)

	require.NoError(t, pub.Close())
	assert.True(t, conn.CloseCalled)
}
