package signalbus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/streadway/amqp"

	"flowengine.evalgo.org/common"
	"flowengine.evalgo.org/event"
)

// Publisher mirrors StepSignal and UserInteractionRequested events onto an
// AMQP exchange for external subscribers, such as a UI awaiting a human
// gate. Publishing is best-effort: a Publish failure is logged and
// swallowed rather than propagated, since the event log, not the bus, is
// the durable source of truth for flow state.
type Publisher struct {
	dialer   AMQPDialer
	conn     AMQPConnection
	channel  AMQPChannel
	exchange string
	logger   *common.ContextLogger
}

// NewPublisher dials url via dialer, opens a channel, and declares a durable
// queue named exchange. It does not declare an exchange: messages are
// published to the exchange of that same name, with the event kind as
// routing key.
func NewPublisher(dialer AMQPDialer, url, exchange string, logger *common.ContextLogger) (*Publisher, error) {
	conn, err := dialer.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("signalbus: dial: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("signalbus: open channel: %w", err)
	}

	if _, err := channel.QueueDeclare(exchange, true, false, false, false, nil); err != nil {
		_ = channel.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("signalbus: declare queue: %w", err)
	}

	if logger == nil {
		logger = common.NewContextLogger(nil, map[string]interface{}{"component": "signalbus"})
	}

	return &Publisher{
		dialer:   dialer,
		conn:     conn,
		channel:  channel,
		exchange: exchange,
		logger:   logger,
	}, nil
}

// Close releases the underlying AMQP channel and connection.
func (p *Publisher) Close() error {
	chErr := p.channel.Close()
	connErr := p.conn.Close()
	if chErr != nil {
		return chErr
	}
	return connErr
}

// PublishStepSignal mirrors a StepSignal event onto the bus. Errors are
// logged and swallowed.
func (p *Publisher) PublishStepSignal(ctx context.Context, flowID string, signal event.StepSignal) {
	p.publish(ctx, flowID, "step_signal", signal)
}

// PublishUserInteractionRequested mirrors a UserInteractionRequested event
// onto the bus so a UI can pick up the pending human gate. Errors are
// logged and swallowed.
func (p *Publisher) PublishUserInteractionRequested(ctx context.Context, flowID string, req event.UserInteractionRequested) {
	p.publish(ctx, flowID, "user_interaction_requested", req)
}

type signalEnvelope struct {
	FlowID string `json:"flow_id"`
	Kind   string `json:"kind"`
	Body   any    `json:"body"`
}

func (p *Publisher) publish(ctx context.Context, flowID, kind string, body any) {
	payload, err := json.Marshal(signalEnvelope{FlowID: flowID, Kind: kind, Body: body})
	if err != nil {
		p.logger.WithError(err).WithField("flow_id", flowID).Warn("signalbus: marshal signal, dropping")
		return
	}

	err = p.channel.Publish(p.exchange, kind, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        payload,
	})
	if err != nil {
		p.logger.WithError(err).WithFields(map[string]interface{}{
			"flow_id": flowID,
			"kind":    kind,
		}).Warn("signalbus: publish failed, dropping (event log remains authoritative)")
	}
}
