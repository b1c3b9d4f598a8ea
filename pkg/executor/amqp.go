package executor

import (
	"context"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQPExecutor dials and opens a channel against a broker, confirming
// both the connection and channel negotiation succeed. No AMQP client
// appears in the retrieved pack; amqp091-go is the canonical Go AMQP
// 0-9-1 client, an out-of-pack ecosystem-standard pick (see DESIGN.md).
type AMQPExecutor struct{}

func (e *AMQPExecutor) Execute(ctx context.Context, job Job) (CheckResult, *ControlError) {
	start := time.Now()
	dialCfg := amqp.Config{
		Dial: amqp.DefaultDial(time.Duration(job.TimeoutMs) * time.Millisecond),
	}
	conn, err := amqp.DialConfig(job.Target, dialCfg)
	if err != nil {
		return CheckResult{
			Status:       StatusDown,
			ResponseTime: time.Since(start),
			ErrorCode:    "amqp_dial_failed",
			ErrorMessage: err.Error(),
			CheckedAt:    time.Now(),
		}, nil
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return CheckResult{
			Status:       StatusDown,
			ResponseTime: time.Since(start),
			ErrorCode:    "amqp_channel_failed",
			ErrorMessage: err.Error(),
			CheckedAt:    time.Now(),
		}, nil
	}
	defer ch.Close()

	if queue := configString(job.Config, "inspectQueue"); queue != "" {
		if _, err := ch.QueueInspect(queue); err != nil {
			return CheckResult{
				Status:       StatusDegraded,
				ResponseTime: time.Since(start),
				ErrorCode:    "amqp_queue_inspect_failed",
				ErrorMessage: err.Error(),
				CheckedAt:    time.Now(),
			}, nil
		}
	}

	return CheckResult{Status: StatusUp, ResponseTime: time.Since(start), CheckedAt: time.Now()}, nil
}
