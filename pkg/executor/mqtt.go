package executor

import (
	"context"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTTExecutor connects and disconnects against a broker, grounded on
// Will-Luck-Docker-Sentinel's use of eclipse/paho.mqtt.golang.
type MQTTExecutor struct{}

func (e *MQTTExecutor) Execute(ctx context.Context, job Job) (CheckResult, *ControlError) {
	start := time.Now()
	opts := mqtt.NewClientOptions().
		AddBroker(job.Target).
		SetClientID(fmt.Sprintf("nightwatch-probe-%s", job.MonitorID)).
		SetConnectTimeout(time.Duration(job.TimeoutMs) * time.Millisecond).
		SetAutoReconnect(false)

	if user := configString(job.Config, "username"); user != "" {
		opts.SetUsername(user)
		opts.SetPassword(configString(job.Config, "password"))
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	done := make(chan struct{})
	go func() { token.Wait(); close(done) }()

	select {
	case <-ctx.Done():
		client.Disconnect(0)
		return CheckResult{
			Status:       StatusTimeout,
			ResponseTime: time.Since(start),
			ErrorCode:    "connect_timeout",
			CheckedAt:    time.Now(),
		}, nil
	case <-done:
	}

	if err := token.Error(); err != nil {
		return CheckResult{
			Status:       StatusDown,
			ResponseTime: time.Since(start),
			ErrorCode:    "mqtt_connect_failed",
			ErrorMessage: err.Error(),
			CheckedAt:    time.Now(),
		}, nil
	}
	defer client.Disconnect(250)

	if topic := configString(job.Config, "pingTopic"); topic != "" {
		pubToken := client.Publish(topic, 0, false, "nightwatch-ping")
		pubToken.Wait()
		if err := pubToken.Error(); err != nil {
			return CheckResult{
				Status:       StatusDegraded,
				ResponseTime: time.Since(start),
				ErrorCode:    "mqtt_publish_failed",
				ErrorMessage: err.Error(),
				CheckedAt:    time.Now(),
			}, nil
		}
	}

	return CheckResult{Status: StatusUp, ResponseTime: time.Since(start), CheckedAt: time.Now()}, nil
}
