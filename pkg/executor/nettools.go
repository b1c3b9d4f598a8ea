package executor

import (
	"context"
	"fmt"
	"net"
	"os/exec"
	"strings"
	"time"

	probing "github.com/prometheus-community/pro-bing"
	"github.com/gorilla/websocket"
)

// TCPExecutor generalizes the teacher's executeTCPProbe: a bare
// net.Dialer.DialContext connectivity check bounded by the job context.
type TCPExecutor struct{}

func (e *TCPExecutor) Execute(ctx context.Context, job Job) (CheckResult, *ControlError) {
	start := time.Now()
	d := net.Dialer{}
	conn, err := d.DialContext(ctx, "tcp", job.Target)
	if err != nil {
		return CheckResult{
			Status:       StatusDown,
			ResponseTime: time.Since(start),
			ErrorCode:    "connect_failed",
			ErrorMessage: err.Error(),
			CheckedAt:    time.Now(),
		}, nil
	}
	defer conn.Close()
	return CheckResult{Status: StatusUp, ResponseTime: time.Since(start), CheckedAt: time.Now()}, nil
}

// ICMPExecutor replaces the teacher's "TCP:80 as ICMP substitute"
// placeholder with a real unprivileged/raw ICMP pinger.
type ICMPExecutor struct{}

func (e *ICMPExecutor) Execute(ctx context.Context, job Job) (CheckResult, *ControlError) {
	pinger, err := probing.NewPinger(job.Target)
	if err != nil {
		return CheckResult{}, &ControlError{Reason: "invalid ping target", Err: err}
	}
	pinger.Count = configInt(job.Config, "count", 3)
	pinger.Timeout = time.Duration(job.TimeoutMs) * time.Millisecond
	pinger.SetPrivileged(configBool(job.Config, "privileged"))

	start := time.Now()
	if err := pinger.RunWithContext(ctx); err != nil {
		return CheckResult{
			Status:       StatusDown,
			ResponseTime: time.Since(start),
			ErrorCode:    "ping_failed",
			ErrorMessage: err.Error(),
			CheckedAt:    time.Now(),
		}, nil
	}
	stats := pinger.Statistics()
	if stats.PacketsRecv == 0 {
		return CheckResult{
			Status:       StatusDown,
			ResponseTime: time.Since(start),
			ErrorCode:    "no_reply",
			ErrorMessage: "no ICMP replies received",
			CheckedAt:    time.Now(),
		}, nil
	}
	return CheckResult{
		Status:       StatusUp,
		ResponseTime: stats.AvgRtt,
		Metadata: map[string]interface{}{
			"packetLoss": stats.PacketLoss,
			"minRttMs":   stats.MinRtt.Milliseconds(),
			"maxRttMs":   stats.MaxRtt.Milliseconds(),
		},
		CheckedAt: time.Now(),
	}, nil
}

// WebSocketExecutor dials and, when config.sendMessage is set, writes it
// as one text message; no reply is read.
type WebSocketExecutor struct{}

func (e *WebSocketExecutor) Execute(ctx context.Context, job Job) (CheckResult, *ControlError) {
	start := time.Now()
	dialer := websocket.Dialer{HandshakeTimeout: time.Duration(job.TimeoutMs) * time.Millisecond}
	conn, resp, err := dialer.DialContext(ctx, job.Target, nil)
	if err != nil {
		status := StatusDown
		code := "dial_failed"
		if resp != nil {
			code = fmt.Sprintf("handshake_status_%d", resp.StatusCode)
		}
		return CheckResult{
			Status:       status,
			ResponseTime: time.Since(start),
			ErrorCode:    code,
			ErrorMessage: err.Error(),
			CheckedAt:    time.Now(),
		}, nil
	}
	defer conn.Close()

	if payload := configString(job.Config, "sendMessage"); payload != "" {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(payload)); err != nil {
			return CheckResult{
				Status:       StatusDown,
				ResponseTime: time.Since(start),
				ErrorCode:    "write_failed",
				ErrorMessage: err.Error(),
				CheckedAt:    time.Now(),
			}, nil
		}
	}
	return CheckResult{Status: StatusUp, ResponseTime: time.Since(start), CheckedAt: time.Now()}, nil
}

// TracerouteExecutor shells out to the platform traceroute binary,
// matching spec.md's literal "invokes the platform traceroute tool".
type TracerouteExecutor struct{}

func (e *TracerouteExecutor) Execute(ctx context.Context, job Job) (CheckResult, *ControlError) {
	start := time.Now()
	maxHops := configInt(job.Config, "maxHops", 30)
	cmd := exec.CommandContext(ctx, "traceroute", "-m", fmt.Sprintf("%d", maxHops), job.Target)
	out, err := cmd.CombinedOutput()
	responseTime := time.Since(start)
	if err != nil {
		return CheckResult{
			Status:       StatusError,
			ResponseTime: responseTime,
			ErrorCode:    "traceroute_failed",
			ErrorMessage: err.Error(),
			Metadata:     map[string]interface{}{"output": string(out)},
			CheckedAt:    time.Now(),
		}, nil
	}
	hops := strings.Count(string(out), "\n")
	return CheckResult{
		Status:       StatusUp,
		ResponseTime: responseTime,
		Metadata:     map[string]interface{}{"hops": hops, "output": string(out)},
		CheckedAt:    time.Now(),
	}, nil
}
