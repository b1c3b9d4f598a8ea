package executor

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"
)

// SMTPExecutor dials and runs the net/smtp greeting handshake, plus
// STARTTLS when config.useStartTLS is set. No message is sent.
type SMTPExecutor struct{}

func (e *SMTPExecutor) Execute(ctx context.Context, job Job) (CheckResult, *ControlError) {
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

	host := hostOnly(job.Target)
	client, err := smtp.NewClient(conn, host)
	if err != nil {
		return CheckResult{
			Status:       StatusDown,
			ResponseTime: time.Since(start),
			ErrorCode:    "smtp_handshake_failed",
			ErrorMessage: err.Error(),
			CheckedAt:    time.Now(),
		}, nil
	}
	defer client.Close()

	if configBool(job.Config, "useStartTLS") {
		if err := client.StartTLS(&tls.Config{ServerName: host}); err != nil {
			return CheckResult{
				Status:       StatusDegraded,
				ResponseTime: time.Since(start),
				ErrorCode:    "starttls_failed",
				ErrorMessage: err.Error(),
				CheckedAt:    time.Now(),
			}, nil
		}
	}

	return CheckResult{Status: StatusUp, ResponseTime: time.Since(start), CheckedAt: time.Now()}, nil
}

// IMAPExecutor implements a minimal hand-rolled greeting probe over
// net/crypto/tls: no mature, actively maintained pure-Go IMAP client
// exists in the retrieved pack, so we validate only the server's
// untagged greeting line. No CAPABILITY command is sent.
type IMAPExecutor struct{}

func (e *IMAPExecutor) Execute(ctx context.Context, job Job) (CheckResult, *ControlError) {
	return bannerProbe(ctx, job, "* OK")
}

// POP3Executor is the same greeting-banner probe shape for POP3.
type POP3Executor struct{}

func (e *POP3Executor) Execute(ctx context.Context, job Job) (CheckResult, *ControlError) {
	return bannerProbe(ctx, job, "+OK")
}

// bannerProbe connects (optionally over TLS) and asserts the server's
// first line starts with expectedPrefix, the shared shape for
// IMAP/POP3 connectivity probes.
func bannerProbe(ctx context.Context, job Job, expectedPrefix string) (CheckResult, *ControlError) {
	start := time.Now()
	d := net.Dialer{}
	var conn net.Conn
	var err error
	if configBool(job.Config, "useTLS") {
		tlsDialer := tls.Dialer{NetDialer: &d, Config: &tls.Config{ServerName: hostOnly(job.Target)}}
		conn, err = tlsDialer.DialContext(ctx, "tcp", job.Target)
	} else {
		conn, err = d.DialContext(ctx, "tcp", job.Target)
	}
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

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
	}
	reader := bufio.NewReader(conn)
	line, err := reader.ReadString('\n')
	if err != nil {
		return CheckResult{
			Status:       StatusDown,
			ResponseTime: time.Since(start),
			ErrorCode:    "banner_read_failed",
			ErrorMessage: err.Error(),
			CheckedAt:    time.Now(),
		}, nil
	}
	if expectedPrefix != "" && !strings.HasPrefix(strings.TrimSpace(line), expectedPrefix) {
		return CheckResult{
			Status:       StatusDown,
			ResponseTime: time.Since(start),
			ErrorCode:    "unexpected_banner",
			ErrorMessage: fmt.Sprintf("expected banner prefix %q, got %q", expectedPrefix, line),
			CheckedAt:    time.Now(),
		}, nil
	}
	return CheckResult{
		Status:       StatusUp,
		ResponseTime: time.Since(start),
		Metadata:     map[string]interface{}{"banner": strings.TrimSpace(line)},
		CheckedAt:    time.Now(),
	}, nil
}
