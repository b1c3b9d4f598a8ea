// Package executor implements the Probe Executors component (spec.md
// §4.2): one file per protocol family, all satisfying the Executor
// interface, generalizing the teacher's pkg/probe.ProbeMonitor's
// executeHTTPProbe/executeTCPProbe/executeICMPProbe trio — which switched
// on probe.Type inside one fat executeProbe method — into a small
// registry of independent, per-protocol types.
//
// Protocol/network failures are data: they become a CheckResult with a
// status and errorCode. Only a non-nil *ControlError (decrypt failure,
// executor panic recovered, misconfiguration) fails the job for broker
// retry, per Design Note §9's exceptions-for-control-flow rework.
package executor

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"
)

// Job is the unit of work a queued check-dispatch hands to an Executor.
type Job struct {
	MonitorID   string
	Type        string
	Target      string
	Region      string
	TimeoutMs   int
	Config      map[string]interface{} // decrypted by pkg/credentials before this point
	Assertions  []Assertion
}

// Assertion is one of a monitor's content/value checks (contains,
// notContains, regex, jsonPath, header, etc).
type Assertion struct {
	Kind     string `json:"kind"`
	Target   string `json:"target,omitempty"` // header name, jsonPath, etc
	Expected string `json:"expected"`
}

// CheckStatus mirrors pkg/database.CheckStatus* without importing the
// database package, keeping executor free of persistence concerns.
type CheckStatus string

const (
	StatusUp       CheckStatus = "up"
	StatusDown     CheckStatus = "down"
	StatusDegraded CheckStatus = "degraded"
	StatusTimeout  CheckStatus = "timeout"
	StatusError    CheckStatus = "error"
)

// CheckResult is what every executor produces, regardless of protocol.
type CheckResult struct {
	Status       CheckStatus
	ResponseTime time.Duration
	ErrorCode    string
	ErrorMessage string
	Metadata     map[string]interface{}
	CheckedAt    time.Time
}

// ControlError signals a job-level failure distinct from a check-level
// one: the broker should retry the job itself, not merely record a
// failed check. Examples: credential decrypt failure, executor panic,
// misconfigured monitor (unknown type for its own executor).
type ControlError struct {
	Reason string
	Err    error
}

func (e *ControlError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("executor control error: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("executor control error: %s", e.Reason)
}

func (e *ControlError) Unwrap() error { return e.Err }

// Executor runs a single check against a job's target.
type Executor interface {
	Execute(ctx context.Context, job Job) (CheckResult, *ControlError)
}

// Registry maps a monitor type to its Executor, replacing dynamic
// dispatch/reflection with the explicit capability-registration pattern
// Design Note §9 recommends.
type Registry struct {
	byType map[string]Executor
}

// NewRegistry builds the registry with every protocol wired in.
func NewRegistry() *Registry {
	r := &Registry{byType: make(map[string]Executor)}
	http := &HTTPExecutor{}
	r.Register("http", http)
	r.Register("websocket", &WebSocketExecutor{})
	r.Register("dns", &DNSExecutor{})
	r.Register("ssl", &TLSExecutor{})
	r.Register("tcp", &TCPExecutor{})
	r.Register("icmp", &ICMPExecutor{})
	r.Register("grpc", &GRPCExecutor{})
	r.Register("smtp", &SMTPExecutor{})
	r.Register("imap", &IMAPExecutor{})
	r.Register("pop3", &POP3Executor{})
	r.Register("ssh", &SSHExecutor{})
	r.Register("ldap", &LDAPExecutor{})
	r.Register("rdp", &RDPExecutor{})
	r.Register("mqtt", &MQTTExecutor{})
	r.Register("amqp", &AMQPExecutor{})
	r.Register("postgres", &PostgresExecutor{})
	r.Register("mysql", &MySQLExecutor{})
	r.Register("mongodb", &MongoExecutor{})
	r.Register("redis", &RedisExecutor{})
	r.Register("elasticsearch", &ElasticsearchExecutor{})
	r.Register("traceroute", &TracerouteExecutor{})
	r.Register("email_auth", &EmailAuthExecutor{})
	r.Register("prometheus_blackbox", &PromBlackboxExecutor{})
	r.Register("heartbeat", &PassiveExecutor{})
	r.Register("aggregate", &PassiveExecutor{})
	r.Register("prometheus_remote_write", &PassiveExecutor{})
	return r
}

// Register adds/overrides the executor for a monitor type.
func (r *Registry) Register(monitorType string, ex Executor) {
	r.byType[monitorType] = ex
}

// For returns the executor bound to a monitor type, or a ControlError if
// none is registered — a misconfigured monitor type is a job-level
// failure, not a check-level one.
func (r *Registry) For(monitorType string) (Executor, *ControlError) {
	ex, ok := r.byType[monitorType]
	if !ok {
		return nil, &ControlError{Reason: fmt.Sprintf("no executor registered for monitor type %q", monitorType)}
	}
	return ex, nil
}

// Run wraps any Executor.Execute with the timeout-plus-resolved-latch
// contract every protocol must honor (§4.2, §5): a context.WithTimeout
// deadline and an atomic.Bool "resolved" latch so a late network event
// arriving after the deadline cannot double-write the result.
func Run(ctx context.Context, ex Executor, job Job) (CheckResult, *ControlError) {
	timeout := time.Duration(job.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var resolved atomic.Bool
	resultCh := make(chan CheckResult, 1)
	errCh := make(chan *ControlError, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				if resolved.CompareAndSwap(false, true) {
					errCh <- &ControlError{Reason: "executor panic", Err: fmt.Errorf("%v", r)}
				}
			}
		}()
		result, cerr := ex.Execute(runCtx, job)
		if resolved.CompareAndSwap(false, true) {
			if cerr != nil {
				errCh <- cerr
				return
			}
			resultCh <- result
		}
	}()

	select {
	case <-runCtx.Done():
		if resolved.CompareAndSwap(false, true) {
			return CheckResult{
				Status:       StatusTimeout,
				ErrorCode:    "timeout",
				ErrorMessage: fmt.Sprintf("check exceeded %s timeout", timeout),
				CheckedAt:    time.Now(),
			}, nil
		}
		// Another goroutine already resolved first; wait for its value.
		select {
		case result := <-resultCh:
			return result, nil
		case cerr := <-errCh:
			return CheckResult{}, cerr
		}
	case result := <-resultCh:
		return result, nil
	case cerr := <-errCh:
		return CheckResult{}, cerr
	}
}
