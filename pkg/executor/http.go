package executor

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"net/http/httptrace"
	"strings"
	"time"
)

// HTTPExecutor generalizes the teacher's executeHTTPProbe, adding
// per-phase timing via httptrace and assertion evaluation in place of
// the teacher's single expected-status-code check.
type HTTPExecutor struct{}

func (e *HTTPExecutor) Execute(ctx context.Context, job Job) (CheckResult, *ControlError) {
	method := configString(job.Config, "method")
	if method == "" {
		method = http.MethodGet
	}
	body := configString(job.Config, "body")

	var bodyReader io.Reader
	if body != "" {
		bodyReader = strings.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, job.Target, bodyReader)
	if err != nil {
		return CheckResult{}, &ControlError{Reason: "invalid http request", Err: err}
	}
	if headers, ok := job.Config["headers"].(map[string]interface{}); ok {
		for k, v := range headers {
			if s, ok := v.(string); ok {
				req.Header.Set(k, s)
			}
		}
	}

	var dnsStart, connectStart, tlsStart, firstByte time.Time
	var dnsDur, connectDur, tlsDur, ttfb time.Duration
	trace := &httptrace.ClientTrace{
		DNSStart:             func(httptrace.DNSStartInfo) { dnsStart = time.Now() },
		DNSDone:              func(httptrace.DNSDoneInfo) { dnsDur = time.Since(dnsStart) },
		ConnectStart:         func(string, string) { connectStart = time.Now() },
		ConnectDone:          func(string, string, error) { connectDur = time.Since(connectStart) },
		TLSHandshakeStart:    func() { tlsStart = time.Now() },
		TLSHandshakeDone:     func(tls.ConnectionState, error) { tlsDur = time.Since(tlsStart) },
		GotFirstResponseByte: func() { firstByte = time.Now() },
	}
	req = req.WithContext(httptrace.WithClientTrace(req.Context(), trace))

	allowInsecure := configBool(job.Config, "allowInsecureTLS")
	client := &http.Client{
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: allowInsecure},
		},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if configBool(job.Config, "followRedirects") {
				return nil
			}
			return http.ErrUseLastResponse
		},
	}

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return CheckResult{
			Status:       StatusDown,
			ResponseTime: time.Since(start),
			ErrorCode:    "request_failed",
			ErrorMessage: err.Error(),
			CheckedAt:    time.Now(),
		}, nil
	}
	defer resp.Body.Close()

	bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	responseTime := time.Since(start)
	if !firstByte.IsZero() {
		ttfb = firstByte.Sub(start)
	}

	metadata := map[string]interface{}{
		"statusCode":  resp.StatusCode,
		"dnsMs":       dnsDur.Milliseconds(),
		"connectMs":   connectDur.Milliseconds(),
		"tlsMs":       tlsDur.Milliseconds(),
		"ttfbMs":      ttfb.Milliseconds(),
		"bodyBytes":   len(bodyBytes),
	}

	expectedStatus := configInt(job.Config, "expectedStatus", 200)
	if resp.StatusCode != expectedStatus {
		return CheckResult{
			Status:       StatusDown,
			ResponseTime: responseTime,
			ErrorCode:    "unexpected_status",
			ErrorMessage: fmt.Sprintf("expected status %d, got %d", expectedStatus, resp.StatusCode),
			Metadata:     metadata,
			CheckedAt:    time.Now(),
		}, nil
	}

	if msg := evalBodyAssertions(string(bodyBytes), job.Assertions); msg != "" {
		return CheckResult{
			Status:       StatusDown,
			ResponseTime: responseTime,
			ErrorCode:    "assertion_failed",
			ErrorMessage: msg,
			Metadata:     metadata,
			CheckedAt:    time.Now(),
		}, nil
	}

	if degradeMs := configInt(job.Config, "degradedResponseMs", 0); degradeMs > 0 && responseTime.Milliseconds() > int64(degradeMs) {
		return CheckResult{
			Status:       StatusDegraded,
			ResponseTime: responseTime,
			Metadata:     metadata,
			CheckedAt:    time.Now(),
		}, nil
	}

	return CheckResult{
		Status:       StatusUp,
		ResponseTime: responseTime,
		Metadata:     metadata,
		CheckedAt:    time.Now(),
	}, nil
}
