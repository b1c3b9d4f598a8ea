package executor

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"
)

// TLSExecutor dials with InsecureSkipVerify, mirroring the teacher's
// executeHTTPProbe posture, and inspects only the leaf certificate: it
// reports days-to-expiry, issuer and subject. The chain is not verified
// and the issuer is not graded. When checkCTLog is set it records how many
// crt.sh Certificate Transparency entries exist for the host
// (ctLogEntries); the entries are not compared with earlier checks or with
// the observed certificate.
type TLSExecutor struct{}

func (e *TLSExecutor) Execute(ctx context.Context, job Job) (CheckResult, *ControlError) {
	start := time.Now()
	dialer := &tls.Dialer{
		Config: &tls.Config{InsecureSkipVerify: true},
	}
	conn, err := dialer.DialContext(ctx, "tcp", job.Target)
	if err != nil {
		return CheckResult{
			Status:       StatusDown,
			ResponseTime: time.Since(start),
			ErrorCode:    "tls_dial_failed",
			ErrorMessage: err.Error(),
			CheckedAt:    time.Now(),
		}, nil
	}
	defer conn.Close()

	tlsConn, ok := conn.(*tls.Conn)
	if !ok {
		return CheckResult{}, &ControlError{Reason: "tls dial did not return a tls.Conn"}
	}
	state := tlsConn.ConnectionState()
	if len(state.PeerCertificates) == 0 {
		return CheckResult{
			Status:       StatusDown,
			ResponseTime: time.Since(start),
			ErrorCode:    "no_certificate",
			ErrorMessage: "server presented no certificate",
			CheckedAt:    time.Now(),
		}, nil
	}
	leaf := state.PeerCertificates[0]
	daysLeft := int(time.Until(leaf.NotAfter).Hours() / 24)

	metadata := map[string]interface{}{
		"issuer":       leaf.Issuer.String(),
		"subject":      leaf.Subject.String(),
		"notAfter":     leaf.NotAfter,
		"daysToExpiry": daysLeft,
		"version":      state.Version,
	}

	warnDays := configInt(job.Config, "expiryWarningDays", 14)
	if daysLeft < 0 {
		return CheckResult{
			Status:       StatusDown,
			ResponseTime: time.Since(start),
			ErrorCode:    "certificate_expired",
			ErrorMessage: fmt.Sprintf("certificate expired %d days ago", -daysLeft),
			Metadata:     metadata,
			CheckedAt:    time.Now(),
		}, nil
	}
	if daysLeft <= warnDays {
		return CheckResult{
			Status:       StatusDegraded,
			ResponseTime: time.Since(start),
			ErrorCode:    "certificate_expiring_soon",
			ErrorMessage: fmt.Sprintf("certificate expires in %d days", daysLeft),
			Metadata:     metadata,
			CheckedAt:    time.Now(),
		}, nil
	}

	if configBool(job.Config, "checkCTLog") {
		if entries, err := lookupCTLog(ctx, hostOnly(job.Target)); err == nil {
			metadata["ctLogEntries"] = len(entries)
		}
	}

	return CheckResult{Status: StatusUp, ResponseTime: time.Since(start), Metadata: metadata, CheckedAt: time.Now()}, nil
}

func hostOnly(target string) string {
	host, _, err := net.SplitHostPort(target)
	if err != nil {
		return target
	}
	return host
}

// lookupCTLog fetches the entries crt.sh's public Certificate
// Transparency log holds for host, via a net/http GET. It returns them
// as decoded; it does no diffing.
func lookupCTLog(ctx context.Context, host string) ([]map[string]interface{}, error) {
	url := fmt.Sprintf("https://crt.sh/?q=%s&output=json", host)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var entries []map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, err
	}
	return entries, nil
}
