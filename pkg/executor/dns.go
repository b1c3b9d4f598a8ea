package executor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/miekg/dns"
)

// DNSExecutor uses miekg/dns rather than net.Resolver so record-type,
// RTT, and authority-section assertions are possible, per §4.2.
type DNSExecutor struct{}

func recordType(name string) uint16 {
	switch strings.ToUpper(name) {
	case "A":
		return dns.TypeA
	case "AAAA":
		return dns.TypeAAAA
	case "MX":
		return dns.TypeMX
	case "TXT":
		return dns.TypeTXT
	case "NS":
		return dns.TypeNS
	case "CNAME":
		return dns.TypeCNAME
	case "SOA":
		return dns.TypeSOA
	default:
		return dns.TypeA
	}
}

func (e *DNSExecutor) Execute(ctx context.Context, job Job) (CheckResult, *ControlError) {
	server := configString(job.Config, "server")
	if server == "" {
		server = "8.8.8.8:53"
	} else if !strings.Contains(server, ":") {
		server += ":53"
	}
	qtype := recordType(configString(job.Config, "recordType"))

	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(job.Target), qtype)
	msg.RecursionDesired = true

	client := &dns.Client{Timeout: time.Duration(job.TimeoutMs) * time.Millisecond}
	start := time.Now()
	resp, rtt, err := client.ExchangeContext(ctx, msg, server)
	if err != nil {
		return CheckResult{
			Status:       StatusDown,
			ResponseTime: time.Since(start),
			ErrorCode:    "dns_query_failed",
			ErrorMessage: err.Error(),
			CheckedAt:    time.Now(),
		}, nil
	}
	if resp.Rcode != dns.RcodeSuccess {
		return CheckResult{
			Status:       StatusDown,
			ResponseTime: rtt,
			ErrorCode:    "dns_error_response",
			ErrorMessage: fmt.Sprintf("rcode %s", dns.RcodeToString[resp.Rcode]),
			CheckedAt:    time.Now(),
		}, nil
	}
	if len(resp.Answer) == 0 {
		return CheckResult{
			Status:       StatusDown,
			ResponseTime: rtt,
			ErrorCode:    "no_answer",
			ErrorMessage: "no answer records returned",
			CheckedAt:    time.Now(),
		}, nil
	}

	answers := make([]string, 0, len(resp.Answer))
	for _, rr := range resp.Answer {
		answers = append(answers, rr.String())
	}
	body := strings.Join(answers, "\n")
	if msg := evalBodyAssertions(body, job.Assertions); msg != "" {
		return CheckResult{
			Status:       StatusDown,
			ResponseTime: rtt,
			ErrorCode:    "assertion_failed",
			ErrorMessage: msg,
			Metadata:     map[string]interface{}{"answers": answers},
			CheckedAt:    time.Now(),
		}, nil
	}

	return CheckResult{
		Status:       StatusUp,
		ResponseTime: rtt,
		Metadata:     map[string]interface{}{"answers": answers, "authoritative": resp.Authoritative},
		CheckedAt:    time.Now(),
	}, nil
}

// EmailAuthExecutor scores SPF/DKIM/DMARC TXT records for a domain per
// spec.md §4.2.
type EmailAuthExecutor struct{}

func (e *EmailAuthExecutor) Execute(ctx context.Context, job Job) (CheckResult, *ControlError) {
	client := &dns.Client{Timeout: time.Duration(job.TimeoutMs) * time.Millisecond}
	lookupTXT := func(name string) ([]string, error) {
		msg := new(dns.Msg)
		msg.SetQuestion(dns.Fqdn(name), dns.TypeTXT)
		resp, _, err := client.ExchangeContext(ctx, msg, "8.8.8.8:53")
		if err != nil {
			return nil, err
		}
		var out []string
		for _, rr := range resp.Answer {
			if txt, ok := rr.(*dns.TXT); ok {
				out = append(out, strings.Join(txt.Txt, ""))
			}
		}
		return out, nil
	}

	start := time.Now()
	spf, _ := lookupTXT(job.Target)
	dmarc, _ := lookupTXT("_dmarc." + job.Target)
	dkimSelector := configString(job.Config, "dkimSelector")
	var dkim []string
	if dkimSelector != "" {
		dkim, _ = lookupTXT(dkimSelector + "._domainkey." + job.Target)
	}

	hasSPF := containsPrefix(spf, "v=spf1")
	hasDMARC := containsPrefix(dmarc, "v=DMARC1")
	hasDKIM := dkimSelector == "" || len(dkim) > 0

	score := 0
	if hasSPF {
		score++
	}
	if hasDMARC {
		score++
	}
	if hasDKIM {
		score++
	}

	metadata := map[string]interface{}{
		"spf":   spf,
		"dmarc": dmarc,
		"dkim":  dkim,
		"score": score,
	}

	if !hasSPF || !hasDMARC {
		return CheckResult{
			Status:       StatusDown,
			ResponseTime: time.Since(start),
			ErrorCode:    "email_auth_incomplete",
			ErrorMessage: "missing required SPF or DMARC record",
			Metadata:     metadata,
			CheckedAt:    time.Now(),
		}, nil
	}
	return CheckResult{Status: StatusUp, ResponseTime: time.Since(start), Metadata: metadata, CheckedAt: time.Now()}, nil
}

func containsPrefix(records []string, prefix string) bool {
	for _, r := range records {
		if strings.HasPrefix(r, prefix) {
			return true
		}
	}
	return false
}
