// Package capability implements the enterprise-hook registry Design
// Note §9 calls for: capability registration in place of dynamic import.
// An enterprise build registers its escalation scheduler, on-call
// resolver, SLO evaluator, and report scheduler here at startup; the
// open-core build never imports this package's hooks at all, so calling
// any registration function is the only way a capability becomes
// active — there is no reflection or plugin loading.
package capability

import (
	"context"
	"log/slog"
	"sync"
)

// EscalationScheduler decides whether and when an unacknowledged alert
// should escalate to a secondary on-call channel.
type EscalationScheduler interface {
	ScheduleEscalation(ctx context.Context, alertHistoryID string) error
}

// OncallResolver resolves which user/channel is currently on call for an
// organization.
type OncallResolver interface {
	ResolveOncall(ctx context.Context, orgID string) (string, error)
}

// SLOEvaluator evaluates a monitor's rolling error budget against a
// configured objective.
type SLOEvaluator interface {
	EvaluateSLO(ctx context.Context, monitorID string) error
}

// ReportScheduler generates and dispatches periodic uptime/SLA reports.
type ReportScheduler interface {
	ScheduleReport(ctx context.Context, orgID string) error
}

// Registry holds whichever optional enterprise hooks have been
// registered. A nil entry means the capability is unavailable; callers
// must treat that as "skip, log at info" (spec.md §7), never as an
// error.
type Registry struct {
	mu sync.RWMutex

	escalation EscalationScheduler
	oncall     OncallResolver
	slo        SLOEvaluator
	report     ReportScheduler

	log *slog.Logger
}

// New constructs an empty Registry — the open-core default.
func New(log *slog.Logger) *Registry {
	return &Registry{log: log}
}

// RegisterEscalationScheduler installs the enterprise escalation hook.
func (r *Registry) RegisterEscalationScheduler(s EscalationScheduler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.escalation = s
}

// RegisterOncallResolver installs the enterprise on-call resolution hook.
func (r *Registry) RegisterOncallResolver(o OncallResolver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.oncall = o
}

// RegisterSLOEvaluator installs the enterprise SLO evaluation hook.
func (r *Registry) RegisterSLOEvaluator(e SLOEvaluator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.slo = e
}

// RegisterReportScheduler installs the enterprise report scheduling hook.
func (r *Registry) RegisterReportScheduler(s ReportScheduler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.report = s
}

// TryEscalate invokes the escalation hook if one is registered, logging
// at info and returning nil otherwise — an absent enterprise capability
// is never an error (spec.md §7).
func (r *Registry) TryEscalate(ctx context.Context, alertHistoryID string) error {
	r.mu.RLock()
	hook := r.escalation
	r.mu.RUnlock()

	if hook == nil {
		r.log.Info("capability: no escalation scheduler registered, skipping", "alert_history_id", alertHistoryID)
		return nil
	}
	return hook.ScheduleEscalation(ctx, alertHistoryID)
}

// TryResolveOncall invokes the on-call resolution hook if registered.
func (r *Registry) TryResolveOncall(ctx context.Context, orgID string) (string, bool) {
	r.mu.RLock()
	hook := r.oncall
	r.mu.RUnlock()

	if hook == nil {
		r.log.Info("capability: no oncall resolver registered, skipping", "org_id", orgID)
		return "", false
	}
	channel, err := hook.ResolveOncall(ctx, orgID)
	if err != nil {
		r.log.Error("capability: oncall resolution failed", "org_id", orgID, "error", err)
		return "", false
	}
	return channel, true
}

// TryEvaluateSLO invokes the SLO evaluation hook if registered.
func (r *Registry) TryEvaluateSLO(ctx context.Context, monitorID string) error {
	r.mu.RLock()
	hook := r.slo
	r.mu.RUnlock()

	if hook == nil {
		r.log.Info("capability: no SLO evaluator registered, skipping", "monitor_id", monitorID)
		return nil
	}
	return hook.EvaluateSLO(ctx, monitorID)
}

// TryScheduleReport invokes the report scheduling hook if registered.
func (r *Registry) TryScheduleReport(ctx context.Context, orgID string) error {
	r.mu.RLock()
	hook := r.report
	r.mu.RUnlock()

	if hook == nil {
		r.log.Info("capability: no report scheduler registered, skipping", "org_id", orgID)
		return nil
	}
	return hook.ScheduleReport(ctx, orgID)
}
