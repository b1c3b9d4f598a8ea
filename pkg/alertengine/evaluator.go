// Package alertengine implements the Alert Evaluator component (spec.md
// §4.4): policy selection, the fire decision tree (OR-semantics across
// consecutiveFailures/failuresInWindow/degradedDuration, open-alert
// coalescing, cooldown measured from resolvedAt), and the recover path
// (consecutiveSuccesses, atomic resolve, recovery notifications).
package alertengine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nightwatch/nightwatch/pkg/capability"
	"github.com/nightwatch/nightwatch/pkg/database"
	"github.com/nightwatch/nightwatch/pkg/notify"
)

// Evaluator runs the fire/recover decision tree for every policy bound
// to a monitor whenever a new CheckResult is ingested.
type Evaluator struct {
	db         *database.DB
	dispatcher *notify.Dispatcher
	caps       *capability.Registry
	log        *slog.Logger
}

// New constructs an Evaluator. caps may be nil, in which case escalation
// scheduling is skipped entirely (same as an empty Registry).
func New(db *database.DB, dispatcher *notify.Dispatcher, caps *capability.Registry, log *slog.Logger) *Evaluator {
	return &Evaluator{db: db, dispatcher: dispatcher, caps: caps, log: log}
}

// Evaluate is pkg/ingest's step 5 hook, run synchronously for every
// ingested check result.
func (e *Evaluator) Evaluate(ctx context.Context, monitor *database.Monitor, result *database.CheckResult) error {
	policies, err := e.db.AlertPolicies().ForMonitor(monitor.ID, monitor.OrgID)
	if err != nil {
		return fmt.Errorf("alertengine: failed to select policies: %w", err)
	}

	for _, policy := range policies {
		if database.IsFailureStatus(result.Status) || result.Status == database.CheckStatusDegraded {
			if err := e.evaluateFirePath(ctx, policy, monitor, result); err != nil {
				e.log.Error("alertengine: fire path failed", "policy_id", policy.ID, "monitor_id", monitor.ID, "error", err)
			}
		} else if result.Status == database.CheckStatusSuccess {
			if err := e.evaluateRecoverPath(ctx, policy, monitor, result); err != nil {
				e.log.Error("alertengine: recover path failed", "policy_id", policy.ID, "monitor_id", monitor.ID, "error", err)
			}
		}
	}
	return nil
}

// evaluateFirePath implements spec.md §4.4's OR-semantics across the
// three fire conditions, open-alert coalescing, and cooldown measured
// from resolvedAt (not triggeredAt — the explicit Design Note choice).
func (e *Evaluator) evaluateFirePath(ctx context.Context, policy *database.AlertPolicy, monitor *database.Monitor, result *database.CheckResult) error {
	conditions, err := policy.ParsedConditions()
	if err != nil {
		return fmt.Errorf("failed to parse conditions: %w", err)
	}

	shouldFire, reason, err := e.conditionsSatisfied(monitor.ID, conditions, result.Status)
	if err != nil {
		return fmt.Errorf("failed to evaluate fire conditions: %w", err)
	}
	if !shouldFire {
		return nil
	}

	open, err := e.db.AlertHistoryRepo().OpenAlert(policy.ID, monitor.ID)
	if err == nil && open != nil {
		return e.coalesce(open, result)
	}

	if within, err := e.withinCooldown(policy, monitor.ID); err != nil {
		return err
	} else if within {
		return nil
	}

	metadata := database.JSONMap{
		"checkResultId":     result.ID,
		"failureCount":      1,
		"failureTimestamps": []int64{result.CreatedAt.Unix()},
		"reason":            reason,
	}
	if result.ErrorMessage != nil {
		metadata["errorMessage"] = *result.ErrorMessage
	}
	if result.ResponseTimeMs != nil {
		metadata["responseTimeMs"] = *result.ResponseTimeMs
	}

	history := &database.AlertHistory{
		OrgID:       monitor.OrgID,
		MonitorID:   monitor.ID,
		PolicyID:    policy.ID,
		TriggeredAt: time.Now(),
		Metadata:    metadata,
	}
	inserted, err := e.db.AlertHistoryRepo().Fire(history)
	if err != nil {
		return fmt.Errorf("failed to fire alert: %w", err)
	}
	if !inserted {
		// A concurrent evaluation already opened this alert; treat as coalesce.
		if open, err := e.db.AlertHistoryRepo().OpenAlert(policy.ID, monitor.ID); err == nil && open != nil {
			return e.coalesce(open, result)
		}
		return nil
	}

	if e.dispatcher != nil {
		e.dispatcher.NotifyFired(ctx, policy, monitor, history)
	}
	if e.caps != nil {
		if err := e.caps.TryEscalate(ctx, history.ID); err != nil {
			e.log.Error("alertengine: escalation scheduling failed", "alert_history_id", history.ID, "error", err)
		}
	}
	return nil
}

// coalesce merges a repeated failure into an already-open alert's
// metadata: bump failureCount, append to failureTimestamps (capped at
// 20), refresh the latest checkResultId/errorMessage (§4.4 step 3).
func (e *Evaluator) coalesce(open *database.AlertHistory, result *database.CheckResult) error {
	updated := mergeCoalesceMetadata(open.Metadata, result)
	return e.db.AlertHistoryRepo().Coalesce(open.ID, updated)
}

// mergeCoalesceMetadata is the pure metadata-merge behind coalesce: bump
// failureCount, append to failureTimestamps (capped at the most recent
// 20), and refresh the latest checkResultId/errorMessage/responseTimeMs.
func mergeCoalesceMetadata(existing database.JSONMap, result *database.CheckResult) database.JSONMap {
	var meta database.AlertHistoryMetadata
	if raw, ok := existing["failureTimestamps"]; ok {
		if arr, ok := raw.([]interface{}); ok {
			for _, v := range arr {
				if f, ok := v.(float64); ok {
					meta.FailureTimestamps = append(meta.FailureTimestamps, int64(f))
				}
			}
		}
	}
	if fc, ok := existing["failureCount"].(float64); ok {
		meta.FailureCount = int(fc)
	}
	meta.FailureCount++
	meta.FailureTimestamps = append(meta.FailureTimestamps, result.CreatedAt.Unix())
	if len(meta.FailureTimestamps) > 20 {
		meta.FailureTimestamps = meta.FailureTimestamps[len(meta.FailureTimestamps)-20:]
	}
	meta.CheckResultID = result.ID
	if result.ErrorMessage != nil {
		meta.ErrorMessage = *result.ErrorMessage
	}
	meta.ResponseTimeMs = result.ResponseTimeMs

	updated := database.JSONMap{
		"checkResultId":     meta.CheckResultID,
		"errorMessage":      meta.ErrorMessage,
		"failureCount":      meta.FailureCount,
		"failureTimestamps": meta.FailureTimestamps,
	}
	if meta.ResponseTimeMs != nil {
		updated["responseTimeMs"] = *meta.ResponseTimeMs
	}
	return updated
}

// withinCooldown checks whether this (policy, monitor) pair's last
// resolved alert is still within policy.CooldownMinutes of now, measured
// from resolvedAt per the explicit Design Note choice.
func (e *Evaluator) withinCooldown(policy *database.AlertPolicy, monitorID string) (bool, error) {
	if policy.CooldownMinutes <= 0 {
		return false, nil
	}
	last, err := e.db.AlertHistoryRepo().LastResolved(policy.ID, monitorID)
	if err != nil || last == nil || last.ResolvedAt == nil {
		return false, nil
	}
	return cooldownActive(policy.CooldownMinutes, last.ResolvedAt, time.Now()), nil
}

// cooldownActive is the pure cooldown-window check behind withinCooldown,
// split out so the boundary math is testable without a database.
func cooldownActive(cooldownMinutes int, resolvedAt *time.Time, now time.Time) bool {
	if cooldownMinutes <= 0 || resolvedAt == nil {
		return false
	}
	return now.Sub(*resolvedAt) < time.Duration(cooldownMinutes)*time.Minute
}

// conditionsSatisfied evaluates the OR across consecutiveFailures,
// failuresInWindow, and degradedDuration exactly as spec.md §4.4
// specifies: any one satisfied condition is sufficient to fire.
// degradedDuration is only considered when the current result is degraded.
func (e *Evaluator) conditionsSatisfied(monitorID string, c database.AlertConditions, status string) (bool, string, error) {
	if c.ConsecutiveFailures != nil {
		recent, err := e.db.CheckResults().RecentForMonitor(monitorID, *c.ConsecutiveFailures)
		if err != nil {
			return false, "", err
		}
		if len(recent) >= *c.ConsecutiveFailures {
			allFailing := true
			for _, r := range recent {
				if !database.IsFailureStatus(r.Status) {
					allFailing = false
					break
				}
			}
			if allFailing {
				return true, "consecutiveFailures", nil
			}
		}
	}

	if c.FailuresInWindow != nil {
		since := time.Now().Add(-time.Duration(c.FailuresInWindow.WindowMinutes) * time.Minute)
		count, err := e.db.CheckResults().CountInWindow(monitorID, since)
		if err != nil {
			return false, "", err
		}
		if count >= c.FailuresInWindow.Count {
			return true, "failuresInWindow", nil
		}
	}

	if c.DegradedDuration != nil && status == database.CheckStatusDegraded {
		since := time.Now().Add(-time.Duration(*c.DegradedDuration) * time.Second)
		results, err := e.db.CheckResults().WithinRange(monitorID, since, time.Now())
		if err != nil {
			return false, "", err
		}
		if len(results) > 0 {
			allDegradedOrWorse := true
			for _, r := range results {
				if r.Status == database.CheckStatusSuccess {
					allDegradedOrWorse = false
					break
				}
			}
			if allDegradedOrWorse {
				return true, "degradedDuration", nil
			}
		}
	}

	return false, "", nil
}

// evaluateRecoverPath implements the recover decision: consecutiveSuccesses
// satisfied atomically resolves the open alert and notifies recovery.
func (e *Evaluator) evaluateRecoverPath(ctx context.Context, policy *database.AlertPolicy, monitor *database.Monitor, result *database.CheckResult) error {
	open, err := e.db.AlertHistoryRepo().OpenAlert(policy.ID, monitor.ID)
	if err != nil || open == nil {
		return nil
	}

	conditions, err := policy.ParsedConditions()
	if err != nil {
		return fmt.Errorf("failed to parse conditions: %w", err)
	}
	required := 1
	if conditions.ConsecutiveSuccesses != nil {
		required = *conditions.ConsecutiveSuccesses
	}

	recent, err := e.db.CheckResults().RecentForMonitor(monitor.ID, required)
	if err != nil {
		return err
	}
	if len(recent) < required {
		return nil
	}
	for _, r := range recent {
		if r.Status != database.CheckStatusSuccess {
			return nil
		}
	}

	resolvedAt := time.Now()
	if err := e.db.AlertHistoryRepo().Resolve(open.ID, "system:auto-recover", resolvedAt); err != nil {
		return fmt.Errorf("failed to resolve alert: %w", err)
	}
	open.Status = database.AlertStatusResolved
	open.ResolvedAt = &resolvedAt

	if e.dispatcher != nil {
		e.dispatcher.NotifyResolved(ctx, policy, monitor, open)
	}
	return nil
}
