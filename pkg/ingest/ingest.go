// Package ingest implements the Result Ingest component (spec.md §4.3):
// the five-step protocol a Worker Pool job runs immediately after an
// Executor produces a CheckResult — persist, link to an incident,
// update the monitor's coarse status, publish onto the event bus, and
// invoke the Alert Evaluator synchronously — generalizing the teacher's
// ProbeMonitor.executeProbe's "store result, then checkThresholds"
// two-step into the specified five.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nightwatch/nightwatch/pkg/database"
	"github.com/nightwatch/nightwatch/pkg/eventbus"
	"github.com/nightwatch/nightwatch/pkg/executor"
)

// AlertEvaluator is the narrow interface Ingest depends on, satisfied by
// pkg/alertengine.Evaluator — kept as an interface here so ingest tests
// don't need a real evaluator.
type AlertEvaluator interface {
	Evaluate(ctx context.Context, monitor *database.Monitor, result *database.CheckResult) error
}

// Ingest wires a CheckResult from an Executor into storage, the event
// bus, and the alert evaluator.
type Ingest struct {
	db        *database.DB
	bus       *eventbus.Bus
	evaluator AlertEvaluator
	log       *slog.Logger

	// correlationWindow is the rolling window the auto-correlator scans
	// for "3+ monitors down" (SPEC_FULL.md §10).
	correlationWindow time.Duration
	correlationCount  int
}

// New constructs an Ingest pipeline.
func New(db *database.DB, bus *eventbus.Bus, evaluator AlertEvaluator, log *slog.Logger) *Ingest {
	return &Ingest{
		db:                db,
		bus:               bus,
		evaluator:         evaluator,
		log:               log,
		correlationWindow: 5 * time.Minute,
		correlationCount:  3,
	}
}

// statusFromCheck maps a CheckResult.Status to the coarser Monitor.Status
// spec.md §4.3 step 3 requires.
func statusFromCheck(checkStatus string) string {
	switch checkStatus {
	case database.CheckStatusSuccess:
		return database.MonitorStatusActive
	case database.CheckStatusDegraded:
		return database.MonitorStatusDegraded
	default:
		return database.MonitorStatusDown
	}
}

func checkStatusFromExecutor(s executor.CheckStatus) string {
	switch s {
	case executor.StatusUp:
		return database.CheckStatusSuccess
	case executor.StatusDegraded:
		return database.CheckStatusDegraded
	case executor.StatusTimeout:
		return database.CheckStatusTimeout
	case executor.StatusError:
		return database.CheckStatusError
	default:
		return database.CheckStatusFailure
	}
}

// Ingest runs the five-step protocol for one executor result against the
// monitor it was run for.
func (in *Ingest) Ingest(ctx context.Context, monitor *database.Monitor, region string, result executor.CheckResult) error {
	status := checkStatusFromExecutor(result.Status)

	var responseMs *int
	if result.ResponseTime > 0 {
		ms := int(result.ResponseTime.Milliseconds())
		responseMs = &ms
	}
	var errCode, errMsg *string
	if result.ErrorCode != "" {
		errCode = &result.ErrorCode
	}
	if result.ErrorMessage != "" {
		errMsg = &result.ErrorMessage
	}

	cr := &database.CheckResult{
		MonitorID:      monitor.ID,
		Region:         region,
		Status:         status,
		ResponseTimeMs: responseMs,
		ErrorMessage:   errMsg,
		ErrorCode:      errCode,
		Payload:        database.JSONMap(result.Metadata),
	}

	// Step 1: persist.
	if err := in.db.CheckResults().Insert(cr); err != nil {
		return fmt.Errorf("ingest: failed to persist check result: %w", err)
	}

	// Step 2: link to an active incident, auto-correlating a new one when
	// this failure is part of a broader outage (SPEC_FULL.md §10).
	var incidentID string
	if database.IsFailureStatus(status) {
		incident, err := in.linkOrCorrelateIncident(ctx, monitor)
		if err != nil {
			in.log.Error("ingest: incident correlation failed", "monitor_id", monitor.ID, "error", err)
		} else if incident != nil {
			incidentID = incident.ID
			if err := in.db.CheckResults().LinkIncident(cr.ID, incident.ID); err != nil {
				in.log.Error("ingest: failed to link check result to incident", "monitor_id", monitor.ID, "error", err)
			}
		}
	}

	// Step 3: update monitor status.
	monitorStatus := statusFromCheck(status)
	if err := in.db.Monitors().UpdateStatus(monitor.ID, monitorStatus, cr.CreatedAt); err != nil {
		return fmt.Errorf("ingest: failed to update monitor status: %w", err)
	}
	monitor.Status = monitorStatus

	// Step 4: publish — failures here are logged and never surfaced as a
	// job failure (§4.3).
	if in.bus != nil {
		payload := map[string]interface{}{
			"checkResultId": cr.ID,
			"status":        status,
			"responseTimeMs": responseMs,
			"incidentId":    incidentID,
		}
		ev := eventbus.Event{
			Type:      eventbus.EventCheckResult,
			MonitorID: monitor.ID,
			OrgID:     monitor.OrgID,
			Payload:   payload,
			EmittedAt: time.Now(),
		}
		if err := in.bus.Publish(ctx, ev); err != nil {
			in.log.Error("ingest: failed to publish check result event", "monitor_id", monitor.ID, "error", err)
		}
	}

	// Step 5: invoke the alert evaluator synchronously.
	if in.evaluator != nil {
		if err := in.evaluator.Evaluate(ctx, monitor, cr); err != nil {
			in.log.Error("ingest: alert evaluation failed", "monitor_id", monitor.ID, "error", err)
		}
	}

	return nil
}

// linkOrCorrelateIncident returns the already-open incident covering
// this monitor, or opens a new auto-correlated one if three or more
// monitors in the same organization have entered "down" within the
// rolling correlation window — the incident auto-correlation feature
// from SPEC_FULL.md §10, adapted from the teacher's pkg/orchestrator
// deployment-state-machine pattern of deriving a coarse status from a
// collection of finer-grained signals.
func (in *Ingest) linkOrCorrelateIncident(ctx context.Context, monitor *database.Monitor) (*database.Incident, error) {
	existing, err := in.db.Incidents().ActiveForMonitor(monitor.OrgID, monitor.ID)
	if err == nil {
		return existing, nil
	}

	since := time.Now().Add(-in.correlationWindow)
	downMonitorIDs, err := in.db.Incidents().RecentlyDownMonitors(monitor.OrgID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to scan recently-down monitors: %w", err)
	}
	found := false
	for _, id := range downMonitorIDs {
		if id == monitor.ID {
			found = true
			break
		}
	}
	if !found {
		downMonitorIDs = append(downMonitorIDs, monitor.ID)
	}

	if len(downMonitorIDs) < in.correlationCount {
		return nil, nil
	}

	severity := database.IncidentSeverityMinor
	switch {
	case len(downMonitorIDs) >= 10:
		severity = database.IncidentSeverityCritical
	case len(downMonitorIDs) >= 5:
		severity = database.IncidentSeverityMajor
	}

	incident := &database.Incident{
		OrgID:            monitor.OrgID,
		Title:            fmt.Sprintf("%d monitors down within %s", len(downMonitorIDs), in.correlationWindow),
		Severity:         severity,
		Status:           database.IncidentStatusInvestigating,
		StartedAt:        time.Now(),
		AffectedMonitors: database.StringArray(downMonitorIDs),
	}
	if err := in.db.Incidents().Create(incident); err != nil {
		return nil, fmt.Errorf("failed to create auto-correlated incident: %w", err)
	}
	return incident, nil
}
