package executor

import (
	"context"
)

// PassiveExecutor backs the heartbeat, aggregate, and
// prometheus_remote_write monitor types: all three are reads over
// already-ingested data (heartbeat pings, rollup rows, remote-write
// samples) rather than active probes, so there is nothing for the
// Worker Pool to dispatch — pkg/scheduler's DueForCheck query still
// selects these monitor types, but the scheduler tick never enqueues
// them (see Monitor.IsPassive) and only advances their nextCheckAt. This
// Execute implementation exists only to satisfy the Registry contract
// if one is invoked by mistake.
type PassiveExecutor struct{}

func (e *PassiveExecutor) Execute(ctx context.Context, job Job) (CheckResult, *ControlError) {
	return CheckResult{}, &ControlError{Reason: "passive monitor types are not actively dispatched; they update via ingest writes, not executor runs"}
}
