// Package aggregator implements the Aggregator component (spec.md §4.6):
// hourly and daily rollups over raw check results, computing nearest-rank
// percentiles for hourly buckets and a pooled approximation for daily
// buckets built from the already-computed hourly rows.
package aggregator

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/nightwatch/nightwatch/pkg/database"
)

// Aggregator rolls raw check_results up into check_results_hourly and
// check_results_daily.
type Aggregator struct {
	db  *database.DB
	log *slog.Logger
}

// New constructs an Aggregator.
func New(db *database.DB, log *slog.Logger) *Aggregator {
	return &Aggregator{db: db, log: log}
}

// RunHourly rolls up every active monitor's most recently completed hour
// bucket. Called by the scheduler's hourly timer.
func (a *Aggregator) RunHourly(ctx context.Context, bucketStart time.Time) error {
	bucketStart = bucketStart.Truncate(time.Hour)
	bucketEnd := bucketStart.Add(time.Hour)

	monitors, err := a.db.Monitors().ListActive()
	if err != nil {
		return fmt.Errorf("aggregator: failed to list active monitors: %w", err)
	}

	for _, m := range monitors {
		results, err := a.db.CheckResults().WithinRange(m.ID, bucketStart, bucketEnd)
		if err != nil {
			a.log.Error("aggregator: failed to load check results", "monitor_id", m.ID, "error", err)
			continue
		}
		if len(results) == 0 {
			continue
		}

		for region, rows := range groupByRegion(results) {
			row := rollup(m.ID, region, bucketStart, rows)
			if err := a.db.Rollups().UpsertHourly(row); err != nil {
				a.log.Error("aggregator: failed to upsert hourly rollup", "monitor_id", m.ID, "region", region, "error", err)
			}
		}
	}
	return nil
}

// RunDaily rolls up every active monitor's most recently completed day
// bucket, pooling its 24 hourly rollups rather than re-scanning raw
// check_results — a deliberate approximation: daily percentiles are
// computed over the 24 hourly nearest-rank percentiles rather than the
// full raw sample, trading a small accuracy loss for avoiding a
// potentially enormous raw scan.
func (a *Aggregator) RunDaily(ctx context.Context, bucketStart time.Time) error {
	bucketStart = bucketStart.Truncate(24 * time.Hour)
	bucketEnd := bucketStart.Add(24 * time.Hour)

	monitors, err := a.db.Monitors().ListActive()
	if err != nil {
		return fmt.Errorf("aggregator: failed to list active monitors: %w", err)
	}

	for _, m := range monitors {
		hourly, err := a.db.Rollups().HourlyInRange(m.ID, bucketStart, bucketEnd)
		if err != nil {
			a.log.Error("aggregator: failed to load hourly rollups", "monitor_id", m.ID, "error", err)
			continue
		}
		if len(hourly) == 0 {
			continue
		}

		byRegion := make(map[string][]*database.RollupRow)
		for _, r := range hourly {
			byRegion[r.Region] = append(byRegion[r.Region], r)
		}
		for region, rows := range byRegion {
			row := poolDaily(m.ID, region, bucketStart, rows)
			if err := a.db.Rollups().UpsertDaily(row); err != nil {
				a.log.Error("aggregator: failed to upsert daily rollup", "monitor_id", m.ID, "region", region, "error", err)
			}
		}
	}
	return nil
}

func groupByRegion(results []*database.CheckResult) map[string][]*database.CheckResult {
	out := make(map[string][]*database.CheckResult)
	for _, r := range results {
		out[r.Region] = append(out[r.Region], r)
	}
	return out
}

// rollup computes one hourly RollupRow from a region's raw results using
// nearest-rank percentiles over observed response times.
func rollup(monitorID, region string, bucketStart time.Time, results []*database.CheckResult) *database.RollupRow {
	var times []int
	var success, degraded, failure int

	for _, r := range results {
		switch r.Status {
		case database.CheckStatusSuccess:
			success++
		case database.CheckStatusDegraded:
			degraded++
		default:
			failure++
		}
		if r.ResponseTimeMs != nil {
			times = append(times, *r.ResponseTimeMs)
		}
	}

	row := &database.RollupRow{
		MonitorID:     monitorID,
		Region:        region,
		BucketStart:   bucketStart,
		SuccessCount:  success,
		DegradedCount: degraded,
		FailureCount:  failure,
		TotalCount:    len(results),
	}
	if row.TotalCount > 0 {
		row.UptimePercentage = float64(success) / float64(row.TotalCount) * 100
	}

	if len(times) > 0 {
		sort.Ints(times)
		sum := 0
		min, max := times[0], times[0]
		for _, t := range times {
			sum += t
			if t < min {
				min = t
			}
			if t > max {
				max = t
			}
		}
		avg := float64(sum) / float64(len(times))
		row.AvgResponseTimeMs = &avg
		row.MinResponseTimeMs = &min
		row.MaxResponseTimeMs = &max
		row.P50ResponseTimeMs = intPtr(nearestRank(times, 50))
		row.P75ResponseTimeMs = intPtr(nearestRank(times, 75))
		row.P90ResponseTimeMs = intPtr(nearestRank(times, 90))
		row.P95ResponseTimeMs = intPtr(nearestRank(times, 95))
		row.P99ResponseTimeMs = intPtr(nearestRank(times, 99))
	}
	return row
}

// nearestRank returns the pth-percentile value from an already-sorted
// slice using the nearest-rank method: rank = ceil(p/100 * n), clamped
// into bounds.
func nearestRank(sorted []int, p int) int {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	rank := (p*n + 99) / 100
	if rank < 1 {
		rank = 1
	}
	if rank > n {
		rank = n
	}
	return sorted[rank-1]
}

// poolDaily approximates a day's percentiles by pooling each hour's
// nearest-rank percentile values and total counts, rather than
// re-deriving them from raw samples.
func poolDaily(monitorID, region string, bucketStart time.Time, hourly []*database.RollupRow) *database.RollupRow {
	row := &database.RollupRow{MonitorID: monitorID, Region: region, BucketStart: bucketStart}

	var p50s, p75s, p90s, p95s, p99s []int
	var weightedSum float64
	var min, max int
	haveMinMax := false

	for _, h := range hourly {
		row.SuccessCount += h.SuccessCount
		row.DegradedCount += h.DegradedCount
		row.FailureCount += h.FailureCount
		row.TotalCount += h.TotalCount

		if h.AvgResponseTimeMs != nil {
			weightedSum += *h.AvgResponseTimeMs * float64(h.TotalCount)
		}
		if h.MinResponseTimeMs != nil {
			if !haveMinMax || *h.MinResponseTimeMs < min {
				min = *h.MinResponseTimeMs
			}
			haveMinMax = true
		}
		if h.MaxResponseTimeMs != nil {
			if !haveMinMax || *h.MaxResponseTimeMs > max {
				max = *h.MaxResponseTimeMs
			}
			haveMinMax = true
		}
		if h.P50ResponseTimeMs != nil {
			p50s = append(p50s, *h.P50ResponseTimeMs)
		}
		if h.P75ResponseTimeMs != nil {
			p75s = append(p75s, *h.P75ResponseTimeMs)
		}
		if h.P90ResponseTimeMs != nil {
			p90s = append(p90s, *h.P90ResponseTimeMs)
		}
		if h.P95ResponseTimeMs != nil {
			p95s = append(p95s, *h.P95ResponseTimeMs)
		}
		if h.P99ResponseTimeMs != nil {
			p99s = append(p99s, *h.P99ResponseTimeMs)
		}
	}

	if row.TotalCount > 0 {
		row.UptimePercentage = float64(row.SuccessCount) / float64(row.TotalCount) * 100
		avg := weightedSum / float64(row.TotalCount)
		row.AvgResponseTimeMs = &avg
	}
	if haveMinMax {
		row.MinResponseTimeMs = &min
		row.MaxResponseTimeMs = &max
	}
	row.P50ResponseTimeMs = poolPercentile(p50s)
	row.P75ResponseTimeMs = poolPercentile(p75s)
	row.P90ResponseTimeMs = poolPercentile(p90s)
	row.P95ResponseTimeMs = poolPercentile(p95s)
	row.P99ResponseTimeMs = poolPercentile(p99s)
	return row
}

// poolPercentile takes the median of each hour's percentile value as the
// day's approximation for that percentile.
func poolPercentile(values []int) *int {
	if len(values) == 0 {
		return nil
	}
	sort.Ints(values)
	return intPtr(values[len(values)/2])
}

func intPtr(v int) *int { return &v }
