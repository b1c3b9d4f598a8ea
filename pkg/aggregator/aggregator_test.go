package aggregator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/nightwatch/nightwatch/pkg/database"
)

func intp(v int) *int { return &v }

func TestNearestRank(t *testing.T) {
	sorted := []int{10, 20, 30, 40, 50, 60, 70, 80, 90, 100}
	assert.Equal(t, 50, nearestRank(sorted, 50))
	assert.Equal(t, 100, nearestRank(sorted, 100))
	assert.Equal(t, 10, nearestRank(sorted, 1))
}

func TestRollup_ComputesUptimeAndPercentiles(t *testing.T) {
	now := time.Now()
	results := []*database.CheckResult{
		{Status: database.CheckStatusSuccess, ResponseTimeMs: intp(100), CreatedAt: now},
		{Status: database.CheckStatusSuccess, ResponseTimeMs: intp(200), CreatedAt: now},
		{Status: database.CheckStatusFailure, CreatedAt: now},
		{Status: database.CheckStatusDegraded, ResponseTimeMs: intp(500), CreatedAt: now},
	}

	row := rollup("mon-1", "us-east", now, results)
	assert.Equal(t, 2, row.SuccessCount)
	assert.Equal(t, 1, row.DegradedCount)
	assert.Equal(t, 1, row.FailureCount)
	assert.Equal(t, 4, row.TotalCount)
	assert.Equal(t, 50.0, row.UptimePercentage)
	assert.NotNil(t, row.P50ResponseTimeMs)
}

func TestPoolDaily_AggregatesHourlyRows(t *testing.T) {
	now := time.Now().Truncate(24 * time.Hour)
	hourly := []*database.RollupRow{
		{SuccessCount: 50, TotalCount: 50, AvgResponseTimeMs: floatp(100), P50ResponseTimeMs: intp(90), MinResponseTimeMs: intp(10), MaxResponseTimeMs: intp(300)},
		{SuccessCount: 40, FailureCount: 10, TotalCount: 50, AvgResponseTimeMs: floatp(150), P50ResponseTimeMs: intp(120), MinResponseTimeMs: intp(20), MaxResponseTimeMs: intp(400)},
	}

	row := poolDaily("mon-1", "us-east", now, hourly)
	assert.Equal(t, 100, row.TotalCount)
	assert.Equal(t, 90, row.SuccessCount)
	assert.Equal(t, 10, row.FailureCount)
	assert.Equal(t, 90.0, row.UptimePercentage)
	assert.Equal(t, 10, *row.MinResponseTimeMs)
	assert.Equal(t, 400, *row.MaxResponseTimeMs)
}

func floatp(v float64) *float64 { return &v }
