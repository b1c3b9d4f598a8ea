package alertengine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/nightwatch/nightwatch/pkg/database"
)

func intp(v int) *int { return &v }

func TestCooldownActive_NoPriorResolve(t *testing.T) {
	assert.False(t, cooldownActive(10, nil, time.Now()))
}

func TestCooldownActive_ZeroCooldownNeverActive(t *testing.T) {
	resolved := time.Now()
	assert.False(t, cooldownActive(0, &resolved, time.Now()))
}

func TestCooldownActive_WithinWindow(t *testing.T) {
	now := time.Now()
	resolved := now.Add(-5 * time.Minute)
	assert.True(t, cooldownActive(10, &resolved, now))
}

func TestCooldownActive_AfterWindow(t *testing.T) {
	now := time.Now()
	resolved := now.Add(-15 * time.Minute)
	assert.False(t, cooldownActive(10, &resolved, now))
}

func TestMergeCoalesceMetadata_FirstRepeat(t *testing.T) {
	existing := database.JSONMap{
		"checkResultId":     "cr-1",
		"failureCount":      float64(1),
		"failureTimestamps": []interface{}{float64(1000)},
	}
	errMsg := "connection refused"
	result := &database.CheckResult{
		ID:           "cr-2",
		ErrorMessage: &errMsg,
		CreatedAt:    time.Unix(2000, 0),
	}

	updated := mergeCoalesceMetadata(existing, result)
	assert.Equal(t, "cr-2", updated["checkResultId"])
	assert.Equal(t, "connection refused", updated["errorMessage"])
	assert.Equal(t, 2, updated["failureCount"])
	assert.Equal(t, []int64{1000, 2000}, updated["failureTimestamps"])
}

func TestMergeCoalesceMetadata_CapsFailureTimestampsAt20(t *testing.T) {
	timestamps := make([]interface{}, 20)
	for i := range timestamps {
		timestamps[i] = float64(i)
	}
	existing := database.JSONMap{
		"failureCount":      float64(20),
		"failureTimestamps": timestamps,
	}
	result := &database.CheckResult{ID: "cr-21", CreatedAt: time.Unix(20, 0)}

	updated := mergeCoalesceMetadata(existing, result)
	ts := updated["failureTimestamps"].([]int64)
	assert.Len(t, ts, 20)
	assert.Equal(t, int64(1), ts[0])
	assert.Equal(t, int64(20), ts[19])
	assert.Equal(t, 21, updated["failureCount"])
}

func TestMergeCoalesceMetadata_CarriesResponseTime(t *testing.T) {
	result := &database.CheckResult{ID: "cr-1", ResponseTimeMs: intp(250), CreatedAt: time.Unix(5, 0)}
	updated := mergeCoalesceMetadata(database.JSONMap{}, result)
	assert.Equal(t, 250, updated["responseTimeMs"])
	assert.Equal(t, 1, updated["failureCount"])
}
