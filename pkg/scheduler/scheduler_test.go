package scheduler

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nightwatch/nightwatch/pkg/database"
	"github.com/nightwatch/nightwatch/pkg/executor"
)

func TestQueueNameForMonitorType(t *testing.T) {
	assert.Equal(t, "check:http", QueueNameForMonitorType("http"))
	assert.Equal(t, "check:dns", QueueNameForMonitorType("dns"))
}

func TestParseAssertions(t *testing.T) {
	raw := database.JSONArray{
		map[string]interface{}{"kind": "statusCode", "expected": "200"},
		map[string]interface{}{"kind": "header", "target": "Content-Type", "expected": "application/json"},
		"not-a-map",
	}

	assertions := parseAssertions(raw)
	assert.Len(t, assertions, 2)
	assert.Equal(t, "statusCode", assertions[0].Kind)
	assert.Equal(t, "200", assertions[0].Expected)
	assert.Equal(t, "Content-Type", assertions[1].Target)
}

func TestParseAssertions_EmptyInput(t *testing.T) {
	assertions := parseAssertions(nil)
	assert.Empty(t, assertions)
}

func TestJSONMap_RoundTripsJob(t *testing.T) {
	job := executor.Job{
		MonitorID: "mon-1",
		Type:      "http",
		Target:    "https://example.com",
		TimeoutMs: 5000,
		Config:    map[string]interface{}{"method": "GET"},
		Assertions: []executor.Assertion{
			{Kind: "statusCode", Expected: "200"},
		},
	}

	m, err := jsonMap(job)
	assert.NoError(t, err)
	assert.Equal(t, "mon-1", m["MonitorID"])
	assert.Equal(t, "http", m["Type"])

	raw, err := json.Marshal(m)
	assert.NoError(t, err)

	var decoded executor.Job
	assert.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, job.MonitorID, decoded.MonitorID)
	assert.Equal(t, job.Target, decoded.Target)
	assert.Len(t, decoded.Assertions, 1)
}
