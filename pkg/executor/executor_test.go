package executor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPExecutor_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("all systems operational"))
	}))
	defer srv.Close()

	job := Job{
		Type:      "http",
		Target:    srv.URL,
		TimeoutMs: 2000,
		Config:    map[string]interface{}{"expectedStatus": float64(200)},
		Assertions: []Assertion{
			{Kind: "contains", Expected: "operational"},
		},
	}

	result, cerr := Run(context.Background(), &HTTPExecutor{}, job)
	require.Nil(t, cerr)
	assert.Equal(t, StatusUp, result.Status)
}

func TestHTTPExecutor_UnexpectedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	job := Job{
		Type:      "http",
		Target:    srv.URL,
		TimeoutMs: 2000,
		Config:    map[string]interface{}{"expectedStatus": float64(200)},
	}

	result, cerr := Run(context.Background(), &HTTPExecutor{}, job)
	require.Nil(t, cerr)
	assert.Equal(t, StatusDown, result.Status)
	assert.Equal(t, "unexpected_status", result.ErrorCode)
}

func TestHTTPExecutor_FailedAssertion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("degraded"))
	}))
	defer srv.Close()

	job := Job{
		Type:      "http",
		Target:    srv.URL,
		TimeoutMs: 2000,
		Config:    map[string]interface{}{"expectedStatus": float64(200)},
		Assertions: []Assertion{
			{Kind: "contains", Expected: "operational"},
		},
	}

	result, cerr := Run(context.Background(), &HTTPExecutor{}, job)
	require.Nil(t, cerr)
	assert.Equal(t, StatusDown, result.Status)
	assert.Equal(t, "assertion_failed", result.ErrorCode)
}

func TestRun_TimeoutProducesTimeoutStatus(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer slow.Close()

	job := Job{
		Type:      "http",
		Target:    slow.URL,
		TimeoutMs: 10,
		Config:    map[string]interface{}{"expectedStatus": float64(200)},
	}

	result, cerr := Run(context.Background(), &HTTPExecutor{}, job)
	require.Nil(t, cerr)
	assert.Equal(t, StatusTimeout, result.Status)
}

func TestTCPExecutor_ConnectionRefused(t *testing.T) {
	job := Job{Type: "tcp", Target: "127.0.0.1:1", TimeoutMs: 500}
	result, cerr := Run(context.Background(), &TCPExecutor{}, job)
	require.Nil(t, cerr)
	assert.Equal(t, StatusDown, result.Status)
}

func TestRegistry_UnknownTypeIsControlError(t *testing.T) {
	reg := NewRegistry()
	_, cerr := reg.For("not-a-real-type")
	require.NotNil(t, cerr)
}

func TestEvalBodyAssertions(t *testing.T) {
	assertions := []Assertion{{Kind: "notContains", Expected: "error"}}
	assert.Equal(t, "", evalBodyAssertions("all good", assertions))
	assert.NotEqual(t, "", evalBodyAssertions("an error occurred", assertions))
}
