package capability

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeEscalation struct{ called bool }

func (f *fakeEscalation) ScheduleEscalation(ctx context.Context, alertHistoryID string) error {
	f.called = true
	return nil
}

func TestRegistry_NoHookRegistered_NoError(t *testing.T) {
	r := New(slog.New(slog.NewTextHandler(io.Discard, nil)))
	err := r.TryEscalate(context.Background(), "hist-1")
	assert.NoError(t, err)
}

func TestRegistry_RegisteredHookInvoked(t *testing.T) {
	r := New(slog.New(slog.NewTextHandler(io.Discard, nil)))
	hook := &fakeEscalation{}
	r.RegisterEscalationScheduler(hook)

	err := r.TryEscalate(context.Background(), "hist-1")
	assert.NoError(t, err)
	assert.True(t, hook.called)
}

func TestRegistry_OncallResolver_AbsentReturnsFalse(t *testing.T) {
	r := New(slog.New(slog.NewTextHandler(io.Discard, nil)))
	_, ok := r.TryResolveOncall(context.Background(), "org-1")
	assert.False(t, ok)
}
