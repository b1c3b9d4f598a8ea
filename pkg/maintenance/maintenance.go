// Package maintenance implements the Maintenance Windows component
// (spec.md §4.8): the three once-only notification slots — beforeStart,
// onStart, onEnd — and their durable sent-at markers.
package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nightwatch/nightwatch/pkg/database"
)

// Notifier is the narrow interface maintenance notices are fanned out
// through — the status page/subscriber surface itself is out of scope
// (spec.md's Non-goals), so this package depends only on the contract a
// future subscriber component would satisfy.
type Notifier interface {
	NotifyMaintenance(ctx context.Context, window *database.MaintenanceWindow, slot string) error
}

const (
	SlotBeforeStart = "beforeStart"
	SlotOnStart     = "onStart"
	SlotOnEnd       = "onEnd"
)

// Service evaluates maintenance window candidates against the current
// time and fires whichever of the three notification slots is due,
// exactly once per slot per window.
type Service struct {
	db       *database.DB
	notifier Notifier
	log      *slog.Logger
}

// New constructs a Service.
func New(db *database.DB, notifier Notifier, log *slog.Logger) *Service {
	return &Service{db: db, notifier: notifier, log: log}
}

// Run evaluates every maintenance window candidate once. Called by the
// scheduler's maintenance-notify timer.
func (s *Service) Run(ctx context.Context, now time.Time) error {
	windows, err := s.db.MaintenanceWindows().Candidates(now)
	if err != nil {
		return fmt.Errorf("maintenance: failed to load candidates: %w", err)
	}

	for _, w := range windows {
		if err := s.evaluate(ctx, w, now); err != nil {
			s.log.Error("maintenance: failed to evaluate window", "window_id", w.ID, "error", err)
		}
	}
	return nil
}

func (s *Service) evaluate(ctx context.Context, w *database.MaintenanceWindow, now time.Time) error {
	if w.NotifyBeforeStart && w.BeforeStartSentAt == nil {
		noticeAt := w.StartsAt.Add(-time.Duration(w.NotifyBeforeStartMinutes) * time.Minute)
		if !now.Before(noticeAt) && now.Before(w.StartsAt) {
			if err := s.fire(ctx, w, SlotBeforeStart); err != nil {
				return err
			}
			return s.db.MaintenanceWindows().MarkBeforeStartSent(w.ID, now)
		}
	}

	if w.NotifyOnStart && w.OnStartSentAt == nil {
		if !now.Before(w.StartsAt) && now.Before(w.EndsAt) {
			if err := s.fire(ctx, w, SlotOnStart); err != nil {
				return err
			}
			return s.db.MaintenanceWindows().MarkOnStartSent(w.ID, now)
		}
	}

	if w.NotifyOnEnd && w.OnEndSentAt == nil {
		if !now.Before(w.EndsAt) {
			if err := s.fire(ctx, w, SlotOnEnd); err != nil {
				return err
			}
			return s.db.MaintenanceWindows().MarkOnEndSent(w.ID, now)
		}
	}

	return nil
}

func (s *Service) fire(ctx context.Context, w *database.MaintenanceWindow, slot string) error {
	if s.notifier == nil {
		return nil
	}
	return s.notifier.NotifyMaintenance(ctx, w, slot)
}

