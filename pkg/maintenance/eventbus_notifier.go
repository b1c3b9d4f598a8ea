package maintenance

import (
	"context"
	"time"

	"github.com/nightwatch/nightwatch/pkg/database"
	"github.com/nightwatch/nightwatch/pkg/eventbus"
)

// EventBusNotifier publishes a maintenance notice onto every affected
// monitor's real-time topic — the default Notifier until a dedicated
// status-page subscriber component exists.
type EventBusNotifier struct {
	Bus *eventbus.Bus
}

// NotifyMaintenance implements Notifier.
func (n *EventBusNotifier) NotifyMaintenance(ctx context.Context, w *database.MaintenanceWindow, slot string) error {
	payload := map[string]interface{}{
		"windowId": w.ID,
		"name":     w.Name,
		"slot":     slot,
		"startsAt": w.StartsAt,
		"endsAt":   w.EndsAt,
	}

	for _, monitorID := range w.AffectedMonitors {
		ev := eventbus.Event{
			Type:      eventbus.EventMaintenance,
			MonitorID: monitorID,
			OrgID:     w.OrgID,
			Payload:   payload,
			EmittedAt: time.Now(),
		}
		if err := n.Bus.Publish(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}
