// Package eventbus implements the platform's real-time event channel
// (SPEC_FULL.md §4.8): a thin wrapper over Redis Pub/Sub. The Result
// Ingest pipeline publishes a check_result event for every ingested
// result, and the maintenance EventBusNotifier publishes maintenance
// notices, so a dashboard can subscribe without polling Postgres.
// cmd/core has no subscriber of its own.
//
// Topics are `monitor:<id>` and `org:<id>`, matching spec.md's event
// fan-out shape: a monitor-scoped check/alert event is republished onto
// its owning org's topic too, so an org-wide subscriber sees everything.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// EventType enumerates the real-time events the platform emits.
type EventType string

const (
	EventCheckResult   EventType = "check_result"
	EventAlertFired    EventType = "alert_fired"
	EventAlertResolved EventType = "alert_resolved"
	EventIncidentOpen  EventType = "incident_opened"
	EventIncidentClose EventType = "incident_resolved"
	EventProbeStatus   EventType = "probe_status"
	EventMaintenance   EventType = "maintenance_notice"
)

// Event is the envelope published onto both a monitor and an org topic.
type Event struct {
	Type      EventType   `json:"type"`
	MonitorID string      `json:"monitorId,omitempty"`
	OrgID     string      `json:"orgId"`
	Payload   interface{} `json:"payload"`
	EmittedAt time.Time   `json:"emittedAt"`
}

// Bus publishes events onto Redis Pub/Sub channels.
type Bus struct {
	rdb *redis.Client
}

// New constructs a Bus over the given Redis client.
func New(rdb *redis.Client) *Bus {
	return &Bus{rdb: rdb}
}

func monitorTopic(monitorID string) string { return "monitor:" + monitorID }
func orgTopic(orgID string) string         { return "org:" + orgID }

// Publish emits ev onto its org topic, and additionally onto its monitor
// topic when MonitorID is set.
func (b *Bus) Publish(ctx context.Context, ev Event) error {
	encoded, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("eventbus: failed to marshal event: %w", err)
	}
	if err := b.rdb.Publish(ctx, orgTopic(ev.OrgID), encoded).Err(); err != nil {
		return fmt.Errorf("eventbus: failed to publish to org topic: %w", err)
	}
	if ev.MonitorID != "" {
		if err := b.rdb.Publish(ctx, monitorTopic(ev.MonitorID), encoded).Err(); err != nil {
			return fmt.Errorf("eventbus: failed to publish to monitor topic: %w", err)
		}
	}
	return nil
}

// Subscription wraps a Redis PubSub for a set of topics, decoding events
// as they arrive; it is the consumer side of Publish. Nothing in cmd/core
// subscribes.
type Subscription struct {
	ps *redis.PubSub
}

// SubscribeMonitor subscribes to a single monitor's topic.
func (b *Bus) SubscribeMonitor(ctx context.Context, monitorID string) *Subscription {
	return &Subscription{ps: b.rdb.Subscribe(ctx, monitorTopic(monitorID))}
}

// SubscribeOrg subscribes to an organization-wide topic.
func (b *Bus) SubscribeOrg(ctx context.Context, orgID string) *Subscription {
	return &Subscription{ps: b.rdb.Subscribe(ctx, orgTopic(orgID))}
}

// Next blocks for the next event on this subscription.
func (s *Subscription) Next(ctx context.Context) (*Event, error) {
	msg, err := s.ps.ReceiveMessage(ctx)
	if err != nil {
		return nil, fmt.Errorf("eventbus: failed to receive message: %w", err)
	}
	var ev Event
	if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
		return nil, fmt.Errorf("eventbus: failed to decode event: %w", err)
	}
	return &ev, nil
}

// Close releases the underlying subscription.
func (s *Subscription) Close() error {
	return s.ps.Close()
}
