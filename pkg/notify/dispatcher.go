// Package notify implements the Notification Dispatcher component
// (spec.md §4.5): fan-out per channel queue with retry/backoff and
// terminal NotificationLog writes.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nightwatch/nightwatch/pkg/config"
	"github.com/nightwatch/nightwatch/pkg/database"
	"github.com/nightwatch/nightwatch/pkg/queue"
)

// Sender delivers one notification to one channel. Implementations live
// in channels.go, one per AlertChannel type.
type Sender interface {
	Send(ctx context.Context, channel *database.AlertChannel, n Notification) error
}

// Notification is the payload every Sender receives, independent of the
// originating policy/monitor's storage shape.
type Notification struct {
	Kind        string // "fired" or "resolved"
	MonitorName string
	MonitorID   string
	PolicyName  string
	Status      string
	Message     string
	TriggeredAt time.Time
	ResolvedAt  *time.Time
	Metadata    map[string]interface{}
}

const (
	queueEmail = "notify:email" // sms shares this queue, per spec.md's Design Notes (TODO: split once volume warrants it)
	queueChat  = "notify:chat"
	queueHTTP  = "notify:http"
)

// Dispatcher fans a fired/resolved alert out to every channel a policy
// names, enqueuing one job per channel with the retry contract spec.md
// §4.5 specifies (attempts:5, 1s→16s exponential, removeOnComplete:100,
// removeOnFail:100).
type Dispatcher struct {
	db       *database.DB
	registry *queue.Registry
	senders  map[string]Sender
	log      *slog.Logger
}

// New constructs a Dispatcher with every channel sender wired in.
func New(db *database.DB, registry *queue.Registry, log *slog.Logger, fallback config.FallbackCredentials) *Dispatcher {
	d := &Dispatcher{db: db, registry: registry, log: log, senders: make(map[string]Sender)}
	d.senders[database.ChannelTypeEmail] = &EmailSender{Fallback: fallback}
	d.senders[database.ChannelTypeSlack] = &SlackSender{}
	d.senders[database.ChannelTypeDiscord] = &WebhookSender{}
	d.senders[database.ChannelTypeTeams] = &WebhookSender{}
	d.senders[database.ChannelTypeGoogleChat] = &WebhookSender{}
	d.senders[database.ChannelTypeNtfy] = &WebhookSender{}
	d.senders[database.ChannelTypeWebhook] = &SignedWebhookSender{}
	d.senders[database.ChannelTypePagerDuty] = &PagerDutySender{}
	d.senders[database.ChannelTypeSMS] = &SMSSender{Fallback: fallback}
	d.senders[database.ChannelTypeIRC] = &IRCSender{}
	d.senders[database.ChannelTypeTwitter] = &TwitterSender{}
	return d
}

// notificationJob is the queue payload for a single channel delivery.
type notificationJob struct {
	ChannelID      string                 `json:"channelId"`
	AlertHistoryID string                 `json:"alertHistoryId"`
	Notification   Notification           `json:"notification"`
}

func queueForChannelType(channelType string) string {
	switch channelType {
	case database.ChannelTypeEmail, database.ChannelTypeSMS:
		return queueEmail
	case database.ChannelTypeSlack, database.ChannelTypeDiscord, database.ChannelTypeTeams, database.ChannelTypeGoogleChat, database.ChannelTypeNtfy, database.ChannelTypeIRC:
		return queueChat
	default:
		return queueHTTP
	}
}

// NotifyFired enqueues a delivery job per channel for a newly-triggered
// alert.
func (d *Dispatcher) NotifyFired(ctx context.Context, policy *database.AlertPolicy, monitor *database.Monitor, h *database.AlertHistory) {
	n := Notification{
		Kind:        "fired",
		MonitorName: monitor.Name,
		MonitorID:   monitor.ID,
		PolicyName:  policy.Name,
		Status:      monitor.Status,
		Message:     fmt.Sprintf("%s is down", monitor.Name),
		TriggeredAt: h.TriggeredAt,
		Metadata:    map[string]interface{}(h.Metadata),
	}
	d.enqueueAll(ctx, policy, h.ID, n)
}

// NotifyResolved enqueues a delivery job per channel for a recovered alert.
func (d *Dispatcher) NotifyResolved(ctx context.Context, policy *database.AlertPolicy, monitor *database.Monitor, h *database.AlertHistory) {
	n := Notification{
		Kind:        "resolved",
		MonitorName: monitor.Name,
		MonitorID:   monitor.ID,
		PolicyName:  policy.Name,
		Status:      monitor.Status,
		Message:     fmt.Sprintf("%s has recovered", monitor.Name),
		TriggeredAt: h.TriggeredAt,
		ResolvedAt:  h.ResolvedAt,
	}
	d.enqueueAll(ctx, policy, h.ID, n)
}

func (d *Dispatcher) enqueueAll(ctx context.Context, policy *database.AlertPolicy, alertHistoryID string, n Notification) {
	channels, err := d.db.AlertChannels().ListByIDs(policy.Channels)
	if err != nil {
		d.log.Error("notify: failed to load channels", "policy_id", policy.ID, "error", err)
		return
	}
	for _, ch := range channels {
		job := notificationJob{ChannelID: ch.ID, AlertHistoryID: alertHistoryID, Notification: n}
		opts := queue.DefaultOptions()
		if _, err := d.registry.Add(ctx, queueForChannelType(ch.Type), job, opts); err != nil {
			d.log.Error("notify: failed to enqueue notification", "channel_id", ch.ID, "error", err)
		}
	}
}

// Deliver is the queue.Handler bound to notify:email/chat/http: it looks
// up the channel, resolves the Sender, and writes the terminal
// NotificationLog row.
func (d *Dispatcher) Deliver(ctx context.Context, job *queue.Job) error {
	var payload notificationJob
	if err := json.Unmarshal(job.Data, &payload); err != nil {
		return fmt.Errorf("notify: failed to decode job: %w", err)
	}

	channel, err := d.db.AlertChannels().GetByID(payload.ChannelID)
	if err != nil {
		return fmt.Errorf("notify: failed to load channel %s: %w", payload.ChannelID, err)
	}
	sender, ok := d.senders[channel.Type]
	if !ok {
		d.log.Error("notify: no sender registered for channel type", "type", channel.Type)
		return nil // not retryable — permanently misconfigured channel
	}

	sendErr := sender.Send(ctx, channel, payload.Notification)

	// Deliver runs once per retry attempt (pkg/queue retries on error), so
	// only write the NotificationLog row on the attempt that actually
	// settles the job: a success, or the final exhausted attempt. Any
	// earlier failure still returns the error to trigger a retry, but
	// doesn't log — otherwise a channel that fails twice before succeeding
	// would leave two spurious rows behind the one terminal outcome
	// (spec.md §4.5, §8).
	final := job.Attempt+1 >= job.MaxAttempt
	if sendErr == nil || final {
		log := &database.NotificationLog{
			AlertHistoryID: payload.AlertHistoryID,
			ChannelID:      channel.ID,
			Success:        sendErr == nil,
			RetryCount:     job.Attempt,
		}
		if sendErr != nil {
			msg := sendErr.Error()
			log.ErrorMessage = &msg
		}
		if err := d.db.NotificationLogs().Insert(log); err != nil {
			d.log.Error("notify: failed to write notification log", "channel_id", channel.ID, "error", err)
		}
	}

	return sendErr
}
