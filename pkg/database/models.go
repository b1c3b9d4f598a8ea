package database

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// JSONMap is a generic JSONB column, replacing the teacher's per-field
// MarshalX/UnmarshalX string-column helpers (pkg/database/models.go in the
// teacher) with a single reusable Scanner/Valuer now that Postgres JSONB
// lets the driver round-trip structured data directly.
type JSONMap map[string]interface{}

func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

func (m *JSONMap) Scan(src interface{}) error {
	if src == nil {
		*m = JSONMap{}
		return nil
	}
	b, ok := src.([]byte)
	if !ok {
		if s, ok := src.(string); ok {
			b = []byte(s)
		} else {
			return fmt.Errorf("unsupported JSONMap scan type %T", src)
		}
	}
	if len(b) == 0 {
		*m = JSONMap{}
		return nil
	}
	return json.Unmarshal(b, m)
}

// JSONArray is a generic JSONB array column for structured lists
// (assertions, conditions) that are not simple string slices.
type JSONArray []interface{}

func (a JSONArray) Value() (driver.Value, error) {
	if a == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(a)
}

func (a *JSONArray) Scan(src interface{}) error {
	if src == nil {
		*a = JSONArray{}
		return nil
	}
	b, ok := src.([]byte)
	if !ok {
		if s, ok := src.(string); ok {
			b = []byte(s)
		} else {
			return fmt.Errorf("unsupported JSONArray scan type %T", src)
		}
	}
	if len(b) == 0 {
		*a = JSONArray{}
		return nil
	}
	return json.Unmarshal(b, a)
}

// StringArray binds a Go []string to a Postgres TEXT[] column (regions,
// affected monitors, channel lists) using the driver-agnostic
// "{a,b,c}" array literal format.
type StringArray []string

func (a StringArray) Value() (driver.Value, error) {
	if len(a) == 0 {
		return "{}", nil
	}
	quoted := make([]string, len(a))
	for i, s := range a {
		quoted[i] = `"` + strings.ReplaceAll(s, `"`, `\"`) + `"`
	}
	return "{" + strings.Join(quoted, ",") + "}", nil
}

func (a *StringArray) Scan(src interface{}) error {
	if src == nil {
		*a = StringArray{}
		return nil
	}
	var s string
	switch v := src.(type) {
	case []byte:
		s = string(v)
	case string:
		s = v
	default:
		return fmt.Errorf("unsupported StringArray scan type %T", src)
	}
	s = strings.TrimPrefix(strings.TrimSuffix(s, "}"), "{")
	if s == "" {
		*a = StringArray{}
		return nil
	}
	parts := strings.Split(s, ",")
	out := make(StringArray, len(parts))
	for i, p := range parts {
		out[i] = strings.Trim(p, `"`)
	}
	*a = out
	return nil
}

// Organization is the tenant boundary. Every other entity belongs to
// exactly one Organization (spec.md §3).
type Organization struct {
	ID        string    `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Settings  JSONMap   `db:"settings" json:"settings"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Monitor status values.
const (
	MonitorStatusActive   = "active"
	MonitorStatusDegraded = "degraded"
	MonitorStatusDown     = "down"
	MonitorStatusPaused   = "paused"
	MonitorStatusPending  = "pending"
)

// Monitor types, the closed set referenced by spec.md §3.
const (
	MonitorTypeHTTP          = "http"
	MonitorTypeDNS           = "dns"
	MonitorTypeSSL           = "ssl"
	MonitorTypeTCP           = "tcp"
	MonitorTypeICMP          = "icmp"
	MonitorTypeWebSocket     = "websocket"
	MonitorTypeGRPC          = "grpc"
	MonitorTypeSMTP          = "smtp"
	MonitorTypeIMAP          = "imap"
	MonitorTypePOP3          = "pop3"
	MonitorTypeSSH           = "ssh"
	MonitorTypeLDAP          = "ldap"
	MonitorTypeRDP           = "rdp"
	MonitorTypeMQTT          = "mqtt"
	MonitorTypeAMQP          = "amqp"
	MonitorTypePostgres      = "postgres"
	MonitorTypeMySQL         = "mysql"
	MonitorTypeMongoDB       = "mongodb"
	MonitorTypeRedis         = "redis"
	MonitorTypeElasticsearch = "elasticsearch"
	MonitorTypeTraceroute    = "traceroute"
	MonitorTypeEmailAuth     = "email_auth"
	MonitorTypePrometheus    = "prometheus_blackbox"
	MonitorTypeHeartbeat     = "heartbeat"
	MonitorTypeAggregate     = "aggregate"
	MonitorTypePrometheusRW  = "prometheus_remote_write"
)

// Monitor is a configured target + protocol + cadence + assertions.
type Monitor struct {
	ID                  string     `db:"id" json:"id"`
	OrgID               string     `db:"org_id" json:"orgId"`
	Name                string     `db:"name" json:"name"`
	Type                string     `db:"type" json:"type"`
	URL                 string     `db:"url" json:"url"`
	Method              string     `db:"method" json:"method"`
	Headers             JSONMap    `db:"headers" json:"headers"`
	Body                string     `db:"body" json:"body"`
	IntervalSeconds     int        `db:"interval_seconds" json:"intervalSeconds"`
	TimeoutMs           int        `db:"timeout_ms" json:"timeoutMs"`
	DegradedThresholdMs int        `db:"degraded_threshold_ms" json:"degradedThresholdMs"`
	Assertions          JSONArray  `db:"assertions" json:"assertions"`
	Config              JSONMap    `db:"config" json:"config"`
	Regions             StringArray `db:"regions" json:"regions"`
	Paused              bool       `db:"paused" json:"paused"`
	Status              string     `db:"status" json:"status"`
	LastCheckedAt       *time.Time `db:"last_checked_at" json:"lastCheckedAt"`
	NextCheckAt         time.Time  `db:"next_check_at" json:"nextCheckAt"`
	CreatedAt           time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt           time.Time  `db:"updated_at" json:"updatedAt"`
}

// IsPassive reports whether this monitor type advances nextCheckAt
// without ever being enqueued onto a protocol queue (spec.md §4.1 step 4).
func (m *Monitor) IsPassive() bool {
	return m.Type == MonitorTypePrometheusRW || m.Type == MonitorTypeHeartbeat || m.Type == MonitorTypeAggregate
}

// CheckResult status values.
const (
	CheckStatusSuccess  = "success"
	CheckStatusDegraded = "degraded"
	CheckStatusFailure  = "failure"
	CheckStatusTimeout  = "timeout"
	CheckStatusError    = "error"
)

// IsFailureStatus reports whether s counts toward alert fire conditions.
func IsFailureStatus(s string) bool {
	return s == CheckStatusFailure || s == CheckStatusTimeout || s == CheckStatusError
}

// CheckResult is one measurement of a monitor at a point in time.
type CheckResult struct {
	ID             string    `db:"id" json:"id"`
	MonitorID      string    `db:"monitor_id" json:"monitorId"`
	Region         string    `db:"region" json:"region"`
	Status         string    `db:"status" json:"status"`
	ResponseTimeMs *int      `db:"response_time_ms" json:"responseTimeMs"`
	DNSTimeMs      *int      `db:"dns_time_ms" json:"dnsTimeMs"`
	TCPTimeMs      *int      `db:"tcp_time_ms" json:"tcpTimeMs"`
	TLSTimeMs      *int      `db:"tls_time_ms" json:"tlsTimeMs"`
	ErrorMessage   *string   `db:"error_message" json:"errorMessage"`
	ErrorCode      *string   `db:"error_code" json:"errorCode"`
	Payload        JSONMap   `db:"payload" json:"payload"`
	IncidentID     *string   `db:"incident_id" json:"incidentId"`
	CreatedAt      time.Time `db:"created_at" json:"createdAt"`
}

// HeartbeatPing status values.
const (
	HeartbeatStatusStart    = "start"
	HeartbeatStatusComplete = "complete"
	HeartbeatStatusFail     = "fail"
)

// HeartbeatPing is recorded when an external job pings the platform.
type HeartbeatPing struct {
	ID         string    `db:"id" json:"id"`
	MonitorID  string    `db:"monitor_id" json:"monitorId"`
	Status     string    `db:"status" json:"status"`
	DurationMs *int      `db:"duration_ms" json:"durationMs"`
	ExitCode   *int      `db:"exit_code" json:"exitCode"`
	CreatedAt  time.Time `db:"created_at" json:"createdAt"`
}

// RollupRow backs both CheckResultsHourly and CheckResultsDaily: the two
// tables share an identical column shape (spec.md §3), so one Go struct
// serves both repositories, distinguished by table name at the SQL layer.
type RollupRow struct {
	MonitorID         string    `db:"monitor_id" json:"monitorId"`
	Region            string    `db:"region" json:"region"`
	BucketStart       time.Time `db:"bucket_start" json:"bucketStart"`
	AvgResponseTimeMs *float64  `db:"avg_response_time_ms" json:"avgResponseTimeMs"`
	MinResponseTimeMs *int      `db:"min_response_time_ms" json:"minResponseTimeMs"`
	MaxResponseTimeMs *int      `db:"max_response_time_ms" json:"maxResponseTimeMs"`
	P50ResponseTimeMs *int      `db:"p50_response_time_ms" json:"p50ResponseTimeMs"`
	P75ResponseTimeMs *int      `db:"p75_response_time_ms" json:"p75ResponseTimeMs"`
	P90ResponseTimeMs *int      `db:"p90_response_time_ms" json:"p90ResponseTimeMs"`
	P95ResponseTimeMs *int      `db:"p95_response_time_ms" json:"p95ResponseTimeMs"`
	P99ResponseTimeMs *int      `db:"p99_response_time_ms" json:"p99ResponseTimeMs"`
	SuccessCount      int       `db:"success_count" json:"successCount"`
	DegradedCount     int       `db:"degraded_count" json:"degradedCount"`
	FailureCount      int       `db:"failure_count" json:"failureCount"`
	TotalCount        int       `db:"total_count" json:"totalCount"`
	UptimePercentage  float64   `db:"uptime_percentage" json:"uptimePercentage"`
}

// AlertConditions is the parsed shape of AlertPolicy.Conditions.
type AlertConditions struct {
	ConsecutiveFailures  *int `json:"consecutiveFailures,omitempty"`
	FailuresInWindow     *struct {
		Count         int `json:"count"`
		WindowMinutes int `json:"windowMinutes"`
	} `json:"failuresInWindow,omitempty"`
	DegradedDuration     *int `json:"degradedDuration,omitempty"`
	ConsecutiveSuccesses *int `json:"consecutiveSuccesses,omitempty"`
}

// AlertPolicy defines when and how a monitor's failures become alerts.
type AlertPolicy struct {
	ID                 string      `db:"id" json:"id"`
	OrgID              string      `db:"org_id" json:"orgId"`
	Name               string      `db:"name" json:"name"`
	Enabled            bool        `db:"enabled" json:"enabled"`
	Conditions         JSONMap     `db:"conditions" json:"conditions"`
	Channels           StringArray `db:"channels" json:"channels"`
	CooldownMinutes    int         `db:"cooldown_minutes" json:"cooldownMinutes"`
	EscalationPolicyID *string     `db:"escalation_policy_id" json:"escalationPolicyId"`
	OncallRotationID   *string     `db:"oncall_rotation_id" json:"oncallRotationId"`
	CreatedAt          time.Time   `db:"created_at" json:"createdAt"`
	UpdatedAt          time.Time   `db:"updated_at" json:"updatedAt"`
}

// ParsedConditions decodes the JSONB conditions blob into AlertConditions.
func (p *AlertPolicy) ParsedConditions() (AlertConditions, error) {
	var c AlertConditions
	b, err := json.Marshal(map[string]interface{}(p.Conditions))
	if err != nil {
		return c, err
	}
	if err := json.Unmarshal(b, &c); err != nil {
		return c, err
	}
	return c, nil
}

// MonitorAlertPolicy links a policy to a single monitor, restricting its
// scope; a policy with zero link rows is org-wide (spec.md §3, §9).
type MonitorAlertPolicy struct {
	MonitorID string `db:"monitor_id" json:"monitorId"`
	PolicyID  string `db:"policy_id" json:"policyId"`
}

// AlertHistory status values.
const (
	AlertStatusTriggered = "triggered"
	AlertStatusResolved  = "resolved"
)

// AlertHistoryMetadata is the parsed shape of AlertHistory.Metadata.
type AlertHistoryMetadata struct {
	CheckResultID     string    `json:"checkResultId"`
	ErrorMessage      string    `json:"errorMessage,omitempty"`
	FailureCount      int       `json:"failureCount"`
	FailureTimestamps []int64   `json:"failureTimestamps"`
	ResponseTimeMs    *int      `json:"responseTimeMs,omitempty"`
	StatusCode        *int      `json:"statusCode,omitempty"`
}

// AlertHistory is a persisted finding that a policy's fire condition is
// currently (or was) satisfied for a monitor.
type AlertHistory struct {
	ID          string     `db:"id" json:"id"`
	OrgID       string     `db:"org_id" json:"orgId"`
	MonitorID   string     `db:"monitor_id" json:"monitorId"`
	PolicyID    string     `db:"policy_id" json:"policyId"`
	Status      string     `db:"status" json:"status"`
	TriggeredAt time.Time  `db:"triggered_at" json:"triggeredAt"`
	ResolvedAt  *time.Time `db:"resolved_at" json:"resolvedAt"`
	ResolvedBy  *string    `db:"resolved_by" json:"resolvedBy"`
	Metadata    JSONMap    `db:"metadata" json:"metadata"`
}

// AlertChannel types, the closed set of spec.md §3/§4.5.
const (
	ChannelTypeEmail      = "email"
	ChannelTypeSlack      = "slack"
	ChannelTypeDiscord    = "discord"
	ChannelTypeWebhook    = "webhook"
	ChannelTypeTeams      = "teams"
	ChannelTypePagerDuty  = "pagerduty"
	ChannelTypeSMS        = "sms"
	ChannelTypeNtfy       = "ntfy"
	ChannelTypeGoogleChat = "googlechat"
	ChannelTypeIRC        = "irc"
	ChannelTypeTwitter    = "twitter"
)

// AlertChannel is a configured notification destination.
type AlertChannel struct {
	ID        string    `db:"id" json:"id"`
	OrgID     string    `db:"org_id" json:"orgId"`
	Type      string    `db:"type" json:"type"`
	Config    JSONMap   `db:"config" json:"config"`
	Enabled   bool      `db:"enabled" json:"enabled"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}

// NotificationLog is one row per final delivery attempt per channel per
// alert.
type NotificationLog struct {
	ID             string    `db:"id" json:"id"`
	AlertHistoryID string    `db:"alert_history_id" json:"alertHistoryId"`
	ChannelID      string    `db:"channel_id" json:"channelId"`
	Success        bool      `db:"success" json:"success"`
	ResponseCode   *int      `db:"response_code" json:"responseCode"`
	ErrorMessage   *string   `db:"error_message" json:"errorMessage"`
	RetryCount     int       `db:"retry_count" json:"retryCount"`
	SentAt         time.Time `db:"sent_at" json:"sentAt"`
}

// MaintenanceWindow is a scheduled period during which affected monitors
// are not probed and alerts are suppressed.
type MaintenanceWindow struct {
	ID                       string      `db:"id" json:"id"`
	OrgID                    string      `db:"org_id" json:"orgId"`
	Name                     string      `db:"name" json:"name"`
	StartsAt                 time.Time   `db:"starts_at" json:"startsAt"`
	EndsAt                   time.Time   `db:"ends_at" json:"endsAt"`
	AffectedMonitors         StringArray `db:"affected_monitors" json:"affectedMonitors"`
	NotifyBeforeStart        bool        `db:"notify_before_start" json:"notifyBeforeStart"`
	NotifyBeforeStartMinutes int         `db:"notify_before_start_minutes" json:"notifyBeforeStartMinutes"`
	NotifyOnStart            bool        `db:"notify_on_start" json:"notifyOnStart"`
	NotifyOnEnd              bool        `db:"notify_on_end" json:"notifyOnEnd"`
	BeforeStartSentAt        *time.Time  `db:"before_start_sent_at" json:"beforeStartSentAt"`
	OnStartSentAt            *time.Time  `db:"on_start_sent_at" json:"onStartSentAt"`
	OnEndSentAt              *time.Time  `db:"on_end_sent_at" json:"onEndSentAt"`
	CreatedAt                time.Time   `db:"created_at" json:"createdAt"`
}

// Active reports whether t falls within [StartsAt, EndsAt).
func (w *MaintenanceWindow) Active(t time.Time) bool {
	return !t.Before(w.StartsAt) && t.Before(w.EndsAt)
}

// Incident severity and status values.
const (
	IncidentSeverityMinor    = "minor"
	IncidentSeverityMajor    = "major"
	IncidentSeverityCritical = "critical"

	IncidentStatusInvestigating = "investigating"
	IncidentStatusIdentified    = "identified"
	IncidentStatusMonitoring    = "monitoring"
	IncidentStatusResolved      = "resolved"
)

// Incident groups one or more failing monitors under a single narrative.
type Incident struct {
	ID               string      `db:"id" json:"id"`
	OrgID            string      `db:"org_id" json:"orgId"`
	Title            string      `db:"title" json:"title"`
	Severity         string      `db:"severity" json:"severity"`
	Status           string      `db:"status" json:"status"`
	StartedAt        time.Time   `db:"started_at" json:"startedAt"`
	ResolvedAt       *time.Time  `db:"resolved_at" json:"resolvedAt"`
	AffectedMonitors StringArray `db:"affected_monitors" json:"affectedMonitors"`
}

// Probe status values.
const (
	ProbeStatusActive   = "active"
	ProbeStatusOffline  = "offline"
	ProbeStatusDisabled = "disabled"
	ProbeStatusPending  = "pending"
)

// Probe is an external agent executing checks on behalf of the core.
type Probe struct {
	ID              string     `db:"id" json:"id"`
	OrgID           string     `db:"org_id" json:"orgId"`
	Name            string     `db:"name" json:"name"`
	TokenHash       string     `db:"token_hash" json:"-"`
	Status          string     `db:"status" json:"status"`
	LastHeartbeatAt *time.Time `db:"last_heartbeat_at" json:"lastHeartbeatAt"`
	CreatedAt       time.Time  `db:"created_at" json:"createdAt"`
}

// ProbeAssignment pins a monitor's checks to a specific probe.
type ProbeAssignment struct {
	ProbeID   string `db:"probe_id" json:"probeId"`
	MonitorID string `db:"monitor_id" json:"monitorId"`
	Priority  int    `db:"priority" json:"priority"`
	Exclusive bool   `db:"exclusive" json:"exclusive"`
}

// ProbePendingJob status values.
const (
	ProbeJobStatusPending   = "pending"
	ProbeJobStatusClaimed   = "claimed"
	ProbeJobStatusCompleted = "completed"
)

// ProbePendingJob is a unit of work dispatched to a specific probe.
type ProbePendingJob struct {
	ID        string    `db:"id" json:"id"`
	ProbeID   string    `db:"probe_id" json:"probeId"`
	MonitorID string    `db:"monitor_id" json:"monitorId"`
	JobData   JSONMap   `db:"job_data" json:"jobData"`
	Status    string    `db:"status" json:"status"`
	ExpiresAt time.Time `db:"expires_at" json:"expiresAt"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}
