// Package idgen generates opaque, short, URL-safe identifiers.
//
// Entities in the data model are required to carry "opaque short strings"
// rather than raw UUIDs (spec.md §3). A UUIDv4 rendered as a hyphenated
// hex string is neither short nor particularly opaque-looking, so ids are
// derived from a UUID's raw bytes and re-encoded as unpadded base32,
// prefixed with a short entity-kind tag for readability in logs.
package idgen

import (
	"encoding/base32"
	"strings"

	"github.com/google/uuid"
)

var encoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// New returns an opaque id tagged with kind, e.g. "mon_4k3jz...".
func New(kind string) string {
	raw := uuid.New()
	encoded := strings.ToLower(encoding.EncodeToString(raw[:]))
	if kind == "" {
		return encoded
	}
	return kind + "_" + encoded
}

// Kinds used across the data model, kept centralized so callers never
// hand-type a prefix.
const (
	KindOrg               = "org"
	KindMonitor           = "mon"
	KindCheckResult       = "chk"
	KindHeartbeat         = "hb"
	KindAlertPolicy       = "pol"
	KindAlertHistory      = "alt"
	KindAlertChannel      = "chn"
	KindNotificationLog   = "nlog"
	KindMaintenanceWindow = "mw"
	KindIncident          = "inc"
	KindProbe             = "prb"
	KindProbePendingJob   = "pj"
	KindJob               = "job"
)
