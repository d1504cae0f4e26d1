// Package response executes automated mitigations for detected threats and
// their incidents. Each action kind is backed by a pluggable effect; the
// orchestrator guarantees one execution per (incident, action) pair.
package response

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// ActionKind names an automated response action.
type ActionKind string

const (
	ActionBlockIP         ActionKind = "block_ip"
	ActionBlockUser       ActionKind = "block_user"
	ActionBlockDevice     ActionKind = "block_device"
	ActionTerminateSess   ActionKind = "force_session_termination"
	ActionForceReauth     ActionKind = "force_reauth"
	ActionRequire3DS      ActionKind = "require_3ds"
	ActionEncryptData     ActionKind = "encrypt_data"
	ActionAlertAdmin      ActionKind = "alert_admin"
	ActionAlertUser       ActionKind = "alert_user"
	ActionEscalate        ActionKind = "escalate_operator"
	ActionIsolateAccount  ActionKind = "contain_isolate_account"
	ActionQuarantineData  ActionKind = "contain_quarantine_data"
	ActionRevokeTokens    ActionKind = "eradicate_revoke_tokens"
	ActionRotateSecrets   ActionKind = "eradicate_rotate_secrets"
	ActionRestoreAccess   ActionKind = "recover_restore_access"
	ActionVerifyIntegrity ActionKind = "recover_verify_integrity"
)

// ActionStatus tracks an action record through execution.
type ActionStatus string

const (
	StatusPending    ActionStatus = "pending"
	StatusExecuted   ActionStatus = "executed"
	StatusFailed     ActionStatus = "failed"
	StatusRolledBack ActionStatus = "rolled_back"
)

// Blocking reports whether the action actively blocks an entity, as opposed
// to notifying or hardening.
func (k ActionKind) Blocking() bool {
	switch k {
	case ActionBlockIP, ActionBlockUser, ActionBlockDevice, ActionTerminateSess:
		return true
	}
	return false
}

// Phase returns the response phase the action belongs to, derived from its
// name prefix.
func (k ActionKind) Phase() string {
	s := string(k)
	switch {
	case strings.HasPrefix(s, "contain_"):
		return "containment"
	case strings.HasPrefix(s, "eradicate_"):
		return "eradication"
	case strings.HasPrefix(s, "recover_"):
		return "recovery"
	default:
		return "mitigation"
	}
}

// Target identifies the entities an action operates on.
type Target struct {
	UserID    string `json:"user_id,omitempty"`
	DeviceID  string `json:"device_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	SourceIP  string `json:"source_ip,omitempty"`
}

// AutomatedResponseAction is the durable record of one action execution.
type AutomatedResponseAction struct {
	ID         string       `json:"id"`
	IncidentID string       `json:"incident_id,omitempty"`
	ThreatID   string       `json:"threat_id"`
	Kind       ActionKind   `json:"kind"`
	Target     Target       `json:"target"`
	Status     ActionStatus `json:"status"`
	Result     string       `json:"result,omitempty"`
	Error      string       `json:"error,omitempty"`
	Attempts   int          `json:"attempts"`
	CreatedAt  time.Time    `json:"created_at"`
	ExecutedAt time.Time    `json:"executed_at,omitempty"`
}

func newAction(incidentID, threatID string, kind ActionKind, target Target) *AutomatedResponseAction {
	return &AutomatedResponseAction{
		ID:         uuid.NewString(),
		IncidentID: incidentID,
		ThreatID:   threatID,
		Kind:       kind,
		Target:     target,
		Status:     StatusPending,
		CreatedAt:  time.Now().UTC(),
	}
}
