package evaluator

import (
	"strconv"

	"hub-sentinel/internal/schema"
)

// eventField resolves a dotted field path against an event, returning the
// value as a string. Paths under payload. resolve against the typed payload.
func eventField(event *schema.SecurityEvent, path string) (string, bool) {
	switch path {
	case "type":
		return event.Type, true
	case "user_id":
		return event.UserID, event.UserID != ""
	case "device_id":
		return event.DeviceID, event.DeviceID != ""
	case "session_id":
		return event.SessionID, event.SessionID != ""
	case "source_ip":
		return event.SourceIP, event.SourceIP != ""
	}

	switch p := event.Payload.(type) {
	case schema.AuthPayload:
		switch path {
		case "payload.method":
			return p.Method, true
		case "payload.success":
			return strconv.FormatBool(p.Success), true
		case "payload.mfa_used":
			return strconv.FormatBool(p.MFAUsed), true
		case "payload.failure_reason":
			return p.FailureReason, p.FailureReason != ""
		}
	case schema.NetworkPayload:
		switch path {
		case "payload.path":
			return p.Path, true
		case "payload.method":
			return p.Method, true
		case "payload.status_code":
			return strconv.Itoa(p.StatusCode), true
		case "payload.domain":
			return p.Domain, p.Domain != ""
		case "payload.user_agent":
			return p.UserAgent, p.UserAgent != ""
		}
	case schema.DataAccessPayload:
		switch path {
		case "payload.resource":
			return p.Resource, true
		case "payload.operation":
			return p.Operation, true
		case "payload.file_hash":
			return p.FileHash, p.FileHash != ""
		case "payload.sensitive":
			return strconv.FormatBool(p.Sensitive), true
		}
	case schema.PaymentPayload:
		switch path {
		case "payload.currency":
			return p.Currency, true
		case "payload.card_country":
			return p.CardCountry, p.CardCountry != ""
		case "payload.three_ds_used":
			return strconv.FormatBool(p.ThreeDSUsed), true
		}
	case schema.PrivacyPayload:
		switch path {
		case "payload.subject":
			return p.Subject, true
		case "payload.operation":
			return p.Operation, true
		}
	case schema.DevicePayload:
		switch path {
		case "payload.fingerprint":
			return p.Fingerprint, true
		case "payload.os":
			return p.OS, true
		case "payload.app_version":
			return p.AppVersion, true
		case "payload.jailbroken":
			return strconv.FormatBool(p.Jailbroken), true
		}
	}
	return "", false
}

// eventNumber resolves a dotted field path to a numeric value for limit
// conditions.
func eventNumber(event *schema.SecurityEvent, path string) (float64, bool) {
	switch p := event.Payload.(type) {
	case schema.NetworkPayload:
		switch path {
		case "payload.status_code":
			return float64(p.StatusCode), true
		case "payload.bytes_out":
			return float64(p.BytesOut), true
		}
	case schema.DataAccessPayload:
		if path == "payload.record_count" {
			return float64(p.RecordCount), true
		}
	case schema.PaymentPayload:
		if path == "payload.amount" {
			return p.Amount, true
		}
	case schema.PrivacyPayload:
		if path == "payload.record_count" {
			return float64(p.RecordCount), true
		}
	}
	return 0, false
}
