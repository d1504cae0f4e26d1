package rules

import (
	"time"

	"hub-sentinel/internal/schema"
)

// BuiltinRules returns the built-in detection rule set loaded at startup.
func BuiltinRules() []*DetectionRule {
	return []*DetectionRule{
		// Authentication
		BruteForceRule(),
		CredentialStuffingRule(),
		ImpossibleTravelRule(),
		OffHoursLoginRule(),

		// Payment
		LargePaymentRule(),
		SuspiciousPaymentRule(),

		// Data / privacy
		RapidDataExportRule(),
		PrivacyEraseBurstRule(),

		// Network / device
		MaliciousSourceRule(),
		RequestFloodRule(),
		JailbrokenDeviceRule(),
	}
}

// BruteForceRule detects repeated failed logins from one source address.
func BruteForceRule() *DetectionRule {
	return &DetectionRule{
		ID:          "builtin-brute-force",
		Name:        "Brute Force Login Attempts",
		Description: "More than five failed logins from the same source within five minutes",
		Category:    schema.CategoryAuthentication,
		Severity:    schema.SeverityHigh,
		Method:      schema.MethodRuleBased,
		Priority:    10,
		Enabled:     true,
		Conditions: Conditions{
			EventTypes: []string{"login_failed"},
			Threshold:  5,
			Window:     5 * time.Minute,
			GroupBy:    "source_ip",
		},
		Actions: []string{"block_ip", "alert_admin"},
	}
}

// CredentialStuffingRule detects failed logins spread across many accounts
// from one source.
func CredentialStuffingRule() *DetectionRule {
	return &DetectionRule{
		ID:          "builtin-credential-stuffing",
		Name:        "Credential Stuffing",
		Description: "Burst of failed logins from one source across accounts",
		Category:    schema.CategoryAuthentication,
		Severity:    schema.SeverityHigh,
		Method:      schema.MethodRuleBased,
		Priority:    11,
		Enabled:     true,
		Conditions: Conditions{
			EventTypes: []string{"login_failed"},
			Threshold:  15,
			Window:     10 * time.Minute,
			GroupBy:    "source_ip",
		},
		Actions: []string{"block_ip", "force_session_termination", "alert_admin"},
	}
}

// ImpossibleTravelRule flags logins far from every known location cluster.
func ImpossibleTravelRule() *DetectionRule {
	return &DetectionRule{
		ID:          "builtin-impossible-travel",
		Name:        "Impossible Travel",
		Description: "Login location far from all of the user's known locations",
		Category:    schema.CategoryAuthentication,
		Severity:    schema.SeverityHigh,
		Method:      schema.MethodBehavioral,
		Priority:    20,
		Enabled:     true,
		Conditions: Conditions{
			EventTypes:    []string{"login_success", "login_failed"},
			Checks:        []string{"location"},
			MinConfidence: 0.7,
		},
		Actions: []string{"force_session_termination", "force_reauth", "alert_user"},
	}
}

// OffHoursLoginRule flags logins far outside the user's usual hours.
func OffHoursLoginRule() *DetectionRule {
	return &DetectionRule{
		ID:          "builtin-off-hours-login",
		Name:        "Off-Hours Login",
		Description: "Login hour deviates strongly from the user's baseline",
		Category:    schema.CategoryAuthentication,
		Severity:    schema.SeverityMedium,
		Method:      schema.MethodAnomaly,
		Priority:    30,
		Enabled:     true,
		Conditions: Conditions{
			EventTypes:    []string{"login_success"},
			Checks:        []string{"time_of_day"},
			MinConfidence: 0.7,
		},
		Actions: []string{"alert_user"},
	}
}

// LargePaymentRule flags transactions above the review threshold.
func LargePaymentRule() *DetectionRule {
	return &DetectionRule{
		ID:          "builtin-large-payment",
		Name:        "Large Payment Transaction",
		Description: "Single transaction above the step-up authentication threshold",
		Category:    schema.CategoryPayment,
		Severity:    schema.SeverityHigh,
		Method:      schema.MethodRuleBased,
		Priority:    10,
		Enabled:     true,
		Conditions: Conditions{
			EventTypes:  []string{"payment_transaction"},
			FieldLimits: map[string]float64{"payload.amount": 10000},
		},
		Actions: []string{"require_3ds", "alert_admin"},
	}
}

// SuspiciousPaymentRule combines weak payment signals into one score.
func SuspiciousPaymentRule() *DetectionRule {
	return &DetectionRule{
		ID:          "builtin-suspicious-payment",
		Name:        "Suspicious Payment Pattern",
		Description: "Weighted combination of risky payment signals",
		Category:    schema.CategoryPayment,
		Severity:    schema.SeverityMedium,
		Method:      schema.MethodHeuristic,
		Priority:    40,
		Enabled:     true,
		Conditions: Conditions{
			EventTypes: []string{"payment_transaction"},
			Weights: map[string]float64{
				"high_amount":  0.4,
				"foreign_card": 0.3,
				"missing_3ds":  0.3,
				"off_hours":    0.2,
			},
			ScoreThreshold: 0.6,
		},
		Actions: []string{"require_3ds"},
	}
}

// RapidDataExportRule detects repeated bulk exports by one entity.
func RapidDataExportRule() *DetectionRule {
	return &DetectionRule{
		ID:          "builtin-rapid-data-export",
		Name:        "Rapid Data Export",
		Description: "Repeated data exports by the same entity in a short window",
		Category:    schema.CategoryDataBreach,
		Severity:    schema.SeverityHigh,
		Method:      schema.MethodRuleBased,
		Priority:    10,
		Enabled:     true,
		Conditions: Conditions{
			EventTypes: []string{"data_export"},
			Threshold:  3,
			Window:     10 * time.Minute,
			GroupBy:    "entity",
		},
		Actions: []string{"contain_isolate_account", "eradicate_revoke_tokens", "encrypt_data", "alert_admin"},
	}
}

// PrivacyEraseBurstRule detects mass personal-data operations.
func PrivacyEraseBurstRule() *DetectionRule {
	return &DetectionRule{
		ID:          "builtin-privacy-erase-burst",
		Name:        "Personal Data Operation Burst",
		Description: "Burst of erasure or consent operations by one entity",
		Category:    schema.CategoryPrivacy,
		Severity:    schema.SeverityHigh,
		Method:      schema.MethodRuleBased,
		Priority:    15,
		Enabled:     true,
		Conditions: Conditions{
			EventTypes: []string{"data_erasure", "consent_change"},
			Threshold:  10,
			Window:     15 * time.Minute,
			GroupBy:    "entity",
		},
		Actions: []string{"contain_isolate_account", "alert_admin"},
	}
}

// MaliciousSourceRule matches request origins against a static indicator list.
func MaliciousSourceRule() *DetectionRule {
	return &DetectionRule{
		ID:          "builtin-malicious-source",
		Name:        "Known Malicious Source",
		Description: "Source address found on the threat indicator list",
		Category:    schema.CategoryNetwork,
		Severity:    schema.SeverityCritical,
		Method:      schema.MethodSignature,
		Priority:    5,
		Enabled:     true,
		Conditions: Conditions{
			EventTypes:     []string{"*"},
			IndicatorField: "source_ip",
			Indicators: []string{
				"198.51.100.23",
				"198.51.100.77",
				"203.0.113.5",
				"203.0.113.66",
			},
		},
		Actions: []string{"block_ip", "alert_admin"},
	}
}

// RequestFloodRule detects abnormal request velocity against the baseline.
func RequestFloodRule() *DetectionRule {
	return &DetectionRule{
		ID:          "builtin-request-flood",
		Name:        "Request Velocity Anomaly",
		Description: "Entity request rate far above its historical baseline",
		Category:    schema.CategoryNetwork,
		Severity:    schema.SeverityHigh,
		Method:      schema.MethodAnomaly,
		Priority:    25,
		Enabled:     true,
		Conditions: Conditions{
			EventTypes:    []string{"api_request"},
			Checks:        []string{"velocity"},
			MinConfidence: 0.7,
		},
		Actions: []string{"block_ip", "force_reauth"},
	}
}

// JailbrokenDeviceRule flags registrations from compromised devices.
func JailbrokenDeviceRule() *DetectionRule {
	return &DetectionRule{
		ID:          "builtin-jailbroken-device",
		Name:        "Jailbroken Device Registration",
		Description: "New device registration reporting a jailbroken posture",
		Category:    schema.CategoryDevice,
		Severity:    schema.SeverityMedium,
		Method:      schema.MethodRuleBased,
		Priority:    35,
		Enabled:     true,
		Conditions: Conditions{
			EventTypes: []string{"device_registered", "device_changed"},
			Patterns:   map[string]string{"payload.jailbroken": "^true$"},
		},
		Actions: []string{"block_device", "alert_user"},
	}
}
