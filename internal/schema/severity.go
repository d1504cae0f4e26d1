package schema

// Severity classifies threats, rules, and incidents.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// IsValid checks if the severity is a valid value.
func (s Severity) IsValid() bool {
	switch s {
	case SeverityInfo, SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// Rank returns an ordinal for severity comparison; higher is worse.
func (s Severity) Rank() int {
	switch s {
	case SeverityInfo:
		return 0
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	}
	return -1
}

// MaxSeverity returns the higher of two severities.
func MaxSeverity(a, b Severity) Severity {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// Category groups detection rules and incidents by threat domain.
type Category string

const (
	CategoryAuthentication Category = "authentication"
	CategoryDataBreach     Category = "data_breach"
	CategoryNetwork        Category = "network"
	CategoryDevice         Category = "device"
	CategoryPayment        Category = "payment"
	CategoryPrivacy        Category = "privacy"
)

// IsValid checks if the category is a valid value.
func (c Category) IsValid() bool {
	switch c {
	case CategoryAuthentication, CategoryDataBreach, CategoryNetwork,
		CategoryDevice, CategoryPayment, CategoryPrivacy:
		return true
	}
	return false
}

// CategoryForPayload maps a payload kind to the threat category its
// events fall under when no rule names one.
func CategoryForPayload(kind PayloadKind) Category {
	switch kind {
	case PayloadAuth:
		return CategoryAuthentication
	case PayloadNetwork:
		return CategoryNetwork
	case PayloadDataAccess:
		return CategoryDataBreach
	case PayloadPayment:
		return CategoryPayment
	case PayloadPrivacy:
		return CategoryPrivacy
	case PayloadDevice:
		return CategoryDevice
	}
	return CategoryNetwork
}

// DetectionMethod describes how a rule evaluates events.
type DetectionMethod string

const (
	MethodRuleBased  DetectionMethod = "rule_based"
	MethodBehavioral DetectionMethod = "behavioral"
	MethodAnomaly    DetectionMethod = "anomaly"
	MethodSignature  DetectionMethod = "signature"
	MethodHeuristic  DetectionMethod = "heuristic"
)

// IsValid checks if the detection method is a valid value.
func (m DetectionMethod) IsValid() bool {
	switch m {
	case MethodRuleBased, MethodBehavioral, MethodAnomaly, MethodSignature, MethodHeuristic:
		return true
	}
	return false
}
