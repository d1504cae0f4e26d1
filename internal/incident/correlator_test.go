package incident

import (
	"errors"
	"testing"
	"time"

	"hub-sentinel/internal/schema"
	"hub-sentinel/internal/threat"
)

func highThreat(category schema.Category, userID string) *threat.Event {
	t := threat.New(category, schema.SeverityHigh, schema.MethodRuleBased, time.Now())
	t.UserID = userID
	return t
}

func TestHighThreatOpensIncident(t *testing.T) {
	c := NewCorrelator(DefaultConfig())

	inc, created := c.Correlate(highThreat(schema.CategoryPayment, "user-1"))
	if !created {
		t.Fatal("high threat did not open an incident")
	}
	if inc.Status != StatusOpen {
		t.Errorf("status = %q, want open", inc.Status)
	}
	if inc.Severity != schema.SeverityHigh {
		t.Errorf("severity = %q, want high", inc.Severity)
	}
	if len(inc.ThreatIDs) != 1 {
		t.Errorf("threat ids = %d, want 1", len(inc.ThreatIDs))
	}
	if inc.Impact.AffectedUserCount != 1 {
		t.Errorf("affected users = %d, want 1", inc.Impact.AffectedUserCount)
	}
}

func TestMediumThreatAloneOpensNothing(t *testing.T) {
	c := NewCorrelator(DefaultConfig())

	th := threat.New(schema.CategoryNetwork, schema.SeverityMedium, schema.MethodAnomaly, time.Now())
	if inc, created := c.Correlate(th); created || inc != nil {
		t.Fatal("medium threat opened an incident on its own")
	}
	if c.Len() != 0 {
		t.Errorf("incidents = %d, want 0", c.Len())
	}
}

func TestThreatsMergeWithinWindow(t *testing.T) {
	c := NewCorrelator(DefaultConfig())

	first, created := c.Correlate(highThreat(schema.CategoryAuthentication, "user-1"))
	if !created {
		t.Fatal("first threat did not open")
	}
	second, created := c.Correlate(highThreat(schema.CategoryAuthentication, "user-2"))
	if created {
		t.Fatal("second threat opened a new incident inside the window")
	}
	if second.ID != first.ID {
		t.Fatalf("merged into %s, want %s", second.ID, first.ID)
	}
	if len(second.ThreatIDs) != 2 {
		t.Errorf("threat ids = %d, want 2", len(second.ThreatIDs))
	}
	if second.Impact.AffectedUserCount != 2 {
		t.Errorf("affected users = %d, want 2", second.Impact.AffectedUserCount)
	}

	// A medium threat in the same category also folds in.
	medium := threat.New(schema.CategoryAuthentication, schema.SeverityMedium, schema.MethodAnomaly, time.Now())
	medium.UserID = "user-3"
	third, created := c.Correlate(medium)
	if created || third == nil {
		t.Fatal("medium threat did not fold into the active incident")
	}
	if len(third.ThreatIDs) != 3 {
		t.Errorf("threat ids = %d, want 3", len(third.ThreatIDs))
	}
}

func TestSeverityNeverDecreasesOnMerge(t *testing.T) {
	c := NewCorrelator(DefaultConfig())

	critical := threat.New(schema.CategoryNetwork, schema.SeverityCritical, schema.MethodSignature, time.Now())
	c.Correlate(critical)

	inc, _ := c.Correlate(highThreat(schema.CategoryNetwork, "user-1"))
	if inc.Severity != schema.SeverityCritical {
		t.Errorf("severity after high merge = %q, want critical", inc.Severity)
	}
}

func TestCategoriesDoNotCrossMerge(t *testing.T) {
	c := NewCorrelator(DefaultConfig())

	a, _ := c.Correlate(highThreat(schema.CategoryPayment, "user-1"))
	b, created := c.Correlate(highThreat(schema.CategoryNetwork, "user-1"))
	if !created {
		t.Fatal("different category folded into an existing incident")
	}
	if a.ID == b.ID {
		t.Fatal("payment and network threats share an incident")
	}
}

func TestResolvedIncidentNotMergeable(t *testing.T) {
	c := NewCorrelator(DefaultConfig())

	first, _ := c.Correlate(highThreat(schema.CategoryPayment, "user-1"))
	if err := c.Acknowledge(first.ID, "analyst-1"); err != nil {
		t.Fatal(err)
	}
	if err := c.Resolve(first.ID, "card reissued"); err != nil {
		t.Fatal(err)
	}

	second, created := c.Correlate(highThreat(schema.CategoryPayment, "user-2"))
	if !created {
		t.Fatal("threat after resolution did not open a new incident")
	}
	if second.ID == first.ID {
		t.Fatal("threat merged into a resolved incident")
	}
}

func TestWindowLapseOpensNewIncident(t *testing.T) {
	cfg := Config{Window: time.Nanosecond}
	c := NewCorrelator(cfg)

	first, _ := c.Correlate(highThreat(schema.CategoryPayment, "user-1"))
	time.Sleep(time.Microsecond)
	second, created := c.Correlate(highThreat(schema.CategoryPayment, "user-2"))
	if !created {
		t.Fatal("threat after window lapse did not open a new incident")
	}
	if second.ID == first.ID {
		t.Fatal("threat merged across a lapsed window")
	}
}

func TestLifecycleTransitions(t *testing.T) {
	c := NewCorrelator(DefaultConfig())
	inc, _ := c.Correlate(highThreat(schema.CategoryDataBreach, "user-1"))

	if err := c.Acknowledge(inc.ID, "analyst-1"); err != nil {
		t.Fatalf("acknowledge: %v", err)
	}
	got, _ := c.Get(inc.ID)
	if got.Status != StatusInvestigating {
		t.Errorf("status = %q, want investigating", got.Status)
	}
	if got.AcknowledgedAt.IsZero() {
		t.Error("acknowledged time not stamped")
	}

	if err := c.BeginMitigation(inc.ID); err != nil {
		t.Fatalf("begin mitigation: %v", err)
	}
	// Idempotent while already mitigating.
	if err := c.BeginMitigation(inc.ID); err != nil {
		t.Fatalf("repeat begin mitigation: %v", err)
	}

	if err := c.Resolve(inc.ID, "tokens revoked"); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	got, _ = c.Get(inc.ID)
	if got.ResolvedAt.IsZero() {
		t.Error("resolved time not stamped")
	}
	if got.Assignee != "analyst-1" || got.Resolution != "tokens revoked" {
		t.Errorf("assignee/resolution = %q/%q", got.Assignee, got.Resolution)
	}

	if err := c.Close(inc.ID); err != nil {
		t.Fatalf("close: %v", err)
	}

	// Closed is terminal.
	if err := c.Acknowledge(inc.ID, "analyst-1"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("transition from closed = %v, want ErrInvalidTransition", err)
	}
}

func TestFalsePositiveOnlyBeforeMitigation(t *testing.T) {
	c := NewCorrelator(DefaultConfig())

	inc, _ := c.Correlate(highThreat(schema.CategoryNetwork, "user-1"))
	if err := c.MarkFalsePositive(inc.ID); err != nil {
		t.Fatalf("false positive from open: %v", err)
	}

	inc2, _ := c.Correlate(highThreat(schema.CategoryNetwork, "user-2"))
	if err := c.BeginMitigation(inc2.ID); err != nil {
		t.Fatal(err)
	}
	if err := c.MarkFalsePositive(inc2.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("false positive from mitigating = %v, want ErrInvalidTransition", err)
	}
}

func TestUnknownIncident(t *testing.T) {
	c := NewCorrelator(DefaultConfig())
	if err := c.Acknowledge("nope", "analyst-1"); !errors.Is(err, ErrUnknownIncident) {
		t.Errorf("acknowledge unknown = %v, want ErrUnknownIncident", err)
	}
	if err := c.RecordAction("nope", "block_ip"); !errors.Is(err, ErrUnknownIncident) {
		t.Errorf("record action unknown = %v, want ErrUnknownIncident", err)
	}
}

func TestPhaseBucketing(t *testing.T) {
	c := NewCorrelator(DefaultConfig())
	inc, _ := c.Correlate(highThreat(schema.CategoryDataBreach, "user-1"))

	for _, action := range []string{
		"block_ip",
		"contain_isolate_account",
		"eradicate_revoke_tokens",
		"recover_restore_access",
		"alert_admin",
	} {
		if err := c.RecordAction(inc.ID, action); err != nil {
			t.Fatalf("record %s: %v", action, err)
		}
	}

	got, _ := c.Get(inc.ID)
	if len(got.Mitigation) != 2 {
		t.Errorf("mitigation = %v, want 2 entries", got.Mitigation)
	}
	if len(got.Containment) != 1 || got.Containment[0] != "contain_isolate_account" {
		t.Errorf("containment = %v", got.Containment)
	}
	if len(got.Eradication) != 1 {
		t.Errorf("eradication = %v", got.Eradication)
	}
	if len(got.Recovery) != 1 {
		t.Errorf("recovery = %v", got.Recovery)
	}
}

func TestImpactDeterministic(t *testing.T) {
	c := NewCorrelator(DefaultConfig())

	inc, _ := c.Correlate(highThreat(schema.CategoryDataBreach, "user-1"))
	if !inc.Impact.DataExposed {
		t.Error("data breach incident should expose data")
	}
	if inc.Impact.EstimatedCost != 60000 {
		t.Errorf("estimated cost = %v, want 60000", inc.Impact.EstimatedCost)
	}
	hasGDPR := false
	for _, tag := range inc.ComplianceTags {
		if tag == "GDPR" {
			hasGDPR = true
		}
	}
	if !hasGDPR {
		t.Errorf("compliance tags = %v, want GDPR", inc.ComplianceTags)
	}

	pay, _ := c.Correlate(highThreat(schema.CategoryPayment, "user-1"))
	if pay.Impact.DataExposed {
		t.Error("payment incident should not mark data exposed")
	}
	if pay.Impact.EstimatedCost != 30000 {
		t.Errorf("payment cost = %v, want 30000", pay.Impact.EstimatedCost)
	}
}

func TestOpenSeverityCounts(t *testing.T) {
	c := NewCorrelator(DefaultConfig())

	crit := threat.New(schema.CategoryNetwork, schema.SeverityCritical, schema.MethodSignature, time.Now())
	c.Correlate(crit)
	c.Correlate(highThreat(schema.CategoryPayment, "user-1"))
	resolved, _ := c.Correlate(highThreat(schema.CategoryAuthentication, "user-2"))
	c.Acknowledge(resolved.ID, "analyst-2")
	c.Resolve(resolved.ID, "cleaned up")

	high, critical := c.OpenSeverityCounts()
	if high != 1 {
		t.Errorf("open high = %d, want 1", high)
	}
	if critical != 1 {
		t.Errorf("open critical = %d, want 1", critical)
	}
}
