package response

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeIncidents struct {
	mu         sync.Mutex
	mitigating map[string]bool
	actions    map[string][]string
}

func newFakeIncidents() *fakeIncidents {
	return &fakeIncidents{
		mitigating: make(map[string]bool),
		actions:    make(map[string][]string),
	}
}

func (f *fakeIncidents) BeginMitigation(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mitigating[id] = true
	return nil
}

func (f *fakeIncidents) RecordAction(id, action string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.actions[id] = append(f.actions[id], action)
	return nil
}

type fakeThreats struct {
	mu          sync.Mutex
	mitigations map[string][]string
}

func newFakeThreats() *fakeThreats {
	return &fakeThreats{mitigations: make(map[string][]string)}
}

func (f *fakeThreats) AppendMitigation(id, action string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mitigations[id] = append(f.mitigations[id], action)
}

func newTestOrchestrator() (*Orchestrator, *Blocklist, *fakeIncidents, *fakeThreats) {
	blocklist := NewBlocklist(time.Hour)
	sessions := NewSessionRegistry()
	incidents := newFakeIncidents()
	threats := newFakeThreats()
	o := NewOrchestrator(DefaultEffects(blocklist, sessions), incidents, threats, DefaultConfig())
	return o, blocklist, incidents, threats
}

func TestRespondExecutesActions(t *testing.T) {
	o, blocklist, incidents, threats := newTestOrchestrator()

	target := Target{UserID: "user-1", SourceIP: "203.0.113.10"}
	results := o.Respond(context.Background(), "inc-1", "threat-1", target, []string{"block_ip", "alert_admin"})

	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}
	for _, r := range results {
		if r.Status != StatusExecuted {
			t.Errorf("action %s status = %q, want executed", r.Kind, r.Status)
		}
		if r.ExecutedAt.IsZero() {
			t.Errorf("action %s missing execution time", r.Kind)
		}
	}

	if !blocklist.Contains("203.0.113.10") {
		t.Error("source IP not on the blocklist")
	}
	if !incidents.mitigating["inc-1"] {
		t.Error("incident not moved to mitigating")
	}
	if got := incidents.actions["inc-1"]; len(got) != 2 {
		t.Errorf("incident actions = %v, want 2", got)
	}
	if got := threats.mitigations["threat-1"]; len(got) != 2 {
		t.Errorf("threat mitigations = %v, want 2", got)
	}
}

func TestIdempotencePerIncidentActionPair(t *testing.T) {
	o, _, incidents, _ := newTestOrchestrator()
	target := Target{SourceIP: "203.0.113.10"}

	first := o.Respond(context.Background(), "inc-1", "threat-1", target, []string{"block_ip"})
	second := o.Respond(context.Background(), "inc-1", "threat-2", target, []string{"block_ip"})

	if first[0].ID != second[0].ID {
		t.Error("second execution created a new record instead of reusing the first")
	}
	if first[0].Attempts != 1 {
		t.Errorf("attempts = %d, want 1 (no re-execution)", first[0].Attempts)
	}
	if got := incidents.actions["inc-1"]; len(got) != 1 {
		t.Errorf("incident recorded %d actions, want 1", len(got))
	}

	// A different incident executes independently.
	third := o.Respond(context.Background(), "inc-2", "threat-3", target, []string{"block_ip"})
	if third[0].ID == first[0].ID {
		t.Error("different incident reused the first incident's record")
	}
}

type countingEffect struct {
	delay time.Duration
	calls atomic.Int32
}

func (e *countingEffect) Kind() ActionKind { return ActionBlockIP }

func (e *countingEffect) Execute(ctx context.Context, target Target) (string, error) {
	e.calls.Add(1)
	time.Sleep(e.delay)
	return "blocked", nil
}

func (e *countingEffect) Rollback(ctx context.Context, target Target) error { return nil }

func TestConcurrentRespondExecutesOnce(t *testing.T) {
	eff := &countingEffect{delay: 20 * time.Millisecond}
	o := NewOrchestrator([]MitigationEffect{eff}, nil, nil, DefaultConfig())
	target := Target{SourceIP: "203.0.113.10"}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o.Respond(context.Background(), "inc-1", "threat-1", target, []string{"block_ip"})
		}()
	}
	wg.Wait()

	if got := eff.calls.Load(); got != 1 {
		t.Errorf("effect executed %d times, want 1", got)
	}
	recs := o.Actions("inc-1")
	if len(recs) != 1 {
		t.Fatalf("recorded %d actions, want 1", len(recs))
	}
	if recs[0].Attempts != 1 {
		t.Errorf("attempts = %d, want 1", recs[0].Attempts)
	}
	if recs[0].Status != StatusExecuted {
		t.Errorf("status = %q, want executed", recs[0].Status)
	}
}

func TestFailedActionRetriesOnSameRecord(t *testing.T) {
	o, _, _, _ := newTestOrchestrator()

	// block_user with no user in the target fails.
	bad := Target{SourceIP: "203.0.113.10"}
	first := o.Respond(context.Background(), "inc-1", "threat-1", bad, []string{"block_user"})
	if first[0].Status != StatusFailed {
		t.Fatalf("status = %q, want failed", first[0].Status)
	}

	// Retry with a usable target reuses and repairs the record.
	good := Target{UserID: "user-1", SourceIP: "203.0.113.10"}
	second := o.Respond(context.Background(), "inc-1", "threat-1", good, []string{"block_user"})
	if second[0].ID != first[0].ID {
		t.Error("retry created a fresh record")
	}
	if second[0].Status != StatusExecuted {
		t.Errorf("status after retry = %q, want executed", second[0].Status)
	}
	if second[0].Attempts != 2 {
		t.Errorf("attempts = %d, want 2", second[0].Attempts)
	}
	if second[0].Error != "" {
		t.Errorf("error not cleared after successful retry: %q", second[0].Error)
	}
}

func TestBestEffortContinuesPastFailure(t *testing.T) {
	o, blocklist, _, _ := newTestOrchestrator()

	var failed []ActionKind
	o.OnActionFailure = func(k ActionKind) { failed = append(failed, k) }

	// block_device fails (no device), block_ip after it still runs.
	target := Target{SourceIP: "203.0.113.10"}
	results := o.Respond(context.Background(), "", "threat-1", target, []string{"block_device", "block_ip"})

	if results[0].Status != StatusFailed {
		t.Errorf("first action = %q, want failed", results[0].Status)
	}
	if results[1].Status != StatusExecuted {
		t.Errorf("second action = %q, want executed", results[1].Status)
	}
	if !blocklist.Contains("203.0.113.10") {
		t.Error("later action skipped after an earlier failure")
	}
	if len(failed) != 1 || failed[0] != ActionBlockDevice {
		t.Errorf("failure callback = %v, want [block_device]", failed)
	}
}

func TestUnknownActionFails(t *testing.T) {
	o, _, _, _ := newTestOrchestrator()

	results := o.Respond(context.Background(), "", "threat-1", Target{UserID: "user-1"}, []string{"launch_countermeasures"})
	if results[0].Status != StatusFailed {
		t.Fatalf("status = %q, want failed", results[0].Status)
	}
	if !strings.Contains(results[0].Error, "unknown response action") {
		t.Errorf("error = %q, want unknown response action", results[0].Error)
	}
}

type slowEffect struct{ delay time.Duration }

func (e *slowEffect) Kind() ActionKind { return ActionEncryptData }

func (e *slowEffect) Execute(ctx context.Context, target Target) (string, error) {
	select {
	case <-time.After(e.delay):
		return "done", nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (e *slowEffect) Rollback(ctx context.Context, target Target) error { return nil }

func TestActionTimeout(t *testing.T) {
	cfg := Config{ActionTimeout: 20 * time.Millisecond}
	o := NewOrchestrator([]MitigationEffect{&slowEffect{delay: time.Second}}, nil, nil, cfg)

	results := o.Respond(context.Background(), "", "threat-1", Target{}, []string{"encrypt_data"})
	if results[0].Status != StatusFailed {
		t.Fatalf("status = %q, want failed", results[0].Status)
	}
	if !strings.Contains(results[0].Error, "timed out") {
		t.Errorf("error = %q, want timeout message", results[0].Error)
	}
}

func TestRollback(t *testing.T) {
	o, blocklist, _, _ := newTestOrchestrator()

	target := Target{SourceIP: "203.0.113.10"}
	results := o.Respond(context.Background(), "", "threat-1", target, []string{"block_ip"})
	if !blocklist.Contains("203.0.113.10") {
		t.Fatal("block did not apply")
	}

	if err := o.Rollback(context.Background(), results[0].ID); err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if blocklist.Contains("203.0.113.10") {
		t.Error("IP still blocked after rollback")
	}

	actions := o.Actions("")
	if actions[0].Status != StatusRolledBack {
		t.Errorf("status = %q, want rolled_back", actions[0].Status)
	}

	if err := o.Rollback(context.Background(), results[0].ID); err == nil {
		t.Error("second rollback of the same action should fail")
	}
	if err := o.Rollback(context.Background(), "missing"); err == nil {
		t.Error("rollback of unknown action should fail")
	}
}

func TestSessionEffects(t *testing.T) {
	blocklist := NewBlocklist(time.Hour)
	sessions := NewSessionRegistry()
	o := NewOrchestrator(DefaultEffects(blocklist, sessions), nil, nil, DefaultConfig())

	target := Target{UserID: "user-1", SessionID: "sess-9"}
	o.Respond(context.Background(), "", "threat-1", target, []string{"force_session_termination", "force_reauth"})

	if !sessions.Terminated("sess-9") {
		t.Error("session not terminated")
	}
	if !sessions.ReauthRequired("user-1") {
		t.Error("user not marked for re-authentication")
	}
}

func TestActionsListingFiltersByIncident(t *testing.T) {
	o, _, _, _ := newTestOrchestrator()
	target := Target{UserID: "user-1", SourceIP: "203.0.113.10"}

	o.Respond(context.Background(), "inc-1", "threat-1", target, []string{"block_ip"})
	o.Respond(context.Background(), "inc-2", "threat-2", target, []string{"block_user", "alert_admin"})

	if got := len(o.Actions("inc-2")); got != 2 {
		t.Errorf("inc-2 actions = %d, want 2", got)
	}
	if got := len(o.Actions("")); got != 3 {
		t.Errorf("all actions = %d, want 3", got)
	}
}

func TestBlockingClassification(t *testing.T) {
	if !ActionBlockIP.Blocking() || !ActionTerminateSess.Blocking() {
		t.Error("block actions not classified as blocking")
	}
	if ActionAlertAdmin.Blocking() || ActionRequire3DS.Blocking() {
		t.Error("notify and hardening actions classified as blocking")
	}
}

func TestPhaseDerivation(t *testing.T) {
	tests := []struct {
		kind ActionKind
		want string
	}{
		{ActionBlockIP, "mitigation"},
		{ActionIsolateAccount, "containment"},
		{ActionRevokeTokens, "eradication"},
		{ActionRestoreAccess, "recovery"},
	}
	for _, tt := range tests {
		if got := tt.kind.Phase(); got != tt.want {
			t.Errorf("%s phase = %q, want %q", tt.kind, got, tt.want)
		}
	}
}
