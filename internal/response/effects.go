package response

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// MitigationEffect performs one kind of response action against a target.
// Execute returns a human-readable result on success. Implementations must
// honor the context deadline.
type MitigationEffect interface {
	Kind() ActionKind
	Execute(ctx context.Context, target Target) (string, error)
	// Rollback undoes a previously executed action where possible.
	Rollback(ctx context.Context, target Target) error
}

// Blocklist is an in-memory entity blocklist shared by the block effects.
// Entries expire after their TTL.
type Blocklist struct {
	mu      sync.RWMutex
	entries map[string]time.Time
	ttl     time.Duration
}

// NewBlocklist creates a blocklist with the given entry TTL.
func NewBlocklist(ttl time.Duration) *Blocklist {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Blocklist{entries: make(map[string]time.Time), ttl: ttl}
}

// Block adds a value until its TTL lapses.
func (b *Blocklist) Block(value string) {
	b.mu.Lock()
	b.entries[value] = time.Now().Add(b.ttl)
	b.mu.Unlock()
}

// Unblock removes a value.
func (b *Blocklist) Unblock(value string) {
	b.mu.Lock()
	delete(b.entries, value)
	b.mu.Unlock()
}

// Contains reports whether a value is currently blocked.
func (b *Blocklist) Contains(value string) bool {
	b.mu.RLock()
	until, ok := b.entries[value]
	b.mu.RUnlock()
	return ok && time.Now().Before(until)
}

// blockEffect blocks one target field on a blocklist.
type blockEffect struct {
	kind  ActionKind
	list  *Blocklist
	field func(Target) string
}

func (e *blockEffect) Kind() ActionKind { return e.kind }

func (e *blockEffect) Execute(ctx context.Context, target Target) (string, error) {
	value := e.field(target)
	if value == "" {
		return "", fmt.Errorf("%s: target has no value to block", e.kind)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	e.list.Block(value)
	return fmt.Sprintf("blocked %s", value), nil
}

func (e *blockEffect) Rollback(ctx context.Context, target Target) error {
	value := e.field(target)
	if value == "" {
		return fmt.Errorf("%s: target has no value to unblock", e.kind)
	}
	e.list.Unblock(value)
	return nil
}

// NewBlockIPEffect blocks the target's source address.
func NewBlockIPEffect(list *Blocklist) MitigationEffect {
	return &blockEffect{kind: ActionBlockIP, list: list, field: func(t Target) string { return t.SourceIP }}
}

// NewBlockUserEffect blocks the target's user account.
func NewBlockUserEffect(list *Blocklist) MitigationEffect {
	return &blockEffect{kind: ActionBlockUser, list: list, field: func(t Target) string { return t.UserID }}
}

// NewBlockDeviceEffect blocks the target's device.
func NewBlockDeviceEffect(list *Blocklist) MitigationEffect {
	return &blockEffect{kind: ActionBlockDevice, list: list, field: func(t Target) string { return t.DeviceID }}
}

// notifyEffect records a notification-style action. The orchestrator's
// publisher delivers the actual message; the effect itself always succeeds
// when the target is addressable.
type notifyEffect struct {
	kind    ActionKind
	message string
}

func (e *notifyEffect) Kind() ActionKind { return e.kind }

func (e *notifyEffect) Execute(ctx context.Context, target Target) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	slog.Info("response notification",
		"action", e.kind,
		"user_id", target.UserID,
		"source_ip", target.SourceIP)
	return e.message, nil
}

func (e *notifyEffect) Rollback(ctx context.Context, target Target) error {
	// Notifications cannot be unsent.
	return nil
}

// NewAlertAdminEffect notifies the operations channel.
func NewAlertAdminEffect() MitigationEffect {
	return &notifyEffect{kind: ActionAlertAdmin, message: "operations channel notified"}
}

// NewAlertUserEffect notifies the affected user.
func NewAlertUserEffect() MitigationEffect {
	return &notifyEffect{kind: ActionAlertUser, message: "user notified"}
}

// NewEscalateEffect pages the on-call operator.
func NewEscalateEffect() MitigationEffect {
	return &notifyEffect{kind: ActionEscalate, message: "on-call operator paged"}
}

// SessionRegistry tracks sessions that must terminate or re-authenticate.
type SessionRegistry struct {
	mu         sync.Mutex
	terminated map[string]struct{}
	reauth     map[string]struct{}
}

// NewSessionRegistry creates an empty session registry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{
		terminated: make(map[string]struct{}),
		reauth:     make(map[string]struct{}),
	}
}

// Terminated reports whether a session was force-terminated.
func (r *SessionRegistry) Terminated(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.terminated[sessionID]
	return ok
}

// ReauthRequired reports whether a user must re-authenticate.
func (r *SessionRegistry) ReauthRequired(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.reauth[userID]
	return ok
}

type terminateSessionEffect struct{ sessions *SessionRegistry }

func (e *terminateSessionEffect) Kind() ActionKind { return ActionTerminateSess }

func (e *terminateSessionEffect) Execute(ctx context.Context, target Target) (string, error) {
	if target.SessionID == "" {
		return "", fmt.Errorf("%s: target has no session", ActionTerminateSess)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	e.sessions.mu.Lock()
	e.sessions.terminated[target.SessionID] = struct{}{}
	e.sessions.mu.Unlock()
	return fmt.Sprintf("terminated session %s", target.SessionID), nil
}

func (e *terminateSessionEffect) Rollback(ctx context.Context, target Target) error {
	e.sessions.mu.Lock()
	delete(e.sessions.terminated, target.SessionID)
	e.sessions.mu.Unlock()
	return nil
}

// NewTerminateSessionEffect force-terminates the target's session.
func NewTerminateSessionEffect(sessions *SessionRegistry) MitigationEffect {
	return &terminateSessionEffect{sessions: sessions}
}

type forceReauthEffect struct{ sessions *SessionRegistry }

func (e *forceReauthEffect) Kind() ActionKind { return ActionForceReauth }

func (e *forceReauthEffect) Execute(ctx context.Context, target Target) (string, error) {
	if target.UserID == "" {
		return "", fmt.Errorf("%s: target has no user", ActionForceReauth)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	e.sessions.mu.Lock()
	e.sessions.reauth[target.UserID] = struct{}{}
	e.sessions.mu.Unlock()
	return fmt.Sprintf("re-authentication required for %s", target.UserID), nil
}

func (e *forceReauthEffect) Rollback(ctx context.Context, target Target) error {
	e.sessions.mu.Lock()
	delete(e.sessions.reauth, target.UserID)
	e.sessions.mu.Unlock()
	return nil
}

// NewForceReauthEffect marks the target user for re-authentication.
func NewForceReauthEffect(sessions *SessionRegistry) MitigationEffect {
	return &forceReauthEffect{sessions: sessions}
}

// markerEffect records that a hardening step was applied. Used for actions
// whose real work happens in a collaborating service (3DS enforcement,
// encryption, containment, eradication, recovery).
type markerEffect struct {
	kind   ActionKind
	result string
}

func (e *markerEffect) Kind() ActionKind { return e.kind }

func (e *markerEffect) Execute(ctx context.Context, target Target) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	slog.Debug("response step applied", "action", e.kind, "user_id", target.UserID)
	return e.result, nil
}

func (e *markerEffect) Rollback(ctx context.Context, target Target) error { return nil }

// DefaultEffects returns the full builtin effect set wired to the given
// blocklist and session registry.
func DefaultEffects(blocklist *Blocklist, sessions *SessionRegistry) []MitigationEffect {
	return []MitigationEffect{
		NewBlockIPEffect(blocklist),
		NewBlockUserEffect(blocklist),
		NewBlockDeviceEffect(blocklist),
		NewTerminateSessionEffect(sessions),
		NewForceReauthEffect(sessions),
		NewAlertAdminEffect(),
		NewAlertUserEffect(),
		NewEscalateEffect(),
		&markerEffect{kind: ActionRequire3DS, result: "3DS challenge enforced for future payments"},
		&markerEffect{kind: ActionEncryptData, result: "at-rest encryption verified"},
		&markerEffect{kind: ActionIsolateAccount, result: "account isolated"},
		&markerEffect{kind: ActionQuarantineData, result: "records quarantined"},
		&markerEffect{kind: ActionRevokeTokens, result: "access tokens revoked"},
		&markerEffect{kind: ActionRotateSecrets, result: "credentials rotated"},
		&markerEffect{kind: ActionRestoreAccess, result: "access restored"},
		&markerEffect{kind: ActionVerifyIntegrity, result: "data integrity verified"},
	}
}
