// Package metrics keeps lock-free operation counters and renders them in the
// Prometheus text exposition format.
package metrics

import (
	"io"
	"strconv"
	"strings"
	"sync/atomic"
)

// ID names one counter.
type ID uint16

const (
	SignupSuccess ID = iota
	SignupConflict
	ConfirmSuccess
	ConfirmFailure
	LoginSuccess
	LoginFailure
	LoginLocked
	LockoutTriggered
	PasswordUpgraded
	ResetRequested
	ResetSuccess
	ResetFailure
	PasswordChanged
	UsernameChanged
	UsernameCooldown
	ProfileUpdated
	AccountDeactivated
	SessionRejected
	DeliveryFailure
	DependencyFailure
	idCount
)

type def struct {
	name string
	help string
}

var defs = [idCount]def{
	SignupSuccess:      {"identity_signup_success_total", "Accounts created."},
	SignupConflict:     {"identity_signup_conflict_total", "Signups rejected for a duplicate handle or email."},
	ConfirmSuccess:     {"identity_confirm_success_total", "Email confirmations accepted."},
	ConfirmFailure:     {"identity_confirm_failure_total", "Email confirmations rejected."},
	LoginSuccess:       {"identity_login_success_total", "Successful logins."},
	LoginFailure:       {"identity_login_failure_total", "Logins rejected for bad credentials."},
	LoginLocked:        {"identity_login_locked_total", "Logins rejected by an active lockout."},
	LockoutTriggered:   {"identity_lockout_triggered_total", "Failures that started or extended a lockout."},
	PasswordUpgraded:   {"identity_password_upgraded_total", "Stored hashes re-hashed on login."},
	ResetRequested:     {"identity_reset_requested_total", "Password reset tokens issued."},
	ResetSuccess:       {"identity_reset_success_total", "Passwords reset by token."},
	ResetFailure:       {"identity_reset_failure_total", "Password reset redemptions rejected."},
	PasswordChanged:    {"identity_password_changed_total", "Authenticated password changes."},
	UsernameChanged:    {"identity_username_changed_total", "Handle changes."},
	UsernameCooldown:   {"identity_username_cooldown_total", "Handle changes rejected by the cooldown."},
	ProfileUpdated:     {"identity_profile_updated_total", "Profile updates."},
	AccountDeactivated: {"identity_account_deactivated_total", "Accounts soft-deleted."},
	SessionRejected:    {"identity_session_rejected_total", "Session credentials rejected."},
	DeliveryFailure:    {"identity_delivery_failure_total", "Outbound messages that could not be delivered."},
	DependencyFailure:  {"identity_dependency_failure_total", "Store or mailer failures surfaced as retryable."},
}

func (id ID) String() string {
	if id >= idCount {
		return "unknown"
	}
	return defs[id].name
}

// Help is the one-line description of the counter.
func (id ID) Help() string {
	if id >= idCount {
		return ""
	}
	return defs[id].help
}

// All lists every counter in declaration order.
func All() []ID {
	ids := make([]ID, idCount)
	for i := range ids {
		ids[i] = ID(i)
	}
	return ids
}

// Audit drop counter, exported next to the engine counters.
const (
	AuditDroppedName = "identity_audit_dropped_total"
	AuditDroppedHelp = "Audit events dropped under backpressure."
)

const cacheLineSize = 64

type paddedCounter struct {
	value atomic.Uint64
	_     [cacheLineSize - 8]byte
}

// Metrics is safe for concurrent use. A nil or disabled *Metrics ignores
// increments.
type Metrics struct {
	enabled  bool
	counters [idCount]paddedCounter
}

func New(enabled bool) *Metrics {
	return &Metrics{enabled: enabled}
}

func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

func (m *Metrics) Inc(id ID) {
	if !m.Enabled() || id >= idCount {
		return
	}
	m.counters[id].value.Add(1)
}

func (m *Metrics) Value(id ID) uint64 {
	if m == nil || id >= idCount {
		return 0
	}
	return m.counters[id].value.Load()
}

// Snapshot is a point-in-time copy of every counter.
type Snapshot map[ID]uint64

func (m *Metrics) Snapshot() Snapshot {
	s := make(Snapshot, int(idCount))
	if !m.Enabled() {
		return s
	}
	for id := ID(0); id < idCount; id++ {
		s[id] = m.counters[id].value.Load()
	}
	return s
}

// WritePrometheus renders s plus the audit drop counter.
func WritePrometheus(w io.Writer, s Snapshot, auditDropped uint64) error {
	var b strings.Builder
	b.Grow(4096)

	for id := ID(0); id < idCount; id++ {
		writeCounter(&b, defs[id].name, defs[id].help, s[id])
	}
	writeCounter(&b, AuditDroppedName, AuditDroppedHelp, auditDropped)

	_, err := io.WriteString(w, b.String())
	return err
}

func writeCounter(b *strings.Builder, name, help string, value uint64) {
	b.WriteString("# HELP ")
	b.WriteString(name)
	b.WriteByte(' ')
	b.WriteString(escapeHelp(help))
	b.WriteString("\n# TYPE ")
	b.WriteString(name)
	b.WriteString(" counter\n")
	b.WriteString(name)
	b.WriteByte(' ')
	b.WriteString(strconv.FormatUint(value, 10))
	b.WriteByte('\n')
}

func escapeHelp(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, "\n", `\n`)
}
