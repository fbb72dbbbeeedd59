// Package monitor implements the session-monitoring core: before a Remote
// Desktop connection is attempted, it probes the target host, enumerates
// its active Terminal Services sessions, classifies the host's
// multi-session policy, and decides whether connecting risks forcibly
// disconnecting another user.
//
// The entry point is Monitor.CheckSessions, which sequences
// probe -> classify -> enumerate -> evaluate and owns every per-host cache
// (adaptive backoff flags, pooled service handles, OS classification, FQDN
// resolution). One long-lived Monitor serves any number of hosts; all
// per-host state is keyed by host identifier and safe for concurrent
// checks against different hosts.
package monitor

import (
	"strings"

	"github.com/rdpwake/rdpwake/pkg/monitor/ts"
)

// consoleLabel is the window-station label of the physically attached
// session.
const consoleLabel = "Console"

// SessionRecord is one normalized session slot on the target host.
// Records are constructed fresh per enumeration and never persisted.
type SessionRecord struct {
	// ID is the host-scoped session identifier. Not globally unique.
	ID uint32

	// UserName is the logged-on user, empty for idle slots (those are
	// filtered out before records reach callers).
	UserName string

	// Domain is the user's logon domain.
	Domain string

	// Label is the window-station name, e.g. "Console" or "RDP-Tcp#3".
	Label string

	// State is the session's connect state.
	State ts.State
}

// IsActive reports whether the session is in the active state.
func (r SessionRecord) IsActive() bool {
	return r.State == ts.StateActive
}

// IsConsole reports whether this is the physically attached console
// session.
func (r SessionRecord) IsConsole() bool {
	return strings.EqualFold(r.Label, consoleLabel)
}

// QualifiedUser returns "DOMAIN\user", or just the user name when no
// domain is known.
func (r SessionRecord) QualifiedUser() string {
	if r.Domain == "" {
		return r.UserName
	}
	return r.Domain + `\` + r.UserName
}

// StateName returns a short human-readable name for the session state.
func (r SessionRecord) StateName() string {
	switch r.State {
	case ts.StateActive:
		return "Active"
	case ts.StateConnected:
		return "Connected"
	case ts.StateConnectQuery:
		return "ConnectQuery"
	case ts.StateShadow:
		return "Shadow"
	case ts.StateDisconnected:
		return "Disconnected"
	case ts.StateIdle:
		return "Idle"
	case ts.StateListening:
		return "Listening"
	case ts.StateReset:
		return "Reset"
	case ts.StateDown:
		return "Down"
	case ts.StateInit:
		return "Initializing"
	default:
		return "Unknown"
	}
}

// OsType classifies the target host's multi-session policy.
type OsType int

const (
	// OsUnknown means the host has never been classified. Unknown must
	// never short-circuit enumeration.
	OsUnknown OsType = iota

	// OsWorkstation is a client OS: one interactive session, connecting
	// takes it over.
	OsWorkstation

	// OsServerSingleSession is a server OS without the multi-session
	// service: two administrative sessions, connecting may bump one.
	OsServerSingleSession

	// OsServerMultiSession is a server OS with the multi-session service
	// installed: connecting never displaces anyone.
	OsServerMultiSession
)

func (t OsType) String() string {
	switch t {
	case OsWorkstation:
		return "Workstation"
	case OsServerSingleSession:
		return "ServerWithoutMultiSession"
	case OsServerMultiSession:
		return "ServerWithMultiSession"
	default:
		return "Unknown"
	}
}

// WarnLevel grades how strongly the UI should surface a classification.
type WarnLevel int

const (
	WarnInfo WarnLevel = iota
	WarnWarning
	WarnError
)

func (l WarnLevel) String() string {
	switch l {
	case WarnWarning:
		return "Warning"
	case WarnError:
		return "Error"
	default:
		return "Info"
	}
}

// OsClassification describes a host's operating system as far as session
// policy is concerned. Entries live in the in-memory cache with a short
// TTL and may be seeded from long-term storage (up to 30 days old, age
// gate applied by the caller).
type OsClassification struct {
	Type                  OsType
	MultiSessionInstalled bool

	// MaxSessions is the number of concurrent interactive sessions the
	// host allows. 0 means effectively unlimited.
	MaxSessions int

	Level WarnLevel

	// OsName and OsVersion are free text; "Unknown" or "Cached" when not
	// determined from a live source.
	OsName    string
	OsVersion string
}

// Confident reports whether the classification is firm enough to let the
// enumerator skip the network entirely: a workstation without the
// multi-session service, or a named (non-"Unknown") single-session
// server. An Unknown type is never confident.
func (c OsClassification) Confident() bool {
	switch c.Type {
	case OsWorkstation:
		return !c.MultiSessionInstalled
	case OsServerSingleSession:
		return c.OsName != "" && !strings.EqualFold(c.OsName, "Unknown")
	default:
		return false
	}
}

// defaultClassification is the permissive placeholder for a never-seen
// host: Unknown type and multi-session assumed installed, chosen so that
// downstream logic never skips enumeration prematurely.
func defaultClassification() OsClassification {
	return OsClassification{
		Type:                  OsUnknown,
		MultiSessionInstalled: true,
		MaxSessions:           0,
		Level:                 WarnInfo,
		OsName:                "Unknown",
		OsVersion:             "Unknown",
	}
}

// SessionCheckResult is the sole artifact CheckSessions exposes to
// callers. An empty Error means the check succeeded.
type SessionCheckResult struct {
	// Host is the identifier the check was issued against.
	Host string

	// Sessions are the occupied session slots found on the host.
	Sessions []SessionRecord

	// Os is the classification used for the policy decision.
	Os OsClassification

	// InUseByOthers is true when someone other than CurrentUser holds an
	// active session.
	InUseByOthers bool

	// CurrentUser is the local user the in-use comparison ran against.
	CurrentUser string

	// Warning is the human-readable message synthesized by the policy
	// evaluator, empty when there is nothing to say.
	Warning string

	// Connectable is false only when connecting would displace another
	// user on a host that cannot absorb an extra session. Error paths
	// fail open with Connectable true.
	Connectable bool

	// Error carries the failure text for unreachable hosts and
	// unexpected faults. Empty on success.
	Error string
}

// OK reports whether the check completed without error.
func (r *SessionCheckResult) OK() bool {
	return r.Error == ""
}
