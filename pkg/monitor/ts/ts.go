// Package ts abstracts the Terminal Services session-enumeration API.
//
// The monitor core never talks to the operating system directly. It goes
// through the Client interface, which exposes exactly the five operations
// the session enumerator needs: open/close a server connection, the
// extended bulk enumeration, the legacy session list, and the per-session
// string query used by the legacy fallback path.
//
// Two implementations exist:
//   - NewNative returns the wtsapi32-backed client on Windows and a client
//     that reports ErrPlatformUnsupported everywhere else.
//   - Tests supply their own scripted Client.
package ts

import (
	"context"
	"errors"
)

// Handle is an opaque reference to an open session-service connection.
type Handle uintptr

// LocalServer is the well-known handle for the local machine. It is never
// pooled and closing it is a no-op.
const LocalServer Handle = 0

// Field selects which per-session string the legacy query path retrieves.
type Field int

const (
	// FieldUserName is the session's logged-on user name.
	FieldUserName Field = iota

	// FieldDomainName is the logged-on user's domain.
	FieldDomainName

	// FieldStationName is the session's window station label
	// (e.g. "Console", "RDP-Tcp#3").
	FieldStationName
)

// State mirrors the Terminal Services connect-state enumeration.
type State uint32

const (
	StateActive State = iota
	StateConnected
	StateConnectQuery
	StateShadow
	StateDisconnected
	StateIdle
	StateListening
	StateReset
	StateDown
	StateInit
)

// Session is one raw session slot as reported by the host.
//
// The extended enumeration fills every field. The legacy enumeration only
// fills ID, Label and State; user and domain come from QueryString.
type Session struct {
	ID     uint32
	User   string
	Domain string
	Label  string
	State  State
}

// Client is the platform session-enumeration capability.
//
// Implementations must be safe for concurrent use; the monitor issues calls
// for different hosts from independent goroutines.
type Client interface {
	// Open establishes a session-service connection to host. The context
	// carries the caller's deadline; implementations must give up when it
	// expires. An empty host, or a name resolving to the local machine,
	// yields LocalServer.
	Open(ctx context.Context, host string) (Handle, error)

	// Close releases a handle obtained from Open. Closing LocalServer is
	// a no-op.
	Close(h Handle)

	// EnumerateEx performs the extended bulk enumeration, returning fully
	// populated session records. Hosts running older Terminal Services
	// stacks return ErrUnsupported.
	EnumerateEx(h Handle) ([]Session, error)

	// Enumerate performs the legacy session-list call. Records carry only
	// ID, Label and State.
	Enumerate(h Handle) ([]Session, error)

	// QueryString retrieves a single per-session string field via the
	// legacy query API.
	QueryString(h Handle, sessionID uint32, field Field) (string, error)

	// CurrentUser returns the name of the locally logged-on user, used by
	// the policy evaluator to ignore the caller's own session.
	CurrentUser() string
}

// Sentinel errors returned by Client implementations. The enumerator keys
// its capability downgrade and backoff decisions on these.
var (
	// ErrUnsupported indicates the host does not implement the extended
	// enumeration API. Not a failure; callers fall back to Enumerate.
	ErrUnsupported = errors.New("ts: extended enumeration not supported")

	// ErrUnavailable indicates opening a connection failed or timed out.
	ErrUnavailable = errors.New("ts: session service unavailable")

	// ErrPlatformUnsupported is returned by every call of the native
	// client on platforms without a Terminal Services API.
	ErrPlatformUnsupported = errors.New("ts: platform has no terminal services API")
)

// transientError marks RPC-class connectivity failures. The enumerator
// treats these as backoff-driving and evicts the handle so the next attempt
// reconnects.
type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// Transient wraps err so IsTransient reports true for it.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsTransient reports whether err is an RPC/connectivity-class failure
// (connection refused, RPC server unavailable, call interrupted).
func IsTransient(err error) bool {
	var te *transientError
	return errors.As(err, &te)
}
