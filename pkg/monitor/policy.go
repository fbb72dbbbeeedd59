package monitor

import (
	"fmt"
	"strings"
)

// isInUseByOthers reports whether any session is active under a user name
// case-insensitively different from currentUser.
func isInUseByOthers(sessions []SessionRecord, currentUser string) bool {
	for _, s := range sessions {
		if s.IsActive() && !strings.EqualFold(s.UserName, currentUser) {
			return true
		}
	}
	return false
}

// otherActive returns the active sessions not owned by currentUser.
func otherActive(sessions []SessionRecord, currentUser string) []SessionRecord {
	var others []SessionRecord
	for _, s := range sessions {
		if s.IsActive() && !strings.EqualFold(s.UserName, currentUser) {
			others = append(others, s)
		}
	}
	return others
}

// evaluate fills the policy fields of a check result: whether other users
// occupy the host, whether connecting is safe, and the warning text.
//
// Connectable is decided fail-open: any error, nobody else active, or a
// multi-session server all mean true. Only a workstation or single-session
// server with another active user blocks, pending user confirmation
// upstream.
func (m *Monitor) evaluate(result *SessionCheckResult) {
	result.InUseByOthers = isInUseByOthers(result.Sessions, result.CurrentUser)

	switch {
	case result.Error != "":
		result.Connectable = true
	case !result.InUseByOthers:
		result.Connectable = true
	case result.Os.Type == OsServerMultiSession:
		result.Connectable = true
	default:
		result.Connectable = false
	}

	result.Warning = synthesizeWarning(result)
}

// synthesizeWarning builds the user-facing message. The three branches
// carry distinct tones the UI depends on: a takeover warning for
// workstations, a capacity warning for single-session servers, and a
// purely informational listing for multi-session servers.
func synthesizeWarning(result *SessionCheckResult) string {
	if result.Error != "" || len(result.Sessions) == 0 {
		return ""
	}

	switch result.Os.Type {
	case OsWorkstation:
		others := otherActive(result.Sessions, result.CurrentUser)
		if len(others) == 0 {
			return ""
		}
		var b strings.Builder
		fmt.Fprintf(&b, "%s is currently in use:\n", result.Host)
		for i, s := range others {
			fmt.Fprintf(&b, "  %d. %s (%s)\n", i+1, s.QualifiedUser(), s.Label)
		}
		b.WriteString("Connecting will forcibly disconnect this session.")
		return b.String()

	case OsServerSingleSession:
		var b strings.Builder
		fmt.Fprintf(&b, "Sessions on %s:\n", result.Host)
		for i, s := range result.Sessions {
			fmt.Fprintf(&b, "  %d. %s (%s, %s)\n", i+1, s.QualifiedUser(), s.Label, s.StateName())
		}
		b.WriteString("This server allows only 2 management sessions; connecting may disconnect an existing session.")
		return b.String()

	case OsServerMultiSession:
		var b strings.Builder
		fmt.Fprintf(&b, "Sessions on %s:\n", result.Host)
		for i, s := range result.Sessions {
			fmt.Fprintf(&b, "  %d. %s (%s, %s)\n", i+1, s.QualifiedUser(), s.Label, s.StateName())
		}
		b.WriteString("This server supports multiple sessions; it is safe to connect.")
		return b.String()

	default:
		// Unclassified host: no message rather than a wrong one.
		return ""
	}
}
