package logger

// Standard field keys for structured logging. Use these consistently so
// logs stay queryable when shipped as JSON.
const (
	// Target identification
	KeyHost = "host" // Target host name or address
	KeyPort = "port" // Target service port
	KeyMAC  = "mac"  // Hardware address for wake packets

	// Session fields
	KeySessionID    = "session_id"    // Host-scoped session identifier
	KeySessionCount = "session_count" // Sessions found by an enumeration
	KeyUser         = "user"          // Logged-on user name
	KeyState        = "state"         // Session connect state

	// Check outcome
	KeyInUse       = "in_use"      // Another user holds an active session
	KeyConnectable = "connectable" // Policy verdict
	KeyOsType      = "os_type"     // Host multi-session classification

	// Operation metadata
	KeyDurationMs = "duration_ms" // Operation duration in milliseconds
	KeyError      = "error"       // Error message
	KeyPath       = "path"        // File path (config, history database)
)
