package conventions

import "path/filepath"

const (
	// DefaultDataDir is the default kiln data directory name (relative to home).
	DefaultDataDir = ".kiln"
	// RuntimeDir is the subdirectory holding the managed Java runtime.
	RuntimeDir = "runtime"
	// LogsDir is the subdirectory for captured backend output.
	LogsDir = "logs"
	// DBFile is the SQLite database filename.
	DBFile = "kiln.db"

	// RuntimeVersionFile is the sentinel file caching the installed runtime version.
	RuntimeVersionFile = ".java-version"
	// BackendLogFile is the rotated log file for backend stdout/stderr.
	BackendLogFile = "backend.log"
	// OwnerFile records the process owning the data dir backend.
	OwnerFile = "kiln.pid"

	// DefaultSocketPath is the websocket path served by the backend.
	DefaultSocketPath = "/"
	// RuntimeHomeEnv is the environment variable the backend reads the runtime home from.
	RuntimeHomeEnv = "KILN_RUNTIME_HOME"
)

// RuntimeHome returns the managed runtime home directory.
func RuntimeHome(dataDir string) string {
	return filepath.Join(dataDir, RuntimeDir)
}

// RuntimeVersionPath returns the sentinel path inside a runtime home.
func RuntimeVersionPath(runtimeHome string) string {
	return filepath.Join(runtimeHome, RuntimeVersionFile)
}

// BackendLogPath returns the backend log file path.
func BackendLogPath(dataDir string) string {
	return filepath.Join(dataDir, LogsDir, BackendLogFile)
}

// DBPath returns the SQLite database path.
func DBPath(dataDir string) string {
	return filepath.Join(dataDir, DBFile)
}

// OwnerPath returns the data dir owner file path.
func OwnerPath(dataDir string) string {
	return filepath.Join(dataDir, OwnerFile)
}
