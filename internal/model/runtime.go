package model

// RuntimeRecord is the installed Java runtime marker persisted in the runtime home.
type RuntimeRecord struct {
	// Version is the installed major version (e.g. "21").
	Version string
	// Home is the runtime home directory.
	Home string
	// Executable is the java binary path inside Home.
	Executable string
}
