package model

import (
	"fmt"
	"time"
)

// Config is the kiln control plane configuration.
type Config struct {
	Runtime RuntimeConfig
	Backend BackendConfig
	Install InstallConfig
}

// RuntimeConfig configures the Java runtime the backend runs on.
type RuntimeConfig struct {
	// Version is the required Java version, e.g. "21".
	Version string
	// Dir is the runtime home, empty uses the data dir default.
	Dir             string
	DistributionURL string
}

// BackendConfig configures the backend process.
type BackendConfig struct {
	JAR          string
	JVMArgs      []string
	Args         []string
	Env          map[string]string
	SocketPath   string
	ReadyTimeout time.Duration
}

// InstallConfig configures the install orchestrator.
type InstallConfig struct {
	TickInterval   time.Duration
	RequestTimeout time.Duration
}

// Validate validates the configuration.
func (c Config) Validate() error {
	if c.Runtime.Version == "" {
		return fmt.Errorf("runtime version is required: %w", ErrNotValid)
	}
	if c.Backend.JAR == "" {
		return fmt.Errorf("backend jar is required: %w", ErrNotValid)
	}
	if c.Backend.ReadyTimeout < 0 {
		return fmt.Errorf("backend ready timeout can't be negative: %w", ErrNotValid)
	}
	if c.Install.TickInterval < 0 || c.Install.RequestTimeout < 0 {
		return fmt.Errorf("install intervals can't be negative: %w", ErrNotValid)
	}
	return nil
}
