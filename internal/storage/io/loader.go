// Package io loads the kiln configuration from YAML files.
package io

import (
	"context"
	"fmt"
	"io/fs"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kilnhq/kiln/internal/model"
)

// ConfigYAMLRepository loads the kiln configuration from YAML files.
type ConfigYAMLRepository struct {
	fs fs.FS
}

// NewConfigYAMLRepository creates a new YAML config repository.
func NewConfigYAMLRepository(filesystem fs.FS) *ConfigYAMLRepository {
	return &ConfigYAMLRepository{fs: filesystem}
}

// GetConfig loads a configuration file and returns a validated domain model.
func (r *ConfigYAMLRepository) GetConfig(ctx context.Context, path string) (model.Config, error) {
	data, err := fs.ReadFile(r.fs, path)
	if err != nil {
		return model.Config{}, fmt.Errorf("reading config file: %w", err)
	}

	if ctx.Err() != nil {
		return model.Config{}, ctx.Err()
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return model.Config{}, fmt.Errorf("parsing YAML: %w", err)
	}

	m, err := cfg.toModel()
	if err != nil {
		return model.Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := m.Validate(); err != nil {
		return model.Config{}, fmt.Errorf("invalid configuration: %w", err)
	}

	return m, nil
}

// Config represents the YAML structure of the configuration file.
type Config struct {
	Runtime RuntimeConfig `yaml:"runtime"`
	Backend BackendConfig `yaml:"backend"`
	Install InstallConfig `yaml:"install"`
}

// RuntimeConfig represents the YAML structure of the runtime section.
type RuntimeConfig struct {
	Version         string `yaml:"version"`
	Dir             string `yaml:"dir"`
	DistributionURL string `yaml:"distribution_url"`
}

// BackendConfig represents the YAML structure of the backend section.
type BackendConfig struct {
	JAR          string            `yaml:"jar"`
	JVMArgs      []string          `yaml:"jvm_args"`
	Args         []string          `yaml:"args"`
	Env          map[string]string `yaml:"env"`
	SocketPath   string            `yaml:"socket_path"`
	ReadyTimeout string            `yaml:"ready_timeout"`
}

// InstallConfig represents the YAML structure of the install section.
type InstallConfig struct {
	TickInterval   string `yaml:"tick_interval"`
	RequestTimeout string `yaml:"request_timeout"`
}

func (c Config) toModel() (model.Config, error) {
	readyTimeout, err := parseDuration("backend.ready_timeout", c.Backend.ReadyTimeout)
	if err != nil {
		return model.Config{}, err
	}
	tick, err := parseDuration("install.tick_interval", c.Install.TickInterval)
	if err != nil {
		return model.Config{}, err
	}
	requestTimeout, err := parseDuration("install.request_timeout", c.Install.RequestTimeout)
	if err != nil {
		return model.Config{}, err
	}

	return model.Config{
		Runtime: model.RuntimeConfig{
			Version:         c.Runtime.Version,
			Dir:             c.Runtime.Dir,
			DistributionURL: c.Runtime.DistributionURL,
		},
		Backend: model.BackendConfig{
			JAR:          c.Backend.JAR,
			JVMArgs:      c.Backend.JVMArgs,
			Args:         c.Backend.Args,
			Env:          c.Backend.Env,
			SocketPath:   c.Backend.SocketPath,
			ReadyTimeout: readyTimeout,
		},
		Install: model.InstallConfig{
			TickInterval:   tick,
			RequestTimeout: requestTimeout,
		},
	}, nil
}

func parseDuration(field, s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	return d, nil
}
