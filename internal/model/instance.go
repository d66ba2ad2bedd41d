package model

import (
	"fmt"
	"time"
)

// Instance is an installed package record, the caller visible result of a successful install.
type Instance struct {
	ID          string
	Name        string
	PackageID   int64
	VersionID   int64
	VersionName string
	Path        string
	InstalledAt time.Time
	UpdatedAt   *time.Time
}

// Validate validates the instance.
func (i Instance) Validate() error {
	if i.ID == "" {
		return fmt.Errorf("instance id is required: %w", ErrNotValid)
	}
	if i.Name == "" {
		return fmt.Errorf("instance name is required: %w", ErrNotValid)
	}
	return nil
}
