package model

import (
	"fmt"
	"time"
)

// InstallRequest is a queued install/update intent. It is immutable once enqueued.
type InstallRequest struct {
	RequestUUID string
	PackageID   int64
	VersionID   int64
	DisplayName string
	VersionName string
	// UpdatingTargetID is the instance being replaced, empty for new installs.
	UpdatingTargetID string
}

// IsUpdate returns true when the request replaces an already installed instance.
func (r InstallRequest) IsUpdate() bool { return r.UpdatingTargetID != "" }

// Validate validates the install request.
func (r InstallRequest) Validate() error {
	if r.RequestUUID == "" {
		return fmt.Errorf("request uuid is required: %w", ErrNotValid)
	}
	if r.PackageID <= 0 {
		return fmt.Errorf("package id must be positive, got %d: %w", r.PackageID, ErrNotValid)
	}
	if r.VersionID <= 0 {
		return fmt.Errorf("version id must be positive, got %d: %w", r.VersionID, ErrNotValid)
	}
	return nil
}

// InstallPhase is the phase of the active install.
type InstallPhase string

const (
	InstallPhaseInstalling InstallPhase = "installing"
	InstallPhaseFailed     InstallPhase = "failed"
	InstallPhaseSucceeded  InstallPhase = "succeeded"
	// InstallPhaseRejected is only recorded in outcomes, rejected installs publish no status.
	InstallPhaseRejected InstallPhase = "rejected"
)

// InstallStatus is the progress of the one active install.
type InstallStatus struct {
	Request    InstallRequest
	Phase      InstallPhase
	StageLabel string
	Percent    string
	Error      string
}

// InstallOutcome is the persisted result of a finished install.
type InstallOutcome struct {
	ID         string
	Request    InstallRequest
	Phase      InstallPhase
	Error      string
	InstanceID string
	StartedAt  time.Time
	FinishedAt time.Time
}
