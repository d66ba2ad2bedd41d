// Package server exposes the install queue of a running kiln over a local HTTP API,
// and the client used to reach it.
//
// Endpoints, under the base path:
//
//	POST /installs   body: InstallRequestJSON, enqueues the request
//	GET  /installs   active install status and waiting requests
//	GET  /instances  installed instances
//	GET  /history    finished installs, newest first (query: limit)
package server

import (
	"time"

	"github.com/kilnhq/kiln/internal/model"
)

const (
	// DefaultAddress is the default listen address of the install intake.
	DefaultAddress = "127.0.0.1:7380"
	// DefaultBasePath prefixes every endpoint.
	DefaultBasePath = "/v1"
)

// InstallRequestJSON is an install request on the wire.
type InstallRequestJSON struct {
	RequestUUID      string `json:"requestUuid,omitempty"`
	PackageID        int64  `json:"packageId"`
	VersionID        int64  `json:"versionId"`
	DisplayName      string `json:"displayName,omitempty"`
	VersionName      string `json:"versionName,omitempty"`
	UpdatingTargetID string `json:"updatingTargetId,omitempty"`
}

// InstallStatusJSON is the active install status on the wire.
type InstallStatusJSON struct {
	Request    InstallRequestJSON `json:"request"`
	Phase      string             `json:"phase"`
	StageLabel string             `json:"stageLabel,omitempty"`
	Percent    string             `json:"percent,omitempty"`
	Error      string             `json:"error,omitempty"`
}

// InstallsJSON is the install queue state.
type InstallsJSON struct {
	Status *InstallStatusJSON   `json:"status"`
	Queue  []InstallRequestJSON `json:"queue"`
}

// InstanceJSON is an installed instance on the wire.
type InstanceJSON struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	PackageID   int64      `json:"packageId"`
	VersionID   int64      `json:"versionId"`
	VersionName string     `json:"versionName,omitempty"`
	Path        string     `json:"path,omitempty"`
	InstalledAt time.Time  `json:"installedAt"`
	UpdatedAt   *time.Time `json:"updatedAt,omitempty"`
}

// OutcomeJSON is a finished install on the wire.
type OutcomeJSON struct {
	ID         string             `json:"id"`
	Request    InstallRequestJSON `json:"request"`
	Phase      string             `json:"phase"`
	Error      string             `json:"error,omitempty"`
	InstanceID string             `json:"instanceId,omitempty"`
	StartedAt  time.Time          `json:"startedAt"`
	FinishedAt time.Time          `json:"finishedAt"`
}

type errorJSON struct {
	Error string `json:"error"`
}

func requestToJSON(r model.InstallRequest) InstallRequestJSON {
	return InstallRequestJSON{
		RequestUUID:      r.RequestUUID,
		PackageID:        r.PackageID,
		VersionID:        r.VersionID,
		DisplayName:      r.DisplayName,
		VersionName:      r.VersionName,
		UpdatingTargetID: r.UpdatingTargetID,
	}
}

func (r InstallRequestJSON) toModel() model.InstallRequest {
	return model.InstallRequest{
		RequestUUID:      r.RequestUUID,
		PackageID:        r.PackageID,
		VersionID:        r.VersionID,
		DisplayName:      r.DisplayName,
		VersionName:      r.VersionName,
		UpdatingTargetID: r.UpdatingTargetID,
	}
}

func statusToJSON(st *model.InstallStatus) *InstallStatusJSON {
	if st == nil {
		return nil
	}
	return &InstallStatusJSON{
		Request:    requestToJSON(st.Request),
		Phase:      string(st.Phase),
		StageLabel: st.StageLabel,
		Percent:    st.Percent,
		Error:      st.Error,
	}
}

func (s *InstallStatusJSON) toModel() *model.InstallStatus {
	if s == nil {
		return nil
	}
	return &model.InstallStatus{
		Request:    s.Request.toModel(),
		Phase:      model.InstallPhase(s.Phase),
		StageLabel: s.StageLabel,
		Percent:    s.Percent,
		Error:      s.Error,
	}
}

func instanceToJSON(i model.Instance) InstanceJSON {
	return InstanceJSON{
		ID:          i.ID,
		Name:        i.Name,
		PackageID:   i.PackageID,
		VersionID:   i.VersionID,
		VersionName: i.VersionName,
		Path:        i.Path,
		InstalledAt: i.InstalledAt,
		UpdatedAt:   i.UpdatedAt,
	}
}

func outcomeToJSON(o model.InstallOutcome) OutcomeJSON {
	return OutcomeJSON{
		ID:         o.ID,
		Request:    requestToJSON(o.Request),
		Phase:      string(o.Phase),
		Error:      o.Error,
		InstanceID: o.InstanceID,
		StartedAt:  o.StartedAt,
		FinishedAt: o.FinishedAt,
	}
}

func (o OutcomeJSON) toModel() model.InstallOutcome {
	return model.InstallOutcome{
		ID:         o.ID,
		Request:    o.Request.toModel(),
		Phase:      model.InstallPhase(o.Phase),
		Error:      o.Error,
		InstanceID: o.InstanceID,
		StartedAt:  o.StartedAt,
		FinishedAt: o.FinishedAt,
	}
}
