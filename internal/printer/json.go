package printer

import (
	"encoding/json"
	"io"
	"time"

	"github.com/kilnhq/kiln/internal/model"
)

// JSONPrinter prints kiln information in JSON format.
type JSONPrinter struct {
	writer io.Writer
}

// NewJSONPrinter creates a new JSON printer.
func NewJSONPrinter(w io.Writer) *JSONPrinter {
	return &JSONPrinter{writer: w}
}

type instanceOutput struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	PackageID   int64      `json:"package_id"`
	VersionID   int64      `json:"version_id"`
	VersionName string     `json:"version_name,omitempty"`
	Path        string     `json:"path,omitempty"`
	InstalledAt time.Time  `json:"installed_at"`
	UpdatedAt   *time.Time `json:"updated_at"`
}

type requestOutput struct {
	RequestUUID      string `json:"request_uuid"`
	PackageID        int64  `json:"package_id"`
	VersionID        int64  `json:"version_id"`
	DisplayName      string `json:"display_name,omitempty"`
	VersionName      string `json:"version_name,omitempty"`
	UpdatingTargetID string `json:"updating_target_id,omitempty"`
}

type installStatusOutput struct {
	Request    requestOutput `json:"request"`
	Phase      string        `json:"phase"`
	StageLabel string        `json:"stage,omitempty"`
	Percent    string        `json:"percent,omitempty"`
	Error      string        `json:"error,omitempty"`
}

type outcomeOutput struct {
	ID         string        `json:"id"`
	Request    requestOutput `json:"request"`
	Phase      string        `json:"phase"`
	Error      string        `json:"error,omitempty"`
	InstanceID string        `json:"instance_id,omitempty"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
}

type runtimeOutput struct {
	Version    string `json:"version"`
	Home       string `json:"home"`
	Executable string `json:"executable"`
}

type handshakeOutput struct {
	PID  int `json:"pid"`
	Port int `json:"port"`
}

type messageOutput struct {
	Message string `json:"message"`
}

// PrintInstances prints installed instances in JSON format.
func (j *JSONPrinter) PrintInstances(instances []model.Instance) error {
	items := make([]instanceOutput, len(instances))
	for i, inst := range instances {
		items[i] = instanceOutput{
			ID:          inst.ID,
			Name:        inst.Name,
			PackageID:   inst.PackageID,
			VersionID:   inst.VersionID,
			VersionName: inst.VersionName,
			Path:        inst.Path,
			InstalledAt: inst.InstalledAt.UTC(),
			UpdatedAt:   utcPtr(inst.UpdatedAt),
		}
	}
	return j.encode(items)
}

// PrintInstallStatus prints an install status in JSON format, nil prints null.
func (j *JSONPrinter) PrintInstallStatus(status *model.InstallStatus) error {
	if status == nil {
		return j.encode(nil)
	}
	return j.encode(installStatusOutput{
		Request:    newRequestOutput(status.Request),
		Phase:      string(status.Phase),
		StageLabel: status.StageLabel,
		Percent:    status.Percent,
		Error:      status.Error,
	})
}

// PrintHistory prints finished installs in JSON format.
func (j *JSONPrinter) PrintHistory(outcomes []model.InstallOutcome) error {
	items := make([]outcomeOutput, len(outcomes))
	for i, o := range outcomes {
		items[i] = outcomeOutput{
			ID:         o.ID,
			Request:    newRequestOutput(o.Request),
			Phase:      string(o.Phase),
			Error:      o.Error,
			InstanceID: o.InstanceID,
			StartedAt:  o.StartedAt.UTC(),
			FinishedAt: o.FinishedAt.UTC(),
		}
	}
	return j.encode(items)
}

// PrintRuntime prints the installed runtime in JSON format.
func (j *JSONPrinter) PrintRuntime(rt model.RuntimeRecord) error {
	return j.encode(runtimeOutput{Version: rt.Version, Home: rt.Home, Executable: rt.Executable})
}

// PrintHandshake prints the backend handshake in JSON format, without the secret.
func (j *JSONPrinter) PrintHandshake(hs model.BackendHandshake) error {
	return j.encode(handshakeOutput{PID: hs.PID, Port: hs.Port})
}

// PrintMessage prints a simple message in JSON format.
func (j *JSONPrinter) PrintMessage(msg string) error {
	return j.encode(messageOutput{Message: msg})
}

func (j *JSONPrinter) encode(v any) error {
	enc := json.NewEncoder(j.writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newRequestOutput(r model.InstallRequest) requestOutput {
	return requestOutput{
		RequestUUID:      r.RequestUUID,
		PackageID:        r.PackageID,
		VersionID:        r.VersionID,
		DisplayName:      r.DisplayName,
		VersionName:      r.VersionName,
		UpdatingTargetID: r.UpdatingTargetID,
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
