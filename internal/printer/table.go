package printer

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/kilnhq/kiln/internal/model"
)

// TablePrinter prints kiln information in a table format.
type TablePrinter struct {
	writer io.Writer
}

// NewTablePrinter creates a new table printer.
func NewTablePrinter(w io.Writer) *TablePrinter {
	return &TablePrinter{writer: w}
}

// PrintInstances prints installed instances in a table format.
func (t *TablePrinter) PrintInstances(instances []model.Instance) error {
	if len(instances) == 0 {
		return nil
	}

	tw := tabwriter.NewWriter(t.writer, 0, 0, 2, ' ', 0)
	defer tw.Flush()

	fmt.Fprintln(tw, "ID\tNAME\tPACKAGE\tVERSION\tINSTALLED\tUPDATED")
	for _, inst := range instances {
		updated := "-"
		if inst.UpdatedAt != nil {
			updated = TimeAgo(*inst.UpdatedAt)
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%s\n",
			inst.ID,
			inst.Name,
			inst.PackageID,
			versionLabel(inst.VersionName, inst.VersionID),
			TimeAgo(inst.InstalledAt),
			updated,
		)
	}

	return nil
}

// PrintInstallStatus prints one install status line, nil means no active install.
func (t *TablePrinter) PrintInstallStatus(status *model.InstallStatus) error {
	if status == nil {
		fmt.Fprintln(t.writer, "No install in progress")
		return nil
	}

	name := status.Request.DisplayName
	if name == "" {
		name = fmt.Sprintf("package %d", status.Request.PackageID)
	}

	switch status.Phase {
	case model.InstallPhaseFailed:
		fmt.Fprintf(t.writer, "%s: failed: %s\n", name, status.Error)
	case model.InstallPhaseSucceeded:
		fmt.Fprintf(t.writer, "%s: installed\n", name)
	default:
		stage := status.StageLabel
		if stage == "" {
			stage = "Preparing"
		}
		fmt.Fprintf(t.writer, "%s: %s %s%%\n", name, stage, status.Percent)
	}

	return nil
}

// PrintHistory prints finished installs in a table format.
func (t *TablePrinter) PrintHistory(outcomes []model.InstallOutcome) error {
	if len(outcomes) == 0 {
		return nil
	}

	tw := tabwriter.NewWriter(t.writer, 0, 0, 2, ' ', 0)
	defer tw.Flush()

	fmt.Fprintln(tw, "REQUEST\tPACKAGE\tVERSION\tRESULT\tINSTANCE\tDURATION\tFINISHED\tERROR")
	for _, o := range outcomes {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			o.Request.RequestUUID,
			o.Request.PackageID,
			versionLabel(o.Request.VersionName, o.Request.VersionID),
			o.Phase,
			dash(o.InstanceID),
			FormatDuration(o.FinishedAt.Sub(o.StartedAt)),
			TimeAgo(o.FinishedAt),
			dash(o.Error),
		)
	}

	return nil
}

// PrintRuntime prints the installed runtime.
func (t *TablePrinter) PrintRuntime(rt model.RuntimeRecord) error {
	fmt.Fprintf(t.writer, "Version:     %s\n", rt.Version)
	fmt.Fprintf(t.writer, "Home:        %s\n", rt.Home)
	fmt.Fprintf(t.writer, "Executable:  %s\n", rt.Executable)
	return nil
}

// PrintHandshake prints the running backend handshake. The secret is never shown.
func (t *TablePrinter) PrintHandshake(hs model.BackendHandshake) error {
	fmt.Fprintf(t.writer, "PID:      %d\n", hs.PID)
	fmt.Fprintf(t.writer, "Address:  %s\n", hs.Address())
	return nil
}

// PrintMessage prints a simple text message.
func (t *TablePrinter) PrintMessage(msg string) error {
	fmt.Fprintln(t.writer, msg)
	return nil
}

func versionLabel(name string, id int64) string {
	if name != "" {
		return name
	}
	return fmt.Sprintf("#%d", id)
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
