// Package printer renders command results for humans (tables) and machines (JSON).
package printer

import (
	"fmt"
	"io"

	"github.com/kilnhq/kiln/internal/model"
)

// Printer knows how to print kiln information in different formats.
type Printer interface {
	PrintInstances(instances []model.Instance) error
	PrintInstallStatus(status *model.InstallStatus) error
	PrintHistory(outcomes []model.InstallOutcome) error
	PrintRuntime(rt model.RuntimeRecord) error
	PrintHandshake(hs model.BackendHandshake) error
	PrintMessage(msg string) error
}

// New returns the printer for a format name, "table" or "json".
func New(format string, w io.Writer) (Printer, error) {
	switch format {
	case FormatTable, "":
		return NewTablePrinter(w), nil
	case FormatJSON:
		return NewJSONPrinter(w), nil
	default:
		return nil, fmt.Errorf("unknown output format %q: %w", format, model.ErrNotValid)
	}
}

// Output formats.
const (
	FormatTable = "table"
	FormatJSON  = "json"
)
