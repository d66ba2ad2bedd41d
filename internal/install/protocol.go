package install

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/kilnhq/kiln/internal/transport"
)

// Backend install message types.
const (
	msgInstallInstance             = "installInstance"
	msgInstallInstanceProgress     = "installInstanceProgress"
	msgInstallInstanceDataReply    = "installInstanceDataReply"
	msgInstallInstanceFileProgress = "installInstanceFileProgress"
)

// Reply statuses.
const (
	statusSuccess      = "success"
	statusError        = "error"
	statusPrepareError = "prepare_error"
	statusFiles        = "files"
)

// isInstallEvent returns true for the asynchronous events of an install. Events
// tagged with another request UUID are ignored.
func isInstallEvent(msg transport.Message, requestUUID string) bool {
	switch msg.Type {
	case msgInstallInstanceProgress, msgInstallInstanceDataReply, msgInstallInstanceFileProgress:
	default:
		return false
	}

	if id := msg.String("requestUuid"); id != "" && id != requestUUID {
		return false
	}
	return true
}

// stageLabel returns the display label of a backend stage ("downloading_files" → "Downloading Files").
func stageLabel(stage string) string {
	stage = strings.TrimSpace(strings.ReplaceAll(stage, "_", " "))
	return cases.Title(language.English).String(stage)
}

// formatPercent formats a 0-1 ratio as a rounded percentage.
func formatPercent(ratio float64) string {
	if ratio < 0 {
		ratio = 0
	}
	if ratio > 1 {
		ratio = 1
	}
	return fmt.Sprintf("%.0f", ratio*100)
}

func ratioField(msg transport.Message, key string) (float64, bool) {
	switch v := msg.Fields[key].(type) {
	case float64:
		return v, true
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// flexID accepts string and numeric JSON identifiers.
type flexID string

func (f *flexID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("invalid id %s: %w", data, err)
	}
	*f = flexID(n.String())
	return nil
}

// dataReplyJSON is the terminal install reply.
type dataReplyJSON struct {
	Status   string        `json:"status"`
	Message  string        `json:"message"`
	Error    string        `json:"error"`
	Instance *instanceJSON `json:"instance"`
}

type instanceJSON struct {
	ID          flexID `json:"id"`
	Name        string `json:"name"`
	Path        string `json:"path"`
	VersionName string `json:"versionName"`
}

func (d dataReplyJSON) errorMessage() string {
	switch {
	case d.Message != "":
		return d.Message
	case d.Error != "":
		return d.Error
	default:
		return "install failed"
	}
}
