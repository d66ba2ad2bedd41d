package backend

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"

	"github.com/google/uuid"
)

// ReadinessContractVersion identifies the stdout readiness line format a backend
// prints once it accepts connections:
//
//	... Port=<decimal port> ... OneTimeToken=<uuid> ...
const ReadinessContractVersion = 1

// Keys only match as whole words, "DebugPort=5005" is not a port.
var (
	portRegexp  = regexp.MustCompile(`(?:^|[^A-Za-z])Port=(\d*)`)
	tokenRegexp = regexp.MustCompile(`(?:^|[^A-Za-z])OneTimeToken=([0-9A-Za-z]+(?:-[0-9A-Za-z]+){4})?`)
)

// ErrNotReadinessLine is returned for lines that are not readiness announcements.
var ErrNotReadinessLine = errors.New("not a readiness line")

// ParseError is returned when a line looks like a readiness announcement but
// can't be parsed.
type ParseError struct {
	Line   string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid readiness line (v%d) %q: %s", ReadinessContractVersion, e.Line, e.Reason)
}

// Readiness is the data announced by a ready backend.
type Readiness struct {
	Port   int
	Secret string
}

// ParseReadiness parses a backend stdout line.
func ParseReadiness(line string) (Readiness, error) {
	pm := portRegexp.FindStringSubmatch(line)
	tm := tokenRegexp.FindStringSubmatch(line)
	if pm == nil && tm == nil {
		return Readiness{}, ErrNotReadinessLine
	}

	if pm == nil || pm[1] == "" {
		return Readiness{}, &ParseError{Line: line, Reason: "missing port"}
	}
	port, err := strconv.Atoi(pm[1])
	if err != nil || port <= 0 || port > 65535 {
		return Readiness{}, &ParseError{Line: line, Reason: fmt.Sprintf("port %q out of range", pm[1])}
	}

	if tm == nil || tm[1] == "" {
		return Readiness{}, &ParseError{Line: line, Reason: "missing one-time token"}
	}
	if _, err := uuid.Parse(tm[1]); err != nil {
		return Readiness{}, &ParseError{Line: line, Reason: fmt.Sprintf("one-time token is not a UUID: %v", err)}
	}

	return Readiness{Port: port, Secret: tm[1]}, nil
}
