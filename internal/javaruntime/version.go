package javaruntime

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
)

// versionRegexp matches the version reported by `java -version`, e.g.
// `openjdk version "21.0.1" 2023-10-17` or `java version "1.8.0_392"`.
var versionRegexp = regexp.MustCompile(`version "([0-9]+)(?:\.([0-9]+))?[^"]*"`)

// ParseVersionOutput extracts the major version from `java -version` output.
func ParseVersionOutput(out string) (string, error) {
	m := versionRegexp.FindStringSubmatch(out)
	if m == nil {
		return "", fmt.Errorf("no java version in output %q", strings.TrimSpace(out))
	}

	// Legacy scheme: 1.8 is Java 8.
	if m[1] == "1" && m[2] != "" {
		return m[2], nil
	}
	return m[1], nil
}

// MajorVersion returns the major component of a version string ("21.0.1" → "21").
func MajorVersion(v string) string {
	v = strings.TrimSpace(v)
	major, minor, _ := strings.Cut(v, ".")
	if major == "1" && minor != "" {
		minor, _, _ = strings.Cut(minor, ".")
		return minor
	}
	return major
}

// SameVersion reports whether an installed version satisfies the required one.
// It is an exact or major equality check, not a semantic ordering.
func SameVersion(installed, required string) bool {
	installed = strings.TrimSpace(installed)
	required = strings.TrimSpace(required)
	if installed == "" || required == "" {
		return false
	}
	return installed == required || MajorVersion(installed) == MajorVersion(required)
}

func readSentinel(path string) (version string, ok bool, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("could not read runtime version file: %w", err)
	}

	version = strings.TrimSpace(string(data))
	if version == "" {
		return "", false, nil
	}
	return version, true, nil
}

func writeSentinel(path, version string) error {
	if err := os.WriteFile(path, []byte(version), 0o644); err != nil {
		return fmt.Errorf("could not write runtime version file: %w", err)
	}
	return nil
}
