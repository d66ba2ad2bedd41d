package javaruntime

import (
	"path/filepath"
)

// ExecutablePath returns the java binary path for a runtime home on the given OS.
// macOS runtimes ship as bundles with the real home under Contents/Home.
func ExecutablePath(home, goos string) string {
	exe := "java"
	if goos == "windows" {
		exe = "java.exe"
	}

	if goos == "darwin" {
		return filepath.Join(home, "Contents", "Home", "bin", exe)
	}
	return filepath.Join(home, "bin", exe)
}

// distributionArch maps Go architectures to the distribution API ones.
func distributionArch(goarch string) string {
	switch goarch {
	case "amd64":
		return "x64"
	case "arm64":
		return "aarch64"
	case "386":
		return "x32"
	case "arm":
		return "arm"
	default:
		return goarch
	}
}

// distributionOS maps Go operating systems to the distribution API ones.
func distributionOS(goos string) string {
	switch goos {
	case "darwin":
		return "mac"
	default:
		return goos
	}
}
