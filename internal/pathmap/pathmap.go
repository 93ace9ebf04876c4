// Package pathmap normalizes `~` and Windows↔WSL path forms so that log-provider
// lookups work uniformly regardless of which shell the broker itself runs under.
//
// All functions here are pure: no filesystem access, no locks. WSL detection reads
// an environment variable and checks for one well-known file, but never walks or
// mutates the filesystem it is mapping paths for.
package pathmap

import (
	"os"
	"runtime"
	"strings"
)

// Normalize expands a leading "~" to the current user's home directory, then, on a
// host detected as WSL, converts a Windows-style "X:\..." path to "/mnt/<drive>/..."
// and replaces backslashes with forward slashes.
func Normalize(path string) string {
	expanded := ExpandHome(path)
	if IsWSL() {
		return ToWSLPath(expanded)
	}
	return expanded
}

// ExpandHome replaces a leading "~" with $HOME.
func ExpandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return path
	}
	return strings.Replace(path, "~", home, 1)
}

// IsWSL reports whether the process appears to be running under Windows Subsystem
// for Linux: either the binfmt_misc interop file is present, or WSL_DISTRO_NAME is
// set in the environment.
func IsWSL() bool {
	if _, err := os.Stat("/proc/sys/fs/binfmt_misc/WSLInterop"); err == nil {
		return true
	}
	return os.Getenv("WSL_DISTRO_NAME") != ""
}

// ToWSLPath converts a Windows path like `C:\Users\x` to `/mnt/c/Users/x`. Paths
// that are not in drive-letter form are returned with backslashes normalized to
// forward slashes only.
func ToWSLPath(path string) string {
	if len(path) >= 2 && path[1] == ':' {
		drive := strings.ToLower(string(path[0]))
		rest := strings.ReplaceAll(path[2:], `\`, "/")
		return "/mnt/" + drive + rest
	}
	return strings.ReplaceAll(path, `\`, "/")
}

// ToWindowsPath converts a WSL mount path like `/mnt/c/Users/x` back to
// `C:\Users\x`. Paths not of that form are returned unchanged.
func ToWindowsPath(path string) string {
	if strings.HasPrefix(path, "/mnt/") && len(path) >= 7 {
		drive := strings.ToUpper(string(path[5]))
		rest := strings.ReplaceAll(path[6:], "/", `\`)
		return drive + ":" + rest
	}
	return path
}

// Platform identifiers returned by GetPlatform.
const (
	PlatformWSL     = "wsl"
	PlatformWindows = "windows"
	PlatformMacOS   = "macos"
	PlatformLinux   = "linux"
)

// GetPlatform reports which of the four platform buckets the broker is running
// under, for web-surface diagnostics.
func GetPlatform() string {
	if IsWSL() {
		return PlatformWSL
	}
	switch runtime.GOOS {
	case "windows":
		return PlatformWindows
	case "darwin":
		return PlatformMacOS
	default:
		return PlatformLinux
	}
}
