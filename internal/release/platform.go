package release

import "runtime"

var osNames = map[string]string{
	"darwin":  "macos",
	"windows": "windows",
	"linux":   "linux",
}

var archNames = map[string]string{
	"amd64": "x86_64",
	"arm64": "aarch64",
	"386":   "x86",
}

// DefaultPlatformID names the running host the way release targets do,
// e.g. "desktop-macos-aarch64".
func DefaultPlatformID() string {
	return PlatformID(runtime.GOOS, runtime.GOARCH)
}

// PlatformID maps a GOOS/GOARCH pair onto the target naming tokens. Unknown
// values pass through unchanged.
func PlatformID(goos, goarch string) string {
	osName, ok := osNames[goos]
	if !ok {
		osName = goos
	}
	arch, ok := archNames[goarch]
	if !ok {
		arch = goarch
	}
	return "desktop-" + osName + "-" + arch
}
