//go:build !linux

package hostenv

// IsNoExec is only implemented on Linux.
func IsNoExec(string) bool { return false }
