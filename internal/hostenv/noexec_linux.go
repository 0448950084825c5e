//go:build linux

package hostenv

import "os"

// Mount tables, most detailed first.
var mountTables = []struct {
	path  string
	parse func(string) []Mount
}{
	{"/proc/self/mountinfo", ParseMountinfo},
	{"/proc/mounts", ParseProcMounts},
}

// IsNoExec reports whether path lives on a mount with the noexec flag.
// Best effort: unreadable mount tables yield false.
func IsNoExec(path string) bool {
	if path == "" {
		return false
	}
	for _, table := range mountTables {
		data, err := os.ReadFile(table.path) // #nosec G304 -- fixed procfs path
		if err != nil {
			continue
		}
		mounts := table.parse(string(data))
		if len(mounts) == 0 {
			continue
		}
		m, ok := Lookup(path, mounts)
		return ok && m.Has("noexec")
	}
	return false
}
