// Package hostenv inspects the host for conditions that break running an
// installed version, such as a versions root on a noexec mount.
package hostenv

import (
	"path/filepath"
	"strings"
)

// Mount is one mount table entry.
type Mount struct {
	Point   string
	Options map[string]struct{}
}

// Has reports whether opt is set on the mount.
func (m Mount) Has(opt string) bool {
	_, ok := m.Options[opt]
	return ok
}

// ParseMountinfo reads /proc/self/mountinfo content. Super options after the
// "-" separator are merged into Options.
func ParseMountinfo(content string) []Mount {
	var out []Mount
	for _, line := range strings.Split(content, "\n") {
		fields := strings.Fields(line)
		sep := -1
		for i, f := range fields {
			if f == "-" {
				sep = i
				break
			}
		}
		// id parent major:minor root mountpoint options ... - fstype source superopts
		if sep < 6 {
			continue
		}
		m := Mount{Point: unescapeMountPath(fields[4]), Options: splitOptions(fields[5])}
		if sep+3 < len(fields) {
			for k := range splitOptions(fields[sep+3]) {
				m.Options[k] = struct{}{}
			}
		}
		out = append(out, m)
	}
	return out
}

// ParseProcMounts reads /proc/mounts content.
func ParseProcMounts(content string) []Mount {
	var out []Mount
	for _, line := range strings.Split(content, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 4 {
			continue
		}
		out = append(out, Mount{Point: unescapeMountPath(fields[1]), Options: splitOptions(fields[3])})
	}
	return out
}

// Lookup returns the mount that contains path: the entry with the longest
// mount point that is a path prefix of it.
func Lookup(path string, mounts []Mount) (Mount, bool) {
	dest := filepath.ToSlash(filepath.Clean(path))
	if dest == "." || dest == "" {
		return Mount{}, false
	}

	var (
		best  Mount
		found bool
	)
	for _, m := range mounts {
		point := filepath.ToSlash(filepath.Clean(m.Point))
		if point == "." || point == "" || !pathHasPrefix(dest, point) {
			continue
		}
		if !found || len(point) > len(filepath.ToSlash(filepath.Clean(best.Point))) {
			best, found = m, true
		}
	}
	return best, found
}

func splitOptions(opt string) map[string]struct{} {
	m := make(map[string]struct{})
	for _, part := range strings.Split(opt, ",") {
		if part = strings.TrimSpace(part); part != "" {
			m[part] = struct{}{}
		}
	}
	return m
}

// Procfs octal-escapes whitespace and backslashes, see proc(5).
var mountPathUnescaper = strings.NewReplacer(
	"\\040", " ",
	"\\011", "\t",
	"\\012", "\n",
	"\\134", "\\",
)

func unescapeMountPath(value string) string {
	return mountPathUnescaper.Replace(value)
}

func pathHasPrefix(path, prefix string) bool {
	if prefix == "/" {
		return strings.HasPrefix(path, "/")
	}
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}
