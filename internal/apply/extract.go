package apply

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/3leaps/tufup/internal/model"
)

const maxSymlinkTarget = 4096

// entry is a zip member that passed validation.
type entry struct {
	file   *zip.File
	rel    string // slash-separated, cleaned, relative to the staging dir
	link   string // symlink target, if the entry is a symlink
	isDir  bool
	isLink bool
}

// extractZip validates every entry of the archive at src and only then
// writes them under dest. It returns the number of files written and their
// total size.
func extractZip(src, dest string, maxBytes int64) (int, int64, error) {
	zr, err := zip.OpenReader(src)
	if err != nil {
		return 0, 0, &model.IOError{Op: "open bundle", Path: src, Err: err}
	}
	defer func() { _ = zr.Close() }()

	entries, err := validateEntries(zr.File, maxBytes)
	if err != nil {
		return 0, 0, err
	}

	var (
		files   int
		written int64
	)
	for _, e := range entries {
		target := filepath.Join(dest, filepath.FromSlash(e.rel))
		switch {
		case e.isDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return files, written, &model.IOError{Op: "create dir", Path: target, Err: err}
			}
		case e.isLink:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return files, written, &model.IOError{Op: "create dir", Path: filepath.Dir(target), Err: err}
			}
			if err := os.Symlink(filepath.FromSlash(e.link), target); err != nil {
				return files, written, &model.IOError{Op: "create symlink", Path: target, Err: err}
			}
		default:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return files, written, &model.IOError{Op: "create dir", Path: filepath.Dir(target), Err: err}
			}
			n, err := extractFile(e.file, target, maxBytes-written)
			written += n
			if err != nil {
				return files, written, err
			}
			files++
		}
	}
	return files, written, nil
}

func validateEntries(files []*zip.File, maxBytes int64) ([]entry, error) {
	var (
		out      []entry
		declared uint64
		links    = map[string]struct{}{}
	)
	for _, f := range files {
		rel, err := cleanEntryName(f.Name)
		if err != nil {
			return nil, &model.SecurityError{Entry: f.Name, Reason: err.Error()}
		}
		if rel == "" {
			continue
		}
		e := entry{file: f, rel: rel, isDir: f.FileInfo().IsDir()}

		if f.Mode()&os.ModeSymlink != 0 {
			target, err := readSymlinkTarget(f)
			if err != nil {
				return nil, &model.IOError{Op: "read symlink entry", Path: f.Name, Err: err}
			}
			if err := checkSymlinkTarget(rel, target); err != nil {
				return nil, &model.SecurityError{Entry: f.Name, Reason: err.Error()}
			}
			e.isLink, e.isDir, e.link = true, false, target
		} else {
			declared += f.UncompressedSize64
			if maxBytes > 0 && declared > uint64(maxBytes) {
				return nil, &model.SecurityError{Entry: f.Name, Reason: fmt.Sprintf("bundle expands beyond %d bytes", maxBytes)}
			}
		}
		out = append(out, e)
	}

	// Nothing may be written through, or over, a symlink from the archive.
	for _, e := range out {
		if e.isLink {
			links[e.rel] = struct{}{}
		}
	}
	for _, e := range out {
		if e.isLink {
			if err := checkSymlinkChain(e.rel, e.link, links); err != nil {
				return nil, &model.SecurityError{Entry: e.file.Name, Reason: err.Error()}
			}
		}
		for dir := path.Dir(e.rel); dir != "."; dir = path.Dir(dir) {
			if _, ok := links[dir]; ok {
				return nil, &model.SecurityError{Entry: e.file.Name, Reason: "path traverses symlink " + dir}
			}
		}
		if _, ok := links[e.rel]; ok && !e.isLink {
			return nil, &model.SecurityError{Entry: e.file.Name, Reason: "overwrites symlink"}
		}
	}
	return out, nil
}

// cleanEntryName rejects names that would resolve outside the extraction
// root and returns the cleaned slash-separated relative path.
func cleanEntryName(name string) (string, error) {
	n := strings.ReplaceAll(name, "\\", "/")
	switch {
	case strings.HasPrefix(n, "/"):
		return "", fmt.Errorf("absolute path")
	case len(n) >= 2 && n[1] == ':' && isLetter(n[0]):
		return "", fmt.Errorf("drive-qualified path")
	case filepath.IsAbs(name) || filepath.VolumeName(name) != "":
		return "", fmt.Errorf("absolute path")
	}
	for _, seg := range strings.Split(n, "/") {
		if seg == ".." {
			return "", fmt.Errorf("parent directory segment")
		}
	}
	cleaned := path.Clean(n)
	if cleaned == "." {
		return "", nil
	}
	return cleaned, nil
}

func checkSymlinkTarget(rel, target string) error {
	t := strings.ReplaceAll(target, "\\", "/")
	if t == "" {
		return fmt.Errorf("empty symlink target")
	}
	if strings.HasPrefix(t, "/") || (len(t) >= 2 && t[1] == ':' && isLetter(t[0])) || filepath.IsAbs(target) {
		return fmt.Errorf("symlink to absolute path %q", target)
	}
	resolved := path.Join(path.Dir(rel), t)
	if resolved == ".." || strings.HasPrefix(resolved, "../") {
		return fmt.Errorf("symlink escapes staging dir via %q", target)
	}
	return nil
}

// checkSymlinkChain walks target from the link's directory one component at
// a time and rejects targets that continue past another archive symlink. The
// OS resolves such a link before applying the remaining components, so a
// lexically clean target like "q/../x" can still land outside the root.
func checkSymlinkChain(rel, target string, links map[string]struct{}) error {
	var stack []string
	if dir := path.Dir(rel); dir != "." {
		stack = strings.Split(dir, "/")
	}
	segs := strings.Split(strings.ReplaceAll(target, "\\", "/"), "/")
	for i, seg := range segs {
		switch seg {
		case "", ".":
			continue
		case "..":
			if len(stack) == 0 {
				return fmt.Errorf("symlink escapes staging dir via %q", target)
			}
			stack = stack[:len(stack)-1]
			continue
		}
		stack = append(stack, seg)
		if i == len(segs)-1 {
			break
		}
		if _, ok := links[strings.Join(stack, "/")]; ok {
			return fmt.Errorf("symlink target %q passes through symlink %s", target, strings.Join(stack, "/"))
		}
	}
	return nil
}

func readSymlinkTarget(f *zip.File) (string, error) {
	rc, err := f.Open()
	if err != nil {
		return "", err
	}
	defer func() { _ = rc.Close() }()
	data, err := io.ReadAll(io.LimitReader(rc, maxSymlinkTarget+1))
	if err != nil {
		return "", err
	}
	if len(data) > maxSymlinkTarget {
		return "", fmt.Errorf("symlink target too long")
	}
	return string(data), nil
}

// extractFile copies one member to target, refusing to write more than
// budget bytes regardless of the size the header declares.
func extractFile(f *zip.File, target string, budget int64) (n int64, err error) {
	rc, err := f.Open()
	if err != nil {
		return 0, &model.IOError{Op: "open entry", Path: f.Name, Err: err}
	}
	defer func() { _ = rc.Close() }()

	perm := f.Mode().Perm()
	if perm == 0 {
		perm = 0o644
	}
	// #nosec G304 -- target is validated to stay inside the staging dir
	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm|0o600)
	if err != nil {
		return 0, &model.IOError{Op: "create file", Path: target, Err: err}
	}
	defer func() {
		if closeErr := out.Close(); closeErr != nil && err == nil {
			err = &model.IOError{Op: "close file", Path: target, Err: closeErr}
		}
	}()

	n, err = io.Copy(out, io.LimitReader(rc, budget+1))
	if err != nil {
		return n, &model.IOError{Op: "extract", Path: f.Name, Err: err}
	}
	if n > budget {
		return n, &model.SecurityError{Entry: f.Name, Reason: "bundle expands beyond declared size limit"}
	}
	return n, nil
}

func isLetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
