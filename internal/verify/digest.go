package verify

import (
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"strings"

	"github.com/3leaps/tufup/internal/model"
)

// preferredAlgos lists digest algorithms in the order they are checked.
var preferredAlgos = []string{"sha512", "sha256"}

func newHash(algo string) (hash.Hash, error) {
	switch strings.ToLower(algo) {
	case "sha256":
		return sha256.New(), nil
	case "sha512":
		return sha512.New(), nil
	default:
		return nil, fmt.Errorf("unsupported hash algorithm %q", algo)
	}
}

// FileDigest streams the file at path through algo and returns lowercase hex.
func FileDigest(path, algo string) (string, error) {
	h, err := newHash(algo)
	if err != nil {
		return "", err
	}
	// #nosec G304 -- path is a cache file controlled by the caller
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// VerifyFile checks the file at path against a length and at least one
// supported hash commitment. Mismatches wrap model.ErrLengthOrHashMismatch.
func VerifyFile(path string, length int64, hashes map[string]string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.Size() != length {
		return fmt.Errorf("%w: %s is %d bytes, expected %d", model.ErrLengthOrHashMismatch, path, info.Size(), length)
	}

	checked := 0
	for _, algo := range preferredAlgos {
		want, ok := hashes[algo]
		if !ok {
			continue
		}
		if !isHexDigest(want, expectedDigestLength(algo)) {
			return fmt.Errorf("%w: malformed %s commitment %q", model.ErrLengthOrHashMismatch, algo, want)
		}
		got, err := FileDigest(path, algo)
		if err != nil {
			return err
		}
		if !strings.EqualFold(got, want) {
			return fmt.Errorf("%w: %s %s\nExpected: %s\nGot:      %s", model.ErrLengthOrHashMismatch, algo, path, strings.ToLower(want), got)
		}
		checked++
	}
	if checked == 0 {
		return fmt.Errorf("%w: no supported hash among %v", model.ErrLengthOrHashMismatch, keys(hashes))
	}
	return nil
}

func keys(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func isHexDigest(value string, expectedLen int) bool {
	if expectedLen > 0 && len(value) != expectedLen {
		return false
	}
	if len(value)%2 != 0 {
		return false
	}
	for _, ch := range value {
		if (ch < '0' || ch > '9') && (ch < 'a' || ch > 'f') && (ch < 'A' || ch > 'F') {
			return false
		}
	}
	return true
}

func expectedDigestLength(algo string) int {
	switch strings.ToLower(algo) {
	case "sha256":
		return 64
	case "sha512":
		return 128
	default:
		return 0
	}
}

// FormatSize formats bytes as human-readable size.
func FormatSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
