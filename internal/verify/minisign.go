// Package verify holds the signature and digest checks that sit outside the
// TUF metadata chain: minisign attestation of the pinned root and independent
// re-verification of cached files.
package verify

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/jedisct1/go-minisign"
)

// ErrMinisignVerification is returned when a minisign signature does not verify.
var ErrMinisignVerification = errors.New("minisign: signature verification failed")

// VerifyMinisign checks sigText (the contents of a .minisig file) over content
// with pubKey. pubKey may be the bare base64 key or a whole .pub file.
func VerifyMinisign(content []byte, sigText, pubKey string) error {
	pk, err := minisign.NewPublicKey(publicKeyLine(pubKey))
	if err != nil {
		return fmt.Errorf("read minisign pubkey: %w", err)
	}

	sig, err := minisign.DecodeSignature(sigText)
	if err != nil {
		return fmt.Errorf("read minisign signature: %w", err)
	}

	valid, err := pk.Verify(content, sig)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMinisignVerification, err)
	}
	if !valid {
		return ErrMinisignVerification
	}
	return nil
}

// VerifyMinisignFile reads the signature at sigPath and verifies content.
func VerifyMinisignFile(content []byte, sigPath, pubKey string) error {
	// #nosec G304 -- sigPath is derived from the trust config
	data, err := os.ReadFile(sigPath)
	if err != nil {
		return fmt.Errorf("read sig: %w", err)
	}
	return VerifyMinisign(content, string(data), pubKey)
}

// publicKeyLine strips an optional "untrusted comment:" header.
func publicKeyLine(key string) string {
	lines := strings.Split(strings.TrimSpace(key), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line != "" && !strings.HasPrefix(line, "untrusted comment:") {
			return line
		}
	}
	return ""
}
