// Package minisigntest produces minisign keys and signatures for tests.
package minisigntest

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"testing"
)

// Key is an Ed25519 minisign key pair.
type Key struct {
	ID      [8]byte
	Public  ed25519.PublicKey
	private ed25519.PrivateKey
}

// NewKey generates a key pair or fails the test.
func NewKey(t testing.TB) *Key {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	k := &Key{Public: pub, private: priv}
	if _, err := rand.Read(k.ID[:]); err != nil {
		t.Fatalf("key id: %v", err)
	}
	return k
}

// PublicKeyString is the base64 line minisign stores in a .pub file.
func (k *Key) PublicKeyString() string {
	buf := make([]byte, 0, 42)
	buf = append(buf, 'E', 'd')
	buf = append(buf, k.ID[:]...)
	buf = append(buf, k.Public...)
	return base64.StdEncoding.EncodeToString(buf)
}

// PublicKeyFile is the two-line .pub file form.
func (k *Key) PublicKeyFile() string {
	return fmt.Sprintf("untrusted comment: minisign public key %X\n%s\n", k.ID, k.PublicKeyString())
}

// Sign returns the four-line .minisig contents over data.
func (k *Key) Sign(data []byte) string {
	sig := ed25519.Sign(k.private, data)

	line := make([]byte, 0, 74)
	line = append(line, 'E', 'd')
	line = append(line, k.ID[:]...)
	line = append(line, sig...)

	trusted := "timestamp:1700000000\tfile:root.json"
	global := ed25519.Sign(k.private, append(append([]byte{}, sig...), []byte(trusted)...))

	return fmt.Sprintf("untrusted comment: signature from test key\n%s\ntrusted comment: %s\n%s\n",
		base64.StdEncoding.EncodeToString(line),
		trusted,
		base64.StdEncoding.EncodeToString(global))
}
