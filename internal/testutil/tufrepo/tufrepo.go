// Package tufrepo builds a signed TUF repository in memory and serves it over
// httptest for client tests.
//
// Layout served by the test server:
//
//	/metadata/<N>.root.json, timestamp.json, snapshot.json, targets.json
//	/targets/<target path>
package tufrepo

import (
	"crypto"
	"crypto/ed25519"
	"crypto/rand"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sigstore/sigstore/pkg/signature"
	"github.com/theupdateframework/go-tuf/v2/metadata"
)

var topLevelRoles = []string{metadata.ROOT, metadata.TIMESTAMP, metadata.SNAPSHOT, metadata.TARGETS}

// Repo is a single-key-per-role repository. Methods are safe for concurrent use
// with the server.
type Repo struct {
	t testing.TB

	mu        sync.Mutex
	keys      map[string]ed25519.PrivateKey
	root      *metadata.Metadata[metadata.RootType]
	targets   *metadata.Metadata[metadata.TargetsType]
	snapshot  *metadata.Metadata[metadata.SnapshotType]
	timestamp *metadata.Metadata[metadata.TimestampType]

	rootFiles   map[int64][]byte
	initialRoot []byte
	meta        map[string][]byte
	blobs       map[string][]byte
	hits        map[string]int

	Server *httptest.Server
}

// New creates and publishes an empty repository whose metadata expires in a day.
func New(t testing.TB) *Repo {
	t.Helper()

	expires := time.Now().UTC().Add(24 * time.Hour).Truncate(time.Second)
	r := &Repo{
		t:         t,
		keys:      map[string]ed25519.PrivateKey{},
		root:      metadata.Root(expires),
		targets:   metadata.Targets(expires),
		snapshot:  metadata.Snapshot(expires),
		timestamp: metadata.Timestamp(expires),
		rootFiles: map[int64][]byte{},
		meta:      map[string][]byte{},
		blobs:     map[string][]byte{},
		hits:      map[string]int{},
	}
	r.root.Signed.ConsistentSnapshot = false

	for _, role := range topLevelRoles {
		priv := newPrivateKey(t)
		key, err := metadata.KeyFromPublicKey(priv.Public())
		if err != nil {
			t.Fatalf("key for %s: %v", role, err)
		}
		if err := r.root.Signed.AddKey(key, role); err != nil {
			t.Fatalf("add %s key: %v", role, err)
		}
		r.keys[role] = priv
	}

	r.rootFiles[1] = r.sign(r.root, r.keys[metadata.ROOT])
	r.initialRoot = r.rootFiles[1]
	r.writeSnapshotChain()

	r.Server = httptest.NewServer(http.HandlerFunc(r.serve))
	t.Cleanup(r.Server.Close)
	return r
}

func newPrivateKey(t testing.TB) ed25519.PrivateKey {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return priv
}

// RootBytes returns version 1 of root.json, the document clients pin.
func (r *Repo) RootBytes() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]byte{}, r.initialRoot...)
}

// MetadataURL is the base URL of the metadata endpoint.
func (r *Repo) MetadataURL() string { return r.Server.URL + "/metadata/" }

// TargetsURL is the base URL of the targets endpoint.
func (r *Repo) TargetsURL() string { return r.Server.URL + "/targets/" }

// AddTarget records data under name and republishes targets, snapshot and
// timestamp with bumped versions.
func (r *Repo) AddTarget(name string, data []byte) {
	r.t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()

	tf, err := metadata.TargetFile().FromBytes(name, data, "sha256", "sha512")
	if err != nil {
		r.t.Fatalf("target file %s: %v", name, err)
	}
	r.targets.Signed.Targets[name] = tf
	r.blobs[name] = append([]byte{}, data...)
	r.bump()
}

// TamperTarget replaces the served bytes of name without touching metadata.
func (r *Repo) TamperTarget(name string, data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.blobs[name] = append([]byte{}, data...)
}

// SetTimestamp re-signs timestamp.json with the given version and expiry.
func (r *Repo) SetTimestamp(version int64, expires time.Time) {
	r.t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()

	r.timestamp.Signed.Version = version
	r.timestamp.Signed.Expires = expires.UTC().Truncate(time.Second)
	r.meta["timestamp.json"] = r.sign(r.timestamp, r.keys[metadata.TIMESTAMP])
}

// TimestampVersion is the version currently served.
func (r *Repo) TimestampVersion() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.timestamp.Signed.Version
}

// SignTimestampWithUntrustedKey serves a timestamp signed by a key the root
// does not list.
func (r *Repo) SignTimestampWithUntrustedKey() {
	r.t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.meta["timestamp.json"] = r.sign(r.timestamp, newPrivateKey(r.t))
}

// RotateRoot publishes root version N+1 with a fresh root key, signed by both
// the old and new keys.
func (r *Repo) RotateRoot() {
	r.t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()

	old := r.keys[metadata.ROOT]
	oldKey, err := metadata.KeyFromPublicKey(old.Public())
	if err != nil {
		r.t.Fatalf("old root key: %v", err)
	}
	priv := newPrivateKey(r.t)
	key, err := metadata.KeyFromPublicKey(priv.Public())
	if err != nil {
		r.t.Fatalf("new root key: %v", err)
	}
	if err := r.root.Signed.RevokeKey(oldKey.ID(), metadata.ROOT); err != nil {
		r.t.Fatalf("revoke root key: %v", err)
	}
	if err := r.root.Signed.AddKey(key, metadata.ROOT); err != nil {
		r.t.Fatalf("add root key: %v", err)
	}
	r.keys[metadata.ROOT] = priv
	r.root.Signed.Version++
	r.rootFiles[r.root.Signed.Version] = r.sign(r.root, old, priv)
}

// Hits returns how many times path (relative to the server root) was requested.
func (r *Repo) Hits(path string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hits[strings.TrimPrefix(path, "/")]
}

func (r *Repo) bump() {
	r.targets.Signed.Version++
	r.snapshot.Signed.Version++
	r.timestamp.Signed.Version++
	r.writeSnapshotChain()
}

func (r *Repo) writeSnapshotChain() {
	r.meta["targets.json"] = r.sign(r.targets, r.keys[metadata.TARGETS])
	r.snapshot.Signed.Meta["targets.json"] = metadata.MetaFile(r.targets.Signed.Version)
	r.meta["snapshot.json"] = r.sign(r.snapshot, r.keys[metadata.SNAPSHOT])
	r.timestamp.Signed.Meta["snapshot.json"] = metadata.MetaFile(r.snapshot.Signed.Version)
	r.meta["timestamp.json"] = r.sign(r.timestamp, r.keys[metadata.TIMESTAMP])
}

type signable interface {
	ClearSignatures()
	Sign(signature.Signer) (*metadata.Signature, error)
	ToBytes(bool) ([]byte, error)
}

func (r *Repo) sign(md signable, privs ...ed25519.PrivateKey) []byte {
	r.t.Helper()
	md.ClearSignatures()
	for _, priv := range privs {
		signer, err := signature.LoadSigner(priv, crypto.Hash(0))
		if err != nil {
			r.t.Fatalf("load signer: %v", err)
		}
		if _, err := md.Sign(signer); err != nil {
			r.t.Fatalf("sign: %v", err)
		}
	}
	data, err := md.ToBytes(true)
	if err != nil {
		r.t.Fatalf("encode metadata: %v", err)
	}
	return data
}

func (r *Repo) serve(w http.ResponseWriter, req *http.Request) {
	path := strings.TrimPrefix(req.URL.Path, "/")

	r.mu.Lock()
	r.hits[path]++
	data, ok := r.lookup(path)
	r.mu.Unlock()

	if !ok {
		http.NotFound(w, req)
		return
	}
	_, _ = w.Write(data)
}

func (r *Repo) lookup(path string) ([]byte, bool) {
	switch {
	case strings.HasPrefix(path, "metadata/"):
		name := strings.TrimPrefix(path, "metadata/")
		if data, ok := r.meta[name]; ok {
			return data, true
		}
		for version, data := range r.rootFiles {
			if name == rootFileName(version) {
				return data, true
			}
		}
	case strings.HasPrefix(path, "targets/"):
		data, ok := r.blobs[strings.TrimPrefix(path, "targets/")]
		return data, ok
	}
	return nil, false
}

func rootFileName(version int64) string {
	return strconv.FormatInt(version, 10) + ".root.json"
}
