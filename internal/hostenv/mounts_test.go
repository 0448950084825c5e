package hostenv

import "testing"

func noexecAt(path string, mounts []Mount) bool {
	m, ok := Lookup(path, mounts)
	return ok && m.Has("noexec")
}

func TestMountinfoLongestMatchWins(t *testing.T) {
	t.Parallel()

	content := `36 25 0:32 / / rw,relatime - overlay overlay rw,noexec
40 36 0:45 / /home rw,relatime - ext4 /dev/sda rw
41 40 0:46 / /home/user rw,relatime - ext4 /dev/sda rw,noexec
`
	mounts := ParseMountinfo(content)
	if len(mounts) != 3 {
		t.Fatalf("expected 3 mounts, got %d", len(mounts))
	}

	tests := []struct {
		path string
		want bool
	}{
		{"/tmp/versions", true},
		{"/home/other/.config/FilesUP/versions", false},
		{"/home/user/.config/FilesUP/versions", true},
		{"/home/username/versions", false},
	}
	for _, tc := range tests {
		if got := noexecAt(tc.path, mounts); got != tc.want {
			t.Errorf("noexec(%s) = %v, want %v", tc.path, got, tc.want)
		}
	}

	m, ok := Lookup("/home/user/x", mounts)
	if !ok || m.Point != "/home/user" {
		t.Fatalf("Lookup: got %+v, %v", m, ok)
	}
}

func TestProcMounts(t *testing.T) {
	t.Parallel()

	content := `/dev/sda1 / ext4 rw,relatime,noexec 0 0
/dev/sda2 /home ext4 rw,relatime 0 0
tmpfs /tmp tmpfs rw,nosuid,nodev,noexec 0 0
`
	mounts := ParseProcMounts(content)
	if len(mounts) != 3 {
		t.Fatalf("expected 3 mounts, got %d", len(mounts))
	}
	if !noexecAt("/tmp/foo", mounts) {
		t.Fatal("expected /tmp/foo to be noexec")
	}
	if noexecAt("/home/user/versions", mounts) {
		t.Fatal("expected /home/user/versions to be exec")
	}
	if !noexecAt("/opt/app", mounts) {
		t.Fatal("expected /opt/app to inherit / noexec")
	}
}

func TestUnescapeMountPath(t *testing.T) {
	t.Parallel()

	mounts := ParseMountinfo(`1 2 3:4 / /path\040with\040space rw,relatime - ext4 /dev/sda rw,noexec
`)
	if len(mounts) != 1 {
		t.Fatalf("expected 1 mount, got %d", len(mounts))
	}
	if got := mounts[0].Point; got != "/path with space" {
		t.Fatalf("mount point: got %q", got)
	}
	if !noexecAt("/path with space/versions", mounts) {
		t.Fatal("expected noexec")
	}
}

func TestLookupEmptyInput(t *testing.T) {
	t.Parallel()

	if _, ok := Lookup("/tmp", nil); ok {
		t.Fatal("expected no mount")
	}
	if mounts := ParseMountinfo("garbage"); len(mounts) != 0 {
		t.Fatalf("garbage parsed into %d mounts", len(mounts))
	}
	if IsNoExec("") {
		t.Fatal("empty path must not be noexec")
	}
}
