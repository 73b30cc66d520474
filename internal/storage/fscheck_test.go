package storage

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
)

func TestCheckLocalFilesystem_AllowsLocalFS(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "Commands.xml")
	err := checkLocalFilesystemWithDetector(path, "channel", func(path string) (string, error) {
		return "ext4", nil
	})
	if err != nil {
		t.Fatalf("expected local filesystem to pass, got: %v", err)
	}
}

func TestCheckLocalFilesystem_RejectsNetworkFS(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "journal.db")
	err := checkLocalFilesystemWithDetector(path, "journal database", func(path string) (string, error) {
		return "nfs", nil
	})
	if err == nil {
		t.Fatal("expected network filesystem validation error")
	}

	msg := err.Error()
	for _, want := range []string{"journal database", "nfs", "requires a local filesystem"} {
		if !strings.Contains(msg, want) {
			t.Fatalf("expected error to contain %q, got %q", want, msg)
		}
	}
}

func TestCheckLocalFilesystem_UsesNearestExistingPath(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	path := filepath.Join(root, "nested", "dir", "Commands.xml")

	var inspectedPath string
	err := checkLocalFilesystemWithDetector(path, "channel", func(path string) (string, error) {
		inspectedPath = path
		return "apfs", nil
	})
	if err != nil {
		t.Fatalf("expected local filesystem to pass, got: %v", err)
	}

	if inspectedPath != root {
		t.Fatalf("expected detector to inspect nearest existing path %q, got %q", root, inspectedPath)
	}
}

func TestCheckLocalFilesystem_DetectorErrorNamesFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "Commands.xml")
	err := checkLocalFilesystemWithDetector(path, "channel document", func(string) (string, error) {
		return "", errors.New("statfs: permission denied")
	})
	if err == nil {
		t.Fatal("expected detector error")
	}
	for _, want := range []string{"channel document", path, "permission denied"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected error to contain %q, got %q", want, err.Error())
		}
	}
}

func TestCheckLocalFilesystem_EmptyPath(t *testing.T) {
	t.Parallel()

	if err := CheckLocalFilesystem("", "channel"); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestIsNetworkFilesystem(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		fs   string
		want bool
	}{
		{name: "nfs", fs: "nfs", want: true},
		{name: "cifs padded", fs: " cifs ", want: true},
		{name: "smbfs uppercase", fs: "SMBFS", want: true},
		{name: "local ext4", fs: "ext4", want: false},
		{name: "hex linux magic", fs: "0xef53", want: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := isNetworkFilesystem(tc.fs); got != tc.want {
				t.Fatalf("isNetworkFilesystem(%q)=%v, want %v", tc.fs, got, tc.want)
			}
		})
	}
}
