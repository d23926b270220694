package archive

import (
	"archive/zip"
	"errors"
	"path/filepath"
	"sort"
	"testing"

	"github.com/spf13/afero"
)

// writeZip creates a zip archive at path on fs holding the given entries.
// Entries ending in "/" are written as directories.
func writeZip(t *testing.T, fs afero.Fs, path string, entries map[string]string) {
	t.Helper()

	if err := fs.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	f, err := fs.Create(path)
	if err != nil {
		t.Fatalf("create zip: %v", err)
	}
	defer f.Close()

	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	sort.Strings(names)

	zw := zip.NewWriter(f)
	for _, name := range names {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("zip entry %s: %v", name, err)
		}
		if _, err := w.Write([]byte(entries[name])); err != nil {
			t.Fatalf("zip write %s: %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
}

func TestSafeJoin(t *testing.T) {
	tests := []struct {
		name    string
		entry   string
		want    string
		wantErr bool
	}{
		{"plain file", "acme/acme.php", "/scratch/acme/acme.php", false},
		{"dot segments inside", "acme/./inc/../acme.php", "/scratch/acme/acme.php", false},
		{"backslashes", `acme\inc\file.php`, "/scratch/acme/inc/file.php", false},
		{"parent escape", "../evil.php", "", true},
		{"nested escape", "acme/../../evil.php", "", true},
		{"absolute", "/etc/passwd", "", true},
		{"empty", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SafeJoin("/scratch", tt.entry)
			if tt.wantErr {
				if !errors.Is(err, ErrUnsafePath) {
					t.Fatalf("SafeJoin(%q) error = %v, want ErrUnsafePath", tt.entry, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("SafeJoin(%q) unexpected error = %v", tt.entry, err)
			}
			if got != tt.want {
				t.Errorf("SafeJoin(%q) = %q, want %q", tt.entry, got, tt.want)
			}
		})
	}
}

func TestExtractAllAndFindRoot(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeZip(t, fs, "/repo/acme.zip", map[string]string{
		"acme/":               "",
		"acme/acme.php":       "<?php // Plugin Name: Acme",
		"acme/inc/helper.php": "<?php",
	})

	if err := ExtractAll(fs, "/repo/acme.zip", "/scratch"); err != nil {
		t.Fatalf("ExtractAll() error = %v", err)
	}

	data, err := afero.ReadFile(fs, "/scratch/acme/inc/helper.php")
	if err != nil || string(data) != "<?php" {
		t.Fatalf("extracted helper = %q, %v", data, err)
	}

	root, err := FindRoot(fs, "/scratch")
	if err != nil {
		t.Fatalf("FindRoot() error = %v", err)
	}
	if root != "/scratch/acme" {
		t.Errorf("FindRoot() = %q, want /scratch/acme", root)
	}
}

func TestFindRootFlatArchive(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeZip(t, fs, "/repo/flat.zip", map[string]string{
		"flat.php":   "<?php",
		"readme.txt": "hi",
	})

	if err := ExtractAll(fs, "/repo/flat.zip", "/scratch"); err != nil {
		t.Fatalf("ExtractAll() error = %v", err)
	}
	root, err := FindRoot(fs, "/scratch")
	if err != nil {
		t.Fatalf("FindRoot() error = %v", err)
	}
	if root != "/scratch" {
		t.Errorf("FindRoot() = %q, want /scratch", root)
	}
}

func TestFindRootIgnoresResourceForks(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeZip(t, fs, "/repo/mac.zip", map[string]string{
		"mac/mac.php":            "<?php",
		"__MACOSX/mac/._mac.php": "",
	})

	if err := ExtractAll(fs, "/repo/mac.zip", "/scratch"); err != nil {
		t.Fatalf("ExtractAll() error = %v", err)
	}
	root, _ := FindRoot(fs, "/scratch")
	if root != "/scratch/mac" {
		t.Errorf("FindRoot() = %q, want /scratch/mac", root)
	}
}

func TestExtractAllRejectsTraversal(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeZip(t, fs, "/repo/evil.zip", map[string]string{
		"../outside.php": "<?php",
	})

	err := ExtractAll(fs, "/repo/evil.zip", "/scratch")
	if !errors.Is(err, ErrUnsafePath) {
		t.Fatalf("ExtractAll() error = %v, want ErrUnsafePath", err)
	}
	if exists, _ := afero.Exists(fs, "/outside.php"); exists {
		t.Error("traversal entry was written outside the destination")
	}
}

func TestOpenRejectsNonZip(t *testing.T) {
	fs := afero.NewMemMapFs()
	if err := afero.WriteFile(fs, "/repo/bad.zip", []byte("not a zip"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(fs, "/repo/bad.zip"); err == nil {
		t.Error("Open() should fail for a non-zip file")
	}
	if _, err := Open(fs, "/repo/missing.zip"); err == nil {
		t.Error("Open() should fail for a missing file")
	}
}

func TestLookupAndExtractFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeZip(t, fs, "/repo/acme.zip", map[string]string{
		"acme/acme.php":  "Version: 2.0",
		"acme/other.php": "nothing",
	})

	r, err := Open(fs, "/repo/acme.zip")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer r.Close()

	entry := r.Lookup("acme/acme.php")
	if entry == nil {
		t.Fatal("Lookup() did not find acme/acme.php")
	}
	if r.Lookup("acme/missing.php") != nil {
		t.Error("Lookup() found a missing entry")
	}

	head, err := ReadHead(entry, 4)
	if err != nil || string(head) != "Vers" {
		t.Errorf("ReadHead() = %q, %v", head, err)
	}

	path, err := ExtractFile(fs, entry, "/tmp/inspect")
	if err != nil {
		t.Fatalf("ExtractFile() error = %v", err)
	}
	if path != "/tmp/inspect/acme/acme.php" {
		t.Errorf("ExtractFile() path = %q", path)
	}
	if exists, _ := afero.Exists(fs, "/tmp/inspect/acme/other.php"); exists {
		t.Error("ExtractFile() wrote more than the requested entry")
	}
}

func TestDepth(t *testing.T) {
	tests := map[string]int{
		"acme.php":          0,
		"acme/acme.php":     1,
		"acme/inc/util.php": 2,
	}
	for name, want := range tests {
		if got := Depth(name); got != want {
			t.Errorf("Depth(%q) = %d, want %d", name, got, want)
		}
	}
}

func TestCopyTreeAppliesDeterministicPermissions(t *testing.T) {
	fs := afero.NewMemMapFs()
	if err := fs.MkdirAll("/src/inc", 0700); err != nil {
		t.Fatal(err)
	}
	if err := afero.WriteFile(fs, "/src/main.php", []byte("main"), 0777); err != nil {
		t.Fatal(err)
	}
	if err := afero.WriteFile(fs, "/src/inc/util.php", []byte("util"), 0600); err != nil {
		t.Fatal(err)
	}

	if err := CopyTree(fs, "/src", "/dst"); err != nil {
		t.Fatalf("CopyTree() error = %v", err)
	}

	checks := []struct {
		path string
		perm uint32
	}{
		{"/dst", uint32(DirPerm)},
		{"/dst/inc", uint32(DirPerm)},
		{"/dst/main.php", uint32(FilePerm)},
		{"/dst/inc/util.php", uint32(FilePerm)},
	}
	for _, c := range checks {
		info, err := fs.Stat(c.path)
		if err != nil {
			t.Fatalf("stat %s: %v", c.path, err)
		}
		if got := uint32(info.Mode().Perm()); got != c.perm {
			t.Errorf("%s perm = %o, want %o", c.path, got, c.perm)
		}
	}

	data, _ := afero.ReadFile(fs, "/dst/inc/util.php")
	if string(data) != "util" {
		t.Errorf("copied content = %q", data)
	}
}
