package autoupdate

import (
	"archive/zip"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/obentoo/plugsync/internal/common/config"
	"github.com/obentoo/plugsync/internal/host"
)

const (
	testRepo    = "/srv/repo"
	testPlugins = "/site/plugins"
	testUpgrade = "/site/upgrade"
	testState   = "/var/lib/plugsync"
)

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

// pluginSource returns a main file declaring name and version.
func pluginSource(name, version string) string {
	return fmt.Sprintf("<?php\n/**\n * Plugin Name: %s\n * Version: %s\n * Text Domain: %s\n */\n", name, version, strings.ToLower(name))
}

// writeZip creates a zip archive at path on fs holding the given entries.
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

func writeFile(t *testing.T, fs afero.Fs, path, content string) {
	t.Helper()
	if err := fs.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := afero.WriteFile(fs, path, []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// testEnv is a site with a plugins directory, a repository and a state
// directory on an in-memory filesystem.
type testEnv struct {
	fs       afero.Fs
	cfg      *config.Config
	registry *host.FSRegistry
	index    *host.FileIndex
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvOn(t, afero.NewMemMapFs())
}

func newTestEnvOn(t *testing.T, fs afero.Fs) *testEnv {
	t.Helper()

	for _, dir := range []string{testRepo, testPlugins, testState} {
		if err := fs.MkdirAll(dir, 0755); err != nil {
			t.Fatalf("mkdir %s: %v", dir, err)
		}
	}

	cfg := config.Default()
	cfg.RepoPath = testRepo
	cfg.Host.PluginsDir = testPlugins
	cfg.Host.UpgradeDir = testUpgrade
	cfg.Host.StateDir = testState
	cfg.Host.LeaseWait = 10 * time.Millisecond

	return &testEnv{
		fs:       fs,
		cfg:      cfg,
		registry: host.NewFSRegistry(fs, testPlugins, testState),
		index:    host.NewFileIndex(fs, filepath.Join(testState, "update_index.json")),
	}
}

// install places slug/slug.php with the given version in the plugins dir.
func (e *testEnv) install(t *testing.T, slug, name, version string) string {
	t.Helper()
	id := slug + "/" + slug + ".php"
	writeFile(t, e.fs, filepath.Join(testPlugins, slug, slug+".php"), pluginSource(name, version))
	writeFile(t, e.fs, filepath.Join(testPlugins, slug, "readme.txt"), "old readme")
	return id
}

// publish places <repo>/<slug>/<slug>.zip holding slug/slug.php.
func (e *testEnv) publish(t *testing.T, slug, name, version string) string {
	t.Helper()
	path := filepath.Join(testRepo, slug, slug+".zip")
	writeZip(t, e.fs, path, map[string]string{
		slug + "/" + slug + ".php": pluginSource(name, version),
		slug + "/inc/helpers.php":  "<?php // helpers " + version,
	})
	return path
}

// lock makes every path below prefix read-only from now on.
func (e *testEnv) lock(prefix string) {
	e.fs = &readOnlyFs{Fs: e.fs, prefix: prefix}
	e.registry = host.NewFSRegistry(e.fs, testPlugins, testState)
	e.index = host.NewFileIndex(e.fs, filepath.Join(testState, "update_index.json"))
}

func (e *testEnv) resolver() *Resolver {
	return NewResolver(e.fs, testRepo, nil)
}

func (e *testEnv) service(t *testing.T, opts ...ServiceOption) *Service {
	t.Helper()
	opts = append([]ServiceOption{WithServiceNowFunc(func() time.Time { return testNow })}, opts...)
	svc, err := NewService(e.cfg, e.fs, e.registry, e.index, opts...)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func (e *testEnv) installedVersion(t *testing.T, id string) string {
	t.Helper()
	pkg, err := e.registry.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get(%s): %v", id, err)
	}
	return pkg.Version
}

// seedIndex writes an update index listing ids as needing an update.
func (e *testEnv) seedIndex(t *testing.T, ids ...string) {
	t.Helper()
	ix := host.NewIndex()
	for _, id := range ids {
		ix.SetNeedsUpdate(host.IndexEntry{ID: id, Slug: host.SlugOf(id), Plugin: id, NewVersion: "9.9"})
	}
	if err := e.index.Replace(context.Background(), ix); err != nil {
		t.Fatalf("seed index: %v", err)
	}
}

// readOnlyFs rejects every write below prefix.
type readOnlyFs struct {
	afero.Fs
	prefix string
}

func (r *readOnlyFs) locked(name string) bool {
	name = filepath.Clean(name)
	return name == r.prefix || strings.HasPrefix(name, r.prefix+string(filepath.Separator))
}

func (r *readOnlyFs) deny(op, name string) error {
	return &os.PathError{Op: op, Path: name, Err: os.ErrPermission}
}

func (r *readOnlyFs) Create(name string) (afero.File, error) {
	if r.locked(name) {
		return nil, r.deny("create", name)
	}
	return r.Fs.Create(name)
}

func (r *readOnlyFs) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	if r.locked(name) && flag&(os.O_WRONLY|os.O_RDWR|os.O_CREATE|os.O_TRUNC|os.O_APPEND) != 0 {
		return nil, r.deny("open", name)
	}
	return r.Fs.OpenFile(name, flag, perm)
}

func (r *readOnlyFs) Mkdir(name string, perm os.FileMode) error {
	if r.locked(name) {
		return r.deny("mkdir", name)
	}
	return r.Fs.Mkdir(name, perm)
}

func (r *readOnlyFs) MkdirAll(name string, perm os.FileMode) error {
	if r.locked(name) {
		return r.deny("mkdir", name)
	}
	return r.Fs.MkdirAll(name, perm)
}

func (r *readOnlyFs) Remove(name string) error {
	if r.locked(name) {
		return r.deny("remove", name)
	}
	return r.Fs.Remove(name)
}

func (r *readOnlyFs) RemoveAll(name string) error {
	if r.locked(name) {
		return r.deny("remove", name)
	}
	return r.Fs.RemoveAll(name)
}

func (r *readOnlyFs) Rename(oldname, newname string) error {
	if r.locked(oldname) || r.locked(newname) {
		return r.deny("rename", oldname)
	}
	return r.Fs.Rename(oldname, newname)
}

// hiddenEntries lists dot entries left in dir.
func hiddenEntries(t *testing.T, fs afero.Fs, dir string) []string {
	t.Helper()
	entries, err := afero.ReadDir(fs, dir)
	if err != nil {
		t.Fatalf("readdir %s: %v", dir, err)
	}
	var hidden []string
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".") {
			hidden = append(hidden, e.Name())
		}
	}
	return hidden
}
