package testutil

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/crateload/crateload/internal/blob"
	"github.com/crateload/crateload/internal/config"
	"github.com/crateload/crateload/internal/crate"
	"github.com/crateload/crateload/internal/locator"
)

// TempDir creates a temporary directory and returns a cleanup function.
func TempDir(t *testing.T) (string, func()) {
	t.Helper()
	dir, err := os.MkdirTemp("", "crateload-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	return dir, func() { os.RemoveAll(dir) }
}

// NewTestConfig creates a config with temporary directories for testing.
func NewTestConfig(t *testing.T) (*config.Config, func()) {
	t.Helper()
	tmpDir, cleanup := TempDir(t)

	cfg := &config.Config{
		HomeDir:       tmpDir,
		BlobCacheDir:  filepath.Join(tmpDir, "cache", "blobs"),
		SearchPathDir: filepath.Join(tmpDir, "crates"),
		ConfigFile:    filepath.Join(tmpDir, "config.toml"),
	}

	if err := cfg.EnsureDirectories(); err != nil {
		cleanup()
		t.Fatalf("failed to create config directories: %v", err)
	}

	return cfg, cleanup
}

// NewTestMetadata builds a crate.Metadata with common defaults for a leaf
// crate with no dependencies, loaded explicitly as if named on --extern.
func NewTestMetadata(name string, stableID crate.StableID) *crate.Metadata {
	src := crate.Source{RlibPath: "/fake/" + name + ".rlib"}
	return crate.NewMetadata(name, stableID, src, crate.KindRlib, crate.DepExplicit, crate.OriginExtern)
}

// NewTestMetadataWithDeps builds a crate.Metadata declaring deps as
// explicit, public dependencies.
func NewTestMetadataWithDeps(name string, stableID crate.StableID, deps ...crate.Dep) *crate.Metadata {
	m := NewTestMetadata(name, stableID)
	m.Deps = deps
	return m
}

// NewFakeLoader returns a blob.MetadataLoader that serves pre-registered
// descriptors by path.
func NewFakeLoader() *FakeLoader {
	return &FakeLoader{
		descs: make(map[string]*blob.Descriptor),
		errs:  make(map[string]error),
	}
}

// FakeLoader is an in-memory blob.MetadataLoader for tests.
type FakeLoader struct {
	descs map[string]*blob.Descriptor
	errs  map[string]error
}

func (f *FakeLoader) Set(path string, desc *blob.Descriptor) { f.descs[path] = desc }
func (f *FakeLoader) SetError(path string, err error)         { f.errs[path] = err }

func (f *FakeLoader) Load(ctx context.Context, path string) (*blob.Descriptor, error) {
	if err, ok := f.errs[path]; ok {
		return nil, err
	}
	if desc, ok := f.descs[path]; ok {
		return desc, nil
	}
	return nil, os.ErrNotExist
}

// NewFakeLocator returns a locator.Locator that serves one fixed candidate
// per registered crate name and no candidates for anything else.
func NewFakeLocator() *FakeLocator {
	return &FakeLocator{candidates: make(map[string]locator.Candidate)}
}

// FakeLocator is an in-memory locator.Locator for tests.
type FakeLocator struct {
	candidates map[string]locator.Candidate
}

// Add registers name as resolving to a single rlib candidate of kind.
func (f *FakeLocator) Add(name string, kind crate.Kind) {
	path := "/fake/" + name + ".rlib"
	f.candidates[name] = locator.Candidate{
		Source: crate.Source{RlibPath: path},
		Kind:   kind,
		Path:   path,
	}
}

// Load implements locator.Locator.
func (f *FakeLocator) Load(ctx context.Context, req locator.Request) (locator.Result, error) {
	if req.ExplicitPath != "" {
		for _, c := range f.candidates {
			if c.Path == req.ExplicitPath {
				return locator.Result{Candidates: []locator.Candidate{c}}, nil
			}
		}
		return locator.Result{}, nil
	}
	c, ok := f.candidates[req.Name]
	if !ok {
		return locator.Result{}, nil
	}
	return locator.Result{Candidates: []locator.Candidate{c}}, nil
}

// FileExists checks if a file exists.
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// AssertFileExists checks if a file exists at the given path.
func AssertFileExists(t *testing.T, path string) {
	t.Helper()
	if !FileExists(path) {
		t.Errorf("file does not exist: %s", path)
	}
}

// AssertFileNotExists checks if a file does NOT exist at the given path.
func AssertFileNotExists(t *testing.T, path string) {
	t.Helper()
	if FileExists(path) {
		t.Errorf("file should not exist: %s", path)
	}
}
