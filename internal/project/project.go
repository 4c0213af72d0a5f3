// Package project materializes submitted code as a throwaway Cargo project.
package project

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

const (
	ManifestFile = "Cargo.toml"
	SourceDir    = "src"
	TestsDir     = "tests"

	MainFile  = "main.rs"
	LibFile   = "lib.rs"
	TestsFile = "tests.rs"

	defaultPrefix = "crucible"
)

// Spec describes the files a project needs. Package names the crate in the
// default manifest and is ignored when Manifest is set.
type Spec struct {
	Package  string
	MainFile string
	Code     string
	Tests    string
	Manifest string
}

// Layout is one materialized project on disk.
type Layout struct {
	Root      string
	Source    string
	Manifest  string
	TestsPath string // empty when the project has no separate tests
	removed   bool
}

// Remove deletes the project tree including any build artifacts.
// It is safe to call more than once.
func (l *Layout) Remove() error {
	if l == nil || l.removed {
		return nil
	}
	if err := os.RemoveAll(l.Root); err != nil {
		return fmt.Errorf("removing project %s: %w", l.Root, err)
	}
	l.removed = true
	return nil
}

// MaterializationError reports a failure to lay out a project. It is an
// environment failure, never a verdict on the submitted code.
type MaterializationError struct {
	Path string
	Err  error
}

func (e *MaterializationError) Error() string {
	return fmt.Sprintf("materializing project at %s: %v", e.Path, e.Err)
}

func (e *MaterializationError) Unwrap() error { return e.Err }

// Materializer creates project directories under Root.
type Materializer struct {
	Root   string // defaults to os.TempDir()
	Prefix string // defaults to "crucible"
}

// NewMaterializer returns a Materializer rooted at root ("" = system temp dir).
func NewMaterializer(root string) *Materializer {
	return &Materializer{Root: root, Prefix: defaultPrefix}
}

// Materialize writes spec into a fresh directory. On error nothing is left
// behind.
func (m *Materializer) Materialize(spec Spec) (*Layout, error) {
	if spec.MainFile == "" {
		spec.MainFile = MainFile
	}

	root, err := m.allocate()
	if err != nil {
		return nil, err
	}

	layout := &Layout{
		Root:     root,
		Source:   filepath.Join(root, SourceDir),
		Manifest: filepath.Join(root, ManifestFile),
	}
	if err := m.write(layout, spec); err != nil {
		_ = os.RemoveAll(root)
		return nil, err
	}
	return layout, nil
}

// allocate creates a uniquely named directory. os.Mkdir fails on an existing
// path, so two requests can never share a directory even if names collide.
func (m *Materializer) allocate() (string, error) {
	base := m.Root
	if base == "" {
		base = os.TempDir()
	}
	prefix := m.Prefix
	if prefix == "" {
		prefix = defaultPrefix
	}
	if err := os.MkdirAll(base, 0o755); err != nil {
		return "", &MaterializationError{Path: base, Err: err}
	}

	name := fmt.Sprintf("%s-%d-%d-%s", prefix, os.Getpid(), time.Now().UnixNano(), uuid.NewString()[:8])
	root := filepath.Join(base, name)
	if err := os.Mkdir(root, 0o755); err != nil {
		return "", &MaterializationError{Path: root, Err: err}
	}
	return root, nil
}

func (m *Materializer) write(l *Layout, spec Spec) error {
	if err := os.Mkdir(l.Source, 0o755); err != nil {
		return &MaterializationError{Path: l.Source, Err: err}
	}
	if err := writeFile(filepath.Join(l.Source, spec.MainFile), spec.Code); err != nil {
		return err
	}

	if spec.Tests != "" {
		dir := filepath.Join(l.Root, TestsDir)
		if err := os.Mkdir(dir, 0o755); err != nil {
			return &MaterializationError{Path: dir, Err: err}
		}
		l.TestsPath = filepath.Join(dir, TestsFile)
		if err := writeFile(l.TestsPath, spec.Tests); err != nil {
			return err
		}
	}

	manifest := spec.Manifest
	if manifest == "" {
		manifest = DefaultManifest(spec.Package)
	}
	return writeFile(l.Manifest, manifest)
}

func writeFile(path, content string) error {
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return &MaterializationError{Path: path, Err: err}
	}
	return nil
}

// DefaultManifest is the minimal manifest used when the caller supplies none.
func DefaultManifest(pkg string) string {
	if pkg == "" {
		pkg = "playground"
	}
	return fmt.Sprintf(`[package]
name = %q
version = "0.1.0"
edition = "2021"

[dependencies]
`, pkg)
}

// IsMaterializationError reports whether err came from Materialize.
func IsMaterializationError(err error) bool {
	var me *MaterializationError
	return errors.As(err, &me)
}
