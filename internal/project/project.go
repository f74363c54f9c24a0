// Package project models the Worker's two project slots — current, the
// live project, and default, a seed copied into current on first start —
// and detection of a project's kind from its entry file.
//
// It is intended for internal use by gatewayd only.
package project

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Kind enumerates supported project kinds. Only KindScripted is supported;
// mixed or undetectable kinds are rejected.
type Kind string

const (
	KindUnknown  Kind = ""
	KindScripted Kind = "scripted"
)

// entryFileNames lists the filenames, in priority order, that identify a
// scripted project's entry point. Only a Go source file is recognized: the
// Worker's execution context is realized by compiling the project with
// `go build -buildmode=plugin`, so any other entry kind could never be
// loaded.
var entryFileNames = []string{"main.go"}

// ErrNoEntryFile is returned when no recognized entry file is found under a
// project root.
var ErrNoEntryFile = errors.New("project: no entry file found")

// Project is a directory under the Worker's storage root, together with its
// detected kind and entry file path.
type Project struct {
	Root      string
	Kind      Kind
	EntryFile string
}

// Store resolves the current and default project slots under a storage
// root (spec: storage/projects/current, storage/projects/default).
type Store struct {
	Root string
}

// NewStore creates a Store rooted at storageRoot.
func NewStore(storageRoot string) *Store {
	return &Store{Root: storageRoot}
}

// CurrentDir is the path of the live project.
func (s *Store) CurrentDir() string { return filepath.Join(s.Root, "projects", "current") }

// DefaultDir is the path of the seed project copied into current on first
// start if current is empty.
func (s *Store) DefaultDir() string { return filepath.Join(s.Root, "projects", "default") }

// IsEmpty reports whether dir doesn't exist or has no entries.
func IsEmpty(dir string) (bool, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("reading %s: %w", dir, err)
	}
	return len(entries) == 0, nil
}

// SeedFromDefault copies the default project into current, skipping
// cache-like hidden directories, if current is empty and default exists.
func (s *Store) SeedFromDefault() error {
	empty, err := IsEmpty(s.CurrentDir())
	if err != nil {
		return err
	}
	if !empty {
		return nil
	}

	if _, err := os.Stat(s.DefaultDir()); errors.Is(err, fs.ErrNotExist) {
		return nil
	}

	return copyTree(s.DefaultDir(), s.CurrentDir())
}

// Detect inspects root for a recognized entry file and returns the detected
// Project, or ErrNoEntryFile if none is found.
func Detect(root string) (Project, error) {
	for _, name := range entryFileNames {
		candidate := filepath.Join(root, name)
		if _, err := os.Stat(candidate); err == nil {
			return Project{Root: root, Kind: KindScripted, EntryFile: candidate}, nil
		}
	}
	return Project{}, fmt.Errorf("%w: searched %v under %s", ErrNoEntryFile, entryFileNames, root)
}

// copyTree recursively copies src into dst, skipping directories whose
// basename starts with "." (cache-like hidden directories such as
// __pycache__ equivalents).
func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		if d.IsDir() && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}

		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		return copyFile(path, target, info.Mode())
	})
}

func copyFile(src, dst string, mode fs.FileMode) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("reading %s: %w", src, err)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(dst), err)
	}
	if err := os.WriteFile(dst, data, mode); err != nil {
		return fmt.Errorf("writing %s: %w", dst, err)
	}
	return nil
}
