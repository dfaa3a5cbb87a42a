// Package sketchbook stores user sketches as plain files in one directory.
package sketchbook

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

var (
	ErrNotFound    = errors.New("sketch not found")
	ErrExists      = errors.New("sketch already exists")
	ErrInvalidName = errors.New("invalid sketch name")
)

// SaveOptions alters how Save treats an existing sketch.
type SaveOptions struct {
	// Exclusive fails the save with ErrExists instead of overwriting.
	Exclusive bool
}

// Sketchbook is a directory of named sketches. There is no locking: concurrent
// saves of one name race and the last writer wins.
type Sketchbook struct {
	dir string
}

// New opens the sketchbook at dir, creating the directory if needed.
func New(dir string) (*Sketchbook, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve sketchbook directory: %w", err)
	}
	if err := os.MkdirAll(absDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create sketchbook directory: %w", err)
	}
	return &Sketchbook{dir: absDir}, nil
}

// Dir returns the absolute sketchbook directory.
func (s *Sketchbook) Dir() string {
	return s.dir
}

// List returns the sketch names in directory order.
func (s *Sketchbook) List() ([]string, error) {
	d, err := os.Open(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to open sketchbook: %w", err)
	}
	defer d.Close()

	entries, err := d.Readdir(-1)
	if err != nil {
		return nil, fmt.Errorf("failed to list sketchbook: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		names = append(names, e.Name())
	}
	return names, nil
}

// Load returns the content of the named sketch.
func (s *Sketchbook) Load(name string) (string, error) {
	p, err := s.path(name)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return "", fmt.Errorf("failed to read sketch %s: %w", name, err)
	}
	return string(data), nil
}

// Save writes code verbatim to the named sketch.
func (s *Sketchbook) Save(name, code string, opts SaveOptions) error {
	p, err := s.path(name)
	if err != nil {
		return err
	}

	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if opts.Exclusive {
		flags = os.O_WRONLY | os.O_CREATE | os.O_EXCL
	}
	f, err := os.OpenFile(p, flags, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("%w: %s", ErrExists, name)
		}
		return fmt.Errorf("failed to open sketch %s: %w", name, err)
	}
	if _, err := f.WriteString(code); err != nil {
		f.Close()
		return fmt.Errorf("failed to write sketch %s: %w", name, err)
	}
	return f.Close()
}

// path resolves name inside the sketchbook. Sketches live flat in the
// directory, so a name must be a single local path element.
func (s *Sketchbook) path(name string) (string, error) {
	if !filepath.IsLocal(name) || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	p := filepath.Join(s.dir, name)
	if p == s.dir {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return p, nil
}
