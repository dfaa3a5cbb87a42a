// Package assets resolves request paths to static editor files.
package assets

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"k8s.io/apimachinery/pkg/util/sets"
)

var (
	ErrUnknownExtension = errors.New("unknown asset extension")
	ErrNotFound         = errors.New("asset not found")
	ErrOutsideRoot      = errors.New("asset path escapes root")
)

// MimeTypes is the fixed extension to content type table.
var MimeTypes = map[string]string{
	".html": "text/html",
	".js":   "application/javascript",
	".css":  "text/css",
	".wav":  "audio/vnd.wave",
	".cur":  "image/vnd.microsoft.icon",
	".png":  "image/png",
	".ico":  "image/vnd.microsoft.icon",
}

// Asset is a resolved static file.
type Asset struct {
	URLPath     string
	FilePath    string
	ContentType string
	Data        []byte
}

// Resolver serves files from a fixed root directory.
type Resolver struct {
	root       string
	types      map[string]string
	extensions sets.Set[string]
	overridden sets.Set[string]
}

// NewResolver serves root with MimeTypes plus extraTypes. An extra entry for a
// known extension replaces its content type.
func NewResolver(root string, extraTypes map[string]string) (*Resolver, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve asset root: %w", err)
	}

	types := make(map[string]string, len(MimeTypes)+len(extraTypes))
	for ext, contentType := range MimeTypes {
		types[ext] = contentType
	}
	for ext, contentType := range extraTypes {
		if !strings.HasPrefix(ext, ".") || len(ext) < 2 || strings.ContainsAny(ext, `/\`) {
			return nil, fmt.Errorf("invalid asset extension %q", ext)
		}
		if contentType == "" {
			return nil, fmt.Errorf("empty content type for asset extension %q", ext)
		}
		types[ext] = contentType
	}

	known := sets.KeySet(MimeTypes)
	return &Resolver{
		root:       absRoot,
		types:      types,
		extensions: sets.KeySet(types),
		overridden: known.Intersection(sets.KeySet(extraTypes)),
	}, nil
}

// Root returns the absolute asset root.
func (r *Resolver) Root() string {
	return r.root
}

// Extensions returns the served extensions, sorted.
func (r *Resolver) Extensions() []string {
	return sets.List(r.extensions)
}

// Overridden returns the built-in extensions whose content type was replaced, sorted.
func (r *Resolver) Overridden() []string {
	return sets.List(r.overridden)
}

// Resolve reads the asset addressed by urlPath.
func (r *Resolver) Resolve(urlPath string) (*Asset, error) {
	for _, segment := range strings.Split(urlPath, "/") {
		if segment == ".." {
			return nil, fmt.Errorf("%w: %s", ErrOutsideRoot, urlPath)
		}
	}

	ext := path.Ext(urlPath)
	if !r.extensions.Has(ext) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownExtension, ext)
	}

	filePath := filepath.Join(r.root, filepath.FromSlash(path.Clean("/"+urlPath)))
	info, err := os.Stat(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, urlPath)
		}
		return nil, fmt.Errorf("failed to stat asset %s: %w", urlPath, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", ErrNotFound, urlPath)
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read asset %s: %w", urlPath, err)
	}
	return &Asset{
		URLPath:     urlPath,
		FilePath:    filePath,
		ContentType: r.types[ext],
		Data:        data,
	}, nil
}

// IsNotFound reports whether err should be answered as a missing file.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrUnknownExtension) ||
		errors.Is(err, ErrOutsideRoot)
}
