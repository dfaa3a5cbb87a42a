package buildservice

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/bikappa/blockly-sketchbook/buildservice/types"
	"golang.org/x/sync/errgroup"
)

// maximum number of toolchain files copied at the same time
const stageConcurrency = 4

type BuildOptions struct {
	ID           string
	Workspace    string
	ToolchainDir string
	Manifest     []string
	// generated files, written after the manifest so they win on a name clash
	Files []types.File
}

// Stage fills the workspace with the toolchain manifest and the generated files.
func (o *BuildOptions) Stage(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(stageConcurrency)
	for _, name := range o.Manifest {
		name := name
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return copyFile(filepath.Join(o.ToolchainDir, name), filepath.Join(o.Workspace, name))
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("failed to stage toolchain: %w", err)
	}

	for _, f := range o.Files {
		if err := os.WriteFile(filepath.Join(o.Workspace, f.Name), []byte(f.Data), 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", f.Name, err)
		}
	}
	return nil
}

// RenderProgram substitutes code for every occurrence of placeholder in the
// template. The second return is false when the template has no placeholder.
func RenderProgram(name, template, placeholder, code string) (types.File, bool) {
	return types.File{
		Name: name,
		Data: strings.ReplaceAll(template, placeholder, code),
	}, strings.Contains(template, placeholder)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", src)
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
