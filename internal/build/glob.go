package build

import (
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/vango-dev/assetpipe/internal/config"
)

// source is one file matched by a kind's glob.
type source struct {
	// Abs is the absolute path.
	Abs string

	// Rel is the slash path relative to the glob base.
	Rel string
}

// sources expands the glob for kind. Matches are files only, in lexical order.
func (b *Builder) sources(kind config.AssetKind) ([]source, error) {
	pattern := b.config.Path(kind).Source
	base := b.config.GlobBase(kind)

	fsys := os.DirFS(b.config.Dir())
	matches, err := doublestar.Glob(fsys, path.Clean(pattern), doublestar.WithFilesOnly())
	if err != nil {
		return nil, err
	}

	out := make([]source, 0, len(matches))
	for _, m := range matches {
		rel := strings.TrimPrefix(strings.TrimPrefix(m, base), "/")
		if base == "." {
			rel = m
		}
		out = append(out, source{
			Abs: filepath.Join(b.config.Dir(), filepath.FromSlash(m)),
			Rel: rel,
		})
	}
	return out, nil
}

// output returns the destination for a source relative path, with ext
// replacing the source extension when non-empty.
func (b *Builder) output(kind config.AssetKind, rel, ext string) string {
	if ext != "" {
		rel = strings.TrimSuffix(rel, path.Ext(rel)) + ext
	}
	return filepath.Join(b.config.DestDir(kind), filepath.FromSlash(rel))
}

// isPartial reports whether a Sass file is only meant to be imported.
func isPartial(rel string) bool {
	return strings.HasPrefix(path.Base(rel), "_")
}
