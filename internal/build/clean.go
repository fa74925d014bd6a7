package build

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/vango-dev/assetpipe/internal/errors"
)

// Clean removes the destination root. A missing directory is not an error.
// It refuses to remove the project directory, anything outside it, or a
// destination that contains the source root.
func (b *Builder) Clean() error {
	project := filepath.Clean(b.config.Dir())
	dest := b.config.DestRoot()
	src := b.config.SourceRoot()

	switch {
	case dest == project:
		return unsafeClean(dest, "it is the project directory")
	case !within(project, dest):
		return unsafeClean(dest, "it is outside the project directory")
	case within(dest, src):
		return unsafeClean(dest, "it contains the source directory "+b.config.Rel(src))
	}

	b.progress("Cleaning " + b.config.Rel(dest) + "...")
	if err := os.RemoveAll(dest); err != nil {
		return fmt.Errorf("clean %s: %w", dest, err)
	}
	b.logger.Debug("cleaned destination", "dir", b.config.Rel(dest))
	return nil
}

func unsafeClean(dest, reason string) error {
	return errors.New("E102").
		WithDetail(fmt.Sprintf("Refusing to delete %s: %s", dest, reason))
}

// within reports whether p is parent or a path below it.
func within(parent, p string) bool {
	rel, err := filepath.Rel(parent, p)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
