package build

import (
	"context"
	"fmt"
	"time"

	"github.com/vango-dev/assetpipe/internal/config"
	"github.com/vango-dev/assetpipe/internal/errors"
)

// Copy copies every file matched by kind's glob to its destination.
func (b *Builder) Copy(ctx context.Context, kind config.AssetKind) (*Result, error) {
	start := time.Now()
	result := &Result{Kind: kind}

	srcs, err := b.sources(kind)
	if err != nil {
		return nil, errors.New("E113").Wrap(err)
	}

	for _, src := range srcs {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		dest := b.output(kind, src.Rel, "")
		if err := copyFile(src.Abs, dest); err != nil {
			return result, errors.New("E113").
				WithDetail(fmt.Sprintf("%s → %s", b.config.Rel(src.Abs), b.config.Rel(dest))).
				Wrap(err)
		}
		result.Written = append(result.Written, b.config.Rel(dest))
	}

	result.Duration = time.Since(start)
	return result, nil
}
