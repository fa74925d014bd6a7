package build

import (
	"context"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"github.com/vango-dev/assetpipe/internal/config"
	"github.com/vango-dev/assetpipe/internal/errors"
	"github.com/vango-dev/assetpipe/internal/imagemin"
)

// Images recompresses changed images concurrently. An image is skipped
// when its output exists and is not older than the source. Formats the
// optimizer does not handle are copied as-is. Outputs take the source
// mtime.
func (b *Builder) Images(ctx context.Context) (*Result, error) {
	start := time.Now()
	result := &Result{Kind: config.KindImages}

	srcs, err := b.sources(config.KindImages)
	if err != nil {
		return nil, errors.New("E112").Wrap(err)
	}

	var mu sync.Mutex
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))

	for _, src := range srcs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			dest := b.output(config.KindImages, src.Rel, "")
			srcInfo, err := os.Stat(src.Abs)
			if err != nil {
				return errors.New("E112").Wrap(err)
			}
			if upToDate(srcInfo, dest) {
				mu.Lock()
				result.Skipped = append(result.Skipped, b.config.Rel(src.Abs))
				mu.Unlock()
				return nil
			}

			if !imagemin.Supported(src.Abs) {
				if err := copyFile(src.Abs, dest); err != nil {
					return errors.New("E112").Wrap(err)
				}
				b.logger.Debug("image copied", "file", src.Rel)
				mu.Lock()
				result.Written = append(result.Written, b.config.Rel(dest))
				mu.Unlock()
				return nil
			}

			data, err := os.ReadFile(src.Abs)
			if err != nil {
				return errors.New("E112").Wrap(err)
			}
			out, outcome, err := b.images.Optimize(src.Abs, data)
			if err != nil {
				return errors.New("E112").
					WithDetail(b.config.Rel(src.Abs) + ": " + err.Error()).
					Wrap(err)
			}

			if err := writeFileAtomic(dest, out); err != nil {
				return errors.New("E112").Wrap(err)
			}
			if err := os.Chtimes(dest, srcInfo.ModTime(), srcInfo.ModTime()); err != nil {
				return errors.New("E112").Wrap(err)
			}

			b.logger.Debug("image written",
				"file", src.Rel,
				"outcome", outcome,
				"before", humanize.Bytes(uint64(len(data))),
				"after", humanize.Bytes(uint64(len(out))))

			mu.Lock()
			result.Written = append(result.Written, b.config.Rel(dest))
			mu.Unlock()
			return nil
		})
	}

	err = g.Wait()
	result.Duration = time.Since(start)
	if err != nil {
		return result, err
	}
	return result, nil
}

// upToDate reports whether dest exists and is not older than the source.
func upToDate(src os.FileInfo, dest string) bool {
	info, err := os.Stat(dest)
	if err != nil {
		return false
	}
	return !info.ModTime().Before(src.ModTime())
}
