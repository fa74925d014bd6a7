package build

import (
	"context"
	"encoding/base64"
	stderrors "errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/evanw/esbuild/pkg/api"

	"github.com/vango-dev/assetpipe/internal/config"
	"github.com/vango-dev/assetpipe/internal/errors"
	"github.com/vango-dev/assetpipe/internal/sass"
)

var engineNames = map[string]api.EngineName{
	"chrome":  api.EngineChrome,
	"edge":    api.EngineEdge,
	"firefox": api.EngineFirefox,
	"ie":      api.EngineIE,
	"ios":     api.EngineIOS,
	"opera":   api.EngineOpera,
	"safari":  api.EngineSafari,
}

// parseEngines converts browser targets like "chrome58" or "ios10.3".
func parseEngines(browsers []string) ([]api.Engine, error) {
	parsed, err := config.ParseBrowsers(browsers)
	if err != nil {
		return nil, err
	}
	engines := make([]api.Engine, 0, len(parsed))
	for _, b := range parsed {
		name, ok := engineNames[b.Name]
		if !ok {
			return nil, fmt.Errorf("unknown browser %q", b.Name)
		}
		engines = append(engines, api.Engine{Name: name, Version: b.Version})
	}
	return engines, nil
}

// Styles compiles every non-partial stylesheet. A file that fails to
// compile does not stop the others; the errors are joined.
func (b *Builder) Styles(ctx context.Context) (*Result, error) {
	start := time.Now()
	result := &Result{Kind: config.KindStyles}

	engines, err := parseEngines(b.config.Styles.Browsers)
	if err != nil {
		return nil, errors.New("E103").
			WithDetail(err.Error()).
			WithSuggestion(`Use targets like "chrome58" or "safari10" in styles.browsers`)
	}

	srcs, err := b.sources(config.KindStyles)
	if err != nil {
		return nil, errors.New("E110").Wrap(err)
	}

	includes := []string{filepath.Join(b.config.Dir(), filepath.FromSlash(b.config.GlobBase(config.KindStyles)))}
	for _, p := range b.config.Styles.IncludePaths {
		if !filepath.IsAbs(p) {
			p = filepath.Join(b.config.Dir(), filepath.FromSlash(p))
		}
		includes = append(includes, p)
	}

	var errs []error
	for _, src := range srcs {
		if isPartial(src.Rel) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return result, err
		}

		b.progress("Compiling " + src.Rel + "...")
		written, err := b.compileStyle(ctx, src, includes, engines)
		if err != nil {
			b.logger.Debug("style compile failed", "file", src.Rel, "error", err)
			errs = append(errs, err)
			continue
		}
		result.Written = append(result.Written, written...)
	}

	result.Duration = time.Since(start)
	return result, stderrors.Join(errs...)
}

func (b *Builder) compileStyle(ctx context.Context, src source, includes []string, engines []api.Engine) ([]string, error) {
	withMap := b.config.Styles.SourceMaps

	compiled, err := b.options.Styles.Compile(ctx, sass.Request{
		Path:         src.Abs,
		IncludePaths: includes,
		SourceMap:    withMap,
	})
	if err != nil {
		return nil, errors.New("E110").
			WithDetail(fmt.Sprintf("%s: %s", b.config.Rel(src.Abs), err.Error())).
			Wrap(err)
	}

	css := packMediaQueries(compiled.CSS)
	if withMap && compiled.SourceMap != "" {
		// esbuild chains an inline input map into the map it emits.
		css += "\n/*# sourceMappingURL=data:application/json;base64," +
			base64.StdEncoding.EncodeToString([]byte(compiled.SourceMap)) + " */\n"
	}

	dest := b.output(config.KindStyles, src.Rel, ".css")
	opts := api.TransformOptions{
		Loader:           api.LoaderCSS,
		Engines:          engines,
		MinifyWhitespace: true,
		MinifySyntax:     true,
		LegalComments:    api.LegalCommentsInline,
		LogLevel:         api.LogLevelSilent,
		Sourcefile:       src.Abs,
	}
	if withMap {
		opts.Sourcemap = api.SourceMapExternal
	}

	res := api.Transform(css, opts)
	if len(res.Errors) > 0 {
		return nil, errors.New("E110").
			WithDetail(fmt.Sprintf("%s: %s", b.config.Rel(src.Abs), formatMessages(res.Errors)))
	}

	code := res.Code
	var written []string
	if withMap && len(res.Map) > 0 {
		mapPath := dest + ".map"
		if err := writeFileAtomic(mapPath, res.Map); err != nil {
			return nil, errors.New("E110").Wrap(err)
		}
		code = append(code, []byte("/*# sourceMappingURL="+filepath.Base(mapPath)+" */\n")...)
		written = append(written, b.config.Rel(mapPath))
	}

	if err := writeFileAtomic(dest, code); err != nil {
		return nil, errors.New("E110").Wrap(err)
	}
	written = append([]string{b.config.Rel(dest)}, written...)
	return written, nil
}

// formatMessages renders esbuild messages without color.
func formatMessages(msgs []api.Message) string {
	lines := api.FormatMessages(msgs, api.FormatMessagesOptions{Kind: api.ErrorMessage})
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
