package build

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/evanw/esbuild/pkg/api"

	"github.com/vango-dev/assetpipe/internal/config"
	"github.com/vango-dev/assetpipe/internal/errors"
)

var scriptTargets = map[string]api.Target{
	"es5":    api.ES5,
	"es2015": api.ES2015,
	"es2016": api.ES2016,
	"es2017": api.ES2017,
	"es2018": api.ES2018,
	"es2019": api.ES2019,
	"es2020": api.ES2020,
	"es2021": api.ES2021,
	"es2022": api.ES2022,
	"esnext": api.ESNext,
}

// Scripts bundles the entry point into one minified IIFE file.
// console calls and legal comments are kept.
func (b *Builder) Scripts(ctx context.Context) (*Result, error) {
	start := time.Now()
	result := &Result{Kind: config.KindScripts}

	target, ok := scriptTargets[strings.ToLower(b.config.Scripts.Target)]
	if !ok {
		return nil, errors.New("E103").
			WithDetail(fmt.Sprintf("unknown script target %q", b.config.Scripts.Target)).
			WithSuggestion(`Use "es2015" through "es2022" or "esnext"`)
	}

	entry := b.config.ScriptEntry()
	if _, err := os.Stat(entry); err != nil {
		return nil, errors.New("E111").
			WithDetail("Entry point not found: " + b.config.Rel(entry)).
			WithSuggestion("Create it or set scripts.entry in assetpipe.json")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	outfile := filepath.Join(b.config.DestDir(config.KindScripts), b.config.Scripts.Output)

	b.progress("Bundling " + b.config.Rel(entry) + "...")
	res := api.Build(api.BuildOptions{
		EntryPoints:       []string{entry},
		Outfile:           outfile,
		AbsWorkingDir:     b.config.Dir(),
		Bundle:            true,
		Write:             false,
		Format:            api.FormatIIFE,
		Platform:          api.PlatformBrowser,
		Target:            target,
		MinifyWhitespace:  true,
		MinifySyntax:      true,
		MinifyIdentifiers: true,
		LegalComments:     api.LegalCommentsInline,
		ResolveExtensions: []string{".js"},
		LogLevel:          api.LogLevelSilent,
	})

	if len(res.Errors) > 0 {
		return nil, scriptError(b.config.Dir(), res.Errors)
	}

	for _, f := range res.OutputFiles {
		if err := writeFileAtomic(f.Path, f.Contents); err != nil {
			return nil, errors.New("E111").Wrap(err)
		}
		result.Written = append(result.Written, b.config.Rel(f.Path))
	}

	result.Duration = time.Since(start)
	return result, nil
}

func scriptError(dir string, msgs []api.Message) error {
	e := errors.New("E111").WithDetail(formatMessages(msgs))
	if loc := msgs[0].Location; loc != nil {
		file := loc.File
		if !filepath.IsAbs(file) {
			file = filepath.Join(dir, filepath.FromSlash(file))
		}
		e = e.WithLocation(file, loc.Line, loc.Column+1)
	}
	return e
}
