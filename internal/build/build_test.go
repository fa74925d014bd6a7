package build

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/vango-dev/assetpipe/internal/config"
	"github.com/vango-dev/assetpipe/internal/sass"
)

// stubCompiler returns the source file as CSS, or a configured error.
type stubCompiler struct {
	mu    sync.Mutex
	fail  map[string]error
	calls []string
}

func (s *stubCompiler) Compile(_ context.Context, req sass.Request) (sass.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, filepath.Base(req.Path))
	if err := s.fail[filepath.Base(req.Path)]; err != nil {
		return sass.Result{}, err
	}
	src, err := os.ReadFile(req.Path)
	if err != nil {
		return sass.Result{}, err
	}
	return sass.Result{CSS: string(src)}, nil
}

func newTestBuilder(t *testing.T) (*Builder, *config.Config, *stubCompiler) {
	t.Helper()
	cfg := config.New()
	cfg.SetDir(t.TempDir())
	stub := &stubCompiler{fail: map[string]error{}}
	return New(cfg, Options{Styles: stub}), cfg, stub
}

func writeFile(t *testing.T, dir, rel, content string) string {
	t.Helper()
	p := filepath.Join(dir, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return p
}

func readFile(t *testing.T, dir, rel string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(rel)))
	if err != nil {
		t.Fatalf("read %s: %v", rel, err)
	}
	return string(data)
}

func TestRun_UnknownKind(t *testing.T) {
	b, _, _ := newTestBuilder(t)
	if _, err := b.Run(context.Background(), "fonts"); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}

func TestNew_OwnsDefaultCompiler(t *testing.T) {
	cfg := config.New()
	cfg.SetDir(t.TempDir())
	b := New(cfg, Options{})
	if !b.ownsSass {
		t.Error("builder should own the default compiler")
	}
	if _, ok := b.options.Styles.(*sass.Compiler); !ok {
		t.Errorf("Styles = %T, want *sass.Compiler", b.options.Styles)
	}
	if err := b.Close(); err != nil {
		t.Errorf("Close() = %v", err)
	}
}

func TestClean(t *testing.T) {
	b, cfg, _ := newTestBuilder(t)
	dir := cfg.Dir()
	writeFile(t, dir, "dist/css/a.css", "a{}")

	var steps []string
	b.options.OnProgress = func(s string) { steps = append(steps, s) }

	if err := b.Clean(); err != nil {
		t.Fatalf("Clean() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "dist")); !os.IsNotExist(err) {
		t.Error("dist should be removed")
	}
	if len(steps) != 1 {
		t.Errorf("progress = %v", steps)
	}

	// Missing destination is fine.
	if err := b.Clean(); err != nil {
		t.Errorf("Clean() on missing dir = %v", err)
	}
}

func TestClean_RefusesUnsafeTargets(t *testing.T) {
	tests := []struct {
		name   string
		source string
		dest   string
	}{
		{"project directory", "src", "."},
		{"outside project", "src", "../elsewhere"},
		{"contains source", "public/src", "public"},
		{"same as source", "src", "src"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, cfg, _ := newTestBuilder(t)
			cfg.Source = tt.source
			cfg.Dest = tt.dest
			writeFile(t, cfg.Dir(), "keep.txt", "x")

			err := b.Clean()
			if err == nil || !strings.Contains(err.Error(), "E102") {
				t.Fatalf("Clean() = %v, want E102", err)
			}
			if _, err := os.Stat(filepath.Join(cfg.Dir(), "keep.txt")); err != nil {
				t.Error("project files must survive a refused clean")
			}
		})
	}
}

func TestStyles_CompilesEntriesSkipsPartials(t *testing.T) {
	b, cfg, stub := newTestBuilder(t)
	dir := cfg.Dir()
	writeFile(t, dir, "src/scss/_vars.scss", "$x: 1;")
	writeFile(t, dir, "src/scss/main.scss", ".a {\n  color: red;\n}\n")
	writeFile(t, dir, "src/scss/pages/home.scss", ".home { margin: 0; }\n")

	res, err := b.Styles(context.Background())
	if err != nil {
		t.Fatalf("Styles() error = %v", err)
	}

	for _, name := range stub.calls {
		if strings.HasPrefix(name, "_") {
			t.Errorf("partial %s was compiled", name)
		}
	}
	if got := readFile(t, dir, "dist/css/main.css"); !strings.HasPrefix(got, ".a{color:red}") {
		t.Errorf("main.css = %q, want minified", got)
	}
	if got := readFile(t, dir, "dist/css/pages/home.css"); !strings.Contains(got, ".home{margin:0}") {
		t.Errorf("home.css = %q", got)
	}
	if _, err := os.Stat(filepath.Join(dir, "dist", "css", "_vars.css")); !os.IsNotExist(err) {
		t.Error("partials must not produce output")
	}
	if res.Kind != config.KindStyles || len(res.Written) == 0 {
		t.Errorf("result = %+v", res)
	}
}

func TestStyles_PrefixesAndPacksMediaQueries(t *testing.T) {
	b, cfg, _ := newTestBuilder(t)
	cfg.Styles.Browsers = []string{"safari10"}
	cfg.Styles.SourceMaps = false
	dir := cfg.Dir()
	writeFile(t, dir, "src/scss/app.scss", `
.a { color: red; }
@media (max-width: 600px) { .a { color: blue; } }
.b { backdrop-filter: blur(2px); }
@media (max-width: 600px) { .b { color: green; } }
`)

	if _, err := b.Styles(context.Background()); err != nil {
		t.Fatalf("Styles() error = %v", err)
	}

	got := readFile(t, dir, "dist/css/app.css")
	if !strings.Contains(got, "-webkit-backdrop-filter") {
		t.Errorf("missing vendor prefix: %q", got)
	}
	if n := strings.Count(got, "@media"); n != 1 {
		t.Errorf("@media count = %d, want 1: %q", n, got)
	}
	if strings.Index(got, "@media") < strings.Index(got, ".b{") {
		t.Errorf("media block should come last: %q", got)
	}
	if strings.Contains(got, "sourceMappingURL") {
		t.Error("source map comment written with source maps off")
	}
}

func TestStyles_SourceMap(t *testing.T) {
	b, cfg, _ := newTestBuilder(t)
	dir := cfg.Dir()
	writeFile(t, dir, "src/scss/app.scss", ".a { color: red; }\n")

	res, err := b.Styles(context.Background())
	if err != nil {
		t.Fatalf("Styles() error = %v", err)
	}

	if !strings.Contains(readFile(t, dir, "dist/css/app.css"), "sourceMappingURL=app.css.map") {
		t.Error("missing sourceMappingURL comment")
	}
	if !strings.Contains(readFile(t, dir, "dist/css/app.css.map"), `"mappings"`) {
		t.Error("app.css.map is not a source map")
	}
	if len(res.Written) != 2 {
		t.Errorf("Written = %v, want css and map", res.Written)
	}
}

func TestStyles_FailSoftKeepsPreviousOutput(t *testing.T) {
	b, cfg, stub := newTestBuilder(t)
	cfg.Styles.SourceMaps = false
	dir := cfg.Dir()
	writeFile(t, dir, "src/scss/a.scss", ".a { color: red; }")
	writeFile(t, dir, "src/scss/b.scss", ".b { color: red; }")

	if _, err := b.Styles(context.Background()); err != nil {
		t.Fatal(err)
	}
	before := readFile(t, dir, "dist/css/a.css")

	writeFile(t, dir, "src/scss/a.scss", ".a { color: $oops; }")
	// A value minification cannot shorten.
	writeFile(t, dir, "src/scss/b.scss", ".b { width: 17px; }")
	stub.fail["a.scss"] = errors.New("Undefined variable.")

	res, err := b.Styles(context.Background())
	if err == nil || !strings.Contains(err.Error(), "E110") {
		t.Fatalf("Styles() error = %v, want E110", err)
	}
	if !strings.Contains(err.Error(), "Undefined variable") {
		t.Errorf("error should carry the compiler message: %v", err)
	}
	if got := readFile(t, dir, "dist/css/a.css"); got != before {
		t.Errorf("a.css changed after failed compile: %q", got)
	}
	if got := readFile(t, dir, "dist/css/b.css"); !strings.Contains(got, "17px") {
		t.Errorf("b.css = %q, other files should still compile", got)
	}
	if len(res.Written) != 1 {
		t.Errorf("Written = %v", res.Written)
	}
}

func TestStyles_BadBrowserTarget(t *testing.T) {
	b, cfg, _ := newTestBuilder(t)
	cfg.Styles.Browsers = []string{"netscape4"}
	_, err := b.Styles(context.Background())
	if err == nil || !strings.Contains(err.Error(), "E103") {
		t.Fatalf("Styles() = %v, want E103", err)
	}
}

func TestParseEngines(t *testing.T) {
	engines, err := parseEngines(config.DefaultBrowsers)
	if err != nil {
		t.Fatalf("parseEngines() error = %v", err)
	}
	if len(engines) != len(config.DefaultBrowsers) {
		t.Fatalf("got %d engines", len(engines))
	}
	if engines[0].Version != "58" {
		t.Errorf("chrome version = %q", engines[0].Version)
	}

	if _, err := parseEngines([]string{"ios10.3"}); err != nil {
		t.Errorf("dotted version: %v", err)
	}
	for _, bad := range []string{"chrome", "58", "lynx2"} {
		if _, err := parseEngines([]string{bad}); err == nil {
			t.Errorf("parseEngines(%q) should fail", bad)
		}
	}
}

func TestEsbuildNamesCoverConfig(t *testing.T) {
	for _, name := range config.BrowserNames {
		if _, ok := engineNames[name]; !ok {
			t.Errorf("browser %q accepted by config has no esbuild engine", name)
		}
	}
	for _, target := range config.ScriptTargets {
		if _, ok := scriptTargets[target]; !ok {
			t.Errorf("target %q accepted by config has no esbuild target", target)
		}
	}
}

func TestScripts_Bundles(t *testing.T) {
	b, cfg, _ := newTestBuilder(t)
	dir := cfg.Dir()
	writeFile(t, dir, "src/js/util.js", "export function greet(name) { return 'hello ' + name; }\n")
	writeFile(t, dir, "src/js/application.js", `/*! site bundle (c) 2024 */
import { greet } from './util';
const message = greet('world');
console.log(message);
`)

	res, err := b.Scripts(context.Background())
	if err != nil {
		t.Fatalf("Scripts() error = %v", err)
	}

	got := readFile(t, dir, "dist/js/application.min.js")
	if !strings.Contains(got, "console.log(") {
		t.Error("console calls must be kept")
	}
	if !strings.Contains(got, "site bundle (c) 2024") {
		t.Error("legal comment must be kept")
	}
	if !strings.Contains(got, "hello ") {
		t.Error("imported module should be bundled")
	}
	if strings.Contains(got, "import ") || strings.Contains(got, "export ") {
		t.Errorf("output is not a single IIFE bundle: %q", got)
	}
	if len(res.Written) != 1 || res.Written[0] != "dist/js/application.min.js" {
		t.Errorf("Written = %v", res.Written)
	}
}

func TestScripts_SyntaxError(t *testing.T) {
	b, cfg, _ := newTestBuilder(t)
	dir := cfg.Dir()
	writeFile(t, dir, "dist/js/application.min.js", "previous")
	writeFile(t, dir, "src/js/application.js", "const = ;\n")

	_, err := b.Scripts(context.Background())
	if err == nil || !strings.Contains(err.Error(), "E111") {
		t.Fatalf("Scripts() = %v, want E111", err)
	}
	if !strings.Contains(err.Error(), "application.js:1") {
		t.Errorf("error should carry the location: %v", err)
	}
	if got := readFile(t, dir, "dist/js/application.min.js"); got != "previous" {
		t.Errorf("previous bundle overwritten: %q", got)
	}
}

func TestScripts_MissingEntry(t *testing.T) {
	b, _, _ := newTestBuilder(t)
	_, err := b.Scripts(context.Background())
	if err == nil || !strings.Contains(err.Error(), "E111") {
		t.Fatalf("Scripts() = %v, want E111", err)
	}
}

func flatPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 32, 32))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = 10, 120, 200, 255
	}
	img.SetNRGBA(0, 0, color.NRGBA{R: 255, A: 255})
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.NoCompression}
	if err := enc.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestImages_Incremental(t *testing.T) {
	b, cfg, _ := newTestBuilder(t)
	dir := cfg.Dir()
	src := writeFile(t, dir, "src/images/logo.png", string(flatPNG(t)))
	writeFile(t, dir, "src/images/icon.svg", "<svg/>")

	old := time.Now().Add(-time.Hour).Truncate(time.Second)
	if err := os.Chtimes(src, old, old); err != nil {
		t.Fatal(err)
	}

	res, err := b.Images(context.Background())
	if err != nil {
		t.Fatalf("Images() error = %v", err)
	}
	if len(res.Written) != 2 || len(res.Skipped) != 0 {
		t.Fatalf("first run: written %v skipped %v", res.Written, res.Skipped)
	}

	dest := filepath.Join(dir, "dist", "images", "logo.png")
	info, err := os.Stat(dest)
	if err != nil {
		t.Fatal(err)
	}
	if !info.ModTime().Equal(old) {
		t.Errorf("dest mtime = %v, want source mtime %v", info.ModTime(), old)
	}
	if readFile(t, dir, "dist/images/icon.svg") != "<svg/>" {
		t.Error("svg should be copied unchanged")
	}

	res, err = b.Images(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Written) != 0 || len(res.Skipped) != 2 {
		t.Fatalf("second run: written %v skipped %v", res.Written, res.Skipped)
	}

	newer := time.Now()
	if err := os.Chtimes(src, newer, newer); err != nil {
		t.Fatal(err)
	}
	res, err = b.Images(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Written) != 1 || res.Written[0] != "dist/images/logo.png" {
		t.Errorf("third run: written %v", res.Written)
	}
}

func TestImages_UnsupportedFormatsCopied(t *testing.T) {
	b, cfg, _ := newTestBuilder(t)
	dir := cfg.Dir()
	// Not decodable as any image; only a straight copy succeeds.
	src := writeFile(t, dir, "src/images/anim.gif", "GIF89a-not-really")
	old := time.Now().Add(-time.Hour).Truncate(time.Second)
	if err := os.Chtimes(src, old, old); err != nil {
		t.Fatal(err)
	}

	res, err := b.Images(context.Background())
	if err != nil {
		t.Fatalf("Images() error = %v", err)
	}
	if len(res.Written) != 1 || res.Written[0] != "dist/images/anim.gif" {
		t.Fatalf("Written = %v", res.Written)
	}
	if readFile(t, dir, "dist/images/anim.gif") != "GIF89a-not-really" {
		t.Error("gif should be copied unchanged")
	}
	info, err := os.Stat(filepath.Join(dir, "dist", "images", "anim.gif"))
	if err != nil {
		t.Fatal(err)
	}
	if !info.ModTime().Equal(old) {
		t.Errorf("dest mtime = %v, want source mtime %v", info.ModTime(), old)
	}
}

func TestImages_CorruptImageFails(t *testing.T) {
	b, cfg, _ := newTestBuilder(t)
	writeFile(t, cfg.Dir(), "src/images/broken.jpg", "not a jpeg")

	_, err := b.Images(context.Background())
	if err == nil || !strings.Contains(err.Error(), "E112") {
		t.Fatalf("Images() = %v, want E112", err)
	}
}

func TestCopy(t *testing.T) {
	b, cfg, _ := newTestBuilder(t)
	dir := cfg.Dir()
	writeFile(t, dir, "src/index.html", "<html></html>")
	writeFile(t, dir, "src/about.html", "<p>about</p>")
	writeFile(t, dir, "src/notes.txt", "ignored")
	writeFile(t, dir, "src/video/intro.mp4", "frames")

	res, err := b.Run(context.Background(), config.KindMarkup)
	if err != nil {
		t.Fatalf("Copy(markup) error = %v", err)
	}
	if len(res.Written) != 2 {
		t.Errorf("Written = %v", res.Written)
	}
	if readFile(t, dir, "dist/index.html") != "<html></html>" {
		t.Error("index.html not copied")
	}
	if _, err := os.Stat(filepath.Join(dir, "dist", "notes.txt")); !os.IsNotExist(err) {
		t.Error("unmatched files must not be copied")
	}

	if _, err := b.Run(context.Background(), config.KindVideo); err != nil {
		t.Fatal(err)
	}
	if readFile(t, dir, "dist/video/intro.mp4") != "frames" {
		t.Error("video not copied")
	}
}

func TestCopy_AbsoluteSourceRoot(t *testing.T) {
	dir := t.TempDir()
	configJSON := fmt.Sprintf(`{"source": %q}`, filepath.ToSlash(filepath.Join(dir, "src")))
	writeFile(t, dir, "assetpipe.json", configJSON)
	writeFile(t, dir, "src/index.html", "<html></html>")

	cfg, err := config.Load(dir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	b := New(cfg, Options{Styles: &stubCompiler{fail: map[string]error{}}})

	res, err := b.Run(context.Background(), config.KindMarkup)
	if err != nil {
		t.Fatalf("Copy(markup) error = %v", err)
	}
	if len(res.Written) != 1 {
		t.Fatalf("Written = %v, want index.html", res.Written)
	}
	if readFile(t, dir, "dist/index.html") != "<html></html>" {
		t.Error("index.html not copied")
	}
}

func TestCopyFile_PreservesMtime(t *testing.T) {
	dir := t.TempDir()
	src := writeFile(t, dir, "a.txt", "hello")
	old := time.Now().Add(-48 * time.Hour).Truncate(time.Second)
	if err := os.Chtimes(src, old, old); err != nil {
		t.Fatal(err)
	}

	dst := filepath.Join(dir, "out", "a.txt")
	if err := copyFile(src, dst); err != nil {
		t.Fatalf("copyFile() error = %v", err)
	}
	info, err := os.Stat(dst)
	if err != nil {
		t.Fatal(err)
	}
	if !info.ModTime().Equal(old) {
		t.Errorf("mtime = %v, want %v", info.ModTime(), old)
	}
}

func TestWriteFileAtomic_LeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	dst := filepath.Join(dir, "nested", "out.css")

	for _, content := range []string{"one", "two"} {
		if err := writeFileAtomic(dst, []byte(content)); err != nil {
			t.Fatalf("writeFileAtomic() error = %v", err)
		}
	}
	if got := readFile(t, dir, "nested/out.css"); got != "two" {
		t.Errorf("content = %q", got)
	}
	entries, _ := os.ReadDir(filepath.Join(dir, "nested"))
	if len(entries) != 1 {
		t.Errorf("directory has %d entries, want 1", len(entries))
	}
}
