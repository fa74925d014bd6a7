package sass

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

// requireSass returns a Dart Sass executable or skips the test.
func requireSass(t *testing.T) *Binary {
	t.Helper()
	p, err := exec.LookPath(executableName())
	if err != nil {
		t.Skip("dart sass not on PATH")
	}
	return &Binary{Version: Version, BinDir: t.TempDir(), Explicit: p}
}

func TestCompiler_Compile(t *testing.T) {
	b := requireSass(t)
	c := NewCompiler(b, nil)
	defer c.Close()

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "_vars.scss"), []byte("$brand: #ff0000;\n"), 0644); err != nil {
		t.Fatal(err)
	}
	entry := filepath.Join(dir, "main.scss")
	src := "@use 'vars';\n.a { .b { color: vars.$brand; } }\n"
	if err := os.WriteFile(entry, []byte(src), 0644); err != nil {
		t.Fatal(err)
	}

	res, err := c.Compile(context.Background(), Request{Path: entry, IncludePaths: []string{dir}, SourceMap: true})
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	if !strings.Contains(res.CSS, ".a .b") || !strings.Contains(res.CSS, "red") && !strings.Contains(res.CSS, "#ff0000") {
		t.Errorf("CSS = %q", res.CSS)
	}
	if res.SourceMap == "" {
		t.Error("expected a source map")
	}
}

func TestCompiler_CompileError(t *testing.T) {
	b := requireSass(t)
	c := NewCompiler(b, nil)
	defer c.Close()

	entry := filepath.Join(t.TempDir(), "broken.scss")
	if err := os.WriteFile(entry, []byte(".a { color: $missing; }\n"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := c.Compile(context.Background(), Request{Path: entry}); err == nil {
		t.Fatal("expected compile error for undefined variable")
	}
}

func TestCompiler_MissingFile(t *testing.T) {
	c := NewCompiler(&Binary{}, nil)
	if _, err := c.Compile(context.Background(), Request{Path: filepath.Join(t.TempDir(), "nope.scss")}); err == nil {
		t.Fatal("expected error for missing file")
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close() on idle compiler = %v", err)
	}
}
