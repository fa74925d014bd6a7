// Package sass manages the Dart Sass standalone distribution and compiles
// SCSS through its embedded protocol.
package sass

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/klauspost/compress/gzip"

	"github.com/vango-dev/assetpipe/internal/errors"
)

const (
	// Version is the Dart Sass release downloaded when no binary is found.
	Version = "1.83.4"

	// GitHubReleaseURL is the base URL for Dart Sass release archives.
	GitHubReleaseURL = "https://github.com/sass/dart-sass/releases/download"

	// DefaultBinDir is the default directory for storing the distribution.
	DefaultBinDir = ".assetpipe/bin"

	// maxArchiveSize bounds the downloaded archive.
	maxArchiveSize = 256 << 20
)

// Binary represents the Dart Sass standalone distribution.
type Binary struct {
	// Version is the Dart Sass version.
	Version string

	// BinDir is the directory where distributions are unpacked.
	BinDir string

	// Explicit is a user-configured executable. When set it is used as is.
	Explicit string

	// DownloadBaseURL is the base URL for downloading archives.
	// If empty, GitHubReleaseURL is used.
	DownloadBaseURL string

	// HTTPClient is used for downloads. If nil, a default client is used.
	HTTPClient *http.Client

	// lookPath finds an executable on PATH; exec.LookPath when nil.
	lookPath func(string) (string, error)

	path string
	mu   sync.Mutex
}

// NewBinary creates a Binary with default settings.
func NewBinary() *Binary {
	return &Binary{
		Version:         Version,
		BinDir:          defaultBinDir(),
		DownloadBaseURL: GitHubReleaseURL,
	}
}

func defaultBinDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", DefaultBinDir)
	}
	return filepath.Join(home, DefaultBinDir)
}

// Path returns the executable without downloading. The lookup order is the
// explicit path, the managed install, then "sass" on PATH.
func (b *Binary) Path() (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.locate()
}

func (b *Binary) locate() (string, error) {
	if b.path != "" {
		return b.path, nil
	}

	if b.Explicit != "" {
		if _, err := os.Stat(b.Explicit); err != nil {
			return "", errors.New("E120").
				WithDetail(fmt.Sprintf("configured sass binary %s does not exist", b.Explicit)).
				Wrap(err)
		}
		b.path = b.Explicit
		return b.path, nil
	}

	if p := b.binaryPath(); fileExists(p) {
		b.path = p
		return p, nil
	}

	lookPath := b.lookPath
	if lookPath == nil {
		lookPath = exec.LookPath
	}
	if p, err := lookPath(executableName()); err == nil {
		b.path = p
		return p, nil
	}

	return "", errors.New("E120").
		WithDetail(fmt.Sprintf("no sass executable at %s or on PATH", b.binaryPath()))
}

// EnsureInstalled locates the executable, downloading the release archive
// if nothing is found.
func (b *Binary) EnsureInstalled(ctx context.Context, progress func(msg string)) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	p, err := b.locate()
	if err == nil {
		return p, nil
	}
	if b.Explicit != "" {
		return "", err
	}

	if err := b.download(ctx, progress); err != nil {
		return "", errors.New("E120").Wrap(err)
	}

	b.path = b.binaryPath()
	return b.path, nil
}

// IsInstalled reports whether the managed distribution is unpacked.
func (b *Binary) IsInstalled() bool {
	return fileExists(b.binaryPath())
}

// versionDir holds one unpacked distribution per version.
func (b *Binary) versionDir() string {
	return filepath.Join(b.BinDir, b.Version)
}

func (b *Binary) binaryPath() string {
	return filepath.Join(b.versionDir(), "dart-sass", executableName())
}

func (b *Binary) archiveName() string {
	return fmt.Sprintf("dart-sass-%s-%s-%s%s", b.Version, osName(), archName(), archiveExt())
}

func (b *Binary) downloadURL() string {
	base := b.DownloadBaseURL
	if base == "" {
		base = GitHubReleaseURL
	}
	return fmt.Sprintf("%s/%s/%s", strings.TrimRight(base, "/"), b.Version, b.archiveName())
}

func (b *Binary) download(ctx context.Context, progress func(msg string)) error {
	url := b.downloadURL()

	if progress != nil {
		progress(fmt.Sprintf("Downloading Dart Sass %s...", b.Version))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	client := b.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	if client.Timeout == 0 {
		client.Timeout = 5 * time.Minute
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download failed with status %d (URL: %s)", resp.StatusCode, url)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxArchiveSize))
	if err != nil {
		return fmt.Errorf("failed to read archive: %w", err)
	}

	if progress != nil {
		progress(fmt.Sprintf("Downloaded %s", humanize.Bytes(uint64(len(data)))))
	}

	if err := os.MkdirAll(b.BinDir, 0755); err != nil {
		return fmt.Errorf("failed to create bin directory: %w", err)
	}

	// Unpack next to the final location, then rename into place.
	tmpDir, err := os.MkdirTemp(b.BinDir, b.Version+".tmp-")
	if err != nil {
		return fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	if strings.HasSuffix(b.archiveName(), ".zip") {
		err = extractZip(data, tmpDir)
	} else {
		err = extractTarGz(data, tmpDir)
	}
	if err != nil {
		return fmt.Errorf("failed to unpack %s: %w", b.archiveName(), err)
	}

	if !fileExists(filepath.Join(tmpDir, "dart-sass", executableName())) {
		return fmt.Errorf("archive %s has no dart-sass/%s", b.archiveName(), executableName())
	}

	_ = os.RemoveAll(b.versionDir())
	if err := os.Rename(tmpDir, b.versionDir()); err != nil {
		return fmt.Errorf("failed to install: %w", err)
	}

	if progress != nil {
		progress(fmt.Sprintf("Installed to %s", b.versionDir()))
	}
	return nil
}

func extractTarGz(data []byte, dest string) error {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return err
	}
	defer zr.Close()

	tr := tar.NewReader(zr)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		target, err := safeJoin(dest, hdr.Name)
		if err != nil {
			return err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := writeEntry(target, tr, hdr.FileInfo().Mode().Perm()); err != nil {
				return err
			}
		}
	}
}

func extractZip(data []byte, dest string) error {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return err
	}

	for _, f := range zr.File {
		target, err := safeJoin(dest, f.Name)
		if err != nil {
			return err
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0755); err != nil {
				return err
			}
			continue
		}

		rc, err := f.Open()
		if err != nil {
			return err
		}
		err = writeEntry(target, rc, f.Mode().Perm()|0600)
		rc.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

func writeEntry(target string, r io.Reader, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return err
	}
	f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// safeJoin rejects archive entries that escape dest.
func safeJoin(dest, name string) (string, error) {
	target := filepath.Join(dest, filepath.FromSlash(name))
	rel, err := filepath.Rel(dest, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("archive entry %q escapes destination", name)
	}
	return target, nil
}

func fileExists(p string) bool {
	info, err := os.Stat(p)
	return err == nil && !info.IsDir()
}

func osName() string {
	if runtime.GOOS == "darwin" {
		return "macos"
	}
	return runtime.GOOS
}

func archName() string {
	switch runtime.GOARCH {
	case "amd64":
		return "x64"
	case "386":
		return "ia32"
	default:
		return runtime.GOARCH
	}
}
