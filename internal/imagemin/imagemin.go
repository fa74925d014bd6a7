// Package imagemin recompresses JPEG and PNG images.
//
// JPEGs are re-encoded at a fixed quality. PNGs are quantized to a palette
// of at most 256 colors; the smallest palette whose quality reaches the
// configured maximum wins, and if no palette reaches the minimum the
// original is kept. Whatever the format, a result that is not smaller than
// the input is discarded in favor of the original bytes.
package imagemin

import (
	"bytes"
	"fmt"
	"image"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
)

// Options configures compression.
type Options struct {
	// JPEGQuality is the JPEG encoder quality, 1-100.
	JPEGQuality int

	// PNGMin and PNGMax bound the accepted PNG quality, 0-1.
	PNGMin float64
	PNGMax float64
}

// DefaultOptions mirror mozjpeg quality 80 and pngquant quality 0.65-0.8.
func DefaultOptions() Options {
	return Options{JPEGQuality: 80, PNGMin: 0.65, PNGMax: 0.8}
}

// Outcome describes what Optimize did with one image.
type Outcome string

const (
	OutcomeCompressed Outcome = "compressed"
	OutcomeOriginal   Outcome = "original"   // result was not smaller
	OutcomeLowQuality Outcome = "low-quality" // PNG quality below minimum
	OutcomeCopied     Outcome = "copied"     // format not handled
)

// Optimizer compresses images.
type Optimizer struct {
	opts Options
}

// New creates an optimizer, filling zero options with defaults.
func New(opts Options) *Optimizer {
	def := DefaultOptions()
	if opts.JPEGQuality <= 0 {
		opts.JPEGQuality = def.JPEGQuality
	}
	if opts.PNGMax <= 0 {
		opts.PNGMin, opts.PNGMax = def.PNGMin, def.PNGMax
	}
	return &Optimizer{opts: opts}
}

// Supported reports whether path has an extension the optimizer compresses.
func Supported(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg", ".png":
		return true
	}
	return false
}

// Optimize returns the bytes to write for the image named path.
func (o *Optimizer) Optimize(path string, src []byte) ([]byte, Outcome, error) {
	var (
		out []byte
		err error
	)

	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		out, err = o.jpeg(src)
	case ".png":
		out, err = o.png(src)
		if err == nil && out == nil {
			return src, OutcomeLowQuality, nil
		}
	default:
		return src, OutcomeCopied, nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("%s: %w", filepath.Base(path), err)
	}

	if len(out) >= len(src) {
		return src, OutcomeOriginal, nil
	}
	return out, OutcomeCompressed, nil
}

func (o *Optimizer) jpeg(src []byte) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(src), imaging.AutoOrientation(false))
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(o.opts.JPEGQuality)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decode(src []byte) (image.Image, error) {
	return imaging.Decode(bytes.NewReader(src), imaging.AutoOrientation(false))
}
