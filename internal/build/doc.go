// Package build implements the per-kind asset tasks of the pipeline.
//
// Each asset kind has one task:
//   - styles: Sass → media query packing → prefixing and minification
//   - scripts: one bundled, minified file from a single entry point
//   - images: incremental recompression of JPEG and PNG files
//   - markup, video: plain copy
//
// Clean removes the destination root before a full build.
//
// # Usage
//
//	builder := build.New(cfg, build.Options{Logger: logger})
//	defer builder.Close()
//
//	if err := builder.Clean(); err != nil {
//	    return err
//	}
//	result, err := builder.Run(ctx, config.KindStyles)
//
// Tasks are idempotent. Outputs are written through a temporary file and
// renamed into place, so a failed compile leaves the previous output
// intact. Outputs keep their path relative to the glob base:
//
//	src/scss/pages/home.scss  →  dist/css/pages/home.css
//	src/images/logo.png       →  dist/images/logo.png
package build
