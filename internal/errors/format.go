package errors

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// ANSI color codes for terminal output.
const (
	colorReset = "\033[0m"
	colorRed   = "\033[31m"
	colorCyan  = "\033[36m"
	colorWhite = "\033[37m"
	colorGray  = "\033[90m"
	colorBold  = "\033[1m"
)

// colorEnabled controls whether ANSI colors are used.
var colorEnabled = true

// DisableColors disables ANSI color output.
func DisableColors() {
	colorEnabled = false
}

// EnableColors enables ANSI color output.
func EnableColors() {
	colorEnabled = true
}

type painter bool

func (p painter) color(code, text string) string {
	if !p {
		return text
	}
	return code + text + colorReset
}

// Format returns a formatted error message for terminal display.
func (e *PipelineError) Format() string {
	return e.format(painter(colorEnabled))
}

// FormatPlain returns the same layout as Format without ANSI colors.
// The browser error overlay uses it.
func (e *PipelineError) FormatPlain() string {
	return e.format(painter(false))
}

func (e *PipelineError) format(p painter) string {
	var b strings.Builder

	b.WriteString("\n")
	if e.Code != "" {
		b.WriteString(p.color(colorRed, p.color(colorBold, "ERROR ")))
		b.WriteString(p.color(colorWhite, p.color(colorBold, e.Code+": ")))
	} else {
		b.WriteString(p.color(colorRed, p.color(colorBold, "ERROR: ")))
	}
	b.WriteString(p.color(colorWhite, e.Message))
	b.WriteString("\n\n")

	if e.Location != nil {
		b.WriteString("  ")
		b.WriteString(p.color(colorCyan, e.Location.String()))
		b.WriteString("\n\n")

		if len(e.Context) > 0 {
			startLine := e.Location.Line - len(e.Context)/2
			if startLine < 1 {
				startLine = 1
			}
			for i, line := range e.Context {
				lineNum := startLine + i
				if lineNum == e.Location.Line {
					b.WriteString("  ")
					b.WriteString(p.color(colorRed, "→ "))
					b.WriteString(fmt.Sprintf("%4d", lineNum))
					b.WriteString(p.color(colorGray, " │ "))
					b.WriteString(line)
					b.WriteString("\n")

					if e.Location.Column > 0 {
						b.WriteString("       ")
						b.WriteString(p.color(colorGray, "│ "))
						b.WriteString(strings.Repeat(" ", e.Location.Column-1))
						b.WriteString(p.color(colorRed, "^"))
						b.WriteString("\n")
					}
				} else {
					b.WriteString("    ")
					b.WriteString(fmt.Sprintf("%4d", lineNum))
					b.WriteString(p.color(colorGray, " │ "))
					b.WriteString(line)
					b.WriteString("\n")
				}
			}
			b.WriteString("\n")
		}
	}

	if e.Detail != "" {
		for _, para := range strings.Split(strings.TrimSpace(e.Detail), "\n") {
			for _, line := range wrapText(para, 70) {
				b.WriteString("  ")
				b.WriteString(line)
				b.WriteString("\n")
			}
		}
		b.WriteString("\n")
	}
	if cause := e.cause(); cause != "" {
		b.WriteString("  ")
		b.WriteString(p.color(colorGray, "Cause: "))
		b.WriteString(cause)
		b.WriteString("\n\n")
	}

	if e.Suggestion != "" {
		b.WriteString("  ")
		b.WriteString(p.color(colorCyan, "Hint: "))
		b.WriteString(e.Suggestion)
		b.WriteString("\n\n")
	}

	return b.String()
}

// wrapText wraps text to the specified width.
func wrapText(text string, width int) []string {
	if text == "" {
		return nil
	}
	if len(text) <= width {
		return []string{text}
	}

	var lines []string
	words := strings.Fields(text)
	var current strings.Builder

	for _, word := range words {
		if current.Len()+len(word)+1 > width {
			if current.Len() > 0 {
				lines = append(lines, current.String())
				current.Reset()
			}
		}
		if current.Len() > 0 {
			current.WriteString(" ")
		}
		current.WriteString(word)
	}

	if current.Len() > 0 {
		lines = append(lines, current.String())
	}

	return lines
}

// Describe renders any error for a human: PipelineErrors get the plain
// multi-line layout, other errors their Error() text. Joined errors are
// described one after another.
func Describe(err error) string {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		parts := make([]string, 0, len(joined.Unwrap()))
		for _, e := range joined.Unwrap() {
			parts = append(parts, Describe(e))
		}
		return strings.Join(parts, "\n\n")
	}

	var pe *PipelineError
	if errors.As(err, &pe) {
		return strings.TrimSpace(pe.FormatPlain())
	}
	return err.Error()
}

// PrintError prints a formatted error to stderr.
func PrintError(err error) {
	var pe *PipelineError
	if errors.As(err, &pe) {
		fmt.Fprint(os.Stderr, pe.Format())
		return
	}
	p := painter(colorEnabled)
	fmt.Fprintf(os.Stderr, "\n%s %s\n\n", p.color(colorRed+colorBold, "ERROR:"), err.Error())
}
