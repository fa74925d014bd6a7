package errors

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// Category represents the type of error.
type Category string

const (
	CategoryConfig  Category = "config"
	CategoryBuild   Category = "build"
	CategoryWatch   Category = "watch"
	CategoryServer  Category = "server"
	CategoryPublish Category = "publish"
	CategoryGraph   Category = "graph"
)

// Location represents a source code location.
type Location struct {
	File   string
	Line   int
	Column int
}

// String returns the location as a formatted string.
func (l *Location) String() string {
	if l == nil {
		return ""
	}
	if l.Column > 0 {
		return fmt.Sprintf("%s:%d:%d", l.File, l.Line, l.Column)
	}
	return fmt.Sprintf("%s:%d", l.File, l.Line)
}

// PipelineError is a structured error with source location and suggestions.
type PipelineError struct {
	// Code is a unique error identifier (e.g., "E110").
	Code string

	// Category is the error type (config, build, etc.).
	Category Category

	// Message is a short description of the error.
	Message string

	// Detail is a longer explanation of the error.
	Detail string

	// Location is the source location where the error occurred.
	Location *Location

	// Context contains surrounding source lines.
	Context []string

	// Suggestion is a hint on how to fix the error.
	Suggestion string

	// Wrapped is the underlying error, if any.
	Wrapped error
}

// Error implements the error interface.
func (e *PipelineError) Error() string {
	msg := e.Message
	if e.Code != "" {
		msg = fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	if e.Location != nil {
		msg = e.Location.String() + ": " + msg
	}
	if e.Detail != "" {
		msg += ": " + firstLine(e.Detail)
	}
	if cause := e.cause(); cause != "" {
		msg += ": " + cause
	}
	return msg
}

// cause returns the wrapped error's text unless Detail already carries it.
func (e *PipelineError) cause() string {
	if e.Wrapped == nil {
		return ""
	}
	msg := e.Wrapped.Error()
	if msg == "" || strings.Contains(e.Detail, msg) {
		return ""
	}
	return msg
}

// Unwrap returns the wrapped error for errors.Is/As support.
func (e *PipelineError) Unwrap() error {
	return e.Wrapped
}

// WithLocation adds source location to the error.
func (e *PipelineError) WithLocation(file string, line, column int) *PipelineError {
	e.Location = &Location{File: file, Line: line, Column: column}
	e.Context = readContextLines(file, line, 5)
	return e
}

// WithSuggestion adds a fix suggestion to the error.
func (e *PipelineError) WithSuggestion(s string) *PipelineError {
	e.Suggestion = s
	return e
}

// WithDetail adds a detailed explanation to the error.
func (e *PipelineError) WithDetail(d string) *PipelineError {
	e.Detail = d
	return e
}

// Wrap wraps another error.
func (e *PipelineError) Wrap(err error) *PipelineError {
	e.Wrapped = err
	return e
}

// readContextLines reads lines around the specified line number from a file.
func readContextLines(filename string, targetLine, contextSize int) []string {
	file, err := os.Open(filename)
	if err != nil {
		return nil
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	lineNum := 0
	startLine := targetLine - contextSize/2
	endLine := targetLine + contextSize/2

	for scanner.Scan() {
		lineNum++
		if lineNum >= startLine && lineNum <= endLine {
			lines = append(lines, scanner.Text())
		}
		if lineNum > endLine {
			break
		}
	}

	return lines
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// New creates a PipelineError from a registered error code.
func New(code string) *PipelineError {
	template, ok := registry[code]
	if !ok {
		return &PipelineError{
			Code:    code,
			Message: "Unknown error",
		}
	}
	return &PipelineError{
		Code:     code,
		Category: template.Category,
		Message:  template.Message,
		Detail:   template.Detail,
	}
}

// FromError wraps a standard error in a PipelineError with the given
// code. PipelineErrors are returned as-is.
func FromError(err error, code string) *PipelineError {
	if err == nil {
		return nil
	}
	if pe, ok := err.(*PipelineError); ok {
		return pe
	}
	return New(code).Wrap(err)
}
