// Package export renders a user's liked ideas into a downloadable
// digest, as PDF (headless Chrome) or DOCX (pandoc).
package export

import (
	"errors"
	"time"
)

// Format represents the export output format.
type Format string

const (
	FormatPDF  Format = "pdf"
	FormatDOCX Format = "docx"
)

// ParseFormat maps the query form to a Format.
func ParseFormat(s string) (Format, bool) {
	switch s {
	case "pdf", "":
		return FormatPDF, true
	case "docx":
		return FormatDOCX, true
	default:
		return "", false
	}
}

// Request contains parameters for an export operation.
type Request struct {
	UserID   string
	UserName string
	Format   Format
}

// Idea is one liked idea as it appears in the digest.
type Idea struct {
	Title     string
	Content   string
	IdeaType  string
	Tags      []string
	Author    string
	Likes     int
	CreatedAt time.Time
}

// Result contains the export output.
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

var (
	// ErrNothingToExport indicates the user has no liked ideas.
	ErrNothingToExport = errors.New("export: no liked ideas")
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
	// ErrDOCXDependencyMissing indicates DOCX export runtime dependencies are unavailable.
	ErrDOCXDependencyMissing = errors.New("export docx dependency missing")
)
