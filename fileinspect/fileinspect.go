// Package fileinspect extracts lightweight metadata from uploaded documents.
//
// Inspection is best-effort enrichment of the file log: failures are
// reported to the caller, who records the upload without the extra metadata.
package fileinspect

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
)

// IsPDF reports whether the declared MIME type or filename indicates a PDF
// document.
func IsPDF(mimeType, name string) bool {
	if strings.EqualFold(mimeType, "application/pdf") {
		return true
	}
	return strings.EqualFold(filepath.Ext(name), ".pdf")
}

// PDFPageCount returns the number of pages in the PDF document bytes.
func PDFPageCount(data []byte) (int, error) {
	if len(data) == 0 {
		return 0, fmt.Errorf("fileinspect: empty document")
	}
	n, err := api.PageCount(bytes.NewReader(data), nil)
	if err != nil {
		return 0, fmt.Errorf("fileinspect: page count: %w", err)
	}
	return n, nil
}
