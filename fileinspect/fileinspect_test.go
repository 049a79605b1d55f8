package fileinspect

import "testing"

func TestIsPDF(t *testing.T) {
	tests := []struct {
		mime, name string
		want       bool
	}{
		{"application/pdf", "report.pdf", true},
		{"application/pdf", "report.bin", true},
		{"application/octet-stream", "report.pdf", true},
		{"APPLICATION/PDF", "x", true},
		{"image/png", "photo.png", false},
		{"", "", false},
		{"text/plain", "notes.txt", false},
	}
	for _, tt := range tests {
		if got := IsPDF(tt.mime, tt.name); got != tt.want {
			t.Errorf("IsPDF(%q, %q) = %v, want %v", tt.mime, tt.name, got, tt.want)
		}
	}
}

func TestPDFPageCount_Empty(t *testing.T) {
	if _, err := PDFPageCount(nil); err == nil {
		t.Fatal("expected error for empty document")
	}
}

func TestPDFPageCount_Garbage(t *testing.T) {
	if _, err := PDFPageCount([]byte("not a pdf")); err == nil {
		t.Fatal("expected error for non-PDF bytes")
	}
}
