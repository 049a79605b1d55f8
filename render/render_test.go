package render

import (
	"strings"
	"testing"
)

func TestClean_PlainTextPassthrough(t *testing.T) {
	got := Clean("  hello there\nsecond line  ")
	if got != "hello there\nsecond line" {
		t.Fatalf("Clean = %q", got)
	}
}

func TestClean_ConvertsHTML(t *testing.T) {
	got := Clean("<p>Hello <strong>world</strong></p>")
	if strings.Contains(got, "<") {
		t.Fatalf("Clean left tags in %q", got)
	}
	if !strings.Contains(got, "Hello") || !strings.Contains(got, "world") {
		t.Fatalf("Clean lost content: %q", got)
	}
}

func TestClean_StripsScript(t *testing.T) {
	got := Clean(`<p>safe</p><script>alert("x")</script>`)
	if strings.Contains(got, "alert") || strings.Contains(got, "script") {
		t.Fatalf("Clean kept script content: %q", got)
	}
	if !strings.Contains(got, "safe") {
		t.Fatalf("Clean lost safe content: %q", got)
	}
}

func TestClean_LessThanIsNotHTML(t *testing.T) {
	in := "3 < 5 and 5 > 3"
	if got := Clean(in); got != in {
		t.Fatalf("Clean mangled comparison text: %q", got)
	}
}
