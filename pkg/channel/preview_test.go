package channel

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestPreview(t *testing.T) {
	if got := Preview(" hello "); got != "hello" {
		t.Fatalf("Preview short = %q, want %q", got, "hello")
	}

	got := Preview(strings.Repeat("a", previewLimit+20))
	if len(got) != previewLimit+3 {
		t.Fatalf("Preview long len = %d, want %d", len(got), previewLimit+3)
	}
	if !strings.HasSuffix(got, "...") {
		t.Fatalf("Preview long = %q, want ellipsis suffix", got)
	}
}

func TestPreviewMultibyte(t *testing.T) {
	got := Preview(strings.Repeat("ü", previewLimit+1))
	if !utf8.ValidString(got) {
		t.Fatalf("Preview produced invalid UTF-8: %q", got)
	}
	if n := utf8.RuneCountInString(got); n != previewLimit+3 {
		t.Fatalf("Preview rune count = %d, want %d", n, previewLimit+3)
	}
}
