package adapter

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSplitTelegramText(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		in        string
		limit     int
		mode      string
		wantParts int
	}{
		{name: "short", in: "hello", limit: 10, wantParts: 1},
		{name: "exact", in: strings.Repeat("a", 10), limit: 10, wantParts: 1},
		{name: "hard cut", in: strings.Repeat("a", 25), limit: 10, wantParts: 3},
		{name: "newline cut", in: "aaaaaa\nbbbbbbbbb", limit: 10, wantParts: 2},
		{name: "multibyte", in: strings.Repeat("ї", 12), limit: 5, wantParts: 3},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			parts := splitTelegramText(tt.in, tt.limit, tt.mode)
			if len(parts) != tt.wantParts {
				t.Fatalf("parts = %q, want %d parts", parts, tt.wantParts)
			}
			for _, p := range parts {
				if utf8.RuneCountInString(p) > tt.limit {
					t.Fatalf("part %q exceeds limit %d", p, tt.limit)
				}
			}
		})
	}
}

func TestSplitPrefersNewline(t *testing.T) {
	t.Parallel()
	parts := splitTelegramText("aaaaaa\nbbbbbbbbb", 10, "")
	if parts[0] != "aaaaaa" || parts[1] != "bbbbbbbbb" {
		t.Fatalf("parts = %q", parts)
	}
}

func TestSplitAvoidsOpenHTMLTag(t *testing.T) {
	t.Parallel()
	in := "abcdef<b>bold</b>"
	parts := splitTelegramText(in, 8, "HTML")
	if parts[0] != "abcdef" {
		t.Fatalf("first part = %q, want cut before the tag", parts[0])
	}
	if strings.Join(parts, "") != in {
		t.Fatalf("parts %q lost text", parts)
	}
}
