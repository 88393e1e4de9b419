package services

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestTruncateUTF8KeepsRuneBoundaries(t *testing.T) {
	cases := []struct {
		name string
		in   string
		max  int
		want string
	}{
		{"short input untouched", "hello", 10, "hello"},
		{"ascii cut at limit", "hello", 3, "hel"},
		{"multibyte rune not split", "abé", 3, "ab"},
		{"cut lands on rune start", "abé", 4, "abé"},
		{"emoji at the boundary", "score \U0001f4c8", 8, "score "},
		{"exactly at limit", "éé", 4, "éé"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := truncateUTF8(tc.in, tc.max)
			if got != tc.want {
				t.Fatalf("want=%q got=%q", tc.want, got)
			}
			if !utf8.ValidString(got) {
				t.Fatalf("truncation produced invalid UTF-8: %q", got)
			}
			if len(got) > tc.max {
				t.Fatalf("result exceeds byte cap: len=%d max=%d", len(got), tc.max)
			}
		})
	}
}

func TestTruncateUTF8LongMixedInput(t *testing.T) {
	in := strings.Repeat("é", 5000)
	got := truncateUTF8(in, 101)
	if !utf8.ValidString(got) {
		t.Fatalf("invalid UTF-8 after truncation")
	}
	// Each rune is 2 bytes, so an odd cap must back off one byte.
	if len(got) != 100 {
		t.Fatalf("length: want=100 got=%d", len(got))
	}
}
