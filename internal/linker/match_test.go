package linker

import "testing"

func TestLevenshteinDistance(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"abc", "abc", 0},
		{"abc", "", 3},
		{"", "abc", 3},
		{"C-2557", "C-2558", 1},
		{"kitten", "sitting", 3},
	}
	for _, tt := range tests {
		if got := levenshteinDistance(tt.a, tt.b); got != tt.want {
			t.Errorf("levenshteinDistance(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestTextMatchDistance(t *testing.T) {
	text := "When error C-2557 appears, check the toner motor connector."

	if d := textMatchDistance(text, "C-2557"); d != 0 {
		t.Errorf("verbatim code should score 0, got %d", d)
	}
	if d := textMatchDistance(text, "c-2557"); d != 0 {
		t.Errorf("matching is case-insensitive, got %d", d)
	}
	near := textMatchDistance(text, "C-2558")
	far := textMatchDistance(text, "ZZZZZZ")
	if near == 0 {
		t.Error("near-miss code should not score 0")
	}
	if near >= far {
		t.Errorf("near-miss (%d) should score better than unrelated (%d)", near, far)
	}
	if d := textMatchDistance("short", "a much longer code string"); d == 0 {
		t.Error("text shorter than code should not score 0")
	}
	if d := textMatchDistance(text, ""); d != 0 {
		t.Errorf("empty code scores 0, got %d", d)
	}
}
