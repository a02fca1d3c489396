package schema

import (
	"strings"
	"testing"
)

func TestSanitizeHeaders(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "plain", in: "customer_id", want: "customer_id"},
		{name: "spaces become underscores", in: "First Name", want: "First_Name"},
		{name: "punctuation", in: "amount ($)", want: "amount____"},
		{name: "leading digit prefixed", in: "2024_total", want: "col_2024_total"},
		{name: "leading underscore kept", in: "_hidden", want: "_hidden"},
		{name: "blank is empty", in: "   ", want: ""},
		{name: "empty stays empty", in: "", want: ""},
		{name: "bom stripped", in: "\uFEFFid", want: "id"},
		{name: "diacritics folded", in: "Název STK", want: "Nazev_STK"},
		{name: "truncated to limit", in: strings.Repeat("a", 200), want: strings.Repeat("a", 120)},
	}

	for _, tt := range tests {
		tt := tt

		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := SanitizeHeaders([]string{tt.in})[0]
			if got != tt.want {
				t.Fatalf("SanitizeHeaders(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestDeduplicateHeaders(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   []string
		want []string
	}{
		{
			name: "no duplicates",
			in:   []string{"a", "b", "c"},
			want: []string{"a", "b", "c"},
		},
		{
			name: "simple duplicate",
			in:   []string{"id", "id"},
			want: []string{"id", "id_1"},
		},
		{
			name: "case-insensitive duplicate",
			in:   []string{"Name", "name"},
			want: []string{"Name", "name_1"},
		},
		{
			name: "suffix collision avoided",
			in:   []string{"x", "x_1", "x"},
			want: []string{"x", "x_1", "x_2"},
		},
		{
			name: "empties pass through",
			in:   []string{"", "a", "", "a"},
			want: []string{"", "a", "", "a_1"},
		},
	}

	for _, tt := range tests {
		tt := tt

		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := DeduplicateHeaders(tt.in)
			if len(got) != len(tt.want) {
				t.Fatalf("DeduplicateHeaders(%v) = %v, want %v", tt.in, got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("DeduplicateHeaders(%v)[%d] = %q, want %q", tt.in, i, got[i], tt.want[i])
				}
			}
		})
	}
}

// TestSanitizeDeduplicateUniqueness is the round-trip property: the result
// has equal length and no two equal non-empty entries, for hostile inputs.
func TestSanitizeDeduplicateUniqueness(t *testing.T) {
	t.Parallel()

	inputs := [][]string{
		{"id", "id", "ID", "Id"},
		{"", " ", "a!", "a_", "a?"},
		{"1a", "1a", "col_1a"},
		{strings.Repeat("z", 130), strings.Repeat("z", 140)},
		{"x", "x_1", "x", "x", "x_2"},
	}

	for _, raw := range inputs {
		out := DeduplicateHeaders(SanitizeHeaders(raw))
		if len(out) != len(raw) {
			t.Fatalf("length changed for %v: got %v", raw, out)
		}
		seen := map[string]bool{}
		for _, name := range out {
			if name == "" {
				continue
			}
			key := strings.ToLower(name)
			if seen[key] {
				t.Fatalf("duplicate %q survived for input %v: %v", name, raw, out)
			}
			seen[key] = true
			if len(name) > maxIdentLen {
				t.Fatalf("name %q exceeds identifier limit", name)
			}
		}
	}
}

func TestValidHeaderCount(t *testing.T) {
	t.Parallel()

	if got := ValidHeaderCount([]string{"", "a", "", "b"}); got != 2 {
		t.Fatalf("ValidHeaderCount = %d, want 2", got)
	}
}
