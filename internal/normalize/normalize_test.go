package normalize

import (
	"strconv"
	"testing"
)

func TestURL(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"plain", "https://example.co.uk/test/1", "https://example.co.uk/test/1"},
		{"trailing slash", "https://example.co.uk/test/1/", "https://example.co.uk/test/1"},
		{"query and fragment", "https://example.co.uk/test/1/?page=2#q5", "https://example.co.uk/test/1"},
		{"root only", "https://example.co.uk/", "https://example.co.uk"},
		{"default port dropped", "https://example.co.uk:443/t", "https://example.co.uk/t"},
		{"custom port kept", "http://localhost:8080/t/", "http://localhost:8080/t"},
		{"host lowercased", "https://Example.CO.uk/T", "https://example.co.uk/T"},
		{"fallback relative", "/test/1/?x=1", "/test/1"},
		{"fallback garbage", "not a url#frag", "not a url"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := URL(tt.raw); got != tt.want {
				t.Errorf("URL(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestURL_EquivalentInputsMatch(t *testing.T) {
	a := URL("https://example.co.uk/exam/7")
	b := URL("https://example.co.uk/exam/7/?utm=x#top")
	if a != b {
		t.Errorf("normalized URLs differ: %q vs %q", a, b)
	}
}

func TestText(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"", ""},
		{"   ", ""},
		{"What is the Capital?", "what is the capital?"},
		{"  What \n\t is   the capital? ", "what is the capital?"},
	}
	for _, tt := range tests {
		if got := Text(tt.raw); got != tt.want {
			t.Errorf("Text(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}

func TestHash_KnownValues(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", "0"},
		{"a", "2p"},
		{"ab", "2e9"},
	}
	for _, tt := range tests {
		if got := Hash(tt.in); got != tt.want {
			t.Errorf("Hash(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestHash_NormalizesFirst(t *testing.T) {
	if Hash("  What is   the CAPITAL? ") != Hash("what is the capital?") {
		t.Error("hash should be computed over normalized text")
	}
}

func TestHash_WrapsTo32Bits(t *testing.T) {
	text := "which of the following statements about the magna carta is correct"

	// Reference: 64-bit accumulation truncated to int32 at every step.
	var ref int64
	for _, c := range text {
		ref = int64(int32(ref*31 + int64(c)))
	}

	got := Hash(text)
	want := strconv.FormatInt(ref, 36)
	if got != want {
		t.Errorf("Hash = %q, want %q", got, want)
	}
}

func TestHash_DistinguishesTexts(t *testing.T) {
	if Hash("question one") == Hash("question two") {
		t.Error("different texts should (almost always) hash differently")
	}
}
