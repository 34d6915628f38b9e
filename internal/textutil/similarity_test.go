package textutil

import (
	"math"
	"testing"
)

func TestCosineSimilarityNil(t *testing.T) {
	tests := []struct {
		name string
		a    *Fingerprint
		b    *Fingerprint
	}{
		{"both nil", nil, nil},
		{"a nil", nil, NewFingerprint("hello world")},
		{"b nil", NewFingerprint("hello world"), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CosineSimilarity(tt.a, tt.b); got != 0 {
				t.Errorf("CosineSimilarity() = %v, want 0", got)
			}
		})
	}
}

func TestCosineSimilarityIdenticalAndDisjoint(t *testing.T) {
	text := "The quick brown fox jumps over the lazy dog"
	if got := CosineSimilarity(NewFingerprint(text), NewFingerprint(text)); math.Abs(got-1) > 1e-9 {
		t.Errorf("identical similarity = %v, want 1", got)
	}
	if got := CosineSimilarity(NewFingerprint("apple banana cherry"), NewFingerprint("dog elephant frog")); got != 0 {
		t.Errorf("disjoint similarity = %v, want 0", got)
	}
}

func TestNewFingerprintNormCalculation(t *testing.T) {
	// hello:2, world:1 -> sqrt(5)
	fp := NewFingerprint("hello hello world")
	if fp == nil {
		t.Fatal("expected fingerprint")
	}
	if math.Abs(fp.norm-math.Sqrt(5)) > 0.0001 {
		t.Errorf("norm = %v, want %v", fp.norm, math.Sqrt(5))
	}
}

func TestTokenize(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{"simple words", "Hello World", []string{"hello", "world"}},
		{"filters single runes", "a to the fox", []string{"to", "the", "fox"}},
		{"punctuation", "Hello, World! OK?", []string{"hello", "world", "ok"}},
		{"unicode letters", "Café déjà vu", []string{"café", "déjà", "vu"}},
		{"empty", "", []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Tokenize(tt.input)
			if len(got) != len(tt.want) {
				t.Fatalf("Tokenize() = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("token[%d] = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestTextSimilarityShortTextFallsBackToEquality(t *testing.T) {
	if got := TextSimilarity("Okay.", "okay"); got != 1 {
		t.Fatalf("short equal texts = %v, want 1", got)
	}
	if got := TextSimilarity("Okay.", "Sure"); got != 0 {
		t.Fatalf("short different texts = %v, want 0", got)
	}
	long := "we should ship the release on friday afternoon"
	if got := TextSimilarity(long, long+" then"); got < 0.9 {
		t.Fatalf("near-duplicate long texts = %v, want >= 0.9", got)
	}
}

func TestEditRatio(t *testing.T) {
	tests := []struct {
		a, b string
		want float64
	}{
		{"acme", "acme", 1},
		{"", "", 1},
		{"acme co", "acme corp", 1 - 2.0/9.0},
		{"acme corp", "acme corporation", 1 - 7.0/16.0},
		{"abc", "xyz", 0},
	}
	for _, tt := range tests {
		if got := EditRatio(tt.a, tt.b); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("EditRatio(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
	if Levenshtein("kitten", "sitting") != 3 {
		t.Fatal("unexpected kitten/sitting distance")
	}
}

func TestSanitizeFileName(t *testing.T) {
	tests := map[string]string{
		"Plan: Q3 / Q4?":    "Plan- Q3 - Q4",
		"  [[Link]]  #tag ": "Link tag",
		"...":               "",
	}
	for in, want := range tests {
		if got := SanitizeFileName(in); got != want {
			t.Errorf("SanitizeFileName(%q) = %q, want %q", in, got, want)
		}
	}
}
