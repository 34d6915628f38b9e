package language

import "testing"

func TestNormalize(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"", ""},
		{"  ", ""},
		{"auto", ""},
		{"AUTO", ""},
		{"en", "en"},
		{"EN", "en"},
		{" de ", "de"},
		{"eng", "en"},
		{"spa", "es"},
		{"fre", "fr"},
		{"ger", "de"},
		{"english", "en"},
		{"English", "en"},
		{"en-US", "en"},
		{"pt_BR", "pt"},
	}
	for _, tt := range tests {
		got, err := Normalize(tt.input)
		if err != nil {
			t.Fatalf("Normalize(%q) error = %v", tt.input, err)
		}
		if got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestNormalizeRejectsGarbage(t *testing.T) {
	for _, input := range []string{"not a language", "12"} {
		if _, err := Normalize(input); err == nil {
			t.Errorf("Normalize(%q) expected error", input)
		}
	}
}

func TestToISO2FallsBackToInput(t *testing.T) {
	if got := ToISO2("Not A Language"); got != "not a language" {
		t.Fatalf("ToISO2 = %q", got)
	}
	if got := ToISO2("french"); got != "fr" {
		t.Fatalf("ToISO2(french) = %q", got)
	}
}

func TestDisplayName(t *testing.T) {
	if got := DisplayName("en"); got != "English" {
		t.Fatalf("DisplayName(en) = %q", got)
	}
	if got := DisplayName("ger"); got != "German" {
		t.Fatalf("DisplayName(ger) = %q", got)
	}
	if got := DisplayName(""); got != "" {
		t.Fatalf("DisplayName(empty) = %q", got)
	}
}
