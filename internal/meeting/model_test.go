package meeting

import "testing"

func TestRenderUtterance(t *testing.T) {
	tests := []struct {
		in   Utterance
		want string
	}{
		{Utterance{Start: 3725.4, Text: " hello ", Speaker: "Ana"}, "[01:02:05] Ana: hello"},
		{Utterance{Start: 5, Text: "no speaker"}, "[00:00:05] no speaker"},
		{Utterance{Start: -1, Text: "clamped"}, "[00:00:00] clamped"},
	}
	for _, tt := range tests {
		if got := RenderUtterance(tt.in); got != tt.want {
			t.Fatalf("RenderUtterance(%+v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestTranscriptRender(t *testing.T) {
	tr := Transcript{Utterances: []Utterance{{Start: 0, Text: "a"}, {Start: 1, Text: "b", Speaker: "S"}}}
	want := "[00:00:00] a\n[00:00:01] S: b\n"
	if got := tr.Render(); got != want {
		t.Fatalf("Render = %q, want %q", got, want)
	}
}
