package transcription

import (
	"testing"

	"meetingflow/internal/meeting"
	"meetingflow/internal/segment"
)

func TestMergeRemovesOverlapDuplicate(t *testing.T) {
	segments := []segment.Segment{
		{Index: 0, Start: 0, End: 600},
		{Index: 1, Start: 598, End: 900, OverlapBefore: 2},
	}
	results := [][]meeting.Utterance{
		{
			{Start: 0, End: 5, Text: "Good morning everyone"},
			{Start: 597.5, End: 599.9, Text: "Let us review the roadmap", Speaker: "Ana"},
		},
		{
			{Start: 0, End: 1.8, Text: "let us review the roadmap.", Speaker: "Ana"},
			{Start: 2.5, End: 6, Text: "First item is hiring"},
		},
	}

	got := Merge(segments, results, 0.8)

	if len(got.Utterances) != 3 {
		t.Fatalf("expected 3 utterances, got %d: %+v", len(got.Utterances), got.Utterances)
	}
	count := 0
	for _, u := range got.Utterances {
		if u.Text == "Let us review the roadmap" || u.Text == "let us review the roadmap." {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected duplicate to be removed once, found %d copies", count)
	}
	for i := 1; i < len(got.Utterances); i++ {
		if got.Utterances[i].Start < got.Utterances[i-1].Start {
			t.Fatalf("start timestamps regress at %d: %+v", i, got.Utterances)
		}
	}
	if got.Utterances[2].Start != 600.5 {
		t.Fatalf("expected head utterance offset to 600.5, got %v", got.Utterances[2].Start)
	}
	if got.Duration != 900 {
		t.Fatalf("duration = %v, want 900", got.Duration)
	}
}

func TestMergeKeepsLongerSide(t *testing.T) {
	segments := []segment.Segment{
		{Index: 0, Start: 0, End: 10},
		{Index: 1, Start: 8, End: 20, OverlapBefore: 2},
	}
	results := [][]meeting.Utterance{
		{{Start: 8.2, End: 9.9, Text: "we should ship"}},
		{{Start: 0.1, End: 3, Text: "we should ship on Friday"}},
	}
	got := Merge(segments, results, 0.8)
	if len(got.Utterances) != 1 {
		t.Fatalf("expected a single utterance, got %+v", got.Utterances)
	}
	if got.Utterances[0].Text != "we should ship on Friday" {
		t.Fatalf("expected longer text kept, got %q", got.Utterances[0].Text)
	}
}

func TestMergeTieKeepsEarlier(t *testing.T) {
	segments := []segment.Segment{
		{Index: 0, Start: 0, End: 10},
		{Index: 1, Start: 8, End: 20, OverlapBefore: 2},
	}
	results := [][]meeting.Utterance{
		{{Start: 8.5, End: 9.5, Text: "Sounds good", Speaker: "tail"}},
		{{Start: 0.4, End: 1.5, Text: "sounds good", Speaker: "head"}},
	}
	got := Merge(segments, results, 0.8)
	if len(got.Utterances) != 1 || got.Utterances[0].Speaker != "tail" {
		t.Fatalf("expected tail utterance kept, got %+v", got.Utterances)
	}
}

func TestMergeLeavesDistinctOverlapText(t *testing.T) {
	segments := []segment.Segment{
		{Index: 0, Start: 0, End: 10},
		{Index: 1, Start: 8, End: 20, OverlapBefore: 2},
	}
	results := [][]meeting.Utterance{
		{{Start: 8.5, End: 9.8, Text: "budget review is next"}},
		{{Start: 0.5, End: 2, Text: "hiring plan comes after that"}},
	}
	got := Merge(segments, results, 0.8)
	if len(got.Utterances) != 2 {
		t.Fatalf("expected both utterances kept, got %+v", got.Utterances)
	}
}

func TestMergeClampsNonMonotonicStarts(t *testing.T) {
	segments := []segment.Segment{
		{Index: 0, Start: 0, End: 10},
		{Index: 1, Start: 8, End: 20, OverlapBefore: 2},
	}
	results := [][]meeting.Utterance{
		{{Start: 7, End: 9.9, Text: "one thing left to cover"}},
		{{Start: -2, End: -1.5, Text: "completely unrelated remark here"}},
	}
	got := Merge(segments, results, 0.8)
	if len(got.Utterances) != 2 {
		t.Fatalf("unexpected utterances %+v", got.Utterances)
	}
	second := got.Utterances[1]
	if second.Start != 7 || second.End != 7 {
		t.Fatalf("expected clamped start and end at 7, got %+v", second)
	}
}

func TestMergeSingleSegmentIsOffsetOnly(t *testing.T) {
	segments := []segment.Segment{{Index: 0, Start: 0, End: 30}}
	results := [][]meeting.Utterance{{
		{Start: 0, End: 2, Text: "hello"},
		{Start: 2, End: 3, Text: "  "},
		{Start: 3, End: 4, Text: "hello"},
	}}
	got := Merge(segments, results, 0)
	if len(got.Utterances) != 2 {
		t.Fatalf("expected blank dropped and repeats kept, got %+v", got.Utterances)
	}
}

func TestMergeIsDeterministic(t *testing.T) {
	segments := []segment.Segment{
		{Index: 0, Start: 0, End: 10},
		{Index: 1, Start: 8, End: 20, OverlapBefore: 2},
		{Index: 2, Start: 18, End: 25, OverlapBefore: 2},
	}
	results := [][]meeting.Utterance{
		{{Start: 8.5, End: 9.9, Text: "moving on to metrics"}},
		{{Start: 0.1, End: 1.9, Text: "moving on to metrics"}, {Start: 9, End: 11, Text: "any other business today"}},
		{{Start: 0, End: 1, Text: "any other business today"}},
	}
	first := Merge(segments, results, 0.8)
	for i := 0; i < 5; i++ {
		again := Merge(segments, results, 0.8)
		if len(again.Utterances) != len(first.Utterances) {
			t.Fatalf("merge output changed between runs")
		}
		for j := range again.Utterances {
			if again.Utterances[j] != first.Utterances[j] {
				t.Fatalf("merge output changed at %d", j)
			}
		}
	}
	if len(first.Utterances) != 2 {
		t.Fatalf("expected 2 utterances after two overlaps, got %+v", first.Utterances)
	}
}
