package transcription

import (
	"strings"
	"unicode/utf8"

	"meetingflow/internal/meeting"
	"meetingflow/internal/segment"
	"meetingflow/internal/textutil"
)

// DefaultOverlapSimilarity is the match threshold used when none is configured.
const DefaultOverlapSimilarity = 0.8

// boundarySlack widens the overlap window to catch utterances whose
// timestamps straddle the cut.
const boundarySlack = 0.5

// minContainedWords is the shortest fragment the containment check trusts.
const minContainedWords = 2

// Merge combines per-segment utterances into one transcript. results[i]
// holds segment i's utterances relative to the segment start.
func Merge(segments []segment.Segment, results [][]meeting.Utterance, threshold float64) meeting.Transcript {
	if threshold <= 0 {
		threshold = DefaultOverlapSimilarity
	}
	merged := make([]meeting.Utterance, 0, estimateLen(results))
	for i, seg := range segments {
		if i >= len(results) {
			break
		}
		incoming := offset(results[i], seg.Start)
		if i == 0 || seg.OverlapBefore <= 0 || len(merged) == 0 {
			merged = append(merged, incoming...)
			continue
		}
		merged = resolveOverlap(merged, incoming, seg.Start, seg.Start+seg.OverlapBefore, threshold)
	}
	clampMonotonic(merged)

	var duration float64
	if n := len(segments); n > 0 {
		duration = segments[n-1].End
	}
	return meeting.Transcript{Duration: duration, Utterances: merged}
}

func estimateLen(results [][]meeting.Utterance) int {
	n := 0
	for _, r := range results {
		n += len(r)
	}
	return n
}

func offset(utterances []meeting.Utterance, by float64) []meeting.Utterance {
	out := make([]meeting.Utterance, 0, len(utterances))
	for _, u := range utterances {
		u.Start += by
		u.End += by
		u.Text = strings.TrimSpace(u.Text)
		if u.Text == "" {
			continue
		}
		out = append(out, u)
	}
	return out
}

// resolveOverlap appends incoming to merged, dropping one side of every
// utterance pair duplicated across the window [winStart, winEnd].
func resolveOverlap(merged, incoming []meeting.Utterance, winStart, winEnd, threshold float64) []meeting.Utterance {
	tailFrom := len(merged)
	for tailFrom > 0 && merged[tailFrom-1].End > winStart-boundarySlack {
		tailFrom--
	}
	headTo := 0
	for headTo < len(incoming) && incoming[headTo].Start < winEnd+boundarySlack {
		headTo++
	}

	dropTail := make(map[int]bool)
	dropHead := make(map[int]bool)
	for h := 0; h < headTo; h++ {
		for t := tailFrom; t < len(merged); t++ {
			if dropTail[t] {
				continue
			}
			if !duplicates(merged[t].Text, incoming[h].Text, threshold) {
				continue
			}
			// Keep the longer text; on a tie keep the earlier (tail) side.
			if utf8.RuneCountInString(incoming[h].Text) > utf8.RuneCountInString(merged[t].Text) {
				dropTail[t] = true
			} else {
				dropHead[h] = true
			}
			break
		}
	}

	out := merged[:0:0]
	for t, u := range merged {
		if !dropTail[t] {
			out = append(out, u)
		}
	}
	for h, u := range incoming {
		if !dropHead[h] {
			out = append(out, u)
		}
	}
	return out
}

func duplicates(a, b string, threshold float64) bool {
	if textutil.TextSimilarity(a, b) >= threshold {
		return true
	}
	na, nb := textutil.NormalizeText(a), textutil.NormalizeText(b)
	if len(strings.Fields(na)) < minContainedWords || len(strings.Fields(nb)) < minContainedWords {
		return false
	}
	// A clipped fragment at the cut repeats the end of the tail or the start
	// of the head.
	return strings.HasSuffix(na, nb) || strings.HasPrefix(nb, na) ||
		strings.HasSuffix(nb, na) || strings.HasPrefix(na, nb)
}

func clampMonotonic(utterances []meeting.Utterance) {
	for i := range utterances {
		if i > 0 && utterances[i].Start < utterances[i-1].Start {
			utterances[i].Start = utterances[i-1].Start
		}
		if utterances[i].End < utterances[i].Start {
			utterances[i].End = utterances[i].Start
		}
	}
}
