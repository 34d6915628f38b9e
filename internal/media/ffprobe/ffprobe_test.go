package ffprobe

import (
	"errors"
	"math"
	"testing"
)

func TestParseAndSummarize(t *testing.T) {
	raw := []byte(`{
		"streams": [
			{"index": 0, "codec_type": "video", "codec_name": "h264"},
			{"index": 1, "codec_type": "audio", "codec_name": "aac", "duration": "3600.5", "channels": 2}
		],
		"format": {"duration": "3601.0", "bit_rate": "128000"}
	}`)
	result, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	summary, err := result.Summarize()
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if summary.DurationSeconds != 3601 {
		t.Fatalf("duration = %v", summary.DurationSeconds)
	}
	if summary.BitRate != 128000 || summary.AudioCodec != "aac" || summary.AudioStreams != 1 {
		t.Fatalf("unexpected summary %+v", summary)
	}
}

func TestSummarizeFallsBackToStreamDuration(t *testing.T) {
	result := Result{Streams: []Stream{{CodecType: "audio", Duration: "42.5"}}}
	summary, err := result.Summarize()
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if summary.DurationSeconds != 42.5 {
		t.Fatalf("duration = %v", summary.DurationSeconds)
	}
}

func TestSummarizeRejectsMissingAudio(t *testing.T) {
	_, err := Result{Streams: []Stream{{CodecType: "video"}}}.Summarize()
	if !errors.Is(err, ErrNoAudio) {
		t.Fatalf("expected ErrNoAudio, got %v", err)
	}
	_, err = Result{Streams: []Stream{{CodecType: "audio"}}, Format: Format{Duration: "bad"}}.Summarize()
	if err == nil {
		t.Fatal("expected error for unknown duration")
	}
}

func TestResultHelpersHandleInvalidNumbers(t *testing.T) {
	result := Result{Format: Format{Duration: "bad", BitRate: "nope"}}
	if !math.IsNaN(result.DurationSeconds()) {
		t.Fatalf("expected duration NaN, got %v", result.DurationSeconds())
	}
	if result.BitRate() != 0 {
		t.Fatalf("expected bitrate 0, got %d", result.BitRate())
	}
}
