package ffprobe

import (
	"math"
	"testing"
)

const sampleOutput = `{
  "streams": [
    {"index": 0, "codec_name": "aac", "codec_type": "audio", "duration": "12.5"},
    {"index": 1, "codec_name": "mjpeg", "codec_type": "video", "width": 300, "height": 300,
     "disposition": {"default": 0, "attached_pic": 1}},
    {"index": 2, "codec_name": "h264", "codec_type": "video", "codec_tag_string": "avc1",
     "width": 1920, "height": 1080, "duration": "12.48", "disposition": {"default": 1}}
  ],
  "format": {"filename": "clip.mp4", "nb_streams": 3, "duration": "12.500000", "size": "1048576",
             "format_name": "mov,mp4,m4a,3gp,3g2,mj2"}
}`

func TestParsePicksPrimaryVideo(t *testing.T) {
	result, err := Parse([]byte(sampleOutput))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	video, ok := result.PrimaryVideo()
	if !ok {
		t.Fatal("expected a primary video stream")
	}
	if video.CodecName != "h264" || video.Width != 1920 || video.Height != 1080 {
		t.Fatalf("unexpected stream %+v", video)
	}
	if result.VideoStreamCount() != 2 {
		t.Fatalf("expected 2 video streams, got %d", result.VideoStreamCount())
	}
	if result.DurationSeconds() != 12.5 {
		t.Fatalf("unexpected duration: %v", result.DurationSeconds())
	}
	if result.SizeBytes() != 1048576 {
		t.Fatalf("unexpected size: %d", result.SizeBytes())
	}
}

func TestDurationFallsBackToVideoStream(t *testing.T) {
	result := Result{
		Streams: []Stream{{CodecType: "video", Duration: "7.25"}},
		Format:  Format{Duration: "N/A"},
	}
	if result.DurationSeconds() != 7.25 {
		t.Fatalf("unexpected duration: %v", result.DurationSeconds())
	}
}

func TestResultHelpersHandleInvalidNumbers(t *testing.T) {
	result := Result{Format: Format{Duration: "bad", Size: "-1"}}
	if !math.IsNaN(result.DurationSeconds()) {
		t.Fatalf("expected duration NaN, got %v", result.DurationSeconds())
	}
	if result.SizeBytes() != 0 {
		t.Fatalf("expected size 0, got %d", result.SizeBytes())
	}
	if _, ok := (Result{}).PrimaryVideo(); ok {
		t.Fatal("empty result has no video")
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	if _, err := Parse([]byte("not json")); err == nil {
		t.Fatal("expected parse error")
	}
}
