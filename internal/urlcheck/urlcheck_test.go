package urlcheck_test

import (
	"errors"
	"strings"
	"testing"

	"vidflow/internal/services"
	"vidflow/internal/urlcheck"
)

func TestValidateAcceptsSupportedURLs(t *testing.T) {
	v := urlcheck.New([]string{"youtube.com", "youtu.be", "vimeo.com"})
	cases := []struct {
		raw      string
		wantID   string
		wantURL  string
		platform string
	}{
		{"https://www.youtube.com/watch?v=dQw4w9WgXcQ&t=42", "dQw4w9WgXcQ", "https://www.youtube.com/watch?v=dQw4w9WgXcQ", "youtube"},
		{"https://youtu.be/dQw4w9WgXcQ?si=abc", "dQw4w9WgXcQ", "https://www.youtube.com/watch?v=dQw4w9WgXcQ", "youtube"},
		{"https://m.youtube.com/shorts/dQw4w9WgXcQ", "dQw4w9WgXcQ", "https://www.youtube.com/watch?v=dQw4w9WgXcQ", "youtube"},
		{"https://music.youtube.com/watch?v=dQw4w9WgXcQ", "dQw4w9WgXcQ", "https://www.youtube.com/watch?v=dQw4w9WgXcQ", "youtube"},
		{"  https://vimeo.com/76979871 ", "", "https://vimeo.com/76979871", "vimeo"},
		{"https://player.vimeo.com/video/76979871", "", "https://player.vimeo.com/video/76979871", "vimeo"},
	}
	for _, tc := range cases {
		src, err := v.Validate(tc.raw)
		if err != nil {
			t.Fatalf("Validate(%q): %v", tc.raw, err)
		}
		if src.VideoID != tc.wantID || src.URL != tc.wantURL || src.Platform != tc.platform {
			t.Fatalf("Validate(%q) = %+v", tc.raw, src)
		}
	}
}

func TestValidateRejects(t *testing.T) {
	v := urlcheck.New([]string{"youtube.com", "youtu.be"})
	cases := []struct {
		raw    string
		marker error
		msg    string
	}{
		{"", services.ErrValidation, "URL is required"},
		{"ftp://youtube.com/watch?v=dQw4w9WgXcQ", services.ErrValidation, "only http and https"},
		{"https://www.youtube.com/watch?v=short", services.ErrValidation, "Invalid YouTube URL"},
		{"https://youtube.com/playlist?list=PL123", services.ErrValidation, "Invalid YouTube URL"},
		{"https://example.com/video.mp4", services.ErrUnsupported, "not in the allowed list"},
		{"https://notyoutube.com/watch?v=dQw4w9WgXcQ", services.ErrUnsupported, "not in the allowed list"},
	}
	for _, tc := range cases {
		_, err := v.Validate(tc.raw)
		if err == nil {
			t.Fatalf("Validate(%q) expected error", tc.raw)
		}
		if !errors.Is(err, tc.marker) {
			t.Fatalf("Validate(%q) = %v, want marker %v", tc.raw, err, tc.marker)
		}
		if !strings.Contains(err.Error(), tc.msg) {
			t.Fatalf("Validate(%q) = %v, want message containing %q", tc.raw, err, tc.msg)
		}
		if services.Retryable(err) {
			t.Fatalf("validation failures must not be retryable: %v", err)
		}
	}
}
