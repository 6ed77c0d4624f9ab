package storage

import (
	"errors"
	"testing"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

func TestValidateImageFileType(t *testing.T) {
	tests := []struct {
		contentType, filename string
		want                  bool
	}{
		{"image/png", "logo.png", true},
		{"", "logo.JPEG", true},
		{"IMAGE/WEBP", "", true},
		{"application/pdf", "deck.pdf", false},
		{"", "script.sh", false},
		{"video/mp4", "clip.mp4", false},
	}
	for _, tt := range tests {
		if got := ValidateImageFileType(tt.contentType, tt.filename); got != tt.want {
			t.Errorf("ValidateImageFileType(%q, %q) = %v, want %v", tt.contentType, tt.filename, got, tt.want)
		}
	}
}

func TestGroupImageKey(t *testing.T) {
	got := GroupImageKey("g1", "../../etc/my logo.png")
	if got != "groupImages/g1-my_logo.png" {
		t.Errorf("unexpected key %q", got)
	}
	if got := GroupImageKey("g1", `C:\pics\a.gif`); got != "groupImages/g1-a.gif" {
		t.Errorf("unexpected key for windows path %q", got)
	}
}

func TestContentTypeForFilename(t *testing.T) {
	if ct := ContentTypeForFilename("a.jpg"); ct != "image/jpeg" {
		t.Errorf("expected image/jpeg, got %q", ct)
	}
	if ct := ContentTypeForFilename("a.bin"); ct != "application/octet-stream" {
		t.Errorf("expected octet-stream, got %q", ct)
	}
}

func TestPublicObjectURL(t *testing.T) {
	s := &S3{cfg: S3Config{Region: "ap-southeast-1", ImagesBucket: "imgs"}}
	if got := s.PublicObjectURL("groupImages/x.png"); got != "https://imgs.s3.ap-southeast-1.amazonaws.com/groupImages/x.png" {
		t.Errorf("unexpected url %q", got)
	}
	s.cfg.PublicBaseURL = "https://cdn.example.com/"
	if got := s.PublicObjectURL("groupImages/x.png"); got != "https://cdn.example.com/groupImages/x.png" {
		t.Errorf("unexpected cdn url %q", got)
	}
}

func TestBreakerOpensAndWrapsUnavailable(t *testing.T) {
	s := &S3{breaker: NewBreaker("test", zap.NewNop())}
	boom := errors.New("boom")
	for i := 0; i < 4; i++ {
		_, _ = s.breaker.Execute(func() (interface{}, error) { return nil, boom })
	}
	if s.breaker.State() != gobreaker.StateOpen {
		t.Fatalf("expected breaker open, got %v", s.breaker.State())
	}
	_, err := s.breaker.Execute(func() (interface{}, error) { return nil, nil })
	if !errors.Is(s.wrap("upload", err), ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
}
