package util

import (
	"errors"
	"strings"
	"testing"
)

func TestHashUserKey(t *testing.T) {
	id := "google:12345"
	got := HashUserKey(id)
	if got != HashUserKey(id) {
		t.Fatalf("expected stable hash, got %s", got)
	}
	if got == HashUserKey("google:12346") {
		t.Fatalf("expected distinct users to hash differently")
	}
	if len(got) != 32 || strings.Trim(got, "0123456789abcdef") != "" {
		t.Fatalf("expected 32 lowercase hex characters, got %q", got)
	}
}

func TestSanitizeFileName(t *testing.T) {
	cases := map[string]string{
		"scan.ply":         "scan.ply",
		"  left/side.obj ": "left_side.obj",
		`dir\capture.usdz`: "dir_capture.usdz",
		"IMG 0001.heic":    "IMG 0001.heic",
		"de\x00pth\t.png":  "depth.png",
	}
	for in, want := range cases {
		got, err := SanitizeFileName(in)
		if err != nil || got != want {
			t.Fatalf("SanitizeFileName(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
}

func TestSanitizeFileNameCapsLengthKeepingExtension(t *testing.T) {
	got, err := SanitizeFileName(strings.Repeat("a", 300) + ".usdz")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != maxFileNameLen || !strings.HasSuffix(got, ".usdz") {
		t.Fatalf("expected %d chars ending in .usdz, got %d %q", maxFileNameLen, len(got), got[len(got)-8:])
	}
}

func TestSanitizeFileNameRejects(t *testing.T) {
	for _, in := range []string{"", "   ", "../etc/passwd", "a..b", "/", "\x00\x01"} {
		if _, err := SanitizeFileName(in); !errors.Is(err, ErrInvalidFileName) {
			t.Fatalf("expected %q to be rejected, got %v", in, err)
		}
	}
}
