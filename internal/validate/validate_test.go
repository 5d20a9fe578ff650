package validate_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"glimpse/internal/services"
	"glimpse/internal/testsupport"
	"glimpse/internal/validate"
)

func TestImageAcceptsRealEncodings(t *testing.T) {
	dir := t.TempDir()

	pngPath := filepath.Join(dir, "sample.png")
	testsupport.WritePNG(t, pngPath, 12, 8)
	jpgPath := filepath.Join(dir, "sample.JPG")
	testsupport.WriteJPEG(t, jpgPath, 12, 8)
	gifPath := filepath.Join(dir, "sample.gif")
	testsupport.WriteGIF(t, gifPath, 12, 8)
	bmpPath := filepath.Join(dir, "sample.bmp")
	testsupport.WriteBMP(t, bmpPath, 12, 8)

	for _, path := range []string{pngPath, jpgPath, gifPath, bmpPath} {
		if err := validate.Image(path); err != nil {
			t.Fatalf("Image(%s): %v", path, err)
		}
	}
}

func TestImageRejectsUnsupportedExtension(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.txt")
	testsupport.WriteFile(t, path, 16)

	err := validate.Image(path)
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if !strings.Contains(err.Error(), "unsupported format") {
		t.Fatalf("unexpected message: %v", err)
	}
}

func TestImageRejectsMissingFile(t *testing.T) {
	err := validate.Image(filepath.Join(t.TempDir(), "ghost.png"))
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if !strings.Contains(err.Error(), "does not exist") {
		t.Fatalf("unexpected message: %v", err)
	}
}

func TestImageRejectsDirectory(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "folder.png")
	if err := os.Mkdir(path, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	err := validate.Image(path)
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if !strings.Contains(err.Error(), "not a regular file") {
		t.Fatalf("unexpected message: %v", err)
	}
}

func TestImageRejectsCorruptData(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "broken.jpg")
	testsupport.WriteCorruptImage(t, path)

	err := validate.Image(path)
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if !strings.Contains(err.Error(), "corrupted or invalid image") {
		t.Fatalf("unexpected message: %v", err)
	}
}

func TestImageRejectsTruncatedEncoding(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "partial.png")
	testsupport.WriteTruncatedPNG(t, path, 64, 64)

	if err := validate.Image(path); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestSupportedExtension(t *testing.T) {
	cases := []struct {
		path string
		want bool
	}{
		{"photo.jpg", true},
		{"photo.JPEG", true},
		{"scan.TIF", true},
		{"anim.webp", true},
		{"doc.pdf", false},
		{"noext", false},
	}
	for _, tc := range cases {
		if got := validate.SupportedExtension(tc.path); got != tc.want {
			t.Errorf("SupportedExtension(%q) = %v, want %v", tc.path, got, tc.want)
		}
	}
}

func TestExtensionsSortedAndComplete(t *testing.T) {
	exts := validate.Extensions()
	if len(exts) != 8 {
		t.Fatalf("expected 8 extensions, got %d: %v", len(exts), exts)
	}
	for i := 1; i < len(exts); i++ {
		if exts[i-1] >= exts[i] {
			t.Fatalf("extensions not sorted: %v", exts)
		}
	}
}
