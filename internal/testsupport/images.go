package testsupport

import (
	"bytes"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/image/bmp"
)

// WritePNG encodes a synthetic image of the given dimensions to path.
func WritePNG(t testing.TB, path string, width, height int) {
	t.Helper()

	f := createFile(t, path)
	defer f.Close()
	if err := png.Encode(f, testImage(width, height)); err != nil {
		t.Fatalf("encode png %s: %v", path, err)
	}
}

// WriteJPEG encodes a synthetic image of the given dimensions to path.
func WriteJPEG(t testing.TB, path string, width, height int) {
	t.Helper()

	f := createFile(t, path)
	defer f.Close()
	if err := jpeg.Encode(f, testImage(width, height), &jpeg.Options{Quality: 90}); err != nil {
		t.Fatalf("encode jpeg %s: %v", path, err)
	}
}

// WriteGIF encodes a synthetic image of the given dimensions to path.
func WriteGIF(t testing.TB, path string, width, height int) {
	t.Helper()

	f := createFile(t, path)
	defer f.Close()
	if err := gif.Encode(f, testImage(width, height), nil); err != nil {
		t.Fatalf("encode gif %s: %v", path, err)
	}
}

// WriteBMP encodes a synthetic image of the given dimensions to path.
func WriteBMP(t testing.TB, path string, width, height int) {
	t.Helper()

	f := createFile(t, path)
	defer f.Close()
	if err := bmp.Encode(f, testImage(width, height)); err != nil {
		t.Fatalf("encode bmp %s: %v", path, err)
	}
}

// WriteCorruptImage writes non-image bytes to a path whose extension claims
// otherwise.
func WriteCorruptImage(t testing.TB, path string) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte("this is not an image"), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// WriteTruncatedPNG writes the first half of a valid PNG encoding, producing
// a file with an intact header but an incomplete pixel stream.
func WriteTruncatedPNG(t testing.TB, path string, width, height int) {
	t.Helper()

	var buf bytes.Buffer
	if err := png.Encode(&buf, testImage(width, height)); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	data := buf.Bytes()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, data[:len(data)/2], 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// WriteFile fills the target path with the requested number of bytes using a
// simple repeating pattern. A size <= 0 writes a single byte.
func WriteFile(t testing.TB, path string, size int64) {
	t.Helper()

	if size <= 0 {
		size = 1
	}
	f := createFile(t, path)
	defer f.Close()

	const chunkSize = 32 * 1024
	buf := make([]byte, chunkSize)
	for i := range buf {
		buf[i] = 0x42
	}

	remaining := size
	for remaining > 0 {
		toWrite := int64(chunkSize)
		if remaining < toWrite {
			toWrite = remaining
		}
		if _, err := f.Write(buf[:toWrite]); err != nil {
			t.Fatalf("write %s: %v", path, err)
		}
		remaining -= toWrite
	}
}

func createFile(t testing.TB, path string) *os.File {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	return f
}

func testImage(width, height int) image.Image {
	if width < 1 {
		width = 1
	}
	if height < 1 {
		height = 1
	}
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{
				R: uint8((x * 7) % 256),
				G: uint8((y * 13) % 256),
				B: uint8(((x + y) * 3) % 256),
				A: 255,
			})
		}
	}
	return img
}
