// Package validate confirms that candidate files hold decodable image data
// before they enter the captioning pipeline. Validation performs a full
// decode, so truncated or corrupted files are rejected even when their
// headers look plausible.
package validate

import (
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sort"
	"strings"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"glimpse/internal/services"
)

var supportedExtensions = map[string]struct{}{
	".jpg":  {},
	".jpeg": {},
	".png":  {},
	".bmp":  {},
	".gif":  {},
	".webp": {},
	".tiff": {},
	".tif":  {},
}

// Extensions returns the supported image extensions in sorted order,
// each including the leading dot.
func Extensions() []string {
	exts := make([]string, 0, len(supportedExtensions))
	for ext := range supportedExtensions {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

// SupportedExtension reports whether the path carries a recognized image
// extension. The comparison is case-insensitive.
func SupportedExtension(path string) bool {
	_, ok := supportedExtensions[strings.ToLower(filepath.Ext(path))]
	return ok
}

// Image verifies that path points at a regular file containing a decodable
// image. Failures return errors tagged with services.ErrValidation.
func Image(path string) error {
	if !SupportedExtension(path) {
		return services.Wrap(services.ErrValidation, services.StageValidate, "check extension",
			fmt.Sprintf("unsupported format %q", strings.ToLower(filepath.Ext(path))), nil)
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return services.Wrap(services.ErrValidation, services.StageValidate, "stat", "file does not exist", nil)
		}
		return services.Wrap(services.ErrValidation, services.StageValidate, "stat", "file is not accessible", err)
	}
	if !info.Mode().IsRegular() {
		return services.Wrap(services.ErrValidation, services.StageValidate, "stat", "not a regular file", nil)
	}

	f, err := os.Open(path)
	if err != nil {
		return services.Wrap(services.ErrValidation, services.StageValidate, "open", "file is not readable", err)
	}
	defer f.Close()

	if _, _, err := image.Decode(f); err != nil {
		return services.Wrap(services.ErrValidation, services.StageValidate, "decode", "corrupted or invalid image", err)
	}
	return nil
}
