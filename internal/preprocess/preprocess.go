// Package preprocess decodes candidate images and applies the configured
// resize policy before inference. It also maintains the on-disk cache of
// resized copies when that option is enabled.
package preprocess

import (
	"errors"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	"golang.org/x/image/tiff"

	_ "golang.org/x/image/webp"

	"glimpse/internal/config"
	"glimpse/internal/logging"
	"glimpse/internal/services"
)

// CacheDirName is the subdirectory of the scan root that holds resized copies.
const CacheDirName = "resized_images"

// Result carries a decoded image and the metadata gathered while preparing it.
type Result struct {
	Path     string
	Image    image.Image
	Format   string
	FileSize int64

	OriginalWidth  int
	OriginalHeight int
	Width          int
	Height         int
	WasResized     bool

	// Dimensions renders as "WxH", or "W0xH0→W1xH1" when the inference
	// resize changed the image.
	Dimensions string

	// CachePath and CacheSize are set when a resized copy was written to
	// the cache.
	CachePath string
	CacheSize int64
}

// Preprocessor prepares images for inference according to the processing
// configuration.
type Preprocessor struct {
	cfg    config.Processing
	logger *slog.Logger
}

// New constructs a Preprocessor from the processing section of cfg. A nil
// logger falls back to a no-op logger.
func New(cfg *config.Config, logger *slog.Logger) *Preprocessor {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Preprocessor{
		cfg:    cfg.Processing,
		logger: logging.NewComponentLogger(logger, "preprocess"),
	}
}

// Prepare decodes the image at path and applies the inference resize policy.
// When resized-image caching is enabled and cacheRoot is non-empty, a copy
// resized to the target dimension (upscaling allowed) is written beneath
// cacheRoot/resized_images.
func (p *Preprocessor) Prepare(path, cacheRoot string) (*Result, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, services.Wrap(services.ErrNotFound, services.StageInference, "prepare image", "source file not found", err)
		}
		return nil, services.Wrap(services.ErrInference, services.StageInference, "prepare image", "cannot stat file", err)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, services.Wrap(services.ErrInference, services.StageInference, "prepare image", "cannot open file", err)
	}
	src, format, err := image.Decode(f)
	f.Close()
	if err != nil {
		return nil, services.Wrap(services.ErrInference, services.StageInference, "prepare image", "cannot decode image", err)
	}

	bounds := src.Bounds()
	res := &Result{
		Path:           path,
		Image:          src,
		Format:         format,
		FileSize:       info.Size(),
		OriginalWidth:  bounds.Dx(),
		OriginalHeight: bounds.Dy(),
		Width:          bounds.Dx(),
		Height:         bounds.Dy(),
	}

	if p.cfg.ResizeBeforeInference {
		resized, changed := ResizeSmart(src, p.cfg.MaxDimension, p.cfg.ResizeMethod, false)
		if changed {
			res.Image = resized
			res.Width = resized.Bounds().Dx()
			res.Height = resized.Bounds().Dy()
			res.WasResized = true
			p.logger.Debug("resized for inference",
				logging.String("image", filepath.Base(path)),
				logging.String("from", formatDims(res.OriginalWidth, res.OriginalHeight)),
				logging.String("to", formatDims(res.Width, res.Height)))
		}
	}

	if res.WasResized {
		res.Dimensions = formatDims(res.OriginalWidth, res.OriginalHeight) + "→" + formatDims(res.Width, res.Height)
	} else {
		res.Dimensions = formatDims(res.OriginalWidth, res.OriginalHeight)
	}

	if p.cfg.CacheResizedImages && cacheRoot != "" {
		// The cached copy is built from the original image so that small
		// inputs are upscaled to the target dimension.
		cacheImg, _ := ResizeSmart(src, p.cfg.MaxDimension, p.cfg.ResizeMethod, true)
		cachePath, cacheSize, err := p.writeCache(cacheImg, path, format, cacheRoot)
		if err != nil {
			// A missing cache artifact never fails the image.
			p.logger.Warn("resized-image cache write failed",
				logging.String("image", filepath.Base(path)),
				logging.Error(err))
		} else {
			res.CachePath = cachePath
			res.CacheSize = cacheSize
		}
	}

	return res, nil
}

// ResizeSmart scales src so its longest side equals maxDimension, preserving
// aspect ratio. Images already at the target are returned unchanged, as are
// smaller images unless allowUpscale is set. The boolean reports whether a
// new image was produced.
func ResizeSmart(src image.Image, maxDimension int, method string, allowUpscale bool) (image.Image, bool) {
	bounds := src.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	maxCurrent := width
	if height > maxCurrent {
		maxCurrent = height
	}

	if maxCurrent == maxDimension {
		return src, false
	}
	if !allowUpscale && maxCurrent < maxDimension {
		return src, false
	}

	var newWidth, newHeight int
	if width > height {
		newWidth = maxDimension
		newHeight = int(float64(height) * (float64(maxDimension) / float64(width)))
	} else {
		newHeight = maxDimension
		newWidth = int(float64(width) * (float64(maxDimension) / float64(height)))
	}
	if newWidth < 1 {
		newWidth = 1
	}
	if newHeight < 1 {
		newHeight = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, newWidth, newHeight))
	interpolator(method).Scale(dst, dst.Bounds(), src, bounds, draw.Src, nil)
	return dst, true
}

func interpolator(method string) draw.Interpolator {
	switch strings.ToLower(method) {
	case "bilinear":
		return draw.BiLinear
	case "nearest":
		return draw.NearestNeighbor
	case "lanczos", "bicubic":
		return draw.CatmullRom
	default:
		return draw.CatmullRom
	}
}

func (p *Preprocessor) writeCache(img image.Image, originalPath, decodedFormat, cacheRoot string) (string, int64, error) {
	cacheDir := filepath.Join(cacheRoot, CacheDirName)
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return "", 0, fmt.Errorf("create cache directory: %w", err)
	}

	encode, ext := cacheEncoder(p.cfg.CacheFormat, decodedFormat, filepath.Ext(originalPath), p.cfg.JPEGQuality)
	stem := strings.TrimSuffix(filepath.Base(originalPath), filepath.Ext(originalPath))
	target := filepath.Join(cacheDir, stem+ext)

	out, err := os.Create(target)
	if err != nil {
		return "", 0, fmt.Errorf("create cache file: %w", err)
	}
	if err := encode(out, img); err != nil {
		out.Close()
		_ = os.Remove(target)
		return "", 0, fmt.Errorf("encode cache file: %w", err)
	}
	if err := out.Close(); err != nil {
		return "", 0, fmt.Errorf("finish cache file: %w", err)
	}

	var size int64
	if info, err := os.Stat(target); err == nil {
		size = info.Size()
		p.logger.Info("cached resized copy",
			logging.String("image", filepath.Base(originalPath)),
			logging.String("cache", filepath.Base(target)),
			logging.Int64("bytes", size))
	}
	return target, size, nil
}

type encodeFunc func(w io.Writer, img image.Image) error

// cacheEncoder picks the encoder and file extension for a cached copy. In
// "original" mode the source format is kept, except for webp which has no
// Go encoder and falls back to PNG.
func cacheEncoder(cacheFormat, decodedFormat, originalExt string, jpegQuality int) (encodeFunc, string) {
	switch cacheFormat {
	case config.CacheFormatJPEG:
		return jpegEncoder(jpegQuality), ".jpg"
	case config.CacheFormatPNG:
		return pngEncoder, ".png"
	}

	switch decodedFormat {
	case "jpeg":
		return jpegEncoder(jpegQuality), originalExt
	case "gif":
		return func(w io.Writer, img image.Image) error {
			return gif.Encode(w, img, nil)
		}, originalExt
	case "bmp":
		return bmp.Encode, originalExt
	case "tiff":
		return func(w io.Writer, img image.Image) error {
			return tiff.Encode(w, img, nil)
		}, originalExt
	case "png":
		return pngEncoder, originalExt
	default:
		return pngEncoder, ".png"
	}
}

func jpegEncoder(quality int) encodeFunc {
	return func(w io.Writer, img image.Image) error {
		return jpeg.Encode(w, img, &jpeg.Options{Quality: quality})
	}
}

func pngEncoder(w io.Writer, img image.Image) error {
	return png.Encode(w, img)
}

func formatDims(width, height int) string {
	return fmt.Sprintf("%dx%d", width, height)
}
