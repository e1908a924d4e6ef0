package imageprep

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"  // Register GIF format decoder
	_ "image/jpeg" // Register JPEG format decoder
	_ "image/png"  // Register PNG format decoder
	"strings"

	"github.com/anthonynsimon/bild/adjust"
	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"  // Register BMP format decoder
	_ "golang.org/x/image/webp" // Register WebP format decoder
)

const (
	MaxImageSize = 20 * 1024 * 1024 // 20MB in bytes
	MaxDimension = 2048             // Maximum width/height
	Quality      = 85               // JPEG quality (0-100)

	minQuality  = 10
	qualityStep = 10
)

// ErrEmpty is returned when Prepare is handed no bytes.
var ErrEmpty = errors.New("image data is empty")

// Options controls how a photo is prepared for note detection.
//
// The zero value is not useful; start from DefaultOptions and override fields.
type Options struct {
	// MaxDimension bounds the longest side in pixels. Larger images are
	// downscaled with Lanczos resampling, preserving aspect ratio.
	MaxDimension int

	// MaxBytes is the encoded size budget. JPEG output is re-encoded at lower
	// quality until it fits or the quality floor is reached.
	MaxBytes int

	// Quality is the starting JPEG quality (1-100).
	Quality int

	// Contrast is passed to bild's adjust.Contrast when non-zero. Values are
	// in (-1, 1); 0.2 raises contrast by 20%, which helps with pale notes.
	Contrast float64
}

// DefaultOptions returns the limits the detector is known to accept.
func DefaultOptions() Options {
	return Options{
		MaxDimension: MaxDimension,
		MaxBytes:     MaxImageSize,
		Quality:      Quality,
	}
}

// Result is a prepared image together with its geometry.
type Result struct {
	// Data is the re-encoded image.
	Data []byte

	// MIMEType is "image/jpeg" or "image/png".
	MIMEType string

	// Format is the decoder name of the source ("jpeg", "png", "gif", "webp", "bmp").
	Format string

	// Width and Height are the pixel dimensions of Data, after orientation
	// and downscaling.
	Width  int
	Height int

	// SourceWidth and SourceHeight are the oriented dimensions before downscaling.
	SourceWidth  int
	SourceHeight int

	// Quality is the JPEG quality used, 0 for PNG output.
	Quality int
}

// Prepare decodes a photo, applies its EXIF orientation, downscales it to fit
// opts.MaxDimension and re-encodes it for upload to the detector.
//
// Parameters:
//   - data: Raw bytes of a PNG, JPEG, GIF, WebP or BMP image.
//   - opts: Limits and adjustments; see Options.
//
// Returns:
//   - *Result: The re-encoded image and its dimensions.
//   - error: Non-nil if data is empty, not a supported image, or cannot be encoded.
//
// # Output Format
//
// PNG sources stay PNG so transparency and flat colours survive. Everything
// else is encoded as JPEG starting at opts.Quality. If the JPEG is larger than
// opts.MaxBytes the quality is lowered in steps of 10 down to a floor of 10.
func Prepare(data []byte, opts Options) (*Result, error) {
	if len(data) == 0 {
		return nil, ErrEmpty
	}
	opts = withDefaults(opts)

	_, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to read image header: %w", err)
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	bounds := img.Bounds()
	result := &Result{
		Format:       format,
		SourceWidth:  bounds.Dx(),
		SourceHeight: bounds.Dy(),
	}

	if bounds.Dx() > opts.MaxDimension || bounds.Dy() > opts.MaxDimension {
		img = imaging.Fit(img, opts.MaxDimension, opts.MaxDimension, imaging.Lanczos)
	}

	if opts.Contrast != 0 {
		img = adjust.Contrast(img, opts.Contrast)
	}

	result.Width = img.Bounds().Dx()
	result.Height = img.Bounds().Dy()

	if strings.EqualFold(format, "png") {
		var buf bytes.Buffer
		if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
			return nil, fmt.Errorf("failed to encode png: %w", err)
		}
		result.Data = buf.Bytes()
		result.MIMEType = "image/png"
		return result, nil
	}

	quality := opts.Quality
	out, err := encodeJPEG(img, quality)
	if err != nil {
		return nil, err
	}
	for len(out) > opts.MaxBytes && quality > minQuality {
		quality -= qualityStep
		if quality < minQuality {
			quality = minQuality
		}
		if out, err = encodeJPEG(img, quality); err != nil {
			return nil, err
		}
	}

	result.Data = out
	result.MIMEType = "image/jpeg"
	result.Quality = quality
	return result, nil
}

func encodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return nil, fmt.Errorf("failed to encode jpeg at quality %d: %w", quality, err)
	}
	return buf.Bytes(), nil
}

func withDefaults(opts Options) Options {
	def := DefaultOptions()
	if opts.MaxDimension <= 0 {
		opts.MaxDimension = def.MaxDimension
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = def.MaxBytes
	}
	if opts.Quality <= 0 || opts.Quality > 100 {
		opts.Quality = def.Quality
	}
	return opts
}
