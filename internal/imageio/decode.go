package imageio

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strings"

	apperrors "go-spot-counter/internal/errors"
	"go-spot-counter/internal/logger"
	"go-spot-counter/internal/pipeline"
	"go-spot-counter/pkg/validation"

	"github.com/sirupsen/logrus"
	"gocv.io/x/gocv"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Decoded is a raw pipeline buffer plus what was learned while decoding it
type Decoded struct {
	Raw    gocv.Mat
	Format string
	Width  int
	Height int
}

// Close releases the raw buffer
func (d *Decoded) Close() {
	if d != nil {
		d.Raw.Close()
	}
}

// Decode turns encoded image bytes into a raw buffer. Go decoders run first
// so 16-bit PNG and TIFF keep their depth; anything they reject is handed to
// OpenCV unchanged. Images wider or taller than maxDimension are rejected;
// for Go formats that happens from the header, before pixels are allocated.
// maxDimension <= 0 uses the default limit.
func Decode(data []byte, maxDimension int) (*Decoded, error) {
	if len(data) == 0 {
		return nil, apperrors.NewDecodeError("no image data", nil)
	}
	validator := dimensionValidator(maxDimension)

	if cfg, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
		if err := checkDimensions(validator, cfg.Width, cfg.Height); err != nil {
			return nil, err
		}
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err == nil {
		raw, convErr := pipeline.FromImage(img)
		if convErr != nil {
			return nil, convErr
		}
		return newDecoded(raw, format), nil
	}
	logger.WithFields(logrus.Fields{
		"size_bytes": len(data),
		"error":      err.Error(),
	}).Debug("Go decoders rejected image, trying OpenCV")

	raw, cvErr := gocv.IMDecode(data, gocv.IMReadUnchanged)
	if cvErr != nil || raw.Empty() {
		raw.Close()
		cause := cvErr
		if cause == nil {
			cause = err
		}
		return nil, apperrors.NewDecodeError("unsupported or corrupt image", cause)
	}
	if err := checkDimensions(validator, raw.Cols(), raw.Rows()); err != nil {
		raw.Close()
		return nil, err
	}
	return newDecoded(raw, "opencv"), nil
}

func dimensionValidator(maxDimension int) *validation.ParameterValidator {
	limits := validation.DefaultParameterLimits()
	if maxDimension > 0 {
		limits.MaxImageDimension = maxDimension
	}
	return validation.NewParameterValidatorWithLimits(limits)
}

func checkDimensions(v *validation.ParameterValidator, width, height int) error {
	issues := v.ValidateDimensions(width, height)
	if !validation.HasCriticalIssues(issues) {
		return nil
	}
	return apperrors.NewValidationError("unsupported image size", nil).
		WithDetails(strings.Join(validation.Messages(issues), "; "))
}

// DecodeFile reads and decodes an image file
func DecodeFile(path string, maxDimension int) (*Decoded, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperrors.NewNotFoundError(fmt.Sprintf("image %s not found", path), err)
		}
		return nil, apperrors.NewInternalError(fmt.Sprintf("failed to read %s", path), err)
	}
	d, err := Decode(data, maxDimension)
	if err != nil {
		return nil, err
	}
	if d.Format == "opencv" {
		d.Format = FormatFromExtension(path)
	}
	return d, nil
}

func newDecoded(raw gocv.Mat, format string) *Decoded {
	return &Decoded{Raw: raw, Format: format, Width: raw.Cols(), Height: raw.Rows()}
}

// FormatFromExtension maps a file name to a format name
func FormatFromExtension(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".tiff", ".tif":
		return "tiff"
	case ".jpg", ".jpeg":
		return "jpeg"
	case ".png":
		return "png"
	case ".bmp":
		return "bmp"
	case ".gif":
		return "gif"
	case ".webp":
		return "webp"
	default:
		return "unknown"
	}
}

// IsSupportedExtension reports whether a file looks like an image we decode
func IsSupportedExtension(path string) bool {
	return FormatFromExtension(path) != "unknown"
}
