package imageio

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"strings"

	apperrors "go-spot-counter/internal/errors"

	"github.com/disintegration/imaging"
	"golang.org/x/image/tiff"
)

// Format is an output encoding
type Format string

const (
	FormatPNG  Format = "png"
	FormatJPEG Format = "jpeg"
	FormatTIFF Format = "tiff"
)

// ParseFormat accepts png, jpg/jpeg and tif/tiff
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), ".")) {
	case "png", "":
		return FormatPNG, nil
	case "jpg", "jpeg":
		return FormatJPEG, nil
	case "tif", "tiff":
		return FormatTIFF, nil
	default:
		return "", apperrors.NewValidationError(fmt.Sprintf("unsupported output format %q", s), nil)
	}
}

// Extension returns the file extension for the format, with the dot
func (f Format) Extension() string {
	switch f {
	case FormatJPEG:
		return ".jpg"
	case FormatTIFF:
		return ".tiff"
	default:
		return ".png"
	}
}

// ContentType returns the MIME type for the format
func (f Format) ContentType() string {
	return "image/" + string(f)
}

// Encode writes img in the given format
func Encode(img image.Image, format Format) ([]byte, error) {
	if img == nil {
		return nil, apperrors.NewEmptyInputError("image encoder")
	}
	var buf bytes.Buffer
	var err error
	switch format {
	case FormatTIFF:
		err = tiff.Encode(&buf, img, &tiff.Options{Compression: tiff.Deflate, Predictor: true})
	case FormatJPEG:
		err = imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(95))
	default:
		err = imaging.Encode(&buf, img, imaging.PNG)
	}
	if err != nil {
		return nil, apperrors.NewProcessingError(fmt.Sprintf("failed to encode %s", format), err)
	}
	return buf.Bytes(), nil
}

// Preview shrinks img to fit in maxSize x maxSize, keeping its aspect ratio.
// Smaller images and maxSize <= 0 return img itself.
func Preview(img image.Image, maxSize int) image.Image {
	b := img.Bounds()
	if maxSize <= 0 || (b.Dx() <= maxSize && b.Dy() <= maxSize) {
		return img
	}
	// Box filter: Lanczos rings around one-pixel outlines.
	return imaging.Fit(img, maxSize, maxSize, imaging.Box)
}

// PreviewDataURI renders a PNG preview as a data URI
func PreviewDataURI(img image.Image, maxSize int) (string, error) {
	data, err := Encode(Preview(img, maxSize), FormatPNG)
	if err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(data), nil
}
