package pipeline

import (
	"encoding/binary"
	"fmt"
	"image"
	"image/color"
	"runtime"

	apperrors "go-spot-counter/internal/errors"

	"gocv.io/x/gocv"
)

// Normalize turns a raw buffer of any supported depth and channel count into
// an 8-bit 3-channel BGR color buffer and an 8-bit single-channel gray buffer
// of the same size. The raw buffer is not modified; callers own both outputs.
func Normalize(raw gocv.Mat) (colorMat, gray gocv.Mat, err error) {
	if raw.Empty() || raw.Rows() == 0 || raw.Cols() == 0 {
		return gocv.Mat{}, gocv.Mat{}, apperrors.NewDecodeError("image buffer is empty", nil)
	}
	channels := raw.Channels()
	if channels < 1 || channels > 4 {
		return gocv.Mat{}, gocv.Mat{}, apperrors.NewDecodeError(
			fmt.Sprintf("unsupported channel count %d", channels), nil)
	}

	u8, err := toUint8(raw)
	if err != nil {
		return gocv.Mat{}, gocv.Mat{}, err
	}
	defer u8.Close()

	colorMat = gocv.NewMat()
	switch channels {
	case 1:
		gray = u8.Clone()
		gocv.CvtColor(gray, &colorMat, gocv.ColorGrayToBGR)
	case 2:
		// Two-channel buffers are gray plus alpha; keep the first plane.
		planes := gocv.Split(u8)
		gray = planes[0]
		for _, p := range planes[1:] {
			p.Close()
		}
		gocv.CvtColor(gray, &colorMat, gocv.ColorGrayToBGR)
	case 3:
		u8.CopyTo(&colorMat)
		gray = gocv.NewMat()
		gocv.CvtColor(colorMat, &gray, gocv.ColorBGRToGray)
	case 4:
		gocv.CvtColor(u8, &colorMat, gocv.ColorBGRAToBGR)
		gray = gocv.NewMat()
		gocv.CvtColor(colorMat, &gray, gocv.ColorBGRToGray)
	}
	return colorMat, gray, nil
}

func matDepth(m gocv.Mat) gocv.MatType {
	return gocv.MatType(int(m.Type()) & 7)
}

// toUint8 maps samples onto 0..255 without changing the channel count
func toUint8(raw gocv.Mat) (gocv.Mat, error) {
	out := gocv.NewMat()
	switch matDepth(raw) {
	case gocv.MatTypeCV8U:
		raw.CopyTo(&out)
	case gocv.MatTypeCV8S:
		// Saturating conversion clips negatives to 0.
		raw.ConvertTo(&out, gocv.MatTypeCV8U)
	case gocv.MatTypeCV16U, gocv.MatTypeCV16S, gocv.MatTypeCV32S:
		lo, hi := sampleRange(raw)
		rescale(raw, &out, lo, hi)
	case gocv.MatTypeCV32F, gocv.MatTypeCV64F:
		lo, hi := sampleRange(raw)
		if lo >= 0 && hi <= 1 {
			raw.ConvertToWithParams(&out, gocv.MatTypeCV8U, 255, 0)
		} else {
			rescale(raw, &out, lo, hi)
		}
	default:
		out.Close()
		return gocv.Mat{}, apperrors.NewDecodeError(
			fmt.Sprintf("unsupported sample depth %d", int(matDepth(raw))), nil)
	}
	return out, nil
}

// sampleRange returns the smallest and largest sample over all channels
func sampleRange(m gocv.Mat) (lo, hi float64) {
	src := m
	if !m.IsContinuous() {
		src = m.Clone()
		defer src.Close()
	}
	flat := src.Reshape(1, 0)
	defer flat.Close()
	minVal, maxVal, _, _ := gocv.MinMaxLoc(flat)
	return float64(minVal), float64(maxVal)
}

// rescale maps [lo, hi] linearly onto [0, 255]. A constant buffer maps to 0.
func rescale(src gocv.Mat, dst *gocv.Mat, lo, hi float64) {
	if hi <= lo {
		src.ConvertToWithParams(dst, gocv.MatTypeCV8U, 0, 0)
		return
	}
	alpha := 255 / (hi - lo)
	src.ConvertToWithParams(dst, gocv.MatTypeCV8U, float32(alpha), float32(-lo*alpha))
}

// FromImage converts a decoded Go image into a raw buffer. 8-bit gray stays
// single-channel, 16-bit gray keeps its depth, 16-bit color becomes 16-bit BGR
// and everything else becomes 8-bit BGR (alpha dropped).
func FromImage(img image.Image) (gocv.Mat, error) {
	if img == nil {
		return gocv.Mat{}, apperrors.NewDecodeError("no image", nil)
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= 0 || h <= 0 {
		return gocv.Mat{}, apperrors.NewDecodeError("image has no pixels", nil)
	}

	var (
		buf []byte
		mt  gocv.MatType
	)
	switch src := img.(type) {
	case *image.Gray:
		mt = gocv.MatTypeCV8UC1
		buf = make([]byte, 0, w*h)
		for y := b.Min.Y; y < b.Max.Y; y++ {
			off := src.PixOffset(b.Min.X, y)
			buf = append(buf, src.Pix[off:off+w]...)
		}
	case *image.Gray16:
		mt = gocv.MatTypeCV16UC1
		buf = make([]byte, w*h*2)
		i := 0
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				binary.NativeEndian.PutUint16(buf[i:], src.Gray16At(x, y).Y)
				i += 2
			}
		}
	case *image.RGBA64, *image.NRGBA64:
		mt = gocv.MatTypeCV16UC3
		buf = make([]byte, w*h*6)
		i := 0
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				c := color.NRGBA64Model.Convert(src.At(x, y)).(color.NRGBA64)
				binary.NativeEndian.PutUint16(buf[i:], c.B)
				binary.NativeEndian.PutUint16(buf[i+2:], c.G)
				binary.NativeEndian.PutUint16(buf[i+4:], c.R)
				i += 6
			}
		}
	default:
		mt = gocv.MatTypeCV8UC3
		buf = make([]byte, 0, w*h*3)
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
				buf = append(buf, c.B, c.G, c.R)
			}
		}
	}

	// NewMatFromBytes borrows buf; clone so the result owns its samples.
	view, err := gocv.NewMatFromBytes(h, w, mt, buf)
	if err != nil {
		return gocv.Mat{}, apperrors.NewDecodeError("failed to build image buffer", err)
	}
	m := view.Clone()
	view.Close()
	runtime.KeepAlive(buf)
	return m, nil
}

// ToImage converts an 8-bit gray or BGR buffer into an RGB(A) Go image
func ToImage(m gocv.Mat) (image.Image, error) {
	if m.Empty() {
		return nil, apperrors.NewEmptyInputError("image export")
	}
	img, err := m.ToImage()
	if err != nil {
		return nil, apperrors.NewProcessingError("failed to export image", err)
	}
	return img, nil
}
