package pipeline

import (
	"image"
	"image/color"
	"testing"

	"gocv.io/x/gocv"
)

type disk struct {
	x, y, r int
}

var white = color.RGBA{R: 255, G: 255, B: 255, A: 255}

// createDiskImage returns a black BGR image with filled white disks
func createDiskImage(t *testing.T, width, height int, disks ...disk) gocv.Mat {
	t.Helper()
	m := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), height, width, gocv.MatTypeCV8UC3)
	for _, d := range disks {
		gocv.Circle(&m, image.Pt(d.x, d.y), d.r, white, -1)
	}
	t.Cleanup(func() { m.Close() })
	return m
}

// createDiskMask returns a single-channel 0/255 mask with filled disks
func createDiskMask(t *testing.T, width, height int, disks ...disk) gocv.Mat {
	t.Helper()
	m := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), height, width, gocv.MatTypeCV8UC1)
	for _, d := range disks {
		gocv.Circle(&m, image.Pt(d.x, d.y), d.r, white, -1)
	}
	t.Cleanup(func() { m.Close() })
	return m
}

// createUniformImage returns a BGR image filled with one gray level
func createUniformImage(t *testing.T, width, height int, level float64) gocv.Mat {
	t.Helper()
	m := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(level, level, level, 0), height, width, gocv.MatTypeCV8UC3)
	t.Cleanup(func() { m.Close() })
	return m
}

// createRampImage returns a gray image whose level is base+x in every row
func createRampImage(t *testing.T, width, height, base int) gocv.Mat {
	t.Helper()
	m := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), height, width, gocv.MatTypeCV8UC1)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			m.SetUCharAt(y, x, uint8(min(base+x, 255)))
		}
	}
	t.Cleanup(func() { m.Close() })
	return m
}

func mustRun(t *testing.T, p *Pipeline, raw gocv.Mat, roi *Rectangle, params Parameters) *Result {
	t.Helper()
	res, err := p.Run(raw, roi, params)
	if err != nil {
		t.Fatalf("Failed to run pipeline: %v", err)
	}
	t.Cleanup(res.Close)
	return res
}

func countOutlines(t *testing.T, annotated gocv.Mat, c color.RGBA) int {
	t.Helper()
	bgr := gocv.NewScalar(float64(c.B), float64(c.G), float64(c.R), 0)
	mask := gocv.NewMat()
	defer mask.Close()
	gocv.InRangeWithScalar(annotated, bgr, bgr, &mask)
	contours := gocv.FindContours(mask, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()
	return contours.Size()
}
