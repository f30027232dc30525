package pipeline

import (
	"bytes"
	"image"
	"testing"

	apperrors "go-spot-counter/internal/errors"

	"gocv.io/x/gocv"
)

func scenarioParams() Parameters {
	return DefaultParameters().WithThreshold(128).WithAreaRange(1, 1000)
}

func TestRun_Scenarios(t *testing.T) {
	tests := []struct {
		name     string
		width    int
		height   int
		disks    []disk
		level    float64
		params   Parameters
		expected int
	}{
		{
			name:     "single disk",
			width:    100,
			height:   100,
			disks:    []disk{{50, 50, 10}},
			params:   scenarioParams(),
			expected: 1,
		},
		{
			name:     "disk below min area",
			width:    100,
			height:   100,
			disks:    []disk{{50, 50, 10}},
			params:   scenarioParams().WithAreaRange(1000, 1000),
			expected: 0,
		},
		{
			name:     "two separate disks",
			width:    100,
			height:   100,
			disks:    []disk{{20, 20, 5}, {80, 80, 5}},
			params:   scenarioParams(),
			expected: 2,
		},
		{
			name:     "all black",
			width:    50,
			height:   50,
			params:   scenarioParams(),
			expected: 0,
		},
		{
			name:     "all white",
			width:    50,
			height:   50,
			level:    255,
			params:   scenarioParams().WithThreshold(10).WithAreaRange(1, 3000),
			expected: 1,
		},
	}

	p := New()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var raw gocv.Mat
			if tt.level > 0 {
				raw = createUniformImage(t, tt.width, tt.height, tt.level)
			} else {
				raw = createDiskImage(t, tt.width, tt.height, tt.disks...)
			}

			res := mustRun(t, p, raw, nil, tt.params)
			if res.SpotCount != tt.expected {
				t.Errorf("Expected spot count %d, got %d", tt.expected, res.SpotCount)
			}
			if len(res.Spots) != res.SpotCount {
				t.Errorf("Expected %d spots, got %d", res.SpotCount, len(res.Spots))
			}
			if res.Annotated.Empty() {
				t.Error("Expected annotated buffer")
			}
		})
	}
}

func TestRun_AllBlackMaskIsZero(t *testing.T) {
	raw := createDiskImage(t, 50, 50)
	for _, threshold := range []int{0, 58, 255} {
		res := mustRun(t, New(), raw, nil, DefaultParameters().WithThreshold(threshold))
		if n := gocv.CountNonZero(res.Binary); n != 0 {
			t.Errorf("Expected empty mask at threshold %d, got %d white pixels", threshold, n)
		}
	}
}

func TestRun_AllWhiteIsOneRegion(t *testing.T) {
	raw := createUniformImage(t, 50, 50, 255)
	res := mustRun(t, New(), raw, nil, DefaultParameters().WithThreshold(10).WithAreaRange(1, 3000))
	if len(res.Regions) != 1 {
		t.Fatalf("Expected 1 region, got %d", len(res.Regions))
	}
	if area := res.Regions[0].Area; area < 2300 || area > 2500 {
		t.Errorf("Expected area near 2500, got %f", area)
	}
}

func TestRun_TwoOutlinesDrawn(t *testing.T) {
	raw := createDiskImage(t, 100, 100, disk{20, 20, 5}, disk{80, 80, 5})
	params := scenarioParams()
	res := mustRun(t, New(), raw, nil, params)

	if n := countOutlines(t, res.Annotated, params.MarkerColor); n != 2 {
		t.Errorf("Expected 2 drawn outlines, got %d", n)
	}
	if n := countOutlines(t, res.Color, params.MarkerColor); n != 0 {
		t.Errorf("Expected color buffer to stay unmarked, found %d outlines", n)
	}
}

func TestRun_Idempotent(t *testing.T) {
	raw := createDiskImage(t, 120, 90, disk{30, 30, 8}, disk{90, 60, 12}, disk{60, 20, 3})
	params := DefaultParameters()
	p := New()

	first := mustRun(t, p, raw, nil, params)
	second := mustRun(t, p, raw, nil, params)

	if first.SpotCount != second.SpotCount {
		t.Errorf("Expected identical counts, got %d and %d", first.SpotCount, second.SpotCount)
	}
	if !bytes.Equal(first.Annotated.ToBytes(), second.Annotated.ToBytes()) {
		t.Error("Expected identical annotated pixels")
	}
}

func TestRun_ThresholdMonotone(t *testing.T) {
	raw := createRampImage(t, 256, 20, 0)
	p := New()
	previous := -1
	for threshold := 0; threshold <= 255; threshold += 15 {
		res := mustRun(t, p, raw, nil, DefaultParameters().WithThreshold(threshold))
		white := gocv.CountNonZero(res.Binary)
		if previous >= 0 && white > previous {
			t.Errorf("Threshold %d produced %d white pixels, more than %d before", threshold, white, previous)
		}
		previous = white
	}
}

func TestRun_MaxBelowMinCountsNothing(t *testing.T) {
	raw := createDiskImage(t, 100, 100, disk{20, 20, 5}, disk{50, 50, 10}, disk{80, 80, 7})
	params := DefaultParameters().WithAreaRange(500, 10)
	if err := params.Validate(); err != nil {
		t.Fatalf("Expected max < min to be allowed, got %v", err)
	}

	res := mustRun(t, New(), raw, nil, params)
	if res.SpotCount != 0 {
		t.Errorf("Expected 0 spots, got %d", res.SpotCount)
	}
	if len(res.Regions) != 3 {
		t.Errorf("Expected 3 extracted regions, got %d", len(res.Regions))
	}
}

func TestRun_ROIContainment(t *testing.T) {
	raw := createDiskImage(t, 100, 100, disk{20, 20, 6}, disk{45, 30, 8}, disk{80, 80, 6})
	roi := &Rectangle{X: 10, Y: 10, Width: 50, Height: 40}

	res := mustRun(t, New(), raw, roi, DefaultParameters())
	if res.Gray.Cols() != 50 || res.Gray.Rows() != 40 {
		t.Fatalf("Expected 50x40 crop, got %dx%d", res.Gray.Cols(), res.Gray.Rows())
	}
	if res.ROI != image.Rect(10, 10, 60, 50) {
		t.Errorf("Expected ROI (10,10)-(60,50), got %v", res.ROI)
	}

	frame := image.Rect(0, 0, 50, 40)
	for i, r := range res.Regions {
		if !r.Bounds.In(frame) {
			t.Errorf("Region %d bounds %v outside crop frame %v", i, r.Bounds, frame)
		}
	}
	if res.SpotCount != 2 {
		t.Errorf("Expected 2 spots inside the ROI, got %d", res.SpotCount)
	}
}

func TestRun_DegenerateROIFallsBack(t *testing.T) {
	raw := createDiskImage(t, 100, 100, disk{50, 50, 10})
	roi := &Rectangle{X: 200, Y: 200, Width: 10, Height: 10}

	res, err := New().Run(raw, roi, scenarioParams())
	if err != nil {
		t.Fatalf("Expected degenerate ROI to be non-fatal, got %v", err)
	}
	defer res.Close()

	if len(res.Warnings) != 1 {
		t.Fatalf("Expected 1 warning, got %d", len(res.Warnings))
	}
	if !apperrors.IsType(res.Warnings[0], apperrors.ErrorTypeDegenerateROI) {
		t.Errorf("Expected degenerate ROI warning, got %v", res.Warnings[0])
	}
	if res.ROI != image.Rect(0, 0, 100, 100) {
		t.Errorf("Expected full image ROI, got %v", res.ROI)
	}
	if res.SpotCount != 1 {
		t.Errorf("Expected 1 spot on the full image, got %d", res.SpotCount)
	}
}

func TestRun_DecodeErrorHasNoResult(t *testing.T) {
	tests := []struct {
		name string
		raw  func() gocv.Mat
	}{
		{"empty buffer", gocv.NewMat},
		{"five channels", func() gocv.Mat {
			return gocv.NewMatWithSize(10, 10, gocv.MatType(int(gocv.MatTypeCV8U)+4<<3))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := tt.raw()
			defer raw.Close()

			res, err := New().Run(raw, nil, DefaultParameters())
			if err == nil {
				res.Close()
				t.Fatal("Expected decode error")
			}
			if !apperrors.IsType(err, apperrors.ErrorTypeDecode) {
				t.Errorf("Expected decode error, got %v", err)
			}
			if res != nil {
				t.Error("Expected no result on decode error")
			}
		})
	}
}

func TestRun_InvalidParameters(t *testing.T) {
	raw := createDiskImage(t, 20, 20)
	res, err := New().Run(raw, nil, DefaultParameters().WithMorphology(KernelEllipse, 4))
	if err == nil {
		res.Close()
		t.Fatal("Expected validation error for even kernel size")
	}
	if !apperrors.IsType(err, apperrors.ErrorTypeValidation) {
		t.Errorf("Expected validation error, got %v", err)
	}
}

type emptyBinarizer struct{}

func (emptyBinarizer) Name() string { return "empty" }

func (emptyBinarizer) Binarize(gocv.Mat, Parameters) (gocv.Mat, error) {
	return gocv.Mat{}, apperrors.NewEmptyInputError("binarization")
}

func TestRun_StageFailureKeepsEarlierBuffers(t *testing.T) {
	raw := createDiskImage(t, 40, 40, disk{20, 20, 5})

	res, err := New(WithBinarizer(emptyBinarizer{})).Run(raw, nil, DefaultParameters())
	if err == nil {
		t.Fatal("Expected empty input error")
	}
	if !apperrors.IsType(err, apperrors.ErrorTypeEmptyInput) {
		t.Errorf("Expected empty input error, got %v", err)
	}
	if res == nil {
		t.Fatal("Expected partial result")
	}
	defer res.Close()

	if res.Gray.Empty() || res.Color.Empty() {
		t.Error("Expected normalized buffers to survive")
	}
	if !res.Binary.Empty() || !res.Opened.Empty() || !res.Annotated.Empty() {
		t.Error("Expected later buffers to be absent")
	}
	if res.SpotCount != 0 {
		t.Errorf("Expected 0 spots, got %d", res.SpotCount)
	}
}

func TestResult_Image(t *testing.T) {
	raw := createDiskImage(t, 30, 20, disk{15, 10, 4})
	res := mustRun(t, New(), raw, nil, DefaultParameters())

	for _, stage := range Stages {
		img, err := res.Image(stage)
		if err != nil {
			t.Fatalf("Failed to export %s: %v", stage, err)
		}
		if img.Bounds().Dx() != 30 || img.Bounds().Dy() != 20 {
			t.Errorf("Expected 30x20 %s image, got %v", stage, img.Bounds())
		}
	}
	if _, err := res.Image("bogus"); !apperrors.IsType(err, apperrors.ErrorTypeNotFound) {
		t.Errorf("Expected not found error, got %v", err)
	}
}

func TestRunImage(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 60, 60))
	for y := 20; y < 30; y++ {
		for x := 20; x < 30; x++ {
			img.Pix[y*img.Stride+x] = 200
		}
	}

	res, err := New().RunImage(img, nil, DefaultParameters())
	if err != nil {
		t.Fatalf("Failed to run on Go image: %v", err)
	}
	defer res.Close()
	if res.SpotCount != 1 {
		t.Errorf("Expected 1 spot, got %d", res.SpotCount)
	}
	if res.Stats.Count != 1 || res.Stats.Total != res.Spots[0].Area {
		t.Errorf("Expected stats for one spot, got %+v", res.Stats)
	}
}
