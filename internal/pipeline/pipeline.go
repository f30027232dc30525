package pipeline

import (
	"fmt"
	"image"
	"time"

	apperrors "go-spot-counter/internal/errors"
	"go-spot-counter/internal/logger"

	"github.com/sirupsen/logrus"
	"gocv.io/x/gocv"
)

// Stage names an intermediate buffer kept on a Result
type Stage string

const (
	StageColor     Stage = "color"
	StageGray      Stage = "gray"
	StageBinary    Stage = "binary"
	StageOpened    Stage = "opened"
	StageAnnotated Stage = "annotated"
)

// Stages lists the buffers a Result exposes, in pipeline order
var Stages = []Stage{StageColor, StageGray, StageBinary, StageOpened, StageAnnotated}

// Result holds every buffer a run produced plus the count. Buffers from
// stages that did not run are empty. Call Close when done.
type Result struct {
	Color     gocv.Mat
	Gray      gocv.Mat
	Binary    gocv.Mat
	Opened    gocv.Mat
	Annotated gocv.Mat

	// ROI is the crop in full-image coordinates
	ROI image.Rectangle

	Regions   []Region
	Spots     []Region
	SpotCount int
	Stats     AreaStats
	Quality   QualityMetrics

	// Warnings are non-fatal conditions such as a degenerate ROI
	Warnings []error

	Binarizer string
	Extractor string
	Elapsed   time.Duration
}

func newResult() *Result {
	return &Result{
		Color:     gocv.NewMat(),
		Gray:      gocv.NewMat(),
		Binary:    gocv.NewMat(),
		Opened:    gocv.NewMat(),
		Annotated: gocv.NewMat(),
	}
}

func replace(dst *gocv.Mat, m gocv.Mat) {
	dst.Close()
	*dst = m
}

// Buffer returns the buffer for a stage
func (r *Result) Buffer(stage Stage) (gocv.Mat, bool) {
	switch stage {
	case StageColor:
		return r.Color, true
	case StageGray:
		return r.Gray, true
	case StageBinary:
		return r.Binary, true
	case StageOpened:
		return r.Opened, true
	case StageAnnotated:
		return r.Annotated, true
	}
	return gocv.Mat{}, false
}

// Image exports a stage buffer as an RGB(A) or gray Go image
func (r *Result) Image(stage Stage) (image.Image, error) {
	m, ok := r.Buffer(stage)
	if !ok {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("unknown stage %q", stage), nil)
	}
	return ToImage(m)
}

// Close releases every native buffer. Safe to call more than once.
func (r *Result) Close() {
	if r == nil {
		return
	}
	for _, m := range []*gocv.Mat{&r.Color, &r.Gray, &r.Binary, &r.Opened, &r.Annotated} {
		m.Close()
	}
}

// Pipeline runs the stages in order. It holds only its strategies, so one
// Pipeline may serve concurrent runs.
type Pipeline struct {
	binarizer Binarizer
	extractor Extractor
	log       *logrus.Entry
}

// Option customizes a Pipeline
type Option func(*Pipeline)

// WithBinarizer swaps the binarization strategy
func WithBinarizer(b Binarizer) Option {
	return func(p *Pipeline) {
		if b != nil {
			p.binarizer = b
		}
	}
}

// WithExtractor swaps the component extraction strategy
func WithExtractor(e Extractor) Option {
	return func(p *Pipeline) {
		if e != nil {
			p.extractor = e
		}
	}
}

// WithLogger sets the log entry used for stage logging
func WithLogger(entry *logrus.Entry) Option {
	return func(p *Pipeline) {
		if entry != nil {
			p.log = entry
		}
	}
}

// New creates a pipeline using fixed thresholding and contour extraction
// unless options say otherwise.
func New(opts ...Option) *Pipeline {
	p := &Pipeline{
		binarizer: FixedThreshold{},
		extractor: ContourExtractor{},
		log:       logger.Component("pipeline"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Binarizer returns the configured binarization strategy
func (p *Pipeline) Binarizer() Binarizer { return p.binarizer }

// Extractor returns the configured extraction strategy
func (p *Pipeline) Extractor() Extractor { return p.extractor }

// Run executes every stage on raw. roi may be nil. On a decode or parameter
// error the result is nil. On a later stage error the result holds the
// buffers produced before the failure and the error is returned with it.
func (p *Pipeline) Run(raw gocv.Mat, roi *Rectangle, params Parameters) (*Result, error) {
	start := time.Now()
	if err := params.Validate(); err != nil {
		return nil, err
	}

	fullColor, fullGray, err := Normalize(raw)
	if err != nil {
		p.log.WithError(err).Debug("normalization failed")
		return nil, err
	}
	defer fullColor.Close()
	defer fullGray.Close()
	p.log.WithFields(logrus.Fields{
		"width":    fullGray.Cols(),
		"height":   fullGray.Rows(),
		"channels": raw.Channels(),
	}).Debug("image normalized")

	res := newResult()
	res.Binarizer = p.binarizer.Name()
	res.Extractor = p.extractor.Name()
	defer func() { res.Elapsed = time.Since(start) }()

	sel := SelectRegion(fullColor, fullGray, roi)
	replace(&res.Color, sel.Color)
	replace(&res.Gray, sel.Gray)
	res.ROI = sel.Rect
	if sel.Degenerate {
		warning := apperrors.NewDegenerateROIWarning(
			fmt.Sprintf("region %s has no area inside the %dx%d image, using the full image",
				roi, fullGray.Cols(), fullGray.Rows()))
		res.Warnings = append(res.Warnings, warning)
		p.log.WithField("roi", roi.String()).Warn(warning.Message)
	}

	binary, err := p.binarizer.Binarize(res.Gray, params)
	if err != nil {
		return res, p.stageFailed("binarization", err)
	}
	replace(&res.Binary, binary)
	p.log.WithFields(logrus.Fields{
		"binarizer": res.Binarizer,
		"white":     gocv.CountNonZero(res.Binary),
	}).Debug("binarized")

	opened, err := Open(res.Binary, params.KernelShape, params.KernelSize)
	if err != nil {
		return res, p.stageFailed("morphology", err)
	}
	replace(&res.Opened, opened)
	res.Quality = MeasureQuality(res.Gray, res.Opened)

	regions, err := p.extractor.Extract(res.Opened)
	if err != nil {
		return res, p.stageFailed("extraction", err)
	}
	res.Regions = regions
	res.Spots = FilterByArea(regions, params.MinArea, params.MaxArea)
	res.SpotCount = len(res.Spots)
	p.log.WithFields(logrus.Fields{
		"extractor": res.Extractor,
		"regions":   len(res.Regions),
		"spots":     res.SpotCount,
	}).Debug("regions filtered")

	annotated, err := Annotate(res.Color, res.Spots, params.MarkerColor, params.LineWidth)
	if err != nil {
		return res, p.stageFailed("annotation", err)
	}
	replace(&res.Annotated, annotated)
	res.Stats = SummarizeAreas(res.Spots)
	return res, nil
}

// RunImage converts a decoded Go image and runs the pipeline on it
func (p *Pipeline) RunImage(img image.Image, roi *Rectangle, params Parameters) (*Result, error) {
	raw, err := FromImage(img)
	if err != nil {
		return nil, err
	}
	defer raw.Close()
	return p.Run(raw, roi, params)
}

func (p *Pipeline) stageFailed(stage string, err error) error {
	p.log.WithError(err).WithField("stage", stage).Debug("stage failed")
	if _, ok := err.(*apperrors.AppError); ok {
		return err
	}
	return apperrors.NewProcessingError(stage+" failed", err)
}
