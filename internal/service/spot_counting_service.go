package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"strings"
	"time"

	"go-spot-counter/internal/config"
	apperrors "go-spot-counter/internal/errors"
	"go-spot-counter/internal/factory"
	"go-spot-counter/internal/imageio"
	"go-spot-counter/internal/logger"
	"go-spot-counter/internal/observer"
	"go-spot-counter/internal/pipeline"
	"go-spot-counter/internal/repository"
	"go-spot-counter/internal/storage"
	"go-spot-counter/pkg/models"
	"go-spot-counter/pkg/validation"

	"github.com/sirupsen/logrus"
)

// SpotCountingService runs uploads through the counting pipeline and keeps
// a history of the outcomes
type SpotCountingService interface {
	Count(ctx context.Context, data []byte, req models.CountRequest) (*models.CountResult, error)
	Defaults() models.DefaultsResponse
	GetRun(ctx context.Context, id string) (*models.CountResult, error)
	ListRuns(ctx context.Context, limit int) ([]*models.CountResult, error)
	PoolStats() pipeline.PoolStats
}

type spotCountingService struct {
	cfg        *config.Config
	strategies factory.StrategyFactory
	archive    storage.ResultArchive
	runs       repository.RunRepository
	events     observer.Subject
	pool       *pipeline.WorkerPool
	log        *logrus.Entry
}

// NewSpotCountingService creates the service. The pool is started here and
// owned by the caller.
func NewSpotCountingService(
	cfg *config.Config,
	strategies factory.StrategyFactory,
	archive storage.ResultArchive,
	runs repository.RunRepository,
	events observer.Subject,
	pool *pipeline.WorkerPool,
) SpotCountingService {
	pool.Start()
	return &spotCountingService{
		cfg:        cfg,
		strategies: strategies,
		archive:    archive,
		runs:       runs,
		events:     events,
		pool:       pool,
		log:        logger.Component("service"),
	}
}

// Count decodes data, applies the request over the configured defaults and
// runs the pipeline under the analysis timeout
func (s *spotCountingService) Count(ctx context.Context, data []byte, req models.CountRequest) (*models.CountResult, error) {
	start := time.Now()
	runID := newRunID(start)
	s.events.NotifyObservers(ctx, observer.RunEvent{EventType: observer.RunStarted, RunID: runID})

	result, err := s.count(ctx, runID, start, data, req)
	if err != nil {
		s.events.NotifyObservers(ctx, observer.RunEvent{
			EventType:      observer.RunFailed,
			RunID:          runID,
			ProcessingTime: time.Since(start),
			ErrorType:      errorType(err),
			ErrorMessage:   err.Error(),
		})
		return nil, err
	}

	if err := s.runs.Save(ctx, result); err != nil {
		s.log.WithError(err).WithField("run_id", runID).Warn("failed to record run")
	}
	s.events.NotifyObservers(ctx, observer.RunEvent{
		EventType:      observer.RunCompleted,
		RunID:          runID,
		ProcessingTime: time.Since(start),
		SpotCount:      result.SpotCount,
		Success:        true,
		Metadata: map[string]interface{}{
			"binarizer": result.Binarizer,
			"extractor": result.Extractor,
		},
	})
	return result, nil
}

func (s *spotCountingService) count(ctx context.Context, runID string, start time.Time, data []byte, req models.CountRequest) (*models.CountResult, error) {
	params, err := s.resolveParameters(req)
	if err != nil {
		return nil, err
	}
	binarizer, err := s.strategies.CreateBinarizer(factory.BinarizerType(req.Binarizer))
	if err != nil {
		return nil, err
	}
	extractor, err := s.strategies.CreateExtractor(factory.ExtractorType(req.Extractor))
	if err != nil {
		return nil, err
	}

	decoded, err := imageio.Decode(data, s.cfg.MaxImageDimension)
	if err != nil {
		return nil, err
	}
	s.events.NotifyObservers(ctx, observer.RunEvent{
		EventType: observer.ImageDecoded,
		RunID:     runID,
		Source:    decoded.Format,
		Metadata:  map[string]interface{}{"width": decoded.Width, "height": decoded.Height},
	})

	roi, roiWarnings, err := resolveROI(req, decoded.Width, decoded.Height)
	if err != nil {
		decoded.Close()
		return nil, err
	}

	p := pipeline.New(
		pipeline.WithBinarizer(binarizer),
		pipeline.WithExtractor(extractor),
		pipeline.WithLogger(s.log.WithField("run_id", runID)),
	)

	runCtx, cancel := context.WithTimeout(ctx, s.cfg.AnalysisTimeout)
	defer cancel()
	res, err := s.runOnPool(runCtx, p, decoded, roi, params)
	if err != nil {
		if res != nil {
			res.Close()
		}
		return nil, err
	}
	defer res.Close()

	result := &models.CountResult{
		RunID:       runID,
		Timestamp:   start.UTC(),
		SpotCount:   res.SpotCount,
		RegionCount: len(res.Regions),
		ImageWidth:  decoded.Width,
		ImageHeight: decoded.Height,
		Format:      decoded.Format,
		ROI:         toRect(res.ROI),
		Parameters:  toModelParameters(params),
		Binarizer:   res.Binarizer,
		Extractor:   res.Extractor,
		Stats:       toModelStats(res.Stats),
		Quality:     models.ImageQuality(res.Quality),
		Spots:       toSpots(res.Spots),
	}
	result.Warnings = append(result.Warnings, roiWarnings...)
	result.Warnings = append(result.Warnings,
		validation.Messages(validation.FilterBySeverity(params.Issues(), validation.SeverityWarning))...)
	for _, w := range res.Warnings {
		result.Warnings = append(result.Warnings, warningMessage(w))
		if apperrors.IsType(w, apperrors.ErrorTypeDegenerateROI) {
			s.events.NotifyObservers(ctx, observer.RunEvent{EventType: observer.DegenerateROI, RunID: runID})
		}
	}

	if req.Previews {
		previews, err := s.previews(res)
		if err != nil {
			return nil, err
		}
		result.Previews = previews
	}

	result.ProcessingTimeSec = time.Since(start).Seconds()
	if req.Archive {
		s.archiveRun(ctx, result, res)
	}
	return result, nil
}

// runOnPool hands the run to a pool worker. The worker owns decoded and
// closes it, so a timed-out run can finish without touching freed memory.
func (s *spotCountingService) runOnPool(ctx context.Context, p *pipeline.Pipeline, decoded *imageio.Decoded, roi *pipeline.Rectangle, params pipeline.Parameters) (*pipeline.Result, error) {
	type outcome struct {
		res *pipeline.Result
		err error
	}
	done := make(chan outcome, 1)

	ok := s.pool.SubmitContext(ctx, func() {
		defer decoded.Close()
		if err := ctx.Err(); err != nil {
			done <- outcome{err: apperrors.NewTimeoutError("analysis timed out before it started", err)}
			return
		}
		res, err := p.Run(decoded.Raw, roi, params)
		done <- outcome{res: res, err: err}
	})
	if !ok {
		decoded.Close()
		if err := ctx.Err(); err != nil {
			return nil, apperrors.NewTimeoutError(
				fmt.Sprintf("no worker became free within %s", s.cfg.AnalysisTimeout), err)
		}
		return nil, apperrors.NewInternalError("worker pool is closed", nil)
	}

	select {
	case o := <-done:
		return o.res, o.err
	case <-ctx.Done():
		go func() {
			if o := <-done; o.res != nil {
				o.res.Close()
			}
		}()
		return nil, apperrors.NewTimeoutError(
			fmt.Sprintf("analysis exceeded %s", s.cfg.AnalysisTimeout), ctx.Err())
	}
}

func (s *spotCountingService) resolveParameters(req models.CountRequest) (pipeline.Parameters, error) {
	p := s.cfg.Defaults
	if req.Threshold != nil {
		p.Threshold = *req.Threshold
	}
	if req.BlurKernelSize != nil {
		p.BlurKernelSize = *req.BlurKernelSize
	}
	if req.KernelShape != "" {
		shape, err := pipeline.ParseKernelShape(req.KernelShape)
		if err != nil {
			return p, apperrors.NewValidationError("invalid kernel_shape", err)
		}
		p.KernelShape = shape
	}
	if req.KernelSize != nil {
		p.KernelSize = *req.KernelSize
	}
	if req.MinArea != nil {
		p.MinArea = *req.MinArea
	}
	if req.MaxArea != nil {
		p.MaxArea = *req.MaxArea
	}
	if req.MarkerColor != "" {
		c, err := pipeline.ParseHexColor(req.MarkerColor)
		if err != nil {
			return p, apperrors.NewValidationError("invalid marker_color", err)
		}
		p.MarkerColor = c
	}
	if req.LineWidth != nil {
		p.LineWidth = *req.LineWidth
	}
	if err := p.Validate(); err != nil {
		return p, err
	}
	return p, nil
}

// resolveROI turns the request rectangle into full-resolution coordinates.
// No rectangle fields means the whole image.
func resolveROI(req models.CountRequest, width, height int) (*pipeline.Rectangle, []string, error) {
	if !req.HasAnyROIField() {
		return nil, nil, nil
	}
	if !req.HasROI() {
		return nil, nil, apperrors.NewValidationError("incomplete region of interest", nil).
			WithDetails("roi_x, roi_y, roi_width and roi_height must be sent together")
	}

	issues := validation.ValidateRectangle(*req.ROIX, *req.ROIY, *req.ROIWidth, *req.ROIHeight)
	if validation.HasCriticalIssues(issues) {
		return nil, nil, apperrors.NewValidationError("invalid region of interest", nil).
			WithDetails(strings.Join(validation.Messages(validation.FilterBySeverity(issues, validation.SeverityError)), "; "))
	}
	warnings := validation.Messages(validation.FilterBySeverity(issues, validation.SeverityWarning))

	r := image.Rect(*req.ROIX, *req.ROIY, *req.ROIX+*req.ROIWidth, *req.ROIY+*req.ROIHeight)
	if req.PreviewWidth != nil || req.PreviewHeight != nil {
		if req.PreviewWidth == nil || req.PreviewHeight == nil {
			return nil, nil, apperrors.NewValidationError("preview_width and preview_height must be sent together", nil)
		}
		scaled, err := validation.ScaleRectangle(r,
			image.Pt(*req.PreviewWidth, *req.PreviewHeight), image.Pt(width, height))
		if err != nil {
			return nil, nil, apperrors.NewValidationError("failed to scale region of interest", err)
		}
		r = scaled
	}

	roi := pipeline.RectangleFrom(r)
	return &roi, warnings, nil
}

func (s *spotCountingService) previews(res *pipeline.Result) (map[string]string, error) {
	out := make(map[string]string, len(pipeline.Stages))
	for _, stage := range pipeline.Stages {
		img, err := res.Image(stage)
		if err != nil {
			return nil, err
		}
		uri, err := imageio.PreviewDataURI(img, s.cfg.PreviewMaxSize)
		if err != nil {
			return nil, err
		}
		out[string(stage)] = uri
	}
	return out, nil
}

// archiveRun stores every stage as PNG plus a JSON summary. Failures are
// reported as warnings; the count itself stands.
func (s *spotCountingService) archiveRun(ctx context.Context, result *models.CountResult, res *pipeline.Result) {
	if s.archive.Backend() == config.ArchiveNone {
		result.Warnings = append(result.Warnings, "archiving requested but no archive backend is configured")
		return
	}

	artifacts, err := buildArtifacts(result, res)
	if err == nil {
		result.ArchiveLocation, err = s.archive.Store(ctx, result.RunID, artifacts)
	}
	if err != nil {
		result.ArchiveLocation = ""
		result.Warnings = append(result.Warnings, "archiving failed: "+err.Error())
		s.events.NotifyObservers(ctx, observer.RunEvent{
			EventType:    observer.ArchiveFailed,
			RunID:        result.RunID,
			ErrorType:    errorType(err),
			ErrorMessage: err.Error(),
		})
		return
	}
	s.events.NotifyObservers(ctx, observer.RunEvent{
		EventType: observer.ResultArchived,
		RunID:     result.RunID,
		Source:    s.archive.Backend(),
		Metadata:  map[string]interface{}{"location": result.ArchiveLocation},
	})
}

func buildArtifacts(result *models.CountResult, res *pipeline.Result) ([]storage.Artifact, error) {
	artifacts := make([]storage.Artifact, 0, len(pipeline.Stages)+1)
	for _, stage := range pipeline.Stages {
		img, err := res.Image(stage)
		if err != nil {
			return nil, err
		}
		data, err := imageio.Encode(img, imageio.FormatPNG)
		if err != nil {
			return nil, err
		}
		artifacts = append(artifacts, storage.Artifact{
			Name:        string(stage) + imageio.FormatPNG.Extension(),
			ContentType: imageio.FormatPNG.ContentType(),
			Data:        data,
		})
	}

	summary := *result
	summary.Previews = nil
	data, err := json.MarshalIndent(&summary, "", "  ")
	if err != nil {
		return nil, apperrors.NewInternalError("failed to encode run summary", err)
	}
	return append(artifacts, storage.Artifact{
		Name:        "summary.json",
		ContentType: "application/json",
		Data:        data,
	}), nil
}

func (s *spotCountingService) Defaults() models.DefaultsResponse {
	return models.DefaultsResponse{
		Parameters:   toModelParameters(s.cfg.Defaults),
		Binarizers:   s.strategies.Binarizers(),
		Extractors:   s.strategies.Extractors(),
		KernelShapes: []string{string(pipeline.KernelEllipse), string(pipeline.KernelRect), string(pipeline.KernelCross)},
		PreviewSize:  s.cfg.PreviewMaxSize,
	}
}

func (s *spotCountingService) GetRun(ctx context.Context, id string) (*models.CountResult, error) {
	run, err := s.runs.Get(ctx, id)
	if errors.Is(err, repository.ErrRunNotFound) {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("run %s not found", id), err)
	}
	return run, err
}

func (s *spotCountingService) ListRuns(ctx context.Context, limit int) ([]*models.CountResult, error) {
	return s.runs.List(ctx, limit)
}

func (s *spotCountingService) PoolStats() pipeline.PoolStats {
	return s.pool.GetStats()
}

// newRunID combines the start time with random bytes so IDs sort by time
func newRunID(now time.Time) string {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return now.UTC().Format("20060102T150405.000000000")
	}
	return now.UTC().Format("20060102T150405") + "-" + hex.EncodeToString(b[:])
}

func errorType(err error) string {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return string(appErr.Type)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return string(apperrors.ErrorTypeTimeout)
	}
	return string(apperrors.ErrorTypeInternal)
}

func warningMessage(err error) string {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return err.Error()
}
