package service

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"strings"
	"sync"
	"testing"
	"time"

	"go-spot-counter/internal/config"
	apperrors "go-spot-counter/internal/errors"
	"go-spot-counter/internal/factory"
	"go-spot-counter/internal/observer"
	"go-spot-counter/internal/pipeline"
	"go-spot-counter/internal/repository"
	"go-spot-counter/internal/storage"
	"go-spot-counter/pkg/models"
)

type recordingArchive struct {
	mu        sync.Mutex
	backend   string
	fail      error
	runID     string
	artifacts []storage.Artifact
}

func (a *recordingArchive) Store(ctx context.Context, runID string, artifacts []storage.Artifact) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.fail != nil {
		return "", a.fail
	}
	a.runID = runID
	a.artifacts = artifacts
	return "mem://" + runID + "/", nil
}

func (a *recordingArchive) Backend() string { return a.backend }

type fixture struct {
	svc     SpotCountingService
	metrics *observer.MetricsObserver
	events  observer.Subject
	archive *recordingArchive
	pool    *pipeline.WorkerPool
}

func newFixture(t *testing.T, timeout time.Duration) *fixture {
	t.Helper()
	cfg := &config.Config{
		AnalysisTimeout: timeout,
		PreviewMaxSize:  64,
		Defaults:        pipeline.DefaultParameters(),
	}
	archive := &recordingArchive{backend: "memory"}
	metrics := observer.NewMetricsObserver()
	events := observer.NewEventPublisher()
	events.Subscribe(metrics)
	pool := pipeline.NewWorkerPool(2)
	t.Cleanup(pool.Close)

	svc := NewSpotCountingService(cfg, factory.NewStrategyFactory(), archive,
		repository.NewMemoryRunRepository(10), events, pool)
	return &fixture{svc: svc, metrics: metrics, events: events, archive: archive, pool: pool}
}

// spotsPNG encodes a 100x80 black image with white disks of radius 6 at
// (20,20), (50,40) and (80,60)
func spotsPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 100, 80))
	for _, c := range []image.Point{{20, 20}, {50, 40}, {80, 60}} {
		for y := c.Y - 6; y <= c.Y+6; y++ {
			for x := c.X - 6; x <= c.X+6; x++ {
				dx, dy := x-c.X, y-c.Y
				if dx*dx+dy*dy <= 36 {
					img.SetGray(x, y, color.Gray{Y: 255})
				}
			}
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("Failed to encode fixture: %v", err)
	}
	return buf.Bytes()
}

func intPtr(v int) *int { return &v }

func roiRequest(x, y, w, h int) models.CountRequest {
	return models.CountRequest{ROIX: intPtr(x), ROIY: intPtr(y), ROIWidth: intPtr(w), ROIHeight: intPtr(h)}
}

func TestCount_FullImage(t *testing.T) {
	f := newFixture(t, 5*time.Second)
	ctx := context.Background()

	result, err := f.svc.Count(ctx, spotsPNG(t), models.CountRequest{})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if result.SpotCount != 3 {
		t.Errorf("Expected 3 spots, got %d", result.SpotCount)
	}
	if result.ImageWidth != 100 || result.ImageHeight != 80 {
		t.Errorf("Expected 100x80, got %dx%d", result.ImageWidth, result.ImageHeight)
	}
	if result.Format != "png" {
		t.Errorf("Expected png format, got %s", result.Format)
	}
	if result.ROI != (models.Rect{X: 0, Y: 0, Width: 100, Height: 80}) {
		t.Errorf("Expected full image ROI, got %+v", result.ROI)
	}
	if result.Binarizer != "fixed" || result.Extractor != "contour" {
		t.Errorf("Expected fixed/contour, got %s/%s", result.Binarizer, result.Extractor)
	}
	if len(result.Spots) != 3 || result.Stats.Count != 3 {
		t.Errorf("Expected 3 spots and stats count 3, got %d and %d", len(result.Spots), result.Stats.Count)
	}
	if result.Parameters.MarkerColor != "#28a745" {
		t.Errorf("Expected default marker color, got %s", result.Parameters.MarkerColor)
	}
	if result.Previews != nil {
		t.Error("Expected no previews unless requested")
	}

	stored, err := f.svc.GetRun(ctx, result.RunID)
	if err != nil {
		t.Fatalf("Expected run to be recorded: %v", err)
	}
	if stored.SpotCount != 3 {
		t.Errorf("Expected stored spot count 3, got %d", stored.SpotCount)
	}

	f.events.Wait()
	metrics := f.metrics.GetMetrics()
	if metrics["completed_runs"].(int64) != 1 || metrics["spots_counted"].(int64) != 3 {
		t.Errorf("Unexpected metrics: %v", metrics)
	}
}

func TestCount_ROI(t *testing.T) {
	f := newFixture(t, 5*time.Second)

	result, err := f.svc.Count(context.Background(), spotsPNG(t), roiRequest(0, 0, 35, 35))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if result.SpotCount != 1 {
		t.Errorf("Expected 1 spot inside ROI, got %d", result.SpotCount)
	}
	if result.ROI != (models.Rect{Width: 35, Height: 35}) {
		t.Errorf("Unexpected ROI: %+v", result.ROI)
	}
}

func TestCount_ROIScaledFromPreview(t *testing.T) {
	f := newFixture(t, 5*time.Second)
	req := roiRequest(0, 0, 18, 18)
	req.PreviewWidth = intPtr(50)
	req.PreviewHeight = intPtr(40)

	result, err := f.svc.Count(context.Background(), spotsPNG(t), req)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if result.ROI.Width != 36 || result.ROI.Height != 36 {
		t.Errorf("Expected ROI scaled to 36x36, got %+v", result.ROI)
	}
	if result.SpotCount != 1 {
		t.Errorf("Expected 1 spot, got %d", result.SpotCount)
	}
}

func TestCount_NegativeOriginWarns(t *testing.T) {
	f := newFixture(t, 5*time.Second)

	result, err := f.svc.Count(context.Background(), spotsPNG(t), roiRequest(-5, -5, 40, 40))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if result.ROI != (models.Rect{Width: 35, Height: 35}) {
		t.Errorf("Expected ROI clamped to 35x35, got %+v", result.ROI)
	}
	if len(result.Warnings) == 0 || !strings.Contains(result.Warnings[0], "clamped") {
		t.Errorf("Expected clamp warning, got %v", result.Warnings)
	}
}

func TestCount_DegenerateROI(t *testing.T) {
	f := newFixture(t, 5*time.Second)

	result, err := f.svc.Count(context.Background(), spotsPNG(t), roiRequest(500, 500, 10, 10))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if result.SpotCount != 3 {
		t.Errorf("Expected full image count of 3, got %d", result.SpotCount)
	}
	if len(result.Warnings) != 1 {
		t.Errorf("Expected 1 warning, got %v", result.Warnings)
	}

	f.events.Wait()
	if got := f.metrics.GetMetrics()["degenerate_rois"].(int64); got != 1 {
		t.Errorf("Expected 1 degenerate ROI event, got %d", got)
	}
}

func TestCount_Errors(t *testing.T) {
	f := newFixture(t, 5*time.Second)
	data := spotsPNG(t)

	partial := models.CountRequest{ROIX: intPtr(1)}
	badThreshold := models.CountRequest{Threshold: intPtr(300)}
	badColor := models.CountRequest{MarkerColor: "green"}
	badBinarizer := models.CountRequest{Binarizer: "otsu"}
	previewOnlyWidth := roiRequest(0, 0, 10, 10)
	previewOnlyWidth.PreviewWidth = intPtr(50)
	zeroSize := roiRequest(0, 0, 0, 10)

	tests := []struct {
		name     string
		data     []byte
		req      models.CountRequest
		expected apperrors.ErrorType
	}{
		{"empty upload", nil, models.CountRequest{}, apperrors.ErrorTypeDecode},
		{"not an image", []byte("definitely not an image"), models.CountRequest{}, apperrors.ErrorTypeDecode},
		{"partial roi", data, partial, apperrors.ErrorTypeValidation},
		{"zero size roi", data, zeroSize, apperrors.ErrorTypeValidation},
		{"preview width only", data, previewOnlyWidth, apperrors.ErrorTypeValidation},
		{"threshold out of range", data, badThreshold, apperrors.ErrorTypeValidation},
		{"bad marker color", data, badColor, apperrors.ErrorTypeValidation},
		{"unknown binarizer", data, badBinarizer, apperrors.ErrorTypeValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := f.svc.Count(context.Background(), tt.data, tt.req)
			if result != nil {
				t.Errorf("Expected no result, got %+v", result)
			}
			if !apperrors.IsType(err, tt.expected) {
				t.Errorf("Expected %s error, got %v", tt.expected, err)
			}
		})
	}

	f.events.Wait()
	if got := f.metrics.GetMetrics()["failed_runs"].(int64); got != int64(len(tests)) {
		t.Errorf("Expected %d failed runs, got %d", len(tests), got)
	}
}

func TestCount_ImageLargerThanLimit(t *testing.T) {
	cfg := &config.Config{
		AnalysisTimeout:   5 * time.Second,
		MaxImageDimension: 50,
		Defaults:          pipeline.DefaultParameters(),
	}
	pool := pipeline.NewWorkerPool(1)
	t.Cleanup(pool.Close)
	svc := NewSpotCountingService(cfg, factory.NewStrategyFactory(), &recordingArchive{backend: "memory"},
		repository.NewMemoryRunRepository(10), observer.NewEventPublisher(), pool)

	_, err := svc.Count(context.Background(), spotsPNG(t), models.CountRequest{})
	if !apperrors.IsType(err, apperrors.ErrorTypeValidation) {
		t.Errorf("Expected validation error for 100x80 over a 50 px limit, got %v", err)
	}
}

func TestCount_Timeout(t *testing.T) {
	f := newFixture(t, time.Nanosecond)

	_, err := f.svc.Count(context.Background(), spotsPNG(t), models.CountRequest{})
	if !apperrors.IsType(err, apperrors.ErrorTypeTimeout) {
		t.Errorf("Expected timeout error, got %v", err)
	}
}

func TestCount_TimeoutWaitingForWorker(t *testing.T) {
	f := newFixture(t, 50*time.Millisecond)
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	// two workers busy and a queue of four
	for i := 0; i < 6; i++ {
		if !f.pool.Submit(func() { <-release }) {
			t.Fatal("Expected submit to succeed")
		}
	}

	start := time.Now()
	_, err := f.svc.Count(context.Background(), spotsPNG(t), models.CountRequest{})
	if !apperrors.IsType(err, apperrors.ErrorTypeTimeout) {
		t.Errorf("Expected timeout error, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Expected Count to give up near the timeout, took %s", elapsed)
	}
}

func TestCount_Previews(t *testing.T) {
	f := newFixture(t, 5*time.Second)

	result, err := f.svc.Count(context.Background(), spotsPNG(t), models.CountRequest{Previews: true})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(result.Previews) != len(pipeline.Stages) {
		t.Fatalf("Expected %d previews, got %d", len(pipeline.Stages), len(result.Previews))
	}
	for _, stage := range pipeline.Stages {
		if !strings.HasPrefix(result.Previews[string(stage)], "data:image/png;base64,") {
			t.Errorf("Expected PNG data URI for %s", stage)
		}
	}

	stored, _ := f.svc.GetRun(context.Background(), result.RunID)
	if stored.Previews != nil {
		t.Error("Expected history to drop previews")
	}
}

func TestCount_Archive(t *testing.T) {
	f := newFixture(t, 5*time.Second)

	result, err := f.svc.Count(context.Background(), spotsPNG(t), models.CountRequest{Archive: true})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if result.ArchiveLocation != "mem://"+result.RunID+"/" {
		t.Errorf("Unexpected archive location: %s", result.ArchiveLocation)
	}
	if f.archive.runID != result.RunID {
		t.Errorf("Expected archive run %s, got %s", result.RunID, f.archive.runID)
	}

	names := make(map[string]bool)
	for _, a := range f.archive.artifacts {
		names[a.Name] = true
		if len(a.Data) == 0 {
			t.Errorf("Expected data for %s", a.Name)
		}
	}
	for _, want := range []string{"color.png", "gray.png", "binary.png", "opened.png", "annotated.png", "summary.json"} {
		if !names[want] {
			t.Errorf("Expected artifact %s, got %v", want, names)
		}
	}

	f.events.Wait()
	if got := f.metrics.GetMetrics()["archived_runs"].(int64); got != 1 {
		t.Errorf("Expected 1 archived run, got %d", got)
	}
}

func TestCount_ArchiveFailureIsWarning(t *testing.T) {
	f := newFixture(t, 5*time.Second)
	f.archive.fail = errors.New("disk full")

	result, err := f.svc.Count(context.Background(), spotsPNG(t), models.CountRequest{Archive: true})
	if err != nil {
		t.Fatalf("Expected count to succeed, got %v", err)
	}
	if result.ArchiveLocation != "" {
		t.Errorf("Expected no archive location, got %s", result.ArchiveLocation)
	}
	if len(result.Warnings) != 1 || !strings.Contains(result.Warnings[0], "disk full") {
		t.Errorf("Expected archive warning, got %v", result.Warnings)
	}
}

func TestCount_Strategies(t *testing.T) {
	f := newFixture(t, 5*time.Second)
	for _, extractor := range []string{"contour", "watershed"} {
		result, err := f.svc.Count(context.Background(), spotsPNG(t),
			models.CountRequest{Binarizer: "fixed", Extractor: extractor})
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", extractor, err)
		}
		if result.Extractor != extractor {
			t.Errorf("Expected extractor %s, got %s", extractor, result.Extractor)
		}
		if result.SpotCount != 3 {
			t.Errorf("%s: expected 3 spots, got %d", extractor, result.SpotCount)
		}
	}
}

func TestRunHistory(t *testing.T) {
	f := newFixture(t, 5*time.Second)
	ctx := context.Background()

	if _, err := f.svc.GetRun(ctx, "missing"); !apperrors.IsType(err, apperrors.ErrorTypeNotFound) {
		t.Errorf("Expected not found error, got %v", err)
	}

	first, _ := f.svc.Count(ctx, spotsPNG(t), models.CountRequest{})
	second, _ := f.svc.Count(ctx, spotsPNG(t), roiRequest(0, 0, 35, 35))

	runs, err := f.svc.ListRuns(ctx, 0)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(runs) != 2 || runs[0].RunID != second.RunID || runs[1].RunID != first.RunID {
		t.Errorf("Expected newest first, got %v", runs)
	}
}

func TestDefaults(t *testing.T) {
	f := newFixture(t, time.Second)
	d := f.svc.Defaults()
	if d.Parameters.Threshold != 58 || d.Parameters.KernelShape != "ellipse" {
		t.Errorf("Unexpected default parameters: %+v", d.Parameters)
	}
	if len(d.Binarizers) != 2 || len(d.Extractors) != 3 || len(d.KernelShapes) != 3 {
		t.Errorf("Unexpected strategy lists: %+v", d)
	}
	if d.PreviewSize != 64 {
		t.Errorf("Expected preview size 64, got %d", d.PreviewSize)
	}
}

func TestNewRunID(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	a, b := newRunID(now), newRunID(now)
	if a == b {
		t.Errorf("Expected distinct run IDs, got %s twice", a)
	}
	if !strings.HasPrefix(a, "20240301T120000-") {
		t.Errorf("Unexpected run ID format: %s", a)
	}
}
