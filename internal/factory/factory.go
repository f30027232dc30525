package factory

import (
	"fmt"
	"sort"
	"strings"

	"go-spot-counter/internal/config"
	apperrors "go-spot-counter/internal/errors"
	"go-spot-counter/internal/pipeline"
	"go-spot-counter/internal/storage"
)

// BinarizerType names a binarization strategy
type BinarizerType string

const (
	// FixedBinarizer thresholds with one global level
	FixedBinarizer BinarizerType = "fixed"
	// AdaptiveBinarizer thresholds against the local neighbourhood mean
	AdaptiveBinarizer BinarizerType = "adaptive"
)

// ExtractorType names a region extraction strategy
type ExtractorType string

const (
	// ContourExtractor traces outer contours of the opened mask
	ContourExtractor ExtractorType = "contour"
	// HoughExtractor fits circles to the mask
	HoughExtractor ExtractorType = "hough"
	// WatershedExtractor splits touching spots
	WatershedExtractor ExtractorType = "watershed"
)

// StrategyFactory creates pipeline strategies by name
type StrategyFactory interface {
	CreateBinarizer(name BinarizerType) (pipeline.Binarizer, error)
	CreateExtractor(name ExtractorType) (pipeline.Extractor, error)
	Binarizers() []string
	Extractors() []string
}

// ArchiveFactory creates result archives
type ArchiveFactory interface {
	CreateArchive(cfg *config.Config) (storage.ResultArchive, error)
}

type strategyFactory struct {
	binarizers map[BinarizerType]func() pipeline.Binarizer
	extractors map[ExtractorType]func() pipeline.Extractor
}

// NewStrategyFactory creates a factory knowing every built-in strategy
func NewStrategyFactory() StrategyFactory {
	return &strategyFactory{
		binarizers: map[BinarizerType]func() pipeline.Binarizer{
			FixedBinarizer:    func() pipeline.Binarizer { return pipeline.FixedThreshold{} },
			AdaptiveBinarizer: func() pipeline.Binarizer { return pipeline.NewAdaptiveThreshold() },
		},
		extractors: map[ExtractorType]func() pipeline.Extractor{
			ContourExtractor:   func() pipeline.Extractor { return pipeline.ContourExtractor{} },
			HoughExtractor:     func() pipeline.Extractor { return pipeline.NewHoughCircleExtractor() },
			WatershedExtractor: func() pipeline.Extractor { return pipeline.NewWatershedExtractor() },
		},
	}
}

// CreateBinarizer returns the named binarizer; an empty name means fixed
func (f *strategyFactory) CreateBinarizer(name BinarizerType) (pipeline.Binarizer, error) {
	key := BinarizerType(strings.ToLower(strings.TrimSpace(string(name))))
	if key == "" {
		key = FixedBinarizer
	}
	build, ok := f.binarizers[key]
	if !ok {
		return nil, apperrors.NewValidationError(fmt.Sprintf("unsupported binarizer: %s", name), nil).
			WithDetails("supported: " + strings.Join(f.Binarizers(), ", "))
	}
	return build(), nil
}

// CreateExtractor returns the named extractor; an empty name means contour
func (f *strategyFactory) CreateExtractor(name ExtractorType) (pipeline.Extractor, error) {
	key := ExtractorType(strings.ToLower(strings.TrimSpace(string(name))))
	if key == "" {
		key = ContourExtractor
	}
	build, ok := f.extractors[key]
	if !ok {
		return nil, apperrors.NewValidationError(fmt.Sprintf("unsupported extractor: %s", name), nil).
			WithDetails("supported: " + strings.Join(f.Extractors(), ", "))
	}
	return build(), nil
}

func (f *strategyFactory) Binarizers() []string {
	names := make([]string, 0, len(f.binarizers))
	for k := range f.binarizers {
		names = append(names, string(k))
	}
	sort.Strings(names)
	return names
}

func (f *strategyFactory) Extractors() []string {
	names := make([]string, 0, len(f.extractors))
	for k := range f.extractors {
		names = append(names, string(k))
	}
	sort.Strings(names)
	return names
}

type archiveFactory struct{}

// NewArchiveFactory creates an archive factory
func NewArchiveFactory() ArchiveFactory {
	return &archiveFactory{}
}

// CreateArchive builds the archive selected by cfg.ArchiveBackend
func (f *archiveFactory) CreateArchive(cfg *config.Config) (storage.ResultArchive, error) {
	switch cfg.ArchiveBackend {
	case config.ArchiveNone, "":
		return storage.NewNoopArchive(), nil
	case config.ArchiveLocal:
		return storage.NewFileArchive(cfg.ArchiveDir)
	case config.ArchiveAzure:
		return storage.NewAzureArchive(cfg.AzureAccount, cfg.AzureKey, cfg.AzureContainer)
	default:
		return nil, fmt.Errorf("unsupported archive backend: %s", cfg.ArchiveBackend)
	}
}

// ComponentFactory combines all factories
type ComponentFactory struct {
	StrategyFactory StrategyFactory
	ArchiveFactory  ArchiveFactory
}

// NewComponentFactory creates a new component factory
func NewComponentFactory() *ComponentFactory {
	return &ComponentFactory{
		StrategyFactory: NewStrategyFactory(),
		ArchiveFactory:  NewArchiveFactory(),
	}
}
