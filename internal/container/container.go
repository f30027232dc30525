package container

import (
	"fmt"
	"net/http"

	"go-spot-counter/internal/config"
	"go-spot-counter/internal/factory"
	"go-spot-counter/internal/logger"
	"go-spot-counter/internal/observer"
	"go-spot-counter/internal/pipeline"
	"go-spot-counter/internal/repository"
	"go-spot-counter/internal/service"
	"go-spot-counter/internal/storage"
	"go-spot-counter/internal/transport"

	"github.com/sirupsen/logrus"
)

// Container holds all application dependencies
type Container struct {
	config       *config.Config
	archive      storage.ResultArchive
	runs         repository.RunRepository
	events       observer.Subject
	metrics      *observer.MetricsObserver
	pool         *pipeline.WorkerPool
	spotCounting service.SpotCountingService
	handler      http.Handler
}

// NewContainer builds the dependency graph from cfg
func NewContainer(cfg *config.Config) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	components := factory.NewComponentFactory()

	archive, err := components.ArchiveFactory.CreateArchive(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s archive: %w", cfg.ArchiveBackend, err)
	}

	metrics := observer.NewMetricsObserver()
	events := observer.NewEventPublisher()
	events.Subscribe(observer.NewLoggingObserver(logger.Logger))
	events.Subscribe(metrics)

	runs := repository.NewMemoryRunRepository(cfg.RunHistorySize)
	pool := pipeline.NewWorkerPool(cfg.Workers)
	spotCounting := service.NewSpotCountingService(cfg, components.StrategyFactory, archive, runs, events, pool)
	handler := transport.NewHandler(spotCounting, metrics, cfg)

	logger.WithFields(logrus.Fields{
		"archive": archive.Backend(),
		"workers": pool.Workers(),
		"history": cfg.RunHistorySize,
	}).Info("Container initialized")

	return &Container{
		config:       cfg,
		archive:      archive,
		runs:         runs,
		events:       events,
		metrics:      metrics,
		pool:         pool,
		spotCounting: spotCounting,
		handler:      handler,
	}, nil
}

// Handler returns the HTTP handler
func (c *Container) Handler() http.Handler {
	return c.handler
}

// Config returns the configuration
func (c *Container) Config() *config.Config {
	return c.config
}

// Service returns the spot counting service
func (c *Container) Service() service.SpotCountingService {
	return c.spotCounting
}

// Close stops the worker pool after in-flight runs finish and flushes
// pending events
func (c *Container) Close() {
	c.pool.Close()
	c.events.Wait()
}
