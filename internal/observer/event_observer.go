package observer

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// RunEvent represents something that happened during a counting run
type RunEvent struct {
	EventType      EventType              `json:"event_type"`
	Timestamp      time.Time              `json:"timestamp"`
	RunID          string                 `json:"run_id"`
	Source         string                 `json:"source,omitempty"`
	ProcessingTime time.Duration          `json:"processing_time"`
	SpotCount      int                    `json:"spot_count"`
	Success        bool                   `json:"success"`
	ErrorType      string                 `json:"error_type,omitempty"`
	ErrorMessage   string                 `json:"error_message,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
}

// EventType represents the type of run event
type EventType string

const (
	// RunStarted when a run begins
	RunStarted EventType = "run_started"
	// RunCompleted when every stage finished
	RunCompleted EventType = "run_completed"
	// RunFailed when a run stopped on an error
	RunFailed EventType = "run_failed"
	// ImageDecoded when an upload was turned into a raw buffer
	ImageDecoded EventType = "image_decoded"
	// DegenerateROI when the requested rectangle fell outside the image
	DegenerateROI EventType = "degenerate_roi"
	// ResultArchived when artifacts were stored
	ResultArchived EventType = "result_archived"
	// ArchiveFailed when storing artifacts failed
	ArchiveFailed EventType = "archive_failed"
)

// Observer defines the interface for event observers
type Observer interface {
	OnEvent(ctx context.Context, event RunEvent)
	GetObserverName() string
}

// Subject defines the interface for event publishers
type Subject interface {
	Subscribe(observer Observer)
	Unsubscribe(observer Observer)
	NotifyObservers(ctx context.Context, event RunEvent)
	// Wait blocks until every notification sent so far was handled
	Wait()
}

// LoggingObserver logs run events
type LoggingObserver struct {
	logger *logrus.Logger
}

// NewLoggingObserver creates a new logging observer
func NewLoggingObserver(logger *logrus.Logger) Observer {
	return &LoggingObserver{
		logger: logger,
	}
}

// OnEvent handles run events by logging them
func (o *LoggingObserver) OnEvent(ctx context.Context, event RunEvent) {
	fields := logrus.Fields{
		"event_type":      event.EventType,
		"run_id":          event.RunID,
		"processing_time": event.ProcessingTime.String(),
		"success":         event.Success,
	}
	if event.Source != "" {
		fields["source"] = event.Source
	}
	if event.EventType == RunCompleted {
		fields["spot_count"] = event.SpotCount
	}
	if event.ErrorMessage != "" {
		fields["error"] = event.ErrorMessage
		fields["error_type"] = event.ErrorType
	}
	for k, v := range event.Metadata {
		fields[k] = v
	}

	entry := o.logger.WithFields(fields)
	switch event.EventType {
	case RunStarted:
		entry.Info("Spot counting started")
	case RunCompleted:
		entry.Info("Spot counting completed")
	case RunFailed:
		entry.Error("Spot counting failed")
	case ImageDecoded:
		entry.Debug("Image decoded")
	case DegenerateROI:
		entry.Warn("Region of interest outside image, counted full image")
	case ResultArchived:
		entry.Info("Run artifacts archived")
	case ArchiveFailed:
		entry.Error("Archiving run artifacts failed")
	default:
		entry.Info("Run event occurred")
	}
}

// GetObserverName returns the observer name
func (o *LoggingObserver) GetObserverName() string {
	return "logging_observer"
}

// MetricsObserver collects counters from run events
type MetricsObserver struct {
	mu                  sync.RWMutex
	totalRuns           int64
	completedRuns       int64
	failedRuns          int64
	spotsCounted        int64
	degenerateROIs      int64
	archivedRuns        int64
	archiveFailures     int64
	totalProcessingTime time.Duration
	failuresByType      map[string]int64
}

// NewMetricsObserver creates a new metrics observer
func NewMetricsObserver() *MetricsObserver {
	return &MetricsObserver{failuresByType: make(map[string]int64)}
}

// OnEvent handles run events by collecting metrics
func (o *MetricsObserver) OnEvent(ctx context.Context, event RunEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()

	switch event.EventType {
	case RunStarted:
		o.totalRuns++
	case RunCompleted:
		o.completedRuns++
		o.spotsCounted += int64(event.SpotCount)
		o.totalProcessingTime += event.ProcessingTime
	case RunFailed:
		o.failedRuns++
		key := event.ErrorType
		if key == "" {
			key = "unknown"
		}
		o.failuresByType[key]++
	case DegenerateROI:
		o.degenerateROIs++
	case ResultArchived:
		o.archivedRuns++
	case ArchiveFailed:
		o.archiveFailures++
	}
}

// GetObserverName returns the observer name
func (o *MetricsObserver) GetObserverName() string {
	return "metrics_observer"
}

// GetMetrics returns current metrics
func (o *MetricsObserver) GetMetrics() map[string]interface{} {
	o.mu.RLock()
	defer o.mu.RUnlock()

	avgProcessingTime := time.Duration(0)
	if o.completedRuns > 0 {
		avgProcessingTime = o.totalProcessingTime / time.Duration(o.completedRuns)
	}
	failures := make(map[string]int64, len(o.failuresByType))
	for k, v := range o.failuresByType {
		failures[k] = v
	}

	return map[string]interface{}{
		"total_runs":               o.totalRuns,
		"completed_runs":           o.completedRuns,
		"failed_runs":              o.failedRuns,
		"spots_counted":            o.spotsCounted,
		"degenerate_rois":          o.degenerateROIs,
		"archived_runs":            o.archivedRuns,
		"archive_failures":         o.archiveFailures,
		"failures_by_type":         failures,
		"total_processing_time_ms": o.totalProcessingTime.Milliseconds(),
		"avg_processing_time_ms":   avgProcessingTime.Milliseconds(),
	}
}

// EventPublisher implements the Subject interface
type EventPublisher struct {
	mu        sync.RWMutex
	observers []Observer
	pending   sync.WaitGroup
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher() Subject {
	return &EventPublisher{
		observers: make([]Observer, 0),
	}
}

// Subscribe adds an observer
func (p *EventPublisher) Subscribe(observer Observer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.observers = append(p.observers, observer)
}

// Unsubscribe removes an observer
func (p *EventPublisher) Unsubscribe(observer Observer) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, obs := range p.observers {
		if obs.GetObserverName() == observer.GetObserverName() {
			p.observers = append(p.observers[:i], p.observers[i+1:]...)
			break
		}
	}
}

// NotifyObservers notifies all observers of an event concurrently
func (p *EventPublisher) NotifyObservers(ctx context.Context, event RunEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	p.mu.RLock()
	observers := make([]Observer, len(p.observers))
	copy(observers, p.observers)
	p.mu.RUnlock()

	for _, observer := range observers {
		p.pending.Add(1)
		go func(obs Observer) {
			defer p.pending.Done()
			defer func() {
				if r := recover(); r != nil {
					logrus.WithField("observer", obs.GetObserverName()).
						WithField("panic", r).
						Error("Observer panicked while handling event")
				}
			}()
			obs.OnEvent(ctx, event)
		}(observer)
	}
}

// Wait blocks until all notifications sent so far have been delivered
func (p *EventPublisher) Wait() {
	p.pending.Wait()
}
