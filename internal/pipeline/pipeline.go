// Package pipeline orchestrates a full warehouse rebuild: read the raw
// landing tables, derive dimensions and facts, validate the result and
// publish it atomically.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"medwarehouse/internal/dimensions"
	"medwarehouse/internal/facts"
	"medwarehouse/internal/integrity"
	"medwarehouse/internal/staging"
	"medwarehouse/internal/store"
	"medwarehouse/pkg/logging"
	"medwarehouse/pkg/models"
	"medwarehouse/pkg/monitoring"
)

// Clock supplies the pipeline's notion of now. Injectable so runs are
// reproducible in tests.
type Clock func() time.Time

// Metrics groups the pipeline's Prometheus instruments.
type Metrics struct {
	Runs          *prometheus.CounterVec
	StageDuration *prometheus.HistogramVec
	RowsPublished *prometheus.GaugeVec
}

// NewMetrics registers pipeline metrics on the shared collector.
func NewMetrics(mc *monitoring.MetricsCollector) *Metrics {
	runs, duration, rows := mc.CreatePipelineMetrics()
	return &Metrics{Runs: runs, StageDuration: duration, RowsPublished: rows}
}

// Result summarizes one completed run.
type Result struct {
	RunID        string                     `json:"run_id"`
	StartedAt    time.Time                  `json:"started_at"`
	Duration     time.Duration              `json:"duration"`
	RawMessages  int                        `json:"raw_messages"`
	Staged       int                        `json:"staged"`
	Channels     int                        `json:"channels"`
	Dates        int                        `json:"dates"`
	MessageFacts int                        `json:"message_facts"`
	Detections   int                        `json:"detections"`
	Failures     []models.ValidationFailure `json:"failures"`
}

// Pipeline rebuilds the warehouse from the raw landing tables.
type Pipeline struct {
	store      *store.Store
	normalizer *staging.Normalizer
	logger     logging.Logger
	metrics    *Metrics
	clock      Clock
}

// NewPipeline wires a pipeline. A nil clock defaults to time.Now and nil
// metrics disables instrumentation.
func NewPipeline(s *store.Store, logger logging.Logger, metrics *Metrics, clock Clock) *Pipeline {
	if clock == nil {
		clock = time.Now
	}
	return &Pipeline{
		store:      s,
		normalizer: staging.NewNormalizer(logger),
		logger:     logger,
		metrics:    metrics,
		clock:      clock,
	}
}

// Run executes one full rebuild. A successful build is always published,
// validation failures included; the returned error is non-nil when the
// published build carried failures so callers can alert on it.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	runID := uuid.New().String()
	now := p.clock().UTC()
	log := logging.WithRun(p.logger, runID)
	log.Info("Starting warehouse rebuild")

	result := &Result{RunID: runID, StartedAt: now}

	raw, err := timedStage(p, ctx, "read_raw", func() ([]models.RawMessage, error) {
		return p.store.LoadRawMessages(ctx)
	})
	if err != nil {
		return p.fail(result, log, fmt.Errorf("read raw messages: %w", err))
	}
	result.RawMessages = len(raw)

	detections, err := timedStage(p, ctx, "read_detections", func() ([]models.Detection, error) {
		return p.store.LoadDetections(ctx)
	})
	if err != nil {
		return p.fail(result, log, fmt.Errorf("read detections: %w", err))
	}

	staged, err := timedStage(p, ctx, "staging", func() ([]models.StagedMessage, error) {
		return p.normalizer.Run(raw, now), nil
	})
	if err != nil {
		return p.fail(result, log, err)
	}
	result.Staged = len(staged)

	// Date and channel dimensions have no dependency on each other.
	var (
		wg       sync.WaitGroup
		dates    []models.DateDimension
		channels []models.ChannelDimension
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		dates, _ = timedStage(p, ctx, "dim_dates", func() ([]models.DateDimension, error) {
			return dimensions.BuildDateSpine(minMessageDate(staged, now), now), nil
		})
	}()
	go func() {
		defer wg.Done()
		channels, _ = timedStage(p, ctx, "dim_channels", func() ([]models.ChannelDimension, error) {
			return dimensions.AggregateChannels(staged), nil
		})
	}()
	wg.Wait()
	if err := ctx.Err(); err != nil {
		return p.fail(result, log, err)
	}
	result.Dates = len(dates)
	result.Channels = len(channels)

	messageFacts, err := timedStage(p, ctx, "fct_messages", func() ([]models.MessageFact, error) {
		return facts.BuildMessageFacts(staged, channels, dates), nil
	})
	if err != nil {
		return p.fail(result, log, err)
	}
	result.MessageFacts = len(messageFacts)

	detectionFacts, err := timedStage(p, ctx, "fct_image_detections", func() ([]models.ImageDetectionFact, error) {
		return facts.EnrichDetections(detections, channels, messageFacts), nil
	})
	if err != nil {
		return p.fail(result, log, err)
	}
	result.Detections = len(detectionFacts)

	failures, err := timedStage(p, ctx, "validation", func() ([]models.ValidationFailure, error) {
		return integrity.Validate(integrity.Inputs{
			Channels:       channels,
			Dates:          dates,
			MessageFacts:   messageFacts,
			DetectionFacts: detectionFacts,
		}, now), nil
	})
	if err != nil {
		return p.fail(result, log, err)
	}
	result.Failures = failures

	_, err = timedStage(p, ctx, "publish", func() (struct{}, error) {
		return struct{}{}, p.store.PublishWarehouse(ctx, store.Warehouse{
			RunID:      runID,
			RunAt:      now,
			Channels:   channels,
			Dates:      dates,
			Messages:   messageFacts,
			Detections: detectionFacts,
			Failures:   failures,
		})
	})
	if err != nil {
		return p.fail(result, log, fmt.Errorf("publish warehouse: %w", err))
	}

	result.Duration = p.clock().UTC().Sub(now)
	p.recordPublished(result)

	if len(failures) > 0 {
		p.countRun("degraded")
		log.WithField("failures", len(failures)).Warn("Warehouse rebuild published with validation failures")
		return result, fmt.Errorf("published with %d validation failures", len(failures))
	}

	p.countRun("success")
	log.WithFields(logging.Fields{
		"staged":     result.Staged,
		"channels":   result.Channels,
		"dates":      result.Dates,
		"messages":   result.MessageFacts,
		"detections": result.Detections,
		"duration":   result.Duration.String(),
	}).Info("Warehouse rebuild complete")
	return result, nil
}

func (p *Pipeline) fail(result *Result, log *logrus.Entry, err error) (*Result, error) {
	p.countRun("failed")
	log.WithError(err).Error("Warehouse rebuild failed")
	return result, err
}

func (p *Pipeline) countRun(status string) {
	if p.metrics != nil {
		p.metrics.Runs.WithLabelValues(status).Inc()
	}
}

func (p *Pipeline) recordPublished(result *Result) {
	if p.metrics == nil {
		return
	}
	p.metrics.RowsPublished.WithLabelValues("dim_channels").Set(float64(result.Channels))
	p.metrics.RowsPublished.WithLabelValues("dim_dates").Set(float64(result.Dates))
	p.metrics.RowsPublished.WithLabelValues("fct_messages").Set(float64(result.MessageFacts))
	p.metrics.RowsPublished.WithLabelValues("fct_image_detections").Set(float64(result.Detections))
}

// timedStage runs one stage, records its duration and honors cancellation
// between stages.
func timedStage[T any](p *Pipeline, ctx context.Context, stage string, fn func() (T, error)) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	start := time.Now()
	out, err := fn()
	if p.metrics != nil {
		p.metrics.StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
	}
	if err != nil {
		return zero, err
	}
	return out, nil
}

func minMessageDate(staged []models.StagedMessage, now time.Time) time.Time {
	min := now
	for _, m := range staged {
		if m.MessageDate.Before(min) {
			min = m.MessageDate
		}
	}
	return min
}
