// Package scheduler runs the warehouse rebuild on a fixed interval and
// posts a Slack alert when a run fails or publishes with validation
// failures.
package scheduler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"medwarehouse/internal/pipeline"
	"medwarehouse/pkg/config"
	"medwarehouse/pkg/logging"
)

const runTimeout = 30 * time.Minute

// Runner is the unit of scheduled work. *pipeline.Pipeline satisfies it.
type Runner interface {
	Run(ctx context.Context) (*pipeline.Result, error)
}

// Scheduler triggers warehouse rebuilds periodically.
type Scheduler struct {
	logger       logging.Logger
	runner       Runner
	interval     time.Duration
	slackWebhook string
	httpClient   *http.Client
	ticker       *time.Ticker
	stopChan     chan bool
	runMu        sync.Mutex
}

// NewScheduler creates a scheduler. Interval and Slack webhook come from
// PIPELINE_INTERVAL and SLACK_WEBHOOK_URL; an empty webhook disables
// alerting.
func NewScheduler(runner Runner, logger logging.Logger) *Scheduler {
	return &Scheduler{
		logger:       logger,
		runner:       runner,
		interval:     config.GetEnvDuration("PIPELINE_INTERVAL", 24*time.Hour),
		slackWebhook: config.GetEnv("SLACK_WEBHOOK_URL", ""),
		httpClient:   &http.Client{Timeout: 10 * time.Second},
		stopChan:     make(chan bool),
	}
}

// Start begins the scheduled rebuilds.
func (s *Scheduler) Start() {
	s.logger.WithFields(logging.Fields{
		"interval":      s.interval,
		"slack_enabled": s.slackWebhook != "",
	}).Info("Starting pipeline scheduler")

	s.ticker = time.NewTicker(s.interval)
	go s.runLoop()
}

// Stop stops the scheduled rebuilds. An in-flight run finishes.
func (s *Scheduler) Stop() {
	s.logger.Info("Stopping pipeline scheduler")

	if s.ticker != nil {
		s.ticker.Stop()
	}

	close(s.stopChan)
}

func (s *Scheduler) runLoop() {
	for {
		select {
		case <-s.ticker.C:
			s.logger.Info("Running scheduled warehouse rebuild")
			s.RunNow()
		case <-s.stopChan:
			s.logger.Info("Stopping pipeline run loop")
			return
		}
	}
}

// RunNow executes one rebuild immediately. Concurrent calls serialize so
// two rebuilds never race on the publish transaction.
func (s *Scheduler) RunNow() (*pipeline.Result, error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()

	result, err := s.runner.Run(ctx)
	if err != nil {
		s.alert(formatAlert(result, err))
	}
	return result, err
}

func formatAlert(result *pipeline.Result, err error) string {
	if result != nil && len(result.Failures) > 0 {
		return fmt.Sprintf("Warehouse rebuild %s published with %d validation failures: %v",
			result.RunID, len(result.Failures), err)
	}
	return fmt.Sprintf("Warehouse rebuild failed: %v", err)
}

// alert posts a Slack-style webhook message. Failures to deliver the alert
// are logged and otherwise ignored.
func (s *Scheduler) alert(text string) {
	if s.slackWebhook == "" {
		return
	}

	payload, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		s.logger.WithError(err).Error("Failed to encode alert payload")
		return
	}

	resp, err := s.httpClient.Post(s.slackWebhook, "application/json", bytes.NewReader(payload))
	if err != nil {
		s.logger.WithError(err).Error("Failed to deliver alert")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		s.logger.WithField("status", resp.StatusCode).Error("Alert webhook rejected message")
	}
}
