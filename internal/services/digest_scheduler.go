package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/voyagehq/crm-ai-go/internal/models"
)

// Restart errors. The admin surface maps them to distinct HTTP statuses.
var (
	ErrNoDigestWorker       = errors.New("no digest worker")
	ErrWorkerAlreadyRunning = errors.New("digest worker already running")
)

// DigestConfig controls scheduled digest delivery.
type DigestConfig struct {
	IntervalHours   int `json:"interval_hours" mapstructure:"interval_hours"`
	MaxErrors       int `json:"max_errors" mapstructure:"max_errors"`
	ChurnBatchLimit int `json:"churn_batch_limit" mapstructure:"churn_batch_limit"`
	ForecastDays    int `json:"forecast_days" mapstructure:"forecast_days"`
	ForecastHorizon int `json:"forecast_horizon" mapstructure:"forecast_horizon"`
}

// DefaultDigestConfig sends one digest per day built from 90 days of
// revenue history and at most 500 scored customers.
func DefaultDigestConfig() DigestConfig {
	return DigestConfig{
		IntervalHours:   24,
		MaxErrors:       5,
		ChurnBatchLimit: 500,
		ForecastDays:    DefaultForecastWindowDays,
		ForecastHorizon: DefaultForecastHorizonDays,
	}
}

// digestTenantSource lists the tenants a scheduler run should cover.
type digestTenantSource interface {
	TenantIDs(ctx context.Context) ([]string, error)
}

// digestActivitySource loads the activity snapshots fed into churn scoring.
type digestActivitySource interface {
	ActivitySnapshots(ctx context.Context, tenantID string, limit int) ([]models.CustomerActivity, error)
}

// digestRevenueSource loads the revenue history fed into the forecaster.
type digestRevenueSource interface {
	DailyRevenueSince(ctx context.Context, tenantID string, days int) ([]models.RevenuePoint, error)
}

// digestNotifier delivers the rendered digests.
type digestNotifier interface {
	NotifyChurnDigest(ctx context.Context, tenantID string, insights *models.ChurnInsights, topRisks []models.ChurnScore) error
	NotifyForecastDigest(ctx context.Context, tenantID string, forecast *models.ForecastResult) error
}

// DigestScheduler runs one background worker per tenant that periodically
// scores the tenant's customers, forecasts revenue, and delivers both
// digests over Telegram.
type DigestScheduler struct {
	tenants   digestTenantSource
	customers digestActivitySource
	revenue   digestRevenueSource
	churn     *ChurnService
	forecast  *ForecastService
	notifier  digestNotifier
	config    DigestConfig
	logger    *logrus.Logger

	workers map[string]*DigestWorker
	mu      sync.RWMutex
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// DigestWorker tracks the digest loop for one tenant.
type DigestWorker struct {
	TenantID   string
	Interval   time.Duration
	LastRun    time.Time
	IsRunning  bool
	ErrorCount int
	MaxErrors  int
}

// NewDigestScheduler creates a digest scheduler.
func NewDigestScheduler(
	tenants digestTenantSource,
	customers digestActivitySource,
	revenue digestRevenueSource,
	churn *ChurnService,
	forecast *ForecastService,
	notifier digestNotifier,
	config DigestConfig,
	logger *logrus.Logger,
) *DigestScheduler {
	defaults := DefaultDigestConfig()
	if config.IntervalHours <= 0 {
		config.IntervalHours = defaults.IntervalHours
	}
	if config.MaxErrors <= 0 {
		config.MaxErrors = defaults.MaxErrors
	}
	if config.ChurnBatchLimit <= 0 {
		config.ChurnBatchLimit = defaults.ChurnBatchLimit
	}
	if config.ForecastDays <= 0 {
		config.ForecastDays = defaults.ForecastDays
	}
	if config.ForecastHorizon <= 0 {
		config.ForecastHorizon = defaults.ForecastHorizon
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &DigestScheduler{
		tenants:   tenants,
		customers: customers,
		revenue:   revenue,
		churn:     churn,
		forecast:  forecast,
		notifier:  notifier,
		config:    config,
		logger:    logger,
		workers:   make(map[string]*DigestWorker),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start creates one digest worker per known tenant.
func (s *DigestScheduler) Start() error {
	tenantIDs, err := s.tenants.TenantIDs(s.ctx)
	if err != nil {
		return fmt.Errorf("failed to list tenants for digest scheduling: %w", err)
	}

	for _, tenantID := range tenantIDs {
		s.createWorker(tenantID)
	}

	s.logger.WithField("workers", len(tenantIDs)).Info("Started digest scheduler")
	return nil
}

// Stop cancels all workers and waits for them to exit.
func (s *DigestScheduler) Stop() {
	s.logger.Info("Stopping digest scheduler")
	s.cancel()
	s.wg.Wait()
	s.logger.Info("Digest scheduler stopped")
}

// createWorker registers and starts the digest loop for one tenant.
// Registering a tenant twice is a no-op.
func (s *DigestScheduler) createWorker(tenantID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.workers[tenantID]; exists {
		return
	}

	worker := &DigestWorker{
		TenantID:  tenantID,
		Interval:  time.Duration(s.config.IntervalHours) * time.Hour,
		MaxErrors: s.config.MaxErrors,
		IsRunning: true,
	}
	s.workers[tenantID] = worker

	s.wg.Add(1)
	go s.runWorker(worker)
}

// runWorker is the per-tenant digest loop. A worker that fails MaxErrors
// consecutive runs parks itself until RestartWorker.
func (s *DigestScheduler) runWorker(worker *DigestWorker) {
	defer s.wg.Done()

	ticker := time.NewTicker(worker.Interval)
	defer ticker.Stop()

	s.logger.WithField("tenant_id", worker.TenantID).Debug("Digest worker started")

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if err := s.runDigest(s.ctx, worker.TenantID); err != nil {
				s.updateWorker(worker.TenantID, func(w *DigestWorker) {
					w.ErrorCount++
				})
				s.logger.WithError(err).WithFields(logrus.Fields{
					"tenant_id":   worker.TenantID,
					"error_count": s.workerErrorCount(worker.TenantID),
				}).Error("Digest run failed")

				if s.workerErrorCount(worker.TenantID) >= worker.MaxErrors {
					s.logger.WithField("tenant_id", worker.TenantID).
						Error("Digest worker exceeded max errors, parking")
					s.updateWorker(worker.TenantID, func(w *DigestWorker) {
						w.IsRunning = false
					})
					return
				}
				continue
			}

			s.updateWorker(worker.TenantID, func(w *DigestWorker) {
				w.ErrorCount = 0
				w.LastRun = time.Now()
			})
		}
	}
}

// RunDigest builds and sends both digests for one tenant immediately,
// outside the schedule. The admin trigger endpoint uses it.
func (s *DigestScheduler) RunDigest(ctx context.Context, tenantID string) error {
	return s.runDigest(ctx, tenantID)
}

// runDigest scores the tenant's customers and forecasts revenue, then
// delivers the digests. A failed churn digest fails the run; a forecast
// with too little history is skipped with a log line.
func (s *DigestScheduler) runDigest(ctx context.Context, tenantID string) error {
	if err := s.sendChurnDigest(ctx, tenantID); err != nil {
		return err
	}

	if err := s.sendForecastDigest(ctx, tenantID); err != nil {
		s.logger.WithError(err).WithField("tenant_id", tenantID).
			Warn("Skipping forecast digest")
	}

	return nil
}

func (s *DigestScheduler) sendChurnDigest(ctx context.Context, tenantID string) error {
	activities, err := s.customers.ActivitySnapshots(ctx, tenantID, s.config.ChurnBatchLimit)
	if err != nil {
		return fmt.Errorf("failed to load activity snapshots: %w", err)
	}
	if len(activities) == 0 {
		s.logger.WithField("tenant_id", tenantID).Debug("No customer activity, skipping churn digest")
		return nil
	}

	refs := make([]*models.CustomerActivity, len(activities))
	for i := range activities {
		refs[i] = &activities[i]
	}

	scores, err := s.churn.ScoreBatch(ctx, refs, models.ChurnBatchOptions{PrioritizeHighValue: true})
	if err != nil {
		return fmt.Errorf("failed to score customers: %w", err)
	}

	insights, err := s.churn.Insights(scores)
	if err != nil {
		return fmt.Errorf("failed to aggregate churn insights: %w", err)
	}

	topRisks := make([]models.ChurnScore, 0, 3)
	for _, score := range scores {
		if score.RiskTier != "high" && score.RiskTier != "critical" {
			continue
		}
		topRisks = append(topRisks, *score)
		if len(topRisks) == 3 {
			break
		}
	}

	return s.notifier.NotifyChurnDigest(ctx, tenantID, insights, topRisks)
}

func (s *DigestScheduler) sendForecastDigest(ctx context.Context, tenantID string) error {
	points, err := s.revenue.DailyRevenueSince(ctx, tenantID, s.config.ForecastDays)
	if err != nil {
		return fmt.Errorf("failed to load revenue history: %w", err)
	}

	forecast, err := s.forecast.Forecast(ctx, points, s.config.ForecastHorizon)
	if err != nil {
		return fmt.Errorf("failed to build forecast: %w", err)
	}

	return s.notifier.NotifyForecastDigest(ctx, tenantID, forecast)
}

// WorkerStatus returns a copy of the current worker registry.
func (s *DigestScheduler) WorkerStatus() map[string]DigestWorker {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status := make(map[string]DigestWorker, len(s.workers))
	for tenantID, worker := range s.workers {
		status[tenantID] = *worker
	}
	return status
}

// RestartWorker restarts a parked worker, clearing its error count.
func (s *DigestScheduler) RestartWorker(tenantID string) error {
	s.mu.Lock()
	worker, exists := s.workers[tenantID]
	if !exists {
		s.mu.Unlock()
		return fmt.Errorf("%w for tenant %s", ErrNoDigestWorker, tenantID)
	}
	if worker.IsRunning {
		s.mu.Unlock()
		return fmt.Errorf("%w for tenant %s", ErrWorkerAlreadyRunning, tenantID)
	}
	worker.IsRunning = true
	worker.ErrorCount = 0
	s.mu.Unlock()

	s.wg.Add(1)
	go s.runWorker(worker)

	s.logger.WithField("tenant_id", tenantID).Info("Restarted digest worker")
	return nil
}

// IsHealthy reports whether at least one digest worker is running. A
// scheduler with no tenants yet counts as healthy.
func (s *DigestScheduler) IsHealthy() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.workers) == 0 {
		return true
	}
	for _, worker := range s.workers {
		if worker.IsRunning {
			return true
		}
	}
	return false
}

func (s *DigestScheduler) updateWorker(tenantID string, fn func(*DigestWorker)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if worker, exists := s.workers[tenantID]; exists {
		fn(worker)
	}
}

func (s *DigestScheduler) workerErrorCount(tenantID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if worker, exists := s.workers[tenantID]; exists {
		return worker.ErrorCount
	}
	return 0
}
