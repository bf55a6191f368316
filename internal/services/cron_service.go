package services

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"github.com/travelhub/reservation-core/internal/clock"
	"github.com/travelhub/reservation-core/internal/metrics"
	"github.com/travelhub/reservation-core/internal/repository"
)

const purgeJobName = "purge_resolved_holds"

// CronService manages scheduled maintenance jobs
type CronService struct {
	cron      *cron.Cron
	holds     repository.HoldRepository
	clock     clock.Clock
	schedule  string
	retention time.Duration
	metrics   *metrics.JobMetrics
	logger    *logrus.Logger
}

// NewCronService creates a new CronService.
// schedule uses the six-field format with seconds.
func NewCronService(
	holds repository.HoldRepository,
	clk clock.Clock,
	schedule string,
	retentionDays int,
	jobMetrics *metrics.JobMetrics,
	logger *logrus.Logger,
) *CronService {
	return &CronService{
		cron:      cron.New(cron.WithSeconds()),
		holds:     holds,
		clock:     clk,
		schedule:  schedule,
		retention: time.Duration(retentionDays) * 24 * time.Hour,
		metrics:   jobMetrics,
		logger:    logger,
	}
}

// Start schedules all jobs and starts the scheduler
func (s *CronService) Start() error {
	s.logger.Info("Starting cron service...")

	// Job 1: Purge released and expired holds past retention
	// Cron format: second minute hour day month weekday
	// "0 30 3 * * *" = At 3:30 AM every day
	_, err := s.cron.AddFunc(s.schedule, s.purgeResolvedHoldsJob)
	if err != nil {
		return fmt.Errorf("failed to schedule hold purge job: %w", err)
	}
	s.logger.WithField("schedule", s.schedule).Info("✓ Scheduled: Purge resolved holds")

	s.cron.Start()
	s.logger.Info("✓ Cron service started successfully")

	return nil
}

// Stop stops the scheduler and waits for running jobs
func (s *CronService) Stop() {
	s.logger.Info("Stopping cron service...")
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("✓ Cron service stopped")
}

func (s *CronService) purgeResolvedHoldsJob() {
	if _, err := s.RunPurgeNow(context.Background()); err != nil {
		s.logger.WithError(err).Error("[CRON ERROR] Failed to purge resolved holds")
	}
}

// RunPurgeNow deletes released and expired holds resolved before the retention cutoff.
// Converted holds are never purged; the ledger references them.
func (s *CronService) RunPurgeNow(ctx context.Context) (int, error) {
	started := time.Now()
	cutoff := s.clock.Now().Add(-s.retention)

	purged, err := s.holds.PurgeResolved(ctx, cutoff)
	s.metrics.Observe(purgeJobName, started, err)
	if err != nil {
		return 0, err
	}

	s.logger.WithFields(logrus.Fields{
		"purged":   purged,
		"cutoff":   cutoff,
		"duration": time.Since(started).String(),
	}).Info("[CRON] ✓ Purged resolved holds")

	return purged, nil
}
