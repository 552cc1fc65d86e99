// Package scheduler runs the periodic sweep that analyzes students whose
// recent activity has gone longer than the configured interval without an
// analysis.
package scheduler

import (
	"context"
	"log"
	"time"

	"learning-analytics-service/internal/config"
	"learning-analytics-service/internal/models"

	"github.com/go-co-op/gocron"
)

const sweepBatchSize = 50

// StaleProfileFinder lists students due for a scheduled analysis.
type StaleProfileFinder interface {
	FindStale(ctx context.Context, staleAfter time.Duration, limit int) ([]string, error)
}

// Analyzer runs one full analysis.
type Analyzer interface {
	Analyze(ctx context.Context, request models.AnalysisRequest) (*models.AnalysisRecord, error)
}

type SweepScheduler struct {
	scheduler *gocron.Scheduler
	profiles  StaleProfileFinder
	analyzer  Analyzer
	cfg       config.AnalysisConfig
}

func New(profiles StaleProfileFinder, analyzer Analyzer, cfg config.AnalysisConfig) *SweepScheduler {
	return &SweepScheduler{
		scheduler: gocron.NewScheduler(time.UTC),
		profiles:  profiles,
		analyzer:  analyzer,
		cfg:       cfg,
	}
}

// Start begins the periodic sweep in the background.
func (s *SweepScheduler) Start() {
	s.scheduler.Every(s.cfg.SweepInterval).Do(s.sweep)
	s.scheduler.StartAsync()
	log.Printf("Scheduled-analysis sweep started (every %s, stale after %s)",
		s.cfg.SweepInterval, s.cfg.SweepStaleAfter)
}

func (s *SweepScheduler) Stop() {
	s.scheduler.Stop()
}

// sweep analyzes stale students one at a time. Individual failures are
// logged and skipped so one bad student cannot stall the batch.
func (s *SweepScheduler) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.SweepInterval)
	defer cancel()

	studentIDs, err := s.profiles.FindStale(ctx, s.cfg.SweepStaleAfter, sweepBatchSize)
	if err != nil {
		log.Printf("Error finding stale profiles for sweep: %v", err)
		return
	}
	if len(studentIDs) == 0 {
		return
	}
	log.Printf("Sweep found %d students due for scheduled analysis", len(studentIDs))

	for _, studentID := range studentIDs {
		if ctx.Err() != nil {
			log.Printf("Sweep interrupted: %v", ctx.Err())
			return
		}
		if _, err := s.analyzer.Analyze(ctx, models.AnalysisRequest{
			StudentID:     studentID,
			AnalysisType:  models.AnalysisScheduled,
			TriggerReason: "Periodic analysis sweep",
		}); err != nil {
			log.Printf("Scheduled analysis failed for student %s: %v", studentID, err)
		}
	}
}
