package service

import (
	"context"
	"log"
	"sync"
	"time"

	"learning-analytics-service/internal/models"
)

// TriggerChecker re-evaluates trigger state when a debounce timer fires.
type TriggerChecker interface {
	CheckTriggers(ctx context.Context, studentID string) (bool, string, error)
}

// Analyzer runs one full analysis.
type Analyzer interface {
	Analyze(ctx context.Context, request models.AnalysisRequest) (*models.AnalysisRecord, error)
}

type pendingAnalysis struct {
	timer  *time.Timer
	reason string
	gen    uint64
}

// AnalysisScheduler coalesces bursts of trigger-worthy events per student
// into a single delayed analysis. At most one timer is pending per
// student; a new event cancels and restarts it, so the analysis that
// eventually runs reflects the quiescent state after the burst and the
// reason from the last event.
type AnalysisScheduler struct {
	mu       sync.Mutex
	pending  map[string]*pendingAnalysis
	gen      uint64
	stopped  bool
	delay    time.Duration
	triggers TriggerChecker
	analyzer Analyzer
}

func NewAnalysisScheduler(triggers TriggerChecker, analyzer Analyzer, delay time.Duration) *AnalysisScheduler {
	return &AnalysisScheduler{
		pending:  make(map[string]*pendingAnalysis),
		delay:    delay,
		triggers: triggers,
		analyzer: analyzer,
	}
}

// Schedule arms (or re-arms) the student's debounce timer with the given
// reason hint. Each call installs a fresh timer under a new generation;
// an older timer whose callback already left the timer goroutine finds
// its generation superseded and abandons the run.
func (s *AnalysisScheduler) Schedule(studentID, reasonHint string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}

	if existing, ok := s.pending[studentID]; ok {
		existing.timer.Stop()
	}

	s.gen++
	gen := s.gen
	entry := &pendingAnalysis{reason: reasonHint, gen: gen}
	entry.timer = time.AfterFunc(s.delay, func() {
		s.fire(studentID, gen)
	})
	s.pending[studentID] = entry
}

// Pending reports whether the student has an armed timer.
func (s *AnalysisScheduler) Pending(studentID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pending[studentID]
	return ok
}

// fire re-checks triggers and runs the analysis if still warranted. State
// may have changed during the debounce window, so the stored reason only
// serves as a fallback hint.
func (s *AnalysisScheduler) fire(studentID string, gen uint64) {
	s.mu.Lock()
	entry, ok := s.pending[studentID]
	if !ok || entry.gen != gen {
		// A newer event re-armed the window while this timer was firing.
		s.mu.Unlock()
		return
	}
	delete(s.pending, studentID)
	reason := entry.reason
	s.mu.Unlock()

	ctx := context.Background()

	shouldRun, checkedReason, err := s.triggers.CheckTriggers(ctx, studentID)
	if err != nil {
		log.Printf("debounced trigger re-check failed for student %s: %v", studentID, err)
		return
	}
	if !shouldRun {
		log.Printf("debounced analysis for student %s skipped: triggers no longer met", studentID)
		return
	}
	if checkedReason != "" && checkedReason != noTriggersReason {
		reason = checkedReason
	}

	if _, err := s.analyzer.Analyze(ctx, models.AnalysisRequest{
		StudentID:     studentID,
		AnalysisType:  models.AnalysisTriggered,
		TriggerReason: reason,
	}); err != nil {
		log.Printf("debounced analysis failed for student %s: %v", studentID, err)
	}
}

// Stop cancels every pending timer and rejects further scheduling.
func (s *AnalysisScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopped = true
	for studentID, entry := range s.pending {
		entry.timer.Stop()
		delete(s.pending, studentID)
	}
}
