package service

import (
	"context"
	"log"
	"time"

	"learning-analytics-service/internal/errs"
	"learning-analytics-service/internal/models"

	"github.com/google/uuid"
)

// ProfileLedger is the profile surface the score state machine and issue
// ledger write through.
type ProfileLedger interface {
	EnsureProfile(ctx context.Context, studentID string) (*models.StudentProfile, error)
	FindByStudentID(ctx context.Context, studentID string) (*models.StudentProfile, error)
	UpdateKnowledgeScore(ctx context.Context, studentID string, entry models.ScoreHistoryEntry) error
	AddIssue(ctx context.Context, studentID string, issue models.IssueEntry) error
	ResolveIssue(ctx context.Context, studentID, issueID string) (bool, error)
	Analytics(ctx context.Context) (*models.FleetAnalytics, error)
}

// EventPublisher announces analysis outcomes to the rest of the platform.
// Publishing is best effort; failures are logged, never propagated.
type EventPublisher interface {
	PublishScoreUpdated(ctx context.Context, event models.ScoreEvent) error
	PublishIssueDetected(ctx context.Context, event models.IssueEvent) error
	PublishAnalysisCompleted(ctx context.Context, event models.AnalysisEvent) error
}

type ProfileService struct {
	profiles  ProfileLedger
	cache     ProfileSnapshotCache
	publisher EventPublisher
}

func NewProfileService(profiles ProfileLedger, cache ProfileSnapshotCache, publisher EventPublisher) *ProfileService {
	return &ProfileService{
		profiles:  profiles,
		cache:     cache,
		publisher: publisher,
	}
}

// Provision creates the student's profile if missing and seeds the score
// history with the initial empty state.
func (s *ProfileService) Provision(ctx context.Context, studentID string) (*models.StudentProfile, error) {
	if studentID == "" {
		return nil, errs.Validationf("studentId is required")
	}

	profile, err := s.profiles.EnsureProfile(ctx, studentID)
	if err != nil {
		return nil, err
	}
	if len(profile.ScoreHistory) == 0 {
		if err := s.UpdateKnowledgeScore(ctx, studentID, models.ScoreEmpty, "Profile provisioned", models.UpdatedBySystem); err != nil {
			return nil, err
		}
		return s.Profile(ctx, studentID)
	}
	return profile, nil
}

// Profile returns the student's profile, served from the snapshot cache
// when fresh.
func (s *ProfileService) Profile(ctx context.Context, studentID string) (*models.StudentProfile, error) {
	if studentID == "" {
		return nil, errs.Validationf("studentId is required")
	}
	if cached := s.cache.Get(ctx, studentID); cached != nil {
		return cached, nil
	}
	profile, err := s.profiles.FindByStudentID(ctx, studentID)
	if err != nil {
		return nil, err
	}
	s.cache.Set(ctx, profile)
	return profile, nil
}

// UpdateKnowledgeScore records one score transition. Every transition is
// appended to history; the scalar field always tracks the latest entry.
// There are no forbidden transitions.
func (s *ProfileService) UpdateKnowledgeScore(ctx context.Context, studentID string, score models.KnowledgeScore, reason string, updatedBy models.ScoreUpdater) error {
	if studentID == "" {
		return errs.Validationf("studentId is required")
	}
	if !score.IsValid() {
		return errs.Validationf("unknown knowledge score %q", score)
	}

	var previous models.KnowledgeScore
	if profile, err := s.profiles.FindByStudentID(ctx, studentID); err == nil {
		previous = profile.KnowledgeScore
	}

	entry := models.ScoreHistoryEntry{
		Score:     score,
		UpdatedAt: time.Now(),
		Reason:    reason,
		UpdatedBy: updatedBy,
	}
	if err := s.profiles.UpdateKnowledgeScore(ctx, studentID, entry); err != nil {
		return err
	}
	s.cache.Invalidate(ctx, studentID)

	log.Printf("Knowledge score for student %s set to %s by %s (%s)", studentID, score, updatedBy, reason)
	if err := s.publisher.PublishScoreUpdated(ctx, models.ScoreEvent{
		StudentID:     studentID,
		PreviousScore: previous,
		NewScore:      score,
		Reason:        reason,
		UpdatedBy:     updatedBy,
		Timestamp:     entry.UpdatedAt,
	}); err != nil {
		log.Printf("failed to publish score event for student %s: %v", studentID, err)
	}
	return nil
}

// AddIssue appends one issue entry with a fresh id. The ledger never
// deduplicates; every detection is recorded.
func (s *ProfileService) AddIssue(ctx context.Context, studentID, description string, severity models.Severity) (string, error) {
	if studentID == "" {
		return "", errs.Validationf("studentId is required")
	}
	if description == "" {
		return "", errs.Validationf("issue description is required")
	}
	if !severity.IsValid() {
		return "", errs.Validationf("unknown severity %q", severity)
	}

	issue := models.IssueEntry{
		IssueID:     uuid.NewString(),
		Description: description,
		DetectedAt:  time.Now(),
		Severity:    severity,
	}
	if err := s.profiles.AddIssue(ctx, studentID, issue); err != nil {
		return "", err
	}
	s.cache.Invalidate(ctx, studentID)

	if err := s.publisher.PublishIssueDetected(ctx, models.IssueEvent{
		StudentID:   studentID,
		IssueID:     issue.IssueID,
		Description: description,
		Severity:    severity,
		Timestamp:   issue.DetectedAt,
	}); err != nil {
		log.Printf("failed to publish issue event for student %s: %v", studentID, err)
	}
	return issue.IssueID, nil
}

// ResolveIssue marks the issue resolved. The second call for the same
// issue returns false.
func (s *ProfileService) ResolveIssue(ctx context.Context, studentID, issueID string) (bool, error) {
	if studentID == "" || issueID == "" {
		return false, errs.Validationf("studentId and issueId are required")
	}
	resolved, err := s.profiles.ResolveIssue(ctx, studentID, issueID)
	if err != nil {
		return false, err
	}
	if resolved {
		s.cache.Invalidate(ctx, studentID)
	}
	return resolved, nil
}

// Issues returns the student's full issue ledger.
func (s *ProfileService) Issues(ctx context.Context, studentID string) (*models.IssueReport, error) {
	profile, err := s.Profile(ctx, studentID)
	if err != nil {
		return nil, err
	}
	return &models.IssueReport{
		TotalIssues:      profile.IssueCount,
		UnresolvedIssues: profile.UnresolvedIssues(),
		IssueHistory:     profile.IssueHistory,
	}, nil
}

// Analytics returns the fleet-wide score and grade distributions.
func (s *ProfileService) Analytics(ctx context.Context) (*models.FleetAnalytics, error) {
	return s.profiles.Analytics(ctx)
}
