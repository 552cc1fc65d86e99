package service

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"learning-analytics-service/internal/errs"
	"learning-analytics-service/internal/models"
	"learning-analytics-service/internal/repository"
)

// ActivityStore is the append-only activity log the tracker writes to.
type ActivityStore interface {
	Insert(ctx context.Context, record *models.ActivityRecord) error
	History(ctx context.Context, studentID string, limit int, typeFilter models.ActivityType) ([]*models.ActivityRecord, error)
	Statistics(ctx context.Context, studentID string, from, to time.Time) ([]models.ActivityTypeCount, error)
	CountSince(ctx context.Context, studentID string, since time.Time) (int64, error)
}

// ProfileStore is the profile surface the tracker mutates.
type ProfileStore interface {
	EnsureProfile(ctx context.Context, studentID string) (*models.StudentProfile, error)
	FindByStudentID(ctx context.Context, studentID string) (*models.StudentProfile, error)
	ApplyActivityUpdate(ctx context.Context, studentID string, delta repository.ProfileDelta) error
}

// ProfileSnapshotCache invalidates cached profile snapshots after writes.
type ProfileSnapshotCache interface {
	Get(ctx context.Context, studentID string) *models.StudentProfile
	Set(ctx context.Context, profile *models.StudentProfile)
	Invalidate(ctx context.Context, studentID string)
}

type ActivityTracker struct {
	activities ActivityStore
	profiles   ProfileStore
	cache      ProfileSnapshotCache
}

func NewActivityTracker(activities ActivityStore, profiles ProfileStore, cache ProfileSnapshotCache) *ActivityTracker {
	return &ActivityTracker{
		activities: activities,
		profiles:   profiles,
		cache:      cache,
	}
}

// Record appends the activity and folds its contribution into the owning
// profile. The profile is created lazily on a student's first activity.
func (t *ActivityTracker) Record(ctx context.Context, record *models.ActivityRecord) error {
	if record.StudentID == "" {
		return errs.Validationf("studentId is required")
	}
	if !record.ActivityType.IsValid() {
		return errs.Validationf("unknown activity type %q", record.ActivityType)
	}
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now()
	}

	if _, err := t.profiles.EnsureProfile(ctx, record.StudentID); err != nil {
		return fmt.Errorf("failed to ensure profile: %w", err)
	}

	if err := t.activities.Insert(ctx, record); err != nil {
		return err
	}

	delta := deltaFor(record)
	if err := t.profiles.ApplyActivityUpdate(ctx, record.StudentID, delta); err != nil {
		return err
	}
	t.cache.Invalidate(ctx, record.StudentID)

	log.Printf("Recorded %s activity for student %s", record.ActivityType, record.StudentID)
	return nil
}

// deltaFor maps one activity onto its additive profile contribution.
func deltaFor(record *models.ActivityRecord) repository.ProfileDelta {
	delta := repository.ProfileDelta{ActivityAt: record.Timestamp}

	switch record.ActivityType {
	case models.ActivityChat:
		delta.ChatSessions = 1
		if chat := record.Chat; chat != nil {
			delta.TotalQuestions = chat.MessageCount
			if chat.HelpRequested {
				delta.HelpRequests = 1
			}
		}
	case models.ActivityHomework:
		delta.HomeworkSubmissions = 1
		delta.TotalQuestions = 1
		if hw := record.Homework; hw != nil {
			delta.GradeTotal = hw.Grade
			delta.GradedSubmissions = 1
			if hw.Grade >= 70 {
				delta.CorrectAnswers = 1
			}
			delta.Challenges = hw.Errors
		}
	case models.ActivityPractice:
		delta.TotalQuestions = 1
		if p := record.Practice; p != nil {
			if p.Success {
				delta.CorrectAnswers = 1
			}
			delta.SessionDuration = p.DurationMin
		}
	case models.ActivityLogin:
		if l := record.Login; l != nil {
			delta.SessionDuration = l.SessionDuration
		}
	case models.ActivityHelpRequest:
		delta.HelpRequests = 1
	case models.ActivityQuiz:
		if q := record.Quiz; q != nil {
			delta.TotalQuestions = q.QuestionsRun
			if q.TotalPoints > 0 && q.Score/q.TotalPoints >= 0.7 {
				delta.CorrectAnswers = q.QuestionsRun
			}
		}
	}
	return delta
}

// RecordChat records a chat activity, deriving complexity and help intent
// from the message text.
func (t *ActivityTracker) RecordChat(ctx context.Context, studentID, sessionID, message string, messageCount int) error {
	return t.Record(ctx, &models.ActivityRecord{
		StudentID:    studentID,
		ActivityType: models.ActivityChat,
		SessionID:    sessionID,
		Chat: &models.ChatActivity{
			MessageCount:  messageCount,
			Topic:         extractTopic(message),
			Complexity:    ClassifyComplexity(message),
			HelpRequested: DetectHelpRequest(message),
		},
	})
}

func (t *ActivityTracker) RecordHomework(ctx context.Context, studentID string, attempt models.HomeworkAttempt) error {
	if attempt.HomeworkID == "" {
		return errs.Validationf("homeworkId is required")
	}
	return t.Record(ctx, &models.ActivityRecord{
		StudentID:    studentID,
		ActivityType: models.ActivityHomework,
		Homework:     &attempt,
	})
}

func (t *ActivityTracker) RecordPractice(ctx context.Context, studentID string, attempt models.PracticeAttempt) error {
	return t.Record(ctx, &models.ActivityRecord{
		StudentID:    studentID,
		ActivityType: models.ActivityPractice,
		Practice:     &attempt,
	})
}

func (t *ActivityTracker) RecordLogin(ctx context.Context, studentID, method string, sessionDuration int) error {
	return t.Record(ctx, &models.ActivityRecord{
		StudentID:    studentID,
		ActivityType: models.ActivityLogin,
		Login: &models.LoginActivity{
			LoginMethod:     method,
			SessionDuration: sessionDuration,
		},
	})
}

// RecordHelpRequest records an explicit help request, classifying urgency
// from the request text.
func (t *ActivityTracker) RecordHelpRequest(ctx context.Context, studentID, helpType, text string) error {
	return t.Record(ctx, &models.ActivityRecord{
		StudentID:    studentID,
		ActivityType: models.ActivityHelpRequest,
		HelpRequest: &models.HelpRequest{
			HelpType: helpType,
			Urgency:  ClassifyUrgency(text),
			Resolved: false,
		},
	})
}

func (t *ActivityTracker) RecordQuiz(ctx context.Context, studentID string, attempt models.QuizAttempt) error {
	if attempt.QuizID == "" {
		return errs.Validationf("quizId is required")
	}
	return t.Record(ctx, &models.ActivityRecord{
		StudentID:    studentID,
		ActivityType: models.ActivityQuiz,
		Quiz:         &attempt,
	})
}

// History returns a student's activities, most recent first.
func (t *ActivityTracker) History(ctx context.Context, studentID string, limit int, typeFilter models.ActivityType) ([]*models.ActivityRecord, error) {
	if studentID == "" {
		return nil, errs.Validationf("studentId is required")
	}
	if typeFilter != "" && !typeFilter.IsValid() {
		return nil, errs.Validationf("unknown activity type %q", typeFilter)
	}
	if limit <= 0 {
		limit = 50
	}
	return t.activities.History(ctx, studentID, limit, typeFilter)
}

// Statistics returns activity counts grouped by type.
func (t *ActivityTracker) Statistics(ctx context.Context, studentID string, from, to time.Time) ([]models.ActivityTypeCount, error) {
	return t.activities.Statistics(ctx, studentID, from, to)
}

var advancedKeywords = []string{
	"join", "subquery", "window function", "cte", "recursive",
	"transaction", "index", "trigger", "partition",
}

var intermediateKeywords = []string{
	"group by", "having", "aggregate", "union", "distinct",
	"order by", "foreign key", "constraint",
}

// ClassifyComplexity buckets a question by the SQL constructs it mentions.
func ClassifyComplexity(text string) models.Complexity {
	lower := strings.ToLower(text)
	for _, kw := range advancedKeywords {
		if strings.Contains(lower, kw) {
			return models.ComplexityAdvanced
		}
	}
	for _, kw := range intermediateKeywords {
		if strings.Contains(lower, kw) {
			return models.ComplexityIntermediate
		}
	}
	return models.ComplexityBasic
}

var helpPhrases = []string{
	"help", "stuck", "don't understand", "dont understand",
	"confused", "can you explain", "what does this mean", "not working",
}

// DetectHelpRequest reports whether the message reads as a request for help.
func DetectHelpRequest(text string) bool {
	lower := strings.ToLower(text)
	for _, phrase := range helpPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

// ClassifyUrgency grades a help request by how pressed the student sounds.
func ClassifyUrgency(text string) models.Severity {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "urgent") || strings.Contains(lower, "asap") ||
		strings.Contains(lower, "deadline") || strings.Contains(lower, "exam"):
		return models.SeverityHigh
	case strings.Contains(lower, "stuck") || strings.Contains(lower, "confused"):
		return models.SeverityMedium
	default:
		return models.SeverityLow
	}
}

// extractTopic pulls the dominant SQL topic out of a chat message. Empty
// when nothing recognizable is mentioned.
func extractTopic(text string) string {
	lower := strings.ToLower(text)
	topics := []string{
		"join", "subquery", "group by", "order by", "where",
		"insert", "update", "delete", "select", "create table",
	}
	for _, topic := range topics {
		if strings.Contains(lower, topic) {
			return topic
		}
	}
	return ""
}
