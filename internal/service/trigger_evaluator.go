package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"learning-analytics-service/internal/config"
	"learning-analytics-service/internal/errs"
	"learning-analytics-service/internal/models"
)

const noTriggersReason = "No triggers met"

// TriggerEvaluator decides whether a student's recent state warrants a
// full analysis. It is a pure decision over already-persisted state; it
// never writes.
type TriggerEvaluator struct {
	activities ActivityStore
	profiles   ProfileStore
	cache      ProfileSnapshotCache
	thresholds config.TriggerConfig
}

func NewTriggerEvaluator(activities ActivityStore, profiles ProfileStore, cache ProfileSnapshotCache, thresholds config.TriggerConfig) *TriggerEvaluator {
	return &TriggerEvaluator{
		activities: activities,
		profiles:   profiles,
		cache:      cache,
		thresholds: thresholds,
	}
}

// CheckTriggers evaluates the trigger rules in priority order and returns
// the first match. Students without a profile never trigger.
func (e *TriggerEvaluator) CheckTriggers(ctx context.Context, studentID string) (bool, string, error) {
	if studentID == "" {
		return false, "", errs.Validationf("studentId is required")
	}

	profile, err := e.loadProfile(ctx, studentID)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return false, noTriggersReason, nil
		}
		return false, "", err
	}

	recent, err := e.activities.History(ctx, studentID, e.thresholds.RecentWindow, "")
	if err != nil {
		return false, "", fmt.Errorf("failed to load recent activities: %w", err)
	}

	if hit, reason := e.checkHelpRequests(recent); hit {
		return true, reason, nil
	}
	if hit, reason := e.checkHomeworkFailures(recent); hit {
		return true, reason, nil
	}
	if hit, reason := e.checkScoreDecline(profile); hit {
		return true, reason, nil
	}

	hit, reason, err := e.checkEngagementDrop(ctx, profile)
	if err != nil {
		return false, "", err
	}
	if hit {
		return true, reason, nil
	}

	return false, noTriggersReason, nil
}

func (e *TriggerEvaluator) loadProfile(ctx context.Context, studentID string) (*models.StudentProfile, error) {
	if cached := e.cache.Get(ctx, studentID); cached != nil {
		return cached, nil
	}
	profile, err := e.profiles.FindByStudentID(ctx, studentID)
	if err != nil {
		return nil, err
	}
	e.cache.Set(ctx, profile)
	return profile, nil
}

// Rule 1: help requests in the recent window.
func (e *TriggerEvaluator) checkHelpRequests(recent []*models.ActivityRecord) (bool, string) {
	count := 0
	for _, record := range recent {
		switch record.ActivityType {
		case models.ActivityHelpRequest:
			count++
		case models.ActivityChat:
			if record.Chat != nil && record.Chat.HelpRequested {
				count++
			}
		}
	}
	if count >= e.thresholds.HelpRequestFrequency {
		return true, fmt.Sprintf("High help request frequency: %d requests", count)
	}
	return false, ""
}

// Rule 2: failed homework submissions in the recent window.
func (e *TriggerEvaluator) checkHomeworkFailures(recent []*models.ActivityRecord) (bool, string) {
	failures := 0
	for _, record := range recent {
		if record.ActivityType == models.ActivityHomework && record.Homework != nil &&
			record.Homework.Grade < e.thresholds.FailingGrade {
			failures++
		}
	}
	if failures >= e.thresholds.HomeworkFailures {
		return true, fmt.Sprintf("Multiple homework failures: %d failed assignments", failures)
	}
	return false, ""
}

// Rule 3: knowledge-score decline across the last three history entries.
// The comparison is between the two most recent scores; one ordinal step
// equals a 25% decline.
func (e *TriggerEvaluator) checkScoreDecline(profile *models.StudentProfile) (bool, string) {
	history := profile.ScoreHistory
	if len(history) < 3 {
		return false, ""
	}
	window := history[len(history)-3:]
	previous := window[len(window)-2].Score
	current := window[len(window)-1].Score

	decline := models.DeclinePercent(previous, current)
	if decline >= e.thresholds.GradeDeclinePercent {
		return true, fmt.Sprintf("Knowledge score decline: %d%% (%s to %s)", decline, previous, current)
	}
	return false, ""
}

// Rule 4: 7-day activity volume below the historical daily average scaled
// by the configured drop percentage.
func (e *TriggerEvaluator) checkEngagementDrop(ctx context.Context, profile *models.StudentProfile) (bool, string, error) {
	ageDays := int(time.Since(profile.CreatedAt).Hours() / 24)
	if ageDays < 14 {
		// Too little history to establish a baseline.
		return false, "", nil
	}

	stats, err := e.activities.Statistics(ctx, profile.StudentID, time.Time{}, time.Time{})
	if err != nil {
		return false, "", fmt.Errorf("failed to load activity statistics: %w", err)
	}
	var total int64
	for _, bucket := range stats {
		total += bucket.Count
	}
	if total == 0 {
		return false, "", nil
	}

	recentCount, err := e.activities.CountSince(ctx, profile.StudentID, time.Now().AddDate(0, 0, -7))
	if err != nil {
		return false, "", fmt.Errorf("failed to count recent activities: %w", err)
	}

	dailyAverage := float64(total) / float64(ageDays)
	threshold := dailyAverage * (1 - float64(e.thresholds.EngagementDropPct)/100)
	if float64(recentCount) < threshold {
		log.Printf("Engagement drop for student %s: %d activities in 7 days, daily baseline %.2f",
			profile.StudentID, recentCount, dailyAverage)
		return true, fmt.Sprintf("Engagement drop: %d activities in the last 7 days against a daily baseline of %.1f", recentCount, dailyAverage), nil
	}
	return false, "", nil
}
