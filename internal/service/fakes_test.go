package service

import (
	"context"
	"sync"
	"time"

	"learning-analytics-service/internal/errs"
	"learning-analytics-service/internal/models"
	"learning-analytics-service/internal/repository"
)

// In-memory fakes implementing the narrow store interfaces the services
// accept.

type fakeActivityStore struct {
	mu      sync.Mutex
	records []*models.ActivityRecord
}

func (f *fakeActivityStore) Insert(_ context.Context, record *models.ActivityRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, record)
	return nil
}

func (f *fakeActivityStore) History(_ context.Context, studentID string, limit int, typeFilter models.ActivityType) ([]*models.ActivityRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.ActivityRecord
	for i := len(f.records) - 1; i >= 0 && len(out) < limit; i-- {
		record := f.records[i]
		if record.StudentID != studentID {
			continue
		}
		if typeFilter != "" && record.ActivityType != typeFilter {
			continue
		}
		out = append(out, record)
	}
	return out, nil
}

func (f *fakeActivityStore) Statistics(_ context.Context, studentID string, _, _ time.Time) ([]models.ActivityTypeCount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	counts := make(map[models.ActivityType]int64)
	for _, record := range f.records {
		if studentID == "" || record.StudentID == studentID {
			counts[record.ActivityType]++
		}
	}
	var out []models.ActivityTypeCount
	for activityType, count := range counts {
		out = append(out, models.ActivityTypeCount{ActivityType: activityType, Count: count})
	}
	return out, nil
}

func (f *fakeActivityStore) CountSince(_ context.Context, studentID string, since time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var count int64
	for _, record := range f.records {
		if record.StudentID == studentID && !record.Timestamp.Before(since) {
			count++
		}
	}
	return count, nil
}

type fakeProfileStore struct {
	mu       sync.Mutex
	profiles map[string]*models.StudentProfile
}

func newFakeProfileStore() *fakeProfileStore {
	return &fakeProfileStore{profiles: make(map[string]*models.StudentProfile)}
}

func (f *fakeProfileStore) put(profile *models.StudentProfile) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.profiles[profile.StudentID] = profile
}

func (f *fakeProfileStore) EnsureProfile(_ context.Context, studentID string) (*models.StudentProfile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if profile, ok := f.profiles[studentID]; ok {
		return profile, nil
	}
	profile := &models.StudentProfile{
		StudentID:      studentID,
		KnowledgeScore: models.ScoreEmpty,
		CreatedAt:      time.Now(),
	}
	f.profiles[studentID] = profile
	return profile, nil
}

func (f *fakeProfileStore) FindByStudentID(_ context.Context, studentID string) (*models.StudentProfile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	profile, ok := f.profiles[studentID]
	if !ok {
		return nil, errs.NotFoundf("profile not found for student %s", studentID)
	}
	return profile, nil
}

func (f *fakeProfileStore) ApplyActivityUpdate(_ context.Context, studentID string, delta repository.ProfileDelta) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	profile, ok := f.profiles[studentID]
	if !ok {
		return errs.NotFoundf("profile not found for student %s", studentID)
	}
	profile.TotalQuestions += delta.TotalQuestions
	profile.CorrectAnswers += delta.CorrectAnswers
	profile.HomeworkSubmissions += delta.HomeworkSubmissions
	profile.GradeTotal += delta.GradeTotal
	profile.GradedSubmissions += delta.GradedSubmissions
	profile.EngagementMetrics.ChatSessions += delta.ChatSessions
	profile.EngagementMetrics.AverageSessionDuration += delta.SessionDuration
	profile.EngagementMetrics.HelpRequests += delta.HelpRequests
	profile.EngagementMetrics.SelfCorrections += delta.SelfCorrections
	for _, challenge := range delta.Challenges {
		seen := false
		for _, existing := range profile.CommonChallenges {
			if existing == challenge {
				seen = true
				break
			}
		}
		if !seen {
			profile.CommonChallenges = append(profile.CommonChallenges, challenge)
		}
	}
	if delta.ActivityAt.After(profile.LastActivity) {
		profile.LastActivity = delta.ActivityAt
	}
	return nil
}

func (f *fakeProfileStore) UpdateKnowledgeScore(_ context.Context, studentID string, entry models.ScoreHistoryEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	profile, ok := f.profiles[studentID]
	if !ok {
		return errs.NotFoundf("profile not found for student %s", studentID)
	}
	profile.KnowledgeScore = entry.Score
	profile.ScoreHistory = append(profile.ScoreHistory, entry)
	return nil
}

func (f *fakeProfileStore) AddIssue(_ context.Context, studentID string, issue models.IssueEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	profile, ok := f.profiles[studentID]
	if !ok {
		return errs.NotFoundf("profile not found for student %s", studentID)
	}
	profile.IssueHistory = append(profile.IssueHistory, issue)
	profile.IssueCount++
	profile.LastIssueUpdate = issue.DetectedAt
	return nil
}

func (f *fakeProfileStore) ResolveIssue(_ context.Context, studentID, issueID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	profile, ok := f.profiles[studentID]
	if !ok {
		return false, nil
	}
	for i := range profile.IssueHistory {
		issue := &profile.IssueHistory[i]
		if issue.IssueID == issueID && issue.ResolvedAt == nil {
			now := time.Now()
			issue.ResolvedAt = &now
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeProfileStore) Analytics(_ context.Context) (*models.FleetAnalytics, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	analytics := &models.FleetAnalytics{
		TotalStudents:     int64(len(f.profiles)),
		ScoreDistribution: make(map[models.KnowledgeScore]int64),
		RiskDistribution:  make(map[models.Level]int64),
	}
	for _, profile := range f.profiles {
		analytics.ScoreDistribution[profile.KnowledgeScore]++
	}
	return analytics, nil
}

func (f *fakeProfileStore) SetConversationInsights(_ context.Context, studentID string, insights models.ConversationInsights) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if profile, ok := f.profiles[studentID]; ok {
		profile.ConversationInsights = insights
	}
	return nil
}

func (f *fakeProfileStore) SetRiskFactors(_ context.Context, studentID string, risk models.RiskFactors) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if profile, ok := f.profiles[studentID]; ok {
		profile.RiskFactors = risk
	}
	return nil
}

func (f *fakeProfileStore) SetLastAnalyzedAt(_ context.Context, studentID string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if profile, ok := f.profiles[studentID]; ok {
		profile.LastAnalyzedAt = at
	}
	return nil
}

// noopCache always misses, so every read goes to the store.
type noopCache struct{}

func (noopCache) Get(context.Context, string) *models.StudentProfile { return nil }
func (noopCache) Set(context.Context, *models.StudentProfile)        {}
func (noopCache) Invalidate(context.Context, string)                 {}

type fakeSummaryStore struct {
	mu        sync.Mutex
	summaries map[string]*models.ConversationSummary
}

func newFakeSummaryStore() *fakeSummaryStore {
	return &fakeSummaryStore{summaries: make(map[string]*models.ConversationSummary)}
}

func (f *fakeSummaryStore) FindBySessionID(_ context.Context, sessionID string) (*models.ConversationSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.summaries[sessionID], nil
}

func (f *fakeSummaryStore) Insert(_ context.Context, summary *models.ConversationSummary) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.summaries[summary.SessionID] = summary
	return nil
}

func (f *fakeSummaryStore) FindByStudentID(_ context.Context, studentID string, limit int) ([]*models.ConversationSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.ConversationSummary
	for _, summary := range f.summaries {
		if summary.StudentID == studentID && len(out) < limit {
			out = append(out, summary)
		}
	}
	return out, nil
}

type fakePerformanceStore struct {
	records []*models.PerformanceRecord
}

func (f *fakePerformanceStore) FindByStudentID(_ context.Context, studentID string, limit int) ([]*models.PerformanceRecord, error) {
	var out []*models.PerformanceRecord
	for _, record := range f.records {
		if record.StudentID == studentID && len(out) < limit {
			out = append(out, record)
		}
	}
	return out, nil
}

type fakeAnalysisStore struct {
	mu      sync.Mutex
	records []*models.AnalysisRecord
}

func (f *fakeAnalysisStore) Insert(_ context.Context, record *models.AnalysisRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, record)
	return nil
}

func (f *fakeAnalysisStore) FindByStudentID(_ context.Context, studentID string, limit int) ([]*models.AnalysisRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.AnalysisRecord
	for i := len(f.records) - 1; i >= 0 && len(out) < limit; i-- {
		if f.records[i].StudentID == studentID {
			out = append(out, f.records[i])
		}
	}
	return out, nil
}

// fakeCompleter replays canned responses (or errors) in order, repeating
// the last one when exhausted.
type fakeCompleter struct {
	mu        sync.Mutex
	responses []string
	errors    []error
	calls     int
	prompts   []string
}

func (f *fakeCompleter) Complete(_ context.Context, _, userPrompt string, _ int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	f.calls++
	f.prompts = append(f.prompts, userPrompt)
	if i < len(f.errors) && f.errors[i] != nil {
		return "", f.errors[i]
	}
	if len(f.responses) == 0 {
		return "", nil
	}
	if i >= len(f.responses) {
		i = len(f.responses) - 1
	}
	return f.responses[i], nil
}

type fakePublisher struct {
	mu             sync.Mutex
	scoreEvents    []models.ScoreEvent
	issueEvents    []models.IssueEvent
	analysisEvents []models.AnalysisEvent
}

func (f *fakePublisher) PublishScoreUpdated(_ context.Context, event models.ScoreEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scoreEvents = append(f.scoreEvents, event)
	return nil
}

func (f *fakePublisher) PublishIssueDetected(_ context.Context, event models.IssueEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.issueEvents = append(f.issueEvents, event)
	return nil
}

func (f *fakePublisher) PublishAnalysisCompleted(_ context.Context, event models.AnalysisEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.analysisEvents = append(f.analysisEvents, event)
	return nil
}
