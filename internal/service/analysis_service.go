package service

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"learning-analytics-service/internal/config"
	"learning-analytics-service/internal/errs"
	"learning-analytics-service/internal/llm"
	"learning-analytics-service/internal/models"

	"github.com/google/uuid"
)

// AnalysisStore persists write-once analysis records.
type AnalysisStore interface {
	Insert(ctx context.Context, record *models.AnalysisRecord) error
	FindByStudentID(ctx context.Context, studentID string, limit int) ([]*models.AnalysisRecord, error)
}

// PerformanceStore reads graded submissions written by the grading
// pipeline.
type PerformanceStore interface {
	FindByStudentID(ctx context.Context, studentID string, limit int) ([]*models.PerformanceRecord, error)
}

// ProfileUpdater is the score/issue write surface the orchestrator applies
// its outcomes through.
type ProfileUpdater interface {
	UpdateKnowledgeScore(ctx context.Context, studentID string, score models.KnowledgeScore, reason string, updatedBy models.ScoreUpdater) error
	AddIssue(ctx context.Context, studentID, description string, severity models.Severity) (string, error)
}

// AnalysisProfileReader reads the profile and stamps analysis bookkeeping.
type AnalysisProfileReader interface {
	FindByStudentID(ctx context.Context, studentID string) (*models.StudentProfile, error)
	SetLastAnalyzedAt(ctx context.Context, studentID string, at time.Time) error
	SetRiskFactors(ctx context.Context, studentID string, risk models.RiskFactors) error
}

type AnalysisService struct {
	profiles    AnalysisProfileReader
	activities  ActivityStore
	summaries   SummaryStore
	performance PerformanceStore
	analyses    AnalysisStore
	updater     ProfileUpdater
	completer   llm.Completer
	publisher   EventPublisher
	cfg         config.AnalysisConfig
	maxTokens   int

	// One mutex per student so manual, debounced and scheduled analyses
	// for the same student never overlap.
	mu       sync.Mutex
	inFlight map[string]*sync.Mutex
}

func NewAnalysisService(
	profiles AnalysisProfileReader,
	activities ActivityStore,
	summaries SummaryStore,
	performance PerformanceStore,
	analyses AnalysisStore,
	updater ProfileUpdater,
	completer llm.Completer,
	publisher EventPublisher,
	cfg config.AnalysisConfig,
	maxTokens int,
) *AnalysisService {
	return &AnalysisService{
		profiles:    profiles,
		activities:  activities,
		summaries:   summaries,
		performance: performance,
		analyses:    analyses,
		updater:     updater,
		completer:   completer,
		publisher:   publisher,
		cfg:         cfg,
		maxTokens:   maxTokens,
		inFlight:    make(map[string]*sync.Mutex),
	}
}

func (s *AnalysisService) studentLock(studentID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.inFlight[studentID]
	if !ok {
		lock = &sync.Mutex{}
		s.inFlight[studentID] = lock
	}
	return lock
}

// analysisContext is everything gathered before the reasoning call.
type analysisContext struct {
	profile     *models.StudentProfile
	activities  []*models.ActivityRecord
	summaries   []*models.ConversationSummary
	performance []*models.PerformanceRecord
}

// Analyze runs one full analysis: gather context, consult the reasoning
// service, derive a score recommendation by rule, persist the audit
// record, and apply the gated side effects. Reasoning-service failures
// propagate; unparseable replies degrade to a deterministic fallback.
func (s *AnalysisService) Analyze(ctx context.Context, request models.AnalysisRequest) (*models.AnalysisRecord, error) {
	if request.StudentID == "" {
		return nil, errs.Validationf("studentId is required")
	}
	if request.AnalysisType == "" {
		request.AnalysisType = models.AnalysisManual
	}
	if !request.AnalysisType.IsValid() {
		return nil, errs.Validationf("unknown analysis type %q", request.AnalysisType)
	}

	lock := s.studentLock(request.StudentID)
	lock.Lock()
	defer lock.Unlock()

	gathered, err := s.gather(ctx, request.StudentID)
	if err != nil {
		return nil, err
	}

	raw, err := s.completer.Complete(ctx, analysisSystemPrompt, s.renderPrompt(gathered), s.maxTokens)
	if err != nil {
		return nil, fmt.Errorf("analysis for student %s: %w", request.StudentID, err)
	}

	parsed := parseAnalysisResponse(raw)
	payload := parsed.Payload
	fallback := !parsed.Structured
	if fallback {
		log.Printf("unparseable analysis response for student %s, using deterministic fallback", request.StudentID)
		payload = fallbackAnalysisPayload(gathered.profile)
	}

	update := s.recommendScore(gathered.profile, payload)
	record := s.buildRecord(request, payload, update, raw, fallback)

	if err := s.analyses.Insert(ctx, record); err != nil {
		return nil, err
	}

	s.applyOutcomes(ctx, gathered.profile, record)

	if err := s.profiles.SetLastAnalyzedAt(ctx, request.StudentID, record.AnalysisDate); err != nil {
		log.Printf("failed to stamp analysis time for student %s: %v", request.StudentID, err)
	}
	if err := s.publisher.PublishAnalysisCompleted(ctx, models.AnalysisEvent{
		StudentID:     record.StudentID,
		AnalysisID:    record.AnalysisID,
		AnalysisType:  record.AnalysisType,
		TriggerReason: record.TriggerReason,
		Timestamp:     record.AnalysisDate,
	}); err != nil {
		log.Printf("failed to publish analysis event for student %s: %v", request.StudentID, err)
	}

	log.Printf("Analysis %s completed for student %s (type=%s, confidence=%d, fallback=%t)",
		record.AnalysisID, record.StudentID, record.AnalysisType,
		record.KnowledgeScoreUpdate.ConfidenceLevel, fallback)
	return record, nil
}

// History returns a student's past analysis records, most recent first.
func (s *AnalysisService) History(ctx context.Context, studentID string, limit int) ([]*models.AnalysisRecord, error) {
	if studentID == "" {
		return nil, errs.Validationf("studentId is required")
	}
	if limit <= 0 {
		limit = 20
	}
	return s.analyses.FindByStudentID(ctx, studentID, limit)
}

// gather loads profile, activities, summaries and performance records
// concurrently. The profile is mandatory; the rest only narrow the
// analysis when missing.
func (s *AnalysisService) gather(ctx context.Context, studentID string) (*analysisContext, error) {
	gathered := &analysisContext{}
	errors := make([]error, 4)

	var wg sync.WaitGroup
	wg.Add(4)
	go func() {
		defer wg.Done()
		gathered.profile, errors[0] = s.profiles.FindByStudentID(ctx, studentID)
	}()
	go func() {
		defer wg.Done()
		gathered.activities, errors[1] = s.activities.History(ctx, studentID, s.cfg.ActivityLimit, "")
	}()
	go func() {
		defer wg.Done()
		gathered.summaries, errors[2] = s.summaries.FindByStudentID(ctx, studentID, s.cfg.ConversationLimit)
	}()
	go func() {
		defer wg.Done()
		gathered.performance, errors[3] = s.performance.FindByStudentID(ctx, studentID, s.cfg.PerformanceLimit)
	}()
	wg.Wait()

	if errors[0] != nil {
		return nil, errors[0]
	}
	for _, err := range errors[1:] {
		if err != nil {
			return nil, err
		}
	}
	return gathered, nil
}

// recommendScore derives the score update by rule rather than trusting
// the model's own recommendation. Evidence below the minimum question
// count caps confidence and forces admin review.
func (s *AnalysisService) recommendScore(profile *models.StudentProfile, payload models.AnalysisPayload) models.ScoreUpdate {
	current := profile.KnowledgeScore
	recommended := current
	reasoning := "No score change indicated"

	challenge := payload.ChallengeSummary
	performance := payload.PerformanceSummary
	conversation := payload.ConversationSummary

	switch {
	case challenge.ChallengeSeverity == models.SeverityHigh && challenge.InterventionNeeded:
		recommended = models.ScoreStruggling
		reasoning = "High-severity challenges requiring intervention"
	case performance.GradeTrend == models.TrendImproving && performance.AverageGrade > 80:
		recommended = models.ScoreGood
		reasoning = "Improving grades with strong average"
	case challenge.ChallengeSeverity == models.SeverityMedium || conversation.ComprehensionLevel == models.LevelLow:
		recommended = models.ScoreNeedsAttention
		reasoning = "Moderate challenges or low comprehension"
	}

	confidence := clampConfidence(payload.Confidence)
	adminReview := false
	if profile.TotalQuestions < s.cfg.MinQuestions {
		if confidence > s.cfg.LowEvidenceCap {
			confidence = s.cfg.LowEvidenceCap
		}
		adminReview = true
		reasoning += " (limited evidence, admin review required)"
	}

	return models.ScoreUpdate{
		PreviousScore:       current,
		NewScore:            recommended,
		ConfidenceLevel:     confidence,
		Reasoning:           reasoning,
		SupportingEvidence:  payload.Insights,
		AdminReviewRequired: adminReview,
	}
}

func (s *AnalysisService) buildRecord(request models.AnalysisRequest, payload models.AnalysisPayload, update models.ScoreUpdate, raw string, fallback bool) *models.AnalysisRecord {
	return &models.AnalysisRecord{
		AnalysisID:           uuid.NewString(),
		StudentID:            request.StudentID,
		AnalysisDate:         time.Now(),
		AnalysisType:         request.AnalysisType,
		TriggerReason:        request.TriggerReason,
		ConversationSummary:  payload.ConversationSummary,
		PerformanceSummary:   payload.PerformanceSummary,
		ChallengeSummary:     payload.ChallengeSummary,
		KnowledgeScoreUpdate: update,
		DetectedIssues:       payload.DetectedIssues,
		ModelInsights: models.ModelInsights{
			RawResponse:       raw,
			ExtractedInsights: payload.Insights,
			SuggestedActions:  payload.Actions,
			ConfidenceScore:   update.ConfidenceLevel,
			Fallback:          fallback,
		},
	}
}

// applyOutcomes performs the gated side effects after the record is
// persisted: the confidence-gated score apply, the issue ledger appends,
// and the issue-severity recompute. The recompute runs last and is
// authoritative when it disagrees with the model-derived recommendation.
func (s *AnalysisService) applyOutcomes(ctx context.Context, profile *models.StudentProfile, record *models.AnalysisRecord) {
	update := record.KnowledgeScoreUpdate
	currentScore := profile.KnowledgeScore

	if update.NewScore != update.PreviousScore &&
		update.ConfidenceLevel >= s.cfg.ApplyConfidence && !update.AdminReviewRequired {
		if err := s.updater.UpdateKnowledgeScore(ctx, record.StudentID, update.NewScore, update.Reasoning, models.UpdatedByAI); err != nil {
			log.Printf("failed to apply score update for student %s: %v", record.StudentID, err)
		} else {
			currentScore = update.NewScore
		}
	} else if update.NewScore != update.PreviousScore {
		log.Printf("score recommendation %s for student %s withheld (confidence=%d, adminReview=%t)",
			update.NewScore, record.StudentID, update.ConfidenceLevel, update.AdminReviewRequired)
	}

	issues := s.detectIssues(record)
	record.DetectedIssues = issues
	for _, issue := range issues {
		if _, err := s.updater.AddIssue(ctx, record.StudentID, issue.Description, issue.Severity); err != nil {
			log.Printf("failed to record issue for student %s: %v", record.StudentID, err)
		}
	}

	if recomputed, ok := scoreFromIssues(issues, profile, currentScore); ok && recomputed != currentScore {
		reason := fmt.Sprintf("Issue severity recomputation (%d issues detected)", len(issues))
		if err := s.updater.UpdateKnowledgeScore(ctx, record.StudentID, recomputed, reason, models.UpdatedBySystem); err != nil {
			log.Printf("failed to apply issue-based score for student %s: %v", record.StudentID, err)
		}
	}

	if err := s.profiles.SetRiskFactors(ctx, record.StudentID, riskFromIssues(issues, record.ChallengeSummary.RiskFactors)); err != nil {
		log.Printf("failed to update risk factors for student %s: %v", record.StudentID, err)
	}
}

// riskFromIssues grades the student's risk from this run's issue severities.
// The model's named risk factors are kept when present; otherwise the
// high-severity issue descriptions stand in.
func riskFromIssues(issues []models.DetectedIssue, factors []string) models.RiskFactors {
	high, medium := 0, 0
	for _, issue := range issues {
		switch issue.Severity {
		case models.SeverityHigh:
			high++
		case models.SeverityMedium:
			medium++
		}
	}

	level := models.LevelLow
	switch {
	case high >= 1:
		level = models.LevelHigh
	case medium >= 2:
		level = models.LevelMedium
	}

	if len(factors) == 0 {
		for _, issue := range issues {
			if issue.Severity == models.SeverityHigh {
				factors = append(factors, issue.Description)
			}
		}
	}

	return models.RiskFactors{
		IsAtRisk:       level != models.LevelLow,
		RiskLevel:      level,
		Factors:        factors,
		LastAssessment: time.Now(),
	}
}

// detectIssues merges model-reported issues with the rule backstops,
// deduplicating by substring within this run.
func (s *AnalysisService) detectIssues(record *models.AnalysisRecord) []models.DetectedIssue {
	var issues []models.DetectedIssue

	add := func(candidate models.DetectedIssue) {
		if candidate.Description == "" {
			return
		}
		if !candidate.Severity.IsValid() {
			candidate.Severity = models.SeverityMedium
		}
		lower := strings.ToLower(candidate.Description)
		for _, existing := range issues {
			existingLower := strings.ToLower(existing.Description)
			if strings.Contains(existingLower, lower) || strings.Contains(lower, existingLower) {
				return
			}
		}
		issues = append(issues, candidate)
	}

	for _, issue := range record.DetectedIssues {
		add(issue)
	}

	conversation := record.ConversationSummary
	performance := record.PerformanceSummary

	if conversation.ComprehensionLevel == models.LevelLow {
		add(models.DetectedIssue{
			Description: "Low comprehension level in tutoring conversations",
			Severity:    models.SeverityHigh,
			Category:    "comprehension",
		})
	}
	if performance.GradeTrend == models.TrendDeclining {
		add(models.DetectedIssue{
			Description: "Declining grade trend across recent homework",
			Severity:    models.SeverityMedium,
			Category:    "performance",
		})
	}
	if conversation.HelpRequestFrequency > 5 {
		add(models.DetectedIssue{
			Description: fmt.Sprintf("High help request frequency: %d requests", conversation.HelpRequestFrequency),
			Severity:    models.SeverityMedium,
			Category:    "engagement",
		})
	}
	if len(conversation.DifficultyAreas) > 3 {
		add(models.DetectedIssue{
			Description: fmt.Sprintf("Struggling across %d topic areas", len(conversation.DifficultyAreas)),
			Severity:    models.SeverityHigh,
			Category:    "breadth",
		})
	}
	if conversation.ComprehensionLevel == models.LevelLow && performance.AverageGrade < 60 {
		add(models.DetectedIssue{
			Description: "Low engagement and poor performance combination",
			Severity:    models.SeverityHigh,
			Category:    "engagement",
		})
	}
	if len(performance.ErrorPatterns) > 2 {
		add(models.DetectedIssue{
			Description: fmt.Sprintf("Recurring error patterns in homework (%d distinct patterns)", len(performance.ErrorPatterns)),
			Severity:    models.SeverityMedium,
			Category:    "errors",
		})
	}
	return issues
}

// scoreFromIssues recomputes the knowledge score purely from issue
// severity counts. This stricter check runs after the model-derived
// recommendation and wins when they disagree.
func scoreFromIssues(issues []models.DetectedIssue, profile *models.StudentProfile, current models.KnowledgeScore) (models.KnowledgeScore, bool) {
	high, medium := 0, 0
	for _, issue := range issues {
		switch issue.Severity {
		case models.SeverityHigh:
			high++
		case models.SeverityMedium:
			medium++
		}
	}

	switch {
	case high >= 2 || (high >= 1 && medium >= 2):
		return models.ScoreStruggling, true
	case high >= 1 || medium >= 3:
		return models.ScoreNeedsAttention, true
	case len(issues) == 0 && current == models.ScoreEmpty &&
		profile.TotalQuestions >= 5 && profile.AverageGrade() >= 70:
		return models.ScoreGood, true
	}
	return current, false
}

// fallbackAnalysisPayload builds a deterministic low-confidence analysis
// from the profile alone when the model reply cannot be parsed.
func fallbackAnalysisPayload(profile *models.StudentProfile) models.AnalysisPayload {
	averageGrade := profile.AverageGrade()

	severity := models.SeverityLow
	if averageGrade > 0 && averageGrade < 60 {
		severity = models.SeverityMedium
	}

	comprehension := models.LevelMedium
	if profile.TotalQuestions > 0 && profile.CorrectAnswers*2 < profile.TotalQuestions {
		comprehension = models.LevelLow
	}

	return models.AnalysisPayload{
		ConversationSummary: models.ConversationSummarySection{
			TotalInteractions:    profile.TotalQuestions,
			SessionCount:         profile.EngagementMetrics.ChatSessions,
			RepeatedTopics:       profile.ConversationInsights.MostCommonTopics,
			DifficultyAreas:      profile.CommonChallenges,
			HelpRequestFrequency: profile.EngagementMetrics.HelpRequests,
			ComprehensionLevel:   comprehension,
		},
		PerformanceSummary: models.PerformanceSummarySection{
			AverageGrade:     averageGrade,
			GradeTrend:       models.TrendStable,
			ErrorPatterns:    []string{},
			ImprovementAreas: profile.CommonChallenges,
			Strengths:        []string{},
		},
		ChallengeSummary: models.ChallengeSummarySection{
			PrimaryChallenges:  profile.CommonChallenges,
			ChallengeSeverity:  severity,
			RiskFactors:        profile.RiskFactors.Factors,
			Recommendations:    []string{"Review recent activity with the student"},
			InterventionNeeded: false,
		},
		DetectedIssues: []models.DetectedIssue{},
		Insights:       []string{"Automated analysis unavailable; summary derived from stored profile counters"},
		Actions:        []string{},
		Confidence:     30,
	}
}

const analysisSystemPrompt = `You are a learning analyst for an SQL tutoring platform. You review a student's aggregated profile, recent activity, conversation summaries and homework performance, then produce a structured assessment. Respond with a single JSON object and nothing else.`

// renderPrompt embeds the gathered context into the analysis request.
func (s *AnalysisService) renderPrompt(gathered *analysisContext) string {
	profile := gathered.profile

	var b strings.Builder
	b.WriteString("Analyze this student's learning state.\n\n")

	fmt.Fprintf(&b, "Profile:\n- knowledge score: %s\n- total questions: %d\n- correct answers: %d\n- homework submissions: %d\n- average grade: %.1f\n- help requests: %d\n- chat sessions: %d\n- open issues: %d\n",
		profile.KnowledgeScore, profile.TotalQuestions, profile.CorrectAnswers,
		profile.HomeworkSubmissions, profile.AverageGrade(),
		profile.EngagementMetrics.HelpRequests, profile.EngagementMetrics.ChatSessions,
		profile.UnresolvedIssues())
	if len(profile.CommonChallenges) > 0 {
		fmt.Fprintf(&b, "- known challenges: %s\n", strings.Join(profile.CommonChallenges, ", "))
	}

	typeCounts := make(map[models.ActivityType]int)
	for _, record := range gathered.activities {
		typeCounts[record.ActivityType]++
	}
	fmt.Fprintf(&b, "\nRecent activity (%d records):\n", len(gathered.activities))
	for activityType, count := range typeCounts {
		fmt.Fprintf(&b, "- %s: %d\n", activityType, count)
	}

	if len(gathered.summaries) > 0 {
		fmt.Fprintf(&b, "\nRecent conversation summaries (%d sessions):\n", len(gathered.summaries))
		for i, summary := range gathered.summaries {
			if i >= 10 {
				break
			}
			fmt.Fprintf(&b, "- [%s] topics: %s; comprehension: %s; points: %s\n",
				summary.CreatedAt.Format("2006-01-02"),
				strings.Join(summary.KeyTopics, ", "),
				summary.LearningIndicators.ComprehensionLevel,
				strings.Join(summary.SummaryPoints, " / "))
		}
	}

	if len(gathered.performance) > 0 {
		fmt.Fprintf(&b, "\nRecent graded submissions (%d):\n", len(gathered.performance))
		for _, record := range gathered.performance {
			fmt.Fprintf(&b, "- %s: %.1f\n", record.SubmittedAt.Format("2006-01-02"), record.OverallScore)
		}
	}

	b.WriteString(`
Respond with JSON in exactly this shape:
{
  "conversationSummary": {"totalInteractions": 0, "sessionCount": 0, "repeatedTopics": [], "difficultyAreas": [], "helpRequestFrequency": 0, "comprehensionLevel": "low|medium|high"},
  "performanceSummary": {"homeworkGrades": [], "averageGrade": 0, "gradeTrend": "improving|stable|declining", "errorPatterns": [], "improvementAreas": [], "strengths": [], "timeEfficiency": 0},
  "challengeSummary": {"primaryChallenges": [], "challengeSeverity": "low|medium|high", "riskFactors": [], "recommendations": [], "interventionNeeded": false},
  "detectedIssues": [{"description": "", "severity": "low|medium|high", "category": ""}],
  "insights": [],
  "actions": [],
  "confidence": 0
}`)
	return b.String()
}
