package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"learning-analytics-service/internal/config"
	"learning-analytics-service/internal/errs"
	"learning-analytics-service/internal/models"
)

func testAnalysisConfig() config.AnalysisConfig {
	return config.AnalysisConfig{
		DebounceDelay:     5 * time.Second,
		ApplyConfidence:   70,
		LowEvidenceCap:    40,
		MinQuestions:      5,
		ActivityLimit:     200,
		ConversationLimit: 50,
		PerformanceLimit:  20,
	}
}

type analysisHarness struct {
	svc       *AnalysisService
	profiles  *fakeProfileStore
	analyses  *fakeAnalysisStore
	updater   *ProfileService
	publisher *fakePublisher
}

func newAnalysisHarness(completer *fakeCompleter) *analysisHarness {
	profiles := newFakeProfileStore()
	analyses := &fakeAnalysisStore{}
	publisher := &fakePublisher{}
	updater := NewProfileService(profiles, noopCache{}, publisher)

	svc := NewAnalysisService(
		profiles, &fakeActivityStore{}, newFakeSummaryStore(), &fakePerformanceStore{},
		analyses, updater, completer, publisher, testAnalysisConfig(), 2000,
	)
	return &analysisHarness{
		svc:       svc,
		profiles:  profiles,
		analyses:  analyses,
		updater:   updater,
		publisher: publisher,
	}
}

func establishedProfile(studentID string) *models.StudentProfile {
	return &models.StudentProfile{
		StudentID:         studentID,
		KnowledgeScore:    models.ScoreGood,
		TotalQuestions:    40,
		CorrectAnswers:    30,
		GradeTotal:        850,
		GradedSubmissions: 10,
		CreatedAt:         time.Now().AddDate(0, -1, 0),
	}
}

func TestAnalyze_AppliesHighConfidenceRecommendation(t *testing.T) {
	response := `{
		"conversationSummary": {"totalInteractions": 40, "sessionCount": 6, "repeatedTopics": ["join"], "difficultyAreas": [], "helpRequestFrequency": 2, "comprehensionLevel": "high"},
		"performanceSummary": {"homeworkGrades": [85, 90], "averageGrade": 88, "gradeTrend": "improving", "errorPatterns": [], "improvementAreas": [], "strengths": [], "timeEfficiency": 70},
		"challengeSummary": {"primaryChallenges": [], "challengeSeverity": "low", "riskFactors": [], "recommendations": [], "interventionNeeded": false},
		"detectedIssues": [],
		"insights": ["strong grasp of joins"],
		"actions": [],
		"confidence": 90
	}`
	harness := newAnalysisHarness(&fakeCompleter{responses: []string{response}})
	profile := establishedProfile("student-1")
	profile.KnowledgeScore = models.ScoreNeedsAttention
	harness.profiles.put(profile)

	record, err := harness.svc.Analyze(context.Background(), models.AnalysisRequest{
		StudentID:     "student-1",
		AnalysisType:  models.AnalysisTriggered,
		TriggerReason: "test trigger",
	})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if record.ModelInsights.Fallback {
		t.Error("Expected structured analysis")
	}
	if record.KnowledgeScoreUpdate.NewScore != models.ScoreGood {
		t.Errorf("Expected good recommendation for improving grades, got %s", record.KnowledgeScoreUpdate.NewScore)
	}

	updated, _ := harness.profiles.FindByStudentID(context.Background(), "student-1")
	if updated.KnowledgeScore != models.ScoreGood {
		t.Errorf("Expected score applied at confidence 90, profile has %s", updated.KnowledgeScore)
	}
	if len(updated.ScoreHistory) != 1 {
		t.Errorf("Expected one history entry, got %d", len(updated.ScoreHistory))
	}
	if updated.ScoreHistory[0].UpdatedBy != models.UpdatedByAI {
		t.Errorf("Expected ai authorship on applied score, got %s", updated.ScoreHistory[0].UpdatedBy)
	}
	if len(harness.publisher.analysisEvents) != 1 {
		t.Errorf("Expected one analysis.completed event, got %d", len(harness.publisher.analysisEvents))
	}
}

func TestAnalyze_LowConfidenceIsRecordedNotApplied(t *testing.T) {
	response := `{
		"conversationSummary": {"comprehensionLevel": "medium", "helpRequestFrequency": 1},
		"performanceSummary": {"gradeTrend": "stable", "averageGrade": 65},
		"challengeSummary": {"challengeSeverity": "medium", "interventionNeeded": false},
		"detectedIssues": [],
		"insights": [],
		"actions": [],
		"confidence": 55
	}`
	harness := newAnalysisHarness(&fakeCompleter{responses: []string{response}})
	harness.profiles.put(establishedProfile("student-1"))

	record, err := harness.svc.Analyze(context.Background(), models.AnalysisRequest{StudentID: "student-1", AnalysisType: models.AnalysisManual})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if record.KnowledgeScoreUpdate.NewScore != models.ScoreNeedsAttention {
		t.Errorf("Expected needs_attention recommendation, got %s", record.KnowledgeScoreUpdate.NewScore)
	}

	updated, _ := harness.profiles.FindByStudentID(context.Background(), "student-1")
	if updated.KnowledgeScore != models.ScoreGood {
		t.Errorf("Score must not apply below the confidence threshold, profile has %s", updated.KnowledgeScore)
	}
	if len(harness.analyses.records) != 1 {
		t.Error("Analysis record must persist even when the score is withheld")
	}
}

func TestAnalyze_LowEvidenceCapsConfidenceAndForcesReview(t *testing.T) {
	response := `{
		"conversationSummary": {"comprehensionLevel": "high"},
		"performanceSummary": {"gradeTrend": "improving", "averageGrade": 95},
		"challengeSummary": {"challengeSeverity": "low", "interventionNeeded": false},
		"detectedIssues": [],
		"insights": [],
		"actions": [],
		"confidence": 95
	}`
	harness := newAnalysisHarness(&fakeCompleter{responses: []string{response}})
	harness.profiles.put(&models.StudentProfile{
		StudentID:      "student-1",
		KnowledgeScore: models.ScoreEmpty,
		TotalQuestions: 3,
		CreatedAt:      time.Now(),
	})

	record, err := harness.svc.Analyze(context.Background(), models.AnalysisRequest{StudentID: "student-1"})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	update := record.KnowledgeScoreUpdate
	if update.ConfidenceLevel > 40 {
		t.Errorf("Expected confidence capped at 40 with thin evidence, got %d", update.ConfidenceLevel)
	}
	if !update.AdminReviewRequired {
		t.Error("Expected admin review with fewer than 5 questions")
	}

	updated, _ := harness.profiles.FindByStudentID(context.Background(), "student-1")
	if updated.KnowledgeScore != models.ScoreEmpty {
		t.Errorf("Score must not apply under admin review, profile has %s", updated.KnowledgeScore)
	}
}

func TestAnalyze_UnparseableResponseUsesFallback(t *testing.T) {
	harness := newAnalysisHarness(&fakeCompleter{responses: []string{"the model rambled with no json at all"}})
	harness.profiles.put(establishedProfile("student-1"))

	record, err := harness.svc.Analyze(context.Background(), models.AnalysisRequest{StudentID: "student-1"})
	if err != nil {
		t.Fatalf("Parse failure must not fail analysis: %v", err)
	}
	if !record.ModelInsights.Fallback {
		t.Error("Expected fallback flag on unparseable response")
	}
	if record.ModelInsights.ConfidenceScore > 40 {
		t.Errorf("Expected low fallback confidence, got %d", record.ModelInsights.ConfidenceScore)
	}
	if record.ModelInsights.RawResponse == "" {
		t.Error("Raw response must be preserved for the audit trail")
	}
	if len(harness.analyses.records) != 1 {
		t.Error("Fallback analysis must still persist a record")
	}
}

func TestAnalyze_ReasoningFailurePropagates(t *testing.T) {
	harness := newAnalysisHarness(&fakeCompleter{errors: []error{
		&errs.ExternalServiceError{Kind: errs.ExternalTimeout, Err: errors.New("deadline")},
	}})
	harness.profiles.put(establishedProfile("student-1"))

	_, err := harness.svc.Analyze(context.Background(), models.AnalysisRequest{StudentID: "student-1"})
	var ext *errs.ExternalServiceError
	if !errors.As(err, &ext) {
		t.Fatalf("Expected ExternalServiceError to propagate, got %v", err)
	}
	if len(harness.analyses.records) != 0 {
		t.Error("No analysis record may exist for a failed reasoning call")
	}
}

func TestAnalyze_UnknownStudentFails(t *testing.T) {
	harness := newAnalysisHarness(&fakeCompleter{})
	_, err := harness.svc.Analyze(context.Background(), models.AnalysisRequest{StudentID: "nobody"})
	if !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("Expected not found error, got %v", err)
	}
}

func TestAnalyze_IssueBackstopsAndRecompute(t *testing.T) {
	// Low comprehension, declining trend, heavy help usage and a failing
	// average: the backstops produce two high and two medium issues,
	// which the severity recompute maps to struggling.
	response := `{
		"conversationSummary": {"comprehensionLevel": "low", "helpRequestFrequency": 8, "difficultyAreas": ["a", "b"]},
		"performanceSummary": {"gradeTrend": "declining", "averageGrade": 55, "errorPatterns": ["x"]},
		"challengeSummary": {"challengeSeverity": "low", "interventionNeeded": false},
		"detectedIssues": [],
		"insights": [],
		"actions": [],
		"confidence": 60
	}`
	harness := newAnalysisHarness(&fakeCompleter{responses: []string{response}})
	harness.profiles.put(establishedProfile("student-1"))

	record, err := harness.svc.Analyze(context.Background(), models.AnalysisRequest{StudentID: "student-1"})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(record.DetectedIssues) != 4 {
		t.Fatalf("Expected 4 backstop issues, got %d: %v", len(record.DetectedIssues), record.DetectedIssues)
	}

	updated, _ := harness.profiles.FindByStudentID(context.Background(), "student-1")
	if updated.IssueCount != 4 {
		t.Errorf("Expected 4 ledger entries, got %d", updated.IssueCount)
	}
	if updated.KnowledgeScore != models.ScoreStruggling {
		t.Errorf("Expected issue recompute to set struggling, got %s", updated.KnowledgeScore)
	}
	last := updated.ScoreHistory[len(updated.ScoreHistory)-1]
	if last.UpdatedBy != models.UpdatedBySystem {
		t.Errorf("Issue recompute must be system-authored, got %s", last.UpdatedBy)
	}
	if !updated.RiskFactors.IsAtRisk || updated.RiskFactors.RiskLevel != models.LevelHigh {
		t.Errorf("Expected high risk assessment, got %+v", updated.RiskFactors)
	}
}

func TestRecommendScore_Rules(t *testing.T) {
	svc := newAnalysisHarness(&fakeCompleter{}).svc
	profile := establishedProfile("student-1")

	tests := []struct {
		name    string
		payload models.AnalysisPayload
		want    models.KnowledgeScore
	}{
		{
			name: "high severity with intervention wins",
			payload: models.AnalysisPayload{
				ChallengeSummary:   models.ChallengeSummarySection{ChallengeSeverity: models.SeverityHigh, InterventionNeeded: true},
				PerformanceSummary: models.PerformanceSummarySection{GradeTrend: models.TrendImproving, AverageGrade: 95},
				Confidence:         80,
			},
			want: models.ScoreStruggling,
		},
		{
			name: "improving with strong average",
			payload: models.AnalysisPayload{
				PerformanceSummary: models.PerformanceSummarySection{GradeTrend: models.TrendImproving, AverageGrade: 85},
				Confidence:         80,
			},
			want: models.ScoreGood,
		},
		{
			name: "improving but weak average stays put",
			payload: models.AnalysisPayload{
				PerformanceSummary: models.PerformanceSummarySection{GradeTrend: models.TrendImproving, AverageGrade: 75},
				Confidence:         80,
			},
			want: profile.KnowledgeScore,
		},
		{
			name: "medium severity needs attention",
			payload: models.AnalysisPayload{
				ChallengeSummary: models.ChallengeSummarySection{ChallengeSeverity: models.SeverityMedium},
				Confidence:       80,
			},
			want: models.ScoreNeedsAttention,
		},
		{
			name: "low comprehension needs attention",
			payload: models.AnalysisPayload{
				ConversationSummary: models.ConversationSummarySection{ComprehensionLevel: models.LevelLow},
				Confidence:          80,
			},
			want: models.ScoreNeedsAttention,
		},
		{
			name:    "nothing indicated stays unchanged",
			payload: models.AnalysisPayload{Confidence: 80},
			want:    profile.KnowledgeScore,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			update := svc.recommendScore(profile, tt.payload)
			if update.NewScore != tt.want {
				t.Errorf("got %s, want %s", update.NewScore, tt.want)
			}
			if update.PreviousScore != profile.KnowledgeScore {
				t.Errorf("previous score should be %s, got %s", profile.KnowledgeScore, update.PreviousScore)
			}
		})
	}
}

func TestDetectIssues_SubstringDedup(t *testing.T) {
	svc := newAnalysisHarness(&fakeCompleter{}).svc
	record := &models.AnalysisRecord{
		DetectedIssues: []models.DetectedIssue{
			{Description: "Struggles with JOIN syntax in multi-table queries", Severity: models.SeverityMedium},
			{Description: "JOIN syntax", Severity: models.SeverityLow},
			{Description: "Declining grade trend across recent homework", Severity: models.SeverityHigh},
		},
		ConversationSummary: models.ConversationSummarySection{ComprehensionLevel: models.LevelMedium},
		PerformanceSummary:  models.PerformanceSummarySection{GradeTrend: models.TrendDeclining},
	}

	issues := svc.detectIssues(record)
	if len(issues) != 2 {
		t.Fatalf("Expected 2 issues after dedup, got %d: %v", len(issues), issues)
	}
	for _, issue := range issues {
		if issue.Description == "JOIN syntax" {
			t.Error("Substring duplicate should have been dropped")
		}
	}
}

func TestDetectIssues_BackstopSeverities(t *testing.T) {
	svc := newAnalysisHarness(&fakeCompleter{}).svc
	record := &models.AnalysisRecord{
		ConversationSummary: models.ConversationSummarySection{
			ComprehensionLevel:   models.LevelLow,
			HelpRequestFrequency: 6,
			DifficultyAreas:      []string{"joins", "subqueries", "indexes", "window functions"},
		},
		PerformanceSummary: models.PerformanceSummarySection{
			GradeTrend:    models.TrendDeclining,
			AverageGrade:  50,
			ErrorPatterns: []string{"syntax", "aliasing", "grouping"},
		},
	}

	issues := svc.detectIssues(record)
	if len(issues) != 6 {
		t.Fatalf("Expected all 6 backstops to fire, got %d: %v", len(issues), issues)
	}

	want := map[string]models.Severity{
		"comprehension": models.SeverityHigh,
		"performance":   models.SeverityMedium,
		"breadth":       models.SeverityHigh,
		"errors":        models.SeverityMedium,
	}
	for category, severity := range want {
		found := false
		for _, issue := range issues {
			if issue.Category == category {
				found = true
				if issue.Severity != severity {
					t.Errorf("Category %s: got severity %s, want %s", category, issue.Severity, severity)
				}
			}
		}
		if !found {
			t.Errorf("Expected a %s issue", category)
		}
	}

	combo := false
	for _, issue := range issues {
		if issue.Description == "Low engagement and poor performance combination" {
			combo = true
			if issue.Severity != models.SeverityHigh {
				t.Errorf("Combination issue must be high severity, got %s", issue.Severity)
			}
		}
	}
	if !combo {
		t.Error("Expected the low-engagement-with-poor-performance issue")
	}
}

func TestScoreFromIssues(t *testing.T) {
	mk := func(severities ...models.Severity) []models.DetectedIssue {
		var out []models.DetectedIssue
		for _, severity := range severities {
			out = append(out, models.DetectedIssue{Description: "issue", Severity: severity})
		}
		return out
	}

	freshProfile := &models.StudentProfile{TotalQuestions: 10, GradeTotal: 800, GradedSubmissions: 10}
	thinProfile := &models.StudentProfile{TotalQuestions: 2}

	tests := []struct {
		name     string
		issues   []models.DetectedIssue
		profile  *models.StudentProfile
		current  models.KnowledgeScore
		want     models.KnowledgeScore
		wantBump bool
	}{
		{
			name:     "two high means struggling",
			issues:   mk(models.SeverityHigh, models.SeverityHigh),
			profile:  freshProfile,
			current:  models.ScoreGood,
			want:     models.ScoreStruggling,
			wantBump: true,
		},
		{
			name:     "one high two medium means struggling",
			issues:   mk(models.SeverityHigh, models.SeverityMedium, models.SeverityMedium),
			profile:  freshProfile,
			current:  models.ScoreGood,
			want:     models.ScoreStruggling,
			wantBump: true,
		},
		{
			name:     "single high means needs attention",
			issues:   mk(models.SeverityHigh),
			profile:  freshProfile,
			current:  models.ScoreGood,
			want:     models.ScoreNeedsAttention,
			wantBump: true,
		},
		{
			name:     "three medium means needs attention",
			issues:   mk(models.SeverityMedium, models.SeverityMedium, models.SeverityMedium),
			profile:  freshProfile,
			current:  models.ScoreGood,
			want:     models.ScoreNeedsAttention,
			wantBump: true,
		},
		{
			name:     "clean empty profile with evidence graduates to good",
			issues:   nil,
			profile:  freshProfile,
			current:  models.ScoreEmpty,
			want:     models.ScoreGood,
			wantBump: true,
		},
		{
			name:     "clean empty profile without evidence stays",
			issues:   nil,
			profile:  thinProfile,
			current:  models.ScoreEmpty,
			wantBump: false,
		},
		{
			name:     "two medium changes nothing",
			issues:   mk(models.SeverityMedium, models.SeverityMedium),
			profile:  freshProfile,
			current:  models.ScoreGood,
			wantBump: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, changed := scoreFromIssues(tt.issues, tt.profile, tt.current)
			if changed != tt.wantBump {
				t.Fatalf("got changed=%t, want %t", changed, tt.wantBump)
			}
			if changed && got != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}
}
