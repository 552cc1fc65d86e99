package models

import (
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// AnalysisRequest asks the orchestrator to run one full analysis.
type AnalysisRequest struct {
	StudentID     string       `json:"studentId"`
	AnalysisType  AnalysisType `json:"analysisType"`
	TriggerReason string       `json:"triggerReason"`
}

type ConversationSummarySection struct {
	TotalInteractions    int      `json:"totalInteractions" bson:"totalInteractions"`
	SessionCount         int      `json:"sessionCount" bson:"sessionCount"`
	RepeatedTopics       []string `json:"repeatedTopics" bson:"repeatedTopics"`
	DifficultyAreas      []string `json:"difficultyAreas" bson:"difficultyAreas"`
	HelpRequestFrequency int      `json:"helpRequestFrequency" bson:"helpRequestFrequency"`
	ComprehensionLevel   Level    `json:"comprehensionLevel" bson:"comprehensionLevel"`
}

type PerformanceSummarySection struct {
	HomeworkGrades   []float64 `json:"homeworkGrades" bson:"homeworkGrades"`
	AverageGrade     float64   `json:"averageGrade" bson:"averageGrade"`
	GradeTrend       Trend     `json:"gradeTrend" bson:"gradeTrend"`
	ErrorPatterns    []string  `json:"errorPatterns" bson:"errorPatterns"`
	ImprovementAreas []string  `json:"improvementAreas" bson:"improvementAreas"`
	Strengths        []string  `json:"strengths" bson:"strengths"`
	TimeEfficiency   int       `json:"timeEfficiency" bson:"timeEfficiency"`
}

type ChallengeSummarySection struct {
	PrimaryChallenges  []string `json:"primaryChallenges" bson:"primaryChallenges"`
	ChallengeSeverity  Severity `json:"challengeSeverity" bson:"challengeSeverity"`
	RiskFactors        []string `json:"riskFactors" bson:"riskFactors"`
	Recommendations    []string `json:"recommendations" bson:"recommendations"`
	InterventionNeeded bool     `json:"interventionNeeded" bson:"interventionNeeded"`
}

// ScoreUpdate is the rule-derived knowledge-score recommendation attached
// to an analysis. It is applied only when ConfidenceLevel >= the apply
// threshold and no admin review is required.
type ScoreUpdate struct {
	PreviousScore       KnowledgeScore `json:"previousScore" bson:"previousScore"`
	NewScore            KnowledgeScore `json:"newScore" bson:"newScore"`
	ConfidenceLevel     int            `json:"confidenceLevel" bson:"confidenceLevel"`
	Reasoning           string         `json:"reasoning" bson:"reasoning"`
	SupportingEvidence  []string       `json:"supportingEvidence" bson:"supportingEvidence"`
	AdminReviewRequired bool           `json:"adminReviewRequired" bson:"adminReviewRequired"`
}

// DetectedIssue is one issue reported by the model or by a rule backstop.
type DetectedIssue struct {
	Description string   `json:"description" bson:"description"`
	Severity    Severity `json:"severity" bson:"severity"`
	Category    string   `json:"category,omitempty" bson:"category,omitempty"`
}

// ModelInsights records the raw reasoning-service output alongside what was
// extracted from it.
type ModelInsights struct {
	RawResponse       string   `json:"rawResponse" bson:"rawResponse"`
	ExtractedInsights []string `json:"extractedInsights" bson:"extractedInsights"`
	SuggestedActions  []string `json:"suggestedActions" bson:"suggestedActions"`
	ConfidenceScore   int      `json:"confidenceScore" bson:"confidenceScore"`
	Fallback          bool     `json:"fallback" bson:"fallback"`
}

// AnalysisRecord is the write-once audit trail of one analysis run: every
// decision the score state machine made or declined to make.
type AnalysisRecord struct {
	ID                   bson.ObjectID              `json:"id,omitempty" bson:"_id,omitempty"`
	AnalysisID           string                     `json:"analysisId" bson:"analysisId"`
	StudentID            string                     `json:"studentId" bson:"studentId"`
	AnalysisDate         time.Time                  `json:"analysisDate" bson:"analysisDate"`
	AnalysisType         AnalysisType               `json:"analysisType" bson:"analysisType"`
	TriggerReason        string                     `json:"triggerReason" bson:"triggerReason"`
	ConversationSummary  ConversationSummarySection `json:"conversationSummary" bson:"conversationSummary"`
	PerformanceSummary   PerformanceSummarySection  `json:"performanceSummary" bson:"performanceSummary"`
	ChallengeSummary     ChallengeSummarySection    `json:"challengeSummary" bson:"challengeSummary"`
	KnowledgeScoreUpdate ScoreUpdate                `json:"knowledgeScoreUpdate" bson:"knowledgeScoreUpdate"`
	DetectedIssues       []DetectedIssue            `json:"detectedIssues" bson:"detectedIssues"`
	ModelInsights        ModelInsights              `json:"modelInsights" bson:"modelInsights"`
	CreatedAt            time.Time                  `json:"createdAt" bson:"createdAt"`
}

// AnalysisPayload is the structured shape requested from the reasoning
// service during a full analysis.
type AnalysisPayload struct {
	ConversationSummary ConversationSummarySection `json:"conversationSummary"`
	PerformanceSummary  PerformanceSummarySection  `json:"performanceSummary"`
	ChallengeSummary    ChallengeSummarySection    `json:"challengeSummary"`
	DetectedIssues      []DetectedIssue            `json:"detectedIssues"`
	Insights            []string                   `json:"insights"`
	Actions             []string                   `json:"actions"`
	Confidence          int                        `json:"confidence"`
}

// SummaryPayload is the structured shape requested from the reasoning
// service during conversation summarization.
type SummaryPayload struct {
	SummaryPoints      []string           `json:"summaryPoints"`
	KeyTopics          []string           `json:"keyTopics"`
	LearningIndicators LearningIndicators `json:"learningIndicators"`
	ComplexityLevel    Complexity         `json:"complexityLevel"`
	ConfidenceScore    int                `json:"confidenceScore"`
	RecommendedActions []string           `json:"recommendedActions"`
}

// PerformanceRecord is a graded submission pulled in as orchestrator
// context. The grading pipeline that writes these is an external
// collaborator; this service only reads them.
type PerformanceRecord struct {
	StudentID    string    `json:"studentId" bson:"studentId"`
	SubmissionID string    `json:"submissionId" bson:"submissionId"`
	OverallScore float64   `json:"overallScore" bson:"overallScore"`
	SubmittedAt  time.Time `json:"submittedAt" bson:"submittedAt"`
}
