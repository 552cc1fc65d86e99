package models

import (
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// ScoreHistoryEntry is one append-only knowledge-score transition. The
// profile's top-level KnowledgeScore always equals the last entry's Score.
type ScoreHistoryEntry struct {
	Score     KnowledgeScore `json:"score" bson:"score"`
	UpdatedAt time.Time      `json:"updatedAt" bson:"updatedAt"`
	Reason    string         `json:"reason" bson:"reason"`
	UpdatedBy ScoreUpdater   `json:"updatedBy" bson:"updatedBy"`
}

// IssueEntry is a discrete detected learning problem. Entries are never
// deleted; resolving one only sets ResolvedAt.
type IssueEntry struct {
	IssueID     string     `json:"issueId" bson:"issueId"`
	Description string     `json:"description" bson:"description"`
	DetectedAt  time.Time  `json:"detectedAt" bson:"detectedAt"`
	ResolvedAt  *time.Time `json:"resolvedAt,omitempty" bson:"resolvedAt,omitempty"`
	Severity    Severity   `json:"severity" bson:"severity"`
}

type EngagementMetrics struct {
	ChatSessions           int `json:"chatSessions" bson:"chatSessions"`
	AverageSessionDuration int `json:"averageSessionDuration" bson:"averageSessionDuration"`
	HelpRequests           int `json:"helpRequests" bson:"helpRequests"`
	SelfCorrections        int `json:"selfCorrections" bson:"selfCorrections"`
}

type RiskFactors struct {
	IsAtRisk       bool      `json:"isAtRisk" bson:"isAtRisk"`
	RiskLevel      Level     `json:"riskLevel" bson:"riskLevel"`
	Factors        []string  `json:"factors" bson:"factors"`
	LastAssessment time.Time `json:"lastAssessment" bson:"lastAssessment"`
}

// ConversationInsights is the rolled-up view over a student's stored
// conversation summaries, refreshed after each summarization.
type ConversationInsights struct {
	TotalSessions          int       `json:"totalSessions" bson:"totalSessions"`
	AverageSessionDuration int       `json:"averageSessionDuration" bson:"averageSessionDuration"`
	MostCommonTopics       []string  `json:"mostCommonTopics" bson:"mostCommonTopics"`
	LearningTrend          Trend     `json:"learningTrend" bson:"learningTrend"`
	CommonChallenges       []string  `json:"commonChallenges" bson:"commonChallenges"`
	OverallEngagement      Level     `json:"overallEngagement" bson:"overallEngagement"`
	LastAnalysisDate       time.Time `json:"lastAnalysisDate" bson:"lastAnalysisDate"`
}

// StudentProfile is the single mutable document per student. All mutations
// are additive (counters, set unions, history appends) so that concurrent
// writers converge regardless of ordering.
type StudentProfile struct {
	ID                   bson.ObjectID        `json:"id,omitempty" bson:"_id,omitempty"`
	StudentID            string               `json:"studentId" bson:"studentId"`
	KnowledgeScore       KnowledgeScore       `json:"knowledgeScore" bson:"knowledgeScore"`
	ScoreHistory         []ScoreHistoryEntry  `json:"knowledgeScoreHistory" bson:"knowledgeScoreHistory"`
	LastActivity         time.Time            `json:"lastActivity" bson:"lastActivity"`
	TotalQuestions       int                  `json:"totalQuestions" bson:"totalQuestions"`
	CorrectAnswers       int                  `json:"correctAnswers" bson:"correctAnswers"`
	HomeworkSubmissions  int                  `json:"homeworkSubmissions" bson:"homeworkSubmissions"`
	GradeTotal           float64              `json:"gradeTotal" bson:"gradeTotal"`
	GradedSubmissions    int                  `json:"gradedSubmissions" bson:"gradedSubmissions"`
	CommonChallenges     []string             `json:"commonChallenges" bson:"commonChallenges"`
	EngagementMetrics    EngagementMetrics    `json:"engagementMetrics" bson:"engagementMetrics"`
	RiskFactors          RiskFactors          `json:"riskFactors" bson:"riskFactors"`
	ConversationInsights ConversationInsights `json:"conversationInsights" bson:"conversationInsights"`
	IssueCount           int                  `json:"issueCount" bson:"issueCount"`
	IssueHistory         []IssueEntry         `json:"issueHistory" bson:"issueHistory"`
	LastIssueUpdate      time.Time            `json:"lastIssueUpdate" bson:"lastIssueUpdate"`
	LastAnalyzedAt       time.Time            `json:"lastAnalyzedAt" bson:"lastAnalyzedAt"`
	CreatedAt            time.Time            `json:"createdAt" bson:"createdAt"`
	UpdatedAt            time.Time            `json:"updatedAt" bson:"updatedAt"`
}

// AverageGrade derives the running homework average from the additive
// gradeTotal/gradedSubmissions counters.
func (p *StudentProfile) AverageGrade() float64 {
	if p.GradedSubmissions == 0 {
		return 0
	}
	return p.GradeTotal / float64(p.GradedSubmissions)
}

// UnresolvedIssues counts issue entries without a ResolvedAt timestamp.
func (p *StudentProfile) UnresolvedIssues() int {
	n := 0
	for _, issue := range p.IssueHistory {
		if issue.ResolvedAt == nil {
			n++
		}
	}
	return n
}

// IssueReport is the query-side view of a student's issue ledger.
type IssueReport struct {
	TotalIssues      int          `json:"totalIssues"`
	UnresolvedIssues int          `json:"unresolvedIssues"`
	IssueHistory     []IssueEntry `json:"issueHistory"`
}

// FleetAnalytics aggregates score and grade distributions across all
// profiles, for the admin dashboard feed.
type FleetAnalytics struct {
	TotalStudents     int64                    `json:"totalStudents"`
	ScoreDistribution map[KnowledgeScore]int64 `json:"scoreDistribution"`
	RiskDistribution  map[Level]int64          `json:"riskDistribution"`
	AverageGrade      float64                  `json:"averageGrade"`
	TopChallenges     []string                 `json:"topChallenges"`
}
