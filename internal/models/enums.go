package models

// KnowledgeScore is the coarse label of a student's mastery state.
type KnowledgeScore string

const (
	ScoreEmpty          KnowledgeScore = "empty"
	ScoreGood           KnowledgeScore = "good"
	ScoreNeedsAttention KnowledgeScore = "needs_attention"
	ScoreStruggling     KnowledgeScore = "struggling"
)

// scoreOrdinals maps scores onto an ordinal scale used for decline
// detection. One step on the scale equals a 25% decline.
var scoreOrdinals = map[KnowledgeScore]int{
	ScoreEmpty:          0,
	ScoreStruggling:     1,
	ScoreNeedsAttention: 2,
	ScoreGood:           3,
}

// Ordinal returns the numeric position of the score, 0 for unknown values.
func (s KnowledgeScore) Ordinal() int {
	return scoreOrdinals[s]
}

// IsValid reports whether s is one of the four known scores.
func (s KnowledgeScore) IsValid() bool {
	_, ok := scoreOrdinals[s]
	return ok
}

// DeclinePercent computes how far newScore dropped relative to oldScore,
// expressed as a percentage. Improvements yield 0.
func DeclinePercent(oldScore, newScore KnowledgeScore) int {
	drop := oldScore.Ordinal() - newScore.Ordinal()
	if drop < 0 {
		return 0
	}
	return drop * 25
}

type ScoreUpdater string

const (
	UpdatedBySystem ScoreUpdater = "system"
	UpdatedByAdmin  ScoreUpdater = "admin"
	UpdatedByAI     ScoreUpdater = "ai"
)

type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

func (s Severity) IsValid() bool {
	return s == SeverityLow || s == SeverityMedium || s == SeverityHigh
}

type Level string

const (
	LevelLow    Level = "low"
	LevelMedium Level = "medium"
	LevelHigh   Level = "high"
)

type Trend string

const (
	TrendImproving Trend = "improving"
	TrendStable    Trend = "stable"
	TrendDeclining Trend = "declining"
)

type Complexity string

const (
	ComplexityBasic        Complexity = "basic"
	ComplexityIntermediate Complexity = "intermediate"
	ComplexityAdvanced     Complexity = "advanced"
)

type AnalysisType string

const (
	AnalysisScheduled AnalysisType = "scheduled"
	AnalysisTriggered AnalysisType = "triggered"
	AnalysisManual    AnalysisType = "manual"
)

func (a AnalysisType) IsValid() bool {
	return a == AnalysisScheduled || a == AnalysisTriggered || a == AnalysisManual
}
