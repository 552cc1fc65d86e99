package service

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"learning-analytics-service/internal/config"
	"learning-analytics-service/internal/errs"
	"learning-analytics-service/internal/llm"
	"learning-analytics-service/internal/models"
)

const truncationMarker = "[earlier conversation truncated]"

// SummaryStore persists one immutable summary per closed session.
type SummaryStore interface {
	FindBySessionID(ctx context.Context, sessionID string) (*models.ConversationSummary, error)
	Insert(ctx context.Context, summary *models.ConversationSummary) error
	FindByStudentID(ctx context.Context, studentID string, limit int) ([]*models.ConversationSummary, error)
}

// InsightsWriter rolls aggregated conversation insights back onto the
// profile.
type InsightsWriter interface {
	SetConversationInsights(ctx context.Context, studentID string, insights models.ConversationInsights) error
}

// transcriptCaps bound how much of a session is sent to the reasoning
// service. The reduced set is used for the single context-shrink retry.
type transcriptCaps struct {
	maxTurns        int
	maxCharsPerTurn int
	maxTotalChars   int
}

type SummaryService struct {
	summaries SummaryStore
	insights  InsightsWriter
	cache     ProfileSnapshotCache
	completer llm.Completer
	cfg       config.SummaryConfig
	maxTokens int
}

func NewSummaryService(summaries SummaryStore, insights InsightsWriter, cache ProfileSnapshotCache, completer llm.Completer, cfg config.SummaryConfig, maxTokens int) *SummaryService {
	return &SummaryService{
		summaries: summaries,
		insights:  insights,
		cache:     cache,
		completer: completer,
		cfg:       cfg,
		maxTokens: maxTokens,
	}
}

// Summarize turns a closed session into a stored ConversationSummary.
// Reasoning-service failures and unparseable replies degrade to a
// low-confidence fallback summary; this method never fails the caller for
// those. Summarizing the same session twice returns the stored summary.
func (s *SummaryService) Summarize(ctx context.Context, session models.ClosedSession) (*models.ConversationSummary, error) {
	if session.StudentID == "" {
		return nil, errs.Validationf("studentId is required")
	}
	if session.SessionID == "" {
		return nil, errs.Validationf("sessionId is required")
	}

	existing, err := s.summaries.FindBySessionID(ctx, session.SessionID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		log.Printf("session %s already summarized, returning stored summary", session.SessionID)
		return existing, nil
	}

	caps := transcriptCaps{
		maxTurns:        s.cfg.MaxTurns,
		maxCharsPerTurn: s.cfg.MaxCharsPerTurn,
		maxTotalChars:   s.cfg.MaxTotalChars,
	}
	transcript, truncated := buildTranscript(session.Turns, caps)

	summary := s.requestSummary(ctx, session, transcript)
	summary.ConversationMetadata = models.ConversationMetadata{
		MessageCount:        len(session.Turns),
		SessionDuration:     session.DurationMin,
		AverageResponseTime: averageResponseSeconds(session.Turns),
		ComplexityLevel:     summary.ConversationMetadata.ComplexityLevel,
		Truncated:           truncated,
	}
	summary.StudentID = session.StudentID
	summary.SessionID = session.SessionID
	summary.SessionTitle = session.SessionTitle
	summary.CreatedAt = time.Now()

	if err := s.summaries.Insert(ctx, summary); err != nil {
		return nil, err
	}

	if err := s.RefreshStudentInsights(ctx, session.StudentID); err != nil {
		log.Printf("failed to refresh conversation insights for student %s: %v", session.StudentID, err)
	}
	return summary, nil
}

// requestSummary calls the reasoning service, retrying once with a much
// smaller transcript when the context is too large, and falls back to a
// deterministic summary on any remaining failure.
func (s *SummaryService) requestSummary(ctx context.Context, session models.ClosedSession, transcript string) *models.ConversationSummary {
	raw, err := s.completer.Complete(ctx, summarySystemPrompt, summaryUserPrompt(session, transcript), s.maxTokens)
	if errs.IsContextTooLarge(err) {
		log.Printf("transcript for session %s exceeded model context, retrying with reduced window", session.SessionID)
		reduced, _ := buildTranscript(session.Turns, transcriptCaps{
			maxTurns:        s.cfg.RetryMaxTurns,
			maxCharsPerTurn: s.cfg.RetryCharsPerTurn,
			maxTotalChars:   s.cfg.RetryTotalChars,
		})
		raw, err = s.completer.Complete(ctx, summarySystemPrompt, summaryUserPrompt(session, reduced), s.maxTokens)
	}
	if err != nil {
		log.Printf("reasoning service failed for session %s, using fallback summary: %v", session.SessionID, err)
		return fallbackSummary(session, "")
	}

	parsed := parseSummaryResponse(raw)
	if !parsed.Structured {
		log.Printf("unparseable summary response for session %s, using fallback summary", session.SessionID)
		return fallbackSummary(session, raw)
	}

	payload := parsed.Payload
	return &models.ConversationSummary{
		SummaryPoints:      payload.SummaryPoints,
		KeyTopics:          payload.KeyTopics,
		LearningIndicators: payload.LearningIndicators,
		ConversationMetadata: models.ConversationMetadata{
			ComplexityLevel: payload.ComplexityLevel,
		},
		AIInsights: models.AIInsights{
			RawAnalysis:        raw,
			ConfidenceScore:    clampConfidence(payload.ConfidenceScore),
			RecommendedActions: payload.RecommendedActions,
			Fallback:           false,
		},
	}
}

// fallbackSummary is the deterministic low-confidence stand-in used when
// the reasoning service fails or returns something unusable.
func fallbackSummary(session models.ClosedSession, raw string) *models.ConversationSummary {
	return &models.ConversationSummary{
		SummaryPoints: []string{
			fmt.Sprintf("Session with %d messages over %d minutes", len(session.Turns), session.DurationMin),
			"Automated summary unavailable for this session",
		},
		KeyTopics: []string{},
		LearningIndicators: models.LearningIndicators{
			ComprehensionLevel:  models.LevelMedium,
			HelpSeekingBehavior: models.LevelMedium,
			EngagementLevel:     engagementFromVolume(len(session.Turns)),
			ChallengeAreas:      []string{},
		},
		ConversationMetadata: models.ConversationMetadata{
			ComplexityLevel: models.ComplexityBasic,
		},
		AIInsights: models.AIInsights{
			RawAnalysis:        raw,
			ConfidenceScore:    50,
			RecommendedActions: []string{},
			Fallback:           true,
		},
	}
}

func engagementFromVolume(turns int) models.Level {
	switch {
	case turns >= 20:
		return models.LevelHigh
	case turns >= 6:
		return models.LevelMedium
	default:
		return models.LevelLow
	}
}

// buildTranscript renders the session turns under the given caps,
// preferring the most recent content when any cap fires. Returns the
// transcript and whether anything was dropped.
func buildTranscript(turns []models.ConversationTurn, caps transcriptCaps) (string, bool) {
	truncated := false

	kept := turns
	if caps.maxTurns > 0 && len(kept) > caps.maxTurns {
		kept = kept[len(kept)-caps.maxTurns:]
		truncated = true
	}

	lines := make([]string, 0, len(kept))
	for _, turn := range kept {
		text := turn.Text
		if caps.maxCharsPerTurn > 0 && len(text) > caps.maxCharsPerTurn {
			cut := caps.maxCharsPerTurn
			for cut > 0 && !utf8.RuneStart(text[cut]) {
				cut--
			}
			text = text[:cut] + "..."
			truncated = true
		}
		lines = append(lines, fmt.Sprintf("%s: %s", turn.Role, text))
	}

	transcript := strings.Join(lines, "\n")
	if caps.maxTotalChars > 0 && len(transcript) > caps.maxTotalChars {
		start := len(transcript) - caps.maxTotalChars
		for start < len(transcript) && !utf8.RuneStart(transcript[start]) {
			start++
		}
		transcript = transcript[start:]
		truncated = true
	}
	if truncated {
		transcript = truncationMarker + "\n" + transcript
	}
	return transcript, truncated
}

func averageResponseSeconds(turns []models.ConversationTurn) int {
	if len(turns) < 2 {
		return 0
	}
	var total time.Duration
	gaps := 0
	for i := 1; i < len(turns); i++ {
		if turns[i].Timestamp.IsZero() || turns[i-1].Timestamp.IsZero() {
			continue
		}
		gap := turns[i].Timestamp.Sub(turns[i-1].Timestamp)
		if gap > 0 {
			total += gap
			gaps++
		}
	}
	if gaps == 0 {
		return 0
	}
	return int(total.Seconds()) / gaps
}

// RefreshStudentInsights re-aggregates the student's stored summaries and
// writes the rolled-up view onto the profile.
func (s *SummaryService) RefreshStudentInsights(ctx context.Context, studentID string) error {
	summaries, err := s.summaries.FindByStudentID(ctx, studentID, 20)
	if err != nil {
		return err
	}
	if len(summaries) == 0 {
		return nil
	}

	insights := aggregateInsights(summaries)
	if err := s.insights.SetConversationInsights(ctx, studentID, insights); err != nil {
		return err
	}
	s.cache.Invalidate(ctx, studentID)
	return nil
}

func aggregateInsights(summaries []*models.ConversationSummary) models.ConversationInsights {
	topicCounts := make(map[string]int)
	challengeCounts := make(map[string]int)
	engagementScore := 0
	totalDuration := 0

	for _, summary := range summaries {
		for _, topic := range summary.KeyTopics {
			topicCounts[topic]++
		}
		for _, challenge := range summary.LearningIndicators.ChallengeAreas {
			challengeCounts[challenge]++
		}
		engagementScore += levelOrdinal(summary.LearningIndicators.EngagementLevel)
		totalDuration += summary.ConversationMetadata.SessionDuration
	}

	return models.ConversationInsights{
		TotalSessions:          len(summaries),
		AverageSessionDuration: totalDuration / len(summaries),
		MostCommonTopics:       topByCount(topicCounts, 5),
		LearningTrend:          comprehensionTrend(summaries),
		CommonChallenges:       topByCount(challengeCounts, 5),
		OverallEngagement:      levelFromOrdinal(engagementScore / len(summaries)),
		LastAnalysisDate:       time.Now(),
	}
}

func levelOrdinal(level models.Level) int {
	switch level {
	case models.LevelHigh:
		return 3
	case models.LevelMedium:
		return 2
	default:
		return 1
	}
}

func levelFromOrdinal(ordinal int) models.Level {
	switch {
	case ordinal >= 3:
		return models.LevelHigh
	case ordinal == 2:
		return models.LevelMedium
	default:
		return models.LevelLow
	}
}

// comprehensionTrend compares comprehension across the older and newer
// halves of the summaries (which arrive most recent first).
func comprehensionTrend(summaries []*models.ConversationSummary) models.Trend {
	if len(summaries) < 4 {
		return models.TrendStable
	}

	half := len(summaries) / 2
	recent, older := 0, 0
	for i, summary := range summaries {
		score := levelOrdinal(summary.LearningIndicators.ComprehensionLevel)
		if i < half {
			recent += score
		} else {
			older += score
		}
	}
	recentAvg := float64(recent) / float64(half)
	olderAvg := float64(older) / float64(len(summaries)-half)

	switch {
	case recentAvg > olderAvg+0.3:
		return models.TrendImproving
	case recentAvg < olderAvg-0.3:
		return models.TrendDeclining
	default:
		return models.TrendStable
	}
}

// topByCount returns the n most frequent keys, ties broken alphabetically
// for stable output.
func topByCount(counts map[string]int, n int) []string {
	keys := make([]string, 0, len(counts))
	for key := range counts {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if counts[keys[i]] != counts[keys[j]] {
			return counts[keys[i]] > counts[keys[j]]
		}
		return keys[i] < keys[j]
	})
	if len(keys) > n {
		keys = keys[:n]
	}
	return keys
}

const summarySystemPrompt = `You are a learning analyst for an SQL tutoring platform. You review tutoring conversations and produce structured summaries of what the student worked on, how well they understood it, and where they struggled. Respond with a single JSON object and nothing else.`

func summaryUserPrompt(session models.ClosedSession, transcript string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Summarize this tutoring session (%d messages, %d minutes).\n\n", len(session.Turns), session.DurationMin)
	if session.SessionTitle != "" {
		fmt.Fprintf(&b, "Session title: %s\n\n", session.SessionTitle)
	}
	b.WriteString("Transcript:\n")
	b.WriteString(transcript)
	b.WriteString(`

Respond with JSON in exactly this shape:
{
  "summaryPoints": ["2-3 short bullet points"],
  "keyTopics": ["sql topics discussed"],
  "learningIndicators": {
    "comprehensionLevel": "low|medium|high",
    "helpSeekingBehavior": "low|medium|high",
    "engagementLevel": "low|medium|high",
    "challengeAreas": ["specific difficulties"]
  },
  "complexityLevel": "basic|intermediate|advanced",
  "confidenceScore": 0,
  "recommendedActions": ["follow-up suggestions"]
}`)
	return b.String()
}
