package service

import (
	"encoding/json"
	"strings"

	"learning-analytics-service/internal/models"
)

// ParsedResponse is the outcome of decoding a reasoning-service reply:
// either a validated structured payload or the raw text it could not be
// extracted from. Callers branch on Structured, never on parse errors.
type ParsedResponse[T any] struct {
	Structured bool
	Payload    T
	RawText    string
}

// extractFirstJSONObject scans for the first balanced top-level JSON
// object in the text. Reasoning models routinely wrap their JSON in prose
// or markdown fences, so a plain json.Unmarshal of the whole reply is not
// enough.
func extractFirstJSONObject(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}
	return "", false
}

func decodeResponse[T any](raw string, validate func(*T) bool) ParsedResponse[T] {
	unstructured := ParsedResponse[T]{Structured: false, RawText: raw}

	candidate, ok := extractFirstJSONObject(raw)
	if !ok {
		return unstructured
	}

	var payload T
	if err := json.Unmarshal([]byte(candidate), &payload); err != nil {
		return unstructured
	}
	if validate != nil && !validate(&payload) {
		return unstructured
	}
	return ParsedResponse[T]{Structured: true, Payload: payload, RawText: raw}
}

// parseSummaryResponse decodes a summarization reply. A payload with no
// summary points and no topics carries no signal and is treated as
// unstructured.
func parseSummaryResponse(raw string) ParsedResponse[models.SummaryPayload] {
	return decodeResponse(raw, func(p *models.SummaryPayload) bool {
		return len(p.SummaryPoints) > 0 || len(p.KeyTopics) > 0
	})
}

// parseAnalysisResponse decodes a full-analysis reply.
func parseAnalysisResponse(raw string) ParsedResponse[models.AnalysisPayload] {
	return decodeResponse(raw, func(p *models.AnalysisPayload) bool {
		return p.Confidence > 0 || len(p.DetectedIssues) > 0 ||
			len(p.ConversationSummary.RepeatedTopics) > 0 ||
			p.ChallengeSummary.ChallengeSeverity != "" ||
			p.PerformanceSummary.GradeTrend != ""
	})
}

func clampConfidence(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
