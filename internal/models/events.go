package models

import (
	"time"
)

type EventType string

const (
	// Consumed from the platform. Activity events arrive on
	// "learning.activity.<type>" routing keys carrying the matching
	// ActivityType suffix.
	EventTypeSessionClosed EventType = "chat.session.closed"

	// Published by this service.
	EventTypeAnalysisCompleted EventType = "analysis.completed"
	EventTypeIssueDetected     EventType = "analysis.issue.detected"
	EventTypeScoreUpdated      EventType = "analysis.score.updated"
)

// ActivityEvent is the wire form of one learning activity. The payload
// variant carried must match the routing key's activity type.
type ActivityEvent struct {
	StudentID   string           `json:"studentId"`
	SessionID   string           `json:"sessionId,omitempty"`
	Timestamp   time.Time        `json:"timestamp"`
	Chat        *ChatActivity    `json:"chat,omitempty"`
	Homework    *HomeworkAttempt `json:"homework,omitempty"`
	Practice    *PracticeAttempt `json:"practice,omitempty"`
	Login       *LoginActivity   `json:"login,omitempty"`
	HelpRequest *HelpRequest     `json:"helpRequest,omitempty"`
	Quiz        *QuizAttempt     `json:"quiz,omitempty"`
}

// SessionClosedEvent carries a finished chat session for summarization.
type SessionClosedEvent struct {
	StudentID    string             `json:"studentId"`
	SessionID    string             `json:"sessionId"`
	SessionTitle string             `json:"sessionTitle"`
	Turns        []ConversationTurn `json:"turns"`
	DurationMin  int                `json:"durationMin"`
}

// AnalysisEvent is published after every completed analysis run.
type AnalysisEvent struct {
	EventType     EventType    `json:"eventType"`
	StudentID     string       `json:"studentId"`
	AnalysisID    string       `json:"analysisId"`
	AnalysisType  AnalysisType `json:"analysisType"`
	TriggerReason string       `json:"triggerReason"`
	Timestamp     time.Time    `json:"timestamp"`
}

// IssueEvent is published for each issue appended to a student's ledger.
type IssueEvent struct {
	EventType   EventType `json:"eventType"`
	StudentID   string    `json:"studentId"`
	IssueID     string    `json:"issueId"`
	Description string    `json:"description"`
	Severity    Severity  `json:"severity"`
	Timestamp   time.Time `json:"timestamp"`
}

// ScoreEvent is published after each knowledge-score transition.
type ScoreEvent struct {
	EventType     EventType      `json:"eventType"`
	StudentID     string         `json:"studentId"`
	PreviousScore KnowledgeScore `json:"previousScore"`
	NewScore      KnowledgeScore `json:"newScore"`
	Reason        string         `json:"reason"`
	UpdatedBy     ScoreUpdater   `json:"updatedBy"`
	Timestamp     time.Time      `json:"timestamp"`
}
