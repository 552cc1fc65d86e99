package models

import (
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// ConversationTurn is one message of a chat session, ordered by timestamp.
type ConversationTurn struct {
	Role      string    `json:"role" bson:"role"`
	Text      string    `json:"text" bson:"text"`
	Timestamp time.Time `json:"timestamp" bson:"timestamp"`
}

// ClosedSession is the input to summarization: a finished chat session with
// its ordered turns.
type ClosedSession struct {
	StudentID    string             `json:"studentId"`
	SessionID    string             `json:"sessionId"`
	SessionTitle string             `json:"sessionTitle"`
	Turns        []ConversationTurn `json:"turns"`
	DurationMin  int                `json:"durationMin"`
}

type LearningIndicators struct {
	ComprehensionLevel  Level    `json:"comprehensionLevel" bson:"comprehensionLevel"`
	HelpSeekingBehavior Level    `json:"helpSeekingBehavior" bson:"helpSeekingBehavior"`
	EngagementLevel     Level    `json:"engagementLevel" bson:"engagementLevel"`
	ChallengeAreas      []string `json:"challengeAreas" bson:"challengeAreas"`
}

type ConversationMetadata struct {
	MessageCount        int        `json:"messageCount" bson:"messageCount"`
	SessionDuration     int        `json:"sessionDuration" bson:"sessionDuration"`
	AverageResponseTime int        `json:"averageResponseTime" bson:"averageResponseTime"`
	ComplexityLevel     Complexity `json:"complexityLevel" bson:"complexityLevel"`
	Truncated           bool       `json:"truncated" bson:"truncated"`
}

type AIInsights struct {
	RawAnalysis        string   `json:"rawAnalysis" bson:"rawAnalysis"`
	ConfidenceScore    int      `json:"confidenceScore" bson:"confidenceScore"`
	RecommendedActions []string `json:"recommendedActions" bson:"recommendedActions"`
	Fallback           bool     `json:"fallback" bson:"fallback"`
}

// ConversationSummary is created once per closed session and is immutable
// after creation.
type ConversationSummary struct {
	ID                   bson.ObjectID        `json:"id,omitempty" bson:"_id,omitempty"`
	StudentID            string               `json:"studentId" bson:"studentId"`
	SessionID            string               `json:"sessionId" bson:"sessionId"`
	SessionTitle         string               `json:"sessionTitle" bson:"sessionTitle"`
	SummaryPoints        []string             `json:"summaryPoints" bson:"summaryPoints"`
	KeyTopics            []string             `json:"keyTopics" bson:"keyTopics"`
	LearningIndicators   LearningIndicators   `json:"learningIndicators" bson:"learningIndicators"`
	ConversationMetadata ConversationMetadata `json:"conversationMetadata" bson:"conversationMetadata"`
	AIInsights           AIInsights           `json:"aiInsights" bson:"aiInsights"`
	CreatedAt            time.Time            `json:"createdAt" bson:"createdAt"`
}
