package models

import (
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// ActivityType discriminates the payload carried by an ActivityRecord.
type ActivityType string

const (
	ActivityChat        ActivityType = "chat"
	ActivityHomework    ActivityType = "homework"
	ActivityLogin       ActivityType = "login"
	ActivityHelpRequest ActivityType = "help_request"
	ActivityPractice    ActivityType = "practice"
	ActivityQuiz        ActivityType = "quiz"
)

func (t ActivityType) IsValid() bool {
	switch t {
	case ActivityChat, ActivityHomework, ActivityLogin,
		ActivityHelpRequest, ActivityPractice, ActivityQuiz:
		return true
	}
	return false
}

// ActivityRecord is one append-only entry in the activity log. Records are
// immutable once written; the service never updates or deletes them.
type ActivityRecord struct {
	ID           bson.ObjectID    `json:"id,omitempty" bson:"_id,omitempty"`
	StudentID    string           `json:"studentId" bson:"studentId"`
	ActivityType ActivityType     `json:"activityType" bson:"activityType"`
	SessionID    string           `json:"sessionId,omitempty" bson:"sessionId,omitempty"`
	Timestamp    time.Time        `json:"timestamp" bson:"timestamp"`
	Chat         *ChatActivity    `json:"chat,omitempty" bson:"chat,omitempty"`
	Homework     *HomeworkAttempt `json:"homework,omitempty" bson:"homework,omitempty"`
	Practice     *PracticeAttempt `json:"practice,omitempty" bson:"practice,omitempty"`
	Login        *LoginActivity   `json:"login,omitempty" bson:"login,omitempty"`
	HelpRequest  *HelpRequest     `json:"helpRequest,omitempty" bson:"helpRequest,omitempty"`
	Quiz         *QuizAttempt     `json:"quiz,omitempty" bson:"quiz,omitempty"`
}

// Payload returns the variant matching ActivityType, or nil when the record
// carries no payload for its declared type.
func (r *ActivityRecord) Payload() any {
	switch r.ActivityType {
	case ActivityChat:
		if r.Chat != nil {
			return r.Chat
		}
	case ActivityHomework:
		if r.Homework != nil {
			return r.Homework
		}
	case ActivityPractice:
		if r.Practice != nil {
			return r.Practice
		}
	case ActivityLogin:
		if r.Login != nil {
			return r.Login
		}
	case ActivityHelpRequest:
		if r.HelpRequest != nil {
			return r.HelpRequest
		}
	case ActivityQuiz:
		if r.Quiz != nil {
			return r.Quiz
		}
	}
	return nil
}

type ChatActivity struct {
	MessageCount  int        `json:"messageCount" bson:"messageCount"`
	Topic         string     `json:"topic,omitempty" bson:"topic,omitempty"`
	Complexity    Complexity `json:"complexity,omitempty" bson:"complexity,omitempty"`
	HelpRequested bool       `json:"helpRequested" bson:"helpRequested"`
}

type HomeworkAttempt struct {
	HomeworkID string   `json:"homeworkId" bson:"homeworkId"`
	QuestionID string   `json:"questionId,omitempty" bson:"questionId,omitempty"`
	Grade      float64  `json:"grade" bson:"grade"`
	TimeSpent  int      `json:"timeSpent,omitempty" bson:"timeSpent,omitempty"`
	Attempts   int      `json:"attempts,omitempty" bson:"attempts,omitempty"`
	Errors     []string `json:"errors,omitempty" bson:"errors,omitempty"`
}

type PracticeAttempt struct {
	PracticeType string `json:"practiceType,omitempty" bson:"practiceType,omitempty"`
	Difficulty   string `json:"difficulty,omitempty" bson:"difficulty,omitempty"`
	Success      bool   `json:"success" bson:"success"`
	Topic        string `json:"topic,omitempty" bson:"topic,omitempty"`
	DurationMin  int    `json:"durationMin,omitempty" bson:"durationMin,omitempty"`
}

type LoginActivity struct {
	LoginMethod     string `json:"loginMethod,omitempty" bson:"loginMethod,omitempty"`
	SessionDuration int    `json:"sessionDuration,omitempty" bson:"sessionDuration,omitempty"`
}

type HelpRequest struct {
	HelpType string   `json:"helpType" bson:"helpType"`
	Urgency  Severity `json:"urgency" bson:"urgency"`
	Resolved bool     `json:"resolved" bson:"resolved"`
}

type QuizAttempt struct {
	QuizID       string  `json:"quizId" bson:"quizId"`
	Score        float64 `json:"score" bson:"score"`
	TotalPoints  float64 `json:"totalPoints,omitempty" bson:"totalPoints,omitempty"`
	QuestionsRun int     `json:"questionsRun,omitempty" bson:"questionsRun,omitempty"`
}

// ActivityTypeCount is one bucket of the activity statistics aggregation.
type ActivityTypeCount struct {
	ActivityType ActivityType `json:"activityType" bson:"_id"`
	Count        int64        `json:"count" bson:"count"`
	LastActivity time.Time    `json:"lastActivity" bson:"lastActivity"`
}
