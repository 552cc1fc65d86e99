package models

import "testing"

func TestDeclinePercent(t *testing.T) {
	tests := []struct {
		name     string
		oldScore KnowledgeScore
		newScore KnowledgeScore
		want     int
	}{
		{"good to struggling", ScoreGood, ScoreStruggling, 50},
		{"good to needs_attention", ScoreGood, ScoreNeedsAttention, 25},
		{"good to empty", ScoreGood, ScoreEmpty, 75},
		{"needs_attention to struggling", ScoreNeedsAttention, ScoreStruggling, 25},
		{"no change", ScoreGood, ScoreGood, 0},
		{"improvement yields zero", ScoreStruggling, ScoreGood, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DeclinePercent(tt.oldScore, tt.newScore); got != tt.want {
				t.Errorf("DeclinePercent(%s, %s) = %d, want %d", tt.oldScore, tt.newScore, got, tt.want)
			}
		})
	}
}

func TestKnowledgeScoreIsValid(t *testing.T) {
	for _, score := range []KnowledgeScore{ScoreEmpty, ScoreGood, ScoreNeedsAttention, ScoreStruggling} {
		if !score.IsValid() {
			t.Errorf("Expected %s to be valid", score)
		}
	}
	if KnowledgeScore("excellent").IsValid() {
		t.Error("Unknown score must not validate")
	}
}

func TestActivityTypeIsValid(t *testing.T) {
	for _, activityType := range []ActivityType{ActivityChat, ActivityHomework, ActivityLogin, ActivityHelpRequest, ActivityPractice, ActivityQuiz} {
		if !activityType.IsValid() {
			t.Errorf("Expected %s to be valid", activityType)
		}
	}
	if ActivityType("sleeping").IsValid() {
		t.Error("Unknown activity type must not validate")
	}
}

func TestAverageGrade(t *testing.T) {
	profile := &StudentProfile{GradeTotal: 240, GradedSubmissions: 3}
	if got := profile.AverageGrade(); got != 80 {
		t.Errorf("Expected running average 80, got %g", got)
	}

	empty := &StudentProfile{}
	if got := empty.AverageGrade(); got != 0 {
		t.Errorf("Expected 0 average with no graded submissions, got %g", got)
	}
}
