package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"learning-analytics-service/internal/errs"
	"learning-analytics-service/internal/models"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// ProfileDelta is one activity's additive contribution to a profile.
// Every field maps to a $inc, $addToSet or $max so concurrent writers
// converge regardless of apply order.
type ProfileDelta struct {
	TotalQuestions      int
	CorrectAnswers      int
	HomeworkSubmissions int
	GradeTotal          float64
	GradedSubmissions   int
	ChatSessions        int
	SessionDuration     int
	HelpRequests        int
	SelfCorrections     int
	Challenges          []string
	ActivityAt          time.Time
}

func (d ProfileDelta) IsZero() bool {
	return d.TotalQuestions == 0 && d.CorrectAnswers == 0 &&
		d.HomeworkSubmissions == 0 && d.GradedSubmissions == 0 &&
		d.ChatSessions == 0 && d.SessionDuration == 0 &&
		d.HelpRequests == 0 && d.SelfCorrections == 0 &&
		len(d.Challenges) == 0 && d.ActivityAt.IsZero()
}

type ProfileRepository struct {
	collection *mongo.Collection
}

func NewProfileRepository(db *mongo.Database) *ProfileRepository {
	return &ProfileRepository{
		collection: db.Collection("StudentProfiles"),
	}
}

// EnsureProfile upserts an empty profile for the student. Existing
// profiles are left untouched.
func (r *ProfileRepository) EnsureProfile(ctx context.Context, studentID string) (*models.StudentProfile, error) {
	now := time.Now()

	update := bson.M{
		"$setOnInsert": bson.M{
			"studentId":             studentID,
			"knowledgeScore":        models.ScoreEmpty,
			"knowledgeScoreHistory": []models.ScoreHistoryEntry{},
			"totalQuestions":        0,
			"correctAnswers":        0,
			"homeworkSubmissions":   0,
			"gradeTotal":            float64(0),
			"gradedSubmissions":     0,
			"commonChallenges":      []string{},
			"engagementMetrics": models.EngagementMetrics{
				ChatSessions:           0,
				AverageSessionDuration: 0,
				HelpRequests:           0,
				SelfCorrections:        0,
			},
			"riskFactors": models.RiskFactors{
				IsAtRisk:       false,
				RiskLevel:      models.LevelLow,
				Factors:        []string{},
				LastAssessment: now,
			},
			"issueCount":   0,
			"issueHistory": []models.IssueEntry{},
			"createdAt":    now,
			"updatedAt":    now,
		},
	}

	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var profile models.StudentProfile
	err := withRetry(ctx, "profile.ensure", func(ctx context.Context) error {
		return r.collection.FindOneAndUpdate(ctx, bson.M{"studentId": studentID}, update, opts).Decode(&profile)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to ensure profile for %s: %w", studentID, err)
	}
	return &profile, nil
}

func (r *ProfileRepository) FindByStudentID(ctx context.Context, studentID string) (*models.StudentProfile, error) {
	var profile models.StudentProfile
	err := withRetry(ctx, "profile.find", func(ctx context.Context) error {
		return r.collection.FindOne(ctx, bson.M{"studentId": studentID}).Decode(&profile)
	})
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, errs.NotFoundf("profile not found for student %s", studentID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find profile for %s: %w", studentID, err)
	}
	return &profile, nil
}

// ApplyActivityUpdate folds one activity's delta into the profile using
// only additive operators.
func (r *ProfileRepository) ApplyActivityUpdate(ctx context.Context, studentID string, delta ProfileDelta) error {
	if delta.IsZero() {
		return nil
	}

	inc := bson.M{}
	if delta.TotalQuestions != 0 {
		inc["totalQuestions"] = delta.TotalQuestions
	}
	if delta.CorrectAnswers != 0 {
		inc["correctAnswers"] = delta.CorrectAnswers
	}
	if delta.HomeworkSubmissions != 0 {
		inc["homeworkSubmissions"] = delta.HomeworkSubmissions
	}
	if delta.GradedSubmissions != 0 {
		inc["gradeTotal"] = delta.GradeTotal
		inc["gradedSubmissions"] = delta.GradedSubmissions
	}
	if delta.ChatSessions != 0 {
		inc["engagementMetrics.chatSessions"] = delta.ChatSessions
	}
	if delta.SessionDuration != 0 {
		inc["engagementMetrics.averageSessionDuration"] = delta.SessionDuration
	}
	if delta.HelpRequests != 0 {
		inc["engagementMetrics.helpRequests"] = delta.HelpRequests
	}
	if delta.SelfCorrections != 0 {
		inc["engagementMetrics.selfCorrections"] = delta.SelfCorrections
	}

	set := bson.M{"updatedAt": time.Now()}

	update := bson.M{"$set": set}
	if len(inc) > 0 {
		update["$inc"] = inc
	}
	if len(delta.Challenges) > 0 {
		update["$addToSet"] = bson.M{
			"commonChallenges": bson.M{"$each": delta.Challenges},
		}
	}
	if !delta.ActivityAt.IsZero() {
		update["$max"] = bson.M{"lastActivity": delta.ActivityAt}
	}

	err := withRetry(ctx, "profile.applyActivity", func(ctx context.Context) error {
		result, err := r.collection.UpdateOne(ctx, bson.M{"studentId": studentID}, update)
		if err != nil {
			return err
		}
		if result.MatchedCount == 0 {
			return errs.NotFoundf("profile not found for student %s", studentID)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to apply activity update for %s: %w", studentID, err)
	}
	return nil
}

// UpdateKnowledgeScore sets the current score and appends the transition
// to the score history in one write.
func (r *ProfileRepository) UpdateKnowledgeScore(ctx context.Context, studentID string, entry models.ScoreHistoryEntry) error {
	update := bson.M{
		"$set": bson.M{
			"knowledgeScore": entry.Score,
			"updatedAt":      time.Now(),
		},
		"$push": bson.M{
			"knowledgeScoreHistory": entry,
		},
	}

	err := withRetry(ctx, "profile.updateScore", func(ctx context.Context) error {
		result, err := r.collection.UpdateOne(ctx, bson.M{"studentId": studentID}, update)
		if err != nil {
			return err
		}
		if result.MatchedCount == 0 {
			return errs.NotFoundf("profile not found for student %s", studentID)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to update knowledge score for %s: %w", studentID, err)
	}
	return nil
}

// AddIssue appends an issue entry and bumps the lifetime counter. Entries
// are never deduplicated here; the ledger records every detection.
func (r *ProfileRepository) AddIssue(ctx context.Context, studentID string, issue models.IssueEntry) error {
	now := time.Now()
	update := bson.M{
		"$push": bson.M{"issueHistory": issue},
		"$inc":  bson.M{"issueCount": 1},
		"$set": bson.M{
			"lastIssueUpdate": now,
			"updatedAt":       now,
		},
	}

	err := withRetry(ctx, "profile.addIssue", func(ctx context.Context) error {
		result, err := r.collection.UpdateOne(ctx, bson.M{"studentId": studentID}, update)
		if err != nil {
			return err
		}
		if result.MatchedCount == 0 {
			return errs.NotFoundf("profile not found for student %s", studentID)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to add issue for %s: %w", studentID, err)
	}
	return nil
}

// ResolveIssue stamps ResolvedAt on an unresolved issue entry. Returns
// false when no unresolved entry matches, so resolving twice is a no-op.
func (r *ProfileRepository) ResolveIssue(ctx context.Context, studentID, issueID string) (bool, error) {
	now := time.Now()
	filter := bson.M{
		"studentId": studentID,
		"issueHistory": bson.M{
			"$elemMatch": bson.M{
				"issueId":    issueID,
				"resolvedAt": bson.M{"$exists": false},
			},
		},
	}
	update := bson.M{
		"$set": bson.M{
			"issueHistory.$.resolvedAt": now,
			"lastIssueUpdate":           now,
			"updatedAt":                 now,
		},
	}

	var modified bool
	err := withRetry(ctx, "profile.resolveIssue", func(ctx context.Context) error {
		result, err := r.collection.UpdateOne(ctx, filter, update)
		if err != nil {
			return err
		}
		modified = result.ModifiedCount > 0
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to resolve issue %s for %s: %w", issueID, studentID, err)
	}
	return modified, nil
}

func (r *ProfileRepository) SetConversationInsights(ctx context.Context, studentID string, insights models.ConversationInsights) error {
	update := bson.M{
		"$set": bson.M{
			"conversationInsights": insights,
			"updatedAt":            time.Now(),
		},
	}

	err := withRetry(ctx, "profile.setInsights", func(ctx context.Context) error {
		result, err := r.collection.UpdateOne(ctx, bson.M{"studentId": studentID}, update)
		if err != nil {
			return err
		}
		if result.MatchedCount == 0 {
			return errs.NotFoundf("profile not found for student %s", studentID)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to set conversation insights for %s: %w", studentID, err)
	}
	return nil
}

func (r *ProfileRepository) SetRiskFactors(ctx context.Context, studentID string, risk models.RiskFactors) error {
	update := bson.M{
		"$set": bson.M{
			"riskFactors": risk,
			"updatedAt":   time.Now(),
		},
	}

	err := withRetry(ctx, "profile.setRisk", func(ctx context.Context) error {
		_, err := r.collection.UpdateOne(ctx, bson.M{"studentId": studentID}, update)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to set risk factors for %s: %w", studentID, err)
	}
	return nil
}

func (r *ProfileRepository) SetLastAnalyzedAt(ctx context.Context, studentID string, at time.Time) error {
	update := bson.M{
		"$set": bson.M{
			"lastAnalyzedAt": at,
			"updatedAt":      time.Now(),
		},
	}

	err := withRetry(ctx, "profile.setLastAnalyzed", func(ctx context.Context) error {
		_, err := r.collection.UpdateOne(ctx, bson.M{"studentId": studentID}, update)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to set last analyzed time for %s: %w", studentID, err)
	}
	return nil
}

// FindStale returns student IDs whose profiles have activity since
// lastAnalyzedAt and have not been analyzed within staleAfter.
func (r *ProfileRepository) FindStale(ctx context.Context, staleAfter time.Duration, limit int) ([]string, error) {
	cutoff := time.Now().Add(-staleAfter)
	filter := bson.M{
		"$and": []bson.M{
			{"lastActivity": bson.M{"$gt": time.Time{}}},
			{"$or": []bson.M{
				{"lastAnalyzedAt": bson.M{"$lt": cutoff}},
				{"lastAnalyzedAt": bson.M{"$exists": false}},
			}},
			{"$expr": bson.M{"$gt": bson.A{"$lastActivity", "$lastAnalyzedAt"}}},
		},
	}

	opts := options.Find().
		SetProjection(bson.M{"studentId": 1}).
		SetSort(bson.M{"lastAnalyzedAt": 1}).
		SetLimit(int64(limit))

	var ids []string
	err := withRetry(ctx, "profile.findStale", func(ctx context.Context) error {
		cursor, err := r.collection.Find(ctx, filter, opts)
		if err != nil {
			return err
		}
		defer cursor.Close(ctx)

		ids = ids[:0]
		for cursor.Next(ctx) {
			var doc struct {
				StudentID string `bson:"studentId"`
			}
			if err := cursor.Decode(&doc); err != nil {
				return err
			}
			ids = append(ids, doc.StudentID)
		}
		return cursor.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to find stale profiles: %w", err)
	}
	return ids, nil
}

// Analytics aggregates score and risk distributions across all profiles.
func (r *ProfileRepository) Analytics(ctx context.Context) (*models.FleetAnalytics, error) {
	pipeline := mongo.Pipeline{
		bson.D{{Key: "$facet", Value: bson.M{
			"total": []bson.M{{"$count": "n"}},
			"byScore": []bson.M{
				{"$group": bson.M{"_id": "$knowledgeScore", "n": bson.M{"$sum": 1}}},
			},
			"byRisk": []bson.M{
				{"$group": bson.M{"_id": "$riskFactors.riskLevel", "n": bson.M{"$sum": 1}}},
			},
			"grades": []bson.M{
				{"$match": bson.M{"gradedSubmissions": bson.M{"$gt": 0}}},
				{"$group": bson.M{
					"_id":   nil,
					"total": bson.M{"$sum": "$gradeTotal"},
					"count": bson.M{"$sum": "$gradedSubmissions"},
				}},
			},
			"challenges": []bson.M{
				{"$unwind": "$commonChallenges"},
				{"$group": bson.M{"_id": "$commonChallenges", "n": bson.M{"$sum": 1}}},
				{"$sort": bson.M{"n": -1}},
				{"$limit": 10},
			},
		}}},
	}

	var raw []struct {
		Total []struct {
			N int64 `bson:"n"`
		} `bson:"total"`
		ByScore []struct {
			ID models.KnowledgeScore `bson:"_id"`
			N  int64                 `bson:"n"`
		} `bson:"byScore"`
		ByRisk []struct {
			ID models.Level `bson:"_id"`
			N  int64        `bson:"n"`
		} `bson:"byRisk"`
		Grades []struct {
			Total float64 `bson:"total"`
			Count int64   `bson:"count"`
		} `bson:"grades"`
		Challenges []struct {
			ID string `bson:"_id"`
			N  int64  `bson:"n"`
		} `bson:"challenges"`
	}

	err := withRetry(ctx, "profile.analytics", func(ctx context.Context) error {
		cursor, err := r.collection.Aggregate(ctx, pipeline)
		if err != nil {
			return err
		}
		defer cursor.Close(ctx)

		raw = raw[:0]
		return cursor.All(ctx, &raw)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate profile analytics: %w", err)
	}

	analytics := &models.FleetAnalytics{
		ScoreDistribution: make(map[models.KnowledgeScore]int64),
		RiskDistribution:  make(map[models.Level]int64),
	}
	if len(raw) == 0 {
		return analytics, nil
	}

	facets := raw[0]
	if len(facets.Total) > 0 {
		analytics.TotalStudents = facets.Total[0].N
	}
	for _, row := range facets.ByScore {
		analytics.ScoreDistribution[row.ID] = row.N
	}
	for _, row := range facets.ByRisk {
		analytics.RiskDistribution[row.ID] = row.N
	}
	if len(facets.Grades) > 0 && facets.Grades[0].Count > 0 {
		analytics.AverageGrade = facets.Grades[0].Total / float64(facets.Grades[0].Count)
	}
	for _, row := range facets.Challenges {
		analytics.TopChallenges = append(analytics.TopChallenges, row.ID)
	}
	return analytics, nil
}

func (r *ProfileRepository) CreateIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "studentId", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "lastAnalyzedAt", Value: 1}},
		},
	}

	_, err := r.collection.Indexes().CreateMany(ctx, indexes)
	if err != nil {
		return fmt.Errorf("failed to create profile indexes: %w", err)
	}
	return nil
}
