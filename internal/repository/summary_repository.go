package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"learning-analytics-service/internal/models"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

type SummaryRepository struct {
	collection *mongo.Collection
}

func NewSummaryRepository(db *mongo.Database) *SummaryRepository {
	return &SummaryRepository{
		collection: db.Collection("ConversationSummaries"),
	}
}

// FindBySessionID returns the stored summary for a session, or nil when
// the session was never summarized.
func (r *SummaryRepository) FindBySessionID(ctx context.Context, sessionID string) (*models.ConversationSummary, error) {
	var summary models.ConversationSummary
	err := withRetry(ctx, "summary.findBySession", func(ctx context.Context) error {
		return r.collection.FindOne(ctx, bson.M{"sessionId": sessionID}).Decode(&summary)
	})
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find summary for session %s: %w", sessionID, err)
	}
	return &summary, nil
}

func (r *SummaryRepository) Insert(ctx context.Context, summary *models.ConversationSummary) error {
	return withRetry(ctx, "summary.insert", func(ctx context.Context) error {
		if summary.ID.IsZero() {
			summary.ID = bson.NewObjectID()
		}
		if summary.CreatedAt.IsZero() {
			summary.CreatedAt = time.Now()
		}
		_, err := r.collection.InsertOne(ctx, summary)
		if err != nil {
			return fmt.Errorf("failed to insert conversation summary: %w", err)
		}
		return nil
	})
}

// FindByStudentID returns a student's summaries, most recent first.
func (r *SummaryRepository) FindByStudentID(ctx context.Context, studentID string, limit int) ([]*models.ConversationSummary, error) {
	opts := options.Find().
		SetSort(bson.M{"createdAt": -1}).
		SetLimit(int64(limit))

	var summaries []*models.ConversationSummary
	err := withRetry(ctx, "summary.findByStudent", func(ctx context.Context) error {
		cursor, err := r.collection.Find(ctx, bson.M{"studentId": studentID}, opts)
		if err != nil {
			return err
		}
		defer cursor.Close(ctx)

		summaries = summaries[:0]
		return cursor.All(ctx, &summaries)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load summaries for %s: %w", studentID, err)
	}
	return summaries, nil
}

func (r *SummaryRepository) CreateIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "sessionId", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "studentId", Value: 1}, {Key: "createdAt", Value: -1}},
		},
	}

	_, err := r.collection.Indexes().CreateMany(ctx, indexes)
	if err != nil {
		return fmt.Errorf("failed to create summary indexes: %w", err)
	}
	return nil
}
