package repository

import (
	"context"
	"fmt"
	"time"

	"learning-analytics-service/internal/models"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

type AnalysisRepository struct {
	collection *mongo.Collection
}

func NewAnalysisRepository(db *mongo.Database) *AnalysisRepository {
	return &AnalysisRepository{
		collection: db.Collection("AnalysisRecords"),
	}
}

// Insert stores one analysis audit record. Records are write-once.
func (r *AnalysisRepository) Insert(ctx context.Context, record *models.AnalysisRecord) error {
	return withRetry(ctx, "analysis.insert", func(ctx context.Context) error {
		if record.ID.IsZero() {
			record.ID = bson.NewObjectID()
		}
		if record.CreatedAt.IsZero() {
			record.CreatedAt = time.Now()
		}
		_, err := r.collection.InsertOne(ctx, record)
		if err != nil {
			return fmt.Errorf("failed to insert analysis record: %w", err)
		}
		return nil
	})
}

// FindByStudentID returns a student's analysis records, most recent first.
func (r *AnalysisRepository) FindByStudentID(ctx context.Context, studentID string, limit int) ([]*models.AnalysisRecord, error) {
	opts := options.Find().
		SetSort(bson.M{"analysisDate": -1}).
		SetLimit(int64(limit))

	var records []*models.AnalysisRecord
	err := withRetry(ctx, "analysis.findByStudent", func(ctx context.Context) error {
		cursor, err := r.collection.Find(ctx, bson.M{"studentId": studentID}, opts)
		if err != nil {
			return err
		}
		defer cursor.Close(ctx)

		records = records[:0]
		return cursor.All(ctx, &records)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load analysis records for %s: %w", studentID, err)
	}
	return records, nil
}

func (r *AnalysisRepository) CreateIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "analysisId", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "studentId", Value: 1}, {Key: "analysisDate", Value: -1}},
		},
	}

	_, err := r.collection.Indexes().CreateMany(ctx, indexes)
	if err != nil {
		return fmt.Errorf("failed to create analysis indexes: %w", err)
	}
	return nil
}
