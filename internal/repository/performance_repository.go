package repository

import (
	"context"
	"fmt"

	"learning-analytics-service/internal/models"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// PerformanceRepository reads graded submissions written by the grading
// pipeline. This service never writes to the collection.
type PerformanceRepository struct {
	collection *mongo.Collection
}

func NewPerformanceRepository(db *mongo.Database) *PerformanceRepository {
	return &PerformanceRepository{
		collection: db.Collection("Submissions"),
	}
}

// FindByStudentID returns a student's graded submissions, most recent
// first.
func (r *PerformanceRepository) FindByStudentID(ctx context.Context, studentID string, limit int) ([]*models.PerformanceRecord, error) {
	opts := options.Find().
		SetSort(bson.M{"submittedAt": -1}).
		SetLimit(int64(limit))

	var records []*models.PerformanceRecord
	err := withRetry(ctx, "performance.findByStudent", func(ctx context.Context) error {
		cursor, err := r.collection.Find(ctx, bson.M{"studentId": studentID}, opts)
		if err != nil {
			return err
		}
		defer cursor.Close(ctx)

		records = records[:0]
		return cursor.All(ctx, &records)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load performance records for %s: %w", studentID, err)
	}
	return records, nil
}
