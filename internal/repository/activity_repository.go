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

type ActivityRepository struct {
	collection *mongo.Collection
}

func NewActivityRepository(db *mongo.Database) *ActivityRepository {
	return &ActivityRepository{
		collection: db.Collection("StudentActivities"),
	}
}

// Insert appends one immutable activity record. Records are never updated
// or deleted by this service.
func (r *ActivityRepository) Insert(ctx context.Context, record *models.ActivityRecord) error {
	return withRetry(ctx, "activity.insert", func(ctx context.Context) error {
		if record.ID.IsZero() {
			record.ID = bson.NewObjectID()
		}
		if record.Timestamp.IsZero() {
			record.Timestamp = time.Now()
		}
		_, err := r.collection.InsertOne(ctx, record)
		if err != nil {
			return fmt.Errorf("failed to insert activity: %w", err)
		}
		return nil
	})
}

// History returns a student's activities, most recent first. typeFilter
// narrows to one activity type when non-empty.
func (r *ActivityRepository) History(ctx context.Context, studentID string, limit int, typeFilter models.ActivityType) ([]*models.ActivityRecord, error) {
	filter := bson.M{"studentId": studentID}
	if typeFilter != "" {
		filter["activityType"] = typeFilter
	}

	opts := options.Find().
		SetSort(bson.M{"timestamp": -1}).
		SetLimit(int64(limit))

	var records []*models.ActivityRecord
	err := withRetry(ctx, "activity.history", func(ctx context.Context) error {
		cursor, err := r.collection.Find(ctx, filter, opts)
		if err != nil {
			return err
		}
		defer cursor.Close(ctx)

		records = records[:0]
		return cursor.All(ctx, &records)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load activity history: %w", err)
	}
	return records, nil
}

// Statistics groups activity counts by type, optionally scoped to one
// student and a date range.
func (r *ActivityRepository) Statistics(ctx context.Context, studentID string, from, to time.Time) ([]models.ActivityTypeCount, error) {
	match := bson.M{}
	if studentID != "" {
		match["studentId"] = studentID
	}
	if !from.IsZero() || !to.IsZero() {
		window := bson.M{}
		if !from.IsZero() {
			window["$gte"] = from
		}
		if !to.IsZero() {
			window["$lte"] = to
		}
		match["timestamp"] = window
	}

	pipeline := mongo.Pipeline{
		bson.D{{Key: "$match", Value: match}},
		bson.D{{Key: "$group", Value: bson.M{
			"_id":          "$activityType",
			"count":        bson.M{"$sum": 1},
			"lastActivity": bson.M{"$max": "$timestamp"},
		}}},
		bson.D{{Key: "$sort", Value: bson.M{"count": -1}}},
	}

	var stats []models.ActivityTypeCount
	err := withRetry(ctx, "activity.statistics", func(ctx context.Context) error {
		cursor, err := r.collection.Aggregate(ctx, pipeline)
		if err != nil {
			return err
		}
		defer cursor.Close(ctx)

		stats = stats[:0]
		return cursor.All(ctx, &stats)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate activity statistics: %w", err)
	}
	return stats, nil
}

// CountSince counts a student's activities newer than the given time.
func (r *ActivityRepository) CountSince(ctx context.Context, studentID string, since time.Time) (int64, error) {
	var count int64
	err := withRetry(ctx, "activity.countSince", func(ctx context.Context) error {
		var err error
		count, err = r.collection.CountDocuments(ctx, bson.M{
			"studentId": studentID,
			"timestamp": bson.M{"$gte": since},
		})
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count activities: %w", err)
	}
	return count, nil
}

func (r *ActivityRepository) CreateIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "studentId", Value: 1}, {Key: "timestamp", Value: -1}},
		},
		{
			Keys: bson.D{{Key: "studentId", Value: 1}, {Key: "activityType", Value: 1}, {Key: "timestamp", Value: -1}},
		},
	}

	_, err := r.collection.Indexes().CreateMany(ctx, indexes)
	if err != nil {
		return fmt.Errorf("failed to create activity indexes: %w", err)
	}
	return nil
}
