package cache

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"learning-analytics-service/internal/models"

	"github.com/redis/go-redis/v9"
)

const profileKeyPrefix = "analytics:profile:"

// ProfileCache keeps a short-lived JSON snapshot of each student profile
// in Redis so the trigger-evaluation hot path does not hit Mongo on every
// activity. The cache is best effort: Redis faults are logged and treated
// as misses.
type ProfileCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewProfileCache(client *redis.Client, ttl time.Duration) *ProfileCache {
	return &ProfileCache{
		client: client,
		ttl:    ttl,
	}
}

func profileKey(studentID string) string {
	return profileKeyPrefix + studentID
}

// Get returns the cached profile, or nil on a miss.
func (c *ProfileCache) Get(ctx context.Context, studentID string) *models.StudentProfile {
	data, err := c.client.Get(ctx, profileKey(studentID)).Bytes()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		log.Printf("profile cache read failed for %s: %v", studentID, err)
		return nil
	}

	var profile models.StudentProfile
	if err := json.Unmarshal(data, &profile); err != nil {
		log.Printf("profile cache decode failed for %s: %v", studentID, err)
		return nil
	}
	return &profile
}

func (c *ProfileCache) Set(ctx context.Context, profile *models.StudentProfile) {
	data, err := json.Marshal(profile)
	if err != nil {
		log.Printf("profile cache encode failed for %s: %v", profile.StudentID, err)
		return
	}
	if err := c.client.Set(ctx, profileKey(profile.StudentID), data, c.ttl).Err(); err != nil {
		log.Printf("profile cache write failed for %s: %v", profile.StudentID, err)
	}
}

// Invalidate drops the snapshot after any profile mutation.
func (c *ProfileCache) Invalidate(ctx context.Context, studentID string) {
	if err := c.client.Del(ctx, profileKey(studentID)).Err(); err != nil {
		log.Printf("profile cache invalidate failed for %s: %v", studentID, err)
	}
}
