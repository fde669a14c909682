package mongodb

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/qodari/iam/domain"
)

// RateLimitRepository implements domain.RateLimitStore using MongoDB.
//
// A hit is one FindOneAndUpdate upsert whose aggregation-pipeline update
// decides between "reset window" and "increment" on the server, so
// concurrent hits against the same key never under-count and never need a
// separate read-then-write.
type RateLimitRepository struct {
	collection *mongo.Collection
}

// NewRateLimitRepository creates the repository.
func NewRateLimitRepository(db *mongo.Database) *RateLimitRepository {
	return &RateLimitRepository{collection: db.Collection(RateLimitsCollection)}
}

func (r *RateLimitRepository) Hit(ctx context.Context, key string, window time.Duration) (*domain.RateLimitCounter, error) {
	now := time.Now().UTC()
	cutoff := now.Add(-window)

	windowExpired := bson.M{"$lt": bson.A{
		bson.M{"$ifNull": bson.A{"$window_start", time.Time{}}},
		cutoff,
	}}
	update := mongo.Pipeline{
		bson.D{{Key: "$set", Value: bson.M{
			"count": bson.M{"$cond": bson.A{
				windowExpired,
				1,
				bson.M{"$add": bson.A{bson.M{"$ifNull": bson.A{"$count", 0}}, 1}},
			}},
			"window_start": bson.M{"$cond": bson.A{
				windowExpired,
				now,
				bson.M{"$ifNull": bson.A{"$window_start", now}},
			}},
		}}},
	}

	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var counter domain.RateLimitCounter
	err := r.collection.FindOneAndUpdate(ctx, bson.M{"_id": key}, update, opts).Decode(&counter)
	if err != nil {
		log.Error().Err(err).Str("key", key).Msg("Error hitting rate limit counter")
		return nil, fmt.Errorf("failed to update rate limit counter: %w", err)
	}
	return &counter, nil
}

func (r *RateLimitRepository) DeleteStaleCounters(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.collection.DeleteMany(ctx, bson.M{"window_start": bson.M{"$lte": before}})
	if err != nil {
		return 0, fmt.Errorf("failed to delete stale rate limit counters: %w", err)
	}
	return result.DeletedCount, nil
}
