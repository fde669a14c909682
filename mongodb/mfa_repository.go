package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/qodari/iam/domain"
)

// MfaRepository implements domain.MfaRepository using MongoDB.
type MfaRepository struct {
	collection *mongo.Collection
}

// NewMfaRepository creates the repository and ensures a TTL index behind
// the cleanup sweep.
func NewMfaRepository(ctx context.Context, db *mongo.Database) (*MfaRepository, error) {
	repo := &MfaRepository{collection: db.Collection(MfaChallengesCollection)}

	_, err := repo.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "expires_at", Value: 1}},
		Options: options.Index().SetExpireAfterSeconds(3600),
	})
	if err != nil {
		log.Warn().Err(err).Msg("Issue creating indexes for mfa challenges collection")
	}

	return repo, nil
}

func (r *MfaRepository) StoreChallenge(ctx context.Context, challenge *domain.MfaChallenge) error {
	if challenge.CreatedAt.IsZero() {
		challenge.CreatedAt = time.Now().UTC()
	}
	_, err := r.collection.InsertOne(ctx, challenge)
	if err != nil {
		log.Error().Err(err).Str("userID", challenge.UserID).Msg("Error storing mfa challenge")
		return fmt.Errorf("failed to store mfa challenge: %w", err)
	}
	return nil
}

func (r *MfaRepository) GetChallengeByID(ctx context.Context, id string) (*domain.MfaChallenge, error) {
	var challenge domain.MfaChallenge
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&challenge)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrNotFound
		}
		log.Error().Err(err).Msg("Error getting mfa challenge")
		return nil, fmt.Errorf("failed to retrieve mfa challenge: %w", err)
	}
	return &challenge, nil
}

// IncrementAttempts adds one to the attempt counter in a single atomic
// update and returns the incremented count.
func (r *MfaRepository) IncrementAttempts(ctx context.Context, id string) (int, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var challenge domain.MfaChallenge
	err := r.collection.FindOneAndUpdate(ctx,
		bson.M{"_id": id},
		bson.M{"$inc": bson.M{"attempts": 1}},
		opts,
	).Decode(&challenge)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return 0, domain.ErrNotFound
		}
		log.Error().Err(err).Msg("Error incrementing mfa attempts")
		return 0, fmt.Errorf("failed to increment mfa attempts: %w", err)
	}
	return challenge.Attempts, nil
}

func (r *MfaRepository) ReplaceChallengeCode(ctx context.Context, id, codeHash string, expiresAt time.Time) error {
	result, err := r.collection.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{
			"code_hash":  codeHash,
			"expires_at": expiresAt,
			"attempts":   0,
		}},
	)
	if err != nil {
		log.Error().Err(err).Msg("Error replacing mfa challenge code")
		return fmt.Errorf("failed to replace mfa challenge code: %w", err)
	}
	if result.MatchedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *MfaRepository) DeleteChallenge(ctx context.Context, id string) error {
	_, err := r.collection.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		log.Error().Err(err).Msg("Error deleting mfa challenge")
		return fmt.Errorf("failed to delete mfa challenge: %w", err)
	}
	return nil
}

func (r *MfaRepository) DeleteExpiredChallenges(ctx context.Context) (int64, error) {
	result, err := r.collection.DeleteMany(ctx, bson.M{"expires_at": bson.M{"$lte": time.Now().UTC()}})
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired mfa challenges: %w", err)
	}
	return result.DeletedCount, nil
}
