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

// AuthCodeRepository implements domain.AuthCodeRepository using MongoDB.
type AuthCodeRepository struct {
	collection *mongo.Collection
}

// NewAuthCodeRepository creates the repository and ensures a TTL index on
// expires_at as a backstop behind the cleanup sweep.
func NewAuthCodeRepository(ctx context.Context, db *mongo.Database) (*AuthCodeRepository, error) {
	repo := &AuthCodeRepository{collection: db.Collection(AuthCodesCollection)}

	_, err := repo.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "expires_at", Value: 1}},
		Options: options.Index().SetExpireAfterSeconds(3600),
	})
	if err != nil {
		log.Warn().Err(err).Msg("Issue creating indexes for auth codes collection")
	}

	return repo, nil
}

func (r *AuthCodeRepository) SaveAuthCode(ctx context.Context, authCode *domain.AuthCode) error {
	if authCode.Code == "" {
		return errors.New("auth code value cannot be empty")
	}
	if authCode.CreatedAt.IsZero() {
		authCode.CreatedAt = time.Now().UTC()
	}

	_, err := r.collection.InsertOne(ctx, authCode)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("authorization code already exists: %w", err)
		}
		log.Error().Err(err).Msg("Error saving authorization code")
		return fmt.Errorf("failed to save authorization code: %w", err)
	}

	log.Debug().Str("userID", authCode.UserID).Str("applicationID", authCode.ApplicationID).
		Msg("Authorization code saved")
	return nil
}

// ConsumeAuthCode flips used from false to true in a single
// FindOneAndUpdate. The filter on used:false makes the mark-used the unit
// of atomicity: two concurrent redemptions of one code can never both
// succeed. The returned row reflects the state before consumption.
func (r *AuthCodeRepository) ConsumeAuthCode(ctx context.Context, codeValue string) (*domain.AuthCode, error) {
	filter := bson.M{"_id": codeValue, "used": false}
	update := bson.M{"$set": bson.M{"used": true}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.Before)

	var authCode domain.AuthCode
	err := r.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&authCode)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrNotFound
		}
		log.Error().Err(err).Msg("Error consuming authorization code")
		return nil, fmt.Errorf("failed to consume authorization code: %w", err)
	}

	log.Debug().Str("userID", authCode.UserID).Msg("Authorization code consumed")
	return &authCode, nil
}

func (r *AuthCodeRepository) DeleteExpiredAuthCodes(ctx context.Context) (int64, error) {
	result, err := r.collection.DeleteMany(ctx, bson.M{"expires_at": bson.M{"$lte": time.Now().UTC()}})
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired authorization codes: %w", err)
	}
	return result.DeletedCount, nil
}
