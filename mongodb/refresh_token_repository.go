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

// RefreshTokenRepository implements domain.RefreshTokenRepository using
// MongoDB. Rotation runs inside a session transaction so a family can
// never hold two simultaneously valid tokens, nor lose its valid token to
// a partially applied rotation.
type RefreshTokenRepository struct {
	collection *mongo.Collection
	client     *mongo.Client
}

// NewRefreshTokenRepository creates the repository and ensures lookup
// indexes on (application_id, token_hash) and family_id.
func NewRefreshTokenRepository(ctx context.Context, db *mongo.Database) (*RefreshTokenRepository, error) {
	repo := &RefreshTokenRepository{
		collection: db.Collection(RefreshTokensCollection),
		client:     db.Client(),
	}

	indexModels := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "application_id", Value: 1}, {Key: "token_hash", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "family_id", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "user_id", Value: 1}},
		},
	}
	if _, err := repo.collection.Indexes().CreateMany(ctx, indexModels); err != nil {
		log.Warn().Err(err).Msg("Issue creating indexes for refresh tokens collection")
	}

	return repo, nil
}

func (r *RefreshTokenRepository) SaveRefreshToken(ctx context.Context, token *domain.RefreshToken) error {
	if token.CreatedAt.IsZero() {
		token.CreatedAt = time.Now().UTC()
	}
	_, err := r.collection.InsertOne(ctx, token)
	if err != nil {
		log.Error().Err(err).Str("familyID", token.FamilyID).Msg("Error saving refresh token")
		return fmt.Errorf("failed to save refresh token: %w", err)
	}
	return nil
}

func (r *RefreshTokenRepository) GetRefreshTokenByHash(ctx context.Context, applicationID, tokenHash string) (*domain.RefreshToken, error) {
	var token domain.RefreshToken
	err := r.collection.FindOne(ctx, bson.M{
		"application_id": applicationID,
		"token_hash":     tokenHash,
	}).Decode(&token)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrNotFound
		}
		log.Error().Err(err).Msg("Error retrieving refresh token by hash")
		return nil, fmt.Errorf("failed to retrieve refresh token: %w", err)
	}
	return &token, nil
}

// RotateRefreshToken revokes the current row with reason ROTATED and
// inserts the successor in one transaction. The revoke filters on
// revoked:false, so a concurrent rotation of the same row surfaces as
// ErrRotationConflict; callers treat that exactly like reuse.
func (r *RefreshTokenRepository) RotateRefreshToken(ctx context.Context, currentID string, successor *domain.RefreshToken, now time.Time) error {
	session, err := r.client.StartSession()
	if err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(txCtx context.Context) (any, error) {
		result, err := r.collection.UpdateOne(txCtx,
			bson.M{"_id": currentID, "revoked": false},
			bson.M{"$set": bson.M{
				"revoked":        true,
				"revoked_reason": domain.RevokeReasonRotated,
				"revoked_at":     now,
				"last_used_at":   now,
			}},
		)
		if err != nil {
			return nil, fmt.Errorf("failed to revoke current refresh token: %w", err)
		}
		if result.ModifiedCount == 0 {
			return nil, domain.ErrRotationConflict
		}

		if successor.CreatedAt.IsZero() {
			successor.CreatedAt = now
		}
		if _, err := r.collection.InsertOne(txCtx, successor); err != nil {
			return nil, fmt.Errorf("failed to insert successor refresh token: %w", err)
		}
		return nil, nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrRotationConflict) {
			return domain.ErrRotationConflict
		}
		log.Error().Err(err).Str("currentID", currentID).Msg("Refresh token rotation failed")
		return err
	}

	log.Debug().Str("familyID", successor.FamilyID).Msg("Refresh token rotated")
	return nil
}

func (r *RefreshTokenRepository) RevokeFamily(ctx context.Context, familyID string, reason domain.RevokeReason, at time.Time) (int64, error) {
	result, err := r.collection.UpdateMany(ctx,
		bson.M{"family_id": familyID, "revoked": false},
		bson.M{"$set": bson.M{
			"revoked":        true,
			"revoked_reason": reason,
			"revoked_at":     at,
		}},
	)
	if err != nil {
		log.Error().Err(err).Str("familyID", familyID).Msg("Error revoking refresh token family")
		return 0, fmt.Errorf("failed to revoke refresh token family: %w", err)
	}
	return result.ModifiedCount, nil
}

func (r *RefreshTokenRepository) RevokeAllForUser(ctx context.Context, userID string, reason domain.RevokeReason, at time.Time) (int64, error) {
	result, err := r.collection.UpdateMany(ctx,
		bson.M{"user_id": userID, "revoked": false},
		bson.M{"$set": bson.M{
			"revoked":        true,
			"revoked_reason": reason,
			"revoked_at":     at,
		}},
	)
	if err != nil {
		log.Error().Err(err).Str("userID", userID).Msg("Error revoking user refresh tokens")
		return 0, fmt.Errorf("failed to revoke user refresh tokens: %w", err)
	}
	return result.ModifiedCount, nil
}

func (r *RefreshTokenRepository) DeleteExpiredRefreshTokens(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.collection.DeleteMany(ctx, bson.M{"expires_at": bson.M{"$lte": before}})
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired refresh tokens: %w", err)
	}
	return result.DeletedCount, nil
}
