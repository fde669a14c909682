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

// SessionRepository implements domain.SessionRepository using MongoDB.
type SessionRepository struct {
	collection *mongo.Collection
}

// NewSessionRepository creates the repository and ensures user and TTL
// indexes.
func NewSessionRepository(ctx context.Context, db *mongo.Database) (*SessionRepository, error) {
	repo := &SessionRepository{collection: db.Collection(SessionsCollection)}

	indexModels := []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "user_id", Value: 1}},
		},
		{
			Keys:    bson.D{{Key: "expires_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(0),
		},
	}
	if _, err := repo.collection.Indexes().CreateMany(ctx, indexModels); err != nil {
		log.Warn().Err(err).Msg("Issue creating indexes for sessions collection")
	}

	return repo, nil
}

func (r *SessionRepository) StoreSession(ctx context.Context, session *domain.Session) error {
	if session.ID == "" {
		return errors.New("session id is required")
	}
	if session.CreatedAt.IsZero() {
		session.CreatedAt = time.Now().UTC()
	}

	_, err := r.collection.InsertOne(ctx, session)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return errors.New("session with this id already exists")
		}
		log.Error().Err(err).Msg("Error storing session")
		return fmt.Errorf("failed to store session: %w", err)
	}
	return nil
}

func (r *SessionRepository) GetSessionByID(ctx context.Context, id string) (*domain.Session, error) {
	var session domain.Session
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&session)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrNotFound
		}
		log.Error().Err(err).Msg("Error getting session by id")
		return nil, fmt.Errorf("failed to retrieve session: %w", err)
	}
	return &session, nil
}

func (r *SessionRepository) TouchSession(ctx context.Context, id string, at time.Time) error {
	_, err := r.collection.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"last_seen_at": at}},
	)
	if err != nil {
		log.Error().Err(err).Msg("Error touching session")
		return fmt.Errorf("failed to touch session: %w", err)
	}
	return nil
}

func (r *SessionRepository) DeleteSession(ctx context.Context, id string) error {
	_, err := r.collection.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		log.Error().Err(err).Msg("Error deleting session")
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

func (r *SessionRepository) DeleteSessionsForUser(ctx context.Context, userID string) (int64, error) {
	result, err := r.collection.DeleteMany(ctx, bson.M{"user_id": userID})
	if err != nil {
		log.Error().Err(err).Str("userID", userID).Msg("Error deleting user sessions")
		return 0, fmt.Errorf("failed to delete user sessions: %w", err)
	}
	return result.DeletedCount, nil
}

func (r *SessionRepository) DeleteExpiredSessions(ctx context.Context) (int64, error) {
	result, err := r.collection.DeleteMany(ctx, bson.M{"expires_at": bson.M{"$lte": time.Now().UTC()}})
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}
	return result.DeletedCount, nil
}
