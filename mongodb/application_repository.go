package mongodb

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/qodari/iam/domain"
)

// ApplicationRepository implements domain.ApplicationRepository using
// MongoDB.
type ApplicationRepository struct {
	collection *mongo.Collection
}

// NewApplicationRepository creates the repository and ensures lookup
// indexes on client_id and (account_id, slug).
func NewApplicationRepository(ctx context.Context, db *mongo.Database) (*ApplicationRepository, error) {
	repo := &ApplicationRepository{collection: db.Collection(ApplicationsCollection)}

	indexModels := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "client_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "account_id", Value: 1}, {Key: "slug", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
	}
	if _, err := repo.collection.Indexes().CreateMany(ctx, indexModels); err != nil {
		log.Warn().Err(err).Msg("Issue creating indexes for applications collection")
	}

	return repo, nil
}

func (r *ApplicationRepository) GetApplicationByID(ctx context.Context, id string) (*domain.Application, error) {
	return r.findOne(ctx, bson.M{"_id": id})
}

func (r *ApplicationRepository) GetApplicationByClientID(ctx context.Context, clientID string) (*domain.Application, error) {
	return r.findOne(ctx, bson.M{"client_id": clientID})
}

func (r *ApplicationRepository) GetApplicationBySlug(ctx context.Context, accountID, slug string) (*domain.Application, error) {
	return r.findOne(ctx, bson.M{"account_id": accountID, "slug": slug})
}

func (r *ApplicationRepository) findOne(ctx context.Context, filter bson.M) (*domain.Application, error) {
	var app domain.Application
	err := r.collection.FindOne(ctx, filter).Decode(&app)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrNotFound
		}
		log.Error().Err(err).Interface("filter", filter).Msg("Error retrieving application")
		return nil, fmt.Errorf("failed to retrieve application: %w", err)
	}
	return &app, nil
}
