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

// ApiClientRepository implements domain.ApiClientRepository using MongoDB.
type ApiClientRepository struct {
	collection *mongo.Collection
}

// NewApiClientRepository creates the repository and ensures the client_id
// index.
func NewApiClientRepository(ctx context.Context, db *mongo.Database) (*ApiClientRepository, error) {
	repo := &ApiClientRepository{collection: db.Collection(ApiClientsCollection)}

	_, err := repo.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "client_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		log.Warn().Err(err).Msg("Issue creating indexes for api_clients collection")
	}

	return repo, nil
}

func (r *ApiClientRepository) GetApiClientByClientID(ctx context.Context, clientID string) (*domain.ApiClient, error) {
	var client domain.ApiClient
	err := r.collection.FindOne(ctx, bson.M{"client_id": clientID}).Decode(&client)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrNotFound
		}
		log.Error().Err(err).Str("clientID", clientID).Msg("Error retrieving api client")
		return nil, fmt.Errorf("failed to retrieve api client: %w", err)
	}
	return &client, nil
}
