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

// AccountRepository implements domain.AccountRepository using MongoDB.
type AccountRepository struct {
	collection *mongo.Collection
}

// NewAccountRepository creates the repository and ensures the slug index.
func NewAccountRepository(ctx context.Context, db *mongo.Database) (*AccountRepository, error) {
	repo := &AccountRepository{collection: db.Collection(AccountsCollection)}

	_, err := repo.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "slug", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		log.Warn().Err(err).Msg("Issue creating indexes for accounts collection")
	}

	return repo, nil
}

func (r *AccountRepository) GetAccountByID(ctx context.Context, id string) (*domain.Account, error) {
	var account domain.Account
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&account)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrNotFound
		}
		log.Error().Err(err).Str("id", id).Msg("Error retrieving account by id")
		return nil, fmt.Errorf("failed to retrieve account: %w", err)
	}
	return &account, nil
}

func (r *AccountRepository) GetAccountBySlug(ctx context.Context, slug string) (*domain.Account, error) {
	var account domain.Account
	err := r.collection.FindOne(ctx, bson.M{"slug": slug}).Decode(&account)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrNotFound
		}
		log.Error().Err(err).Str("slug", slug).Msg("Error retrieving account by slug")
		return nil, fmt.Errorf("failed to retrieve account: %w", err)
	}
	return &account, nil
}
