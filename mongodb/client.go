package mongodb

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
	"go.opentelemetry.io/contrib/instrumentation/go.mongodb.org/mongo-driver/v2/mongo/otelmongo"
)

// Connect opens a MongoDB client with command monitoring and verifies the
// connection with a ping. It should be called once at application startup.
func Connect(ctx context.Context, uri string) (*mongo.Client, error) {
	log.Info().Str("uri", uri).Msg("Connecting to MongoDB")

	clientOptions := options.Client().
		ApplyURI(uri).
		SetConnectTimeout(10 * time.Second).
		SetMonitor(otelmongo.NewMonitor())

	client, err := mongo.Connect(clientOptions)
	if err != nil {
		return nil, err
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}

	log.Info().Msg("MongoDB client initialized successfully.")
	return client, nil
}

// Ping verifies the connection, for health checks.
func Ping(ctx context.Context, client *mongo.Client) error {
	if client == nil {
		return errors.New("mongodb client is not initialized")
	}
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return client.Ping(pingCtx, readpref.Primary())
}

// Disconnect closes the client on application shutdown.
func Disconnect(ctx context.Context, client *mongo.Client) {
	if client == nil {
		return
	}
	log.Info().Msg("Closing MongoDB connection.")
	if err := client.Disconnect(ctx); err != nil {
		log.Error().Err(err).Msg("Error closing MongoDB connection")
	}
}
