package repository

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoOptions configures the cart database connection.
type MongoOptions struct {
	URI      string
	Database string
	// AppName tags the connections in the server's logs and currentOp.
	AppName string
	// MaxPoolSize defaults to 20.
	MaxPoolSize uint64
}

func ConnectMongoDB(ctx context.Context, opts MongoOptions) (*mongo.Database, error) {
	if opts.MaxPoolSize == 0 {
		opts.MaxPoolSize = 20
	}

	clientOpts := options.Client().
		ApplyURI(opts.URI).
		SetConnectTimeout(10 * time.Second).
		SetServerSelectionTimeout(5 * time.Second).
		SetMaxPoolSize(opts.MaxPoolSize).
		SetRetryWrites(true)
	if opts.AppName != "" {
		clientOpts.SetAppName(opts.AppName)
	}

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	return client.Database(opts.Database), nil
}
