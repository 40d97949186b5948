// Package mongodb opens the document store shared by the catalog, cart and
// favorites repositories.
package mongodb

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

type settings struct {
	connectTimeout         time.Duration
	serverSelectionTimeout time.Duration
	minPool, maxPool       uint64
	appName                string
}

type Option func(*settings)

// WithConnectTimeout bounds both dialing and the startup ping.
func WithConnectTimeout(d time.Duration) Option {
	return func(s *settings) { s.connectTimeout = d }
}

func WithServerSelectionTimeout(d time.Duration) Option {
	return func(s *settings) { s.serverSelectionTimeout = d }
}

// WithPoolSize sets the connection pool bounds. A zero max leaves the
// driver default.
func WithPoolSize(minSize, maxSize uint64) Option {
	return func(s *settings) {
		s.minPool = minSize
		s.maxPool = maxSize
	}
}

func WithAppName(name string) Option {
	return func(s *settings) { s.appName = name }
}

func clientOptions(uri string, opts ...Option) *options.ClientOptions {
	s := settings{
		connectTimeout:         10 * time.Second,
		serverSelectionTimeout: 5 * time.Second,
		minPool:                10,
		maxPool:                100,
		appName:                "shoekart",
	}
	for _, opt := range opts {
		opt(&s)
	}

	co := options.Client().
		ApplyURI(uri).
		SetConnectTimeout(s.connectTimeout).
		SetServerSelectionTimeout(s.serverSelectionTimeout).
		SetMinPoolSize(s.minPool).
		SetAppName(s.appName)
	if s.maxPool > 0 {
		co.SetMaxPoolSize(s.maxPool)
	}
	return co
}

// Connect dials uri and pings the primary before handing out the database.
func Connect(ctx context.Context, uri, database string, opts ...Option) (*mongo.Database, error) {
	co := clientOptions(uri, opts...)

	client, err := mongo.Connect(ctx, co)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, *co.ConnectTimeout)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	return client.Database(database), nil
}
