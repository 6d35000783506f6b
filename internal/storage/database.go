package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"log/slog"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/rgaudreau/dealstalker/internal/types"
)

// MongoStorage writes listings to a MongoDB collection. Listings are
// upserted on (asin, site) so repeated runs refresh prices instead of
// piling up duplicates.
type MongoStorage struct {
	client     *mongo.Client
	collection *mongo.Collection
	mu         sync.Mutex
	count      int
	logger     *slog.Logger
}

// NewMongoStorage creates a new MongoDB storage backend.
func NewMongoStorage(uri, database, collection string, logger *slog.Logger) (*MongoStorage, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongodb connect: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("mongodb ping: %w", err)
	}

	return &MongoStorage{
		client:     client,
		collection: client.Database(database).Collection(collection),
		logger:     logger.With("component", "mongo_storage"),
	}, nil
}

func (s *MongoStorage) Name() string { return "mongodb" }

func (s *MongoStorage) Store(listings []*types.Listing) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, l := range listings {
		filter := bson.M{"asin": l.ASIN, "site": l.Site}
		opts := options.Replace().SetUpsert(true)
		if _, err := s.collection.ReplaceOne(ctx, filter, listingDoc(l), opts); err != nil {
			return &types.StorageError{Backend: s.Name(), Err: err}
		}
		s.count++
	}

	s.logger.Debug("listings stored in mongodb", "count", len(listings), "total", s.count)
	return nil
}

func (s *MongoStorage) Close() error {
	s.logger.Info("mongodb storage closing", "total_listings", s.count)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// listingDoc keeps document keys aligned with the JSON export so both
// sinks stay queryable by the same field names.
func listingDoc(l *types.Listing) bson.M {
	return bson.M{
		"asin":             l.ASIN,
		"title":            l.Title,
		"brand":            l.Brand,
		"image_url":        l.ImageURL,
		"price_current":    l.PriceCurrent,
		"price_original":   l.PriceOriginal,
		"discount_percent": l.DiscountPercent,
		"rating":           l.Rating,
		"review_count":     l.ReviewCount,
		"product_url":      l.ProductURL,
		"category":         l.Category,
		"site":             l.Site,
		"scraped_at":       l.ScrapedAt,
	}
}

// --- Multi-Storage Fan-Out ---

// MultiStorage writes listings to multiple backends simultaneously.
type MultiStorage struct {
	backends []Storage
	logger   *slog.Logger
}

// NewMultiStorage creates a storage that fans out to multiple backends.
func NewMultiStorage(backends []Storage, logger *slog.Logger) *MultiStorage {
	return &MultiStorage{
		backends: backends,
		logger:   logger.With("component", "multi_storage"),
	}
}

func (s *MultiStorage) Name() string { return "multi" }

func (s *MultiStorage) Store(listings []*types.Listing) error {
	var firstErr error
	for _, backend := range s.backends {
		if err := backend.Store(listings); err != nil {
			s.logger.Error("backend store failed", "backend", backend.Name(), "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (s *MultiStorage) Close() error {
	var firstErr error
	for _, backend := range s.backends {
		if err := backend.Close(); err != nil {
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
