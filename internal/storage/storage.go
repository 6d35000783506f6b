package storage

import (
	"fmt"

	"log/slog"

	"github.com/rgaudreau/dealstalker/internal/config"
	"github.com/rgaudreau/dealstalker/internal/types"
)

// Storage is the interface for all result sinks.
type Storage interface {
	// Store persists a batch of listings.
	Store(listings []*types.Listing) error

	// Close flushes pending writes and releases resources.
	Close() error

	// Name returns the storage backend identifier.
	Name() string
}

// New builds the backend selected by cfg.Type. The multi backend fans
// out to every type listed in cfg.Types.
func New(cfg *config.StorageConfig, site string, logger *slog.Logger) (Storage, error) {
	return newByType(cfg.Type, cfg, site, logger)
}

func newByType(storageType string, cfg *config.StorageConfig, site string, logger *slog.Logger) (Storage, error) {
	switch storageType {
	case "json", "jsonl", "csv":
		return NewFileStorage(storageType, cfg.OutputDir, site, logger)
	case "mongodb":
		return NewMongoStorage(cfg.MongoURI, cfg.MongoDatabase, cfg.MongoCollection, logger)
	case "redis":
		return NewRedisStorage(cfg.RedisAddr, cfg.RedisDB, cfg.RedisStream, cfg.RedisMaxLen, logger)
	case "multi":
		backends := make([]Storage, 0, len(cfg.Types))
		for _, t := range cfg.Types {
			if t == "multi" {
				continue
			}
			b, err := newByType(t, cfg, site, logger)
			if err != nil {
				for _, open := range backends {
					_ = open.Close()
				}
				return nil, err
			}
			backends = append(backends, b)
		}
		return NewMultiStorage(backends, logger), nil
	default:
		return nil, fmt.Errorf("%w: unsupported storage type %q", types.ErrConfigInvalid, storageType)
	}
}
