package kvstore

import (
	"context"
	"fmt"
	"io"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-engine/internal/config"
)

// Open builds the store selected by cfg.StoreDriver. The returned closer releases
// resources owned by the store itself; a shared Redis client is left open.
func Open(ctx context.Context, cfg *config.Config, rdb *redis.Client, log zerolog.Logger) (Store, io.Closer, error) {
	switch cfg.StoreDriver {
	case "redis":
		if rdb == nil {
			return nil, nil, fmt.Errorf("store driver redis requires a redis client")
		}
		log.Info().Str("driver", "redis").Msg("Local state store ready")
		return NewRedisStore(rdb), nopCloser{}, nil
	case "sqlite":
		s, err := OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		log.Info().Str("driver", "sqlite").Str("path", cfg.SQLitePath).Msg("Local state store ready")
		return s, s, nil
	case "memory":
		log.Warn().Str("driver", "memory").Msg("Local state store is not durable")
		return NewMemoryStore(), nopCloser{}, nil
	default:
		return nil, nil, fmt.Errorf("unsupported store driver: %s", cfg.StoreDriver)
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
