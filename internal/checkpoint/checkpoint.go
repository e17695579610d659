// Package checkpoint persists partial and final comparison reports so an
// interrupted run can resume.
package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/haasonsaas/recallbench/internal/eval"
)

// ErrNotFound is returned by Load when no report is stored under a key.
var ErrNotFound = errors.New("checkpoint: not found")

// ErrInvalidKey is returned for keys that are empty or contain characters
// outside [A-Za-z0-9._-].
var ErrInvalidKey = errors.New("checkpoint: invalid key")

// Store loads and saves reports by key.
type Store interface {
	Load(ctx context.Context, key string) (*eval.Report, error)
	Save(ctx context.Context, key string, r *eval.Report) error
	Close() error
}

// Backend names.
const (
	BackendFile     = "file"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// Config selects a backend.
type Config struct {
	Backend string `yaml:"backend" json:"backend"`
	// Key names the report; runs sharing a key resume each other.
	Key string `yaml:"key" json:"key"`
	// Dir is the file backend's directory.
	Dir string `yaml:"dir" json:"dir"`
	// DSN is the sqlite path or postgres connection string.
	DSN string `yaml:"dsn" json:"dsn"`
	// RedisURL is a redis:// URL.
	RedisURL string `yaml:"redis_url" json:"redis_url"`
	// TTL expires redis checkpoints; zero keeps them.
	TTL time.Duration `yaml:"ttl" json:"ttl"`
}

// DefaultConfig stores checkpoints as files under .recallbench.
func DefaultConfig() Config {
	return Config{Backend: BackendFile, Key: "latest", Dir: ".recallbench"}
}

// Backends lists the supported backend names.
func Backends() []string {
	return []string{BackendFile, BackendSQLite, BackendPostgres, BackendRedis}
}

// Open creates the store cfg names.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch strings.ToLower(cfg.Backend) {
	case "", BackendFile:
		return NewFileStore(cfg.Dir)
	case BackendSQLite, BackendPostgres:
		return OpenSQL(ctx, strings.ToLower(cfg.Backend), cfg.DSN)
	case BackendRedis:
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("checkpoint: redis url: %w", err)
		}
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("checkpoint: ping redis: %w", err)
		}
		return NewRedisStore(client, cfg.TTL), nil
	}
	return nil, fmt.Errorf("checkpoint: unknown backend %q", cfg.Backend)
}

var keyPattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// ValidateKey checks that key is usable by every backend.
func ValidateKey(key string) error {
	if !keyPattern.MatchString(key) || key == "." || key == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return nil
}

// Bind adapts a store to the orchestrator's checkpointer for one key.
func Bind(s Store, key string) eval.Checkpointer {
	return bound{store: s, key: key}
}

type bound struct {
	store Store
	key   string
}

func (b bound) Save(ctx context.Context, r *eval.Report) error {
	return b.store.Save(ctx, b.key, r)
}

// LoadOrNil returns the stored report, or nil when none exists.
func LoadOrNil(ctx context.Context, s Store, key string) (*eval.Report, error) {
	r, err := s.Load(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return r, err
}
