package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/wolfeidau/churnrunner/internal/blob"
	"github.com/wolfeidau/churnrunner/internal/store"
	memorystore "github.com/wolfeidau/churnrunner/internal/store/memory"
	postgresstore "github.com/wolfeidau/churnrunner/internal/store/postgres"
)

type PostgresFlags struct {
	ConnString         string `help:"PostgreSQL connection string" env:"CHURN_POSTGRES_CONNECTION_STRING"`
	TokenSigningSecret string `help:"secret key for HMAC signing of task tokens" env:"CHURN_POSTGRES_TOKEN_SECRET"`

	MaxConns        int32         `help:"maximum number of connections in pool" default:"20" env:"CHURN_POSTGRES_MAX_CONNS"`
	MinConns        int32         `help:"minimum number of connections in pool" default:"2" env:"CHURN_POSTGRES_MIN_CONNS"`
	MaxConnLifetime time.Duration `help:"maximum connection lifetime" default:"1h"`
	MaxConnIdleTime time.Duration `help:"maximum connection idle time" default:"30m"`

	AutoMigrate     bool          `help:"run database migrations on startup" default:"false" env:"CHURN_POSTGRES_AUTO_MIGRATE"`
	MonitorInterval time.Duration `help:"interval between connection pool stats log lines (0 disables)" default:"1m"`
}

func (s *PostgresFlags) Validate() error {
	if s.ConnString == "" {
		return errors.New("PostgreSQL connection string is required (--postgres-conn-string or CHURN_POSTGRES_CONNECTION_STRING)")
	}
	return nil
}

func (s *PostgresFlags) poolConfig() *postgresstore.PoolConfig {
	return &postgresstore.PoolConfig{
		ConnString:      s.ConnString,
		MaxConns:        s.MaxConns,
		MinConns:        s.MinConns,
		MaxConnLifetime: s.MaxConnLifetime,
		MaxConnIdleTime: s.MaxConnIdleTime,
	}
}

type S3Flags struct {
	Bucket   string `help:"S3 bucket holding datasets, models and batch outputs" env:"CHURN_S3_BUCKET"`
	Prefix   string `help:"key prefix inside the bucket" default:"" env:"CHURN_S3_PREFIX"`
	Region   string `help:"AWS region (defaults to the SDK configuration)" env:"CHURN_S3_REGION"`
	Endpoint string `help:"custom endpoint for S3 compatible stores" env:"CHURN_S3_ENDPOINT"`
}

type BlobFlags struct {
	Type     string        `help:"blob storage type" default:"file" env:"CHURN_BLOB_TYPE" enum:"file,s3,memory"`
	Root     string        `help:"root directory for the file blob store" default:"./data" env:"CHURN_BLOB_ROOT" type:"path"`
	S3       S3Flags       `embed:"" prefix:"s3-"`
	Retries  uint          `help:"attempts per blob read" default:"3" env:"CHURN_BLOB_READ_RETRIES"`
	Interval time.Duration `help:"initial backoff between blob read attempts" default:"100ms"`
}

func (b *BlobFlags) newStore(ctx context.Context) (*blob.Store, error) {
	var (
		backend blob.Backend
		err     error
	)

	switch b.Type {
	case "s3":
		backend, err = blob.NewS3Backend(ctx, blob.S3Config{
			Bucket:   b.S3.Bucket,
			Prefix:   b.S3.Prefix,
			Region:   b.S3.Region,
			Endpoint: b.S3.Endpoint,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create S3 blob backend: %w", err)
		}
		log.Info().Str("bucket", b.S3.Bucket).Str("prefix", b.S3.Prefix).Msg("Using S3 blob storage")
	case "memory":
		backend = blob.NewMemoryBackend()
		log.Warn().Msg("Using in-memory blob storage, content is lost on restart")
	default:
		backend, err = blob.NewFileBackend(b.Root)
		if err != nil {
			return nil, err
		}
		log.Info().Str("root", b.Root).Msg("Using file blob storage")
	}

	return blob.New(backend, blob.WithReadRetries(b.Retries, b.Interval)), nil
}

// openStores returns the configured stores and, for postgres, the pool backing them.
func openStores(ctx context.Context, storeType string, pg *PostgresFlags) (store.Stores, *pgxpool.Pool, error) {
	if storeType != "postgres" {
		log.Info().Msg("Using in-memory stores")
		return memorystore.NewStores(), nil, nil
	}

	if err := pg.Validate(); err != nil {
		return store.Stores{}, nil, err
	}

	pool, err := postgresstore.NewPool(ctx, pg.poolConfig())
	if err != nil {
		return store.Stores{}, nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if pg.AutoMigrate {
		if err := postgresstore.RunMigrations(ctx, pool); err != nil {
			pool.Close()
			return store.Stores{}, nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		log.Info().Msg("Database migrations completed")
	}

	stores, err := postgresstore.NewStores(pool, &postgresstore.JobStoreConfig{
		TokenSigningSecret: []byte(pg.TokenSigningSecret),
	})
	if err != nil {
		pool.Close()
		return store.Stores{}, nil, fmt.Errorf("failed to create job store: %w", err)
	}

	log.Info().Msg("Using PostgreSQL stores with shared connection pool")
	return *stores, pool, nil
}
