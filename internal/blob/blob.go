// Package blob is the object storage boundary for datasets, model artifacts and
// prediction outputs. Objects are immutable: a key can be written once.
package blob

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"path"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/wolfeidau/churnrunner/internal/apperrors"
	"github.com/wolfeidau/churnrunner/internal/telemetry"
)

// Sentinel errors for object operations
var (
	ErrObjectNotFound = fmt.Errorf("object not found: %w", apperrors.ErrNotFound)
	ErrObjectExists   = errors.New("object already exists")
)

// Area is a logical storage area.
type Area string

const (
	AreaRawDatasets     Area = "raw-datasets"
	AreaFeatureDatasets Area = "feature-datasets"
	AreaModelArtifacts  Area = "model-artifacts"
	AreaPredictions     Area = "predictions"
)

// Key builds an object key namespaced by area, organization and kind,
// e.g. raw-datasets/org_<id>/raw/<name>.
func Key(area Area, orgID uuid.UUID, kind, name string) string {
	return path.Join(string(area), "org_"+orgID.String(), kind, name)
}

// Checksum returns the hex encoded sha256 of data, recorded alongside dataset metadata.
func Checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Backend stores opaque bytes by key. Write must fail with ErrObjectExists if the key is taken
// and Read must fail with ErrObjectNotFound for a missing key.
type Backend interface {
	Write(ctx context.Context, key string, body []byte) error
	Read(ctx context.Context, key string) ([]byte, error)
}

// Store writes and reads enveloped objects through a Backend.
type Store struct {
	backend  Backend
	maxTries uint
	interval time.Duration
}

// Option configures a Store.
type Option func(*Store)

// WithReadRetries sets how many attempts a read makes and the initial backoff between them.
func WithReadRetries(maxTries uint, initial time.Duration) Option {
	return func(s *Store) {
		s.maxTries = maxTries
		s.interval = initial
	}
}

// New creates a Store over the given backend.
func New(backend Backend, opts ...Option) *Store {
	s := &Store{
		backend:  backend,
		maxTries: 3,
		interval: 100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Put writes data under key. Existing objects are never overwritten.
func (s *Store) Put(ctx context.Context, key string, data []byte) error {
	body := sealEnvelope(data)

	if err := s.backend.Write(ctx, key, body); err != nil {
		return apperrors.Storage("put "+key, err)
	}

	log.Debug().
		Str("key", key).
		Int("bytes", len(data)).
		Int("stored_bytes", len(body)).
		Msg("Stored object")

	return nil
}

// Get reads the object at key, retrying transient backend failures.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.interval

	data, err := backoff.Retry(ctx, func() ([]byte, error) {
		body, err := s.backend.Read(ctx, key)
		if err != nil {
			if errors.Is(err, ErrObjectNotFound) {
				return nil, backoff.Permanent(err)
			}
			log.Warn().Err(err).Str("key", key).Msg("Object read failed, retrying")
			telemetry.GetMetrics().BlobReadRetriesTotal.Add(ctx, 1)
			return nil, err
		}

		data, err := openEnvelope(body)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		return data, nil
	}, backoff.WithBackOff(bo), backoff.WithMaxTries(s.maxTries))
	if err != nil {
		return nil, apperrors.Storage("get "+key, err)
	}

	return data, nil
}
