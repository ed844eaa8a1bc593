package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/browser-operator/api/schemas"
	"github.com/xkilldash9x/browser-operator/internal/observability"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrBlobNotFound is returned by backends when a key does not exist.
var ErrBlobNotFound = errors.New("blob not found")

// BlobInfo describes a stored blob without its payload.
type BlobInfo struct {
	Key       string
	UpdatedAt time.Time
}

// Backend is a durable key/value store for JSON blobs.
type Backend interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	// List returns the blobs whose key starts with prefix, in any order.
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
	Close() error
}

// latestGetter is implemented by backends that can fetch the newest blob under
// a prefix in a single round trip.
type latestGetter interface {
	Latest(ctx context.Context, prefix string) ([]byte, error)
}

// StateStore persists AgentState blobs keyed by remote session id. Every save
// writes a new blob; reads return the newest one. With a nil backend it is a no-op.
type StateStore struct {
	backend Backend
	log     *zap.Logger
	metrics *observability.Metrics
}

var _ schemas.StateStore = (*StateStore)(nil)

// NewStateStore wraps backend. backend may be nil, meaning no store is configured.
func NewStateStore(backend Backend, logger *zap.Logger, metrics *observability.Metrics) *StateStore {
	return &StateStore{
		backend: backend,
		log:     logger.Named("state_store"),
		metrics: metrics,
	}
}

// Configured reports whether a backend is present.
func (s *StateStore) Configured() bool {
	return s.backend != nil
}

// KeyPrefix is the namespace for one session's state blobs.
func KeyPrefix(sessionID string) string {
	return fmt.Sprintf("agent-%s-state-", sessionID)
}

// newKey returns a key under the session prefix. The suffix is a time-ordered
// UUIDv7, so lexical order follows write order within one writer.
func newKey(sessionID string) string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return KeyPrefix(sessionID) + id.String()
}

// Save writes state as a new blob for the session.
func (s *StateStore) Save(ctx context.Context, sessionID string, state schemas.AgentState) error {
	if s.backend == nil {
		s.log.Debug("No state backend configured; skipping save.", zap.String("session_id", sessionID))
		return nil
	}
	if sessionID == "" {
		return fmt.Errorf("cannot save state without a session id")
	}

	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode agent state: %w", err)
	}

	key := newKey(sessionID)
	if err := s.backend.Put(ctx, key, data); err != nil {
		s.metrics.StateStoreFailure("save")
		return fmt.Errorf("failed to write state blob %s: %w", key, err)
	}
	s.log.Debug("Saved agent state.", zap.String("key", key), zap.Int("bytes", len(data)))
	return nil
}

// Get returns the most recently written state for the session, or nil when
// none exists or no backend is configured.
func (s *StateStore) Get(ctx context.Context, sessionID string) (*schemas.AgentState, error) {
	if s.backend == nil || sessionID == "" {
		return nil, nil
	}

	data, err := s.latest(ctx, KeyPrefix(sessionID))
	if err != nil {
		s.metrics.StateStoreFailure("get")
		return nil, err
	}
	if data == nil {
		return nil, nil
	}

	var state schemas.AgentState
	if err := json.Unmarshal(data, &state); err != nil {
		s.metrics.StateStoreFailure("decode")
		return nil, fmt.Errorf("failed to decode agent state: %w", err)
	}
	return &state, nil
}

func (s *StateStore) latest(ctx context.Context, prefix string) ([]byte, error) {
	if lg, ok := s.backend.(latestGetter); ok {
		data, err := lg.Latest(ctx, prefix)
		if errors.Is(err, ErrBlobNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read latest state blob: %w", err)
		}
		return data, nil
	}

	blobs, err := s.backend.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list state blobs: %w", err)
	}
	if len(blobs) == 0 {
		return nil, nil
	}
	newest := Newest(blobs)

	data, err := s.backend.Get(ctx, newest.Key)
	if errors.Is(err, ErrBlobNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read state blob %s: %w", newest.Key, err)
	}
	return data, nil
}

// Newest picks the most recently written blob. Ties on UpdatedAt are broken
// by the larger key.
func Newest(blobs []BlobInfo) BlobInfo {
	sorted := make([]BlobInfo, len(blobs))
	copy(sorted, blobs)
	sort.Slice(sorted, func(i, j int) bool {
		if !sorted[i].UpdatedAt.Equal(sorted[j].UpdatedAt) {
			return sorted[i].UpdatedAt.After(sorted[j].UpdatedAt)
		}
		return sorted[i].Key > sorted[j].Key
	})
	return sorted[0]
}

// Close releases the backend.
func (s *StateStore) Close() error {
	if s.backend == nil {
		return nil
	}
	return s.backend.Close()
}
