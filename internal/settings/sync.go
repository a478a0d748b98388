package settings

import (
	"context"
	"sync"

	"github.com/localclipper/clipper/internal/domain"
	apperrors "github.com/localclipper/clipper/internal/errors"
	"github.com/localclipper/clipper/internal/logger"
)

// sensitive lists the configuration fields mirrored into the store
var sensitive = []struct {
	key string
	get func(domain.Configuration) string
	set func(*domain.Configuration, string)
}{
	{
		key: KeyPOToken,
		get: func(c domain.Configuration) string { return c.POToken },
		set: func(c *domain.Configuration, v string) { c.POToken = v },
	},
}

// Seed reads every stored sensitive value once and merges it into cfg
func Seed(ctx context.Context, store Store, cfg domain.Configuration) (domain.Configuration, error) {
	for _, field := range sensitive {
		v, ok, err := store.Get(ctx, field.key)
		if err != nil {
			return cfg, apperrors.SettingsError("failed to read stored settings").WithCause(err)
		}
		if ok {
			field.set(&cfg, v)
		}
	}
	return cfg, nil
}

// Syncer writes sensitive fields through to the store whenever they change
type Syncer struct {
	store Store
	log   *logger.Logger

	mu      sync.Mutex
	lastErr error
}

// NewSyncer creates a write-through listener for the configuration aggregator
func NewSyncer(store Store) *Syncer {
	return &Syncer{
		store: store,
		log:   logger.Default().WithComponent("settings"),
	}
}

// OnChange persists every sensitive field that differs between prev and cur.
// It runs synchronously so the write completes before the snapshot change returns.
func (s *Syncer) OnChange(prev, cur domain.Configuration) {
	ctx := context.Background()

	for _, field := range sensitive {
		before, after := field.get(prev), field.get(cur)
		if before == after {
			continue
		}

		err := s.store.Set(ctx, field.key, after)

		s.mu.Lock()
		s.lastErr = err
		s.mu.Unlock()

		if err != nil {
			s.log.Error(ctx, "failed to persist setting", err, map[string]interface{}{"key": field.key})
			continue
		}
		s.log.Debug(ctx, "setting persisted", map[string]interface{}{
			"key":     field.key,
			"removed": after == "",
		})
	}
}

// Err returns the result of the most recent write
func (s *Syncer) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}
