package store

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// TwoTierConfig configures the local-first store adapter.
type TwoTierConfig struct {
	// ReconcileInterval is how often dirty users are flushed to the
	// remote tier. Writes are also flushed asynchronously right after
	// each Save; the interval bounds the staleness window when those
	// flushes fail.
	ReconcileInterval time.Duration `yaml:"reconcile_interval" json:"reconcile_interval"`
	// FlushTimeout bounds each remote write.
	FlushTimeout time.Duration `yaml:"flush_timeout" json:"flush_timeout"`
}

// DefaultTwoTierConfig returns the default reconciliation settings.
func DefaultTwoTierConfig() TwoTierConfig {
	return TwoTierConfig{
		ReconcileInterval: 30 * time.Second,
		FlushTimeout:      5 * time.Second,
	}
}

// TwoTierStore is a local-first Store: writes land in the local tier
// synchronously and are reconciled to the remote tier in the background.
// Reads come from the local tier after an initial remote hydrate, so the
// remote may lag by up to one reconcile interval; writes are never
// reordered against the local representation.
type TwoTierStore struct {
	local  Store
	remote Store
	cfg    TwoTierConfig
	logger *zap.Logger

	mu       sync.Mutex
	dirty    map[string]bool
	hydrated map[string]bool

	hydrateGroup singleflight.Group
	stopCh       chan struct{}
	doneCh       chan struct{}
	closeOnce    sync.Once
}

// NewTwoTierStore starts the reconciliation loop and returns the adapter.
func NewTwoTierStore(local, remote Store, cfg TwoTierConfig, logger *zap.Logger) *TwoTierStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ReconcileInterval <= 0 {
		cfg.ReconcileInterval = DefaultTwoTierConfig().ReconcileInterval
	}
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = DefaultTwoTierConfig().FlushTimeout
	}
	t := &TwoTierStore{
		local:    local,
		remote:   remote,
		cfg:      cfg,
		logger:   logger.With(zap.String("component", "two_tier_store")),
		dirty:    make(map[string]bool),
		hydrated: make(map[string]bool),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	go t.reconcileLoop()
	return t
}

// Load reads from the local tier, hydrating it from the remote tier on
// the first read for a user. Concurrent first reads collapse into one
// remote fetch.
func (t *TwoTierStore) Load(ctx context.Context, userID string) (*WorkflowState, error) {
	t.mu.Lock()
	hydrated := t.hydrated[userID]
	dirty := t.dirty[userID]
	t.mu.Unlock()

	// A dirty local copy is newer than the remote; never clobber it.
	if !hydrated && !dirty {
		_, err, _ := t.hydrateGroup.Do(userID, func() (any, error) {
			remoteState, err := t.remote.Load(ctx, userID)
			if err != nil {
				return nil, err
			}
			if err := t.local.Save(ctx, userID, remoteState); err != nil {
				return nil, err
			}
			t.mu.Lock()
			t.hydrated[userID] = true
			t.mu.Unlock()
			return nil, nil
		})
		if err != nil {
			t.logger.Warn("remote hydrate failed, serving local tier",
				zap.String("user_id", userID), zap.Error(err))
		}
	}
	return t.local.Load(ctx, userID)
}

// Save writes the local tier synchronously, marks the user dirty, and
// kicks an asynchronous remote flush.
func (t *TwoTierStore) Save(ctx context.Context, userID string, state *WorkflowState) error {
	if err := t.local.Save(ctx, userID, state); err != nil {
		return err
	}
	t.mu.Lock()
	t.dirty[userID] = true
	t.hydrated[userID] = true
	t.mu.Unlock()

	go t.flushUser(userID)
	return nil
}

func (t *TwoTierStore) flushUser(userID string) {
	ctx, cancel := context.WithTimeout(context.Background(), t.cfg.FlushTimeout)
	defer cancel()

	t.mu.Lock()
	if !t.dirty[userID] {
		t.mu.Unlock()
		return
	}
	t.mu.Unlock()

	state, err := t.local.Load(ctx, userID)
	if err != nil {
		t.logger.Warn("flush: local load failed", zap.String("user_id", userID), zap.Error(err))
		return
	}
	if err := t.remote.Save(ctx, userID, state); err != nil {
		t.logger.Warn("flush: remote save failed, will retry on reconcile",
			zap.String("user_id", userID), zap.Error(err))
		return
	}
	t.mu.Lock()
	delete(t.dirty, userID)
	t.mu.Unlock()
}

func (t *TwoTierStore) reconcileLoop() {
	defer close(t.doneCh)
	ticker := time.NewTicker(t.cfg.ReconcileInterval)
	defer ticker.Stop()
	for {
		select {
		case <-t.stopCh:
			t.flushAll()
			return
		case <-ticker.C:
			t.flushAll()
		}
	}
}

func (t *TwoTierStore) flushAll() {
	t.mu.Lock()
	users := make([]string, 0, len(t.dirty))
	for userID := range t.dirty {
		users = append(users, userID)
	}
	t.mu.Unlock()

	var g errgroup.Group
	g.SetLimit(4)
	for _, userID := range users {
		userID := userID
		g.Go(func() error {
			t.flushUser(userID)
			return nil
		})
	}
	_ = g.Wait()
}

// Close flushes outstanding writes and closes both tiers.
func (t *TwoTierStore) Close() error {
	t.closeOnce.Do(func() { close(t.stopCh) })
	<-t.doneCh
	if err := t.local.Close(); err != nil {
		t.logger.Warn("close local tier", zap.Error(err))
	}
	return t.remote.Close()
}
