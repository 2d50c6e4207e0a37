package bot

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"guildkeeper/internal/config"
	"guildkeeper/internal/platform"
	"guildkeeper/internal/reconcile"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Supervisor runs every tenant bot and the reconciliation loop they share.
type Supervisor struct {
	cfg         config.Config
	shared      Shared
	credentials CredentialStore
	logger      *zap.Logger

	mu   sync.RWMutex
	bots []*Bot

	restoreMu sync.Mutex
	loop      *reconcile.Loop
}

var _ reconcile.Locator = (*Supervisor)(nil)

func NewSupervisor(cfg config.Config, shared Shared, credentials CredentialStore, logger *zap.Logger) *Supervisor {
	s := &Supervisor{
		cfg:         cfg,
		shared:      shared,
		credentials: credentials,
		logger:      logger,
	}
	s.loop = reconcile.New(shared.Store, s, shared.Ledger, logger, reconcile.Config{
		FastInterval: cfg.FastSweepInterval(),
		SlowInterval: cfg.SlowSweepInterval(),
	})
	return s
}

// Gateways returns the gateways of connected bots only, so a sweep never
// mistakes a disconnected session for a vanished guild.
func (s *Supervisor) Gateways() []platform.Gateway {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []platform.Gateway
	for _, b := range s.bots {
		if b.Gateway().Connected() {
			out = append(out, b.Gateway())
		}
	}
	return out
}

// Healthy reports whether at least one bot is connected.
func (s *Supervisor) Healthy() bool {
	return len(s.Gateways()) > 0
}

// Run starts every tenant and blocks until ctx is done. A tenant that fails
// to start is logged and dropped; Run fails only when none started.
func (s *Supervisor) Run(ctx context.Context) error {
	tenants, err := s.credentials.Tenants(ctx)
	if err != nil {
		return err
	}
	if len(tenants) == 0 {
		return errors.New("bot: no tenant credentials")
	}

	bots := make([]*Bot, 0, len(tenants))
	for _, tenant := range tenants {
		b, err := New(s.cfg, tenant, s.shared, s.logger)
		if err != nil {
			s.logger.Error("tenant setup failed", zap.String("tenant", tenant.Name), zap.Error(err))
			continue
		}
		bots = append(bots, b)
	}
	if len(bots) == 0 {
		return errors.New("bot: no tenant could be created")
	}

	s.mu.Lock()
	s.bots = bots
	s.mu.Unlock()

	group, groupCtx := errgroup.WithContext(ctx)
	var failed atomic.Int32
	for _, b := range bots {
		b := b
		b.OnReady(func() { s.restore(groupCtx) })
		group.Go(func() error {
			if err := b.Run(groupCtx); err != nil {
				s.logger.Error("tenant stopped", zap.String("tenant", b.Name()), zap.Error(err))
				if int(failed.Add(1)) == len(bots) {
					return errors.New("bot: every tenant failed to start")
				}
			}
			return nil
		})
	}
	group.Go(func() error {
		return s.loop.Run(groupCtx)
	})

	err = group.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// restore redraws persisted controls after a bot becomes ready.
func (s *Supervisor) restore(ctx context.Context) {
	s.restoreMu.Lock()
	defer s.restoreMu.Unlock()
	if _, err := s.loop.RestoreControls(ctx); err != nil && ctx.Err() == nil {
		s.logger.Warn("control restore failed", zap.Error(err))
	}
}
