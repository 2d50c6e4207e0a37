package guilds

import (
	"context"
	"errors"
	"fmt"

	"guildkeeper/internal/storage"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Service hands out guild configuration, persisting defaults the first time
// a guild is seen.
type Service struct {
	store  storage.GuildConfigStore
	logger *zap.Logger
	group  singleflight.Group
}

func NewService(store storage.GuildConfigStore, logger *zap.Logger) *Service {
	return &Service{store: store, logger: logger}
}

func (s *Service) Get(ctx context.Context, guildID string) (storage.GuildConfig, error) {
	cfg, err := s.store.GetGuildConfig(ctx, guildID)
	if err == nil {
		return normalize(cfg), nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return storage.GuildConfig{}, fmt.Errorf("load guild config: %w", err)
	}

	value, err, _ := s.group.Do(guildID, func() (any, error) {
		stored, inserted, err := s.store.InsertGuildConfigIfAbsent(ctx, storage.DefaultGuildConfig(guildID))
		if err != nil {
			return storage.GuildConfig{}, err
		}
		if inserted {
			s.logger.Info("guild config created", zap.String("guild_id", guildID))
		}
		return stored, nil
	})
	if err != nil {
		return storage.GuildConfig{}, fmt.Errorf("create guild config: %w", err)
	}
	return normalize(value.(storage.GuildConfig)), nil
}

func (s *Service) Update(ctx context.Context, cfg storage.GuildConfig) error {
	if cfg.GuildID == "" {
		return errors.New("guild id required")
	}
	if err := s.store.UpsertGuildConfig(ctx, normalize(cfg)); err != nil {
		return fmt.Errorf("update guild config: %w", err)
	}
	return nil
}

func (s *Service) List(ctx context.Context) ([]storage.GuildConfig, error) {
	configs, err := s.store.ListGuildConfigs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list guild configs: %w", err)
	}
	for i := range configs {
		configs[i] = normalize(configs[i])
	}
	return configs, nil
}

// normalize fills fields left empty by older records.
func normalize(cfg storage.GuildConfig) storage.GuildConfig {
	if cfg.CategoryName == "" {
		cfg.CategoryName = storage.DefaultCategoryName
	}
	if cfg.TicketMessage == "" {
		cfg.TicketMessage = storage.DefaultTicketMessage
	}
	if cfg.WarnLimit < storage.MinWarnLimit || cfg.WarnLimit > storage.MaxWarnLimit {
		cfg.WarnLimit = storage.DefaultWarnLimit
	}
	return cfg
}
