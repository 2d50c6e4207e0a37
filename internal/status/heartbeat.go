package status

import (
	"context"
	"errors"
	"fmt"
	"time"

	"guildkeeper/internal/guilds"
	"guildkeeper/internal/platform"
	"guildkeeper/internal/storage"

	"go.uber.org/zap"
)

const DefaultInterval = 30 * time.Minute

// Heartbeat keeps one fresh "online" message per bot in every configured
// status channel, replacing the previous one on each beat.
type Heartbeat struct {
	gateway  platform.Gateway
	guilds   *guilds.Service
	store    storage.StatusStore
	logger   *zap.Logger
	interval time.Duration
	now      func() time.Time
}

func New(gateway platform.Gateway, guildService *guilds.Service, store storage.StatusStore, logger *zap.Logger, interval time.Duration) *Heartbeat {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Heartbeat{
		gateway:  gateway,
		guilds:   guildService,
		store:    store,
		logger:   logger,
		interval: interval,
		now:      time.Now,
	}
}

func (h *Heartbeat) Run(ctx context.Context) error {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		if _, err := h.Beat(ctx); err != nil && ctx.Err() == nil {
			h.logger.Warn("status heartbeat failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Beat posts the status message in every reachable status channel and
// returns how many were posted.
func (h *Heartbeat) Beat(ctx context.Context) (int, error) {
	botID := h.gateway.CurrentUserID()
	if botID == "" {
		return 0, nil
	}
	configs, err := h.guilds.List(ctx)
	if err != nil {
		return 0, err
	}

	posted := 0
	for _, cfg := range configs {
		if cfg.StatusChannelID == "" {
			continue
		}
		ok, err := h.gateway.HasGuild(ctx, cfg.GuildID)
		if err != nil || !ok {
			continue
		}
		if err := h.post(ctx, botID, cfg.StatusChannelID); err != nil {
			h.logger.Warn("status post failed",
				zap.String("guild_id", cfg.GuildID),
				zap.String("channel_id", cfg.StatusChannelID),
				zap.Error(err),
			)
			continue
		}
		posted++
	}
	return posted, nil
}

func (h *Heartbeat) post(ctx context.Context, botID, channelID string) error {
	previous, err := h.store.GetStatusMessage(ctx, botID, channelID)
	switch {
	case err == nil:
		if err := h.gateway.DeleteMessage(ctx, channelID, previous.MessageID); err != nil && !platform.IsNotFound(err) {
			h.logger.Debug("previous status message not removed", zap.String("message_id", previous.MessageID), zap.Error(err))
		}
	case !errors.Is(err, storage.ErrNotFound):
		return err
	}

	content := fmt.Sprintf("🟢 <@%s> is online | last check <t:%d:R>", botID, h.now().Unix())
	messageID, err := h.gateway.SendMessage(ctx, channelID, platform.Message{Content: content})
	if err != nil {
		return err
	}
	return h.store.PutStatusMessage(ctx, storage.StatusMessage{BotID: botID, ChannelID: channelID, MessageID: messageID})
}
