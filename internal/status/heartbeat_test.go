package status

import (
	"context"
	"testing"

	"guildkeeper/internal/guilds"
	"guildkeeper/internal/platform"
	"guildkeeper/internal/platform/platformtest"
	"guildkeeper/internal/storage"

	"go.uber.org/zap"
)

func TestBeatReplacesPreviousMessage(t *testing.T) {
	store, err := storage.New(":memory:")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	defer store.Close()
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	ctx := context.Background()
	logger := zap.NewNop()
	gateway := platformtest.NewFake("bot")
	gateway.AddGuild("g1")
	channelID := gateway.AddChannel(platform.Channel{GuildID: "g1", Name: "status", Kind: platform.ChannelText})

	guildService := guilds.NewService(store, logger)
	cfg, err := guildService.Get(ctx, "g1")
	if err != nil {
		t.Fatalf("get config: %v", err)
	}
	cfg.StatusChannelID = channelID
	if err := guildService.Update(ctx, cfg); err != nil {
		t.Fatalf("update config: %v", err)
	}
	// A guild this bot is not in is ignored.
	if err := guildService.Update(ctx, storage.GuildConfig{GuildID: "g2", StatusChannelID: "elsewhere"}); err != nil {
		t.Fatalf("update config: %v", err)
	}

	heartbeat := New(gateway, guildService, store, logger, 0)
	for i := 0; i < 2; i++ {
		posted, err := heartbeat.Beat(ctx)
		if err != nil {
			t.Fatalf("beat %d: %v", i, err)
		}
		if posted != 1 {
			t.Fatalf("beat %d: expected 1 post, got %d", i, posted)
		}
	}

	messages := gateway.Messages(channelID)
	if len(messages) != 1 {
		t.Fatalf("expected previous status message replaced, got %d messages", len(messages))
	}
	stored, err := store.GetStatusMessage(ctx, "bot", channelID)
	if err != nil {
		t.Fatalf("get status message: %v", err)
	}
	if _, ok := messages[stored.MessageID]; !ok {
		t.Fatalf("expected stored id %s to be the live message", stored.MessageID)
	}
}
