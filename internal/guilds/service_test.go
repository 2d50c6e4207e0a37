package guilds

import (
	"context"
	"sync"
	"testing"

	"guildkeeper/internal/storage"

	"go.uber.org/zap"
)

func newTestService(t *testing.T) (*Service, *storage.SQLStore) {
	t.Helper()
	store, err := storage.New(":memory:")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewService(store, zap.NewNop()), store
}

func TestGetPersistsDefaultsOnce(t *testing.T) {
	service, store := newTestService(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cfg, err := service.Get(ctx, "g1")
			if err != nil {
				t.Errorf("get: %v", err)
				return
			}
			if cfg.CategoryName != storage.DefaultCategoryName || cfg.WarnLimit != storage.DefaultWarnLimit {
				t.Errorf("unexpected defaults: %+v", cfg)
			}
		}()
	}
	wg.Wait()

	configs, err := store.ListGuildConfigs(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(configs) != 1 {
		t.Fatalf("expected a single persisted config, got %d", len(configs))
	}
}

func TestGetKeepsAdminChanges(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	cfg, err := service.Get(ctx, "g1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	cfg.StaffRoleID = "staff"
	cfg.CategoryName = "SUPPORT"
	if err := service.Update(ctx, cfg); err != nil {
		t.Fatalf("update: %v", err)
	}

	again, err := service.Get(ctx, "g1")
	if err != nil {
		t.Fatalf("get again: %v", err)
	}
	if again.StaffRoleID != "staff" || again.CategoryName != "SUPPORT" {
		t.Fatalf("expected admin changes to persist, got %+v", again)
	}
}

func TestUpdateNormalizesWarnLimit(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	cfg := storage.GuildConfig{GuildID: "g1", WarnLimit: 99}
	if err := service.Update(ctx, cfg); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, err := service.Get(ctx, "g1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.WarnLimit != storage.DefaultWarnLimit || got.CategoryName != storage.DefaultCategoryName {
		t.Fatalf("expected normalized config, got %+v", got)
	}
}
