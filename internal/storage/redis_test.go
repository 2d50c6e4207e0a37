package storage

import (
	"context"
	"errors"
	"os"
	"strconv"
	"testing"
	"time"
)

func newRedisTestStore(t *testing.T) *RedisStore {
	t.Helper()
	addr := os.Getenv("GUILDKEEPER_REDIS_ADDR")
	if addr == "" {
		t.Skip("GUILDKEEPER_REDIS_ADDR not set")
	}
	prefix := "guildkeeper-test-" + strconv.FormatInt(time.Now().UnixNano(), 36) + ":"
	store, err := OpenRedis(RedisOptions{Addr: addr, Prefix: prefix}, DefaultRetryPolicy)
	if err != nil {
		t.Fatalf("open redis: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	if err := store.Migrate(); err != nil {
		t.Fatalf("ping redis: %v", err)
	}
	return store
}

func TestRedisTicketLifecycle(t *testing.T) {
	store := newRedisTestStore(t)
	ctx := context.Background()

	ticket := TicketRecord{GuildID: "g1", UserID: "u1", ChannelID: "c1", CreatedAt: time.Unix(1700000000, 0).UTC()}
	binding := CloseButtonBinding{MessageID: "m1", ChannelID: "c1", GuildID: "g1"}
	if err := store.CreateTicket(ctx, ticket, binding); err != nil {
		t.Fatalf("create ticket: %v", err)
	}
	if err := store.CreateTicket(ctx, ticket, binding); !errors.Is(err, ErrTicketExists) {
		t.Fatalf("expected ErrTicketExists, got %v", err)
	}
	got, err := store.GetTicketByChannel(ctx, "c1")
	if err != nil {
		t.Fatalf("get ticket by channel: %v", err)
	}
	if got != ticket {
		t.Fatalf("expected %+v, got %+v", ticket, got)
	}

	deleted, err := store.DeleteTicketByChannel(ctx, "c1")
	if err != nil || !deleted {
		t.Fatalf("delete ticket: deleted=%v err=%v", deleted, err)
	}
	deleted, err = store.DeleteTicketByChannel(ctx, "c1")
	if err != nil || deleted {
		t.Fatalf("second delete: deleted=%v err=%v", deleted, err)
	}
	buttons, err := store.ListCloseButtons(ctx)
	if err != nil {
		t.Fatalf("list close buttons: %v", err)
	}
	if len(buttons) != 0 {
		t.Fatalf("expected no close buttons, got %d", len(buttons))
	}
}

func TestRedisGrantAndWarnings(t *testing.T) {
	store := newRedisTestStore(t)
	ctx := context.Background()

	grant := RoleGrant{GuildID: "g1", RoleID: "r1", Ban: Capped(2), Kick: Unlimited(), Warn: Disabled(), UpdatedAt: time.Unix(1700000000, 0).UTC()}
	if err := store.PutRoleGrant(ctx, grant); err != nil {
		t.Fatalf("put grant: %v", err)
	}
	got, err := store.GetRoleGrant(ctx, "g1", "r1")
	if err != nil {
		t.Fatalf("get grant: %v", err)
	}
	if got != grant {
		t.Fatalf("expected %+v, got %+v", grant, got)
	}

	for i := 0; i < 4; i++ {
		count, err := store.AppendWarning(ctx, WarningRecord{GuildID: "g1", UserID: "u1", Reason: "r", ModeratorID: "m", CreatedAt: time.Now()}, 3)
		if err != nil {
			t.Fatalf("append warning: %v", err)
		}
		if want := min(i+1, 3); count != want {
			t.Fatalf("expected %d warnings, got %d", want, count)
		}
	}
}
