package credits

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"guildkeeper/internal/storage"

	"go.uber.org/zap"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Set(now time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = now
}

func newTestLedger(t *testing.T) (*Ledger, *fakeClock, *storage.SQLStore) {
	t.Helper()
	store, err := storage.New(":memory:")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	clock := &fakeClock{now: time.Date(2024, 3, 10, 22, 0, 0, 0, time.UTC)}
	ledger := NewLedger(store, zap.NewNop())
	ledger.WithClock(clock)
	return ledger, clock, store
}

func grant(roleID string, ban, kick, warn storage.Limit) storage.RoleGrant {
	return storage.RoleGrant{GuildID: "g1", RoleID: roleID, Ban: ban, Kick: kick, Warn: warn}
}

func TestCapBoundaryAndDayRollover(t *testing.T) {
	ledger, clock, _ := newTestLedger(t)
	ctx := context.Background()
	mod := grant("mod", storage.Capped(2), storage.Disabled(), storage.Disabled())

	for _, want := range []int{1, 0} {
		remaining, err := ledger.CheckAndConsume(ctx, "u1", "g1", storage.ActionBan, mod)
		if err != nil {
			t.Fatalf("ban: %v", err)
		}
		if remaining.Unlimited || remaining.Count != want {
			t.Fatalf("expected %d remaining, got %+v", want, remaining)
		}
	}

	_, err := ledger.CheckAndConsume(ctx, "u1", "g1", storage.ActionBan, mod)
	if !errors.Is(err, ErrCreditExhausted) {
		t.Fatalf("expected ErrCreditExhausted, got %v", err)
	}
	var exhausted *ExhaustedError
	if !errors.As(err, &exhausted) || exhausted.Cap != 2 {
		t.Fatalf("expected cap 2 in error, got %v", err)
	}

	clock.Set(time.Date(2024, 3, 11, 0, 0, 1, 0, time.UTC))
	remaining, err := ledger.CheckAndConsume(ctx, "u1", "g1", storage.ActionBan, mod)
	if err != nil {
		t.Fatalf("ban after rollover: %v", err)
	}
	if remaining.Count != 1 {
		t.Fatalf("expected fresh day with 1 remaining, got %+v", remaining)
	}
}

func TestRoleSwitchResetsUsage(t *testing.T) {
	ledger, _, store := newTestLedger(t)
	ctx := context.Background()
	roleA := grant("a", storage.Capped(2), storage.Disabled(), storage.Unlimited())
	roleB := grant("b", storage.Capped(2), storage.Disabled(), storage.Disabled())

	for i := 0; i < 2; i++ {
		if _, err := ledger.CheckAndConsume(ctx, "u1", "g1", storage.ActionBan, roleA); err != nil {
			t.Fatalf("ban under role a: %v", err)
		}
	}
	if _, err := ledger.CheckAndConsume(ctx, "u1", "g1", storage.ActionWarn, roleA); err != nil {
		t.Fatalf("warn under role a: %v", err)
	}

	remaining, err := ledger.CheckAndConsume(ctx, "u1", "g1", storage.ActionBan, roleB)
	if err != nil {
		t.Fatalf("ban under role b: %v", err)
	}
	if remaining.Count != 1 {
		t.Fatalf("expected usage reset under new role, got %+v", remaining)
	}

	entry, err := store.GetLedgerEntry(ctx, "g1", "u1", "2024-03-10")
	if err != nil {
		t.Fatalf("get entry: %v", err)
	}
	if entry.GrantingRoleID != "b" || entry.BanUsed != 1 || entry.WarnUsed != 0 {
		t.Fatalf("expected entry rewritten under role b, got %+v", entry)
	}
}

func TestDisabledAndUnlimited(t *testing.T) {
	ledger, clock, store := newTestLedger(t)
	ctx := context.Background()
	role := grant("r", storage.Disabled(), storage.Unlimited(), storage.Disabled())

	if _, err := ledger.CheckAndConsume(ctx, "u1", "g1", storage.ActionBan, role); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
	for i := 0; i < 5; i++ {
		remaining, err := ledger.CheckAndConsume(ctx, "u1", "g1", storage.ActionKick, role)
		if err != nil {
			t.Fatalf("kick: %v", err)
		}
		if !remaining.Unlimited || remaining.String() != "unlimited" {
			t.Fatalf("expected unlimited, got %+v", remaining)
		}
	}

	entry, err := store.GetLedgerEntry(ctx, "g1", "u1", "2024-03-10")
	if err != nil {
		t.Fatalf("get entry: %v", err)
	}
	if entry.KickUsed != 5 {
		t.Fatalf("expected 5 kicks counted, got %d", entry.KickUsed)
	}
	if want := clock.Now().Add(storage.LedgerTTL); !entry.ExpiresAt.Equal(want) {
		t.Fatalf("expected expiry %v, got %v", want, entry.ExpiresAt)
	}
}

func TestConcurrentConsumeNeverOvergrants(t *testing.T) {
	ledger, _, _ := newTestLedger(t)
	ctx := context.Background()
	role := grant("mod", storage.Capped(3), storage.Disabled(), storage.Disabled())

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := ledger.CheckAndConsume(ctx, "u1", "g1", storage.ActionBan, role); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if succeeded != 3 {
		t.Fatalf("expected exactly 3 bans granted, got %d", succeeded)
	}
}

func TestRefundAndPurge(t *testing.T) {
	ledger, clock, _ := newTestLedger(t)
	ctx := context.Background()
	role := grant("mod", storage.Capped(1), storage.Disabled(), storage.Disabled())

	if _, err := ledger.CheckAndConsume(ctx, "u1", "g1", storage.ActionBan, role); err != nil {
		t.Fatalf("ban: %v", err)
	}
	if err := ledger.Refund(ctx, "u1", "g1", storage.ActionBan, role); err != nil {
		t.Fatalf("refund: %v", err)
	}
	if _, err := ledger.CheckAndConsume(ctx, "u1", "g1", storage.ActionBan, role); err != nil {
		t.Fatalf("ban after refund: %v", err)
	}

	clock.Set(clock.Now().Add(storage.LedgerTTL + time.Minute))
	purged, err := ledger.Purge(ctx)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if purged != 1 {
		t.Fatalf("expected 1 purged entry, got %d", purged)
	}
}
