package tickets

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"guildkeeper/internal/guilds"
	"guildkeeper/internal/modules/audit"
	"guildkeeper/internal/platform"
	"guildkeeper/internal/platform/platformtest"
	"guildkeeper/internal/storage"

	"go.uber.org/zap"
)

// instantClock fires every delay immediately and records it.
type instantClock struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (c *instantClock) Now() time.Time { return time.Unix(1700000000, 0) }

func (c *instantClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.delays = append(c.delays, d)
	c.mu.Unlock()
	ch := make(chan time.Time, 1)
	ch <- time.Unix(1700000000, 0).Add(d)
	return ch
}

// stuckClock never fires.
type stuckClock struct{}

func (stuckClock) Now() time.Time                         { return time.Unix(1700000000, 0) }
func (stuckClock) After(d time.Duration) <-chan time.Time { return make(chan time.Time) }

type fixture struct {
	manager *Manager
	store   *storage.SQLStore
	guilds  *guilds.Service
	gateway *platformtest.Fake
	clock   *instantClock
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	store, err := storage.New(":memory:")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	logger := zap.NewNop()
	gateway := platformtest.NewFake("bot")
	gateway.AddGuild("g1")
	guildService := guilds.NewService(store, logger)
	manager := NewManager(store, guildService, gateway, audit.NewLogger(store, logger), logger, Options{CloseDelay: DefaultCloseDelay, OwnerID: "owner"})
	clock := &instantClock{}
	manager.WithClock(clock)
	return fixture{manager: manager, store: store, guilds: guildService, gateway: gateway, clock: clock}
}

func TestOpenCreatesChannelAndRecord(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ticket, err := f.manager.Open(ctx, OpenRequest{GuildID: "g1", UserID: "u1", UserName: "Alice B"})
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	categories := f.gateway.Channels("g1", platform.ChannelCategory)
	if len(categories) != 1 || categories[0].Name != storage.DefaultCategoryName {
		t.Fatalf("expected TICKETS category, got %+v", categories)
	}
	channel, err := f.gateway.Channel(ctx, ticket.ChannelID)
	if err != nil {
		t.Fatalf("ticket channel missing: %v", err)
	}
	if channel.ParentID != categories[0].ID || channel.Name != "ticket-alice-b" {
		t.Fatalf("unexpected ticket channel %+v", channel)
	}

	messages := f.gateway.Messages(ticket.ChannelID)
	if len(messages) != 1 {
		t.Fatalf("expected one welcome message, got %d", len(messages))
	}
	for _, msg := range messages {
		if !strings.Contains(msg.Content, "<@u1>") || strings.Contains(msg.Content, "{user}") {
			t.Fatalf("expected mention substituted, got %q", msg.Content)
		}
		if len(msg.Controls) != 1 || msg.Controls[0].Kind != platform.ControlCloseTicket {
			t.Fatalf("expected close control, got %+v", msg.Controls)
		}
	}

	stored, err := f.store.GetTicket(ctx, "g1", "u1")
	if err != nil {
		t.Fatalf("get ticket: %v", err)
	}
	if stored.ChannelID != ticket.ChannelID {
		t.Fatalf("expected stored channel %s, got %s", ticket.ChannelID, stored.ChannelID)
	}
	buttons, err := f.store.ListCloseButtons(ctx)
	if err != nil || len(buttons) != 1 || buttons[0].ChannelID != ticket.ChannelID {
		t.Fatalf("expected close binding for ticket channel, got %+v err=%v", buttons, err)
	}
}

func TestOpenTwiceReturnsSameChannel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.manager.Open(ctx, OpenRequest{GuildID: "g1", UserID: "u1"})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	_, err = f.manager.Open(ctx, OpenRequest{GuildID: "g1", UserID: "u1"})
	var already *AlreadyOpenError
	if !errors.As(err, &already) || !errors.Is(err, ErrAlreadyOpen) {
		t.Fatalf("expected AlreadyOpenError, got %v", err)
	}
	if already.ChannelID != first.ChannelID {
		t.Fatalf("expected channel %s, got %s", first.ChannelID, already.ChannelID)
	}
	if got := len(f.gateway.Channels("g1", platform.ChannelText)); got != 1 {
		t.Fatalf("expected a single ticket channel, got %d", got)
	}
}

func TestOpenReusesExistingCategory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	categoryID := f.gateway.AddChannel(platform.Channel{GuildID: "g1", Name: "tickets", Kind: platform.ChannelCategory})

	ticket, err := f.manager.Open(ctx, OpenRequest{GuildID: "g1", UserID: "u1"})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	channel, _ := f.gateway.Channel(ctx, ticket.ChannelID)
	if channel.ParentID != categoryID {
		t.Fatalf("expected existing category %s, got %s", categoryID, channel.ParentID)
	}
	if got := len(f.gateway.Channels("g1", platform.ChannelCategory)); got != 1 {
		t.Fatalf("expected no extra category, got %d", got)
	}
}

func TestOpenCompensatesWhenMessageFails(t *testing.T) {
	f := newFixture(t)
	f.gateway.FailSend = errors.New("send failed")

	if _, err := f.manager.Open(context.Background(), OpenRequest{GuildID: "g1", UserID: "u1"}); err == nil {
		t.Fatalf("expected open to fail")
	}
	if got := len(f.gateway.Channels("g1", platform.ChannelText)); got != 0 {
		t.Fatalf("expected created channel to be removed, got %d", got)
	}
	if _, err := f.store.GetTicket(context.Background(), "g1", "u1"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected no ticket record, got %v", err)
	}
}

// racingStore inserts a competing ticket right before the real write.
type racingStore struct {
	*storage.SQLStore
	once sync.Once
}

func (s *racingStore) CreateTicket(ctx context.Context, ticket storage.TicketRecord, binding storage.CloseButtonBinding) error {
	s.once.Do(func() {
		winner := storage.TicketRecord{GuildID: ticket.GuildID, UserID: ticket.UserID, ChannelID: "winner", CreatedAt: ticket.CreatedAt}
		_ = s.SQLStore.CreateTicket(ctx, winner, storage.CloseButtonBinding{MessageID: "winner-msg", ChannelID: "winner", GuildID: ticket.GuildID})
	})
	return s.SQLStore.CreateTicket(ctx, ticket, binding)
}

func TestOpenLosingRaceRemovesChannel(t *testing.T) {
	f := newFixture(t)
	logger := zap.NewNop()
	manager := NewManager(&racingStore{SQLStore: f.store}, f.guilds, f.gateway, nil, logger, Options{})

	_, err := manager.Open(context.Background(), OpenRequest{GuildID: "g1", UserID: "u1"})
	var already *AlreadyOpenError
	if !errors.As(err, &already) || already.ChannelID != "winner" {
		t.Fatalf("expected AlreadyOpenError for winner, got %v", err)
	}
	if got := len(f.gateway.Channels("g1", platform.ChannelText)); got != 0 {
		t.Fatalf("expected losing channel removed, got %d", got)
	}
}

// unavailableStore fails ticket lookups as an unreachable store would.
type unavailableStore struct {
	*storage.SQLStore
}

func (s unavailableStore) GetTicket(ctx context.Context, guildID, userID string) (storage.TicketRecord, error) {
	return storage.TicketRecord{}, storage.ErrUnavailable
}

func TestOpenFailsClosedWhenStoreUnavailable(t *testing.T) {
	f := newFixture(t)
	manager := NewManager(unavailableStore{SQLStore: f.store}, f.guilds, f.gateway, nil, zap.NewNop(), Options{})

	_, err := manager.Open(context.Background(), OpenRequest{GuildID: "g1", UserID: "u1"})
	if !errors.Is(err, storage.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if got := len(f.gateway.Channels("g1", platform.ChannelText)); got != 0 {
		t.Fatalf("expected no ticket channel created, got %d", got)
	}
	if _, err := f.store.GetTicket(context.Background(), "g1", "u1"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected no ticket record, got %v", err)
	}
}

func TestCloseRemovesRecordAndChannel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ticket, err := f.manager.Open(ctx, OpenRequest{GuildID: "g1", UserID: "u1"})
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	acknowledged := false
	err = f.manager.Close(ctx, CloseRequest{
		GuildID:     "g1",
		ChannelID:   ticket.ChannelID,
		ActorID:     "u1",
		Acknowledge: func() { acknowledged = true },
	})
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if !acknowledged {
		t.Fatalf("expected acknowledgement before the delay")
	}
	if len(f.clock.delays) != 1 || f.clock.delays[0] != DefaultCloseDelay {
		t.Fatalf("expected one %v grace delay, got %v", DefaultCloseDelay, f.clock.delays)
	}
	if f.gateway.HasChannel(ticket.ChannelID) {
		t.Fatalf("expected channel deleted")
	}
	if _, err := f.store.GetTicket(ctx, "g1", "u1"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected record deleted, got %v", err)
	}

	// A new ticket can be opened afterwards.
	if _, err := f.manager.Open(ctx, OpenRequest{GuildID: "g1", UserID: "u1"}); err != nil {
		t.Fatalf("reopen: %v", err)
	}
}

func TestCloseTwiceIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ticket, err := f.manager.Open(ctx, OpenRequest{GuildID: "g1", UserID: "u1"})
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = f.manager.Close(ctx, CloseRequest{GuildID: "g1", ChannelID: ticket.ChannelID, ActorID: "u1"})
		}(i)
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			t.Fatalf("close %d: %v", i, err)
		}
	}
	if err := f.manager.Close(ctx, CloseRequest{GuildID: "g1", ChannelID: ticket.ChannelID, ActorID: "u1"}); err != nil {
		t.Fatalf("sequential close after delete: %v", err)
	}
	if got := len(f.gateway.DeletedChannels()); got != 1 {
		t.Fatalf("expected exactly one channel deletion, got %d", got)
	}
}

func TestCloseRequiresStaffRole(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cfg, err := f.guilds.Get(ctx, "g1")
	if err != nil {
		t.Fatalf("get config: %v", err)
	}
	cfg.StaffRoleID = "staff"
	if err := f.guilds.Update(ctx, cfg); err != nil {
		t.Fatalf("update config: %v", err)
	}
	ticket, err := f.manager.Open(ctx, OpenRequest{GuildID: "g1", UserID: "u1"})
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	err = f.manager.Close(ctx, CloseRequest{GuildID: "g1", ChannelID: ticket.ChannelID, ActorID: "u1", ActorRoles: []string{"member"}})
	if !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized, got %v", err)
	}
	if !f.gateway.HasChannel(ticket.ChannelID) {
		t.Fatalf("expected channel to survive a refused close")
	}

	if err := f.manager.Close(ctx, CloseRequest{GuildID: "g1", ChannelID: ticket.ChannelID, ActorID: "owner"}); err != nil {
		t.Fatalf("owner close: %v", err)
	}
}

func TestCloseRefusesOrdinaryChannel(t *testing.T) {
	f := newFixture(t)
	channelID := f.gateway.AddChannel(platform.Channel{GuildID: "g1", Name: "general", Kind: platform.ChannelText})

	err := f.manager.Close(context.Background(), CloseRequest{GuildID: "g1", ChannelID: channelID, ActorID: "u1"})
	if !errors.Is(err, ErrNotTicket) {
		t.Fatalf("expected ErrNotTicket, got %v", err)
	}
	if !f.gateway.HasChannel(channelID) {
		t.Fatalf("expected channel untouched")
	}
}

func TestCloseAbandonedOnShutdown(t *testing.T) {
	f := newFixture(t)
	f.manager.WithClock(stuckClock{})
	ticket, err := f.manager.Open(context.Background(), OpenRequest{GuildID: "g1", UserID: "u1"})
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- f.manager.Close(ctx, CloseRequest{GuildID: "g1", ChannelID: ticket.ChannelID, ActorID: "u1", Acknowledge: cancel})
	}()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if !f.gateway.HasChannel(ticket.ChannelID) {
		t.Fatalf("expected channel kept after abandoned close")
	}
	if _, err := f.store.GetTicket(context.Background(), "g1", "u1"); err != nil {
		t.Fatalf("expected record kept after abandoned close, got %v", err)
	}
}

func TestPostPanelStoresBinding(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	channelID := f.gateway.AddChannel(platform.Channel{GuildID: "g1", Name: "support", Kind: platform.ChannelText})

	binding, err := f.manager.PostPanel(ctx, "g1", channelID)
	if err != nil {
		t.Fatalf("post panel: %v", err)
	}
	msg, ok := f.gateway.Message(channelID, binding.MessageID)
	if !ok || len(msg.Controls) != 1 || msg.Controls[0].Kind != platform.ControlOpenTicket {
		t.Fatalf("expected open ticket control, got %+v", msg)
	}
	bindings, err := f.store.ListTicketButtons(ctx)
	if err != nil || len(bindings) != 1 {
		t.Fatalf("expected one binding, got %+v err=%v", bindings, err)
	}
}

func TestChannelName(t *testing.T) {
	cases := map[string]string{
		"Alice":     "ticket-alice",
		"bob.smith": "ticket-bob-smith",
		"☃":         "ticket-u1",
	}
	for in, want := range cases {
		if got := channelName(in, "u1"); got != want {
			t.Fatalf("channelName(%q): expected %q, got %q", in, want, got)
		}
	}
}
