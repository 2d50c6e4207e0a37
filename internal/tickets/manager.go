package tickets

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"guildkeeper/internal/guilds"
	"guildkeeper/internal/modules/audit"
	"guildkeeper/internal/platform"
	"guildkeeper/internal/storage"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const (
	DefaultCloseDelay = 5 * time.Second
	PanelMessage      = "Need help? Press the button below to open a private ticket with the staff."
)

var (
	ErrAlreadyOpen   = errors.New("tickets: ticket already open")
	ErrNotAuthorized = errors.New("tickets: not authorized to close tickets")
	ErrNotTicket     = errors.New("tickets: channel is not a ticket")
)

// AlreadyOpenError points at the channel of the ticket that is already open.
type AlreadyOpenError struct {
	ChannelID string
}

func (e *AlreadyOpenError) Error() string {
	return "tickets: ticket already open in channel " + e.ChannelID
}

func (e *AlreadyOpenError) Is(target error) bool {
	return target == ErrAlreadyOpen
}

type Store interface {
	storage.TicketStore
	storage.BindingStore
}

type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

type Options struct {
	CloseDelay time.Duration
	// OwnerID is the bot owner, who may close any ticket.
	OwnerID string
}

type OpenRequest struct {
	GuildID  string
	UserID   string
	UserName string
}

type CloseRequest struct {
	GuildID    string
	ChannelID  string
	ActorID    string
	ActorRoles []string
	// Acknowledge is called once the close is authorized, before the grace
	// delay starts.
	Acknowledge func()
}

// Manager runs the ticket lifecycle for one bot identity.
type Manager struct {
	store      Store
	guilds     *guilds.Service
	gateway    platform.Gateway
	audit      *audit.Logger
	logger     *zap.Logger
	clock      Clock
	closeDelay time.Duration
	ownerID    string
}

func NewManager(store Store, guildService *guilds.Service, gateway platform.Gateway, auditLogger *audit.Logger, logger *zap.Logger, opts Options) *Manager {
	delay := opts.CloseDelay
	if delay < 0 {
		delay = 0
	}
	return &Manager{
		store:      store,
		guilds:     guildService,
		gateway:    gateway,
		audit:      auditLogger,
		logger:     logger,
		clock:      realClock{},
		closeDelay: delay,
		ownerID:    opts.OwnerID,
	}
}

func (m *Manager) WithClock(clock Clock) {
	m.clock = clock
}

func (m *Manager) CloseDelay() time.Duration {
	return m.closeDelay
}

// Open creates a private ticket channel for the user. A user has at most one
// open ticket per guild; a second request fails with *AlreadyOpenError.
func (m *Manager) Open(ctx context.Context, req OpenRequest) (storage.TicketRecord, error) {
	cfg, err := m.guilds.Get(ctx, req.GuildID)
	if err != nil {
		return storage.TicketRecord{}, err
	}

	existing, err := m.store.GetTicket(ctx, req.GuildID, req.UserID)
	switch {
	case err == nil:
		return storage.TicketRecord{}, &AlreadyOpenError{ChannelID: existing.ChannelID}
	case !errors.Is(err, storage.ErrNotFound):
		return storage.TicketRecord{}, fmt.Errorf("load ticket: %w", err)
	}

	category, err := m.ensureCategory(ctx, req.GuildID, cfg.CategoryName)
	if err != nil {
		return storage.TicketRecord{}, err
	}

	channel, err := m.gateway.CreateTicketChannel(ctx, platform.TicketChannelSpec{
		GuildID:     req.GuildID,
		CategoryID:  category.ID,
		Name:        channelName(req.UserName, req.UserID),
		UserID:      req.UserID,
		StaffRoleID: cfg.StaffRoleID,
	})
	if err != nil {
		return storage.TicketRecord{}, fmt.Errorf("create ticket channel: %w", err)
	}

	content := strings.ReplaceAll(cfg.TicketMessage, "{user}", "<@"+req.UserID+">")
	messageID, err := m.gateway.SendMessage(ctx, channel.ID, platform.Message{
		Content:  content,
		Controls: []platform.Control{platform.CloseTicketControl()},
	})
	if err != nil {
		return storage.TicketRecord{}, m.compensate(ctx, channel.ID, fmt.Errorf("send welcome message: %w", err))
	}

	ticket := storage.TicketRecord{
		GuildID:   req.GuildID,
		UserID:    req.UserID,
		ChannelID: channel.ID,
		CreatedAt: m.clock.Now().UTC(),
	}
	binding := storage.CloseButtonBinding{MessageID: messageID, ChannelID: channel.ID, GuildID: req.GuildID}
	if err := m.store.CreateTicket(ctx, ticket, binding); err != nil {
		if errors.Is(err, storage.ErrTicketExists) {
			if winner, getErr := m.store.GetTicket(ctx, req.GuildID, req.UserID); getErr == nil {
				err = &AlreadyOpenError{ChannelID: winner.ChannelID}
			}
		} else {
			err = fmt.Errorf("save ticket: %w", err)
		}
		return storage.TicketRecord{}, m.compensate(ctx, channel.ID, err)
	}

	m.logger.Info("ticket opened",
		zap.String("guild_id", req.GuildID),
		zap.String("user_id", req.UserID),
		zap.String("channel_id", channel.ID),
	)
	m.audit.Log(ctx, audit.LevelInfo, req.GuildID, req.UserID, audit.EventTicketOpened, "channel="+channel.ID)
	return ticket, nil
}

// Close acknowledges, waits the grace delay and then removes the ticket's
// records and channel. Closing an already closed ticket is not an error.
func (m *Manager) Close(ctx context.Context, req CloseRequest) error {
	cfg, err := m.guilds.Get(ctx, req.GuildID)
	if err != nil {
		return err
	}
	if !m.canClose(cfg, req) {
		return ErrNotAuthorized
	}

	ticket, err := m.store.GetTicketByChannel(ctx, req.ChannelID)
	switch {
	case err == nil:
		if ticket.GuildID != req.GuildID {
			return ErrNotTicket
		}
	case errors.Is(err, storage.ErrNotFound):
		gone, err := m.checkUntracked(ctx, cfg, req.ChannelID)
		if err != nil {
			return err
		}
		if gone {
			return nil
		}
	default:
		return fmt.Errorf("load ticket: %w", err)
	}

	if req.Acknowledge != nil {
		req.Acknowledge()
	}

	if m.closeDelay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.clock.After(m.closeDelay):
		}
	}

	deleted, err := m.store.DeleteTicketByChannel(ctx, req.ChannelID)
	if err != nil {
		return fmt.Errorf("delete ticket: %w", err)
	}
	if err := m.gateway.DeleteChannel(ctx, req.ChannelID); err != nil {
		if !platform.IsNotFound(err) {
			return fmt.Errorf("delete ticket channel: %w", err)
		}
		m.logger.Debug("ticket channel already gone", zap.String("channel_id", req.ChannelID))
	}

	if deleted {
		m.logger.Info("ticket closed",
			zap.String("guild_id", req.GuildID),
			zap.String("channel_id", req.ChannelID),
			zap.String("actor_id", req.ActorID),
		)
		m.audit.Log(ctx, audit.LevelInfo, req.GuildID, req.ActorID, audit.EventTicketClosed, "channel="+req.ChannelID)
	}
	return nil
}

// PostPanel posts the "open ticket" control in a channel and remembers it so
// the control can be redrawn after a restart.
func (m *Manager) PostPanel(ctx context.Context, guildID, channelID string) (storage.TicketButtonBinding, error) {
	messageID, err := m.gateway.SendMessage(ctx, channelID, platform.Message{
		Content:  PanelMessage,
		Controls: []platform.Control{platform.OpenTicketControl()},
	})
	if err != nil {
		return storage.TicketButtonBinding{}, fmt.Errorf("send ticket panel: %w", err)
	}

	binding := storage.TicketButtonBinding{MessageID: messageID, GuildID: guildID, ChannelID: channelID}
	if err := m.store.PutTicketButton(ctx, binding); err != nil {
		err = fmt.Errorf("save ticket panel: %w", err)
		if delErr := m.gateway.DeleteMessage(ctx, channelID, messageID); delErr != nil && !platform.IsNotFound(delErr) {
			err = multierr.Append(err, fmt.Errorf("remove ticket panel: %w", delErr))
		}
		return storage.TicketButtonBinding{}, err
	}
	return binding, nil
}

func (m *Manager) canClose(cfg storage.GuildConfig, req CloseRequest) bool {
	if m.ownerID != "" && req.ActorID == m.ownerID {
		return true
	}
	if cfg.StaffRoleID == "" {
		return true
	}
	for _, roleID := range req.ActorRoles {
		if roleID == cfg.StaffRoleID {
			return true
		}
	}
	return false
}

// checkUntracked handles a close on a channel without a ticket record. It
// reports whether the channel is already gone, and refuses channels outside
// the ticket category.
func (m *Manager) checkUntracked(ctx context.Context, cfg storage.GuildConfig, channelID string) (bool, error) {
	channel, err := m.gateway.Channel(ctx, channelID)
	if platform.IsNotFound(err) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("load channel: %w", err)
	}
	if channel.GuildID != cfg.GuildID || channel.ParentID == "" {
		return false, ErrNotTicket
	}
	parent, err := m.gateway.Channel(ctx, channel.ParentID)
	if err != nil {
		if platform.IsNotFound(err) {
			return false, ErrNotTicket
		}
		return false, fmt.Errorf("load category: %w", err)
	}
	if parent.Kind != platform.ChannelCategory || !strings.EqualFold(parent.Name, cfg.CategoryName) {
		return false, ErrNotTicket
	}
	return false, nil
}

func (m *Manager) ensureCategory(ctx context.Context, guildID, name string) (platform.Channel, error) {
	channels, err := m.gateway.GuildChannels(ctx, guildID)
	if err != nil {
		return platform.Channel{}, fmt.Errorf("list channels: %w", err)
	}
	for _, channel := range channels {
		if channel.Kind == platform.ChannelCategory && strings.EqualFold(channel.Name, name) {
			return channel, nil
		}
	}
	category, err := m.gateway.CreateCategory(ctx, guildID, name)
	if err != nil {
		return platform.Channel{}, fmt.Errorf("create category: %w", err)
	}
	m.logger.Info("ticket category created", zap.String("guild_id", guildID), zap.String("channel_id", category.ID))
	return category, nil
}

// compensate removes a channel created by a failed Open.
func (m *Manager) compensate(ctx context.Context, channelID string, cause error) error {
	if err := m.gateway.DeleteChannel(ctx, channelID); err != nil && !platform.IsNotFound(err) {
		m.logger.Warn("orphan ticket channel left behind", zap.String("channel_id", channelID), zap.Error(err))
		return multierr.Append(cause, fmt.Errorf("remove ticket channel: %w", err))
	}
	return cause
}

func channelName(userName, userID string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(userName) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		case r == ' ' || r == '.':
			b.WriteByte('-')
		}
	}
	name := strings.Trim(b.String(), "-")
	if name == "" {
		name = userID
	}
	if len(name) > 80 {
		name = name[:80]
	}
	return "ticket-" + name
}
