package storage

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound     = errors.New("storage: not found")
	ErrUnavailable  = errors.New("storage: backend unavailable")
	ErrTicketExists = errors.New("storage: ticket already open")
)

const (
	DefaultCategoryName  = "TICKETS"
	DefaultTicketMessage = "Welcome {user}! Describe your request here and a staff member will answer shortly."
	DefaultWarnLimit     = 3
	MinWarnLimit         = 1
	MaxWarnLimit         = 20
	WarningHistory       = 50
	LedgerTTL            = 48 * time.Hour
	LedgerDayLayout      = "2006-01-02"
)

type GuildConfig struct {
	GuildID         string
	CategoryName    string
	StaffRoleID     string
	TicketMessage   string
	StatusChannelID string
	WarnLimit       int
}

func DefaultGuildConfig(guildID string) GuildConfig {
	return GuildConfig{
		GuildID:       guildID,
		CategoryName:  DefaultCategoryName,
		TicketMessage: DefaultTicketMessage,
		WarnLimit:     DefaultWarnLimit,
	}
}

type TicketRecord struct {
	GuildID   string
	UserID    string
	ChannelID string
	CreatedAt time.Time
}

// TicketButtonBinding ties a persistent "open ticket" control to the channel
// it was posted in.
type TicketButtonBinding struct {
	MessageID string
	GuildID   string
	ChannelID string
}

// CloseButtonBinding ties a ticket's "close" control to the ticket channel.
type CloseButtonBinding struct {
	MessageID string
	ChannelID string
	GuildID   string
}

type RoleGrant struct {
	GuildID   string
	RoleID    string
	Ban       Limit
	Kick      Limit
	Warn      Limit
	UpdatedBy string
	UpdatedAt time.Time
}

func (g RoleGrant) Limit(action Action) Limit {
	switch action {
	case ActionBan:
		return g.Ban
	case ActionKick:
		return g.Kick
	case ActionWarn:
		return g.Warn
	default:
		return Disabled()
	}
}

func (g RoleGrant) AnyEnabled() bool {
	return g.Ban.Allowed() || g.Kick.Allowed() || g.Warn.Allowed()
}

// LedgerEntry counts the moderation actions a user spent on one UTC day under
// one granting role.
type LedgerEntry struct {
	GuildID        string
	UserID         string
	Day            string
	GrantingRoleID string
	BanUsed        int
	KickUsed       int
	WarnUsed       int
	ExpiresAt      time.Time
}

func (e LedgerEntry) Used(action Action) int {
	switch action {
	case ActionBan:
		return e.BanUsed
	case ActionKick:
		return e.KickUsed
	case ActionWarn:
		return e.WarnUsed
	default:
		return 0
	}
}

func (e *LedgerEntry) SetUsed(action Action, used int) {
	switch action {
	case ActionBan:
		e.BanUsed = used
	case ActionKick:
		e.KickUsed = used
	case ActionWarn:
		e.WarnUsed = used
	}
}

type WarningRecord struct {
	GuildID     string
	UserID      string
	Reason      string
	ModeratorID string
	CreatedAt   time.Time
}

type BlacklistEntry struct {
	GuildID     string
	UserID      string
	Reason      string
	ModeratorID string
	CreatedAt   time.Time
}

type StatusMessage struct {
	BotID     string
	ChannelID string
	MessageID string
}

type AuditLog struct {
	ID        int64
	GuildID   string
	UserID    string
	Level     string
	Event     string
	Details   string
	CreatedAt time.Time
}

type GuildConfigStore interface {
	GetGuildConfig(ctx context.Context, guildID string) (GuildConfig, error)
	InsertGuildConfigIfAbsent(ctx context.Context, cfg GuildConfig) (GuildConfig, bool, error)
	UpsertGuildConfig(ctx context.Context, cfg GuildConfig) error
	ListGuildConfigs(ctx context.Context) ([]GuildConfig, error)
}

type TicketStore interface {
	// CreateTicket writes the ticket and its close binding together. It
	// returns ErrTicketExists when the (guild, user) pair already has one.
	CreateTicket(ctx context.Context, ticket TicketRecord, binding CloseButtonBinding) error
	GetTicket(ctx context.Context, guildID, userID string) (TicketRecord, error)
	GetTicketByChannel(ctx context.Context, channelID string) (TicketRecord, error)
	// DeleteTicketByChannel removes the ticket and close binding of a channel
	// if they exist. Deleting twice is not an error.
	DeleteTicketByChannel(ctx context.Context, channelID string) (bool, error)
	ListTickets(ctx context.Context) ([]TicketRecord, error)
}

type BindingStore interface {
	PutTicketButton(ctx context.Context, binding TicketButtonBinding) error
	ListTicketButtons(ctx context.Context) ([]TicketButtonBinding, error)
	DeleteTicketButton(ctx context.Context, messageID string) (bool, error)
	ListCloseButtons(ctx context.Context) ([]CloseButtonBinding, error)
	DeleteCloseButton(ctx context.Context, messageID string) (bool, error)
}

type GrantStore interface {
	PutRoleGrant(ctx context.Context, grant RoleGrant) error
	GetRoleGrant(ctx context.Context, guildID, roleID string) (RoleGrant, error)
	ListRoleGrants(ctx context.Context, guildID string) ([]RoleGrant, error)
}

type LedgerStore interface {
	GetLedgerEntry(ctx context.Context, guildID, userID, day string) (LedgerEntry, error)
	PutLedgerEntry(ctx context.Context, entry LedgerEntry) error
	PurgeLedger(ctx context.Context, now time.Time) (int64, error)
}

type WarningStore interface {
	// AppendWarning records a warning, keeps only the newest keep entries and
	// returns how many remain.
	AppendWarning(ctx context.Context, warning WarningRecord, keep int) (int, error)
	CountWarnings(ctx context.Context, guildID, userID string) (int, error)
}

type BlacklistStore interface {
	PutBlacklist(ctx context.Context, entry BlacklistEntry) error
	GetBlacklist(ctx context.Context, guildID, userID string) (BlacklistEntry, error)
}

type OwnerRoleStore interface {
	AddOwnerRole(ctx context.Context, guildID, roleID string) error
	RemoveOwnerRole(ctx context.Context, guildID, roleID string) error
	ListOwnerRoles(ctx context.Context, guildID string) ([]string, error)
}

type StatusStore interface {
	GetStatusMessage(ctx context.Context, botID, channelID string) (StatusMessage, error)
	PutStatusMessage(ctx context.Context, msg StatusMessage) error
}

type AuditStore interface {
	AddAuditLog(ctx context.Context, log AuditLog) error
}

// Store is the full persistence surface. Backends: SQLStore (SQLite or
// PostgreSQL) and RedisStore.
type Store interface {
	GuildConfigStore
	TicketStore
	BindingStore
	GrantStore
	LedgerStore
	WarningStore
	BlacklistStore
	OwnerRoleStore
	StatusStore
	AuditStore
	Migrate() error
	Close() error
}
