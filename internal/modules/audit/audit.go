package audit

import (
	"context"
	"time"

	"guildkeeper/internal/storage"

	"go.uber.org/zap"
)

const (
	LevelInfo = "INFO"
	LevelWarn = "WARN"
	LevelCrit = "CRIT"
)

// Event names written to the audit trail.
const (
	EventTicketOpened = "ticket_opened"
	EventTicketClosed = "ticket_closed"
	EventBan          = "ban"
	EventKick         = "kick"
	EventWarn         = "warn"
	EventRoleConfig   = "role_config"
	EventWarnLimit    = "warn_limit"
	EventOwnerRole    = "owner_role"
	EventGuildConfig  = "guild_config"
)

type Logger struct {
	store  storage.AuditStore
	logger *zap.Logger
	notify func(context.Context, storage.AuditLog)
	now    func() time.Time
}

func NewLogger(store storage.AuditStore, logger *zap.Logger) *Logger {
	return &Logger{store: store, logger: logger, now: time.Now}
}

func (l *Logger) SetNotifier(notify func(context.Context, storage.AuditLog)) {
	l.notify = notify
}

// Log records an event. Store failures are logged and never returned, the
// audited action has already happened.
func (l *Logger) Log(ctx context.Context, level, guildID, userID, event, details string) {
	if l == nil {
		return
	}
	entry := storage.AuditLog{
		GuildID:   guildID,
		UserID:    userID,
		Level:     level,
		Event:     event,
		Details:   details,
		CreatedAt: l.now().UTC(),
	}
	if l.store != nil {
		if err := l.store.AddAuditLog(ctx, entry); err != nil {
			l.logger.Warn("audit store failed", zap.String("event", event), zap.Error(err))
		}
	}
	if l.notify != nil {
		l.notify(ctx, entry)
	}
	l.logger.Info("audit", zap.String("level", level), zap.String("guild_id", guildID), zap.String("user_id", userID), zap.String("event", event), zap.String("details", details))
}
