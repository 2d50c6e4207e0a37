package storage

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"embed"
	"errors"
	"fmt"
	"net"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

//go:embed migrations
var migrations embed.FS

type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// SQLStore persists everything in SQLite or PostgreSQL. Queries are written
// with '?' placeholders and rebound for PostgreSQL.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	retry   RetryPolicy
}

var _ Store = (*SQLStore)(nil)

// New opens a SQLite store at dbPath.
func New(dbPath string) (*SQLStore, error) {
	return Open(DialectSQLite, dbPath, DefaultRetryPolicy)
}

func Open(dialect Dialect, dsn string, retry RetryPolicy) (*SQLStore, error) {
	var (
		db  *sql.DB
		err error
	)
	switch dialect {
	case DialectSQLite:
		db, err = sql.Open("sqlite", dsn)
		if err != nil {
			return nil, err
		}
		// One connection keeps ":memory:" databases shared and serializes writers.
		db.SetMaxOpenConns(1)
		if dsn != ":memory:" {
			if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
				_ = db.Close()
				return nil, fmt.Errorf("failed to enable WAL: %w", err)
			}
		}
		if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set busy timeout: %w", err)
		}
	case DialectPostgres:
		db, err = sql.Open("pgx", dsn)
		if err != nil {
			return nil, err
		}
		db.SetMaxOpenConns(10)
		db.SetConnMaxIdleTime(10 * time.Minute)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", dialect)
	}
	return &SQLStore{db: db, dialect: dialect, retry: retry}, nil
}

func (s *SQLStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLStore) Migrate() error {
	dir := path.Join("migrations", string(s.dialect))
	entries, err := migrations.ReadDir(dir)
	if err != nil {
		return err
	}

	var files []string
	for _, entry := range entries {
		files = append(files, entry.Name())
	}
	sort.Strings(files)

	for _, file := range files {
		content, err := migrations.ReadFile(path.Join(dir, file))
		if err != nil {
			return err
		}
		for _, stmt := range strings.Split(string(content), ";") {
			if strings.TrimSpace(stmt) == "" {
				continue
			}
			if _, err := s.db.Exec(stmt); err != nil {
				if isIgnorableMigrationError(err) {
					continue
				}
				return fmt.Errorf("migration %s failed: %w", file, err)
			}
		}
	}
	return nil
}

func (s *SQLStore) GetGuildConfig(ctx context.Context, guildID string) (GuildConfig, error) {
	var cfg GuildConfig
	err := s.retry.Do(ctx, func() error {
		row := s.db.QueryRowContext(ctx, s.q(`
			SELECT guild_id, category_name, staff_role_id, ticket_message, status_channel_id, warn_limit
			FROM guild_configs WHERE guild_id = ?`), guildID)
		return s.wrap(row.Scan(&cfg.GuildID, &cfg.CategoryName, &cfg.StaffRoleID, &cfg.TicketMessage, &cfg.StatusChannelID, &cfg.WarnLimit))
	})
	return cfg, err
}

func (s *SQLStore) InsertGuildConfigIfAbsent(ctx context.Context, cfg GuildConfig) (GuildConfig, bool, error) {
	res, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO guild_configs (guild_id, category_name, staff_role_id, ticket_message, status_channel_id, warn_limit)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(guild_id) DO NOTHING
	`), cfg.GuildID, cfg.CategoryName, cfg.StaffRoleID, cfg.TicketMessage, cfg.StatusChannelID, cfg.WarnLimit)
	if err != nil {
		return GuildConfig{}, false, s.wrap(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return GuildConfig{}, false, s.wrap(err)
	}
	stored, err := s.GetGuildConfig(ctx, cfg.GuildID)
	if err != nil {
		return GuildConfig{}, false, err
	}
	return stored, affected > 0, nil
}

func (s *SQLStore) UpsertGuildConfig(ctx context.Context, cfg GuildConfig) error {
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO guild_configs (guild_id, category_name, staff_role_id, ticket_message, status_channel_id, warn_limit)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(guild_id) DO UPDATE SET
			category_name = excluded.category_name,
			staff_role_id = excluded.staff_role_id,
			ticket_message = excluded.ticket_message,
			status_channel_id = excluded.status_channel_id,
			warn_limit = excluded.warn_limit
	`), cfg.GuildID, cfg.CategoryName, cfg.StaffRoleID, cfg.TicketMessage, cfg.StatusChannelID, cfg.WarnLimit)
	return s.wrap(err)
}

func (s *SQLStore) ListGuildConfigs(ctx context.Context) ([]GuildConfig, error) {
	var configs []GuildConfig
	err := s.retry.Do(ctx, func() error {
		configs = nil
		rows, err := s.db.QueryContext(ctx, `
			SELECT guild_id, category_name, staff_role_id, ticket_message, status_channel_id, warn_limit
			FROM guild_configs ORDER BY guild_id`)
		if err != nil {
			return s.wrap(err)
		}
		defer rows.Close()
		for rows.Next() {
			var cfg GuildConfig
			if err := rows.Scan(&cfg.GuildID, &cfg.CategoryName, &cfg.StaffRoleID, &cfg.TicketMessage, &cfg.StatusChannelID, &cfg.WarnLimit); err != nil {
				return s.wrap(err)
			}
			configs = append(configs, cfg)
		}
		return s.wrap(rows.Err())
	})
	return configs, err
}

func (s *SQLStore) CreateTicket(ctx context.Context, ticket TicketRecord, binding CloseButtonBinding) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.wrap(err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, s.q(`
		INSERT INTO tickets (guild_id, user_id, channel_id, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(guild_id, user_id) DO NOTHING
	`), ticket.GuildID, ticket.UserID, ticket.ChannelID, ticket.CreatedAt.Unix())
	if err != nil {
		return s.wrap(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return s.wrap(err)
	}
	if affected == 0 {
		err = ErrTicketExists
		return err
	}

	if _, err = tx.ExecContext(ctx, s.q(`
		INSERT INTO close_buttons (message_id, channel_id, guild_id) VALUES (?, ?, ?)
	`), binding.MessageID, binding.ChannelID, binding.GuildID); err != nil {
		return s.wrap(err)
	}
	if err = tx.Commit(); err != nil {
		return s.wrap(err)
	}
	return nil
}

func (s *SQLStore) GetTicket(ctx context.Context, guildID, userID string) (TicketRecord, error) {
	return s.scanTicket(ctx, `
		SELECT guild_id, user_id, channel_id, created_at FROM tickets
		WHERE guild_id = ? AND user_id = ?`, guildID, userID)
}

func (s *SQLStore) GetTicketByChannel(ctx context.Context, channelID string) (TicketRecord, error) {
	return s.scanTicket(ctx, `
		SELECT guild_id, user_id, channel_id, created_at FROM tickets
		WHERE channel_id = ?`, channelID)
}

func (s *SQLStore) scanTicket(ctx context.Context, query string, args ...any) (TicketRecord, error) {
	var ticket TicketRecord
	err := s.retry.Do(ctx, func() error {
		var created int64
		row := s.db.QueryRowContext(ctx, s.q(query), args...)
		if err := row.Scan(&ticket.GuildID, &ticket.UserID, &ticket.ChannelID, &created); err != nil {
			return s.wrap(err)
		}
		ticket.CreatedAt = time.Unix(created, 0).UTC()
		return nil
	})
	return ticket, err
}

func (s *SQLStore) DeleteTicketByChannel(ctx context.Context, channelID string) (deleted bool, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, s.wrap(err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, s.q(`DELETE FROM tickets WHERE channel_id = ?`), channelID)
	if err != nil {
		return false, s.wrap(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, s.wrap(err)
	}
	if _, err = tx.ExecContext(ctx, s.q(`DELETE FROM close_buttons WHERE channel_id = ?`), channelID); err != nil {
		return false, s.wrap(err)
	}
	if err = tx.Commit(); err != nil {
		return false, s.wrap(err)
	}
	return affected > 0, nil
}

func (s *SQLStore) ListTickets(ctx context.Context) ([]TicketRecord, error) {
	var tickets []TicketRecord
	err := s.retry.Do(ctx, func() error {
		tickets = nil
		rows, err := s.db.QueryContext(ctx, `SELECT guild_id, user_id, channel_id, created_at FROM tickets ORDER BY created_at`)
		if err != nil {
			return s.wrap(err)
		}
		defer rows.Close()
		for rows.Next() {
			var ticket TicketRecord
			var created int64
			if err := rows.Scan(&ticket.GuildID, &ticket.UserID, &ticket.ChannelID, &created); err != nil {
				return s.wrap(err)
			}
			ticket.CreatedAt = time.Unix(created, 0).UTC()
			tickets = append(tickets, ticket)
		}
		return s.wrap(rows.Err())
	})
	return tickets, err
}

func (s *SQLStore) PutTicketButton(ctx context.Context, binding TicketButtonBinding) error {
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO ticket_buttons (message_id, guild_id, channel_id) VALUES (?, ?, ?)
		ON CONFLICT(message_id) DO UPDATE SET guild_id = excluded.guild_id, channel_id = excluded.channel_id
	`), binding.MessageID, binding.GuildID, binding.ChannelID)
	return s.wrap(err)
}

func (s *SQLStore) ListTicketButtons(ctx context.Context) ([]TicketButtonBinding, error) {
	var bindings []TicketButtonBinding
	err := s.retry.Do(ctx, func() error {
		bindings = nil
		rows, err := s.db.QueryContext(ctx, `SELECT message_id, guild_id, channel_id FROM ticket_buttons ORDER BY message_id`)
		if err != nil {
			return s.wrap(err)
		}
		defer rows.Close()
		for rows.Next() {
			var binding TicketButtonBinding
			if err := rows.Scan(&binding.MessageID, &binding.GuildID, &binding.ChannelID); err != nil {
				return s.wrap(err)
			}
			bindings = append(bindings, binding)
		}
		return s.wrap(rows.Err())
	})
	return bindings, err
}

func (s *SQLStore) DeleteTicketButton(ctx context.Context, messageID string) (bool, error) {
	return s.deleteOne(ctx, `DELETE FROM ticket_buttons WHERE message_id = ?`, messageID)
}

func (s *SQLStore) ListCloseButtons(ctx context.Context) ([]CloseButtonBinding, error) {
	var bindings []CloseButtonBinding
	err := s.retry.Do(ctx, func() error {
		bindings = nil
		rows, err := s.db.QueryContext(ctx, `SELECT message_id, channel_id, guild_id FROM close_buttons ORDER BY message_id`)
		if err != nil {
			return s.wrap(err)
		}
		defer rows.Close()
		for rows.Next() {
			var binding CloseButtonBinding
			if err := rows.Scan(&binding.MessageID, &binding.ChannelID, &binding.GuildID); err != nil {
				return s.wrap(err)
			}
			bindings = append(bindings, binding)
		}
		return s.wrap(rows.Err())
	})
	return bindings, err
}

func (s *SQLStore) DeleteCloseButton(ctx context.Context, messageID string) (bool, error) {
	return s.deleteOne(ctx, `DELETE FROM close_buttons WHERE message_id = ?`, messageID)
}

func (s *SQLStore) PutRoleGrant(ctx context.Context, grant RoleGrant) error {
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO role_grants (guild_id, role_id, ban, kick, warn, updated_by, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(guild_id, role_id) DO UPDATE SET
			ban = excluded.ban,
			kick = excluded.kick,
			warn = excluded.warn,
			updated_by = excluded.updated_by,
			updated_at = excluded.updated_at
	`), grant.GuildID, grant.RoleID, grant.Ban.String(), grant.Kick.String(), grant.Warn.String(), grant.UpdatedBy, grant.UpdatedAt.Unix())
	return s.wrap(err)
}

func (s *SQLStore) GetRoleGrant(ctx context.Context, guildID, roleID string) (RoleGrant, error) {
	var grant RoleGrant
	err := s.retry.Do(ctx, func() error {
		row := s.db.QueryRowContext(ctx, s.q(`
			SELECT guild_id, role_id, ban, kick, warn, updated_by, updated_at
			FROM role_grants WHERE guild_id = ? AND role_id = ?`), guildID, roleID)
		var err error
		grant, err = scanGrant(row)
		return s.wrap(err)
	})
	return grant, err
}

func (s *SQLStore) ListRoleGrants(ctx context.Context, guildID string) ([]RoleGrant, error) {
	var grants []RoleGrant
	err := s.retry.Do(ctx, func() error {
		grants = nil
		rows, err := s.db.QueryContext(ctx, s.q(`
			SELECT guild_id, role_id, ban, kick, warn, updated_by, updated_at
			FROM role_grants WHERE guild_id = ? ORDER BY role_id`), guildID)
		if err != nil {
			return s.wrap(err)
		}
		defer rows.Close()
		for rows.Next() {
			grant, err := scanGrant(rows)
			if err != nil {
				return s.wrap(err)
			}
			grants = append(grants, grant)
		}
		return s.wrap(rows.Err())
	})
	return grants, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanGrant(row rowScanner) (RoleGrant, error) {
	var grant RoleGrant
	var ban, kick, warn string
	var updated int64
	if err := row.Scan(&grant.GuildID, &grant.RoleID, &ban, &kick, &warn, &grant.UpdatedBy, &updated); err != nil {
		return RoleGrant{}, err
	}
	var err error
	if grant.Ban, err = ParseLimit(ban); err != nil {
		return RoleGrant{}, err
	}
	if grant.Kick, err = ParseLimit(kick); err != nil {
		return RoleGrant{}, err
	}
	if grant.Warn, err = ParseLimit(warn); err != nil {
		return RoleGrant{}, err
	}
	grant.UpdatedAt = time.Unix(updated, 0).UTC()
	return grant, nil
}

func (s *SQLStore) GetLedgerEntry(ctx context.Context, guildID, userID, day string) (LedgerEntry, error) {
	var entry LedgerEntry
	err := s.retry.Do(ctx, func() error {
		var expires int64
		row := s.db.QueryRowContext(ctx, s.q(`
			SELECT guild_id, user_id, day, role_id, ban_used, kick_used, warn_used, expires_at
			FROM credit_ledger WHERE guild_id = ? AND user_id = ? AND day = ?`), guildID, userID, day)
		if err := row.Scan(&entry.GuildID, &entry.UserID, &entry.Day, &entry.GrantingRoleID, &entry.BanUsed, &entry.KickUsed, &entry.WarnUsed, &expires); err != nil {
			return s.wrap(err)
		}
		entry.ExpiresAt = time.Unix(expires, 0).UTC()
		return nil
	})
	return entry, err
}

func (s *SQLStore) PutLedgerEntry(ctx context.Context, entry LedgerEntry) error {
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO credit_ledger (guild_id, user_id, day, role_id, ban_used, kick_used, warn_used, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(guild_id, user_id, day) DO UPDATE SET
			role_id = excluded.role_id,
			ban_used = excluded.ban_used,
			kick_used = excluded.kick_used,
			warn_used = excluded.warn_used,
			expires_at = excluded.expires_at
	`), entry.GuildID, entry.UserID, entry.Day, entry.GrantingRoleID, entry.BanUsed, entry.KickUsed, entry.WarnUsed, entry.ExpiresAt.Unix())
	return s.wrap(err)
}

func (s *SQLStore) PurgeLedger(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.q(`DELETE FROM credit_ledger WHERE expires_at <= ?`), now.Unix())
	if err != nil {
		return 0, s.wrap(err)
	}
	affected, err := res.RowsAffected()
	return affected, s.wrap(err)
}

func (s *SQLStore) AppendWarning(ctx context.Context, warning WarningRecord, keep int) (count int, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, s.wrap(err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, s.q(`
		INSERT INTO warnings (guild_id, user_id, reason, moderator_id, created_at)
		VALUES (?, ?, ?, ?, ?)
	`), warning.GuildID, warning.UserID, warning.Reason, warning.ModeratorID, warning.CreatedAt.Unix()); err != nil {
		return 0, s.wrap(err)
	}
	if keep > 0 {
		if _, err = tx.ExecContext(ctx, s.q(`
			DELETE FROM warnings
			WHERE guild_id = ? AND user_id = ? AND id NOT IN (
				SELECT id FROM warnings WHERE guild_id = ? AND user_id = ? ORDER BY id DESC LIMIT ?
			)
		`), warning.GuildID, warning.UserID, warning.GuildID, warning.UserID, keep); err != nil {
			return 0, s.wrap(err)
		}
	}
	row := tx.QueryRowContext(ctx, s.q(`SELECT COUNT(*) FROM warnings WHERE guild_id = ? AND user_id = ?`), warning.GuildID, warning.UserID)
	if err = row.Scan(&count); err != nil {
		return 0, s.wrap(err)
	}
	if err = tx.Commit(); err != nil {
		return 0, s.wrap(err)
	}
	return count, nil
}

func (s *SQLStore) CountWarnings(ctx context.Context, guildID, userID string) (int, error) {
	var count int
	err := s.retry.Do(ctx, func() error {
		row := s.db.QueryRowContext(ctx, s.q(`SELECT COUNT(*) FROM warnings WHERE guild_id = ? AND user_id = ?`), guildID, userID)
		return s.wrap(row.Scan(&count))
	})
	return count, err
}

func (s *SQLStore) PutBlacklist(ctx context.Context, entry BlacklistEntry) error {
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO blacklist (guild_id, user_id, reason, moderator_id, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(guild_id, user_id) DO UPDATE SET
			reason = excluded.reason,
			moderator_id = excluded.moderator_id,
			created_at = excluded.created_at
	`), entry.GuildID, entry.UserID, entry.Reason, entry.ModeratorID, entry.CreatedAt.Unix())
	return s.wrap(err)
}

func (s *SQLStore) GetBlacklist(ctx context.Context, guildID, userID string) (BlacklistEntry, error) {
	var entry BlacklistEntry
	err := s.retry.Do(ctx, func() error {
		var created int64
		row := s.db.QueryRowContext(ctx, s.q(`
			SELECT guild_id, user_id, reason, moderator_id, created_at
			FROM blacklist WHERE guild_id = ? AND user_id = ?`), guildID, userID)
		if err := row.Scan(&entry.GuildID, &entry.UserID, &entry.Reason, &entry.ModeratorID, &created); err != nil {
			return s.wrap(err)
		}
		entry.CreatedAt = time.Unix(created, 0).UTC()
		return nil
	})
	return entry, err
}

func (s *SQLStore) AddOwnerRole(ctx context.Context, guildID, roleID string) error {
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO owner_roles (guild_id, role_id) VALUES (?, ?)
		ON CONFLICT(guild_id, role_id) DO NOTHING
	`), guildID, roleID)
	return s.wrap(err)
}

func (s *SQLStore) RemoveOwnerRole(ctx context.Context, guildID, roleID string) error {
	_, err := s.db.ExecContext(ctx, s.q(`DELETE FROM owner_roles WHERE guild_id = ? AND role_id = ?`), guildID, roleID)
	return s.wrap(err)
}

func (s *SQLStore) ListOwnerRoles(ctx context.Context, guildID string) ([]string, error) {
	var roles []string
	err := s.retry.Do(ctx, func() error {
		roles = nil
		rows, err := s.db.QueryContext(ctx, s.q(`SELECT role_id FROM owner_roles WHERE guild_id = ? ORDER BY role_id`), guildID)
		if err != nil {
			return s.wrap(err)
		}
		defer rows.Close()
		for rows.Next() {
			var roleID string
			if err := rows.Scan(&roleID); err != nil {
				return s.wrap(err)
			}
			roles = append(roles, roleID)
		}
		return s.wrap(rows.Err())
	})
	return roles, err
}

func (s *SQLStore) GetStatusMessage(ctx context.Context, botID, channelID string) (StatusMessage, error) {
	var msg StatusMessage
	err := s.retry.Do(ctx, func() error {
		row := s.db.QueryRowContext(ctx, s.q(`
			SELECT bot_id, channel_id, message_id FROM status_messages
			WHERE bot_id = ? AND channel_id = ?`), botID, channelID)
		return s.wrap(row.Scan(&msg.BotID, &msg.ChannelID, &msg.MessageID))
	})
	return msg, err
}

func (s *SQLStore) PutStatusMessage(ctx context.Context, msg StatusMessage) error {
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO status_messages (bot_id, channel_id, message_id) VALUES (?, ?, ?)
		ON CONFLICT(bot_id, channel_id) DO UPDATE SET message_id = excluded.message_id
	`), msg.BotID, msg.ChannelID, msg.MessageID)
	return s.wrap(err)
}

func (s *SQLStore) AddAuditLog(ctx context.Context, log AuditLog) error {
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO audit_logs (guild_id, user_id, level, event, details, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`), log.GuildID, log.UserID, log.Level, log.Event, log.Details, log.CreatedAt.Unix())
	return s.wrap(err)
}

func (s *SQLStore) deleteOne(ctx context.Context, query string, args ...any) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.q(query), args...)
	if err != nil {
		return false, s.wrap(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, s.wrap(err)
	}
	return affected > 0, nil
}

// q rebinds '?' placeholders to '$n' for PostgreSQL.
func (s *SQLStore) q(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLStore) wrap(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sql.ErrNoRows):
		return ErrNotFound
	case isTransientSQL(err):
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	default:
		return err
	}
}

func isTransientSQL(err error) bool {
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return true
	}
	if pgconn.SafeToRetry(err) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	message := err.Error()
	return strings.Contains(message, "database is locked") || strings.Contains(message, "SQLITE_BUSY")
}

func isIgnorableMigrationError(err error) bool {
	if err == nil {
		return false
	}
	message := err.Error()
	return strings.Contains(message, "duplicate column name") || strings.Contains(message, "already exists")
}
