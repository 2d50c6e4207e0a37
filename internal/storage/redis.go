package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	redisTxAttempts = 5
	auditHistory    = 1000
)

// RedisStore keeps the same records as SQLStore in Redis. Values are msgpack
// encoded, ledger entries expire through key TTLs.
type RedisStore struct {
	client *redis.Client
	prefix string
	retry  RetryPolicy
}

var _ Store = (*RedisStore)(nil)

type RedisOptions struct {
	URL      string
	Addr     string
	Password string
	DB       int
	Prefix   string
}

func OpenRedis(opts RedisOptions, retry RetryPolicy) (*RedisStore, error) {
	var clientOpts *redis.Options
	if opts.URL != "" {
		parsed, err := redis.ParseURL(opts.URL)
		if err != nil {
			return nil, fmt.Errorf("invalid redis url: %w", err)
		}
		clientOpts = parsed
	} else {
		clientOpts = &redis.Options{Addr: opts.Addr, Password: opts.Password, DB: opts.DB}
	}
	return NewRedisStore(redis.NewClient(clientOpts), opts.Prefix, retry), nil
}

func NewRedisStore(client *redis.Client, prefix string, retry RetryPolicy) *RedisStore {
	return &RedisStore{client: client, prefix: prefix, retry: retry}
}

// Migrate only checks connectivity; Redis has no schema.
func (s *RedisStore) Migrate() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.wrap(s.client.Ping(ctx).Err())
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

type redisTicket struct {
	GuildID   string `msgpack:"guild_id"`
	UserID    string `msgpack:"user_id"`
	ChannelID string `msgpack:"channel_id"`
	CreatedAt int64  `msgpack:"created_at"`
}

type redisGrant struct {
	GuildID   string `msgpack:"guild_id"`
	RoleID    string `msgpack:"role_id"`
	Ban       string `msgpack:"ban"`
	Kick      string `msgpack:"kick"`
	Warn      string `msgpack:"warn"`
	UpdatedBy string `msgpack:"updated_by"`
	UpdatedAt int64  `msgpack:"updated_at"`
}

type redisLedger struct {
	GuildID        string `msgpack:"guild_id"`
	UserID         string `msgpack:"user_id"`
	Day            string `msgpack:"day"`
	GrantingRoleID string `msgpack:"role_id"`
	BanUsed        int    `msgpack:"ban"`
	KickUsed       int    `msgpack:"kick"`
	WarnUsed       int    `msgpack:"warn"`
	ExpiresAt      int64  `msgpack:"expires_at"`
}

type redisNote struct {
	GuildID     string `msgpack:"guild_id"`
	UserID      string `msgpack:"user_id"`
	Reason      string `msgpack:"reason"`
	ModeratorID string `msgpack:"moderator_id"`
	CreatedAt   int64  `msgpack:"created_at"`
}

func (s *RedisStore) GetGuildConfig(ctx context.Context, guildID string) (GuildConfig, error) {
	var cfg GuildConfig
	err := s.getValue(ctx, s.key("guild_config", guildID), &cfg)
	return cfg, err
}

func (s *RedisStore) InsertGuildConfigIfAbsent(ctx context.Context, cfg GuildConfig) (GuildConfig, bool, error) {
	data, err := msgpack.Marshal(cfg)
	if err != nil {
		return GuildConfig{}, false, err
	}
	inserted, err := s.client.SetNX(ctx, s.key("guild_config", cfg.GuildID), data, 0).Result()
	if err != nil {
		return GuildConfig{}, false, s.wrap(err)
	}
	if err := s.client.SAdd(ctx, s.key("guilds"), cfg.GuildID).Err(); err != nil {
		return GuildConfig{}, false, s.wrap(err)
	}
	if inserted {
		return cfg, true, nil
	}
	stored, err := s.GetGuildConfig(ctx, cfg.GuildID)
	return stored, false, err
}

func (s *RedisStore) UpsertGuildConfig(ctx context.Context, cfg GuildConfig) error {
	data, err := msgpack.Marshal(cfg)
	if err != nil {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key("guild_config", cfg.GuildID), data, 0)
		pipe.SAdd(ctx, s.key("guilds"), cfg.GuildID)
		return nil
	})
	return s.wrap(err)
}

func (s *RedisStore) ListGuildConfigs(ctx context.Context) ([]GuildConfig, error) {
	var ids []string
	err := s.retry.Do(ctx, func() error {
		var err error
		ids, err = s.client.SMembers(ctx, s.key("guilds")).Result()
		return s.wrap(err)
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)

	configs := make([]GuildConfig, 0, len(ids))
	for _, id := range ids {
		cfg, err := s.GetGuildConfig(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		configs = append(configs, cfg)
	}
	return configs, nil
}

func (s *RedisStore) CreateTicket(ctx context.Context, ticket TicketRecord, binding CloseButtonBinding) error {
	ticketKey := s.key("ticket", ticket.GuildID, ticket.UserID)
	data, err := msgpack.Marshal(redisTicket{
		GuildID:   ticket.GuildID,
		UserID:    ticket.UserID,
		ChannelID: ticket.ChannelID,
		CreatedAt: ticket.CreatedAt.Unix(),
	})
	if err != nil {
		return err
	}
	bindingData, err := msgpack.Marshal(binding)
	if err != nil {
		return err
	}

	return s.watch(ctx, func(tx *redis.Tx) error {
		exists, err := tx.Exists(ctx, ticketKey).Result()
		if err != nil {
			return err
		}
		if exists > 0 {
			return ErrTicketExists
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, ticketKey, data, 0)
			pipe.Set(ctx, s.key("ticket_channel", ticket.ChannelID), ticketKey, 0)
			pipe.Set(ctx, s.key("close_button", binding.MessageID), bindingData, 0)
			pipe.Set(ctx, s.key("close_button_channel", binding.ChannelID), binding.MessageID, 0)
			return nil
		})
		return err
	}, ticketKey)
}

func (s *RedisStore) GetTicket(ctx context.Context, guildID, userID string) (TicketRecord, error) {
	return s.getTicket(ctx, s.key("ticket", guildID, userID))
}

func (s *RedisStore) GetTicketByChannel(ctx context.Context, channelID string) (TicketRecord, error) {
	var ticketKey string
	err := s.retry.Do(ctx, func() error {
		var err error
		ticketKey, err = s.client.Get(ctx, s.key("ticket_channel", channelID)).Result()
		return s.wrap(err)
	})
	if err != nil {
		return TicketRecord{}, err
	}
	return s.getTicket(ctx, ticketKey)
}

func (s *RedisStore) getTicket(ctx context.Context, key string) (TicketRecord, error) {
	var rec redisTicket
	if err := s.getValue(ctx, key, &rec); err != nil {
		return TicketRecord{}, err
	}
	return rec.record(), nil
}

func (r redisTicket) record() TicketRecord {
	return TicketRecord{
		GuildID:   r.GuildID,
		UserID:    r.UserID,
		ChannelID: r.ChannelID,
		CreatedAt: time.Unix(r.CreatedAt, 0).UTC(),
	}
}

func (s *RedisStore) DeleteTicketByChannel(ctx context.Context, channelID string) (bool, error) {
	channelKey := s.key("ticket_channel", channelID)
	closeChannelKey := s.key("close_button_channel", channelID)
	var deleted bool

	err := s.watch(ctx, func(tx *redis.Tx) error {
		deleted = false
		keys := []string{channelKey, closeChannelKey}

		ticketKey, err := tx.Get(ctx, channelKey).Result()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			keys = append(keys, ticketKey)
			deleted = true
		}
		messageID, err := tx.Get(ctx, closeChannelKey).Result()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			keys = append(keys, s.key("close_button", messageID))
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, keys...)
			return nil
		})
		return err
	}, channelKey, closeChannelKey)
	return deleted, err
}

func (s *RedisStore) ListTickets(ctx context.Context) ([]TicketRecord, error) {
	keys, err := s.scan(ctx, s.key("ticket", "*"))
	if err != nil {
		return nil, err
	}
	tickets := make([]TicketRecord, 0, len(keys))
	for _, key := range keys {
		ticket, err := s.getTicket(ctx, key)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, ticket)
	}
	sort.Slice(tickets, func(i, j int) bool { return tickets[i].CreatedAt.Before(tickets[j].CreatedAt) })
	return tickets, nil
}

func (s *RedisStore) PutTicketButton(ctx context.Context, binding TicketButtonBinding) error {
	return s.setValue(ctx, s.key("ticket_button", binding.MessageID), binding, 0)
}

func (s *RedisStore) ListTicketButtons(ctx context.Context) ([]TicketButtonBinding, error) {
	keys, err := s.scan(ctx, s.key("ticket_button", "*"))
	if err != nil {
		return nil, err
	}
	bindings := make([]TicketButtonBinding, 0, len(keys))
	for _, key := range keys {
		var binding TicketButtonBinding
		err := s.getValue(ctx, key, &binding)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		bindings = append(bindings, binding)
	}
	return bindings, nil
}

func (s *RedisStore) DeleteTicketButton(ctx context.Context, messageID string) (bool, error) {
	n, err := s.client.Del(ctx, s.key("ticket_button", messageID)).Result()
	return n > 0, s.wrap(err)
}

func (s *RedisStore) ListCloseButtons(ctx context.Context) ([]CloseButtonBinding, error) {
	keys, err := s.scan(ctx, s.key("close_button", "*"))
	if err != nil {
		return nil, err
	}
	bindings := make([]CloseButtonBinding, 0, len(keys))
	for _, key := range keys {
		var binding CloseButtonBinding
		err := s.getValue(ctx, key, &binding)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		bindings = append(bindings, binding)
	}
	return bindings, nil
}

func (s *RedisStore) DeleteCloseButton(ctx context.Context, messageID string) (bool, error) {
	key := s.key("close_button", messageID)
	var binding CloseButtonBinding
	err := s.getValue(ctx, key, &binding)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.Del(ctx, s.key("close_button_channel", binding.ChannelID))
		return nil
	})
	return err == nil, s.wrap(err)
}

func (s *RedisStore) PutRoleGrant(ctx context.Context, grant RoleGrant) error {
	return s.setValue(ctx, s.key("role_config", grant.GuildID, grant.RoleID), redisGrant{
		GuildID:   grant.GuildID,
		RoleID:    grant.RoleID,
		Ban:       grant.Ban.String(),
		Kick:      grant.Kick.String(),
		Warn:      grant.Warn.String(),
		UpdatedBy: grant.UpdatedBy,
		UpdatedAt: grant.UpdatedAt.Unix(),
	}, 0)
}

func (s *RedisStore) GetRoleGrant(ctx context.Context, guildID, roleID string) (RoleGrant, error) {
	return s.getGrant(ctx, s.key("role_config", guildID, roleID))
}

func (s *RedisStore) getGrant(ctx context.Context, key string) (RoleGrant, error) {
	var rec redisGrant
	if err := s.getValue(ctx, key, &rec); err != nil {
		return RoleGrant{}, err
	}
	grant := RoleGrant{
		GuildID:   rec.GuildID,
		RoleID:    rec.RoleID,
		UpdatedBy: rec.UpdatedBy,
		UpdatedAt: time.Unix(rec.UpdatedAt, 0).UTC(),
	}
	var err error
	if grant.Ban, err = ParseLimit(rec.Ban); err != nil {
		return RoleGrant{}, err
	}
	if grant.Kick, err = ParseLimit(rec.Kick); err != nil {
		return RoleGrant{}, err
	}
	if grant.Warn, err = ParseLimit(rec.Warn); err != nil {
		return RoleGrant{}, err
	}
	return grant, nil
}

func (s *RedisStore) ListRoleGrants(ctx context.Context, guildID string) ([]RoleGrant, error) {
	keys, err := s.scan(ctx, s.key("role_config", guildID, "*"))
	if err != nil {
		return nil, err
	}
	grants := make([]RoleGrant, 0, len(keys))
	for _, key := range keys {
		grant, err := s.getGrant(ctx, key)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		grants = append(grants, grant)
	}
	sort.Slice(grants, func(i, j int) bool { return grants[i].RoleID < grants[j].RoleID })
	return grants, nil
}

func (s *RedisStore) GetLedgerEntry(ctx context.Context, guildID, userID, day string) (LedgerEntry, error) {
	var rec redisLedger
	if err := s.getValue(ctx, s.key("daily_credits", guildID, userID, day), &rec); err != nil {
		return LedgerEntry{}, err
	}
	return LedgerEntry{
		GuildID:        rec.GuildID,
		UserID:         rec.UserID,
		Day:            rec.Day,
		GrantingRoleID: rec.GrantingRoleID,
		BanUsed:        rec.BanUsed,
		KickUsed:       rec.KickUsed,
		WarnUsed:       rec.WarnUsed,
		ExpiresAt:      time.Unix(rec.ExpiresAt, 0).UTC(),
	}, nil
}

func (s *RedisStore) PutLedgerEntry(ctx context.Context, entry LedgerEntry) error {
	data, err := msgpack.Marshal(redisLedger{
		GuildID:        entry.GuildID,
		UserID:         entry.UserID,
		Day:            entry.Day,
		GrantingRoleID: entry.GrantingRoleID,
		BanUsed:        entry.BanUsed,
		KickUsed:       entry.KickUsed,
		WarnUsed:       entry.WarnUsed,
		ExpiresAt:      entry.ExpiresAt.Unix(),
	})
	if err != nil {
		return err
	}
	key := s.key("daily_credits", entry.GuildID, entry.UserID, entry.Day)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, key, data, 0)
		pipe.ExpireAt(ctx, key, entry.ExpiresAt)
		return nil
	})
	return s.wrap(err)
}

// PurgeLedger is a no-op: ledger keys carry their own expiry.
func (s *RedisStore) PurgeLedger(ctx context.Context, now time.Time) (int64, error) {
	return 0, nil
}

func (s *RedisStore) AppendWarning(ctx context.Context, warning WarningRecord, keep int) (int, error) {
	data, err := msgpack.Marshal(redisNote{
		GuildID:     warning.GuildID,
		UserID:      warning.UserID,
		Reason:      warning.Reason,
		ModeratorID: warning.ModeratorID,
		CreatedAt:   warning.CreatedAt.Unix(),
	})
	if err != nil {
		return 0, err
	}
	key := s.key("warnings", warning.GuildID, warning.UserID)
	var length *redis.IntCmd
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, key, data)
		if keep > 0 {
			pipe.LTrim(ctx, key, 0, int64(keep-1))
		}
		length = pipe.LLen(ctx, key)
		return nil
	})
	if err != nil {
		return 0, s.wrap(err)
	}
	return int(length.Val()), nil
}

func (s *RedisStore) CountWarnings(ctx context.Context, guildID, userID string) (int, error) {
	var count int64
	err := s.retry.Do(ctx, func() error {
		var err error
		count, err = s.client.LLen(ctx, s.key("warnings", guildID, userID)).Result()
		return s.wrap(err)
	})
	return int(count), err
}

func (s *RedisStore) PutBlacklist(ctx context.Context, entry BlacklistEntry) error {
	data, err := msgpack.Marshal(redisNote{
		GuildID:     entry.GuildID,
		UserID:      entry.UserID,
		Reason:      entry.Reason,
		ModeratorID: entry.ModeratorID,
		CreatedAt:   entry.CreatedAt.Unix(),
	})
	if err != nil {
		return err
	}
	return s.wrap(s.client.HSet(ctx, s.key("blacklist", entry.GuildID), entry.UserID, data).Err())
}

func (s *RedisStore) GetBlacklist(ctx context.Context, guildID, userID string) (BlacklistEntry, error) {
	var data []byte
	err := s.retry.Do(ctx, func() error {
		var err error
		data, err = s.client.HGet(ctx, s.key("blacklist", guildID), userID).Bytes()
		return s.wrap(err)
	})
	if err != nil {
		return BlacklistEntry{}, err
	}
	var rec redisNote
	if err := msgpack.Unmarshal(data, &rec); err != nil {
		return BlacklistEntry{}, err
	}
	return BlacklistEntry{
		GuildID:     rec.GuildID,
		UserID:      rec.UserID,
		Reason:      rec.Reason,
		ModeratorID: rec.ModeratorID,
		CreatedAt:   time.Unix(rec.CreatedAt, 0).UTC(),
	}, nil
}

func (s *RedisStore) AddOwnerRole(ctx context.Context, guildID, roleID string) error {
	return s.wrap(s.client.SAdd(ctx, s.key("owner_roles", guildID), roleID).Err())
}

func (s *RedisStore) RemoveOwnerRole(ctx context.Context, guildID, roleID string) error {
	return s.wrap(s.client.SRem(ctx, s.key("owner_roles", guildID), roleID).Err())
}

func (s *RedisStore) ListOwnerRoles(ctx context.Context, guildID string) ([]string, error) {
	var roles []string
	err := s.retry.Do(ctx, func() error {
		var err error
		roles, err = s.client.SMembers(ctx, s.key("owner_roles", guildID)).Result()
		return s.wrap(err)
	})
	sort.Strings(roles)
	return roles, err
}

func (s *RedisStore) GetStatusMessage(ctx context.Context, botID, channelID string) (StatusMessage, error) {
	var messageID string
	err := s.retry.Do(ctx, func() error {
		var err error
		messageID, err = s.client.Get(ctx, s.key("status_msg", botID, channelID)).Result()
		return s.wrap(err)
	})
	if err != nil {
		return StatusMessage{}, err
	}
	return StatusMessage{BotID: botID, ChannelID: channelID, MessageID: messageID}, nil
}

func (s *RedisStore) PutStatusMessage(ctx context.Context, msg StatusMessage) error {
	return s.wrap(s.client.Set(ctx, s.key("status_msg", msg.BotID, msg.ChannelID), msg.MessageID, 0).Err())
}

func (s *RedisStore) AddAuditLog(ctx context.Context, log AuditLog) error {
	data, err := msgpack.Marshal(log)
	if err != nil {
		return err
	}
	key := s.key("audit_logs", log.GuildID)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, key, data)
		pipe.LTrim(ctx, key, 0, auditHistory-1)
		return nil
	})
	return s.wrap(err)
}

func (s *RedisStore) key(parts ...string) string {
	return s.prefix + strings.Join(parts, ":")
}

func (s *RedisStore) getValue(ctx context.Context, key string, dst any) error {
	var data []byte
	err := s.retry.Do(ctx, func() error {
		var err error
		data, err = s.client.Get(ctx, key).Bytes()
		return s.wrap(err)
	})
	if err != nil {
		return err
	}
	return msgpack.Unmarshal(data, dst)
}

func (s *RedisStore) setValue(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := msgpack.Marshal(value)
	if err != nil {
		return err
	}
	return s.wrap(s.client.Set(ctx, key, data, ttl).Err())
}

func (s *RedisStore) scan(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	err := s.retry.Do(ctx, func() error {
		keys = nil
		iter := s.client.Scan(ctx, 0, pattern, 100).Iterator()
		for iter.Next(ctx) {
			keys = append(keys, iter.Val())
		}
		return s.wrap(iter.Err())
	})
	sort.Strings(keys)
	return keys, err
}

// watch runs fn as an optimistic transaction, retrying when a watched key
// changed underneath it.
func (s *RedisStore) watch(ctx context.Context, fn func(*redis.Tx) error, keys ...string) error {
	var err error
	for attempt := 0; attempt < redisTxAttempts; attempt++ {
		err = s.client.Watch(ctx, fn, keys...)
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
	}
	if errors.Is(err, ErrTicketExists) {
		return err
	}
	return s.wrap(err)
}

func (s *RedisStore) wrap(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, redis.Nil):
		return ErrNotFound
	case isTransientRedis(err):
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	default:
		return err
	}
}

func isTransientRedis(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, redis.ErrClosed) || errors.Is(err, redis.TxFailedErr) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
