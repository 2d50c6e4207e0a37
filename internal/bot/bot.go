package bot

import (
	"context"
	"errors"
	"sync"

	"guildkeeper/internal/config"
	"guildkeeper/internal/credits"
	"guildkeeper/internal/guilds"
	"guildkeeper/internal/moderation"
	"guildkeeper/internal/modules/audit"
	"guildkeeper/internal/permissions"
	"guildkeeper/internal/platform"
	"guildkeeper/internal/status"
	"guildkeeper/internal/storage"
	"guildkeeper/internal/tickets"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

// Shared holds the state every tenant bot uses.
type Shared struct {
	Store  storage.Store
	Guilds *guilds.Service
	Ledger *credits.Ledger
	Audit  *audit.Logger
}

// Bot is one tenant identity on its own gateway session.
type Bot struct {
	cfg        config.Config
	tenant     config.TenantConfig
	logger     *zap.Logger
	shared     Shared
	session    *discordgo.Session
	gateway    *platform.Discord
	resolver   *permissions.Resolver
	tickets    *tickets.Manager
	moderation *moderation.Dispatcher
	heartbeat  *status.Heartbeat

	onReadyHook func()

	ctxMu sync.RWMutex
	ctx   context.Context
}

func New(cfg config.Config, tenant config.TenantConfig, shared Shared, logger *zap.Logger) (*Bot, error) {
	if tenant.Token == "" {
		return nil, errors.New("bot: tenant token is empty")
	}
	session, err := discordgo.New("Bot " + tenant.Token)
	if err != nil {
		return nil, err
	}

	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsGuildMessages

	logger = logger.With(zap.String("tenant", tenant.Name))
	gateway := platform.NewDiscord(session)
	resolver := permissions.NewResolver(shared.Store, shared.Store, tenant.OwnerID)

	b := &Bot{
		cfg:      cfg,
		tenant:   tenant,
		logger:   logger,
		shared:   shared,
		session:  session,
		gateway:  gateway,
		resolver: resolver,
		ctx:      context.Background(),
	}
	b.tickets = tickets.NewManager(shared.Store, shared.Guilds, gateway, shared.Audit, logger, tickets.Options{
		CloseDelay: cfg.CloseDelay(),
		OwnerID:    tenant.OwnerID,
	})
	b.moderation = moderation.NewDispatcher(shared.Store, resolver, shared.Ledger, shared.Guilds, gateway, shared.Audit, logger)
	if cfg.Status.Enabled {
		b.heartbeat = status.New(gateway, shared.Guilds, shared.Store, logger, cfg.StatusInterval())
	}
	return b, nil
}

func (b *Bot) Name() string {
	return b.tenant.Name
}

// Gateway exposes the session to reconciliation.
func (b *Bot) Gateway() *platform.Discord {
	return b.gateway
}

// OnReady registers a callback run after each ready event.
func (b *Bot) OnReady(fn func()) {
	b.onReadyHook = fn
}

func (b *Bot) Start() error {
	b.session.AddHandler(b.onReady)
	b.session.AddHandler(b.onInteractionCreate)

	if err := b.session.Open(); err != nil {
		return err
	}

	if err := b.registerCommands(); err != nil {
		return err
	}
	return nil
}

// Run opens the session and blocks until ctx is done. Interaction handlers
// inherit ctx, so pending ticket closes are abandoned on shutdown.
func (b *Bot) Run(ctx context.Context) error {
	b.ctxMu.Lock()
	b.ctx = ctx
	b.ctxMu.Unlock()

	if err := b.Start(); err != nil {
		b.Close(ctx)
		return err
	}
	defer b.Close(ctx)

	if b.heartbeat != nil {
		return b.heartbeat.Run(ctx)
	}
	<-ctx.Done()
	return nil
}

func (b *Bot) Close(ctx context.Context) {
	_ = ctx
	if b.session != nil {
		_ = b.session.Close()
	}
}

func (b *Bot) context() context.Context {
	b.ctxMu.RLock()
	defer b.ctxMu.RUnlock()
	return b.ctx
}

func (b *Bot) onReady(session *discordgo.Session, event *discordgo.Ready) {
	b.logger.Info("discord ready",
		zap.String("user", event.User.Username),
		zap.Int("guilds", len(event.Guilds)),
	)
	if b.onReadyHook != nil {
		go b.onReadyHook()
	}
}

// actor builds the permission view of an interaction member.
func (b *Bot) actor(guildID string, member *discordgo.Member) permissions.Actor {
	return actorFromMember(guildID, member, b.guildRoles(guildID))
}

func (b *Bot) guildRoles(guildID string) []*discordgo.Role {
	if b.session.State != nil {
		if guild, err := b.session.State.Guild(guildID); err == nil && guild != nil && len(guild.Roles) > 0 {
			return guild.Roles
		}
	}
	roles, err := b.session.GuildRoles(guildID)
	if err != nil {
		b.logger.Debug("guild roles lookup failed", zap.String("guild_id", guildID), zap.Error(err))
		return nil
	}
	return roles
}

func (b *Bot) guildName(guildID string) string {
	if b.session.State != nil {
		if guild, err := b.session.State.Guild(guildID); err == nil && guild != nil {
			return guild.Name
		}
	}
	return ""
}

// actorFromMember resolves role positions and the Administrator bit the
// way Discord computes them: base role permissions plus every member role.
func actorFromMember(guildID string, member *discordgo.Member, roles []*discordgo.Role) permissions.Actor {
	if member == nil {
		return permissions.Actor{}
	}
	actor := permissions.Actor{}
	if member.User != nil {
		actor.UserID = member.User.ID
	}

	roleMap := make(map[string]*discordgo.Role, len(roles))
	perms := member.Permissions
	for _, role := range roles {
		roleMap[role.ID] = role
		if role.ID == guildID {
			perms |= role.Permissions
		}
	}
	for _, roleID := range member.Roles {
		role := roleMap[roleID]
		if role == nil {
			actor.Roles = append(actor.Roles, permissions.Role{ID: roleID})
			continue
		}
		perms |= role.Permissions
		actor.Roles = append(actor.Roles, permissions.Role{ID: roleID, Position: role.Position})
	}
	actor.Administrator = perms&discordgo.PermissionAdministrator != 0
	return actor
}
