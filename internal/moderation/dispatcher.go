package moderation

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"guildkeeper/internal/credits"
	"guildkeeper/internal/guilds"
	"guildkeeper/internal/modules/audit"
	"guildkeeper/internal/permissions"
	"guildkeeper/internal/platform"
	"guildkeeper/internal/storage"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

var (
	ErrNoRoleConfigured = errors.New("moderation: actor holds no roles")
	ErrNotPermitted     = errors.New("moderation: action not permitted")
	ErrInvalidWarnLimit = fmt.Errorf("moderation: warn limit must be between %d and %d", storage.MinWarnLimit, storage.MaxWarnLimit)
	ErrSelfTarget       = errors.New("moderation: cannot target yourself")
)

// Store is the persistence the dispatcher writes to.
type Store interface {
	storage.BlacklistStore
	storage.WarningStore
	storage.GrantStore
	storage.OwnerRoleStore
}

type Request struct {
	GuildID   string
	GuildName string
	Actor     permissions.Actor
	TargetID  string
	Action    storage.Action
	Reason    string
	Duration  time.Duration
}

type Result struct {
	Action          storage.Action
	GrantingRoleID  string
	Remaining       credits.Remaining
	WarningCount    int
	WarnLimit       int
	KickRecommended bool
}

type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

type Dispatcher struct {
	store    Store
	resolver *permissions.Resolver
	ledger   *credits.Ledger
	guilds   *guilds.Service
	notifier platform.Gateway
	audit    *audit.Logger
	logger   *zap.Logger
	clock    Clock
}

// NewDispatcher builds a dispatcher. notifier may be nil, in which case
// targets are not messaged.
func NewDispatcher(store Store, resolver *permissions.Resolver, ledger *credits.Ledger, guildService *guilds.Service, notifier platform.Gateway, auditLogger *audit.Logger, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		store:    store,
		resolver: resolver,
		ledger:   ledger,
		guilds:   guildService,
		notifier: notifier,
		audit:    auditLogger,
		logger:   logger,
		clock:    realClock{},
	}
}

func (d *Dispatcher) WithClock(clock Clock) {
	d.clock = clock
}

func (d *Dispatcher) Perform(ctx context.Context, req Request) (Result, error) {
	if req.TargetID == "" {
		return Result{}, errors.New("moderation: target required")
	}
	if req.TargetID == req.Actor.UserID {
		return Result{}, ErrSelfTarget
	}
	if len(permissions.OrderRoles(req.GuildID, req.Actor.Roles)) == 0 {
		return Result{}, ErrNoRoleConfigured
	}
	grant, err := d.resolver.ResolveGrant(ctx, req.GuildID, req.Actor.Roles)
	if err != nil {
		return Result{}, err
	}
	if grant == nil || !grant.Limit(req.Action).Allowed() {
		return Result{}, ErrNotPermitted
	}

	cfg, err := d.guilds.Get(ctx, req.GuildID)
	if err != nil {
		return Result{}, err
	}

	remaining, err := d.ledger.CheckAndConsume(ctx, req.Actor.UserID, req.GuildID, req.Action, *grant)
	if err != nil {
		return Result{}, err
	}

	result := Result{
		Action:         req.Action,
		GrantingRoleID: grant.RoleID,
		Remaining:      remaining,
		WarnLimit:      cfg.WarnLimit,
	}
	now := d.clock.Now().UTC()

	switch req.Action {
	case storage.ActionBan:
		err = d.store.PutBlacklist(ctx, storage.BlacklistEntry{
			GuildID:     req.GuildID,
			UserID:      req.TargetID,
			Reason:      req.Reason,
			ModeratorID: req.Actor.UserID,
			CreatedAt:   now,
		})
	case storage.ActionWarn:
		result.WarningCount, err = d.store.AppendWarning(ctx, storage.WarningRecord{
			GuildID:     req.GuildID,
			UserID:      req.TargetID,
			Reason:      req.Reason,
			ModeratorID: req.Actor.UserID,
			CreatedAt:   now,
		}, storage.WarningHistory)
		result.KickRecommended = err == nil && result.WarningCount >= cfg.WarnLimit
	}
	if err != nil {
		if refundErr := d.ledger.Refund(ctx, req.Actor.UserID, req.GuildID, req.Action, *grant); refundErr != nil {
			err = multierr.Append(err, fmt.Errorf("refund credit: %w", refundErr))
		}
		return Result{}, fmt.Errorf("record %s: %w", req.Action, err)
	}

	if req.Action == storage.ActionKick || req.Action == storage.ActionWarn {
		d.notifyTarget(ctx, req, result)
	}
	d.audit.Log(ctx, audit.LevelInfo, req.GuildID, req.Actor.UserID, auditEvent(req.Action), auditDetails(req, result))
	return result, nil
}

func auditEvent(action storage.Action) string {
	switch action {
	case storage.ActionBan:
		return audit.EventBan
	case storage.ActionKick:
		return audit.EventKick
	case storage.ActionWarn:
		return audit.EventWarn
	}
	return string(action)
}

// notifyTarget messages the target. Failures are logged only.
func (d *Dispatcher) notifyTarget(ctx context.Context, req Request, result Result) {
	if d.notifier == nil {
		return
	}
	guildName := req.GuildName
	if guildName == "" {
		guildName = req.GuildID
	}
	reason := req.Reason
	if reason == "" {
		reason = "No reason given"
	}

	notice := platform.Notice{
		Fields: []platform.Field{
			{Name: "Server", Value: guildName},
			{Name: "Moderator", Value: "<@" + req.Actor.UserID + ">"},
			{Name: "Reason", Value: reason},
		},
	}
	switch req.Action {
	case storage.ActionKick:
		notice.Title = "You were kicked"
		notice.Body = "You have been kicked from " + guildName + "."
	case storage.ActionWarn:
		notice.Title = "You received a warning"
		notice.Body = "You have been warned in " + guildName + "."
		notice.Fields = append(notice.Fields, platform.Field{
			Name:  "Warnings",
			Value: strconv.Itoa(result.WarningCount) + "/" + strconv.Itoa(result.WarnLimit),
		})
	}
	if req.Duration > 0 {
		notice.Fields = append(notice.Fields, platform.Field{Name: "Duration", Value: req.Duration.String()})
	}

	if err := d.notifier.SendDirect(ctx, req.TargetID, notice); err != nil {
		d.logger.Debug("target notification failed",
			zap.String("guild_id", req.GuildID),
			zap.String("user_id", req.TargetID),
			zap.String("action", string(req.Action)),
			zap.Error(err),
		)
	}
}

func (d *Dispatcher) SetWarnLimit(ctx context.Context, guildID, actorID string, limit int) error {
	if limit < storage.MinWarnLimit || limit > storage.MaxWarnLimit {
		return ErrInvalidWarnLimit
	}
	cfg, err := d.guilds.Get(ctx, guildID)
	if err != nil {
		return err
	}
	cfg.WarnLimit = limit
	if err := d.guilds.Update(ctx, cfg); err != nil {
		return err
	}
	d.audit.Log(ctx, audit.LevelInfo, guildID, actorID, audit.EventWarnLimit, "limit="+strconv.Itoa(limit))
	return nil
}

func (d *Dispatcher) ConfigureRole(ctx context.Context, guildID, roleID, actorID string, ban, kick, warn storage.Limit) (storage.RoleGrant, error) {
	if roleID == "" || roleID == guildID {
		return storage.RoleGrant{}, errors.New("moderation: a specific role is required")
	}
	grant := storage.RoleGrant{
		GuildID:   guildID,
		RoleID:    roleID,
		Ban:       ban,
		Kick:      kick,
		Warn:      warn,
		UpdatedBy: actorID,
		UpdatedAt: d.clock.Now().UTC(),
	}
	if err := d.store.PutRoleGrant(ctx, grant); err != nil {
		return storage.RoleGrant{}, fmt.Errorf("save role grant: %w", err)
	}
	d.audit.Log(ctx, audit.LevelInfo, guildID, actorID, audit.EventRoleConfig,
		fmt.Sprintf("role=%s ban=%s kick=%s warn=%s", roleID, ban, kick, warn))
	return grant, nil
}

// SetOwnerRole adds or removes a role allowed to run owner commands.
func (d *Dispatcher) SetOwnerRole(ctx context.Context, guildID, roleID, actorID string, enabled bool) error {
	var err error
	if enabled {
		err = d.store.AddOwnerRole(ctx, guildID, roleID)
	} else {
		err = d.store.RemoveOwnerRole(ctx, guildID, roleID)
	}
	if err != nil {
		return fmt.Errorf("update owner role: %w", err)
	}
	d.audit.Log(ctx, audit.LevelInfo, guildID, actorID, audit.EventOwnerRole,
		fmt.Sprintf("role=%s enabled=%t", roleID, enabled))
	return nil
}

func auditDetails(req Request, result Result) string {
	details := fmt.Sprintf("target=%s role=%s remaining=%s", req.TargetID, result.GrantingRoleID, result.Remaining)
	if req.Reason != "" {
		details += " reason=" + strconv.Quote(req.Reason)
	}
	if req.Duration > 0 {
		details += " duration=" + req.Duration.String()
	}
	if req.Action == storage.ActionWarn {
		details += fmt.Sprintf(" warnings=%d/%d", result.WarningCount, result.WarnLimit)
	}
	return details
}
