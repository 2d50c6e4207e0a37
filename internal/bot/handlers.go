package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"guildkeeper/internal/credits"
	"guildkeeper/internal/moderation"
	"guildkeeper/internal/modules/audit"
	"guildkeeper/internal/platform"
	"guildkeeper/internal/storage"
	"guildkeeper/internal/tickets"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

func (b *Bot) onInteractionCreate(session *discordgo.Session, interaction *discordgo.InteractionCreate) {
	ctx := b.context()
	switch interaction.Type {
	case discordgo.InteractionApplicationCommand:
		b.handleCommand(ctx, session, interaction)
	case discordgo.InteractionMessageComponent:
		switch interaction.MessageComponentData().CustomID {
		case platform.OpenTicketID:
			b.handleOpenTicket(ctx, session, interaction)
		case platform.CloseTicketID:
			b.handleCloseTicket(ctx, session, interaction)
		}
	}
}

func (b *Bot) handleCommand(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate) {
	data := interaction.ApplicationCommandData()
	if data.Name == "help" {
		b.respondEmbed(session, interaction, b.helpEmbed(), true)
		return
	}
	if interaction.GuildID == "" || interaction.Member == nil {
		b.respondError(session, interaction, "This command only works inside a server.")
		return
	}

	options := optionMap(data.Options)
	switch data.Name {
	case "ticket":
		b.handleOpenTicket(ctx, session, interaction)
	case "close_ticket":
		b.handleCloseTicket(ctx, session, interaction)
	case "config":
		b.handleConfig(ctx, session, interaction, options)
	case "ban", "kick", "warn":
		b.handleModeration(ctx, session, interaction, storage.Action(data.Name), options)
	case "configrole":
		b.handleConfigRole(ctx, session, interaction, options)
	case "roleownerbot":
		b.handleOwnerRole(ctx, session, interaction, options)
	case "deflimwarn":
		b.handleWarnLimit(ctx, session, interaction, options)
	}
}

func (b *Bot) handleOpenTicket(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate) {
	if interaction.GuildID == "" || interaction.Member == nil || interaction.Member.User == nil {
		b.respondError(session, interaction, "Tickets can only be opened inside a server.")
		return
	}
	// Channel creation can outlast the interaction deadline.
	b.deferResponse(session, interaction)

	user := interaction.Member.User
	record, err := b.tickets.Open(ctx, tickets.OpenRequest{
		GuildID:  interaction.GuildID,
		UserID:   user.ID,
		UserName: user.Username,
	})
	if err != nil {
		b.logFailure("ticket open failed", interaction, err)
		b.editEmbed(session, interaction, b.commandEmbed("Ticket", userMessage(err), b.cfg.EmbedColors.Error, nil))
		return
	}
	b.editEmbed(session, interaction, b.commandEmbed("Ticket opened", "Your ticket is ready: <#"+record.ChannelID+">", b.cfg.EmbedColors.Action, nil))
}

func (b *Bot) handleCloseTicket(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate) {
	if interaction.GuildID == "" || interaction.Member == nil || interaction.Member.User == nil {
		b.respondError(session, interaction, "Tickets can only be closed inside a server.")
		return
	}

	acknowledged := false
	delay := b.tickets.CloseDelay()
	err := b.tickets.Close(ctx, tickets.CloseRequest{
		GuildID:    interaction.GuildID,
		ChannelID:  interaction.ChannelID,
		ActorID:    interaction.Member.User.ID,
		ActorRoles: interaction.Member.Roles,
		Acknowledge: func() {
			acknowledged = true
			desc := "This ticket will be deleted in " + delay.String() + "."
			b.respondEmbed(session, interaction, b.commandEmbed("Closing ticket", desc, b.cfg.EmbedColors.Warning, nil), false)
		},
	})
	if err == nil {
		if !acknowledged {
			b.respondEmbed(session, interaction, b.commandEmbed("Ticket", "This ticket is already closed.", b.cfg.EmbedColors.Action, nil), true)
		}
		return
	}
	b.logFailure("ticket close failed", interaction, err)
	if !acknowledged {
		b.respondError(session, interaction, userMessage(err))
	}
}

func (b *Bot) handleConfig(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, options map[string]*discordgo.ApplicationCommandInteractionDataOption) {
	if !b.requireOwner(ctx, session, interaction) {
		return
	}
	guildID := interaction.GuildID
	cfg, err := b.shared.Guilds.Get(ctx, guildID)
	if err != nil {
		b.logFailure("config load failed", interaction, err)
		b.respondError(session, interaction, userMessage(err))
		return
	}

	if opt, ok := options["message"]; ok {
		cfg.TicketMessage = opt.StringValue()
	}
	if opt, ok := options["category"]; ok {
		cfg.CategoryName = opt.StringValue()
	}
	if opt, ok := options["staff_role"]; ok {
		cfg.StaffRoleID = optionID(opt)
	}
	if opt, ok := options["status_channel"]; ok {
		cfg.StatusChannelID = optionID(opt)
	}
	if err := b.shared.Guilds.Update(ctx, cfg); err != nil {
		b.logFailure("config update failed", interaction, err)
		b.respondError(session, interaction, userMessage(err))
		return
	}
	b.shared.Audit.Log(ctx, audit.LevelInfo, guildID, interaction.Member.User.ID, audit.EventGuildConfig, "config updated")

	fields := []*discordgo.MessageEmbedField{
		{Name: "Category", Value: cfg.CategoryName, Inline: true},
		{Name: "Staff role", Value: mentionRole(cfg.StaffRoleID), Inline: true},
		{Name: "Status channel", Value: mentionChannel(cfg.StatusChannelID), Inline: true},
	}
	if opt, ok := options["channel"]; ok {
		channelID := optionID(opt)
		if _, err := b.tickets.PostPanel(ctx, guildID, channelID); err != nil {
			b.logFailure("ticket panel failed", interaction, err)
			b.respondError(session, interaction, "Configuration saved, but the ticket panel could not be posted: "+userMessage(err))
			return
		}
		fields = append(fields, &discordgo.MessageEmbedField{Name: "Panel", Value: mentionChannel(channelID), Inline: true})
	}
	b.respondEmbed(session, interaction, b.commandEmbed("Configuration", "Ticket settings updated.", b.cfg.EmbedColors.Action, fields), true)
}

func (b *Bot) handleModeration(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, action storage.Action, options map[string]*discordgo.ApplicationCommandInteractionDataOption) {
	target := optionID(options["user"])
	reason := ""
	if opt, ok := options["reason"]; ok {
		reason = opt.StringValue()
	}
	var duration time.Duration
	if opt, ok := options["duration"]; ok {
		parsed, err := parseDuration(opt.StringValue())
		if err != nil {
			b.respondError(session, interaction, "Invalid duration. Use forms like 30m, 2h or 1d.")
			return
		}
		duration = parsed
	}

	result, err := b.moderation.Perform(ctx, moderation.Request{
		GuildID:   interaction.GuildID,
		GuildName: b.guildName(interaction.GuildID),
		Actor:     b.actor(interaction.GuildID, interaction.Member),
		TargetID:  target,
		Action:    action,
		Reason:    reason,
		Duration:  duration,
	})
	if err != nil {
		b.logFailure("moderation failed", interaction, err)
		b.respondError(session, interaction, userMessage(err))
		return
	}
	b.respondEmbed(session, interaction, b.moderationEmbed(interaction.Member.User.ID, target, reason, duration, result), false)
}

func (b *Bot) handleConfigRole(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, options map[string]*discordgo.ApplicationCommandInteractionDataOption) {
	if !b.requireOwner(ctx, session, interaction) {
		return
	}
	limits, err := parseLimits(options)
	if err != nil {
		b.respondError(session, interaction, "Invalid limit. Use a number, unlimited or disabled.")
		return
	}
	grant, err := b.moderation.ConfigureRole(ctx, interaction.GuildID, optionID(options["role"]), interaction.Member.User.ID, limits[storage.ActionBan], limits[storage.ActionKick], limits[storage.ActionWarn])
	if err != nil {
		b.logFailure("role config failed", interaction, err)
		b.respondError(session, interaction, userMessage(err))
		return
	}
	fields := []*discordgo.MessageEmbedField{
		{Name: "Role", Value: mentionRole(grant.RoleID), Inline: false},
		{Name: "Ban", Value: describeLimit(grant.Ban), Inline: true},
		{Name: "Kick", Value: describeLimit(grant.Kick), Inline: true},
		{Name: "Warn", Value: describeLimit(grant.Warn), Inline: true},
	}
	b.respondEmbed(session, interaction, b.commandEmbed("Role configured", "Daily moderation credits updated.", b.cfg.EmbedColors.Action, fields), true)
}

func (b *Bot) handleOwnerRole(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, options map[string]*discordgo.ApplicationCommandInteractionDataOption) {
	if !b.requireOwner(ctx, session, interaction) {
		return
	}
	roleID := optionID(options["role"])
	enabled := true
	if opt, ok := options["enabled"]; ok {
		enabled = opt.BoolValue()
	}
	if err := b.moderation.SetOwnerRole(ctx, interaction.GuildID, roleID, interaction.Member.User.ID, enabled); err != nil {
		b.logFailure("owner role update failed", interaction, err)
		b.respondError(session, interaction, userMessage(err))
		return
	}
	desc := mentionRole(roleID) + " can now use owner commands."
	if !enabled {
		desc = mentionRole(roleID) + " can no longer use owner commands."
	}
	b.respondEmbed(session, interaction, b.commandEmbed("Owner roles", desc, b.cfg.EmbedColors.Action, nil), true)
}

func (b *Bot) handleWarnLimit(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, options map[string]*discordgo.ApplicationCommandInteractionDataOption) {
	if !b.requireOwner(ctx, session, interaction) {
		return
	}
	limit := 0
	if opt, ok := options["limit"]; ok {
		limit = int(opt.IntValue())
	}
	if err := b.moderation.SetWarnLimit(ctx, interaction.GuildID, interaction.Member.User.ID, limit); err != nil {
		b.logFailure("warn limit update failed", interaction, err)
		b.respondError(session, interaction, userMessage(err))
		return
	}
	b.respondEmbed(session, interaction, b.commandEmbed("Warning limit", "Kick is recommended after "+strconv.Itoa(limit)+" warnings.", b.cfg.EmbedColors.Action, nil), true)
}

// requireOwner answers the interaction itself when the actor is refused.
func (b *Bot) requireOwner(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate) bool {
	allowed, err := b.resolver.CanUseOwnerCommands(ctx, interaction.GuildID, b.actor(interaction.GuildID, interaction.Member))
	if err != nil {
		b.logFailure("owner check failed", interaction, err)
		b.respondError(session, interaction, userMessage(err))
		return false
	}
	if !allowed {
		b.respondError(session, interaction, "You are not allowed to use this command.")
		return false
	}
	return true
}

func (b *Bot) logFailure(msg string, interaction *discordgo.InteractionCreate, err error) {
	fields := []zap.Field{
		zap.String("guild_id", interaction.GuildID),
		zap.String("channel_id", interaction.ChannelID),
		zap.Error(err),
	}
	if expectedRefusal(err) {
		b.logger.Debug(msg, fields...)
		return
	}
	b.logger.Warn(msg, fields...)
}

// expectedRefusal reports errors that are ordinary answers to the user
// rather than failures.
func expectedRefusal(err error) bool {
	return errors.Is(err, tickets.ErrAlreadyOpen) ||
		errors.Is(err, tickets.ErrNotAuthorized) ||
		errors.Is(err, tickets.ErrNotTicket) ||
		errors.Is(err, credits.ErrPermissionDenied) ||
		errors.Is(err, credits.ErrCreditExhausted) ||
		errors.Is(err, moderation.ErrNoRoleConfigured) ||
		errors.Is(err, moderation.ErrNotPermitted) ||
		errors.Is(err, moderation.ErrInvalidWarnLimit) ||
		errors.Is(err, moderation.ErrSelfTarget)
}

// userMessage maps an error to the text shown to the invoking member.
func userMessage(err error) string {
	var open *tickets.AlreadyOpenError
	var exhausted *credits.ExhaustedError
	switch {
	case errors.As(err, &open):
		return "You already have an open ticket: <#" + open.ChannelID + ">"
	case errors.Is(err, tickets.ErrNotAuthorized):
		return "Only staff can close tickets."
	case errors.Is(err, tickets.ErrNotTicket):
		return "This channel is not a ticket."
	case errors.As(err, &exhausted):
		return fmt.Sprintf("You reached your daily %s limit (%d).", strings.ToUpper(string(exhausted.Action)), exhausted.Cap)
	case errors.Is(err, credits.ErrPermissionDenied), errors.Is(err, moderation.ErrNotPermitted):
		return "Your roles do not allow this action."
	case errors.Is(err, moderation.ErrNoRoleConfigured):
		return "You have no role configured for moderation."
	case errors.Is(err, moderation.ErrInvalidWarnLimit):
		return fmt.Sprintf("The limit must be between %d and %d warnings.", storage.MinWarnLimit, storage.MaxWarnLimit)
	case errors.Is(err, moderation.ErrSelfTarget):
		return "You cannot target yourself."
	case errors.Is(err, storage.ErrUnavailable):
		return "Storage is temporarily unavailable, please retry in a moment."
	case errors.Is(err, platform.ErrForbidden):
		return "I am missing permissions to do that."
	default:
		return "Something went wrong, please try again."
	}
}

func optionMap(options []*discordgo.ApplicationCommandInteractionDataOption) map[string]*discordgo.ApplicationCommandInteractionDataOption {
	out := make(map[string]*discordgo.ApplicationCommandInteractionDataOption, len(options))
	for _, opt := range options {
		out[opt.Name] = opt
	}
	return out
}

// optionID reads a user, role or channel option as its snowflake without
// touching the session.
func optionID(opt *discordgo.ApplicationCommandInteractionDataOption) string {
	if opt == nil {
		return ""
	}
	if id, ok := opt.Value.(string); ok {
		return id
	}
	return ""
}

func parseLimits(options map[string]*discordgo.ApplicationCommandInteractionDataOption) (map[storage.Action]storage.Limit, error) {
	limits := make(map[storage.Action]storage.Limit, 3)
	for _, action := range []storage.Action{storage.ActionBan, storage.ActionKick, storage.ActionWarn} {
		raw := ""
		if opt, ok := options[string(action)]; ok {
			raw = opt.StringValue()
		}
		limit, err := storage.ParseLimit(raw)
		if err != nil {
			return nil, fmt.Errorf("%s limit: %w", action, err)
		}
		limits[action] = limit
	}
	return limits, nil
}

// parseDuration accepts Go durations plus a day suffix.
func parseDuration(value string) (time.Duration, error) {
	value = strings.TrimSpace(strings.ToLower(value))
	if value == "" {
		return 0, nil
	}
	if days, ok := strings.CutSuffix(value, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil || n <= 0 {
			return 0, fmt.Errorf("invalid duration %q", value)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid duration %q", value)
	}
	return d, nil
}
