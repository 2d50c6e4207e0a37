package bot

import (
	"strconv"
	"time"

	"guildkeeper/internal/moderation"
	"guildkeeper/internal/storage"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

func (b *Bot) respond(session *discordgo.Session, interaction *discordgo.InteractionCreate, content string, ephemeral bool) {
	flags := discordgo.MessageFlags(0)
	if ephemeral {
		flags = discordgo.MessageFlagsEphemeral
	}
	_ = session.InteractionRespond(interaction.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Flags:   flags,
		},
	})
}

func (b *Bot) respondEmbed(session *discordgo.Session, interaction *discordgo.InteractionCreate, embed *discordgo.MessageEmbed, ephemeral bool) {
	if embed == nil {
		b.respond(session, interaction, "No response available.", ephemeral)
		return
	}
	flags := discordgo.MessageFlags(0)
	if ephemeral {
		flags = discordgo.MessageFlagsEphemeral
	}
	if err := session.InteractionRespond(interaction.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Embeds: []*discordgo.MessageEmbed{embed},
			Flags:  flags,
		},
	}); err != nil {
		b.logger.Debug("interaction response failed", zap.String("interaction_id", interaction.ID), zap.Error(err))
	}
}

func (b *Bot) respondError(session *discordgo.Session, interaction *discordgo.InteractionCreate, message string) {
	b.respondEmbed(session, interaction, b.commandEmbed("Error", message, b.cfg.EmbedColors.Error, nil), true)
}

// deferResponse acknowledges an interaction whose answer follows through
// editEmbed.
func (b *Bot) deferResponse(session *discordgo.Session, interaction *discordgo.InteractionCreate) {
	_ = session.InteractionRespond(interaction.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Flags: discordgo.MessageFlagsEphemeral},
	})
}

func (b *Bot) editEmbed(session *discordgo.Session, interaction *discordgo.InteractionCreate, embed *discordgo.MessageEmbed) {
	embeds := []*discordgo.MessageEmbed{embed}
	if _, err := session.InteractionResponseEdit(interaction.Interaction, &discordgo.WebhookEdit{Embeds: &embeds}); err != nil {
		b.logger.Debug("interaction edit failed", zap.String("interaction_id", interaction.ID), zap.Error(err))
	}
}

func (b *Bot) commandEmbed(title, description string, color int, fields []*discordgo.MessageEmbedField) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       title,
		Description: description,
		Color:       color,
		Timestamp:   time.Now().Format(time.RFC3339),
		Fields:      fields,
	}
}

func (b *Bot) helpEmbed() *discordgo.MessageEmbed {
	fields := []*discordgo.MessageEmbedField{
		{Name: "/ticket", Value: "Open a private ticket with the staff."},
		{Name: "/close_ticket", Value: "Close the current ticket (staff only when a staff role is set)."},
		{Name: "/config", Value: "Post the ticket panel and set the welcome message, staff role, category and status channel."},
		{Name: "/ban /kick /warn", Value: "Moderate a member using your role's daily credits."},
		{Name: "/configrole", Value: "Set the daily ban, kick and warn credits of a role."},
		{Name: "/roleownerbot", Value: "Let a role use owner commands."},
		{Name: "/deflimwarn", Value: "Set how many warnings recommend a kick."},
	}
	return b.commandEmbed("Commands", "", b.cfg.EmbedColors.Action, fields)
}

func (b *Bot) moderationEmbed(actorID, targetID, reason string, duration time.Duration, result moderation.Result) *discordgo.MessageEmbed {
	if reason == "" {
		reason = "No reason given"
	}
	fields := []*discordgo.MessageEmbedField{
		{Name: "Reason", Value: reason, Inline: false},
		{Name: "Moderator", Value: "<@" + actorID + ">", Inline: true},
		{Name: "Credits left today", Value: result.Remaining.String(), Inline: true},
	}

	var title, desc string
	color := b.cfg.EmbedColors.Action
	switch result.Action {
	case storage.ActionBan:
		title = "Member blacklisted"
		desc = "<@" + targetID + "> was added to the blacklist."
		color = b.cfg.EmbedColors.Error
	case storage.ActionKick:
		title = "Member excluded"
		desc = "<@" + targetID + "> was temporarily excluded."
		color = b.cfg.EmbedColors.Warning
		if duration > 0 {
			fields = append(fields, &discordgo.MessageEmbedField{Name: "Duration", Value: duration.String(), Inline: true})
		}
	case storage.ActionWarn:
		title = "Member warned"
		desc = "<@" + targetID + "> received a warning."
		color = b.cfg.EmbedColors.Warning
		fields = append(fields, &discordgo.MessageEmbedField{
			Name:   "Warnings",
			Value:  strconv.Itoa(result.WarningCount) + "/" + strconv.Itoa(result.WarnLimit),
			Inline: true,
		})
		if result.KickRecommended {
			desc += "\nThe warning limit is reached, a kick is recommended."
		}
	}
	return b.commandEmbed(title, desc, color, fields)
}

func describeLimit(limit storage.Limit) string {
	switch limit.Kind {
	case storage.LimitUnlimited:
		return "unlimited"
	case storage.LimitCapped:
		return strconv.Itoa(limit.Cap) + " per day"
	default:
		return "disabled"
	}
}

func mentionRole(roleID string) string {
	if roleID == "" {
		return "not set"
	}
	return "<@&" + roleID + ">"
}

func mentionChannel(channelID string) string {
	if channelID == "" {
		return "not set"
	}
	return "<#" + channelID + ">"
}
