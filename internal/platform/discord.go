package platform

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"
)

const (
	noticeColor = 0xE67E22

	ticketMemberAllow = discordgo.PermissionViewChannel |
		discordgo.PermissionSendMessages |
		discordgo.PermissionAttachFiles |
		discordgo.PermissionReadMessageHistory
	ticketStaffAllow = ticketMemberAllow | discordgo.PermissionManageMessages
	ticketBotAllow   = ticketStaffAllow | discordgo.PermissionManageChannels
)

// Discord adapts a discordgo session. discordgo has no context support, so
// ctx is accepted for the interface and otherwise ignored.
type Discord struct {
	session *discordgo.Session
}

var _ Gateway = (*Discord)(nil)

func NewDiscord(session *discordgo.Session) *Discord {
	return &Discord{session: session}
}

func (d *Discord) CurrentUserID() string {
	if d.session.State == nil || d.session.State.User == nil {
		return ""
	}
	return d.session.State.User.ID
}

// Connected reports whether the gateway has received its ready payload.
func (d *Discord) Connected() bool {
	return d.session.DataReady
}

func (d *Discord) HasGuild(ctx context.Context, guildID string) (bool, error) {
	_ = ctx
	if d.session.State != nil {
		if guild, err := d.session.State.Guild(guildID); err == nil && guild != nil {
			return true, nil
		}
	}
	_, err := d.session.Guild(guildID)
	if err == nil {
		return true, nil
	}
	err = translate(err)
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrForbidden) {
		return false, nil
	}
	return false, err
}

func (d *Discord) Channel(ctx context.Context, channelID string) (Channel, error) {
	_ = ctx
	channel, err := d.session.Channel(channelID)
	if err != nil {
		return Channel{}, translate(err)
	}
	return fromDiscordChannel(channel), nil
}

func (d *Discord) GuildChannels(ctx context.Context, guildID string) ([]Channel, error) {
	_ = ctx
	channels, err := d.session.GuildChannels(guildID)
	if err != nil {
		return nil, translate(err)
	}
	out := make([]Channel, 0, len(channels))
	for _, channel := range channels {
		if channel == nil {
			continue
		}
		out = append(out, fromDiscordChannel(channel))
	}
	return out, nil
}

func (d *Discord) CreateCategory(ctx context.Context, guildID, name string) (Channel, error) {
	_ = ctx
	channel, err := d.session.GuildChannelCreate(guildID, name, discordgo.ChannelTypeGuildCategory)
	if err != nil {
		return Channel{}, translate(err)
	}
	return fromDiscordChannel(channel), nil
}

func (d *Discord) CreateTicketChannel(ctx context.Context, spec TicketChannelSpec) (Channel, error) {
	_ = ctx
	overwrites := []*discordgo.PermissionOverwrite{
		{ID: spec.GuildID, Type: discordgo.PermissionOverwriteTypeRole, Deny: discordgo.PermissionViewChannel},
		{ID: spec.UserID, Type: discordgo.PermissionOverwriteTypeMember, Allow: ticketMemberAllow},
	}
	if botID := d.CurrentUserID(); botID != "" {
		overwrites = append(overwrites, &discordgo.PermissionOverwrite{
			ID:    botID,
			Type:  discordgo.PermissionOverwriteTypeMember,
			Allow: ticketBotAllow,
		})
	}
	if spec.StaffRoleID != "" {
		overwrites = append(overwrites, &discordgo.PermissionOverwrite{
			ID:    spec.StaffRoleID,
			Type:  discordgo.PermissionOverwriteTypeRole,
			Allow: ticketStaffAllow,
		})
	}

	channel, err := d.session.GuildChannelCreateComplex(spec.GuildID, discordgo.GuildChannelCreateData{
		Name:                 spec.Name,
		Type:                 discordgo.ChannelTypeGuildText,
		ParentID:             spec.CategoryID,
		PermissionOverwrites: overwrites,
	})
	if err != nil {
		return Channel{}, translate(err)
	}
	return fromDiscordChannel(channel), nil
}

func (d *Discord) DeleteChannel(ctx context.Context, channelID string) error {
	_ = ctx
	_, err := d.session.ChannelDelete(channelID)
	return translate(err)
}

func (d *Discord) SendMessage(ctx context.Context, channelID string, msg Message) (string, error) {
	_ = ctx
	sent, err := d.session.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
		Content:    msg.Content,
		Components: components(msg.Controls),
	})
	if err != nil {
		return "", translate(err)
	}
	return sent.ID, nil
}

func (d *Discord) FetchMessage(ctx context.Context, channelID, messageID string) error {
	_ = ctx
	_, err := d.session.ChannelMessage(channelID, messageID)
	return translate(err)
}

func (d *Discord) EditControls(ctx context.Context, channelID, messageID string, controls []Control) error {
	_ = ctx
	edit := discordgo.NewMessageEdit(channelID, messageID)
	edit.Components = components(controls)
	_, err := d.session.ChannelMessageEditComplex(edit)
	return translate(err)
}

func (d *Discord) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	_ = ctx
	return translate(d.session.ChannelMessageDelete(channelID, messageID))
}

func (d *Discord) SendDirect(ctx context.Context, userID string, notice Notice) error {
	_ = ctx
	channel, err := d.session.UserChannelCreate(userID)
	if err != nil {
		return translate(err)
	}
	fields := make([]*discordgo.MessageEmbedField, 0, len(notice.Fields))
	for _, field := range notice.Fields {
		fields = append(fields, &discordgo.MessageEmbedField{Name: field.Name, Value: field.Value, Inline: true})
	}
	_, err = d.session.ChannelMessageSendEmbed(channel.ID, &discordgo.MessageEmbed{
		Title:       notice.Title,
		Description: notice.Body,
		Color:       noticeColor,
		Timestamp:   time.Now().Format(time.RFC3339),
		Fields:      fields,
	})
	return translate(err)
}

func components(controls []Control) []discordgo.MessageComponent {
	if len(controls) == 0 {
		return []discordgo.MessageComponent{}
	}
	buttons := make([]discordgo.MessageComponent, 0, len(controls))
	for _, control := range controls {
		style := discordgo.PrimaryButton
		if control.Kind == ControlCloseTicket {
			style = discordgo.DangerButton
		}
		buttons = append(buttons, discordgo.Button{
			Label:    control.Label,
			Style:    style,
			CustomID: control.CustomID(),
		})
	}
	return []discordgo.MessageComponent{discordgo.ActionsRow{Components: buttons}}
}

func fromDiscordChannel(channel *discordgo.Channel) Channel {
	kind := ChannelOther
	switch channel.Type {
	case discordgo.ChannelTypeGuildText:
		kind = ChannelText
	case discordgo.ChannelTypeGuildCategory:
		kind = ChannelCategory
	}
	return Channel{
		ID:       channel.ID,
		GuildID:  channel.GuildID,
		Name:     channel.Name,
		ParentID: channel.ParentID,
		Kind:     kind,
	}
}

func translate(err error) error {
	if err == nil {
		return nil
	}
	var restErr *discordgo.RESTError
	if !errors.As(err, &restErr) {
		return err
	}
	if restErr.Message != nil {
		switch restErr.Message.Code {
		case discordgo.ErrCodeUnknownChannel, discordgo.ErrCodeUnknownMessage, discordgo.ErrCodeUnknownGuild:
			return fmt.Errorf("%w: %w", ErrNotFound, err)
		case discordgo.ErrCodeMissingAccess:
			return fmt.Errorf("%w: %w", ErrForbidden, err)
		}
	}
	if restErr.Response != nil {
		switch restErr.Response.StatusCode {
		case http.StatusNotFound:
			return fmt.Errorf("%w: %w", ErrNotFound, err)
		case http.StatusForbidden:
			return fmt.Errorf("%w: %w", ErrForbidden, err)
		}
	}
	return err
}
