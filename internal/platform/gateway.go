// Package platform is the narrow slice of the chat platform the ticket,
// moderation and reconciliation components need.
package platform

import (
	"context"
	"errors"
)

var (
	// ErrNotFound marks a guild, channel or message that no longer exists.
	ErrNotFound  = errors.New("platform: not found")
	ErrForbidden = errors.New("platform: missing access")
)

type ControlKind uint8

const (
	ControlOpenTicket ControlKind = iota + 1
	ControlCloseTicket
)

const (
	OpenTicketID  = "ticket:open"
	CloseTicketID = "ticket:close"
)

// Control is an interactive button attached to a message.
type Control struct {
	Kind  ControlKind
	Label string
}

func (c Control) CustomID() string {
	switch c.Kind {
	case ControlOpenTicket:
		return OpenTicketID
	case ControlCloseTicket:
		return CloseTicketID
	default:
		return ""
	}
}

func OpenTicketControl() Control {
	return Control{Kind: ControlOpenTicket, Label: "Open a ticket"}
}

func CloseTicketControl() Control {
	return Control{Kind: ControlCloseTicket, Label: "Close ticket"}
}

type ChannelKind uint8

const (
	ChannelText ChannelKind = iota
	ChannelCategory
	ChannelOther
)

type Channel struct {
	ID       string
	GuildID  string
	Name     string
	ParentID string
	Kind     ChannelKind
}

type Message struct {
	Content  string
	Controls []Control
}

type Field struct {
	Name  string
	Value string
}

// Notice is a direct message to a user.
type Notice struct {
	Title  string
	Body   string
	Fields []Field
}

// TicketChannelSpec describes a private channel visible to one user, the
// staff role (if any) and the bot itself.
type TicketChannelSpec struct {
	GuildID     string
	CategoryID  string
	Name        string
	UserID      string
	StaffRoleID string
}

type Gateway interface {
	CurrentUserID() string
	HasGuild(ctx context.Context, guildID string) (bool, error)
	Channel(ctx context.Context, channelID string) (Channel, error)
	GuildChannels(ctx context.Context, guildID string) ([]Channel, error)
	CreateCategory(ctx context.Context, guildID, name string) (Channel, error)
	CreateTicketChannel(ctx context.Context, spec TicketChannelSpec) (Channel, error)
	DeleteChannel(ctx context.Context, channelID string) error
	SendMessage(ctx context.Context, channelID string, msg Message) (string, error)
	FetchMessage(ctx context.Context, channelID, messageID string) error
	EditControls(ctx context.Context, channelID, messageID string, controls []Control) error
	DeleteMessage(ctx context.Context, channelID, messageID string) error
	SendDirect(ctx context.Context, userID string, notice Notice) error
}

// IsNotFound reports whether err means the target is gone.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
