// Package platformtest provides an in-memory platform.Gateway for tests.
package platformtest

import (
	"context"
	"fmt"
	"sync"

	"guildkeeper/internal/platform"
)

type DirectMessage struct {
	UserID string
	Notice platform.Notice
}

// Fake is a concurrency safe in-memory guild. Fail* fields inject errors into
// the matching calls.
type Fake struct {
	mu       sync.Mutex
	userID   string
	nextID   int
	guilds   map[string]bool
	channels map[string]platform.Channel
	messages map[string]map[string]platform.Message
	directs  []DirectMessage
	deleted  []string

	FailCreateChannel error
	FailSend          error
	FailDirect        error
	FailHasGuild      error
	FailDelete        error
	FailChannel       error
	FailFetch         error
	FailEdit          error
}

var _ platform.Gateway = (*Fake)(nil)

func NewFake(userID string) *Fake {
	return &Fake{
		userID:   userID,
		guilds:   make(map[string]bool),
		channels: make(map[string]platform.Channel),
		messages: make(map[string]map[string]platform.Message),
	}
}

func (f *Fake) AddGuild(guildID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.guilds[guildID] = true
}

func (f *Fake) RemoveGuild(guildID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.guilds, guildID)
}

// AddChannel registers a channel and returns its id.
func (f *Fake) AddChannel(channel platform.Channel) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if channel.ID == "" {
		channel.ID = f.newID("chan")
	}
	f.channels[channel.ID] = channel
	return channel.ID
}

// RemoveChannel deletes a channel out of band, as a user would.
func (f *Fake) RemoveChannel(channelID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.channels, channelID)
	delete(f.messages, channelID)
}

func (f *Fake) RemoveMessage(channelID, messageID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.messages[channelID], messageID)
}

func (f *Fake) HasChannel(channelID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.channels[channelID]
	return ok
}

func (f *Fake) Message(channelID, messageID string) (platform.Message, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg, ok := f.messages[channelID][messageID]
	return msg, ok
}

func (f *Fake) Messages(channelID string) map[string]platform.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]platform.Message, len(f.messages[channelID]))
	for id, msg := range f.messages[channelID] {
		out[id] = msg
	}
	return out
}

// Channels returns the channels of a guild of the given kind.
func (f *Fake) Channels(guildID string, kind platform.ChannelKind) []platform.Channel {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []platform.Channel
	for _, channel := range f.channels {
		if channel.GuildID == guildID && channel.Kind == kind {
			out = append(out, channel)
		}
	}
	return out
}

func (f *Fake) Directs() []DirectMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]DirectMessage(nil), f.directs...)
}

// DeletedChannels lists every channel removed through DeleteChannel.
func (f *Fake) DeletedChannels() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deleted...)
}

func (f *Fake) CurrentUserID() string {
	return f.userID
}

func (f *Fake) HasGuild(ctx context.Context, guildID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailHasGuild != nil {
		return false, f.FailHasGuild
	}
	return f.guilds[guildID], nil
}

func (f *Fake) Channel(ctx context.Context, channelID string) (platform.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailChannel != nil {
		return platform.Channel{}, f.FailChannel
	}
	channel, ok := f.channels[channelID]
	if !ok {
		return platform.Channel{}, platform.ErrNotFound
	}
	return channel, nil
}

func (f *Fake) GuildChannels(ctx context.Context, guildID string) ([]platform.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.guilds[guildID] {
		return nil, platform.ErrNotFound
	}
	var out []platform.Channel
	for _, channel := range f.channels {
		if channel.GuildID == guildID {
			out = append(out, channel)
		}
	}
	return out, nil
}

func (f *Fake) CreateCategory(ctx context.Context, guildID, name string) (platform.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailCreateChannel != nil {
		return platform.Channel{}, f.FailCreateChannel
	}
	channel := platform.Channel{ID: f.newID("cat"), GuildID: guildID, Name: name, Kind: platform.ChannelCategory}
	f.channels[channel.ID] = channel
	return channel, nil
}

func (f *Fake) CreateTicketChannel(ctx context.Context, spec platform.TicketChannelSpec) (platform.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailCreateChannel != nil {
		return platform.Channel{}, f.FailCreateChannel
	}
	channel := platform.Channel{
		ID:       f.newID("chan"),
		GuildID:  spec.GuildID,
		Name:     spec.Name,
		ParentID: spec.CategoryID,
		Kind:     platform.ChannelText,
	}
	f.channels[channel.ID] = channel
	return channel, nil
}

func (f *Fake) DeleteChannel(ctx context.Context, channelID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailDelete != nil {
		return f.FailDelete
	}
	if _, ok := f.channels[channelID]; !ok {
		return platform.ErrNotFound
	}
	delete(f.channels, channelID)
	delete(f.messages, channelID)
	f.deleted = append(f.deleted, channelID)
	return nil
}

func (f *Fake) SendMessage(ctx context.Context, channelID string, msg platform.Message) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailSend != nil {
		return "", f.FailSend
	}
	if _, ok := f.channels[channelID]; !ok {
		return "", platform.ErrNotFound
	}
	id := f.newID("msg")
	if f.messages[channelID] == nil {
		f.messages[channelID] = make(map[string]platform.Message)
	}
	f.messages[channelID][id] = msg
	return id, nil
}

func (f *Fake) FetchMessage(ctx context.Context, channelID, messageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailFetch != nil {
		return f.FailFetch
	}
	if _, ok := f.messages[channelID][messageID]; !ok {
		return platform.ErrNotFound
	}
	return nil
}

func (f *Fake) EditControls(ctx context.Context, channelID, messageID string, controls []platform.Control) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailEdit != nil {
		return f.FailEdit
	}
	msg, ok := f.messages[channelID][messageID]
	if !ok {
		return platform.ErrNotFound
	}
	msg.Controls = append([]platform.Control(nil), controls...)
	f.messages[channelID][messageID] = msg
	return nil
}

func (f *Fake) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.messages[channelID][messageID]; !ok {
		return platform.ErrNotFound
	}
	delete(f.messages[channelID], messageID)
	return nil
}

func (f *Fake) SendDirect(ctx context.Context, userID string, notice platform.Notice) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailDirect != nil {
		return f.FailDirect
	}
	f.directs = append(f.directs, DirectMessage{UserID: userID, Notice: notice})
	return nil
}

func (f *Fake) newID(prefix string) string {
	f.nextID++
	return fmt.Sprintf("%s-%d", prefix, f.nextID)
}
