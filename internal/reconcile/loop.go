// Package reconcile corrects drift between stored ticket state and the
// platform: records of vanished guilds, channels and messages are removed.
package reconcile

import (
	"context"
	"fmt"
	"time"

	"guildkeeper/internal/platform"
	"guildkeeper/internal/storage"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const (
	DefaultFastInterval = 90 * time.Second
	DefaultSlowInterval = 60 * time.Minute
)

// Locator exposes the gateways of every bot identity that is currently
// connected.
type Locator interface {
	Gateways() []platform.Gateway
}

type Store interface {
	storage.TicketStore
	storage.BindingStore
}

type Purger interface {
	Purge(ctx context.Context) (int64, error)
}

type Config struct {
	FastInterval time.Duration
	SlowInterval time.Duration
}

type Report struct {
	Checked int
	Removed int
	Skipped bool
}

type Loop struct {
	store   Store
	locator Locator
	ledger  Purger
	logger  *zap.Logger
	cfg     Config
}

func New(store Store, locator Locator, ledger Purger, logger *zap.Logger, cfg Config) *Loop {
	if cfg.FastInterval <= 0 {
		cfg.FastInterval = DefaultFastInterval
	}
	if cfg.SlowInterval <= 0 {
		cfg.SlowInterval = DefaultSlowInterval
	}
	return &Loop{store: store, locator: locator, ledger: ledger, logger: logger, cfg: cfg}
}

// Run sweeps on both cadences until ctx is done.
func (l *Loop) Run(ctx context.Context) error {
	fast := time.NewTicker(l.cfg.FastInterval)
	defer fast.Stop()
	slow := time.NewTicker(l.cfg.SlowInterval)
	defer slow.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-fast.C:
			if _, err := l.SweepTickets(ctx); err != nil && ctx.Err() == nil {
				l.logger.Warn("ticket sweep failed", zap.Error(err))
			}
		case <-slow.C:
			if _, err := l.SweepBindings(ctx); err != nil && ctx.Err() == nil {
				l.logger.Warn("binding sweep failed", zap.Error(err))
			}
		}
	}
}

// SweepTickets removes ticket records whose guild or channel is gone.
func (l *Loop) SweepTickets(ctx context.Context) (Report, error) {
	gateways := l.locator.Gateways()
	if len(gateways) == 0 {
		l.logger.Debug("ticket sweep skipped, no connected bot")
		return Report{Skipped: true}, nil
	}

	tickets, err := l.store.ListTickets(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("list tickets: %w", err)
	}

	var report Report
	for _, ticket := range tickets {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		report.Checked++

		stale, reason, err := l.channelGone(ctx, gateways, ticket.GuildID, ticket.ChannelID)
		if err != nil {
			l.logger.Debug("ticket check inconclusive", zap.String("channel_id", ticket.ChannelID), zap.Error(err))
			continue
		}
		if !stale {
			continue
		}
		if _, err := l.store.DeleteTicketByChannel(ctx, ticket.ChannelID); err != nil {
			l.logger.Warn("stale ticket delete failed", zap.String("channel_id", ticket.ChannelID), zap.Error(err))
			continue
		}
		report.Removed++
		l.logger.Info("stale ticket removed",
			zap.String("guild_id", ticket.GuildID),
			zap.String("user_id", ticket.UserID),
			zap.String("channel_id", ticket.ChannelID),
			zap.String("reason", reason),
		)
	}
	return report, nil
}

// SweepBindings removes control bindings whose channel or message is gone,
// then purges expired ledger entries.
func (l *Loop) SweepBindings(ctx context.Context) (Report, error) {
	gateways := l.locator.Gateways()
	if len(gateways) == 0 {
		l.logger.Debug("binding sweep skipped, no connected bot")
		return Report{Skipped: true}, nil
	}

	bindings, err := l.bindings(ctx)
	if err != nil {
		return Report{}, err
	}

	var report Report
	for _, b := range bindings {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		report.Checked++

		stale, reason, err := l.messageGone(ctx, gateways, b)
		if err != nil {
			l.logger.Debug("binding check inconclusive", zap.String("message_id", b.messageID), zap.Error(err))
			continue
		}
		if !stale {
			continue
		}
		if err := l.removeBinding(ctx, b); err != nil {
			l.logger.Warn("stale binding delete failed", zap.String("message_id", b.messageID), zap.Error(err))
			continue
		}
		report.Removed++
		l.logger.Info("stale binding removed",
			zap.String("guild_id", b.guildID),
			zap.String("channel_id", b.channelID),
			zap.String("message_id", b.messageID),
			zap.String("reason", reason),
		)
	}

	if l.ledger != nil {
		if _, err := l.ledger.Purge(ctx); err != nil {
			return report, err
		}
	}
	return report, nil
}

// RestoreControls redraws the control of every bound message. A binding no
// gateway can redraw is logged and removed, not retried.
func (l *Loop) RestoreControls(ctx context.Context) (Report, error) {
	gateways := l.locator.Gateways()
	if len(gateways) == 0 {
		return Report{Skipped: true}, nil
	}

	bindings, err := l.bindings(ctx)
	if err != nil {
		return Report{}, err
	}

	var report Report
	for _, b := range bindings {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		report.Checked++

		present, err := locate(ctx, gateways, b.guildID)
		if len(present) == 0 {
			l.logger.Debug("control restore deferred", zap.String("message_id", b.messageID), zap.Error(err))
			continue
		}
		err = redraw(ctx, present, b)
		if err == nil {
			continue
		}
		l.logger.Warn("control restore failed, removing binding",
			zap.String("guild_id", b.guildID),
			zap.String("message_id", b.messageID),
			zap.Error(err),
		)
		if err := l.removeBinding(ctx, b); err != nil {
			l.logger.Warn("binding delete failed", zap.String("message_id", b.messageID), zap.Error(err))
			continue
		}
		report.Removed++
	}
	l.logger.Info("controls restored", zap.Int("checked", report.Checked), zap.Int("removed", report.Removed))
	return report, nil
}

// redraw edits the message through the first gateway allowed to. Only the
// author can edit a message, so the others answer forbidden.
func redraw(ctx context.Context, gateways []platform.Gateway, b binding) error {
	var errs error
	for _, gateway := range gateways {
		err := gateway.EditControls(ctx, b.channelID, b.messageID, []platform.Control{b.control})
		if err == nil {
			return nil
		}
		if platform.IsNotFound(err) {
			return err
		}
		errs = multierr.Append(errs, err)
	}
	return errs
}

type binding struct {
	guildID   string
	channelID string
	messageID string
	control   platform.Control
}

func (l *Loop) bindings(ctx context.Context) ([]binding, error) {
	open, err := l.store.ListTicketButtons(ctx)
	if err != nil {
		return nil, fmt.Errorf("list ticket buttons: %w", err)
	}
	closing, err := l.store.ListCloseButtons(ctx)
	if err != nil {
		return nil, fmt.Errorf("list close buttons: %w", err)
	}

	out := make([]binding, 0, len(open)+len(closing))
	for _, b := range open {
		out = append(out, binding{guildID: b.GuildID, channelID: b.ChannelID, messageID: b.MessageID, control: platform.OpenTicketControl()})
	}
	for _, b := range closing {
		out = append(out, binding{guildID: b.GuildID, channelID: b.ChannelID, messageID: b.MessageID, control: platform.CloseTicketControl()})
	}
	return out, nil
}

func (l *Loop) removeBinding(ctx context.Context, b binding) error {
	var err error
	switch b.control.Kind {
	case platform.ControlOpenTicket:
		_, err = l.store.DeleteTicketButton(ctx, b.messageID)
	case platform.ControlCloseTicket:
		_, err = l.store.DeleteCloseButton(ctx, b.messageID)
	}
	return err
}

// channelGone asks every gateway in the guild until one answers
// definitively. Channel ids are global, so a single not-found is enough; a
// bot without access to the channel answers forbidden and is skipped.
func (l *Loop) channelGone(ctx context.Context, gateways []platform.Gateway, guildID, channelID string) (bool, string, error) {
	present, err := locate(ctx, gateways, guildID)
	if len(present) == 0 {
		if err != nil {
			return false, "", err
		}
		return true, "guild unreachable", nil
	}

	var errs error
	for _, gateway := range present {
		channel, err := gateway.Channel(ctx, channelID)
		if platform.IsNotFound(err) {
			return true, "channel deleted", nil
		}
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if channel.GuildID != "" && channel.GuildID != guildID {
			return true, "channel left guild", nil
		}
		return false, "", nil
	}
	return false, "", errs
}

func (l *Loop) messageGone(ctx context.Context, gateways []platform.Gateway, b binding) (bool, string, error) {
	gone, reason, err := l.channelGone(ctx, gateways, b.guildID, b.channelID)
	if err != nil || gone {
		return gone, reason, err
	}
	present, err := locate(ctx, gateways, b.guildID)
	if len(present) == 0 {
		return false, "", err
	}

	var errs error
	for _, gateway := range present {
		err := gateway.FetchMessage(ctx, b.channelID, b.messageID)
		if platform.IsNotFound(err) {
			return true, "message deleted", nil
		}
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		return false, "", nil
	}
	return false, "", errs
}

// locate returns every gateway that can see the guild. An empty result with
// a nil error means every gateway answered that it cannot; with an error,
// the answer is inconclusive.
func locate(ctx context.Context, gateways []platform.Gateway, guildID string) ([]platform.Gateway, error) {
	var (
		present []platform.Gateway
		errs    error
	)
	for _, gateway := range gateways {
		ok, err := gateway.HasGuild(ctx, guildID)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if ok {
			present = append(present, gateway)
		}
	}
	return present, errs
}
