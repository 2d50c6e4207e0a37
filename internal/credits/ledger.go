package credits

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"guildkeeper/internal/storage"
	"guildkeeper/internal/utils"

	"go.uber.org/zap"
)

var (
	ErrPermissionDenied = errors.New("credits: action not allowed for this role")
	ErrCreditExhausted  = errors.New("credits: daily credits exhausted")
)

// ExhaustedError carries the cap that was reached.
type ExhaustedError struct {
	Action storage.Action
	Cap    int
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("credits: daily %s limit of %d reached", e.Action, e.Cap)
}

func (e *ExhaustedError) Is(target error) bool {
	return target == ErrCreditExhausted
}

type Remaining struct {
	Unlimited bool
	Count     int
}

func (r Remaining) String() string {
	if r.Unlimited {
		return "unlimited"
	}
	return strconv.Itoa(r.Count)
}

type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Ledger meters moderation actions per user, guild and UTC day.
type Ledger struct {
	store  storage.LedgerStore
	logger *zap.Logger
	clock  Clock
	locks  *utils.KeyedMutex
}

func NewLedger(store storage.LedgerStore, logger *zap.Logger) *Ledger {
	return &Ledger{
		store:  store,
		logger: logger,
		clock:  realClock{},
		locks:  utils.NewKeyedMutex(),
	}
}

func (l *Ledger) WithClock(clock Clock) {
	l.clock = clock
}

// CheckAndConsume spends one credit of action under grant. An entry recorded
// under a different role is treated as empty, so switching roles starts the
// day over for every action.
func (l *Ledger) CheckAndConsume(ctx context.Context, userID, guildID string, action storage.Action, grant storage.RoleGrant) (Remaining, error) {
	unlock := l.locks.Lock(guildID + ":" + userID)
	defer unlock()

	now := l.clock.Now().UTC()
	entry, err := l.load(ctx, userID, guildID, now, grant)
	if err != nil {
		return Remaining{}, err
	}

	limit := grant.Limit(action)
	used := entry.Used(action)
	switch limit.Kind {
	case storage.LimitDisabled:
		return Remaining{}, ErrPermissionDenied
	case storage.LimitCapped:
		if used >= limit.Cap {
			return Remaining{}, &ExhaustedError{Action: action, Cap: limit.Cap}
		}
	}

	entry.SetUsed(action, used+1)
	entry.ExpiresAt = now.Add(storage.LedgerTTL)
	if err := l.store.PutLedgerEntry(ctx, entry); err != nil {
		return Remaining{}, fmt.Errorf("save ledger entry: %w", err)
	}

	if limit.Kind == storage.LimitUnlimited {
		return Remaining{Unlimited: true}, nil
	}
	return Remaining{Count: limit.Cap - (used + 1)}, nil
}

// Refund gives back one credit spent today under grant. It is used when the
// action fails after its credit was taken.
func (l *Ledger) Refund(ctx context.Context, userID, guildID string, action storage.Action, grant storage.RoleGrant) error {
	unlock := l.locks.Lock(guildID + ":" + userID)
	defer unlock()

	now := l.clock.Now().UTC()
	entry, err := l.load(ctx, userID, guildID, now, grant)
	if err != nil {
		return err
	}
	used := entry.Used(action)
	if used == 0 {
		return nil
	}
	entry.SetUsed(action, used-1)
	entry.ExpiresAt = now.Add(storage.LedgerTTL)
	if err := l.store.PutLedgerEntry(ctx, entry); err != nil {
		return fmt.Errorf("save ledger entry: %w", err)
	}
	return nil
}

// Purge removes entries past their expiry and returns how many went away.
func (l *Ledger) Purge(ctx context.Context) (int64, error) {
	purged, err := l.store.PurgeLedger(ctx, l.clock.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("purge ledger: %w", err)
	}
	if purged > 0 {
		l.logger.Info("ledger purged", zap.Int64("entries", purged))
	}
	return purged, nil
}

func (l *Ledger) load(ctx context.Context, userID, guildID string, now time.Time, grant storage.RoleGrant) (storage.LedgerEntry, error) {
	day := now.Format(storage.LedgerDayLayout)
	fresh := storage.LedgerEntry{
		GuildID:        guildID,
		UserID:         userID,
		Day:            day,
		GrantingRoleID: grant.RoleID,
	}

	entry, err := l.store.GetLedgerEntry(ctx, guildID, userID, day)
	if errors.Is(err, storage.ErrNotFound) {
		return fresh, nil
	}
	if err != nil {
		return storage.LedgerEntry{}, fmt.Errorf("load ledger entry: %w", err)
	}
	if entry.GrantingRoleID != grant.RoleID {
		l.logger.Debug("ledger role changed",
			zap.String("guild_id", guildID),
			zap.String("user_id", userID),
			zap.String("from_role", entry.GrantingRoleID),
			zap.String("to_role", grant.RoleID),
		)
		return fresh, nil
	}
	return entry, nil
}
