package storage

import (
	"fmt"
	"strconv"
	"strings"
)

type Action string

const (
	ActionBan  Action = "ban"
	ActionKick Action = "kick"
	ActionWarn Action = "warn"
)

func ParseAction(value string) (Action, error) {
	switch Action(strings.ToLower(strings.TrimSpace(value))) {
	case ActionBan:
		return ActionBan, nil
	case ActionKick:
		return ActionKick, nil
	case ActionWarn:
		return ActionWarn, nil
	default:
		return "", fmt.Errorf("unknown action %q", value)
	}
}

type LimitKind uint8

const (
	LimitDisabled LimitKind = iota
	LimitUnlimited
	LimitCapped
)

// Limit is the per-action allowance of a role grant.
type Limit struct {
	Kind LimitKind
	Cap  int
}

func Disabled() Limit  { return Limit{Kind: LimitDisabled} }
func Unlimited() Limit { return Limit{Kind: LimitUnlimited} }

func Capped(n int) Limit {
	if n <= 0 {
		return Disabled()
	}
	return Limit{Kind: LimitCapped, Cap: n}
}

func (l Limit) Allowed() bool { return l.Kind != LimitDisabled }

func (l Limit) String() string {
	switch l.Kind {
	case LimitUnlimited:
		return "unlimited"
	case LimitCapped:
		return strconv.Itoa(l.Cap)
	default:
		return "disabled"
	}
}

// ParseLimit accepts the loose forms admins type and older records hold:
// booleans, yes/no words in English or French, and integers.
func ParseLimit(value any) (Limit, error) {
	switch v := value.(type) {
	case Limit:
		return v, nil
	case bool:
		if v {
			return Unlimited(), nil
		}
		return Disabled(), nil
	case int:
		return Capped(v), nil
	case int64:
		return Capped(int(v)), nil
	case float64:
		return Capped(int(v)), nil
	case string:
		return parseLimitString(v)
	case nil:
		return Disabled(), nil
	default:
		return Limit{}, fmt.Errorf("unsupported limit value %T", value)
	}
}

func parseLimitString(value string) (Limit, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "non", "no", "false", "0", "disabled":
		return Disabled(), nil
	case "oui", "yes", "true", "illimité", "illimite", "unlimited":
		return Unlimited(), nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return Limit{}, fmt.Errorf("invalid limit %q", value)
	}
	return Capped(n), nil
}
