package permissions

import (
	"context"
	"fmt"
	"sort"

	"guildkeeper/internal/storage"
)

// Role is a role held by a member, with the platform's position (higher
// positions rank first in the role list).
type Role struct {
	ID       string
	Position int
}

type Actor struct {
	UserID        string
	Roles         []Role
	Administrator bool
}

func (a Actor) RoleIDs() []string {
	ids := make([]string, 0, len(a.Roles))
	for _, role := range a.Roles {
		ids = append(ids, role.ID)
	}
	return ids
}

func (a Actor) HasRole(roleID string) bool {
	for _, role := range a.Roles {
		if role.ID == roleID {
			return true
		}
	}
	return false
}

type Resolver struct {
	grants  storage.GrantStore
	owners  storage.OwnerRoleStore
	ownerID string
}

// NewResolver builds a resolver. ownerID is the user that owns the bot and
// bypasses every role check.
func NewResolver(grants storage.GrantStore, owners storage.OwnerRoleStore, ownerID string) *Resolver {
	return &Resolver{grants: grants, owners: owners, ownerID: ownerID}
}

func (r *Resolver) IsBotOwner(userID string) bool {
	return r.ownerID != "" && userID == r.ownerID
}

// OrderRoles drops the guild's base role and sorts the rest by position,
// highest first. Equal positions fall back to the role id.
func OrderRoles(guildID string, roles []Role) []Role {
	ordered := make([]Role, 0, len(roles))
	for _, role := range roles {
		if role.ID == "" || role.ID == guildID {
			continue
		}
		ordered = append(ordered, role)
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Position != ordered[j].Position {
			return ordered[i].Position > ordered[j].Position
		}
		return ordered[i].ID < ordered[j].ID
	})
	return ordered
}

// ResolveGrant returns the grant of the first role, in OrderRoles order, that
// enables at least one action. It returns nil when no role qualifies.
func (r *Resolver) ResolveGrant(ctx context.Context, guildID string, roles []Role) (*storage.RoleGrant, error) {
	ordered := OrderRoles(guildID, roles)
	if len(ordered) == 0 {
		return nil, nil
	}

	grants, err := r.grants.ListRoleGrants(ctx, guildID)
	if err != nil {
		return nil, fmt.Errorf("load role grants: %w", err)
	}
	byRole := make(map[string]storage.RoleGrant, len(grants))
	for _, grant := range grants {
		byRole[grant.RoleID] = grant
	}

	for _, role := range ordered {
		grant, ok := byRole[role.ID]
		if !ok || !grant.AnyEnabled() {
			continue
		}
		return &grant, nil
	}
	return nil, nil
}

// CanUseOwnerCommands reports whether the actor may run the commands that
// configure the bot itself: the bot owner, a member of an owner role, or a
// guild administrator.
func (r *Resolver) CanUseOwnerCommands(ctx context.Context, guildID string, actor Actor) (bool, error) {
	if r.IsBotOwner(actor.UserID) || actor.Administrator {
		return true, nil
	}
	ownerRoles, err := r.owners.ListOwnerRoles(ctx, guildID)
	if err != nil {
		return false, fmt.Errorf("load owner roles: %w", err)
	}
	for _, roleID := range ownerRoles {
		if actor.HasRole(roleID) {
			return true, nil
		}
	}
	return false, nil
}
