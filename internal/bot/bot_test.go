package bot

import (
	"context"
	"fmt"
	"testing"
	"time"

	"guildkeeper/internal/config"
	"guildkeeper/internal/credits"
	"guildkeeper/internal/moderation"
	"guildkeeper/internal/permissions"
	"guildkeeper/internal/storage"
	"guildkeeper/internal/tickets"

	"github.com/bwmarrin/discordgo"
	"github.com/google/go-cmp/cmp"
)

func TestActorFromMember(t *testing.T) {
	roles := []*discordgo.Role{
		{ID: "guild-1", Position: 0, Permissions: 0},
		{ID: "mod", Position: 5},
		{ID: "admin", Position: 9, Permissions: discordgo.PermissionAdministrator},
	}
	member := &discordgo.Member{User: &discordgo.User{ID: "user-1"}, Roles: []string{"mod", "ghost"}}

	actor := actorFromMember("guild-1", member, roles)
	want := permissions.Actor{
		UserID: "user-1",
		Roles:  []permissions.Role{{ID: "mod", Position: 5}, {ID: "ghost"}},
	}
	if diff := cmp.Diff(want, actor); diff != "" {
		t.Fatalf("actor mismatch (-want +got):\n%s", diff)
	}

	member.Roles = append(member.Roles, "admin")
	if !actorFromMember("guild-1", member, roles).Administrator {
		t.Fatalf("expected administrator from role permissions")
	}
}

func TestActorFromMemberBaseRoleGrantsAdmin(t *testing.T) {
	roles := []*discordgo.Role{{ID: "guild-1", Permissions: discordgo.PermissionAdministrator}}
	member := &discordgo.Member{User: &discordgo.User{ID: "user-1"}}
	if !actorFromMember("guild-1", member, roles).Administrator {
		t.Fatalf("expected administrator from base role")
	}
	if diff := cmp.Diff(permissions.Actor{}, actorFromMember("guild-1", nil, roles)); diff != "" {
		t.Fatalf("expected empty actor for nil member:\n%s", diff)
	}
}

func TestUserMessage(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{"already open", &tickets.AlreadyOpenError{ChannelID: "chan-9"}, "You already have an open ticket: <#chan-9>"},
		{"not staff", tickets.ErrNotAuthorized, "Only staff can close tickets."},
		{"not ticket", fmt.Errorf("close: %w", tickets.ErrNotTicket), "This channel is not a ticket."},
		{"exhausted", &credits.ExhaustedError{Action: storage.ActionWarn, Cap: 3}, "You reached your daily WARN limit (3)."},
		{"denied", credits.ErrPermissionDenied, "Your roles do not allow this action."},
		{"no role", moderation.ErrNoRoleConfigured, "You have no role configured for moderation."},
		{"storage", fmt.Errorf("get: %w", storage.ErrUnavailable), "Storage is temporarily unavailable, please retry in a moment."},
		{"unknown", fmt.Errorf("boom"), "Something went wrong, please try again."},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := userMessage(tc.err); got != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, got)
			}
		})
	}
}

func TestExpectedRefusal(t *testing.T) {
	if !expectedRefusal(&credits.ExhaustedError{Action: storage.ActionBan, Cap: 1}) {
		t.Fatalf("expected exhausted credits to be a refusal")
	}
	if expectedRefusal(storage.ErrUnavailable) {
		t.Fatalf("expected storage outage to be a failure")
	}
}

func TestParseLimits(t *testing.T) {
	options := optionMap([]*discordgo.ApplicationCommandInteractionDataOption{
		{Name: "ban", Type: discordgo.ApplicationCommandOptionString, Value: "2"},
		{Name: "kick", Type: discordgo.ApplicationCommandOptionString, Value: "unlimited"},
		{Name: "warn", Type: discordgo.ApplicationCommandOptionString, Value: "non"},
	})
	limits, err := parseLimits(options)
	if err != nil {
		t.Fatalf("parse limits: %v", err)
	}
	want := map[storage.Action]storage.Limit{
		storage.ActionBan:  storage.Capped(2),
		storage.ActionKick: storage.Unlimited(),
		storage.ActionWarn: storage.Disabled(),
	}
	if diff := cmp.Diff(want, limits); diff != "" {
		t.Fatalf("limits mismatch (-want +got):\n%s", diff)
	}

	options["ban"] = &discordgo.ApplicationCommandInteractionDataOption{Name: "ban", Type: discordgo.ApplicationCommandOptionString, Value: "lots"}
	if _, err := parseLimits(options); err == nil {
		t.Fatalf("expected invalid limit error")
	}
}

func TestParseDuration(t *testing.T) {
	cases := map[string]time.Duration{
		"":    0,
		"30m": 30 * time.Minute,
		"2h":  2 * time.Hour,
		"1d":  24 * time.Hour,
	}
	for input, want := range cases {
		got, err := parseDuration(input)
		if err != nil {
			t.Fatalf("parse %q: %v", input, err)
		}
		if got != want {
			t.Fatalf("parse %q: expected %v, got %v", input, want, got)
		}
	}
	for _, input := range []string{"soon", "0d", "-5m"} {
		if _, err := parseDuration(input); err == nil {
			t.Fatalf("expected error for %q", input)
		}
	}
}

func TestOptionID(t *testing.T) {
	opt := &discordgo.ApplicationCommandInteractionDataOption{Name: "role", Type: discordgo.ApplicationCommandOptionRole, Value: "role-1"}
	if got := optionID(opt); got != "role-1" {
		t.Fatalf("expected role-1, got %q", got)
	}
	if got := optionID(nil); got != "" {
		t.Fatalf("expected empty id, got %q", got)
	}
}

func TestCommandDefinitions(t *testing.T) {
	want := []string{"ticket", "close_ticket", "config", "ban", "kick", "warn", "configrole", "roleownerbot", "deflimwarn", "help"}
	var got []string
	for _, cmd := range commandDefinitions() {
		got = append(got, cmd.Name)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("commands mismatch (-want +got):\n%s", diff)
	}
}

func TestConfigCredentialsDeduplicates(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.DiscordToken = "tok-a"
	cfg.OwnerID = "owner"
	cfg.Tenants = []config.TenantConfig{
		{Name: "dup", Token: "tok-a"},
		{Name: "second", Token: "tok-b", OwnerID: "other"},
		{Name: "empty"},
	}

	tenants, err := NewConfigCredentials(cfg).Tenants(context.Background())
	if err != nil {
		t.Fatalf("tenants: %v", err)
	}
	want := []config.TenantConfig{
		{Name: "primary", Token: "tok-a", OwnerID: "owner"},
		{Name: "second", Token: "tok-b", OwnerID: "other"},
	}
	if diff := cmp.Diff(want, tenants); diff != "" {
		t.Fatalf("tenants mismatch (-want +got):\n%s", diff)
	}
}

func TestSupervisorWithoutBotsHasNoGateways(t *testing.T) {
	s := &Supervisor{}
	if len(s.Gateways()) != 0 || s.Healthy() {
		t.Fatalf("expected no gateways before start")
	}
}
