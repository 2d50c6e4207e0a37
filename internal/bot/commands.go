package bot

import (
	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

var (
	manageGuild = int64(discordgo.PermissionManageServer)
	minWarn     = float64(1)
)

func commandDefinitions() []*discordgo.ApplicationCommand {
	limitOption := func(name, action string) *discordgo.ApplicationCommandOption {
		return &discordgo.ApplicationCommandOption{
			Type:        discordgo.ApplicationCommandOptionString,
			Name:        name,
			Description: "Daily " + action + " credits: a number, unlimited or disabled",
			DescriptionLocalizations: map[discordgo.Locale]string{
				discordgo.French: "Credits " + action + " par jour : nombre, illimite ou non",
			},
			Required: true,
		}
	}
	targetOptions := func(verb string) []*discordgo.ApplicationCommandOption {
		return []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionUser,
				Name:        "user",
				Description: "Member to " + verb,
				Required:    true,
			},
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        "reason",
				Description: "Reason shown in the log",
				Required:    false,
			},
		}
	}

	kickOptions := targetOptions("kick")
	kickOptions = append(kickOptions, &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionString,
		Name:        "duration",
		Description: "How long the exclusion lasts, e.g. 30m, 2h, 1d",
		Required:    false,
	})

	return []*discordgo.ApplicationCommand{
		{
			Name:        "ticket",
			Description: "Open a private ticket with the staff",
			DescriptionLocalizations: &map[discordgo.Locale]string{
				discordgo.French: "Ouvrir un ticket prive avec le staff",
			},
		},
		{
			Name:        "close_ticket",
			Description: "Close the current ticket",
			DescriptionLocalizations: &map[discordgo.Locale]string{
				discordgo.French: "Fermer le ticket courant",
			},
		},
		{
			Name:                     "config",
			Description:              "Configure tickets for this server",
			DefaultMemberPermissions: &manageGuild,
			DescriptionLocalizations: &map[discordgo.Locale]string{
				discordgo.French: "Configurer les tickets du serveur",
			},
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:         discordgo.ApplicationCommandOptionChannel,
					Name:         "channel",
					Description:  "Channel where the open-ticket button is posted",
					ChannelTypes: []discordgo.ChannelType{discordgo.ChannelTypeGuildText},
					Required:     false,
				},
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "message",
					Description: "Welcome message, {user} is replaced by a mention",
					Required:    false,
				},
				{
					Type:        discordgo.ApplicationCommandOptionRole,
					Name:        "staff_role",
					Description: "Role that can see and close tickets",
					Required:    false,
				},
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "category",
					Description: "Category holding ticket channels",
					Required:    false,
				},
				{
					Type:         discordgo.ApplicationCommandOptionChannel,
					Name:         "status_channel",
					Description:  "Channel for the periodic online message",
					ChannelTypes: []discordgo.ChannelType{discordgo.ChannelTypeGuildText},
					Required:     false,
				},
			},
		},
		{
			Name:        "ban",
			Description: "Blacklist a member",
			DescriptionLocalizations: &map[discordgo.Locale]string{
				discordgo.French: "Bannir un utilisateur (liste noire)",
			},
			Options: targetOptions("ban"),
		},
		{
			Name:        "kick",
			Description: "Temporarily exclude a member",
			DescriptionLocalizations: &map[discordgo.Locale]string{
				discordgo.French: "Exclure temporairement un utilisateur",
			},
			Options: kickOptions,
		},
		{
			Name:        "warn",
			Description: "Warn a member",
			DescriptionLocalizations: &map[discordgo.Locale]string{
				discordgo.French: "Donner un avertissement",
			},
			Options: targetOptions("warn"),
		},
		{
			Name:        "configrole",
			Description: "Set the daily moderation credits of a role",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionRole,
					Name:        "role",
					Description: "Role to configure",
					Required:    true,
				},
				limitOption("ban", "ban"),
				limitOption("kick", "kick"),
				limitOption("warn", "warn"),
			},
		},
		{
			Name:        "roleownerbot",
			Description: "Allow a role to use owner commands",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionRole,
					Name:        "role",
					Description: "Role to update",
					Required:    true,
				},
				{
					Type:        discordgo.ApplicationCommandOptionBoolean,
					Name:        "enabled",
					Description: "false removes the role",
					Required:    false,
				},
			},
		},
		{
			Name:        "deflimwarn",
			Description: "Set how many warnings recommend a kick",
			DescriptionLocalizations: &map[discordgo.Locale]string{
				discordgo.French: "Definir la limite d'avertissements avant kick",
			},
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "limit",
					Description: "Between 1 and 20",
					MinValue:    &minWarn,
					MaxValue:    20,
					Required:    true,
				},
			},
		},
		{
			Name:        "help",
			Description: "List the available commands",
		},
	}
}

func (b *Bot) registerCommands() error {
	commands := commandDefinitions()

	appID := b.session.State.User.ID
	existing, err := b.session.ApplicationCommands(appID, "")
	if err != nil {
		for _, cmd := range commands {
			if _, err := b.session.ApplicationCommandCreate(appID, "", cmd); err != nil {
				return err
			}
		}
		return nil
	}

	existingByName := make(map[string]*discordgo.ApplicationCommand)
	for _, cmd := range existing {
		existingByName[cmd.Name] = cmd
	}

	desired := make(map[string]struct{})
	for _, cmd := range commands {
		desired[cmd.Name] = struct{}{}
		if current, ok := existingByName[cmd.Name]; ok {
			if _, err := b.session.ApplicationCommandEdit(appID, "", current.ID, cmd); err != nil {
				return err
			}
			continue
		}
		if _, err := b.session.ApplicationCommandCreate(appID, "", cmd); err != nil {
			return err
		}
	}

	for _, cmd := range existing {
		if _, ok := desired[cmd.Name]; ok {
			continue
		}
		if err := b.session.ApplicationCommandDelete(appID, "", cmd.ID); err != nil {
			b.logger.Debug("stale command delete failed", zap.String("command", cmd.Name), zap.Error(err))
		}
	}
	return nil
}
