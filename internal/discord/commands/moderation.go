package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/dectalkbot/internal/discord"
	"github.com/MrWong99/dectalkbot/internal/store"
)

// ModerationCommands handles /muted and /prefix.
type ModerationCommands struct {
	perms    *discord.PermissionChecker
	mutes    *store.MuteStore
	prefixes *store.PrefixStore
}

// NewModerationCommands creates a ModerationCommands handler.
func NewModerationCommands(perms *discord.PermissionChecker, mutes *store.MuteStore, prefixes *store.PrefixStore) *ModerationCommands {
	return &ModerationCommands{perms: perms, mutes: mutes, prefixes: prefixes}
}

// Register registers the moderation commands with the router.
func (mc *ModerationCommands) Register(router *discord.CommandRouter) {
	defs := mc.Definitions()
	router.RegisterCommand(defs[0], mc.handleMuted)
	router.RegisterCommand(defs[1], mc.handlePrefix)
}

// Definitions returns the /muted and /prefix commands.
func (mc *ModerationCommands) Definitions() []*discordgo.ApplicationCommand {
	var (
		mutePerm   int64 = discordgo.PermissionVoiceMuteMembers
		prefixPerm int64 = discordgo.PermissionManageGuild
		guildOnly        = false
	)
	return []*discordgo.ApplicationCommand{
		{
			Name:                     "muted",
			Description:              "Show or change whether a member's messages are spoken",
			DefaultMemberPermissions: &mutePerm,
			DMPermission:             &guildOnly,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Name:        "user",
					Description: "Member",
					Type:        discordgo.ApplicationCommandOptionUser,
					Required:    true,
				},
				{
					Name:        "muted",
					Description: "New mute state",
					Type:        discordgo.ApplicationCommandOptionBoolean,
				},
			},
		},
		{
			Name:                     "prefix",
			Description:              "Show or change the text-to-speech prefix",
			DefaultMemberPermissions: &prefixPerm,
			DMPermission:             &guildOnly,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Name:        "prefix",
					Description: "New prefix",
					Type:        discordgo.ApplicationCommandOptionString,
				},
			},
		},
	}
}

func (mc *ModerationCommands) handleMuted(r discord.Responder, i *discordgo.InteractionCreate) {
	if i.GuildID == "" {
		discord.RespondEphemeral(r, i, "This command only works in a server.")
		return
	}
	if !mc.perms.Allowed(i, discordgo.PermissionVoiceMuteMembers) {
		discord.RespondEphemeral(r, i, "You need the Mute Members permission.")
		return
	}

	var (
		userID string
		set    *bool
	)
	for _, opt := range i.ApplicationCommandData().Options {
		switch opt.Name {
		case "user":
			userID = opt.UserValue(nil).ID
		case "muted":
			v := opt.BoolValue()
			set = &v
		}
	}

	muted := mc.mutes.Get(i.GuildID, userID)
	if set != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := mc.mutes.Set(ctx, i.GuildID, userID, *set); err != nil {
			discord.RespondError(r, i, err)
			return
		}
		muted = *set
	}
	discord.RespondEphemeral(r, i, fmt.Sprintf("Muted: `%t`", muted))
}

func (mc *ModerationCommands) handlePrefix(r discord.Responder, i *discordgo.InteractionCreate) {
	if i.GuildID == "" {
		discord.RespondEphemeral(r, i, "This command only works in a server.")
		return
	}
	if !mc.perms.Allowed(i, discordgo.PermissionManageGuild) {
		discord.RespondEphemeral(r, i, "You need the Manage Server permission.")
		return
	}

	prefix := mc.prefixes.Get(i.GuildID)
	if opts := i.ApplicationCommandData().Options; len(opts) > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		prefix = opts[0].StringValue()
		if err := mc.prefixes.Set(ctx, i.GuildID, prefix); err != nil {
			discord.RespondError(r, i, err)
			return
		}
	}
	discord.RespondEphemeral(r, i, fmt.Sprintf("Prefix: `%s`", prefix))
}
