package discord

import (
	"sync/atomic"

	"github.com/bwmarrin/discordgo"
)

// PermissionChecker decides whether an interaction author may run a
// privileged slash command. Owners may run everything. It is safe for
// concurrent use.
type PermissionChecker struct {
	owners atomic.Pointer[map[string]struct{}]
}

// NewPermissionChecker creates a PermissionChecker with the given owner IDs.
func NewPermissionChecker(owners []string) *PermissionChecker {
	p := &PermissionChecker{}
	p.SetOwners(owners)
	return p
}

// SetOwners replaces the owner set.
func (p *PermissionChecker) SetOwners(owners []string) {
	m := make(map[string]struct{}, len(owners))
	for _, id := range owners {
		m[id] = struct{}{}
	}
	p.owners.Store(&m)
}

// IsOwner reports whether userID is a bot owner.
func (p *PermissionChecker) IsOwner(userID string) bool {
	_, ok := (*p.owners.Load())[userID]
	return ok
}

// Allowed reports whether the interaction author holds perm (or
// Administrator) in the guild, or is an owner. Interactions outside a guild
// are only allowed for owners.
func (p *PermissionChecker) Allowed(i *discordgo.InteractionCreate, perm int64) bool {
	if p.IsOwner(UserID(i)) {
		return true
	}
	if i.Member == nil {
		return false
	}
	return i.Member.Permissions&(perm|discordgo.PermissionAdministrator) != 0
}

// UserID returns the ID of the interaction author, in a guild or in DMs.
func UserID(i *discordgo.InteractionCreate) string {
	switch {
	case i.Member != nil && i.Member.User != nil:
		return i.Member.User.ID
	case i.User != nil:
		return i.User.ID
	default:
		return ""
	}
}
