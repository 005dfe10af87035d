package permissions

import (
	"iter"
	"math/bits"
	"strings"
)

// Permission is a bitfield representing a set of permissions.
type Permission uint64

const (
	PermManageChannel       Permission = 1 << 0
	PermManageServer        Permission = 1 << 1
	PermManagePermissions   Permission = 1 << 2
	PermManageRole          Permission = 1 << 3
	PermManageCustomisation Permission = 1 << 4
	PermKickMembers         Permission = 1 << 6
	PermBanMembers          Permission = 1 << 7
	PermTimeoutMembers      Permission = 1 << 8
	PermAssignRoles         Permission = 1 << 9
	PermChangeNickname      Permission = 1 << 10
	PermManageNicknames     Permission = 1 << 11
	PermChangeAvatar        Permission = 1 << 12
	PermRemoveAvatars       Permission = 1 << 13
	PermViewChannel         Permission = 1 << 20
	PermReadMessageHistory  Permission = 1 << 21
	PermSendMessage         Permission = 1 << 22
	PermManageMessages      Permission = 1 << 23
	PermManageWebhooks      Permission = 1 << 24
	PermInviteOthers        Permission = 1 << 25
	PermSendEmbeds          Permission = 1 << 26
	PermUploadFiles         Permission = 1 << 27
	PermMasquerade          Permission = 1 << 28
	PermReact               Permission = 1 << 29
	PermConnect             Permission = 1 << 30 // voice
	PermSpeak               Permission = 1 << 31 // voice
	PermVideo               Permission = 1 << 32 // voice
	PermMuteMembers         Permission = 1 << 33 // voice
	PermDeafenMembers       Permission = 1 << 34 // voice
	PermMoveMembers         Permission = 1 << 35 // voice

	None Permission = 0

	// All is the union of every defined bit; complements are taken relative to it.
	All = PermManageChannel | PermManageServer | PermManagePermissions | PermManageRole |
		PermManageCustomisation | PermKickMembers | PermBanMembers | PermTimeoutMembers |
		PermAssignRoles | PermChangeNickname | PermManageNicknames | PermChangeAvatar |
		PermRemoveAvatars | PermViewChannel | PermReadMessageHistory | PermSendMessage |
		PermManageMessages | PermManageWebhooks | PermInviteOthers | PermSendEmbeds |
		PermUploadFiles | PermMasquerade | PermReact | PermConnect | PermSpeak | PermVideo |
		PermMuteMembers | PermDeafenMembers | PermMoveMembers

	// Convenience sets
	PermAllText  = PermViewChannel | PermReadMessageHistory | PermSendMessage | PermManageMessages | PermSendEmbeds | PermUploadFiles | PermReact
	PermAllVoice = PermConnect | PermSpeak | PermVideo | PermMuteMembers | PermDeafenMembers | PermMoveMembers
)

// DefaultPermissions is the member baseline a new server starts with.
const DefaultPermissions = PermViewChannel | PermReadMessageHistory | PermSendMessage |
	PermInviteOthers | PermSendEmbeds | PermUploadFiles | PermConnect | PermSpeak |
	PermChangeNickname | PermChangeAvatar

// FromRaw masks a raw integer against All so stray high bits never leak.
func FromRaw(raw uint64) Permission { return Permission(raw) & All }

// FromInt64 is FromRaw for the signed wire representation.
func FromInt64(raw int64) Permission { return FromRaw(uint64(raw)) }

// Int64 returns the wire representation.
func (p Permission) Int64() int64 { return int64(p) }

// Has returns true if p contains all bits in perm.
func (p Permission) Has(perm Permission) bool { return p&perm == perm }

// HasAny returns true if p shares at least one bit with perm.
func (p Permission) HasAny(perm Permission) bool { return p&perm != 0 }

// Add returns p with the bits from perm set.
func (p Permission) Add(perm Permission) Permission { return p | perm }

// Remove returns p with the bits from perm cleared.
func (p Permission) Remove(perm Permission) Permission { return p &^ perm }

func (p Permission) Union(other Permission) Permission     { return p | other }
func (p Permission) Intersect(other Permission) Permission { return p & other }
func (p Permission) Subtract(other Permission) Permission  { return p &^ other }

// Complement is taken relative to All, not the machine word.
func (p Permission) Complement() Permission { return All &^ p }

// Count returns the number of defined permissions in p.
func (p Permission) Count() int { return bits.OnesCount64(uint64(p & All)) }

// Bits yields every defined permission in p once, in ascending bit order.
// Each call starts a fresh iteration.
func (p Permission) Bits() iter.Seq[Permission] {
	return func(yield func(Permission) bool) {
		rest := uint64(p & All)
		for rest != 0 {
			bit := Permission(1) << bits.TrailingZeros64(rest)
			if !yield(bit) {
				return
			}
			rest &^= uint64(bit)
		}
	}
}

// Slice collects Bits into a slice.
func (p Permission) Slice() []Permission {
	out := make([]Permission, 0, p.Count())
	for bit := range p.Bits() {
		out = append(out, bit)
	}
	return out
}

// permNames maps individual permission bits to their string names.
var permNames = map[Permission]string{
	PermManageChannel:       "ManageChannel",
	PermManageServer:        "ManageServer",
	PermManagePermissions:   "ManagePermissions",
	PermManageRole:          "ManageRole",
	PermManageCustomisation: "ManageCustomisation",
	PermKickMembers:         "KickMembers",
	PermBanMembers:          "BanMembers",
	PermTimeoutMembers:      "TimeoutMembers",
	PermAssignRoles:         "AssignRoles",
	PermChangeNickname:      "ChangeNickname",
	PermManageNicknames:     "ManageNicknames",
	PermChangeAvatar:        "ChangeAvatar",
	PermRemoveAvatars:       "RemoveAvatars",
	PermViewChannel:         "ViewChannel",
	PermReadMessageHistory:  "ReadMessageHistory",
	PermSendMessage:         "SendMessage",
	PermManageMessages:      "ManageMessages",
	PermManageWebhooks:      "ManageWebhooks",
	PermInviteOthers:        "InviteOthers",
	PermSendEmbeds:          "SendEmbeds",
	PermUploadFiles:         "UploadFiles",
	PermMasquerade:          "Masquerade",
	PermReact:               "React",
	PermConnect:             "Connect",
	PermSpeak:               "Speak",
	PermVideo:               "Video",
	PermMuteMembers:         "MuteMembers",
	PermDeafenMembers:       "DeafenMembers",
	PermMoveMembers:         "MoveMembers",
}

var permByName = func() map[string]Permission {
	m := make(map[string]Permission, len(permNames))
	for bit, name := range permNames {
		m[strings.ToLower(name)] = bit
	}
	return m
}()

// ParsePermission looks up a single permission by name, case-insensitively.
func ParsePermission(name string) (Permission, bool) {
	p, ok := permByName[strings.ToLower(strings.TrimSpace(name))]
	return p, ok
}

// Name returns the name of a single permission bit, or "" if p is not one.
func (p Permission) Name() string { return permNames[p] }

// Names lists the names of the permissions in p in ascending bit order.
func (p Permission) Names() []string {
	names := make([]string, 0, p.Count())
	for bit := range p.Bits() {
		names = append(names, permNames[bit])
	}
	return names
}

// String returns a human-readable representation of the permission set,
// listing all set permission names separated by " | ".
func (p Permission) String() string {
	if p == None {
		return "NONE"
	}
	names := p.Names()
	if len(names) == 0 {
		return "UNKNOWN"
	}
	return strings.Join(names, " | ")
}
