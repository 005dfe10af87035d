package permissions

import (
	"cmp"
	"slices"

	"github.com/victorivanov/permd/internal/models"
)

// RankedRole pairs a role with its id so it can be ordered.
type RankedRole struct {
	ID   string
	Role models.Role
}

// compareRank orders by rank, then by id. Lower sorts first and has higher precedence.
func compareRank(a, b RankedRole) int {
	if c := cmp.Compare(a.Role.Rank, b.Role.Rank); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

// MemberRoles resolves the member's role ids against the server registry,
// dropping ids that no longer exist, and returns them highest precedence first.
func MemberRoles(member models.Member, server models.Server) []RankedRole {
	roles := make([]RankedRole, 0, len(member.Roles))
	seen := make(map[string]struct{}, len(member.Roles))
	for _, id := range member.Roles {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		role, ok := server.Role(id)
		if !ok {
			continue
		}
		roles = append(roles, RankedRole{ID: id, Role: role})
	}
	slices.SortFunc(roles, compareRank)
	return roles
}

// RankedOverwrites returns the server-level overwrites for a member in fold
// order: the server default as a pure allow first, then each role from the
// numerically highest rank down, so the lowest rank is applied last.
func RankedOverwrites(member models.Member, server models.Server) []Overwrite {
	roles := MemberRoles(member, server)
	out := make([]Overwrite, 0, len(roles)+1)
	out = append(out, Overwrite{Allow: FromInt64(server.DefaultPermissions)})
	for _, r := range slices.Backward(roles) {
		out = append(out, OverwriteFromModel(r.Role.Permissions))
	}
	return out
}

// ChannelOverwrites returns the channel-level overwrites for a member in
// fold order: the channel default first, then role overwrites from the
// numerically highest rank down. Roles without a channel entry contribute
// nothing.
func ChannelOverwrites(member models.Member, server models.Server, channel models.Channel) []Overwrite {
	roles := MemberRoles(member, server)
	out := make([]Overwrite, 0, len(roles)+1)
	if channel.DefaultPermissions != nil {
		out = append(out, OverwriteFromModel(*channel.DefaultPermissions))
	}
	for _, r := range slices.Backward(roles) {
		if o, ok := channel.RolePermissions[r.ID]; ok {
			out = append(out, OverwriteFromModel(o))
		}
	}
	return out
}

// TopRank returns the member's best (lowest) rank, or ok=false when the
// member holds no resolvable role.
func TopRank(member models.Member, server models.Server) (rank int64, ok bool) {
	roles := MemberRoles(member, server)
	if len(roles) == 0 {
		return 0, false
	}
	return roles[0].Role.Rank, true
}

// ServerRoles returns every role of the server, highest precedence first.
func ServerRoles(server models.Server) []RankedRole {
	roles := make([]RankedRole, 0, len(server.Roles))
	for id, role := range server.Roles {
		roles = append(roles, RankedRole{ID: id, Role: role})
	}
	slices.SortFunc(roles, compareRank)
	return roles
}
