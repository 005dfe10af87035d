package permissions

import (
	"cmp"
	"slices"

	"github.com/victorivanov/permd/internal/models"
)

// HoistedRoles returns the server's hoisted roles, highest precedence first.
func HoistedRoles(server models.Server) []RankedRole {
	roles := ServerRoles(server)
	return slices.DeleteFunc(roles, func(r RankedRole) bool { return !r.Role.IsHoisted() })
}

// SectionFor returns the hoisted section a member is listed under: the
// member's highest-precedence role that appears in hoisted. ok is false
// when the member belongs in the unsectioned bucket.
func SectionFor(member models.Member, hoisted []RankedRole) (roleID string, ok bool) {
	if len(member.Roles) == 0 || len(hoisted) == 0 {
		return "", false
	}

	held := make([]RankedRole, 0, len(member.Roles))
	for _, h := range hoisted {
		if member.HasRole(h.ID) {
			held = append(held, h)
		}
	}
	if len(held) == 0 {
		return "", false
	}
	return slices.MinFunc(held, compareRank).ID, true
}

// Section is one group of a member list. RoleID is empty for the
// unsectioned bucket.
type Section struct {
	RoleID  string
	Role    *models.Role
	Members []models.Member
}

// SectionMembers groups members under their hoisted section. Sections come
// in precedence order followed by the unsectioned bucket; empty sections
// are omitted and every member appears exactly once. Members within a
// section are ordered by user id.
func SectionMembers(server models.Server, members []models.Member) []Section {
	hoisted := HoistedRoles(server)
	byRole := make(map[string][]models.Member, len(hoisted))
	var rest []models.Member

	for _, m := range members {
		if id, ok := SectionFor(m, hoisted); ok {
			byRole[id] = append(byRole[id], m)
			continue
		}
		rest = append(rest, m)
	}

	byUser := func(a, b models.Member) int { return cmp.Compare(a.ID.User, b.ID.User) }

	sections := make([]Section, 0, len(byRole)+1)
	for _, h := range hoisted {
		ms, ok := byRole[h.ID]
		if !ok {
			continue
		}
		slices.SortFunc(ms, byUser)
		role := h.Role
		sections = append(sections, Section{RoleID: h.ID, Role: &role, Members: ms})
	}
	if len(rest) > 0 {
		slices.SortFunc(rest, byUser)
		sections = append(sections, Section{Members: rest})
	}
	return sections
}
