package models

import (
	"slices"
	"time"
)

// MemberID is the composite key of a member.
type MemberID struct {
	Server string `json:"server"`
	User   string `json:"user"`
}

// Member references roles by id only; stale ids are tolerated.
type Member struct {
	ID       MemberID   `json:"_id"`
	JoinedAt *time.Time `json:"joined_at,omitempty"`
	Nickname *string    `json:"nickname,omitempty"`
	Roles    []string   `json:"roles,omitempty"`
}

// HasRole reports whether the member holds roleID.
func (m Member) HasRole(roleID string) bool {
	return slices.Contains(m.Roles, roleID)
}

// PartialMember carries the fields of a ServerMemberUpdate event.
type PartialMember struct {
	Nickname *string   `json:"nickname,omitempty"`
	Roles    *[]string `json:"roles,omitempty"`
}

// Clearable member fields.
const (
	FieldMemberNickname = "Nickname"
	FieldMemberRoles    = "Roles"
)

// Apply merges p into m and clears the named fields.
func (m Member) Apply(p PartialMember, clear []string) Member {
	m.Roles = slices.Clone(m.Roles)
	for _, f := range clear {
		switch f {
		case FieldMemberNickname:
			m.Nickname = nil
		case FieldMemberRoles:
			m.Roles = nil
		}
	}
	if p.Nickname != nil {
		m.Nickname = p.Nickname
	}
	if p.Roles != nil {
		m.Roles = slices.Clone(*p.Roles)
	}
	return m
}
