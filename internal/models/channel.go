package models

import (
	"maps"
	"slices"
)

type ChannelType string

const (
	ChannelTypeSavedMessages ChannelType = "SavedMessages"
	ChannelTypeDirectMessage ChannelType = "DirectMessage"
	ChannelTypeGroup         ChannelType = "Group"
	ChannelTypeText          ChannelType = "TextChannel"
	ChannelTypeVoice         ChannelType = "VoiceChannel"
)

// IsServerChannel reports whether channels of this type belong to a server.
func (t ChannelType) IsServerChannel() bool {
	return t == ChannelTypeText || t == ChannelTypeVoice
}

// Channel covers every channel kind. Which fields are meaningful depends
// on Type: User for SavedMessages, Recipients for DMs and groups, Owner and
// Permissions for groups, Server and the overwrite maps for server channels.
type Channel struct {
	Type               ChannelType          `json:"channel_type"`
	ID                 string               `json:"_id"`
	Server             string               `json:"server,omitempty"`
	Name               string               `json:"name,omitempty"`
	User               string               `json:"user,omitempty"`
	Recipients         []string             `json:"recipients,omitempty"`
	Owner              string               `json:"owner,omitempty"`
	Permissions        *int64               `json:"permissions,omitempty"`
	DefaultPermissions *Overwrite           `json:"default_permissions,omitempty"`
	RolePermissions    map[string]Overwrite `json:"role_permissions,omitempty"`
}

// HasRecipient reports whether userID participates in a DM or group.
func (c Channel) HasRecipient(userID string) bool {
	return slices.Contains(c.Recipients, userID)
}

// Clone returns a copy that shares no mutable state with c.
func (c Channel) Clone() Channel {
	c.Recipients = slices.Clone(c.Recipients)
	c.RolePermissions = maps.Clone(c.RolePermissions)
	return c
}

// PartialChannel carries the fields of a ChannelUpdate event.
type PartialChannel struct {
	Name               *string              `json:"name,omitempty"`
	Owner              *string              `json:"owner,omitempty"`
	Permissions        *int64               `json:"permissions,omitempty"`
	DefaultPermissions *Overwrite           `json:"default_permissions,omitempty"`
	RolePermissions    map[string]Overwrite `json:"role_permissions,omitempty"`
}

// Clearable channel fields.
const (
	FieldChannelDefaultPermissions = "DefaultPermissions"
)

// Apply merges p into a clone of c. A non-nil RolePermissions map
// replaces the whole map, as the upstream service sends it.
func (c Channel) Apply(p PartialChannel, clear []string) Channel {
	c = c.Clone()
	for _, f := range clear {
		if f == FieldChannelDefaultPermissions {
			c.DefaultPermissions = nil
		}
	}
	if p.Name != nil {
		c.Name = *p.Name
	}
	if p.Owner != nil {
		c.Owner = *p.Owner
	}
	if p.Permissions != nil {
		v := *p.Permissions
		c.Permissions = &v
	}
	if p.DefaultPermissions != nil {
		v := *p.DefaultPermissions
		c.DefaultPermissions = &v
	}
	if p.RolePermissions != nil {
		c.RolePermissions = maps.Clone(p.RolePermissions)
	}
	return c
}
