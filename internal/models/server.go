package models

import "maps"

// Server owns the authoritative role registry.
type Server struct {
	ID                 string          `json:"_id"`
	Owner              string          `json:"owner"`
	Name               string          `json:"name"`
	Channels           []string        `json:"channels,omitempty"`
	DefaultPermissions int64           `json:"default_permissions"`
	Roles              map[string]Role `json:"roles,omitempty"`
}

// Role looks up a role by id.
func (s Server) Role(id string) (Role, bool) {
	r, ok := s.Roles[id]
	return r, ok
}

// Clone returns a copy that shares no mutable state with s.
func (s Server) Clone() Server {
	s.Channels = append([]string(nil), s.Channels...)
	s.Roles = maps.Clone(s.Roles)
	return s
}

// PartialServer carries the fields of a ServerUpdate event.
type PartialServer struct {
	Owner              *string   `json:"owner,omitempty"`
	Name               *string   `json:"name,omitempty"`
	Channels           *[]string `json:"channels,omitempty"`
	DefaultPermissions *int64    `json:"default_permissions,omitempty"`
}

// Apply merges p into a clone of s.
func (s Server) Apply(p PartialServer) Server {
	s = s.Clone()
	if p.Owner != nil {
		s.Owner = *p.Owner
	}
	if p.Name != nil {
		s.Name = *p.Name
	}
	if p.Channels != nil {
		s.Channels = append([]string(nil), (*p.Channels)...)
	}
	if p.DefaultPermissions != nil {
		s.DefaultPermissions = *p.DefaultPermissions
	}
	return s
}
