package models

// Role belongs to exactly one Server and is keyed by id in Server.Roles.
// Lower Rank means higher precedence.
type Role struct {
	Name        string    `json:"name"`
	Permissions Overwrite `json:"permissions"`
	Colour      *string   `json:"colour,omitempty"`
	Hoist       *bool     `json:"hoist,omitempty"`
	Rank        int64     `json:"rank"`
}

// IsHoisted reports whether the role gets its own member-list section.
func (r Role) IsHoisted() bool { return r.Hoist != nil && *r.Hoist }

// PartialRole carries the fields of a ServerRoleUpdate event.
type PartialRole struct {
	Name        *string    `json:"name,omitempty"`
	Permissions *Overwrite `json:"permissions,omitempty"`
	Colour      *string    `json:"colour,omitempty"`
	Hoist       *bool      `json:"hoist,omitempty"`
	Rank        *int64     `json:"rank,omitempty"`
}

// Clearable role fields.
const (
	FieldRoleColour = "Colour"
)

// Apply merges p into r and clears the named fields. The permission pair
// is replaced as a whole, never one side at a time.
func (r Role) Apply(p PartialRole, clear []string) Role {
	for _, f := range clear {
		if f == FieldRoleColour {
			r.Colour = nil
		}
	}
	if p.Name != nil {
		r.Name = *p.Name
	}
	if p.Permissions != nil {
		r.Permissions = *p.Permissions
	}
	if p.Colour != nil {
		r.Colour = p.Colour
	}
	if p.Hoist != nil {
		r.Hoist = p.Hoist
	}
	if p.Rank != nil {
		r.Rank = *p.Rank
	}
	return r
}
