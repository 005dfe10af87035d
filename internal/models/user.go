package models

// User is the mirrored subset of a chat-service user.
type User struct {
	ID            string  `json:"_id"`
	Username      string  `json:"username"`
	Discriminator string  `json:"discriminator,omitempty"`
	DisplayName   *string `json:"display_name,omitempty"`
	Bot           bool    `json:"bot,omitempty"`
	Privileged    bool    `json:"privileged,omitempty"`
}

// PartialUser carries the fields of a UserUpdate event.
type PartialUser struct {
	Username      *string `json:"username,omitempty"`
	Discriminator *string `json:"discriminator,omitempty"`
	DisplayName   *string `json:"display_name,omitempty"`
}

// Clearable user fields.
const (
	FieldUserDisplayName = "DisplayName"
)

// Apply merges p into u and clears the named fields.
func (u User) Apply(p PartialUser, clear []string) User {
	for _, f := range clear {
		if f == FieldUserDisplayName {
			u.DisplayName = nil
		}
	}
	if p.Username != nil {
		u.Username = *p.Username
	}
	if p.Discriminator != nil {
		u.Discriminator = *p.Discriminator
	}
	if p.DisplayName != nil {
		u.DisplayName = p.DisplayName
	}
	return u
}
