package permissions

import (
	"fmt"
	"strings"

	"github.com/victorivanov/permd/internal/models"
)

// Overwrite is an edit to a baseline: Allow bits are forced on, Deny bits
// forced off, everything else inherited.
type Overwrite struct {
	Allow Permission
	Deny  Permission
}

// OverwriteFromModel converts the wire form, masking stray bits.
func OverwriteFromModel(o models.Overwrite) Overwrite {
	return Overwrite{Allow: FromInt64(o.Allow), Deny: FromInt64(o.Deny)}
}

// Model returns the wire form.
func (o Overwrite) Model() models.Overwrite {
	return models.Overwrite{Allow: o.Allow.Int64(), Deny: o.Deny.Int64()}
}

// Apply returns (base - deny) | allow. Deny is removed before allow is
// added, so allow wins when a malformed overwrite sets both.
func Apply(base Permission, o Overwrite) Permission {
	return base.Remove(o.Deny).Add(o.Allow)
}

// Fold applies overwrites left to right; the last one has the final say.
func Fold(base Permission, overwrites []Overwrite) Permission {
	for _, o := range overwrites {
		base = Apply(base, o)
	}
	return base
}

// Normalize clears from Deny every bit that Allow also sets.
func (o Overwrite) Normalize() Overwrite {
	o.Deny = o.Deny.Remove(o.Allow)
	return o
}

// OverwriteState is the three-way editor setting of a single permission.
type OverwriteState int

const (
	Inherit OverwriteState = iota
	Allow
	Deny
)

func (s OverwriteState) String() string {
	switch s {
	case Allow:
		return "allow"
	case Deny:
		return "deny"
	default:
		return "inherit"
	}
}

// ParseOverwriteState accepts "allow", "deny", "inherit" (or "unset").
func ParseOverwriteState(s string) (OverwriteState, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "allow":
		return Allow, nil
	case "deny":
		return Deny, nil
	case "inherit", "unset", "":
		return Inherit, nil
	}
	return Inherit, fmt.Errorf("unknown overwrite state %q", s)
}

func (s OverwriteState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *OverwriteState) UnmarshalText(b []byte) error {
	v, err := ParseOverwriteState(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// With returns o with perm moved to the side named by state. The bit is
// always cleared from the opposite side, so the result never sets the same
// bit in both Allow and Deny.
func (o Overwrite) With(perm Permission, state OverwriteState) Overwrite {
	perm &= All
	o.Allow = o.Allow.Remove(perm)
	o.Deny = o.Deny.Remove(perm)
	switch state {
	case Allow:
		o.Allow = o.Allow.Add(perm)
	case Deny:
		o.Deny = o.Deny.Add(perm)
	}
	return o
}

// State reports how o treats a single permission. A bit set on both sides
// reads as Allow, agreeing with Apply.
func (o Overwrite) State(perm Permission) OverwriteState {
	switch {
	case o.Allow.Has(perm):
		return Allow
	case o.Deny.Has(perm):
		return Deny
	default:
		return Inherit
	}
}

// Toggle is one editor change.
type Toggle struct {
	Permission Permission
	State      OverwriteState
}

// WithToggles applies toggles in order.
func (o Overwrite) WithToggles(toggles []Toggle) Overwrite {
	for _, t := range toggles {
		o = o.With(t.Permission, t.State)
	}
	return o
}
