package models

// Overwrite is the wire form of an allow/deny pair. Bits are raw and
// unmasked; the permissions package masks them on conversion.
type Overwrite struct {
	Allow int64 `json:"a"`
	Deny  int64 `json:"d"`
}

// IsZero reports whether the overwrite changes nothing.
func (o Overwrite) IsZero() bool { return o.Allow == 0 && o.Deny == 0 }
