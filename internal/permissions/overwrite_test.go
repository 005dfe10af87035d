package permissions

import (
	"testing"

	"github.com/victorivanov/permd/internal/models"
)

func TestApply_DenyThenAllow(t *testing.T) {
	base := PermViewChannel | PermSendMessage | PermReact
	o := Overwrite{Allow: PermManageMessages, Deny: PermReact}
	got := Apply(base, o)
	want := PermViewChannel | PermSendMessage | PermManageMessages
	if got != want {
		t.Errorf("Apply = %s, want %s", got, want)
	}
}

func TestApply_Properties(t *testing.T) {
	bases := []Permission{None, PermViewChannel, DefaultPermissions, All}
	overwrites := []Overwrite{
		{},
		{Allow: PermSendMessage},
		{Deny: PermViewChannel | PermConnect},
		{Allow: PermManageChannel | PermKickMembers, Deny: PermSendMessage | PermSpeak},
	}
	for _, base := range bases {
		for _, o := range overwrites {
			got := Apply(base, o)
			if got != base.Subtract(o.Deny).Union(o.Allow) {
				t.Errorf("Apply(%s, %+v) = %s", base, o, got)
			}
			if !got.Has(o.Allow) {
				t.Errorf("Apply(%s, %+v) lost an allowed bit", base, o)
			}
			if got.HasAny(o.Deny &^ o.Allow) {
				t.Errorf("Apply(%s, %+v) kept a denied bit", base, o)
			}
			if again := Apply(got, o); again != got {
				t.Errorf("Apply not idempotent for %s, %+v: %s then %s", base, o, got, again)
			}
		}
	}
}

func TestApply_AllowWinsOnMalformedOverwrite(t *testing.T) {
	o := Overwrite{Allow: PermSendMessage, Deny: PermSendMessage}
	if !Apply(None, o).Has(PermSendMessage) {
		t.Error("allow should win when both sides set the same bit")
	}
	if o.State(PermSendMessage) != Allow {
		t.Error("State should report Allow for a bit set on both sides")
	}
}

func TestApply_IdentityOverwrite(t *testing.T) {
	if Apply(DefaultPermissions, Overwrite{}) != DefaultPermissions {
		t.Error("empty overwrite should be the identity")
	}
}

func TestFold_LastWins(t *testing.T) {
	got := Fold(None, []Overwrite{
		{Allow: PermViewChannel | PermSendMessage},
		{Deny: PermSendMessage},
		{Allow: PermSendMessage},
		{Deny: PermViewChannel},
	})
	if got != PermSendMessage {
		t.Errorf("Fold = %s, want SendMessage", got)
	}
}

func TestWith_MovesBitBetweenSides(t *testing.T) {
	o := Overwrite{Deny: PermSendMessage | PermReact}

	o = o.With(PermSendMessage, Allow)
	if !o.Allow.Has(PermSendMessage) || o.Deny.Has(PermSendMessage) {
		t.Errorf("allow toggle: %+v", o)
	}
	if !o.Deny.Has(PermReact) {
		t.Error("other denied bits should be untouched")
	}

	o = o.With(PermSendMessage, Deny)
	if o.Allow.Has(PermSendMessage) || !o.Deny.Has(PermSendMessage) {
		t.Errorf("deny toggle: %+v", o)
	}

	o = o.With(PermSendMessage, Inherit)
	if o.Allow.Has(PermSendMessage) || o.Deny.Has(PermSendMessage) {
		t.Errorf("inherit toggle: %+v", o)
	}
	if o.State(PermSendMessage) != Inherit {
		t.Error("expected Inherit after clearing")
	}
}

func TestWith_NeverOverlaps(t *testing.T) {
	o := Overwrite{Allow: PermSendMessage, Deny: PermSendMessage}
	for _, s := range []OverwriteState{Allow, Deny, Inherit} {
		if got := o.With(PermSendMessage, s); got.Allow&got.Deny != 0 {
			t.Errorf("With(%s) left overlap: %+v", s, got)
		}
	}
}

func TestWith_IgnoresOutOfDomainBits(t *testing.T) {
	o := Overwrite{}.With(Permission(1<<62)|PermReact, Allow)
	if o.Allow != PermReact {
		t.Errorf("Allow = %#x, want only React", uint64(o.Allow))
	}
}

func TestWithToggles(t *testing.T) {
	o := Overwrite{}.WithToggles([]Toggle{
		{Permission: PermSendMessage, State: Deny},
		{Permission: PermReact, State: Allow},
		{Permission: PermSendMessage, State: Allow},
	})
	want := Overwrite{Allow: PermSendMessage | PermReact}
	if o != want {
		t.Errorf("WithToggles = %+v, want %+v", o, want)
	}
}

func TestNormalize(t *testing.T) {
	o := Overwrite{Allow: PermSendMessage, Deny: PermSendMessage | PermReact}.Normalize()
	if o.Deny != PermReact || o.Allow != PermSendMessage {
		t.Errorf("Normalize = %+v", o)
	}
	if Apply(All, o) != All.Remove(PermReact) {
		t.Error("normalizing should not change the result of Apply")
	}
}

func TestParseOverwriteState(t *testing.T) {
	cases := map[string]OverwriteState{"allow": Allow, "DENY": Deny, "inherit": Inherit, "unset": Inherit}
	for in, want := range cases {
		got, err := ParseOverwriteState(in)
		if err != nil || got != want {
			t.Errorf("ParseOverwriteState(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseOverwriteState("maybe"); err == nil {
		t.Error("expected error for unknown state")
	}
}

func TestOverwriteFromModelMasks(t *testing.T) {
	o := OverwriteFromModel(models.Overwrite{Allow: int64(PermReact) | 1<<62, Deny: 1 << 5})
	if o.Allow != PermReact || o.Deny != None {
		t.Errorf("OverwriteFromModel = %+v", o)
	}
	if back := o.Model(); back.Allow != int64(PermReact) || back.Deny != 0 {
		t.Errorf("Model = %+v", back)
	}
}
