package store

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/victorivanov/permd/internal/models"
)

func startStore(t *testing.T) (*Store, context.Context) {
	t.Helper()
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go s.Run(ctx)
	return s, ctx
}

func mustApply(t *testing.T, s *Store, ctx context.Context, u Update) uint64 {
	t.Helper()
	v, err := s.Apply(ctx, u)
	if err != nil {
		t.Fatalf("Apply(%s): %v", u.Kind(), err)
	}
	return v
}

func seed() Ready {
	return Ready{
		Users: []models.User{{ID: "owner", Username: "owner"}, {ID: "alice", Username: "alice"}},
		Servers: []models.Server{{
			ID:                 "srv",
			Owner:              "owner",
			Name:               "Test",
			Channels:           []string{"general"},
			DefaultPermissions: 1 << 20,
			Roles: map[string]models.Role{
				"mod": {Name: "Mod", Rank: 1, Permissions: models.Overwrite{Allow: 1 << 23}},
			},
		}},
		Channels: []models.Channel{{
			Type:            models.ChannelTypeText,
			ID:              "general",
			Server:          "srv",
			RolePermissions: map[string]models.Overwrite{"mod": {Allow: 1 << 22}},
		}},
		Members: []models.Member{
			{ID: models.MemberID{Server: "srv", User: "owner"}},
			{ID: models.MemberID{Server: "srv", User: "alice"}, Roles: []string{"mod"}},
		},
	}
}

func TestStore_EmptyAtStart(t *testing.T) {
	s := New()
	snap := s.Snapshot()
	if snap.Version != 0 {
		t.Errorf("expected version 0, got %d", snap.Version)
	}
	if st := snap.Stats(); st.Users+st.Servers+st.Channels+st.Members != 0 {
		t.Errorf("expected empty snapshot, got %+v", st)
	}
}

func TestStore_ReadyReplacesEverything(t *testing.T) {
	s, ctx := startStore(t)
	mustApply(t, s, ctx, ServerCreate{Server: models.Server{ID: "old"}})
	v := mustApply(t, s, ctx, seed())

	snap := s.Snapshot()
	if snap.Version != v {
		t.Errorf("snapshot version %d, Apply returned %d", snap.Version, v)
	}
	if _, ok := snap.Server("old"); ok {
		t.Error("Ready should drop entities it does not carry")
	}
	st := snap.Stats()
	if st.Users != 2 || st.Servers != 1 || st.Channels != 1 || st.Members != 2 {
		t.Errorf("unexpected stats %+v", st)
	}
}

func TestStore_VersionsIncrease(t *testing.T) {
	s, ctx := startStore(t)
	v1 := mustApply(t, s, ctx, seed())
	v2 := mustApply(t, s, ctx, UserUpdate{ID: "alice", Data: models.PartialUser{Username: ptr("alicia")}})
	if v2 != v1+1 {
		t.Errorf("versions %d then %d", v1, v2)
	}
}

func TestStore_OldSnapshotUnchanged(t *testing.T) {
	s, ctx := startStore(t)
	mustApply(t, s, ctx, seed())
	before := s.Snapshot()

	mustApply(t, s, ctx, RoleUpdate{
		ServerID: "srv",
		RoleID:   "mod",
		Data:     models.PartialRole{Permissions: &models.Overwrite{Allow: 1, Deny: 2}},
	})
	mustApply(t, s, ctx, MemberLeave{ServerID: "srv", UserID: "alice"})

	srv, _ := before.Server("srv")
	if srv.Roles["mod"].Permissions != (models.Overwrite{Allow: 1 << 23}) {
		t.Error("published snapshot was modified by a later update")
	}
	if before.Member("srv", "alice") == nil {
		t.Error("published snapshot lost a member after a later update")
	}

	after, _ := s.Snapshot().Server("srv")
	if after.Roles["mod"].Permissions != (models.Overwrite{Allow: 1, Deny: 2}) {
		t.Errorf("role permissions = %+v", after.Roles["mod"].Permissions)
	}
}

func TestStore_RoleUpdateCreatesRole(t *testing.T) {
	s, ctx := startStore(t)
	mustApply(t, s, ctx, seed())
	rank := int64(5)
	mustApply(t, s, ctx, RoleUpdate{ServerID: "srv", RoleID: "new", Data: models.PartialRole{Name: ptr("New"), Rank: &rank}})

	srv, _ := s.Snapshot().Server("srv")
	role, ok := srv.Role("new")
	if !ok || role.Name != "New" || role.Rank != 5 {
		t.Errorf("role = %+v, %v", role, ok)
	}
}

func TestStore_RoleDeleteScrubsReferences(t *testing.T) {
	s, ctx := startStore(t)
	mustApply(t, s, ctx, seed())
	mustApply(t, s, ctx, RoleDelete{ServerID: "srv", RoleID: "mod"})

	snap := s.Snapshot()
	srv, _ := snap.Server("srv")
	if _, ok := srv.Role("mod"); ok {
		t.Error("role should be gone from the server")
	}
	if m := snap.Member("srv", "alice"); m == nil || m.HasRole("mod") {
		t.Errorf("member still holds deleted role: %+v", m)
	}
	ch, _ := snap.Channel("general")
	if _, ok := ch.RolePermissions["mod"]; ok {
		t.Error("channel still carries an overwrite for the deleted role")
	}
}

func TestStore_MemberLifecycle(t *testing.T) {
	s, ctx := startStore(t)
	mustApply(t, s, ctx, seed())

	mustApply(t, s, ctx, MemberJoin{ServerID: "srv", UserID: "bob", User: &models.User{ID: "bob", Username: "bob"}})
	if m := s.Snapshot().Member("srv", "bob"); m == nil || len(m.Roles) != 0 {
		t.Fatalf("joined member = %+v", m)
	}
	if _, ok := s.Snapshot().User("bob"); !ok {
		t.Error("joining user should be mirrored")
	}

	roles := []string{"mod"}
	mustApply(t, s, ctx, MemberUpdate{ID: models.MemberID{Server: "srv", User: "bob"}, Data: models.PartialMember{Roles: &roles}})
	if m := s.Snapshot().Member("srv", "bob"); m == nil || !m.HasRole("mod") {
		t.Errorf("updated member = %+v", m)
	}

	mustApply(t, s, ctx, MemberUpdate{ID: models.MemberID{Server: "srv", User: "bob"}, Clear: []string{models.FieldMemberRoles}})
	if m := s.Snapshot().Member("srv", "bob"); m == nil || len(m.Roles) != 0 {
		t.Errorf("cleared member = %+v", m)
	}

	mustApply(t, s, ctx, MemberLeave{ServerID: "srv", UserID: "bob"})
	if s.Snapshot().Member("srv", "bob") != nil {
		t.Error("member should be gone after leaving")
	}
}

func TestStore_ChannelLinksToServer(t *testing.T) {
	s, ctx := startStore(t)
	mustApply(t, s, ctx, seed())
	mustApply(t, s, ctx, ChannelCreate{Channel: models.Channel{Type: models.ChannelTypeVoice, ID: "voice", Server: "srv"}})

	srv, _ := s.Snapshot().Server("srv")
	if len(srv.Channels) != 2 || srv.Channels[1] != "voice" {
		t.Errorf("server channels = %v", srv.Channels)
	}
	if got := s.Snapshot().ServerChannels("srv"); len(got) != 2 || got[0].ID != "general" {
		t.Errorf("ServerChannels = %+v", got)
	}

	mustApply(t, s, ctx, ChannelDelete{ID: "voice"})
	srv, _ = s.Snapshot().Server("srv")
	if len(srv.Channels) != 1 {
		t.Errorf("server channels after delete = %v", srv.Channels)
	}
}

func TestStore_ChannelUpdateClearsDefault(t *testing.T) {
	s, ctx := startStore(t)
	mustApply(t, s, ctx, seed())
	mustApply(t, s, ctx, ChannelUpdate{ID: "general", Data: models.PartialChannel{DefaultPermissions: &models.Overwrite{Deny: 1 << 22}}})

	ch, _ := s.Snapshot().Channel("general")
	if ch.DefaultPermissions == nil || ch.DefaultPermissions.Deny != 1<<22 {
		t.Fatalf("default overwrite = %+v", ch.DefaultPermissions)
	}

	mustApply(t, s, ctx, ChannelUpdate{ID: "general", Clear: []string{models.FieldChannelDefaultPermissions}})
	ch, _ = s.Snapshot().Channel("general")
	if ch.DefaultPermissions != nil {
		t.Error("default overwrite should be cleared")
	}
}

func TestStore_GroupMembership(t *testing.T) {
	s, ctx := startStore(t)
	mustApply(t, s, ctx, ChannelCreate{Channel: models.Channel{Type: models.ChannelTypeGroup, ID: "grp", Owner: "a", Recipients: []string{"a"}}})
	mustApply(t, s, ctx, GroupJoin{ChannelID: "grp", UserID: "b"})
	mustApply(t, s, ctx, GroupJoin{ChannelID: "grp", UserID: "b"})

	ch, _ := s.Snapshot().Channel("grp")
	if len(ch.Recipients) != 2 {
		t.Errorf("recipients = %v", ch.Recipients)
	}

	mustApply(t, s, ctx, GroupLeave{ChannelID: "grp", UserID: "a"})
	ch, _ = s.Snapshot().Channel("grp")
	if ch.HasRecipient("a") || !ch.HasRecipient("b") {
		t.Errorf("recipients after leave = %v", ch.Recipients)
	}
}

func TestStore_ServerDeleteCascades(t *testing.T) {
	s, ctx := startStore(t)
	mustApply(t, s, ctx, seed())
	mustApply(t, s, ctx, ServerDelete{ID: "srv"})

	snap := s.Snapshot()
	if _, ok := snap.Server("srv"); ok {
		t.Error("server should be deleted")
	}
	if _, ok := snap.Channel("general"); ok {
		t.Error("server channels should be deleted")
	}
	if len(snap.Members("srv")) != 0 {
		t.Error("server members should be deleted")
	}
	if _, ok := snap.User("alice"); !ok {
		t.Error("users outlive the servers they belong to")
	}
}

func TestStore_UpdatesForMissingEntitiesAreIgnored(t *testing.T) {
	s, ctx := startStore(t)
	mustApply(t, s, ctx, ServerUpdate{ID: "nope", Data: models.PartialServer{Name: ptr("x")}})
	mustApply(t, s, ctx, RoleUpdate{ServerID: "nope", RoleID: "r"})
	mustApply(t, s, ctx, MemberUpdate{ID: models.MemberID{Server: "nope", User: "u"}})
	mustApply(t, s, ctx, ChannelUpdate{ID: "nope"})
	mustApply(t, s, ctx, UserUpdate{ID: "nope"})

	if st := s.Snapshot().Stats(); st.Servers+st.Channels+st.Members+st.Users != 0 {
		t.Errorf("expected nothing created, got %+v", st)
	}
}

func TestStore_SubscribeSeesLatestVersion(t *testing.T) {
	s, ctx := startStore(t)
	versions, cancel := s.Subscribe()
	defer cancel()

	mustApply(t, s, ctx, seed())
	last := mustApply(t, s, ctx, MemberLeave{ServerID: "srv", UserID: "alice"})

	select {
	case v := <-versions:
		if v != last {
			t.Errorf("subscriber saw version %d, want %d", v, last)
		}
	case <-time.After(time.Second):
		t.Fatal("no version notification")
	}
}

func TestStore_SubmitAfterStop(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	cancel()
	<-done

	// Fill the queue so Submit cannot succeed by buffering.
	for i := 0; i < cap(s.requests); i++ {
		s.requests <- request{update: UserUpdate{}}
	}
	if err := s.Submit(context.Background(), UserUpdate{}); err != ErrStopped {
		t.Errorf("Submit after stop = %v, want ErrStopped", err)
	}
}

func TestSnapshot_ExportRoundTrip(t *testing.T) {
	snap := FromReady(seed())
	again := FromReady(snap.Export())
	if snap.Stats() != again.Stats() {
		t.Errorf("stats differ: %+v vs %+v", snap.Stats(), again.Stats())
	}
	if m := again.Member("srv", "alice"); m == nil || !m.HasRole("mod") {
		t.Errorf("member lost in export: %+v", m)
	}
}

func TestFromReady_FreshEpoch(t *testing.T) {
	a, b := FromReady(seed()), FromReady(seed())
	if a.Epoch == "" || a.Epoch == b.Epoch {
		t.Errorf("epochs = %q, %q; want distinct non-empty", a.Epoch, b.Epoch)
	}
	if a.Version != b.Version {
		t.Errorf("versions = %d, %d", a.Version, b.Version)
	}
}

func TestArchive_CarriesEpoch(t *testing.T) {
	snap := FromReady(seed())
	var buf bytes.Buffer
	if err := WriteArchive(&buf, snap); err != nil {
		t.Fatalf("WriteArchive: %v", err)
	}
	a, err := ReadArchive(&buf)
	if err != nil {
		t.Fatalf("ReadArchive: %v", err)
	}
	if a.Epoch != snap.Epoch || a.Version != snap.Version {
		t.Errorf("archive = %s/%d, want %s/%d", a.Epoch, a.Version, snap.Epoch, snap.Version)
	}
}

func ptr[T any](v T) *T { return &v }
