package service

import (
	"context"
	"log/slog"

	"github.com/victorivanov/permd/internal/models"
	"github.com/victorivanov/permd/internal/permissions"
	"github.com/victorivanov/permd/internal/redis"
	"github.com/victorivanov/permd/internal/store"
)

// DefaultOverwriteTarget names a channel's default overwrite in place of a role id.
const DefaultOverwriteTarget = "default"

// SnapshotProvider returns the current mirror snapshot.
type SnapshotProvider interface {
	Snapshot() *store.Snapshot
}

// PermissionCache stores resolved permissions per snapshot.
type PermissionCache interface {
	GetCachedPermissions(ctx context.Context, key redis.PermissionKey) (uint64, bool, error)
	CachePermissions(ctx context.Context, key redis.PermissionKey, perms uint64) error
}

// Resolved is the outcome of a permission query.
type Resolved struct {
	UserID      string
	TargetID    string
	Permissions permissions.Permission
	Version     uint64
	Cached      bool
}

// OverwritePreview shows an overwrite before and after a set of toggles.
type OverwritePreview struct {
	TargetID string
	Before   permissions.Overwrite
	After    permissions.Overwrite
	Version  uint64
}

// PermissionService answers permission queries against the mirror.
type PermissionService struct {
	snapshots SnapshotProvider
	cache     PermissionCache // may be nil
}

// NewPermissionService creates a PermissionService. cache may be nil.
func NewPermissionService(snapshots SnapshotProvider, cache PermissionCache) *PermissionService {
	return &PermissionService{snapshots: snapshots, cache: cache}
}

// snapshot returns the current snapshot, failing while the mirror is empty.
func (s *PermissionService) snapshot() (*store.Snapshot, error) {
	snap := s.snapshots.Snapshot()
	if snap == nil || snap.Version == 0 {
		return nil, Unavailable("MIRROR_NOT_READY", "permission mirror is not ready")
	}
	return snap, nil
}

func subjectOf(actorID, userID string) string {
	if userID == "" || userID == "@me" {
		return actorID
	}
	return userID
}

// serverFor looks up a server the actor belongs to.
func serverFor(snap *store.Snapshot, actorID, serverID string) (models.Server, error) {
	server, ok := snap.Server(serverID)
	if !ok {
		return models.Server{}, NotFound("UNKNOWN_SERVER", "server not found")
	}
	if snap.Member(serverID, actorID) == nil {
		return models.Server{}, Forbidden("NOT_A_MEMBER", "you are not a member of this server")
	}
	return server, nil
}

// channelFor looks up a channel the actor can see: a member of its server
// or a participant of a private channel.
func channelFor(snap *store.Snapshot, actorID, channelID string) (models.Channel, error) {
	ch, ok := snap.Channel(channelID)
	if !ok {
		return models.Channel{}, NotFound("UNKNOWN_CHANNEL", "channel not found")
	}

	var allowed bool
	switch ch.Type {
	case models.ChannelTypeSavedMessages:
		allowed = ch.User == actorID
	case models.ChannelTypeDirectMessage:
		allowed = ch.HasRecipient(actorID)
	case models.ChannelTypeGroup:
		allowed = ch.Owner == actorID || ch.HasRecipient(actorID)
	default:
		allowed = snap.Member(ch.Server, actorID) != nil
	}
	if !allowed {
		return models.Channel{}, Forbidden("NO_CHANNEL_ACCESS", "you cannot access this channel")
	}
	return ch, nil
}

// ServerPermissions resolves what userID may do in serverID. An empty
// userID or "@me" means the actor.
func (s *PermissionService) ServerPermissions(ctx context.Context, actorID, serverID, userID string) (*Resolved, error) {
	snap, err := s.snapshot()
	if err != nil {
		return nil, err
	}
	server, err := serverFor(snap, actorID, serverID)
	if err != nil {
		return nil, err
	}

	subject := subjectOf(actorID, userID)
	key := redis.PermissionKey{Epoch: snap.Epoch, Version: snap.Version, Scope: redis.ScopeServer, TargetID: serverID, UserID: subject}
	if perms, ok := s.cached(ctx, key); ok {
		return &Resolved{UserID: subject, TargetID: serverID, Permissions: perms, Version: snap.Version, Cached: true}, nil
	}

	perms := permissions.ResolveServerPermissions(snap.UserOrStub(subject), snap.Member(serverID, subject), server)
	s.store(ctx, key, perms)
	return &Resolved{UserID: subject, TargetID: serverID, Permissions: perms, Version: snap.Version}, nil
}

// ChannelPermissions resolves what userID may do in channelID. An empty
// userID or "@me" means the actor.
func (s *PermissionService) ChannelPermissions(ctx context.Context, actorID, channelID, userID string) (*Resolved, error) {
	snap, err := s.snapshot()
	if err != nil {
		return nil, err
	}
	ch, err := channelFor(snap, actorID, channelID)
	if err != nil {
		return nil, err
	}

	return s.channelResolved(ctx, snap, actorID, subjectOf(actorID, userID), ch)
}

// ServerChannelPermissions resolves what userID may do in every channel of
// serverID, ordered by channel id.
func (s *PermissionService) ServerChannelPermissions(ctx context.Context, actorID, serverID, userID string) ([]Resolved, uint64, error) {
	snap, err := s.snapshot()
	if err != nil {
		return nil, 0, err
	}
	if _, err := serverFor(snap, actorID, serverID); err != nil {
		return nil, 0, err
	}

	subject := subjectOf(actorID, userID)
	channels := snap.ServerChannels(serverID)
	out := make([]Resolved, 0, len(channels))
	for _, ch := range channels {
		res, err := s.channelResolved(ctx, snap, actorID, subject, ch)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *res)
	}
	return out, snap.Version, nil
}

func (s *PermissionService) channelResolved(ctx context.Context, snap *store.Snapshot, actorID, subject string, ch models.Channel) (*Resolved, error) {
	key := redis.PermissionKey{Epoch: snap.Epoch, Version: snap.Version, Scope: redis.ScopeChannel, TargetID: ch.ID, UserID: subject}
	if perms, ok := s.cached(ctx, key); ok {
		return &Resolved{UserID: subject, TargetID: ch.ID, Permissions: perms, Version: snap.Version, Cached: true}, nil
	}

	perms, err := resolveChannel(snap, actorID, subject, ch)
	if err != nil {
		return nil, err
	}
	s.store(ctx, key, perms)
	return &Resolved{UserID: subject, TargetID: ch.ID, Permissions: perms, Version: snap.Version}, nil
}

func resolveChannel(snap *store.Snapshot, actorID, subject string, ch models.Channel) (permissions.Permission, error) {
	actor := snap.UserOrStub(actorID)
	target := snap.UserOrStub(subject)
	if !ch.Type.IsServerChannel() {
		return permissions.ResolveChannelPermissions(actor, target, nil, ch, nil), nil
	}
	server, ok := snap.Server(ch.Server)
	if !ok {
		return permissions.None, NotFound("UNKNOWN_SERVER", "server not found")
	}
	return permissions.ResolveChannelPermissions(actor, target, snap.Member(ch.Server, subject), ch, &server), nil
}

func (s *PermissionService) cached(ctx context.Context, key redis.PermissionKey) (permissions.Permission, bool) {
	if s.cache == nil {
		return permissions.None, false
	}
	raw, ok, err := s.cache.GetCachedPermissions(ctx, key)
	if err != nil {
		slog.Warn("permission cache read failed", "key", key.String(), "error", err)
		return permissions.None, false
	}
	return permissions.FromRaw(raw), ok
}

func (s *PermissionService) store(ctx context.Context, key redis.PermissionKey, perms permissions.Permission) {
	if s.cache == nil {
		return
	}
	if err := s.cache.CachePermissions(ctx, key, uint64(perms)); err != nil {
		slog.Warn("permission cache write failed", "key", key.String(), "error", err)
	}
}

// RequireServerPermission fails unless userID holds perm in serverID.
func (s *PermissionService) RequireServerPermission(ctx context.Context, serverID, userID string, perm permissions.Permission) error {
	res, err := s.ServerPermissions(ctx, userID, serverID, userID)
	if err != nil {
		return err
	}
	if !res.Permissions.Has(perm) {
		return Forbidden("MISSING_PERMISSIONS", "you do not have the required permissions")
	}
	return nil
}

// RankedRoles lists the server's roles, highest precedence first.
func (s *PermissionService) RankedRoles(ctx context.Context, actorID, serverID string) ([]permissions.RankedRole, uint64, error) {
	snap, err := s.snapshot()
	if err != nil {
		return nil, 0, err
	}
	server, err := serverFor(snap, actorID, serverID)
	if err != nil {
		return nil, 0, err
	}
	return permissions.ServerRoles(server), snap.Version, nil
}

// MemberSections groups the server's members under their hoisted roles.
func (s *PermissionService) MemberSections(ctx context.Context, actorID, serverID string) ([]permissions.Section, uint64, error) {
	snap, err := s.snapshot()
	if err != nil {
		return nil, 0, err
	}
	server, err := serverFor(snap, actorID, serverID)
	if err != nil {
		return nil, 0, err
	}
	return permissions.SectionMembers(server, snap.Members(serverID)), snap.Version, nil
}

// PreviewRoleOverwrite applies toggles to a copy of a role's server-level
// overwrite. The mirror is never modified.
func (s *PermissionService) PreviewRoleOverwrite(ctx context.Context, actorID, serverID, roleID string, toggles []permissions.Toggle) (*OverwritePreview, error) {
	if err := validateToggles(toggles); err != nil {
		return nil, err
	}
	snap, err := s.snapshot()
	if err != nil {
		return nil, err
	}
	server, err := serverFor(snap, actorID, serverID)
	if err != nil {
		return nil, err
	}
	role, ok := server.Role(roleID)
	if !ok {
		return nil, NotFound("UNKNOWN_ROLE", "role not found")
	}

	actor := snap.UserOrStub(actorID)
	member := snap.Member(serverID, actorID)
	held := permissions.ResolveServerPermissions(actor, member, server)
	if err := checkEditor(server, *member, held, &role, toggles); err != nil {
		return nil, err
	}

	before := permissions.OverwriteFromModel(role.Permissions).Normalize()
	return &OverwritePreview{
		TargetID: roleID,
		Before:   before,
		After:    before.WithToggles(toggles).Normalize(),
		Version:  snap.Version,
	}, nil
}

// PreviewChannelOverwrite applies toggles to a copy of a channel overwrite.
// roleID DefaultOverwriteTarget selects the channel's default overwrite.
func (s *PermissionService) PreviewChannelOverwrite(ctx context.Context, actorID, channelID, roleID string, toggles []permissions.Toggle) (*OverwritePreview, error) {
	if err := validateToggles(toggles); err != nil {
		return nil, err
	}
	snap, err := s.snapshot()
	if err != nil {
		return nil, err
	}
	ch, err := channelFor(snap, actorID, channelID)
	if err != nil {
		return nil, err
	}
	if !ch.Type.IsServerChannel() {
		return nil, BadRequest("NOT_SERVER_CHANNEL", "only server channels carry overwrites")
	}
	server, ok := snap.Server(ch.Server)
	if !ok {
		return nil, NotFound("UNKNOWN_SERVER", "server not found")
	}

	var role *models.Role
	var before permissions.Overwrite
	if roleID == DefaultOverwriteTarget {
		if ch.DefaultPermissions != nil {
			before = permissions.OverwriteFromModel(*ch.DefaultPermissions).Normalize()
		}
	} else {
		r, ok := server.Role(roleID)
		if !ok {
			return nil, NotFound("UNKNOWN_ROLE", "role not found")
		}
		role = &r
		before = permissions.OverwriteFromModel(ch.RolePermissions[roleID]).Normalize()
	}

	held, err := resolveChannel(snap, actorID, actorID, ch)
	if err != nil {
		return nil, err
	}
	if err := checkEditor(server, *snap.Member(ch.Server, actorID), held, role, toggles); err != nil {
		return nil, err
	}

	return &OverwritePreview{
		TargetID: roleID,
		Before:   before,
		After:    before.WithToggles(toggles).Normalize(),
		Version:  snap.Version,
	}, nil
}

func validateToggles(toggles []permissions.Toggle) error {
	if len(toggles) == 0 {
		return BadRequest("NO_TOGGLES", "at least one toggle is required")
	}
	for _, t := range toggles {
		if t.Permission == permissions.None || t.Permission.Count() != 1 || t.Permission&^permissions.All != 0 {
			return BadRequest("INVALID_TOGGLE", "each toggle must name exactly one permission")
		}
	}
	return nil
}

// checkEditor enforces who may edit an overwrite: ManagePermissions is
// required, the edited role must rank strictly below the editor's best
// role, and only held permissions may be allowed. The owner is exempt.
func checkEditor(server models.Server, editor models.Member, held permissions.Permission, role *models.Role, toggles []permissions.Toggle) error {
	if server.Owner == editor.ID.User {
		return nil
	}
	if !held.Has(permissions.PermManagePermissions) {
		return Forbidden("MISSING_PERMISSIONS", "you need ManagePermissions to edit overwrites")
	}
	if role != nil {
		top, ok := permissions.TopRank(editor, server)
		if !ok || top >= role.Rank {
			return RoleHierarchyError("you can only edit roles ranked below your highest role")
		}
	}
	for _, t := range toggles {
		if t.State == permissions.Allow && !held.Has(t.Permission) {
			return Forbidden("CANNOT_GRANT", "you cannot allow a permission you do not hold: "+t.Permission.Name())
		}
	}
	return nil
}
