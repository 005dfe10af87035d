package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/victorivanov/permd/internal/models"
	"github.com/victorivanov/permd/internal/store"
)

var mirrorTables = []string{
	"users", "servers", "roles", "members", "member_roles",
	"channels", "channel_recipients", "channel_role_overwrites", "checkpoints",
}

type snapshotRepo struct {
	pool *pgxpool.Pool
}

func NewSnapshotRepository(pool *pgxpool.Pool) SnapshotRepository {
	return &snapshotRepo{pool: pool}
}

func (r *snapshotRepo) Save(ctx context.Context, snap *store.Snapshot) error {
	ready := snap.Export()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, table := range mirrorTables {
		if _, err := tx.Exec(ctx, "TRUNCATE "+table); err != nil {
			return fmt.Errorf("truncating %s: %w", table, err)
		}
	}

	if err := copyRows(ctx, tx, "users",
		[]string{"id", "username", "discriminator", "display_name", "bot", "privileged"},
		userRows(ready.Users)); err != nil {
		return err
	}
	if err := copyRows(ctx, tx, "servers",
		[]string{"id", "owner_id", "name", "channel_order", "default_permissions"},
		serverRows(ready.Servers)); err != nil {
		return err
	}
	if err := copyRows(ctx, tx, "roles",
		[]string{"server_id", "id", "name", "allow", "deny", "colour", "hoist", "rank"},
		roleRows(ready.Servers)); err != nil {
		return err
	}
	if err := copyRows(ctx, tx, "members",
		[]string{"server_id", "user_id", "nickname", "joined_at"},
		memberRows(ready.Members)); err != nil {
		return err
	}
	if err := copyRows(ctx, tx, "member_roles",
		[]string{"server_id", "user_id", "role_id", "position"},
		memberRoleRows(ready.Members)); err != nil {
		return err
	}
	if err := copyRows(ctx, tx, "channels",
		[]string{"id", "channel_type", "server_id", "name", "user_id", "owner_id", "permissions", "default_allow", "default_deny"},
		channelRows(ready.Channels)); err != nil {
		return err
	}
	if err := copyRows(ctx, tx, "channel_recipients",
		[]string{"channel_id", "user_id", "position"},
		recipientRows(ready.Channels)); err != nil {
		return err
	}
	if err := copyRows(ctx, tx, "channel_role_overwrites",
		[]string{"channel_id", "role_id", "allow", "deny"},
		overwriteRows(ready.Channels)); err != nil {
		return err
	}

	st := snap.Stats()
	if _, err := tx.Exec(ctx,
		`INSERT INTO checkpoints (version, saved_at, users, servers, channels, members)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		int64(snap.Version), time.Now().UTC(), st.Users, st.Servers, st.Channels, st.Members,
	); err != nil {
		return fmt.Errorf("recording checkpoint: %w", err)
	}

	return tx.Commit(ctx)
}

func copyRows(ctx context.Context, tx pgx.Tx, table string, columns []string, rows [][]any) error {
	if len(rows) == 0 {
		return nil
	}
	if _, err := tx.CopyFrom(ctx, pgx.Identifier{table}, columns, pgx.CopyFromRows(rows)); err != nil {
		return fmt.Errorf("copying %s: %w", table, err)
	}
	return nil
}

func userRows(users []models.User) [][]any {
	rows := make([][]any, 0, len(users))
	for _, u := range users {
		rows = append(rows, []any{u.ID, u.Username, u.Discriminator, u.DisplayName, u.Bot, u.Privileged})
	}
	return rows
}

func serverRows(servers []models.Server) [][]any {
	rows := make([][]any, 0, len(servers))
	for _, s := range servers {
		order := s.Channels
		if order == nil {
			order = []string{}
		}
		rows = append(rows, []any{s.ID, s.Owner, s.Name, order, s.DefaultPermissions})
	}
	return rows
}

func roleRows(servers []models.Server) [][]any {
	var rows [][]any
	for _, s := range servers {
		for id, role := range s.Roles {
			rows = append(rows, []any{s.ID, id, role.Name, role.Permissions.Allow, role.Permissions.Deny, role.Colour, role.Hoist, role.Rank})
		}
	}
	return rows
}

func memberRows(members []models.Member) [][]any {
	rows := make([][]any, 0, len(members))
	for _, m := range members {
		rows = append(rows, []any{m.ID.Server, m.ID.User, m.Nickname, m.JoinedAt})
	}
	return rows
}

func memberRoleRows(members []models.Member) [][]any {
	var rows [][]any
	for _, m := range members {
		for i, roleID := range m.Roles {
			rows = append(rows, []any{m.ID.Server, m.ID.User, roleID, i})
		}
	}
	return rows
}

func channelRows(channels []models.Channel) [][]any {
	rows := make([][]any, 0, len(channels))
	for _, ch := range channels {
		var allow, deny *int64
		if ch.DefaultPermissions != nil {
			allow, deny = &ch.DefaultPermissions.Allow, &ch.DefaultPermissions.Deny
		}
		rows = append(rows, []any{
			ch.ID, string(ch.Type), nullString(ch.Server), ch.Name,
			nullString(ch.User), nullString(ch.Owner), ch.Permissions, allow, deny,
		})
	}
	return rows
}

func recipientRows(channels []models.Channel) [][]any {
	var rows [][]any
	for _, ch := range channels {
		for i, userID := range ch.Recipients {
			rows = append(rows, []any{ch.ID, userID, i})
		}
	}
	return rows
}

func overwriteRows(channels []models.Channel) [][]any {
	var rows [][]any
	for _, ch := range channels {
		for roleID, o := range ch.RolePermissions {
			rows = append(rows, []any{ch.ID, roleID, o.Allow, o.Deny})
		}
	}
	return rows
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func latestCheckpoint(ctx context.Context, q rowQuerier) (Checkpoint, error) {
	var cp Checkpoint
	var version int64
	err := q.QueryRow(ctx,
		`SELECT version, saved_at, users, servers, channels, members
		 FROM checkpoints ORDER BY saved_at DESC LIMIT 1`,
	).Scan(&version, &cp.SavedAt, &cp.Users, &cp.Servers, &cp.Channels, &cp.Members)
	if errors.Is(err, pgx.ErrNoRows) {
		return Checkpoint{}, ErrNoCheckpoint
	}
	if err != nil {
		return Checkpoint{}, fmt.Errorf("reading checkpoint: %w", err)
	}
	cp.Version = uint64(version)
	return cp, nil
}

func (r *snapshotRepo) Latest(ctx context.Context) (Checkpoint, error) {
	return latestCheckpoint(ctx, r.pool)
}

// Load reads inside one repeatable-read transaction so a concurrent Save
// is never observed half written.
func (r *snapshotRepo) Load(ctx context.Context) (store.Ready, Checkpoint, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return store.Ready{}, Checkpoint{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	cp, err := latestCheckpoint(ctx, tx)
	if err != nil {
		return store.Ready{}, Checkpoint{}, err
	}

	var ready store.Ready
	if ready.Users, err = loadUsers(ctx, tx); err != nil {
		return store.Ready{}, Checkpoint{}, err
	}
	if ready.Servers, err = loadServers(ctx, tx); err != nil {
		return store.Ready{}, Checkpoint{}, err
	}
	if ready.Members, err = loadMembers(ctx, tx); err != nil {
		return store.Ready{}, Checkpoint{}, err
	}
	if ready.Channels, err = loadChannels(ctx, tx); err != nil {
		return store.Ready{}, Checkpoint{}, err
	}
	return ready, cp, tx.Commit(ctx)
}

func loadUsers(ctx context.Context, tx pgx.Tx) ([]models.User, error) {
	rows, err := tx.Query(ctx,
		`SELECT id, username, discriminator, display_name, bot, privileged FROM users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("loading users: %w", err)
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.ID, &u.Username, &u.Discriminator, &u.DisplayName, &u.Bot, &u.Privileged); err != nil {
			return nil, fmt.Errorf("scanning user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func loadServers(ctx context.Context, tx pgx.Tx) ([]models.Server, error) {
	rows, err := tx.Query(ctx,
		`SELECT id, owner_id, name, channel_order, default_permissions FROM servers ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("loading servers: %w", err)
	}
	defer rows.Close()

	var servers []models.Server
	index := map[string]int{}
	for rows.Next() {
		var s models.Server
		if err := rows.Scan(&s.ID, &s.Owner, &s.Name, &s.Channels, &s.DefaultPermissions); err != nil {
			return nil, fmt.Errorf("scanning server: %w", err)
		}
		index[s.ID] = len(servers)
		servers = append(servers, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	roleRows, err := tx.Query(ctx,
		`SELECT server_id, id, name, allow, deny, colour, hoist, rank FROM roles`)
	if err != nil {
		return nil, fmt.Errorf("loading roles: %w", err)
	}
	defer roleRows.Close()

	for roleRows.Next() {
		var serverID, roleID string
		var role models.Role
		if err := roleRows.Scan(&serverID, &roleID, &role.Name, &role.Permissions.Allow, &role.Permissions.Deny,
			&role.Colour, &role.Hoist, &role.Rank); err != nil {
			return nil, fmt.Errorf("scanning role: %w", err)
		}
		i, ok := index[serverID]
		if !ok {
			continue
		}
		if servers[i].Roles == nil {
			servers[i].Roles = map[string]models.Role{}
		}
		servers[i].Roles[roleID] = role
	}
	return servers, roleRows.Err()
}

func loadMembers(ctx context.Context, tx pgx.Tx) ([]models.Member, error) {
	rows, err := tx.Query(ctx,
		`SELECT server_id, user_id, nickname, joined_at FROM members ORDER BY server_id, user_id`)
	if err != nil {
		return nil, fmt.Errorf("loading members: %w", err)
	}
	defer rows.Close()

	var members []models.Member
	index := map[models.MemberID]int{}
	for rows.Next() {
		var m models.Member
		if err := rows.Scan(&m.ID.Server, &m.ID.User, &m.Nickname, &m.JoinedAt); err != nil {
			return nil, fmt.Errorf("scanning member: %w", err)
		}
		index[m.ID] = len(members)
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	roleRows, err := tx.Query(ctx,
		`SELECT server_id, user_id, role_id FROM member_roles ORDER BY server_id, user_id, position`)
	if err != nil {
		return nil, fmt.Errorf("loading member roles: %w", err)
	}
	defer roleRows.Close()

	for roleRows.Next() {
		var id models.MemberID
		var roleID string
		if err := roleRows.Scan(&id.Server, &id.User, &roleID); err != nil {
			return nil, fmt.Errorf("scanning member role: %w", err)
		}
		if i, ok := index[id]; ok {
			members[i].Roles = append(members[i].Roles, roleID)
		}
	}
	return members, roleRows.Err()
}

func loadChannels(ctx context.Context, tx pgx.Tx) ([]models.Channel, error) {
	rows, err := tx.Query(ctx,
		`SELECT id, channel_type, server_id, name, user_id, owner_id, permissions, default_allow, default_deny
		 FROM channels ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("loading channels: %w", err)
	}
	defer rows.Close()

	var channels []models.Channel
	index := map[string]int{}
	for rows.Next() {
		var ch models.Channel
		var typ string
		var serverID, userID, ownerID *string
		var allow, deny *int64
		if err := rows.Scan(&ch.ID, &typ, &serverID, &ch.Name, &userID, &ownerID, &ch.Permissions, &allow, &deny); err != nil {
			return nil, fmt.Errorf("scanning channel: %w", err)
		}
		ch.Type = models.ChannelType(typ)
		ch.Server, ch.User, ch.Owner = deref(serverID), deref(userID), deref(ownerID)
		if allow != nil || deny != nil {
			ch.DefaultPermissions = &models.Overwrite{Allow: derefInt(allow), Deny: derefInt(deny)}
		}
		index[ch.ID] = len(channels)
		channels = append(channels, ch)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	recipients, err := tx.Query(ctx,
		`SELECT channel_id, user_id FROM channel_recipients ORDER BY channel_id, position`)
	if err != nil {
		return nil, fmt.Errorf("loading recipients: %w", err)
	}
	defer recipients.Close()
	for recipients.Next() {
		var channelID, userID string
		if err := recipients.Scan(&channelID, &userID); err != nil {
			return nil, fmt.Errorf("scanning recipient: %w", err)
		}
		if i, ok := index[channelID]; ok {
			channels[i].Recipients = append(channels[i].Recipients, userID)
		}
	}
	if err := recipients.Err(); err != nil {
		return nil, err
	}

	overwrites, err := tx.Query(ctx,
		`SELECT channel_id, role_id, allow, deny FROM channel_role_overwrites`)
	if err != nil {
		return nil, fmt.Errorf("loading overwrites: %w", err)
	}
	defer overwrites.Close()
	for overwrites.Next() {
		var channelID, roleID string
		var o models.Overwrite
		if err := overwrites.Scan(&channelID, &roleID, &o.Allow, &o.Deny); err != nil {
			return nil, fmt.Errorf("scanning overwrite: %w", err)
		}
		i, ok := index[channelID]
		if !ok {
			continue
		}
		if channels[i].RolePermissions == nil {
			channels[i].RolePermissions = map[string]models.Overwrite{}
		}
		channels[i].RolePermissions[roleID] = o
	}
	return channels, overwrites.Err()
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefInt(v *int64) int64 {
	if v == nil {
		return 0
	}
	return *v
}
