package store

import (
	"slices"

	"github.com/victorivanov/permd/internal/models"
)

// Update is a change to the mirror. Updates are applied one at a time by
// the store's writer goroutine.
type Update interface {
	Kind() string
	apply(t *txn)
}

// Ready replaces the whole mirror.
type Ready struct {
	Users    []models.User    `json:"users"`
	Servers  []models.Server  `json:"servers"`
	Channels []models.Channel `json:"channels"`
	Members  []models.Member  `json:"members"`
}

func (Ready) Kind() string { return "Ready" }

func (r Ready) apply(t *txn) {
	fresh := emptySnapshot()
	t.s.users, t.s.servers, t.s.channels, t.s.members = fresh.users, fresh.servers, fresh.channels, fresh.members
	t.usersCopied, t.serversCopied, t.channelsCopied, t.membersCopied = true, true, true, true
	t.memberServersCopied = map[string]bool{}

	for _, u := range r.Users {
		t.s.users[u.ID] = u
	}
	for _, srv := range r.Servers {
		t.s.servers[srv.ID] = srv.Clone()
	}
	for _, ch := range r.Channels {
		t.s.channels[ch.ID] = ch.Clone()
	}
	for _, m := range r.Members {
		m.Roles = slices.Clone(m.Roles)
		t.membersW(m.ID.Server)[m.ID.User] = m
	}
}

// ServerCreate adds a server together with its channels.
type ServerCreate struct {
	Server   models.Server
	Channels []models.Channel
}

func (ServerCreate) Kind() string { return "ServerCreate" }

func (u ServerCreate) apply(t *txn) {
	t.serversW()[u.Server.ID] = u.Server.Clone()
	for _, ch := range u.Channels {
		t.channelsW()[ch.ID] = ch.Clone()
	}
}

type ServerUpdate struct {
	ID   string
	Data models.PartialServer
}

func (ServerUpdate) Kind() string { return "ServerUpdate" }

func (u ServerUpdate) apply(t *txn) {
	srv, ok := t.s.servers[u.ID]
	if !ok {
		return
	}
	t.serversW()[u.ID] = srv.Apply(u.Data)
}

// ServerDelete removes a server, its members and its channels.
type ServerDelete struct {
	ID string
}

func (ServerDelete) Kind() string { return "ServerDelete" }

func (u ServerDelete) apply(t *txn) {
	if _, ok := t.s.servers[u.ID]; ok {
		delete(t.serversW(), u.ID)
	}
	t.dropMembers(u.ID)
	for id, ch := range t.s.channels {
		if ch.Server == u.ID {
			delete(t.channelsW(), id)
		}
	}
}

// RoleUpdate creates or edits a role. The role is replaced in one step,
// so readers never see a permission pair that is half edited.
type RoleUpdate struct {
	ServerID string
	RoleID   string
	Data     models.PartialRole
	Clear    []string
}

func (RoleUpdate) Kind() string { return "RoleUpdate" }

func (u RoleUpdate) apply(t *txn) {
	srv, ok := t.s.servers[u.ServerID]
	if !ok {
		return
	}
	srv = srv.Clone()
	if srv.Roles == nil {
		srv.Roles = map[string]models.Role{}
	}
	srv.Roles[u.RoleID] = srv.Roles[u.RoleID].Apply(u.Data, u.Clear)
	t.serversW()[u.ServerID] = srv
}

// RoleDelete removes a role from the server, from every member holding it
// and from the role overwrites of the server's channels.
type RoleDelete struct {
	ServerID string
	RoleID   string
}

func (RoleDelete) Kind() string { return "RoleDelete" }

func (u RoleDelete) apply(t *txn) {
	srv, ok := t.s.servers[u.ServerID]
	if !ok {
		return
	}
	srv = srv.Clone()
	delete(srv.Roles, u.RoleID)
	t.serversW()[u.ServerID] = srv

	for userID, m := range t.s.members[u.ServerID] {
		if !m.HasRole(u.RoleID) {
			continue
		}
		m.Roles = slices.DeleteFunc(slices.Clone(m.Roles), func(id string) bool { return id == u.RoleID })
		t.membersW(u.ServerID)[userID] = m
	}

	for id, ch := range t.s.channels {
		if ch.Server != u.ServerID {
			continue
		}
		if _, ok := ch.RolePermissions[u.RoleID]; !ok {
			continue
		}
		ch = ch.Clone()
		delete(ch.RolePermissions, u.RoleID)
		t.channelsW()[id] = ch
	}
}

// MemberJoin adds a member. Member may be nil, in which case a bare
// record with no roles is created. User, when set, is mirrored as well.
type MemberJoin struct {
	ServerID string
	UserID   string
	Member   *models.Member
	User     *models.User
}

func (MemberJoin) Kind() string { return "MemberJoin" }

func (u MemberJoin) apply(t *txn) {
	m := models.Member{ID: models.MemberID{Server: u.ServerID, User: u.UserID}}
	if u.Member != nil {
		m = *u.Member
		m.ID = models.MemberID{Server: u.ServerID, User: u.UserID}
		m.Roles = slices.Clone(m.Roles)
	}
	t.membersW(u.ServerID)[u.UserID] = m
	if u.User != nil {
		t.usersW()[u.User.ID] = *u.User
	}
}

type MemberUpdate struct {
	ID    models.MemberID
	Data  models.PartialMember
	Clear []string
}

func (MemberUpdate) Kind() string { return "MemberUpdate" }

func (u MemberUpdate) apply(t *txn) {
	m, ok := t.s.members[u.ID.Server][u.ID.User]
	if !ok {
		return
	}
	t.membersW(u.ID.Server)[u.ID.User] = m.Apply(u.Data, u.Clear)
}

type MemberLeave struct {
	ServerID string
	UserID   string
}

func (MemberLeave) Kind() string { return "MemberLeave" }

func (u MemberLeave) apply(t *txn) {
	if _, ok := t.s.members[u.ServerID][u.UserID]; !ok {
		return
	}
	delete(t.membersW(u.ServerID), u.UserID)
}

// ChannelCreate adds a channel and links server channels to their server.
type ChannelCreate struct {
	Channel models.Channel
}

func (ChannelCreate) Kind() string { return "ChannelCreate" }

func (u ChannelCreate) apply(t *txn) {
	ch := u.Channel.Clone()
	t.channelsW()[ch.ID] = ch
	if !ch.Type.IsServerChannel() {
		return
	}
	srv, ok := t.s.servers[ch.Server]
	if !ok || slices.Contains(srv.Channels, ch.ID) {
		return
	}
	srv = srv.Clone()
	srv.Channels = append(srv.Channels, ch.ID)
	t.serversW()[srv.ID] = srv
}

type ChannelUpdate struct {
	ID    string
	Data  models.PartialChannel
	Clear []string
}

func (ChannelUpdate) Kind() string { return "ChannelUpdate" }

func (u ChannelUpdate) apply(t *txn) {
	ch, ok := t.s.channels[u.ID]
	if !ok {
		return
	}
	t.channelsW()[u.ID] = ch.Apply(u.Data, u.Clear)
}

type ChannelDelete struct {
	ID string
}

func (ChannelDelete) Kind() string { return "ChannelDelete" }

func (u ChannelDelete) apply(t *txn) {
	ch, ok := t.s.channels[u.ID]
	if !ok {
		return
	}
	delete(t.channelsW(), u.ID)
	srv, ok := t.s.servers[ch.Server]
	if !ok || !slices.Contains(srv.Channels, u.ID) {
		return
	}
	srv = srv.Clone()
	srv.Channels = slices.DeleteFunc(srv.Channels, func(id string) bool { return id == u.ID })
	t.serversW()[srv.ID] = srv
}

// GroupJoin adds a recipient to a group channel.
type GroupJoin struct {
	ChannelID string
	UserID    string
}

func (GroupJoin) Kind() string { return "GroupJoin" }

func (u GroupJoin) apply(t *txn) {
	ch, ok := t.s.channels[u.ChannelID]
	if !ok || ch.HasRecipient(u.UserID) {
		return
	}
	ch = ch.Clone()
	ch.Recipients = append(ch.Recipients, u.UserID)
	t.channelsW()[u.ChannelID] = ch
}

// GroupLeave removes a recipient from a group channel.
type GroupLeave struct {
	ChannelID string
	UserID    string
}

func (GroupLeave) Kind() string { return "GroupLeave" }

func (u GroupLeave) apply(t *txn) {
	ch, ok := t.s.channels[u.ChannelID]
	if !ok || !ch.HasRecipient(u.UserID) {
		return
	}
	ch = ch.Clone()
	ch.Recipients = slices.DeleteFunc(ch.Recipients, func(id string) bool { return id == u.UserID })
	t.channelsW()[u.ChannelID] = ch
}

type UserUpdate struct {
	ID    string
	Data  models.PartialUser
	Clear []string
}

func (UserUpdate) Kind() string { return "UserUpdate" }

func (u UserUpdate) apply(t *txn) {
	user, ok := t.s.users[u.ID]
	if !ok {
		return
	}
	t.usersW()[u.ID] = user.Apply(u.Data, u.Clear)
}
