package store

import (
	"cmp"
	"maps"
	"slices"

	"github.com/google/uuid"
	"github.com/victorivanov/permd/internal/models"
)

// Snapshot is an immutable view of the mirror at one version. Values
// returned by its accessors share maps and slices with the snapshot and
// must not be modified.
type Snapshot struct {
	Version uint64
	// Epoch identifies the store that produced the snapshot. Versions are
	// only comparable within one epoch.
	Epoch string

	users    map[string]models.User
	servers  map[string]models.Server
	channels map[string]models.Channel
	members  map[string]map[string]models.Member // serverID → userID → member
}

func emptySnapshot() *Snapshot {
	return &Snapshot{
		users:    map[string]models.User{},
		servers:  map[string]models.Server{},
		channels: map[string]models.Channel{},
		members:  map[string]map[string]models.Member{},
	}
}

// FromReady builds a snapshot at version 1 of a fresh epoch holding exactly
// the given entities.
func FromReady(r Ready) *Snapshot {
	s := emptySnapshot()
	t := &txn{s: s}
	r.apply(t)
	s.Version = 1
	s.Epoch = uuid.NewString()
	return s
}

func (s *Snapshot) User(id string) (models.User, bool) {
	u, ok := s.users[id]
	return u, ok
}

// UserOrStub returns the mirrored user, or a user carrying only the id.
// Resolution needs nothing but the id, so unknown users still resolve.
func (s *Snapshot) UserOrStub(id string) models.User {
	if u, ok := s.users[id]; ok {
		return u
	}
	return models.User{ID: id}
}

func (s *Snapshot) Server(id string) (models.Server, bool) {
	srv, ok := s.servers[id]
	return srv, ok
}

func (s *Snapshot) Channel(id string) (models.Channel, bool) {
	ch, ok := s.channels[id]
	return ch, ok
}

// Member returns the member record of userID in serverID, or nil.
func (s *Snapshot) Member(serverID, userID string) *models.Member {
	m, ok := s.members[serverID][userID]
	if !ok {
		return nil
	}
	return &m
}

// Members lists a server's members ordered by user id.
func (s *Snapshot) Members(serverID string) []models.Member {
	byUser := s.members[serverID]
	out := make([]models.Member, 0, len(byUser))
	for _, id := range slices.Sorted(maps.Keys(byUser)) {
		out = append(out, byUser[id])
	}
	return out
}

// ServerChannels lists a server's channels ordered by id.
func (s *Snapshot) ServerChannels(serverID string) []models.Channel {
	var out []models.Channel
	for _, ch := range s.channels {
		if ch.Server == serverID {
			out = append(out, ch)
		}
	}
	slices.SortFunc(out, func(a, b models.Channel) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

// Stats summarises a snapshot.
type Stats struct {
	Version  uint64 `json:"version"`
	Users    int    `json:"users"`
	Servers  int    `json:"servers"`
	Channels int    `json:"channels"`
	Members  int    `json:"members"`
}

func (s *Snapshot) Stats() Stats {
	st := Stats{
		Version:  s.Version,
		Users:    len(s.users),
		Servers:  len(s.servers),
		Channels: len(s.channels),
	}
	for _, byUser := range s.members {
		st.Members += len(byUser)
	}
	return st
}

// Export returns every entity of the snapshot as a Ready update, sorted by
// id so exports of equal snapshots are byte-identical once encoded.
func (s *Snapshot) Export() Ready {
	r := Ready{
		Users:    make([]models.User, 0, len(s.users)),
		Servers:  make([]models.Server, 0, len(s.servers)),
		Channels: make([]models.Channel, 0, len(s.channels)),
	}
	for _, id := range slices.Sorted(maps.Keys(s.users)) {
		r.Users = append(r.Users, s.users[id])
	}
	for _, id := range slices.Sorted(maps.Keys(s.servers)) {
		r.Servers = append(r.Servers, s.servers[id])
		r.Members = append(r.Members, s.Members(id)...)
	}
	for _, id := range slices.Sorted(maps.Keys(s.channels)) {
		r.Channels = append(r.Channels, s.channels[id])
	}
	return r
}

// txn copies each map of the previous snapshot at most once, the first
// time an update writes to it.
type txn struct {
	s *Snapshot

	usersCopied, serversCopied, channelsCopied, membersCopied bool
	memberServersCopied                                       map[string]bool
}

func (t *txn) usersW() map[string]models.User {
	if !t.usersCopied {
		t.s.users = maps.Clone(t.s.users)
		t.usersCopied = true
	}
	return t.s.users
}

func (t *txn) serversW() map[string]models.Server {
	if !t.serversCopied {
		t.s.servers = maps.Clone(t.s.servers)
		t.serversCopied = true
	}
	return t.s.servers
}

func (t *txn) channelsW() map[string]models.Channel {
	if !t.channelsCopied {
		t.s.channels = maps.Clone(t.s.channels)
		t.channelsCopied = true
	}
	return t.s.channels
}

func (t *txn) membersW(serverID string) map[string]models.Member {
	if !t.membersCopied {
		t.s.members = maps.Clone(t.s.members)
		t.membersCopied = true
		t.memberServersCopied = map[string]bool{}
	}
	if !t.memberServersCopied[serverID] {
		byUser := maps.Clone(t.s.members[serverID])
		if byUser == nil {
			byUser = map[string]models.Member{}
		}
		t.s.members[serverID] = byUser
		t.memberServersCopied[serverID] = true
	}
	return t.s.members[serverID]
}

func (t *txn) dropMembers(serverID string) {
	if _, ok := t.s.members[serverID]; !ok {
		return
	}
	if !t.membersCopied {
		t.s.members = maps.Clone(t.s.members)
		t.membersCopied = true
		t.memberServersCopied = map[string]bool{}
	}
	delete(t.s.members, serverID)
	delete(t.memberServersCopied, serverID)
}
