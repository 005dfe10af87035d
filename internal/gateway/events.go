package gateway

import (
	"encoding/json"
	"fmt"

	"github.com/victorivanov/permd/internal/models"
	"github.com/victorivanov/permd/internal/store"
)

// Event types sent by the upstream chat service.
const (
	EventAuthenticated      = "Authenticated"
	EventError              = "Error"
	EventReady              = "Ready"
	EventPong               = "Pong"
	EventServerCreate       = "ServerCreate"
	EventServerUpdate       = "ServerUpdate"
	EventServerDelete       = "ServerDelete"
	EventServerRoleUpdate   = "ServerRoleUpdate"
	EventServerRoleDelete   = "ServerRoleDelete"
	EventServerMemberJoin   = "ServerMemberJoin"
	EventServerMemberUpdate = "ServerMemberUpdate"
	EventServerMemberLeave  = "ServerMemberLeave"
	EventChannelCreate      = "ChannelCreate"
	EventChannelUpdate      = "ChannelUpdate"
	EventChannelDelete      = "ChannelDelete"
	EventChannelGroupJoin   = "ChannelGroupJoin"
	EventChannelGroupLeave  = "ChannelGroupLeave"
	EventUserUpdate         = "UserUpdate"
)

// Commands sent to the upstream chat service.
const (
	CommandAuthenticate = "Authenticate"
	CommandPing         = "Ping"
)

// envelope is the discriminator every upstream message carries.
type envelope struct {
	Type string `json:"type"`
}

// AuthenticateCommand is the first message sent after connecting.
type AuthenticateCommand struct {
	Type  string `json:"type"`
	Token string `json:"token"`
}

// PingCommand is the heartbeat; the service echoes Data in a Pong.
type PingCommand struct {
	Type string `json:"type"`
	Data int64  `json:"data"`
}

// ErrorEvent is sent when authentication fails or the session is invalid.
type ErrorEvent struct {
	Error string `json:"error"`
}

// PongEvent answers a PingCommand with the same Data.
type PongEvent struct {
	Data int64 `json:"data"`
}

type ReadyEvent struct {
	Users    []models.User    `json:"users"`
	Servers  []models.Server  `json:"servers"`
	Channels []models.Channel `json:"channels"`
	Members  []models.Member  `json:"members"`
}

type ServerCreateEvent struct {
	ID       string           `json:"id"`
	Server   models.Server    `json:"server"`
	Channels []models.Channel `json:"channels"`
}

type ServerUpdateEvent struct {
	ID    string               `json:"id"`
	Data  models.PartialServer `json:"data"`
	Clear []string             `json:"clear"`
}

type ServerDeleteEvent struct {
	ID string `json:"id"`
}

type ServerRoleUpdateEvent struct {
	ID     string             `json:"id"`
	RoleID string             `json:"role_id"`
	Data   models.PartialRole `json:"data"`
	Clear  []string           `json:"clear"`
}

type ServerRoleDeleteEvent struct {
	ID     string `json:"id"`
	RoleID string `json:"role_id"`
}

type ServerMemberJoinEvent struct {
	ID     string         `json:"id"`
	User   string         `json:"user"`
	Member *models.Member `json:"member,omitempty"`
}

type ServerMemberUpdateEvent struct {
	ID    models.MemberID      `json:"id"`
	Data  models.PartialMember `json:"data"`
	Clear []string             `json:"clear"`
}

type ServerMemberLeaveEvent struct {
	ID   string `json:"id"`
	User string `json:"user"`
}

type ChannelUpdateEvent struct {
	ID    string                `json:"id"`
	Data  models.PartialChannel `json:"data"`
	Clear []string              `json:"clear"`
}

type ChannelDeleteEvent struct {
	ID string `json:"id"`
}

type ChannelGroupEvent struct {
	ID   string `json:"id"`
	User string `json:"user"`
}

type UserUpdateEvent struct {
	ID    string             `json:"id"`
	Data  models.PartialUser `json:"data"`
	Clear []string           `json:"clear"`
}

// eventType reads the type discriminator of a raw message.
func eventType(data []byte) (string, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", fmt.Errorf("decoding envelope: %w", err)
	}
	return env.Type, nil
}

// decodeUpdate converts a mirror-relevant event into a store update. It
// returns nil for event types that do not change the mirror.
func decodeUpdate(typ string, data []byte) (store.Update, error) {
	switch typ {
	case EventReady:
		var ev ReadyEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("decoding %s: %w", typ, err)
		}
		return store.Ready{Users: ev.Users, Servers: ev.Servers, Channels: ev.Channels, Members: ev.Members}, nil

	case EventServerCreate:
		var ev ServerCreateEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("decoding %s: %w", typ, err)
		}
		if ev.Server.ID == "" {
			ev.Server.ID = ev.ID
		}
		return store.ServerCreate{Server: ev.Server, Channels: ev.Channels}, nil

	case EventServerUpdate:
		var ev ServerUpdateEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("decoding %s: %w", typ, err)
		}
		// Servers carry no clearable field the mirror keeps.
		return store.ServerUpdate{ID: ev.ID, Data: ev.Data}, nil

	case EventServerDelete:
		var ev ServerDeleteEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("decoding %s: %w", typ, err)
		}
		return store.ServerDelete{ID: ev.ID}, nil

	case EventServerRoleUpdate:
		var ev ServerRoleUpdateEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("decoding %s: %w", typ, err)
		}
		return store.RoleUpdate{ServerID: ev.ID, RoleID: ev.RoleID, Data: ev.Data, Clear: ev.Clear}, nil

	case EventServerRoleDelete:
		var ev ServerRoleDeleteEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("decoding %s: %w", typ, err)
		}
		return store.RoleDelete{ServerID: ev.ID, RoleID: ev.RoleID}, nil

	case EventServerMemberJoin:
		var ev ServerMemberJoinEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("decoding %s: %w", typ, err)
		}
		return store.MemberJoin{ServerID: ev.ID, UserID: ev.User, Member: ev.Member}, nil

	case EventServerMemberUpdate:
		var ev ServerMemberUpdateEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("decoding %s: %w", typ, err)
		}
		return store.MemberUpdate{ID: ev.ID, Data: ev.Data, Clear: ev.Clear}, nil

	case EventServerMemberLeave:
		var ev ServerMemberLeaveEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("decoding %s: %w", typ, err)
		}
		return store.MemberLeave{ServerID: ev.ID, UserID: ev.User}, nil

	case EventChannelCreate:
		// The channel object is sent flattened into the envelope.
		var ch models.Channel
		if err := json.Unmarshal(data, &ch); err != nil {
			return nil, fmt.Errorf("decoding %s: %w", typ, err)
		}
		return store.ChannelCreate{Channel: ch}, nil

	case EventChannelUpdate:
		var ev ChannelUpdateEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("decoding %s: %w", typ, err)
		}
		return store.ChannelUpdate{ID: ev.ID, Data: ev.Data, Clear: ev.Clear}, nil

	case EventChannelDelete:
		var ev ChannelDeleteEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("decoding %s: %w", typ, err)
		}
		return store.ChannelDelete{ID: ev.ID}, nil

	case EventChannelGroupJoin, EventChannelGroupLeave:
		var ev ChannelGroupEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("decoding %s: %w", typ, err)
		}
		if typ == EventChannelGroupJoin {
			return store.GroupJoin{ChannelID: ev.ID, UserID: ev.User}, nil
		}
		return store.GroupLeave{ChannelID: ev.ID, UserID: ev.User}, nil

	case EventUserUpdate:
		var ev UserUpdateEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("decoding %s: %w", typ, err)
		}
		return store.UserUpdate{ID: ev.ID, Data: ev.Data, Clear: ev.Clear}, nil
	}
	return nil, nil
}
