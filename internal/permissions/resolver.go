package permissions

import "github.com/victorivanov/permd/internal/models"

// ResolveServerPermissions computes the server-level permissions of actor.
//  1. No member record: None.
//  2. Server owner: All.
//  3. Otherwise fold RankedOverwrites starting from None.
//
// It never fails: unknown roles are skipped and caller mistakes resolve to None.
func ResolveServerPermissions(actor models.User, member *models.Member, server models.Server) Permission {
	if member == nil {
		return None
	}
	if member.ID.Server != server.ID || member.ID.User != actor.ID {
		precondition("member does not match actor and server",
			"memberServer", member.ID.Server, "memberUser", member.ID.User,
			"serverID", server.ID, "userID", actor.ID)
		return None
	}
	return serverPermissions(actor.ID, *member, server)
}

func serverPermissions(userID string, member models.Member, server models.Server) Permission {
	if server.Owner == userID {
		return All
	}
	return Fold(None, RankedOverwrites(member, server))
}

// ResolveChannelPermissions computes what target may do in channel. When
// target has no id the actor is the subject. member is the subject's member
// record in server and is only consulted for server channels.
//
// Private channels short-circuit without folding:
//   - SavedMessages: All for the owning user, None otherwise.
//   - DirectMessage: All for a recipient, None otherwise.
//   - Group: All for the owner, the group's flat permissions for other
//     recipients (All when none are set), None otherwise.
//
// Server channels fold the channel overwrites on top of the server-level
// result.
func ResolveChannelPermissions(actor, target models.User, member *models.Member, channel models.Channel, server *models.Server) Permission {
	subject := target.ID
	if subject == "" {
		subject = actor.ID
	}

	switch channel.Type {
	case models.ChannelTypeSavedMessages:
		if channel.User == subject {
			return All
		}
		return None

	case models.ChannelTypeDirectMessage:
		if channel.HasRecipient(subject) {
			return All
		}
		return None

	case models.ChannelTypeGroup:
		if channel.Owner == subject {
			return All
		}
		if !channel.HasRecipient(subject) {
			return None
		}
		if channel.Permissions != nil {
			return FromInt64(*channel.Permissions)
		}
		return All

	case models.ChannelTypeText, models.ChannelTypeVoice:
		if server == nil || server.ID != channel.Server {
			precondition("channel resolved against the wrong server", "channelID", channel.ID, "channelServer", channel.Server)
			return None
		}
		if member == nil {
			return None
		}
		if member.ID.Server != server.ID || member.ID.User != subject {
			precondition("member does not match subject and server",
				"memberServer", member.ID.Server, "memberUser", member.ID.User,
				"serverID", server.ID, "userID", subject)
			return None
		}
		if server.Owner == subject {
			return All
		}
		base := serverPermissions(subject, *member, *server)
		return Fold(base, ChannelOverwrites(*member, *server, channel))
	}

	precondition("unknown channel type", "channelID", channel.ID, "type", channel.Type)
	return None
}
