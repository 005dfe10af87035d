package main

import (
	"fmt"
	"io"
	"os"

	"github.com/victorivanov/permd/internal/permissions"
	"github.com/victorivanov/permd/internal/store"
)

// resolveOffline resolves userID against a server or a channel of snap.
// Exactly one of serverID and channelID must be set.
func resolveOffline(snap *store.Snapshot, userID, serverID, channelID string) (permissions.Permission, error) {
	switch {
	case userID == "":
		return permissions.None, fmt.Errorf("--user is required")
	case (serverID == "") == (channelID == ""):
		return permissions.None, fmt.Errorf("exactly one of --server and --channel is required")
	}

	user := snap.UserOrStub(userID)
	if serverID != "" {
		server, ok := snap.Server(serverID)
		if !ok {
			return permissions.None, fmt.Errorf("unknown server %s", serverID)
		}
		return permissions.ResolveServerPermissions(user, snap.Member(serverID, userID), server), nil
	}

	ch, ok := snap.Channel(channelID)
	if !ok {
		return permissions.None, fmt.Errorf("unknown channel %s", channelID)
	}
	if !ch.Type.IsServerChannel() {
		return permissions.ResolveChannelPermissions(user, user, nil, ch, nil), nil
	}
	server, ok := snap.Server(ch.Server)
	if !ok {
		return permissions.None, fmt.Errorf("channel %s belongs to unknown server %s", channelID, ch.Server)
	}
	return permissions.ResolveChannelPermissions(user, user, snap.Member(ch.Server, userID), ch, &server), nil
}

func runResolve(args []string, out io.Writer) int {
	a, err := readArchiveFile(flagValue("--file", args))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}

	perms, err := resolveOffline(store.FromReady(a.Ready),
		flagValue("--user", args), flagValue("--server", args), flagValue("--channel", args))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}

	fmt.Fprintf(out, "value: %d\n", uint64(perms))
	for _, name := range perms.Names() {
		fmt.Fprintf(out, "  %s\n", name)
	}
	return 0
}
