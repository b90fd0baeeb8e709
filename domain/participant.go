// Package domain contains core concepts of the relay.
// This file defines Peer entities and connection identities.
// No runtime, network, or UI logic should be added here.
package domain

import (
	"net"
	"time"
)

// Identity is the registry key of a live connection.
// It stays unique while the connection is registered.
type Identity string

// IdentityOf derives the identity of a connection from its remote address.
func IdentityOf(conn net.Conn) Identity {
	if conn == nil || conn.RemoteAddr() == nil {
		return ""
	}
	return Identity(conn.RemoteAddr().String())
}

// Peer is a broadcast participant that completed the handshake.
type Peer struct {
	Identity Identity
	Username string
	JoinedAt time.Time
}

func NewPeer(id Identity, username string) Peer {
	return Peer{Identity: id, Username: username, JoinedAt: time.Now().UTC()}
}
