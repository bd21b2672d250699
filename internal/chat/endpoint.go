// Package chat provides the core domain types shared by the listener, the
// sender and the observation layer.
package chat

//go:generate mockgen -source=endpoint.go -destination=mocks/mock_resolver.go -package=mocks

import (
	"context"
	"net"
	"strconv"
)

// PeerEndpoint is a connectable address of a selected peer.
// The zero value means no peer is selected.
type PeerEndpoint struct {
	Host string
	Port int
}

// IsZero reports whether no endpoint has been resolved.
func (e PeerEndpoint) IsZero() bool {
	return e.Host == "" && e.Port == 0
}

// String returns the endpoint in host:port form.
func (e PeerEndpoint) String() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// Resolver turns a user-selected peer identifier into an endpoint.
// The peer-discovery subsystem that feeds it lives outside this module.
type Resolver interface {
	Resolve(ctx context.Context, peerID string) (PeerEndpoint, error)
}
