// Package peer keeps the list of peers reported by discovery and resolves a
// selected peer to a connectable endpoint.
package peer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/samber/lo"

	"github.com/omochice/toy-p2p-chat/internal/chat"
)

// DefaultPort is the well-known message port every peer listens on.
const DefaultPort = 8888

// ErrPeerNotFound is returned when an identifier is not in the discovered list.
var ErrPeerNotFound = errors.New("peer not found")

var (
	_ chat.Resolver = (*Registry)(nil)
	_ chat.Resolver = AddrResolver{}
)

// Peer is a device reported by the discovery subsystem.
type Peer struct {
	// ID is the stable device identifier used for selection.
	ID   string
	Name string
	// Host is the network address to connect to. It can be empty until the
	// link to the device is established.
	Host string
	// Port defaults to DefaultPort when zero.
	Port int
}

// Registry holds the current discovery snapshot and the user's selection.
type Registry struct {
	mu       sync.RWMutex
	peers    map[string]Peer
	selected string
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{peers: make(map[string]Peer)}
}

// Update replaces the discovered peers. The selection is kept even if the
// selected peer disappears; resolving it then fails with ErrPeerNotFound.
func (r *Registry) Update(peers []Peer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.peers = lo.SliceToMap(peers, func(p Peer) (string, Peer) {
		return p.ID, p
	})
}

// Peers returns the discovered peers ordered by ID.
func (r *Registry) Peers() []Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	peers := lo.Values(r.peers)
	sort.Slice(peers, func(i, j int) bool { return peers[i].ID < peers[j].ID })
	return peers
}

// Select marks id as the destination for subsequent sends.
func (r *Registry) Select(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.peers[id]; !ok {
		return fmt.Errorf("select %q: %w", id, ErrPeerNotFound)
	}
	r.selected = id
	return nil
}

// Selected returns the selected peer, if any.
func (r *Registry) Selected() (Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.selected == "" {
		return Peer{}, false
	}
	p, ok := r.peers[r.selected]
	return p, ok
}

// SelectedID returns the identifier of the selected peer, or "".
func (r *Registry) SelectedID() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.selected
}

// Resolve implements chat.Resolver. An empty peerID resolves the selected
// peer.
func (r *Registry) Resolve(_ context.Context, peerID string) (chat.PeerEndpoint, error) {
	r.mu.RLock()
	if peerID == "" {
		peerID = r.selected
	}
	p, ok := r.peers[peerID]
	r.mu.RUnlock()

	if peerID == "" {
		return chat.PeerEndpoint{}, chat.ErrNoPeerSelected
	}
	if !ok {
		return chat.PeerEndpoint{}, fmt.Errorf("resolve %q: %w", peerID, ErrPeerNotFound)
	}
	if p.Host == "" {
		return chat.PeerEndpoint{}, fmt.Errorf("resolve %q: peer has no address yet", peerID)
	}

	port := p.Port
	if port == 0 {
		port = DefaultPort
	}
	return chat.PeerEndpoint{Host: p.Host, Port: port}, nil
}

// AddrResolver treats the peer identifier as a host or host:port address.
type AddrResolver struct {
	// DefaultPort is used when the identifier has no port. Zero means DefaultPort.
	DefaultPort int
}

// Resolve implements chat.Resolver.
func (a AddrResolver) Resolve(_ context.Context, peerID string) (chat.PeerEndpoint, error) {
	if peerID == "" {
		return chat.PeerEndpoint{}, chat.ErrNoPeerSelected
	}

	port := a.DefaultPort
	if port == 0 {
		port = DefaultPort
	}

	host, portStr, err := net.SplitHostPort(peerID)
	if err != nil {
		// No port given
		return chat.PeerEndpoint{Host: peerID, Port: port}, nil
	}
	if host == "" {
		return chat.PeerEndpoint{}, fmt.Errorf("resolve %q: missing host", peerID)
	}
	p, err := strconv.Atoi(portStr)
	if err != nil || p <= 0 || p > 65535 {
		return chat.PeerEndpoint{}, fmt.Errorf("resolve %q: invalid port %q", peerID, portStr)
	}
	return chat.PeerEndpoint{Host: host, Port: p}, nil
}

// ParsePeer parses "id=host[:port]" or a bare "host[:port]", whose ID is
// then the address itself.
func ParsePeer(s string) (Peer, error) {
	id, addr, found := strings.Cut(s, "=")
	if !found {
		addr = s
	}
	id, addr = strings.TrimSpace(id), strings.TrimSpace(addr)
	if id == "" || addr == "" {
		return Peer{}, fmt.Errorf("invalid peer %q: want id=host[:port]", s)
	}

	endpoint, err := AddrResolver{}.Resolve(context.Background(), addr)
	if err != nil {
		return Peer{}, fmt.Errorf("invalid peer %q: %w", s, err)
	}
	return Peer{ID: id, Name: id, Host: endpoint.Host, Port: endpoint.Port}, nil
}
