package endpoint

import (
	"net"
	"sync"
)

// Registry maps a peer's VPN IPv4 address to the channel that carries
// decrypted tunnel packets out to it, so the server can route a packet
// read from the tun device to the one peer connection whose VPN IP
// matches its destination address.
type Registry struct {
	mu      sync.RWMutex
	clients map[[4]byte]chan<- []byte
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{clients: make(map[[4]byte]chan<- []byte)}
}

// Register associates vpnIP with the channel used to deliver packets to
// that peer.
func (r *Registry) Register(vpnIP net.IP, out chan<- []byte) {
	var key [4]byte
	copy(key[:], vpnIP.To4())

	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[key] = out
}

// Unregister removes vpnIP from the registry.
func (r *Registry) Unregister(vpnIP net.IP) {
	var key [4]byte
	copy(key[:], vpnIP.To4())

	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clients, key)
}

// RouteToClient delivers packet to the peer whose VPN IP matches the
// packet's IPv4 destination address, returning false if no such peer is
// currently registered (e.g. the destination has disconnected).
func (r *Registry) RouteToClient(packet []byte) bool {
	dst, ok := ExtractDestinationIPv4(packet)
	if !ok {
		return false
	}

	r.mu.RLock()
	out, ok := r.clients[dst]
	r.mu.RUnlock()
	if !ok {
		return false
	}

	select {
	case out <- packet:
		return true
	default:
		return false
	}
}

// ActiveCount returns the number of currently registered peers.
func (r *Registry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// ExtractDestinationIPv4 reads the destination address out of a raw IP
// packet's header, supporting only IPv4 (the version nibble in the
// first byte); IPv6 and malformed packets report ok=false.
func ExtractDestinationIPv4(packet []byte) (addr [4]byte, ok bool) {
	if len(packet) < 20 {
		return addr, false
	}
	version := packet[0] >> 4
	if version != 4 {
		return addr, false
	}
	copy(addr[:], packet[16:20])
	return addr, true
}

// VPNAddressForSession derives the VPN IPv4 address assigned to a
// session, matching the responder's address-assignment formula: the
// first three octets fixed at the server's 10.8.0.0/24, the fourth
// computed as 2 + (session id mod 253), giving a 253-address pool (.2
// through .254). Session ids that are equal mod 253 share an address.
func VPNAddressForSession(sessionID uint64) net.IP {
	host := byte(2 + (sessionID % 253))
	return net.IPv4(10, 8, 0, host)
}
