package endpoint

import (
	"net"
	"testing"
)

func ipv4Packet(dst net.IP) []byte {
	p := make([]byte, 20)
	p[0] = 0x45 // version 4, IHL 5
	copy(p[16:20], dst.To4())
	return p
}

func TestRegistryRouteToClient(t *testing.T) {
	r := NewRegistry()
	vpnIP := net.IPv4(10, 8, 0, 5)
	ch := make(chan []byte, 1)
	r.Register(vpnIP, ch)

	packet := ipv4Packet(vpnIP)
	if !r.RouteToClient(packet) {
		t.Fatal("RouteToClient() = false, want true for a registered destination")
	}
	select {
	case got := <-ch:
		if len(got) != len(packet) {
			t.Errorf("delivered packet length = %d, want %d", len(got), len(packet))
		}
	default:
		t.Fatal("expected packet to be delivered to channel")
	}
}

func TestRegistryRouteToUnregisteredFails(t *testing.T) {
	r := NewRegistry()
	packet := ipv4Packet(net.IPv4(10, 8, 0, 9))
	if r.RouteToClient(packet) {
		t.Error("RouteToClient() should fail for an unregistered destination")
	}
}

func TestRegistryUnregister(t *testing.T) {
	r := NewRegistry()
	vpnIP := net.IPv4(10, 8, 0, 5)
	r.Register(vpnIP, make(chan []byte, 1))
	if r.ActiveCount() != 1 {
		t.Fatalf("ActiveCount() = %d, want 1", r.ActiveCount())
	}
	r.Unregister(vpnIP)
	if r.ActiveCount() != 0 {
		t.Errorf("ActiveCount() = %d, want 0 after Unregister", r.ActiveCount())
	}
}

func TestExtractDestinationIPv4RejectsIPv6(t *testing.T) {
	packet := make([]byte, 40)
	packet[0] = 0x60 // version 6
	if _, ok := ExtractDestinationIPv4(packet); ok {
		t.Error("ExtractDestinationIPv4 should reject an IPv6 packet")
	}
}

func TestVPNAddressForSessionDeterministic(t *testing.T) {
	a := VPNAddressForSession(42)
	b := VPNAddressForSession(42)
	if !a.Equal(b) {
		t.Errorf("VPNAddressForSession should be deterministic: %v != %v", a, b)
	}
	if a.Equal(VPNAddressForSession(43)) {
		t.Error("distinct session ids should usually map to distinct addresses")
	}
}
