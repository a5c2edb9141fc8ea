package registry

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/netip"

	"golang.org/x/sys/unix"
)

// ResolvedAddr is an opaque, address-family-tagged socket address. Equality
// is structural (family, port, address bytes) and never based on the
// textual form, per the data model's invariant.
type ResolvedAddr struct {
	Family int
	Bytes  [16]byte // only the first 4 (IPv4) or 16 (IPv6) bytes are meaningful
	Port   int
	text   string
}

// Equal reports whether two resolved addresses are structurally identical.
func (a *ResolvedAddr) Equal(b *ResolvedAddr) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Family != b.Family || a.Port != b.Port {
		return false
	}
	n := 4
	if a.Family == unix.AF_INET6 {
		n = 16
	}
	return bytes.Equal(a.Bytes[:n], b.Bytes[:n])
}

// String returns a human-readable form for logs. Never used for equality.
func (a *ResolvedAddr) String() string {
	return a.text
}

// Sockaddr builds the unix.Sockaddr needed to connect() to this address.
func (a *ResolvedAddr) Sockaddr() (unix.Sockaddr, error) {
	switch a.Family {
	case unix.AF_INET:
		var b [4]byte
		copy(b[:], a.Bytes[:4])
		return &unix.SockaddrInet4{Port: a.Port, Addr: b}, nil
	case unix.AF_INET6:
		var b [16]byte
		copy(b[:], a.Bytes[:16])
		return &unix.SockaddrInet6{Port: a.Port, Addr: b}, nil
	default:
		return nil, fmt.Errorf("unsupported address family %d", a.Family)
	}
}

// ResolveTCPAddr performs DNS resolution for host:port and returns the
// first resolved address, preferring an address family match to netip's
// parse when host is already a literal IP.
func ResolveTCPAddr(ctx context.Context, host string, port int) (*ResolvedAddr, error) {
	if ip, err := netip.ParseAddr(host); err == nil {
		return fromNetipAddr(ip, port), nil
	}

	ipAddrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", host, err)
	}
	if len(ipAddrs) == 0 {
		return nil, fmt.Errorf("no addresses found for %s", host)
	}

	ip, ok := netip.AddrFromSlice(ipAddrs[0].IP)
	if !ok {
		return nil, fmt.Errorf("unparseable resolved address for %s", host)
	}
	return fromNetipAddr(ip.Unmap(), port), nil
}

func fromNetipAddr(ip netip.Addr, port int) *ResolvedAddr {
	a := &ResolvedAddr{Port: port}
	if ip.Is4() {
		a.Family = unix.AF_INET
		b := ip.As4()
		copy(a.Bytes[:4], b[:])
	} else {
		a.Family = unix.AF_INET6
		b := ip.As16()
		copy(a.Bytes[:16], b[:])
	}
	a.text = fmt.Sprintf("%s:%d", ip.String(), port)
	return a
}
