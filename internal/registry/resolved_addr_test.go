package registry

import (
	"context"
	"testing"

	"golang.org/x/sys/unix"
)

func TestResolveTCPAddrLiteralIPv4(t *testing.T) {
	a, err := ResolveTCPAddr(context.Background(), "127.0.0.1", 5432)
	if err != nil {
		t.Fatalf("ResolveTCPAddr failed: %v", err)
	}
	if a.Family != unix.AF_INET {
		t.Errorf("expected AF_INET, got %d", a.Family)
	}
	if a.Port != 5432 {
		t.Errorf("expected port 5432, got %d", a.Port)
	}
	if a.Bytes[0] != 127 || a.Bytes[3] != 1 {
		t.Errorf("unexpected address bytes: %v", a.Bytes[:4])
	}
}

func TestResolveTCPAddrLiteralIPv6(t *testing.T) {
	a, err := ResolveTCPAddr(context.Background(), "::1", 5432)
	if err != nil {
		t.Fatalf("ResolveTCPAddr failed: %v", err)
	}
	if a.Family != unix.AF_INET6 {
		t.Errorf("expected AF_INET6, got %d", a.Family)
	}
}

func TestResolvedAddrEqualIgnoresTextualForm(t *testing.T) {
	a := &ResolvedAddr{Family: unix.AF_INET, Port: 5432, Bytes: [16]byte{127, 0, 0, 1}, text: "127.0.0.1:5432"}
	b := &ResolvedAddr{Family: unix.AF_INET, Port: 5432, Bytes: [16]byte{127, 0, 0, 1}, text: "totally-different-text"}
	if !a.Equal(b) {
		t.Error("expected structural equality despite different text")
	}
}

func TestResolvedAddrEqualDetectsDifference(t *testing.T) {
	a := &ResolvedAddr{Family: unix.AF_INET, Port: 5432, Bytes: [16]byte{127, 0, 0, 1}}
	b := &ResolvedAddr{Family: unix.AF_INET, Port: 5433, Bytes: [16]byte{127, 0, 0, 1}}
	if a.Equal(b) {
		t.Error("expected inequality on differing port")
	}

	c := &ResolvedAddr{Family: unix.AF_INET, Port: 5432, Bytes: [16]byte{127, 0, 0, 2}}
	if a.Equal(c) {
		t.Error("expected inequality on differing address bytes")
	}
}

func TestResolvedAddrEqualNilHandling(t *testing.T) {
	var a, b *ResolvedAddr
	if !a.Equal(b) {
		t.Error("expected two nils to be equal")
	}
	c := &ResolvedAddr{}
	if a.Equal(c) || c.Equal(a) {
		t.Error("expected nil and non-nil to be unequal")
	}
}

func TestSockaddrConversion(t *testing.T) {
	a, err := ResolveTCPAddr(context.Background(), "127.0.0.1", 6543)
	if err != nil {
		t.Fatalf("ResolveTCPAddr failed: %v", err)
	}
	sa, err := a.Sockaddr()
	if err != nil {
		t.Fatalf("Sockaddr failed: %v", err)
	}
	in4, ok := sa.(*unix.SockaddrInet4)
	if !ok {
		t.Fatalf("expected *unix.SockaddrInet4, got %T", sa)
	}
	if in4.Port != 6543 {
		t.Errorf("expected port 6543, got %d", in4.Port)
	}
}
