// Package addr implements the immutable socket-address value type used
// throughout netreactor: a tagged union of IPv4 and IPv6 endpoints, with thin
// typed wrappers around the handful of raw syscalls a reactor needs
// (bind/listen/accept/connect/shutdown/getsockopt).
package addr

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"

	"golang.org/x/sys/unix"
)

// Family identifies the address family carried by an Addr.
type Family uint8

const (
	// FamilyV4 is IPv4.
	FamilyV4 Family = iota
	// FamilyV6 is IPv6.
	FamilyV6
)

func (f Family) String() string {
	if f == FamilyV6 {
		return "ipv6"
	}
	return "ipv4"
}

// Addr is an immutable socket address: family, port (host byte order at the
// API boundary, network byte order once marshaled), address bytes, and
// (IPv6 only) a scope id.
type Addr struct {
	family  Family
	port    uint16
	ip      [16]byte // v4 uses the first 4 bytes
	scopeID uint32
}

// New constructs an Addr from a port, a loopback-or-any flag, and a family.
func New(port uint16, loopback bool, family Family) Addr {
	a := Addr{family: family, port: port}
	if family == FamilyV6 {
		if loopback {
			a.ip = [16]byte{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 1}
		}
		return a
	}
	if loopback {
		a.ip[0], a.ip[1], a.ip[2], a.ip[3] = 127, 0, 0, 1
	}
	return a
}

// Parse constructs an Addr from a dotted/colon IP literal, a port, and a
// family. It returns an error if ip does not parse as that family.
func Parse(ip string, port uint16, family Family) (Addr, error) {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return Addr{}, fmt.Errorf("addr: invalid IP literal %q", ip)
	}
	a := Addr{family: family, port: port}
	if family == FamilyV6 {
		v6 := parsed.To16()
		if v6 == nil {
			return Addr{}, fmt.Errorf("addr: %q is not a valid IPv6 literal", ip)
		}
		copy(a.ip[:], v6)
		return a, nil
	}
	v4 := parsed.To4()
	if v4 == nil {
		return Addr{}, fmt.Errorf("addr: %q is not a valid IPv4 literal", ip)
	}
	copy(a.ip[:4], v4)
	return a, nil
}

// Resolve resolves host to an Addr via the system resolver (AF_UNSPEC,
// SOCK_STREAM), preferring the first returned address.
func Resolve(ctx context.Context, host string, port uint16) (Addr, error) {
	resolver := net.Resolver{}
	ips, err := resolver.LookupIPAddr(ctx, host)
	if err != nil {
		return Addr{}, fmt.Errorf("addr: resolve %q: %w", host, err)
	}
	if len(ips) == 0 {
		return Addr{}, fmt.Errorf("addr: resolve %q: no addresses returned", host)
	}
	ip := ips[0].IP
	if v4 := ip.To4(); v4 != nil {
		a := Addr{family: FamilyV4, port: port}
		copy(a.ip[:4], v4)
		return a, nil
	}
	v6 := ip.To16()
	if v6 == nil {
		return Addr{}, fmt.Errorf("addr: resolve %q: unrecognised address form", host)
	}
	a := Addr{family: FamilyV6, port: port}
	copy(a.ip[:], v6)
	return a, nil
}

// Family reports the address family.
func (a Addr) Family() Family { return a.family }

// Port reports the port in host byte order.
func (a Addr) Port() uint16 { return a.port }

// IP returns the address bytes as a net.IP (4 bytes for v4, 16 for v6).
func (a Addr) IP() net.IP {
	if a.family == FamilyV6 {
		ip := make(net.IP, 16)
		copy(ip, a.ip[:])
		return ip
	}
	ip := make(net.IP, 4)
	copy(ip, a.ip[:4])
	return ip
}

// ScopeID returns the IPv6 zone/scope id (always 0 for IPv4).
func (a Addr) ScopeID() uint32 { return a.scopeID }

// WithScopeID returns a copy of a with the given IPv6 scope id.
func (a Addr) WithScopeID(scopeID uint32) Addr {
	a.scopeID = scopeID
	return a
}

func (a Addr) String() string {
	if a.family == FamilyV6 {
		return fmt.Sprintf("[%s]:%d", a.IP().String(), a.port)
	}
	return net.JoinHostPort(a.IP().String(), strconv.Itoa(int(a.port)))
}

// Equal implements the self-connect check required of connectors: IPv4
// compares (family, port, 4-byte address); IPv6 compares (family, port,
// 16-byte address, scope id). Both paths must be exercised — a connector
// that only checks one will treat a genuine connection to a distinct peer
// sharing the same /32 as a self-connect, or vice versa.
func (a Addr) Equal(b Addr) bool {
	if a.family != b.family || a.port != b.port {
		return false
	}
	if a.family == FamilyV6 {
		return a.ip == b.ip && a.scopeID == b.scopeID
	}
	return [4]byte(a.ip[:4]) == [4]byte(b.ip[:4])
}

// Sockaddr converts the Addr into the unix.Sockaddr the raw syscalls need.
func (a Addr) Sockaddr() unix.Sockaddr {
	if a.family == FamilyV6 {
		sa := &unix.SockaddrInet6{Port: int(a.port), ZoneId: a.scopeID}
		copy(sa.Addr[:], a.ip[:])
		return sa
	}
	sa := &unix.SockaddrInet4{Port: int(a.port)}
	copy(sa.Addr[:], a.ip[:4])
	return sa
}

// FromSockaddr converts a unix.Sockaddr (as returned by Accept/Getsockname)
// into an Addr.
func FromSockaddr(sa unix.Sockaddr) (Addr, error) {
	switch v := sa.(type) {
	case *unix.SockaddrInet4:
		a := Addr{family: FamilyV4, port: uint16(v.Port)}
		copy(a.ip[:4], v.Addr[:])
		return a, nil
	case *unix.SockaddrInet6:
		a := Addr{family: FamilyV6, port: uint16(v.Port), scopeID: v.ZoneId}
		copy(a.ip[:], v.Addr[:])
		return a, nil
	default:
		return Addr{}, errors.New("addr: unsupported sockaddr type")
	}
}

// Domain returns the socket(2) domain constant (AF_INET/AF_INET6) for the
// family.
func (f Family) Domain() int {
	if f == FamilyV6 {
		return unix.AF_INET6
	}
	return unix.AF_INET
}
