package addr

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseAndStringRoundTripV4(t *testing.T) {
	a, err := Parse("192.0.2.1", 8080, FamilyV4)
	require.NoError(t, err)
	require.Equal(t, "192.0.2.1:8080", a.String())
	require.Equal(t, FamilyV4, a.Family())
	require.EqualValues(t, 8080, a.Port())
}

func TestParseAndStringRoundTripV6(t *testing.T) {
	a, err := Parse("2001:db8::1", 443, FamilyV6)
	require.NoError(t, err)
	require.Equal(t, "[2001:db8::1]:443", a.String())
}

func TestParseRejectsMismatchedFamily(t *testing.T) {
	_, err := Parse("2001:db8::1", 80, FamilyV4)
	require.Error(t, err)
}

func TestEqualV4ComparesFamilyPortAndAddress(t *testing.T) {
	a, err := Parse("10.0.0.1", 100, FamilyV4)
	require.NoError(t, err)
	b, err := Parse("10.0.0.1", 100, FamilyV4)
	require.NoError(t, err)
	c, err := Parse("10.0.0.2", 100, FamilyV4)
	require.NoError(t, err)

	require.True(t, a.Equal(b))
	require.False(t, a.Equal(c))
}

func TestEqualV6ComparesScopeID(t *testing.T) {
	a, err := Parse("fe80::1", 100, FamilyV6)
	require.NoError(t, err)
	b := a.WithScopeID(1)
	c := a.WithScopeID(2)

	require.False(t, b.Equal(c), "IPv6 addresses differing only by scope id must not compare equal")
	require.True(t, b.Equal(b))
}

func TestEqualRejectsCrossFamilyComparison(t *testing.T) {
	v4, err := Parse("127.0.0.1", 1, FamilyV4)
	require.NoError(t, err)
	v6, err := Parse("::1", 1, FamilyV6)
	require.NoError(t, err)
	require.False(t, v4.Equal(v6))
}

func TestNewLoopbackVsAny(t *testing.T) {
	loopback := New(9, true, FamilyV4)
	any4 := New(9, false, FamilyV4)
	require.Equal(t, "127.0.0.1", loopback.IP().String())
	require.Equal(t, "0.0.0.0", any4.IP().String())
}

func TestSockaddrRoundTrip(t *testing.T) {
	a, err := Parse("203.0.113.9", 1234, FamilyV4)
	require.NoError(t, err)
	back, err := FromSockaddr(a.Sockaddr())
	require.NoError(t, err)
	require.True(t, a.Equal(back))
}
