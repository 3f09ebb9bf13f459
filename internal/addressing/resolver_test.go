package addressing

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNextReturnsDistinctAddresses(t *testing.T) {
	r, err := NewLoopbackResolver("127.0.0.1/8", 20000, 10)
	require.NoError(t, err)

	seen := make(map[string]bool)
	for i := 0; i < 10; i++ {
		addr, err := r.Next()
		require.NoError(t, err)
		require.False(t, seen[addr.String()], "address reused before release: %s", addr)
		seen[addr.String()] = true
	}
}

func TestReleaseRecyclesAddressBeforeMintingFresh(t *testing.T) {
	r, err := NewLoopbackResolver("127.0.0.1/8", 20100, 5)
	require.NoError(t, err)

	first, err := r.Next()
	require.NoError(t, err)
	r.Release(first)

	next, err := r.Next()
	require.NoError(t, err)
	require.Equal(t, first.String(), next.String())
}

func TestReleaseOfUnknownAddressIsNoop(t *testing.T) {
	r, err := NewLoopbackResolver("127.0.0.1/8", 20200, 5)
	require.NoError(t, err)
	require.NotPanics(t, func() { r.Release(nil) })

	addr, err := r.Next()
	require.NoError(t, err)
	r.Release(addr)
	r.Release(addr) // second release of an already-released address: no-op
}

func TestNewLoopbackResolverRejectsInvalidCIDR(t *testing.T) {
	_, err := NewLoopbackResolver("not-a-cidr", 9042, 1000)
	require.Error(t, err)
}

func TestDefaultLoopbackResolverDoesNotPanic(t *testing.T) {
	require.NotPanics(t, func() {
		r := DefaultLoopbackResolver()
		_, err := r.Next()
		require.NoError(t, err)
	})
}
