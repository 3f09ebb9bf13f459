package activitylog

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAddAssignsIncreasingSequence(t *testing.T) {
	l := New()
	l.Add(Entry{ClusterID: 1, Opcode: "QUERY"})
	l.Add(Entry{ClusterID: 1, Opcode: "PREPARE"})
	entries := l.All()
	require.Len(t, entries, 2)
	require.Less(t, entries[0].Seq, entries[1].Seq)
}

func TestForNodeFiltersByDataCenterAndNode(t *testing.T) {
	l := New()
	l.Add(Entry{DataCenterID: 0, NodeID: 0, Opcode: "QUERY"})
	l.Add(Entry{DataCenterID: 0, NodeID: 1, Opcode: "QUERY"})
	l.Add(Entry{DataCenterID: 1, NodeID: 0, Opcode: "QUERY"})

	dc0 := l.ForNode(0, -1)
	require.Len(t, dc0, 2)

	dc0n1 := l.ForNode(0, 1)
	require.Len(t, dc0n1, 1)
	require.Equal(t, int64(1), dc0n1[0].NodeID)

	all := l.ForNode(-1, -1)
	require.Len(t, all, 3)
}

func TestClearRemovesEverything(t *testing.T) {
	l := New()
	l.Add(Entry{Opcode: "OPTIONS"})
	l.Add(Entry{Opcode: "QUERY"})
	removed := l.Clear()
	require.Equal(t, 2, removed)
	require.Empty(t, l.All())
}

func TestAddRecordsRemoteAddrAndMatch(t *testing.T) {
	l := New()
	addr := &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 4000}
	l.Add(Entry{RemoteAddr: addr, Query: "SELECT * FROM t", Matched: true})
	entries := l.All()
	require.Len(t, entries, 1)
	require.True(t, entries[0].Matched)
	require.Equal(t, "SELECT * FROM t", entries[0].Query)
	require.Equal(t, addr.String(), entries[0].RemoteAddr.String())
}
