package simulator

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bjmb/simulacron/internal/addressing"
	"github.com/bjmb/simulacron/internal/protocol"
	"github.com/bjmb/simulacron/internal/stubstore"
	"github.com/bjmb/simulacron/internal/topology"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	resolver, err := addressing.NewLoopbackResolver("127.0.0.1/8", 19100, 50)
	require.NoError(t, err)
	s := New(resolver, nil)
	// Every test's resolver starts at the same ports, so release them.
	t.Cleanup(func() { s.UnregisterAll() })
	return s
}

func dialFrame(t *testing.T, addr net.Addr, req protocol.Message) protocol.Frame {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr.String(), 2*time.Second)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, protocol.WriteFrame(conn, protocol.Frame{Version: 4, StreamID: 1, Message: req}))
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	resp, err := protocol.ReadFrame(conn)
	require.NoError(t, err)
	return resp
}

func TestRegisterBindsEveryNodeAndPublishes(t *testing.T) {
	s := newTestServer(t)
	ref := topology.NewClusterBuilder().WithName("c1").WithNodes(2, 2).Build()

	bound, err := s.Register(context.Background(), ref, Options{})
	require.NoError(t, err)
	require.Len(t, bound.Nodes(), 4)
	require.Len(t, s.Clusters(), 1)

	for _, n := range bound.Nodes() {
		require.NotNil(t, n.Address())
	}
}

func TestRegisterFailsOnDuplicateAddress(t *testing.T) {
	s := newTestServer(t)
	addr := &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 19300}
	ref := topology.NewClusterBuilder().WithName("dup").AddDataCenter(
		topology.NewDataCenterBuilder().
			AddNode(topology.NewNodeBuilder().WithAddress(addr)).
			AddNode(topology.NewNodeBuilder().WithAddress(addr)),
	).Build()

	_, err := s.Register(context.Background(), ref, Options{})
	require.Error(t, err)
	var bindFailed *BindFailed
	require.ErrorAs(t, err, &bindFailed)
	require.Equal(t, addr.String(), bindFailed.Address.String())
	require.Empty(t, s.Clusters())
}

func TestUnregisterClosesChannels(t *testing.T) {
	s := newTestServer(t)
	ref := topology.NewClusterBuilder().WithName("c2").WithNodes(2, 2).Build()
	bound, err := s.Register(context.Background(), ref, Options{})
	require.NoError(t, err)

	var conns []net.Conn
	for _, n := range bound.Nodes() {
		c, err := net.DialTimeout("tcp", n.Address().String(), time.Second)
		require.NoError(t, err)
		conns = append(conns, c)
	}
	time.Sleep(50 * time.Millisecond)

	_, err = s.Unregister(bound.ID())
	require.NoError(t, err)
	_, stillRegistered := s.lookupCluster(bound.ID())
	require.False(t, stillRegistered)

	for _, c := range conns {
		c.SetReadDeadline(time.Now().Add(time.Second))
		buf := make([]byte, 1)
		_, err := c.Read(buf)
		require.Error(t, err)
	}
}

func TestRegisterUnregisterRegisterRoundTrip(t *testing.T) {
	s := newTestServer(t)
	ref := topology.NewClusterBuilder().WithName("rt").WithNodes(1).Build()

	bound, err := s.Register(context.Background(), ref, Options{})
	require.NoError(t, err)
	_, err = s.Unregister(bound.ID())
	require.NoError(t, err)

	ref2 := topology.NewClusterBuilder().WithID(bound.ID()).WithName("rt").WithNodes(1).Build()
	_, err = s.Register(context.Background(), ref2, Options{})
	require.NoError(t, err)
}

// assertConnClosed reads from c, which must already have failed server-side,
// and requires that read to fail.
func assertConnClosed(t *testing.T, c net.Conn) {
	t.Helper()
	c.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, 1)
	_, err := c.Read(buf)
	require.Error(t, err)
}

// assertConnOpen reads from c and requires the read to merely time out,
// distinguishing "still open" from "closed" without any data ever crossing
// the wire.
func assertConnOpen(t *testing.T, c net.Conn) {
	t.Helper()
	c.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	buf := make([]byte, 1)
	_, err := c.Read(buf)
	var netErr net.Error
	require.True(t, errors.As(err, &netErr) && netErr.Timeout(), "expected a read timeout on a still-open connection, got %v", err)
}

func TestDisconnectActionScopes(t *testing.T) {
	s := newTestServer(t)
	ref := topology.NewClusterBuilder().WithName("disco").WithNodes(2, 2).Build()
	bound, err := s.Register(context.Background(), ref, Options{})
	require.NoError(t, err)
	require.Len(t, bound.DataCenters(), 2)

	dc0, dc1 := bound.DataCenters()[0], bound.DataCenters()[1]
	trigger := dc0.Nodes()[0]

	dial := func(n *topology.Node) net.Conn {
		c, err := net.DialTimeout("tcp", n.Address().String(), time.Second)
		require.NoError(t, err)
		return c
	}
	send := func(c net.Conn, queryText string) {
		require.NoError(t, protocol.WriteFrame(c, protocol.Frame{Version: 4, StreamID: 1, Message: protocol.Query{QueryText: queryText}}))
	}

	t.Run("node scope closes only the triggering node", func(t *testing.T) {
		cTrigger := dial(trigger)
		cSiblingDC := dial(dc0.Nodes()[1])
		cOtherDC := dial(dc1.Nodes()[0])
		defer cSiblingDC.Close()
		defer cOtherDC.Close()

		prime := stubstore.When("DISCONNECT_NODE").Then(stubstore.Disconnect(stubstore.DisconnectNode, stubstore.HowDisconnect))
		require.NoError(t, s.Prime(topology.NodeScope(bound.ID(), dc0.ID(), trigger.ID()), *prime))
		send(cTrigger, "DISCONNECT_NODE")

		assertConnClosed(t, cTrigger)
		assertConnOpen(t, cSiblingDC)
		assertConnOpen(t, cOtherDC)
	})

	t.Run("data center scope closes every node in that DC but no other", func(t *testing.T) {
		cTrigger := dial(trigger)
		cSiblingDC := dial(dc0.Nodes()[1])
		cOtherDC := dial(dc1.Nodes()[0])
		defer cOtherDC.Close()

		prime := stubstore.When("DISCONNECT_DC").Then(stubstore.Disconnect(stubstore.DisconnectDataCenter, stubstore.HowDisconnect))
		require.NoError(t, s.Prime(topology.NodeScope(bound.ID(), dc0.ID(), trigger.ID()), *prime))
		send(cTrigger, "DISCONNECT_DC")

		assertConnClosed(t, cTrigger)
		assertConnClosed(t, cSiblingDC)
		assertConnOpen(t, cOtherDC)
	})

	t.Run("cluster scope closes every node in the cluster", func(t *testing.T) {
		cTrigger := dial(trigger)
		cSiblingDC := dial(dc0.Nodes()[1])
		cOtherDC := dial(dc1.Nodes()[0])

		prime := stubstore.When("DISCONNECT_CLUSTER").Then(stubstore.Disconnect(stubstore.DisconnectCluster, stubstore.HowDisconnect))
		require.NoError(t, s.Prime(topology.NodeScope(bound.ID(), dc0.ID(), trigger.ID()), *prime))
		send(cTrigger, "DISCONNECT_CLUSTER")

		assertConnClosed(t, cTrigger)
		assertConnClosed(t, cSiblingDC)
		assertConnClosed(t, cOtherDC)
	})
}

// TestRegisterTimesOutWhenOneNodeBindsSlowly exercises the bind-timeout path
// with an injected slow bind rather than a real slow listener: one node's
// bindFunc blocks past the register budget, so Register must give up with a
// BindTimeout, roll the whole attempt back, and return every acquired
// address to the resolver rather than leaking it.
func TestRegisterTimesOutWhenOneNodeBindsSlowly(t *testing.T) {
	resolver, err := addressing.NewLoopbackResolver("127.0.0.1/8", 19500, 10)
	require.NoError(t, err)
	s := New(resolver, nil)

	var mu sync.Mutex
	var seenAddrs []string
	var slowChosen int32
	s.SetBindFunc(func(ctx context.Context, addr net.Addr) (net.Listener, error) {
		mu.Lock()
		seenAddrs = append(seenAddrs, addr.String())
		mu.Unlock()
		if atomic.CompareAndSwapInt32(&slowChosen, 0, 1) {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		lc := net.ListenConfig{}
		return lc.Listen(ctx, "tcp", addr.String())
	})

	ref := topology.NewClusterBuilder().WithName("slow").WithNodes(2).Build()
	_, err = s.Register(context.Background(), ref, Options{BindTimeout: 200 * time.Millisecond})
	require.Error(t, err)
	var bindTimeout *BindTimeout
	require.ErrorAs(t, err, &bindTimeout)
	require.Empty(t, s.Clusters())

	mu.Lock()
	used := append([]string(nil), seenAddrs...)
	mu.Unlock()
	require.Len(t, used, 2)

	// Both addresses acquired during the failed attempt must have been
	// released back to the resolver: the very next two Next() calls hand
	// back exactly those two addresses instead of minting fresh ones.
	next1, err := resolver.Next()
	require.NoError(t, err)
	next2, err := resolver.Next()
	require.NoError(t, err)
	require.ElementsMatch(t, used, []string{next1.String(), next2.String()})
}

func TestOperatorPrimeAndClear(t *testing.T) {
	s := newTestServer(t)
	ref := topology.NewClusterBuilder().WithName("prime-test").WithNodes(1).Build()
	bound, err := s.Register(context.Background(), ref, Options{})
	require.NoError(t, err)

	scope := topology.ClusterScope(bound.ID())
	prime := stubstore.When("Select * FROM TABLE2").Then(stubstore.Respond(stubstore.RowsOf(
		[]protocol.Column{{Name: "column1"}, {Name: "column2"}},
		[][]string{{"column1", "2"}},
	)))
	require.NoError(t, s.Prime(scope, *prime))

	resp := dialFrame(t, bound.Nodes()[0].Address(), protocol.Query{QueryText: "Select * FROM TABLE2"})
	rows, ok := resp.Message.(protocol.Rows)
	require.True(t, ok)
	require.Len(t, rows.RowValues, 1)

	removed, err := s.Clear(scope, stubstore.KindAny)
	require.NoError(t, err)
	require.Equal(t, 1, removed)
}
