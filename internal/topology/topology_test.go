package topology

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuilderAssignsSequentialIDs(t *testing.T) {
	c := NewClusterBuilder().WithName("c1").WithNodes(2, 3).Build()
	require.Len(t, c.DataCenters(), 2)
	require.Equal(t, int64(0), c.DataCenters()[0].ID())
	require.Equal(t, int64(1), c.DataCenters()[1].ID())

	for i, n := range c.DataCenters()[0].Nodes() {
		require.Equal(t, int64(i), n.ID())
	}
	require.Len(t, c.DataCenters()[1].Nodes(), 3)
}

func TestSingleNodeSingleDCGetsTokenZero(t *testing.T) {
	require.Equal(t, "0", AssignToken(0, 0, 1))
}

func TestTokenFormulaSpreadsAcrossDC(t *testing.T) {
	tok0 := AssignToken(0, 0, 3)
	tok1 := AssignToken(0, 1, 3)
	tok2 := AssignToken(0, 2, 3)
	require.Equal(t, "0", tok0)
	require.NotEqual(t, tok0, tok1)
	require.NotEqual(t, tok1, tok2)
}

func TestTokenFormulaOffsetsByDataCenter(t *testing.T) {
	dc0 := AssignToken(0, 0, 1)
	dc1 := AssignToken(1, 0, 1)
	require.Equal(t, "0", dc0)
	require.Equal(t, "100", dc1)
}

func TestCloneEmptyCopiesScalarsNotID(t *testing.T) {
	ref := NewClusterBuilder().WithName("ref").WithCassandraVersion("4.0.0").Build()
	ref.SetID(7)
	clone := ref.CloneEmpty()
	require.Equal(t, int64(-1), clone.ID())
	require.Equal(t, "ref", clone.Name())
	require.Equal(t, "4.0.0", clone.CassandraVersion())
	require.Empty(t, clone.DataCenters())
}

func TestAddDataCenterCopyAssignsSequentialIDsAndOwner(t *testing.T) {
	ref := NewClusterBuilder().WithName("ref").WithNodes(2).Build()
	bound := ref.CloneEmpty()
	dc := bound.AddDataCenterCopy(ref.DataCenters()[0])
	require.Equal(t, int64(0), dc.ID())
	require.Same(t, bound, dc.Cluster())
}

func TestAddNodeCopyPreservesAddressWhenSet(t *testing.T) {
	addr := &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 9999}
	ref := NewNodeBuilder().WithName("n1").WithAddress(addr).Build()
	dc := NewDataCenter("dc1", nil)
	bound := dc.AddNodeCopy(ref)
	require.Equal(t, addr.String(), bound.Address().String())
	require.NotSame(t, ref, bound)
}

func TestResolvePeerInfoFallsBackToDataCenterThenCluster(t *testing.T) {
	c := NewCluster("c1", "4.0.0", "", map[string]interface{}{"rack": "cluster-default"})
	dc := c.AddDataCenterCopy(NewDataCenter("dc1", map[string]interface{}{"rack": "dc-default"}))
	n := dc.AddNodeCopy(NewNode("n1", nil, "", "", nil))

	v, ok := n.ResolvePeerInfo("rack")
	require.True(t, ok)
	require.Equal(t, "dc-default", v)

	dc2 := c.AddDataCenterCopy(NewDataCenter("dc2", nil))
	n2 := dc2.AddNodeCopy(NewNode("n2", nil, "", "", nil))
	v2, ok := n2.ResolvePeerInfo("rack")
	require.True(t, ok)
	require.Equal(t, "cluster-default", v2)

	_, ok = n2.ResolvePeerInfo("missing")
	require.False(t, ok)
}

func TestScopeContains(t *testing.T) {
	s := NodeScope(1, 2, 3)
	require.True(t, s.Contains(1, 2, 3))
	require.False(t, s.Contains(1, 2, 4))
	require.False(t, s.Contains(9, 2, 3))

	whole := Scope{}
	require.True(t, whole.IsUnset())
	require.True(t, whole.Contains(1, 2, 3))
	require.True(t, whole.Contains(99, 99, 99))

	clusterOnly := ClusterScope(5)
	require.True(t, clusterOnly.Contains(5, 0, 0))
	require.True(t, clusterOnly.Contains(5, 99, 99))
	require.False(t, clusterOnly.Contains(6, 0, 0))
}

func TestFindDataCenterAndFindNode(t *testing.T) {
	c := NewClusterBuilder().WithName("c1").WithNodes(2).Build()
	bound := c.CloneEmpty()
	dc := bound.AddDataCenterCopy(c.DataCenters()[0])
	for _, n := range c.DataCenters()[0].Nodes() {
		dc.AddNodeCopy(n)
	}

	found, ok := bound.FindDataCenter(0)
	require.True(t, ok)
	require.Same(t, dc, found)

	_, ok = bound.FindDataCenter(99)
	require.False(t, ok)

	n, ok := bound.FindNode(0, 1)
	require.True(t, ok)
	require.Equal(t, int64(1), n.ID())
}
