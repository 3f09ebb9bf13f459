package topology

import "net"

// NodeBuilder builds a detached Node.
type NodeBuilder struct {
	name             string
	address          net.Addr
	cassandraVersion string
	dseVersion       string
	peerInfo         map[string]interface{}
}

func NewNodeBuilder() *NodeBuilder {
	return &NodeBuilder{peerInfo: map[string]interface{}{}}
}

func (b *NodeBuilder) WithName(name string) *NodeBuilder { b.name = name; return b }
func (b *NodeBuilder) WithAddress(addr net.Addr) *NodeBuilder {
	b.address = addr
	return b
}
func (b *NodeBuilder) WithCassandraVersion(v string) *NodeBuilder { b.cassandraVersion = v; return b }
func (b *NodeBuilder) WithDSEVersion(v string) *NodeBuilder       { b.dseVersion = v; return b }
func (b *NodeBuilder) WithPeerInfo(key string, value interface{}) *NodeBuilder {
	b.peerInfo[key] = value
	return b
}
func (b *NodeBuilder) WithToken(token string) *NodeBuilder {
	b.peerInfo["token"] = token
	return b
}

// Build returns the standalone node. It has no DataCenter parent;
// DataCenter.AddNodeCopy and Server.RegisterNode attach a copy of it, not the
// node itself.
func (b *NodeBuilder) Build() *Node {
	return NewNode(b.name, b.address, b.cassandraVersion, b.dseVersion, b.peerInfo)
}

// DataCenterBuilder builds a detached DataCenter with an ordered set of
// child nodes.
type DataCenterBuilder struct {
	name     string
	peerInfo map[string]interface{}
	nodes    []*NodeBuilder
}

func NewDataCenterBuilder() *DataCenterBuilder {
	return &DataCenterBuilder{peerInfo: map[string]interface{}{}}
}

func (b *DataCenterBuilder) WithName(name string) *DataCenterBuilder { b.name = name; return b }
func (b *DataCenterBuilder) WithPeerInfo(key string, value interface{}) *DataCenterBuilder {
	b.peerInfo[key] = value
	return b
}

// AddNode appends one pre-built node.
func (b *DataCenterBuilder) AddNode(n *NodeBuilder) *DataCenterBuilder {
	b.nodes = append(b.nodes, n)
	return b
}

// AddNodes appends `count` nodes with default attributes.
func (b *DataCenterBuilder) AddNodes(count int) *DataCenterBuilder {
	for i := 0; i < count; i++ {
		b.nodes = append(b.nodes, NewNodeBuilder())
	}
	return b
}

// Build materializes the data center and attaches its nodes, assigning node
// ids in insertion order starting at 0.
func (b *DataCenterBuilder) Build() *DataCenter {
	dc := NewDataCenter(b.name, b.peerInfo)
	for _, nb := range b.nodes {
		dc.addNode(nb.Build())
	}
	return dc
}

// ClusterBuilder builds a detached Cluster with an ordered set of child data
// centers.
type ClusterBuilder struct {
	id               *int64
	name             string
	cassandraVersion string
	dseVersion       string
	peerInfo         map[string]interface{}
	dataCenters      []*DataCenterBuilder
}

func NewClusterBuilder() *ClusterBuilder {
	return &ClusterBuilder{peerInfo: map[string]interface{}{}}
}

func (b *ClusterBuilder) WithID(id int64) *ClusterBuilder       { b.id = &id; return b }
func (b *ClusterBuilder) WithName(name string) *ClusterBuilder  { b.name = name; return b }
func (b *ClusterBuilder) WithCassandraVersion(v string) *ClusterBuilder {
	b.cassandraVersion = v
	return b
}
func (b *ClusterBuilder) WithDSEVersion(v string) *ClusterBuilder { b.dseVersion = v; return b }
func (b *ClusterBuilder) WithPeerInfo(key string, value interface{}) *ClusterBuilder {
	b.peerInfo[key] = value
	return b
}

// AddDataCenter appends one pre-built data center.
func (b *ClusterBuilder) AddDataCenter(dc *DataCenterBuilder) *ClusterBuilder {
	b.dataCenters = append(b.dataCenters, dc)
	return b
}

// WithNodes is the common-case convenience: one argument per data center,
// its value the node count for that data center. Cluster.builder().
// WithNodes(3, 3) yields two data centers of three nodes each.
func (b *ClusterBuilder) WithNodes(nodesPerDC ...int) *ClusterBuilder {
	for _, n := range nodesPerDC {
		b.dataCenters = append(b.dataCenters, NewDataCenterBuilder().AddNodes(n))
	}
	return b
}

// Build materializes the cluster and attaches its data centers, assigning
// data-center ids in insertion order starting at 0.
func (b *ClusterBuilder) Build() *Cluster {
	c := NewCluster(b.name, b.cassandraVersion, b.dseVersion, b.peerInfo)
	if b.id != nil {
		c.SetID(*b.id)
	}
	for _, dcb := range b.dataCenters {
		dc := dcb.Build()
		dc.id = int64(len(c.dataCenters))
		dc.cluster = c
		c.dataCenters = append(c.dataCenters, dc)
	}
	return c
}
