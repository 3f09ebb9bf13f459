package topology

import "github.com/bjmb/simulacron/internal/activitylog"

// Cluster is the root of the topology tree: a named, versioned collection of
// DataCenters plus a free-form peer-info map and an append-only activity
// log. A Cluster built by ClusterBuilder is "unbound" (pure configuration);
// the bind manager clones it into a bound shape during Register.
type Cluster struct {
	id               int64
	name             string
	cassandraVersion string
	dseVersion       string
	peerInfo         map[string]interface{}
	dataCenters      []*DataCenter
	activityLog      *activitylog.Log
}

// NewCluster constructs a detached cluster with id unset (-1); the bind
// manager assigns one if the caller didn't.
func NewCluster(name, cassandraVersion, dseVersion string, peerInfo map[string]interface{}) *Cluster {
	if peerInfo == nil {
		peerInfo = map[string]interface{}{}
	}
	return &Cluster{
		id:               -1,
		name:             name,
		cassandraVersion: cassandraVersion,
		dseVersion:       dseVersion,
		peerInfo:         peerInfo,
		activityLog:      activitylog.New(),
	}
}

func (c *Cluster) ID() int64                       { return c.id }
func (c *Cluster) Name() string                     { return c.name }
func (c *Cluster) CassandraVersion() string         { return c.cassandraVersion }
func (c *Cluster) DSEVersion() string               { return c.dseVersion }
func (c *Cluster) PeerInfo() map[string]interface{} { return c.peerInfo }
func (c *Cluster) DataCenters() []*DataCenter       { return c.dataCenters }
func (c *Cluster) ActivityLog() *activitylog.Log    { return c.activityLog }

// SetID assigns the cluster id; used by the bind manager when the reference
// topology didn't specify one.
func (c *Cluster) SetID(id int64) { c.id = id }

func (c *Cluster) Scope() Scope {
	return ClusterScope(c.id)
}

// CloneEmpty duplicates this cluster's scalar attributes (not its id) into a
// fresh cluster with zero data centers: the bound shape is always built up
// data-center-by-data-center, never shared with the reference topology.
func (c *Cluster) CloneEmpty() *Cluster {
	pi := make(map[string]interface{}, len(c.peerInfo))
	for k, v := range c.peerInfo {
		pi[k] = v
	}
	return &Cluster{
		id:               -1,
		name:             c.name,
		cassandraVersion: c.cassandraVersion,
		dseVersion:       c.dseVersion,
		peerInfo:         pi,
		activityLog:      activitylog.New(),
	}
}

// AddDataCenterCopy duplicates a reference data center's scalars into this
// cluster (with zero nodes), assigning it the next data center id in
// insertion order.
func (c *Cluster) AddDataCenterCopy(ref *DataCenter) *DataCenter {
	dc := ref.cloneScalars()
	dc.id = int64(len(c.dataCenters))
	dc.cluster = c
	c.dataCenters = append(c.dataCenters, dc)
	return dc
}

// Nodes returns every node across every data center, in data-center/node
// order.
func (c *Cluster) Nodes() []*Node {
	var nodes []*Node
	for _, dc := range c.dataCenters {
		nodes = append(nodes, dc.nodes...)
	}
	return nodes
}

// FindDataCenter returns the data center with the given id, if any.
func (c *Cluster) FindDataCenter(id int64) (*DataCenter, bool) {
	for _, dc := range c.dataCenters {
		if dc.id == id {
			return dc, true
		}
	}
	return nil, false
}

// FindNode returns the node with the given data-center and node id, if any.
func (c *Cluster) FindNode(dcID, nodeID int64) (*Node, bool) {
	dc, ok := c.FindDataCenter(dcID)
	if !ok {
		return nil, false
	}
	for _, n := range dc.nodes {
		if n.id == nodeID {
			return n, true
		}
	}
	return nil, false
}
