package topology

import "net"

// Node is a single simulated Cassandra/DSE process. A Node created by a
// builder with no DataCenter parent is "standalone". Nodes built through a
// DataCenterBuilder/ClusterBuilder, or copied in with DataCenter.AddNodeCopy,
// belong to that data center; Server.RegisterNode registers a copy of a
// standalone node, and the node passed in stays standalone.
type Node struct {
	id               int64
	name             string
	address          net.Addr
	cassandraVersion string
	dseVersion       string
	peerInfo         map[string]interface{}
	dc               *DataCenter
}

// NewNode constructs a detached node with the given scalar attributes. Used
// both by NodeBuilder and by the bind manager when cloning a reference node
// into its bound shape.
func NewNode(name string, address net.Addr, cassandraVersion, dseVersion string, peerInfo map[string]interface{}) *Node {
	if peerInfo == nil {
		peerInfo = map[string]interface{}{}
	}
	return &Node{
		id:               -1,
		name:             name,
		address:          address,
		cassandraVersion: cassandraVersion,
		dseVersion:       dseVersion,
		peerInfo:         peerInfo,
	}
}

func (n *Node) ID() int64                    { return n.id }
func (n *Node) Name() string                 { return n.name }
func (n *Node) Address() net.Addr            { return n.address }
func (n *Node) SetAddress(addr net.Addr)     { n.address = addr }
func (n *Node) CassandraVersion() string     { return n.cassandraVersion }
func (n *Node) DSEVersion() string           { return n.dseVersion }
func (n *Node) PeerInfo() map[string]interface{} { return n.peerInfo }
func (n *Node) DataCenter() *DataCenter      { return n.dc }

// Cluster returns the owning cluster, or nil for a standalone node.
func (n *Node) Cluster() *Cluster {
	if n.dc == nil {
		return nil
	}
	return n.dc.cluster
}

// Token returns the node's assigned token, or "" if none has been computed
// yet (only bound nodes are guaranteed one).
func (n *Node) Token() string {
	if v, ok := n.peerInfo["token"]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// Scope returns the fully-qualified scope of this node. Only meaningful once
// the node belongs to a registered cluster.
func (n *Node) Scope() Scope {
	if n.dc == nil || n.dc.cluster == nil {
		return Scope{}
	}
	return NodeScope(n.dc.cluster.id, n.dc.id, n.id)
}

// ResolvePeerInfo is a typed lookup into the free-form peer-info map,
// falling back to the data center's and then the cluster's peer-info if the
// node itself doesn't carry the key.
func (n *Node) ResolvePeerInfo(key string) (interface{}, bool) {
	if v, ok := n.peerInfo[key]; ok {
		return v, true
	}
	if n.dc != nil {
		if v, ok := n.dc.peerInfo[key]; ok {
			return v, true
		}
		if n.dc.cluster != nil {
			if v, ok := n.dc.cluster.peerInfo[key]; ok {
				return v, true
			}
		}
	}
	return nil, false
}

// cloneScalars copies the name/address/versions/peer-info of a reference
// node into a fresh detached Node, leaving id/dc unset for the caller
// (DataCenter.AddNodeCopy) to fill in.
func (n *Node) cloneScalars() *Node {
	pi := make(map[string]interface{}, len(n.peerInfo))
	for k, v := range n.peerInfo {
		pi[k] = v
	}
	return &Node{
		id:               -1,
		name:             n.name,
		address:          n.address,
		cassandraVersion: n.cassandraVersion,
		dseVersion:       n.dseVersion,
		peerInfo:         pi,
	}
}
