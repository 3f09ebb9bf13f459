package topology

// DataCenter groups an ordered set of Nodes under a Cluster. Id is assigned
// in creation order starting at 0, scoped to its owning cluster.
type DataCenter struct {
	id       int64
	name     string
	peerInfo map[string]interface{}
	cluster  *Cluster
	nodes    []*Node
}

// NewDataCenter constructs a detached data center.
func NewDataCenter(name string, peerInfo map[string]interface{}) *DataCenter {
	if peerInfo == nil {
		peerInfo = map[string]interface{}{}
	}
	return &DataCenter{id: -1, name: name, peerInfo: peerInfo}
}

func (dc *DataCenter) ID() int64                      { return dc.id }
func (dc *DataCenter) Name() string                    { return dc.name }
func (dc *DataCenter) PeerInfo() map[string]interface{} { return dc.peerInfo }
func (dc *DataCenter) Cluster() *Cluster               { return dc.cluster }
func (dc *DataCenter) Nodes() []*Node                  { return dc.nodes }

// Scope returns the data center's scope once it belongs to a cluster.
func (dc *DataCenter) Scope() Scope {
	if dc.cluster == nil {
		return Scope{}
	}
	return DataCenterScope(dc.cluster.id, dc.id)
}

// addNode appends a node not yet belonging to a data center, assigning it
// the next node id in insertion order within this data center.
func (dc *DataCenter) addNode(n *Node) *Node {
	n.id = int64(len(dc.nodes))
	n.dc = dc
	dc.nodes = append(dc.nodes, n)
	return n
}

// AddNodeCopy duplicates a reference node's scalar attributes into this data
// center, assigning it the next node id. Used by the bind manager when
// cloning an unbound topology into its bound shape.
func (dc *DataCenter) AddNodeCopy(ref *Node) *Node {
	return dc.addNode(ref.cloneScalars())
}

// cloneScalars duplicates this data center's name/peer-info with zero nodes,
// per the "DataCenter created via copy starts with zero nodes" invariant.
func (dc *DataCenter) cloneScalars() *DataCenter {
	pi := make(map[string]interface{}, len(dc.peerInfo))
	for k, v := range dc.peerInfo {
		pi[k] = v
	}
	return &DataCenter{id: -1, name: dc.name, peerInfo: pi}
}
