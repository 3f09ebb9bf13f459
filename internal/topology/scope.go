package topology

// Scope selects a subset of the registry: a cluster, a data center within a
// cluster, or a single node within a data center. A nil field widens the
// selection to "all children of the narrowest set field".
type Scope struct {
	ClusterID    *int64
	DataCenterID *int64
	NodeID       *int64
}

// ClusterScope scopes to an entire cluster.
func ClusterScope(clusterID int64) Scope {
	return Scope{ClusterID: &clusterID}
}

// DataCenterScope scopes to a single data center.
func DataCenterScope(clusterID, dcID int64) Scope {
	return Scope{ClusterID: &clusterID, DataCenterID: &dcID}
}

// NodeScope scopes to a single node.
func NodeScope(clusterID, dcID, nodeID int64) Scope {
	return Scope{ClusterID: &clusterID, DataCenterID: &dcID, NodeID: &nodeID}
}

// IsUnset reports whether this scope selects the whole deployment (every
// registered cluster).
func (s Scope) IsUnset() bool {
	return s.ClusterID == nil
}

// Contains reports whether a given (cluster, dc, node) triple falls within
// this scope. dcID/nodeID are ignored once a narrower field is nil.
func (s Scope) Contains(clusterID int64, dcID int64, nodeID int64) bool {
	if s.ClusterID != nil && *s.ClusterID != clusterID {
		return false
	}
	if s.DataCenterID != nil && *s.DataCenterID != dcID {
		return false
	}
	if s.NodeID != nil && *s.NodeID != nodeID {
		return false
	}
	return true
}
