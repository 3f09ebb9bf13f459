package simulator

import (
	"context"
	"fmt"

	"github.com/bjmb/simulacron/internal/activitylog"
	"github.com/bjmb/simulacron/internal/node"
	"github.com/bjmb/simulacron/internal/stubstore"
	"github.com/bjmb/simulacron/internal/topology"
)

// Thin wrapper methods implementing the operator surface: the minimal set
// of operations the out-of-scope HTTP admin layer calls 1:1 per REST
// endpoint.

// Prime registers a user prime, visible to every node the given scope
// selects. An unset cluster id means "whole deployment": the prime is
// registered into every currently-registered cluster's store.
func (s *Server) Prime(scope topology.Scope, prime stubstore.Prime) error {
	prime.Scope = scope
	s.mu.RLock()
	m := s.metrics
	s.mu.RUnlock()
	if scope.ClusterID == nil {
		s.mu.RLock()
		defer s.mu.RUnlock()
		for _, rc := range s.clusters {
			rc.store.Register(prime)
		}
		if m != nil {
			m.PrimesRegistered.Inc()
		}
		return nil
	}
	rc, ok := s.lookupCluster(*scope.ClusterID)
	if !ok {
		return &BadArgument{Message: fmt.Sprintf("no cluster registered with id %d", *scope.ClusterID)}
	}
	rc.store.Register(prime)
	if m != nil {
		m.PrimesRegistered.Inc()
	}
	return nil
}

// Clear removes every user prime of the given kind visible in scope,
// returning the count removed across however many clusters it touched.
func (s *Server) Clear(scope topology.Scope, kind stubstore.Kind) (int, error) {
	if scope.ClusterID == nil {
		s.mu.RLock()
		defer s.mu.RUnlock()
		total := 0
		for _, rc := range s.clusters {
			total += rc.store.Clear(scope, kind)
		}
		return total, nil
	}
	rc, ok := s.lookupCluster(*scope.ClusterID)
	if !ok {
		return 0, &BadArgument{Message: fmt.Sprintf("no cluster registered with id %d", *scope.ClusterID)}
	}
	return rc.store.Clear(scope, kind), nil
}

// forEachNode runs fn over every bound node the scope selects.
func (s *Server) forEachNode(scope topology.Scope, fn func(e *boundEntry)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, rc := range s.clusters {
		for _, e := range rc.nodes {
			if scope.Contains(e.clusterID, e.dcID, e.nodeID) {
				fn(e)
			}
		}
	}
}

// Reject applies the connection-control transition to every node the scope
// selects.
func (s *Server) Reject(scope topology.Scope, after int, rejectScope node.RejectScope) {
	s.forEachNode(scope, func(e *boundEntry) {
		e.node.Reject(after, rejectScope)
	})
}

// Accept resets the reject-state of every node the scope selects, rebinding
// any currently-unbound listener.
func (s *Server) Accept(ctx context.Context, scope topology.Scope) {
	s.forEachNode(scope, func(e *boundEntry) {
		e.node.Accept(ctx)
	})
}

// Stop is reject(scope, 0, STOP).
func (s *Server) Stop(scope topology.Scope) { s.Reject(scope, 0, node.RejectStop) }

// Start is accept(scope).
func (s *Server) Start(ctx context.Context, scope topology.Scope) { s.Accept(ctx, scope) }

// CloseConnections closes every accepted connection on every node the scope
// selects.
func (s *Server) CloseConnections(scope topology.Scope, how stubstore.DisconnectHow) {
	s.forEachNode(scope, func(e *boundEntry) {
		e.node.CloseConnections(how)
	})
}

// CloseConnection closes one connection identified by its remote address
// string, searching every node the scope selects.
func (s *Server) CloseConnection(scope topology.Scope, remoteAddr string, how stubstore.DisconnectHow) error {
	found := false
	s.forEachNode(scope, func(e *boundEntry) {
		if !found && e.node.CloseConnection(remoteAddr, how) {
			found = true
		}
	})
	if !found {
		return &BadArgument{Message: fmt.Sprintf("no connection %q found in scope", remoteAddr)}
	}
	return nil
}

// ConnectionReport is one entry of a Connections() report.
type ConnectionReport struct {
	ClusterID  int64
	DataCenter int64
	NodeID     int64
	RemoteAddr string
}

// Connections reports every currently-accepted connection across the nodes
// the scope selects.
func (s *Server) Connections(scope topology.Scope) []ConnectionReport {
	var out []ConnectionReport
	s.forEachNode(scope, func(e *boundEntry) {
		for _, c := range e.node.Connections() {
			out = append(out, ConnectionReport{
				ClusterID:  e.clusterID,
				DataCenter: e.dcID,
				NodeID:     e.nodeID,
				RemoteAddr: c.RemoteAddr().String(),
			})
		}
	})
	return out
}

// ActivityLog returns the observed request entries for the cluster
// identified by scope. A scope with no cluster id is a bad argument: the
// activity log is per-cluster.
func (s *Server) ActivityLog(scope topology.Scope) ([]activitylog.Entry, error) {
	if scope.ClusterID == nil {
		return nil, &BadArgument{Message: "activity_log requires a cluster id"}
	}
	rc, ok := s.lookupCluster(*scope.ClusterID)
	if !ok {
		return nil, &BadArgument{Message: fmt.Sprintf("no cluster registered with id %d", *scope.ClusterID)}
	}
	if scope.NodeID != nil && scope.DataCenterID != nil {
		return rc.cluster.ActivityLog().ForNode(*scope.DataCenterID, *scope.NodeID), nil
	}
	return rc.cluster.ActivityLog().All(), nil
}
