// Package simulator is the bind/lifecycle manager: it maps a declarative
// cluster topology onto a set of bound listening endpoints, assigns
// identifiers and tokens, reliably rolls back partial binds, and drives the
// unbind/accept/reject transitions of every node it owns.
package simulator

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/bjmb/simulacron/internal/addressing"
	"github.com/bjmb/simulacron/internal/metrics"
	"github.com/bjmb/simulacron/internal/node"
	"github.com/bjmb/simulacron/internal/stubstore"
	"github.com/bjmb/simulacron/internal/topology"
)

const defaultBindTimeout = 10 * time.Second

// Options configures one Register/RegisterNode call.
type Options struct {
	// BindTimeout overrides the server's default total bind budget.
	BindTimeout time.Duration
	// ActivityLogging enables per-request activity-log entries for the
	// registered cluster's nodes.
	ActivityLogging bool
}

// registeredCluster is everything the registry keeps per bound cluster.
type registeredCluster struct {
	cluster *topology.Cluster
	store   *stubstore.Store
	nodes   map[string]*boundEntry // key: "dcID:nodeID"
}

type boundEntry struct {
	node         *node.BoundNode
	fromResolver bool
	clusterID    int64
	dcID         int64
	nodeID       int64
}

func nodeKey(dcID, nodeID int64) string { return fmt.Sprintf("%d:%d", dcID, nodeID) }

// Server is the top-level, caller-owned object hosting the cluster
// registry. A process may host several independent servers, e.g. one per
// test.
type Server struct {
	mu            sync.RWMutex
	clusters      map[int64]*registeredCluster
	resolver      addressing.Resolver
	logger        *zap.Logger
	metrics       *metrics.Metrics
	bindTimeout   time.Duration
	nextClusterID int64
	bindFunc      func(ctx context.Context, addr net.Addr) (net.Listener, error)
}

// New builds an empty server. A nil resolver defaults to
// addressing.DefaultLoopbackResolver; a nil logger defaults to a no-op
// logger.
func New(resolver addressing.Resolver, logger *zap.Logger) *Server {
	if resolver == nil {
		resolver = addressing.DefaultLoopbackResolver()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		clusters:    make(map[int64]*registeredCluster),
		resolver:    resolver,
		logger:      logger,
		bindTimeout: defaultBindTimeout,
	}
}

// SetMetrics attaches a collector set the server and every node it binds
// from here on will report against; nil is a valid no-op default.
func (s *Server) SetMetrics(m *metrics.Metrics) {
	s.mu.Lock()
	s.metrics = m
	s.mu.Unlock()
}

// Metrics returns the registry the admin layer should serve, or nil if
// none was attached.
func (s *Server) Metrics() *metrics.Metrics {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.metrics
}

// SetBindFunc overrides how every node this server binds from here on opens
// its listener; nil restores the default net.ListenConfig.Listen behavior.
// Tests use this to inject a slow or failing bind for a chosen address,
// exercising the register-timeout and rollback paths without a real slow
// listener.
func (s *Server) SetBindFunc(fn func(ctx context.Context, addr net.Addr) (net.Listener, error)) {
	s.mu.Lock()
	s.bindFunc = fn
	s.mu.Unlock()
}

// Register clones ref into a bound shape, binds every node concurrently
// under a total bind-timeout budget, and on success publishes it in the
// registry. On any failure the registration is fully rolled back and the
// registry is left untouched.
func (s *Server) Register(ctx context.Context, ref *topology.Cluster, opts Options) (*topology.Cluster, error) {
	clone := ref.CloneEmpty()
	s.mu.Lock()
	if ref.ID() >= 0 {
		clone.SetID(ref.ID())
	} else {
		clone.SetID(s.nextClusterID)
		s.nextClusterID++
	}
	s.mu.Unlock()

	s.mu.RLock()
	m := s.metrics
	bindFunc := s.bindFunc
	s.mu.RUnlock()

	store := stubstore.New()
	entries := make(map[string]*boundEntry)
	for dcIdx, dc := range ref.DataCenters() {
		boundDC := clone.AddDataCenterCopy(dc)
		nodesInDC := len(dc.Nodes())
		for nodeIdx, srcNode := range dc.Nodes() {
			boundNode := boundDC.AddNodeCopy(srcNode)
			if boundNode.Token() == "" {
				boundNode.PeerInfo()["token"] = topology.AssignToken(dcIdx, nodeIdx, nodesInDC)
			}
			fromResolver := false
			if boundNode.Address() == nil {
				addr, err := s.resolver.Next()
				if err != nil {
					s.releaseAll(entries)
					return nil, fmt.Errorf("simulator: acquiring address: %w", err)
				}
				boundNode.SetAddress(addr)
				fromResolver = true
			}
			boundEngine := node.New(boundNode, store, clone.ActivityLog(), s.logger, opts.ActivityLogging)
			boundEngine.SetMetrics(m)
			if bindFunc != nil {
				boundEngine.SetBindFunc(bindFunc)
			}
			dcID := boundDC.ID()
			boundEngine.SetCloseScope(func(scope stubstore.DisconnectScope, how stubstore.DisconnectHow) {
				for _, e := range entries {
					switch scope {
					case stubstore.DisconnectCluster:
						e.node.CloseConnections(how)
					case stubstore.DisconnectDataCenter:
						if e.dcID == dcID {
							e.node.CloseConnections(how)
						}
					}
				}
			})
			entries[nodeKey(boundDC.ID(), boundNode.ID())] = &boundEntry{
				node:         boundEngine,
				fromResolver: fromResolver,
				clusterID:    clone.ID(),
				dcID:         boundDC.ID(),
				nodeID:       boundNode.ID(),
			}
		}
	}

	timeout := s.bindTimeout
	if opts.BindTimeout > 0 {
		timeout = opts.BindTimeout
	}
	bindCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := s.bindAll(bindCtx, entries, timeout); err != nil {
		s.rollback(entries)
		return nil, err
	}

	s.mu.Lock()
	s.clusters[clone.ID()] = &registeredCluster{cluster: clone, store: store, nodes: entries}
	s.mu.Unlock()

	if m != nil {
		m.RegisteredClusters.Inc()
		m.BoundNodes.Add(float64(len(entries)))
	}

	s.logger.Info("registered cluster", zap.Int64("cluster_id", clone.ID()), zap.Int("nodes", len(entries)))
	return clone, nil
}

type bindResult struct {
	key  string
	node *topology.Node
	addr net.Addr
	err  error
}

// bindAll binds every node concurrently and returns the first captured
// failure (an error or a timeout), having waited only up to the remaining
// budget on bindCtx.
func (s *Server) bindAll(bindCtx context.Context, entries map[string]*boundEntry, budget time.Duration) error {
	results := make(chan bindResult, len(entries))
	for key, e := range entries {
		key, e := key, e
		go func() {
			err := e.node.Bind(bindCtx)
			results <- bindResult{key: key, node: e.node.Node, addr: e.node.Address(), err: err}
		}()
	}

	var merr *multierror.Error
	var first error
	pending := len(entries)
	for pending > 0 {
		select {
		case r := <-results:
			pending--
			if r.err != nil {
				wrapped := &BindFailed{Node: r.node, Address: r.addr, Cause: r.err}
				merr = multierror.Append(merr, wrapped)
				if first == nil {
					first = wrapped
				}
			}
		case <-bindCtx.Done():
			if first == nil {
				first = &BindTimeout{Elapsed: budget.String()}
			}
			// The caller's rollback runs immediately and may race a
			// still-in-flight Bind: drain the stragglers in the background
			// and close any listener that ends up bound after rollback
			// already gave up on it, so a late success can't outlive the
			// failed register attempt.
			go func(n int) {
				for i := 0; i < n; i++ {
					r := <-results
					if r.err == nil {
						if e, ok := entries[r.key]; ok {
							e.node.Close()
						}
					}
				}
			}(pending)
			return first
		}
	}
	if merr != nil && merr.Len() > 0 {
		return first
	}
	return nil
}

func (s *Server) rollback(entries map[string]*boundEntry) {
	for _, e := range entries {
		e.node.Close()
	}
	s.releaseAll(entries)
}

func (s *Server) releaseAll(entries map[string]*boundEntry) {
	for _, e := range entries {
		if e.fromResolver {
			s.resolver.Release(e.node.Address())
		}
	}
}

// RegisterNode wraps a standalone node in a hidden single-data-center
// cluster. A node that already belongs to a data center must be registered
// through its cluster instead.
func (s *Server) RegisterNode(ctx context.Context, ref *topology.Node, opts Options) (*topology.Node, error) {
	if ref.DataCenter() != nil {
		return nil, &BadArgument{Message: "node already belongs to a data center; register it via Register(cluster)"}
	}
	hidden := topology.NewClusterBuilder().
		WithCassandraVersion(ref.CassandraVersion()).
		WithDSEVersion(ref.DSEVersion()).
		Build()
	dc := hidden.AddDataCenterCopy(topology.NewDataCenter("dc1", nil))
	dc.AddNodeCopy(ref)

	bound, err := s.Register(ctx, hidden, opts)
	if err != nil {
		return nil, err
	}
	return bound.DataCenters()[0].Nodes()[0], nil
}

// Unregister closes every node of the cluster (unbind listener, disconnect
// channels, release address), removes it from the registry, and returns the
// previously-registered cluster value.
func (s *Server) Unregister(clusterID int64) (*topology.Cluster, error) {
	s.mu.Lock()
	rc, ok := s.clusters[clusterID]
	if !ok {
		s.mu.Unlock()
		return nil, &BadArgument{Message: fmt.Sprintf("no cluster registered with id %d", clusterID)}
	}
	delete(s.clusters, clusterID)
	m := s.metrics
	s.mu.Unlock()

	for _, e := range rc.nodes {
		e.node.Close()
		if e.fromResolver {
			s.resolver.Release(e.node.Address())
		}
	}
	if m != nil {
		m.RegisteredClusters.Dec()
		m.BoundNodes.Sub(float64(len(rc.nodes)))
	}
	s.logger.Info("unregistered cluster", zap.Int64("cluster_id", clusterID))
	return rc.cluster, nil
}

// UnregisterAll tears down every registered cluster and returns how many
// were removed.
func (s *Server) UnregisterAll() int {
	s.mu.RLock()
	ids := make([]int64, 0, len(s.clusters))
	for id := range s.clusters {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	for _, id := range ids {
		s.Unregister(id)
	}
	return len(ids)
}

func (s *Server) lookupCluster(clusterID int64) (*registeredCluster, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rc, ok := s.clusters[clusterID]
	return rc, ok
}

// Clusters returns every currently registered cluster.
func (s *Server) Clusters() []*topology.Cluster {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*topology.Cluster, 0, len(s.clusters))
	for _, rc := range s.clusters {
		out = append(out, rc.cluster)
	}
	return out
}
