package stubstore

import (
	"strings"
	"sync"

	"github.com/bjmb/simulacron/internal/protocol"
	"github.com/bjmb/simulacron/internal/topology"
)

// Store is the registry of primes for one cluster. find() observes a
// consistent snapshot of predicates at call time: readers never see a
// half-installed prime, since every mutation replaces the slice under the
// write lock rather than mutating in place.
type Store struct {
	mu      sync.RWMutex
	primes  []*Prime
}

// New returns a store pre-seeded with the built-in system-table primes.
func New() *Store {
	s := &Store{}
	installBuiltins(s)
	return s
}

// Register adds a user prime.
func (s *Store) Register(p Prime) {
	p.Internal = false
	s.add(&p)
}

// RegisterInternal adds an internal prime (auto-prime-on-Prepare, built-ins).
// Internal primes participate in matching exactly like user primes but
// survive Clear.
func (s *Store) RegisterInternal(p Prime) {
	p.Internal = true
	s.add(&p)
}

func (s *Store) add(p *Prime) {
	s.mu.Lock()
	defer s.mu.Unlock()
	primes := make([]*Prime, len(s.primes), len(s.primes)+1)
	copy(primes, s.primes)
	s.primes = append(primes, p)
}

// Clear removes every user prime in scope whose matcher kind equals kind
// (KindAny clears every kind). Internal primes are preserved. Returns the
// number removed.
func (s *Store) Clear(scope topology.Scope, kind Kind) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	var kept []*Prime
	removed := 0
	for _, p := range s.primes {
		if !p.Internal && scopeOverlaps(scope, p.Scope) && (kind == KindAny || p.Matcher.Kind == kind) {
			removed++
			continue
		}
		kept = append(kept, p)
	}
	s.primes = kept
	return removed
}

// scopeOverlaps reports whether a prime registered in primeScope is visible
// to (and thus clearable from) opScope: true whenever neither scope
// contradicts the other on a field both specify.
func scopeOverlaps(opScope, primeScope topology.Scope) bool {
	if opScope.IsUnset() || primeScope.IsUnset() {
		return true
	}
	if *opScope.ClusterID != *primeScope.ClusterID {
		return false
	}
	if opScope.DataCenterID != nil && primeScope.DataCenterID != nil && *opScope.DataCenterID != *primeScope.DataCenterID {
		return false
	}
	if opScope.NodeID != nil && primeScope.NodeID != nil && *opScope.NodeID != *primeScope.NodeID {
		return false
	}
	return true
}

// Find returns the first prime visible to the node at (clusterID, dcID,
// nodeID) whose matcher accepts msg, in registration order.
func (s *Store) Find(clusterID, dcID, nodeID int64, msg protocol.Message) (*Prime, bool) {
	s.mu.RLock()
	primes := s.primes
	s.mu.RUnlock()

	for _, p := range primes {
		if !p.Scope.Contains(clusterID, dcID, nodeID) {
			continue
		}
		if p.Matcher.Accepts(msg) {
			return p, true
		}
	}
	return nil, false
}

// installBuiltins registers the internal primes the engine ships with: the
// common schema queries drivers issue before considering a cluster usable.
func installBuiltins(s *Store) {
	for _, substr := range []string{"system_schema.", "system.schema_"} {
		s.RegisterInternal(Prime{
			Matcher: Matcher{Kind: KindQuery, QueryContains: substr},
			Then:    []Action{Respond(NoRows())},
		})
	}
}

// QueryTargetsSystemPeers reports whether a query string is one of the
// peer-metadata queries (`system.local`/`system.peers`) the connection
// engine answers dynamically from the bound topology rather than through a
// static prime.
func QueryTargetsSystemPeers(queryText string) (table string, ok bool) {
	lower := strings.ToLower(queryText)
	switch {
	case strings.Contains(lower, "system.local"):
		return "local", true
	case strings.Contains(lower, "system.peers"):
		return "peers", true
	default:
		return "", false
	}
}

// SystemLocalRow builds the single system.local row for a bound node.
func SystemLocalRow(n *topology.Node) protocol.Rows {
	columns := []protocol.Column{
		{Keyspace: "system", Table: "local", Name: "key", Type: "varchar"},
		{Keyspace: "system", Table: "local", Name: "cluster_name", Type: "varchar"},
		{Keyspace: "system", Table: "local", Name: "data_center", Type: "varchar"},
		{Keyspace: "system", Table: "local", Name: "release_version", Type: "varchar"},
		{Keyspace: "system", Table: "local", Name: "tokens", Type: "set<varchar>"},
	}
	clusterName, dcName := "", ""
	if c := n.Cluster(); c != nil {
		clusterName = c.Name()
	}
	if dc := n.DataCenter(); dc != nil {
		dcName = dc.Name()
	}
	return RowsOf(columns, [][]string{{"local", clusterName, dcName, n.CassandraVersion(), n.Token()}})
}

// SystemPeersRows builds one system.peers row per other node in the bound
// node's cluster.
func SystemPeersRows(n *topology.Node) protocol.Rows {
	columns := []protocol.Column{
		{Keyspace: "system", Table: "peers", Name: "peer", Type: "inet"},
		{Keyspace: "system", Table: "peers", Name: "data_center", Type: "varchar"},
		{Keyspace: "system", Table: "peers", Name: "release_version", Type: "varchar"},
		{Keyspace: "system", Table: "peers", Name: "tokens", Type: "set<varchar>"},
	}
	c := n.Cluster()
	if c == nil {
		return protocol.Rows{Columns: columns}
	}
	var rows [][]string
	for _, peer := range c.Nodes() {
		if peer.ID() == n.ID() && peer.DataCenter() != nil && n.DataCenter() != nil && peer.DataCenter().ID() == n.DataCenter().ID() {
			continue
		}
		addr := ""
		if peer.Address() != nil {
			addr = peer.Address().String()
		}
		dcName := ""
		if peer.DataCenter() != nil {
			dcName = peer.DataCenter().Name()
		}
		rows = append(rows, []string{addr, dcName, peer.CassandraVersion(), peer.Token()})
	}
	return RowsOf(columns, rows)
}
