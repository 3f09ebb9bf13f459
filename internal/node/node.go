// Package node implements the per-connection protocol engine that runs
// inside each bound node: frame decode, per-message dispatch, default
// responses for handshake/metadata, automatic Prepare→Execute bookkeeping,
// and the reject-state machine.
package node

import (
	"context"
	"fmt"
	"hash/fnv"
	"net"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/bjmb/simulacron/internal/activitylog"
	"github.com/bjmb/simulacron/internal/metrics"
	"github.com/bjmb/simulacron/internal/protocol"
	"github.com/bjmb/simulacron/internal/stubstore"
	"github.com/bjmb/simulacron/internal/topology"
)

const preparedCacheSize = 10000

// BoundNode wraps a topology.Node that has successfully bound a listener.
// It owns the listener, the set of accepted client connections, the
// reject-state record, and a bounded cache mapping prepared-statement ids
// back to query text. Composition over embedding a concrete struct (rather
// than subclassing Node) since Go has no inheritance.
type BoundNode struct {
	*topology.Node

	store       *stubstore.Store
	activityLog *activitylog.Log
	logger      *zap.Logger
	metrics     *metrics.Metrics

	loggingEnabled bool

	mu       sync.Mutex
	listener net.Listener
	reject   RejectState
	conns    map[string]net.Conn
	seq      int64

	prepared *lru.Cache[string, string]

	// closeScope fans a DataCenter/Cluster-scoped disconnect out to sibling
	// nodes; only the owning simulator.Server has that visibility, so it's
	// injected rather than reached for directly. nil until set, in which
	// case such a disconnect degrades to this node alone.
	closeScope func(scope stubstore.DisconnectScope, how stubstore.DisconnectHow)

	// bindFunc overrides how Bind actually opens its listener; nil uses
	// net.ListenConfig.Listen. Tests inject a slow or failing bindFunc to
	// exercise the bind-lifecycle manager's timeout and rollback paths.
	bindFunc func(ctx context.Context, addr net.Addr) (net.Listener, error)
}

// New wraps an already-addressed topology node. Bind must be called before
// it accepts any connections.
func New(n *topology.Node, store *stubstore.Store, activityLog *activitylog.Log, logger *zap.Logger, loggingEnabled bool) *BoundNode {
	cache, _ := lru.New[string, string](preparedCacheSize)
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BoundNode{
		Node:           n,
		store:          store,
		activityLog:    activityLog,
		logger:         logger,
		loggingEnabled: loggingEnabled,
		reject:         defaultRejectState(),
		conns:          make(map[string]net.Conn),
		prepared:       cache,
	}
}

// SetMetrics attaches a collector set; nil is a valid no-op default.
func (n *BoundNode) SetMetrics(m *metrics.Metrics) {
	n.mu.Lock()
	n.metrics = m
	n.mu.Unlock()
}

// SetCloseScope attaches the callback used to fan a DataCenter/Cluster-
// scoped Disconnect action out to sibling nodes.
func (n *BoundNode) SetCloseScope(fn func(scope stubstore.DisconnectScope, how stubstore.DisconnectHow)) {
	n.mu.Lock()
	n.closeScope = fn
	n.mu.Unlock()
}

// SetBindFunc overrides how Bind opens its listener; nil restores the
// default net.ListenConfig.Listen behavior.
func (n *BoundNode) SetBindFunc(fn func(ctx context.Context, addr net.Addr) (net.Listener, error)) {
	n.mu.Lock()
	n.bindFunc = fn
	n.mu.Unlock()
}

// Bind opens the listener at the node's configured address and starts
// accepting connections. ctx only bounds the bind call itself; the accept
// loop runs for the node's lifetime.
func (n *BoundNode) Bind(ctx context.Context) error {
	addr := n.Address()
	if addr == nil {
		return fmt.Errorf("node: no address assigned")
	}
	n.mu.Lock()
	bindFunc := n.bindFunc
	n.mu.Unlock()

	var ln net.Listener
	var err error
	if bindFunc != nil {
		ln, err = bindFunc(ctx, addr)
	} else {
		lc := net.ListenConfig{}
		ln, err = lc.Listen(ctx, "tcp", addr.String())
	}
	if err != nil {
		return err
	}
	n.mu.Lock()
	n.listener = ln
	n.mu.Unlock()
	n.SetAddress(ln.Addr())
	go n.acceptLoop(ln)
	return nil
}

// Addr returns the node's actual bound address, or its configured address
// if not currently bound.
func (n *BoundNode) Addr() net.Addr {
	n.mu.Lock()
	ln := n.listener
	n.mu.Unlock()
	if ln != nil {
		return ln.Addr()
	}
	return n.Address()
}

func (n *BoundNode) acceptLoop(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		n.onAccept(conn)
	}
}

func (n *BoundNode) onAccept(conn net.Conn) {
	n.mu.Lock()
	n.conns[conn.RemoteAddr().String()] = conn
	m := n.metrics
	n.mu.Unlock()
	if m != nil {
		m.ActiveConnections.Inc()
	}
	n.logger.Debug("accepted connection",
		zap.String("node", n.Name()),
		zap.Stringer("remote", conn.RemoteAddr()))
	go n.handleConn(conn)
}

func (n *BoundNode) handleConn(conn net.Conn) {
	defer n.forgetConn(conn)
	for {
		frame, err := protocol.ReadFrame(conn)
		if err != nil {
			return
		}
		n.dispatch(conn, frame)
	}
}

func (n *BoundNode) forgetConn(conn net.Conn) {
	n.mu.Lock()
	_, existed := n.conns[conn.RemoteAddr().String()]
	delete(n.conns, conn.RemoteAddr().String())
	m := n.metrics
	n.mu.Unlock()
	if existed && m != nil {
		m.ActiveConnections.Dec()
	}
	conn.Close()
}

// respond writes a single response frame, serialised per connection since
// handleConn drives exactly one goroutine's worth of reads/actions per
// connection.
func (n *BoundNode) respond(conn net.Conn, request protocol.Frame, msg protocol.Message) {
	resp := protocol.WrapResponse(request, msg)
	if err := protocol.WriteFrame(conn, resp); err != nil {
		n.logger.Debug("write failed", zap.Error(err), zap.String("node", n.Name()))
	}
}

func isStartupOrRegister(msg protocol.Message) bool {
	switch msg.(type) {
	case protocol.Startup, protocol.Register:
		return true
	}
	return false
}

// dispatch is the per-frame entry point: reject-state gating, activity
// logging, stub matching, then default responses.
func (n *BoundNode) dispatch(conn net.Conn, frame protocol.Frame) {
	msg := frame.Message

	if n.metrics != nil {
		n.metrics.FramesHandled.Inc()
	}

	if isStartupOrRegister(msg) && n.isUnconditionallyRejectingStartup() {
		if n.metrics != nil {
			n.metrics.RejectedStartups.Inc()
		}
		return
	}

	lookupMsg, unpreparedID := n.translateForLookup(msg)

	scope := n.Scope()
	var clusterID, dcID, nodeID int64 = -1, -1, -1
	if scope.ClusterID != nil {
		clusterID = *scope.ClusterID
	}
	if scope.DataCenterID != nil {
		dcID = *scope.DataCenterID
	}
	if scope.NodeID != nil {
		nodeID = *scope.NodeID
	}

	prime, matched := n.store.Find(clusterID, dcID, nodeID, lookupMsg)
	n.logActivity(conn, msg, matched)

	if unpreparedID != nil && !matched {
		msg := fmt.Sprintf("No prepared statement with id: %s", stubstore.PreparedIDHex(unpreparedID))
		n.respond(conn, frame, protocol.Unprepared(msg, unpreparedID))
		return
	}

	if matched {
		n.runActions(conn, frame, prime.Then)
		return
	}

	n.defaultResponse(conn, frame, msg)
}

// translateForLookup implements Execute's indirect matching: look up the
// prepared statement's query text and present the store with an equivalent
// Query message. Returns the id when it isn't known to this node's cache.
func (n *BoundNode) translateForLookup(msg protocol.Message) (protocol.Message, []byte) {
	exec, ok := msg.(protocol.Execute)
	if !ok {
		return msg, nil
	}
	queryText, found := n.prepared.Get(stubstore.PreparedIDHex(exec.ID))
	if !found {
		return msg, exec.ID
	}
	return protocol.Query{QueryText: queryText, Consistency: exec.Consistency, Values: exec.Values}, nil
}

func (n *BoundNode) logActivity(conn net.Conn, msg protocol.Message, matched bool) {
	if !n.loggingEnabled || n.activityLog == nil {
		return
	}
	scope := n.Scope()
	var clusterID, dcID, nodeID int64
	if scope.ClusterID != nil {
		clusterID = *scope.ClusterID
	}
	if scope.DataCenterID != nil {
		dcID = *scope.DataCenterID
	}
	if scope.NodeID != nil {
		nodeID = *scope.NodeID
	}
	opcode, query := describe(msg)
	n.activityLog.Add(activitylog.Entry{
		ClusterID:    clusterID,
		DataCenterID: dcID,
		NodeID:       nodeID,
		RemoteAddr:   conn.RemoteAddr(),
		Opcode:       opcode,
		Query:        query,
		Matched:      matched,
		Timestamp:    time.Now(),
	})
}

func describe(msg protocol.Message) (opcode string, query string) {
	switch m := msg.(type) {
	case protocol.Startup:
		return "STARTUP", ""
	case protocol.Register:
		return "REGISTER", ""
	case protocol.Options:
		return "OPTIONS", ""
	case protocol.Query:
		return "QUERY", m.QueryText
	case protocol.Prepare:
		return "PREPARE", m.QueryText
	case protocol.Execute:
		return "EXECUTE", ""
	case protocol.Batch:
		return "BATCH", ""
	default:
		return "UNKNOWN", ""
	}
}

// runActions executes a matched prime's action list sequentially: action
// k+1 does not begin until action k completes, including any per-action
// delay.
func (n *BoundNode) runActions(conn net.Conn, frame protocol.Frame, actions []stubstore.Action) {
	for _, a := range actions {
		if a.DelayMS > 0 {
			time.Sleep(time.Duration(a.DelayMS) * time.Millisecond)
		}
		switch a.Kind {
		case stubstore.ActionRespond:
			n.respond(conn, frame, a.Message)
		case stubstore.ActionNoResponse:
			// nothing to send
		case stubstore.ActionDisconnect:
			n.applyDisconnect(conn, a.DisconnectScope, a.DisconnectHow)
		}
	}
}

func (n *BoundNode) applyDisconnect(conn net.Conn, scope stubstore.DisconnectScope, how stubstore.DisconnectHow) {
	switch scope {
	case stubstore.DisconnectConnection:
		closeConn(conn, how)
	case stubstore.DisconnectNode:
		n.CloseConnections(how)
	case stubstore.DisconnectDataCenter, stubstore.DisconnectCluster:
		n.mu.Lock()
		fn := n.closeScope
		n.mu.Unlock()
		if fn != nil {
			fn(scope, how)
			return
		}
		// No sibling-fanout callback wired (e.g. a standalone BoundNode used
		// outside simulator.Server): degrade to this node alone.
		n.CloseConnections(how)
	}
}

func closeConn(conn net.Conn, how stubstore.DisconnectHow) {
	if tcp, ok := conn.(*net.TCPConn); ok {
		switch how {
		case stubstore.HowShutdownRead:
			tcp.CloseRead()
			return
		case stubstore.HowShutdownWrite:
			tcp.CloseWrite()
			return
		}
	}
	conn.Close()
}

// Connections returns a snapshot of currently-accepted client connections.
func (n *BoundNode) Connections() []net.Conn {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]net.Conn, 0, len(n.conns))
	for _, c := range n.conns {
		out = append(out, c)
	}
	return out
}

// CloseConnections closes every currently-accepted connection using how.
func (n *BoundNode) CloseConnections(how stubstore.DisconnectHow) {
	for _, c := range n.Connections() {
		closeConn(c, how)
	}
}

// CloseConnection closes one connection identified by its remote address
// string, if currently accepted.
func (n *BoundNode) CloseConnection(remoteAddr string, how stubstore.DisconnectHow) bool {
	n.mu.Lock()
	c, ok := n.conns[remoteAddr]
	n.mu.Unlock()
	if !ok {
		return false
	}
	closeConn(c, how)
	return true
}

// unbindListener closes the listener without touching accepted channels.
func (n *BoundNode) unbindListener() {
	n.mu.Lock()
	ln := n.listener
	n.listener = nil
	n.mu.Unlock()
	if ln != nil {
		ln.Close()
	}
}

// Close fully tears the node down: unbind, then disconnect every accepted
// channel. Address release back to the resolver is the caller's
// (simulator.Server's) responsibility, since only it knows which resolver
// allocated the address.
func (n *BoundNode) Close() {
	n.unbindListener()
	n.CloseConnections(stubstore.HowDisconnect)
}

// Reject drives the reject-state machine. after<=0 applies the scope
// immediately; after>0 lets that many Startups through first.
func (n *BoundNode) Reject(after int, scope RejectScope) {
	n.mu.Lock()
	n.reject = RejectState{Scope: scope, After: after}
	n.mu.Unlock()
	if after <= 0 {
		n.applyTransition(scope)
	}
}

// Accept resets the reject-state to its default and, if the listener is
// currently unbound, rebinds it on the same address.
func (n *BoundNode) Accept(ctx context.Context) error {
	n.mu.Lock()
	n.reject = defaultRejectState()
	needsRebind := n.listener == nil
	n.mu.Unlock()
	if needsRebind {
		return n.Bind(ctx)
	}
	return nil
}

func (n *BoundNode) isUnconditionallyRejectingStartup() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.reject.Scope == RejectStartup && n.reject.After <= 0
}

func (n *BoundNode) applyTransition(scope RejectScope) {
	switch scope {
	case RejectUnbind:
		n.unbindListener()
	case RejectStop:
		n.unbindListener()
		n.CloseConnections(stubstore.HowDisconnect)
	case RejectStartup:
		// state already enforces drop via isUnconditionallyRejectingStartup
	}
}

// computePreparedID derives a deterministic prepared-statement id from
// query text via FNV-1a, so a prime registered after a Prepare still
// matches the corresponding Executes, and repeated Prepares of the same
// text yield the same id.
func computePreparedID(queryText string) []byte {
	h := fnv.New64a()
	h.Write([]byte(queryText))
	return h.Sum(nil)
}
