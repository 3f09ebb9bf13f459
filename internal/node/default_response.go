package node

import (
	"net"
	"regexp"
	"strings"

	"github.com/bjmb/simulacron/internal/protocol"
	"github.com/bjmb/simulacron/internal/stubstore"
)

var defaultOptions = map[string][]string{
	"PROTOCOL_VERSIONS": {"3/v3", "4/v4", "5/v5-beta"},
	"CQL_VERSION":       {"3.4.4"},
	"COMPRESSION":       {"snappy", "lz4"},
}

var useKeyspaceRe = regexp.MustCompile(`(?i)^\s*use\s+([a-zA-Z0-9_"]+)\s*;?\s*$`)

// defaultResponse implements the minimal-viable-database table from the
// connection engine's design: the response the engine gives when no prime
// matched the incoming frame.
func (n *BoundNode) defaultResponse(conn net.Conn, frame protocol.Frame, msg protocol.Message) {
	switch m := msg.(type) {
	case protocol.Startup, protocol.Register:
		n.handleStartupOrRegisterDefault(conn, frame)
	case protocol.Options:
		n.respond(conn, frame, protocol.Supported{Options: defaultOptions})
	case protocol.Query:
		n.handleQueryDefault(conn, frame, m)
	case protocol.Prepare:
		n.handlePrepareDefault(conn, frame, m)
	case protocol.Execute:
		// Reached only when the id was known to this node's prepared cache
		// but, unexpectedly, no prime (including its own auto-prime)
		// matched; answer the same way an un-primed Query would.
		n.respond(conn, frame, protocol.Void{})
	case protocol.Batch:
		// Batch-message matching isn't specified beyond "falling back to
		// Void is safe"; see the design notes this mirrors.
		n.respond(conn, frame, protocol.Void{})
	default:
		// Unknown message kind: ignored, no response.
	}
}

func (n *BoundNode) handleQueryDefault(conn net.Conn, frame protocol.Frame, q protocol.Query) {
	if table, ok := stubstore.QueryTargetsSystemPeers(q.QueryText); ok {
		if table == "local" {
			n.respond(conn, frame, stubstore.SystemLocalRow(n.Node))
		} else {
			n.respond(conn, frame, stubstore.SystemPeersRows(n.Node))
		}
		return
	}
	if ks, ok := parseUseKeyspace(q.QueryText); ok {
		n.respond(conn, frame, protocol.SetKeyspace{Keyspace: ks})
		return
	}
	n.respond(conn, frame, protocol.Void{})
}

func parseUseKeyspace(queryText string) (string, bool) {
	m := useKeyspaceRe.FindStringSubmatch(queryText)
	if m == nil {
		return "", false
	}
	return strings.Trim(m[1], `"`), true
}

func (n *BoundNode) handlePrepareDefault(conn net.Conn, frame protocol.Frame, p protocol.Prepare) {
	id := computePreparedID(p.QueryText)
	key := stubstore.PreparedIDHex(id)
	if _, alreadyPrepared := n.prepared.Get(key); !alreadyPrepared {
		n.store.RegisterInternal(stubstore.AutoPrime(p.QueryText, n.Node.Scope()))
	}
	n.prepared.Add(key, p.QueryText)
	n.respond(conn, frame, protocol.Prepared{ID: id})
}

// handleStartupOrRegisterDefault sends Ready (unless unconditionally
// rejecting startups, already filtered out by the caller) and advances the
// reject-state counter. The scheduled transition, if this request drains
// the counter to zero, only begins after the Ready write has been handed
// to the connection.
func (n *BoundNode) handleStartupOrRegisterDefault(conn net.Conn, frame protocol.Frame) {
	n.respond(conn, frame, protocol.Ready{})

	n.mu.Lock()
	triggered := false
	scope := n.reject.Scope
	if n.reject.After > 0 {
		n.reject.After--
		if n.reject.After == 0 {
			triggered = true
		}
	}
	n.mu.Unlock()

	if triggered {
		n.applyTransition(scope)
	}
}
