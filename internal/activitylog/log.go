// Package activitylog implements the per-cluster, append-only record of
// observed requests: entries accumulate in the order they are added.
//
// Entries are kept in a google/btree ordered by a monotonically increasing
// sequence number. All copies every entry out in sequence order under a read
// lock (writers wait while it runs); ForNode filters that copy by data center
// and node.
package activitylog

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/btree"
)

// Entry is one observed request, logged regardless of whether it matched a
// prime.
type Entry struct {
	Seq          int64
	ClusterID    int64
	DataCenterID int64
	NodeID       int64
	RemoteAddr   net.Addr
	Opcode       string
	Query        string
	Matched      bool
	Timestamp    time.Time
}

func (e Entry) Less(than btree.Item) bool {
	return e.Seq < than.(Entry).Seq
}

// Log is a concurrency-safe, append-only activity log for one cluster.
type Log struct {
	mu   sync.RWMutex
	tree *btree.BTree
	seq  int64
}

// New creates an empty activity log.
func New() *Log {
	return &Log{tree: btree.New(32)}
}

// Add appends an entry, stamping it with the next sequence number.
func (l *Log) Add(e Entry) {
	seq := atomic.AddInt64(&l.seq, 1)
	e.Seq = seq
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tree.ReplaceOrInsert(e)
}

// All returns every entry in sequence order.
func (l *Log) All() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	entries := make([]Entry, 0, l.tree.Len())
	l.tree.Ascend(func(item btree.Item) bool {
		entries = append(entries, item.(Entry))
		return true
	})
	return entries
}

// ForNode returns every entry logged for a particular data center/node pair,
// in sequence order. dcID/nodeID of -1 widen the filter.
func (l *Log) ForNode(dcID, nodeID int64) []Entry {
	all := l.All()
	out := make([]Entry, 0, len(all))
	for _, e := range all {
		if dcID >= 0 && e.DataCenterID != dcID {
			continue
		}
		if nodeID >= 0 && e.NodeID != nodeID {
			continue
		}
		out = append(out, e)
	}
	return out
}

// Clear discards every entry, returning the count removed.
func (l *Log) Clear() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := l.tree.Len()
	l.tree = btree.New(32)
	return n
}
