package node

// RejectScope selects which connection-control transition a reject() call
// schedules.
type RejectScope int

const (
	RejectNone RejectScope = iota
	RejectUnbind
	RejectStop
	RejectStartup
)

// RejectState is the per-node connection-control record. After is the
// remaining "let N through" counter; -1 means unbounded (the default NONE
// state, or any scope once its counter has been consumed down to the
// unconditional case is represented as 0, never negative again).
type RejectState struct {
	Scope RejectScope
	After int
}

func defaultRejectState() RejectState {
	return RejectState{Scope: RejectNone, After: -1}
}
