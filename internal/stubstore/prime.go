// Package stubstore holds the prime (stub) registry and request matcher:
// how canned responses are registered, scoped, looked up for an incoming
// frame, and translated into an ordered action list.
package stubstore

import (
	"fmt"
	"strings"

	"github.com/bjmb/simulacron/internal/protocol"
	"github.com/bjmb/simulacron/internal/topology"
)

// Kind tags the request shape a Matcher applies to.
type Kind int

const (
	KindAny Kind = iota
	KindStartup
	KindOptions
	KindQuery
	KindPrepare
)

// ParamMatcher constrains one bound value of a Query/Execute. A param is
// named (Query/Execute with `:name` markers) or positional (`?` markers,
// identified by Index); Value == "*" is a wildcard that matches anything.
type ParamMatcher struct {
	Name  string
	Index int
	Type  string
	Value string
}

const wildcard = "*"

// Matcher is a prime's predicate. QueryText requires an exact match;
// QueryContains (used by built-in system-table primes) requires only a
// case-insensitive substring match and is checked instead of QueryText when
// set.
type Matcher struct {
	Kind          Kind
	QueryText     string
	QueryContains string
	Consistencies []uint16
	Params        []ParamMatcher
}

// Accepts reports whether msg satisfies this matcher.
func (m Matcher) Accepts(msg protocol.Message) bool {
	switch m.Kind {
	case KindAny:
		return true
	case KindStartup:
		_, ok := msg.(protocol.Startup)
		return ok
	case KindOptions:
		_, ok := msg.(protocol.Options)
		return ok
	case KindPrepare:
		p, ok := msg.(protocol.Prepare)
		if !ok {
			return false
		}
		return p.QueryText == m.QueryText
	case KindQuery:
		q, ok := msg.(protocol.Query)
		if !ok {
			return false
		}
		if !m.queryTextMatches(q.QueryText) {
			return false
		}
		if len(m.Consistencies) > 0 && !containsConsistency(m.Consistencies, q.Consistency) {
			return false
		}
		return matchParams(m.Params, q.Values)
	default:
		return false
	}
}

func (m Matcher) queryTextMatches(text string) bool {
	if m.QueryContains != "" {
		return strings.Contains(strings.ToLower(text), strings.ToLower(m.QueryContains))
	}
	return text == m.QueryText
}

func containsConsistency(set []uint16, v uint16) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

// matchParams implements Query parameter matching: if the matcher declares
// no parameters, any bound values pass; otherwise the frame must carry
// exactly the declared parameters, each equal or wildcarded.
func matchParams(params []ParamMatcher, values []protocol.Value) bool {
	if len(params) == 0 {
		return true
	}
	if len(params) != len(values) {
		return false
	}
	for _, p := range params {
		v, ok := findValue(p, values)
		if !ok {
			return false
		}
		if p.Type != "" && v.Type != "" && v.Type != p.Type {
			return false
		}
		if p.Value == wildcard {
			continue
		}
		if v.Null {
			return false
		}
		if v.Raw != p.Value {
			return false
		}
	}
	return true
}

func findValue(p ParamMatcher, values []protocol.Value) (protocol.Value, bool) {
	if p.Name != "" {
		for _, v := range values {
			if v.Name == p.Name {
				return v, true
			}
		}
		return protocol.Value{}, false
	}
	if p.Index < 0 || p.Index >= len(values) {
		return protocol.Value{}, false
	}
	return values[p.Index], true
}

// ActionKind tags the variant of an Action.
type ActionKind int

const (
	ActionRespond ActionKind = iota
	ActionNoResponse
	ActionDisconnect
)

// DisconnectScope selects which channels a Disconnect action closes.
type DisconnectScope int

const (
	DisconnectConnection DisconnectScope = iota
	DisconnectNode
	DisconnectDataCenter
	DisconnectCluster
)

// DisconnectHow selects the method used to close the selected channels.
// SHUTDOWN_READ/SHUTDOWN_WRITE fall back to DISCONNECT on non-socket
// channels.
type DisconnectHow int

const (
	HowDisconnect DisconnectHow = iota
	HowShutdownRead
	HowShutdownWrite
)

// Action is one step of a prime's response plan. DelayMS, when non-zero,
// delays this action's execution (and therefore every action after it,
// since actions of one matched prime run strictly in order).
type Action struct {
	Kind            ActionKind
	Message         protocol.Message
	DisconnectScope DisconnectScope
	DisconnectHow   DisconnectHow
	DelayMS         int
}

func Respond(msg protocol.Message) Action { return Action{Kind: ActionRespond, Message: msg} }

func NoResponseAction() Action { return Action{Kind: ActionNoResponse} }

func Disconnect(scope DisconnectScope, how DisconnectHow) Action {
	return Action{Kind: ActionDisconnect, DisconnectScope: scope, DisconnectHow: how}
}

// WithDelay returns a copy of a with DelayMS set.
func (a Action) WithDelay(ms int) Action {
	a.DelayMS = ms
	return a
}

// Prime is a registered (matcher, actions, scope) triple.
type Prime struct {
	Matcher  Matcher
	Then     []Action
	Scope    topology.Scope
	Internal bool
}

// Builder is a small fluent DSL for the `when(...).then(...)` prime
// registration style.
type Builder struct {
	prime Prime
}

// When starts a new prime for the given query text, matched exactly.
func When(queryText string) *Builder {
	return &Builder{prime: Prime{Matcher: Matcher{Kind: KindQuery, QueryText: queryText}}}
}

// WhenPrepare starts a new prime matching a literal Prepare request.
func WhenPrepare(queryText string) *Builder {
	return &Builder{prime: Prime{Matcher: Matcher{Kind: KindPrepare, QueryText: queryText}}}
}

func (b *Builder) WithConsistency(levels ...uint16) *Builder {
	b.prime.Matcher.Consistencies = levels
	return b
}

func (b *Builder) WithNamedParam(name, typ, value string) *Builder {
	b.prime.Matcher.Params = append(b.prime.Matcher.Params, ParamMatcher{Name: name, Type: typ, Value: value})
	return b
}

func (b *Builder) WithPositionalParam(index int, typ, value string) *Builder {
	b.prime.Matcher.Params = append(b.prime.Matcher.Params, ParamMatcher{Index: index, Type: typ, Value: value})
	return b
}

func (b *Builder) InScope(scope topology.Scope) *Builder {
	b.prime.Scope = scope
	return b
}

func (b *Builder) Then(actions ...Action) *Prime {
	b.prime.Then = actions
	return &b.prime
}

// RowsOf builds a Rows response with the given columns and string-cell rows.
// Every cell is non-NULL ("" is the empty string, not NULL); a row with NULL
// cells is built directly as protocol.Rows with nil entries.
func RowsOf(columns []protocol.Column, rows [][]string) protocol.Rows {
	out := make([][]*string, len(rows))
	for i, row := range rows {
		cells := make([]*string, len(row))
		for j, v := range row {
			val := v
			cells[j] = &val
		}
		out[i] = cells
	}
	return protocol.Rows{Columns: columns, RowValues: out}
}

// NoRows builds an empty, column-less result set — the standard auto-prime
// response for Prepare→Execute.
func NoRows() protocol.Rows {
	return protocol.Rows{}
}

// inferParams builds the auto-prime parameter skeleton from query text: `?`
// markers produce indexed varchar wildcards, else named `:name` markers
// produce named varchar wildcards.
func inferParams(queryText string) []ParamMatcher {
	if strings.Contains(queryText, "?") {
		var params []ParamMatcher
		for i := 0; i < strings.Count(queryText, "?"); i++ {
			params = append(params, ParamMatcher{Index: i, Type: "varchar", Value: wildcard})
		}
		return params
	}
	var params []ParamMatcher
	for _, tok := range strings.Fields(queryText) {
		if strings.HasPrefix(tok, ":") {
			name := strings.TrimPrefix(tok, ":")
			params = append(params, ParamMatcher{Name: name, Type: "varchar", Value: wildcard})
			continue
		}
		if idx := strings.Index(tok, "=:"); idx >= 0 {
			name := tok[idx+2:]
			params = append(params, ParamMatcher{Name: name, Type: "varchar", Value: wildcard})
		}
	}
	return params
}

// AutoPrime builds the internal prime registered the first time a query
// text is Prepared: matches that exact Query text with an inferred
// parameter skeleton, responding with an empty Rows.
func AutoPrime(queryText string, scope topology.Scope) Prime {
	return Prime{
		Matcher: Matcher{
			Kind:      KindQuery,
			QueryText: queryText,
			Params:    inferParams(queryText),
		},
		Then:     []Action{Respond(NoRows())},
		Scope:    scope,
		Internal: true,
	}
}

// PreparedIDHex renders a prepared statement id the way Unprepared errors
// quote it in their message.
func PreparedIDHex(id []byte) string {
	return fmt.Sprintf("%x", id)
}
