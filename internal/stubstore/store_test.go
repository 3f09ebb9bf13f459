package stubstore

import (
	"testing"

	"github.com/bjmb/simulacron/internal/protocol"
	"github.com/bjmb/simulacron/internal/topology"
	"github.com/stretchr/testify/require"
)

func TestSimpleQueryPrime(t *testing.T) {
	s := New()
	scope := topology.ClusterScope(1)
	s.Register(*When("Select * FROM TABLE2").
		InScope(scope).
		Then(Respond(RowsOf(
			[]protocol.Column{{Name: "column1", Type: "varchar"}, {Name: "column2", Type: "int"}},
			[][]string{{"column1", "2"}},
		))))

	prime, ok := s.Find(1, 0, 0, protocol.Query{QueryText: "Select * FROM TABLE2"})
	require.True(t, ok)
	require.Len(t, prime.Then, 1)

	_, ok = s.Find(1, 0, 0, protocol.Query{QueryText: "Select * FROM OTHER"})
	require.False(t, ok)
}

func TestNamedParameterMatching(t *testing.T) {
	s := New()
	scope := topology.ClusterScope(1)
	q := "SELECT * FROM users WHERE id = :id and id2 = :id2"
	s.Register(*When(q).
		InScope(scope).
		WithNamedParam("id", "bigint", "1").
		WithNamedParam("id2", "bigint", "2").
		Then(Respond(RowsOf(nil, [][]string{{}}))))

	match := func(values ...protocol.Value) bool {
		_, ok := s.Find(1, 0, 0, protocol.Query{QueryText: q, Values: values})
		return ok
	}

	require.True(t, match(
		protocol.Value{Name: "id", Type: "bigint", Raw: "1"},
		protocol.Value{Name: "id2", Type: "bigint", Raw: "2"},
	))
	require.False(t, match(
		protocol.Value{Name: "id", Type: "bigint", Raw: "2"},
		protocol.Value{Name: "id2", Type: "bigint", Raw: "2"},
	))
	require.False(t, match(protocol.Value{Name: "id", Type: "bigint", Raw: "1"}))
	require.False(t, match())
}

func TestPositionalParameterMatching(t *testing.T) {
	s := New()
	scope := topology.ClusterScope(1)
	q := "SELECT table FROM foo WHERE c1=?"
	s.Register(*When(q).
		InScope(scope).
		WithPositionalParam(0, "ascii", "c1").
		Then(Respond(RowsOf(nil, [][]string{{}}))))

	_, ok := s.Find(1, 0, 0, protocol.Query{QueryText: q, Values: []protocol.Value{{Type: "ascii", Raw: "c1"}}})
	require.True(t, ok)

	_, ok = s.Find(1, 0, 0, protocol.Query{QueryText: q, Values: []protocol.Value{
		{Type: "ascii", Raw: "c1"}, {Type: "ascii", Raw: "extra"},
	}})
	require.False(t, ok)

	_, ok = s.Find(1, 0, 0, protocol.Query{QueryText: q + "x", Values: []protocol.Value{{Type: "ascii", Raw: "c1"}}})
	require.False(t, ok)
}

func TestWildcardParameterMatching(t *testing.T) {
	s := New()
	scope := topology.ClusterScope(1)
	q := "SELECT * FROM t WHERE x=?"
	s.Register(*When(q).InScope(scope).WithPositionalParam(0, "varchar", "*").Then(Respond(NoRows())))

	_, ok := s.Find(1, 0, 0, protocol.Query{QueryText: q, Values: []protocol.Value{{Type: "varchar", Raw: "anything"}}})
	require.True(t, ok)
	_, ok = s.Find(1, 0, 0, protocol.Query{QueryText: q, Values: []protocol.Value{{Type: "varchar", Raw: "else"}}})
	require.True(t, ok)
}

func TestAutoPrimeOnPreparePositional(t *testing.T) {
	p := AutoPrime("SELECT * FROM t WHERE k=?", topology.ClusterScope(1))
	require.True(t, p.Internal)
	require.Len(t, p.Matcher.Params, 1)
	require.Equal(t, wildcard, p.Matcher.Params[0].Value)
}

func TestAutoPrimeOnPrepareNamed(t *testing.T) {
	p := AutoPrime("SELECT * FROM users WHERE id = :id", topology.ClusterScope(1))
	require.Len(t, p.Matcher.Params, 1)
	require.Equal(t, "id", p.Matcher.Params[0].Name)
}

func TestClearPreservesInternalPrimes(t *testing.T) {
	s := New()
	before := len(s.primes)
	scope := topology.ClusterScope(1)
	s.Register(*When("select 1").InScope(scope).Then(NoResponseAction()))
	removed := s.Clear(scope, KindAny)
	require.Equal(t, 1, removed)
	require.Len(t, s.primes, before)
}

func TestClearThenReprimeLeavesOneCopy(t *testing.T) {
	s := New()
	scope := topology.ClusterScope(1)
	prime := *When("select 1").InScope(scope).Then(NoResponseAction())
	s.Register(prime)
	s.Clear(scope, KindAny)
	s.Register(prime)

	count := 0
	for _, p := range s.primes {
		if !p.Internal {
			count++
		}
	}
	require.Equal(t, 1, count)
}

func TestBuiltinSchemaPrimesAnswerEmpty(t *testing.T) {
	s := New()
	_, ok := s.Find(1, 0, 0, protocol.Query{QueryText: "SELECT * FROM system_schema.tables WHERE keyspace_name = 'ks'"})
	require.True(t, ok)
}
