package protocol

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func roundTrip(t *testing.T, f Frame) Frame {
	t.Helper()
	buf := &bytes.Buffer{}
	require.NoError(t, WriteFrame(buf, f))
	got, err := ReadFrame(buf)
	require.NoError(t, err)
	return got
}

func TestRoundTripStartup(t *testing.T) {
	f := Frame{Version: 4, StreamID: 1, Message: Startup{Options: map[string]string{"CQL_VERSION": "3.0.0"}}}
	got := roundTrip(t, f)
	require.Equal(t, f.Version, got.Version)
	require.Equal(t, f.StreamID, got.StreamID)
	require.Equal(t, f.Message, got.Message)
}

func TestRoundTripQueryWithValues(t *testing.T) {
	q := Query{
		QueryText:   "select * from ks.t where k = ?",
		Consistency: 1,
		Values: []Value{
			{Name: "", Type: "varchar", Raw: "hello"},
			{Name: "count", Type: "bigint", Raw: "42"},
			{Name: "", Type: "varchar", Null: true},
		},
	}
	f := Frame{Version: 4, StreamID: 7, Message: q}
	got := roundTrip(t, f)
	require.Equal(t, q, got.Message)
}

func TestRoundTripRows(t *testing.T) {
	v1, v2 := "a", "1"
	rows := Rows{
		Columns: []Column{{Keyspace: "system", Table: "local", Name: "key", Type: "varchar"}},
		RowValues: [][]*string{
			{&v1},
			{&v2},
			{nil},
		},
	}
	f := Frame{Version: 0x84, StreamID: 3, Message: rows}
	got := roundTrip(t, f)
	require.Equal(t, rows, got.Message)
}

func TestRoundTripErrorUnavailable(t *testing.T) {
	e := ErrorMessage{Code: ErrUnavailable, Message: "not enough replicas", Consistency: 6, BlockFor: 3, Alive: 1}
	f := Frame{Version: 0x84, StreamID: 2, Message: e}
	got := roundTrip(t, f)
	require.Equal(t, e, got.Message)
}

func TestRoundTripUnprepared(t *testing.T) {
	e := Unprepared("no matching prime", []byte{0xDE, 0xAD, 0xBE, 0xEF})
	f := WrapResponse(Frame{Version: 4, StreamID: 9}, e)
	got := roundTrip(t, f)
	require.Equal(t, e, got.Message)
	require.Equal(t, byte(4|responseVersionBit), got.Version)
}
