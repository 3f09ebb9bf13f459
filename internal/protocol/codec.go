package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

const headerLength = 9

// ReadFrame reads one frame's header and body from r.
func ReadFrame(r io.Reader) (Frame, error) {
	header := make([]byte, headerLength)
	if _, err := io.ReadFull(r, header); err != nil {
		return Frame{}, fmt.Errorf("protocol: reading header: %w", err)
	}
	version := header[0]
	flags := header[1]
	streamID := int16(binary.BigEndian.Uint16(header[2:4]))
	opcode := Opcode(header[4])
	length := binary.BigEndian.Uint32(header[5:9])

	body := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(r, body); err != nil {
			return Frame{}, fmt.Errorf("protocol: reading body: %w", err)
		}
	}

	msg, err := decodeBody(opcode, body)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Version: version, Flags: flags, StreamID: streamID, Message: msg}, nil
}

// WriteFrame encodes f's header and body to w.
func WriteFrame(w io.Writer, f Frame) error {
	body, err := encodeBody(f.Message)
	if err != nil {
		return err
	}
	header := make([]byte, headerLength)
	header[0] = f.Version
	header[1] = f.Flags
	binary.BigEndian.PutUint16(header[2:4], uint16(f.StreamID))
	header[4] = byte(f.Message.Opcode())
	binary.BigEndian.PutUint32(header[5:9], uint32(len(body)))

	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("protocol: writing header: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("protocol: writing body: %w", err)
	}
	return nil
}

// --- primitive encoders ---

func writeShort(buf *bytes.Buffer, v uint16) {
	var tmp [2]byte
	binary.BigEndian.PutUint16(tmp[:], v)
	buf.Write(tmp[:])
}

func writeInt(buf *bytes.Buffer, v int32) {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], uint32(v))
	buf.Write(tmp[:])
}

func writeString(buf *bytes.Buffer, s string) {
	writeShort(buf, uint16(len(s)))
	buf.WriteString(s)
}

func writeLongString(buf *bytes.Buffer, s string) {
	writeInt(buf, int32(len(s)))
	buf.WriteString(s)
}

func writeStringList(buf *bytes.Buffer, items []string) {
	writeShort(buf, uint16(len(items)))
	for _, s := range items {
		writeString(buf, s)
	}
}

func writeStringMap(buf *bytes.Buffer, m map[string]string) {
	writeShort(buf, uint16(len(m)))
	for k, v := range m {
		writeString(buf, k)
		writeString(buf, v)
	}
}

func writeStringMultimap(buf *bytes.Buffer, m map[string][]string) {
	writeShort(buf, uint16(len(m)))
	for k, v := range m {
		writeString(buf, k)
		writeStringList(buf, v)
	}
}

func writeBytes(buf *bytes.Buffer, b []byte) {
	if b == nil {
		writeInt(buf, -1)
		return
	}
	writeInt(buf, int32(len(b)))
	buf.Write(b)
}

func writeValue(buf *bytes.Buffer, v Value) {
	named := v.Name != ""
	if named {
		buf.WriteByte(1)
		writeString(buf, v.Name)
	} else {
		buf.WriteByte(0)
	}
	writeString(buf, v.Type)
	if v.Null {
		buf.WriteByte(1)
		return
	}
	buf.WriteByte(0)
	writeLongString(buf, v.Raw)
}

func writeValues(buf *bytes.Buffer, values []Value) {
	writeShort(buf, uint16(len(values)))
	for _, v := range values {
		writeValue(buf, v)
	}
}

// --- primitive decoders ---

type reader struct {
	b   []byte
	pos int
}

func newReader(b []byte) *reader { return &reader{b: b} }

func (r *reader) short() (uint16, error) {
	if r.pos+2 > len(r.b) {
		return 0, fmt.Errorf("protocol: truncated short")
	}
	v := binary.BigEndian.Uint16(r.b[r.pos : r.pos+2])
	r.pos += 2
	return v, nil
}

func (r *reader) int32() (int32, error) {
	if r.pos+4 > len(r.b) {
		return 0, fmt.Errorf("protocol: truncated int")
	}
	v := int32(binary.BigEndian.Uint32(r.b[r.pos : r.pos+4]))
	r.pos += 4
	return v, nil
}

func (r *reader) raw(n int) ([]byte, error) {
	if n < 0 || r.pos+n > len(r.b) {
		return nil, fmt.Errorf("protocol: truncated field")
	}
	v := r.b[r.pos : r.pos+n]
	r.pos += n
	return v, nil
}

func (r *reader) string() (string, error) {
	n, err := r.short()
	if err != nil {
		return "", err
	}
	b, err := r.raw(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (r *reader) longString() (string, error) {
	n, err := r.int32()
	if err != nil {
		return "", err
	}
	b, err := r.raw(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (r *reader) stringList() ([]string, error) {
	n, err := r.short()
	if err != nil {
		return nil, err
	}
	out := make([]string, n)
	for i := range out {
		s, err := r.string()
		if err != nil {
			return nil, err
		}
		out[i] = s
	}
	return out, nil
}

func (r *reader) stringMap() (map[string]string, error) {
	n, err := r.short()
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, n)
	for i := uint16(0); i < n; i++ {
		k, err := r.string()
		if err != nil {
			return nil, err
		}
		v, err := r.string()
		if err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, nil
}

func (r *reader) bytesField() ([]byte, error) {
	n, err := r.int32()
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, nil
	}
	return r.raw(int(n))
}

func (r *reader) value() (Value, error) {
	namedFlag, err := r.raw(1)
	if err != nil {
		return Value{}, err
	}
	var v Value
	if namedFlag[0] == 1 {
		name, err := r.string()
		if err != nil {
			return Value{}, err
		}
		v.Name = name
	}
	typ, err := r.string()
	if err != nil {
		return Value{}, err
	}
	v.Type = typ
	nullFlag, err := r.raw(1)
	if err != nil {
		return Value{}, err
	}
	if nullFlag[0] == 1 {
		v.Null = true
		return v, nil
	}
	raw, err := r.longString()
	if err != nil {
		return Value{}, err
	}
	v.Raw = raw
	return v, nil
}

func (r *reader) values() ([]Value, error) {
	n, err := r.short()
	if err != nil {
		return nil, err
	}
	out := make([]Value, n)
	for i := range out {
		v, err := r.value()
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// --- message encode/decode dispatch ---

func encodeBody(msg Message) ([]byte, error) {
	buf := &bytes.Buffer{}
	switch m := msg.(type) {
	case Startup:
		writeStringMap(buf, m.Options)
	case Register:
		writeStringList(buf, m.Events)
	case Options:
		// empty body
	case Query:
		writeLongString(buf, m.QueryText)
		writeShort(buf, m.Consistency)
		writeValues(buf, m.Values)
	case Prepare:
		writeLongString(buf, m.QueryText)
	case Execute:
		writeBytes(buf, m.ID)
		writeShort(buf, m.Consistency)
		writeValues(buf, m.Values)
	case Batch:
		writeShort(buf, uint16(len(m.Children)))
		for _, c := range m.Children {
			if c.ID != nil {
				buf.WriteByte(1)
				writeBytes(buf, c.ID)
			} else {
				buf.WriteByte(0)
				writeLongString(buf, c.QueryText)
			}
			writeValues(buf, c.Values)
		}
		writeShort(buf, m.Consistency)
	case Ready:
		// empty body
	case Supported:
		writeStringMultimap(buf, m.Options)
	case Void:
		writeInt(buf, int32(ResultVoid))
	case SetKeyspace:
		writeInt(buf, int32(ResultSetKeyspace))
		writeString(buf, m.Keyspace)
	case Rows:
		writeInt(buf, int32(ResultRows))
		writeInt(buf, int32(len(m.Columns)))
		for _, c := range m.Columns {
			writeString(buf, c.Keyspace)
			writeString(buf, c.Table)
			writeString(buf, c.Name)
			writeString(buf, c.Type)
		}
		writeInt(buf, int32(len(m.RowValues)))
		for _, row := range m.RowValues {
			for _, cell := range row {
				if cell == nil {
					writeBytes(buf, nil)
				} else {
					writeBytes(buf, []byte(*cell))
				}
			}
		}
	case Prepared:
		writeInt(buf, int32(ResultPrepared))
		writeBytes(buf, m.ID)
	case ErrorMessage:
		writeInt(buf, int32(m.Code))
		writeString(buf, m.Message)
		switch m.Code {
		case ErrUnavailable:
			writeShort(buf, m.Consistency)
			writeInt(buf, m.BlockFor)
			writeInt(buf, m.Alive)
		case ErrWriteTimeout, ErrReadTimeout:
			writeShort(buf, m.Consistency)
			writeInt(buf, m.Received)
			writeInt(buf, m.BlockFor)
			if m.Code == ErrWriteTimeout {
				writeString(buf, m.WriteType)
			}
		case ErrWriteFailure, ErrReadFailure:
			writeShort(buf, m.Consistency)
			writeInt(buf, m.Received)
			writeInt(buf, m.BlockFor)
			writeStringMap(buf, shortMap(m.FailureReasons))
			if m.Code == ErrWriteFailure {
				writeString(buf, m.WriteType)
			}
		case ErrUnprepared:
			writeBytes(buf, m.UnpreparedID)
		}
	default:
		return nil, fmt.Errorf("protocol: no encoder for %T", msg)
	}
	return buf.Bytes(), nil
}

// shortMap renders a map[string]uint16 as a map[string]string so it can
// ride writeStringMap; the failure-reason payload is small enough that a
// textual encoding costs nothing in practice.
func shortMap(m map[string]uint16) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = fmt.Sprintf("%d", v)
	}
	return out
}

func decodeBody(opcode Opcode, body []byte) (Message, error) {
	r := newReader(body)
	switch opcode {
	case OpStartup:
		opts, err := r.stringMap()
		if err != nil {
			return nil, err
		}
		return Startup{Options: opts}, nil
	case OpRegister:
		events, err := r.stringList()
		if err != nil {
			return nil, err
		}
		return Register{Events: events}, nil
	case OpOptions:
		return Options{}, nil
	case OpQuery:
		text, err := r.longString()
		if err != nil {
			return nil, err
		}
		cl, err := r.short()
		if err != nil {
			return nil, err
		}
		values, err := r.values()
		if err != nil {
			return nil, err
		}
		return Query{QueryText: text, Consistency: cl, Values: values}, nil
	case OpPrepare:
		text, err := r.longString()
		if err != nil {
			return nil, err
		}
		return Prepare{QueryText: text}, nil
	case OpExecute:
		id, err := r.bytesField()
		if err != nil {
			return nil, err
		}
		cl, err := r.short()
		if err != nil {
			return nil, err
		}
		values, err := r.values()
		if err != nil {
			return nil, err
		}
		return Execute{ID: id, Consistency: cl, Values: values}, nil
	case OpBatch:
		n, err := r.short()
		if err != nil {
			return nil, err
		}
		children := make([]BatchChild, n)
		for i := range children {
			kind, err := r.raw(1)
			if err != nil {
				return nil, err
			}
			var c BatchChild
			if kind[0] == 1 {
				id, err := r.bytesField()
				if err != nil {
					return nil, err
				}
				c.ID = id
			} else {
				text, err := r.longString()
				if err != nil {
					return nil, err
				}
				c.QueryText = text
			}
			values, err := r.values()
			if err != nil {
				return nil, err
			}
			c.Values = values
			children[i] = c
		}
		cl, err := r.short()
		if err != nil {
			return nil, err
		}
		return Batch{Children: children, Consistency: cl}, nil
	case OpReady:
		return Ready{}, nil
	case OpSupported:
		n, err := r.short()
		if err != nil {
			return nil, err
		}
		out := make(map[string][]string, n)
		for i := uint16(0); i < n; i++ {
			k, err := r.string()
			if err != nil {
				return nil, err
			}
			v, err := r.stringList()
			if err != nil {
				return nil, err
			}
			out[k] = v
		}
		return Supported{Options: out}, nil
	case OpResult:
		return decodeResult(r)
	case OpError:
		return decodeError(r)
	default:
		return nil, fmt.Errorf("protocol: unknown opcode %#x", byte(opcode))
	}
}

func decodeResult(r *reader) (Message, error) {
	kind, err := r.int32()
	if err != nil {
		return nil, err
	}
	switch ResultKind(kind) {
	case ResultVoid:
		return Void{}, nil
	case ResultSetKeyspace:
		ks, err := r.string()
		if err != nil {
			return nil, err
		}
		return SetKeyspace{Keyspace: ks}, nil
	case ResultPrepared:
		id, err := r.bytesField()
		if err != nil {
			return nil, err
		}
		return Prepared{ID: id}, nil
	case ResultRows:
		nCols, err := r.int32()
		if err != nil {
			return nil, err
		}
		cols := make([]Column, nCols)
		for i := range cols {
			ks, err := r.string()
			if err != nil {
				return nil, err
			}
			tbl, err := r.string()
			if err != nil {
				return nil, err
			}
			name, err := r.string()
			if err != nil {
				return nil, err
			}
			typ, err := r.string()
			if err != nil {
				return nil, err
			}
			cols[i] = Column{Keyspace: ks, Table: tbl, Name: name, Type: typ}
		}
		nRows, err := r.int32()
		if err != nil {
			return nil, err
		}
		rows := make([][]*string, nRows)
		for i := range rows {
			row := make([]*string, len(cols))
			for j := range row {
				b, err := r.bytesField()
				if err != nil {
					return nil, err
				}
				if b != nil {
					s := string(b)
					row[j] = &s
				}
			}
			rows[i] = row
		}
		return Rows{Columns: cols, RowValues: rows}, nil
	default:
		return nil, fmt.Errorf("protocol: unknown result kind %d", kind)
	}
}

func decodeError(r *reader) (Message, error) {
	code, err := r.int32()
	if err != nil {
		return nil, err
	}
	msg, err := r.string()
	if err != nil {
		return nil, err
	}
	e := ErrorMessage{Code: ErrorCode(code), Message: msg}
	switch e.Code {
	case ErrUnavailable:
		if e.Consistency, err = r.short(); err != nil {
			return nil, err
		}
		if e.BlockFor, err = r.int32(); err != nil {
			return nil, err
		}
		if e.Alive, err = r.int32(); err != nil {
			return nil, err
		}
	case ErrWriteTimeout, ErrReadTimeout:
		if e.Consistency, err = r.short(); err != nil {
			return nil, err
		}
		if e.Received, err = r.int32(); err != nil {
			return nil, err
		}
		if e.BlockFor, err = r.int32(); err != nil {
			return nil, err
		}
		if e.Code == ErrWriteTimeout {
			if e.WriteType, err = r.string(); err != nil {
				return nil, err
			}
		}
	case ErrWriteFailure, ErrReadFailure:
		if e.Consistency, err = r.short(); err != nil {
			return nil, err
		}
		if e.Received, err = r.int32(); err != nil {
			return nil, err
		}
		if e.BlockFor, err = r.int32(); err != nil {
			return nil, err
		}
		reasons, err := r.stringMap()
		if err != nil {
			return nil, err
		}
		e.FailureReasons = make(map[string]uint16, len(reasons))
		for k, v := range reasons {
			var n uint16
			fmt.Sscanf(v, "%d", &n)
			e.FailureReasons[k] = n
		}
		if e.Code == ErrWriteFailure {
			if e.WriteType, err = r.string(); err != nil {
				return nil, err
			}
		}
	case ErrUnprepared:
		if e.UnpreparedID, err = r.bytesField(); err != nil {
			return nil, err
		}
	}
	return e, nil
}
