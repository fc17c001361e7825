package worker

import (
	"encoding/binary"
	"fmt"
	"io"
)

// wireSize is the encoded byte length of a Msg: 1 (kind) + 4 + 4 (A, B) +
// stringFieldLen, matching the teacher's practice of computing an explicit
// on-wire size instead of relying on struct layout (chunk/writer.go).
const wireSize = 1 + 4 + 4 + stringFieldLen

// WriteMsg encodes m as a fixed-size record and writes it to w.
func WriteMsg(w io.Writer, m Msg) error {
	var buf [wireSize]byte
	buf[0] = byte(m.Kind)
	binary.BigEndian.PutUint32(buf[1:5], uint32(m.A))
	binary.BigEndian.PutUint32(buf[5:9], uint32(m.B))
	copy(buf[9:], m.S[:])
	if _, err := w.Write(buf[:]); err != nil {
		return fmt.Errorf("worker.write_msg: %w", err)
	}
	return nil
}

// ReadMsg reads one fixed-size record from r and decodes it.
func ReadMsg(r io.Reader) (Msg, error) {
	var buf [wireSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return Msg{}, err
	}
	m := Msg{
		Kind: Kind(buf[0]),
		A:    int32(binary.BigEndian.Uint32(buf[1:5])),
		B:    int32(binary.BigEndian.Uint32(buf[5:9])),
	}
	copy(m.S[:], buf[9:])
	return m, nil
}
