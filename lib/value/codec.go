package value

import (
	"encoding/binary"
	"fmt"

	"github.com/ValentinKolb/ckv/lib/key"
	"github.com/ValentinKolb/ckv/lib/persist"
)

// HeaderSize is the size of the wire header preceding the payload:
//
//	[type:1][persist:1][len:4][max:4]
const HeaderSize = 10

// Encode serializes v for the wire. A nil value or a tombstone is a single
// zero byte. The bytes are loaded from the backend if they were freed.
func Encode(v *Value, reg *persist.Registry) ([]byte, error) {
	if v == nil || v.typ == TypeTombstone {
		return []byte{byte(TypeTombstone)}, nil
	}
	mem, err := v.MemOrLoad(reg)
	if err != nil {
		return nil, err
	}
	ps := v.Persist()
	if ps.Tag() == persist.TagICE {
		// not on the receiver's disk
		ps = ps.WithoutPersisted()
	}
	buf := make([]byte, HeaderSize+len(mem))
	buf[0] = byte(v.typ)
	buf[1] = byte(ps)
	binary.BigEndian.PutUint32(buf[2:6], uint32(len(mem)))
	binary.BigEndian.PutUint32(buf[6:10], uint32(v.max))
	copy(buf[HeaderSize:], mem)
	return buf, nil
}

// Decode parses a wire value for k. A tombstone decodes to nil without
// reading past the type byte. The payload is copied. Decoded values start
// with their remote put state done.
func Decode(k key.Key, b []byte) (*Value, error) {
	if len(b) == 0 {
		return nil, fmt.Errorf("value: decode %q: empty buffer", string(k))
	}
	typ := Type(b[0])
	if typ == TypeTombstone {
		return nil, nil
	}
	if len(b) < HeaderSize {
		return nil, fmt.Errorf("value: decode %q: short header (%d bytes)", string(k), len(b))
	}
	ps := persist.State(b[1])
	length := int(binary.BigEndian.Uint32(b[2:6]))
	maxLen := int(binary.BigEndian.Uint32(b[6:10]))

	switch {
	case maxLen > MaxSize:
		return nil, fmt.Errorf("value: decode %q: max length %d exceeds %d", string(k), maxLen, MaxSize)
	case length > maxLen:
		return nil, fmt.Errorf("value: decode %q: length %d exceeds max length %d", string(k), length, maxLen)
	case len(b)-HeaderSize != length:
		return nil, fmt.Errorf("value: decode %q: payload is %d bytes, header says %d", string(k), len(b)-HeaderSize, length)
	}
	if ps.Tag() == persist.TagICE {
		ps = ps.WithoutPersisted()
	}
	if length < maxLen && !ps.IsPersisted() {
		return nil, fmt.Errorf("value: decode %q: partial payload (%d of %d) without a durable copy", string(k), length, maxLen)
	}

	mem := make([]byte, length)
	copy(mem, b[HeaderSize:])
	v := newValue(k, typ, maxLen, mem, ps)
	v.MarkRemoteDone()
	return v, nil
}
