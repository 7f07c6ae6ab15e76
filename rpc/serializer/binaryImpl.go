package serializer

import (
	"encoding/binary"
	"fmt"

	"github.com/ValentinKolb/ckv/lib/store"
	"github.com/ValentinKolb/ckv/rpc/common"
)

// NewBinarySerializer creates a new serializer using a custom binary format
// optimized for speed and efficiency
func NewBinarySerializer() IRPCSerializer {
	return &binarySerializerImpl{}
}

// binarySerializerImpl implements IRPCSerializer using a custom binary format
type binarySerializerImpl struct {
}

// Bit flags to indicate which optional fields are present
const (
	hasKey   byte = 1 << 0
	hasLease byte = 1 << 1
	hasValue byte = 1 << 2
	hasOk    byte = 1 << 3
	hasErr   byte = 1 << 4
	hasCode  byte = 1 << 5
)

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IRPCSerializer)
// --------------------------------------------------------------------------

// Serialize writes [type:1][flags:1] followed by the present fields in flag
// order. Strings and byte slices are prefixed by a 4 byte length.
func (b binarySerializerImpl) Serialize(msg common.Message) ([]byte, error) {
	result := make([]byte, b.sizeBytes(msg))
	result[0] = byte(msg.MsgType)

	var flags byte
	pos := 2 // Start after MsgType and flags

	putBytes := func(data []byte) {
		binary.BigEndian.PutUint32(result[pos:pos+4], uint32(len(data)))
		pos += 4
		pos += copy(result[pos:], data)
	}

	if msg.Key != "" {
		flags |= hasKey
		putBytes([]byte(msg.Key))
	}
	if msg.Lease != 0 {
		flags |= hasLease
		binary.BigEndian.PutUint64(result[pos:pos+8], msg.Lease)
		pos += 8
	}
	if msg.Value != nil {
		flags |= hasValue
		putBytes(msg.Value)
	}
	if msg.Ok {
		// presence of the flag is the value
		flags |= hasOk
	}
	if msg.Err != "" {
		flags |= hasErr
		putBytes([]byte(msg.Err))
	}
	if msg.Code != store.RetCSuccess {
		if msg.Code > 0xff {
			return nil, fmt.Errorf("return code %d does not fit the binary format", msg.Code)
		}
		flags |= hasCode
		result[pos] = byte(msg.Code)
		pos++
	}

	// Set flags byte after knowing which fields are present
	result[1] = flags
	return result[:pos], nil
}

func (b binarySerializerImpl) Deserialize(data []byte, msg *common.Message) error {
	// Check minimum size (MsgType + flags)
	if len(data) < 2 {
		return fmt.Errorf("data too short for message header")
	}

	msg.MsgType = common.MessageType(data[0])
	flags := data[1]
	pos := 2

	// getBytes reads a length prefixed field, the result is a copy
	getBytes := func(field string) ([]byte, error) {
		if pos+4 > len(data) {
			return nil, fmt.Errorf("data too short for %s length", field)
		}
		n := int(binary.BigEndian.Uint32(data[pos : pos+4]))
		pos += 4
		if n > len(data)-pos {
			return nil, fmt.Errorf("data too short for %s data", field)
		}
		out := make([]byte, n)
		copy(out, data[pos:pos+n])
		pos += n
		return out, nil
	}

	msg.Key = ""
	if flags&hasKey != 0 {
		key, err := getBytes("key")
		if err != nil {
			return err
		}
		msg.Key = string(key)
	}

	msg.Lease = 0
	if flags&hasLease != 0 {
		if pos+8 > len(data) {
			return fmt.Errorf("data too short for lease")
		}
		msg.Lease = binary.BigEndian.Uint64(data[pos : pos+8])
		pos += 8
	}

	msg.Value = nil
	if flags&hasValue != 0 {
		value, err := getBytes("value")
		if err != nil {
			return err
		}
		msg.Value = value
	}

	msg.Ok = flags&hasOk != 0

	msg.Err = ""
	if flags&hasErr != 0 {
		e, err := getBytes("error")
		if err != nil {
			return err
		}
		msg.Err = string(e)
	}

	msg.Code = store.RetCSuccess
	if flags&hasCode != 0 {
		if pos+1 > len(data) {
			return fmt.Errorf("data too short for return code")
		}
		msg.Code = store.RetCode(data[pos])
	}

	return nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// sizeBytes calculates the total size needed for serialization
func (b binarySerializerImpl) sizeBytes(msg common.Message) int {
	// 1 byte for MsgType + 1 byte for flags
	size := 2

	if msg.Key != "" {
		size += 4 + len(msg.Key) // 4 bytes for length + key string
	}
	if msg.Lease != 0 {
		size += 8 // uint64
	}
	if msg.Value != nil {
		size += 4 + len(msg.Value) // 4 bytes for length + value bytes
	}
	if msg.Err != "" {
		size += 4 + len(msg.Err) // 4 bytes for length + error string
	}
	if msg.Code != store.RetCSuccess {
		size += 1
	}
	return size
}
