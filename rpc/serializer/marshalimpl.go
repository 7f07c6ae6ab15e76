package serializer

import (
	"bytes"
	"encoding/gob"
	"encoding/json"

	"github.com/ValentinKolb/ckv/rpc/common"
	"github.com/fxamacker/cbor/v2"
)

// marshalSerializer implements IRPCSerializer on top of a marshal and
// unmarshal function pair of a generic encoding library
type marshalSerializer struct {
	marshal   func(v any) ([]byte, error)
	unmarshal func(data []byte, v any) error
}

func (m marshalSerializer) Serialize(msg common.Message) ([]byte, error) {
	return m.marshal(msg)
}

func (m marshalSerializer) Deserialize(b []byte, msg *common.Message) error {
	// fields absent from b must not survive from a reused message
	*msg = common.Message{}
	return m.unmarshal(b, msg)
}

// NewJSONSerializer creates a new serializer using json encoding
func NewJSONSerializer() IRPCSerializer {
	return marshalSerializer{marshal: json.Marshal, unmarshal: json.Unmarshal}
}

// NewGOBSerializer creates a new serializer using Go's binary gob format
func NewGOBSerializer() IRPCSerializer {
	return marshalSerializer{
		marshal: func(v any) ([]byte, error) {
			var buf bytes.Buffer
			if err := gob.NewEncoder(&buf).Encode(v); err != nil {
				return nil, err
			}
			return buf.Bytes(), nil
		},
		unmarshal: func(data []byte, v any) error {
			return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
		},
	}
}

// cborEnc uses the canonical (sorted, shortest form) encoding so equal
// messages serialize to equal bytes
var cborEnc, _ = cbor.CanonicalEncOptions().EncMode()

// NewCBORSerializer creates a new serializer using CBOR (RFC 8949)
func NewCBORSerializer() IRPCSerializer {
	return marshalSerializer{marshal: cborEnc.Marshal, unmarshal: cbor.Unmarshal}
}
