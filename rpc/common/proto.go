package common

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ValentinKolb/ckv/lib/store"
)

// --------------------------------------------------------------------------
// Message Structure
// --------------------------------------------------------------------------

// Message represents a single message used for both requests and responses.
// Which fields are used depends on the type of message.
//
// Peer messages (GetKey, PutKey, AckAck) carry values in the value wire
// format (lib/value.Encode); client messages carry raw bytes.
type Message struct {
	// Type of message
	MsgType MessageType `json:"msg_type"`

	// General fields
	Key   string `json:"key,omitempty"`   // Used for: GetKey, PutKey, Set, Get, Delete, Has
	Lease uint64 `json:"lease,omitempty"` // Used for: GetKey (response), AckAck
	Value []byte `json:"value,omitempty"` // Used for: PutKey, Set (request), GetKey, Get (response)

	// Response only fields
	Ok   bool          `json:"ok,omitempty"`   // Used for: GetKey, Get, Has responses
	Err  string        `json:"err,omitempty"`  // Empty if no error, otherwise contains the error message
	Code store.RetCode `json:"code,omitempty"` // Return code of Err
}

// Error returns the error carried by a response, or nil.
func (m *Message) Error() error {
	if m.Err == "" && m.MsgType != MsgTError {
		return nil
	}
	code := m.Code
	if code == store.RetCSuccess {
		code = store.RetCInternalError
	}
	return store.NewError(code, m.Err)
}

// --------------------------------------------------------------------------
// Message Factory Functions
// --------------------------------------------------------------------------

// setErr stores err and its return code in msg.
func (m *Message) setErr(err error) *Message {
	if err == nil {
		return m
	}
	var se *store.Error
	if errors.As(err, &se) {
		m.Code = se.Code
		m.Err = se.Msg
		if m.Err == "" {
			m.Err = err.Error()
		}
	} else {
		m.Code = store.RetCInternalError
		m.Err = err.Error()
	}
	return m
}

// NewGetKeyRequest creates a new GetKey request (peer)
func NewGetKeyRequest(key string) *Message {
	return &Message{
		MsgType: MsgTGetKey,
		Key:     key,
	}
}

// NewGetKeyResponse creates a new GetKey response. value is nil if the key
// does not exist.
func NewGetKeyResponse(value []byte, lease uint64, err error) *Message {
	msg := &Message{
		MsgType: MsgTGetKey,
		Value:   value,
		Lease:   lease,
		Ok:      value != nil,
	}
	return msg.setErr(err)
}

// NewPutKeyRequest creates a new PutKey request (peer)
func NewPutKeyRequest(key string, value []byte) *Message {
	return &Message{
		MsgType: MsgTPutKey,
		Key:     key,
		Value:   value,
	}
}

// NewAckAckRequest creates a new AckAck request (peer)
func NewAckAckRequest(lease uint64) *Message {
	return &Message{
		MsgType: MsgTAckAck,
		Lease:   lease,
	}
}

// NewSetRequest creates a new Set request
func NewSetRequest(key string, value []byte) *Message {
	return &Message{
		MsgType: MsgTKVSet,
		Key:     key,
		Value:   value,
	}
}

// NewDeleteRequest creates a new Delete request
func NewDeleteRequest(key string) *Message {
	return &Message{
		MsgType: MsgTKVDelete,
		Key:     key,
	}
}

// NewGetRequest creates a new Get request
func NewGetRequest(key string) *Message {
	return &Message{
		MsgType: MsgTKVGet,
		Key:     key,
	}
}

// NewGetResponse creates a new Get response
func NewGetResponse(value []byte, ok bool, err error) *Message {
	msg := &Message{
		MsgType: MsgTKVGet,
		Ok:      ok,
		Value:   value,
	}
	return msg.setErr(err)
}

// NewHasRequest creates a new Has request
func NewHasRequest(key string) *Message {
	return &Message{
		MsgType: MsgTKVHas,
		Key:     key,
	}
}

// NewHasResponse creates a new Has response
func NewHasResponse(ok bool, err error) *Message {
	msg := &Message{
		MsgType: MsgTKVHas,
		Ok:      ok,
	}
	return msg.setErr(err)
}

// NewSuccessResponse acknowledges a request without a result (PutKey,
// AckAck, Set, Delete). A non-nil err turns it into an error response.
func NewSuccessResponse(err error) *Message {
	if err != nil {
		return NewErrorResponse(err)
	}
	return &Message{MsgType: MsgTSuccess}
}

// NewErrorResponse creates a new Error response
func NewErrorResponse(err error) *Message {
	msg := &Message{MsgType: MsgTError}
	return msg.setErr(err)
}

// --------------------------------------------------------------------------
// Message Type Definition
// --------------------------------------------------------------------------

// MessageType defines the type of message used in RPC communication.
type MessageType uint8

// String returns the string representation of a MessageType.
func (t MessageType) String() string {
	switch t {
	case MsgTGetKey:
		return "get_key"
	case MsgTPutKey:
		return "put_key"
	case MsgTAckAck:
		return "ack_ack"
	case MsgTKVSet:
		return "set"
	case MsgTKVDelete:
		return "delete"
	case MsgTKVGet:
		return "get"
	case MsgTKVHas:
		return "has"
	case MsgTError:
		return "error"
	case MsgTSuccess:
		return "success"
	default:
		return "unknown"
	}
}

// ResponseType returns the type of a successful response to a request of
// type t. Requests without a result are answered with MsgTSuccess.
func (t MessageType) ResponseType() MessageType {
	switch t {
	case MsgTGetKey, MsgTKVGet, MsgTKVHas:
		return t
	default:
		return MsgTSuccess
	}
}

// MarshalJSON implements the json.Marshaller interface for MessageType.
// This allows MessageType to be serialized as a string in JSON.
func (t MessageType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface for MessageType.
// This allows MessageType to be deserialized from a string in JSON.
func (t *MessageType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	// Convert string back to MessageType
	switch s {
	case "get_key":
		*t = MsgTGetKey
	case "put_key":
		*t = MsgTPutKey
	case "ack_ack":
		*t = MsgTAckAck
	case "set":
		*t = MsgTKVSet
	case "delete":
		*t = MsgTKVDelete
	case "get":
		*t = MsgTKVGet
	case "has":
		*t = MsgTKVHas
	case "error":
		*t = MsgTError
	case "success":
		*t = MsgTSuccess
	default:
		return fmt.Errorf("unknown message type: %s", s)
	}

	return nil
}

// --------------------------------------------------------------------------
// Message Type Constants
// --------------------------------------------------------------------------

const (
	// General message types

	MsgTUnknown MessageType = iota
	MsgTSuccess             // Indicates a successful operation
	MsgTError               // Indicates an error occurred

	// Replication protocol (node to node)

	MsgTGetKey // Fetch a key from its home
	MsgTPutKey // Write a key at its home, or invalidate a cached copy
	MsgTAckAck // Return a read lease

	// IStore operations (client to node)

	MsgTKVSet    // Set a key-value pair
	MsgTKVDelete // Delete a key-value pair
	MsgTKVGet    // Get a value by key
	MsgTKVHas    // Check if a key exists
)

// ClientSender is the sender id of requests that do not come from a cloud
// member.
const ClientSender = ^uint64(0)
