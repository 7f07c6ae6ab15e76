package base

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
)

// frameHeaderSize is the size of [from:8][requestID:8][length:4]
const frameHeaderSize = 20

// maxFrameSize bounds the payload of a single frame
const maxFrameSize = 64 << 20

// writeFrame writes a frame to the connection with the format:
// - 8 bytes: sender id (uint64, big endian)
// - 8 bytes: requestID (uint64, big endian)
// - 4 bytes: data length (uint32, big endian)
// - N bytes: data payload
func writeFrame(conn net.Conn, from uint64, requestID uint64, data []byte) error {
	header := make([]byte, frameHeaderSize)
	binary.BigEndian.PutUint64(header[:8], from)
	binary.BigEndian.PutUint64(header[8:16], requestID)
	binary.BigEndian.PutUint32(header[16:20], uint32(len(data)))

	b := net.Buffers{header, data}
	_, err := b.WriteTo(conn)
	return err
}

// readFrame reads a frame from r using the provided buffer
// If the buffer is too small, a new buffer is allocated for the data
func readFrame(r io.Reader, buf []byte) (from uint64, requestID uint64, data []byte, err error) {
	var header [frameHeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return 0, 0, nil, err
	}

	from = binary.BigEndian.Uint64(header[:8])
	requestID = binary.BigEndian.Uint64(header[8:16])
	contentLength := binary.BigEndian.Uint32(header[16:20])

	if contentLength == 0 {
		return from, requestID, []byte{}, nil
	}
	if contentLength > maxFrameSize {
		return from, requestID, nil, fmt.Errorf("frame of %d bytes exceeds %d", contentLength, maxFrameSize)
	}
	if len(buf) < int(contentLength) {
		buf = make([]byte, contentLength)
	}
	if _, err := io.ReadFull(r, buf[:contentLength]); err != nil {
		return 0, 0, nil, err
	}
	return from, requestID, buf[:contentLength], nil
}
