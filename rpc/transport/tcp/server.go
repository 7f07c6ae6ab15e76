package tcp

import (
	"fmt"
	"net"
	"time"

	"github.com/ValentinKolb/ckv/rpc/common"
	"github.com/ValentinKolb/ckv/rpc/transport"
	"github.com/ValentinKolb/ckv/rpc/transport/base"
)

const (
	defaultBufferSize = 512 * 1024 // 512 KB
)

// serverConnector implements the IServerConnector interface for TCP sockets
type serverConnector struct{}

// --------------------------------------------------------------------------
// Interface Methods (docu see base.IServerConnector)
// --------------------------------------------------------------------------

func (c *serverConnector) GetName() string {
	return "tcp"
}

func (c *serverConnector) Listen(config common.ServerConfig) (net.Listener, error) {
	listener, err := net.Listen("tcp", config.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create TCP socket: %v", err)
	}
	return listener, nil
}

func (c *serverConnector) UpgradeConnection(conn net.Conn, config common.ServerConfig) error {
	return ApplySocketOptions(conn, config.Transport)
}

// ApplySocketOptions applies the configured socket options to a TCP
// connection. Other connection types are left untouched.
func ApplySocketOptions(conn net.Conn, opts common.TransportConfig) error {
	tcpConn, ok := conn.(*net.TCPConn)
	if !ok {
		return nil
	}

	// Disable Nagle's algorithm if configured
	if err := tcpConn.SetNoDelay(opts.TCPNoDelay); err != nil {
		return err
	}

	if opts.WriteBufferSize > 0 {
		if err := tcpConn.SetWriteBuffer(opts.WriteBufferSize); err != nil {
			return err
		}
	}

	if opts.ReadBufferSize > 0 {
		if err := tcpConn.SetReadBuffer(opts.ReadBufferSize); err != nil {
			return err
		}
	}

	if opts.TCPKeepAliveSec > 0 {
		if err := tcpConn.SetKeepAlive(true); err != nil {
			return err
		}
		if err := tcpConn.SetKeepAlivePeriod(time.Duration(opts.TCPKeepAliveSec) * time.Second); err != nil {
			return err
		}
	}

	// zero keeps the OS default
	if opts.TCPLingerSec > 0 {
		if err := tcpConn.SetLinger(opts.TCPLingerSec); err != nil {
			return err
		}
	}

	return nil
}

// --------------------------------------------------------------------------
// Server Transport Factory Method
// --------------------------------------------------------------------------

// NewTCPDefaultServerTransport creates a new TCP server transport with default buffer size
func NewTCPDefaultServerTransport() transport.IRPCServerTransport {
	return NewTCPServerTransport(defaultBufferSize)
}

// NewTCPServerTransport creates a new TCP server transport with specified buffer size
func NewTCPServerTransport(bufferSize int) transport.IRPCServerTransport {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	return base.NewBaseServerTransport(&serverConnector{}, bufferSize)
}
