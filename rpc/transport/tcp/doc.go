// Package tcp implements the TCP socket transport used between ckv nodes and
// by the CLI. It supplies connectors for the base package, which does the
// framing, pooling and request correlation.
//
// Socket options (TCP_NODELAY, keep-alive, linger, buffer sizes) come from
// common.TransportConfig and are applied to dialed and accepted connections
// alike. The default server buffer size is 512 KB.
package tcp
