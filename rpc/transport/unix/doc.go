// Package unix implements the Unix domain socket transport. It is meant for
// nodes and clients sharing a host, e.g. a local test cluster, and plugs
// connectors into the base package. The endpoint is the socket path; a stale
// socket file is removed before listening.
package unix
