// Package http implements an HTTP transport for the ckv RPC layer. Each
// request is a POST to /{from}, where from is the sender's node index, with
// the serialized message as body.
//
// The server runs handlers on a util.WorkerPool like the stream transports
// do; the request goroutine only waits for the worker. Close shuts the
// http.Server down gracefully.
//
// The client picks endpoints round-robin, retries failed requests on the
// next endpoint and honours the caller's context. All attempts of a request
// carry the same X-Request-Id, which the server deduplicates with a
// transport.Replies table. Endpoints without a scheme
// are treated as http://.
package http
