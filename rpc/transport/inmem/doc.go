// Package inmem provides an in-process transport. Servers register their
// endpoint name with a Hub and clients of the same hub reach them without any
// socket. Requests still run on a util.WorkerPool and buffers are copied at
// the boundary, so a cluster wired through a Hub behaves like one talking
// over the network, minus the latency.
//
// It is used by tests and by single-process demo clusters.
//
//	hub := inmem.NewHub()
//	srv := hub.Server()
//	srv.RegisterHandler(handler)
//	go srv.Listen(common.ServerConfig{Endpoint: "node-0", Workers: 8})
//	c := hub.Client()
//	_ = c.Connect(common.ClientConfig{Endpoints: []string{"node-0"}})
package inmem
