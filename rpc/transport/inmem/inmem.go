package inmem

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ValentinKolb/ckv/lib/util"
	"github.com/ValentinKolb/ckv/rpc/common"
	"github.com/ValentinKolb/ckv/rpc/transport"
	"github.com/puzpuzpuz/xsync/v3"
)

// ErrNoServer is returned when no server listens on the endpoint.
var ErrNoServer = fmt.Errorf("no server listening")

// Hub connects in-process transports by endpoint name.
type Hub struct {
	servers *xsync.MapOf[string, *server]
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{servers: xsync.NewMapOf[string, *server]()}
}

// Server returns a server transport that registers with the hub on Listen.
func (h *Hub) Server() transport.IRPCServerTransport {
	return &server{hub: h, stop: make(chan struct{})}
}

// Client returns a client transport dialing servers of the hub.
func (h *Hub) Client() transport.IRPCClientTransport {
	return &client{hub: h}
}

// --------------------------------------------------------------------------
// Server
// --------------------------------------------------------------------------

type server struct {
	hub      *Hub
	handler  transport.ServerHandleFunc
	pool     *util.WorkerPool
	endpoint string
	ctx      context.Context
	cancel   context.CancelFunc

	once sync.Once
	stop chan struct{}
}

func (s *server) RegisterHandler(handler transport.ServerHandleFunc) {
	s.handler = handler
}

// Listen registers the server and blocks until Close.
func (s *server) Listen(config common.ServerConfig) error {
	if s.handler == nil {
		return fmt.Errorf("no handler registered")
	}
	select {
	case <-s.stop:
		return nil
	default:
	}
	s.pool = util.NewWorkerPool(config.Workers)
	s.endpoint = config.Endpoint
	s.ctx, s.cancel = context.WithCancel(context.Background())
	if _, loaded := s.hub.servers.LoadOrStore(config.Endpoint, s); loaded {
		s.cancel()
		return fmt.Errorf("endpoint %s already in use", config.Endpoint)
	}
	<-s.stop
	return nil
}

func (s *server) Close() error {
	s.once.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		s.hub.servers.Compute(s.endpoint, func(old *server, loaded bool) (*server, bool) {
			return old, !loaded || old == s
		})
		close(s.stop)
	})
	return nil
}

func (s *server) serve(ctx context.Context, from uint64, req []byte) ([]byte, error) {
	var resp []byte
	done := make(chan struct{})
	if err := s.pool.Submit(s.ctx, func(wctx context.Context) {
		defer close(done)
		resp = s.handler(wctx, from, req)
	}); err != nil {
		return nil, err
	}
	select {
	case <-done:
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// --------------------------------------------------------------------------
// Client
// --------------------------------------------------------------------------

type client struct {
	hub       *Hub
	endpoints []string
	next      atomic.Uint64
}

func (c *client) Connect(config common.ClientConfig) error {
	if len(config.Endpoints) == 0 {
		return transport.ErrNoEndpoints
	}
	c.endpoints = config.Endpoints
	return nil
}

// Send copies the request so neither side can alias the other's buffers.
func (c *client) Send(ctx context.Context, from uint64, req []byte) ([]byte, error) {
	if len(c.endpoints) == 0 {
		return nil, transport.ErrNoEndpoints
	}
	endpoint := c.endpoints[c.next.Add(1)%uint64(len(c.endpoints))]
	srv, ok := c.hub.servers.Load(endpoint)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoServer, endpoint)
	}
	resp, err := srv.serve(ctx, from, bytes.Clone(req))
	if err != nil {
		return nil, err
	}
	return bytes.Clone(resp), nil
}

func (c *client) Close() error {
	c.endpoints = nil
	return nil
}
