package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/ValentinKolb/ckv/lib/util"
	"github.com/ValentinKolb/ckv/rpc/common"
	"github.com/ValentinKolb/ckv/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("transport/rpc")

// RequestIDHeader carries the id shared by all attempts of one request.
const RequestIDHeader = "X-Request-Id"

func NewHttpServerTransport() transport.IRPCServerTransport {
	return &httpServerTransport{}
}

type httpServerTransport struct {
	handler transport.ServerHandleFunc
	config  common.ServerConfig
	pool    *util.WorkerPool
	replies *transport.Replies

	mu     sync.Mutex
	server *http.Server
	closed bool
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IRPCServerTransport)
// --------------------------------------------------------------------------

func (t *httpServerTransport) RegisterHandler(handler transport.ServerHandleFunc) {
	t.handler = handler
}

func (t *httpServerTransport) Listen(config common.ServerConfig) error {
	if t.handler == nil {
		return fmt.Errorf("no handler registered")
	}
	t.config = config
	t.pool = util.NewWorkerPool(config.Workers)
	t.replies = transport.NewReplies(transport.ReplyTTL(config.Timeout()))

	mux := http.NewServeMux()
	if t.config.LogLevel == "debug" {
		mux.HandleFunc("POST /{from}", loggerMiddleware(t.handleRequest))
	} else {
		mux.HandleFunc("POST /{from}", t.handleRequest)
	}

	server := &http.Server{Addr: config.Endpoint, Handler: mux}
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.server = server
	t.mu.Unlock()

	Logger.Infof("Starting HTTP server on %s with %d workers", config.Endpoint, config.Workers)

	err := server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (t *httpServerTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	if t.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return t.server.Shutdown(ctx)
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// handleRequest handles incoming HTTP requests and writes the response to the writer
func (t *httpServerTransport) handleRequest(w http.ResponseWriter, r *http.Request) {
	from, err := strconv.ParseUint(r.PathValue("from"), 10, 64)
	if err != nil {
		http.Error(w, "Invalid sender", http.StatusBadRequest)
		return
	}

	// requests without an id are never deduplicated
	var requestID uint64
	if id := r.Header.Get(RequestIDHeader); id != "" {
		if requestID, err = strconv.ParseUint(id, 10, 64); err != nil {
			http.Error(w, "Invalid request id", http.StatusBadRequest)
			return
		}
	}

	body, err := io.ReadAll(r.Body)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, "Failed to read request body", http.StatusInternalServerError)
		return
	}

	// the request goroutine only waits, the handler runs on a pool worker
	var resp []byte
	var handleErr error
	done := make(chan struct{})
	err = t.pool.Submit(r.Context(), func(ctx context.Context) {
		defer close(done)
		if requestID == 0 {
			resp = t.handler(ctx, from, body)
			return
		}
		resp, handleErr = t.replies.Do(ctx, from, requestID, func() []byte { return t.handler(ctx, from, body) })
	})
	if err != nil {
		http.Error(w, "Request cancelled", http.StatusServiceUnavailable)
		return
	}
	<-done
	if handleErr != nil {
		http.Error(w, "Request cancelled", http.StatusServiceUnavailable)
		return
	}

	if _, err = w.Write(resp); err != nil {
		Logger.Errorf("Failed to write response: %v", err)
	}
}

// --------------------------------------------------------------------------
// Middleware (logging)
// --------------------------------------------------------------------------

// responseWriter is a custom ResponseWriter that captures status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// loggerMiddleware is a middleware that logs HTTP requests
func loggerMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		rw := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}
		next.ServeHTTP(rw, r)

		Logger.Debugf("%s %s => %d took %s", r.Method, r.URL.Path, rw.statusCode, time.Since(start))
	}
}
