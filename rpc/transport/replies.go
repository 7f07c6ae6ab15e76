package transport

import (
	"context"
	"math/rand"
	"strconv"
	"time"

	"github.com/ValentinKolb/ckv/lib/util"
	"github.com/patrickmn/go-cache"
)

// MinReplyTTL is the shortest time a response is remembered for retries.
const MinReplyTTL = time.Minute

// Replies remembers responses by sender and request id. A request delivered
// again while it runs, or within the ttl after it finished, is answered
// with the response of its first delivery instead of running the handler a
// second time.
//
// Thread-safety: all methods are safe for concurrent use
type Replies struct {
	c *cache.Cache
}

type reply struct {
	done chan struct{}
	resp []byte
}

// NewReplies creates a reply table keeping responses for at least ttl.
func NewReplies(ttl time.Duration) *Replies {
	if ttl < MinReplyTTL {
		ttl = MinReplyTTL
	}
	return &Replies{c: cache.New(ttl, ttl/2)}
}

// ReplyTTL derives the reply ttl of a server from its request timeout, long
// enough to cover the retries of a client with the same timeout.
func ReplyTTL(timeout time.Duration) time.Duration {
	return max(MinReplyTTL, 8*timeout)
}

// Do runs handle once per (from, requestID) and returns its response. A
// duplicate waits for the first delivery with util.ManagedBlock.
func (r *Replies) Do(ctx context.Context, from, requestID uint64, handle func() []byte) ([]byte, error) {
	k := strconv.FormatUint(from, 16) + "/" + strconv.FormatUint(requestID, 16)
	for {
		e := &reply{done: make(chan struct{})}
		if err := r.c.Add(k, e, cache.DefaultExpiration); err == nil {
			e.resp = handle()
			close(e.done)
			return e.resp, nil
		}
		x, ok := r.c.Get(k)
		if !ok {
			// expired between Add and Get
			continue
		}
		first := x.(*reply)
		if err := util.ManagedBlock(ctx, util.ChanBlocker(first.done)); err != nil {
			return nil, err
		}
		return first.resp, nil
	}
}

// Len returns the number of remembered requests.
func (r *Replies) Len() int { return r.c.ItemCount() }

// FirstRequestID returns a random starting point for the request ids of a
// client, so clients sharing a sender id (and a restarted node) do not
// reuse the ids of each other.
func FirstRequestID() uint64 { return rand.Uint64() }
