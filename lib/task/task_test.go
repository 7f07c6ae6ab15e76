package task

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ValentinKolb/ckv/lib/cluster"
	"github.com/ValentinKolb/ckv/lib/key"
	"github.com/ValentinKolb/ckv/lib/persist"
	"github.com/ValentinKolb/ckv/lib/store"
	"github.com/ValentinKolb/ckv/lib/store/table"
	"github.com/ValentinKolb/ckv/lib/value"
	"github.com/VictoriaMetrics/metrics"
)

// fakeCaller records calls and answers GETs from a function.
type fakeCaller struct {
	mu      sync.Mutex
	gets    atomic.Int32
	puts    []string
	ackacks []uint64
	getFn   func(k key.Key) (*value.Value, uint64, error)
	putFn   func(target cluster.Node, k key.Key, v *value.Value) error
}

// GetKey fails like a transport when ctx ends before the answer arrives.
func (f *fakeCaller) GetKey(ctx context.Context, _ cluster.Node, k key.Key) (*value.Value, uint64, error) {
	f.gets.Add(1)
	v, lease, err := f.getFn(k)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, 0, ctxErr
	}
	return v, lease, err
}

func (f *fakeCaller) PutKey(_ context.Context, target cluster.Node, k key.Key, v *value.Value) error {
	f.mu.Lock()
	desc := target.Name + ":" + string(k) + "=nil"
	if v != nil {
		desc = target.Name + ":" + string(k) + "=" + string(v.Mem())
	}
	f.puts = append(f.puts, desc)
	f.mu.Unlock()
	if f.putFn != nil {
		return f.putFn(target, k, v)
	}
	return nil
}

func (f *fakeCaller) AckAck(_ context.Context, _ cluster.Node, lease uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ackacks = append(f.ackacks, lease)
	return nil
}

func (f *fakeCaller) putLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.puts...)
}

func newCloud(t *testing.T, self string, n int) *cluster.Cloud {
	t.Helper()
	members := make(map[string]string)
	for i := 0; i < n; i++ {
		members[string(rune('a'+i))] = "inmem"
	}
	c, err := cluster.NewCloud(self, members)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

// keyHomedAt returns a key whose home is node idx.
func keyHomedAt(t *testing.T, c *cluster.Cloud, idx cluster.NodeIndex) key.Key {
	t.Helper()
	for i := 0; i < 10000; i++ {
		k := key.Key("key-" + string(rune('0'+i%10)) + string(rune('a'+i/10%26)) + string(rune('a'+i/260)))
		if k.Home(c).Index == idx {
			return k
		}
	}
	t.Fatal("no key found")
	return ""
}

func mustValue(t *testing.T, k key.Key, s string) *value.Value {
	t.Helper()
	v, err := value.New(k, []byte(s), persist.TagNone)
	if err != nil {
		t.Fatal(err)
	}
	return v
}

func testMetrics() *Metrics { return NewMetrics(metrics.NewSet(), "test") }

// waitFor polls cond for up to two seconds
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not reached")
		}
		time.Sleep(time.Millisecond)
	}
}

// TestLeases tests ack-ack release and expiry
func TestLeases(t *testing.T) {
	v := mustValue(t, "k", "x")
	l := NewLeases(time.Second, testMetrics())

	if !v.RegisterReader(1) || !v.RegisterReader(2) {
		t.Fatal("RegisterReader() failed")
	}
	id1 := l.Grant(v, 1)
	id2 := l.Grant(v, 2)
	if id1 == 0 || id1 == id2 {
		t.Fatalf("lease ids %d, %d", id1, id2)
	}

	if l.Release(2, id1) {
		t.Error("a node released another node's lease")
	}
	if !l.Release(1, id1) || v.Readers() != 1 {
		t.Errorf("Release() did not lower the reader count: %d", v.Readers())
	}
	if l.Release(1, id1) {
		t.Error("duplicate ack-ack released twice")
	}

	time.Sleep(1100 * time.Millisecond)
	l.Expire()
	if v.Readers() != 0 || l.Len() != 0 {
		t.Errorf("expired lease not released: readers=%d leases=%d", v.Readers(), l.Len())
	}
	if l.Release(2, id2) {
		t.Error("ack-ack after expiry released twice")
	}
}

// TestHandlerRouting tests protocol violation detection
func TestHandlerRouting(t *testing.T) {
	cloud := newCloud(t, "a", 3)
	h := NewHandler(cloud, table.New(), nil, &fakeCaller{}, time.Minute, testMetrics())
	foreign := keyHomedAt(t, cloud, 1)
	local := keyHomedAt(t, cloud, 0)
	ctx := context.Background()

	if _, _, err := h.HandleGetKey(ctx, 1, foreign); !errors.Is(err, store.ErrProtocolViolation) {
		t.Errorf("GET at non-home = %v", err)
	}
	if err := h.HandlePutKey(ctx, 1, foreign, mustValue(t, foreign, "x")); !errors.Is(err, store.ErrProtocolViolation) {
		t.Errorf("PUT at non-home = %v", err)
	}
	if err := h.HandlePutKey(ctx, 1, foreign, nil); err != nil {
		t.Errorf("invalidation from the home = %v", err)
	}
	if err := h.HandlePutKey(ctx, 2, foreign, nil); !errors.Is(err, store.ErrProtocolViolation) {
		t.Errorf("invalidation from a node that is not the home = %v", err)
	}
	if _, _, err := h.HandleGetKey(ctx, 42, local); !errors.Is(err, store.ErrProtocolViolation) {
		t.Errorf("GET from unknown node = %v", err)
	}
	if v, lease, err := h.HandleGetKey(ctx, 1, local); v != nil || lease != 0 || err != nil {
		t.Errorf("GET of missing key = %v, %d, %v", v, lease, err)
	}
}

// TestHandlerPutInvalidates tests that a home PUT invalidates every replica but the writer
func TestHandlerPutInvalidates(t *testing.T) {
	cloud := newCloud(t, "a", 4)
	caller := &fakeCaller{}
	tbl := table.New()
	h := NewHandler(cloud, tbl, nil, caller, time.Minute, testMetrics())
	k := keyHomedAt(t, cloud, 0)
	ctx := context.Background()

	if err := h.HandlePutKey(ctx, 1, k, mustValue(t, k, "v1")); err != nil {
		t.Fatal(err)
	}
	v1 := tbl.Get(k)
	if got := v1.Replicas().Nodes(); len(got) != 1 || got[0] != 1 {
		t.Fatalf("writer not seeded as replica: %v", got)
	}

	// nodes 2 and 3 read it
	for _, n := range []cluster.NodeIndex{2, 3} {
		v, lease, err := h.HandleGetKey(ctx, n, k)
		if err != nil || v != v1 || lease == 0 {
			t.Fatalf("HandleGetKey(%d) = %v, %d, %v", n, v, lease, err)
		}
		if err := h.HandleAckAck(n, lease); err != nil {
			t.Fatal(err)
		}
	}

	// node 2 writes: nodes 1 and 3 must be invalidated, node 2 not
	if err := h.HandlePutKey(ctx, 2, k, mustValue(t, k, "v2")); err != nil {
		t.Fatal(err)
	}
	got := map[string]bool{}
	for _, p := range caller.putLog() {
		got[p] = true
	}
	want := map[string]bool{"b:" + string(k) + "=nil": true, "d:" + string(k) + "=nil": true}
	if len(got) != len(want) || !got["b:"+string(k)+"=nil"] || !got["d:"+string(k)+"=nil"] {
		t.Errorf("invalidations = %v, want %v", got, want)
	}
	if !v1.IsLocked() {
		t.Error("replaced value not locked")
	}
	if string(tbl.Get(k).Mem()) != "v2" {
		t.Errorf("home holds %v", tbl.Get(k))
	}
}

// TestHandlerPutWaitsForReaders tests that a PUT is not acknowledged while a GET awaits its ack-ack
func TestHandlerPutWaitsForReaders(t *testing.T) {
	cloud := newCloud(t, "a", 3)
	h := NewHandler(cloud, table.New(), nil, &fakeCaller{}, time.Minute, testMetrics())
	k := keyHomedAt(t, cloud, 0)
	ctx := context.Background()

	if err := h.HandlePutKey(ctx, 1, k, mustValue(t, k, "v1")); err != nil {
		t.Fatal(err)
	}
	_, lease, err := h.HandleGetKey(ctx, 2, k)
	if err != nil {
		t.Fatal(err)
	}

	acked := make(chan error, 1)
	go func() { acked <- h.HandlePutKey(ctx, 1, k, mustValue(t, k, "v2")) }()

	select {
	case <-acked:
		t.Fatal("PUT acknowledged before the reader's ack-ack")
	case <-time.After(30 * time.Millisecond):
	}

	// the GET racing the PUT sees the new value without waiting
	if v, l2, err := h.HandleGetKey(ctx, 2, k); err != nil || string(v.Mem()) != "v2" {
		t.Errorf("concurrent GET = %v, %v", v, err)
	} else {
		_ = h.HandleAckAck(2, l2)
	}

	if err := h.HandleAckAck(2, lease); err != nil {
		t.Fatal(err)
	}
	select {
	case err := <-acked:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(time.Second):
		t.Fatal("PUT not acknowledged after ack-ack")
	}
}

// TestGetterCoalesces tests that concurrent GETs of one key share a single request
func TestGetterCoalesces(t *testing.T) {
	cloud := newCloud(t, "a", 2)
	home, _ := cloud.Node(1)
	k := key.Key("k")

	release := make(chan struct{})
	caller := &fakeCaller{getFn: func(k key.Key) (*value.Value, uint64, error) {
		<-release
		v := mustValue(t, k, "remote")
		v.MarkRemoteDone()
		return v, 7, nil
	}}
	tbl := table.New()
	m := testMetrics()
	g := NewGetter(tbl, NewPutter(caller, m), caller, m)

	const n = 16
	results := make(chan *value.Value, n)
	for i := 0; i < n; i++ {
		go func() {
			v, err := g.Get(context.Background(), home, k)
			if err != nil {
				t.Error(err)
			}
			results <- v
		}()
	}
	// one caller fetches, the others joined it
	waitFor(t, func() bool { return m.CoalescedGets.Get() == n-1 })
	close(release)

	var first *value.Value
	for i := 0; i < n; i++ {
		v := <-results
		if first == nil {
			first = v
		}
		if v != first {
			t.Error("callers observed different values")
		}
	}
	if tbl.Get(k) != first {
		t.Error("fetched value not installed locally")
	}
	if g.InFlight(k) {
		t.Error("in-flight entry not removed")
	}
	if c := caller.gets.Load(); c != 1 {
		t.Errorf("%d remote GETs for %d callers", c, n)
	}
	waitFor(t, func() bool {
		caller.mu.Lock()
		defer caller.mu.Unlock()
		return len(caller.ackacks) == 1
	})
}

// TestGetterJoinerOutlivesInstaller tests that cancelling the caller which
// started a fetch does not fail the callers waiting for it
func TestGetterJoinerOutlivesInstaller(t *testing.T) {
	cloud := newCloud(t, "a", 2)
	home, _ := cloud.Node(1)
	k := key.Key("k")

	release := make(chan struct{})
	caller := &fakeCaller{getFn: func(k key.Key) (*value.Value, uint64, error) {
		<-release
		v := mustValue(t, k, "remote")
		v.MarkRemoteDone()
		return v, 0, nil
	}}
	m := testMetrics()
	g := NewGetter(table.New(), NewPutter(caller, m), caller, m)

	ctx, cancel := context.WithCancel(context.Background())
	installer := make(chan error, 1)
	go func() {
		_, err := g.Get(ctx, home, k)
		installer <- err
	}()
	waitFor(t, func() bool { return g.InFlight(k) })

	joiner := make(chan *value.Value, 1)
	go func() {
		v, err := g.Get(context.Background(), home, k)
		if err != nil {
			t.Errorf("joiner with a live context failed: %v", err)
		}
		joiner <- v
	}()
	waitFor(t, func() bool { return m.CoalescedGets.Get() == 1 })

	cancel()
	close(release)
	if v := <-joiner; v == nil || string(v.Mem()) != "remote" {
		t.Errorf("joiner got %v", v)
	}
	if err := <-installer; err != nil {
		t.Errorf("installer got %v", err)
	}
	if c := caller.gets.Load(); c != 1 {
		t.Errorf("%d remote GETs, want 1", c)
	}
}

// TestGetterLocalWins tests the adoption rule
func TestGetterLocalWins(t *testing.T) {
	cloud := newCloud(t, "a", 2)
	home, _ := cloud.Node(1)
	k := key.Key("k")
	tbl := table.New()
	local := mustValue(t, k, "local")

	caller := &fakeCaller{getFn: func(k key.Key) (*value.Value, uint64, error) {
		// a local write lands while the GET is in flight
		tbl.PutIfMatch(k, local, nil)
		return mustValue(t, k, "remote"), 0, nil
	}}
	m := testMetrics()
	g := NewGetter(tbl, NewPutter(caller, m), caller, m)

	v, err := g.Get(context.Background(), home, k)
	if err != nil {
		t.Fatal(err)
	}
	if v != local || tbl.Get(k) != local {
		t.Errorf("Get() = %v, table = %v, want the local value", v, tbl.Get(k))
	}
}

// TestPutterOrdering tests that writes of one key reach the home in program order
func TestPutterOrdering(t *testing.T) {
	cloud := newCloud(t, "a", 2)
	home, _ := cloud.Node(1)
	k := key.Key("k")

	var inflight atomic.Int32
	first := make(chan struct{})
	var once sync.Once
	caller := &fakeCaller{}
	caller.putFn = func(_ cluster.Node, _ key.Key, _ *value.Value) error {
		if inflight.Add(1) != 1 {
			t.Error("two writes of one key in flight at once")
		}
		once.Do(func() { <-first })
		time.Sleep(time.Millisecond)
		inflight.Add(-1)
		return nil
	}
	p := NewPutter(caller, testMetrics())

	v1 := mustValue(t, k, "1")
	done1 := make(chan error)
	go func() { done1 <- p.Put(context.Background(), home, k, v1) }()
	for len(caller.putLog()) == 0 {
		time.Sleep(time.Millisecond)
	}

	v2 := mustValue(t, k, "2")
	done2 := make(chan error)
	go func() { done2 <- p.Put(context.Background(), home, k, v2) }()
	time.Sleep(10 * time.Millisecond)
	v3 := value.Tombstone(k)
	done3 := make(chan error)
	go func() {
		// issued after the second write started waiting
		time.Sleep(10 * time.Millisecond)
		done3 <- p.Put(context.Background(), home, k, v3)
	}()

	if len(caller.putLog()) != 1 {
		t.Fatalf("second write sent before the first was acknowledged: %v", caller.putLog())
	}
	close(first)
	for _, ch := range []chan error{done1, done2, done3} {
		if err := <-ch; err != nil {
			t.Fatal(err)
		}
	}

	want := []string{"b:k=1", "b:k=2", "b:k=nil"}
	got := caller.putLog()
	if len(got) != len(want) {
		t.Fatalf("puts = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("put %d = %s, want %s", i, got[i], want[i])
		}
	}
	if p.InFlight(k) {
		t.Error("write chain not cleared")
	}
}

// TestPutterFailedWriteReleasesChain tests that a write whose PUT failed
// lets the next write of the key proceed and reports the failure
func TestPutterFailedWriteReleasesChain(t *testing.T) {
	cloud := newCloud(t, "a", 2)
	home, _ := cloud.Node(1)
	k := key.Key("k")

	unreachable := errors.New("unreachable")
	caller := &fakeCaller{}
	caller.putFn = func(_ cluster.Node, _ key.Key, v *value.Value) error {
		if v != nil && string(v.Mem()) == "1" {
			return unreachable
		}
		return nil
	}
	p := NewPutter(caller, testMetrics())

	if err := p.Put(context.Background(), home, k, mustValue(t, k, "1")); !errors.Is(err, unreachable) {
		t.Fatalf("failed PUT returned %v", err)
	}
	if p.InFlight(k) {
		t.Fatal("failed write still blocks the key")
	}
	done := make(chan error, 1)
	go func() { done <- p.Put(context.Background(), home, k, mustValue(t, k, "2")) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(time.Second):
		t.Fatal("write after a failed write never sent")
	}
	if got := caller.putLog(); len(got) != 2 || got[1] != "b:k=2" {
		t.Errorf("puts = %v", got)
	}
}
