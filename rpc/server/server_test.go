package server

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ValentinKolb/ckv/lib/cluster"
	"github.com/ValentinKolb/ckv/lib/key"
	"github.com/ValentinKolb/ckv/lib/persist"
	"github.com/ValentinKolb/ckv/lib/store"
	"github.com/ValentinKolb/ckv/lib/store/dkv"
	storetesting "github.com/ValentinKolb/ckv/lib/store/testing"
	"github.com/ValentinKolb/ckv/lib/value"
	"github.com/ValentinKolb/ckv/rpc/client"
	"github.com/ValentinKolb/ckv/rpc/common"
	"github.com/ValentinKolb/ckv/rpc/serializer"
	"github.com/ValentinKolb/ckv/rpc/transport"
	"github.com/ValentinKolb/ckv/rpc/transport/inmem"
	"github.com/ValentinKolb/ckv/rpc/transport/unix"
)

type closer interface{ Close() error }

// serve runs srv and registers its shutdown on t
func serve(t testing.TB, srv *RPCServer) {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- srv.Serve() }()
	t.Cleanup(func() {
		_ = srv.Close()
		if err := <-done; err != nil {
			t.Errorf("Serve returned %v", err)
		}
	})
}

// connect returns an RPC store for endpoint once it answers
func connect(t testing.TB, config common.ClientConfig, tr transport.IRPCClientTransport, s serializer.IRPCSerializer) store.IStore {
	t.Helper()
	kv, err := client.NewRPCStore(config, tr, s)
	if err != nil {
		t.Fatalf("NewRPCStore failed: %v", err)
	}
	t.Cleanup(func() { _ = kv.(closer).Close() })

	deadline := time.Now().Add(5 * time.Second)
	for {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		_, err := kv.Has(ctx, "ready")
		cancel()
		if err == nil {
			return kv
		}
		if time.Now().After(deadline) {
			t.Fatalf("%v never became ready: %v", config.Endpoints, err)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// newInmemCluster starts size nodes talking over one hub and returns one
// RPC store per node
func newInmemCluster(t testing.TB, size int, s serializer.IRPCSerializer) []store.IStore {
	t.Helper()
	hub := inmem.NewHub()

	members := make(map[string]string, size)
	for i := 0; i < size; i++ {
		name := fmt.Sprintf("node-%d", i)
		members[name] = name
	}

	stores := make([]store.IStore, 0, size)
	for i := 0; i < size; i++ {
		name := fmt.Sprintf("node-%d", i)
		cloud, err := cluster.NewCloud(name, members)
		if err != nil {
			t.Fatal(err)
		}
		config := common.ServerConfig{Name: name, Endpoint: name, Members: members, Workers: 4, TimeoutSecond: 5}
		backends := persist.NewRegistry()
		peers := client.NewPeerSet(cloud, backends, hub.Client, s, config.ClientConfig(""))
		node := dkv.New(cloud, peers, backends, dkv.DefaultConfig())

		srv := NewRPCServer(config, node, hub.Server(), s)
		srv.closers = []func() error{backends.Close, peers.Close, node.Close}
		serve(t, srv)
	}
	for i := 0; i < size; i++ {
		name := fmt.Sprintf("node-%d", i)
		cfg := common.ClientConfig{Endpoints: []string{name}, TimeoutSecond: 5, RetryCount: 1}
		stores = append(stores, connect(t, cfg, hub.Client(), s))
	}
	return stores
}

func TestStoreOverRPC(t *testing.T) {
	for _, name := range serializer.Names {
		s, err := serializer.ByName(name)
		if err != nil {
			t.Fatal(err)
		}
		storetesting.RunStoreTests(t, name, func(t testing.TB) []store.IStore {
			return newInmemCluster(t, 3, s)
		})
	}
}

func TestErrorsCrossTheWire(t *testing.T) {
	hub := inmem.NewHub()
	s := serializer.NewBinarySerializer()
	members := map[string]string{"node-0": "node-0"}
	cloud, err := cluster.NewCloud("node-0", members)
	if err != nil {
		t.Fatal(err)
	}
	config := common.ServerConfig{Name: "node-0", Endpoint: "node-0", Members: members, Workers: 2}
	node := dkv.New(cloud, client.NewPeerSet(cloud, nil, hub.Client, s, config.ClientConfig("")), nil, dkv.Config{MaxValueSize: 16})
	srv := NewRPCServer(config, node, hub.Server(), s)
	srv.closers = []func() error{node.Close}
	serve(t, srv)

	cfg := common.ClientConfig{Endpoints: []string{"node-0"}}
	kv := connect(t, cfg, hub.Client(), s)
	ctx := context.Background()

	t.Run("ValueTooLarge", func(t *testing.T) {
		err := kv.Set(ctx, "big", make([]byte, 17))
		if !errors.Is(err, store.ErrValueTooLarge) {
			t.Errorf("Set of 17 bytes: got %v, want ErrValueTooLarge", err)
		}
	})

	raw := hub.Client()
	if err := raw.Connect(cfg); err != nil {
		t.Fatal(err)
	}
	send := func(from uint64, msg *common.Message) error {
		req, err := s.Serialize(*msg)
		if err != nil {
			t.Fatal(err)
		}
		resp, err := raw.Send(ctx, from, req)
		if err != nil {
			t.Fatal(err)
		}
		var out common.Message
		if err := s.Deserialize(resp, &out); err != nil {
			t.Fatal(err)
		}
		return out.Error()
	}

	tests := []struct {
		name string
		from uint64
		msg  *common.Message
		want error
	}{
		{"GetKeyFromClient", common.ClientSender, common.NewGetKeyRequest("k"), store.ErrProtocolViolation},
		{"PutKeyFromUnknownNode", 9, common.NewPutKeyRequest("k", []byte{0}), store.ErrProtocolViolation},
		{"MalformedValue", 0, common.NewPutKeyRequest("k", []byte{1, 2}), store.ErrProtocolViolation},
		{"UnknownType", 0, &common.Message{MsgType: common.MsgTSuccess}, store.ErrUnsupported},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := send(tt.from, tt.msg); !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}
}

func TestBootstrapOverUnixSockets(t *testing.T) {
	s := serializer.NewBinarySerializer()
	dir := t.TempDir()

	members := map[string]string{
		"a": filepath.Join(dir, "a.sock"),
		"b": filepath.Join(dir, "b.sock"),
	}
	if len(members["a"]) > 100 {
		t.Skip("temp dir too long for a unix socket path")
	}

	stores := make([]store.IStore, 0, len(members))
	for _, name := range []string{"a", "b"} {
		config := common.ServerConfig{
			Name:           name,
			Endpoint:       members[name],
			Members:        members,
			Workers:        4,
			TimeoutSecond:  5,
			LeaseTimeout:   time.Second,
			DefaultBackend: persist.TagICE,
			ICEDir:         filepath.Join(dir, name+"-ice"),
			LogLevel:       "error",
		}
		srv, err := Bootstrap(context.Background(), config, unix.NewUnixDefaultServerTransport(), unix.NewUnixClientTransport, s)
		if err != nil {
			t.Fatalf("Bootstrap %s failed: %v", name, err)
		}
		serve(t, srv)
	}
	for _, name := range []string{"a", "b"} {
		cfg := common.ClientConfig{Endpoints: []string{members[name]}, TimeoutSecond: 5, RetryCount: 3}
		stores = append(stores, connect(t, cfg, unix.NewUnixClientTransport(), s))
	}

	ctx := context.Background()
	if err := stores[0].Set(ctx, "greeting", []byte("hello")); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	got, ok, err := stores[1].Get(ctx, "greeting")
	if err != nil || !ok || string(got) != "hello" {
		t.Fatalf("Get on other node = %q, %v, %v", got, ok, err)
	}
	if err := stores[1].Delete(ctx, "greeting"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if ok, err := stores[0].Has(ctx, "greeting"); err != nil || ok {
		t.Errorf("Has after delete = %v, %v", ok, err)
	}
}

func TestBootstrapRejectsMissingBackend(t *testing.T) {
	config := common.ServerConfig{
		Name:           "a",
		Endpoint:       "a",
		Members:        map[string]string{"a": "a"},
		DefaultBackend: persist.TagNFS,
		LogLevel:       "error",
	}
	hub := inmem.NewHub()
	if _, err := Bootstrap(context.Background(), config, hub.Server(), hub.Client, serializer.NewBinarySerializer()); err == nil {
		t.Error("expected an error for an unconfigured default backend")
	}
}

// rawPeer speaks the frame protocol on one connection, so a test can send
// a request id twice the way a retrying client does
type rawPeer struct {
	t    *testing.T
	conn net.Conn
	s    serializer.IRPCSerializer
	from uint64
}

func (p *rawPeer) write(requestID uint64, msg *common.Message) {
	p.t.Helper()
	data, err := p.s.Serialize(*msg)
	if err != nil {
		p.t.Fatal(err)
	}
	header := make([]byte, 20)
	binary.BigEndian.PutUint64(header[:8], p.from)
	binary.BigEndian.PutUint64(header[8:16], requestID)
	binary.BigEndian.PutUint32(header[16:20], uint32(len(data)))
	if _, err := p.conn.Write(append(header, data...)); err != nil {
		p.t.Fatal(err)
	}
}

func (p *rawPeer) read() *common.Message {
	p.t.Helper()
	header := make([]byte, 20)
	if _, err := io.ReadFull(p.conn, header); err != nil {
		p.t.Fatalf("no response: %v", err)
	}
	data := make([]byte, binary.BigEndian.Uint32(header[16:20]))
	if _, err := io.ReadFull(p.conn, data); err != nil {
		p.t.Fatal(err)
	}
	var out common.Message
	if err := p.s.Deserialize(data, &out); err != nil {
		p.t.Fatal(err)
	}
	return &out
}

func TestRetriedRequestsAreDeliveredOnce(t *testing.T) {
	s := serializer.NewBinarySerializer()
	dir, err := os.MkdirTemp("", "ckv")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	members := map[string]string{"a": filepath.Join(dir, "a.sock"), "b": filepath.Join(dir, "b.sock")}

	cloud, err := cluster.NewCloud("a", members)
	if err != nil {
		t.Fatal(err)
	}
	config := common.ServerConfig{Name: "a", Endpoint: members["a"], Members: members, Workers: 4, TimeoutSecond: 5}
	backends := persist.NewRegistry()
	peers := client.NewPeerSet(cloud, backends, unix.NewUnixClientTransport, s, config.ClientConfig(""))
	// a leaked reader registration would block the PUT for the whole lease
	node := dkv.New(cloud, peers, backends, dkv.Config{MaxValueSize: 1 << 20, LeaseTimeout: time.Minute})
	srv := NewRPCServer(config, node, unix.NewUnixDefaultServerTransport(), s)
	srv.closers = []func() error{backends.Close, peers.Close, node.Close}
	serve(t, srv)
	connect(t, common.ClientConfig{Endpoints: []string{members["a"]}, TimeoutSecond: 5, RetryCount: 1}, unix.NewUnixClientTransport(), s)

	var k key.Key
	for i := 0; ; i++ {
		if k = key.Key(fmt.Sprintf("key-%d", i)); node.IsHome(k) {
			break
		}
	}
	ctx := context.Background()
	if err := node.Set(ctx, k.String(), []byte("v1")); err != nil {
		t.Fatal(err)
	}

	conn, err := net.Dial("unix", members["a"])
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))
	b := &rawPeer{t: t, conn: conn, s: s, from: 1}

	// node b's GET is delivered twice, b ack-acks the lease it received
	b.write(1, common.NewGetKeyRequest(k.String()))
	b.write(1, common.NewGetKeyRequest(k.String()))
	first, second := b.read(), b.read()
	if !first.Ok || first.Lease == 0 || first.Lease != second.Lease {
		t.Fatalf("retried GET answered with leases %d and %d", first.Lease, second.Lease)
	}
	b.write(2, common.NewAckAckRequest(first.Lease))
	if err := b.read().Error(); err != nil {
		t.Fatal(err)
	}
	if n := node.Handler().Leases().Len(); n != 0 {
		t.Errorf("%d leases open after the ack-ack", n)
	}

	encode := func(s string) []byte {
		v, err := value.New(k, []byte(s), persist.TagNone)
		if err != nil {
			t.Fatal(err)
		}
		enc, err := value.Encode(v, nil)
		if err != nil {
			t.Fatal(err)
		}
		return enc
	}

	// node b writes twice; the first write arrives again after the second
	begin := time.Now()
	b.write(3, common.NewPutKeyRequest(k.String(), encode("v2")))
	if err := b.read().Error(); err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(begin); elapsed > 2*time.Second {
		t.Errorf("PUT after a retried GET took %s", elapsed)
	}
	b.write(4, common.NewPutKeyRequest(k.String(), encode("v3")))
	if err := b.read().Error(); err != nil {
		t.Fatal(err)
	}
	b.write(3, common.NewPutKeyRequest(k.String(), encode("v2")))
	if err := b.read().Error(); err != nil {
		t.Fatal(err)
	}

	got, ok, err := node.Get(ctx, k.String())
	if err != nil || !ok || string(got) != "v3" {
		t.Errorf("home holds %q, %v, %v after a late duplicate, want v3", got, ok, err)
	}
}
