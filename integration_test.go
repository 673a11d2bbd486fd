package netasio

import (
	"context"
	"io"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	kindServerPing MessageKind = 10
	kindMessageAll MessageKind = 11
	kindServerMsg  MessageKind = 12
)

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func startEchoServer(t *testing.T, opts ...ServerOption) *Server {
	t.Helper()
	srv := NewServer(0, opts...)
	require.NoError(t, srv.Start())
	t.Cleanup(srv.Stop)
	return srv
}

func serverHostPort(t *testing.T, srv *Server) (string, uint16) {
	t.Helper()
	addr, ok := srv.Addr().(*net.TCPAddr)
	require.True(t, ok)
	return "127.0.0.1", uint16(addr.Port)
}

// dispatchLoop runs Server.Update in a background goroutine until
// stopped, standing in for the application's own event-loop shell
// (out of scope per spec §1).
func dispatchLoop(srv *Server) (stop func()) {
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			default:
			}
			srv.Update(-1, false)
			time.Sleep(2 * time.Millisecond)
		}
	}()
	return func() {
		close(done)
		wg.Wait()
	}
}

// E1: ping round trip.
func TestE1_PingRoundTrip(t *testing.T) {
	var server *Server
	server = NewServer(0, WithOnMessage(func(c *Connection, m *Message) {
		if m.Header.ID == kindServerPing {
			server.MessageClient(c, m)
		}
	}))
	require.NoError(t, server.Start())
	t.Cleanup(server.Stop)
	stop := dispatchLoop(server)
	defer stop()

	client := NewClient()
	host, port := serverHostPort(t, server)
	require.NoError(t, client.Connect(host, port))
	t.Cleanup(client.Disconnect)

	waitUntil(t, 2*time.Second, client.IsConnected)

	ping := NewMessage(kindServerPing)
	require.NoError(t, Push(ping, uint64(12345)))
	client.Send(ping)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, client.Incoming().Wait(ctx))

	owned, ok := client.Incoming().PopFront()
	require.True(t, ok)
	assert.Equal(t, kindServerPing, owned.Message.Header.ID)
	assert.Nil(t, owned.Source)

	echoed, err := Pop[uint64](owned.Message)
	require.NoError(t, err)
	assert.Equal(t, uint64(12345), echoed)
}

// E2: broadcast with ignore.
func TestE2_BroadcastWithIgnore(t *testing.T) {
	var server *Server
	server = NewServer(0, WithOnMessage(func(c *Connection, m *Message) {
		if m.Header.ID == kindMessageAll {
			reply := NewMessage(kindServerMsg)
			_ = Push(reply, c.ID())
			server.MessageAllClients(reply, c)
		}
	}))
	require.NoError(t, server.Start())
	t.Cleanup(server.Stop)
	stop := dispatchLoop(server)
	defer stop()

	host, port := serverHostPort(t, server)

	a := NewClient()
	b := NewClient()
	c := NewClient()
	require.NoError(t, a.Connect(host, port))
	require.NoError(t, b.Connect(host, port))
	require.NoError(t, c.Connect(host, port))
	t.Cleanup(a.Disconnect)
	t.Cleanup(b.Disconnect)
	t.Cleanup(c.Disconnect)

	waitUntil(t, 2*time.Second, a.IsConnected)
	waitUntil(t, 2*time.Second, b.IsConnected)
	waitUntil(t, 2*time.Second, c.IsConnected)

	a.Send(NewMessage(kindMessageAll))

	ctxB, cancelB := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancelB()
	require.NoError(t, b.Incoming().Wait(ctxB))
	msgB, ok := b.Incoming().PopFront()
	require.True(t, ok)
	assert.Equal(t, kindServerMsg, msgB.Message.Header.ID)

	ctxC, cancelC := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancelC()
	require.NoError(t, c.Incoming().Wait(ctxC))
	msgC, ok := c.Incoming().PopFront()
	require.True(t, ok)
	assert.Equal(t, kindServerMsg, msgC.Message.Header.ID)

	// A must not receive its own broadcast.
	time.Sleep(50 * time.Millisecond)
	assert.True(t, a.Incoming().Empty())
}

// E3: validation failure — a peer that doesn't answer the handshake
// correctly never reaches the registry or the inbound queue.
func TestE3_HandshakeValidationFailure(t *testing.T) {
	server := startEchoServer(t)
	host, port := serverHostPort(t, server)

	before := len(server.Registry())

	raw, err := net.Dial("tcp", net.JoinHostPort(host, strconv.Itoa(int(port))))
	require.NoError(t, err)
	defer raw.Close()

	var nonce [8]byte
	_, err = io.ReadFull(raw, nonce[:])
	require.NoError(t, err)

	// Echo back arbitrary bytes instead of scramble(nonce).
	zero := make([]byte, 8)
	_, err = raw.Write(zero)
	require.NoError(t, err)

	// The server must close the socket rather than accept framed traffic.
	_ = raw.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1)
	_, err = raw.Read(buf)
	assert.Error(t, err) // EOF or reset, not a frame

	assert.Equal(t, before, len(server.Registry()))
	assert.True(t, server.Incoming().Empty())
}

// E4: empty-body message.
func TestE4_EmptyBodyMessage(t *testing.T) {
	received := make(chan *Message, 1)
	server := startEchoServer(t, WithOnMessage(func(c *Connection, m *Message) {
		received <- m
	}))
	host, port := serverHostPort(t, server)
	stop := dispatchLoop(server)
	defer stop()

	client := NewClient()
	require.NoError(t, client.Connect(host, port))
	t.Cleanup(client.Disconnect)
	waitUntil(t, 2*time.Second, client.IsConnected)

	client.Send(NewMessage(kindServerPing))

	select {
	case m := <-received:
		assert.Equal(t, uint32(0), m.Header.Size)
		assert.Equal(t, 0, len(m.Body))
	case <-time.After(2 * time.Second):
		t.Fatal("server never received the empty-body message")
	}
}

// E5: dead-client sweep.
func TestE5_DeadClientSweep(t *testing.T) {
	var disconnected sync.WaitGroup
	disconnected.Add(2)

	server := startEchoServer(t, WithOnClientDisconnect(func(c *Connection) {
		disconnected.Done()
	}))
	host, port := serverHostPort(t, server)

	clients := make([]*Client, 5)
	for i := range clients {
		clients[i] = NewClient()
		require.NoError(t, clients[i].Connect(host, port))
	}
	for _, c := range clients {
		waitUntil(t, 2*time.Second, c.IsConnected)
	}
	waitUntil(t, 2*time.Second, func() bool { return len(server.Registry()) == 5 })

	// Kill two sockets from the client side, externally to the server.
	clients[0].Disconnect()
	clients[1].Disconnect()
	for i := 2; i < 5; i++ {
		idx := i
		t.Cleanup(func() { clients[idx].Disconnect() })
	}

	// Give the dead sockets time to actually report closed on the
	// server side before sweeping.
	time.Sleep(100 * time.Millisecond)

	server.MessageAllClients(NewMessage(kindServerMsg), nil)

	done := make(chan struct{})
	go func() { disconnected.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("on_client_disconnect did not fire twice")
	}

	assert.Equal(t, 3, len(server.Registry()))
}

// E6: monotonic id assignment.
func TestE6_MonotonicIDAssignment(t *testing.T) {
	server := startEchoServer(t)
	host, port := serverHostPort(t, server)

	a := NewClient()
	require.NoError(t, a.Connect(host, port))
	t.Cleanup(a.Disconnect)
	waitUntil(t, 2*time.Second, a.IsConnected)
	waitUntil(t, 2*time.Second, func() bool { return len(server.Registry()) == 1 })
	firstID := server.Registry()[0].ID()

	b := NewClient()
	require.NoError(t, b.Connect(host, port))
	t.Cleanup(b.Disconnect)
	waitUntil(t, 2*time.Second, b.IsConnected)
	waitUntil(t, 2*time.Second, func() bool { return len(server.Registry()) == 2 })

	var secondID uint32
	for _, c := range server.Registry() {
		if c.ID() != firstID {
			secondID = c.ID()
		}
	}

	assert.Equal(t, uint32(10000), firstID)
	assert.Equal(t, uint32(10001), secondID)
}

// Admission veto (property 5): rejecting a connection never touches the
// registry and never sends the server's handshake nonce.
func TestAdmissionVeto(t *testing.T) {
	server := NewServer(0, WithOnClientConnect(func(*Connection) bool { return false }))
	require.NoError(t, server.Start())
	t.Cleanup(server.Stop)
	host, port := serverHostPort(t, server)

	raw, err := net.Dial("tcp", net.JoinHostPort(host, strconv.Itoa(int(port))))
	require.NoError(t, err)
	defer raw.Close()

	_ = raw.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1)
	_, err = raw.Read(buf)
	assert.Error(t, err) // closed without ever sending a nonce

	assert.Equal(t, 0, len(server.Registry()))
}

// Graceful teardown (property 8).
func TestGracefulTeardown(t *testing.T) {
	server := NewServer(0)
	require.NoError(t, server.Start())
	host, port := serverHostPort(t, server)

	client := NewClient()
	require.NoError(t, client.Connect(host, port))
	waitUntil(t, 2*time.Second, client.IsConnected)

	client.Disconnect()
	assert.False(t, client.IsConnected())

	server.Stop()
}
