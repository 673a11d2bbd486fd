package netasio

import (
	"context"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// registry is the server's insertion-ordered collection of admitted
// Connections (spec §3 "Registry (server)"). Reads/culls by the
// application and inserts by each connection's handshake goroutine
// (once it validates) are coordinated by a
// single mutex held only while touching the slice — the "simpler and
// recommended choice" spec §5 calls out, rather than routing every
// registry touch through the reactor goroutine.
type registry struct {
	mu    sync.Mutex
	conns []*Connection
}

func (r *registry) add(c *Connection) {
	r.mu.Lock()
	r.conns = append(r.conns, c)
	r.mu.Unlock()
}

func (r *registry) remove(c *Connection) {
	r.mu.Lock()
	for i, e := range r.conns {
		if e == c {
			r.conns = append(r.conns[:i], r.conns[i+1:]...)
			break
		}
	}
	r.mu.Unlock()
}

func (r *registry) removeAll(dead []*Connection) {
	if len(dead) == 0 {
		return
	}
	kill := make(map[*Connection]bool, len(dead))
	for _, c := range dead {
		kill[c] = true
	}
	r.mu.Lock()
	kept := r.conns[:0]
	for _, e := range r.conns {
		if !kill[e] {
			kept = append(kept, e)
		}
	}
	r.conns = kept
	r.mu.Unlock()
}

// snapshot returns a point-in-time copy safe to range over without
// holding the lock (so that application callbacks invoked during
// iteration can themselves touch the server).
func (r *registry) snapshot() []*Connection {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Connection, len(r.conns))
	copy(out, r.conns)
	return out
}

// Server owns a reactor goroutine group, a TCP acceptor, and a registry
// of Connections (spec §4.5). Construct with NewServer, then Start.
type Server struct {
	cfg  serverConfig
	port uint16

	inbound *BlockingQueue[*OwnedMessage]
	reg     *registry

	// pending tracks connections that have been admitted but have not yet
	// passed the handshake. Kept separate from reg so E3's invariant
	// ("a failed handshake never changes registry size") still holds,
	// while Stop can still find and close these sockets instead of
	// leaking them (spec §8 property 8).
	pending *registry

	nextID atomic.Uint32 // seeded at 10000 by NewServer (spec §3)

	listener *net.TCPListener
	group    *errgroup.Group

	ctx    context.Context
	cancel context.CancelFunc
}

// NewServer returns a Server bound to no port yet; call Start to begin
// listening.
func NewServer(port uint16, opts ...ServerOption) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:     newServerConfig(opts),
		port:    port,
		inbound: NewBlockingQueue[*OwnedMessage](),
		reg:     &registry{},
		pending: &registry{},
		ctx:     ctx,
		cancel:  cancel,
	}
	s.nextID.Store(10000)
	return s
}

// Start binds the acceptor and spawns the accept-loop reactor goroutine.
func (s *Server) Start() error {
	addr := &net.TCPAddr{Port: int(s.port)}
	ln, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return errors.Wrap(ErrBind, err.Error())
	}
	s.listener = ln

	s.group = &errgroup.Group{}
	s.group.Go(s.acceptLoop)
	return nil
}

// Stop closes the acceptor, wakes any goroutine parked in Update,
// disconnects every admitted client and every connection still stuck in
// its handshake, and joins the accept-loop goroutine. Tearing down the
// pending set too is what keeps a slowloris-style peer (one that opens
// the socket and never answers the handshake) from pinning an fd and a
// goroutine past Stop returning (spec §8 property 8).
func (s *Server) Stop() {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	for _, c := range s.pending.snapshot() {
		c.Disconnect()
		c.wait()
	}
	for _, c := range s.reg.snapshot() {
		c.Disconnect()
		c.wait()
	}
	if s.group != nil {
		_ = s.group.Wait()
	}
}

// acceptLoop is the server's reactor goroutine: accept, admit-or-reject,
// assign an id, kick off the per-connection handshake goroutine, repeat
// (spec §4.5 "Accept loop"). A run of non-fatal accept errors (e.g. the
// process is out of file descriptors) backs off exponentially instead of
// spinning AcceptTCP at 100% CPU, the same retry shape net/http's Server
// uses around its own Accept loop.
func (s *Server) acceptLoop() error {
	var backoff time.Duration
	for {
		conn, err := s.listener.AcceptTCP()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			if backoff == 0 {
				backoff = 5 * time.Millisecond
			} else {
				backoff *= 2
			}
			if backoff > time.Second {
				backoff = time.Second
			}
			s.cfg.logger.WithError(err).WithField("backoff", backoff).Warn("accept failed, retrying")
			time.Sleep(backoff)
			continue
		}
		backoff = 0

		candidate := newConnection(RoleServer, 0, conn, s.inbound, s.cfg.maxBodySize, s.cfg.handshakeTimeout, s.cfg.logger)

		if !s.cfg.onClientConnect(candidate) {
			_ = conn.Close()
			continue
		}

		id := s.nextID.Add(1) - 1
		candidate.id = id
		// Registry insertion is deferred until the handshake actually
		// validates (spec §8 property 7/E3: a peer that fails the
		// handshake never changes registry size), even though the id was
		// already consumed at admission time (spec §8 property 6).
		candidate.onValidated = func(c *Connection) {
			s.reg.add(c)
			s.cfg.onClientValidated(c)
		}

		s.pending.add(candidate)
		go func() {
			candidate.runServer()
			s.pending.remove(candidate)
		}()
	}
}

// MessageClient sends msg to conn if it still appears connected;
// otherwise it invokes the disconnect hook and removes conn from the
// registry (spec §4.5).
func (s *Server) MessageClient(conn *Connection, msg *Message) {
	if conn != nil && conn.IsConnected() {
		conn.Send(msg)
		return
	}
	s.cfg.onClientDisconnect(conn)
	s.reg.remove(conn)
}

// MessageAllClients sends msg to every registered connection other than
// ignore, sweeping any connections found disconnected in one pass after
// iteration (spec §4.5).
func (s *Server) MessageAllClients(msg *Message, ignore *Connection) {
	var dead []*Connection
	for _, c := range s.reg.snapshot() {
		if !c.IsConnected() {
			dead = append(dead, c)
			s.cfg.onClientDisconnect(c)
			continue
		}
		if c == ignore {
			continue
		}
		c.Send(msg)
	}
	s.reg.removeAll(dead)
}

// Update optionally blocks until the inbound queue is non-empty, then
// dispatches up to maxMessages dequeued messages to the application's
// on-message handler. maxMessages < 0 means unlimited. This is the only
// point application message callbacks run — never on a reactor
// goroutine (spec §4.5, §5).
//
// The wait is scoped to the server's own lifetime, not
// context.Background(): Stop cancels it, so a dispatcher goroutine
// parked in Update(-1, true) is woken up instead of leaking past
// shutdown.
func (s *Server) Update(maxMessages int, wait bool) {
	if wait {
		_ = s.inbound.Wait(s.ctx)
	}
	count := 0
	for maxMessages < 0 || count < maxMessages {
		owned, ok := s.inbound.PopFront()
		if !ok {
			break
		}
		s.cfg.onMessage(owned.Source, owned.Message)
		count++
	}
}

// Incoming returns the server's shared inbound queue.
func (s *Server) Incoming() *BlockingQueue[*OwnedMessage] {
	return s.inbound
}

// Registry returns a point-in-time snapshot of admitted connections,
// for applications that need to iterate without going through
// MessageAllClients.
func (s *Server) Registry() []*Connection {
	return s.reg.snapshot()
}

// Port returns the port the Server was constructed with, formatted for
// logging. When that port is 0 it stays "0"; use Addr for the bound port.
func (s *Server) Port() string {
	return strconv.Itoa(int(s.port))
}

// Addr returns the acceptor's bound address. Useful when Start was
// called with port 0 and the actual ephemeral port is needed (tests,
// multi-instance setups).
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}
