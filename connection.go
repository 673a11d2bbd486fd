package netasio

import (
	"encoding/binary"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/sagernet/sing/common/bufio"
	"github.com/sirupsen/logrus"
)

// Role distinguishes which side of a Connection this process is.
type Role int

const (
	RoleServer Role = iota
	RoleClient
)

func (r Role) String() string {
	if r == RoleServer {
		return "server"
	}
	return "client"
}

// OwnedMessage pairs a fully-assembled Message with the Connection it
// arrived on (spec §3). On the client side Source is always nil — there
// is exactly one peer, so the application never needs to ask which.
type OwnedMessage struct {
	Source  *Connection
	Message *Message
}

// Connection is the per-socket asynchronous state machine: handshake,
// then a continuous read pump feeding a shared inbound queue, serialized
// against a write pump draining a private outbound queue (spec §4.3).
//
// Go's goroutine scheduler is the idiomatic stand-in for the reactor
// this spec describes: readLoop and writeLoop are each a single
// goroutine performing blocking I/O, so "at most one read/write in
// flight" holds by construction rather than by explicit bookkeeping.
// Likewise, Go's garbage collector is the idiomatic stand-in for the
// shared_ptr-style "strong handle kept by every pending completion" the
// spec calls for (§9): as long as a registry entry or a running
// goroutine closure references a *Connection, it cannot be collected.
type Connection struct {
	role Role
	id   uint32
	conn net.Conn

	log *logrus.Entry

	maxBodySize uint32

	// handshakeTimeout bounds how long the handshake's blocking read/write
	// may take. Zero means no deadline. Without this, a peer that opens
	// the socket and never answers pins a reactor goroutine (and, on the
	// server, an unvalidated fd) forever.
	handshakeTimeout time.Duration

	outbound *BlockingQueue[*Message]
	inbound  *BlockingQueue[*OwnedMessage]

	onValidated func(*Connection)

	closed     atomic.Bool
	closeOnce  sync.Once
	closeErr   atomic.Value // error
	done       chan struct{}
	wg         sync.WaitGroup
}

// newConnection constructs a Connection over an already-dialed or
// already-accepted socket. It does not start the handshake or pumps —
// call runServer or runClient for that, once the caller (Server or
// Client) has decided to keep the connection.
func newConnection(role Role, id uint32, conn net.Conn, inbound *BlockingQueue[*OwnedMessage], maxBodySize uint32, handshakeTimeout time.Duration, logger *logrus.Logger) *Connection {
	c := &Connection{
		role:             role,
		id:               id,
		conn:             conn,
		maxBodySize:      maxBodySize,
		handshakeTimeout: handshakeTimeout,
		outbound:         NewBlockingQueue[*Message](),
		inbound:          inbound,
		onValidated:      func(*Connection) {},
		done:             make(chan struct{}),
	}
	c.log = logger.WithFields(connFields(role.String(), id, conn.RemoteAddr().String()))
	return c
}

// ID returns this connection's unique identifier. Clients always report
// 0 (spec §3: "clients carry id=0").
func (c *Connection) ID() uint32 { return c.id }

// Role reports whether this Connection plays the server or client role.
func (c *Connection) Role() Role { return c.role }

// RemoteAddr returns the underlying socket's remote address.
func (c *Connection) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

// IsConnected reports whether the socket is still open. Once any read,
// write, or handshake error occurs, this permanently returns false —
// there is no retry at this layer (spec §4.3 "Failure semantics").
func (c *Connection) IsConnected() bool {
	return !c.closed.Load()
}

// Send enqueues msg for transmission. If the connection is already
// closed, the message is silently dropped — the caller is expected to
// notice disconnection via IsConnected on its own schedule (spec §4.4).
func (c *Connection) Send(msg *Message) {
	if c.closed.Load() {
		return
	}
	c.outbound.PushBack(msg)
}

// Disconnect closes the socket, which causes both pumps to observe an
// error and exit. It is safe to call more than once and from any
// goroutine.
func (c *Connection) Disconnect() {
	c.fail(ErrClosed)
}

// Done returns a channel that is closed as soon as this Connection is
// closed (the socket has been closed and Err reports the cause). The
// pump goroutines may still be exiting when it fires.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// Err returns the error that caused this connection to close, or nil if
// it is still connected.
func (c *Connection) Err() error {
	if e, ok := c.closeErr.Load().(error); ok {
		return e
	}
	return nil
}

// fail is the single terminal path: the first caller to reach it closes
// the socket and records the cause; every later caller is a no-op. This
// mirrors smux's sync.Once-guarded notifyReadError/notifyWriteError
// pattern for "first error wins".
func (c *Connection) fail(err error) {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.closeErr.Store(err)
		_ = c.conn.Close()
		close(c.done)
	})
}

// runServer performs the server-side handshake and, on success, starts
// the read and write pumps. It blocks until the handshake completes (or
// fails) — callers run it in its own goroutine.
func (c *Connection) runServer() {
	c.setHandshakeDeadline()
	if err := c.serverHandshake(); err != nil {
		c.log.WithError(err).Warn("handshake failed, closing")
		c.fail(errors.Wrap(ErrHandshake, err.Error()))
		return
	}
	c.clearHandshakeDeadline()
	c.onValidated(c)
	c.startPumps()
}

// runClient performs the client-side handshake and, on success, starts
// the read and write pumps.
func (c *Connection) runClient() error {
	c.setHandshakeDeadline()
	if err := c.clientHandshake(); err != nil {
		c.fail(errors.Wrap(ErrHandshake, err.Error()))
		return err
	}
	c.clearHandshakeDeadline()
	c.startPumps()
	return nil
}

// setHandshakeDeadline bounds the handshake's blocking I/O so a peer that
// never completes it cannot pin this goroutine (and, on the server, an
// unvalidated socket) indefinitely. clearHandshakeDeadline lifts the
// bound again once the handshake has succeeded, so it never constrains
// the read/write pumps.
func (c *Connection) setHandshakeDeadline() {
	if c.handshakeTimeout > 0 {
		_ = c.conn.SetDeadline(time.Now().Add(c.handshakeTimeout))
	}
}

func (c *Connection) clearHandshakeDeadline() {
	if c.handshakeTimeout > 0 {
		_ = c.conn.SetDeadline(time.Time{})
	}
}

func (c *Connection) startPumps() {
	c.wg.Add(2)
	go c.readLoop()
	go c.writeLoop()
}

// wait blocks until both pumps have exited. Used by owners (Client,
// Server registry cleanup) that need the goroutines fully joined before
// releasing the last reference.
func (c *Connection) wait() {
	c.wg.Wait()
}

// --- handshake ---
//
// scramble() is an intentionally weak mixer used only to
// reject peers speaking the wrong protocol dialect — never mistake it
// for authentication or encryption (spec §4.3, §6).

func (c *Connection) serverHandshake() error {
	out := uint64(time.Now().UnixNano())
	check := scramble(out)

	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], out)
	if _, err := c.conn.Write(buf[:]); err != nil {
		return errors.Wrap(err, "write nonce")
	}

	if _, err := io.ReadFull(c.conn, buf[:]); err != nil {
		return errors.Wrap(err, "read scrambled nonce")
	}
	in := binary.LittleEndian.Uint64(buf[:])
	if in != check {
		return errors.New("scrambled nonce mismatch")
	}
	return nil
}

func (c *Connection) clientHandshake() error {
	var buf [8]byte
	if _, err := io.ReadFull(c.conn, buf[:]); err != nil {
		return errors.Wrap(err, "read nonce")
	}
	in := binary.LittleEndian.Uint64(buf[:])
	out := scramble(in)
	binary.LittleEndian.PutUint64(buf[:], out)
	if _, err := c.conn.Write(buf[:]); err != nil {
		return errors.Wrap(err, "write scrambled nonce")
	}
	return nil
}

// --- read pump ---

// readLoop alternates ReadingHeader/ReadingBody (spec §4.3) for the
// lifetime of the connection. Exactly one read is outstanding at a time
// because this is the only goroutine issuing them.
func (c *Connection) readLoop() {
	defer c.wg.Done()

	var hdrBuf [headerSize]byte
	for {
		if _, err := io.ReadFull(c.conn, hdrBuf[:]); err != nil {
			c.fail(errors.Wrap(err, "read header"))
			return
		}
		hdr := decodeHeader(hdrBuf[:])

		if hdr.Size > c.maxBodySize {
			c.fail(errors.Wrapf(ErrFraming, "announced body %d exceeds max %d", hdr.Size, c.maxBodySize))
			return
		}

		msg := &Message{Header: hdr}
		if hdr.Size > 0 {
			msg.Body = make([]byte, hdr.Size)
			if _, err := io.ReadFull(c.conn, msg.Body); err != nil {
				c.fail(errors.Wrap(err, "read body"))
				return
			}
		}

		c.inbound.PushBack(&OwnedMessage{Source: c.sourceHandle(), Message: msg})
	}
}

// sourceHandle returns the Source to attach to an OwnedMessage: the
// connection itself on the server, nil on the client (spec §3 — the
// client has exactly one peer, so Source carries no information there).
func (c *Connection) sourceHandle() *Connection {
	if c.role == RoleClient {
		return nil
	}
	return c
}

// --- write pump ---

// writeLoop drains the outbound queue one Message at a time (spec
// §4.3 WritingHeader/WritingBody), writing the header and body as a
// single vectorised write when the underlying writer supports scatter-
// gather I/O — the same optimization SagerNet/smux's sendLoop applies
// via sagernet/sing's bufio helpers — and falling back to a buffer copy
// otherwise.
func (c *Connection) writeLoop() {
	defer c.wg.Done()

	vw, vectorised := bufio.CreateVectorisedWriter(c.conn)
	var hdrBuf [headerSize]byte
	vec := make([][]byte, 2)
	var flat []byte

	for {
		if err := c.outbound.Wait(doneCtx(c.done)); err != nil {
			return // connection closed while idle
		}
		msg, ok := c.outbound.PopFront()
		if !ok {
			continue // lost the race to another waiter; re-check
		}

		encodeHeader(hdrBuf[:], msg.Header)

		var err error
		if vectorised {
			vec[0] = hdrBuf[:]
			vec[1] = msg.Body
			_, err = bufio.WriteVectorised(vw, vec)
		} else {
			if cap(flat) < headerSize+len(msg.Body) {
				flat = make([]byte, headerSize+len(msg.Body))
			}
			flat = flat[:headerSize+len(msg.Body)]
			copy(flat, hdrBuf[:])
			copy(flat[headerSize:], msg.Body)
			_, err = c.conn.Write(flat)
		}

		if err != nil {
			c.fail(errors.Wrap(err, "write frame"))
			return
		}
	}
}
