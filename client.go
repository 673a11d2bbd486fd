package netasio

import (
	"net"
	"strconv"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// Client owns a single reactor goroutine and exactly one Connection
// (spec §4.4). Construct with NewClient, then Connect to a server.
type Client struct {
	cfg clientConfig

	inbound *BlockingQueue[*OwnedMessage]

	conn  *Connection
	group *errgroup.Group
}

// NewClient returns a Client ready to Connect. It owns no socket until
// Connect succeeds.
func NewClient(opts ...ClientOption) *Client {
	return &Client{
		cfg:     newClientConfig(opts),
		inbound: NewBlockingQueue[*OwnedMessage](),
	}
}

// Connect resolves host:port, dials a TCP socket, and spawns the single
// reactor goroutine that performs the handshake and then runs the
// connection's read/write pumps. Returning nil means the dial succeeded
// and the handshake has been kicked off — not that it has completed;
// callers observe handshake failure the same way they observe any later
// disconnect, through IsConnected.
//
// The original tutorial's Connect() always returns false, even on
// success — spec §9 documents this as a bug. Go's idiom for "did this
// succeed" is a nil error, so that's what a successful Connect returns
// here.
func (c *Client) Connect(host string, port uint16) error {
	addr := net.JoinHostPort(host, strconv.Itoa(int(port)))

	tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return errors.Wrap(ErrResolve, err.Error())
	}

	conn, err := net.DialTCP("tcp", nil, tcpAddr)
	if err != nil {
		return errors.Wrap(ErrConnect, err.Error())
	}

	c.conn = newConnection(RoleClient, 0, conn, c.inbound, c.cfg.maxBodySize, c.cfg.handshakeTimeout, c.cfg.logger)

	g := &errgroup.Group{}
	c.group = g
	g.Go(func() error {
		return c.conn.runClient()
	})

	return nil
}

// Disconnect requests a graceful shutdown of the connection, waits for
// the reactor goroutine (and the pumps it started) to finish, and drops
// the Connection. It is a no-op if not connected.
func (c *Client) Disconnect() {
	if c.conn == nil {
		return
	}
	c.conn.Disconnect()
	if c.group != nil {
		_ = c.group.Wait()
	}
	c.conn.wait()
	c.conn = nil
}

// IsConnected reports whether a Connection exists and its socket is
// still open.
func (c *Client) IsConnected() bool {
	return c.conn != nil && c.conn.IsConnected()
}

// Send forwards msg to the Connection if connected; otherwise it is
// silently dropped. The application is expected to notice disconnection
// by polling IsConnected / draining Incoming, not from Send's return
// (spec §4.4).
func (c *Client) Send(msg *Message) {
	if c.conn == nil {
		return
	}
	c.conn.Send(msg)
}

// Incoming returns the queue the application drains for messages
// received from the server.
func (c *Client) Incoming() *BlockingQueue[*OwnedMessage] {
	return c.inbound
}
