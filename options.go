package netasio

import (
	"time"

	"github.com/sirupsen/logrus"
)

// defaultMaxBodySize bounds how large a single message body may be
// before the read pump treats it as a protocol error (ErrFraming) rather
// than trusting an attacker- or bug-controlled length prefix. The
// original tutorial source never checks this (spec §4.3/§7 calls this
// out as a hardening gap the specification closes); 16 MiB is a generous
// default for an interactive-application payload.
const defaultMaxBodySize = 16 << 20

// defaultHandshakeTimeout bounds how long a peer has to complete the
// scramble handshake before the connection is abandoned. Without this, a
// peer that opens the socket and never replies pins a reactor goroutine
// (and, on the server, an unvalidated fd) forever — a trivial
// slowloris-style resource leak.
const defaultHandshakeTimeout = 10 * time.Second

// clientConfig holds the resolved options for a Client.
type clientConfig struct {
	logger           *logrus.Logger
	maxBodySize      uint32
	handshakeTimeout time.Duration
}

// ClientOption configures a Client constructed with NewClient.
type ClientOption func(*clientConfig)

// WithClientLogger supplies the logger the Client and its Connection use
// for structured, connection-scoped logging.
func WithClientLogger(l *logrus.Logger) ClientOption {
	return func(c *clientConfig) { c.logger = l }
}

// WithClientMaxBodySize overrides the maximum accepted message body
// size. A peer announcing a larger body is treated as ErrFraming.
func WithClientMaxBodySize(n uint32) ClientOption {
	return func(c *clientConfig) { c.maxBodySize = n }
}

// WithClientHandshakeTimeout overrides how long the handshake may take
// before the connection attempt is abandoned. Zero disables the deadline.
func WithClientHandshakeTimeout(d time.Duration) ClientOption {
	return func(c *clientConfig) { c.handshakeTimeout = d }
}

func newClientConfig(opts []ClientOption) clientConfig {
	cfg := clientConfig{
		logger:           newDiscardLogger(),
		maxBodySize:      defaultMaxBodySize,
		handshakeTimeout: defaultHandshakeTimeout,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// serverConfig holds the resolved options for a Server.
type serverConfig struct {
	logger           *logrus.Logger
	maxBodySize      uint32
	handshakeTimeout time.Duration

	onClientConnect    func(*Connection) bool
	onClientValidated  func(*Connection)
	onClientDisconnect func(*Connection)
	onMessage          func(*Connection, *Message)
}

// ServerOption configures a Server constructed with NewServer.
type ServerOption func(*serverConfig)

// WithServerLogger supplies the logger the Server and its Connections
// use for structured logging.
func WithServerLogger(l *logrus.Logger) ServerOption {
	return func(c *serverConfig) { c.logger = l }
}

// WithServerMaxBodySize overrides the maximum accepted message body
// size for every admitted connection.
func WithServerMaxBodySize(n uint32) ServerOption {
	return func(c *serverConfig) { c.maxBodySize = n }
}

// WithServerHandshakeTimeout overrides how long an admitted-but-not-yet-
// validated connection may take to complete the handshake before the
// server abandons it. Zero disables the deadline.
func WithServerHandshakeTimeout(d time.Duration) ServerOption {
	return func(c *serverConfig) { c.handshakeTimeout = d }
}

// WithOnClientConnect registers the admission hook: return false to veto
// an incoming connection before any handshake bytes are sent (spec §4.5,
// §8 property 5).
func WithOnClientConnect(fn func(*Connection) bool) ServerOption {
	return func(c *serverConfig) { c.onClientConnect = fn }
}

// WithOnClientValidated registers the hook invoked once a connection's
// handshake succeeds, before its read pump starts (spec §4.5, §9: "the
// specification requires it").
func WithOnClientValidated(fn func(*Connection)) ServerOption {
	return func(c *serverConfig) { c.onClientValidated = fn }
}

// WithOnClientDisconnect registers the hook invoked when the server
// detects a dead client, during MessageClient or MessageAllClients.
func WithOnClientDisconnect(fn func(*Connection)) ServerOption {
	return func(c *serverConfig) { c.onClientDisconnect = fn }
}

// WithOnMessage registers the handler Update invokes once per dequeued
// inbound message.
func WithOnMessage(fn func(*Connection, *Message)) ServerOption {
	return func(c *serverConfig) { c.onMessage = fn }
}

func newServerConfig(opts []ServerOption) serverConfig {
	cfg := serverConfig{
		logger:             newDiscardLogger(),
		maxBodySize:        defaultMaxBodySize,
		handshakeTimeout:   defaultHandshakeTimeout,
		onClientConnect:    func(*Connection) bool { return true },
		onClientValidated:  func(*Connection) {},
		onClientDisconnect: func(*Connection) {},
		onMessage:          func(*Connection, *Message) {},
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}
