package netasio

import "github.com/pkg/errors"

// Sentinel errors for the synchronous, call-site failures described in
// spec §7. Transport failures (IoError, HandshakeError) are never
// returned to callers of Send/MessageClient — they only ever surface as
// IsConnected() turning false, per §7's propagation policy.
var (
	// ErrUnderflow is returned by Message.Pop when the body is smaller
	// than the requested value's encoded size.
	ErrUnderflow = errors.New("netasio: message body underflow")

	// ErrTypeNotByteCopyable is returned by Message.Push/Pop when the
	// requested value type has no fixed wire encoding.
	ErrTypeNotByteCopyable = errors.New("netasio: type has no fixed-layout wire encoding")

	// ErrConfig names the invalid-configuration error kind. Options are
	// not validated, so no function in this package returns it; port 0
	// in particular is accepted and binds an ephemeral port.
	ErrConfig = errors.New("netasio: invalid configuration")

	// ErrBind is returned by Server.Start when the listener cannot bind.
	ErrBind = errors.New("netasio: failed to bind listener")

	// ErrResolve is returned by Client.Connect when the remote address
	// cannot be resolved.
	ErrResolve = errors.New("netasio: failed to resolve address")

	// ErrConnect is returned by Client.Connect when the TCP dial fails.
	ErrConnect = errors.New("netasio: failed to connect")

	// ErrHandshake is the terminal state of a Connection whose handshake
	// failed or whose peer sent the wrong scrambled nonce.
	ErrHandshake = errors.New("netasio: handshake failed")

	// ErrFraming is returned (and treated as a fatal IoError) when a
	// peer announces a body size larger than the configured maximum.
	ErrFraming = errors.New("netasio: frame exceeds maximum body size")

	// ErrClosed is the cause Connection.Err reports after the connection
	// was closed by Disconnect.
	ErrClosed = errors.New("netasio: connection closed")
)
