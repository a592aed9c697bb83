package qtnetworkng

import (
	"io"
	"net"
	"time"

	"github.com/pkg/errors"
)

// SocketLike presents a KcpSocket through the generic stream-socket surface
// shared by the different socket kinds of this library, so code written
// against it does not care what transport sits underneath.
type SocketLike interface {
	Error() SocketError
	ErrorString() string
	IsValid() bool
	LocalAddr() *net.UDPAddr
	PeerAddr() *net.UDPAddr
	PeerName() string
	PeerPort() uint16
	State() SocketState
	// Fileno returns the OS descriptor, or -1 for logical sockets that do
	// not own one.
	Fileno() int

	Accept() SocketLike
	Bind(address string) bool
	Connect(address string) bool
	Close() bool
	Listen(backlog int) bool

	Send(data []byte) int
	SendAll(data []byte) int
	Recv(buf []byte) int
	RecvAll(buf []byte) int
	RecvBytes(size int) []byte
	RecvAllBytes(size int) []byte
}

type kcpSocketLike struct {
	s *KcpSocket
}

// NewSocketLike wraps a KcpSocket into the generic socket surface.
func NewSocketLike(s *KcpSocket) SocketLike {
	return &kcpSocketLike{s}
}

// ConvertSocketLikeToKcpSocket recovers the underlying KcpSocket, or nil
// when the SocketLike wraps something else.
func ConvertSocketLikeToKcpSocket(sl SocketLike) *KcpSocket {
	if impl, ok := sl.(*kcpSocketLike); ok {
		return impl.s
	}
	return nil
}

func (w *kcpSocketLike) Error() SocketError       { return w.s.Error() }
func (w *kcpSocketLike) ErrorString() string      { return w.s.ErrorString() }
func (w *kcpSocketLike) IsValid() bool            { return w.s.IsValid() }
func (w *kcpSocketLike) LocalAddr() *net.UDPAddr  { return w.s.LocalAddr() }
func (w *kcpSocketLike) PeerAddr() *net.UDPAddr   { return w.s.PeerAddr() }
func (w *kcpSocketLike) PeerName() string         { return w.s.PeerName() }
func (w *kcpSocketLike) PeerPort() uint16         { return w.s.PeerPort() }
func (w *kcpSocketLike) State() SocketState       { return w.s.State() }
func (w *kcpSocketLike) Fileno() int              { return -1 }
func (w *kcpSocketLike) Bind(address string) bool { return w.s.Bind(address) }

func (w *kcpSocketLike) Accept() SocketLike {
	accepted := w.s.Accept()
	if accepted == nil {
		return nil
	}
	return NewSocketLike(accepted)
}

func (w *kcpSocketLike) Connect(address string) bool { return w.s.Connect(address) }
func (w *kcpSocketLike) Close() bool                 { return w.s.Close() }
func (w *kcpSocketLike) Listen(backlog int) bool     { return w.s.Listen(backlog) }

func (w *kcpSocketLike) Send(data []byte) int          { return w.s.Send(data) }
func (w *kcpSocketLike) SendAll(data []byte) int       { return w.s.SendAll(data) }
func (w *kcpSocketLike) Recv(buf []byte) int           { return w.s.Recv(buf) }
func (w *kcpSocketLike) RecvAll(buf []byte) int        { return w.s.RecvAll(buf) }
func (w *kcpSocketLike) RecvBytes(size int) []byte     { return w.s.RecvBytes(size) }
func (w *kcpSocketLike) RecvAllBytes(size int) []byte  { return w.s.RecvAllBytes(size) }

// connAdapter exposes a connected KcpSocket as a net.Conn, so it can be
// composed with everything that speaks the standard interface: compression
// wrappers, smux, io.Copy.
type connAdapter struct {
	s *KcpSocket
}

// AsConn adapts a connected socket to net.Conn. Reads return io.EOF after
// the peer closed; deadlines are not supported and are silently ignored.
func AsConn(s *KcpSocket) net.Conn {
	return &connAdapter{s}
}

func (c *connAdapter) Read(b []byte) (int, error) {
	n := c.s.Recv(b)
	if n < 0 {
		if err := c.s.Error(); err == RemoteHostClosedError || err == NoError {
			return 0, io.EOF
		}
		return 0, errors.New(c.s.ErrorString())
	}
	return n, nil
}

func (c *connAdapter) Write(b []byte) (int, error) {
	n := c.s.SendAll(b)
	if n < 0 {
		return 0, errors.New("write on invalid kcp socket")
	}
	return n, nil
}

func (c *connAdapter) Close() error {
	c.s.Close()
	return nil
}

func (c *connAdapter) LocalAddr() net.Addr {
	if addr := c.s.LocalAddr(); addr != nil {
		return addr
	}
	return &net.UDPAddr{}
}

func (c *connAdapter) RemoteAddr() net.Addr {
	if addr := c.s.PeerAddr(); addr != nil {
		return addr
	}
	return &net.UDPAddr{}
}

func (c *connAdapter) SetDeadline(t time.Time) error      { return nil }
func (c *connAdapter) SetReadDeadline(t time.Time) error  { return nil }
func (c *connAdapter) SetWriteDeadline(t time.Time) error { return nil }
