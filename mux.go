package qtnetworkng

import (
	"time"

	"github.com/pkg/errors"
	"github.com/xtaci/smux"
)

// DefaultSmuxConfig returns the smux tuning used by NewMuxClient and
// NewMuxServer when no config is given. The stream keepalive is left to
// smux; the socket's own keepalive only proves the datagram path.
func DefaultSmuxConfig() *smux.Config {
	config := smux.DefaultConfig()
	config.KeepAliveInterval = 10 * time.Second
	config.KeepAliveTimeout = 30 * time.Second
	return config
}

// NewMuxClient layers a stream multiplexer over a connected client socket.
// Every smux stream is an independent reliable byte stream; all of them
// share the single KCP session underneath.
func NewMuxClient(s *KcpSocket, config *smux.Config) (*smux.Session, error) {
	if config == nil {
		config = DefaultSmuxConfig()
	}
	if err := smux.VerifyConfig(config); err != nil {
		return nil, errors.WithStack(err)
	}
	session, err := smux.Client(AsConn(s), config)
	return session, errors.WithStack(err)
}

// NewMuxServer layers a stream multiplexer over an accepted slave socket.
func NewMuxServer(s *KcpSocket, config *smux.Config) (*smux.Session, error) {
	if config == nil {
		config = DefaultSmuxConfig()
	}
	if err := smux.VerifyConfig(config); err != nil {
		return nil, errors.WithStack(err)
	}
	session, err := smux.Server(AsConn(s), config)
	return session, errors.WithStack(err)
}
