package qtnetworkng

import (
	"net"
	"strconv"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// SocketState is the connection state of a KcpSocket.
type SocketState int32

// nolint: golint
const (
	UnconnectedState SocketState = iota
	BoundState
	ListeningState
	ConnectingState
	ConnectedState
	ClosingState
)

func (s SocketState) String() string {
	switch s {
	case UnconnectedState:
		return "unconnected"
	case BoundState:
		return "bound"
	case ListeningState:
		return "listening"
	case ConnectingState:
		return "connecting"
	case ConnectedState:
		return "connected"
	case ClosingState:
		return "closing"
	default:
		return "unknown(" + strconv.Itoa(int(s)) + ")"
	}
}

// SocketError identifies the final cause of a socket failure. A socket in a
// healthy state reports NoError.
type SocketError int32

// nolint: golint
const (
	NoError SocketError = iota
	SocketAccessError
	RemoteHostClosedError
	NetworkTimeoutError
	DatagramError
)

func (e SocketError) String() string {
	switch e {
	case NoError:
		return ""
	case SocketAccessError:
		return "invalid socket descriptor"
	case RemoteHostClosedError:
		return "the remote host closed the connection"
	case NetworkTimeoutError:
		return "network operation timed out"
	case DatagramError:
		return "datagram socket error"
	default:
		return "unknown socket error"
	}
}

// Mode selects a KCP tuning preset. Internet favours conservative
// retransmission (no nodelay, no fast resend) and a small MTU with a wide
// window; Ethernet and Loopback trade that for throughput on links where large
// datagrams survive, with fast resend, large MTUs and narrower windows.
type Mode int

// nolint: golint
const (
	Internet Mode = iota
	Ethernet
	Loopback
)

func (m Mode) String() string {
	switch m {
	case Internet:
		return "internet"
	case Ethernet:
		return "ethernet"
	case Loopback:
		return "loopback"
	default:
		return "unknown"
	}
}

// ParseMode parses a mode name as found in configuration files.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "", "internet":
		return Internet, nil
	case "ethernet":
		return Ethernet, nil
	case "loopback":
		return Loopback, nil
	default:
		return Internet, errors.New("invalid KCP mode: " + s)
	}
}

// udpAddrKey builds the string under which a peer is registered in the
// demultiplexing table of a listening socket.
func udpAddrKey(addr *net.UDPAddr) string {
	return net.JoinHostPort(addr.IP.String(), strconv.Itoa(addr.Port))
}

// LoggingConfig contains configuration about logging.
type LoggingConfig struct {
	File   string `yaml:"file"`
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// CreateLogger creates a zap SugaredLogger from given configuration.
func CreateLogger(config LoggingConfig) (*zap.SugaredLogger, error) {
	zapCfg := zap.NewProductionConfig()
	zapCfg.Sampling = nil // disable sampling as it is useless in our scale
	if config.File != "" {
		zapCfg.OutputPaths = []string{config.File}
	}
	if config.Format != "" {
		if config.Format == "console_rich" {
			zapCfg.Encoding = "console"
			zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		} else {
			zapCfg.Encoding = config.Format
		}
	}
	if zapCfg.Encoding == "console" {
		zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	switch config.Level {
	case "": // no-op
	case "debug":
		zapCfg.Level.SetLevel(zap.DebugLevel)
	case "info":
		zapCfg.Level.SetLevel(zap.InfoLevel)
	case "warn":
		zapCfg.Level.SetLevel(zap.WarnLevel)
	case "error":
		zapCfg.Level.SetLevel(zap.ErrorLevel)
	case "fatal":
		zapCfg.Level.SetLevel(zap.FatalLevel)
	default:
		return nil, errors.New("unknown logging level: " + config.Level)
	}

	logger, err := zapCfg.Build()
	if err != nil {
		return nil, err
	}
	return logger.Sugar(), nil
}
