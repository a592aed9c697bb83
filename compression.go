package qtnetworkng

import (
	"compress/flate"
	"io"
	"net"

	"github.com/golang/snappy"
	"github.com/pierrec/lz4"
	"github.com/pkg/errors"
)

// WrapConnCompression wraps a stream connection with a given compression
// method ("lz4", "snappy" or "deflate"). It is independent of the per-packet
// envelope compression: the envelope compresses single KCP segments, this
// wrapper compresses the application stream end to end and usually wins on
// compressible bulk transfers.
func WrapConnCompression(inner net.Conn, method string) (net.Conn, error) {
	var wrapper *compConnWrapper
	switch method {
	case "lz4":
		wrapper = &compConnWrapper{
			inner, lz4.NewReader(inner), lz4.NewWriter(inner)}
	case "snappy":
		wrapper = &compConnWrapper{
			inner, snappy.NewReader(inner), snappy.NewBufferedWriter(inner)}
	case "deflate":
		w, e := flate.NewWriter(inner, flate.DefaultCompression)
		if e != nil {
			return nil, errors.WithStack(e)
		}
		wrapper = &compConnWrapper{inner, flate.NewReader(inner), w}
	default:
		return nil, errors.New("unknown compression method: " + method)
	}
	return wrapper, nil
}

// WrapSocketCompression is WrapConnCompression over the net.Conn view of a
// connected KcpSocket.
func WrapSocketCompression(s *KcpSocket, method string) (net.Conn, error) {
	return WrapConnCompression(AsConn(s), method)
}

type compConnWrapper struct {
	net.Conn
	compReader io.Reader
	compWriter writeCloseFlusher
}

func (w *compConnWrapper) Read(b []byte) (int, error) {
	return w.compReader.Read(b)
}

func (w *compConnWrapper) Write(b []byte) (int, error) {
	n, err := w.compWriter.Write(b)
	if err == nil {
		err = w.compWriter.Flush()
	}
	return n, err
}

func (w *compConnWrapper) Close() (err error) {
	err = w.compWriter.Close()
	if err == nil {
		err = w.Conn.Close()
	} else {
		_ = w.Conn.Close()
	}
	return
}

type writeCloseFlusher interface {
	io.WriteCloser
	Flush() error
}
