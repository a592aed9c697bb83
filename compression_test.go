package qtnetworkng

import (
	"bytes"
	"io"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapConnCompression(t *testing.T) {
	for _, method := range []string{"lz4", "snappy", "deflate"} {
		t.Run(method, func(t *testing.T) {
			left, right := net.Pipe()
			wrappedLeft, err := WrapConnCompression(left, method)
			require.NoError(t, err)
			wrappedRight, err := WrapConnCompression(right, method)
			require.NoError(t, err)

			payload := bytes.Repeat([]byte("compress me "), 4096)
			written := make(chan struct{})
			go func() {
				defer close(written)
				_, _ = wrappedLeft.Write(payload)
			}()

			buf := make([]byte, len(payload))
			_, err = io.ReadFull(wrappedRight, buf)
			require.NoError(t, err)
			assert.Equal(t, payload, buf)

			// net.Pipe is unbuffered: keep draining the raw right end so the
			// rest of the flush and the trailer written by Close can complete
			go func() { _, _ = io.Copy(io.Discard, right) }()
			<-written
			_ = wrappedLeft.Close()
			_ = wrappedRight.Close()
		})
	}
}

func TestWrapConnCompressionUnknownMethod(t *testing.T) {
	left, _ := net.Pipe()
	_, err := WrapConnCompression(left, "zstd")
	assert.Error(t, err)
}

func TestWrapSocketCompression(t *testing.T) {
	server, address := startListener(t, 1)
	defer server.Close()

	payload := bytes.Repeat([]byte("stream compression over kcp "), 2048)
	received := make(chan []byte, 1)
	go func() {
		slave := server.Accept()
		if slave == nil {
			received <- nil
			return
		}
		conn, err := WrapSocketCompression(slave, "snappy")
		if !assert.NoError(t, err) {
			received <- nil
			return
		}
		defer conn.Close() // nolint: errcheck
		buf := make([]byte, len(payload))
		if _, err := io.ReadFull(conn, buf); err != nil {
			received <- nil
			return
		}
		received <- buf
	}()

	client := dialLoopback(t, address)
	conn, err := WrapSocketCompression(client, "snappy")
	require.NoError(t, err)
	defer conn.Close() // nolint: errcheck
	_, err = conn.Write(payload)
	require.NoError(t, err)

	assert.Equal(t, payload, <-received)
}
