package qtnetworkng

import (
	"bytes"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMuxEcho(t *testing.T) {
	const streams = 4

	server, address := startListener(t, 1)
	defer server.Close()

	serverDone := make(chan struct{})
	go func() {
		defer close(serverDone)
		slave := server.Accept()
		if !assert.NotNil(t, slave) {
			return
		}
		session, err := NewMuxServer(slave, nil)
		if !assert.NoError(t, err) {
			return
		}
		defer session.Close() // nolint: errcheck
		// the session stays open until every echo loop has seen its
		// stream closed by the client
		var echoes sync.WaitGroup
		defer echoes.Wait()
		for i := 0; i < streams; i++ {
			stream, err := session.AcceptStream()
			if !assert.NoError(t, err) {
				return
			}
			echoes.Add(1)
			go func() {
				defer echoes.Done()
				defer stream.Close() // nolint: errcheck
				buf := make([]byte, 1024)
				for {
					n, err := stream.Read(buf)
					if err != nil {
						return
					}
					if _, err = stream.Write(buf[:n]); err != nil {
						return
					}
				}
			}()
		}
	}()

	client := dialLoopback(t, address)
	session, err := NewMuxClient(client, nil)
	require.NoError(t, err)

	for i := 0; i < streams; i++ {
		stream, err := session.OpenStream()
		require.NoError(t, err)

		payload := bytes.Repeat([]byte{byte(i + 1)}, 512)
		_, err = stream.Write(payload)
		require.NoError(t, err)

		buf := make([]byte, len(payload))
		_, err = io.ReadFull(stream, buf)
		require.NoError(t, err)
		assert.Equal(t, payload, buf)
		_ = stream.Close()
	}

	_ = session.Close()
	<-serverDone
}

func TestMuxRejectsBadConfig(t *testing.T) {
	client := NewKcpSocket()
	config := DefaultSmuxConfig()
	config.KeepAliveInterval = 0
	_, err := NewMuxClient(client, config)
	assert.Error(t, err)
}
