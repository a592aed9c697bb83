package qtnetworkng

import (
	"bytes"
	"encoding/binary"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDataPacketRoundTrip(t *testing.T) {
	payloads := [][]byte{
		{0x00},
		[]byte("hello"),
		bytes.Repeat([]byte{0xab}, 1024),
		make([]byte, 1400),
	}
	_, _ = rand.Read(payloads[3])

	for _, compression := range []bool{false, true} {
		for _, payload := range payloads {
			packet := encodeDataPacket(payload, compression)
			require.NotNil(t, packet)

			kind, decoded := decodePacket(packet)
			assert.Equal(t, packetData, kind)
			assert.Equal(t, payload, decoded)
		}
	}
}

func TestDataPacketCompressionOnlyWhenSmaller(t *testing.T) {
	// highly compressible, must go out as a compressed packet
	zeros := make([]byte, 4096)
	packet := encodeDataPacket(zeros, true)
	require.NotNil(t, packet)
	assert.EqualValues(t, packetTypeCompressedData, packet[0])
	assert.True(t, len(packet) < len(zeros))

	// incompressible, the raw form must be kept
	noise := make([]byte, 256)
	_, _ = rand.Read(noise)
	packet = encodeDataPacket(noise, true)
	require.NotNil(t, packet)
	assert.EqualValues(t, packetTypeUncompressedData, packet[0])
	assert.Equal(t, packetHeaderSize+len(noise), len(packet))
}

func TestDataPacketLengthField(t *testing.T) {
	payload := []byte("some payload")
	packet := encodeDataPacket(payload, false)
	require.NotNil(t, packet)
	assert.EqualValues(t, len(payload), binary.BigEndian.Uint16(packet[1:3]))
}

func TestDataPacketOversized(t *testing.T) {
	assert.Nil(t, encodeDataPacket(make([]byte, maxPacketPayload+1), false))
}

func TestControlPackets(t *testing.T) {
	kind, payload := decodePacket(encodeClosePacket())
	assert.Equal(t, packetClose, kind)
	assert.Nil(t, payload)

	kind, payload = decodePacket(encodeKeepalivePacket())
	assert.Equal(t, packetKeepalive, kind)
	assert.Nil(t, payload)
}

func TestDecodeInvalidPackets(t *testing.T) {
	invalid := [][]byte{
		nil,
		{},
		{0x00},                    // unknown type
		{0x7f, 0x01, 0x02, 0x03},  // unknown type
		{packetTypeUncompressedData},             // truncated header
		{packetTypeUncompressedData, 0x00},       // truncated header
		{packetTypeUncompressedData, 0x00, 0x05}, // declared 5, got 0
		{packetTypeUncompressedData, 0x00, 0x01, 0xaa, 0xbb}, // declared 1, got 2
		{packetTypeCompressedData, 0x00, 0x03, 0x01, 0x02, 0x03}, // garbage deflate
	}
	for _, buf := range invalid {
		kind, _ := decodePacket(buf)
		assert.Equal(t, packetInvalid, kind, "buf: %v", buf)
	}
}

func TestDeflateRoundTrip(t *testing.T) {
	data := bytes.Repeat([]byte("abcdef"), 1000)
	compressed, err := deflateCompress(data)
	require.NoError(t, err)
	assert.True(t, len(compressed) < len(data))

	uncompressed, err := deflateUncompress(compressed)
	require.NoError(t, err)
	assert.Equal(t, data, uncompressed)
}
