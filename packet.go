package qtnetworkng

import (
	"bytes"
	"compress/flate"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// Every datagram on the wire carries exactly one packet: a one-byte type,
// and for data packets a two-byte big-endian payload length followed by the
// payload. The KCP segment inside a data packet is opaque to this layer.
const (
	packetTypeUncompressedData = 0x01
	packetTypeCompressedData   = 0x02
	packetTypeClose            = 0x03
	packetTypeKeepalive        = 0x04
)

const packetHeaderSize = 3

// maxPacketPayload is the largest payload a data packet can declare in its
// 16-bit length field.
const maxPacketPayload = 0xffff

// packetKind is the result of decoding an inbound datagram.
type packetKind int

const (
	packetInvalid packetKind = iota
	packetData
	packetClose
	packetKeepalive
)

// deflateCompress compresses data with raw DEFLATE.
func deflateCompress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.DefaultCompression)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if _, err = w.Write(data); err != nil {
		_ = w.Close()
		return nil, errors.WithStack(err)
	}
	if err = w.Close(); err != nil {
		return nil, errors.WithStack(err)
	}
	return buf.Bytes(), nil
}

// deflateUncompress expands a raw DEFLATE stream.
func deflateUncompress(data []byte) ([]byte, error) {
	r := flate.NewReader(bytes.NewReader(data))
	defer r.Close() // nolint: errcheck
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return out, nil
}

// encodeDataPacket frames a KCP segment into a data packet. When compression
// is requested the compressed form is kept only if it is strictly smaller
// than the original. Segments larger than maxPacketPayload cannot be framed
// and yield nil.
func encodeDataPacket(segment []byte, compression bool) []byte {
	if len(segment) > maxPacketPayload {
		return nil
	}

	if compression {
		if compressed, err := deflateCompress(segment); err == nil &&
			len(compressed) < len(segment) {
			packet := GlobalBufPool.Get(uint(packetHeaderSize + len(compressed)))
			packet[0] = packetTypeCompressedData
			binary.BigEndian.PutUint16(packet[1:3], uint16(len(compressed)))
			copy(packet[3:], compressed)
			return packet
		}
	}

	packet := GlobalBufPool.Get(uint(packetHeaderSize + len(segment)))
	packet[0] = packetTypeUncompressedData
	binary.BigEndian.PutUint16(packet[1:3], uint16(len(segment)))
	copy(packet[3:], segment)
	return packet
}

// encodeClosePacket makes the one-byte packet announcing a graceful shutdown.
func encodeClosePacket() []byte {
	return []byte{packetTypeClose}
}

// encodeKeepalivePacket makes the one-byte liveness packet.
func encodeKeepalivePacket() []byte {
	return []byte{packetTypeKeepalive}
}

// decodePacket classifies an inbound datagram and extracts the KCP segment
// of a data packet, expanding it first if it was compressed. A datagram is
// invalid when it is empty, carries an unknown type byte, declares a length
// that does not match the remaining bytes exactly, or fails to expand.
// Invalid datagrams are dropped by the caller without altering any state.
func decodePacket(buf []byte) (packetKind, []byte) {
	if len(buf) == 0 {
		return packetInvalid, nil
	}
	switch buf[0] {
	case packetTypeUncompressedData, packetTypeCompressedData:
		if len(buf) < packetHeaderSize {
			return packetInvalid, nil
		}
		dataSize := int(binary.BigEndian.Uint16(buf[1:3]))
		if dataSize != len(buf)-packetHeaderSize {
			return packetInvalid, nil
		}
		payload := buf[packetHeaderSize:]
		if buf[0] == packetTypeCompressedData {
			uncompressed, err := deflateUncompress(payload)
			if err != nil {
				return packetInvalid, nil
			}
			payload = uncompressed
		}
		return packetData, payload
	case packetTypeClose:
		return packetClose, nil
	case packetTypeKeepalive:
		return packetKeepalive, nil
	default:
		return packetInvalid, nil
	}
}
