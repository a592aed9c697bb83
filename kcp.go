package qtnetworkng

import (
	"time"

	kcp "github.com/xtaci/kcp-go/v5"
)

// kcpConv is the conversation id carried in every KCP segment. Both ends of a
// connection must agree on it; this layer identifies peers by their UDP
// address instead, so a single well-known value serves every session.
const kcpConv = 0

// kcpControl wraps the raw KCP ARQ control block. All methods must be called
// with the owning socket lock held; the control block itself is not safe for
// concurrent use and its output callback fires synchronously from within
// send, input and update.
type kcpControl struct {
	kcp *kcp.KCP
}

// newKCPControl creates a control block bound to the given segment sink. The
// sink receives every outbound KCP segment, ready to be framed and put on
// the wire.
func newKCPControl(output func(segment []byte)) *kcpControl {
	c := new(kcpControl)
	c.kcp = kcp.NewKCP(kcpConv, func(buf []byte, size int) {
		if size > 0 {
			output(buf[:size])
		}
	})
	return c
}

// setMode applies one of the tuning presets. The Internet preset is the
// conservative default; Ethernet and Loopback assume links that carry large
// datagrams reliably and switch to nodelay mode with fast resend, large MTUs
// and narrower windows.
func (c *kcpControl) setMode(mode Mode) {
	switch mode {
	case Internet:
		c.kcp.NoDelay(0, 10, 0, 0)
		c.kcp.SetMtu(1400)
		c.kcp.WndSize(1024, 1024)
	case Ethernet:
		c.kcp.NoDelay(1, 10, 1, 1)
		c.kcp.SetMtu(16384)
		c.kcp.WndSize(64, 64)
	case Loopback:
		c.kcp.NoDelay(1, 10, 2, 1)
		c.kcp.SetMtu(32768)
		c.kcp.WndSize(32, 32)
	}
}

// send enqueues application bytes for transmission. A negative result means
// the control block refused the buffer and the caller should wait for the
// sending queue to drain.
func (c *kcpControl) send(data []byte) int {
	return c.kcp.Send(data)
}

// input feeds one inbound KCP segment. A negative result marks the segment
// as malformed; the datagram is dropped without touching session state.
func (c *kcpControl) input(segment []byte) int {
	return c.kcp.Input(segment, true, false)
}

// peekSize returns the size of the next complete inbound message, or a
// negative value when none is ready.
func (c *kcpControl) peekSize() int {
	return c.kcp.PeekSize()
}

// recv drains one inbound message into buf.
func (c *kcpControl) recv(buf []byte) int {
	return c.kcp.Recv(buf)
}

// waitSnd counts segments enqueued or in flight but not yet acknowledged.
func (c *kcpControl) waitSnd() int {
	return c.kcp.WaitSnd()
}

// update advances the protocol clock, transmitting and retransmitting as
// needed. The output callback may fire any number of times from inside.
func (c *kcpControl) update() {
	c.kcp.Update()
}

// release returns the transmit buffers to the allocator. The receive queue
// is left intact, so messages already delivered to the control block stay
// readable after teardown.
func (c *kcpControl) release() {
	c.kcp.ReleaseTX()
}

// kcp-go anchors its internal 32-bit millisecond clock to a monotonic
// reference taken at package initialization. This package anchors its own
// reference the same way; imported packages initialize first, so the two
// anchors lie within the same startup instant.
var kcpRefTime = time.Now()

func kcpCurrentMs() uint32 {
	return uint32(time.Since(kcpRefTime) / time.Millisecond)
}

// maxUpdateDelay caps how far ahead an update may be scheduled. Check never
// asks for more than one flush interval, so the cap only matters as a bound
// on residual skew between the two clock anchors.
const maxUpdateDelay = 100 * time.Millisecond

// checkDelay computes how long the caller may sleep before the next update
// is due. The subtraction is taken in the control block's 32-bit clock,
// where wrap-around is harmless.
func (c *kcpControl) checkDelay() time.Duration {
	delay := time.Duration(int32(c.kcp.Check()-kcpCurrentMs())) * time.Millisecond
	if delay < 0 {
		return 0
	}
	if delay > maxUpdateDelay {
		return maxUpdateDelay
	}
	return delay
}
