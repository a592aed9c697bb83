package qtnetworkng

import (
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	// defaultWaterLine is the outstanding-segment threshold above which
	// senders start to block.
	defaultWaterLine = 32
	// defaultTearDownTime is how long a session survives without any
	// inbound datagram before it is forcibly closed.
	defaultTearDownTime = 30 * time.Second
	// defaultKeepAliveInterval bounds the gap between outbound datagrams;
	// an idle sender emits keepalive packets at this rate.
	defaultKeepAliveInterval = 5 * time.Second
	// sendBlockSize is the largest slice handed to KCP in one call.
	sendBlockSize = 1024 * 8
	// recvDatagramSize is the receive buffer for one UDP datagram.
	recvDatagramSize = 1024 * 64
)

// KcpSocket is a reliable, connection-oriented stream socket over UDP
// datagrams, with KCP providing retransmission, ordering and congestion
// control. A master socket owns the UDP endpoint and is used directly as a
// client (Connect) or a listener (Bind + Listen + Accept); a listener hands
// out slave sockets, one per remote peer, all sharing the listener's UDP
// endpoint.
//
// Payload bytes are delivered in order and without loss while the socket
// stays connected. All methods are safe for concurrent use.
type KcpSocket struct {
	mu sync.Mutex

	state     SocketState
	err       SocketError
	errString string
	closed    bool

	sendingQueueNotFull    *Event
	sendingQueueEmpty      *Event
	receivingQueueNotEmpty *Event
	receivingBuffer        []byte

	waterLine         int
	lastActiveTime    time.Time
	lastKeepaliveTime time.Time
	tearDownTime      time.Duration
	keepAliveInterval time.Duration

	kcp          *kcpControl
	updateTimer  *time.Timer
	timerVersion uint64

	remoteAddr  *net.UDPAddr
	mode        Mode
	compression bool
	log         *zap.SugaredLogger

	// master only
	rawConn     *net.UDPConn
	reuseAddr   bool
	receivers   map[string]*KcpSocket
	pending     *acceptQueue
	recvStarted bool
	recvDone    chan struct{}

	// slave only
	isSlave    bool
	parent     *KcpSocket
	parentConn *net.UDPConn
}

// NewKcpSocket creates an unconnected master socket. The UDP endpoint is
// created on the first Bind or Connect call.
func NewKcpSocket() *KcpSocket {
	return newKcpSocket()
}

// NewKcpSocketFromConn creates a master socket around an already-bound UDP
// endpoint. The socket starts in the bound state and takes ownership of the
// connection.
func NewKcpSocketFromConn(conn *net.UDPConn) *KcpSocket {
	s := newKcpSocket()
	s.rawConn = conn
	s.state = BoundState
	return s
}

func newKcpSocket() *KcpSocket {
	now := time.Now()
	s := &KcpSocket{
		state:                  UnconnectedState,
		sendingQueueNotFull:    NewEvent(),
		sendingQueueEmpty:      NewEvent(),
		receivingQueueNotEmpty: NewEvent(),
		waterLine:              defaultWaterLine,
		lastActiveTime:         now,
		lastKeepaliveTime:      now,
		tearDownTime:           defaultTearDownTime,
		keepAliveInterval:      defaultKeepAliveInterval,
		mode:                   Internet,
		log:                    zap.NewNop().Sugar(),
	}
	s.kcp = newKCPControl(s.outputSegment)
	s.kcp.setMode(s.mode)
	s.sendingQueueEmpty.Set()
	s.sendingQueueNotFull.Set()
	return s
}

// outputSegment is the KCP output callback. It always runs with the socket
// lock held, from within send, input or update. Failing to put a complete
// envelope on the wire force-closes the socket: KCP assumes its output
// either delivered the whole segment or the link is dead.
func (s *KcpSocket) outputSegment(segment []byte) {
	packet := encodeDataPacket(segment, s.compression)
	if packet == nil {
		s.forceCloseLocked()
		return
	}
	if s.rawSendLocked(packet) != len(packet) {
		s.forceCloseLocked()
	}
	GlobalBufPool.Free(packet)
}

// SetMode selects the KCP tuning preset. Listeners pass their mode on to
// accepted slaves.
func (s *KcpSocket) SetMode(mode Mode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mode = mode
	s.kcp.setMode(mode)
}

// Mode returns the current tuning preset.
func (s *KcpSocket) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// SetCompression enables DEFLATE compression of outbound data packets.
// Compressed packets are only emitted when compression actually shrinks the
// segment, so enabling it is always wire-compatible.
func (s *KcpSocket) SetCompression(compression bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.compression = compression
}

// Compression reports whether outbound compression is enabled.
func (s *KcpSocket) Compression() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.compression
}

// SetLogger attaches a logger. Accepted slaves inherit the listener's
// logger. The default is a nop logger.
func (s *KcpSocket) SetLogger(log *zap.SugaredLogger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if log != nil {
		s.log = log
	}
}

// SetWaterLine overrides the outstanding-segment threshold above which
// senders block.
func (s *KcpSocket) SetWaterLine(waterLine int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if waterLine > 0 {
		s.waterLine = waterLine
	}
}

// SetTearDownTime overrides the idle timeout after which the session is
// forcibly closed.
func (s *KcpSocket) SetTearDownTime(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d > 0 {
		s.tearDownTime = d
	}
}

// SetKeepAliveInterval overrides the maximum gap between outbound datagrams.
func (s *KcpSocket) SetKeepAliveInterval(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d > 0 {
		s.keepAliveInterval = d
	}
}

// State returns the current connection state.
func (s *KcpSocket) State() SocketState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsValid reports whether the socket can still be used for I/O.
func (s *KcpSocket) IsValid() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isValidLocked()
}

func (s *KcpSocket) isValidLocked() bool {
	if s.isSlave {
		return s.state == ConnectedState && s.parent != nil
	}
	return s.state == ConnectedState || s.state == BoundState ||
		s.state == ListeningState
}

// Error reports the final cause of a socket failure, or NoError.
func (s *KcpSocket) Error() SocketError {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != NoError {
		return s.err
	}
	if s.isSlave && s.parent == nil {
		return SocketAccessError
	}
	return NoError
}

// ErrorString returns a human readable description of Error.
func (s *KcpSocket) ErrorString() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.errString != "" {
		return s.errString
	}
	if s.err != NoError {
		return s.err.String()
	}
	if s.isSlave && s.parent == nil {
		return SocketAccessError.String()
	}
	return ""
}

func (s *KcpSocket) setErrorLocked(err SocketError, errString string) {
	if s.err == NoError {
		s.err = err
		s.errString = errString
	}
}

// LocalAddr returns the address of the UDP endpoint, or nil before Bind or
// Connect.
func (s *KcpSocket) LocalAddr() *net.UDPAddr {
	s.mu.Lock()
	conn := s.rawConn
	if s.isSlave {
		conn = s.parentConn
	}
	s.mu.Unlock()
	if conn == nil {
		return nil
	}
	addr, _ := conn.LocalAddr().(*net.UDPAddr)
	return addr
}

// PeerAddr returns the remote peer address, or nil when not connected.
func (s *KcpSocket) PeerAddr() *net.UDPAddr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remoteAddr
}

// PeerName returns the textual form of the remote peer address.
func (s *KcpSocket) PeerName() string {
	if addr := s.PeerAddr(); addr != nil {
		return addr.IP.String()
	}
	return ""
}

// PeerPort returns the remote peer port, or 0 when not connected.
func (s *KcpSocket) PeerPort() uint16 {
	if addr := s.PeerAddr(); addr != nil {
		return uint16(addr.Port)
	}
	return 0
}

// Send enqueues data for transmission and returns the number of bytes
// accepted, possibly less than len(data) once the first block is in. It
// returns -1 when the socket is or becomes invalid before any byte is
// accepted.
func (s *KcpSocket) Send(data []byte) int {
	sent := s.send(data, false)
	if sent == 0 && !s.IsValid() {
		return -1
	}
	return sent
}

// SendAll enqueues all of data, blocking as long as the socket stays valid.
// It returns len(data), or -1 if the socket became invalid first.
func (s *KcpSocket) SendAll(data []byte) int {
	return s.send(data, true)
}

// Recv copies up to len(buf) already-delivered bytes into buf, blocking
// while nothing is available. It returns the number of bytes copied, or -1
// when the socket is invalidated.
func (s *KcpSocket) Recv(buf []byte) int {
	return s.recv(buf, false)
}

// RecvAll blocks until len(buf) bytes are available and copies them into
// buf. It returns len(buf), or -1 when the socket is invalidated first.
func (s *KcpSocket) RecvAll(buf []byte) int {
	return s.recv(buf, true)
}

// RecvBytes reads at most size bytes and returns them, or nil when the
// socket is invalidated.
func (s *KcpSocket) RecvBytes(size int) []byte {
	buf := make([]byte, size)
	n := s.recv(buf, false)
	if n <= 0 {
		return nil
	}
	return buf[:n]
}

// RecvAllBytes reads exactly size bytes and returns them, or nil when the
// socket is invalidated first.
func (s *KcpSocket) RecvAllBytes(size int) []byte {
	buf := make([]byte, size)
	n := s.recv(buf, true)
	if n <= 0 {
		return nil
	}
	return buf[:n]
}

// Close shuts the socket down gracefully. On a connected socket the call
// blocks until every enqueued byte has been acknowledged, then notifies the
// peer; the peer observes all payload before it observes the shutdown. On a
// listener all slaves are closed. Close is idempotent.
func (s *KcpSocket) Close() bool {
	return s.closeInternal(false, true)
}

// ForceClose tears the socket down immediately. Enqueued but unacknowledged
// data is lost and the peer is not notified; it will time out on its own.
func (s *KcpSocket) ForceClose() bool {
	return s.closeInternal(true, true)
}

func (s *KcpSocket) send(data []byte, all bool) int {
	count := 0
	for count < len(data) {
		s.mu.Lock()
		if s.state != ConnectedState || (s.isSlave && s.parent == nil) {
			s.mu.Unlock()
			if count > 0 && !all {
				return count
			}
			return -1
		}
		blockSize := len(data) - count
		if blockSize > sendBlockSize {
			blockSize = sendBlockSize
		}
		result := s.kcp.send(data[count : count+blockSize])
		if result < 0 {
			if count > 0 && !all {
				s.mu.Unlock()
				return count
			}
			s.updateKcpLocked()
			empty := s.sendingQueueEmpty
			s.mu.Unlock()
			if !empty.Wait() {
				return -1
			}
		} else {
			count += blockSize
			s.updateKcpLocked()
			s.mu.Unlock()
		}
	}

	s.mu.Lock()
	if s.kcp.waitSnd() > s.waterLine*6/5 {
		s.sendingQueueNotFull.Clear()
	}
	notFull := s.sendingQueueNotFull
	s.mu.Unlock()
	if !notFull.Wait() {
		return -1
	}

	if !s.IsValid() && (all || count == 0) {
		return -1
	}
	return count
}

func (s *KcpSocket) recv(buf []byte, all bool) int {
	for {
		s.mu.Lock()
		// move every complete message out of KCP into the assembly
		// buffer, so ordering survives later force-closes
		for {
			peekSize := s.kcp.peekSize()
			if peekSize <= 0 {
				break
			}
			block := GlobalBufPool.Get(uint(peekSize))
			readBytes := s.kcp.recv(block)
			if readBytes > 0 {
				s.receivingBuffer = append(s.receivingBuffer, block[:readBytes]...)
			}
			GlobalBufPool.Free(block)
		}
		if len(s.receivingBuffer) > 0 {
			if !all || len(s.receivingBuffer) >= len(buf) {
				n := copy(buf, s.receivingBuffer)
				s.receivingBuffer = s.receivingBuffer[n:]
				s.mu.Unlock()
				return n
			}
		}
		if s.closed || !s.isValidLocked() {
			s.mu.Unlock()
			return -1
		}
		s.receivingQueueNotEmpty.Clear()
		notEmpty := s.receivingQueueNotEmpty
		s.mu.Unlock()
		if !notEmpty.Wait() {
			return -1
		}
	}
}

// handleDatagram feeds one raw datagram into the session. It is called from
// the receive loop of the owning master socket. The return value reports
// whether the session is still usable; a false return tells a listener to
// evict the slave.
func (s *KcpSocket) handleDatagram(buf []byte) bool {
	kind, payload := decodePacket(buf)
	switch kind {
	case packetData:
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return false
		}
		if result := s.kcp.input(payload); result < 0 {
			defaultStats.add(&defaultStats.InvalidDatagrams, 1)
			s.log.Debugw("invalid kcp segment dropped",
				"peer", s.remoteAddr, "result", result)
			s.mu.Unlock()
			return true
		}
		s.lastActiveTime = time.Now()
		s.receivingQueueNotEmpty.Set()
		s.updateKcpLocked()
		valid := !s.closed
		s.mu.Unlock()
		return valid
	case packetClose:
		s.mu.Lock()
		s.setErrorLocked(RemoteHostClosedError, RemoteHostClosedError.String())
		s.mu.Unlock()
		defaultStats.add(&defaultStats.RemoteCloses, 1)
		s.closeInternal(true, false)
		return false
	case packetKeepalive:
		s.mu.Lock()
		s.lastActiveTime = time.Now()
		s.mu.Unlock()
		defaultStats.add(&defaultStats.KeepalivesIn, 1)
		return true
	default:
		defaultStats.add(&defaultStats.InvalidDatagrams, 1)
		s.log.Debugw("invalid datagram dropped",
			"peer", s.remoteAddr, "size", len(buf))
		return true
	}
}

// updateKcpLocked drives one protocol step: teardown check, KCP update,
// keepalive emission, event recomputation and timer rescheduling. The caller
// holds the socket lock.
func (s *KcpSocket) updateKcpLocked() {
	if s.closed {
		return
	}

	now := time.Now()
	if now.Sub(s.lastActiveTime) > s.tearDownTime {
		s.log.Debugw("session torn down after idle timeout",
			"peer", s.remoteAddr, "idle", now.Sub(s.lastActiveTime))
		s.setErrorLocked(NetworkTimeoutError, NetworkTimeoutError.String())
		defaultStats.add(&defaultStats.TearDowns, 1)
		s.forceCloseLocked()
		return
	}

	s.kcp.update()
	if s.closed { // the output callback may have failed mid-update
		return
	}

	if now.Sub(s.lastKeepaliveTime) > s.keepAliveInterval {
		packet := encodeKeepalivePacket()
		if s.rawSendLocked(packet) != len(packet) {
			s.forceCloseLocked()
			return
		}
		defaultStats.add(&defaultStats.KeepalivesOut, 1)
	}

	sendingQueueSize := s.kcp.waitSnd()
	if sendingQueueSize <= 0 {
		s.sendingQueueEmpty.Set()
		s.sendingQueueNotFull.Set()
	} else {
		s.sendingQueueEmpty.Clear()
		if sendingQueueSize > s.waterLine {
			s.sendingQueueNotFull.Clear()
		} else {
			s.sendingQueueNotFull.Set()
		}
	}

	s.cancelUpdateTimerLocked()
	s.scheduleUpdateLocked()
}

// scheduleUpdateLocked arms the update timer for the deadline KCP asks for.
// At most one timer is outstanding per socket.
func (s *KcpSocket) scheduleUpdateLocked() {
	if s.closed || s.updateTimer != nil {
		return
	}
	version := s.timerVersion
	s.updateTimer = time.AfterFunc(s.kcp.checkDelay(), func() {
		s.onUpdateTimer(version)
	})
}

func (s *KcpSocket) onUpdateTimer(version uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || version != s.timerVersion || s.updateTimer == nil {
		return
	}
	s.updateTimer = nil
	s.timerVersion++
	s.updateKcpLocked()
}

func (s *KcpSocket) cancelUpdateTimerLocked() {
	if s.updateTimer != nil {
		s.updateTimer.Stop()
		s.updateTimer = nil
		s.timerVersion++
	}
}

// rawSendLocked puts one envelope on the wire, returning the number of
// bytes sent or -1. Any outbound traffic also counts as a keepalive. On a
// master the receive loop is started lazily here, so a client that sends
// first begins collecting acknowledgements immediately.
func (s *KcpSocket) rawSendLocked(packet []byte) int {
	s.lastKeepaliveTime = time.Now()

	conn := s.rawConn
	if s.isSlave {
		if s.parent == nil {
			return -1
		}
		conn = s.parentConn
	} else {
		s.startReceivingLocked()
	}
	if conn == nil || s.remoteAddr == nil {
		return -1
	}

	n, err := conn.WriteToUDP(packet, s.remoteAddr)
	if err != nil {
		return -1
	}
	defaultStats.add(&defaultStats.DatagramsOut, 1)
	defaultStats.add(&defaultStats.BytesOut, uint64(n))
	return n
}

// deferredClose is cross-socket cleanup collected under one lock and run
// after it is released, keeping the lock order socket-local.
type deferredClose struct {
	slaves  []*KcpSocket
	force   bool
	pending *acceptQueue
	parent  *KcpSocket
	peerKey string
}

func (d *deferredClose) empty() bool {
	return len(d.slaves) == 0 && d.pending == nil && d.parent == nil
}

func (d *deferredClose) run() {
	for _, slave := range d.slaves {
		slave.closeInternal(d.force, false)
	}
	if d.pending != nil {
		d.pending.close()
	}
	if d.parent != nil {
		d.parent.removeSlave(d.peerKey)
	}
}

// teardownLocked cancels the timer, releases the control block's transmit
// buffers, closes the owned UDP endpoint, releases every waiter and detaches
// from the parent. Cross-socket work is returned for the caller to run
// outside the lock.
func (s *KcpSocket) teardownLocked(force bool) deferredClose {
	s.closed = true
	s.cancelUpdateTimerLocked()
	s.kcp.release()
	if !s.isSlave && s.rawConn != nil {
		_ = s.rawConn.Close()
	}

	d := deferredClose{force: force}
	if s.receivers != nil {
		for _, slave := range s.receivers {
			d.slaves = append(d.slaves, slave)
		}
		s.receivers = nil
	}
	if s.pending != nil {
		d.pending = s.pending
	}
	if s.isSlave && s.parent != nil {
		d.parent = s.parent
		d.peerKey = udpAddrKey(s.remoteAddr)
		s.parent = nil
	}

	// release all pending send/recv/accept calls
	s.receivingQueueNotEmpty.Set()
	s.sendingQueueEmpty.Set()
	s.sendingQueueNotFull.Set()
	return d
}

// forceCloseLocked closes the socket from within a locked context (the
// update timer or the KCP output callback). Cross-socket cleanup is pushed
// to a goroutine because the current goroutine already holds this socket's
// lock.
func (s *KcpSocket) forceCloseLocked() {
	if s.closed {
		return
	}
	s.state = UnconnectedState
	d := s.teardownLocked(true)
	if !d.empty() {
		go d.run()
	}
}

func (s *KcpSocket) closeInternal(force, join bool) bool {
	s.mu.Lock()
	if s.closed || s.state == UnconnectedState {
		s.mu.Unlock()
		return true
	}

	prevState := s.state
	s.state = UnconnectedState

	if prevState == ConnectedState && !force {
		// push out everything already enqueued, wait for the last
		// acknowledgement, then tell the peer
		s.updateKcpLocked()
		empty := s.sendingQueueEmpty
		s.mu.Unlock()
		empty.Wait()
		s.mu.Lock()
		if !s.closed {
			s.rawSendLocked(encodeClosePacket())
		}
	}

	if prevState == ListeningState && s.receivers != nil {
		// slaves go first, while the shared endpoint still pumps their
		// acknowledgements; each one deregisters itself on the way out
		slaves := make([]*KcpSocket, 0, len(s.receivers))
		for _, slave := range s.receivers {
			slaves = append(slaves, slave)
		}
		s.mu.Unlock()
		for _, slave := range slaves {
			slave.closeInternal(force, false)
		}
		s.mu.Lock()
	}

	var d deferredClose
	if !s.closed {
		d = s.teardownLocked(force)
	}
	recvDone := s.recvDone
	s.mu.Unlock()

	d.run()
	if join && recvDone != nil {
		<-recvDone
	}
	return true
}
