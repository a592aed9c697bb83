package qtnetworkng

import (
	"context"
	"net"
	"time"
)

// SetReuseAddress makes the next Bind set SO_REUSEADDR on the endpoint.
func (s *KcpSocket) SetReuseAddress(reuse bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reuseAddr = reuse
}

// Bind creates the UDP endpoint on the given local address, e.g.
// "127.0.0.1:0" or ":4000". It fails on slaves and on sockets that are not
// unconnected.
func (s *KcpSocket) Bind(address string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isSlave || s.state != UnconnectedState {
		return false
	}
	if s.rawConn == nil {
		var lc net.ListenConfig
		if s.reuseAddr {
			lc.Control = reuseAddrControl
		}
		pc, err := lc.ListenPacket(context.Background(), "udp", address)
		if err != nil {
			s.setErrorLocked(DatagramError, err.Error())
			return false
		}
		s.rawConn = pc.(*net.UDPConn)
	}
	s.state = BoundState
	return true
}

// Connect resolves address ("host:port") and connects to it. No packets are
// exchanged: KCP over UDP has no handshake, the connection exists as soon as
// both ends agree to talk.
func (s *KcpSocket) Connect(address string) bool {
	addr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		s.mu.Lock()
		s.setErrorLocked(DatagramError, err.Error())
		s.mu.Unlock()
		return false
	}
	return s.ConnectUDP(addr)
}

// ConnectUDP connects to an already-resolved peer address. A socket bound
// beforehand keeps its local endpoint, otherwise an ephemeral one is
// created.
func (s *KcpSocket) ConnectUDP(addr *net.UDPAddr) bool {
	if addr == nil || addr.IP == nil || addr.Port == 0 {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isSlave || (s.state != UnconnectedState && s.state != BoundState) {
		return false
	}
	if s.rawConn == nil {
		conn, err := net.ListenUDP("udp", nil)
		if err != nil {
			s.setErrorLocked(DatagramError, err.Error())
			return false
		}
		s.rawConn = conn
	}
	s.remoteAddr = addr
	s.lastActiveTime = time.Now()
	s.state = ConnectedState
	s.startReceivingLocked()
	return true
}

// Listen turns a bound socket into a listener. backlog bounds the number of
// accepted-but-unclaimed slaves; connection attempts beyond it are silently
// ignored and left to the peer's retransmission.
func (s *KcpSocket) Listen(backlog int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isSlave || s.state != BoundState || backlog <= 0 {
		return false
	}
	s.state = ListeningState
	s.pending = newAcceptQueue(backlog)
	s.receivers = make(map[string]*KcpSocket)
	s.startReceivingLocked()
	return true
}

// Accept blocks until a new peer has been registered and returns its slave
// socket, or nil once the listener is closed.
func (s *KcpSocket) Accept() *KcpSocket {
	s.mu.Lock()
	if s.isSlave || s.state != ListeningState {
		s.mu.Unlock()
		return nil
	}
	s.startReceivingLocked()
	pending := s.pending
	s.mu.Unlock()
	return pending.get()
}

// startReceivingLocked spawns the datagram pump on first use: from Listen on
// a listener, from Connect or the first raw send on a client, so
// acknowledgements flow even before the application reads.
func (s *KcpSocket) startReceivingLocked() bool {
	if s.isSlave || s.recvStarted {
		return s.recvStarted
	}
	switch s.state {
	case ConnectedState:
		s.recvStarted = true
		s.recvDone = make(chan struct{})
		go s.doReceive(s.rawConn)
	case ListeningState:
		s.recvStarted = true
		s.recvDone = make(chan struct{})
		go s.doAccept(s.rawConn)
	default:
		return false
	}
	return true
}

// doReceive pumps datagrams into the single session of a connected client.
func (s *KcpSocket) doReceive(conn *net.UDPConn) {
	defer close(s.recvDone)
	buf := make([]byte, recvDatagramSize)
	for {
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			s.closeInternal(true, false)
			return
		}
		defaultStats.add(&defaultStats.DatagramsIn, 1)
		defaultStats.add(&defaultStats.BytesIn, uint64(n))
		// the source address is deliberately not checked against the
		// peer: some NATs rebind the server's apparent port mid-session
		if !s.handleDatagram(buf[:n]) {
			return
		}
	}
}

// doAccept pumps datagrams for a listener, demultiplexing them to the slave
// registered for the source address, or registering a new slave while the
// accept queue has room.
func (s *KcpSocket) doAccept(conn *net.UDPConn) {
	defer close(s.recvDone)
	buf := make([]byte, recvDatagramSize)
	for {
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			s.closeInternal(true, false)
			return
		}
		defaultStats.add(&defaultStats.DatagramsIn, 1)
		defaultStats.add(&defaultStats.BytesIn, uint64(n))
		datagram := buf[:n]
		key := udpAddrKey(addr)

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return
		}
		slave := s.receivers[key]
		var fresh *KcpSocket
		if slave == nil && s.state == ListeningState {
			if s.pending.len() < s.pending.capacity {
				fresh = newSlaveKcpSocket(s, addr)
				s.receivers[key] = fresh
				defaultStats.add(&defaultStats.SessionsAccepted, 1)
			} else {
				defaultStats.add(&defaultStats.SessionsDropped, 1)
			}
		}
		s.mu.Unlock()

		if slave != nil {
			if !slave.handleDatagram(datagram) {
				s.removeSlave(key)
			}
		} else if fresh != nil {
			fresh.handleDatagram(datagram)
			if !s.pending.put(fresh) {
				fresh.closeInternal(true, false)
			}
		}
	}
}

// newSlaveKcpSocket creates the per-peer session of a listener. It shares
// the listener's UDP endpoint and inherits its tuning. Called with the
// parent lock held.
func newSlaveKcpSocket(parent *KcpSocket, addr *net.UDPAddr) *KcpSocket {
	s := newKcpSocket()
	s.isSlave = true
	s.parent = parent
	s.parentConn = parent.rawConn
	s.remoteAddr = addr
	s.mode = parent.mode
	s.kcp.setMode(parent.mode)
	s.compression = parent.compression
	s.waterLine = parent.waterLine
	s.tearDownTime = parent.tearDownTime
	s.keepAliveInterval = parent.keepAliveInterval
	s.log = parent.log
	s.state = ConnectedState
	return s
}

// removeSlave drops a closed slave from the demultiplexing table.
func (s *KcpSocket) removeSlave(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.receivers != nil {
		delete(s.receivers, key)
	}
}
