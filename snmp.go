package qtnetworkng

import "sync/atomic"

// Stats aggregates transfer counters across every socket in the process.
// All fields are updated atomically; read them through SnapshotStats.
type Stats struct {
	DatagramsIn      uint64 // datagrams received from the endpoint
	DatagramsOut     uint64 // datagrams put on the wire
	BytesIn          uint64 // raw bytes received, envelopes included
	BytesOut         uint64 // raw bytes sent, envelopes included
	InvalidDatagrams uint64 // datagrams dropped by envelope or KCP validation
	KeepalivesIn     uint64 // keepalive packets received
	KeepalivesOut    uint64 // keepalive packets emitted
	RemoteCloses     uint64 // close packets received
	TearDowns        uint64 // sessions closed by the idle timeout
	SessionsAccepted uint64 // slaves registered by listeners
	SessionsDropped  uint64 // connection attempts ignored over backlog
}

var defaultStats Stats

func (s *Stats) add(counter *uint64, delta uint64) {
	atomic.AddUint64(counter, delta)
}

// SnapshotStats returns a consistent-enough copy of the process-wide
// counters.
func SnapshotStats() Stats {
	return Stats{
		DatagramsIn:      atomic.LoadUint64(&defaultStats.DatagramsIn),
		DatagramsOut:     atomic.LoadUint64(&defaultStats.DatagramsOut),
		BytesIn:          atomic.LoadUint64(&defaultStats.BytesIn),
		BytesOut:         atomic.LoadUint64(&defaultStats.BytesOut),
		InvalidDatagrams: atomic.LoadUint64(&defaultStats.InvalidDatagrams),
		KeepalivesIn:     atomic.LoadUint64(&defaultStats.KeepalivesIn),
		KeepalivesOut:    atomic.LoadUint64(&defaultStats.KeepalivesOut),
		RemoteCloses:     atomic.LoadUint64(&defaultStats.RemoteCloses),
		TearDowns:        atomic.LoadUint64(&defaultStats.TearDowns),
		SessionsAccepted: atomic.LoadUint64(&defaultStats.SessionsAccepted),
		SessionsDropped:  atomic.LoadUint64(&defaultStats.SessionsDropped),
	}
}
