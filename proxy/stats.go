package proxy

import (
	"sync/atomic"

	"github.com/rigado/bleproxy/hci"
)

type counters struct {
	packetsSent        uint64
	packetsConsumed    uint64
	packetsForwarded   uint64
	fragmentViolations uint64
	malformed          uint64
	resets             uint64
}

// Stats is a snapshot of the proxy's counters and resources.
type Stats struct {
	PacketsSent        uint64
	PacketsConsumed    uint64
	PacketsForwarded   uint64
	FragmentViolations uint64
	MalformedPackets   uint64
	CreditClamps       uint64
	Resets             uint64

	ChannelsOpen  int
	FreeTxBuffers int
	LeCredits     uint16
	LeReserved    uint16
	BrEdrCredits  uint16
	BrEdrReserved uint16
}

func (p *Proxy) Stats() Stats {
	return Stats{
		PacketsSent:        atomic.LoadUint64(&p.stats.packetsSent),
		PacketsConsumed:    atomic.LoadUint64(&p.stats.packetsConsumed),
		PacketsForwarded:   atomic.LoadUint64(&p.stats.packetsForwarded),
		FragmentViolations: atomic.LoadUint64(&p.stats.fragmentViolations),
		MalformedPackets:   atomic.LoadUint64(&p.stats.malformed),
		CreditClamps:       p.ledger.Clamps(),
		Resets:             atomic.LoadUint64(&p.stats.resets),

		ChannelsOpen:  p.registry.Len(),
		FreeTxBuffers: p.pool.Free(),
		LeCredits:     p.ledger.Available(hci.TransportLE),
		LeReserved:    p.ledger.Reserved(hci.TransportLE),
		BrEdrCredits:  p.ledger.Available(hci.TransportBREDR),
		BrEdrReserved: p.ledger.Reserved(hci.TransportBREDR),
	}
}
