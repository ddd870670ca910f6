package proxy

import (
	"github.com/rigado/bleproxy/hci"
)

// pool is a fixed set of equally sized tx buffers. Every buffer handed out
// comes back through the packet's release hook, which then asks for a drain
// since a send may have been waiting on a buffer.
type pool struct {
	size  int
	count int
	free  chan []byte
	drain func()
}

func newPool(count, size int, drain func()) *pool {
	p := &pool{
		size:  size,
		count: count,
		free:  make(chan []byte, count),
		drain: drain,
	}
	for i := 0; i < count; i++ {
		p.free <- make([]byte, size)
	}
	return p
}

// Reserve hands out a buffer as an ACL packet of full buffer length. onRelease,
// if set, runs after the buffer is back in the pool and before the drain.
func (p *pool) Reserve(onRelease func()) (*hci.Packet, bool) {
	var b []byte
	select {
	case b = <-p.free:
	default:
		return nil, false
	}

	pkt := hci.NewPacketWithRelease(b[:p.size], func() {
		p.free <- b[:p.size]
		if onRelease != nil {
			onRelease()
		}
		if p.drain != nil {
			p.drain()
		}
	})
	pkt.SetType(hci.PktTypeACLData)
	return pkt, true
}

func (p *pool) Size() int  { return p.size }
func (p *pool) Count() int { return p.count }
func (p *pool) Free() int  { return len(p.free) }
