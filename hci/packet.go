package hci

import "sync"

// Packet is an H4 framed HCI packet: the H4 type byte followed by the HCI
// packet. Whoever holds the *Packet owns its buffer; passing it on hands the
// buffer over, and no holder may keep a reference to the bytes afterwards.
//
// Packets built by the proxy carry a release hook which returns the buffer
// to its pool. The transport must call Release once the controller is done
// with the packet.
type Packet struct {
	b []byte

	once    sync.Once
	release func()
}

// NewPacket wraps b, which must start with the H4 type byte.
func NewPacket(b []byte) *Packet {
	return &Packet{b: b}
}

// NewPacketWithRelease wraps b and calls release the first time Release is called.
func NewPacketWithRelease(b []byte, release func()) *Packet {
	return &Packet{b: b, release: release}
}

// Type returns the H4 packet type, or PktTypeUnknown for an empty packet.
func (p *Packet) Type() uint8 {
	if len(p.b) == 0 {
		return PktTypeUnknown
	}
	return p.b[0]
}

// SetType overwrites the H4 type byte.
func (p *Packet) SetType(t uint8) {
	if len(p.b) > 0 {
		p.b[0] = t
	}
}

// H4 returns the whole packet including the type byte.
func (p *Packet) H4() []byte { return p.b }

// HCI returns the packet without the H4 type byte.
func (p *Packet) HCI() []byte {
	if len(p.b) == 0 {
		return nil
	}
	return p.b[H4HeaderLen:]
}

// Len is the H4 length of the packet.
func (p *Packet) Len() int { return len(p.b) }

// Cap is the capacity of the backing buffer.
func (p *Packet) Cap() int { return cap(p.b) }

// Resize changes the visible length of the packet within the capacity of the
// backing buffer.
func (p *Packet) Resize(n int) {
	if n > cap(p.b) {
		n = cap(p.b)
	}
	p.b = p.b[:n]
}

// Release hands the buffer back to its owner. Only the first call has an effect.
func (p *Packet) Release() {
	p.once.Do(func() {
		if p.release != nil {
			p.release()
		}
	})
}
