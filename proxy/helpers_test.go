package proxy

import (
	"encoding/binary"
	"sync"
	"testing"

	"github.com/rigado/bleproxy"
	"github.com/rigado/bleproxy/hci"
	"github.com/stretchr/testify/require"
)

// harness records what the proxy hands to either side.
type harness struct {
	t *testing.T
	p *Proxy

	mu           sync.Mutex
	toHost       []*hci.Packet
	toController []*hci.Packet
	// release controller packets as soon as they are sent, like a
	// transport that copies them out
	autoRelease bool
}

func newHarness(t *testing.T, opts ...bleproxy.Option) *harness {
	h := &harness{t: t, autoRelease: true}
	p, err := New(h.host, h.controller, opts...)
	require.NoError(t, err)
	h.p = p
	return h
}

func (h *harness) host(pkt *hci.Packet) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.toHost = append(h.toHost, pkt)
}

func (h *harness) controller(pkt *hci.Packet) {
	h.mu.Lock()
	h.toController = append(h.toController, pkt)
	release := h.autoRelease
	h.mu.Unlock()

	if release {
		pkt.Release()
	}
}

func (h *harness) hostPackets() []*hci.Packet {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*hci.Packet(nil), h.toHost...)
}

func (h *harness) controllerPackets() []*hci.Packet {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*hci.Packet(nil), h.toController...)
}

// initLE feeds an LE Read Buffer Size complete with total buffers of 251 bytes.
func (h *harness) initLE(total uint8) {
	h.p.HandleFromController(hci.NewPacket(leReadBufferSizeEvent(251, total)))
}

func (h *harness) initBrEdr(total uint16) {
	h.p.HandleFromController(hci.NewPacket(readBufferSizeEvent(1021, total)))
}

func leReadBufferSizeEvent(aclLen uint16, total uint8) []byte {
	b := []byte{hci.PktTypeEvent, 0x0e, 0x07, 0x01, 0x02, 0x20, 0x00, 0, 0, total}
	binary.LittleEndian.PutUint16(b[7:9], aclLen)
	return b
}

func readBufferSizeEvent(aclLen uint16, total uint16) []byte {
	b := []byte{hci.PktTypeEvent, 0x0e, 0x0b, 0x01, 0x05, 0x10, 0x00, 0, 0, 0x40, 0, 0, 0x08, 0x00}
	binary.LittleEndian.PutUint16(b[7:9], aclLen)
	binary.LittleEndian.PutUint16(b[10:12], total)
	return b
}

type nocpEntry struct {
	handle uint16
	count  uint16
}

func nocpEvent(entries ...nocpEntry) []byte {
	b := []byte{hci.PktTypeEvent, 0x13, byte(1 + 4*len(entries)), byte(len(entries))}
	for _, e := range entries {
		b = append(b, byte(e.handle), byte(e.handle>>8), byte(e.count), byte(e.count>>8))
	}
	return b
}

func disconnectionCompleteEvent(handle uint16) []byte {
	return []byte{hci.PktTypeEvent, 0x05, 0x04, 0x00, byte(handle), byte(handle >> 8), 0x13}
}

func aclPacket(handle uint16, pbf int, data []byte) []byte {
	b := make([]byte, hci.H4HeaderLen+hci.ACLHeaderLen+len(data))
	b[0] = hci.PktTypeACLData
	hci.PutACLHeader(b[1:], handle, pbf, len(data))
	copy(b[hci.H4HeaderLen+hci.ACLHeaderLen:], data)
	return b
}

func l2capFrame(cid uint16, payload []byte) []byte {
	b := make([]byte, hci.L2CAPHeaderLen+len(payload))
	hci.PutL2CAPHeader(b, len(payload), cid)
	copy(b[hci.L2CAPHeaderLen:], payload)
	return b
}

// l2capPacket is a complete B-frame from the controller.
func l2capPacket(handle, cid uint16, payload []byte) []byte {
	return aclPacket(handle, hci.PbfControllerToHostStart, l2capFrame(cid, payload))
}

func signalFrame(code, id uint8, data ...byte) []byte {
	b := make([]byte, hci.SignalHeaderLen+len(data))
	hci.PutSignal(b, code, id, data)
	return b
}

func le16(v uint16) []byte {
	return []byte{byte(v), byte(v >> 8)}
}

func cat(bs ...[]byte) []byte {
	var out []byte
	for _, b := range bs {
		out = append(out, b...)
	}
	return out
}

type eventRecorder struct {
	mu     sync.Mutex
	events []ChannelEvent
}

func (r *eventRecorder) fn(e ChannelEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *eventRecorder) get() []ChannelEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ChannelEvent(nil), r.events...)
}
