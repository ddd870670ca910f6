package proxy

import (
	"encoding/binary"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/rigado/bleproxy/hci"
	"github.com/rigado/bleproxy/hci/evt"
)

type handlerFn func(b []byte) error

func (p *Proxy) initHandlers() {
	p.evth = map[int]handlerFn{}
	p.cmdh = map[uint16]handlerFn{}

	p.evth[evt.CommandCompleteCode] = p.handleCommandComplete
	p.evth[evt.NumberOfCompletedPacketsCode] = p.handleNumberOfCompletedPackets
	p.evth[evt.DisconnectionCompleteCode] = p.handleDisconnectionComplete

	p.cmdh[hci.OpLEReadBufferSizeV1] = p.handleLEReadBufferSize
	p.cmdh[hci.OpLEReadBufferSizeV2] = p.handleLEReadBufferSizeV2
	p.cmdh[hci.OpReadBufferSize] = p.handleReadBufferSize
}

// HandleFromController takes a packet from the controller. It is either
// consumed by the proxy or passed to the host, possibly modified in place.
func (p *Proxy) HandleFromController(pkt *hci.Packet) {
	switch pkt.Type() {
	case hci.PktTypeEvent:
		if err := p.handleEvent(pkt.HCI()); err != nil {
			atomic.AddUint64(&p.stats.malformed, 1)
			p.reportError(errors.Wrap(err, "event from controller"))
		}
	case hci.PktTypeACLData:
		if p.handleAclFromController(pkt) {
			return
		}
	}
	p.toHost(pkt)
}

// HandleFromHost takes a packet from the host. Everything goes on to the
// controller; the proxy only watches.
func (p *Proxy) HandleFromHost(pkt *hci.Packet) {
	switch pkt.Type() {
	case hci.PktTypeCommand:
		b := pkt.HCI()
		if len(b) >= hci.CmdHeaderLen && binary.LittleEndian.Uint16(b) == hci.OpReset {
			p.Reset()
		}
	case hci.PktTypeACLData:
		p.observeAclFromHost(hci.ACL(pkt.HCI()))
	}
	p.toController(pkt)
}

func (p *Proxy) toHost(pkt *hci.Packet) {
	atomic.AddUint64(&p.stats.packetsForwarded, 1)
	p.sendToHost(pkt)
}

func (p *Proxy) toController(pkt *hci.Packet) {
	atomic.AddUint64(&p.stats.packetsForwarded, 1)
	p.sendToController(pkt)
}

func (p *Proxy) consume(pkt *hci.Packet) {
	atomic.AddUint64(&p.stats.packetsConsumed, 1)
	pkt.Release()
}

func (p *Proxy) handleEvent(b []byte) error {
	e := evt.Event(b)
	code, err := e.CodeWErr()
	if err != nil {
		return err
	}
	f := p.evth[int(code)]
	if f == nil {
		return nil
	}
	params, err := e.ParamsWErr()
	if err != nil {
		return errors.Wrapf(err, "event 0x%02x", code)
	}
	return f(params)
}

func (p *Proxy) handleCommandComplete(b []byte) error {
	e := evt.CommandComplete(b)
	op, err := e.CommandOpcodeWErr()
	if err != nil {
		return err
	}
	f := p.cmdh[op]
	if f == nil {
		return nil
	}
	rp, err := e.ReturnParametersWErr()
	if err != nil {
		return errors.Wrapf(err, "command complete 0x%04x", op)
	}
	return f(rp)
}

func (p *Proxy) handleLEReadBufferSize(b []byte) error {
	rp := evt.LEReadBufferSizeRP(b)
	if err := rp.ValidWErr(); err != nil {
		return errors.Wrap(err, "le read buffer size")
	}
	if status, _ := rp.StatusWErr(); status != 0x00 {
		return nil
	}
	l, _ := rp.LEACLDataPacketLengthWErr()
	n, _ := rp.TotalNumLEACLDataPacketsWErr()
	return p.reserveLE(l, n, rp.SetTotalNumLEACLDataPacketsWErr)
}

func (p *Proxy) handleLEReadBufferSizeV2(b []byte) error {
	rp := evt.LEReadBufferSizeV2RP(b)
	if err := rp.ValidWErr(); err != nil {
		return errors.Wrap(err, "le read buffer size v2")
	}
	if status, _ := rp.StatusWErr(); status != 0x00 {
		return nil
	}
	l, _ := rp.LEACLDataPacketLengthWErr()
	n, _ := rp.TotalNumLEACLDataPacketsWErr()
	return p.reserveLE(l, n, rp.SetTotalNumLEACLDataPacketsWErr)
}

func (p *Proxy) reserveLE(aclLen uint16, total uint8, set func(uint8) error) error {
	host := p.ledger.Reserve(hci.TransportLE, uint16(total))
	atomic.StoreUint32(&p.aclDataLen[hci.TransportLE], uint32(aclLen))
	if err := set(uint8(host)); err != nil {
		return err
	}
	p.logger.Debugf("le acl buffers: %d of %d bytes, host gets %d", total, aclLen, host)
	p.drain()
	return nil
}

func (p *Proxy) handleReadBufferSize(b []byte) error {
	rp := evt.ReadBufferSizeRP(b)
	if err := rp.ValidWErr(); err != nil {
		return errors.Wrap(err, "read buffer size")
	}
	if status, _ := rp.StatusWErr(); status != 0x00 {
		return nil
	}
	l, _ := rp.ACLDataPacketLengthWErr()
	n, _ := rp.TotalNumACLDataPacketsWErr()

	host := p.ledger.Reserve(hci.TransportBREDR, n)
	atomic.StoreUint32(&p.aclDataLen[hci.TransportBREDR], uint32(l))
	if err := rp.SetTotalNumACLDataPacketsWErr(host); err != nil {
		return err
	}
	p.logger.Debugf("bredr acl buffers: %d of %d bytes, host gets %d", n, l, host)
	p.drain()
	return nil
}

func (p *Proxy) handleNumberOfCompletedPackets(b []byte) error {
	n, err := p.ledger.ProcessNumberOfCompletedPackets(evt.NumberOfCompletedPackets(b))
	if n > 0 {
		p.drain()
	}
	return err
}

func (p *Proxy) handleDisconnectionComplete(b []byte) error {
	e := evt.DisconnectionComplete(b)
	if err := e.ValidWErr(); err != nil {
		return err
	}
	if status, _ := e.StatusWErr(); status != 0x00 {
		return nil
	}
	handle, _ := e.ConnectionHandleWErr()
	reason, _ := e.ReasonWErr()
	p.logger.Debugf("handle 0x%04x disconnected, reason 0x%02x", handle, reason)

	for _, ch := range p.registry.OnHandle(handle) {
		ch.closedByOther()
	}
	p.frag.ResetHandle(handle)
	if n := p.ledger.Disconnect(handle); n > 0 {
		p.logger.Debugf("handle 0x%04x: reclaimed %d credits", handle, n)
		p.drain()
	}
	p.sig.Disconnect(handle)
	return nil
}

func isSignaling(cid uint16) bool {
	return cid == hci.CidSignaling || cid == hci.CidLESignaling
}

// handleAclFromController returns true if pkt was consumed.
func (p *Proxy) handleAclFromController(pkt *hci.Packet) bool {
	acl := hci.ACL(pkt.HCI())
	if !acl.Valid() {
		atomic.AddUint64(&p.stats.malformed, 1)
		p.reportError(errors.Errorf("malformed acl from controller [% x]", pkt.H4()))
		return false
	}
	handle := acl.Handle()

	res := p.frag.Process(hci.FromController, acl)
	if res.flush != nil {
		p.toHost(recombinedPacket(handle, res.flush))
	}
	pdu, owner := res.pdu, res.ch
	switch res.action {
	case fragPass:
		return false
	case fragHeld:
		p.consume(pkt)
		return true
	}

	if owner != nil {
		// The recombined PDU is already out of pkt.
		p.consume(pkt)
		if !owner.handlePduFromController(pdu) {
			p.toHost(recombinedPacket(handle, pdu))
		}
		return true
	}

	cid := pdu.CID()
	var consumed bool
	if isSignaling(cid) {
		consumed = p.sig.HandlePdu(handle, hci.FromController, pdu)
	} else if ch := p.registry.FindByLocalCID(handle, cid); ch != nil {
		consumed = ch.handlePduFromController(pdu)
	}
	if consumed {
		p.consume(pkt)
	}
	return consumed
}

// recombinedPacket wraps a PDU recombined from fragments, or the leading
// bytes of one, into one ACL start packet for the host.
func recombinedPacket(handle uint16, pdu hci.Pdu) *hci.Packet {
	b := make([]byte, hci.H4HeaderLen+hci.ACLHeaderLen+len(pdu))
	b[0] = hci.PktTypeACLData
	hci.PutACLHeader(b[hci.H4HeaderLen:], handle, hci.PbfControllerToHostStart, len(pdu))
	copy(b[hci.H4HeaderLen+hci.ACLHeaderLen:], pdu)
	return hci.NewPacket(b)
}

func (p *Proxy) observeAclFromHost(acl hci.ACL) {
	if !acl.Valid() {
		atomic.AddUint64(&p.stats.malformed, 1)
		p.reportError(errors.New("malformed acl from host"))
		return
	}
	res := p.frag.Process(hci.FromHost, acl)
	if res.action != fragComplete || !isSignaling(res.pdu.CID()) {
		return
	}
	// Host traffic is never dropped, whatever the snooper makes of it.
	p.sig.HandlePdu(acl.Handle(), hci.FromHost, res.pdu)
}
