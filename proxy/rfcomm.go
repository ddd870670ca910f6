package proxy

import (
	"math"

	"github.com/pkg/errors"
	"github.com/rigado/bleproxy"
	"github.com/rigado/bleproxy/hci"
)

// RFCOMM UIH framing [TS 07.10, 5.2] as profiled by Bluetooth RFCOMM.
const (
	rfcommCtrlUIH    = 0xEF
	rfcommCtrlPF     = 0x10
	rfcommAddrEA     = 0x01
	rfcommAddrCR     = 0x02
	rfcommLenEA      = 0x01
	rfcommMaxLen7    = 0x7F
	rfcommOverhead   = 2 + 2 + 1 + 1 // address and control, long length, credits, fcs
	rfcommMinChannel = 1
	rfcommMaxChannel = 30
)

// RfcommConfig holds one direction of an RFCOMM channel. For rx: our L2CAP
// CID, the largest information field we accept and the credits we grant the
// peer. For tx: the peer's L2CAP CID, the largest information field it
// accepts and the credits it granted us.
type RfcommConfig struct {
	CID                  uint16
	MaxInformationLength uint16
	Credits              uint16
}

// RfcommChannel exchanges UIH frames on one DLCI of an RFCOMM session the
// host already established, using credit based flow control.
type RfcommChannel struct {
	*channel

	rx            RfcommConfig
	tx            RfcommConfig
	channelNumber uint8
	receiveFn     func(payload []byte)

	txCredits uint16
	// credits the peer still holds
	rxCredits uint16
	// an empty frame returning credits is owed to the peer
	creditFramePending bool
}

func (c *RfcommChannel) dlci() uint8 {
	return c.channelNumber << 1
}

func (c *RfcommChannel) checkWrite(payload []byte) error {
	if len(payload) > int(c.tx.MaxInformationLength) {
		return errors.Wrapf(bleproxy.ErrInvalidArgument, "payload of %d bytes exceeds max information length %d", len(payload), c.tx.MaxInformationLength)
	}
	if max := c.p.maxL2capPayload(c.transport) - rfcommOverhead; len(payload) > max {
		return errors.Wrapf(bleproxy.ErrInvalidArgument, "payload of %d bytes exceeds %d", len(payload), max)
	}
	return nil
}

// creditsToGrant returns how many credits to return to the peer in the next frame.
func (c *RfcommChannel) creditsToGrant() uint8 {
	if c.rxCredits >= c.rx.Credits {
		return 0
	}
	n := c.rx.Credits - c.rxCredits
	if n > math.MaxUint8 {
		n = math.MaxUint8
	}
	return uint8(n)
}

func (c *RfcommChannel) nextTxPacket() *hci.Packet {
	if payload := c.frontPayload(); payload != nil && c.txCredits > 0 {
		grant := c.creditsToGrant()
		pkt := c.uihFrame(payload, grant)
		if pkt == nil {
			return nil
		}
		c.txCredits--
		c.rxCredits += uint16(grant)
		c.creditFramePending = false
		c.popFront()
		return pkt
	}

	if !c.creditFramePending {
		return nil
	}
	grant := c.creditsToGrant()
	if grant == 0 {
		c.creditFramePending = false
		return nil
	}
	// A frame without information doesn't use a tx credit.
	pkt := c.uihFrame(nil, grant)
	if pkt == nil {
		return nil
	}
	c.rxCredits += uint16(grant)
	c.creditFramePending = false
	return pkt
}

func (c *RfcommChannel) uihFrame(info []byte, credits uint8) *hci.Packet {
	n := len(info)
	hl := 3
	if n > rfcommMaxLen7 {
		hl++
	}
	if credits > 0 {
		hl++
	}

	pkt, b := c.l2capPacket(hl + n + 1)
	if pkt == nil {
		return nil
	}

	b[0] = c.dlci()<<2 | rfcommAddrCR | rfcommAddrEA
	b[1] = rfcommCtrlUIH
	if credits > 0 {
		b[1] |= rfcommCtrlPF
	}
	i := 2
	if n > rfcommMaxLen7 {
		b[i] = byte(n<<1) &^ rfcommLenEA
		b[i+1] = byte(n >> 7)
		i += 2
	} else {
		b[i] = byte(n<<1) | rfcommLenEA
		i++
	}
	if credits > 0 {
		b[i] = credits
		i++
	}
	i += copy(b[i:], info)
	b[i] = rfcommFCS(b[:2])
	return pkt
}

// handlePdu takes UIH frames for the channel's DLCI. Anything else on the
// L2CAP channel, the multiplexer control channel included, goes to the host.
func (c *RfcommChannel) handlePdu(pdu hci.Pdu) bool {
	b := pdu.Payload()
	if len(b) < 2 || b[0]>>3 != c.channelNumber || b[1]&^rfcommCtrlPF != rfcommCtrlUIH {
		return false
	}

	c.mu.Lock()
	info, credits, err := c.parseUIH(b)
	var drain bool
	if err == nil {
		if credits > 0 {
			if uint32(c.txCredits)+uint32(credits) > math.MaxUint16 {
				c.txCredits = math.MaxUint16
			} else {
				c.txCredits += uint16(credits)
			}
			drain = true
		}
		if len(info) > 0 {
			if c.rxCredits == 0 {
				c.logger.Warn("rfcomm frame received without rx credits")
			} else {
				c.rxCredits--
			}
		}
		if c.rxCredits < c.rx.Credits/2 && !c.creditFramePending {
			c.creditFramePending = true
			drain = true
		}
	}
	c.mu.Unlock()

	if err != nil {
		c.logger.Warnf("rx: %v", err)
		c.stopAndSendEvent(EventRxInvalid)
		return true
	}
	if len(info) > 0 && c.receiveFn != nil {
		c.receiveFn(info)
	}
	if drain {
		c.p.drain()
	}
	return true
}

func (c *RfcommChannel) parseUIH(b []byte) (info []byte, credits uint8, err error) {
	if len(b) < 4 {
		return nil, 0, errors.Errorf("frame of %d bytes too short", len(b))
	}
	if b[0]&rfcommAddrEA == 0 {
		return nil, 0, errors.New("address field extends past one byte")
	}

	i := 2
	var n int
	if b[i]&rfcommLenEA != 0 {
		n = int(b[i] >> 1)
		i++
	} else {
		if len(b) < 5 {
			return nil, 0, errors.Errorf("frame of %d bytes too short", len(b))
		}
		n = int(b[i]>>1) | int(b[i+1])<<7
		i += 2
	}
	if b[1]&rfcommCtrlPF != 0 {
		if len(b) < i+1 {
			return nil, 0, errors.New("credit field missing")
		}
		credits = b[i]
		i++
	}

	if len(b) != i+n+1 {
		return nil, 0, errors.Errorf("length field %d doesn't match %d byte frame", n, len(b))
	}
	if fcs := rfcommFCS(b[:2]); b[i+n] != fcs {
		return nil, 0, errors.Errorf("bad fcs 0x%02x, want 0x%02x", b[i+n], fcs)
	}
	if n > int(c.rx.MaxInformationLength) {
		return nil, 0, errors.Errorf("information field of %d bytes exceeds %d", n, c.rx.MaxInformationLength)
	}
	return b[i : i+n], credits, nil
}

// TxCredits returns the frames that can be sent before the peer grants more.
func (c *RfcommChannel) TxCredits() uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.txCredits
}

// crc8Table is the reflected CRC-8 with polynomial x^8+x^2+x+1 [TS 07.10, 5.2.1.6].
var crc8Table = func() (t [256]byte) {
	for i := range t {
		c := byte(i)
		for j := 0; j < 8; j++ {
			if c&1 != 0 {
				c = c>>1 ^ 0xE0
			} else {
				c >>= 1
			}
		}
		t[i] = c
	}
	return t
}()

// rfcommFCS is computed over address and control for UIH frames.
func rfcommFCS(b []byte) byte {
	fcs := byte(0xFF)
	for _, v := range b {
		fcs = crc8Table[fcs^v]
	}
	return 0xFF - fcs
}
