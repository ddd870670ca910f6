package proxy

import (
	"math"

	"github.com/pkg/errors"
	"github.com/rigado/bleproxy"
	"github.com/rigado/bleproxy/hci"
)

// LE credit based channel limits [Vol 3, Part A, 4.22].
const (
	minCocMTU = 23
	minCocMPS = 23
	maxCocMPS = 65533
)

// CocConfig holds one direction of an L2CAP connection oriented channel.
//
// For rx the values are the local device's: our CID, the largest SDU and
// K-frame we accept, and the credits handed to the peer so far. For tx they
// are the peer's: its CID, the largest SDU and K-frame we may send, and the
// credits we currently hold.
type CocConfig struct {
	CID     uint16
	MTU     uint16
	MPS     uint16
	Credits uint16
}

func (c CocConfig) valid() error {
	if c.CID == 0 {
		return errors.Wrap(bleproxy.ErrInvalidArgument, "cid can't be 0")
	}
	if c.MTU < minCocMTU {
		return errors.Wrapf(bleproxy.ErrInvalidArgument, "mtu %d below %d", c.MTU, minCocMTU)
	}
	if c.MPS < minCocMPS || c.MPS > maxCocMPS {
		return errors.Wrapf(bleproxy.ErrInvalidArgument, "mps %d outside %d-%d", c.MPS, minCocMPS, maxCocMPS)
	}
	return nil
}

// L2capCoc is an LE credit based connection oriented channel owned by the
// proxy. SDUs written to it are segmented into K-frames, one tx credit each;
// K-frames received are reassembled and handed to the receive callback.
type L2capCoc struct {
	*channel

	rx        CocConfig
	tx        CocConfig
	receiveFn func(sdu []byte)

	// bytes of the front SDU already sent
	txOffset int

	rxSdu       []byte
	rxRemaining int
}

func (c *L2capCoc) checkWrite(payload []byte) error {
	if len(payload) > int(c.tx.MTU) {
		return errors.Wrapf(bleproxy.ErrInvalidArgument, "sdu of %d bytes exceeds tx mtu %d", len(payload), c.tx.MTU)
	}
	return nil
}

func (c *L2capCoc) nextTxPacket() *hci.Packet {
	sdu := c.frontPayload()
	if sdu == nil || c.tx.Credits == 0 {
		return nil
	}

	max := c.p.maxL2capPayload(hci.TransportLE)
	if int(c.tx.MPS) < max {
		max = int(c.tx.MPS)
	}
	hdr := 0
	if c.txOffset == 0 {
		hdr = hci.SDULengthLen
	}
	n := len(sdu) - c.txOffset
	if n > max-hdr {
		n = max - hdr
	}

	pkt, payload := c.l2capPacket(hdr + n)
	if pkt == nil {
		return nil
	}
	if hdr > 0 {
		hci.KFrame(pkt.H4()[hci.H4HeaderLen+hci.ACLHeaderLen:]).SetSDULen(len(sdu))
	}
	copy(payload[hdr:], sdu[c.txOffset:c.txOffset+n])

	c.tx.Credits--
	c.txOffset += n
	if c.txOffset == len(sdu) {
		c.txOffset = 0
		c.popFront()
	}
	return pkt
}

func (c *L2capCoc) handlePdu(pdu hci.Pdu) bool {
	c.mu.Lock()
	sdu, err := c.rxKFrame(pdu)
	c.mu.Unlock()

	if err != nil {
		c.logger.Warnf("rx: %v", err)
		c.stopAndSendEvent(EventRxInvalid)
		return true
	}
	if sdu != nil && c.receiveFn != nil {
		c.receiveFn(sdu)
	}
	return true
}

// rxKFrame adds one K-frame and returns a complete SDU, if there is one.
func (c *L2capCoc) rxKFrame(pdu hci.Pdu) ([]byte, error) {
	p := pdu.Payload()
	if len(p) > int(c.rx.MPS) {
		return nil, errors.Errorf("k-frame of %d bytes exceeds rx mps %d", len(p), c.rx.MPS)
	}
	if c.rx.Credits == 0 {
		return nil, errors.New("k-frame received without rx credits")
	}
	c.rx.Credits--

	if c.rxSdu == nil {
		kf := hci.KFrame(pdu)
		if !kf.HasSDUHeader() {
			return nil, errors.New("first k-frame has no sdu length")
		}
		sduLen := kf.SDULen()
		if sduLen > int(c.rx.MTU) {
			return nil, errors.Errorf("sdu of %d bytes exceeds rx mtu %d", sduLen, c.rx.MTU)
		}
		data := kf.SDUData()
		switch {
		case len(data) > sduLen:
			return nil, errors.Errorf("k-frame carries %d bytes of a %d byte sdu", len(data), sduLen)
		case len(data) == sduLen:
			return data, nil
		}
		c.rxSdu = make([]byte, 0, sduLen)
		c.rxSdu = append(c.rxSdu, data...)
		c.rxRemaining = sduLen - len(data)
		return nil, nil
	}

	if len(p) > c.rxRemaining {
		c.rxSdu = nil
		return nil, errors.Errorf("k-frame overruns sdu by %d bytes", len(p)-c.rxRemaining)
	}
	c.rxSdu = append(c.rxSdu, p...)
	c.rxRemaining -= len(p)
	if c.rxRemaining > 0 {
		return nil, nil
	}
	sdu := c.rxSdu
	c.rxSdu = nil
	return sdu, nil
}

// addTxCredits is called for an LE Flow Control Credit Ind from the peer.
func (c *L2capCoc) addTxCredits(n uint16) {
	c.mu.Lock()
	if uint32(c.tx.Credits)+uint32(n) > math.MaxUint16 {
		c.logger.Warnf("peer credits overflow: %d + %d", c.tx.Credits, n)
		c.tx.Credits = math.MaxUint16
	} else {
		c.tx.Credits += n
	}
	c.mu.Unlock()

	c.p.drain()
}

// SendAdditionalRxCredits grants the peer n more K-frames.
func (c *L2capCoc) SendAdditionalRxCredits(n uint16) error {
	c.mu.Lock()
	if c.state != StateRunning {
		c.mu.Unlock()
		return errors.Wrapf(bleproxy.ErrFailedPrecondition, "channel is %v", c.state)
	}
	// Count the credits before the peer can use them.
	c.rx.Credits += n
	c.mu.Unlock()

	if err := c.p.sendFlowControlCreditInd(c.handle, c.localCID, n); err != nil {
		c.mu.Lock()
		if c.rx.Credits >= n {
			c.rx.Credits -= n
		} else {
			c.rx.Credits = 0
		}
		c.mu.Unlock()
		return err
	}
	return nil
}

// TxCredits returns the K-frames that can be sent before the peer grants more.
func (c *L2capCoc) TxCredits() uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tx.Credits
}

// RxCredits returns the K-frames the peer may still send.
func (c *L2capCoc) RxCredits() uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rx.Credits
}
