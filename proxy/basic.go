package proxy

import (
	"github.com/pkg/errors"
	"github.com/rigado/bleproxy"
	"github.com/rigado/bleproxy/hci"
)

// BasicL2capChannel carries B-frames on a fixed or dynamically assigned CID.
// Each payload written becomes one B-frame.
type BasicL2capChannel struct {
	*channel

	fromControllerFn func(payload []byte) bool
}

func (c *BasicL2capChannel) checkWrite(payload []byte) error {
	if max := c.p.maxL2capPayload(c.transport); len(payload) > max {
		return errors.Wrapf(bleproxy.ErrInvalidArgument, "payload of %d bytes exceeds %d", len(payload), max)
	}
	return nil
}

func (c *BasicL2capChannel) nextTxPacket() *hci.Packet {
	b := c.frontPayload()
	if b == nil {
		return nil
	}
	pkt, payload := c.l2capPacket(len(b))
	if pkt == nil {
		return nil
	}
	copy(payload, b)
	c.popFront()
	return pkt
}

// handlePdu hands the payload to the client; false sends the PDU on to the host.
func (c *BasicL2capChannel) handlePdu(pdu hci.Pdu) bool {
	if c.fromControllerFn == nil {
		return false
	}
	return c.fromControllerFn(pdu.Payload())
}
