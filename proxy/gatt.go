package proxy

import (
	"github.com/pkg/errors"
	"github.com/rigado/bleproxy"
	"github.com/rigado/bleproxy/hci"
)

// GattNotifyChannel sends ATT Handle Value Notifications for one attribute.
// Notifications are not queued: each Write either goes to the controller at
// once or fails.
type GattNotifyChannel struct {
	p               *Proxy
	handle          uint16
	attributeHandle uint16
}

// AcquireGattNotifyChannel returns a channel for notifications of
// attributeHandle on the LE connection handle.
func (p *Proxy) AcquireGattNotifyChannel(handle, attributeHandle uint16) (*GattNotifyChannel, error) {
	if err := validNotify(handle, attributeHandle); err != nil {
		return nil, err
	}
	return &GattNotifyChannel{p: p, handle: handle, attributeHandle: attributeHandle}, nil
}

func (g *GattNotifyChannel) Handle() uint16          { return g.handle }
func (g *GattNotifyChannel) AttributeHandle() uint16 { return g.attributeHandle }

// Write sends value as one notification.
func (g *GattNotifyChannel) Write(value []byte) error {
	return g.p.SendGattNotify(g.handle, g.attributeHandle, value)
}

func validNotify(handle, attributeHandle uint16) error {
	if err := validHandle(handle); err != nil {
		return err
	}
	if attributeHandle == 0 {
		return errors.Wrap(bleproxy.ErrInvalidArgument, "attribute handle can't be 0")
	}
	return nil
}

// maxNotifyValue is the largest value that fits one tx buffer.
func (p *Proxy) maxNotifyValue() int {
	return p.pool.Size() - hci.L2CAPOverhead - hci.ATTNotifyHdrLen
}

// SendGattNotify sends a Handle Value Notification [Vol 3, Part F, 3.4.7.1]
// on the LE ATT channel. Only one notification per connection and attribute
// can be outstanding; a second one fails with ErrUnavailable until the
// controller has released the first packet.
func (p *Proxy) SendGattNotify(handle, attributeHandle uint16, value []byte) error {
	if err := validNotify(handle, attributeHandle); err != nil {
		return err
	}
	if max := p.maxNotifyValue(); len(value) > max {
		return errors.Wrapf(bleproxy.ErrInvalidArgument, "value of %d bytes exceeds %d", len(value), max)
	}

	key := notifyKey{handle: handle, attribute: attributeHandle}
	p.mu.Lock()
	if _, ok := p.pendingNotify[key]; ok {
		p.mu.Unlock()
		return errors.Wrapf(bleproxy.ErrUnavailable, "notification for 0x%04x still outstanding", attributeHandle)
	}
	p.pendingNotify[key] = struct{}{}
	p.mu.Unlock()

	done := func() {
		p.mu.Lock()
		delete(p.pendingNotify, key)
		p.mu.Unlock()
	}

	err := p.sendDirect(handle, hci.TransportLE, done, func(b []byte) (int, error) {
		payload, total, err := hci.PutL2CAPPacket(b, handle, hci.CidLEAtt, hci.ATTNotifyHdrLen+len(value))
		if err != nil {
			return 0, err
		}
		hci.PutHandleValueNotification(payload, attributeHandle, value)
		return total, nil
	})
	if err != nil {
		// a packet that was built and released already cleared the key
		done()
		return errors.Wrap(err, "can't send notification")
	}
	return nil
}
