package proxy

import (
	"fmt"
	"sync"

	"github.com/pkg/errors"
	"github.com/rigado/bleproxy"
	"github.com/rigado/bleproxy/hci"
)

// QueueCapacity is the number of tx payloads a channel holds while waiting
// for credits.
const QueueCapacity = 5

type ChannelState int

const (
	StateRunning ChannelState = iota
	// The channel is stopped, but the L2CAP connection is still open.
	StateStopped
	// The L2CAP connection was closed, by a disconnection of the ACL link or
	// by an L2CAP disconnection.
	StateClosed
	// The proxy was reset; the channel can't be used anymore.
	StateUndefined
)

func (s ChannelState) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	case StateClosed:
		return "closed"
	case StateUndefined:
		return "undefined"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

type ChannelEvent int

const (
	// An invalid packet was received. The channel is now stopped.
	EventRxInvalid ChannelEvent = iota
	// A packet arrived while the channel was stopped and was dropped.
	EventRxWhileStopped
	// A fragmented PDU couldn't be recombined. The channel is now stopped.
	EventRxFragmented
	// The L2CAP connection or the ACL link went away.
	EventChannelClosedByOther
	// A write that failed with ErrUnavailable can be retried.
	EventWriteAvailable
	// The proxy was reset.
	EventReset
)

func (e ChannelEvent) String() string {
	switch e {
	case EventRxInvalid:
		return "rx invalid"
	case EventRxWhileStopped:
		return "rx while stopped"
	case EventRxFragmented:
		return "rx fragmented"
	case EventChannelClosedByOther:
		return "closed by other"
	case EventWriteAvailable:
		return "write available"
	case EventReset:
		return "reset"
	default:
		return fmt.Sprintf("event(%d)", int(e))
	}
}

// channelKind is the per protocol part of a channel.
type channelKind interface {
	// checkWrite validates a payload before it is queued.
	checkWrite(payload []byte) error

	// nextTxPacket builds the next packet to send from the queue, or returns
	// nil. Called with the channel lock held.
	nextTxPacket() *hci.Packet

	// handlePdu handles a complete L2CAP PDU from the controller addressed to
	// the channel. Returns false to forward the PDU to the host instead.
	handlePdu(pdu hci.Pdu) bool
}

type channel struct {
	p    *Proxy
	kind channelKind

	handle    uint16
	localCID  uint16
	remoteCID uint16
	transport hci.AclTransport
	logger    bleproxy.Logger
	eventFn   func(ChannelEvent)

	// slot in the registry, noSlot when not registered. Guarded by the registry lock.
	slot int

	mu    sync.Mutex
	state ChannelState
	queue [][]byte

	// notifyOnDequeue is set when a write found the queue full.
	notifyOnDequeue bool
	// notifyPending is set when a payload left the queue and a write
	// available event is owed.
	notifyPending bool
}

func newChannel(p *Proxy, handle, localCID, remoteCID uint16, t hci.AclTransport, eventFn func(ChannelEvent)) *channel {
	return &channel{
		p:         p,
		handle:    handle,
		localCID:  localCID,
		remoteCID: remoteCID,
		transport: t,
		eventFn:   eventFn,
		slot:      noSlot,
		state:     StateRunning,
		logger: p.logger.ChildLogger(map[string]interface{}{
			"handle": fmt.Sprintf("0x%04x", handle),
			"cid":    fmt.Sprintf("0x%04x", localCID),
		}),
	}
}

func validChannelParams(handle, localCID, remoteCID uint16) error {
	if handle > hci.MaxConnHandle {
		return errors.Wrapf(bleproxy.ErrInvalidArgument, "connection handle 0x%04x out of range", handle)
	}
	if localCID == 0 || remoteCID == 0 {
		return errors.Wrapf(bleproxy.ErrInvalidArgument, "cid can't be 0 (local 0x%04x, remote 0x%04x)", localCID, remoteCID)
	}
	return nil
}

func (c *channel) Handle() uint16              { return c.handle }
func (c *channel) LocalCID() uint16            { return c.localCID }
func (c *channel) RemoteCID() uint16           { return c.remoteCID }
func (c *channel) Transport() hci.AclTransport { return c.transport }

func (c *channel) State() ChannelState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Write queues payload for sending.
//
// Returns ErrFailedPrecondition if the channel isn't running, ErrInvalidArgument
// if the payload can't be sent on this channel, and ErrUnavailable if the queue
// is full. In the last case EventWriteAvailable follows once there is room.
func (c *channel) Write(payload []byte) error {
	c.mu.Lock()
	if c.state != StateRunning {
		c.mu.Unlock()
		return errors.Wrapf(bleproxy.ErrFailedPrecondition, "channel is %v", c.state)
	}
	if err := c.kind.checkWrite(payload); err != nil {
		c.mu.Unlock()
		return err
	}
	if len(c.queue) >= QueueCapacity {
		c.notifyOnDequeue = true
		c.mu.Unlock()
		return errors.Wrap(bleproxy.ErrUnavailable, "tx queue full")
	}

	b := make([]byte, len(payload))
	copy(b, payload)
	c.queue = append(c.queue, b)
	c.mu.Unlock()

	c.p.drain()
	return nil
}

// IsWriteAvailable reports whether a Write would be queued. Like Write, a
// full queue primes EventWriteAvailable.
func (c *channel) IsWriteAvailable() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateRunning {
		return errors.Wrapf(bleproxy.ErrFailedPrecondition, "channel is %v", c.state)
	}
	if len(c.queue) >= QueueCapacity {
		c.notifyOnDequeue = true
		return errors.Wrap(bleproxy.ErrUnavailable, "tx queue full")
	}
	return nil
}

// Stop drops pending sends. Writes fail and received packets are dropped
// until the channel is closed.
func (c *channel) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateRunning {
		return errors.Wrapf(bleproxy.ErrInvalidArgument, "channel is already %v", c.state)
	}
	c.state = StateStopped
	c.clearQueueLocked()
	return nil
}

func (c *channel) stopAndSendEvent(e ChannelEvent) {
	c.mu.Lock()
	if c.state == StateRunning {
		c.state = StateStopped
		c.clearQueueLocked()
	}
	c.mu.Unlock()
	c.sendEvent(e)
}

// Close gives the channel up and releases its slot. The client closing its
// own channel gets no event.
func (c *channel) Close() {
	c.close(false)
}

// closedByOther is Close on behalf of the peer or the ACL link going away.
func (c *channel) closedByOther() {
	c.close(true)
}

func (c *channel) close(notify bool) {
	if !c.setState(StateClosed) {
		return
	}
	c.p.registry.Deregister(c)
	if notify {
		c.sendEvent(EventChannelClosedByOther)
	}
}

// internalClose is used by the registry, which already unlinked the channel.
func (c *channel) internalClose(e ChannelEvent, final ChannelState) {
	if !c.setState(final) {
		return
	}
	c.sendEvent(e)
}

// setState moves the channel into a terminal state. Returns false if it was
// already closed or undefined.
func (c *channel) setState(s ChannelState) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateClosed || c.state == StateUndefined {
		return false
	}
	c.state = s
	c.clearQueueLocked()
	return true
}

func (c *channel) clearQueueLocked() {
	c.queue = nil
	c.notifyOnDequeue = false
	c.notifyPending = false
}

func (c *channel) frontPayload() []byte {
	if len(c.queue) == 0 {
		return nil
	}
	return c.queue[0]
}

func (c *channel) popFront() {
	c.queue[0] = nil
	c.queue = c.queue[1:]
	if c.notifyOnDequeue {
		c.notifyOnDequeue = false
		c.notifyPending = true
	}
}

// dequeue returns the next packet to send, if the channel has one ready.
// The caller owes EventWriteAvailable if notify is set.
func (c *channel) dequeue() (pkt *hci.Packet, notify bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateRunning {
		return nil, false
	}
	pkt = c.kind.nextTxPacket()
	if pkt != nil {
		notify = c.notifyPending
		c.notifyPending = false
	}
	return pkt, notify
}

// handlePduFromController drops PDUs while the channel isn't running.
func (c *channel) handlePduFromController(pdu hci.Pdu) bool {
	if c.State() != StateRunning {
		c.sendEvent(EventRxWhileStopped)
		return true
	}
	return c.kind.handlePdu(pdu)
}

// handleFragmentStart is called when the start of a PDU too long for one
// ACL packet arrives for the channel; the proxy recombines it.
func (c *channel) handleFragmentStart(total int) {
	c.logger.Debugf("recombining %d byte pdu", total)
}

// handleFragmentFailure stops the channel when recombination is abandoned.
func (c *channel) handleFragmentFailure() {
	c.logger.Warn("pdu recombination failed")
	c.stopAndSendEvent(EventRxFragmented)
}

func (c *channel) sendEvent(e ChannelEvent) {
	if c.eventFn != nil {
		c.eventFn(e)
	}
}

// l2capPacket reserves a tx buffer with the H4, ACL and L2CAP headers for an
// n byte payload written to the remote CID. Returns nil if no buffer is free.
func (c *channel) l2capPacket(n int) (*hci.Packet, []byte) {
	pkt, ok := c.p.pool.Reserve(nil)
	if !ok {
		return nil, nil
	}
	payload, total, err := hci.PutL2CAPPacket(pkt.H4(), c.handle, c.remoteCID, n)
	if err != nil {
		c.logger.Error(err)
		pkt.Release()
		return nil, nil
	}
	pkt.Resize(total)
	return pkt, payload
}
