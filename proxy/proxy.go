package proxy

import (
	"encoding/binary"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/rigado/bleproxy"
	"github.com/rigado/bleproxy/hci"
)

const (
	DefaultTxBufferCount = 10
	DefaultTxBufferSize  = 256
	DefaultMaxChannels   = 16

	minTxBufferSize = 32
)

type notifyKey struct {
	handle    uint16
	attribute uint16
}

// Proxy sits on the HCI stream between a host stack and a controller. It
// keeps back some of the controller's ACL buffers and uses them to send on
// channels of its own, without the host noticing.
//
// HandleFromHost and HandleFromController take one packet at a time from
// each side. Everything the proxy doesn't act on is passed on in the same
// buffer.
type Proxy struct {
	sendToHost       func(*hci.Packet)
	sendToController func(*hci.Packet)

	logger       bleproxy.Logger
	errorHandler func(error)

	leCreditsToReserve    uint16
	brEdrCreditsToReserve uint16
	poolCount             int
	poolSize              int
	maxChannels           int

	ledger   *ledger
	pool     *pool
	registry *registry
	frag     *fragmenter
	sig      *signaling

	evth map[int]handlerFn
	cmdh map[uint16]handlerFn

	// ACL data packet length reported by the controller, per transport
	aclDataLen [2]uint32

	mu            sync.Mutex
	pendingNotify map[notifyKey]struct{}

	sigID uint32
	stats counters
}

// New returns a proxy which passes packets on with sendToHost and
// sendToController.
func New(sendToHost, sendToController func(*hci.Packet), opts ...bleproxy.Option) (*Proxy, error) {
	if sendToHost == nil || sendToController == nil {
		return nil, errors.Wrap(bleproxy.ErrInvalidArgument, "send functions are required")
	}

	p := &Proxy{
		sendToHost:       sendToHost,
		sendToController: sendToController,
		logger:           bleproxy.GetLogger().ChildLogger(map[string]interface{}{"component": "proxy"}),
		poolCount:        DefaultTxBufferCount,
		poolSize:         DefaultTxBufferSize,
		maxChannels:      DefaultMaxChannels,
		pendingNotify:    make(map[notifyKey]struct{}),
	}
	if err := p.Option(opts...); err != nil {
		return nil, errors.Wrap(err, "can't set options")
	}

	p.ledger = newLedger(p.leCreditsToReserve, p.brEdrCreditsToReserve, p.logger.ChildLogger(map[string]interface{}{"component": "ledger"}))
	p.pool = newPool(p.poolCount, p.poolSize, p.drain)
	p.registry = newRegistry(p.maxChannels, p.ledger, p.sendChannelPacket)
	p.frag = newFragmenter(p.logger.ChildLogger(map[string]interface{}{"component": "fragments"}), p.fragmentOwner, p.reportViolation)
	p.sig = newSignaling(p.logger.ChildLogger(map[string]interface{}{"component": "signaling"}), p.registry)
	p.initHandlers()

	return p, nil
}

// Option sets the options specified.
func (p *Proxy) Option(opts ...bleproxy.Option) error {
	for _, opt := range opts {
		if err := opt(p); err != nil {
			return err
		}
	}
	return nil
}

// SetLeAclCreditsToReserve sets the LE ACL credits to keep back from the host.
func (p *Proxy) SetLeAclCreditsToReserve(n uint16) error {
	p.leCreditsToReserve = n
	return nil
}

// SetBrEdrAclCreditsToReserve sets the BR/EDR ACL credits to keep back from the host.
func (p *Proxy) SetBrEdrAclCreditsToReserve(n uint16) error {
	p.brEdrCreditsToReserve = n
	return nil
}

// SetTxBufferPool sizes the tx buffer pool.
func (p *Proxy) SetTxBufferPool(count, size int) error {
	if count <= 0 {
		return errors.Wrapf(bleproxy.ErrInvalidArgument, "buffer count %d", count)
	}
	if size < minTxBufferSize || size > hci.H4HeaderLen+hci.ACLHeaderLen+0xFFFF {
		return errors.Wrapf(bleproxy.ErrInvalidArgument, "buffer size %d", size)
	}
	p.poolCount = count
	p.poolSize = size
	return nil
}

// SetMaxChannels caps the number of channels.
func (p *Proxy) SetMaxChannels(n int) error {
	if n <= 0 {
		return errors.Wrapf(bleproxy.ErrInvalidArgument, "max channels %d", n)
	}
	p.maxChannels = n
	return nil
}

func (p *Proxy) SetLogger(l bleproxy.Logger) error {
	if l == nil {
		return errors.Wrap(bleproxy.ErrInvalidArgument, "nil logger")
	}
	p.logger = l
	return nil
}

// SetErrorHandler sets a handler told about malformed and out of order
// packets. They are passed on regardless.
func (p *Proxy) SetErrorHandler(handler func(error)) error {
	p.errorHandler = handler
	return nil
}

func (p *Proxy) reportError(err error) {
	p.logger.Warn(err)
	if p.errorHandler != nil {
		p.errorHandler(err)
	}
}

func (p *Proxy) reportViolation(err error) {
	atomic.AddUint64(&p.stats.fragmentViolations, 1)
	if p.errorHandler != nil {
		p.errorHandler(err)
	}
}

// Reset returns the proxy to the state before the controller reported its
// buffers. All channels are closed and become unusable. Packets already
// handed to the controller are not recalled.
func (p *Proxy) Reset() {
	p.logger.Info("reset")
	atomic.AddUint64(&p.stats.resets, 1)

	p.ledger.Reset()
	p.frag.Reset()
	p.sig.Reset()
	for i := range p.aclDataLen {
		atomic.StoreUint32(&p.aclDataLen[i], 0)
	}
	p.registry.DeregisterAndCloseAll(EventReset, StateUndefined)
}

// Close closes all channels.
func (p *Proxy) Close() {
	p.registry.DeregisterAndCloseAll(EventChannelClosedByOther, StateClosed)
}

func (p *Proxy) drain() {
	p.registry.Drain()
}

// sendChannelPacket is the drain's way to the controller.
func (p *Proxy) sendChannelPacket(ch *channel, pkt *hci.Packet, credit *SendCredit) {
	p.sendAcl(ch.handle, pkt, credit)
}

func (p *Proxy) sendAcl(handle uint16, pkt *hci.Packet, credit *SendCredit) {
	p.ledger.MarkSent(handle, credit)
	atomic.AddUint64(&p.stats.packetsSent, 1)
	p.sendToController(pkt)
}

// fragmentOwner returns the proxy channel a fragmented PDU belongs to. Only
// PDUs from the controller are recombined.
func (p *Proxy) fragmentOwner(handle uint16, dir hci.Direction, cid uint16) *channel {
	if dir != hci.FromController {
		return nil
	}
	return p.registry.FindByLocalCID(handle, cid)
}

// maxL2capPayload is the largest L2CAP payload that fits one tx buffer and
// one controller ACL buffer.
func (p *Proxy) maxL2capPayload(t hci.AclTransport) int {
	n := p.pool.Size() - hci.L2CAPOverhead
	if l := int(atomic.LoadUint32(&p.aclDataLen[t])); l > 0 && l-hci.L2CAPHeaderLen < n {
		n = l - hci.L2CAPHeaderLen
	}
	return n
}

func validHandle(handle uint16) error {
	if handle > hci.MaxConnHandle {
		return errors.Wrapf(bleproxy.ErrInvalidArgument, "connection handle 0x%04x out of range", handle)
	}
	return nil
}

// AcquireL2capCoc hands an LE credit based channel the host negotiated over
// to the proxy. SDUs from the peer go to receiveFn.
func (p *Proxy) AcquireL2capCoc(handle uint16, rx, tx CocConfig, receiveFn func(sdu []byte), eventFn func(ChannelEvent)) (*L2capCoc, error) {
	if err := validHandle(handle); err != nil {
		return nil, err
	}
	if err := rx.valid(); err != nil {
		return nil, errors.Wrap(err, "rx")
	}
	if err := tx.valid(); err != nil {
		return nil, errors.Wrap(err, "tx")
	}

	c := &L2capCoc{
		channel:   newChannel(p, handle, rx.CID, tx.CID, hci.TransportLE, eventFn),
		rx:        rx,
		tx:        tx,
		receiveFn: receiveFn,
	}
	c.channel.kind = c
	if err := p.registry.Register(c.channel); err != nil {
		return nil, err
	}
	c.logger.Infof("acquired coc: rx %+v, tx %+v", rx, tx)
	return c, nil
}

// AcquireBasicL2capChannel takes over a channel in basic mode. Payloads from
// the peer go to fromControllerFn, which returns false to leave the PDU to
// the host.
func (p *Proxy) AcquireBasicL2capChannel(handle, localCID, remoteCID uint16, t hci.AclTransport, fromControllerFn func(payload []byte) bool, eventFn func(ChannelEvent)) (*BasicL2capChannel, error) {
	if err := validChannelParams(handle, localCID, remoteCID); err != nil {
		return nil, err
	}

	c := &BasicL2capChannel{
		channel:          newChannel(p, handle, localCID, remoteCID, t, eventFn),
		fromControllerFn: fromControllerFn,
	}
	c.channel.kind = c
	if err := p.registry.Register(c.channel); err != nil {
		return nil, err
	}
	c.logger.Infof("acquired basic channel to 0x%04x on %v", remoteCID, t)
	return c, nil
}

// AcquireRfcommChannel takes over one RFCOMM server channel of a session the
// host established on a BR/EDR L2CAP channel.
func (p *Proxy) AcquireRfcommChannel(handle uint16, rx, tx RfcommConfig, channelNumber uint8, receiveFn func(payload []byte), eventFn func(ChannelEvent)) (*RfcommChannel, error) {
	if err := validChannelParams(handle, rx.CID, tx.CID); err != nil {
		return nil, err
	}
	if channelNumber < rfcommMinChannel || channelNumber > rfcommMaxChannel {
		return nil, errors.Wrapf(bleproxy.ErrInvalidArgument, "rfcomm channel %d outside %d-%d", channelNumber, rfcommMinChannel, rfcommMaxChannel)
	}

	c := &RfcommChannel{
		channel:       newChannel(p, handle, rx.CID, tx.CID, hci.TransportBREDR, eventFn),
		rx:            rx,
		tx:            tx,
		channelNumber: channelNumber,
		receiveFn:     receiveFn,
		txCredits:     tx.Credits,
		rxCredits:     rx.Credits,
	}
	c.channel.kind = c
	if err := p.registry.Register(c.channel); err != nil {
		return nil, err
	}
	c.logger.Infof("acquired rfcomm channel %d", channelNumber)
	return c, nil
}

// SendAdditionalRxCredits sends an LE Flow Control Credit Ind for localCID
// on handle. If localCID is a proxy CoC its rx credits are counted too.
//
// Deprecated: use L2capCoc.SendAdditionalRxCredits.
func (p *Proxy) SendAdditionalRxCredits(handle, localCID, credits uint16) error {
	if err := validHandle(handle); err != nil {
		return err
	}
	if ch := p.registry.FindByLocalCID(handle, localCID); ch != nil {
		if coc, ok := ch.kind.(*L2capCoc); ok {
			return coc.SendAdditionalRxCredits(credits)
		}
	}
	return p.sendFlowControlCreditInd(handle, localCID, credits)
}

func (p *Proxy) nextSignalID() uint8 {
	// identifier 0 is invalid
	return uint8(atomic.AddUint32(&p.sigID, 1)%255) + 1
}

// sendFlowControlCreditInd sends an LE Flow Control Credit Ind [Vol 3, Part A, 4.24]
// directly, without queueing.
func (p *Proxy) sendFlowControlCreditInd(handle, cid, credits uint16) error {
	if cid == 0 {
		return errors.Wrap(bleproxy.ErrInvalidArgument, "cid can't be 0")
	}

	var data [4]byte
	binary.LittleEndian.PutUint16(data[0:2], cid)
	binary.LittleEndian.PutUint16(data[2:4], credits)

	return p.sendDirect(handle, hci.TransportLE, nil, func(b []byte) (int, error) {
		payload, total, err := hci.PutL2CAPPacket(b, handle, hci.CidLESignaling, hci.SignalHeaderLen+len(data))
		if err != nil {
			return 0, err
		}
		hci.PutSignal(payload, hci.SigFlowControlCreditInd, p.nextSignalID(), data[:])
		return total, nil
	})
}

// sendDirect builds a packet with build and sends it at once, bypassing the
// channel queues. onRelease runs once the buffer is back in the pool.
func (p *Proxy) sendDirect(handle uint16, t hci.AclTransport, onRelease func(), build func(b []byte) (int, error)) error {
	credit, ok := p.ledger.TryAcquire(t)
	if !ok {
		return errors.Wrapf(bleproxy.ErrUnavailable, "no %v acl credits", t)
	}
	pkt, ok := p.pool.Reserve(onRelease)
	if !ok {
		credit.Release()
		return errors.Wrap(bleproxy.ErrUnavailable, "no tx buffers")
	}

	total, err := build(pkt.H4())
	if err != nil {
		credit.Release()
		pkt.Release()
		return errors.Wrapf(bleproxy.ErrInvalidArgument, "%v", err)
	}
	pkt.Resize(total)
	p.sendAcl(handle, pkt, credit)
	return nil
}

func (p *Proxy) RegisterStatusDelegate(d StatusDelegate) {
	p.sig.Register(d)
}

func (p *Proxy) UnregisterStatusDelegate(d StatusDelegate) {
	p.sig.Unregister(d)
}

// NumFreeLeAclPackets returns the LE credits the proxy can send with now.
func (p *Proxy) NumFreeLeAclPackets() uint16 {
	return p.ledger.Available(hci.TransportLE)
}

// NumFreeBrEdrAclPackets returns the BR/EDR credits the proxy can send with now.
func (p *Proxy) NumFreeBrEdrAclPackets() uint16 {
	return p.ledger.Available(hci.TransportBREDR)
}

// HasSendLeAclCapability reports whether the proxy was configured to send on LE.
func (p *Proxy) HasSendLeAclCapability() bool {
	return p.ledger.ToReserve(hci.TransportLE) > 0
}

// HasSendBrEdrAclCapability reports whether the proxy was configured to send on BR/EDR.
func (p *Proxy) HasSendBrEdrAclCapability() bool {
	return p.ledger.ToReserve(hci.TransportBREDR) > 0
}

// MaxAclSendSize is the largest ACL packet the proxy can send, without the H4 type byte.
func (p *Proxy) MaxAclSendSize() int {
	return p.pool.Size() - hci.H4HeaderLen
}

// NumSimultaneousAclSends is the number of proxy packets that can be with
// the controller at once.
func (p *Proxy) NumSimultaneousAclSends() int {
	return p.pool.Count()
}

// Operational reports whether the controller's LE buffers have been seen.
func (p *Proxy) Operational() bool {
	return p.ledger.Initialized(hci.TransportLE)
}
