package proxy

import (
	"sync"

	"github.com/rigado/bleproxy"
	"github.com/rigado/bleproxy/hci"
	"github.com/rigado/bleproxy/hci/evt"
)

type transportCredits struct {
	toReserve   uint16
	reserved    uint16
	available   uint16
	initialized bool
}

type connCredits struct {
	transport hci.AclTransport
	inflight  uint16
}

// ledger tracks the ACL send credits the proxy keeps back from the host,
// per logical transport, and which connections they are in flight on.
type ledger struct {
	mu       sync.Mutex
	logger   bleproxy.Logger
	credits  [2]transportCredits
	inflight map[uint16]*connCredits
	clamps   uint64
}

func newLedger(le, brEdr uint16, logger bleproxy.Logger) *ledger {
	l := &ledger{logger: logger}
	l.credits[hci.TransportLE].toReserve = le
	l.credits[hci.TransportBREDR].toReserve = brEdr
	l.inflight = make(map[uint16]*connCredits)
	return l
}

// SendCredit is one acquired ACL credit. It is either spent by a send or
// handed back with Release.
type SendCredit struct {
	l         *ledger
	transport hci.AclTransport
	done      bool
}

// Release returns an unspent credit to the ledger.
func (c *SendCredit) Release() {
	if c == nil {
		return
	}
	c.l.mu.Lock()
	defer c.l.mu.Unlock()
	if c.done {
		return
	}
	c.done = true
	c.l.releaseLocked(c.transport, 1)
}

// Reserve takes the proxy's share out of the controller's total and returns
// what the host is left with. Only the first call per transport reserves;
// later responses are reduced by the same fixed amount.
func (l *ledger) Reserve(t hci.AclTransport, controllerTotal uint16) uint16 {
	l.mu.Lock()
	defer l.mu.Unlock()

	c := &l.credits[t]
	if !c.initialized {
		c.reserved = c.toReserve
		if controllerTotal < c.reserved {
			c.reserved = controllerTotal
		}
		c.available = c.reserved
		c.initialized = true
		l.logger.Infof("%v: reserved %d of %d acl credits, host gets %d", t, c.reserved, controllerTotal, controllerTotal-c.reserved)
	}

	if controllerTotal < c.reserved {
		return 0
	}
	return controllerTotal - c.reserved
}

// TryAcquire takes one credit if there is one.
func (l *ledger) TryAcquire(t hci.AclTransport) (*SendCredit, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	c := &l.credits[t]
	if c.available == 0 {
		return nil, false
	}
	c.available--
	return &SendCredit{l: l, transport: t}, true
}

// MarkSent spends credit on a packet for handle.
func (l *ledger) MarkSent(handle uint16, credit *SendCredit) {
	l.mu.Lock()
	defer l.mu.Unlock()

	credit.done = true
	cc, ok := l.inflight[handle]
	if !ok {
		cc = &connCredits{transport: credit.transport}
		l.inflight[handle] = cc
	}
	cc.inflight++
}

// Release returns n credits of transport t, never above the reservation.
func (l *ledger) Release(t hci.AclTransport, n uint16) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.releaseLocked(t, n)
}

func (l *ledger) releaseLocked(t hci.AclTransport, n uint16) {
	c := &l.credits[t]
	room := c.reserved - c.available
	if n > room {
		l.clamps++
		l.logger.Warnf("%v: releasing %d credits with only %d outstanding, clamped (%d clamps so far)", t, n, room, l.clamps)
		n = room
	}
	c.available += n
}

// ProcessNumberOfCompletedPackets takes back the credits attributable to the
// proxy's own packets and rewrites each entry in place with what is left for
// the host. The event is not touched at all when nothing is in flight.
// It returns the number of credits reclaimed.
func (l *ledger) ProcessNumberOfCompletedPackets(e evt.NumberOfCompletedPackets) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.inflight) == 0 {
		return 0, nil
	}
	if err := e.ValidWErr(); err != nil {
		return 0, err
	}

	n, _ := e.NumberOfHandlesWErr()
	reclaimed := 0
	for i := 0; i < int(n); i++ {
		handle, err := e.ConnectionHandleWErr(i)
		if err != nil {
			return reclaimed, err
		}
		cc, ok := l.inflight[handle]
		if !ok {
			continue
		}
		count, err := e.HCNumOfCompletedPacketsWErr(i)
		if err != nil {
			return reclaimed, err
		}

		r := count
		if r > cc.inflight {
			r = cc.inflight
		}
		if r == 0 {
			continue
		}
		if err := e.SetHCNumOfCompletedPacketsWErr(i, count-r); err != nil {
			return reclaimed, err
		}

		cc.inflight -= r
		if cc.inflight == 0 {
			delete(l.inflight, handle)
		}
		l.releaseLocked(cc.transport, r)
		reclaimed += int(r)
	}
	return reclaimed, nil
}

// Disconnect reclaims everything in flight on handle. When a connection
// disconnects, all the sent packets that weren't acked yet are flushed by
// the controller. [Vol2, Part E 4.3]
func (l *ledger) Disconnect(handle uint16) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cc, ok := l.inflight[handle]
	if !ok {
		return 0
	}
	delete(l.inflight, handle)
	l.releaseLocked(cc.transport, cc.inflight)
	return int(cc.inflight)
}

// Reset forgets every reservation. The next buffer size response reserves again.
func (l *ledger) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i := range l.credits {
		l.credits[i] = transportCredits{toReserve: l.credits[i].toReserve}
	}
	l.inflight = make(map[uint16]*connCredits)
}

func (l *ledger) Available(t hci.AclTransport) uint16 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.credits[t].available
}

func (l *ledger) Reserved(t hci.AclTransport) uint16 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.credits[t].reserved
}

func (l *ledger) ToReserve(t hci.AclTransport) uint16 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.credits[t].toReserve
}

func (l *ledger) Initialized(t hci.AclTransport) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.credits[t].initialized
}

func (l *ledger) InFlight(handle uint16) uint16 {
	l.mu.Lock()
	defer l.mu.Unlock()
	if cc, ok := l.inflight[handle]; ok {
		return cc.inflight
	}
	return 0
}

func (l *ledger) Clamps() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.clamps
}
