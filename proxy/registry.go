package proxy

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/rigado/bleproxy"
	"github.com/rigado/bleproxy/hci"
)

const noSlot = -1

type slot struct {
	ch         *channel
	prev, next int
}

// registry holds the live channels in a fixed slot table, threaded into a
// list that the drain sweep walks as a ring. lrd is the least recently
// drained channel; terminus is where a sweep without progress ends. Both are
// noSlot exactly when the registry is empty.
type registry struct {
	mu       sync.Mutex
	slots    []slot
	free     []int
	head     int
	tail     int
	count    int
	lrd      int
	terminus int

	ledger *ledger
	send   func(ch *channel, pkt *hci.Packet, credit *SendCredit)

	dmu            sync.Mutex
	draining       bool
	drainRequested bool
}

func newRegistry(capacity int, l *ledger, send func(*channel, *hci.Packet, *SendCredit)) *registry {
	r := &registry{
		slots:    make([]slot, capacity),
		free:     make([]int, 0, capacity),
		head:     noSlot,
		tail:     noSlot,
		lrd:      noSlot,
		terminus: noSlot,
		ledger:   l,
		send:     send,
	}
	for i := capacity - 1; i >= 0; i-- {
		r.free = append(r.free, i)
	}
	return r
}

// Register inserts ch just before the least recently drained channel, so it
// is served last in the current rotation.
func (r *registry) Register(ch *channel) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := r.head; i != noSlot; i = r.slots[i].next {
		o := r.slots[i].ch
		if o.handle == ch.handle && o.localCID == ch.localCID {
			return errors.Wrapf(bleproxy.ErrInvalidArgument, "handle 0x%04x already has a channel with local cid 0x%04x", ch.handle, ch.localCID)
		}
	}
	if len(r.free) == 0 {
		return errors.Wrapf(bleproxy.ErrResourceExhausted, "all %d channels in use", len(r.slots))
	}

	s := r.free[len(r.free)-1]
	r.free = r.free[:len(r.free)-1]
	r.slots[s] = slot{ch: ch, prev: noSlot, next: noSlot}
	ch.slot = s
	r.count++

	if r.lrd == noSlot {
		r.head, r.tail = s, s
		r.lrd, r.terminus = s, s
		return nil
	}

	before := r.slots[r.lrd].prev
	r.slots[s].prev = before
	r.slots[s].next = r.lrd
	r.slots[r.lrd].prev = s
	if before == noSlot {
		r.head = s
	} else {
		r.slots[before].next = s
	}
	return nil
}

// Deregister unlinks ch. Removing a channel that isn't registered is a no-op.
func (r *registry) Deregister(ch *channel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deregisterLocked(ch)
}

func (r *registry) deregisterLocked(ch *channel) {
	s := ch.slot
	if s == noSlot || r.slots[s].ch != ch {
		return
	}

	if r.lrd == s {
		r.lrd = r.advance(s)
	}
	if r.terminus == s {
		r.terminus = r.advance(s)
	}

	prev, next := r.slots[s].prev, r.slots[s].next
	if prev == noSlot {
		r.head = next
	} else {
		r.slots[prev].next = next
	}
	if next == noSlot {
		r.tail = prev
	} else {
		r.slots[next].prev = prev
	}

	r.slots[s] = slot{prev: noSlot, next: noSlot}
	r.free = append(r.free, s)
	ch.slot = noSlot
	r.count--

	// Advancing the cursors of a single entry wraps back onto itself.
	if r.count == 0 {
		r.head, r.tail = noSlot, noSlot
		r.lrd, r.terminus = noSlot, noSlot
	}
}

// DeregisterAndCloseAll empties the registry and closes every channel with e.
func (r *registry) DeregisterAndCloseAll(e ChannelEvent, final ChannelState) {
	r.mu.Lock()
	var chs []*channel
	for r.head != noSlot {
		ch := r.slots[r.head].ch
		chs = append(chs, ch)
		r.deregisterLocked(ch)
	}
	r.mu.Unlock()

	for _, ch := range chs {
		ch.internalClose(e, final)
	}
}

// advance moves a cursor one step around the ring.
func (r *registry) advance(s int) int {
	if n := r.slots[s].next; n != noSlot {
		return n
	}
	return r.head
}

func (r *registry) find(match func(*channel) bool) *channel {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := r.head; i != noSlot; i = r.slots[i].next {
		if ch := r.slots[i].ch; match(ch) {
			return ch
		}
	}
	return nil
}

func (r *registry) FindByLocalCID(handle, cid uint16) *channel {
	return r.find(func(ch *channel) bool { return ch.handle == handle && ch.localCID == cid })
}

func (r *registry) FindByRemoteCID(handle, cid uint16) *channel {
	return r.find(func(ch *channel) bool { return ch.handle == handle && ch.remoteCID == cid })
}

// OnHandle returns the channels on an ACL connection.
func (r *registry) OnHandle(handle uint16) []*channel {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*channel
	for i := r.head; i != noSlot; i = r.slots[i].next {
		if ch := r.slots[i].ch; ch.handle == handle {
			out = append(out, ch)
		}
	}
	return out
}

func (r *registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Drain trades available credits for queued packets, round robin. A drain
// requested while one is running, including from a buffer release inside
// one of its sends, makes the running drain sweep again once it finishes.
func (r *registry) Drain() {
	r.dmu.Lock()
	if r.draining {
		r.drainRequested = true
		r.dmu.Unlock()
		return
	}
	r.draining = true
	r.dmu.Unlock()

	for {
		r.sweep()

		r.dmu.Lock()
		if !r.drainRequested {
			r.draining = false
			r.dmu.Unlock()
			return
		}
		r.drainRequested = false
		r.dmu.Unlock()
	}
}

// sweep runs until the cursor comes back to the terminus without a packet
// having been sent since.
func (r *registry) sweep() {
	first := true
	for {
		var (
			ch     *channel
			pkt    *hci.Packet
			credit *SendCredit
			notify bool
			done   bool
		)

		r.mu.Lock()
		if r.lrd == noSlot {
			r.mu.Unlock()
			return
		}
		if first {
			r.terminus = r.lrd
			first = false
		}

		ch = r.slots[r.lrd].ch
		// Without a credit the sweep still moves on: the next channel may be
		// on the other transport.
		if c, ok := r.ledger.TryAcquire(ch.transport); ok {
			credit = c
			pkt, notify = ch.dequeue()
		}
		r.lrd = r.advance(r.lrd)
		if pkt != nil {
			// Keep going until a full loop dequeues nothing.
			r.terminus = r.lrd
		} else {
			credit.Release()
			done = r.lrd == r.terminus
		}
		r.mu.Unlock()

		if notify {
			ch.sendEvent(EventWriteAvailable)
		}
		if pkt != nil {
			// Send while unlocked. The send may release a buffer and ask for
			// another drain, which this loop picks up when the sweep ends.
			r.send(ch, pkt, credit)
			continue
		}
		if done {
			return
		}
	}
}
