package proxy

import (
	"testing"

	"github.com/rigado/bleproxy"
	"github.com/rigado/bleproxy/hci"
	"github.com/stretchr/testify/require"
)

// checkRing verifies the list links and that the cursors point into it.
func checkRing(t *testing.T, r *registry) {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.count == 0 {
		require.Equal(t, noSlot, r.head)
		require.Equal(t, noSlot, r.tail)
		require.Equal(t, noSlot, r.lrd)
		require.Equal(t, noSlot, r.terminus)
		return
	}

	members := map[int]bool{}
	prev := noSlot
	for i := r.head; i != noSlot; i = r.slots[i].next {
		require.Equal(t, prev, r.slots[i].prev)
		require.Equal(t, i, r.slots[i].ch.slot)
		members[i] = true
		prev = i
	}
	require.Equal(t, prev, r.tail)
	require.Len(t, members, r.count)
	require.True(t, members[r.lrd])
	require.True(t, members[r.terminus])
}

func newTestRegistry(capacity int) *registry {
	l := newLedger(0, 0, bleproxy.GetLogger())
	return newRegistry(capacity, l, func(*channel, *hci.Packet, *SendCredit) {})
}

func testChannel(p *Proxy, handle uint16) *channel {
	ch := newChannel(p, handle, 0x0040, 0x0041, hci.TransportLE, nil)
	return ch
}

func TestRegistryCursors(t *testing.T) {
	h := newHarness(t)
	r := newTestRegistry(4)
	checkRing(t, r)

	var chs []*channel
	for i := uint16(0); i < 4; i++ {
		ch := testChannel(h.p, i)
		require.NoError(t, r.Register(ch))
		chs = append(chs, ch)
		checkRing(t, r)
	}
	err := r.Register(testChannel(h.p, 9))
	require.True(t, bleproxy.IsResourceExhausted(err), "%v", err)

	// new channels queue up behind the least recently drained one
	r.mu.Lock()
	require.Equal(t, chs[0].slot, r.lrd)
	require.Equal(t, chs[0].slot, r.tail)
	r.mu.Unlock()

	r.Deregister(chs[0])
	checkRing(t, r)
	r.Deregister(chs[0])
	checkRing(t, r)
	require.Equal(t, 3, r.Len())

	r.Deregister(chs[2])
	r.Deregister(chs[1])
	checkRing(t, r)
	r.Deregister(chs[3])
	checkRing(t, r)
	require.Equal(t, 0, r.Len())

	require.NoError(t, r.Register(chs[1]))
	checkRing(t, r)
	require.True(t, r.FindByLocalCID(0x0001, 0x0040) == chs[1])
	require.True(t, r.FindByRemoteCID(0x0001, 0x0041) == chs[1])
	require.Nil(t, r.FindByLocalCID(0x0002, 0x0040))
}

func TestRegistryDeregisterAndCloseAll(t *testing.T) {
	h := newHarness(t)
	r := newTestRegistry(4)

	var ev eventRecorder
	var chs []*channel
	for i := uint16(0); i < 3; i++ {
		ch := newChannel(h.p, i, 0x0040, 0x0041, hci.TransportLE, ev.fn)
		require.NoError(t, r.Register(ch))
		chs = append(chs, ch)
	}

	r.DeregisterAndCloseAll(EventReset, StateUndefined)
	checkRing(t, r)
	for _, ch := range chs {
		require.Equal(t, StateUndefined, ch.State())
	}
	require.Equal(t, []ChannelEvent{EventReset, EventReset, EventReset}, ev.get())
}
