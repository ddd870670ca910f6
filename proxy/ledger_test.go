package proxy

import (
	"testing"

	"github.com/rigado/bleproxy"
	"github.com/rigado/bleproxy/hci"
	"github.com/rigado/bleproxy/hci/evt"
	"github.com/stretchr/testify/require"
)

func TestLedgerReserve(t *testing.T) {
	l := newLedger(4, 0, bleproxy.GetLogger())

	require.Equal(t, uint16(6), l.Reserve(hci.TransportLE, 10))
	require.Equal(t, uint16(4), l.Available(hci.TransportLE))
	require.Equal(t, uint16(4), l.Reserved(hci.TransportLE))

	// fewer buffers than the first time: the reservation stays
	require.Equal(t, uint16(0), l.Reserve(hci.TransportLE, 3))
	require.Equal(t, uint16(4), l.Reserved(hci.TransportLE))

	require.Equal(t, uint16(7), l.Reserve(hci.TransportBREDR, 7))
	require.True(t, l.Initialized(hci.TransportBREDR))
	_, ok := l.TryAcquire(hci.TransportBREDR)
	require.False(t, ok)
}

func TestLedgerAcquireRelease(t *testing.T) {
	l := newLedger(2, 0, bleproxy.GetLogger())
	l.Reserve(hci.TransportLE, 10)

	c1, ok := l.TryAcquire(hci.TransportLE)
	require.True(t, ok)
	c2, ok := l.TryAcquire(hci.TransportLE)
	require.True(t, ok)
	_, ok = l.TryAcquire(hci.TransportLE)
	require.False(t, ok)

	c1.Release()
	c1.Release()
	require.Equal(t, uint16(1), l.Available(hci.TransportLE))

	l.MarkSent(0x0001, c2)
	// a spent credit can't be released
	c2.Release()
	require.Equal(t, uint16(1), l.Available(hci.TransportLE))
	require.Equal(t, uint16(1), l.InFlight(0x0001))

	require.Equal(t, 1, l.Disconnect(0x0001))
	require.Equal(t, uint16(2), l.Available(hci.TransportLE))
	require.Equal(t, 0, l.Disconnect(0x0001))

	var nilCredit *SendCredit
	nilCredit.Release()
}

func TestLedgerClampsOverRelease(t *testing.T) {
	l := newLedger(2, 0, bleproxy.GetLogger())
	l.Reserve(hci.TransportLE, 10)

	c, _ := l.TryAcquire(hci.TransportLE)
	l.MarkSent(0x0001, c)

	l.Release(hci.TransportLE, 3)
	require.Equal(t, uint16(2), l.Available(hci.TransportLE))
	require.Equal(t, uint64(1), l.Clamps())
}

func TestLedgerNumberOfCompletedPackets(t *testing.T) {
	l := newLedger(4, 0, bleproxy.GetLogger())
	l.Reserve(hci.TransportLE, 10)

	for _, handle := range []uint16{0x0001, 0x0001, 0x0002} {
		c, ok := l.TryAcquire(hci.TransportLE)
		require.True(t, ok)
		l.MarkSent(handle, c)
	}

	// NumOfHandles, then handle and count per entry
	e := evt.NumberOfCompletedPackets{0x02, 0x01, 0x00, 0x05, 0x00, 0x02, 0x00, 0x00, 0x00}
	n, err := l.ProcessNumberOfCompletedPackets(e)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Equal(t, evt.NumberOfCompletedPackets{0x02, 0x01, 0x00, 0x03, 0x00, 0x02, 0x00, 0x00, 0x00}, e)
	require.Equal(t, uint16(3), l.Available(hci.TransportLE))
	require.Equal(t, uint16(0), l.InFlight(0x0001))
	require.Equal(t, uint16(1), l.InFlight(0x0002))

	_, err = l.ProcessNumberOfCompletedPackets(evt.NumberOfCompletedPackets{0x02, 0x01, 0x00})
	require.Error(t, err)
}

func TestLedgerReset(t *testing.T) {
	l := newLedger(2, 1, bleproxy.GetLogger())
	l.Reserve(hci.TransportLE, 10)
	c, _ := l.TryAcquire(hci.TransportLE)
	l.MarkSent(0x0001, c)

	l.Reset()
	require.False(t, l.Initialized(hci.TransportLE))
	require.Equal(t, uint16(0), l.Available(hci.TransportLE))
	require.Equal(t, uint16(0), l.InFlight(0x0001))
	require.Equal(t, uint16(2), l.ToReserve(hci.TransportLE))
	require.Equal(t, uint16(1), l.ToReserve(hci.TransportBREDR))
}
