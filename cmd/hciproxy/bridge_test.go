package main

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/rigado/bleproxy"
	"github.com/rigado/bleproxy/hci/h4"
	"github.com/stretchr/testify/require"
)

func TestBridgeSplicesHostAndController(t *testing.T) {
	local, peer := net.Pipe()
	logger := bleproxy.GetLogger()
	ctrl := h4.NewConn(local, 50*time.Millisecond, time.Second, logger)

	b, err := newBridge(ctrl, logger, bleproxy.OptLeAclCreditsToReserve(2))
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.run(ctx, ln) }()

	host, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer host.Close()
	require.Eventually(t, func() bool {
		b.mu.Lock()
		defer b.mu.Unlock()
		return b.host != nil
	}, time.Second, 10*time.Millisecond)

	// LE Read Buffer Size complete: 10 buffers, the host is told 8
	_, err = peer.Write([]byte{0x04, 0x0e, 0x07, 0x01, 0x02, 0x20, 0x00, 0xfb, 0x00, 0x0a})
	require.NoError(t, err)

	got := make([]byte, 10)
	host.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err = io.ReadFull(host, got)
	require.NoError(t, err)
	require.Equal(t, []byte{0x04, 0x0e, 0x07, 0x01, 0x02, 0x20, 0x00, 0xfb, 0x00, 0x08}, got)
	require.Equal(t, uint16(2), b.p.NumFreeLeAclPackets())

	// HCI Reset from the host reaches the controller
	_, err = host.Write([]byte{0x01, 0x03, 0x0c, 0x00})
	require.NoError(t, err)

	cmd := make([]byte, 4)
	peer.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err = io.ReadFull(peer, cmd)
	require.NoError(t, err)
	require.Equal(t, []byte{0x01, 0x03, 0x0c, 0x00}, cmd)
	require.Equal(t, uint16(0), b.p.NumFreeLeAclPackets())

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("bridge didn't stop")
	}
}
