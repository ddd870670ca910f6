package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rigado/bleproxy"
	"github.com/rigado/bleproxy/hci"
	"github.com/rigado/bleproxy/proxy"
	"github.com/stretchr/testify/require"
)

type fixed proxy.Stats

func (f fixed) Stats() proxy.Stats { return proxy.Stats(f) }

func TestCollectorExportsStats(t *testing.T) {
	c := NewCollector(fixed{
		PacketsSent:   7,
		CreditClamps:  1,
		ChannelsOpen:  2,
		LeCredits:     3,
		LeReserved:    4,
		BrEdrReserved: 2,
	})

	require.Equal(t, 13, testutil.CollectAndCount(c))

	want := `
# HELP bleproxy_packets_sent_total ACL packets the proxy sent on its own channels.
# TYPE bleproxy_packets_sent_total counter
bleproxy_packets_sent_total 7
# HELP bleproxy_credit_clamps_total Credit releases beyond the reservation.
# TYPE bleproxy_credit_clamps_total counter
bleproxy_credit_clamps_total 1
# HELP bleproxy_channels_open Channels acquired by clients.
# TYPE bleproxy_channels_open gauge
bleproxy_channels_open 2
# HELP bleproxy_acl_credits_reserved ACL credits kept back from the host.
# TYPE bleproxy_acl_credits_reserved gauge
bleproxy_acl_credits_reserved{transport="bredr"} 2
bleproxy_acl_credits_reserved{transport="le"} 4
`
	require.NoError(t, testutil.CollectAndCompare(c, strings.NewReader(want),
		"bleproxy_packets_sent_total", "bleproxy_credit_clamps_total",
		"bleproxy_channels_open", "bleproxy_acl_credits_reserved"))
}

func TestCollectorFollowsProxy(t *testing.T) {
	p, err := proxy.New(func(*hci.Packet) {}, func(pkt *hci.Packet) { pkt.Release() },
		bleproxy.OptLeAclCreditsToReserve(2))
	require.NoError(t, err)

	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(NewCollector(p)))

	p.HandleFromController(hci.NewPacket([]byte{hci.PktTypeEvent, 0x0e, 0x07, 0x01, 0x02, 0x20, 0x00, 0xfb, 0x00, 0x0a}))
	require.NoError(t, p.SendGattNotify(0x0001, 0x0002, []byte{0x01}))

	want := `
# HELP bleproxy_acl_credits_available ACL credits the proxy can send with now.
# TYPE bleproxy_acl_credits_available gauge
bleproxy_acl_credits_available{transport="bredr"} 0
bleproxy_acl_credits_available{transport="le"} 1
# HELP bleproxy_packets_sent_total ACL packets the proxy sent on its own channels.
# TYPE bleproxy_packets_sent_total counter
bleproxy_packets_sent_total 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(want),
		"bleproxy_acl_credits_available", "bleproxy_packets_sent_total"))
}
