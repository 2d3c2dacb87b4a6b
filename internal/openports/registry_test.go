package openports

import (
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CESNET/Pandda-ADiCT/internal/datapoint"
	"github.com/CESNET/Pandda-ADiCT/internal/flow"
	"github.com/CESNET/Pandda-ADiCT/internal/logger"
	"github.com/CESNET/Pandda-ADiCT/internal/netfilter"
)

var (
	client = netip.MustParseAddr("10.0.0.1")
	server = netip.MustParseAddr("10.0.0.2")
)

func allNetworks(t *testing.T) *netfilter.Set {
	t.Helper()
	s, err := netfilter.FromSpec("")
	require.NoError(t, err)
	return s
}

func bf(srcPort, dstPort uint16, t1, t2 int64) *flow.Biflow {
	return &flow.Biflow{
		SrcIP:     client,
		SrcPort:   srcPort,
		DstIP:     server,
		DstPort:   dstPort,
		TimeFirst: time.Unix(t1, 0),
		TimeLast:  time.Unix(t2, 0),
	}
}

func TestRegistryUpsert(t *testing.T) {
	r := NewRegistry(allNetworks(t), true)

	r.ProcessBiflow(bf(40000, 22, 100, 101))
	r.ProcessBiflow(bf(40001, 22, 90, 95))
	r.ProcessBiflow(bf(40002, 22, 110, 130))

	snapshot := r.Drain()
	require.Len(t, snapshot, 1)
	rec := snapshot[PortKey{server, 22}]
	require.NotNil(t, rec)
	assert.Equal(t, time.Unix(90, 0), rec.TimeFirst)
	assert.Equal(t, time.Unix(130, 0), rec.TimeLast)
	assert.Equal(t, uint64(3), rec.Conns)

	// drain empties the registry
	assert.Equal(t, 0, r.Len())
}

func TestWellKnownPortFilter(t *testing.T) {
	// default settings: srcPort < 1024 && dstPort > 1024 is dropped
	r := NewRegistry(allNetworks(t), true)
	r.ProcessBiflow(bf(80, 54321, 100, 101))
	assert.Equal(t, 0, r.Len())

	// --no-port-filter keeps it
	r = NewRegistry(allNetworks(t), false)
	r.ProcessBiflow(bf(80, 54321, 100, 101))
	assert.Equal(t, 1, r.Len())
}

func TestNetworkFilterOnDst(t *testing.T) {
	set, err := netfilter.FromSpec("192.168.0.0/16")
	require.NoError(t, err)
	r := NewRegistry(set, true)
	r.ProcessBiflow(bf(40000, 22, 100, 101)) // dst 10.0.0.2 not watched
	assert.Equal(t, 0, r.Len())
}

type captureSink struct {
	sent [][]datapoint.DataPoint
}

func (c *captureSink) Send(dps []datapoint.DataPoint) error {
	c.sent = append(c.sent, dps)
	return nil
}

func (c *captureSink) Close() error { return nil }

func TestSenderFlush(t *testing.T) {
	log, err := logger.NewLogger(&logger.Config{})
	require.NoError(t, err)

	r := NewRegistry(allNetworks(t), true)
	r.ProcessBiflow(bf(40000, 22, 100, 105))

	// a record with inverted timestamps is dropped at emission
	r.ProcessBiflow(&flow.Biflow{
		SrcIP: client, SrcPort: 40000,
		DstIP: server, DstPort: 23,
		TimeFirst: time.Unix(200, 0),
		TimeLast:  time.Unix(150, 0),
	})

	cs := &captureSink{}
	sender := NewSender(r, cs, datapoint.AttrOpenPorts, "open_ports@test", 300*time.Second, log)
	sender.Flush()

	require.Len(t, cs.sent, 1)
	require.Len(t, cs.sent[0], 1)
	dp := cs.sent[0][0]
	assert.Equal(t, datapoint.TypeIP, dp.Type)
	assert.Equal(t, "10.0.0.2", dp.ID)
	assert.Equal(t, datapoint.AttrOpenPorts, dp.Attr)
	assert.Equal(t, uint16(22), dp.Value)
	assert.Equal(t, "open_ports@test", dp.Src)

	// nothing left after the flush, the next one sends nothing
	sender.Flush()
	assert.Len(t, cs.sent, 1)
}
