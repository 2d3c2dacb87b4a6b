package source

import (
	"encoding/json"
	"errors"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CESNET/Pandda-ADiCT/internal/datapoint"
	"github.com/CESNET/Pandda-ADiCT/internal/flow"
	"github.com/CESNET/Pandda-ADiCT/internal/logger"
	"github.com/CESNET/Pandda-ADiCT/internal/unirec"
)

const biflowSpec = "ipaddr DST_IP,ipaddr SRC_IP,uint64 BYTES,uint64 BYTES_REV," +
	"time TIME_FIRST,time TIME_LAST,uint32 PACKETS,uint32 PACKETS_REV," +
	"uint16 DST_PORT,uint16 SRC_PORT,uint8 PROTOCOL,uint8 TCP_FLAGS"

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.NewLogger(&logger.Config{})
	require.NoError(t, err)
	return log
}

func pipeSource(t *testing.T, required []string) (*SocketSource, net.Conn) {
	t.Helper()
	client, server := net.Pipe()
	src := &SocketSource{conn: client, required: required, logger: testLogger(t)}
	t.Cleanup(func() {
		src.Close()
		server.Close()
	})
	return src, server
}

func encodeTestRecord(t *testing.T, tmpl *unirec.Template) []byte {
	t.Helper()
	w := tmpl.NewWriter()
	require.NoError(t, w.SetIPAddr("SRC_IP", netip.MustParseAddr("10.0.0.1")))
	require.NoError(t, w.SetIPAddr("DST_IP", netip.MustParseAddr("10.0.0.2")))
	require.NoError(t, w.SetTime("TIME_FIRST", time.Unix(1600000000, 0)))
	require.NoError(t, w.SetTime("TIME_LAST", time.Unix(1600000001, 0)))
	require.NoError(t, w.SetUint("BYTES", 500))
	require.NoError(t, w.SetUint("BYTES_REV", 4000))
	require.NoError(t, w.SetUint("PACKETS", 10))
	require.NoError(t, w.SetUint("PACKETS_REV", 8))
	require.NoError(t, w.SetUint("SRC_PORT", 12345))
	require.NoError(t, w.SetUint("DST_PORT", 22))
	require.NoError(t, w.SetUint("PROTOCOL", flow.ProtoTCP))
	require.NoError(t, w.SetUint("TCP_FLAGS", flow.FlagSYN|flow.FlagACK))
	return w.Bytes()
}

func TestSocketSourceReceive(t *testing.T) {
	src, server := pipeSource(t, OpenPortsFields)

	tmpl, err := unirec.ParseTemplate(biflowSpec)
	require.NoError(t, err)
	recBytes := encodeTestRecord(t, tmpl)

	go func() {
		_ = writeFrame(server, frameFormat, []byte(biflowSpec))
		_ = writeFrame(server, frameData, recBytes)
		_ = writeFrame(server, frameData, nil) // end of stream
	}()

	// first: format negotiation
	_, err = src.Recv()
	require.ErrorIs(t, err, flow.ErrFormatChanged)
	assert.True(t, src.HasBiflow())

	// second: the record
	rec, err := src.Recv()
	require.NoError(t, err)
	assert.Equal(t, netip.MustParseAddr("10.0.0.1"), rec.SrcIP)
	assert.Equal(t, uint16(22), rec.DstPort)
	assert.Equal(t, uint64(500), rec.Bytes)
	assert.Equal(t, uint64(4000), rec.BytesRev)
	assert.True(t, rec.HasRev)
	assert.True(t, rec.IsBiflow())
	assert.Equal(t, uint8(flow.FlagSYN|flow.FlagACK), rec.TCPFlags)

	// third: end of stream
	_, err = src.Recv()
	require.ErrorIs(t, err, flow.ErrEndOfStream)
}

func TestSocketSourceTimeout(t *testing.T) {
	src, _ := pipeSource(t, nil)
	start := time.Now()
	_, err := src.Recv()
	require.ErrorIs(t, err, flow.ErrTimeout)
	assert.GreaterOrEqual(t, time.Since(start), ReadTimeout)
}

func TestSocketSourceFormatMismatch(t *testing.T) {
	src, server := pipeSource(t, []string{"SRC_IP", "PACKETS_REV"})

	go func() {
		// template without PACKETS_REV
		_ = writeFrame(server, frameFormat, []byte("ipaddr SRC_IP,ipaddr DST_IP,time TIME_FIRST,time TIME_LAST"))
	}()

	_, err := src.Recv()
	require.ErrorIs(t, err, flow.ErrFormatMismatch)
}

func TestSocketSourceDataBeforeFormat(t *testing.T) {
	src, server := pipeSource(t, nil)
	go func() {
		_ = writeFrame(server, frameData, []byte{1, 2, 3, 4})
	}()
	_, err := src.Recv()
	require.ErrorIs(t, err, flow.ErrFormatMismatch)
}

func TestDatapointSourceReceive(t *testing.T) {
	client, server := net.Pipe()
	src := &DatapointSource{conn: client, logger: testLogger(t)}
	defer src.Close()
	defer server.Close()

	dps := []datapoint.DataPoint{{
		Type:  datapoint.TypeIP,
		ID:    "10.0.0.1",
		Attr:  datapoint.AttrOpenPorts,
		Value: 22.0,
		T1:    datapoint.Timestamp(time.Unix(100, 0)),
		T2:    datapoint.Timestamp(time.Unix(200, 0)),
		Src:   "probe",
	}}
	payload, err := json.Marshal(dps)
	require.NoError(t, err)

	go func() {
		_ = writeFrame(server, frameData, payload)
		_ = writeFrame(server, frameData, []byte("not json"))
		_ = writeFrame(server, frameData, nil)
	}()

	got, err := src.Recv()
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "10.0.0.1", got[0].ID)

	// malformed JSON is an ordinary error, not a sentinel
	_, err = src.Recv()
	require.Error(t, err)
	assert.False(t, errors.Is(err, flow.ErrEndOfStream))

	_, err = src.Recv()
	require.ErrorIs(t, err, flow.ErrEndOfStream)
}
