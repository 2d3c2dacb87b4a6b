package source

import (
	"fmt"
	"io"
	"net/netip"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/CESNET/Pandda-ADiCT/internal/flow"
	"github.com/CESNET/Pandda-ADiCT/internal/logger"
)

// Flow synthesis timeouts of the pcap replay, measured on the packet clock.
const (
	pcapIdleTimeout   = 60 * time.Second
	pcapActiveTimeout = 300 * time.Second

	// sweep the flow cache for expired entries every this many packets
	pcapSweepEvery = 1024
)

// PcapSource replays a capture file and synthesizes unidirectional flow
// records from its packets, so the modules can be fed without a flow
// exporter. Records are emitted when a flow ages out on the packet clock
// and, at end of file, for everything still cached.
type PcapSource struct {
	file    *os.File
	reader  *pcapgo.Reader
	logger  *logger.Logger
	flows   map[pcapFlowKey]*pcapFlow
	ready   []*flow.Record
	packets int
	eof     bool
}

type pcapFlowKey struct {
	srcIP    netip.Addr
	dstIP    netip.Addr
	srcPort  uint16
	dstPort  uint16
	protocol uint8
}

type pcapFlow struct {
	bytes     uint64
	packets   uint64
	tcpFlags  uint8
	timeFirst time.Time
	timeLast  time.Time
}

// NewPcapSource opens a capture file.
func NewPcapSource(path string, log *logger.Logger) (*PcapSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open capture file: %w", err)
	}
	reader, err := pcapgo.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to read capture file: %w", err)
	}
	return &PcapSource{
		file:   f,
		reader: reader,
		logger: log,
		flows:  make(map[pcapFlowKey]*pcapFlow),
	}, nil
}

// HasBiflow is always false: the replay synthesizes unidirectional records.
func (s *PcapSource) HasBiflow() bool {
	return false
}

// Recv returns the next synthesized flow record.
func (s *PcapSource) Recv() (*flow.Record, error) {
	for {
		if len(s.ready) > 0 {
			rec := s.ready[0]
			s.ready = s.ready[1:]
			return rec, nil
		}
		if s.eof {
			return nil, flow.ErrEndOfStream
		}
		if err := s.readPacket(); err != nil {
			if err == io.EOF {
				s.eof = true
				s.flushAll()
				continue
			}
			s.logger.Debug("Skipping unreadable packet", "error", err)
		}
	}
}

func (s *PcapSource) readPacket() error {
	data, ci, err := s.reader.ReadPacketData()
	if err != nil {
		return err
	}
	s.packets++
	if s.packets%pcapSweepEvery == 0 {
		s.sweep(ci.Timestamp)
	}

	packet := gopacket.NewPacket(data, layers.LayerTypeEthernet, gopacket.Default)

	key := pcapFlowKey{}
	if ipLayer := packet.Layer(layers.LayerTypeIPv4); ipLayer != nil {
		ip, _ := ipLayer.(*layers.IPv4)
		key.srcIP, _ = netip.AddrFromSlice(ip.SrcIP)
		key.dstIP, _ = netip.AddrFromSlice(ip.DstIP)
		key.protocol = uint8(ip.Protocol)
	} else if ipLayer := packet.Layer(layers.LayerTypeIPv6); ipLayer != nil {
		ip, _ := ipLayer.(*layers.IPv6)
		key.srcIP, _ = netip.AddrFromSlice(ip.SrcIP)
		key.dstIP, _ = netip.AddrFromSlice(ip.DstIP)
		key.protocol = uint8(ip.NextHeader)
	} else {
		return nil // not IP
	}
	key.srcIP = key.srcIP.Unmap()
	key.dstIP = key.dstIP.Unmap()

	var tcpFlags uint8
	if tcpLayer := packet.Layer(layers.LayerTypeTCP); tcpLayer != nil {
		tcp, _ := tcpLayer.(*layers.TCP)
		key.srcPort = uint16(tcp.SrcPort)
		key.dstPort = uint16(tcp.DstPort)
		key.protocol = flow.ProtoTCP
		tcpFlags = packTCPFlags(tcp)
	} else if udpLayer := packet.Layer(layers.LayerTypeUDP); udpLayer != nil {
		udp, _ := udpLayer.(*layers.UDP)
		key.srcPort = uint16(udp.SrcPort)
		key.dstPort = uint16(udp.DstPort)
		key.protocol = flow.ProtoUDP
	}

	f := s.flows[key]
	if f != nil {
		age := ci.Timestamp.Sub(f.timeFirst)
		if ci.Timestamp.Sub(f.timeLast) >= pcapIdleTimeout || age >= pcapActiveTimeout {
			s.ready = append(s.ready, s.toRecord(key, f))
			f = nil
		}
	}
	if f == nil {
		f = &pcapFlow{timeFirst: ci.Timestamp}
		s.flows[key] = f
	}
	f.bytes += uint64(ci.Length)
	f.packets++
	f.tcpFlags |= tcpFlags
	f.timeLast = ci.Timestamp
	return nil
}

// sweep flushes flows that expired on the packet clock.
func (s *PcapSource) sweep(now time.Time) {
	for key, f := range s.flows {
		if now.Sub(f.timeLast) >= pcapIdleTimeout || now.Sub(f.timeFirst) >= pcapActiveTimeout {
			s.ready = append(s.ready, s.toRecord(key, f))
			delete(s.flows, key)
		}
	}
}

func (s *PcapSource) flushAll() {
	for key, f := range s.flows {
		s.ready = append(s.ready, s.toRecord(key, f))
		delete(s.flows, key)
	}
}

func (s *PcapSource) toRecord(key pcapFlowKey, f *pcapFlow) *flow.Record {
	return &flow.Record{
		SrcIP:     key.srcIP,
		DstIP:     key.dstIP,
		SrcPort:   key.srcPort,
		DstPort:   key.dstPort,
		Protocol:  key.protocol,
		Bytes:     f.bytes,
		Packets:   f.packets,
		TCPFlags:  f.tcpFlags,
		TimeFirst: f.timeFirst,
		TimeLast:  f.timeLast,
	}
}

func packTCPFlags(tcp *layers.TCP) uint8 {
	var flags uint8
	if tcp.FIN {
		flags |= flow.FlagFIN
	}
	if tcp.SYN {
		flags |= flow.FlagSYN
	}
	if tcp.RST {
		flags |= flow.FlagRST
	}
	if tcp.PSH {
		flags |= flow.FlagPSH
	}
	if tcp.ACK {
		flags |= flow.FlagACK
	}
	if tcp.URG {
		flags |= flow.FlagURG
	}
	return flags
}

// Close closes the capture file.
func (s *PcapSource) Close() error {
	return s.file.Close()
}
