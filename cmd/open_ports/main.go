// Command open_ports analyzes IP flows to get information about open ports
// on each address. Open ports are detected by observing successfully
// established TCP connections (SYN and ACK in both directions); for
// unidirectional flow sources the two directions are paired in the module.
// Results are periodically sent to the ADiCT server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/CESNET/Pandda-ADiCT/internal/biflow"
	"github.com/CESNET/Pandda-ADiCT/internal/config"
	"github.com/CESNET/Pandda-ADiCT/internal/datapoint"
	"github.com/CESNET/Pandda-ADiCT/internal/flow"
	"github.com/CESNET/Pandda-ADiCT/internal/logger"
	"github.com/CESNET/Pandda-ADiCT/internal/metrics"
	"github.com/CESNET/Pandda-ADiCT/internal/netfilter"
	"github.com/CESNET/Pandda-ADiCT/internal/openports"
	"github.com/CESNET/Pandda-ADiCT/internal/shutdown"
	"github.com/CESNET/Pandda-ADiCT/internal/sink"
	"github.com/CESNET/Pandda-ADiCT/internal/source"
	"github.com/CESNET/Pandda-ADiCT/internal/version"
)

func main() {
	os.Exit(run())
}

func run() int {
	ifcSpec := flag.String("i", "", "Record source specification (tcp:host:port, unix:path or pcap:file)")
	url := flag.String("url", "", "Base URL of the ADiCT API; data-points are printed to stdout if empty")
	sendInterval := flag.Int("send-interval", 300, "Period of sending data to the ADiCT server in seconds")
	cacheRotation := flag.Int("cache-rotation", 120, "Period of biflow pairing cache rotation in seconds; should exceed the maximum expected delay between the two directions of a connection")
	networks := flag.String("networks", "", "IP networks (CIDR, comma or space separated) to monitor; all IPs if empty")
	networksFile := flag.String("networks-file", "", "File with one CIDR per line ('#' or '//' comments supported)")
	srcTag := flag.String("srctag", "open_ports", "Name of this instance, used as the 'src' tag of emitted data-points")
	udpToo := flag.Bool("udp-too", false, "Also detect open UDP ports (experimental)")
	noPortFilter := flag.Bool("no-port-filter", false, "Do not drop connections from well-known ports to non-well-known ports")
	configPath := flag.String("config", "", "Path to optional configuration file")
	verbose := flag.Bool("v", false, "Verbose mode")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("open_ports version %s\n", version.GetVersion())
		return 0
	}

	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
			return 1
		}
	}

	log, err := logger.NewLogger(&logger.Config{
		Console: logger.ConsoleConfig(cfg.Logging.Console),
		File:    logger.FileConfig(cfg.Logging.File),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		return 1
	}
	if *verbose {
		log.SetVerbose()
	}

	if *ifcSpec == "" {
		log.Error("Record source specification (-i) is mandatory")
		return 1
	}
	if *cacheRotation < 1 {
		log.Error("Cache rotation interval must be at least 1 second")
		return 1
	}
	if *sendInterval < 1 {
		log.Error("Send interval must be at least 1 second")
		return 1
	}

	filter, err := loadNetworks(*networks, *networksFile)
	if err != nil {
		log.Error("Failed to load networks", "error", err)
		return 1
	}
	if !filter.Empty() {
		log.Info("Only IPs from these networks will be watched for open ports",
			"networks", filter.String())
	}

	if cfg.Metrics.Enabled {
		metrics.Serve(cfg.Metrics.ListenAddr)
		log.Info("Metrics endpoint started", "addr", cfg.Metrics.ListenAddr)
	}

	var out sink.Sink
	if *url != "" {
		out, err = sink.NewHTTPSink(sink.HTTPConfig{BaseURL: *url, Logger: log})
		if err != nil {
			log.Error("Failed to connect to ADiCT API", "error", err)
			return 2
		}
	} else {
		out, err = sink.NewWriterSink("", 0, "")
		if err != nil {
			log.Error("Failed to open output", "error", err)
			return 1
		}
	}
	defer out.Close()

	src, err := source.Open(*ifcSpec, source.OpenPortsFields, log)
	if err != nil {
		log.Error("Failed to open record source", "error", err)
		return 1
	}
	defer src.Close()

	log.Info("Starting open_ports",
		"version", version.GetVersion(),
		"send_interval", *sendInterval,
		"cache_rotation", *cacheRotation,
		"udp_too", *udpToo,
		"source", *ifcSpec)

	ctx, cancel := shutdown.NotifyContext(log)
	defer cancel()

	tcpCache := biflow.NewCache()
	tcpCache.StartRotation(ctx, time.Duration(*cacheRotation)*time.Second)
	tcpPorts := openports.NewRegistry(filter, !*noPortFilter)

	interval := time.Duration(*sendInterval) * time.Second
	var senders sync.WaitGroup
	senders.Add(1)
	go func() {
		defer senders.Done()
		openports.NewSender(tcpPorts, out, datapoint.AttrOpenPorts, *srcTag, interval, log).Run(ctx)
	}()

	var (
		udpCache *biflow.Cache
		udpPorts *openports.Registry
	)
	if *udpToo {
		udpCache = biflow.NewUDPCache()
		udpCache.StartRotation(ctx, time.Duration(*cacheRotation)*time.Second)
		udpPorts = openports.NewRegistry(filter, !*noPortFilter)
		senders.Add(1)
		go func() {
			defer senders.Done()
			openports.NewSender(udpPorts, out, datapoint.AttrOpenPortsUDP, *srcTag, interval, log).Run(ctx)
		}()
	}

	ingest(ctx, src, filter, tcpCache, tcpPorts, udpCache, udpPorts, log)

	// stop the senders; each performs a final drain before returning
	cancel()
	senders.Wait()

	log.Info("Finished")
	return 0
}

// ingest is the main receive loop: filter, gate by protocol, pair uniflows
// and feed confirmed connections to the registries.
func ingest(ctx context.Context, src source.FlowSource, filter *netfilter.Set,
	tcpCache *biflow.Cache, tcpPorts *openports.Registry,
	udpCache *biflow.Cache, udpPorts *openports.Registry, log *logger.Logger) {

	biflowSupport := src.HasBiflow()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		rec, err := src.Recv()
		switch {
		case err == nil:
		case errors.Is(err, flow.ErrTimeout):
			continue
		case errors.Is(err, flow.ErrFormatChanged):
			biflowSupport = src.HasBiflow()
			log.Debug("Record format changed", "biflow", biflowSupport)
			continue
		case errors.Is(err, flow.ErrEndOfStream):
			log.Info("End-of-stream record received, going to quit")
			return
		case errors.Is(err, flow.ErrFormatMismatch):
			log.Error("Record format mismatch", "error", err)
			return
		default:
			log.Warn("Skipping malformed record", "error", err)
			metrics.RecordsMalformed.Inc()
			continue
		}

		metrics.RecordsReceived.Inc()

		if !filter.Contains(rec.SrcIP) && !filter.Contains(rec.DstIP) {
			metrics.RecordsFiltered.Inc()
			continue
		}

		switch {
		case rec.Protocol == flow.ProtoTCP && rec.TCPFlags&(flow.FlagSYN|flow.FlagACK) == flow.FlagSYN|flow.FlagACK:
			// Without a SYN flag it's probably a continuation of a longer
			// flow and the initiating side can't be determined from the
			// timestamps; the ACK is required because every successfully
			// opened connection carries SYN and ACK in both directions.
			if biflowSupport && rec.IsBiflow() {
				tcpPorts.ProcessBiflow(&flow.Biflow{
					SrcIP: rec.SrcIP, SrcPort: rec.SrcPort,
					DstIP: rec.DstIP, DstPort: rec.DstPort,
					TCPFlags:  rec.TCPFlags,
					TimeFirst: rec.TimeFirst,
					TimeLast:  rec.TimeLast,
				})
			} else if bf := tcpCache.Process(rec); bf != nil {
				tcpPorts.ProcessBiflow(bf)
			}
		case udpPorts != nil && rec.Protocol == flow.ProtoUDP:
			if biflowSupport && rec.IsBiflow() {
				udpPorts.ProcessBiflow(biflow.OrientUDP(rec))
			} else if bf := udpCache.Process(rec); bf != nil {
				udpPorts.ProcessBiflow(bf)
			}
		}
	}
}

func loadNetworks(inline, file string) (*netfilter.Set, error) {
	if inline != "" {
		return netfilter.FromSpec(inline)
	}
	if file != "" {
		return netfilter.FromFile(file)
	}
	return netfilter.FromSpec("")
}
