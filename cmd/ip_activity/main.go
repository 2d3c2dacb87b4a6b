// Command ip_activity collects input flows, aggregates them into fixed time
// slots and emits per-IP activity data-points (flows, packets and bytes
// sent and received in each slot).
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/CESNET/Pandda-ADiCT/internal/activity"
	"github.com/CESNET/Pandda-ADiCT/internal/config"
	"github.com/CESNET/Pandda-ADiCT/internal/flow"
	"github.com/CESNET/Pandda-ADiCT/internal/logger"
	"github.com/CESNET/Pandda-ADiCT/internal/metrics"
	"github.com/CESNET/Pandda-ADiCT/internal/netfilter"
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
	interval := flag.Int("interval", 600, "Length of one time slot in seconds")
	maxage := flag.Int("maxage", 1200, "Max possible age of incoming data in seconds; older slots are sent and deleted")
	srcTag := flag.String("srctag", "", "Name of this instance, used as the 'src' tag of emitted data-points")
	networks := flag.String("networks", "", "IP networks (CIDR, comma or space separated) to monitor; all IPs if empty")
	networksFile := flag.String("networks-file", "", "File with one CIDR per line ('#' or '//' comments supported)")
	output := flag.String("o", "", "Output file for data-points (stdout if empty)")
	configPath := flag.String("config", "", "Path to optional configuration file")
	verbose := flag.Bool("v", false, "Verbose mode")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("ip_activity version %s\n", version.GetVersion())
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
	if *interval < 1 {
		log.Error("Slot interval must be at least 1 second")
		return 1
	}
	if *maxage < *interval {
		log.Error("Max data age can't be less than the slot interval length")
		return 1
	}

	filter, err := loadNetworks(*networks, *networksFile)
	if err != nil {
		log.Error("Failed to load networks", "error", err)
		return 1
	}
	if !filter.Empty() {
		log.Info("Watching IPs from networks", "networks", filter.String())
	}

	if cfg.Metrics.Enabled {
		metrics.Serve(cfg.Metrics.ListenAddr)
		log.Info("Metrics endpoint started", "addr", cfg.Metrics.ListenAddr)
	}

	out, err := sink.NewWriterSink(*output, 0, "")
	if err != nil {
		log.Error("Failed to open output", "error", err)
		return 1
	}
	defer out.Close()

	src, err := source.Open(*ifcSpec, source.ActivityFields, log)
	if err != nil {
		log.Error("Failed to open record source", "error", err)
		return 1
	}
	defer src.Close()

	log.Info("Starting ip_activity",
		"version", version.GetVersion(),
		"interval", *interval,
		"maxage", *maxage,
		"source", *ifcSpec)

	agg := activity.New(activity.Config{
		Interval: time.Duration(*interval) * time.Second,
		MaxAge:   time.Duration(*maxage) * time.Second,
		Filter:   filter,
		Logger:   log,
	})

	sender := activity.NewSender(time.Duration(*interval)*time.Second, *srcTag, out, log)
	senderDone := make(chan struct{})
	go func() {
		sender.Run(agg.Queue())
		close(senderDone)
	}()

	ctx, cancel := shutdown.NotifyContext(log)
	defer cancel()

	ingest(ctx, src, agg, log)

	// receive finished, emit everything left and wait for the sender
	agg.Flush()
	<-senderDone

	log.Info("Finished")
	return 0
}

// ingest is the main receive loop: one record per iteration, routed into
// the aggregator.
func ingest(ctx context.Context, src source.FlowSource, agg *activity.Aggregator, log *logger.Logger) {
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
			log.Debug("Record format changed", "biflow", src.HasBiflow())
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
		if rec.TimeLast.Before(rec.TimeFirst) {
			log.Warn("Record with time_last < time_first received",
				"time_first", rec.TimeFirst.String(),
				"time_last", rec.TimeLast.String())
		}
		agg.Advance(rec.TimeLast)
		agg.Observe(rec)
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
