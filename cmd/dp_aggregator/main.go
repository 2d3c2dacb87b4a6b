// Command dp_aggregator receives data-points as JSON messages on the record
// channel, merges structurally equal ones and periodically emits the
// aggregated data-points (to stdout, a file, or the ADiCT API).
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/CESNET/Pandda-ADiCT/internal/config"
	"github.com/CESNET/Pandda-ADiCT/internal/dpagg"
	"github.com/CESNET/Pandda-ADiCT/internal/flow"
	"github.com/CESNET/Pandda-ADiCT/internal/logger"
	"github.com/CESNET/Pandda-ADiCT/internal/metrics"
	"github.com/CESNET/Pandda-ADiCT/internal/shutdown"
	"github.com/CESNET/Pandda-ADiCT/internal/sink"
	"github.com/CESNET/Pandda-ADiCT/internal/source"
	"github.com/CESNET/Pandda-ADiCT/internal/version"
)

func main() {
	os.Exit(run())
}

func run() int {
	ifcSpec := flag.String("i", "", "Record source specification (tcp:host:port or unix:path)")
	url := flag.String("url", "", "Base URL of the ADiCT API; data-points are written locally if empty")
	sendInterval := flag.Int("send-interval", 900, "Period of sending aggregated data-points in seconds")
	output := flag.String("o", "", "Output file for data-points (stdout if empty)")
	indent := flag.Int("indent", 0, "Pretty-print local JSON output with this indentation")
	srcTag := flag.String("srctag", "", "Overwrite the 'src' field of data-points written locally; not applied when -url is set")
	configPath := flag.String("config", "", "Path to optional configuration file")
	verbose := flag.Bool("v", false, "Verbose mode")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("dp_aggregator version %s\n", version.GetVersion())
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
	if *sendInterval < 1 {
		log.Error("Send interval must be at least 1 second")
		return 1
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
		out, err = sink.NewWriterSink(*output, *indent, *srcTag)
		if err != nil {
			log.Error("Failed to open output", "error", err)
			return 1
		}
	}
	defer out.Close()

	src, err := source.NewDatapointSource(*ifcSpec, log)
	if err != nil {
		log.Error("Failed to open record source", "error", err)
		return 1
	}
	defer src.Close()

	log.Info("Starting dp_aggregator",
		"version", version.GetVersion(),
		"send_interval", *sendInterval,
		"source", *ifcSpec)

	agg := dpagg.New(time.Duration(*sendInterval)*time.Second, out, log)

	ctx, cancel := shutdown.NotifyContext(log)
	defer cancel()

	senderDone := make(chan struct{})
	go func() {
		agg.Run(ctx)
		close(senderDone)
	}()

	ingest(ctx, src, agg, log)

	// stop the sending loop; it emits the remaining window on its way out
	cancel()
	<-senderDone

	log.Info("Finished")
	return 0
}

// ingest is the main receive loop: one JSON data-point list per iteration.
func ingest(ctx context.Context, src *source.DatapointSource, agg *dpagg.Aggregator, log *logger.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		datapoints, err := src.Recv()
		switch {
		case err == nil:
		case errors.Is(err, flow.ErrTimeout):
			continue
		case errors.Is(err, flow.ErrFormatChanged):
			continue
		case errors.Is(err, flow.ErrEndOfStream):
			log.Info("End-of-stream record received, going to quit")
			return
		default:
			log.Warn("Can't decode received data", "error", err)
			metrics.RecordsMalformed.Inc()
			continue
		}

		metrics.RecordsReceived.Inc()
		agg.Process(datapoints)
	}
}
