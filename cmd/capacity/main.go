package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/CoryVegan/pssetools/caselib"
	"github.com/CoryVegan/pssetools/core"
	"github.com/CoryVegan/pssetools/internal/logging"
	"github.com/CoryVegan/pssetools/internal/observability"
	"github.com/CoryVegan/pssetools/progress"
)

type cliArgs struct {
	configPath  string
	caseFile    string
	upperLoadMW float64
	upperGenMW  float64
	buses       string
	outDir      string
	metricsAddr string
	trace       bool
	writeDemo   string
}

func main() {
	var args cliArgs
	flag.StringVar(&args.configPath, "config", "", "path to a JSON headroom config; overrides the direct flags")
	flag.StringVar(&args.caseFile, "case", caselib.DemoCaseName, "case file name or path")
	flag.Float64Var(&args.upperLoadMW, "upper-load-mw", 100, "upper bound for load headroom searches, MW")
	flag.Float64Var(&args.upperGenMW, "upper-gen-mw", 80, "upper bound for generation headroom searches, MW")
	flag.StringVar(&args.buses, "buses", "", "comma-separated bus numbers to analyse (default: all)")
	flag.StringVar(&args.outDir, "out", "reports", "directory for headroom.json and run_stats.json")
	flag.StringVar(&args.metricsAddr, "metrics-addr", "", "HTTP address for Prometheus /metrics (empty: disabled)")
	flag.BoolVar(&args.trace, "trace", false, "enable OpenTelemetry tracing (see CAPACITY_TRACING_* env)")
	flag.StringVar(&args.writeDemo, "write-demo", "", "write the embedded demo case into the given directory and exit")
	flag.Parse()

	log := logging.NewFromEnv()
	ctx, log := logging.WithRunLogger(context.Background(), log)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	if err := run(ctx, log, args); err != nil {
		log.Error(ctx, "capacity analysis failed", logging.Err(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, log logging.Logger, args cliArgs) error {
	if args.writeDemo != "" {
		path, err := caselib.WriteDemo(args.writeDemo)
		if err != nil {
			return err
		}
		fmt.Println(path)
		return nil
	}

	cfg, err := buildConfig(args)
	if err != nil {
		return err
	}

	tcfg := observability.TracingConfigFromEnv()
	if args.trace {
		tcfg.Enabled = true
	}
	shutdownTracing, err := observability.InitTracing(ctx, tcfg, log)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	stats := core.NewRunStats()
	tracker := progress.NewTracker(0)
	tracker.AddListener(func(u progress.Update) {
		fmt.Fprintf(os.Stderr, "[%d/%d] %s (%.1fs)\n", u.Completed, u.Total, u.Label, u.Elapsed.Seconds())
	})

	opts := []core.RunOption{
		core.WithLogger(log),
		core.WithStats(stats),
		core.WithProgress(tracker),
	}

	var metricsSrv *http.Server
	if args.metricsAddr != "" {
		collector, err := observability.NewEngineCollector(nil)
		if err != nil {
			return fmt.Errorf("init metrics collector: %w", err)
		}
		opts = append(opts, core.WithMetrics(collector))
		metricsSrv = serveMetrics(args.metricsAddr, collector, log)
	}

	rows, runErr := core.BusesHeadroom(ctx, cfg, opts...)

	if metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = metricsSrv.Shutdown(shutdownCtx)
		cancel()
	}
	if runErr != nil {
		return runErr
	}

	if err := core.WriteReports(args.outDir, rows, stats); err != nil {
		return err
	}
	log.Info(ctx, "reports written",
		logging.String("dir", args.outDir),
		logging.Int("buses", len(rows)),
		logging.Int("power_flows", stats.PowerFlows),
	)

	printSummary(os.Stdout, rows)
	return nil
}

func buildConfig(args cliArgs) (core.HeadroomConfig, error) {
	if args.configPath != "" {
		f, err := os.Open(args.configPath)
		if err != nil {
			return core.HeadroomConfig{}, fmt.Errorf("open config: %w", err)
		}
		defer f.Close()
		return core.LoadConfig(f)
	}

	buses, err := parseBusList(args.buses)
	if err != nil {
		return core.HeadroomConfig{}, err
	}
	return core.HeadroomConfig{
		CaseFile:         args.caseFile,
		UpperLoadLimitMW: args.upperLoadMW,
		UpperGenLimitMW:  args.upperGenMW,
		SelectedBuses:    buses,
	}, nil
}

func parseBusList(s string) ([]int, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, errors.New("invalid -buses value: " + p)
		}
		out = append(out, n)
	}
	return out, nil
}

func serveMetrics(addr string, collector *observability.EngineCollector, log logging.Logger) *http.Server {
	if collector == nil {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())

	srv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn(context.Background(), "metrics server exited", logging.Err(err))
		}
	}()

	log.Info(context.Background(), "serving Prometheus metrics", logging.String("addr", addr))
	return srv
}

func printSummary(w io.Writer, rows []core.BusHeadroom) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "BUS\tNAME\tLOAD NOW MW\tLOAD AVAIL MW\tLIMITED BY\tGEN NOW MW\tGEN AVAIL MW\tLIMITED BY")
	for _, r := range rows {
		fmt.Fprintf(tw, "%d\t%s\t%.1f\t%.1f\t%s\t%.1f\t%.1f\t%s\n",
			r.Bus.Number, r.Bus.Name,
			real(r.ActualLoadMVA), real(r.LoadAvailMVA), factorString(r.LoadLimitingFactor),
			real(r.ActualGenMVA), real(r.GenAvailMVA), factorString(r.GenLimitingFactor),
		)
	}
	tw.Flush()
}

func factorString(lf *core.LimitingFactor) string {
	if lf == nil {
		return "-"
	}
	return lf.String()
}
