// Command get-m3u: one-run relay discovery and playlist publication (run), or
// the individual stages separately.
//
//	run       Full pipeline: discover, geo filter, liveness probe, assemble
//	          playlists, deep-probe streams, then decide whether to trigger
//	          the downstream publisher. For cron/systemd timers.
//	discover  Discovery and validation only: refresh the validated endpoint
//	          list, touch nothing else.
//	probe     Deep-probe the existing working playlist in place and rewrite
//	          the probe report.
//	template  Refetch the channel template from its configured upstreams.
//
// All settings come from GETM3U_* environment variables (a .env file in the
// working directory is honoured); scan subnets, ports and template upstreams
// come from the YAML file at GETM3U_CONFIG.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/JE668/get-m3u/internal/config"
	"github.com/JE668/get-m3u/internal/metrics"
	"github.com/JE668/get-m3u/internal/pipeline"
)

func buildLogger(level string) *zap.SugaredLogger {
	logConfig := zap.NewDevelopmentConfig()
	logConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	logConfig.DisableStacktrace = true
	logConfig.DisableCaller = true
	if lvl, err := zapcore.ParseLevel(level); err == nil {
		logConfig.Level.SetLevel(lvl)
	}
	return zap.Must(logConfig.Build()).Sugar()
}

func main() {
	runCmd := flag.NewFlagSet("run", flag.ExitOnError)
	discoverCmd := flag.NewFlagSet("discover", flag.ExitOnError)
	probeCmd := flag.NewFlagSet("probe", flag.ExitOnError)
	templateCmd := flag.NewFlagSet("template", flag.ExitOnError)

	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "Usage: %s <run|discover|probe|template> [flags]\n", os.Args[0])
		os.Exit(2)
	}

	if err := config.LoadEnvFile(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
		os.Exit(1)
	}
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	log := buildLogger(cfg.LogLevel)
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	p := pipeline.New(cfg, log)
	defer p.Close()

	switch os.Args[1] {
	case "run":
		_ = runCmd.Parse(os.Args[2:])
		if cfg.MetricsAddr != "" {
			go metrics.Serve(cfg.MetricsAddr, log)
		}
		err = p.Run(ctx)
	case "discover":
		_ = discoverCmd.Parse(os.Args[2:])
		var alive []string
		alive, err = p.Validate(ctx)
		if err == nil {
			log.Infow("validated endpoints", "count", len(alive))
		}
	case "probe":
		_ = probeCmd.Parse(os.Args[2:])
		err = p.ProbePlaylist(ctx)
	case "template":
		_ = templateCmd.Parse(os.Args[2:])
		err = p.RefreshTemplate(ctx)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command %q\n", os.Args[1])
		os.Exit(2)
	}
	if err != nil {
		log.Errorw("command failed", "cmd", os.Args[1], "err", err)
		os.Exit(1)
	}
}
