// Command airsim sends simulated sensor datagrams to an airdetect server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"airdetect/internal/config"
	"airdetect/internal/logging"
	"airdetect/internal/simulator"
)

var version = "dev"
var appName = "airsim"

func main() {
	var cfg simulator.Config
	var verbose bool

	flags := pflag.NewFlagSet(appName, pflag.ContinueOnError)
	flags.StringVar(&cfg.Addr, "addr", "127.0.0.1:8080", "server datagram address (host:port)")
	flags.DurationVar(&cfg.Interval, "interval", 2*time.Second, "time between datagrams")
	flags.IntVarP(&cfg.Count, "count", "n", 0, "datagrams to send, 0 for no limit")
	flags.IntVar(&cfg.GarbageEvery, "garbage-every", 0, "make every k-th datagram unparseable, 0 to disable")
	flags.Uint64Var(&cfg.Seed, "seed", uint64(time.Now().UnixNano()), "random walk seed")
	flags.BoolVarP(&verbose, "verbose", "v", false, "log every datagram")

	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "flag error: %v\n", err)
		os.Exit(2)
	}
	if cfg.Count < 0 || cfg.GarbageEvery < 0 {
		fmt.Fprintln(os.Stderr, "flag error: --count and --garbage-every must be >= 0")
		os.Exit(2)
	}

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := logging.New(config.Config{AppEnv: "dev", LogLevel: level, LogFormat: "text"}, version, appName)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("sending", "addr", cfg.Addr, "interval", cfg.Interval, "count", cfg.Count, "seed", cfg.Seed)
	if err := simulator.Run(ctx, cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("simulation failed", "err", err)
		os.Exit(1)
	}
}
