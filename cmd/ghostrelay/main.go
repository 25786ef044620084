// Ghost relay server - main entry point
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/luciancaetano/ghostrelay"
	"github.com/luciancaetano/ghostrelay/internal/config"
	"github.com/luciancaetano/ghostrelay/server"
)

var (
	version   = "1.0.0"
	buildTime = "dev"
)

const shutdownTimeout = 10 * time.Second

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	warn := slog.New(slog.NewTextHandler(os.Stderr, nil)).Warn
	opts, err := config.Load(args, os.LookupEnv, warn)
	if errors.Is(err, flag.ErrHelp) {
		showHelp()
		return 0
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "ghostrelay: %v\n", err)
		fmt.Fprintln(os.Stderr, "run 'ghostrelay -help' for usage")
		return 2
	}

	if opts.ShowVersion {
		showVersion()
		return 0
	}

	logger := setupLogger(opts.Debug)
	printBanner(os.Stdout, opts)

	srv := server.New(opts.ServerConfig(logger))
	if err := srv.Start(context.Background()); err != nil {
		var le *ghostrelay.ListenError
		if errors.As(err, &le) {
			logger.Error("could not bind listener", "network", le.Network, "addr", le.Addr, "error", le.Err)
		} else {
			logger.Error("server failed to start", "error", err)
		}
		return 1
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	logger.Info("received shutdown signal, stopping server", "signal", sig.String())
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Stop(ctx); err != nil {
		logger.Error("shutdown error", "error", err)
		return 1
	}
	logger.Info("server stopped")
	return 0
}

func setupLogger(debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger
}

// showVersion displays version information
func showVersion() {
	fmt.Printf("ghostrelay v%s (built %s)\n", version, buildTime)
}

// showHelp displays help information
func showHelp() {
	fmt.Printf(`ghostrelay v%s

USAGE:
    ghostrelay [OPTIONS] [PORT]

OPTIONS:
    -port int           TCP port (default %d)
    -ws-port int        WebSocket port, 0 disables it (default 0)
    -mirror             Relay data packets back to their sender (default true)
    -no-mirror          Do not relay data packets back to their sender
    -max-players int    Maximum connected players (default %d)
    -max-rate int       Inbound bytes per second per player, 0 = unlimited (default %d)
    -max-frame int      Maximum inbound frame size in bytes (default 512)
    -queue-size int     Outbound frames buffered per player (default %d)
    -reuse-port         Set SO_REUSEPORT on listening sockets
    -debug              Enable per-packet debug logging
    -config string      Config file path (default %q)
    -version            Show version information
    -help               Show this help message

Settings are also read from the config file (port, mirror, max_players,
max_rate, debug_print, ws_port, max_frame, queue_size, reuse_port) and from
GHOSTRELAY_<KEY> environment variables. Flags take precedence over both.

EXAMPLES:
    # Start with defaults
    ghostrelay

    # Start on a specific port without mirroring
    ghostrelay -no-mirror 9000

    # Also accept browser clients
    ghostrelay -ws-port 9001
`, version, server.DefaultPort, server.DefaultMaxPlayers, server.DefaultMaxBytesPerSecond,
		server.DefaultQueueSize, config.DefaultFile)
}
