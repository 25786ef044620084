// Package config assembles the relay configuration from defaults, a
// key = value config file, GHOSTRELAY_* environment variables and command
// line flags, in that order of precedence.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/luciancaetano/ghostrelay/internal/protocol"
	"github.com/luciancaetano/ghostrelay/server"
)

const (
	DefaultFile = "config.yaml"
	EnvPrefix   = "GHOSTRELAY_"
)

// Options is the flat, user-facing view of the relay settings.
type Options struct {
	Port       uint16
	WSPort     uint16 // 0 disables the WebSocket listener
	Mirror     bool
	MaxPlayers int
	MaxRate    uint
	MaxFrame   int
	QueueSize  int
	ReusePort  bool
	Debug      bool

	ConfigFile  string
	ShowVersion bool
}

// Default returns the settings used when nothing overrides them.
func Default() Options {
	return Options{
		Port:       server.DefaultPort,
		Mirror:     true,
		MaxPlayers: server.DefaultMaxPlayers,
		MaxRate:    server.DefaultMaxBytesPerSecond,
		MaxFrame:   protocol.DefaultMaxFrameSize,
		QueueSize:  server.DefaultQueueSize,
		ConfigFile: DefaultFile,
	}
}

// LookupFunc resolves an environment variable. os.LookupEnv fits.
type LookupFunc func(key string) (string, bool)

// WarnFunc reports a setting that was ignored.
type WarnFunc func(msg string, args ...any)

// Load parses args and merges the config file and environment underneath
// them. Bad values in the file or environment are reported through warn and
// skipped; bad command line values are returned as errors.
func Load(args []string, lookup LookupFunc, warn WarnFunc) (Options, error) {
	if warn == nil {
		warn = func(string, ...any) {}
	}
	if lookup == nil {
		lookup = func(string) (string, bool) { return "", false }
	}

	opts := Default()
	cli := Default()

	fset := flag.NewFlagSet("ghostrelay", flag.ContinueOnError)
	fset.SetOutput(io.Discard)
	port := fset.Uint("port", uint(cli.Port), "TCP port to listen on")
	wsPort := fset.Uint("ws-port", 0, "WebSocket port (0 disables it)")
	fset.BoolVar(&cli.Mirror, "mirror", cli.Mirror, "also relay data packets back to their sender")
	noMirror := fset.Bool("no-mirror", false, "do not relay data packets back to their sender")
	fset.IntVar(&cli.MaxPlayers, "max-players", cli.MaxPlayers, "maximum number of connected players")
	fset.UintVar(&cli.MaxRate, "max-rate", cli.MaxRate, "inbound bytes per second per player (0 = unlimited)")
	fset.IntVar(&cli.MaxFrame, "max-frame", cli.MaxFrame, "maximum inbound frame size in bytes")
	fset.IntVar(&cli.QueueSize, "queue-size", cli.QueueSize, "outbound frames buffered per player")
	fset.BoolVar(&cli.ReusePort, "reuse-port", false, "set SO_REUSEPORT on listening sockets")
	fset.BoolVar(&cli.Debug, "debug", false, "enable per-packet debug logging")
	fset.StringVar(&cli.ConfigFile, "config", DefaultFile, "path to the config file")
	fset.BoolVar(&cli.ShowVersion, "version", false, "show version information")

	// flag stops at the first positional argument, so a bare port may sit
	// anywhere: collect it and keep parsing what follows.
	var positional []string
	for {
		if err := fset.Parse(args); err != nil {
			return opts, err
		}
		if fset.NArg() == 0 {
			break
		}
		positional = append(positional, fset.Arg(0))
		args = fset.Args()[1:]
	}

	set := make(map[string]bool)
	fset.Visit(func(f *flag.Flag) { set[f.Name] = true })

	if *port > 0xFFFF {
		return opts, fmt.Errorf("invalid port %d", *port)
	}
	if *wsPort > 0xFFFF {
		return opts, fmt.Errorf("invalid ws-port %d", *wsPort)
	}
	cli.Port = uint16(*port)
	cli.WSPort = uint16(*wsPort)

	switch len(positional) {
	case 0:
	case 1:
		p, err := parsePort(positional[0])
		if err != nil {
			return opts, err
		}
		cli.Port = p
		set["port"] = true
	default:
		return opts, fmt.Errorf("unexpected arguments: %s", strings.Join(positional[1:], " "))
	}

	opts.ConfigFile = cli.ConfigFile
	if err := applyFile(&opts, opts.ConfigFile, warn); err != nil {
		return opts, err
	}
	applyEnv(&opts, lookup, warn)

	for name := range set {
		switch name {
		case "port":
			opts.Port = cli.Port
		case "ws-port":
			opts.WSPort = cli.WSPort
		case "mirror":
			opts.Mirror = cli.Mirror
		case "max-players":
			opts.MaxPlayers = cli.MaxPlayers
		case "max-rate":
			opts.MaxRate = cli.MaxRate
		case "max-frame":
			opts.MaxFrame = cli.MaxFrame
		case "queue-size":
			opts.QueueSize = cli.QueueSize
		case "reuse-port":
			opts.ReusePort = cli.ReusePort
		case "debug":
			opts.Debug = cli.Debug
		case "version":
			opts.ShowVersion = cli.ShowVersion
		}
	}
	if set["no-mirror"] && *noMirror {
		opts.Mirror = false
	}

	if err := opts.Validate(); err != nil {
		return opts, err
	}
	return opts, nil
}

// Validate rejects combinations the relay cannot run with.
func (o Options) Validate() error {
	if o.MaxPlayers < 1 {
		return fmt.Errorf("max-players must be at least 1, got %d", o.MaxPlayers)
	}
	if o.MaxFrame < protocol.HeaderSize {
		return fmt.Errorf("max-frame must be at least %d, got %d", protocol.HeaderSize, o.MaxFrame)
	}
	if o.QueueSize < 1 {
		return fmt.Errorf("queue-size must be at least 1, got %d", o.QueueSize)
	}
	if o.WSPort != 0 && o.WSPort == o.Port {
		return fmt.Errorf("ws-port %d collides with port", o.WSPort)
	}
	return nil
}

// ServerConfig converts o into a server configuration listening on all
// interfaces.
func (o Options) ServerConfig(logger *slog.Logger) *server.Config {
	cfg := server.NewConfig(listenAddr(o.Port), o.Mirror, o.MaxPlayers, o.MaxRate)
	if o.WSPort != 0 {
		cfg.WSAddr = listenAddr(o.WSPort)
	}
	cfg.MaxFrameSize = o.MaxFrame
	cfg.QueueSize = o.QueueSize
	cfg.ReusePort = o.ReusePort
	cfg.Debug = o.Debug
	cfg.Logger = logger
	return cfg
}

func listenAddr(port uint16) string {
	return net.JoinHostPort("", strconv.Itoa(int(port)))
}

// setting binds a config file key and its environment twin to a field.
type setting struct {
	key   string
	apply func(o *Options, v string) error
}

var settings = []setting{
	{"port", func(o *Options, v string) error {
		p, err := parsePort(v)
		o.Port = pick(p, err, o.Port)
		return err
	}},
	{"ws_port", func(o *Options, v string) error {
		p, err := strconv.ParseUint(v, 10, 16)
		o.WSPort = pick(uint16(p), err, o.WSPort)
		return err
	}},
	{"mirror", func(o *Options, v string) error {
		b, err := strconv.ParseBool(v)
		o.Mirror = pick(b, err, o.Mirror)
		return err
	}},
	{"max_players", func(o *Options, v string) error {
		n, err := strconv.Atoi(v)
		o.MaxPlayers = pick(n, err, o.MaxPlayers)
		return err
	}},
	{"max_rate", func(o *Options, v string) error {
		n, err := strconv.ParseUint(v, 10, 0)
		o.MaxRate = pick(uint(n), err, o.MaxRate)
		return err
	}},
	{"max_frame", func(o *Options, v string) error {
		n, err := strconv.Atoi(v)
		o.MaxFrame = pick(n, err, o.MaxFrame)
		return err
	}},
	{"queue_size", func(o *Options, v string) error {
		n, err := strconv.Atoi(v)
		o.QueueSize = pick(n, err, o.QueueSize)
		return err
	}},
	{"reuse_port", func(o *Options, v string) error {
		b, err := strconv.ParseBool(v)
		o.ReusePort = pick(b, err, o.ReusePort)
		return err
	}},
	{"debug_print", func(o *Options, v string) error {
		b, err := strconv.ParseBool(v)
		o.Debug = pick(b, err, o.Debug)
		return err
	}},
}

func pick[T any](v T, err error, old T) T {
	if err != nil {
		return old
	}
	return v
}

// applyFile merges a config file. A missing file is not an error.
func applyFile(o *Options, path string, warn WarnFunc) error {
	if path == "" {
		return nil
	}
	values, err := godotenv.Read(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		warn("could not read config file", "path", path, "error", err)
		return nil
	}

	for _, s := range settings {
		v, ok := values[s.key]
		if !ok {
			continue
		}
		if err := s.apply(o, strings.TrimSpace(v)); err != nil {
			warn("ignoring invalid config value", "path", path, "key", s.key, "value", v)
		}
	}
	return nil
}

func applyEnv(o *Options, lookup LookupFunc, warn WarnFunc) {
	for _, s := range settings {
		name := EnvPrefix + strings.ToUpper(s.key)
		v, ok := lookup(name)
		if !ok || v == "" {
			continue
		}
		if err := s.apply(o, strings.TrimSpace(v)); err != nil {
			warn("ignoring invalid environment value", "name", name, "value", v)
		}
	}
}

func parsePort(s string) (uint16, error) {
	p, err := strconv.ParseUint(s, 10, 16)
	if err != nil || p == 0 {
		return 0, fmt.Errorf("invalid port %q", s)
	}
	return uint16(p), nil
}
